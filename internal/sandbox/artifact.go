package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const stdinFilename = "stdin"

// artifact is the on-disk copy of one submission. Release removes it.
type artifact struct {
	Dir  string
	Path string
	Name string
}

// newArtifact writes source into a fresh directory under base. Anything
// created before a failure is removed before returning.
func newArtifact(base, filename, source string) (*artifact, error) {
	dir, err := os.MkdirTemp(base, "labrunner-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	a := &artifact{Dir: dir, Name: uuid.NewString() + filepath.Ext(filename)}
	a.Path = filepath.Join(dir, a.Name)

	if err := os.Chmod(dir, 0o755); err != nil {
		a.Release()
		return nil, fmt.Errorf("chmod temp dir: %w", err)
	}
	if err := os.WriteFile(a.Path, []byte(source), 0o644); err != nil {
		a.Release()
		return nil, fmt.Errorf("writing code file: %w", err)
	}
	return a, nil
}

func (a *artifact) writeStdin(stdin string) (string, error) {
	path := filepath.Join(a.Dir, stdinFilename)
	if err := os.WriteFile(path, []byte(stdin), 0o644); err != nil {
		return "", fmt.Errorf("writing stdin file: %w", err)
	}
	return path, nil
}

func (a *artifact) Release() error {
	return os.RemoveAll(a.Dir)
}
