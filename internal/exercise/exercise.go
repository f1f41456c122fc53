// Package exercise loads the catalog of coding exercises from YAML files.
package exercise

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/michaelbrown/labrunner/internal/execution"
)

// ErrNotFound is returned when no exercise has the requested id.
var ErrNotFound = errors.New("exercise not found")

// Exercise is a coding task with its test cases. The reference solution is
// never serialized to clients.
type Exercise struct {
	ID          string               `yaml:"id" json:"id"`
	Course      string               `yaml:"course" json:"course,omitempty"`
	Title       string               `yaml:"title" json:"title"`
	Description string               `yaml:"description" json:"description"`
	StarterCode string               `yaml:"starter_code" json:"starter_code"`
	Solution    string               `yaml:"solution" json:"-"`
	Language    execution.Language   `yaml:"language" json:"language"`
	MaxAttempts int                  `yaml:"max_attempts" json:"max_attempts,omitempty"`
	TestCases   []execution.TestCase `yaml:"test_cases" json:"test_cases"`
}

// Parse decodes one exercise document. An empty language means python.
func Parse(data []byte) (*Exercise, error) {
	var ex Exercise
	if err := yaml.Unmarshal(data, &ex); err != nil {
		return nil, fmt.Errorf("parsing exercise: %w", err)
	}
	if ex.Language == "" {
		ex.Language = execution.LanguagePython
	}
	if ex.TestCases == nil {
		ex.TestCases = []execution.TestCase{}
	}
	return &ex, nil
}

func (e *Exercise) validate() error {
	if e.ID == "" {
		return errors.New("missing id")
	}
	if strings.ContainsAny(e.ID, "/ \t") {
		return fmt.Errorf("invalid id %q", e.ID)
	}
	if e.Title == "" {
		return errors.New("missing title")
	}
	if e.MaxAttempts < 0 {
		return errors.New("max_attempts must not be negative")
	}
	return nil
}

// Catalog is an immutable, id-indexed set of exercises.
type Catalog struct {
	byID  map[string]*Exercise
	order []string
}

// New builds a catalog, rejecting invalid or duplicate exercises.
func New(exercises ...*Exercise) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*Exercise, len(exercises))}
	for _, ex := range exercises {
		if err := ex.validate(); err != nil {
			return nil, fmt.Errorf("exercise %q: %w", ex.Title, err)
		}
		if _, dup := c.byID[ex.ID]; dup {
			return nil, fmt.Errorf("duplicate exercise id %q", ex.ID)
		}
		c.byID[ex.ID] = ex
		c.order = append(c.order, ex.ID)
	}
	sort.Strings(c.order)
	return c, nil
}

// LoadDir reads every *.yaml and *.yml file in dir. A missing directory
// yields an empty catalog. Files without an id take their base name.
func LoadDir(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return New()
	}
	if err != nil {
		return nil, fmt.Errorf("reading exercises dir: %w", err)
	}

	var exercises []*Exercise
	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		ex, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if ex.ID == "" {
			ex.ID = strings.TrimSuffix(entry.Name(), ext)
		}
		exercises = append(exercises, ex)
	}
	return New(exercises...)
}

// Get returns the exercise with the given id.
func (c *Catalog) Get(id string) (*Exercise, error) {
	ex, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return ex, nil
}

// List returns all exercises ordered by id.
func (c *Catalog) List() []*Exercise {
	out := make([]*Exercise, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of exercises.
func (c *Catalog) Len() int { return len(c.order) }
