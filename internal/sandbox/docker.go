package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	units "github.com/docker/go-units"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	workspaceDir = "/workspace"
	pidsLimit    = int64(64)
	cleanupWait  = 10 * time.Second
)

type dockerClient interface {
	Close() error
	ImagePull(ctx context.Context, ref string, opts image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerSandbox runs code in short-lived Docker containers. The artifact
// directory is bind-mounted read-only; stdin is fed from a file redirect.
type DockerSandbox struct {
	Policy Policy

	cli    dockerClient
	mu     sync.Mutex
	pulled map[string]bool
}

// NewDockerSandbox connects to the Docker daemon from the environment.
func NewDockerSandbox(policy Policy) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return newDockerSandbox(policy, cli), nil
}

func newDockerSandbox(policy Policy, cli dockerClient) *DockerSandbox {
	return &DockerSandbox{Policy: policy, cli: cli, pulled: make(map[string]bool)}
}

func (d *DockerSandbox) Exec(ctx context.Context, opts ExecOpts) (*ExecResult, error) {
	if !d.Policy.IsImageAllowed(opts.Image) {
		return nil, fmt.Errorf("image %q not in allowlist", opts.Image)
	}
	if len(opts.Command) == 0 {
		return nil, errors.New("no interpreter command configured")
	}
	if err := d.ensureImage(ctx, opts.Image); err != nil {
		return nil, err
	}

	art, err := newArtifact(d.Policy.TempDir, opts.Filename, opts.Source)
	if err != nil {
		return nil, err
	}
	defer art.Release()
	if _, err := art.writeStdin(opts.Stdin); err != nil {
		return nil, err
	}

	config, hostConfig, err := d.containerConfig(opts, art)
	if err != nil {
		return nil, err
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	defer d.remove(resp.ID)

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	runCtx := ctx
	cancel := func() {}
	if timeout := d.Policy.timeout(opts.Timeout); timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	result := &ExecResult{}
	status, waitErr := d.waitForExit(runCtx, resp.ID)
	result.Duration = time.Since(start)

	switch {
	case waitErr == nil:
		result.ExitCode = int(status.StatusCode)
	case ctx.Err() != nil:
		d.kill(resp.ID)
		return nil, ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		d.kill(resp.ID)
		result.TimedOut = true
		result.ExitCode = -1
	default:
		return nil, waitErr
	}

	logCtx, cancelLogs := context.WithTimeout(context.Background(), cleanupWait)
	defer cancelLogs()
	if err := d.fetchLogs(logCtx, resp.ID, result); err != nil {
		return nil, fmt.Errorf("fetching logs: %w", err)
	}
	return result, nil
}

func (d *DockerSandbox) Close() error {
	return d.cli.Close()
}

func (d *DockerSandbox) containerConfig(opts ExecOpts, art *artifact) (*container.Config, *container.HostConfig, error) {
	argv := append(append([]string(nil), opts.Command...), workspaceDir+"/"+art.Name)
	script := shellJoin(argv) + " < " + workspaceDir + "/" + stdinFilename

	config := &container.Config{
		Image:           opts.Image,
		Cmd:             []string{"sh", "-c", script},
		WorkingDir:      workspaceDir,
		User:            "nobody",
		NetworkDisabled: !d.Policy.Network,
		Env:             []string{"PYTHONDONTWRITEBYTECODE=1", "PYTHONIOENCODING=utf-8"},
	}

	pids := pidsLimit
	hostConfig := &container.HostConfig{
		Binds:       []string{art.Dir + ":" + workspaceDir + ":ro"},
		CapDrop:     []string{"ALL"},
		SecurityOpt: []string{"no-new-privileges"},
		Resources:   container.Resources{PidsLimit: &pids},
	}
	if !d.Policy.Network {
		hostConfig.NetworkMode = "none"
	}
	if d.Policy.MaxMemory != "" {
		mem, err := units.RAMInBytes(d.Policy.MaxMemory)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing memory limit %q: %w", d.Policy.MaxMemory, err)
		}
		hostConfig.Resources.Memory = mem
		hostConfig.Resources.MemorySwap = mem
	}
	return config, hostConfig, nil
}

func (d *DockerSandbox) ensureImage(ctx context.Context, ref string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pulled[ref] {
		return nil
	}

	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("consume pull output for %s: %w", ref, err)
	}
	d.pulled[ref] = true
	return nil
}

func (d *DockerSandbox) waitForExit(ctx context.Context, id string) (*container.WaitResponse, error) {
	statusCh, errCh := d.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return nil, fmt.Errorf("container error: %s", status.Error.Message)
		}
		return &status, nil
	case err := <-errCh:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("wait for container: %w", err)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *DockerSandbox) fetchLogs(ctx context.Context, id string, result *ExecResult) error {
	logs, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer logs.Close()

	stdout := newCappedBuffer(d.Policy.MaxOutputBytes)
	stderr := newCappedBuffer(d.Policy.MaxOutputBytes)
	if _, err := stdcopy.StdCopy(stdout, stderr, logs); err != nil {
		return err
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	result.Truncated = stdout.truncated || stderr.truncated
	return nil
}

func (d *DockerSandbox) kill(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupWait)
	defer cancel()
	if err := d.cli.ContainerKill(ctx, id, "KILL"); err != nil && !client.IsErrNotFound(err) {
		return
	}
	_, _ = d.waitForExit(ctx, id)
}

func (d *DockerSandbox) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupWait)
	defer cancel()
	_ = d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

// shellJoin single-quotes each argument for sh -c.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

// compile-time check
var _ dockerClient = (*client.Client)(nil)

