package sandbox

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const workDir = "/workspace"

// DockerBackend runs trials as one-shot containers: the toolchain command is
// the container's entrypoint and the submission is copied in before start.
type DockerBackend struct {
	cli *client.Client
}

func NewDockerBackend() (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker not reachable: %w", err)
	}
	return &DockerBackend{cli: cli}, nil
}

// Prepare creates a stopped container for tc with code in place.
func (b *DockerBackend) Prepare(ctx context.Context, tc Toolchain, code string, cfg Config) (string, error) {
	if err := b.pull(ctx, tc.Image); err != nil {
		return "", err
	}

	host := &container.HostConfig{
		Resources: container.Resources{
			Memory:   int64(cfg.MemoryMB) << 20,
			NanoCPUs: int64(cfg.CPULimit * 1e9),
		},
		Tmpfs: map[string]string{"/tmp": "rw,size=64m"},
	}
	if cfg.NetworkOff {
		host.NetworkMode = "none"
	}
	created, err := b.cli.ContainerCreate(ctx, &container.Config{
		Image:           tc.Image,
		Cmd:             tc.Cmd,
		WorkingDir:      workDir,
		NetworkDisabled: cfg.NetworkOff,
		Labels:          map[string]string{"guild.trial": "true", "guild.toolchain": tc.FileName},
	}, host, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	archive, err := submissionArchive(tc.FileName, code)
	if err == nil {
		err = b.cli.CopyToContainer(ctx, created.ID, "/", archive, container.CopyToContainerOptions{})
	}
	if err != nil {
		_ = b.cli.ContainerRemove(context.WithoutCancel(ctx), created.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("copy submission: %w", err)
	}
	return created.ID, nil
}

// Run starts a prepared container and waits up to timeout for it to exit.
// A container still running at the deadline is killed and reported as timed
// out with whatever output it produced.
func (b *DockerBackend) Run(ctx context.Context, id string, timeout time.Duration) (*Result, error) {
	start := time.Now()
	if err := b.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start container: %w", err)
	}

	res := &Result{ExitCode: -1}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	statusCh, errCh := b.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		res.ExitCode = int(status.StatusCode)
	case err := <-errCh:
		return nil, fmt.Errorf("wait container: %w", err)
	case <-deadline.C:
		res.TimedOut = true
		if err := b.cli.ContainerKill(context.WithoutCancel(ctx), id, "KILL"); err != nil {
			return nil, fmt.Errorf("kill container: %w", err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res.Duration = time.Since(start)

	logs, err := b.cli.ContainerLogs(context.WithoutCancel(ctx), id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	defer logs.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, logs); err != nil {
		return nil, fmt.Errorf("demux logs: %w", err)
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	return res, nil
}

func (b *DockerBackend) Remove(ctx context.Context, id string) error {
	return b.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
}

func (b *DockerBackend) Close() error {
	return b.cli.Close()
}

func (b *DockerBackend) pull(ctx context.Context, ref string) error {
	if _, err := b.cli.ImageInspect(ctx, ref); err == nil {
		return nil
	}
	progress, err := b.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer progress.Close()
	_, err = io.Copy(io.Discard, progress)
	return err
}

// submissionArchive builds a tar holding the work dir and one source file.
func submissionArchive(name, code string) (io.Reader, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	dir := workDir[1:] + "/"
	if err := tw.WriteHeader(&tar.Header{Name: dir, Typeflag: tar.TypeDir, Mode: 0o777}); err != nil {
		return nil, err
	}
	if err := tw.WriteHeader(&tar.Header{Name: path.Join(dir, name), Mode: 0o644, Size: int64(len(code))}); err != nil {
		return nil, err
	}
	if _, err := io.WriteString(tw, code); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}
