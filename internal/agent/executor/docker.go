package executor

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"

	"github.com/skiffworks/skiff/internal/rpc"
)

// DockerRuntime executes container-type instances against the local Docker
// daemon. The instance URI is the image reference.
type DockerRuntime struct {
	cli *client.Client
}

func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	return &DockerRuntime{cli: cli}, nil
}

func (r *DockerRuntime) Start(ctx context.Context, inst *rpc.Instance) (string, error) {
	if inst.Type != rpc.TypeContainer {
		return "", fmt.Errorf("unsupported workload type %d", inst.Type)
	}
	reader, err := r.cli.ImagePull(ctx, inst.URI, types.ImagePullOptions{})
	if err != nil {
		return "", fmt.Errorf("pull %s: %w", inst.URI, err)
	}
	// The pull completes when the progress stream is drained.
	_, _ = io.Copy(io.Discard, reader)
	_ = reader.Close()

	resp, err := r.cli.ContainerCreate(ctx, &container.Config{
		Image: inst.URI,
		Env:   inst.Environment,
	}, nil, nil, nil, inst.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) Wait(ctx context.Context, handle string) error {
	statusCh, errCh := r.cli.ContainerWait(ctx, handle, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return err
	case status := <-statusCh:
		if status.StatusCode != 0 {
			return fmt.Errorf("exit status %d", status.StatusCode)
		}
		return nil
	}
}

func (r *DockerRuntime) Stop(ctx context.Context, handle string) error {
	return r.cli.ContainerStop(ctx, handle, container.StopOptions{})
}

func (r *DockerRuntime) Remove(ctx context.Context, handle string) error {
	return r.cli.ContainerRemove(ctx, handle, types.ContainerRemoveOptions{Force: true})
}
