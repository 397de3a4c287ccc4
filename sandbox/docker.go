package sandbox

import (
	"context"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
)

// dockerAPI is the slice of the Docker engine API the driver uses.
// Tests substitute a fake; production wraps *client.Client.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImagePull(ctx context.Context, ref string) error
	ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error)
	ContainerStart(ctx context.Context, id string) error
	ContainerRemove(ctx context.Context, id string) error
	ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error)
	CopyToContainer(ctx context.Context, id, path string, content io.Reader) error
	ContainerExecCreate(ctx context.Context, id string, opts container.ExecOptions) (string, error)
	ContainerExecAttach(ctx context.Context, execID string) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// engineClient adapts *client.Client to dockerAPI.
type engineClient struct {
	cli *client.Client
}

// newEngineClient connects to the local Docker daemon from the
// environment.
func newEngineClient() (*engineClient, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &engineClient{cli: cli}, nil
}

func (e *engineClient) Ping(ctx context.Context) (types.Ping, error) {
	return e.cli.Ping(ctx)
}

func (e *engineClient) ImagePull(ctx context.Context, ref string) error {
	rc, err := e.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return err
	}
	defer rc.Close()
	// Drain to complete the pull.
	_, err = io.Copy(io.Discard, rc)
	return err
}

func (e *engineClient) ContainerCreate(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, name string) (string, error) {
	res, err := e.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (e *engineClient) ContainerStart(ctx context.Context, id string) error {
	return e.cli.ContainerStart(ctx, id, container.StartOptions{})
}

func (e *engineClient) ContainerRemove(ctx context.Context, id string) error {
	return e.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
}

func (e *engineClient) ContainerList(ctx context.Context, opts container.ListOptions) ([]container.Summary, error) {
	return e.cli.ContainerList(ctx, opts)
}

func (e *engineClient) ContainerInspect(ctx context.Context, id string) (container.InspectResponse, error) {
	return e.cli.ContainerInspect(ctx, id)
}

func (e *engineClient) CopyToContainer(ctx context.Context, id, path string, content io.Reader) error {
	return e.cli.CopyToContainer(ctx, id, path, content, container.CopyToContainerOptions{})
}

func (e *engineClient) ContainerExecCreate(ctx context.Context, id string, opts container.ExecOptions) (string, error) {
	res, err := e.cli.ContainerExecCreate(ctx, id, opts)
	if err != nil {
		return "", err
	}
	return res.ID, nil
}

func (e *engineClient) ContainerExecAttach(ctx context.Context, execID string) (types.HijackedResponse, error) {
	return e.cli.ContainerExecAttach(ctx, execID, container.ExecAttachOptions{})
}

func (e *engineClient) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return e.cli.ContainerExecInspect(ctx, execID)
}
