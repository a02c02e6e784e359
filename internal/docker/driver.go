// Package docker wraps the container engine's control API for a single
// instance container. It is a thin layer: naming, config seeding and state
// persistence belong to the lifecycle service.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
)

var (
	ErrEngineUnavailable = errors.New("container engine unavailable")
	ErrImagePull         = errors.New("image pull failed")
	ErrCreateFailed      = errors.New("container create failed")
	ErrNotFound          = errors.New("container not found")
	ErrOpFailed          = errors.New("container operation failed")
)

// CreateOptions declares the container to materialize.
type CreateOptions struct {
	Name         string
	Image        string
	InternalPort int
	// Binds are host:container[:mode] mount specifications.
	Binds []string
}

// ContainerState is the engine's view of a container.
type ContainerState struct {
	ID      string
	Name    string
	Status  string
	Created string
}

// Driver talks to a single container engine. One Driver is shared by the
// whole process; construct it at startup and inject it.
type Driver struct {
	cli *client.Client
}

// NewDriver connects to the engine configured in the environment.
func NewDriver() (*Driver, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return &Driver{cli: cli}, nil
}

// Create pulls the image, creates the container with an automatically
// allocated host port for the internal service port, and starts it.
// Returns the engine ID and the assigned host port.
func (d *Driver) Create(ctx context.Context, opts CreateOptions) (string, int, error) {
	reader, err := d.cli.ImagePull(ctx, opts.Image, types.ImagePullOptions{})
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return "", 0, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return "", 0, fmt.Errorf("%w: %v", ErrImagePull, err)
	}
	// The pull only completes once the response stream is drained.
	_, _ = io.Copy(io.Discard, reader)
	reader.Close()

	internalPort, err := nat.NewPort("tcp", strconv.Itoa(opts.InternalPort))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	containerConfig := &container.Config{
		Image:        opts.Image,
		ExposedPorts: nat.PortSet{internalPort: struct{}{}},
	}
	hostConfig := &container.HostConfig{
		Binds: opts.Binds,
		PortBindings: nat.PortMap{
			// Empty HostPort requests a dynamic allocation so concurrent
			// instances never collide.
			internalPort: []nat.PortBinding{{HostPort: ""}},
		},
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyUnlessStopped},
	}

	resp, err := d.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, opts.Name)
	if err != nil {
		if client.IsErrConnectionFailed(err) {
			return "", 0, fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
		}
		return "", 0, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrCreateFailed, err)
	}

	hostPort, err := d.assignedHostPort(ctx, resp.ID, internalPort)
	if err != nil {
		log.Printf("[docker] Could not resolve host port for %s: %v", resp.ID, err)
		hostPort = 0
	}

	return resp.ID, hostPort, nil
}

// Start starts an existing container.
func (d *Driver) Start(ctx context.Context, id string) error {
	return d.mapOpErr(d.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

// Stop stops a running container with the engine's default grace period.
func (d *Driver) Stop(ctx context.Context, id string) error {
	return d.mapOpErr(d.cli.ContainerStop(ctx, id, container.StopOptions{}))
}

// Restart restarts a container.
func (d *Driver) Restart(ctx context.Context, id string) error {
	return d.mapOpErr(d.cli.ContainerRestart(ctx, id, container.StopOptions{}))
}

// Remove force-removes a container, optionally purging its anonymous volumes.
func (d *Driver) Remove(ctx context.Context, id string, purgeVolumes bool) error {
	return d.mapOpErr(d.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		RemoveVolumes: purgeVolumes,
		Force:         true,
	}))
}

// Inspect queries the engine for the container's current state.
func (d *Driver) Inspect(ctx context.Context, id string) (*ContainerState, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return nil, d.mapOpErr(err)
	}

	name := info.Name
	if len(name) > 0 && name[0] == '/' {
		name = name[1:]
	}
	return &ContainerState{
		ID:      info.ID,
		Name:    name,
		Status:  info.State.Status,
		Created: info.Created,
	}, nil
}

func (d *Driver) assignedHostPort(ctx context.Context, id string, internalPort nat.Port) (int, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		return 0, err
	}
	bindings := info.NetworkSettings.Ports[internalPort]
	if len(bindings) == 0 {
		return 0, fmt.Errorf("no binding for %s", internalPort)
	}
	return strconv.Atoi(bindings[0].HostPort)
}

func (d *Driver) mapOpErr(err error) error {
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if client.IsErrConnectionFailed(err) {
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrOpFailed, err)
}
