package launcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ContainerPrefix names build worker containers; the deployment id completes the name.
const ContainerPrefix = "edgeship-build-"

type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Ping(ctx context.Context) (types.Ping, error)
	Close() error
}

// DockerOptions configures the local Docker launch backend.
type DockerOptions struct {
	Host    string
	Image   string
	Network string
	// Passthrough lists environment variables of this process copied into every worker
	// (bus address, object store credentials).
	Passthrough []string
}

// Docker launches build workers as auto-removed containers on a Docker daemon.
type Docker struct {
	inner   dockerAPI
	image   string
	network string
	env     []string
}

// NewDocker creates a Docker launcher using environment defaults.
func NewDocker(opts DockerOptions) (*Docker, error) {
	if strings.TrimSpace(opts.Image) == "" {
		return nil, errors.New("builder image cannot be empty")
	}
	clientOpts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if opts.Host != "" {
		clientOpts = append(clientOpts, client.WithHost(opts.Host))
	}
	inner, err := client.NewClientWithOpts(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Docker{
		inner:   inner,
		image:   opts.Image,
		network: opts.Network,
		env:     passthroughEnv(opts.Passthrough),
	}, nil
}

// Ping validates connectivity to the Docker daemon.
func (d *Docker) Ping(ctx context.Context) error {
	if d == nil || d.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := d.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Launch creates and starts the worker container. The container name is derived from the
// deployment id, so the daemon rejects a second concurrent build of the same deployment.
func (d *Docker) Launch(ctx context.Context, job Job) (Launched, error) {
	if d == nil || d.inner == nil {
		return Launched{}, &LaunchError{Reason: "docker client not initialized"}
	}
	name := ContainerPrefix + job.DeploymentID
	config := &container.Config{
		Image: d.image,
		Env:   append(append([]string{}, d.env...), job.Env()...),
		Labels: map[string]string{
			"edgeship.deployment": job.DeploymentID,
		},
	}
	hostCfg := &container.HostConfig{AutoRemove: true}
	if d.network != "" {
		hostCfg.NetworkMode = container.NetworkMode(d.network)
	}

	created, err := d.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, name)
	if err != nil {
		return Launched{}, &LaunchError{Reason: "container create", Err: err}
	}
	if err := d.inner.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		_ = d.inner.ContainerRemove(context.Background(), created.ID, container.RemoveOptions{Force: true})
		return Launched{}, &LaunchError{Reason: "container start", Err: err}
	}
	return Launched{ID: created.ID}, nil
}

// Close releases resources held by the Docker client.
func (d *Docker) Close() error {
	if d == nil || d.inner == nil {
		return nil
	}
	return d.inner.Close()
}

func passthroughEnv(keys []string) []string {
	var env []string
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+value)
		}
	}
	return env
}
