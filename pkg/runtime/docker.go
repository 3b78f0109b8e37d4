package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/docker/go-connections/nat"
)

// cpuPeriod is the scheduler period the CPU quota is expressed
// against (the Docker default, in microseconds).
const cpuPeriod = 100_000

// Policy is the hardening profile applied to every instance
// container. Zero values mean "engine default" for the respective
// knob.
type Policy struct {
	MemoryBytes     int64
	SwapBytes       int64
	CPUFraction     float64
	PidsLimit       int64
	ReadOnlyRootfs  bool
	DropAllCaps     bool
	AddCaps         []string
	NoNewPrivileges bool
	TmpfsEnabled    bool
	TmpfsBytes      int64
}

// ContainerSpec describes one instance container. HostPort 0 means no
// host binding (traefik routing); Network "" means the engine's
// default bridge.
type ContainerSpec struct {
	Name          string
	Image         string
	Labels        map[string]string
	Network       string
	ContainerPort int
	HostPort      int
	Policy        Policy
}

// DockerRuntime drives the Docker Engine API for image builds and
// container lifecycle.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime connects to the engine using the standard DOCKER_*
// environment, negotiating the API version with the daemon.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}
	return &DockerRuntime{client: cli}, nil
}

// Close closes the engine connection.
func (r *DockerRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping verifies the engine is reachable.
func (r *DockerRuntime) Ping(ctx context.Context) error {
	if _, err := r.client.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping docker: %w", err)
	}
	return nil
}

// BuildImage builds contextDir (which must contain a Dockerfile) into
// an image with the given tag. The engine streams progress as JSON
// messages; a message with an error field means the build failed even
// though the HTTP request succeeded.
func (r *DockerRuntime) BuildImage(ctx context.Context, contextDir, tag string) error {
	buildCtx, err := tarDirectory(contextDir)
	if err != nil {
		return fmt.Errorf("failed to archive build context %s: %w", contextDir, err)
	}

	resp, err := r.client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return fmt.Errorf("failed to build image %s: %w", tag, err)
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var msg jsonmessage.JSONMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to decode build output for %s: %w", tag, err)
		}
		if msg.Error != nil {
			return fmt.Errorf("failed to build image %s: %s", tag, msg.Error.Message)
		}
	}
}

// CreateContainer creates (but does not start) a container from the
// spec and returns the engine's container ID.
func (r *DockerRuntime) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	exposed := nat.Port(fmt.Sprintf("%d/tcp", spec.ContainerPort))

	cfg := &container.Config{
		Image:        spec.Image,
		Labels:       spec.Labels,
		ExposedPorts: nat.PortSet{exposed: struct{}{}},
	}

	created, err := r.client.ContainerCreate(ctx, cfg, hostConfigFor(spec, exposed), networkingFor(spec), nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	return created.ID, nil
}

// hostConfigFor maps the hardening policy and the optional host port
// binding onto the engine's host configuration.
func hostConfigFor(spec ContainerSpec, exposed nat.Port) *container.HostConfig {
	hostCfg := &container.HostConfig{
		ReadonlyRootfs: spec.Policy.ReadOnlyRootfs,
		Resources: container.Resources{
			Memory:     spec.Policy.MemoryBytes,
			MemorySwap: spec.Policy.SwapBytes,
		},
	}
	if spec.Policy.CPUFraction > 0 {
		hostCfg.Resources.CPUPeriod = cpuPeriod
		hostCfg.Resources.CPUQuota = int64(spec.Policy.CPUFraction * cpuPeriod)
	}
	if spec.Policy.PidsLimit > 0 {
		limit := spec.Policy.PidsLimit
		hostCfg.Resources.PidsLimit = &limit
	}
	if spec.Policy.DropAllCaps {
		hostCfg.CapDrop = strslice.StrSlice{"ALL"}
	}
	if len(spec.Policy.AddCaps) > 0 {
		hostCfg.CapAdd = strslice.StrSlice(spec.Policy.AddCaps)
	}
	if spec.Policy.NoNewPrivileges {
		hostCfg.SecurityOpt = append(hostCfg.SecurityOpt, "no-new-privileges:true")
	}
	if spec.Policy.TmpfsEnabled {
		opts := "rw,noexec,nosuid"
		if spec.Policy.TmpfsBytes > 0 {
			opts = fmt.Sprintf("%s,size=%d", opts, spec.Policy.TmpfsBytes)
		}
		hostCfg.Tmpfs = map[string]string{"/tmp": opts}
	}
	if spec.HostPort > 0 {
		hostCfg.PortBindings = nat.PortMap{
			exposed: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(spec.HostPort)}},
		}
	}
	return hostCfg
}

// networkingFor attaches traefik-routed containers to the shared
// proxy network; port-routed containers stay on the default bridge.
func networkingFor(spec ContainerSpec) *network.NetworkingConfig {
	if spec.Network == "" {
		return nil
	}
	return &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			spec.Network: {},
		},
	}
}

// StartContainer starts a created container.
func (r *DockerRuntime) StartContainer(ctx context.Context, containerID string) error {
	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", containerID, err)
	}
	return nil
}

// StopContainer stops a running container with the engine's default
// grace period.
func (r *DockerRuntime) StopContainer(ctx context.Context, containerID string) error {
	if err := r.client.ContainerStop(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", containerID, err)
	}
	return nil
}

// RestartContainer restarts a container in place.
func (r *DockerRuntime) RestartContainer(ctx context.Context, containerID string) error {
	if err := r.client.ContainerRestart(ctx, containerID, container.StopOptions{}); err != nil {
		return fmt.Errorf("failed to restart container %s: %w", containerID, err)
	}
	return nil
}

// RemoveContainer force-removes a container, running or not.
func (r *DockerRuntime) RemoveContainer(ctx context.Context, containerID string) error {
	err := r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}
	return nil
}
