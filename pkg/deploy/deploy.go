package deploy

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/spawnpoint/spawnpoint/pkg/config"
	"github.com/spawnpoint/spawnpoint/pkg/events"
	"github.com/spawnpoint/spawnpoint/pkg/log"
	"github.com/spawnpoint/spawnpoint/pkg/metrics"
	"github.com/spawnpoint/spawnpoint/pkg/ports"
	"github.com/spawnpoint/spawnpoint/pkg/runtime"
	"github.com/spawnpoint/spawnpoint/pkg/store"
	"github.com/spawnpoint/spawnpoint/pkg/types"
)

// traefikNetwork is the docker network the external traefik watches.
const traefikNetwork = "ctf-net"

// ContainerDriver is the slice of the container engine the deployer
// needs. *runtime.DockerRuntime implements it; tests substitute a
// recording fake.
type ContainerDriver interface {
	BuildImage(ctx context.Context, contextDir, tag string) error
	CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string) error
	RestartContainer(ctx context.Context, containerID string) error
	RemoveContainer(ctx context.Context, containerID string) error
}

// Deployer drives the instance lifecycle: build, route, run, stop,
// restart, extend. A mutex serializes all public operations, so at
// most one touches the engine at a time and partial-failure rollback
// never races another deploy.
type Deployer struct {
	mu     sync.Mutex
	cfg    *config.Config
	driver ContainerDriver
	alloc  *ports.Allocator
	store  *store.Store
	broker *events.Broker
	policy runtime.Policy
	logger zerolog.Logger
}

// New creates a deployer. The container hardening policy is parsed
// once here so malformed size strings fail startup, not the first
// deploy.
func New(cfg *config.Config, driver ContainerDriver, alloc *ports.Allocator, st *store.Store, broker *events.Broker) (*Deployer, error) {
	policy, err := policyFrom(cfg.Containers)
	if err != nil {
		return nil, fmt.Errorf("container policy: %w", err)
	}
	return &Deployer{
		cfg:    cfg,
		driver: driver,
		alloc:  alloc,
		store:  st,
		broker: broker,
		policy: policy,
		logger: log.WithComponent("deploy"),
	}, nil
}

func policyFrom(cc config.ContainersConfig) (runtime.Policy, error) {
	mem, err := cc.MemoryBytes()
	if err != nil {
		return runtime.Policy{}, err
	}
	swap, err := cc.SwapBytes()
	if err != nil {
		return runtime.Policy{}, err
	}
	tmpfs, err := cc.TmpfsBytes()
	if err != nil {
		return runtime.Policy{}, err
	}
	return runtime.Policy{
		MemoryBytes:     mem,
		SwapBytes:       swap,
		CPUFraction:     cc.CPUQuota,
		PidsLimit:       cc.PidsLimit,
		ReadOnlyRootfs:  cc.ReadOnlyRootfs,
		DropAllCaps:     cc.DropAllCapabilities,
		AddCaps:         cc.AddCapabilities,
		NoNewPrivileges: cc.EnableNoNewPrivileges,
		TmpfsEnabled:    cc.EnableTmpfs,
		TmpfsBytes:      tmpfs,
	}, nil
}

// Deploy builds the task image and starts a container for it,
// returning a draft instance with ID=0 and UserID=0. The caller
// persists the draft so quota enforcement happens atomically with the
// insert. Every resource acquired before a failing step is released
// before the error surfaces; a half-started container is never left
// behind.
func (d *Deployer) Deploy(ctx context.Context, taskName string) (*types.Instance, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	timer := metrics.NewTimer()
	inst, err := d.deploy(ctx, taskName)
	if err != nil {
		metrics.DeploysTotal.WithLabelValues(taskName, "failure").Inc()
		return nil, err
	}
	metrics.DeploysTotal.WithLabelValues(taskName, "success").Inc()
	timer.ObserveDuration(metrics.DeployDuration)
	return inst, nil
}

func (d *Deployer) deploy(ctx context.Context, taskName string) (*types.Instance, error) {
	tc := d.cfg.TaskConfig(taskName)
	variant := types.RoutingVariant(d.cfg.Routing.Variant)

	// Port routing is the only variant that consumes a pool resource;
	// traefik instances are reached through the proxy network.
	port := 0
	if variant == types.RoutingPort {
		var err error
		port, err = d.alloc.Reserve(ctx, d.cfg.DefaultTTL())
		if err != nil {
			return nil, fmt.Errorf("reserve port: %w", err)
		}
	}

	tag := fmt.Sprintf("ctf-%s-%s", taskName, uuid.New().String())
	contextDir := filepath.Join(d.cfg.TasksDir, taskName)

	if err := d.driver.BuildImage(ctx, contextDir, tag); err != nil {
		d.releasePort(ctx, port)
		return nil, fmt.Errorf("build image: %w", err)
	}

	uid := strings.ReplaceAll(uuid.New().String(), "-", "")
	hostname := fmt.Sprintf("%s.%s", uid, d.cfg.Routing.TraefikDomain)

	spec := runtime.ContainerSpec{
		Name:          tag,
		Image:         tag,
		Labels:        d.labels(taskName, tc, uid, hostname, variant),
		ContainerPort: tc.ContainerPort,
		Policy:        d.policy,
	}
	if variant == types.RoutingPort {
		spec.HostPort = port
	} else {
		spec.Network = traefikNetwork
	}

	containerID, err := d.driver.CreateContainer(ctx, spec)
	if err != nil {
		d.releasePort(ctx, port)
		return nil, fmt.Errorf("create container: %w", err)
	}

	if err := d.driver.StartContainer(ctx, containerID); err != nil {
		d.removeContainer(ctx, containerID)
		d.releasePort(ctx, port)
		return nil, fmt.Errorf("start container: %w", err)
	}

	now := time.Now().UTC()
	inst := &types.Instance{
		TaskName:    taskName,
		ContainerID: containerID,
		Port:        port,
		CreatedAt:   now,
		ExpiresAt:   types.ComputeExpiry(now, d.cfg.DefaultTTL()),
		Status:      types.StatusRunning,
		Endpoint:    d.endpoint(tc, hostname, port, variant),
	}

	d.logger.Info().
		Str("task", taskName).
		Str("container_id", containerID).
		Int("port", port).
		Str("endpoint", inst.Endpoint).
		Msg("instance deployed")

	return inst, nil
}

// labels builds the container labels. In traefik mode they declare a
// router keyed by the instance uid so the proxy picks the container up
// from the docker provider without restarts.
func (d *Deployer) labels(taskName string, tc config.TaskConfig, uid, hostname string, variant types.RoutingVariant) map[string]string {
	labels := map[string]string{
		"spawnpoint.task": taskName,
		"spawnpoint.uid":  uid,
	}
	if variant != types.RoutingTraefik {
		return labels
	}

	labels["traefik.enable"] = "true"
	labels["traefik.docker.network"] = traefikNetwork
	containerPort := strconv.Itoa(tc.ContainerPort)

	if types.Protocol(tc.Protocol) == types.ProtocolTCP {
		labels[fmt.Sprintf("traefik.tcp.routers.%s.rule", uid)] = fmt.Sprintf("HostSNI(`%s`)", hostname)
		labels[fmt.Sprintf("traefik.tcp.routers.%s.entrypoints", uid)] = d.cfg.Routing.TCPEntry
		labels[fmt.Sprintf("traefik.tcp.services.%s.loadbalancer.server.port", uid)] = containerPort
	} else {
		labels[fmt.Sprintf("traefik.http.routers.%s.rule", uid)] = fmt.Sprintf("Host(`%s`)", hostname)
		labels[fmt.Sprintf("traefik.http.routers.%s.entrypoints", uid)] = d.cfg.Routing.HTTPEntry
		labels[fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", uid)] = containerPort
	}
	return labels
}

// endpoint renders the user-visible access string for the instance.
func (d *Deployer) endpoint(tc config.TaskConfig, hostname string, port int, variant types.RoutingVariant) string {
	tcp := types.Protocol(tc.Protocol) == types.ProtocolTCP
	if variant == types.RoutingPort {
		if tcp {
			return fmt.Sprintf("nc %s %d", d.cfg.Routing.Domain, port)
		}
		return fmt.Sprintf("http://%s:%d", d.cfg.Routing.Domain, port)
	}
	if tcp {
		return fmt.Sprintf("nc %s %d", hostname, d.cfg.TCPEntryPort())
	}
	return fmt.Sprintf("http://%s", hostname)
}

// Stop tears the instance down and persists the Stopped terminal
// state. Engine failures on the way down are logged and skipped; the
// function always converges toward Stopped, so re-stopping an already
// dead instance is harmless.
func (d *Deployer) Stop(ctx context.Context, inst *types.Instance) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.teardown(ctx, inst)

	now := time.Now().UTC()
	inst.Status = types.StatusStopped
	inst.ExpiresAt = now
	if err := d.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("persist stopped instance: %w", err)
	}

	d.logger.Info().
		Uint("instance_id", inst.ID).
		Str("task", inst.TaskName).
		Str("container_id", inst.ContainerID).
		Msg("instance stopped")
	d.publish(events.EventInstanceStopped, inst, "instance stopped")
	return nil
}

// Discard rolls back a draft that was never persisted (the deploy
// lost the quota race at insert time). Best-effort, no store write.
func (d *Deployer) Discard(ctx context.Context, inst *types.Instance) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.teardown(ctx, inst)
	d.logger.Warn().
		Str("task", inst.TaskName).
		Str("container_id", inst.ContainerID).
		Msg("draft instance discarded")
	d.publish(events.EventInstanceFailed, inst, "draft instance discarded")
}

// teardown stops and removes the container and releases the port.
// Callers hold the lock.
func (d *Deployer) teardown(ctx context.Context, inst *types.Instance) {
	if err := d.driver.StopContainer(ctx, inst.ContainerID); err != nil {
		d.logger.Debug().Err(err).Str("container_id", inst.ContainerID).Msg("stop container")
	}
	d.removeContainer(ctx, inst.ContainerID)
	d.releasePort(ctx, inst.Port)
}

// Restart restarts the container in place and grants a fresh default
// TTL. The host port, if any, is unchanged.
func (d *Deployer) Restart(ctx context.Context, inst *types.Instance) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.driver.RestartContainer(ctx, inst.ContainerID); err != nil {
		return fmt.Errorf("restart container: %w", err)
	}

	now := time.Now().UTC()
	inst.Status = types.StatusRunning
	inst.ExpiresAt = types.ComputeExpiry(now, d.cfg.DefaultTTL())
	if err := d.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("persist restarted instance: %w", err)
	}

	d.logger.Info().
		Uint("instance_id", inst.ID).
		Str("task", inst.TaskName).
		Time("expires_at", inst.ExpiresAt).
		Msg("instance restarted")
	d.publish(events.EventInstanceRestarted, inst, "instance restarted")
	return nil
}

// Extend pushes the instance deadline to now+extra, extending the
// port reservation in lockstep for port-routed instances. The status
// is preserved.
func (d *Deployer) Extend(ctx context.Context, inst *types.Instance, extra time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if inst.Port > 0 {
		if err := d.alloc.Extend(ctx, inst.Port, extra); err != nil {
			return fmt.Errorf("extend port reservation: %w", err)
		}
	}

	now := time.Now().UTC()
	inst.ExpiresAt = types.ComputeExpiry(now, extra)
	if err := d.store.UpdateInstance(ctx, inst); err != nil {
		return fmt.Errorf("persist extended instance: %w", err)
	}

	d.logger.Info().
		Uint("instance_id", inst.ID).
		Str("task", inst.TaskName).
		Time("expires_at", inst.ExpiresAt).
		Msg("instance extended")
	d.publish(events.EventInstanceExtended, inst, "instance extended")
	return nil
}

func (d *Deployer) releasePort(ctx context.Context, port int) {
	if port == 0 {
		return
	}
	if err := d.alloc.Release(ctx, port); err != nil {
		d.logger.Error().Err(err).Int("port", port).Msg("release port")
	}
}

func (d *Deployer) removeContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	if err := d.driver.RemoveContainer(ctx, containerID); err != nil {
		d.logger.Debug().Err(err).Str("container_id", containerID).Msg("remove container")
	}
}

func (d *Deployer) publish(eventType events.EventType, inst *types.Instance, msg string) {
	if d.broker == nil {
		return
	}
	d.broker.Publish(&events.Event{
		Type:       eventType,
		Task:       inst.TaskName,
		InstanceID: inst.ID,
		UserID:     inst.UserID,
		Port:       inst.Port,
		Message:    msg,
	})
}
