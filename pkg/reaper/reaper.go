package reaper

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/spawnpoint/spawnpoint/pkg/deploy"
	"github.com/spawnpoint/spawnpoint/pkg/events"
	"github.com/spawnpoint/spawnpoint/pkg/log"
	"github.com/spawnpoint/spawnpoint/pkg/metrics"
	"github.com/spawnpoint/spawnpoint/pkg/ports"
	"github.com/spawnpoint/spawnpoint/pkg/store"
	"github.com/spawnpoint/spawnpoint/pkg/types"
)

// Reaper periodically drives expired instances to their Stopped
// terminal state. Every step is idempotent, so a crash mid-sweep just
// means the next tick re-attempts whatever is still Running past its
// deadline.
type Reaper struct {
	store    *store.Store
	deployer *deploy.Deployer
	alloc    *ports.Allocator
	broker   *events.Broker
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a reaper sweeping every interval.
func New(st *store.Store, deployer *deploy.Deployer, alloc *ports.Allocator, broker *events.Broker, interval time.Duration) *Reaper {
	return &Reaper{
		store:    st,
		deployer: deployer,
		alloc:    alloc,
		broker:   broker,
		interval: interval,
		logger:   log.WithComponent("reaper"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the sweep loop. The first sweep runs immediately so a
// restart catches up without waiting a full interval.
func (r *Reaper) Start() {
	go r.run()
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reaper) run() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info().Dur("interval", r.interval).Msg("reaper started")
	r.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			r.RunOnce(context.Background())
		case <-r.stopCh:
			r.logger.Info().Msg("reaper stopped")
			return
		}
	}
}

// RunOnce performs a single sweep: stop every expired instance, then
// release expired port reservations no running instance still claims.
// Failures are logged per instance and never abort the sweep.
func (r *Reaper) RunOnce(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := r.store.ListExpiredInstances(ctx, now)
	if err != nil {
		r.logger.Error().Err(err).Msg("list expired instances")
		return
	}
	if len(expired) > 0 {
		r.logger.Info().Int("count", len(expired)).Msg("reaping expired instances")
	}

	for i := range expired {
		r.reap(ctx, &expired[i])
	}

	r.releaseOrphanedPorts(ctx, now)
}

func (r *Reaper) reap(ctx context.Context, inst *types.Instance) {
	logger := r.logger.With().
		Uint("instance_id", inst.ID).
		Str("task", inst.TaskName).
		Logger()

	if err := r.deployer.Stop(ctx, inst); err != nil {
		logger.Error().Err(err).Msg("stop expired instance")
		// Fall through: the status overwrite below still converges the
		// row even when the engine is unreachable.
	}

	if err := r.store.UpdateInstanceStatus(ctx, inst.ID, types.StatusStopped); err != nil {
		logger.Error().Err(err).Msg("mark instance stopped")
		return
	}

	metrics.ReapedTotal.Inc()
	logger.Info().Msg("instance reaped")

	if r.broker != nil {
		r.broker.Publish(&events.Event{
			Type:       events.EventInstanceReaped,
			Task:       inst.TaskName,
			InstanceID: inst.ID,
			UserID:     inst.UserID,
			Port:       inst.Port,
			Message:    "instance reaped",
		})
	}
}

// releaseOrphanedPorts frees reservations whose expiry has passed and
// which no Running instance references. Such ports exist after a
// gateway crash between reserve and persist, or when a release was
// lost; without this pass they would leak until operator intervention.
func (r *Reaper) releaseOrphanedPorts(ctx context.Context, now time.Time) {
	if r.alloc == nil {
		return
	}

	expired, err := r.alloc.Expired(ctx, now)
	if err != nil {
		r.logger.Error().Err(err).Msg("list expired port reservations")
		return
	}

	for _, port := range expired {
		inst, err := r.store.FindRunningInstanceByPort(ctx, port)
		if err != nil {
			r.logger.Error().Err(err).Int("port", port).Msg("check port owner")
			continue
		}
		if inst != nil {
			// Still claimed: the instance sweep above handles it on a
			// later tick once the row itself expires.
			continue
		}
		if err := r.alloc.Release(ctx, port); err != nil {
			r.logger.Error().Err(err).Int("port", port).Msg("release orphaned port")
			continue
		}
		metrics.OrphanedPortsReleased.Inc()
		r.logger.Warn().Int("port", port).Msg("released orphaned port reservation")
		if r.broker != nil {
			r.broker.Publish(&events.Event{
				Type:    events.EventPortOrphanFreed,
				Port:    port,
				Message: "orphaned port reservation released",
			})
		}
	}
}
