package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spawnpoint/spawnpoint/pkg/api"
	"github.com/spawnpoint/spawnpoint/pkg/captcha"
	"github.com/spawnpoint/spawnpoint/pkg/config"
	"github.com/spawnpoint/spawnpoint/pkg/deploy"
	"github.com/spawnpoint/spawnpoint/pkg/events"
	"github.com/spawnpoint/spawnpoint/pkg/log"
	"github.com/spawnpoint/spawnpoint/pkg/metrics"
	"github.com/spawnpoint/spawnpoint/pkg/ports"
	"github.com/spawnpoint/spawnpoint/pkg/reaper"
	"github.com/spawnpoint/spawnpoint/pkg/runtime"
	"github.com/spawnpoint/spawnpoint/pkg/session"
	"github.com/spawnpoint/spawnpoint/pkg/store"
	"github.com/spawnpoint/spawnpoint/pkg/tasks"
)

const shutdownGrace = 15 * time.Second

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the HTTP gateway",
	Long: `Run the player-facing HTTP gateway: token issuance, deploys,
instance lifecycle and the tasks listing. Pair it with "spawnpoint
reaper" in a second process, or use "spawnpoint all" to run both.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(true, false)
	},
}

var reaperCmd = &cobra.Command{
	Use:   "reaper",
	Short: "Run the expiry reaper",
	Long: `Run the reaper loop on its own: sweep expired instances to
Stopped and release orphaned port reservations. Safe to run beside a
gateway pointed at the same database and redis.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(false, true)
	},
}

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run the gateway and the reaper in one process",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(true, true)
	},
}

// app holds the shared backends both processes are built from.
type app struct {
	cfg    *config.Config
	store  *store.Store
	redis  *redis.Client
	alloc  *ports.Allocator
	engine *runtime.DockerRuntime
	broker *events.Broker
	audit  *events.AuditLogger
	coll   *metrics.Collector

	deployer *deploy.Deployer
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	client, err := ports.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	alloc := ports.NewAllocator(client, cfg.Ports.Min, cfg.Ports.Max)
	added, err := alloc.Initialize(ctx)
	if err != nil {
		_ = client.Close()
		_ = st.Close()
		return nil, fmt.Errorf("initialize port pool: %w", err)
	}
	if added > 0 {
		log.Logger.Info().Int("ports", added).Msg("port pool seeded")
	}

	engine, err := runtime.NewDockerRuntime()
	if err != nil {
		_ = client.Close()
		_ = st.Close()
		return nil, fmt.Errorf("connect container engine: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	audit := events.NewAuditLogger(broker)
	audit.Start()

	deployer, err := deploy.New(cfg, engine, alloc, st, broker)
	if err != nil {
		audit.Stop()
		broker.Stop()
		_ = engine.Close()
		_ = client.Close()
		_ = st.Close()
		return nil, err
	}

	metrics.SetVersion(Version)
	coll := metrics.NewCollector(st, alloc, engine, 0)
	coll.Start()

	return &app{
		cfg:      cfg,
		store:    st,
		redis:    client,
		alloc:    alloc,
		engine:   engine,
		broker:   broker,
		audit:    audit,
		coll:     coll,
		deployer: deployer,
	}, nil
}

func (a *app) close() {
	a.coll.Stop()
	a.audit.Stop()
	a.broker.Stop()
	_ = a.engine.Close()
	_ = a.redis.Close()
	_ = a.store.Close()
}

func runServe(gateway, reap bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)

	if gateway {
		names, err := tasks.Register(ctx, a.store, a.broker, a.cfg.TasksDir)
		if err != nil {
			return fmt.Errorf("register tasks: %w", err)
		}
		log.Logger.Info().Strs("tasks", names).Msg("tasks registered")

		verifier, err := captcha.NewVerifier(a.cfg.Captcha)
		if err != nil {
			return err
		}
		sessions := session.NewManager(a.store, a.cfg.SessionTTL(), a.broker)
		srv := api.NewServer(a.cfg, a.store, sessions, a.deployer, verifier, a.broker)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if reap {
		r := reaper.New(a.store, a.deployer, a.alloc, a.broker, a.cfg.PollInterval())
		r.Start()
		g.Go(func() error {
			<-ctx.Done()
			r.Stop()
			return nil
		})
	}

	log.Logger.Info().
		Bool("gateway", gateway).
		Bool("reaper", reap).
		Str("version", Version).
		Msg("spawnpoint started")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Logger.Info().Msg("shutdown complete")
	return nil
}
