package reaper

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spawnpoint/spawnpoint/pkg/config"
	"github.com/spawnpoint/spawnpoint/pkg/deploy"
	"github.com/spawnpoint/spawnpoint/pkg/log"
	"github.com/spawnpoint/spawnpoint/pkg/ports"
	"github.com/spawnpoint/spawnpoint/pkg/runtime"
	"github.com/spawnpoint/spawnpoint/pkg/store"
	"github.com/spawnpoint/spawnpoint/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	m.Run()
}

type fakeDriver struct {
	mu      sync.Mutex
	nextID  int
	stopped []string
	removed []string
}

func (f *fakeDriver) BuildImage(ctx context.Context, contextDir, tag string) error { return nil }

func (f *fakeDriver) CreateContainer(ctx context.Context, spec runtime.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	return fmt.Sprintf("container-%d", f.nextID), nil
}

func (f *fakeDriver) StartContainer(ctx context.Context, id string) error { return nil }

func (f *fakeDriver) StopContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, id)
	return nil
}

func (f *fakeDriver) RestartContainer(ctx context.Context, id string) error { return nil }

func (f *fakeDriver) RemoveContainer(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

type reaperFixture struct {
	reaper   *Reaper
	deployer *deploy.Deployer
	driver   *fakeDriver
	alloc    *ports.Allocator
	store    *store.Store
}

func newFixture(t *testing.T) *reaperFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := &config.Config{
		TasksDir: "./tasks",
		Ports: config.PortsConfig{
			Min:            30000,
			Max:            30001,
			DefaultTTLSecs: 1800,
		},
		Routing: config.RoutingConfig{Variant: "port", Domain: "ctf.example.org"},
		Tasks: map[string]config.TaskConfig{
			"_default": {Protocol: "http", ContainerPort: 3000},
		},
	}

	alloc := ports.NewAllocator(client, cfg.Ports.Min, cfg.Ports.Max)
	_, err := alloc.Initialize(context.Background())
	require.NoError(t, err)

	st, err := store.NewTestStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	driver := &fakeDriver{}
	d, err := deploy.New(cfg, driver, alloc, st, nil)
	require.NoError(t, err)

	return &reaperFixture{
		reaper:   New(st, d, alloc, nil, time.Hour),
		deployer: d,
		driver:   driver,
		alloc:    alloc,
		store:    st,
	}
}

// deployExpired runs a full deploy, persists the row, then backdates
// its deadline so the next sweep picks it up.
func (f *reaperFixture) deployExpired(t *testing.T, username string) *types.Instance {
	t.Helper()
	ctx := context.Background()

	inst, err := f.deployer.Deploy(ctx, "web_task")
	require.NoError(t, err)

	user, err := f.store.FindOrCreateUser(ctx, username)
	require.NoError(t, err)
	require.NoError(t, f.store.CreateInstanceForUser(ctx, inst, user.ID, 10))

	inst.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, f.store.UpdateInstance(ctx, inst))
	return inst
}

func TestRunOnceReapsExpiredInstances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst := f.deployExpired(t, "alice")
	f.reaper.RunOnce(ctx)

	stored, err := f.store.FindInstanceByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, stored.Status)

	assert.Contains(t, f.driver.stopped, inst.ContainerID)
	assert.Contains(t, f.driver.removed, inst.ContainerID)

	free, inUse, err := f.alloc.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), free, "reaped port must return to the pool")
	assert.Zero(t, inUse)
}

func TestRunOnceLeavesLiveInstancesAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst, err := f.deployer.Deploy(ctx, "web_task")
	require.NoError(t, err)
	user, err := f.store.FindOrCreateUser(ctx, "bob")
	require.NoError(t, err)
	require.NoError(t, f.store.CreateInstanceForUser(ctx, inst, user.ID, 10))

	f.reaper.RunOnce(ctx)

	stored, err := f.store.FindInstanceByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, stored.Status)
	assert.Empty(t, f.driver.stopped)
}

func TestRunOnceSkipsTerminalRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst := f.deployExpired(t, "carol")
	f.reaper.RunOnce(ctx)
	require.Len(t, f.driver.stopped, 1)

	// A second sweep must not touch the already stopped instance.
	f.reaper.RunOnce(ctx)
	assert.Len(t, f.driver.stopped, 1)

	stored, err := f.store.FindInstanceByID(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, stored.Status)
}

func TestRunOnceReleasesOrphanedPorts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A reservation with no backing instance row, as left behind by a
	// crash between reserve and persist. Negative TTL makes it expired
	// immediately.
	port, err := f.alloc.Reserve(ctx, -time.Minute)
	require.NoError(t, err)

	f.reaper.RunOnce(ctx)

	free, inUse, err := f.alloc.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), free, "orphaned port %d must be released", port)
	assert.Zero(t, inUse)
}

func TestRunOnceKeepsClaimedPorts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The reservation lapsed but a Running row still references the
	// port: releasing it would hand the port to a second container.
	port, err := f.alloc.Reserve(ctx, -time.Minute)
	require.NoError(t, err)

	user, err := f.store.FindOrCreateUser(ctx, "dave")
	require.NoError(t, err)
	inst := &types.Instance{
		TaskName:    "web_task",
		ContainerID: "container-x",
		Port:        port,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
		Status:      types.StatusRunning,
		Endpoint:    "http://ctf.example.org:30000",
	}
	require.NoError(t, f.store.CreateInstanceForUser(ctx, inst, user.ID, 10))

	f.reaper.RunOnce(ctx)

	free, inUse, err := f.alloc.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), free)
	assert.Equal(t, int64(1), inUse, "claimed port must stay reserved")
}

func TestStartSweepsImmediately(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inst := f.deployExpired(t, "erin")

	f.reaper.Start()
	defer f.reaper.Stop()

	require.Eventually(t, func() bool {
		stored, err := f.store.FindInstanceByID(ctx, inst.ID)
		return err == nil && stored.Status == types.StatusStopped
	}, 2*time.Second, 10*time.Millisecond, "first sweep must run without waiting an interval")
}

func TestStopWaitsForLoop(t *testing.T) {
	f := newFixture(t)

	f.reaper.Start()

	done := make(chan struct{})
	go func() {
		f.reaper.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
