package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spawnpoint/spawnpoint/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewTestStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func runningInstance(task string, userID uint, ttl time.Duration) *types.Instance {
	now := time.Now().UTC()
	return &types.Instance{
		TaskName:    task,
		ContainerID: "ctr-" + task,
		Port:        0,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		Status:      types.StatusRunning,
		Endpoint:    "http://ctf.example.org",
	}
}

func TestFindOrCreateUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.FindOrCreateUser(ctx, "team-tangerine")
	require.NoError(t, err)
	require.NotZero(t, first.ID)

	again, err := s.FindOrCreateUser(ctx, "team-tangerine")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	other, err := s.FindOrCreateUser(ctx, "team-ultraviolet")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	user, err := s.FindOrCreateUser(ctx, "team-tangerine")
	require.NoError(t, err)

	sess := &types.Session{
		Token:     "tok-alive",
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	require.NoError(t, s.CreateSession(ctx, sess))

	got, err := s.ValidateSession(ctx, "tok-alive", now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, user.ID, got.ID)

	// Unknown token resolves to no user, not an error.
	got, err = s.ValidateSession(ctx, "tok-unknown", now)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Expired token behaves like an unknown one.
	got, err = s.ValidateSession(ctx, "tok-alive", now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)

	reuse, err := s.FindValidSessionForUser(ctx, user.ID, now)
	require.NoError(t, err)
	require.NotNil(t, reuse)
	assert.Equal(t, "tok-alive", reuse.Token)

	reuse, err = s.FindValidSessionForUser(ctx, user.ID, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, reuse)
}

func TestEnsureTaskUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureTask(ctx, "web-101", "tasks/web-101/Dockerfile"))
	require.NoError(t, s.EnsureTask(ctx, "web-101", "challenges/web-101/Dockerfile"))

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "challenges/web-101/Dockerfile", tasks[0].DockerfilePath)

	task, err := s.FindTask(ctx, "web-101")
	require.NoError(t, err)
	require.NotNil(t, task)

	task, err = s.FindTask(ctx, "no-such-task")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestCreateInstanceQuota(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.FindOrCreateUser(ctx, "team-tangerine")
	require.NoError(t, err)

	first := runningInstance("web-101", user.ID, time.Hour)
	require.NoError(t, s.CreateInstanceForUser(ctx, first, user.ID, 2))
	assert.NotZero(t, first.ID)
	assert.Equal(t, user.ID, first.UserID)

	second := runningInstance("pwn-200", user.ID, time.Hour)
	require.NoError(t, s.CreateInstanceForUser(ctx, second, user.ID, 2))

	third := runningInstance("re-300", user.ID, time.Hour)
	err = s.CreateInstanceForUser(ctx, third, user.ID, 2)
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Stopping one frees a slot.
	require.NoError(t, s.UpdateInstanceStatus(ctx, first.ID, types.StatusStopped))
	require.NoError(t, s.CreateInstanceForUser(ctx, third, user.ID, 2))

	// Another user's instances never count against this quota.
	other, err := s.FindOrCreateUser(ctx, "team-ultraviolet")
	require.NoError(t, err)
	fourth := runningInstance("web-101", other.ID, time.Hour)
	require.NoError(t, s.CreateInstanceForUser(ctx, fourth, other.ID, 2))
}

func TestListInstancesForUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.FindOrCreateUser(ctx, "team-tangerine")
	require.NoError(t, err)
	other, err := s.FindOrCreateUser(ctx, "team-ultraviolet")
	require.NoError(t, err)

	mine := runningInstance("web-101", user.ID, time.Hour)
	require.NoError(t, s.CreateInstanceForUser(ctx, mine, user.ID, 10))

	stopped := runningInstance("pwn-200", user.ID, time.Hour)
	require.NoError(t, s.CreateInstanceForUser(ctx, stopped, user.ID, 10))
	require.NoError(t, s.UpdateInstanceStatus(ctx, stopped.ID, types.StatusStopped))

	theirs := runningInstance("web-101", other.ID, time.Hour)
	require.NoError(t, s.CreateInstanceForUser(ctx, theirs, other.ID, 10))

	list, err := s.ListInstancesForUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].ID)
}

func TestListExpiredInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	user, err := s.FindOrCreateUser(ctx, "team-tangerine")
	require.NoError(t, err)

	expired := runningInstance("web-101", user.ID, -time.Minute)
	require.NoError(t, s.CreateInstanceForUser(ctx, expired, user.ID, 10))

	live := runningInstance("pwn-200", user.ID, time.Hour)
	require.NoError(t, s.CreateInstanceForUser(ctx, live, user.ID, 10))

	// Already stopped instances stay out of the sweep even when past
	// their expiry.
	stopped := runningInstance("re-300", user.ID, -time.Minute)
	require.NoError(t, s.CreateInstanceForUser(ctx, stopped, user.ID, 10))
	require.NoError(t, s.UpdateInstanceStatus(ctx, stopped.ID, types.StatusStopped))

	list, err := s.ListExpiredInstances(ctx, now)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, expired.ID, list[0].ID)
}

func TestFindRunningInstanceByPort(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.FindOrCreateUser(ctx, "team-tangerine")
	require.NoError(t, err)

	inst := runningInstance("web-101", user.ID, time.Hour)
	inst.Port = 10042
	require.NoError(t, s.CreateInstanceForUser(ctx, inst, user.ID, 10))

	got, err := s.FindRunningInstanceByPort(ctx, 10042)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, inst.ID, got.ID)

	got, err = s.FindRunningInstanceByPort(ctx, 10999)
	require.NoError(t, err)
	assert.Nil(t, got)

	// A stopped instance releases its claim on the port.
	require.NoError(t, s.UpdateInstanceStatus(ctx, inst.ID, types.StatusStopped))
	got, err = s.FindRunningInstanceByPort(ctx, 10042)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.FindOrCreateUser(ctx, "team-tangerine")
	require.NoError(t, err)

	inst := runningInstance("web-101", user.ID, time.Hour)
	require.NoError(t, s.CreateInstanceForUser(ctx, inst, user.ID, 10))

	inst.Status = types.StatusStopped
	inst.ExpiresAt = time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.UpdateInstance(ctx, inst))

	got, err := s.FindInstanceByID(ctx, inst.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.StatusStopped, got.Status)
	assert.WithinDuration(t, inst.ExpiresAt, got.ExpiresAt, time.Second)

	// Updates without an ID are rejected rather than inserting.
	err = s.UpdateInstance(ctx, &types.Instance{})
	assert.Error(t, err)
}

func TestFindInstanceByIDMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.FindInstanceByID(context.Background(), 4242)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCountRunningInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.FindOrCreateUser(ctx, "team-tangerine")
	require.NoError(t, err)
	other, err := s.FindOrCreateUser(ctx, "team-ultraviolet")
	require.NoError(t, err)

	for _, task := range []string{"web-101", "pwn-200"} {
		require.NoError(t, s.CreateInstanceForUser(ctx, runningInstance(task, user.ID, time.Hour), user.ID, 10))
	}
	require.NoError(t, s.CreateInstanceForUser(ctx, runningInstance("re-300", other.ID, time.Hour), other.ID, 10))

	mine, err := s.CountRunningInstancesForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine)

	total, err := s.CountRunningInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}
