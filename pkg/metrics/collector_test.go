package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type fakeInstanceCounter struct {
	count int64
	err   error
}

func (f *fakeInstanceCounter) CountRunningInstances(ctx context.Context) (int64, error) {
	return f.count, f.err
}

type fakePoolCounter struct {
	free, inUse int64
	err         error
}

func (f *fakePoolCounter) Counts(ctx context.Context) (int64, int64, error) {
	return f.free, f.inUse, f.err
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.err }

func TestCollectorUpdatesGauges(t *testing.T) {
	resetHealthChecker()

	c := NewCollector(
		&fakeInstanceCounter{count: 7},
		&fakePoolCounter{free: 90, inUse: 10},
		&fakePinger{},
		time.Minute,
	)
	c.collect()

	assert.Equal(t, 7.0, testutil.ToFloat64(RunningInstances))
	assert.Equal(t, 90.0, testutil.ToFloat64(PortsFree))
	assert.Equal(t, 10.0, testutil.ToFloat64(PortsInUse))
	assert.Equal(t, 1.0, testutil.ToFloat64(ComponentUp.WithLabelValues("docker")))

	health := GetHealth()
	assert.Equal(t, "healthy", health.Status)
}

func TestCollectorMarksFailingComponents(t *testing.T) {
	resetHealthChecker()

	c := NewCollector(
		&fakeInstanceCounter{count: 1},
		&fakePoolCounter{free: 1, inUse: 0},
		&fakePinger{err: errors.New("engine unreachable")},
		time.Minute,
	)
	c.collect()

	assert.Equal(t, 0.0, testutil.ToFloat64(ComponentUp.WithLabelValues("docker")))

	health := GetHealth()
	assert.Equal(t, "unhealthy", health.Status)
	assert.Contains(t, health.Components["docker"], "engine unreachable")
}

func TestCollectorSkipsNilSources(t *testing.T) {
	resetHealthChecker()

	c := NewCollector(nil, nil, nil, time.Minute)
	// Must not panic with no sources wired (reaper process runs
	// without an engine handle).
	c.collect()

	assert.Empty(t, GetHealth().Components)
}
