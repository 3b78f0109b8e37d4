package metrics

import (
	"context"
	"time"
)

// InstanceCounter is the slice of the store the collector polls.
type InstanceCounter interface {
	CountRunningInstances(ctx context.Context) (int64, error)
}

// PoolCounter is the slice of the port allocator the collector polls.
type PoolCounter interface {
	Counts(ctx context.Context) (free, inUse int64, err error)
}

// EnginePinger probes the container engine.
type EnginePinger interface {
	Ping(ctx context.Context) error
}

// Collector polls the store, the port pool and the container engine
// into the exported gauges and the component health registry.
type Collector struct {
	instances InstanceCounter
	pool      PoolCounter
	engine    EnginePinger
	interval  time.Duration
	stopCh    chan struct{}
}

// NewCollector creates a new metrics collector. Any nil source is
// simply skipped, so the reaper process can run a collector without an
// engine handle.
func NewCollector(instances InstanceCounter, pool PoolCounter, engine EnginePinger, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		instances: instances,
		pool:      pool,
		engine:    engine,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectInstances(ctx)
	c.collectPool(ctx)
	c.collectEngine(ctx)
}

func (c *Collector) collectInstances(ctx context.Context) {
	if c.instances == nil {
		return
	}
	count, err := c.instances.CountRunningInstances(ctx)
	if err != nil {
		setComponent("database", false, err.Error())
		return
	}
	RunningInstances.Set(float64(count))
	setComponent("database", true, "")
}

func (c *Collector) collectPool(ctx context.Context) {
	if c.pool == nil {
		return
	}
	free, inUse, err := c.pool.Counts(ctx)
	if err != nil {
		setComponent("redis", false, err.Error())
		return
	}
	PortsFree.Set(float64(free))
	PortsInUse.Set(float64(inUse))
	setComponent("redis", true, "")
}

func (c *Collector) collectEngine(ctx context.Context) {
	if c.engine == nil {
		return
	}
	if err := c.engine.Ping(ctx); err != nil {
		setComponent("docker", false, err.Error())
		return
	}
	setComponent("docker", true, "")
}

func setComponent(name string, healthy bool, message string) {
	UpdateComponent(name, healthy, message)
	up := 0.0
	if healthy {
		up = 1.0
	}
	ComponentUp.WithLabelValues(name).Set(up)
}
