package ports

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keys shared by every process that touches the pool.
const (
	freeKey  = "ports:free"
	inUseKey = "ports:in_use"
)

var (
	// ErrOutOfPorts is returned by Reserve when the free set is empty.
	ErrOutOfPorts = errors.New("no free ports available")
	// ErrInvalidPort is returned by Extend for ports with no live
	// reservation.
	ErrInvalidPort = errors.New("port not reserved")
)

// Both sorted sets are mutated only through server-side scripts so a
// gateway crash between two commands can never lose or double-book a
// port.

// initScript populates the free set with the full range, but only
// when both sets are empty. A restart against a warm pool must not
// resurrect ports that other processes hold.
var initScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 or redis.call("EXISTS", KEYS[2]) == 1 then
  return 0
end
local added = 0
for port = tonumber(ARGV[1]), tonumber(ARGV[2]) do
  redis.call("ZADD", KEYS[1], port, port)
  added = added + 1
end
return added
`)

// reserveScript pops the lowest free port and books it with an
// expiry timestamp. Returns -1 when the pool is exhausted.
var reserveScript = redis.NewScript(`
local popped = redis.call("ZPOPMIN", KEYS[1])
if #popped == 0 then
  return -1
end
local port = popped[1]
redis.call("ZADD", KEYS[2], ARGV[1], port)
return tonumber(port)
`)

// releaseScript moves a port back to the free set. Safe to call for
// ports that were already released.
var releaseScript = redis.NewScript(`
redis.call("ZREM", KEYS[2], ARGV[1])
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[1])
return 1
`)

// extendScript pushes a reservation's expiry further out. Returns -1
// when the port has no reservation to extend.
var extendScript = redis.NewScript(`
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if not score then
  return -1
end
local expiry = tonumber(score) + tonumber(ARGV[2])
redis.call("ZADD", KEYS[1], expiry, ARGV[1])
return expiry
`)

// Allocator hands out host ports from a fixed range using two Redis
// sorted sets: ports:free scored by port number and ports:in_use
// scored by reservation expiry (unix seconds).
type Allocator struct {
	client *redis.Client
	min    int
	max    int
}

// NewAllocator wraps an existing Redis client. The [min,max] range
// must match the one the pool was initialized with.
func NewAllocator(client *redis.Client, min, max int) *Allocator {
	return &Allocator{client: client, min: min, max: max}
}

// Connect dials Redis from a URL (redis://host:port/db) and verifies
// the connection.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Initialize seeds the free set with every port in the range. It is a
// no-op when either set already has members, so any process can call
// it at startup without clobbering live reservations. Returns the
// number of ports added.
func (a *Allocator) Initialize(ctx context.Context) (int, error) {
	added, err := initScript.Run(ctx, a.client, []string{freeKey, inUseKey}, a.min, a.max).Int()
	if err != nil {
		return 0, fmt.Errorf("initialize port pool: %w", err)
	}
	return added, nil
}

// Reserve atomically claims the lowest free port and books it until
// now+ttl. Returns ErrOutOfPorts when the pool is exhausted.
func (a *Allocator) Reserve(ctx context.Context, ttl time.Duration) (int, error) {
	expiry := time.Now().Add(ttl).Unix()
	port, err := reserveScript.Run(ctx, a.client, []string{freeKey, inUseKey}, expiry).Int()
	if err != nil {
		return 0, fmt.Errorf("reserve port: %w", err)
	}
	if port < 0 {
		return 0, ErrOutOfPorts
	}
	return port, nil
}

// Release returns a port to the free set. Ports outside the pool
// range are ignored, so callers can pass whatever an instance record
// holds (including 0 for traefik-routed instances).
func (a *Allocator) Release(ctx context.Context, port int) error {
	if port < a.min || port > a.max {
		return nil
	}
	if err := releaseScript.Run(ctx, a.client, []string{freeKey, inUseKey}, port).Err(); err != nil {
		return fmt.Errorf("release port %d: %w", port, err)
	}
	return nil
}

// Extend adds extra lifetime to an existing reservation. Returns
// ErrInvalidPort when the port is not currently reserved.
func (a *Allocator) Extend(ctx context.Context, port int, extra time.Duration) error {
	res, err := extendScript.Run(ctx, a.client, []string{inUseKey}, port, int64(extra.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("extend port %d: %w", port, err)
	}
	if res < 0 {
		return ErrInvalidPort
	}
	return nil
}

// Expired lists in-use ports whose reservation expiry is at or before
// now. The reaper cross-checks these against the store before
// releasing them.
func (a *Allocator) Expired(ctx context.Context, now time.Time) ([]int, error) {
	members, err := a.client.ZRangeByScore(ctx, inUseKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list expired ports: %w", err)
	}
	ports := make([]int, 0, len(members))
	for _, m := range members {
		p, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("malformed port %q in reservation set: %w", m, err)
		}
		ports = append(ports, p)
	}
	return ports, nil
}

// Counts returns the sizes of the free and in-use sets for gauges.
func (a *Allocator) Counts(ctx context.Context) (free, inUse int64, err error) {
	free, err = a.client.ZCard(ctx, freeKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("count free ports: %w", err)
	}
	inUse, err = a.client.ZCard(ctx, inUseKey).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("count in-use ports: %w", err)
	}
	return free, inUse, nil
}
