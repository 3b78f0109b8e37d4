package types

import (
	"time"
)

// User represents an account created on first token request.
// Users are never deleted by the core.
type User struct {
	ID        uint
	Username  string
	CreatedAt time.Time
}

// Session is an opaque bearer token bound to a user. A session
// authenticates iff now < ExpiresAt; expired sessions stay in the
// store but never validate.
type Session struct {
	Token     string
	UserID    uint
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Valid reports whether the session still authenticates at the given
// instant.
func (s *Session) Valid(now time.Time) bool {
	return now.Before(s.ExpiresAt)
}

// Task is a named build recipe for producing a challenge image.
// Tasks are seeded from the tasks directory at gateway startup;
// re-registering an existing name is a no-op.
type Task struct {
	Name           string
	DockerfilePath string
	CreatedAt      time.Time
}

// Instance is a single running container produced from a task, owned
// by one user, with a bounded lifetime. A draft instance (returned by
// the deployer before persistence) carries ID=0 and UserID=0.
type Instance struct {
	ID          uint
	TaskName    string
	ContainerID string
	Port        int // 0 when routing does not publish a host port
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Status      InstanceStatus
	Endpoint    string
	UserID      uint
}

// InstanceStatus is the lifecycle state of an instance. Running is the
// only live state; Stopped and Expired are terminal.
type InstanceStatus string

const (
	StatusRunning InstanceStatus = "Running"
	StatusStopped InstanceStatus = "Stopped"
	StatusExpired InstanceStatus = "Expired"
)

// Terminal reports whether the status admits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == StatusStopped || s == StatusExpired
}

// Expired reports whether the instance's TTL has elapsed.
func (i *Instance) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// ExpiresIn returns the seconds remaining until expiry, clamped at
// zero for instances already past their deadline.
func (i *Instance) ExpiresIn(now time.Time) int64 {
	secs := int64(i.ExpiresAt.Sub(now).Seconds())
	if secs < 0 {
		return 0
	}
	return secs
}

// ComputeExpiry returns the absolute expiry instant for a TTL starting
// now, truncated to whole seconds so persisted and in-pool deadlines
// compare cleanly.
func ComputeExpiry(now time.Time, ttl time.Duration) time.Time {
	return now.Add(ttl).Truncate(time.Second)
}

// Protocol is how a client reaches a task: plain TCP or HTTP.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolTCP  Protocol = "tcp"
)

// RoutingVariant selects how instances are exposed: a published host
// port per instance, or an external reverse proxy dispatching by Host
// header (HTTP) or SNI (TCP).
type RoutingVariant string

const (
	RoutingPort    RoutingVariant = "port"
	RoutingTraefik RoutingVariant = "traefik"
)
