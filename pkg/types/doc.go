/*
Package types defines the core domain entities shared across spawnpoint
components.

The types package holds the persisted entities (User, Session, Task,
Instance), their lifecycle enums, and the small pure helpers the rest
of the system leans on (expiry math, terminal-state checks). It has no
dependencies beyond the standard library so every other package can
import it freely.

# Entity Relationships

	┌──────────────────── DOMAIN MODEL ─────────────────────┐
	│                                                         │
	│   ┌────────┐ 1      n ┌─────────┐                      │
	│   │  User  │──────────│ Session │  opaque bearer token │
	│   └───┬────┘          └─────────┘  valid iff           │
	│       │ 1                          now < expires_at    │
	│       │                                                 │
	│       │ n                                               │
	│   ┌───▼──────┐ n    1 ┌──────┐                         │
	│   │ Instance │────────│ Task │  named build recipe     │
	│   └──────────┘        └──────┘  (tasks/<name>/)        │
	│                                                         │
	│   Instance: container_id + endpoint + TTL + status     │
	│   Status:   Running ──► Stopped                        │
	│             Running ──► Expired                        │
	│             (terminal states are never left)           │
	└─────────────────────────────────────────────────────────┘

# Core Types

User:
  - Created on first token request, keyed by unique username
  - Monotonic integer identifier assigned by the store

Session:
  - Token string (UUID-v4) is the primary key
  - Valid(now) encodes the single authentication rule
  - Expired sessions remain persisted but never authenticate

Task:
  - Name plus path to its Dockerfile build recipe
  - Seeded idempotently from a directory scan at startup

Instance:
  - One running container owned by one user
  - Port is zero when the traefik routing variant is active
  - Endpoint is the user-visible URL or access command
  - Drafts (pre-persistence) carry ID=0, UserID=0

# Status Lifecycle

Instances transition Running→Stopped (user stop, reaper) or
Running→Expired. Terminal() guards against resurrection: stopped or
expired instances are never restarted or extended.

# Usage

	inst := &types.Instance{
		TaskName:  "foo_task",
		Status:    types.StatusRunning,
		ExpiresAt: types.ComputeExpiry(time.Now(), 30*time.Minute),
	}

	if inst.Expired(time.Now()) {
		// reaper territory
	}

	remaining := inst.ExpiresIn(time.Now()) // seconds, clamped at 0

# Integration Points

This package is imported by:

  - pkg/store: persists and rehydrates all four entities
  - pkg/deploy: produces Running instance drafts
  - pkg/session: issues and validates Session tokens
  - pkg/api: maps entities to wire DTOs
  - pkg/reaper: drives expired instances to terminal state
*/
package types
