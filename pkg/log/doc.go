/*
Package log provides structured logging for spawnpoint using zerolog.

The log package wraps the zerolog library to provide JSON-structured
logging with component-specific loggers, configurable log levels, and
helper functions for common logging patterns. All logs include
timestamps and support filtering by severity level.

# Architecture

	┌──────────────────── LOGGING SYSTEM ───────────────────┐
	│                                                         │
	│  ┌────────────────────────────────────────┐            │
	│  │            Global Logger                │            │
	│  │  - Zerolog instance                     │            │
	│  │  - Initialized via log.Init()           │            │
	│  │  - Thread-safe for concurrent use       │            │
	│  └──────────────────┬─────────────────────┘            │
	│                     │                                   │
	│  ┌──────────────────▼─────────────────────┐            │
	│  │           Configuration                 │            │
	│  │  - Level: debug/info/warn/error         │            │
	│  │  - Format: JSON or console (human)      │            │
	│  │  - Output: stdout, file, custom writer  │            │
	│  └──────────────────┬─────────────────────┘            │
	│                     │                                   │
	│  ┌──────────────────▼─────────────────────┐            │
	│  │         Context Loggers                 │            │
	│  │  - WithComponent("reaper")              │            │
	│  │  - WithTask("foo_task")                 │            │
	│  │  - WithInstance(42)                     │            │
	│  │  - WithUser(7)                          │            │
	│  └─────────────────────────────────────────┘           │
	└─────────────────────────────────────────────────────────┘

# Log Levels

Debug:
  - Detailed tracing (swallowed engine errors, Lua script results)
  - Development and troubleshooting only

Info:
  - Lifecycle events (instance deployed, reaped, token issued)
  - Default production level

Warn:
  - Recoverable anomalies (orphaned port released, slow subscriber)

Error:
  - Failed operations that surface to callers or the reap loop

Fatal:
  - Unrecoverable startup errors; logs and exits the process

# Usage

Initializing:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	reaperLog := log.WithComponent("reaper")
	reaperLog.Info().Uint("instance_id", inst.ID).Msg("instance expired")

Structured fields:

	log.Logger.Error().
		Err(err).
		Str("task", name).
		Msg("image build failed")

# Output Examples

JSON (production):

	{"level":"info","component":"deployer","task":"foo_task","time":"2026-03-02T10:30:00Z","message":"instance deployed"}
	{"level":"error","component":"reaper","instance_id":12,"error":"engine unreachable","time":"2026-03-02T10:30:02Z","message":"stop failed"}

Console (development):

	10:30:00 INF instance deployed component=deployer task=foo_task
	10:30:02 ERR stop failed component=reaper instance_id=12 error="engine unreachable"

# Integration Points

This package is used by:

  - pkg/deploy: per-instance lifecycle logging
  - pkg/reaper: sweep progress and log-and-continue failures
  - pkg/api: request logging middleware
  - pkg/runtime: swallowed engine errors at debug level
  - pkg/events: audit trail subscriber
  - cmd/spawnpoint: startup, shutdown, fatal configuration errors

# Design Notes

One global logger keeps wiring trivial for deeply nested calls; child
loggers add queryable context instead of string interpolation. Never
log secrets: tokens and captcha keys are excluded from all fields.
*/
package log
