// Package config loads and validates the shared configuration for the
// spawnpoint gateway and reaper processes.
//
// Both processes read the same Config.toml so that port ranges, TTLs,
// routing rules, and store locations never drift between the process
// that creates instances and the process that reclaims them. The file
// is discovered by walking from the working directory toward the
// filesystem root, which lets the binaries run from any subdirectory
// of a deployment checkout.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────┐
//	│                      Configuration                      │
//	│                                                         │
//	│   .env ──────────┐                                      │
//	│                  ▼                                      │
//	│   environment (SPAWNPOINT_*) ───┐                       │
//	│                                 ▼                       │
//	│   Config.toml ──────────► viper merge ──► Unmarshal     │
//	│   (walk-up discovery)           │                       │
//	│                                 ▼                       │
//	│                   defaults ► validation ► *Config       │
//	└─────────────────────────────────────────────────────────┘
//
// Precedence is environment over file over defaults. Environment
// variables use the SPAWNPOINT_ prefix with underscores for dots, so
// SPAWNPOINT_DATABASE_URL overrides database.url.
//
// # Sections
//
//   - server: gateway listen address.
//   - ports: host port pool [min,max], default container port, and
//     the default/extension TTLs in seconds.
//   - database, redis: connection strings for the two shared stores.
//   - captcha: provider (recaptcha, turnstile, or none), keys, and
//     verification endpoint for the /deploy human check.
//   - scheduler: reaper poll interval.
//   - sessions: token TTL, per-user running-instance quota, and the
//     /token rate limit.
//   - routing: "port" or "traefik" variant plus the domains and entry
//     point names each variant needs.
//   - tasks: per-task protocol and container port; the "_default"
//     entry is mandatory and backs every task without its own table.
//   - containers: the hardening policy applied to every instance
//     (memory/pids limits, capability drops, read-only rootfs, tmpfs).
//
// # Usage
//
//	cfg, err := config.Load("")        // walk up for Config.toml
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tc := cfg.TaskConfig("web-101")    // falls back to "_default"
//	ttl := cfg.DefaultTTL()
//
// Byte sizes in the containers section accept human-readable strings
// ("256m", "1g") and are parsed once at load time, so a typo fails
// startup instead of the first deploy.
//
// # Integration Points
//
//   - cmd/spawnpoint loads the config once and hands it to every
//     component constructor.
//   - pkg/deploy reads routing, ports, tasks, and containers.
//   - pkg/ports reads the pool bounds and reservation TTL.
//   - pkg/session reads token TTL and the instance quota.
//   - pkg/reaper reads the poll interval.
package config
