// Package store implements SQL persistence for users, sessions,
// tasks, and instances.
//
// The store is the only state shared between the gateway and the
// reaper besides the Redis port pool, so every record a process
// writes must be immediately readable by the other. GORM provides
// the mapping, with Postgres in production and in-memory sqlite in
// tests; the schema is identical on both.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────┐
//	│                         Store                            │
//	│                                                          │
//	│   gateway ──┐                          ┌── users         │
//	│             ├──► *gorm.DB ──► schema ──┤   sessions      │
//	│   reaper ───┘                          │   tasks         │
//	│                                        └── instances     │
//	│                                                          │
//	│   domain structs (pkg/types) ◄── converters ──► models   │
//	└──────────────────────────────────────────────────────────┘
//
// Database rows are mapped through small unexported model structs so
// pkg/types stays free of persistence tags. Every query method takes
// a context and wraps failures with the operation that failed.
//
// # Lookup Semantics
//
// Single-row lookups (FindTask, FindInstanceByID, ValidateSession,
// FindRunningInstanceByPort, FindValidSessionForUser) return nil with
// no error when the row is absent. Callers decide whether absence is
// a 400, a skip, or a reason to mint something new; only real
// database failures surface as errors.
//
// # Quota Enforcement
//
// CreateInstanceForUser runs its running-instance count and the
// insert inside one serializable transaction. Two concurrent deploys
// by the same user therefore cannot both observe "1 of 2 running"
// and insert; the loser either sees the winner's row or aborts, and
// the gateway rolls the losing container back. ErrQuotaExceeded is
// the sentinel the API maps to a client error.
//
// # Usage
//
//	s, err := store.Open(cfg.Database.URL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	if err := s.Migrate(); err != nil {
//	    log.Fatal(err)
//	}
//
//	user, err := s.FindOrCreateUser(ctx, "team-tangerine")
//	inst  := &types.Instance{TaskName: "web-101", ...}
//	err    = s.CreateInstanceForUser(ctx, inst, user.ID, 2)
//
// # Integration Points
//
//   - pkg/session issues and validates tokens through the session
//     methods.
//   - pkg/api reads tasks and instances for the read endpoints and
//     persists deploy results.
//   - pkg/reaper consumes ListExpiredInstances and
//     FindRunningInstanceByPort during sweeps.
//   - pkg/metrics polls the count methods into gauges.
package store
