// Package ports manages the shared host port pool in Redis.
//
// Port-routed instances each bind one host port from a fixed range.
// The pool lives in Redis rather than process memory because the
// gateway reserves ports while the reaper releases them, and either
// process may restart at any time without losing the pool state.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────┐
//	│                        Port Pool                           │
//	│                                                            │
//	│   ports:free      ZSET  member=port  score=port            │
//	│   ports:in_use    ZSET  member=port  score=expiry (unix)   │
//	│                                                            │
//	│   Reserve:  ZPOPMIN free ──► ZADD in_use now+ttl           │
//	│   Release:  ZREM in_use  ──► ZADD free                     │
//	│   Extend:   ZSCORE in_use ─► ZADD in_use score+extra       │
//	│   Expired:  ZRANGEBYSCORE in_use -inf..now                 │
//	└────────────────────────────────────────────────────────────┘
//
// Every mutation runs as one server-side Lua script, so a crash
// between the pop and the booking can never leak a port, and two
// gateways reserving concurrently can never receive the same one.
//
// # Reservation Expiry
//
// A reservation's score is the unix second after which it is
// considered abandoned. Deploys book now+ttl matching the instance
// lifetime and /extend pushes both out together, so a port whose
// score has passed belongs to an instance the reaper should have
// already stopped. The reaper lists such ports with Expired and
// releases the ones no running instance still claims.
//
// # Usage
//
//	client, err := ports.Connect(ctx, cfg.Redis.URL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	alloc := ports.NewAllocator(client, cfg.Ports.Min, cfg.Ports.Max)
//
//	added, err := alloc.Initialize(ctx)   // no-op on a warm pool
//	port, err  := alloc.Reserve(ctx, cfg.DefaultTTL())
//	defer alloc.Release(ctx, port)
//
// # Integration Points
//
//   - pkg/deploy reserves on deploy, releases on stop and on deploy
//     rollback, and extends on /extend.
//   - pkg/reaper reconciles expired reservations against the store.
//   - pkg/metrics exports the Counts gauges.
package ports
