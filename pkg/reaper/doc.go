// Package reaper enforces instance deadlines.
//
// A single loop sweeps on a fixed interval (and once at startup). Each
// sweep stops every instance whose expiry has passed, marks the row
// Stopped, and then releases expired port reservations that no Running
// instance claims anymore. The second pass is what recovers ports
// leaked by a crash between reservation and persistence.
//
// Sweeps are idempotent and per-instance failures never abort the
// sweep, so the reaper can run beside the gateway or as its own
// process without coordination beyond the shared store and pool.
package reaper
