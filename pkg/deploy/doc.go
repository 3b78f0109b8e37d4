// Package deploy orchestrates the instance lifecycle against the
// container engine, the port pool and the store.
//
// # Architecture
//
//	                 ┌──────────────────────────────┐
//	 gateway ──────► │           Deployer           │ ◄────── reaper
//	                 │  (sync.Mutex, single writer) │
//	                 └──────┬────────┬────────┬─────┘
//	                        │        │        │
//	                  ContainerDriver │   *store.Store
//	                  (docker engine) │   (instance rows)
//	                         *ports.Allocator
//	                         (host port pool)
//
// Deploy runs the pipeline: resolve task config (falling back to the
// "_default" entry), reserve a host port (port routing only), build
// the image as ctf-<task>-<uuid>, create the container with the
// hardening policy and either a published host port or traefik router
// labels, start it, and render the user-visible endpoint. The result
// is a draft instance (ID=0, UserID=0) that the gateway persists
// together with the quota check.
//
// # Partial failure
//
// Each pipeline step that fails releases whatever earlier steps
// acquired: a failed build frees the reserved port, a failed start
// removes the created container and frees the port. No user ever sees
// a half-started instance, and the pool-union invariant (every port is
// free or in-use, never neither) holds across crashes because the
// allocator mutations themselves are atomic.
//
// Stop is convergent rather than transactional: engine errors on the
// way down are logged and skipped, the port release is idempotent and
// the row always ends Stopped. Stopping twice is indistinguishable
// from stopping once.
//
// # Serialization
//
// All public methods share one mutex. Concurrent API requests queue;
// the holder may block on engine I/O, making the critical section a
// serial queue. This buys simple reasoning about rollback at the cost
// of deploy throughput, which is acceptable for a challenge service.
//
// # Routing variants
//
// port: the container publishes task.container_port on a reserved
// host port of the default bridge; the endpoint names the public
// domain and that port.
//
// traefik: the container joins the ctf-net network carrying labels
// that declare an HTTP router (Host rule) or TCP router (HostSNI
// rule) keyed by the instance uid; the endpoint names the generated
// <uid>.<traefik_domain> hostname.
package deploy
