// Package metrics exposes Prometheus instrumentation and component
// health for both processes.
//
// # Instruments
//
//	spawnpoint_deploys_total{task,outcome}        deploy attempts
//	spawnpoint_deploy_duration_seconds            request → running
//	spawnpoint_reaped_total                       reaper stops
//	spawnpoint_orphaned_ports_released_total      leaked reservations freed
//	spawnpoint_running_instances                  gauge, polled
//	spawnpoint_ports_free / ports_in_use          gauges, polled
//	spawnpoint_component_up{component}            backend reachability
//	spawnpoint_api_requests_total{method,path,status}
//	spawnpoint_api_request_duration_seconds{method,path}
//
// Counters and histograms are written inline by pkg/deploy, pkg/api
// and pkg/reaper. The gauges are filled by the Collector, which polls
// the store, the port allocator and the container engine on a fixed
// interval and doubles as the component health prober.
//
// # Health
//
// UpdateComponent feeds a process-wide health registry. HealthHandler
// serves it as /healthz (503 once any component reports unhealthy) and
// ReadyHandler as /readyz, which additionally demands that all three
// critical backends (database, redis, docker) have reported in.
//
// # Usage
//
//	collector := metrics.NewCollector(st, alloc, engine, 15*time.Second)
//	collector.Start()
//	defer collector.Stop()
//
//	mux.Handle("GET /metrics", metrics.Handler())
//	mux.HandleFunc("GET /healthz", metrics.HealthHandler())
package metrics
