package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Deployment metrics
	DeploysTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spawnpoint_deploys_total",
			Help: "Total number of deploy attempts by task and outcome",
		},
		[]string{"task", "outcome"},
	)

	DeployDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spawnpoint_deploy_duration_seconds",
			Help:    "Time from deploy request to running container in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	ReapedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spawnpoint_reaped_total",
			Help: "Total number of instances stopped by the reaper",
		},
	)

	OrphanedPortsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "spawnpoint_orphaned_ports_released_total",
			Help: "Total number of expired port reservations released without a running instance",
		},
	)

	// Pool and store gauges, polled by the Collector
	RunningInstances = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spawnpoint_running_instances",
			Help: "Number of instances currently in Running state",
		},
	)

	PortsFree = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spawnpoint_ports_free",
			Help: "Number of host ports in the free pool",
		},
	)

	PortsInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "spawnpoint_ports_in_use",
			Help: "Number of host ports currently reserved",
		},
	)

	ComponentUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "spawnpoint_component_up",
			Help: "Whether a backing component is reachable (1 = up, 0 = down)",
		},
		[]string{"component"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spawnpoint_api_requests_total",
			Help: "Total number of API requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "spawnpoint_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(DeploysTotal)
	prometheus.MustRegister(DeployDuration)
	prometheus.MustRegister(ReapedTotal)
	prometheus.MustRegister(OrphanedPortsReleased)
	prometheus.MustRegister(RunningInstances)
	prometheus.MustRegister(PortsFree)
	prometheus.MustRegister(PortsInUse)
	prometheus.MustRegister(ComponentUp)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
