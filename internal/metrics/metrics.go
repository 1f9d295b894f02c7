package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// SolveRuns counts finished solver runs by final status
	SolveRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "vrp_solve_runs_total", Help: "Solver runs by final status."},
		[]string{"status"},
	)
	// SolveDuration records wall time of a whole run in seconds
	SolveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "vrp_solve_duration_seconds", Help: "Solver run duration in seconds.", Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300}},
	)
	// Generations counts evolved generations across all runs
	Generations = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "vrp_generations_total", Help: "Generations evolved across all runs."},
	)
	// ActiveRuns is the number of runs currently holding a solver slot
	ActiveRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "vrp_active_runs", Help: "Solver runs currently executing."},
	)
	// BestCost is the best cost of the most recently finished run
	BestCost = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "vrp_last_best_cost", Help: "Best fitness of the most recently finished run."},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers all collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(SolveRuns, SolveDuration, Generations, ActiveRuns, BestCost)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
