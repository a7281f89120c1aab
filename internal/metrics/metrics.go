package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "indexer"

// Poll loop states reported through the indexer_state gauge.
var States = []string{
	"idle",
	"determine_range",
	"fetch",
	"decode",
	"write",
	"advance_checkpoint",
	"sleep",
}

// Metrics holds every collector exported by the indexer.
// All collectors are registered on a private registry so tests can build
// independent instances.
type Metrics struct {
	registry *prometheus.Registry

	// Indexing metrics
	EventsIndexed     prometheus.Counter
	PurchasesIndexed  prometheus.Counter
	BlocksProcessed   prometheus.Counter
	DecodeErrors      prometheus.Counter
	CycleErrors       *prometheus.CounterVec
	Retries           *prometheus.CounterVec
	ReorgsDetected    prometheus.Counter
	CurrentBlock      prometheus.Gauge
	ChainHead         prometheus.Gauge
	LagBlocks         prometheus.Gauge
	LastFetchDuration prometheus.Gauge
	LastWriteDuration prometheus.Gauge
	LastCycle         prometheus.Gauge
	State             *prometheus.GaugeVec
	IndexDuration     prometheus.Histogram
	DBWriteDuration   prometheus.Histogram

	// RPC metrics
	RPCRequests        *prometheus.CounterVec
	RPCErrors          *prometheus.CounterVec
	RPCRequestDuration *prometheus.HistogramVec

	// Maintenance metrics
	MaintenanceRuns     *prometheus.CounterVec
	MaintenanceDuration prometheus.Histogram
	DBSize              prometheus.Gauge

	// System metrics
	ComponentHealth *prometheus.GaugeVec
	Uptime          prometheus.Gauge
	Goroutines      prometheus.Gauge

	startTime time.Time
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on a new registry.
func New() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),

		EventsIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_indexed_total",
			Help:      "Total number of raw logs newly stored",
		}),
		PurchasesIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchases_indexed_total",
			Help:      "Total number of decoded purchases newly stored",
		}),
		BlocksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_processed_total",
			Help:      "Total number of blocks covered by committed cycles",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Total number of matching logs that failed to decode",
		}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Total number of deferred cycles by failing stage",
		}, []string{"stage"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Total number of retried operations",
		}, []string{"operation"}),
		ReorgsDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reorgs_detected_total",
			Help:      "Total number of chain reorganizations detected",
		}),
		CurrentBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_block",
			Help:      "Checkpoint height, the last fully indexed block",
		}),
		ChainHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_head",
			Help:      "Latest block height reported by the node",
		}),
		LagBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lag_blocks",
			Help:      "Blocks between the chain head and the checkpoint",
		}),
		LastFetchDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_fetch_duration_seconds",
			Help:      "Duration of the most recent fetch stage",
		}),
		LastWriteDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_write_duration_seconds",
			Help:      "Duration of the most recent write stage",
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp",
			Help:      "Unix time of the most recent completed cycle",
		}),
		State: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state",
			Help:      "Current poll loop state (1 for the active state)",
		}, []string{"state"}),
		IndexDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "index_duration_seconds",
			Help:      "Duration of a full indexing cycle",
			Buckets:   prometheus.DefBuckets,
		}),
		DBWriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_write_duration_seconds",
			Help:      "Duration of batch write transactions",
			Buckets:   prometheus.DefBuckets,
		}),
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "Total number of RPC requests by method",
		}, []string{"method"}),
		RPCErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_errors_total",
			Help:      "Total number of failed RPC requests by method",
		}, []string{"method"}),
		RPCRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "Duration of RPC requests by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		MaintenanceRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "maintenance_runs_total",
			Help:      "Total number of SQLite maintenance runs by outcome",
		}, []string{"status"}),
		MaintenanceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "maintenance_duration_seconds",
			Help:      "Duration of SQLite maintenance runs",
			Buckets:   prometheus.DefBuckets,
		}),
		DBSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_size_bytes",
			Help:      "SQLite database size including WAL and SHM files",
		}),
		ComponentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "component_health",
			Help:      "Component health status (1=healthy, 0=unhealthy)",
		}, []string{"component"}),
		Uptime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Application uptime in seconds",
		}),
		Goroutines: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of active goroutines",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.EventsIndexed,
		m.PurchasesIndexed,
		m.BlocksProcessed,
		m.DecodeErrors,
		m.CycleErrors,
		m.Retries,
		m.ReorgsDetected,
		m.CurrentBlock,
		m.ChainHead,
		m.LagBlocks,
		m.LastFetchDuration,
		m.LastWriteDuration,
		m.LastCycle,
		m.State,
		m.IndexDuration,
		m.DBWriteDuration,
		m.RPCRequests,
		m.RPCErrors,
		m.RPCRequestDuration,
		m.MaintenanceRuns,
		m.MaintenanceDuration,
		m.DBSize,
		m.ComponentHealth,
		m.Uptime,
		m.Goroutines,
	)

	for _, s := range States {
		m.State.WithLabelValues(s).Set(0)
	}

	return m
}

// Registry returns the registry holding all indexer collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetState marks state as the active poll loop state.
func (m *Metrics) SetState(state string) {
	for _, s := range States {
		v := float64(0)
		if s == state {
			v = 1
		}
		m.State.WithLabelValues(s).Set(v)
	}
}

// SetProgress records the checkpoint height and chain head, and the lag between them.
func (m *Metrics) SetProgress(checkpoint, head uint64) {
	m.CurrentBlock.Set(float64(checkpoint))
	m.ChainHead.Set(float64(head))

	lag := float64(0)
	if head > checkpoint {
		lag = float64(head - checkpoint)
	}
	m.LagBlocks.Set(lag)
}

// ObserveFetch records the duration of a fetch stage.
func (m *Metrics) ObserveFetch(d time.Duration) {
	m.LastFetchDuration.Set(d.Seconds())
}

// ObserveWrite records the duration of a write stage.
func (m *Metrics) ObserveWrite(d time.Duration) {
	m.LastWriteDuration.Set(d.Seconds())
	m.DBWriteDuration.Observe(d.Seconds())
}

// ObserveCycle records a completed cycle, empty cycles included.
func (m *Metrics) ObserveCycle(d time.Duration, events, purchases int, blocks uint64) {
	m.IndexDuration.Observe(d.Seconds())
	m.EventsIndexed.Add(float64(events))
	m.PurchasesIndexed.Add(float64(purchases))
	m.BlocksProcessed.Add(float64(blocks))
	m.LastCycle.Set(float64(time.Now().Unix()))
}

// CycleErrorInc counts a deferred cycle by the stage that failed.
func (m *Metrics) CycleErrorInc(stage string) {
	m.CycleErrors.WithLabelValues(stage).Inc()
}

// RetryInc counts one retry of operation.
func (m *Metrics) RetryInc(operation string) {
	m.Retries.WithLabelValues(operation).Inc()
}

// RPCRequest records one RPC call and its outcome.
func (m *Metrics) RPCRequest(method string, d time.Duration, err error) {
	m.RPCRequests.WithLabelValues(method).Inc()
	m.RPCRequestDuration.WithLabelValues(method).Observe(d.Seconds())
	if err != nil {
		m.RPCErrors.WithLabelValues(method).Inc()
	}
}

// ObserveMaintenance records a maintenance run by outcome ("success" or "error").
func (m *Metrics) ObserveMaintenance(status string, d time.Duration, dbSize int64) {
	m.MaintenanceRuns.WithLabelValues(status).Inc()
	m.MaintenanceDuration.Observe(d.Seconds())
	if dbSize > 0 {
		m.DBSize.Set(float64(dbSize))
	}
}

func (m *Metrics) ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	m.ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func (m *Metrics) UpdateSystemMetrics() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
	m.Goroutines.Set(float64(runtime.NumGoroutine()))
}
