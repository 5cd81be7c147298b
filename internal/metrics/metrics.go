package metrics

import (
	"sync"
	"time"
)

// MetricsCollector provides a centralized way to collect and retrieve metrics
type MetricsCollector struct {
	mutex               sync.RWMutex
	counters            map[string]int64
	gauges              map[string]float64
	operationLatencies  map[string][]time.Duration
	startTime           time.Time
	maxHistogramSamples int
}

// Counter metrics
const (
	CounterLinksCreated       = "links_created_total"
	CounterLinksRemoved       = "links_removed_total"
	CounterDuplicateScans     = "duplicate_scans_total"
	CounterConflicts          = "conflicts_total"
	CounterBusyRejections     = "busy_rejections_total"
	CounterUndos              = "undos_total"
	CounterBillAttaches       = "bill_attaches_total"
	CounterBillDetaches       = "bill_detaches_total"
	CounterBillsClosed        = "bills_closed_total"
	CounterStatsRefreshErrors = "statistics_refresh_errors_total"
	CounterAuditPublished     = "audit_records_published_total"
	CounterAuditPublishErrors = "audit_publish_errors_total"
)

// Gauge metrics
const (
	GaugeOpenBills = "open_bills"
)

// Operation names for latency tracking
const (
	OperationLink    = "link"
	OperationUnlink  = "unlink"
	OperationAttach  = "attach"
	OperationDetach  = "detach"
	OperationUndo    = "undo"
	OperationRefresh = "statistics_refresh"
)

var (
	collector     *MetricsCollector
	collectorOnce sync.Once
)

// GetMetricsCollector returns the shared metrics collector
func GetMetricsCollector() *MetricsCollector {
	collectorOnce.Do(func() {
		collector = NewMetricsCollector()
	})
	return collector
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:            make(map[string]int64),
		gauges:              make(map[string]float64),
		operationLatencies:  make(map[string][]time.Duration),
		startTime:           time.Now(),
		maxHistogramSamples: 1000,
	}
}

// Increment increments a counter by one
func (m *MetricsCollector) Increment(counter string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.counters[counter]++
}

// SetGauge sets a gauge value
func (m *MetricsCollector) SetGauge(gauge string, value float64) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.gauges[gauge] = value
}

// RecordOperation records the latency of a named operation
func (m *MetricsCollector) RecordOperation(operation string, duration time.Duration) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	samples := m.operationLatencies[operation]
	if len(samples) >= m.maxHistogramSamples {
		samples = samples[1:]
	}
	m.operationLatencies[operation] = append(samples, duration)
}

// Snapshot returns a point-in-time view of all metrics for the /metrics endpoint
func (m *MetricsCollector) Snapshot() map[string]interface{} {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}

	gauges := make(map[string]float64, len(m.gauges))
	for k, v := range m.gauges {
		gauges[k] = v
	}

	latencies := make(map[string]map[string]interface{}, len(m.operationLatencies))
	for op, samples := range m.operationLatencies {
		if len(samples) == 0 {
			continue
		}
		var total time.Duration
		max := samples[0]
		for _, d := range samples {
			total += d
			if d > max {
				max = d
			}
		}
		latencies[op] = map[string]interface{}{
			"count":  len(samples),
			"avg_ms": float64(total.Milliseconds()) / float64(len(samples)),
			"max_ms": max.Milliseconds(),
		}
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"counters":       counters,
		"gauges":         gauges,
		"latencies":      latencies,
	}
}
