// Package prometheus adapts core.Manager's observability surface — the
// Metrics interface and the Stats() snapshot — to Prometheus collectors.
package prometheus

import (
	"errors"
	"fmt"

	"github.com/dkoval/go-worker-pool/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// ExporterOptions controls collector configuration.
type ExporterOptions struct {
	DurationBuckets []float64
}

// MetricsExporter adapts core.Metrics to Prometheus collectors, so a
// Manager's per-call signals (task finished, task rejected, queue depth
// changed) become scrapeable counters/gauges. One exporter is meant to back
// one Manager; construct another, with a different pool name, per Manager
// if a process runs several.
type MetricsExporter struct {
	taskDurationSeconds prom.Histogram
	taskPanicTotal      prom.Counter
	taskRejectedTotal   *prom.CounterVec
	expiredTaskTotal    prom.Counter
	queueDepth          prom.Gauge
	workerCount         *prom.GaugeVec
}

var _ core.Metrics = (*MetricsExporter)(nil)

// NewMetricsExporter creates and registers Prometheus collectors labeled
// with pool, adapting a single core.Manager's Metrics calls.
func NewMetricsExporter(pool string, reg prom.Registerer, opts ExporterOptions) (*MetricsExporter, error) {
	if pool == "" {
		pool = "default"
	}
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	buckets := opts.DurationBuckets
	if len(buckets) == 0 {
		buckets = prom.DefBuckets
	}
	constLabels := prom.Labels{"pool": pool}

	duration := prom.NewHistogram(prom.HistogramOpts{
		Namespace:   "workerpool",
		Name:        "task_duration_seconds",
		Help:        "Task execution duration in seconds.",
		Buckets:     buckets,
		ConstLabels: constLabels,
	})
	taskPanic := prom.NewCounter(prom.CounterOpts{
		Namespace:   "workerpool",
		Name:        "task_panic_total",
		Help:        "Total number of task panics recovered by a worker.",
		ConstLabels: constLabels,
	})
	rejected := prom.NewCounterVec(prom.CounterOpts{
		Namespace:   "workerpool",
		Name:        "task_rejected_total",
		Help:        "Total number of tasks Add refused to enqueue.",
		ConstLabels: constLabels,
	}, []string{"reason"})
	expired := prom.NewCounter(prom.CounterOpts{
		Namespace:   "workerpool",
		Name:        "task_expired_total",
		Help:        "Total number of tasks dropped for expiration, at dequeue time or by a sweep.",
		ConstLabels: constLabels,
	})
	queueDepth := prom.NewGauge(prom.GaugeOpts{
		Namespace:   "workerpool",
		Name:        "queue_depth",
		Help:        "Current pending task count.",
		ConstLabels: constLabels,
	})
	workers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace:   "workerpool",
		Name:        "workers",
		Help:        "Current worker count, split by state.",
		ConstLabels: constLabels,
	}, []string{"state"})

	var err error
	if duration, err = registerOrReuse(reg, duration); err != nil {
		return nil, err
	}
	if taskPanic, err = registerOrReuse(reg, taskPanic); err != nil {
		return nil, err
	}
	if rejected, err = registerOrReuse(reg, rejected); err != nil {
		return nil, err
	}
	if expired, err = registerOrReuse(reg, expired); err != nil {
		return nil, err
	}
	if queueDepth, err = registerOrReuse(reg, queueDepth); err != nil {
		return nil, err
	}
	if workers, err = registerOrReuse(reg, workers); err != nil {
		return nil, err
	}

	return &MetricsExporter{
		taskDurationSeconds: duration,
		taskPanicTotal:      taskPanic,
		taskRejectedTotal:   rejected,
		expiredTaskTotal:    expired,
		queueDepth:          queueDepth,
		workerCount:         workers,
	}, nil
}

// RecordTaskDuration implements core.Metrics.
func (m *MetricsExporter) RecordTaskDuration(seconds float64) {
	if m == nil {
		return
	}
	m.taskDurationSeconds.Observe(seconds)
}

// RecordTaskPanic implements core.Metrics.
func (m *MetricsExporter) RecordTaskPanic() {
	if m == nil {
		return
	}
	m.taskPanicTotal.Inc()
}

// RecordQueueDepth implements core.Metrics.
func (m *MetricsExporter) RecordQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// RecordWorkerCount implements core.Metrics.
func (m *MetricsExporter) RecordWorkerCount(workers, idle int) {
	if m == nil {
		return
	}
	m.workerCount.WithLabelValues("total").Set(float64(workers))
	m.workerCount.WithLabelValues("idle").Set(float64(idle))
}

// RecordExpiredTask implements core.Metrics.
func (m *MetricsExporter) RecordExpiredTask() {
	if m == nil {
		return
	}
	m.expiredTaskTotal.Inc()
}

// RecordTaskRejected implements core.Metrics.
func (m *MetricsExporter) RecordTaskRejected(reason string) {
	if m == nil {
		return
	}
	m.taskRejectedTotal.WithLabelValues(normalizeLabel(reason, "unknown")).Inc()
}

func normalizeLabel(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// registerOrReuse registers collector with reg, or, if an equivalent
// collector (same name and same const label values) is already registered —
// the case when a process builds two MetricsExporters with the same pool
// name against one Registry — hands back the one already there instead of
// failing. Exporters with different pool names differ in their const
// labels and register separately. Multiple exporters can then coexist on a shared
// Registry without each caller needing its own registration bookkeeping.
func registerOrReuse[T prom.Collector](reg prom.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err == nil {
		return collector, nil
	} else if dup, ok := asAlreadyRegistered(err); ok {
		existing, ok := dup.ExistingCollector.(T)
		if !ok {
			var zero T
			return zero, fmt.Errorf("prometheus: existing collector for %T has a different type", collector)
		}
		return existing, nil
	} else {
		var zero T
		return zero, err
	}
}

func asAlreadyRegistered(err error) (prom.AlreadyRegisteredError, bool) {
	var dup prom.AlreadyRegisteredError
	return dup, errors.As(err, &dup)
}
