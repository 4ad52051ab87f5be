package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/dkoval/go-worker-pool/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// StatsProvider is the subset of core.Manager the poller needs: a coherent
// counter snapshot. core.Manager satisfies it directly.
type StatsProvider interface {
	Stats() core.Stats
}

// SnapshotPoller periodically exports one or more Managers' Stats()
// snapshots into Prometheus gauges. Unlike MetricsExporter, which reacts to
// individual Manager calls, the poller exists for counters a Manager has no
// natural call site for — pending count, worker count and state all change
// without any single method owning the transition.
type SnapshotPoller struct {
	interval time.Duration

	poolsMu sync.RWMutex
	pools   map[string]StatsProvider

	workerCount         *prom.GaugeVec
	idleWorkerCount     *prom.GaugeVec
	pendingTaskCount    *prom.GaugeVec
	pendingTaskCountMax *prom.GaugeVec
	totalTaskCount      *prom.GaugeVec
	expiredTaskCount    *prom.GaugeVec
	state               *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	workerCount := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workerpool",
		Name:      "snapshot_worker_count",
		Help:      "Worker count per pool, from the latest poll.",
	}, []string{"pool"})
	idleWorkerCount := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workerpool",
		Name:      "snapshot_idle_worker_count",
		Help:      "Idle worker count per pool, from the latest poll.",
	}, []string{"pool"})
	pendingTaskCount := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workerpool",
		Name:      "snapshot_pending_task_count",
		Help:      "Pending task count per pool, from the latest poll.",
	}, []string{"pool"})
	pendingTaskCountMax := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workerpool",
		Name:      "snapshot_pending_task_count_max",
		Help:      "Configured backlog cap per pool (0 means unbounded).",
	}, []string{"pool"})
	totalTaskCount := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workerpool",
		Name:      "snapshot_total_task_count",
		Help:      "Pending plus executing task count per pool, from the latest poll.",
	}, []string{"pool"})
	expiredTaskCount := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workerpool",
		Name:      "snapshot_expired_task_count",
		Help:      "Cumulative expired task count per pool, from the latest poll.",
	}, []string{"pool"})
	state := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "workerpool",
		Name:      "snapshot_state",
		Help:      "Manager lifecycle state per pool (core.ManagerState ordinal), from the latest poll.",
	}, []string{"pool"})

	var err error
	if workerCount, err = registerOrReuse(reg, workerCount); err != nil {
		return nil, err
	}
	if idleWorkerCount, err = registerOrReuse(reg, idleWorkerCount); err != nil {
		return nil, err
	}
	if pendingTaskCount, err = registerOrReuse(reg, pendingTaskCount); err != nil {
		return nil, err
	}
	if pendingTaskCountMax, err = registerOrReuse(reg, pendingTaskCountMax); err != nil {
		return nil, err
	}
	if totalTaskCount, err = registerOrReuse(reg, totalTaskCount); err != nil {
		return nil, err
	}
	if expiredTaskCount, err = registerOrReuse(reg, expiredTaskCount); err != nil {
		return nil, err
	}
	if state, err = registerOrReuse(reg, state); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:            interval,
		pools:               make(map[string]StatsProvider),
		workerCount:         workerCount,
		idleWorkerCount:     idleWorkerCount,
		pendingTaskCount:    pendingTaskCount,
		pendingTaskCountMax: pendingTaskCountMax,
		totalTaskCount:      totalTaskCount,
		expiredTaskCount:    expiredTaskCount,
		state:               state,
	}, nil
}

// AddPool adds or replaces a pool's stats provider by name.
func (p *SnapshotPoller) AddPool(name string, provider StatsProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls while already running are
// no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling and waits for the loop to exit. Safe to call
// more than once.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.poolsMu.RLock()
	defer p.poolsMu.RUnlock()

	for name, provider := range p.pools {
		stats := provider.Stats()
		p.workerCount.WithLabelValues(name).Set(float64(stats.WorkerCount))
		p.idleWorkerCount.WithLabelValues(name).Set(float64(stats.IdleWorkerCount))
		p.pendingTaskCount.WithLabelValues(name).Set(float64(stats.PendingTaskCount))
		p.pendingTaskCountMax.WithLabelValues(name).Set(float64(stats.PendingTaskCountMax))
		p.totalTaskCount.WithLabelValues(name).Set(float64(stats.TotalTaskCount))
		p.expiredTaskCount.WithLabelValues(name).Set(float64(stats.ExpiredTaskCount))
		p.state.WithLabelValues(name).Set(float64(stats.State))
	}
}
