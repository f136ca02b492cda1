package httpapi

import (
	"net/http"
	"sync"
	"time"

	"ethledger/internal/application"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "ethledger"

// Metrics records ingestion progress twice: as Prometheus collectors on a
// private registry and as an in-memory snapshot for /status.
type Metrics struct {
	registry *prometheus.Registry

	blocksTotal        prometheus.Counter
	transactionsTotal  *prometheus.CounterVec
	skippedReceipts    prometheus.Counter
	confirmedTotal     prometheus.Counter
	publishFailures    *prometheus.CounterVec
	lastBlock          prometheus.Gauge
	blockWaitSeconds   prometheus.Histogram
	blockProcessSecond prometheus.Histogram

	mu              sync.RWMutex
	startTime       time.Time
	lastProcessed   uint64
	hasProcessed    bool
	lastProcessedAt time.Time
	blocks          uint64
	tokenTxns       uint64
	totalTxns       uint64
	publishErrs     uint64
}

var _ application.IngestObserver = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry:  prometheus.NewRegistry(),
		startTime: time.Now(),
		blocksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingester",
			Name:      "blocks_total",
			Help:      "Blocks committed to the ledger.",
		}),
		transactionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingester",
			Name:      "transactions_total",
			Help:      "Transactions committed to the ledger by kind.",
		}, []string{"kind"}),
		skippedReceipts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingester",
			Name:      "skipped_receipts_total",
			Help:      "Candidate receipts that were missing or undecodable.",
		}),
		confirmedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingester",
			Name:      "confirmed_transactions_total",
			Help:      "Transactions marked confirmed by the trailing sweep.",
		}),
		publishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingester",
			Name:      "publish_failures_total",
			Help:      "Ledger events that could not be published.",
		}, []string{"event"}),
		lastBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingester",
			Name:      "last_block",
			Help:      "Highest block committed by this process.",
		}),
		blockWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingester",
			Name:      "block_wait_seconds",
			Help:      "Time spent waiting for the next block to be available.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		blockProcessSecond: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "ingester",
			Name:      "block_process_seconds",
			Help:      "Time from block availability to ledger commit.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.blocksTotal,
		m.transactionsTotal,
		m.skippedReceipts,
		m.confirmedTotal,
		m.publishFailures,
		m.lastBlock,
		m.blockWaitSeconds,
		m.blockProcessSecond,
	)
	return m
}

func (m *Metrics) OnBlockProcessed(stats application.BlockStats) {
	m.blocksTotal.Inc()
	m.transactionsTotal.WithLabelValues("token").Add(float64(stats.TokenTxns))
	m.transactionsTotal.WithLabelValues("plain").Add(float64(stats.TotalTxns - stats.TokenTxns))
	m.skippedReceipts.Add(float64(stats.SkippedReceipts))
	m.confirmedTotal.Add(float64(stats.Confirmed))
	m.lastBlock.Set(float64(stats.Number))
	m.blockWaitSeconds.Observe(stats.WaitTime.Seconds())
	m.blockProcessSecond.Observe(stats.ProcessTime.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastProcessed = stats.Number
	m.hasProcessed = true
	m.lastProcessedAt = time.Now()
	m.blocks++
	m.totalTxns += uint64(stats.TotalTxns)
	m.tokenTxns += uint64(stats.TokenTxns)
}

func (m *Metrics) OnPublishFailed(event string) {
	m.publishFailures.WithLabelValues(event).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishErrs++
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

type Snapshot struct {
	StartTime       time.Time
	LastProcessed   uint64
	HasProcessed    bool
	LastProcessedAt time.Time
	Blocks          uint64
	TotalTxns       uint64
	TokenTxns       uint64
	PublishErrors   uint64
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		StartTime:       m.startTime,
		LastProcessed:   m.lastProcessed,
		HasProcessed:    m.hasProcessed,
		LastProcessedAt: m.lastProcessedAt,
		Blocks:          m.blocks,
		TotalTxns:       m.totalTxns,
		TokenTxns:       m.tokenTxns,
		PublishErrors:   m.publishErrs,
	}
}
