package threadstate

import (
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"

	"threadkit/internal/logger"
	"threadkit/internal/thread"
)

// Source is the part of the thread registry the collector reads from.
type Source interface {
	Stats() thread.Stats
	Threads() []thread.ThreadInfo
	PendingExternal() int
}

// Pool reports worker pool activity. It is optional.
type Pool interface {
	Processed() uint64
	Workers() int
	Paused() bool
}

// ThreadStateCollector implements prometheus.Collector for the thread registry
// and its local storage bookkeeping. All values are read at scrape time.
type ThreadStateCollector struct {
	source Source
	pool   Pool
	log    log.Logger

	// Metric Descriptors
	threadsDesc             *prometheus.Desc
	suspendedDepthDesc      *prometheus.Desc
	threadsCreatedDesc      *prometheus.Desc
	threadsTerminatedDesc   *prometheus.Desc
	externalAdoptedDesc     *prometheus.Desc
	externalReapedDesc      *prometheus.Desc
	externalPendingDesc     *prometheus.Desc
	payloadsAllocatedDesc   *prometheus.Desc
	payloadsDeallocatedDesc *prometheus.Desc
	storagesLiveDesc        *prometheus.Desc
	storageEntriesDesc      *prometheus.Desc
	poolJobsDesc            *prometheus.Desc
	poolWorkersDesc         *prometheus.Desc
	poolPausedDesc          *prometheus.Desc
}

// NewThreadStateCollector creates a collector over src. pool may be nil.
func NewThreadStateCollector(src Source, pool Pool) *ThreadStateCollector {
	return &ThreadStateCollector{
		source: src,
		pool:   pool,
		log:    logger.NewLoggerWithContext("threadstate_collector"),

		threadsDesc: prometheus.NewDesc(
			"threadkit_threads",
			"Number of registered threads by lifecycle state and ownership.",
			[]string{"state", "ownership"}, nil,
		),
		suspendedDepthDesc: prometheus.NewDesc(
			"threadkit_suspend_count_max",
			"Largest suspend count among registered threads.",
			nil, nil,
		),
		threadsCreatedDesc: prometheus.NewDesc(
			"threadkit_threads_created_total",
			"Total number of managed threads created.",
			nil, nil,
		),
		threadsTerminatedDesc: prometheus.NewDesc(
			"threadkit_threads_terminated_total",
			"Total number of threads whose termination cleanup has run.",
			nil, nil,
		),
		externalAdoptedDesc: prometheus.NewDesc(
			"threadkit_external_threads_adopted_total",
			"Total number of threads not created by the library that were adopted on first use.",
			nil, nil,
		),
		externalReapedDesc: prometheus.NewDesc(
			"threadkit_external_threads_reaped_total",
			"Total number of adopted threads reaped by housekeeping after they exited.",
			nil, nil,
		),
		externalPendingDesc: prometheus.NewDesc(
			"threadkit_external_threads_pending",
			"Adopted threads waiting to be reaped.",
			nil, nil,
		),
		payloadsAllocatedDesc: prometheus.NewDesc(
			"threadkit_local_payloads_allocated_total",
			"Total number of thread-local payloads allocated.",
			nil, nil,
		),
		payloadsDeallocatedDesc: prometheus.NewDesc(
			"threadkit_local_payloads_deallocated_total",
			"Total number of thread-local payloads deallocated.",
			nil, nil,
		),
		storagesLiveDesc: prometheus.NewDesc(
			"threadkit_local_storages",
			"Number of thread-local storages that have not been destroyed.",
			nil, nil,
		),
		storageEntriesDesc: prometheus.NewDesc(
			"threadkit_local_entries",
			"Number of storage entries held by registered threads, by ownership.",
			[]string{"ownership"}, nil,
		),
		poolJobsDesc: prometheus.NewDesc(
			"threadkit_worker_jobs_total",
			"Total number of jobs run by the worker pool.",
			nil, nil,
		),
		poolWorkersDesc: prometheus.NewDesc(
			"threadkit_workers",
			"Number of worker threads in the pool.",
			nil, nil,
		),
		poolPausedDesc: prometheus.NewDesc(
			"threadkit_workers_paused",
			"1 if the worker pool is paused.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *ThreadStateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.threadsDesc
	ch <- c.suspendedDepthDesc
	ch <- c.threadsCreatedDesc
	ch <- c.threadsTerminatedDesc
	ch <- c.externalAdoptedDesc
	ch <- c.externalReapedDesc
	ch <- c.externalPendingDesc
	ch <- c.payloadsAllocatedDesc
	ch <- c.payloadsDeallocatedDesc
	ch <- c.storagesLiveDesc
	ch <- c.storageEntriesDesc
	if c.pool != nil {
		ch <- c.poolJobsDesc
		ch <- c.poolWorkersDesc
		ch <- c.poolPausedDesc
	}
}

type stateKey struct {
	state     thread.State
	ownership thread.Ownership
}

// Collect implements prometheus.Collector.
func (c *ThreadStateCollector) Collect(ch chan<- prometheus.Metric) {
	threads := c.source.Threads()

	counts := make(map[stateKey]int)
	entries := make(map[thread.Ownership]int)
	maxDepth := 0
	for _, info := range threads {
		counts[stateKey{info.State, info.Ownership}]++
		if info.Locals > 0 {
			entries[info.Ownership] += info.Locals
		}
		if info.SuspendCount > maxDepth {
			maxDepth = info.SuspendCount
		}
	}

	for key, n := range counts {
		ch <- prometheus.MustNewConstMetric(
			c.threadsDesc,
			prometheus.GaugeValue,
			float64(n),
			key.state.String(),
			key.ownership.String(),
		)
	}
	for ownership, n := range entries {
		ch <- prometheus.MustNewConstMetric(c.storageEntriesDesc, prometheus.GaugeValue, float64(n), ownership.String())
	}
	ch <- prometheus.MustNewConstMetric(c.suspendedDepthDesc, prometheus.GaugeValue, float64(maxDepth))

	st := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.threadsCreatedDesc, prometheus.CounterValue, float64(st.ThreadsCreated))
	ch <- prometheus.MustNewConstMetric(c.threadsTerminatedDesc, prometheus.CounterValue, float64(st.ThreadsTerminated))
	ch <- prometheus.MustNewConstMetric(c.externalAdoptedDesc, prometheus.CounterValue, float64(st.ExternalAdopted))
	ch <- prometheus.MustNewConstMetric(c.externalReapedDesc, prometheus.CounterValue, float64(st.ExternalReaped))
	ch <- prometheus.MustNewConstMetric(c.externalPendingDesc, prometheus.GaugeValue, float64(c.source.PendingExternal()))
	ch <- prometheus.MustNewConstMetric(c.payloadsAllocatedDesc, prometheus.CounterValue, float64(st.PayloadsAllocated))
	ch <- prometheus.MustNewConstMetric(c.payloadsDeallocatedDesc, prometheus.CounterValue, float64(st.PayloadsDeallocated))
	ch <- prometheus.MustNewConstMetric(c.storagesLiveDesc, prometheus.GaugeValue, float64(st.LiveStorages()))

	if c.pool != nil {
		paused := 0.0
		if c.pool.Paused() {
			paused = 1
		}
		ch <- prometheus.MustNewConstMetric(c.poolJobsDesc, prometheus.CounterValue, float64(c.pool.Processed()))
		ch <- prometheus.MustNewConstMetric(c.poolWorkersDesc, prometheus.GaugeValue, float64(c.pool.Workers()))
		ch <- prometheus.MustNewConstMetric(c.poolPausedDesc, prometheus.GaugeValue, paused)
	}

	c.log.Trace().Int("threads", len(threads)).Msg("Collected thread metrics")
}
