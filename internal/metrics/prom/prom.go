// Package prom adapts CrabCache's store.Metrics and the executor/WAL
// counters to Prometheus collectors, widened from a prior four-counter
// design (hits/misses/evicts/size) to a larger set covering admission
// rejections, expirations, WAL batches and fsyncs, and overload/read-only
// transitions. The registry is kept
// in-process only: spec.md's Non-goals explicitly exclude an HTTP/
// Prometheus exposition surface, so nothing here ever serves /metrics —
// internal/metrics.Render reads these same numbers back out for the
// CMD_STATS payload instead.
package prom

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crabcache/crabcache/internal/metrics"
	"github.com/crabcache/crabcache/internal/store"
)

// Adapter implements store.Metrics and exports Prometheus counters/gauges,
// plus a handful of WAL/executor counters the store interface doesn't
// carry (WALBatch, WALFsync, WALOverloaded, WALReadOnlyTransition).
type Adapter struct {
	hits              prometheus.Counter
	misses            prometheus.Counter
	evicts            *prometheus.CounterVec
	admissionRejected prometheus.Counter
	expired           prometheus.Counter
	sizeEntries       prometheus.Gauge
	sizeBytes         prometheus.Gauge

	walBatches       prometheus.Counter
	walFsyncs        prometheus.Counter
	walOverloaded    prometheus.Counter
	walReadOnlyFlips prometheus.Counter

	// Mirrored atomic counters: reading a Prometheus Counter's value back
	// out requires the collector's wire-format Write path, which is too
	// heavy for rendering a CMD_STATS line on every request. These track
	// the same events for Snapshot's cheap read.
	atomHits, atomMisses, atomAdmissionRejected, atomExpired uint64
	atomEntries, atomUsedBytes                               int64
}

// Snapshot reads the adapter's counters without touching Prometheus's
// collection path (reading a Prometheus Counter's value back out requires
// the collector's wire-format Write path, too heavy for rendering a
// CMD_STATS line on every request — these mirrored atomics are cheap to
// read instead). Satisfies the narrow interface internal/executor uses to
// fill out a metrics.Source.
func (a *Adapter) Snapshot() metrics.Counters {
	return metrics.Counters{
		Hits:              atomic.LoadUint64(&a.atomHits),
		Misses:            atomic.LoadUint64(&a.atomMisses),
		AdmissionRejected: atomic.LoadUint64(&a.atomAdmissionRejected),
		Expired:           atomic.LoadUint64(&a.atomExpired),
	}
}

// New constructs a Prometheus metrics adapter.
//   - reg:         registry to register metrics with (nil => a fresh private registry)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "hits_total",
			Help: "Cache hits", ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "misses_total",
			Help: "Cache misses", ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "evictions_total",
			Help: "Cache evictions by reason", ConstLabels: constLabels,
		}, []string{"reason"}),
		admissionRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "admission_rejected_total",
			Help: "Writes rejected by the TinyLFU admission filter", ConstLabels: constLabels,
		}),
		expired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "expired_total",
			Help: "Entries removed for having exceeded their TTL", ConstLabels: constLabels,
		}),
		sizeEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "size_entries",
			Help: "Number of resident entries", ConstLabels: constLabels,
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub, Name: "size_bytes",
			Help: "Total resident byte accounting", ConstLabels: constLabels,
		}),
		walBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "wal_batches_total",
			Help: "WAL batches appended", ConstLabels: constLabels,
		}),
		walFsyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "wal_fsyncs_total",
			Help: "WAL fsync calls, after group-commit coalescing", ConstLabels: constLabels,
		}),
		walOverloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "wal_overloaded_total",
			Help: "Batches rejected because the WAL queue was full", ConstLabels: constLabels,
		}),
		walReadOnlyFlips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub, Name: "wal_read_only_transitions_total",
			Help: "Times the server entered read-only mode after a WAL write failure", ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.admissionRejected, a.expired,
		a.sizeEntries, a.sizeBytes, a.walBatches, a.walFsyncs, a.walOverloaded, a.walReadOnlyFlips)
	return a
}

func (a *Adapter) Hit()  { a.hits.Inc(); atomic.AddUint64(&a.atomHits, 1) }
func (a *Adapter) Miss() { a.misses.Inc(); atomic.AddUint64(&a.atomMisses, 1) }
func (a *Adapter) AdmissionRejected() {
	a.admissionRejected.Inc()
	atomic.AddUint64(&a.atomAdmissionRejected, 1)
}
func (a *Adapter) Expired() { a.expired.Inc(); atomic.AddUint64(&a.atomExpired, 1) }

func (a *Adapter) Evict(r store.EvictReason) {
	a.evicts.WithLabelValues(r.String()).Inc()
}

func (a *Adapter) Size(usedBytes int64, entries int) {
	a.sizeEntries.Set(float64(entries))
	a.sizeBytes.Set(float64(usedBytes))
	atomic.StoreInt64(&a.atomEntries, int64(entries))
	atomic.StoreInt64(&a.atomUsedBytes, usedBytes)
}

// WALBatch records one AppendBatch call regardless of outcome.
func (a *Adapter) WALBatch() { a.walBatches.Inc() }

// WALFsync records one actual fsync, i.e. one GroupCommit leader round.
func (a *Adapter) WALFsync() { a.walFsyncs.Inc() }

// WALOverloaded records a batch rejected for a full WAL queue.
func (a *Adapter) WALOverloaded() { a.walOverloaded.Inc() }

// WALReadOnlyTransition records the server flipping into read-only mode.
func (a *Adapter) WALReadOnlyTransition() { a.walReadOnlyFlips.Inc() }

// Compile-time check: ensure Adapter implements store.Metrics.
var _ store.Metrics = (*Adapter)(nil)
