package forest

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "worldstate"

// Metrics tracks forest activity. Counters are process-local until
// registered with a prometheus.Registerer.
type Metrics struct {
	reads          prometheus.Counter
	writes         prometheus.Counter
	commits        prometheus.Counter
	commitFailures prometheus.Counter
	rollbacks      prometheus.Counter
	commitLatency  prometheus.Histogram
	dirtyTrees     prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      name,
		Help:      help,
	})
}

// NewMetrics creates the forest metrics and registers them with reg if it
// is not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		reads:          newCounter("reads_total", "Number of get, root, size and hash path calls"),
		writes:         newCounter("writes_total", "Number of leaves written"),
		commits:        newCounter("commits_total", "Number of successful commits"),
		commitFailures: newCounter("commit_failures_total", "Number of commits rejected by the store"),
		rollbacks:      newCounter("rollbacks_total", "Number of rollbacks that discarded pending writes"),
		commitLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "commit_duration_seconds",
			Help:      "Latency of a successful commit",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		dirtyTrees: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "dirty_trees",
			Help:      "Number of trees with uncommitted writes",
		}),
	}
	if reg == nil {
		return m, nil
	}
	err := errors.Join(
		reg.Register(m.reads),
		reg.Register(m.writes),
		reg.Register(m.commits),
		reg.Register(m.commitFailures),
		reg.Register(m.rollbacks),
		reg.Register(m.commitLatency),
		reg.Register(m.dirtyTrees),
	)
	return m, err
}

// RecordRead records a read operation.
func (m *Metrics) RecordRead() {
	m.reads.Inc()
}

// RecordWrites records n written leaves.
func (m *Metrics) RecordWrites(n int) {
	m.writes.Add(float64(n))
}

// RecordCommit records a successful commit that started at start.
func (m *Metrics) RecordCommit(start time.Time) {
	m.commits.Inc()
	m.commitLatency.Observe(time.Since(start).Seconds())
}

// RecordCommitFailure records a commit the store rejected.
func (m *Metrics) RecordCommitFailure() {
	m.commitFailures.Inc()
}

// RecordRollback records a rollback of pending writes.
func (m *Metrics) RecordRollback() {
	m.rollbacks.Inc()
}

// SetDirtyTrees sets the number of trees with pending writes.
func (m *Metrics) SetDirtyTrees(n int) {
	m.dirtyTrees.Set(float64(n))
}
