// Package metrics defines the instrumentation seam the vector store
// coordinator reports through: a counter per mutating operation, a
// histogram per operation's duration, and a gauge for point-in-time
// totals. No ecosystem metrics exporter appears anywhere in the retrieved
// reference repos, so this is a standard-library-only interface with a
// no-op default — a concrete Sink (Prometheus, StatsD, whatever the
// deployment wants) is expected to be supplied by the embedder, not by
// this package.
package metrics

// Sink receives the coordinator's counters, timings, and gauges. All
// methods must be safe for concurrent use. Observe takes a plain float64 so
// callers decide the unit (seconds, milliseconds, whatever the deployment's
// exporter expects) rather than this package imposing time.Duration.
type Sink interface {
	Counter(name string, delta uint64)
	Observe(name string, v float64)
	Gauge(name string, value float64)
}

// Noop discards everything. It is the default Sink when none is supplied.
type Noop struct{}

func (Noop) Counter(name string, delta uint64) {}
func (Noop) Observe(name string, v float64)    {}
func (Noop) Gauge(name string, value float64)  {}
