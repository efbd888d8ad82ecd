// Package stats wraps github.com/armon/go-metrics for the counters and
// timers an operator watches on a running index (spec §3's corpus stats
// plus the query/compaction activity spec.md doesn't itself define a
// wire format for): query latency, BM25 blocks skipped by block-max WAND
// pruning, and spill/compaction counts.
//
// Grounded on heroiclabs-nakama's own `main.go` metrics bootstrap
// (`metrics.NewInmemSink` + `metrics.FanoutSink` + `metrics.NewGlobal`),
// the only place in the pack armon/go-metrics is actually wired in.
package stats

import (
	"sync"
	"time"

	"github.com/armon/go-metrics"
)

var globalOnce sync.Once

// Recorder records index activity into one armon/go-metrics instance. A
// nil *Recorder is valid and records nothing, so callers that don't want
// metrics (most tests) can simply omit it.
type Recorder struct {
	m *metrics.Metrics
}

// New registers an in-memory metrics sink the way the teacher's main.go
// does at startup (a 10s-resolution, 1-minute-retention InmemSink fanned
// out to any additional sinks the host configures) and returns a Recorder
// bound to it.
func New(extraSinks ...metrics.MetricSink) (*Recorder, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	fanout := metrics.FanoutSink(append([]metrics.MetricSink{sink}, extraSinks...))

	var m *metrics.Metrics
	var err error
	globalOnce.Do(func() {
		m, err = metrics.NewGlobal(&metrics.Config{
			ServiceName:          "tapi",
			EnableRuntimeMetrics: false,
			TimerGranularity:     time.Millisecond,
		}, fanout)
	})
	if m == nil {
		// A second call in the same process can't re-register the
		// global sink; fall back to a private, non-global instance so
		// tests constructing more than one Recorder still work.
		m, err = metrics.New(&metrics.Config{ServiceName: "tapi", TimerGranularity: time.Millisecond}, fanout)
	}
	if err != nil {
		return nil, err
	}
	return &Recorder{m: m}, nil
}

// QueryLatency records how long one Scan call took.
func (r *Recorder) QueryLatency(start time.Time) {
	if r == nil {
		return
	}
	r.m.MeasureSince([]string{"tapi", "query", "latency_ms"}, start)
}

// BlocksSkipped records how many posting blocks block-max WAND pruned
// without decoding during one Scan call.
func (r *Recorder) BlocksSkipped(n int) {
	if r == nil || n == 0 {
		return
	}
	r.m.IncrCounter([]string{"tapi", "query", "blocks_skipped"}, float32(n))
}

// BlocksScored records how many posting blocks were actually decoded and
// scored during one Scan call, the complement of BlocksSkipped.
func (r *Recorder) BlocksScored(n int) {
	if r == nil || n == 0 {
		return
	}
	r.m.IncrCounter([]string{"tapi", "query", "blocks_scored"}, float32(n))
}

// Spill records one memtable spill to a new L0 segment.
func (r *Recorder) Spill() {
	if r == nil {
		return
	}
	r.m.IncrCounter([]string{"tapi", "spill", "count"}, 1)
}

// Compaction records one level's merge into the next, tagged by the
// source level.
func (r *Recorder) Compaction(level int) {
	if r == nil {
		return
	}
	r.m.IncrCounterWithLabels([]string{"tapi", "compaction", "count"}, 1, []metrics.Label{
		{Name: "level", Value: levelLabel(level)},
	})
}

func levelLabel(level int) string {
	const digits = "0123456789"
	if level < 0 || level >= len(digits) {
		return "n"
	}
	return digits[level : level+1]
}
