package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/feedscope/feedscope/internal/progress"
)

// PrometheusSink exports run progress via Prometheus. It owns the collectors
// for runs started/completed/running, per-status-class page fetches and
// record throughput.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runRuntime    *prometheus.HistogramVec

	pagesFetched  *prometheus.CounterVec
	pageDuration  *prometheus.HistogramVec
	recordsFolded prometheus.Counter
	recordErrors  prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedscope_runs_started_total",
			Help: "Total analysis runs started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedscope_runs_completed_total",
			Help: "Total runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "feedscope_runs_running",
			Help: "Current number of live runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedscope_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "feedscope_pages_fetched_total",
			Help: "Page fetch completions partitioned by status class.",
		}, []string{"status_class"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedscope_page_fetch_duration_seconds",
			Help:    "Page fetch duration partitioned by status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"status_class"}),
		recordsFolded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedscope_records_total",
			Help: "Publication records folded into summaries.",
		}),
		recordErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "feedscope_record_errors_total",
			Help: "Record-level analysis and validation failures.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runRuntime,
		s.pagesFetched,
		s.pageDuration,
		s.recordsFolded,
		s.recordErrors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageStarted:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StagePageFetched:
		class := evt.StatusClass
		if class == "" {
			class = "none"
		}
		s.pagesFetched.WithLabelValues(class).Inc()
		if evt.Dur > 0 {
			s.pageDuration.WithLabelValues(class).Observe(evt.Dur.Seconds())
		}
	case progress.StagePageError:
		class := evt.StatusClass
		if class == "" {
			class = "none"
		}
		s.pagesFetched.WithLabelValues(class).Inc()
	case progress.StagePageProcessing:
		if evt.Records > 0 {
			s.recordsFolded.Add(float64(evt.Records))
		}
	case progress.StageRecordError:
		s.recordErrors.Inc()
	case progress.StageComplete:
		result := "success"
		if evt.Summary != nil && evt.Summary.Canceled {
			result = "canceled"
		}
		s.finishRun(evt, result)
	case progress.StageFatalError:
		s.finishRun(evt, "error")
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[uuid.UUID]struct{})}
}

func (t *runTracker) start(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
