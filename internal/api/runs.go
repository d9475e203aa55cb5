package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedscope/feedscope/internal/aggregate"
	"github.com/feedscope/feedscope/internal/cache"
	"github.com/feedscope/feedscope/internal/config"
	"github.com/feedscope/feedscope/internal/crawl"
	"github.com/feedscope/feedscope/internal/logging"
	"github.com/feedscope/feedscope/internal/metrics"
	"github.com/feedscope/feedscope/internal/progress"
	"github.com/feedscope/feedscope/internal/progress/sinks"
	"github.com/feedscope/feedscope/internal/transport"
)

// RunStatus is the lifecycle state of a managed run.
type RunStatus string

const (
	RunRunning  RunStatus = "running"
	RunComplete RunStatus = "complete"
	RunCanceled RunStatus = "canceled"
	RunFailed   RunStatus = "failed"
)

// defaultMaxRetained bounds how many finished runs stay pollable.
const defaultMaxRetained = 128

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// ErrStreamClaimed is returned when a run's event stream already has its one
// subscriber.
var ErrStreamClaimed = errors.New("event stream already claimed")

// StartRequest is the run submission payload.
type StartRequest struct {
	FeedURL   string `json:"feed_url"`
	Dialect   string `json:"dialect,omitempty"`
	PageCap   int    `json:"page_cap,omitempty"`
	Workers   int    `json:"workers,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	UseCache  bool   `json:"use_cache,omitempty"`
}

// RunInfo is the public view of a managed run.
type RunInfo struct {
	ID        string    `json:"run_id"`
	FeedURL   string    `json:"feed_url"`
	Status    RunStatus `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Error     string    `json:"error,omitempty"`
}

type run struct {
	mu        sync.Mutex
	info      RunInfo
	cancel    context.CancelFunc
	stream    *progress.StreamSink
	claimed   bool
	summary   *aggregate.Summary
	runErr    error
	done      chan struct{}
}

// Manager owns the lifecycle of API-submitted runs: one engine per run, one
// stream subscriber per run, summaries recorded in the shared cache.
type Manager struct {
	cfg     config.Config
	cache   *cache.Store
	metrics *metrics.Metrics
	log     *zap.Logger

	logSink  progress.Sink
	promSink progress.Sink

	// Terminal runs are retained for result polling, oldest-first evicted
	// beyond maxRetained so a long-lived process stays bounded.
	maxRetained int

	mu       sync.Mutex
	runs     map[string]*run
	finished []string
}

// NewManager wires the shared sinks and cache.
func NewManager(cfg config.Config, store *cache.Store, m *metrics.Metrics, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	mgr := &Manager{
		cfg:         cfg,
		cache:       store,
		metrics:     m,
		log:         log,
		logSink:     sinks.NewLogSink(log),
		maxRetained: defaultMaxRetained,
		runs:        map[string]*run{},
	}
	if m != nil {
		promSink, err := sinks.NewPrometheusSink(m.Registry())
		if err != nil {
			return nil, err
		}
		mgr.promSink = promSink
	}
	return mgr, nil
}

// Cache exposes the summary store for the cache handlers.
func (m *Manager) Cache() *cache.Store { return m.cache }

// Cached returns the stored summary for a feed URL, if any.
func (m *Manager) Cached(feedURL string) (*aggregate.Summary, bool) {
	if m.cache == nil {
		return nil, false
	}
	return m.cache.Get(feedURL)
}

// Start launches a run in the background and returns immediately.
func (m *Manager) Start(req StartRequest) (RunInfo, error) {
	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())

	stream := progress.NewStreamSink(256)
	r := &run{
		info: RunInfo{
			ID:        id,
			FeedURL:   req.FeedURL,
			Status:    RunRunning,
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		stream: stream,
		done:   make(chan struct{}),
	}

	dialect := req.Dialect
	if dialect == "" {
		dialect = m.cfg.Crawl.DefaultDialect
	}
	var creds *transport.Credentials
	if req.Username != "" || req.Password != "" {
		creds = &transport.Credentials{Username: req.Username, Password: req.Password}
	}
	var observer transport.Observer
	if m.metrics != nil {
		observer = m.metrics
	}

	opts := crawl.Options{
		FeedURL:     req.FeedURL,
		Dialect:     dialect,
		PageCap:     orDefault(req.PageCap, m.cfg.Crawl.PageCap),
		Workers:     orDefault(req.Workers, m.cfg.Crawl.Workers),
		BatchSize:   orDefault(req.BatchSize, m.cfg.Crawl.BatchSize),
		NextRel:     m.cfg.Crawl.NextRel,
		Timeout:     m.cfg.Timeout(),
		MaxAttempts: m.cfg.HTTP.MaxRetries,
		UserAgent:   m.cfg.HTTP.UserAgent,
		Credentials: creds,
		Sinks:       m.runSinks(stream),
		Cache:       m.cache,
		Observer:    observer,
		Logger:      logging.ForRun(m.log, id, req.FeedURL),
	}

	m.mu.Lock()
	m.runs[id] = r
	m.mu.Unlock()

	go func() {
		defer close(r.done)
		sum, err := crawl.New(opts).Run(ctx)
		r.mu.Lock()
		r.summary = sum
		r.runErr = err
		switch {
		case err != nil:
			r.info.Status = RunFailed
			r.info.Error = err.Error()
		case sum != nil && sum.Canceled:
			r.info.Status = RunCanceled
		default:
			r.info.Status = RunComplete
		}
		r.mu.Unlock()
		m.retire(id)
	}()

	return r.info, nil
}

func (m *Manager) runSinks(stream *progress.StreamSink) []progress.Sink {
	out := []progress.Sink{stream, m.logSink}
	if m.promSink != nil {
		out = append(out, m.promSink)
	}
	return out
}

// Info returns the current state of a run.
func (m *Manager) Info(id string) (RunInfo, error) {
	r, err := m.get(id)
	if err != nil {
		return RunInfo{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.info, nil
}

// Result returns the finished summary, or ok=false while the run is live.
func (m *Manager) Result(id string) (*aggregate.Summary, RunInfo, bool, error) {
	r, err := m.get(id)
	if err != nil {
		return nil, RunInfo{}, false, err
	}
	select {
	case <-r.done:
	default:
		r.mu.Lock()
		info := r.info
		r.mu.Unlock()
		return nil, info, false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summary, r.info, true, r.runErr
}

// Stream claims a run's event stream. Each run has exactly one subscriber.
func (m *Manager) Stream(id string) (<-chan progress.Event, error) {
	r, err := m.get(id)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed {
		return nil, ErrStreamClaimed
	}
	r.claimed = true
	return r.stream.Events(), nil
}

// Cancel requests cancellation; in-flight work winds down and the run ends
// with a canceled summary.
func (m *Manager) Cancel(id string) error {
	r, err := m.get(id)
	if err != nil {
		return err
	}
	r.cancel()
	return nil
}

// retire records a terminal run and evicts the oldest finished runs beyond
// the retention bound. Live runs are never evicted.
func (m *Manager) retire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finished = append(m.finished, id)
	for len(m.finished) > m.maxRetained {
		oldest := m.finished[0]
		m.finished = m.finished[1:]
		delete(m.runs, oldest)
	}
}

func (m *Manager) get(id string) (*run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return r, nil
}

func orDefault(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
