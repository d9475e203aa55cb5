package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedscope/feedscope/internal/aggregate"
	"github.com/feedscope/feedscope/internal/analyzer"
	"github.com/feedscope/feedscope/internal/cache"
	"github.com/feedscope/feedscope/internal/feed"
	"github.com/feedscope/feedscope/internal/progress"
	"github.com/feedscope/feedscope/internal/transport"
	"github.com/feedscope/feedscope/internal/validator"
)

const (
	defaultWorkers   = 5
	defaultBatchSize = 100
)

// Options configures one run. FeedURL and Dialect are required; everything
// else has a default.
type Options struct {
	FeedURL     string
	Dialect     string
	PageCap     int
	Workers     int
	BatchSize   int
	NextRel     string
	Timeout     time.Duration
	MaxAttempts int
	UserAgent   string
	Credentials *transport.Credentials

	// OnEvent, if set, receives every progress event synchronously and in
	// order. Sinks receive the same stream.
	OnEvent func(progress.Event)
	Sinks   []progress.Sink

	// Client overrides the engine-built transport client.
	Client *transport.Client
	// Cache, if set, receives the finished summary keyed by FeedURL.
	Cache *cache.Store
	// Validator defaults to the structural validator.
	Validator validator.Validator
	// Observer receives fetch outcomes for metrics.
	Observer transport.Observer

	Logger *zap.Logger
}

// Engine executes one run configuration. Build a fresh Engine per run; its
// sinks belong to that run's event stream.
type Engine struct {
	opts Options
	log  *zap.Logger
}

// New normalizes options and builds an Engine.
func New(opts Options) *Engine {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.NextRel == "" {
		opts.NextRel = feed.DefaultNextRel
	}
	if opts.Validator == nil {
		opts.Validator = validator.Structural{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Engine{opts: opts, log: opts.Logger}
}

// Run walks the feed, fetches pages under bounded parallelism, analyzes
// every record and returns the finalized summary. The event stream sees
// exactly one terminal event; cancellation yields a complete event whose
// summary covers the pages already processed, with Canceled set.
func (e *Engine) Run(ctx context.Context) (*aggregate.Summary, error) {
	runID := newRunID()
	hub := e.buildHub()
	start := time.Now()

	dialect, err := e.validate()
	if err != nil {
		hub.Emit(progress.Event{
			RunID: runID, TS: time.Now().UTC(),
			Stage: progress.StageFatalError,
			Note:  err.Error(),
		})
		_ = hub.Close(context.Background())
		return nil, err
	}

	client := e.opts.Client
	if client == nil {
		client = transport.NewClient(transport.Options{
			UserAgent:     e.opts.UserAgent,
			Timeout:       e.opts.Timeout,
			MaxAttempts:   e.opts.MaxAttempts,
			MaxConcurrent: e.opts.Workers,
			Observer:      e.opts.Observer,
		}, e.log)
	}
	scheduler := NewScheduler(client, e.opts.Workers)
	agg := aggregate.New(runID.String(), e.opts.FeedURL, string(dialect))
	anl := analyzer.ForDialect(dialect)

	emit := func(evt progress.Event) {
		evt.RunID = runID
		evt.TS = time.Now().UTC()
		hub.Emit(evt)
	}

	e.log.Info("run started",
		zap.String("run_id", runID.String()),
		zap.String("feed_url", e.opts.FeedURL),
		zap.String("dialect", string(dialect)),
		zap.Int("workers", e.opts.Workers))
	emit(progress.Event{Stage: progress.StageStarted, URL: e.opts.FeedURL})

	frontier := NewFrontier(e.opts.FeedURL, e.opts.PageCap)
	agg.PageDiscovered()
	emit(progress.Event{Stage: progress.StagePagesDiscovered, TotalPages: frontier.Discovered()})

	canceled := false
	for frontier.Pending() && !canceled {
		batch := frontier.NextBatch(e.opts.Workers)
		results := scheduler.FetchBatch(ctx, batch, e.opts.Credentials)
		for _, result := range results {
			if ctx.Err() != nil && errors.Is(result.Err, context.Canceled) {
				// Never dispatched in earnest; not counted either way.
				canceled = true
				continue
			}
			e.processPage(ctx, result, frontier, agg, anl, emit)
		}
		if ctx.Err() != nil {
			canceled = true
		}
	}

	sum := agg.Finalize(canceled)
	if e.opts.Cache != nil && !canceled {
		e.opts.Cache.Put(e.opts.FeedURL, sum)
	}
	emit(progress.Event{
		Stage:   progress.StageComplete,
		Summary: sum,
		Dur:     time.Since(start),
	})
	_ = hub.Close(context.Background())
	e.log.Info("run finished",
		zap.String("run_id", runID.String()),
		zap.Bool("canceled", canceled),
		zap.Int("pages_fetched", sum.PagesFetched),
		zap.Int("pages_failed", sum.PagesFailed),
		zap.Int("records", sum.TotalRecords))
	return sum, nil
}

// processPage folds one fetched page: parse, discover the next link, then
// analyze and validate records in bounded chunks.
func (e *Engine) processPage(
	ctx context.Context,
	result FetchResult,
	frontier *Frontier,
	agg *aggregate.Aggregator,
	anl analyzer.Analyzer,
	emit func(progress.Event),
) {
	ref := result.Ref
	if result.Err != nil {
		e.pageFailed(ref, result.Err, statusClassOf(result.Err), agg, emit)
		return
	}

	emit(progress.Event{
		Stage:       progress.StagePageFetched,
		Page:        ref.Ordinal,
		URL:         ref.URL,
		StatusClass: transport.StatusClass(result.Resp.StatusCode),
		Dur:         result.Resp.Duration,
	})
	agg.StartPage(ref.Ordinal, ref.URL, result.Resp.Duration)

	doc, err := feed.Parse(result.Resp.Body)
	if err != nil {
		e.pageFailed(ref, fmt.Errorf("parse page: %w", err), "2xx", agg, emit)
		return
	}

	if next, ok := doc.NextURL(ref.URL, e.opts.NextRel); ok {
		if frontier.Push(next) {
			agg.PageDiscovered()
			emit(progress.Event{Stage: progress.StagePagesDiscovered, TotalPages: frontier.Discovered()})
		}
	}

	emit(progress.Event{
		Stage:   progress.StagePageProcessing,
		Page:    ref.Ordinal,
		URL:     ref.URL,
		Records: len(doc.Publications),
	})

	pubs := doc.Publications
	for offset := 0; offset < len(pubs); offset += e.opts.BatchSize {
		end := offset + e.opts.BatchSize
		if end > len(pubs) {
			end = len(pubs)
		}
		chunk := make([]analyzer.Classification, 0, end-offset)
		for _, pub := range pubs[offset:end] {
			for _, finding := range e.opts.Validator.Validate(pub) {
				agg.RecordError(ref.Ordinal, pub.Identifier(), finding.String())
				emit(progress.Event{
					Stage: progress.StageRecordError,
					Page:  ref.Ordinal,
					Note:  finding.String(),
				})
			}
			chunk = append(chunk, anl.Analyze(pub))
		}
		agg.FoldChunk(ref.Ordinal, chunk)
	}
	agg.FinishPage(ref.Ordinal)
}

func (e *Engine) pageFailed(ref PageRef, err error, statusClass string, agg *aggregate.Aggregator, emit func(progress.Event)) {
	e.log.Warn("page failed",
		zap.Int("page", ref.Ordinal),
		zap.String("url", ref.URL),
		zap.Error(err))
	agg.PageFailed(ref.Ordinal, ref.URL, err)
	emit(progress.Event{
		Stage:       progress.StagePageError,
		Page:        ref.Ordinal,
		URL:         ref.URL,
		StatusClass: statusClass,
		Note:        err.Error(),
	})
}

func (e *Engine) validate() (feed.Dialect, error) {
	u, err := url.Parse(e.opts.FeedURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid feed url %q", e.opts.FeedURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported feed url scheme %q", u.Scheme)
	}
	return feed.ParseDialect(e.opts.Dialect)
}

func (e *Engine) buildHub() *progress.Hub {
	sinks := append([]progress.Sink(nil), e.opts.Sinks...)
	if e.opts.OnEvent != nil {
		sinks = append(sinks, progress.NewCallbackSink(e.opts.OnEvent))
	}
	return progress.NewHub(progress.Config{Logger: e.log}, sinks...)
}

func statusClassOf(err error) string {
	var fe *transport.FetchError
	if errors.As(err, &fe) {
		return transport.StatusClass(fe.StatusCode)
	}
	return "none"
}

func newRunID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
