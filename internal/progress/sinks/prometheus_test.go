package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedscope/feedscope/internal/aggregate"
	"github.com/feedscope/feedscope/internal/progress"
)

// TestPrometheusSinkCounts drives a run lifecycle through the sink and
// checks the collector values.
func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Now().UTC()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageStarted},
		{RunID: runID, TS: now, Stage: progress.StagePageFetched, Page: 1, StatusClass: "2xx", Dur: 40 * time.Millisecond},
		{RunID: runID, TS: now, Stage: progress.StagePageProcessing, Page: 1, Records: 25},
		{RunID: runID, TS: now, Stage: progress.StageRecordError, Note: "bad identifier"},
		{RunID: runID, TS: now, Stage: progress.StagePageError, Page: 2, StatusClass: "5xx"},
		{RunID: runID, TS: now, Stage: progress.StageComplete, Summary: &aggregate.Summary{}, Dur: time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	assert.Equal(t, 0.0, testutil.ToFloat64(sink.runsRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.pagesFetched.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.pagesFetched.WithLabelValues("5xx")))
	assert.Equal(t, 25.0, testutil.ToFloat64(sink.recordsFolded))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.recordErrors))
}

// TestPrometheusSinkCanceledRun labels canceled completions separately.
func TestPrometheusSinkCanceledRun(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := uuid.New()
	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageStarted},
		{RunID: runID, TS: now, Stage: progress.StageComplete, Summary: &aggregate.Summary{Canceled: true}},
	}))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("canceled")))
}

// TestPrometheusSinkDoubleRegister rejects registering twice on one
// registry.
func TestPrometheusSinkDoubleRegister(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	assert.Error(t, err)
}
