package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedscope/feedscope/internal/aggregate"
	"github.com/feedscope/feedscope/internal/cache"
	"github.com/feedscope/feedscope/internal/config"
	"github.com/feedscope/feedscope/internal/metrics"
)

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
		Crawl: config.CrawlConfig{
			Workers:        2,
			BatchSize:      50,
			NextRel:        "next",
			DefaultDialect: "opds",
		},
		HTTP: config.HTTPConfig{
			TimeoutSeconds: 5,
			MaxRetries:     1,
			UserAgent:      "feedscope-test",
		},
		Cache: config.CacheConfig{Size: 8},
	}
}

// singlePageFeed serves one OPDS page with two records and no next link.
func singlePageFeed(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"publications": [
			{"metadata": {"identifier": "urn:isbn:1", "title": "A", "@type": "http://schema.org/Book"},
			 "links": [{"rel": "http://opds-spec.org/acquisition", "href": "/a", "type": "application/epub+zip"}]},
			{"metadata": {"identifier": "urn:isbn:2", "title": "B", "@type": "http://schema.org/Book"},
			 "links": [{"rel": "http://opds-spec.org/acquisition", "href": "/b", "type": "application/pdf"}]}
		]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestServer(t *testing.T, cfg config.Config) (*Server, *Manager) {
	t.Helper()
	store, err := cache.New(cfg.Cache.Size, 0)
	require.NoError(t, err)
	m := metrics.New()
	mgr, err := NewManager(cfg, store, m, nil)
	require.NoError(t, err)
	return NewServer(mgr, m, cfg, nil), mgr
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func waitForResult(t *testing.T, handler http.Handler, runID string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec := get(handler, "/v1/runs/"+runID+"/result")
		if rec.Code == http.StatusOK {
			var payload map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
			return payload
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run did not finish in time")
	return nil
}

// TestStartRunAndResult submits a run and polls its result.
func TestStartRunAndResult(t *testing.T) {
	t.Parallel()

	feed := singlePageFeed(t)
	srv, _ := newTestServer(t, testConfig())
	h := srv.Handler()

	rec := postJSON(t, h, "/v1/runs", StartRequest{FeedURL: feed.URL})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var info RunInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.NotEmpty(t, info.ID)
	assert.Equal(t, RunRunning, info.Status)

	payload := waitForResult(t, h, info.ID)
	assert.Equal(t, "complete", payload["status"])
	summary := payload["summary"].(map[string]any)
	assert.Equal(t, float64(2), summary["total_records"])
	assert.Equal(t, float64(1), summary["pages_fetched"])
}

// TestManagerRetiresFinishedRuns evicts the oldest terminal runs beyond the
// retention bound while keeping newer ones pollable.
func TestManagerRetiresFinishedRuns(t *testing.T) {
	t.Parallel()

	feed := singlePageFeed(t)
	_, mgr := newTestServer(t, testConfig())
	mgr.maxRetained = 2

	waitDone := func(id string) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if _, _, ok, _ := mgr.Result(id); ok {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatalf("run %s did not finish in time", id)
	}

	var ids []string
	for i := 0; i < 3; i++ {
		info, err := mgr.Start(StartRequest{FeedURL: feed.URL})
		require.NoError(t, err)
		waitDone(info.ID)
		ids = append(ids, info.ID)
	}

	_, err := mgr.Info(ids[0])
	assert.ErrorIs(t, err, ErrRunNotFound)
	for _, id := range ids[1:] {
		info, err := mgr.Info(id)
		require.NoError(t, err)
		assert.Equal(t, RunComplete, info.Status)
	}
}

// TestStartRunUsesCache serves the second request from the summary cache.
func TestStartRunUsesCache(t *testing.T) {
	t.Parallel()

	feed := singlePageFeed(t)
	srv, _ := newTestServer(t, testConfig())
	h := srv.Handler()

	rec := postJSON(t, h, "/v1/runs", StartRequest{FeedURL: feed.URL})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var info RunInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	waitForResult(t, h, info.ID)

	rec = postJSON(t, h, "/v1/runs", StartRequest{FeedURL: feed.URL, UseCache: true})
	require.Equal(t, http.StatusOK, rec.Code)
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, true, payload["cached"])
}

// TestStartRunValidation rejects bodies without a feed URL.
func TestStartRunValidation(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	h := srv.Handler()

	rec := postJSON(t, h, "/v1/runs", StartRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/v1/runs", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// TestRunNotFound returns 404 for unknown runs on every run route.
func TestRunNotFound(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	h := srv.Handler()

	assert.Equal(t, http.StatusNotFound, get(h, "/v1/runs/nope").Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/v1/runs/nope/result").Code)
	assert.Equal(t, http.StatusNotFound, get(h, "/v1/runs/nope/events").Code)
	assert.Equal(t, http.StatusNotFound, postJSON(t, h, "/v1/runs/nope/cancel", nil).Code)
}

// TestStreamEvents consumes the SSE stream to its terminal event.
func TestStreamEvents(t *testing.T) {
	t.Parallel()

	feed := singlePageFeed(t)
	srv, mgr := newTestServer(t, testConfig())
	httpSrv := httptest.NewServer(srv.Handler())
	defer httpSrv.Close()

	info, err := mgr.Start(StartRequest{FeedURL: feed.URL})
	require.NoError(t, err)

	resp, err := http.Get(httpSrv.URL + "/v1/runs/" + info.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var stages []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var evt map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt))
		stages = append(stages, evt["stage"].(string))
	}
	require.NotEmpty(t, stages)
	assert.Equal(t, "started", stages[0])
	assert.Equal(t, "complete", stages[len(stages)-1])

	// Second subscriber is rejected: one stream per run.
	resp2, err := http.Get(httpSrv.URL + "/v1/runs/" + info.ID + "/events")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusConflict, resp2.StatusCode)
}

// TestCancelRun acknowledges cancellation for a known run.
func TestCancelRun(t *testing.T) {
	t.Parallel()

	feed := singlePageFeed(t)
	srv, mgr := newTestServer(t, testConfig())
	h := srv.Handler()

	info, err := mgr.Start(StartRequest{FeedURL: feed.URL})
	require.NoError(t, err)

	rec := postJSON(t, h, "/v1/runs/"+info.ID+"/cancel", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestClearCache clears all entries or a single feed.
func TestClearCache(t *testing.T) {
	t.Parallel()

	srv, mgr := newTestServer(t, testConfig())
	h := srv.Handler()
	mgr.Cache().Put("https://example.org/a", &aggregate.Summary{RunID: "a"})
	mgr.Cache().Put("https://example.org/b", &aggregate.Summary{RunID: "b"})

	req := httptest.NewRequest(http.MethodDelete, "/v1/cache?feed_url=https%3A%2F%2Fexample.org%2Fa", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, mgr.Cache().Len())

	req = httptest.NewRequest(http.MethodDelete, "/v1/cache", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, mgr.Cache().Len())
}

// TestAPIKeyMiddleware gates every route when auth is enabled.
func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "sekrit"}
	srv, _ := newTestServer(t, cfg)
	h := srv.Handler()

	assert.Equal(t, http.StatusForbidden, get(h, "/healthz").Code)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "sekrit")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestHealthAndMetricsEndpoints serve without auth configured.
func TestHealthAndMetricsEndpoints(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, testConfig())
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, get(h, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(h, "/readyz").Code)
	rec := get(h, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedscope_")
}
