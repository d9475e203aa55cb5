package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestObserveFetch counts attempts by status class.
func TestObserveFetch(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveFetch("2xx", 20*time.Millisecond)
	m.ObserveFetch("5xx", 0)
	m.ObserveRetry()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retriesTotal))
}

// TestMiddleware labels requests with the chi route pattern.
func TestMiddleware(t *testing.T) {
	t.Parallel()

	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/runs/abc")
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "200")))
}

// TestHandler serves the registry.
func TestHandler(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveFetch("2xx", time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedscope_fetch_total")
}
