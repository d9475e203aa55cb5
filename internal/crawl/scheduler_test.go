package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feedscope/feedscope/internal/transport"
)

// TestFetchBatchSubmissionOrder returns results indexed by submission order
// even when completion order differs.
func TestFetchBatchSubmissionOrder(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/slow" {
			time.Sleep(50 * time.Millisecond)
		}
		fmt.Fprintf(w, `{"path": %q}`, r.URL.Path)
	}))
	defer srv.Close()

	s := NewScheduler(fastClient(2), 2)
	refs := []PageRef{
		{Ordinal: 1, URL: srv.URL + "/slow"},
		{Ordinal: 2, URL: srv.URL + "/fast"},
	}
	results := s.FetchBatch(context.Background(), refs, nil)

	require.Len(t, results, 2)
	assert.Equal(t, 1, results[0].Ref.Ordinal)
	assert.Contains(t, string(results[0].Resp.Body), "/slow")
	assert.Equal(t, 2, results[1].Ref.Ordinal)
	assert.Contains(t, string(results[1].Resp.Body), "/fast")
}

// TestFetchBatchFailureIsolation keeps sibling fetches alive when one page
// fails.
func TestFetchBatchFailureIsolation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	s := NewScheduler(fastClient(3), 3)
	refs := []PageRef{
		{Ordinal: 1, URL: srv.URL + "/ok"},
		{Ordinal: 2, URL: srv.URL + "/bad"},
		{Ordinal: 3, URL: srv.URL + "/ok2"},
	}
	results := s.FetchBatch(context.Background(), refs, nil)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	var fe *transport.FetchError
	require.ErrorAs(t, results[1].Err, &fe)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.NoError(t, results[2].Err)
}

// TestSchedulerWorkerFloor falls back to one worker.
func TestSchedulerWorkerFloor(t *testing.T) {
	t.Parallel()

	s := NewScheduler(fastClient(1), 0)
	assert.Equal(t, 1, s.Workers())
}
