package crawl

import (
	"context"
	"sync"

	"github.com/feedscope/feedscope/internal/transport"
)

// FetchResult pairs a page reference with its fetch outcome. Exactly one of
// Resp or Err is meaningful.
type FetchResult struct {
	Ref  PageRef
	Resp transport.Response
	Err  error
}

// Scheduler fetches frontier batches under a bounded worker pool. Completion
// order is unconstrained; results come back indexed by submission order so
// the engine can process them in discovery order. One page's failure never
// affects its siblings.
type Scheduler struct {
	client  *transport.Client
	workers int
}

// NewScheduler builds a scheduler over a shared client. workers <= 0 falls
// back to 1.
func NewScheduler(client *transport.Client, workers int) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	return &Scheduler{client: client, workers: workers}
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int { return s.workers }

// FetchBatch fetches every ref and returns results in submission order.
// Credentials are resolved per page; self-authenticating URLs go out bare.
func (s *Scheduler) FetchBatch(ctx context.Context, refs []PageRef, creds *transport.Credentials) []FetchResult {
	results := make([]FetchResult, len(refs))
	indexes := make(chan int)

	var wg sync.WaitGroup
	workers := s.workers
	if workers > len(refs) {
		workers = len(refs)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexes {
				ref := refs[i]
				resp, err := s.client.Fetch(ctx, ref.URL, transport.CredentialsFor(ref.URL, creds))
				results[i] = FetchResult{Ref: ref, Resp: resp, Err: err}
			}
		}()
	}
	for i := range refs {
		indexes <- i
	}
	close(indexes)
	wg.Wait()
	return results
}
