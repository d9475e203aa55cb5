// Package crawl drives a run: the frontier walks the feed's next-link chain,
// the scheduler fetches frontier batches under bounded parallelism, and the
// engine folds fetched pages into the run summary while emitting progress.
package crawl

import "strings"

// PageRef is one discovered page, numbered in discovery order (1-based).
type PageRef struct {
	Ordinal int
	URL     string
}

// Frontier tracks the pages discovered so far: a visited set guarding
// against pagination cycles and an ordered queue of pages not yet fetched.
// Ordinals are assigned at discovery, so page statistics always display in
// discovery order regardless of fetch completion order. Not safe for
// concurrent use; the engine's loop is the single caller.
type Frontier struct {
	visited    map[string]struct{}
	queue      []PageRef
	discovered int
	pageCap    int
}

// NewFrontier seeds the frontier with the start URL. pageCap <= 0 means
// unbounded.
func NewFrontier(startURL string, pageCap int) *Frontier {
	f := &Frontier{
		visited: map[string]struct{}{},
		pageCap: pageCap,
	}
	f.Push(startURL)
	return f
}

// Push adds a discovered URL unless it was already seen or the page cap is
// reached. Reports whether the URL entered the frontier.
func (f *Frontier) Push(url string) bool {
	url = strings.TrimSpace(url)
	if url == "" {
		return false
	}
	if _, seen := f.visited[url]; seen {
		return false
	}
	if f.pageCap > 0 && f.discovered >= f.pageCap {
		return false
	}
	f.visited[url] = struct{}{}
	f.discovered++
	f.queue = append(f.queue, PageRef{Ordinal: f.discovered, URL: url})
	return true
}

// NextBatch removes and returns up to n pending pages in discovery order.
func (f *Frontier) NextBatch(n int) []PageRef {
	if n <= 0 || len(f.queue) == 0 {
		return nil
	}
	if n > len(f.queue) {
		n = len(f.queue)
	}
	batch := f.queue[:n:n]
	f.queue = f.queue[n:]
	return batch
}

// Pending reports whether unfetched pages remain.
func (f *Frontier) Pending() bool { return len(f.queue) > 0 }

// Discovered returns how many distinct pages have entered the frontier.
func (f *Frontier) Discovered() int { return f.discovered }
