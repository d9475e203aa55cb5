// Package cache keeps the most recent run summary per feed URL so repeated
// requests for an already-analyzed feed do not trigger a new crawl. Entries
// are process-local and evicted LRU; the store has an explicit lifecycle and
// can be cleared on demand.
package cache

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/feedscope/feedscope/internal/aggregate"
)

const defaultSize = 128

type entry struct {
	summary  *aggregate.Summary
	storedAt time.Time
}

// Store is a bounded keyed summary cache. Safe for concurrent use.
type Store struct {
	lru *lru.Cache[string, entry]
	ttl time.Duration
}

// New builds a Store holding up to size summaries. ttl <= 0 disables
// expiry.
func New(size int, ttl time.Duration) (*Store, error) {
	if size <= 0 {
		size = defaultSize
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Store{lru: c, ttl: ttl}, nil
}

// Get returns the cached summary for a feed URL, if present and fresh.
func (s *Store) Get(feedURL string) (*aggregate.Summary, bool) {
	e, ok := s.lru.Get(feedURL)
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && time.Since(e.storedAt) > s.ttl {
		s.lru.Remove(feedURL)
		return nil, false
	}
	return e.summary, true
}

// Put stores a finished summary under its feed URL.
func (s *Store) Put(feedURL string, summary *aggregate.Summary) {
	if summary == nil {
		return
	}
	s.lru.Add(feedURL, entry{summary: summary, storedAt: time.Now()})
}

// Remove drops one feed's cached summary.
func (s *Store) Remove(feedURL string) {
	s.lru.Remove(feedURL)
}

// Clear drops every cached summary and returns how many were held.
func (s *Store) Clear() int {
	n := s.lru.Len()
	s.lru.Purge()
	return n
}

// Len returns the number of cached summaries.
func (s *Store) Len() int { return s.lru.Len() }
