package progress

import (
	"context"
	"sync"
	"sync/atomic"
)

// StreamSink exposes a run's events as a finite channel, suitable for SSE or
// ranging in a consumer goroutine. The channel closes after the terminal
// event. Until a consumer claims the channel via Events the sink keeps only
// the newest events, dropping the oldest when the buffer fills, so a run
// with no subscriber is never slowed down. Once claimed, delivery blocks and
// every subsequent event reaches the consumer in order.
type StreamSink struct {
	ch        chan Event
	claimed   atomic.Bool
	closeOnce sync.Once
}

// NewStreamSink builds a stream with the given channel capacity.
func NewStreamSink(buffer int) *StreamSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &StreamSink{ch: make(chan Event, buffer)}
}

// Events claims the consumer side. It yields the buffered backlog and every
// later event of the run in order, and is closed once the run is over.
func (s *StreamSink) Events() <-chan Event {
	s.claimed.Store(true)
	return s.ch
}

func (s *StreamSink) Consume(ctx context.Context, batch []Event) error {
	for _, evt := range batch {
		if !s.claimed.Load() {
			s.offer(evt)
			continue
		}
		select {
		case s.ch <- evt:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// offer enqueues without blocking, evicting the oldest buffered event when
// full. The terminal event is always the newest, so a late claim still sees
// how the run ended.
func (s *StreamSink) offer(evt Event) {
	for {
		select {
		case s.ch <- evt:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *StreamSink) Close(context.Context) error {
	s.closeOnce.Do(func() { close(s.ch) })
	return nil
}
