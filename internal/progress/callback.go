package progress

import "context"

// CallbackSink invokes a caller-supplied function for each event, in order.
// The callback runs on the hub's flush goroutine; a slow callback slows the
// run rather than losing events.
type CallbackSink struct {
	fn func(Event)
}

// NewCallbackSink wraps fn as a Sink. A nil fn yields a no-op sink.
func NewCallbackSink(fn func(Event)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

func (s *CallbackSink) Consume(_ context.Context, batch []Event) error {
	if s.fn == nil {
		return nil
	}
	for _, evt := range batch {
		s.fn(evt)
	}
	return nil
}

func (s *CallbackSink) Close(context.Context) error { return nil }
