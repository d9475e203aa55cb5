package progress

import "context"

// Sink consumes ordered batches of progress events. Implementations must
// honor ctx deadlines and tolerate repeated Close calls.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// engine stays agnostic about buffering and fan-out.
type Emitter interface {
	Emit(evt Event)
}
