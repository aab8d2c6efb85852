package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// orchestrator can remain agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// NopEmitter discards every event.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}

// FuncSink adapts a callback to the Sink interface.
type FuncSink func(ctx context.Context, batch []Event) error

// Consume implements Sink.
func (f FuncSink) Consume(ctx context.Context, batch []Event) error {
	if f == nil {
		return nil
	}
	return f(ctx, batch)
}

// Close implements Sink; it performs no action.
func (FuncSink) Close(context.Context) error {
	return nil
}
