package lens

import "context"

// Sink receives the full current collection every time it changes.
//
// Rows with the same Key across successive publishes are the same entity
// updated. The slice and its rows are never modified after delivery, so a
// sink may retain them. A sink may coalesce or drop intermediate publishes;
// each one is authoritative on its own.
type Sink interface {
	Publish(ctx context.Context, rows []Row) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, rows []Row) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, rows []Row) error {
	return f(ctx, rows)
}
