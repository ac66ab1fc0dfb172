package lens

import (
	"context"
	"sync"
)

// Session is an open connection to a feed. It is owned by the caller, who
// creates it once, hands it to every reconciler that subscribes through it,
// and closes it when the last subscription is done.
type Session interface {
	// Open starts a subscription and returns its message stream.
	//
	// Implementations must deliver, in order: one SnapshotBegin, zero or more
	// SnapshotRows, one SnapshotEnd, then Upserts and Removes. Messages for
	// the same key are delivered in the order the underlying value changed.
	// The stream is consumed by a single reader and messages are never
	// dispatched concurrently.
	//
	// The stream ends when ctx is canceled, when the feed completes, or when
	// the subscription fails. Sessions do not retry.
	Open(ctx context.Context, sub Subscription) (Stream, error)
}

// Stream is the message sequence of one subscription.
type Stream interface {
	// Messages yields feed messages in delivery order. The channel is closed
	// when the subscription completes or fails.
	Messages() <-chan Message

	// Err returns the failure that ended the stream, or nil if it completed
	// cleanly or was canceled. It is only meaningful after Messages is closed.
	Err() error
}

// SessionFunc adapts a function to the Session interface.
type SessionFunc func(ctx context.Context, sub Subscription) (Stream, error)

// Open implements Session.
func (f SessionFunc) Open(ctx context.Context, sub Subscription) (Stream, error) {
	return f(ctx, sub)
}

// Pipe is a Stream fed by a single producer goroutine. The producer calls
// Send for each message and Close exactly once when done; the consumer reads
// Messages and Err.
type Pipe struct {
	ch   chan Message
	once sync.Once

	mu  sync.Mutex
	err error
}

// NewPipe creates a Pipe with the given channel buffer.
func NewPipe(buffer int) *Pipe {
	if buffer < 0 {
		buffer = 0
	}
	return &Pipe{ch: make(chan Message, buffer)}
}

// Messages implements Stream.
func (p *Pipe) Messages() <-chan Message { return p.ch }

// Err implements Stream.
func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Send delivers msg, blocking until it is consumed or ctx is done. It
// returns false when ctx ended first.
func (p *Pipe) Send(ctx context.Context, msg Message) bool {
	select {
	case p.ch <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream with err, which may be nil. Only the first call has
// an effect.
func (p *Pipe) Close(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.ch)
	})
}

// SendSnapshot delivers a complete snapshot: SnapshotBegin, one SnapshotRow
// per row, SnapshotEnd. It returns false if ctx ended first.
func (p *Pipe) SendSnapshot(ctx context.Context, rows []Row) bool {
	if !p.Send(ctx, SnapshotBegin()) {
		return false
	}
	for _, r := range rows {
		if !p.Send(ctx, SnapshotRow(r.Key, r.Fields)) {
			return false
		}
	}
	return p.Send(ctx, SnapshotEnd())
}
