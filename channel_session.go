package lens

import (
	"context"
	"sync"
)

// ChannelSession wraps an existing message channel as a Session.
// Useful for testing and for custom sources that already produce messages.
// Closing the source channel ends the stream; call Fail first to end it
// with an error instead.
type ChannelSession struct {
	ch   <-chan Message
	sync bool

	mu     sync.Mutex
	err    error
	opened []Subscription
}

// NewChannelSession creates a ChannelSession that forwards messages from the
// given channel through an internal goroutine.
func NewChannelSession(ch <-chan Message) *ChannelSession {
	return &ChannelSession{ch: ch}
}

// NewSyncChannelSession creates a ChannelSession whose stream reads the source
// channel directly without an intermediate goroutine.
// Use with Reconciler.SyncMode() for deterministic testing.
func NewSyncChannelSession(ch <-chan Message) *ChannelSession {
	return &ChannelSession{ch: ch, sync: true}
}

// Fail records err as the stream failure reported once the source channel
// is closed.
func (s *ChannelSession) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Opened returns the subscriptions opened on this session, in order.
func (s *ChannelSession) Opened() []Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Subscription(nil), s.opened...)
}

func (s *ChannelSession) failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Open implements Session.
func (s *ChannelSession) Open(ctx context.Context, sub Subscription) (Stream, error) {
	s.mu.Lock()
	s.opened = append(s.opened, sub)
	s.mu.Unlock()

	if s.sync {
		return &channelStream{ch: s.ch, session: s}, nil
	}

	out := NewPipe(0)
	go func() {
		for {
			select {
			case <-ctx.Done():
				out.Close(nil)
				return
			case msg, ok := <-s.ch:
				if !ok {
					out.Close(s.failure())
					return
				}
				if !out.Send(ctx, msg) {
					out.Close(nil)
					return
				}
			}
		}
	}()
	return out, nil
}

// channelStream exposes the source channel directly.
type channelStream struct {
	ch      <-chan Message
	session *ChannelSession
}

func (c *channelStream) Messages() <-chan Message { return c.ch }

func (c *channelStream) Err() error { return c.session.failure() }
