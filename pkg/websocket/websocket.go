// Package websocket provides a lens.Session for a remote feed server reached
// over a websocket, and a Handler that serves any lens.Session the same way.
//
// A connection carries one subscription. The client sends a subscribe
// request; the server answers with encoded feed messages and applies the
// subscription's ordering, window and options itself.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	gws "github.com/gorilla/websocket"
	"github.com/zoobzio/lens"
)

// Request commands.
const (
	CommandSubscribe   = "subscribe"
	CommandUnsubscribe = "unsubscribe"
)

// Request is a client frame.
type Request struct {
	Command string `json:"command"`
	SubID   string `json:"sub_id"`
	Topic   string `json:"topic,omitempty"`
	OrderBy string `json:"order_by,omitempty"`
	Options string `json:"options,omitempty"`
}

// Session dials a feed server once per subscription.
type Session struct {
	url    string
	dialer *gws.Dialer
	codec  lens.Codec
}

// Option configures a Session.
type Option func(*Session)

// WithDialer sets the websocket dialer. Default: gws.DefaultDialer.
func WithDialer(d *gws.Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithCodec sets the codec for server frames. Default: lens.JSONCodec.
func WithCodec(codec lens.Codec) Option {
	return func(s *Session) {
		s.codec = codec
	}
}

// New creates a Session for the server at url.
func New(url string, opts ...Option) *Session {
	s := &Session{
		url:    url,
		dialer: gws.DefaultDialer,
		codec:  lens.JSONCodec{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open implements lens.Session.
func (s *Session) Open(ctx context.Context, sub lens.Subscription) (lens.Stream, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", s.url, err)
	}

	id := uuid.NewString()
	req := Request{
		Command: CommandSubscribe,
		SubID:   id,
		Topic:   sub.Topic,
		OrderBy: sub.OrderBy.String(),
		Options: sub.Options.String(),
	}
	if err := conn.WriteJSON(req); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := lens.NewPipe(0)
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteJSON(Request{Command: CommandUnsubscribe, SubID: id})
			_ = conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
		case <-done:
		}
		conn.Close()
	}()

	go func() {
		defer stop()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				out.Close(readErr(ctx, err))
				return
			}
			// Frames that do not decode are skipped; only the
			// connection ending closes the stream.
			msg, err := s.codec.Decode(data)
			if err != nil {
				continue
			}
			if !out.Send(ctx, msg) {
				out.Close(nil)
				return
			}
		}
	}()

	return out, nil
}

// readErr maps a connection read failure to a stream error. A normal close
// from the server completes the stream; other close codes carry the
// server's reason.
func readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	var ce *gws.CloseError
	if errors.As(err, &ce) {
		if ce.Code == gws.CloseNormalClosure {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrServerClosed, ce.Text)
	}
	return err
}

// ErrServerClosed reports that the server ended the subscription abnormally.
var ErrServerClosed = errors.New("server closed subscription")
