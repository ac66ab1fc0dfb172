// Package nats provides a lens.Session for NATS JetStream key-value buckets.
// A topic names a bucket; each key in the bucket is one row.
package nats

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/lens"
)

// Session opens buckets on one JetStream context.
type Session struct {
	js    jetstream.JetStream
	codec lens.Codec
	clock clockz.Clock
}

// Option configures a Session.
type Option func(*Session)

// WithCodec sets the codec for values. Default: lens.JSONCodec.
func WithCodec(codec lens.Codec) Option {
	return func(s *Session) {
		s.codec = codec
	}
}

// WithClock sets the clock used for conflation.
func WithClock(clock clockz.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

// New creates a Session on js.
func New(js jetstream.JetStream, opts ...Option) *Session {
	s := &Session{
		js:    js,
		codec: lens.JSONCodec{},
		clock: clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open implements lens.Session. The watcher replays the latest value of
// every key, then a nil entry marks the end of the snapshot.
func (s *Session) Open(ctx context.Context, sub lens.Subscription) (lens.Stream, error) {
	kv, err := s.js.KeyValue(ctx, sub.Topic)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket %q: %w", sub.Topic, err)
	}

	watcher, err := kv.WatchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to watch bucket: %w", err)
	}

	out := lens.NewPipe(0)

	go func() {
		defer watcher.Stop()

		var rows []lens.Row
		live := false

		for {
			select {
			case <-ctx.Done():
				out.Close(nil)
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					out.Close(nil)
					return
				}
				if entry == nil {
					if !live {
						live = true
						if !out.SendSnapshot(ctx, rows) {
							out.Close(nil)
							return
						}
						rows = nil
					}
					continue
				}

				msg, ok := s.message(entry)
				if !ok {
					continue
				}
				if !live {
					// Deletes and purges during replay leave no row behind.
					if msg.Kind == lens.KindUpsert {
						rows = append(rows, lens.NewRow(msg.Key, msg.Fields))
					}
					continue
				}
				if !out.Send(ctx, msg) {
					out.Close(nil)
					return
				}
			}
		}
	}()

	return lens.Shape(ctx, out, sub, s.clock), nil
}

func (s *Session) message(entry jetstream.KeyValueEntry) (lens.Message, bool) {
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return lens.Remove(entry.Key()), true
	case jetstream.KeyValuePut:
		fields, err := s.codec.DecodeFields(entry.Value())
		if err != nil {
			return lens.Message{}, false
		}
		return lens.Upsert(entry.Key(), fields), true
	}
	return lens.Message{}, false
}
