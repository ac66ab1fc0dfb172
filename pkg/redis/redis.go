// Package redis provides a lens.Session for Redis keys using keyspace
// notifications. A topic maps to the key prefix "<topic>:"; each key under it
// is one row holding a JSON object, keyed by the remainder of the key name.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/lens"
)

// Session watches key prefixes in one Redis database.
// Requires Redis to have keyspace notifications enabled:
//
//	CONFIG SET notify-keyspace-events KEA
//
// Or in redis.conf:
//
//	notify-keyspace-events KEA
type Session struct {
	client *redis.Client
	db     int
	codec  lens.Codec
	clock  clockz.Clock
}

// Option configures a Session.
type Option func(*Session)

// WithDB sets the database index used in notification channels. Default: 0.
func WithDB(db int) Option {
	return func(s *Session) {
		s.db = db
	}
}

// WithCodec sets the codec for row values. Default: lens.JSONCodec.
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

// New creates a Session on client.
func New(client *redis.Client, opts ...Option) *Session {
	s := &Session{
		client: client,
		codec:  lens.JSONCodec{},
		clock:  clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open implements lens.Session. Notifications are subscribed before the
// snapshot is scanned so no change between the two is lost.
func (s *Session) Open(ctx context.Context, sub lens.Subscription) (lens.Stream, error) {
	prefix := sub.Topic + ":"
	keyspace := fmt.Sprintf("__keyspace@%d__:", s.db)

	pubsub := s.client.PSubscribe(ctx, keyspace+prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to keyspace notifications: %w", err)
	}

	out := lens.NewPipe(0)

	go func() {
		defer pubsub.Close()

		rows, err := s.scan(ctx, prefix)
		if err != nil {
			out.Close(closeErr(ctx, err))
			return
		}
		if !out.SendSnapshot(ctx, rows) {
			out.Close(nil)
			return
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				out.Close(nil)
				return
			case msg, ok := <-ch:
				if !ok {
					out.Close(errors.New("redis subscription closed"))
					return
				}
				full := strings.TrimPrefix(msg.Channel, keyspace)
				key := strings.TrimPrefix(full, prefix)

				var m lens.Message
				switch msg.Payload {
				case "set", "hset", "mset", "setex", "psetex", "setnx", "setrange", "append":
					fields, ok, err := s.get(ctx, full)
					if err != nil {
						out.Close(closeErr(ctx, err))
						return
					}
					if !ok {
						continue
					}
					m = lens.Upsert(key, fields)
				case "del", "expired", "evicted", "rename_from":
					m = lens.Remove(key)
				default:
					continue
				}
				if !out.Send(ctx, m) {
					out.Close(nil)
					return
				}
			}
		}
	}()

	return lens.Shape(ctx, out, sub, s.clock), nil
}

// scan reads every row under prefix.
func (s *Session) scan(ctx context.Context, prefix string) ([]lens.Row, error) {
	var rows []lens.Row
	iter := s.client.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		fields, ok, err := s.get(ctx, full)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		rows = append(rows, lens.NewRow(strings.TrimPrefix(full, prefix), fields))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s*: %w", prefix, err)
	}
	return rows, nil
}

// get reads one row. ok is false when the key vanished or does not hold a
// decodable row.
func (s *Session) get(ctx context.Context, key string) (lens.Fields, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		// Non-string keys are not rows.
		if strings.HasPrefix(err.Error(), "WRONGTYPE") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	fields, err := s.codec.DecodeFields(val)
	if err != nil {
		return nil, false, nil
	}
	return fields, true, nil
}

// closeErr drops errors caused by cancellation.
func closeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
