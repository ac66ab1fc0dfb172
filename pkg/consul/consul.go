// Package consul provides a lens.Session for Consul KV prefixes using
// blocking queries. A topic maps to the prefix "<topic>/"; each key under it
// is one row.
package consul

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/consul/api"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/lens"
)

// Session watches prefixes on one Consul agent.
type Session struct {
	client *api.Client
	codec  lens.Codec
	clock  clockz.Clock
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

// New creates a Session on client.
func New(client *api.Client, opts ...Option) *Session {
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

// Open implements lens.Session. Each blocking query returns the whole
// prefix; it is diffed against the previous result by modify index. A failed
// query ends the stream with its error.
func (s *Session) Open(ctx context.Context, sub lens.Subscription) (lens.Stream, error) {
	prefix := sub.Topic + "/"
	kv := s.client.KV()

	pairs, meta, err := kv.List(prefix, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshot: %w", err)
	}

	seen := make(map[string]uint64, len(pairs))
	rows := make([]lens.Row, 0, len(pairs))
	for _, pair := range pairs {
		key := strings.TrimPrefix(pair.Key, prefix)
		if key == "" {
			continue
		}
		seen[key] = pair.ModifyIndex
		if fields, err := s.codec.DecodeFields(pair.Value); err == nil {
			rows = append(rows, lens.NewRow(key, fields))
		}
	}

	out := lens.NewPipe(0)

	go func() {
		if !out.SendSnapshot(ctx, rows) {
			out.Close(nil)
			return
		}

		lastIndex := meta.LastIndex

		for {
			select {
			case <-ctx.Done():
				out.Close(nil)
				return
			default:
			}

			opts := (&api.QueryOptions{WaitIndex: lastIndex}).WithContext(ctx)
			pairs, meta, err := kv.List(prefix, opts)
			if err != nil {
				if ctx.Err() != nil {
					out.Close(nil)
					return
				}
				out.Close(fmt.Errorf("blocking query on %s: %w", prefix, err))
				return
			}
			if meta.LastIndex == lastIndex {
				continue
			}
			// A lower index means the agent state was reset.
			if meta.LastIndex < lastIndex {
				lastIndex = 0
				continue
			}
			lastIndex = meta.LastIndex

			for _, msg := range s.diff(prefix, seen, pairs) {
				if !out.Send(ctx, msg) {
					out.Close(nil)
					return
				}
			}
		}
	}()

	return lens.Shape(ctx, out, sub, s.clock), nil
}

// diff updates seen to match pairs and returns the changes.
func (s *Session) diff(prefix string, seen map[string]uint64, pairs api.KVPairs) []lens.Message {
	var msgs []lens.Message
	current := make(map[string]struct{}, len(pairs))

	for _, pair := range pairs {
		key := strings.TrimPrefix(pair.Key, prefix)
		if key == "" {
			continue
		}
		current[key] = struct{}{}
		if idx, ok := seen[key]; ok && idx == pair.ModifyIndex {
			continue
		}
		seen[key] = pair.ModifyIndex
		fields, err := s.codec.DecodeFields(pair.Value)
		if err != nil {
			continue
		}
		msgs = append(msgs, lens.Upsert(key, fields))
	}

	var gone []string
	for key := range seen {
		if _, ok := current[key]; !ok {
			gone = append(gone, key)
		}
	}
	slices.Sort(gone)
	for _, key := range gone {
		delete(seen, key)
		msgs = append(msgs, lens.Remove(key))
	}
	return msgs
}
