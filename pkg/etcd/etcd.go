// Package etcd provides a lens.Session for etcd key prefixes using the native
// Watch API. A topic maps to the prefix "<topic>/"; each key under it is one
// row keyed by the remainder of the key.
package etcd

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/lens"
	clientv3 "go.etcd.io/etcd/client/v3"
)

// Session watches prefixes on one etcd cluster.
type Session struct {
	client *clientv3.Client
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
func New(client *clientv3.Client, opts ...Option) *Session {
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

// Open implements lens.Session. Changes are watched from the revision after
// the snapshot, so none are missed or repeated.
func (s *Session) Open(ctx context.Context, sub lens.Subscription) (lens.Stream, error) {
	prefix := sub.Topic + "/"

	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix(), clientv3.WithSort(clientv3.SortByKey, clientv3.SortAscend))
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	rows := make([]lens.Row, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		fields, err := s.codec.DecodeFields(kv.Value)
		if err != nil {
			continue
		}
		rows = append(rows, lens.NewRow(strings.TrimPrefix(string(kv.Key), prefix), fields))
	}

	out := lens.NewPipe(0)

	go func() {
		if !out.SendSnapshot(ctx, rows) {
			out.Close(nil)
			return
		}

		watchChan := s.client.Watch(ctx, prefix, clientv3.WithPrefix(), clientv3.WithRev(resp.Header.Revision+1))

		for {
			select {
			case <-ctx.Done():
				out.Close(nil)
				return
			case watchResp, ok := <-watchChan:
				if !ok {
					out.Close(nil)
					return
				}
				if err := watchResp.Err(); err != nil {
					out.Close(fmt.Errorf("watch failed: %w", err))
					return
				}

				for _, event := range watchResp.Events {
					key := strings.TrimPrefix(string(event.Kv.Key), prefix)
					var msg lens.Message
					switch event.Type {
					case clientv3.EventTypePut:
						fields, err := s.codec.DecodeFields(event.Kv.Value)
						if err != nil {
							continue
						}
						msg = lens.Upsert(key, fields)
					case clientv3.EventTypeDelete:
						msg = lens.Remove(key)
					default:
						continue
					}
					if !out.Send(ctx, msg) {
						out.Close(nil)
						return
					}
				}
			}
		}
	}()

	return lens.Shape(ctx, out, sub, s.clock), nil
}
