// Package zookeeper provides a lens.Session for ZooKeeper. A topic names a
// znode under the session root; each child of that znode is one row whose
// data is the encoded fields.
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"

	"github.com/go-zookeeper/zk"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/lens"
)

// Session watches znodes on one ZooKeeper connection.
type Session struct {
	conn  *zk.Conn
	root  string
	codec lens.Codec
	clock clockz.Clock
}

// Option configures a Session.
type Option func(*Session)

// WithRoot sets the parent path of topic znodes. Default: "/".
func WithRoot(root string) Option {
	return func(s *Session) {
		s.root = root
	}
}

// WithCodec sets the codec for node data. Default: lens.JSONCodec.
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

// New creates a Session on conn.
func New(conn *zk.Conn, opts ...Option) *Session {
	s := &Session{
		conn:  conn,
		root:  "/",
		codec: lens.JSONCodec{},
		clock: clockz.RealClock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type dataEvent struct {
	key   string
	event zk.Event
}

// topicWatch holds the watch state of one open topic. It is owned by the
// stream goroutine.
type topicWatch struct {
	s       *Session
	ctx     context.Context
	dir     string
	known   map[string]struct{}
	events  chan dataEvent
	childCh <-chan zk.Event
}

// Open implements lens.Session.
func (s *Session) Open(ctx context.Context, sub lens.Subscription) (lens.Stream, error) {
	w := &topicWatch{
		s:      s,
		ctx:    ctx,
		dir:    path.Join(s.root, sub.Topic),
		known:  make(map[string]struct{}),
		events: make(chan dataEvent, 16),
	}

	children, err := w.children()
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", w.dir, err)
	}

	rows := make([]lens.Row, 0, len(children))
	for _, key := range children {
		w.known[key] = struct{}{}
		if fields, ok := w.get(key); ok {
			rows = append(rows, lens.NewRow(key, fields))
		}
	}

	out := lens.NewPipe(0)

	go func() {
		if !out.SendSnapshot(ctx, rows) {
			out.Close(nil)
			return
		}

		for {
			var msgs []lens.Message
			select {
			case <-ctx.Done():
				out.Close(nil)
				return
			case ev := <-w.childCh:
				if ev.Type == zk.EventNodeDeleted {
					out.Close(fmt.Errorf("topic node %s deleted", w.dir))
					return
				}
				children, err := w.children()
				if err != nil {
					out.Close(closeErr(ctx, fmt.Errorf("failed to list %s: %w", w.dir, err)))
					return
				}
				msgs = w.diff(children)
			case de := <-w.events:
				if _, ok := w.known[de.key]; !ok {
					continue
				}
				if de.event.Type == zk.EventNodeDeleted {
					delete(w.known, de.key)
					msgs = append(msgs, lens.Remove(de.key))
					break
				}
				if fields, ok := w.get(de.key); ok {
					msgs = append(msgs, lens.Upsert(de.key, fields))
				}
			}

			for _, msg := range msgs {
				if !out.Send(ctx, msg) {
					out.Close(nil)
					return
				}
			}
		}
	}()

	return lens.Shape(ctx, out, sub, s.clock), nil
}

func (w *topicWatch) children() ([]string, error) {
	children, _, ch, err := w.s.conn.ChildrenW(w.dir)
	if err != nil {
		return nil, err
	}
	w.childCh = ch
	slices.Sort(children)
	return children, nil
}

// diff reconciles known against the current children. Only new children are
// read; existing ones report changes through their data watches.
func (w *topicWatch) diff(children []string) []lens.Message {
	var msgs []lens.Message
	current := make(map[string]struct{}, len(children))
	for _, key := range children {
		current[key] = struct{}{}
	}

	var gone []string
	for key := range w.known {
		if _, ok := current[key]; !ok {
			gone = append(gone, key)
		}
	}
	slices.Sort(gone)
	for _, key := range gone {
		delete(w.known, key)
		msgs = append(msgs, lens.Remove(key))
	}

	for _, key := range children {
		if _, ok := w.known[key]; ok {
			continue
		}
		w.known[key] = struct{}{}
		if fields, ok := w.get(key); ok {
			msgs = append(msgs, lens.Upsert(key, fields))
		}
	}
	return msgs
}

// get reads a child and arms a data watch on it.
func (w *topicWatch) get(key string) (lens.Fields, bool) {
	data, _, ch, err := w.s.conn.GetW(path.Join(w.dir, key))
	if err != nil {
		return nil, false
	}
	go func() {
		select {
		case ev := <-ch:
			select {
			case w.events <- dataEvent{key: key, event: ev}:
			case <-w.ctx.Done():
			}
		case <-w.ctx.Done():
		}
	}()
	fields, err := w.s.codec.DecodeFields(data)
	if err != nil {
		return nil, false
	}
	return fields, true
}

func closeErr(ctx context.Context, err error) error {
	if ctx.Err() != nil || errors.Is(err, zk.ErrClosing) {
		return nil
	}
	return err
}
