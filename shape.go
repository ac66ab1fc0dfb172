package lens

import (
	"context"
	"sort"
	"time"

	"github.com/zoobzio/clockz"
)

// Shape applies a subscription's ordering, result window, out-of-focus flag
// and conflation interval to a raw keyed feed. Backends that cannot evaluate
// a subscription's options server-side wrap their raw stream with Shape
// before returning it from Open.
//
// The raw feed must follow the Session contract. The shaped feed does too:
//
//   - the snapshot is delivered in order-by order and cut to the window
//   - rows entering the window arrive as an Upsert carrying the full row
//   - rows leaving the window, or deleted, arrive as a Remove, but only when
//     the OutOfFocus option is set
//   - with a conflation interval, updates for a key are coalesced and
//     delivered no more often than once per interval
func Shape(ctx context.Context, in Stream, sub Subscription, clock clockz.Clock) Stream {
	out := in
	ranked := sub.Options.Windowed() || !sub.OrderBy.IsZero()
	if ranked || !sub.Options.OutOfFocus {
		var w *window
		if ranked {
			w = newWindow(sub.OrderBy, sub.Options.TopN, sub.Options.SkipN)
		}
		oof := sub.Options.OutOfFocus
		out = relay(ctx, out, func(msg Message) []Message {
			var msgs []Message
			if w != nil {
				msgs = w.apply(msg)
			} else {
				msgs = []Message{msg}
			}
			if oof {
				return msgs
			}
			return dropRemoves(msgs)
		})
	}
	if sub.Options.Conflation > 0 {
		out = Conflate(ctx, out, sub.Options.Conflation, clock)
	}
	return out
}

func dropRemoves(msgs []Message) []Message {
	kept := msgs[:0]
	for _, m := range msgs {
		if m.Kind != KindRemove {
			kept = append(kept, m)
		}
	}
	return kept
}

// relay forwards in through fn, which maps each message to zero or more
// messages.
func relay(ctx context.Context, in Stream, fn func(Message) []Message) Stream {
	out := NewPipe(0)
	go func() {
		messages := in.Messages()
		for {
			select {
			case <-ctx.Done():
				out.Close(nil)
				return
			case msg, ok := <-messages:
				if !ok {
					out.Close(in.Err())
					return
				}
				for _, m := range fn(msg) {
					if !out.Send(ctx, m) {
						out.Close(nil)
						return
					}
				}
			}
		}
	}()
	return out
}

// -----------------------------------------------------------------------------
// Result window
// -----------------------------------------------------------------------------

// Window ranks a raw keyed feed by order and delivers only the rows at ranks
// [skipN, skipN+topN). A topN of zero leaves the window unbounded. Rows that
// leave the window produce a Remove; rows that enter it produce an Upsert
// with the full row; updates to rows that stay produce the original Upsert.
func Window(ctx context.Context, in Stream, order Ordering, topN, skipN int) Stream {
	w := newWindow(order, topN, skipN)
	return relay(ctx, in, w.apply)
}

type window struct {
	order Ordering
	top   int
	skip  int

	live    bool
	rows    map[string]Row
	arrival map[string]uint64
	next    uint64
	members []string
}

func newWindow(order Ordering, top, skip int) *window {
	w := &window{order: order, top: top, skip: skip}
	w.reset()
	return w
}

func (w *window) reset() {
	w.live = false
	w.rows = make(map[string]Row)
	w.arrival = make(map[string]uint64)
	w.members = nil
}

func (w *window) put(r Row) {
	if _, ok := w.arrival[r.Key]; !ok {
		w.next++
		w.arrival[r.Key] = w.next
	}
	w.rows[r.Key] = r
}

// rank returns the keys inside the window, best first.
func (w *window) rank() []string {
	all := make([]Row, 0, len(w.rows))
	for _, r := range w.rows {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool {
		if c := w.order.Compare(all[i], all[j]); c != 0 {
			return c < 0
		}
		return w.arrival[all[i].Key] < w.arrival[all[j].Key]
	})

	lo := w.skip
	if lo > len(all) {
		lo = len(all)
	}
	hi := len(all)
	if w.top > 0 && lo+w.top < hi {
		hi = lo + w.top
	}
	keys := make([]string, 0, hi-lo)
	for _, r := range all[lo:hi] {
		keys = append(keys, r.Key)
	}
	return keys
}

// apply consumes one raw message and returns the messages to deliver.
func (w *window) apply(msg Message) []Message {
	switch msg.Kind {
	case KindSnapshotBegin:
		w.reset()
		return nil

	case KindSnapshotRow:
		if w.live {
			return nil
		}
		w.put(NewRow(msg.Key, msg.Fields))
		return nil

	case KindSnapshotEnd:
		if w.live {
			return nil
		}
		w.live = true
		w.members = w.rank()
		out := make([]Message, 0, len(w.members)+2)
		out = append(out, SnapshotBegin())
		for _, k := range w.members {
			out = append(out, SnapshotRow(k, w.rows[k].Fields))
		}
		return append(out, SnapshotEnd())

	case KindUpsert:
		if !w.live {
			return nil
		}
		changed := true
		if cur, ok := w.rows[msg.Key]; ok {
			changed = cur.Changes(msg.Fields)
			w.rows[msg.Key] = cur.Merge(msg.Fields)
		} else {
			w.put(NewRow(msg.Key, msg.Fields))
		}
		return w.diff(msg.Key, msg.Fields, changed)

	case KindRemove:
		if !w.live {
			return nil
		}
		if _, ok := w.rows[msg.Key]; !ok {
			return nil
		}
		delete(w.rows, msg.Key)
		delete(w.arrival, msg.Key)
		return w.diff(msg.Key, nil, false)

	default:
		return nil
	}
}

// diff recomputes the window and returns the messages that move the
// delivered view from the old membership to the new one.
func (w *window) diff(key string, patch Fields, changed bool) []Message {
	before := make(map[string]bool, len(w.members))
	for _, k := range w.members {
		before[k] = true
	}
	w.members = w.rank()
	after := make(map[string]bool, len(w.members))
	for _, k := range w.members {
		after[k] = true
	}

	var out []Message
	for k := range before {
		if !after[k] {
			out = append(out, Remove(k))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })

	for _, k := range w.members {
		switch {
		case !before[k]:
			out = append(out, Upsert(k, w.rows[k].Fields))
		case k == key && changed:
			out = append(out, Upsert(k, patch))
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Conflation
// -----------------------------------------------------------------------------

// Conflate coalesces live updates per key and delivers them at most once per
// interval for any key. Consecutive Upserts merge; a Remove supersedes
// pending Upserts; an Upsert after a Remove is kept as Remove followed by a
// fresh Upsert so reinsertion still lands at the end of the view. Snapshot
// messages pass through immediately, and a new SnapshotBegin discards
// anything pending.
func Conflate(ctx context.Context, in Stream, interval time.Duration, clock clockz.Clock) Stream {
	out := NewPipe(0)
	go func() {
		var (
			timer clockz.Timer
			c     = newConflator()
			live  bool
		)
		messages := in.Messages()

		stopTimer := func() {
			if timer != nil {
				timer.Stop()
				timer = nil
			}
		}
		flush := func() bool {
			for _, m := range c.flush() {
				if !out.Send(ctx, m) {
					return false
				}
			}
			return true
		}

		for {
			var timerC <-chan time.Time
			if timer != nil {
				timerC = timer.C()
			}

			select {
			case <-ctx.Done():
				stopTimer()
				out.Close(nil)
				return

			case msg, ok := <-messages:
				if !ok {
					stopTimer()
					if flush() {
						out.Close(in.Err())
					} else {
						out.Close(nil)
					}
					return
				}

				switch msg.Kind {
				case KindUpsert, KindRemove:
					if live {
						c.add(msg)
						if timer == nil {
							timer = clock.NewTimer(interval)
						}
						continue
					}
				case KindSnapshotBegin:
					stopTimer()
					c.reset()
					live = false
				case KindSnapshotEnd:
					live = true
				}
				if !out.Send(ctx, msg) {
					stopTimer()
					out.Close(nil)
					return
				}

			case <-timerC:
				timer = nil
				if !flush() {
					out.Close(nil)
					return
				}
			}
		}
	}()
	return out
}

type pendingKey struct {
	remove bool
	upsert bool
	fields Fields
}

// conflator accumulates pending changes per key in first-arrival order.
type conflator struct {
	pending map[string]*pendingKey
	order   []string
}

func newConflator() *conflator {
	return &conflator{pending: make(map[string]*pendingKey)}
}

func (c *conflator) reset() {
	c.pending = make(map[string]*pendingKey)
	c.order = nil
}

func (c *conflator) len() int { return len(c.order) }

func (c *conflator) add(msg Message) {
	p, ok := c.pending[msg.Key]
	if !ok {
		p = &pendingKey{}
		c.pending[msg.Key] = p
		c.order = append(c.order, msg.Key)
	}
	switch msg.Kind {
	case KindUpsert:
		if p.upsert {
			for k, v := range msg.Fields {
				p.fields[k] = v
			}
			return
		}
		p.upsert = true
		p.fields = msg.Fields.Clone()
	case KindRemove:
		p.remove = true
		p.upsert = false
		p.fields = nil
	}
}

func (c *conflator) flush() []Message {
	var out []Message
	for _, k := range c.order {
		p := c.pending[k]
		if p.remove {
			out = append(out, Remove(k))
		}
		if p.upsert {
			out = append(out, Upsert(k, p.fields))
		}
	}
	c.reset()
	return out
}
