package lens

// Outcome describes what a single Step did with a message.
type Outcome uint8

const (
	// OutcomeNone means the message was accepted without changing the
	// published collection: snapshot staging, an unknown-key remove, or an
	// upsert that changed nothing.
	OutcomeNone Outcome = iota

	// OutcomePublish means the collection changed and must be delivered to
	// the sink in full.
	OutcomePublish

	// OutcomeIgnored means the message was not valid in the current state
	// and was dropped.
	OutcomeIgnored
)

// String returns the string representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomePublish:
		return "publish"
	case OutcomeIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// View is the reconciliation state of one subscription: its lifecycle state,
// the published collection and the snapshot being staged. Views are values;
// Step never modifies the View it is given.
type View struct {
	state   State
	rows    Collection
	staging *staged
}

// staged is a persistent list of snapshot rows, newest first.
type staged struct {
	row  Row
	prev *staged
	n    int
}

func (s *staged) len() int {
	if s == nil {
		return 0
	}
	return s.n
}

func (s *staged) push(r Row) *staged {
	return &staged{row: r, prev: s, n: s.len() + 1}
}

// rows returns the staged rows in arrival order.
func (s *staged) rows() []Row {
	out := make([]Row, s.len())
	for i, cur := len(out)-1, s; cur != nil; i, cur = i-1, cur.prev {
		out[i] = cur.row
	}
	return out
}

// NewView returns an empty view awaiting its first snapshot.
func NewView() View { return View{} }

// State returns the view's lifecycle state.
func (v View) State() State { return v.state }

// Collection returns the published collection.
func (v View) Collection() Collection { return v.rows }

// Rows returns the published rows in order.
func (v View) Rows() []Row { return v.rows.Rows() }

// Staged returns the number of snapshot rows received so far.
func (v View) Staged() int { return v.staging.len() }

// Step applies msg to v and returns the next view and what happened.
//
//	AwaitingSnapshot  + SnapshotBegin → ReceivingSnapshot (collection cleared)
//	ReceivingSnapshot + SnapshotRow   → ReceivingSnapshot (row staged)
//	ReceivingSnapshot + SnapshotEnd   → Live              (staging published)
//	Live              + Upsert        → Live              (merge or append)
//	Live              + Remove        → Live              (delete if present)
//
// A SnapshotBegin while receiving or live restarts the snapshot. Anything else
// is ignored, as is every message once the view is terminated.
func Step(v View, msg Message) (View, Outcome) {
	if v.state == StateTerminated {
		return v, OutcomeIgnored
	}

	switch msg.Kind {
	case KindSnapshotBegin:
		return View{state: StateReceivingSnapshot}, OutcomeNone

	case KindSnapshotRow:
		if v.state != StateReceivingSnapshot {
			return v, OutcomeIgnored
		}
		v.staging = v.staging.push(NewRow(msg.Key, msg.Fields))
		return v, OutcomeNone

	case KindSnapshotEnd:
		if v.state != StateReceivingSnapshot {
			return v, OutcomeIgnored
		}
		return View{state: StateLive, rows: NewCollection(v.staging.rows()...)}, OutcomePublish

	case KindUpsert:
		if v.state != StateLive {
			return v, OutcomeIgnored
		}
		next, changed := v.rows.Upsert(msg.Key, msg.Fields)
		if !changed {
			return v, OutcomeNone
		}
		v.rows = next
		return v, OutcomePublish

	case KindRemove:
		if v.state != StateLive {
			return v, OutcomeIgnored
		}
		next, removed := v.rows.Remove(msg.Key)
		if !removed {
			return v, OutcomeNone
		}
		v.rows = next
		return v, OutcomePublish

	default:
		return v, OutcomeIgnored
	}
}

// Terminate returns the absorbing terminated view. All rows are discarded.
func Terminate(View) View {
	return View{state: StateTerminated}
}

// Replay folds msgs over a fresh view and returns the final view together
// with every collection that would have been published, in order.
func Replay(msgs ...Message) (View, [][]Row) {
	v := NewView()
	var published [][]Row
	for _, msg := range msgs {
		var out Outcome
		v, out = Step(v, msg)
		if out == OutcomePublish {
			published = append(published, v.Rows())
		}
	}
	return v, published
}
