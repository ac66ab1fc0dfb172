package lens

import "time"

// Publication carries one full collection through the sink pipeline.
// Middleware may inspect or replace Rows before the sink receives them; the
// reconciler's own collection is never affected.
type Publication struct {
	// Subscription is the request the rows belong to.
	Subscription Subscription

	// Sequence numbers publications of one reconciler from 1.
	Sequence uint64

	// Cause is the kind of message that triggered the publish:
	// SnapshotEnd, Upsert or Remove.
	Cause Kind

	// Key is the key of the message that triggered the publish, empty for
	// a snapshot.
	Key string

	// Rows is the entire current collection in order.
	Rows []Row

	// At is when the triggering message was applied.
	At time.Time
}

// Len returns the number of rows.
func (p *Publication) Len() int { return len(p.Rows) }

// Keys returns the row keys in order.
func (p *Publication) Keys() []string {
	keys := make([]string, len(p.Rows))
	for i, r := range p.Rows {
		keys[i] = r.Key
	}
	return keys
}
