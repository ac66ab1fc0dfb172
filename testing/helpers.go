// Package testing provides test utilities and helpers for lens reconcilers
// and sessions.
package testing

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/lens"
)

// RecordingSink is a lens.Sink that keeps every published collection.
type RecordingSink struct {
	mu   sync.Mutex
	pubs [][]lens.Row
	err  error
}

// Publish implements lens.Sink. The collection is recorded even when the
// sink has been told to fail.
func (s *RecordingSink) Publish(_ context.Context, rows []lens.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pubs = append(s.pubs, rows)
	return s.err
}

// Fail makes subsequent publishes return err. Pass nil to succeed again.
func (s *RecordingSink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Count returns the number of publishes so far.
func (s *RecordingSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pubs)
}

// Last returns the most recent collection, or nil if nothing was published.
func (s *RecordingSink) Last() []lens.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pubs) == 0 {
		return nil
	}
	return s.pubs[len(s.pubs)-1]
}

// All returns every published collection in order.
func (s *RecordingSink) All() [][]lens.Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.pubs)
}

// WaitFor polls a condition until it returns true or timeout is reached.
// Returns true if the condition was met, false if timeout occurred.
func WaitFor(t *testing.T, timeout time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// WaitForState waits until the reconciler reaches the expected state or timeout occurs.
func WaitForState(t *testing.T, r *lens.Reconciler, expected lens.State, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return r.State() == expected
	})
}

// WaitForPublishes waits until the sink has recorded at least n publishes.
func WaitForPublishes(t *testing.T, s *RecordingSink, n int, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool {
		return s.Count() >= n
	})
}

// RequireState fails the test immediately if the reconciler is not in the expected state.
func RequireState(t *testing.T, r *lens.Reconciler, expected lens.State) {
	t.Helper()
	if got := r.State(); got != expected {
		t.Fatalf("expected state %s, got %s", expected, got)
	}
}

// RequireKeys fails the test if rows do not carry exactly keys, in order.
func RequireKeys(t *testing.T, rows []lens.Row, keys ...string) {
	t.Helper()
	got := Keys(rows)
	if !slices.Equal(got, keys) {
		t.Fatalf("expected keys %v, got %v", keys, got)
	}
}

// Keys returns the keys of rows in order.
func Keys(rows []lens.Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Key
	}
	return out
}

// Snapshot returns the message sequence of a complete snapshot of rows.
func Snapshot(rows ...lens.Row) []lens.Message {
	msgs := make([]lens.Message, 0, len(rows)+2)
	msgs = append(msgs, lens.SnapshotBegin())
	for _, r := range rows {
		msgs = append(msgs, lens.SnapshotRow(r.Key, r.Fields))
	}
	return append(msgs, lens.SnapshotEnd())
}

// NewTestReconciler creates a sync-mode reconciler on a sync channel session
// and starts it. Send messages on the returned channel and call Drain to
// process them.
func NewTestReconciler(t *testing.T, sub lens.Subscription, sink lens.Sink, opts ...lens.Option) (*lens.Reconciler, chan<- lens.Message) {
	t.Helper()
	ch := make(chan lens.Message, 64)
	r := lens.New(lens.NewSyncChannelSession(ch), sub, sink, opts...).SyncMode()
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = r.Close()
	})
	return r, ch
}

// Drain processes messages until none are pending and returns how many were
// handled.
func Drain(r *lens.Reconciler) int {
	ctx := context.Background()
	n := 0
	for r.Process(ctx) {
		n++
	}
	return n
}
