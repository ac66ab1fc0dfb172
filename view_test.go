package lens

import (
	"reflect"
	"testing"
)

func bid(n float64) Fields { return Fields{"bid": Number(n)} }

func keysOf(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Key
	}
	return out
}

func live(t *testing.T, rows ...Row) View {
	t.Helper()
	msgs := []Message{SnapshotBegin()}
	for _, r := range rows {
		msgs = append(msgs, SnapshotRow(r.Key, r.Fields))
	}
	msgs = append(msgs, SnapshotEnd())
	v, _ := Replay(msgs...)
	if v.State() != StateLive {
		t.Fatalf("expected live, got %s", v.State())
	}
	return v
}

func TestStep_SnapshotPublishedOnce(t *testing.T) {
	v, published := Replay(
		SnapshotBegin(),
		SnapshotRow("a", bid(1)),
		SnapshotRow("b", bid(2)),
		SnapshotRow("c", bid(3)),
		SnapshotEnd(),
	)

	if v.State() != StateLive {
		t.Errorf("expected live, got %s", v.State())
	}
	if len(published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(published))
	}
	if got := keysOf(published[0]); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("expected [a b c], got %v", got)
	}
	for i, r := range published[0] {
		if n, _ := r.Fields["bid"].Num(); n != float64(i+1) {
			t.Errorf("row %d: expected bid %d, got %v", i, i+1, n)
		}
	}
}

func TestStep_EmptySnapshotPublishesEmptyCollection(t *testing.T) {
	v, published := Replay(SnapshotBegin(), SnapshotEnd())

	if v.State() != StateLive {
		t.Errorf("expected live, got %s", v.State())
	}
	if len(published) != 1 || len(published[0]) != 0 {
		t.Errorf("expected one empty publish, got %v", published)
	}
}

func TestStep_StagingNotVisibleBeforeEnd(t *testing.T) {
	v, published := Replay(SnapshotBegin(), SnapshotRow("a", bid(1)))

	if v.State() != StateReceivingSnapshot {
		t.Errorf("expected receiving_snapshot, got %s", v.State())
	}
	if len(published) != 0 {
		t.Errorf("expected no publish, got %d", len(published))
	}
	if len(v.Rows()) != 0 {
		t.Errorf("expected no published rows, got %d", len(v.Rows()))
	}
	if v.Staged() != 1 {
		t.Errorf("expected 1 staged row, got %d", v.Staged())
	}
}

func TestStep_UpsertIdempotent(t *testing.T) {
	v := live(t, NewRow("a", bid(1)))

	once, out := Step(v, Upsert("a", bid(5)))
	if out != OutcomePublish {
		t.Fatalf("expected publish, got %s", out)
	}
	twice, out := Step(once, Upsert("a", bid(5)))
	if out != OutcomeNone {
		t.Errorf("expected none for identical upsert, got %s", out)
	}
	if !reflect.DeepEqual(once.Rows(), twice.Rows()) {
		t.Errorf("expected identical collections, got %v and %v", once.Rows(), twice.Rows())
	}
}

func TestStep_UpsertMergePreservesUntouchedFields(t *testing.T) {
	v := live(t, NewRow("A", Fields{"bid": Number(1), "ask": Number(2)}))

	v, out := Step(v, Upsert("A", bid(3)))
	if out != OutcomePublish {
		t.Fatalf("expected publish, got %s", out)
	}
	row, ok := v.Collection().Get("A")
	if !ok {
		t.Fatal("expected row A")
	}
	want := Fields{"bid": Number(3), "ask": Number(2)}
	if !row.Fields.Equal(want) {
		t.Errorf("expected %v, got %v", want, row.Fields)
	}
}

func TestStep_RemoveThenUpsertAppends(t *testing.T) {
	v := live(t, NewRow("a", bid(1)), NewRow("b", bid(2)), NewRow("c", bid(3)))

	v, _ = Step(v, Remove("a"))
	v, _ = Step(v, Upsert("a", bid(9)))

	if got := keysOf(v.Rows()); !reflect.DeepEqual(got, []string{"b", "c", "a"}) {
		t.Errorf("expected [b c a], got %v", got)
	}
	row, _ := v.Collection().Get("a")
	if !row.Fields.Equal(bid(9)) {
		t.Errorf("expected reinserted row to carry only new fields, got %v", row.Fields)
	}
}

func TestStep_UnknownRemoveDoesNotPublish(t *testing.T) {
	v := live(t, NewRow("a", bid(1)))

	next, out := Step(v, Remove("zzz"))
	if out != OutcomeNone {
		t.Errorf("expected none, got %s", out)
	}
	if !reflect.DeepEqual(next.Rows(), v.Rows()) {
		t.Errorf("expected unchanged collection")
	}
}

func TestStep_UpsertKeepsPosition(t *testing.T) {
	v := live(t, NewRow("a", bid(1)), NewRow("b", bid(2)), NewRow("c", bid(3)))

	v, _ = Step(v, Upsert("b", bid(20)))

	if got := keysOf(v.Rows()); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Errorf("expected [a b c], got %v", got)
	}
}

func TestStep_UnknownUpsertAppends(t *testing.T) {
	v := live(t, NewRow("a", bid(1)))

	v, out := Step(v, Upsert("b", bid(2)))
	if out != OutcomePublish {
		t.Errorf("expected publish, got %s", out)
	}
	if got := keysOf(v.Rows()); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestStep_EndToEnd(t *testing.T) {
	v, published := Replay(
		SnapshotBegin(),
		SnapshotRow("IBM", bid(100)),
		SnapshotRow("MSFT", bid(200)),
		SnapshotEnd(),
		Upsert("IBM", bid(101)),
		Remove("MSFT"),
		Upsert("GOOG", bid(300)),
	)

	if len(published) != 4 {
		t.Fatalf("expected 4 publishes, got %d", len(published))
	}
	rows := v.Rows()
	if got := keysOf(rows); !reflect.DeepEqual(got, []string{"IBM", "GOOG"}) {
		t.Fatalf("expected [IBM GOOG], got %v", got)
	}
	if !rows[0].Fields.Equal(bid(101)) {
		t.Errorf("expected IBM bid 101, got %v", rows[0].Fields)
	}
	if !rows[1].Fields.Equal(bid(300)) {
		t.Errorf("expected GOOG bid 300, got %v", rows[1].Fields)
	}
}

func TestStep_OutOfStateMessagesIgnored(t *testing.T) {
	tests := []struct {
		name string
		view View
		msg  Message
	}{
		{"row while awaiting", NewView(), SnapshotRow("a", bid(1))},
		{"end while awaiting", NewView(), SnapshotEnd()},
		{"upsert while awaiting", NewView(), Upsert("a", bid(1))},
		{"remove while awaiting", NewView(), Remove("a")},
		{"upsert while receiving", mustReplay(SnapshotBegin()), Upsert("a", bid(1))},
		{"remove while receiving", mustReplay(SnapshotBegin()), Remove("a")},
		{"row while live", mustReplay(SnapshotBegin(), SnapshotEnd()), SnapshotRow("a", bid(1))},
		{"end while live", mustReplay(SnapshotBegin(), SnapshotEnd()), SnapshotEnd()},
		{"unknown kind", NewView(), Message{Kind: 99}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, out := Step(tt.view, tt.msg)
			if out != OutcomeIgnored {
				t.Errorf("expected ignored, got %s", out)
			}
			if next.State() != tt.view.State() {
				t.Errorf("expected state %s, got %s", tt.view.State(), next.State())
			}
		})
	}
}

func mustReplay(msgs ...Message) View {
	v, _ := Replay(msgs...)
	return v
}

func TestStep_TerminatedAbsorbs(t *testing.T) {
	v := Terminate(live(t, NewRow("a", bid(1))))

	if len(v.Rows()) != 0 {
		t.Errorf("expected rows discarded, got %d", len(v.Rows()))
	}
	for _, msg := range []Message{
		SnapshotBegin(), SnapshotRow("a", nil), SnapshotEnd(), Upsert("a", bid(1)), Remove("a"),
	} {
		next, out := Step(v, msg)
		if out != OutcomeIgnored {
			t.Errorf("%s: expected ignored, got %s", msg, out)
		}
		if next.State() != StateTerminated {
			t.Errorf("%s: expected terminated, got %s", msg, next.State())
		}
	}
}

func TestStep_ResubscribeRestartsCleanly(t *testing.T) {
	v, published := Replay(
		SnapshotBegin(),
		SnapshotRow("a", bid(1)),
		SnapshotEnd(),
		Upsert("b", bid(2)),
		SnapshotBegin(),
		SnapshotRow("c", bid(3)),
		SnapshotEnd(),
	)

	if len(published) != 3 {
		t.Fatalf("expected 3 publishes, got %d", len(published))
	}
	if got := keysOf(published[2]); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("expected [c], got %v", got)
	}
	if got := keysOf(v.Rows()); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("expected [c], got %v", got)
	}
}

func TestStep_RestartDuringSnapshotDropsStagedRows(t *testing.T) {
	_, published := Replay(
		SnapshotBegin(),
		SnapshotRow("a", bid(1)),
		SnapshotBegin(),
		SnapshotRow("b", bid(2)),
		SnapshotEnd(),
	)

	if len(published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(published))
	}
	if got := keysOf(published[0]); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("expected [b], got %v", got)
	}
}

func TestStep_DuplicateSnapshotKeyReplacesInPlace(t *testing.T) {
	v, _ := Replay(
		SnapshotBegin(),
		SnapshotRow("a", bid(1)),
		SnapshotRow("b", bid(2)),
		SnapshotRow("a", bid(3)),
		SnapshotEnd(),
	)

	rows := v.Rows()
	if got := keysOf(rows); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("expected [a b], got %v", got)
	}
	if !rows[0].Fields.Equal(bid(3)) {
		t.Errorf("expected later row to win, got %v", rows[0].Fields)
	}
}

func TestStep_PublishedSliceNeverMutated(t *testing.T) {
	v := live(t, NewRow("a", bid(1)), NewRow("b", bid(2)))
	before := v.Rows()

	v, _ = Step(v, Upsert("a", bid(10)))
	v, _ = Step(v, Remove("b"))
	_, _ = Step(v, Upsert("c", bid(3)))

	if got := keysOf(before); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected earlier publish to keep [a b], got %v", got)
	}
	if !before[0].Fields.Equal(bid(1)) {
		t.Errorf("expected earlier publish to keep bid 1, got %v", before[0].Fields)
	}
}

func TestStep_DoesNotAliasMessageFields(t *testing.T) {
	f := bid(1)
	v, _ := Replay(SnapshotBegin(), SnapshotRow("a", f), SnapshotEnd())

	f["bid"] = Number(99)

	row, _ := v.Collection().Get("a")
	if !row.Fields.Equal(bid(1)) {
		t.Errorf("expected row to be isolated from message fields, got %v", row.Fields)
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		outcome  Outcome
		expected string
	}{
		{OutcomeNone, "none"},
		{OutcomePublish, "publish"},
		{OutcomeIgnored, "ignored"},
		{Outcome(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}
