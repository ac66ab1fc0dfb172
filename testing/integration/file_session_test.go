package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zoobzio/lens"
	"github.com/zoobzio/lens/pkg/file"
	lenstest "github.com/zoobzio/lens/testing"
)

func writeRow(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

func topicDir(t *testing.T) (root, dir string) {
	t.Helper()
	root = t.TempDir()
	dir = filepath.Join(root, "quotes")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("failed to create topic dir: %v", err)
	}
	return root, dir
}

func TestReconciler_FileSession_InitialLoad(t *testing.T) {
	root, dir := topicDir(t)
	writeRow(t, dir, "IBM.json", `{"bid": 100}`)
	writeRow(t, dir, "MSFT.yaml", "bid: 200\n")

	sink := &lenstest.RecordingSink{}
	r := lens.New(file.New(root), lens.Subscription{Topic: "quotes"}, sink)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	lenstest.RequireState(t, r, lens.StateLive)
	if sink.Count() != 1 {
		t.Errorf("expected the snapshot published once, got %d", sink.Count())
	}
	lenstest.RequireKeys(t, sink.Last(), "IBM", "MSFT")
}

func TestReconciler_FileSession_LiveUpdates(t *testing.T) {
	root, dir := topicDir(t)
	writeRow(t, dir, "IBM.json", `{"bid": 100, "venue": "X"}`)

	sink := &lenstest.RecordingSink{}
	r := lens.New(file.New(root), lens.Subscription{Topic: "quotes"}, sink)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	writeRow(t, dir, "GOOG.json", `{"bid": 300}`)
	if !lenstest.WaitFor(t, 2*time.Second, func() bool { return len(r.Rows()) == 2 }) {
		t.Fatalf("expected GOOG to be added, got %v", lenstest.Keys(r.Rows()))
	}
	lenstest.RequireKeys(t, r.Rows(), "IBM", "GOOG")

	writeRow(t, dir, "IBM.json", `{"bid": 101}`)
	if !lenstest.WaitFor(t, 2*time.Second, func() bool {
		row, _ := lens.NewCollection(r.Rows()...).Get("IBM")
		bid, _ := row.Fields["bid"].Num()
		return bid == 101
	}) {
		t.Fatal("expected IBM bid 101")
	}
	row, _ := lens.NewCollection(r.Rows()...).Get("IBM")
	if venue, _ := row.Fields["venue"].Str(); venue != "X" {
		t.Errorf("expected venue kept by merge, got %v", row.Fields["venue"])
	}
	lenstest.RequireKeys(t, r.Rows(), "IBM", "GOOG")

	if err := os.Remove(filepath.Join(dir, "IBM.json")); err != nil {
		t.Fatalf("failed to remove: %v", err)
	}
	if !lenstest.WaitFor(t, 2*time.Second, func() bool { return len(r.Rows()) == 1 }) {
		t.Fatalf("expected IBM removed, got %v", lenstest.Keys(r.Rows()))
	}
	lenstest.RequireKeys(t, r.Rows(), "GOOG")
}

func TestReconciler_FileSession_TopWindow(t *testing.T) {
	root, dir := topicDir(t)
	writeRow(t, dir, "a.json", `{"bid": 1}`)
	writeRow(t, dir, "b.json", `{"bid": 3}`)
	writeRow(t, dir, "c.json", `{"bid": 2}`)

	sub, err := lens.NewSubscription("quotes", "/bid DESC", "oof,top_n=2")
	if err != nil {
		t.Fatalf("NewSubscription failed: %v", err)
	}
	sink := &lenstest.RecordingSink{}
	r := lens.New(file.New(root), sub, sink)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	lenstest.RequireKeys(t, r.Rows(), "b", "c")

	// a overtakes c, which leaves the window.
	writeRow(t, dir, "a.json", `{"bid": 9}`)
	if !lenstest.WaitFor(t, 2*time.Second, func() bool { return len(r.Rows()) == 2 && r.Rows()[1].Key == "a" }) {
		t.Fatalf("expected [b a], got %v", lenstest.Keys(r.Rows()))
	}
	lenstest.RequireKeys(t, sub.OrderBy.Sort(r.Rows()), "a", "b")
}

func TestReconciler_FileSession_Conflation(t *testing.T) {
	root, dir := topicDir(t)
	writeRow(t, dir, "IBM.json", `{"bid": 100}`)

	sub, err := lens.NewSubscription("quotes", "", "conflation=200ms")
	if err != nil {
		t.Fatalf("NewSubscription failed: %v", err)
	}
	sink := &lenstest.RecordingSink{}
	r := lens.New(file.New(root), sub, sink)
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 1; i <= 5; i++ {
		writeRow(t, dir, "IBM.json", `{"bid": `+string(rune('0'+i))+`}`)
		time.Sleep(10 * time.Millisecond)
	}

	if !lenstest.WaitFor(t, 2*time.Second, func() bool {
		bid, _ := r.Rows()[0].Fields["bid"].Num()
		return bid == 5
	}) {
		t.Fatalf("expected the latest bid, got %v", r.Rows())
	}
	if n := sink.Count(); n > 3 {
		t.Errorf("expected conflated publishes, got %d", n)
	}
}

func TestReconciler_FileSession_MissingTopic(t *testing.T) {
	sink := &lenstest.RecordingSink{}
	r := lens.New(file.New(t.TempDir()), lens.Subscription{Topic: "quotes"}, sink)
	defer r.Close()

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail for a missing topic")
	}
	lenstest.RequireState(t, r, lens.StateTerminated)
	if r.LastError() == nil {
		t.Error("expected LastError to be recorded")
	}
	if sink.Count() != 0 {
		t.Errorf("expected no publishes, got %d", sink.Count())
	}
}
