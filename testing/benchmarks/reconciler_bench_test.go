package benchmarks

import (
	"context"
	"fmt"
	"testing"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/lens"
)

func nopSink() lens.Sink {
	return lens.SinkFunc(func(context.Context, []lens.Row) error { return nil })
}

// liveReconciler returns a sync reconciler that has published a snapshot of
// size rows, and the channel feeding it.
func liveReconciler(b *testing.B, size, buffer int) (*lens.Reconciler, chan lens.Message) {
	b.Helper()
	ch := make(chan lens.Message, size+buffer+2)
	r := lens.New(lens.NewSyncChannelSession(ch), lens.Subscription{Topic: "bench"}, nopSink()).SyncMode()

	ctx := context.Background()
	if err := r.Start(ctx); err != nil {
		b.Fatalf("Start() error = %v", err)
	}
	ch <- lens.SnapshotBegin()
	for i := 0; i < size; i++ {
		ch <- lens.SnapshotRow(fmt.Sprintf("k%d", i), lens.Fields{"v": lens.Number(0)})
	}
	ch <- lens.SnapshotEnd()
	for r.Process(ctx) {
	}
	return r, ch
}

func BenchmarkReconciler_UpsertExisting(b *testing.B) {
	r, ch := liveReconciler(b, 1000, b.N)
	for i := 0; i < b.N; i++ {
		ch <- lens.Upsert(fmt.Sprintf("k%d", i%1000), lens.Fields{"v": lens.Number(float64(i + 1))})
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Process(ctx)
	}
}

func BenchmarkReconciler_AppendAndRemove(b *testing.B) {
	r, ch := liveReconciler(b, 1000, 2*b.N)
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("n%d", i)
		ch <- lens.Upsert(key, lens.Fields{"v": lens.Number(1)})
		ch <- lens.Remove(key)
	}

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Process(ctx)
		r.Process(ctx)
	}
}

func BenchmarkView_Snapshot(b *testing.B) {
	msgs := make([]lens.Message, 0, 1002)
	msgs = append(msgs, lens.SnapshotBegin())
	for i := 0; i < 1000; i++ {
		msgs = append(msgs, lens.SnapshotRow(fmt.Sprintf("k%d", i), lens.Fields{"v": lens.Number(float64(i))}))
	}
	msgs = append(msgs, lens.SnapshotEnd())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v, published := lens.Replay(msgs...)
		if v.State() != lens.StateLive || len(published) != 1 {
			b.Fatalf("expected one live publish, got %s with %d", v.State(), len(published))
		}
	}
}

func BenchmarkCollection_Upsert(b *testing.B) {
	rows := make([]lens.Row, 1000)
	for i := range rows {
		rows[i] = lens.NewRow(fmt.Sprintf("k%d", i), lens.Fields{"v": lens.Number(0)})
	}
	c := lens.NewCollection(rows...)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c, _ = c.Upsert(fmt.Sprintf("k%d", i%1000), lens.Fields{"v": lens.Number(float64(i + 1))})
	}
}

func BenchmarkWindow_LiveUpdates(b *testing.B) {
	in := lens.NewPipe(b.N + 1003)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rows := make([]lens.Row, 1000)
	for i := range rows {
		rows[i] = lens.NewRow(fmt.Sprintf("k%d", i), lens.Fields{"v": lens.Number(float64(i))})
	}
	in.SendSnapshot(ctx, rows)
	for i := 0; i < b.N; i++ {
		in.Send(ctx, lens.Upsert(fmt.Sprintf("k%d", i%1000), lens.Fields{"v": lens.Number(float64(i % 2000))}))
	}
	in.Close(nil)

	sub := lens.Subscription{Topic: "bench", OrderBy: lens.Ordering{Field: "v", Descending: true}, Options: lens.Options{OutOfFocus: true, TopN: 20}}

	b.ResetTimer()
	out := lens.Shape(ctx, in, sub, clockz.RealClock)
	for range out.Messages() {
	}
}
