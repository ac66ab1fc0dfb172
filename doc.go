/*
Package lens maintains a live, ordered, keyed view of rows fed by a subscription
that first delivers a snapshot and then incremental changes.

A Session opens a Subscription and yields a Stream of messages. A Reconciler
consumes the stream, folds every message into a View with Step, and hands the
complete row set to a Sink whenever it changes.

# Basic Usage

Build a reconciler over any session and start it:

	sub, err := lens.NewSubscription("market_data", "/bid DESC", "oof,top_n=20")
	if err != nil {
	    return err
	}

	r := lens.New(session, sub, lens.SinkFunc(func(ctx context.Context, rows []lens.Row) error {
	    render(sub.OrderBy.Sort(rows))
	    return nil
	}))

	if err := r.Start(ctx); err != nil {
	    return err
	}
	defer r.Close()

Start returns once the first snapshot is live, or with the error that stopped
the subscription before it got there.

# States

	AwaitingSnapshot  → ReceivingSnapshot → Live → Terminated

Rows received while a snapshot is in progress are staged and published
together at SnapshotEnd. In Live, an Upsert merges into the existing row in
place or appends a new one, and a Remove deletes the row. Terminated is
absorbing: a failed or cancelled stream never publishes again.

# Sink Delivery

Publishing runs through a pipz pipeline, so sink delivery can be hardened
without touching the reconciler:

	r := lens.New(session, sub, sink,
	    lens.WithRetry(3),
	    lens.WithTimeout(time.Second),
	    lens.WithCircuitBreaker(5, 30*time.Second),
	)

A failed publish is recorded in LastError and ErrorHistory. The view keeps
tracking the feed and the next publish carries the full set again.

# Backends

Feed sessions live under pkg/: file, nats, redis, postgres, etcd, consul,
zookeeper, kubernetes, firestore and websocket. Sessions that read raw keyed
entities apply Shape so ordering, result windows, out-of-focus removes and
conflation behave as the subscription asked.

# Multiple Grids

A Board starts several reconcilers together, typically over one shared
session:

	b := lens.NewBoard()
	b.Add("all", lens.New(session, all, allSink))
	b.Add("top", lens.New(session, top, topSink))
	err := b.Start(ctx)

# Observability

Lifecycle events are emitted as capitan signals (ReconcilerStarted,
ReconcilerStateChanged, PublishFailed and others). Hook them to log or export; the
library itself never writes logs.
*/
package lens
