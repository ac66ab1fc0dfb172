// Package lens maintains live, ordered, keyed views of streaming subscription
// feeds.
//
// A feed first delivers a bulk snapshot and then incremental changes
// indefinitely. The core type is Reconciler, which consumes a feed's messages
// strictly in order, keeps the current row collection, and hands the whole
// collection to a Sink every time it changes:
//
//	Session → Stream → Step → Collection → Pipeline → Sink
//
// # State Machine
//
// A Reconciler maintains one of four states:
//
//   - AwaitingSnapshot: subscription opened, no snapshot yet
//   - ReceivingSnapshot: snapshot rows are being staged
//   - Live: snapshot published, upserts and removes applied as they arrive
//   - Terminated: torn down or failed; nothing further is published
//
// The transition function Step is pure and can be driven directly, without
// any session or sink.
//
// # Sessions
//
// The Session interface abstracts feeds. The core package provides
// ChannelSession for testing. Backends are available in pkg/:
//
//   - pkg/file: a directory of row files, using fsnotify
//   - pkg/nats: NATS JetStream KV buckets
//   - pkg/redis: Redis keys under a prefix, via keyspace notifications
//   - pkg/postgres: a table, via LISTEN/NOTIFY
//   - pkg/etcd: etcd key prefixes
//   - pkg/consul: Consul KV prefixes, via blocking queries
//   - pkg/zookeeper: ZooKeeper child nodes
//   - pkg/kubernetes: ConfigMaps selected by label
//   - pkg/firestore: Firestore collections
//   - pkg/websocket: a remote feed server speaking the JSON wire envelope
//
// # Example
//
//	sub, err := lens.NewSubscription("market_data", "/bid DESC", "oof,conflation=3000ms,top_n=20,skip_n=0")
//	if err != nil {
//	    return err
//	}
//
//	r := lens.New(session, sub, lens.SinkFunc(func(ctx context.Context, rows []lens.Row) error {
//	    grid.SetRows(rows)
//	    return nil
//	}), lens.WithTimeout(time.Second))
//
//	if err := r.Start(ctx); err != nil {
//	    return err
//	}
//	defer r.Close()
package lens

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/pipz"
)

// ErrReconcilerClosed is returned by Start after Close.
var ErrReconcilerClosed = errors.New("reconciler closed")

// Reconciler consumes one subscription's feed and keeps its materialized
// view, publishing the full collection to a Sink on every change.
type Reconciler struct {
	session        Session
	sub            Subscription
	pipeline       pipz.Chainable[*Publication]
	startupTimeout time.Duration
	syncMode       bool
	clock          clockz.Clock
	metrics        MetricsProvider
	onStop         func(State)

	state        atomic.Int32
	rows         atomic.Pointer[[]Row]
	lastError    atomic.Pointer[error]
	errorHistory *ring[error]

	// mu serializes message handling, including sink delivery, with Close.
	mu   sync.Mutex
	view View
	seq  uint64

	lifecycle sync.Mutex
	started   bool
	closed    bool
	cancel    context.CancelFunc
	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once
	stopOnce  sync.Once

	// For sync mode: the stream to read from in Process.
	stream Stream
}

// New creates a Reconciler for sub, reading from session and publishing to
// sink.
//
// Pipeline options (With*) configure sink delivery. Instance configuration
// uses chainable methods before calling Start().
//
// Example:
//
//	r := lens.New(session, sub, sink,
//	    lens.WithRetry(3),
//	    lens.WithTimeout(500*time.Millisecond),
//	).StartupTimeout(10 * time.Second)
func New(session Session, sub Subscription, sink Sink, opts ...Option) *Reconciler {
	terminal := pipz.Effect(sinkID, func(ctx context.Context, p *Publication) error {
		return sink.Publish(ctx, p.Rows)
	})

	r := &Reconciler{
		session:  session,
		sub:      sub,
		pipeline: buildPipeline(terminal, opts),
		clock:    clockz.RealClock,
		view:     NewView(),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.state.Store(int32(StateAwaitingSnapshot))
	return r
}

// -----------------------------------------------------------------------------
// Chainable Instance Configuration
// -----------------------------------------------------------------------------

// SyncMode enables synchronous processing for testing.
// In sync mode Start only opens the subscription and no goroutine is
// started; use Process() to handle messages one at a time. Must be called
// before Start().
func (r *Reconciler) SyncMode() *Reconciler {
	r.syncMode = true
	return r
}

// Clock sets a custom clock for time operations.
// Use this with clockz.FakeClock for deterministic timing tests.
// Must be called before Start().
func (r *Reconciler) Clock(clock clockz.Clock) *Reconciler {
	r.clock = clock
	return r
}

// StartupTimeout sets the maximum duration Start waits for the initial
// snapshot to be published. Default: no timeout (wait indefinitely).
// Must be called before Start().
func (r *Reconciler) StartupTimeout(d time.Duration) *Reconciler {
	r.startupTimeout = d
	return r
}

// Metrics sets a metrics provider for observability integration.
// Must be called before Start().
func (r *Reconciler) Metrics(provider MetricsProvider) *Reconciler {
	r.metrics = provider
	return r
}

// OnStop sets a callback that is invoked once when the reconciler stops,
// with its final state. Must be called before Start().
func (r *Reconciler) OnStop(fn func(State)) *Reconciler {
	r.onStop = fn
	return r
}

// ErrorHistorySize sets the number of recent errors to retain.
// Use 0 (default) to only retain the most recent error via LastError().
// Must be called before Start().
func (r *Reconciler) ErrorHistorySize(n int) *Reconciler {
	r.errorHistory = newRing[error](n)
	return r
}

// -----------------------------------------------------------------------------
// Accessors
// -----------------------------------------------------------------------------

// Subscription returns the subscription this reconciler serves.
func (r *Reconciler) Subscription() Subscription {
	return r.sub
}

// State returns the current state of the Reconciler.
func (r *Reconciler) State() State {
	return State(r.state.Load())
}

// Rows returns the current published collection. The slice must not be
// modified. It is empty before the first snapshot and after termination.
func (r *Reconciler) Rows() []Row {
	ptr := r.rows.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// LastError returns the last error encountered, or nil.
func (r *Reconciler) LastError() error {
	ptr := r.lastError.Load()
	if ptr == nil {
		return nil
	}
	return *ptr
}

// ErrorHistory returns the recent error history, oldest first.
// Returns nil if error history is not enabled (see ErrorHistorySize).
func (r *Reconciler) ErrorHistory() []error {
	return r.errorHistory.all()
}

// Done returns a channel that is closed once the reconciler has stopped.
func (r *Reconciler) Done() <-chan struct{} {
	return r.done
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start opens the subscription and begins consuming it. It blocks until the
// initial snapshot has been published, the stream ends, the startup timeout
// expires, or ctx is done. If Start returns a timeout error the reconciler
// keeps consuming in the background; call Close to tear it down.
//
// In sync mode, Start only opens the subscription.
//
// Start can only be called once. Subsequent calls return ErrAlreadyStarted.
func (r *Reconciler) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	if r.closed {
		r.lifecycle.Unlock()
		return ErrReconcilerClosed
	}
	if r.started {
		r.lifecycle.Unlock()
		return ErrAlreadyStarted
	}
	r.started = true
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.lifecycle.Unlock()

	if err := r.sub.Validate(); err != nil {
		r.fail(runCtx, err)
		r.stop(runCtx)
		return err
	}

	capitan.Emit(ctx, ReconcilerStarted,
		KeyTopic.Field(r.sub.Topic),
	)

	stream, err := r.session.Open(runCtx, r.sub)
	if err != nil {
		err = fmt.Errorf("failed to open subscription %q: %w", r.sub.Topic, err)
		r.fail(runCtx, err)
		r.stop(runCtx)
		return err
	}

	if r.syncMode {
		r.stream = stream
		return nil
	}

	go r.consume(runCtx, stream)

	waitCtx := ctx
	if r.startupTimeout > 0 {
		var cancelWait context.CancelFunc
		waitCtx, cancelWait = r.clock.WithTimeout(ctx, r.startupTimeout)
		defer cancelWait()
	}

	select {
	case <-r.ready:
		return nil
	case <-r.done:
		if err := r.LastError(); err != nil {
			return err
		}
		return fmt.Errorf("subscription %q ended before its snapshot completed", r.sub.Topic)
	case <-waitCtx.Done():
		if r.startupTimeout > 0 && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("startup timeout: snapshot not published within %v", r.startupTimeout)
		}
		return waitCtx.Err()
	}
}

// Process reads and handles the next message from the stream.
// This is only available in sync mode and is used for deterministic testing.
// Returns false if no message is available, the stream has ended, or the
// reconciler is terminated.
func (r *Reconciler) Process(ctx context.Context) bool {
	if !r.syncMode || r.stream == nil || r.State() == StateTerminated {
		return false
	}

	select {
	case msg, ok := <-r.stream.Messages():
		if !ok {
			r.end(ctx, r.stream.Err())
			r.stop(ctx)
			return false
		}
		r.handle(ctx, msg)
		return true
	default:
		return false
	}
}

// Close tears the subscription down. The session context is canceled, the
// reconciler enters Terminated, and once Close returns the sink receives
// nothing further. Close must not be called from within a Sink.
func (r *Reconciler) Close() error {
	r.lifecycle.Lock()
	r.closed = true
	cancel := r.cancel
	running := r.started && !r.syncMode
	r.lifecycle.Unlock()

	if cancel != nil {
		cancel()
	}

	ctx := context.Background()
	r.mu.Lock()
	r.terminate(ctx)
	r.mu.Unlock()

	if running {
		<-r.done
	} else {
		r.stop(ctx)
	}
	return nil
}

// consume reads the stream until it ends or ctx is canceled.
func (r *Reconciler) consume(ctx context.Context, stream Stream) {
	defer r.stop(ctx)

	messages := stream.Messages()
	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.terminate(ctx)
			r.mu.Unlock()
			return
		case msg, ok := <-messages:
			if !ok {
				r.end(ctx, stream.Err())
				return
			}
			r.handle(ctx, msg)
		}
	}
}

// handle applies one message and publishes if the collection changed.
func (r *Reconciler) handle(ctx context.Context, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.view.State() == StateTerminated {
		return
	}

	capitan.Emit(ctx, MessageReceived,
		KeyTopic.Field(r.sub.Topic),
		KeyKind.Field(msg.Kind.String()),
		KeyRowKey.Field(msg.Key),
	)
	if r.metrics != nil {
		r.metrics.OnMessage(msg.Kind)
	}

	prev := r.view
	next, outcome := Step(prev, msg)
	r.view = next
	r.storeRows(next)
	r.transitionState(ctx, prev.State(), next.State())

	switch outcome {
	case OutcomeIgnored:
		capitan.Emit(ctx, MessageIgnored,
			KeyTopic.Field(r.sub.Topic),
			KeyKind.Field(msg.Kind.String()),
			KeyRowKey.Field(msg.Key),
			KeyState.Field(prev.State().String()),
		)
		if r.metrics != nil {
			r.metrics.OnIgnored(msg.Kind, prev.State())
		}
	case OutcomePublish:
		r.publish(ctx, msg, next.Rows())
	}

	if next.State() == StateLive {
		r.readyOnce.Do(func() { close(r.ready) })
	}
}

// publish delivers rows through the sink pipeline. Called with mu held.
func (r *Reconciler) publish(ctx context.Context, cause Message, rows []Row) {
	r.seq++
	start := r.clock.Now()
	pub := &Publication{
		Subscription: r.sub,
		Sequence:     r.seq,
		Cause:        cause.Kind,
		Key:          cause.Key,
		Rows:         rows,
		At:           start,
	}

	_, err := r.pipeline.Process(ctx, pub)
	elapsed := r.clock.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		err = fmt.Errorf("publish %d failed: %w", pub.Sequence, err)
		r.setError(err)
		capitan.Emit(ctx, PublishFailed,
			KeyTopic.Field(r.sub.Topic),
			KeySequence.Field(int(pub.Sequence)),
			KeyRows.Field(len(rows)),
			KeyError.Field(err.Error()),
		)
		if r.metrics != nil {
			r.metrics.OnPublishFailure(len(rows), elapsed)
		}
		return
	}

	capitan.Emit(ctx, PublishSucceeded,
		KeyTopic.Field(r.sub.Topic),
		KeySequence.Field(int(pub.Sequence)),
		KeyRows.Field(len(rows)),
		KeyDuration.Field(elapsed),
	)
	if r.metrics != nil {
		r.metrics.OnPublishSuccess(len(rows), elapsed)
	}
}

// end handles the stream closing, cleanly or with a failure.
func (r *Reconciler) end(ctx context.Context, err error) {
	if err != nil {
		r.fail(ctx, fmt.Errorf("subscription %q failed: %w", r.sub.Topic, err))
	} else {
		capitan.Emit(ctx, SessionCompleted,
			KeyTopic.Field(r.sub.Topic),
		)
	}
	r.mu.Lock()
	r.terminate(ctx)
	r.mu.Unlock()
}

// fail records a subscription-level error.
func (r *Reconciler) fail(ctx context.Context, err error) {
	r.setError(err)
	capitan.Emit(ctx, SessionFailed,
		KeyTopic.Field(r.sub.Topic),
		KeyError.Field(err.Error()),
	)
	r.mu.Lock()
	r.terminate(ctx)
	r.mu.Unlock()
}

// terminate discards the view and enters the absorbing state. Called with
// mu held.
func (r *Reconciler) terminate(ctx context.Context) {
	prev := r.view.State()
	if prev == StateTerminated {
		return
	}
	r.view = Terminate(r.view)
	r.storeRows(r.view)
	r.transitionState(ctx, prev, StateTerminated)
}

// stop runs the stop hooks once.
func (r *Reconciler) stop(ctx context.Context) {
	r.stopOnce.Do(func() {
		final := r.State()
		capitan.Emit(ctx, ReconcilerStopped,
			KeyTopic.Field(r.sub.Topic),
			KeyState.Field(final.String()),
		)
		if r.onStop != nil {
			r.onStop(final)
		}
		close(r.done)
	})
}

func (r *Reconciler) storeRows(v View) {
	rows := v.Rows()
	r.rows.Store(&rows)
}

// transitionState updates the state and emits a state change event if changed.
func (r *Reconciler) transitionState(ctx context.Context, oldState, newState State) {
	if oldState == newState {
		return
	}
	r.state.Store(int32(newState))
	capitan.Emit(ctx, ReconcilerStateChanged,
		KeyTopic.Field(r.sub.Topic),
		KeyOldState.Field(oldState.String()),
		KeyNewState.Field(newState.String()),
	)
	if r.metrics != nil {
		r.metrics.OnStateChange(oldState, newState)
	}
}

// setError stores an error atomically and adds it to the error history.
func (r *Reconciler) setError(err error) {
	e := err
	r.lastError.Store(&e)
	r.errorHistory.push(err)
}
