package lens

import "github.com/zoobzio/capitan"

// Reconciler lifecycle signals.
var (
	// ReconcilerStarted is emitted when a Reconciler opens its subscription.
	ReconcilerStarted = capitan.NewSignal(
		"lens.reconciler.started",
		"Reconciler subscription opened",
	)

	// ReconcilerStopped is emitted when a Reconciler stops consuming its stream.
	ReconcilerStopped = capitan.NewSignal(
		"lens.reconciler.stopped",
		"Reconciler consumption stopped",
	)

	// ReconcilerStateChanged is emitted when a Reconciler transitions between states.
	ReconcilerStateChanged = capitan.NewSignal(
		"lens.reconciler.state.changed",
		"Reconciler state transition",
	)
)

// Message processing signals.
var (
	// MessageReceived is emitted for every message read from the stream.
	MessageReceived = capitan.NewSignal(
		"lens.message.received",
		"Feed message received",
	)

	// MessageIgnored is emitted when a message is not valid in the current state.
	MessageIgnored = capitan.NewSignal(
		"lens.message.ignored",
		"Feed message ignored",
	)
)

// Sink delivery signals.
var (
	// PublishSucceeded is emitted when the sink accepted a collection.
	PublishSucceeded = capitan.NewSignal(
		"lens.publish.succeeded",
		"Collection published to sink",
	)

	// PublishFailed is emitted when the sink pipeline returned an error.
	PublishFailed = capitan.NewSignal(
		"lens.publish.failed",
		"Collection publish failed",
	)
)

// Session signals.
var (
	// SessionFailed is emitted when a stream ends with an error.
	SessionFailed = capitan.NewSignal(
		"lens.session.failed",
		"Feed session failed",
	)

	// SessionCompleted is emitted when a stream ends without an error.
	SessionCompleted = capitan.NewSignal(
		"lens.session.completed",
		"Feed session completed",
	)
)
