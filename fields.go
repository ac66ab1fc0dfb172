package lens

import "github.com/zoobzio/capitan"

// Field keys for Reconciler events.
var (
	// KeyTopic is the subscription topic.
	KeyTopic = capitan.NewStringKey("topic")

	// KeyState is the current state of the Reconciler.
	KeyState = capitan.NewStringKey("state")

	// KeyOldState is the previous state before a transition.
	KeyOldState = capitan.NewStringKey("old_state")

	// KeyNewState is the new state after a transition.
	KeyNewState = capitan.NewStringKey("new_state")

	// KeyKind is the kind of the message being processed.
	KeyKind = capitan.NewStringKey("kind")

	// KeyRowKey is the key carried by the message being processed.
	KeyRowKey = capitan.NewStringKey("key")

	// KeyRows is the number of rows in a published collection.
	KeyRows = capitan.NewIntKey("rows")

	// KeySequence is the publish sequence number.
	KeySequence = capitan.NewIntKey("sequence")

	// KeyError is the error message when an operation fails.
	KeyError = capitan.NewStringKey("error")

	// KeyDuration is how long a publish took.
	KeyDuration = capitan.NewDurationKey("duration")
)
