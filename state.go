package lens

// State represents the current state of a View or Reconciler.
type State int32

const (
	// StateAwaitingSnapshot indicates no snapshot has started yet.
	StateAwaitingSnapshot State = iota

	// StateReceivingSnapshot indicates snapshot rows are being staged and
	// nothing has been handed to the sink for this snapshot.
	StateReceivingSnapshot

	// StateLive indicates the snapshot was published and incremental
	// upserts and removes are applied as they arrive.
	StateLive

	// StateTerminated indicates the subscription was torn down or failed.
	// It is absorbing: no further mutation or publish happens.
	StateTerminated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingSnapshot:
		return "awaiting_snapshot"
	case StateReceivingSnapshot:
		return "receiving_snapshot"
	case StateLive:
		return "live"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
