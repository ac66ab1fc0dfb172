package lens

import "time"

// MetricsProvider allows integration with metrics systems like Prometheus, StatsD, etc.
// Implement this interface to receive callbacks on key reconciler events.
type MetricsProvider interface {
	// OnStateChange is called when the reconciler transitions between states.
	OnStateChange(from, to State)

	// OnMessage is called for every message read from the stream.
	OnMessage(kind Kind)

	// OnIgnored is called when a message is dropped because it is not valid
	// in the state it arrived in.
	OnIgnored(kind Kind, state State)

	// OnPublishSuccess is called when the sink accepted a collection of the
	// given size. Duration covers the whole sink pipeline.
	OnPublishSuccess(rows int, duration time.Duration)

	// OnPublishFailure is called when the sink pipeline failed.
	OnPublishFailure(rows int, duration time.Duration)
}

// NoOpMetricsProvider is a no-op implementation of MetricsProvider.
// Use this as an embedded type to implement only the methods you need.
type NoOpMetricsProvider struct{}

func (NoOpMetricsProvider) OnStateChange(_, _ State)                {}
func (NoOpMetricsProvider) OnMessage(_ Kind)                        {}
func (NoOpMetricsProvider) OnIgnored(_ Kind, _ State)               {}
func (NoOpMetricsProvider) OnPublishSuccess(_ int, _ time.Duration) {}
func (NoOpMetricsProvider) OnPublishFailure(_ int, _ time.Duration) {}
