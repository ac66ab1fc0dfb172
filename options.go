package lens

import (
	"context"
	"time"

	"github.com/zoobzio/pipz"
)

// Pipeline identities.
var (
	sinkID           = pipz.NewIdentity("lens:sink", "Delivers the collection to the sink")
	retryID          = pipz.NewIdentity("lens:retry", "Retries sink delivery")
	backoffID        = pipz.NewIdentity("lens:backoff", "Retries sink delivery with exponential backoff")
	timeoutID        = pipz.NewIdentity("lens:timeout", "Bounds sink delivery time")
	fallbackID       = pipz.NewIdentity("lens:fallback", "Falls back to alternate sinks")
	circuitBreakerID = pipz.NewIdentity("lens:circuit-breaker", "Stops calling a failing sink")
	errorHandlerID   = pipz.NewIdentity("lens:error-handler", "Observes sink delivery errors")
	middlewareID     = pipz.NewIdentity("lens:middleware", "Runs middleware before the sink")
	rateLimiterID    = pipz.NewIdentity("lens:rate-limiter", "Limits sink delivery rate")
	filterID         = pipz.NewIdentity("lens:filter", "Conditionally runs a processor")
)

// Option configures the sink delivery pipeline of a Reconciler.
// Pipeline options wrap the sink with middleware for retry, timeout,
// circuit breaking, and other reliability patterns.
//
// Instance configuration (sync mode, clock, metrics, etc.) is handled via
// chainable methods on the Reconciler before calling Start().
type Option func(pipz.Chainable[*Publication]) pipz.Chainable[*Publication]

// buildPipeline wraps a terminal with pipeline options.
func buildPipeline(terminal pipz.Chainable[*Publication], opts []Option) pipz.Chainable[*Publication] {
	pipeline := terminal
	for _, opt := range opts {
		pipeline = opt(pipeline)
	}
	return pipeline
}

// WithRetry wraps sink delivery with retry logic.
// Failed deliveries are retried immediately up to maxAttempts times.
func WithRetry(maxAttempts int) Option {
	return func(p pipz.Chainable[*Publication]) pipz.Chainable[*Publication] {
		return pipz.NewRetry(retryID, p, maxAttempts)
	}
}

// WithBackoff wraps sink delivery with exponential backoff retry logic.
// Delays grow as baseDelay, 2*baseDelay, 4*baseDelay, and so on.
func WithBackoff(maxAttempts int, baseDelay time.Duration) Option {
	return func(p pipz.Chainable[*Publication]) pipz.Chainable[*Publication] {
		return pipz.NewBackoff(backoffID, p, maxAttempts, baseDelay)
	}
}

// WithTimeout bounds each delivery. A sink that does not return within d
// fails the publish; the reconciler keeps its collection either way.
func WithTimeout(d time.Duration) Option {
	return func(p pipz.Chainable[*Publication]) pipz.Chainable[*Publication] {
		return pipz.NewTimeout(timeoutID, p, d)
	}
}

// WithFallback tries each fallback in order when the primary delivery fails.
func WithFallback(fallbacks ...pipz.Chainable[*Publication]) Option {
	return func(p pipz.Chainable[*Publication]) pipz.Chainable[*Publication] {
		all := append([]pipz.Chainable[*Publication]{p}, fallbacks...)
		return pipz.NewFallback(fallbackID, all...)
	}
}

// WithCircuitBreaker stops calling the sink after 'failures' consecutive
// failures until 'recovery' has passed. Because every publish carries the
// whole collection, the first publish after recovery brings the sink fully
// up to date.
func WithCircuitBreaker(failures int, recovery time.Duration) Option {
	return func(p pipz.Chainable[*Publication]) pipz.Chainable[*Publication] {
		return pipz.NewCircuitBreaker(circuitBreakerID, p, failures, recovery)
	}
}

// WithErrorHandler passes delivery errors to handler for logging or
// alerting. The error still propagates.
func WithErrorHandler(handler pipz.Chainable[*pipz.Error[*Publication]]) Option {
	return func(p pipz.Chainable[*Publication]) pipz.Chainable[*Publication] {
		return pipz.NewHandle(errorHandlerID, p, handler)
	}
}

// WithMiddleware runs processors in order before the sink.
//
// Example:
//
//	lens.New(session, sub, sink,
//	    lens.WithMiddleware(
//	        lens.UseTransform(sortID, func(_ context.Context, p *lens.Publication) *lens.Publication {
//	            p.Rows = p.Subscription.OrderBy.Sort(p.Rows)
//	            return p
//	        }),
//	        lens.UseRateLimit(10, 5),
//	    ),
//	    lens.WithTimeout(time.Second),
//	)
func WithMiddleware(processors ...pipz.Chainable[*Publication]) Option {
	return func(p pipz.Chainable[*Publication]) pipz.Chainable[*Publication] {
		all := make([]pipz.Chainable[*Publication], 0, len(processors)+1)
		all = append(all, processors...)
		all = append(all, p)
		return pipz.NewSequence(middlewareID, all...)
	}
}

// UseTransform creates a processor that rewrites the publication and cannot
// fail.
func UseTransform(id pipz.Identity, fn func(context.Context, *Publication) *Publication) pipz.Chainable[*Publication] {
	return pipz.Transform(id, fn)
}

// UseApply creates a processor that may rewrite the publication or fail it.
func UseApply(id pipz.Identity, fn func(context.Context, *Publication) (*Publication, error)) pipz.Chainable[*Publication] {
	return pipz.Apply(id, fn)
}

// UseEffect creates a processor that observes the publication.
func UseEffect(id pipz.Identity, fn func(context.Context, *Publication) error) pipz.Chainable[*Publication] {
	return pipz.Effect(id, fn)
}

// UseFilter runs processor only when condition holds.
func UseFilter(condition func(context.Context, *Publication) bool, processor pipz.Chainable[*Publication]) pipz.Chainable[*Publication] {
	return pipz.NewFilter(filterID, condition, processor)
}

// UseRateLimit creates a token bucket limiter for deliveries.
func UseRateLimit(rate float64, burst int) pipz.Chainable[*Publication] {
	return pipz.NewRateLimiter[*Publication](rateLimiterID, rate, burst)
}

// UseSorted creates a processor that orders the delivered rows by the
// subscription's order-by clause. The reconciler's own collection keeps
// arrival order.
func UseSorted() pipz.Chainable[*Publication] {
	return pipz.Transform(sortedID, func(_ context.Context, p *Publication) *Publication {
		p.Rows = p.Subscription.OrderBy.Sort(p.Rows)
		return p
	})
}

var sortedID = pipz.NewIdentity("lens:sorted", "Orders rows by the subscription order-by clause")
