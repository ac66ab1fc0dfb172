package main

import (
	"context"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/lens"
	"go.uber.org/zap"
)

// hookSignals writes lens signals to logger. Per-message signals are logged
// at debug level.
func hookSignals(logger *zap.Logger) {
	capitan.Hook(lens.ReconcilerStarted, func(_ context.Context, e *capitan.Event) {
		logger.Info("subscription opened", topicField(e))
	})
	capitan.Hook(lens.ReconcilerStopped, func(_ context.Context, e *capitan.Event) {
		state, _ := lens.KeyState.From(e)
		logger.Info("subscription stopped", topicField(e), zap.String("state", state))
	})
	capitan.Hook(lens.ReconcilerStateChanged, func(_ context.Context, e *capitan.Event) {
		oldState, _ := lens.KeyOldState.From(e)
		newState, _ := lens.KeyNewState.From(e)
		logger.Debug("state changed", topicField(e),
			zap.String("from", oldState),
			zap.String("to", newState))
	})
	capitan.Hook(lens.MessageReceived, func(_ context.Context, e *capitan.Event) {
		kind, _ := lens.KeyKind.From(e)
		key, _ := lens.KeyRowKey.From(e)
		logger.Debug("message received", topicField(e), zap.String("kind", kind), zap.String("key", key))
	})
	capitan.Hook(lens.MessageIgnored, func(_ context.Context, e *capitan.Event) {
		kind, _ := lens.KeyKind.From(e)
		state, _ := lens.KeyState.From(e)
		logger.Warn("message ignored", topicField(e), zap.String("kind", kind), zap.String("state", state))
	})
	capitan.Hook(lens.PublishSucceeded, func(_ context.Context, e *capitan.Event) {
		rows, _ := lens.KeyRows.From(e)
		seq, _ := lens.KeySequence.From(e)
		took, _ := lens.KeyDuration.From(e)
		logger.Debug("published", topicField(e),
			zap.Int("rows", rows),
			zap.Int("sequence", seq),
			zap.Duration("duration", took))
	})
	capitan.Hook(lens.PublishFailed, func(_ context.Context, e *capitan.Event) {
		logger.Error("publish failed", topicField(e), errorField(e))
	})
	capitan.Hook(lens.SessionFailed, func(_ context.Context, e *capitan.Event) {
		logger.Error("session failed", topicField(e), errorField(e))
	})
	capitan.Hook(lens.SessionCompleted, func(_ context.Context, e *capitan.Event) {
		logger.Info("session completed", topicField(e))
	})
}

func topicField(e *capitan.Event) zap.Field {
	topic, _ := lens.KeyTopic.From(e)
	return zap.String("topic", topic)
}

func errorField(e *capitan.Event) zap.Field {
	msg, _ := lens.KeyError.From(e)
	return zap.String("error", msg)
}
