package websocket

import (
	"context"
	"errors"
	"net/http"
	"unicode/utf8"

	gws "github.com/gorilla/websocket"
	"github.com/zoobzio/lens"
)

// maxReason is the longest close reason a control frame can carry.
const maxReason = 123

// Handler serves subscriptions on a lens.Session to websocket clients.
type Handler struct {
	session  lens.Session
	codec    lens.Codec
	upgrader gws.Upgrader
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerCodec sets the codec for outgoing frames. Default: lens.JSONCodec.
func WithHandlerCodec(codec lens.Codec) HandlerOption {
	return func(h *Handler) {
		h.codec = codec
	}
}

// WithUpgrader sets the upgrader, for example to relax origin checks.
func WithUpgrader(u gws.Upgrader) HandlerOption {
	return func(h *Handler) {
		h.upgrader = u
	}
}

// NewHandler creates a Handler serving session.
func NewHandler(session lens.Session, opts ...HandlerOption) *Handler {
	h := &Handler{
		session: session,
		codec:   lens.JSONCodec{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var req Request
	if err := conn.ReadJSON(&req); err != nil {
		return
	}
	if req.Command != CommandSubscribe {
		closeWith(conn, gws.ClosePolicyViolation, "expected subscribe")
		return
	}
	sub, err := lens.NewSubscription(req.Topic, req.OrderBy, req.Options)
	if err != nil {
		closeWith(conn, gws.ClosePolicyViolation, err.Error())
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	stream, err := h.session.Open(ctx, sub)
	if err != nil {
		closeWith(conn, gws.CloseInternalServerErr, err.Error())
		return
	}

	// Only unsubscribe frames for this subscription are honored.
	go func() {
		defer cancel()
		for {
			var next Request
			if err := conn.ReadJSON(&next); err != nil {
				return
			}
			if next.Command == CommandUnsubscribe && next.SubID == req.SubID {
				return
			}
		}
	}()

	for msg := range stream.Messages() {
		data, err := h.codec.Encode(msg)
		if err != nil {
			closeWith(conn, gws.CloseInternalServerErr, err.Error())
			return
		}
		if err := conn.WriteMessage(gws.TextMessage, data); err != nil {
			return
		}
	}

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		closeWith(conn, gws.CloseInternalServerErr, err.Error())
		return
	}
	closeWith(conn, gws.CloseNormalClosure, "")
}

func closeWith(conn *gws.Conn, code int, reason string) {
	_ = conn.WriteMessage(gws.CloseMessage, gws.FormatCloseMessage(code, truncate(reason, maxReason)))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
