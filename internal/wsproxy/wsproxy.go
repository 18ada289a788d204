// Package wsproxy implements the WebSocket upgrade pipeline: route the
// upgrade request, then block it, splice it opaquely, or terminate it and
// relay individual frames through the rewrite engine. Grounded on
// internal/httpproxy's routing-dispatch shape (ServeHTTP switches on a
// Decision and delegates to one of three serve* methods); the frame relay
// itself is built on github.com/gorilla/websocket.
package wsproxy

import (
	"net/http"
	"time"

	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/httpproxy"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/router"
	"github.com/relayforge/relayforge/internal/rules"
)

// Handler serves requests carrying `Upgrade: websocket` on the main
// listening socket (and, when reached via MITM, on the decrypted stream).
type Handler struct {
	Settings config.Settings
	Rules    *rules.Store
	Logs     *logstore.Store
	Toggles  func() config.Toggles
}

// New builds a Handler sharing the store/settings of the rest of the
// listener.
func New(settings config.Settings, store *rules.Store, logs *logstore.Store, toggles func() config.Toggles) *Handler {
	return &Handler{Settings: settings, Rules: store, Logs: logs, Toggles: toggles}
}

// ServeHTTP routes the upgrade request and dispatches to the
// block/direct/mitm branch.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	snap := h.Rules.Current()

	target, err := httpproxy.ResolveTarget(r, r.TLS != nil)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx := router.Context{
		Method:     r.Method,
		RequestURL: r.URL.RequestURI(),
		FullURL:    target,
		Host:       r.Host,
		Path:       r.URL.Path,
		TargetURL:  target,
	}

	switch router.ToWebSocket(router.Decide(ctx, snap)) {
	case router.WSBlock:
		h.serveBlocked(w, ctx, started)
	case router.WSDirect:
		h.serveDirect(w, r, ctx, started)
	default:
		h.serveMitm(w, r, ctx, snap, h.Toggles(), started)
	}
}

// serveBlocked implements "block: reply 204, close" — the
// handshake never completes, so there is no connection to summarise.
func (h *Handler) serveBlocked(w http.ResponseWriter, ctx router.Context, started time.Time) {
	w.WriteHeader(http.StatusNoContent)
	h.Logs.Insert(&logstore.Entry{
		StartedAt:      started,
		Method:         ctx.Method,
		RequestURL:     ctx.RequestURL,
		FullURL:        ctx.FullURL,
		Source:         logstore.SourceBlocked,
		Host:           ctx.Host,
		Path:           ctx.Path,
		ResponseStatus: http.StatusNoContent,
		Metrics:        logstore.Metrics{TotalDurationMs: time.Since(started).Milliseconds()},
	})
}
