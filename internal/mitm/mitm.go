// Package mitm implements the CONNECT pipeline: routing a
// CONNECT tunnel to either a raw TCP splice (bypassed) or a TLS-terminated
// interception that re-enters the HTTP pipeline for each decrypted
// request. Grounded on the hijack/TLS-handshake/request-loop shape of
// majorcontext-moat's handleConnectWithInterception
// (other_examples/996819ad_majorcontext-moat__internal-proxy-proxy.go.go),
// adapted to dispatch decrypted requests through internal/httpproxy.Handler
// instead of a second outbound http.Transport.
package mitm

import (
	"net/http"
	"time"

	"github.com/relayforge/relayforge/internal/certs"
	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/httpproxy"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/router"
	"github.com/relayforge/relayforge/internal/rules"
)

// Handler serves CONNECT requests arriving on the main listening socket.
type Handler struct {
	Settings config.Settings
	Rules    *rules.Store
	Logs     *logstore.Store
	CA       *certs.Authority

	// Inner serves each decrypted request once a tunnel is intercepted.
	// It is an *httpproxy.Handler sharing this Handler's store/settings,
	// with its MITM flag set so log entries read "mitm" not "proxied".
	Inner http.Handler
}

// New builds a Handler whose Inner is a copy of base with MITM dispatch
// marked, so base's own plain-HTTP listener is left untouched.
func New(settings config.Settings, store *rules.Store, logs *logstore.Store, ca *certs.Authority, base *httpproxy.Handler) *Handler {
	mitmInner := *base
	mitmInner.MITM = true
	return &Handler{
		Settings: settings,
		Rules:    store,
		Logs:     logs,
		CA:       ca,
		Inner:    &mitmInner,
	}
}

// ServeConnect handles a `CONNECT host:port` request: route it, then
// splice or intercept.
func (h *Handler) ServeConnect(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	snap := h.Rules.Current()

	host := r.Host
	ctx := router.Context{
		Method:     http.MethodConnect,
		RequestURL: host,
		FullURL:    "https://" + host,
		Host:       host,
		TargetURL:  "https://" + host,
	}

	switch router.Decide(ctx, snap) {
	case router.Block:
		h.serveBlocked(w, ctx, started)
	case router.Direct:
		h.serveTunnel(w, ctx, started)
	default:
		h.serveIntercept(w, ctx, started)
	}
}

// serveBlocked refuses the tunnel before anything is hijacked, mirroring
// internal/httpproxy's serveBlocked (no upstream contact, one log entry).
func (h *Handler) serveBlocked(w http.ResponseWriter, ctx router.Context, started time.Time) {
	http.Error(w, "blocked", http.StatusForbidden)
	h.Logs.Insert(&logstore.Entry{
		StartedAt:      started,
		Method:         http.MethodConnect,
		RequestURL:     ctx.RequestURL,
		FullURL:        ctx.FullURL,
		Source:         logstore.SourceBlocked,
		Host:           ctx.Host,
		ResponseStatus: http.StatusForbidden,
		Metrics:        logstore.Metrics{TotalDurationMs: time.Since(started).Milliseconds()},
	})
}
