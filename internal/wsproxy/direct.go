package wsproxy

import (
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/relayforge/relayforge/internal/httpproxy"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/router"
)

const wsDialTimeout = 10 * time.Second

// serveDirect implements "direct: open an upstream TCP (or
// TLS) socket, replay the original Upgrade: websocket request verbatim,
// splice bytes bidirectionally" — no rewrite, no frame decoding, mirroring
// internal/httpproxy's serveDirect and internal/mitm's serveTunnel.
func (h *Handler) serveDirect(w http.ResponseWriter, r *http.Request, ctx router.Context, started time.Time) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		return
	}

	target, err := url.Parse(ctx.TargetURL)
	if err != nil {
		h.writeDirectError(w, ctx, started, err)
		return
	}

	upstream, err := dialUpstream(target)
	if err != nil {
		h.writeDirectError(w, ctx, started, err)
		return
	}
	defer upstream.Close()

	client, rw, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer client.Close()

	if err := r.Write(upstream); err != nil {
		return
	}

	var sent, received int64
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sent, _ = io.Copy(upstream, rw)
	}()
	go func() {
		defer wg.Done()
		received, _ = io.Copy(client, upstream)
	}()
	wg.Wait()

	h.Logs.Insert(&logstore.Entry{
		StartedAt:      started,
		Method:         ctx.Method,
		RequestURL:     ctx.RequestURL,
		FullURL:        ctx.FullURL,
		Source:         logstore.SourceDirect,
		Host:           ctx.Host,
		Path:           ctx.Path,
		ResponseStatus: http.StatusSwitchingProtocols,
		Metrics: logstore.Metrics{
			TotalDurationMs: time.Since(started).Milliseconds(),
			RequestBytes:    sent,
			ResponseBytes:   received,
		},
	})
}

// dialUpstream opens a plain TCP or TLS connection to target depending on
// its scheme, defaulting the port per scheme when target carries none.
func dialUpstream(target *url.URL) (net.Conn, error) {
	addr := target.Host
	if _, _, err := net.SplitHostPort(addr); err != nil {
		if target.Scheme == "https" || target.Scheme == "wss" {
			addr = net.JoinHostPort(addr, "443")
		} else {
			addr = net.JoinHostPort(addr, "80")
		}
	}
	if target.Scheme == "https" || target.Scheme == "wss" {
		return tls.DialWithDialer(&net.Dialer{Timeout: wsDialTimeout}, "tcp", addr, nil)
	}
	return net.DialTimeout("tcp", addr, wsDialTimeout)
}

func (h *Handler) writeDirectError(w http.ResponseWriter, ctx router.Context, started time.Time, err error) {
	http.Error(w, "upstream error", http.StatusBadGateway)
	h.Logs.Insert(&logstore.Entry{
		StartedAt:             started,
		Method:                ctx.Method,
		RequestURL:            ctx.RequestURL,
		FullURL:               ctx.FullURL,
		Source:                logstore.SourceError,
		Host:                  ctx.Host,
		Path:                  ctx.Path,
		ResponseStatus:        http.StatusBadGateway,
		Error:                 err.Error(),
		UpstreamErrorCategory: httpproxy.CategorizeError(err),
		Metrics:               logstore.Metrics{TotalDurationMs: time.Since(started).Milliseconds()},
	})
}
