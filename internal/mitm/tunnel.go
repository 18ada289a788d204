package mitm

import (
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/relayforge/relayforge/internal/httpproxy"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/router"
)

const dialTimeout = 10 * time.Second

// serveTunnel implements the bypassed-CONNECT branch: a
// plain TCP splice between client and origin, end-to-end TLS (if any)
// passing through untouched.
func (h *Handler) serveTunnel(w http.ResponseWriter, ctx router.Context, started time.Time) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijack unsupported", http.StatusInternalServerError)
		return
	}

	upstream, err := net.DialTimeout("tcp", ctx.Host, dialTimeout)
	if err != nil {
		h.writeTunnelError(w, ctx, started, err)
		return
	}
	defer upstream.Close()

	client, rw, err := hijacker.Hijack()
	if err != nil {
		upstream.Close()
		h.writeTunnelError(w, ctx, started, err)
		return
	}
	defer client.Close()

	if _, err := rw.WriteString("HTTP/1.1 200 Connection Established\r\n\r\n"); err != nil {
		return
	}
	if err := rw.Flush(); err != nil {
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
		// Written straight to the raw conn, not rw.Writer: io.Copy into a
		// bufio.Writer would buffer bytes that never reach the client
		// without an explicit Flush after every chunk.
		received, _ = io.Copy(client, upstream)
	}()
	wg.Wait()

	h.Logs.Insert(&logstore.Entry{
		StartedAt:      started,
		Method:         http.MethodConnect,
		RequestURL:     ctx.RequestURL,
		FullURL:        ctx.FullURL,
		Source:         logstore.SourceTunnel,
		Host:           ctx.Host,
		ResponseStatus: http.StatusOK,
		Metrics: logstore.Metrics{
			TotalDurationMs: time.Since(started).Milliseconds(),
			RequestBytes:    sent,
			ResponseBytes:   received,
		},
	})
}

func (h *Handler) writeTunnelError(w http.ResponseWriter, ctx router.Context, started time.Time, err error) {
	http.Error(w, "upstream error", http.StatusBadGateway)
	h.Logs.Insert(&logstore.Entry{
		StartedAt:             started,
		Method:                http.MethodConnect,
		RequestURL:            ctx.RequestURL,
		FullURL:               ctx.FullURL,
		Source:                logstore.SourceError,
		Host:                  ctx.Host,
		ResponseStatus:        http.StatusBadGateway,
		Error:                 err.Error(),
		UpstreamErrorCategory: httpproxy.CategorizeError(err),
		Metrics:               logstore.Metrics{TotalDurationMs: time.Since(started).Milliseconds()},
	})
}
