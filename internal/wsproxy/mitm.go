package wsproxy

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/httpproxy"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/rewrite"
	"github.com/relayforge/relayforge/internal/router"
	"github.com/relayforge/relayforge/internal/rules"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(*http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// reservedWSHeaders are set by gorilla's Dialer itself; passing them
// through in requestHeader makes Dial fail.
var reservedWSHeaders = []string{
	"Upgrade", "Connection", "Sec-Websocket-Key", "Sec-Websocket-Version",
	"Sec-Websocket-Extensions", "Sec-Websocket-Accept", "Host", "Proxy-Connection",
}

// serveMitm implements "mitm": complete the handshake toward
// the client, open a new connection toward upstream, and relay each frame
// through the rewrite engine before forwarding it, accumulating a
// per-connection summary emitted on close.
func (h *Handler) serveMitm(w http.ResponseWriter, r *http.Request, ctx router.Context, snap *rules.Snapshot, toggles config.Toggles, started time.Time) {
	target, err := toWSURL(ctx.TargetURL)
	if err != nil {
		h.writeDirectError(w, ctx, started, err)
		return
	}

	reqHeader := forwardableHeaders(r.Header)
	upstreamConn, resp, err := websocket.DefaultDialer.Dial(target, reqHeader)
	if err != nil {
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		http.Error(w, "upstream websocket dial failed", status)
		h.Logs.Insert(&logstore.Entry{
			StartedAt:             started,
			Method:                ctx.Method,
			RequestURL:            ctx.RequestURL,
			FullURL:               ctx.FullURL,
			Source:                logstore.SourceError,
			Host:                  ctx.Host,
			Path:                  ctx.Path,
			ResponseStatus:        status,
			Error:                 err.Error(),
			UpstreamErrorCategory: httpproxy.CategorizeError(err),
			Metrics:               logstore.Metrics{TotalDurationMs: time.Since(started).Milliseconds()},
		})
		return
	}
	defer upstreamConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer clientConn.Close()

	summary := &logstore.WebSocketSummary{OpenedAt: started}
	var mu sync.Mutex

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.pump(clientConn, upstreamConn, false, ctx, snap, toggles, summary, &mu)
	}()
	go func() {
		defer wg.Done()
		h.pump(upstreamConn, clientConn, true, ctx, snap, toggles, summary, &mu)
	}()
	wg.Wait()

	mu.Lock()
	summary.ClosedAt = time.Now()
	finalSummary := *summary
	mu.Unlock()

	h.Logs.Insert(&logstore.Entry{
		StartedAt:      started,
		Method:         ctx.Method,
		RequestURL:     ctx.RequestURL,
		FullURL:        ctx.FullURL,
		Source:         logstore.SourceWebsocket,
		Host:           ctx.Host,
		Path:           ctx.Path,
		ResponseStatus: http.StatusSwitchingProtocols,
		WebSocket:      &finalSummary,
		Metrics: logstore.Metrics{
			TotalDurationMs: time.Since(started).Milliseconds(),
			RewriteCount:    finalSummary.RewriteCount,
		},
	})
}

// pump relays frames from src to dst, applying the rewrite engine to text
// frames within WS_MAX_TEXT_BYTES. response is true for
// the upstream->client direction.
func (h *Handler) pump(src, dst *websocket.Conn, response bool, ctx router.Context, snap *rules.Snapshot, toggles config.Toggles, summary *logstore.WebSocketSummary, mu *sync.Mutex) {
	for {
		mt, payload, err := src.ReadMessage()
		if err != nil {
			dst.Close()
			return
		}

		mu.Lock()
		summary.Messages++
		summary.Bytes += int64(len(payload))
		mu.Unlock()

		out := payload
		if mt == websocket.TextMessage && toggles.EditRulesEnabled && len(payload) <= h.Settings.WSMaxTextBytes {
			res := rewrite.ApplyWebSocketText(string(payload), snap.Text, snap.JSONPath, response, ctx.RequestURL, ctx.FullURL)
			if res.Changed {
				out = []byte(res.Payload)
				mu.Lock()
				summary.RewriteCount += len(res.Applied)
				mu.Unlock()
				if h.Settings.WSLogBodyEnabled {
					h.logRewrittenMessage(ctx, response, res)
				}
			}
		}

		if err := dst.WriteMessage(mt, out); err != nil {
			src.Close()
			return
		}
	}
}

// logRewrittenMessage emits a per-message detail entry alongside the
// connection summary (gated on WS_LOG_BODY_ENABLED). The entry carries
// the after-rewrite JSON view as its request or response body; the
// before-rewrite view is not recorded.
func (h *Handler) logRewrittenMessage(ctx router.Context, response bool, res rewrite.WSResult) {
	entry := &logstore.Entry{
		Timestamp:      time.Now(),
		Method:         ctx.Method,
		RequestURL:     ctx.RequestURL,
		FullURL:        ctx.FullURL,
		Source:         logstore.SourceWebsocket,
		Host:           ctx.Host,
		Path:           ctx.Path,
		ResponseStatus: http.StatusSwitchingProtocols,
		Rewrites:       res.Applied,
	}
	if response {
		entry.ResponseBody = res.JSONAfter
	} else {
		entry.RequestBody = res.JSONAfter
	}
	h.Logs.Insert(entry)
}

// toWSURL rewrites an http(s) target URL to its ws(s) equivalent, since
// CONNECT/MITM resolution always yields an http(s) scheme.
func toWSURL(target string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// forwardableHeaders copies r's headers minus the ones gorilla's Dialer
// sets itself and hop-by-hop headers that don't belong on a new
// connection.
func forwardableHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	for _, k := range reservedWSHeaders {
		out.Del(k)
	}
	return out
}
