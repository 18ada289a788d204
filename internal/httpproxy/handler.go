package httpproxy

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/rewrite"
	"github.com/relayforge/relayforge/internal/router"
	"github.com/relayforge/relayforge/internal/rules"
)

// ServeHTTP implements the plain HTTP pipeline: resolve the
// upstream target, route it (block/direct/proxy), then either short-circuit
// or mediate the full request/response with header and body rewriting, a
// local-resource override check, and log-entry publication.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	snap := h.Rules.Current()
	toggles := h.Toggles()

	target, err := ResolveTarget(r, r.TLS != nil)
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

	decision := router.Decide(ctx, snap)
	switch decision {
	case router.Block:
		h.serveBlocked(w, r, ctx, started)
	case router.Direct:
		h.serveDirect(w, r, ctx, started)
	default:
		h.serveProxied(w, r, ctx, snap, toggles, started)
	}
}

// serveBlocked implements "a blocked request never reaches
// upstream": it short-circuits to 204 and logs a single entry.
func (h *Handler) serveBlocked(w http.ResponseWriter, r *http.Request, ctx router.Context, started time.Time) {
	w.WriteHeader(http.StatusNoContent)
	h.Logs.Insert(&logstore.Entry{
		StartedAt:      started,
		Method:         r.Method,
		RequestURL:     ctx.RequestURL,
		FullURL:        ctx.FullURL,
		Source:         logstore.SourceBlocked,
		Host:           ctx.Host,
		Path:           ctx.Path,
		RequestHeaders: map[string][]string(r.Header),
		ResponseStatus: http.StatusNoContent,
		Metrics:        logstore.Metrics{TotalDurationMs: time.Since(started).Milliseconds()},
	})
}

// serveDirect forwards the request to upstream untouched: no rewrite
// rules, no body inspection, so a filtered-out host pays none of the
// mediation overhead.
func (h *Handler) serveDirect(w http.ResponseWriter, r *http.Request, ctx router.Context, started time.Time) {
	body, overLimit, err := readBounded(r.Body, h.Settings.BodyLimit)
	if overLimit {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		h.writeUpstreamError(w, r, ctx, started, err)
		return
	}

	resp, err := h.forwardRequest(r, ctx.TargetURL, body, true)
	if err != nil {
		h.writeUpstreamError(w, r, ctx, started, err)
		return
	}
	defer resp.Body.Close()

	respBody, _, _ := readBounded(resp.Body, h.Settings.BodyLimit)
	directHeaders := resp.Header.Clone()
	stripHopByHop(directHeaders)
	copyHeaders(w.Header(), directHeaders)
	w.WriteHeader(resp.StatusCode)
	w.Write(respBody)

	h.Logs.Insert(&logstore.Entry{
		StartedAt:       started,
		Method:          r.Method,
		RequestURL:      ctx.RequestURL,
		FullURL:         ctx.FullURL,
		Source:          logstore.SourceDirect,
		Host:            ctx.Host,
		Path:            ctx.Path,
		RequestHeaders:  map[string][]string(r.Header),
		RequestBody:     string(body),
		ResponseStatus:  resp.StatusCode,
		ResponseHeaders: map[string][]string(directHeaders),
		ResponseBody:    string(respBody),
		Metrics: logstore.Metrics{
			TotalDurationMs: time.Since(started).Milliseconds(),
			RequestBytes:    int64(len(body)),
			ResponseBytes:   int64(len(respBody)),
		},
	})
}

// serveProxied implements the mediated path: local-resource override check,
// then full request/response rewriting around the upstream round trip.
func (h *Handler) serveProxied(w http.ResponseWriter, r *http.Request, ctx router.Context, snap *rules.Snapshot, toggles config.Toggles, started time.Time) {
	if toggles.LocalResourcesEnabled {
		if res, ok := matchLocalResource(snap.Resources, ctx.RequestURL, ctx.FullURL); ok {
			rewrite.ApplyResponseCacheBusting(w.Header(), true)
			if err := serveLocalResource(h.Rules, w, res); err != nil {
				http.Error(w, "local resource unavailable", http.StatusInternalServerError)
				return
			}
			h.Logs.Insert(&logstore.Entry{
				StartedAt:      started,
				Method:         r.Method,
				RequestURL:     ctx.RequestURL,
				FullURL:        ctx.FullURL,
				Source:         logstore.SourceLocal,
				Host:           ctx.Host,
				Path:           ctx.Path,
				RequestHeaders: map[string][]string(r.Header),
				ResponseStatus: http.StatusOK,
				Metrics:        logstore.Metrics{TotalDurationMs: time.Since(started).Milliseconds()},
			})
			return
		}
	}

	limits := rewrite.ConnectLimits{
		MaxFrames:     h.Settings.ConnectMaxFrames,
		MaxFrameBytes: h.Settings.ConnectMaxFrameBytes,
		MaxFields:     h.Settings.ProtobufMaxFields,
		MaxBytes:      h.Settings.ProtobufMaxBytes,
	}

	reqBody, overLimit, err := readBounded(r.Body, h.Settings.BodyLimit)
	if overLimit {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		h.writeUpstreamError(w, r, ctx, started, err)
		return
	}

	// MITM_BYPASS_REWRITES_ENABLED lets decrypted traffic skip rewriting
	// without touching the plain-HTTP listener's own toggle.
	editEnabled := toggles.EditRulesEnabled && !(h.MITM && h.Settings.MitmBypassRewritesEnabled)

	reqRewrite := rewriteResult{body: reqBody}
	if editEnabled {
		reqRewrite = rewriteBody(reqBody, r.Header, snap, limits, false, ctx.RequestURL, ctx.FullURL)
		if len(reqRewrite.applied) > 0 {
			rewrite.ApplyHeaderText(r.Header, snap.Text, false, ctx.RequestURL, ctx.FullURL)
		}
	}

	upstreamStart := time.Now()
	resp, err := h.forwardRequest(r, ctx.TargetURL, reqRewrite.body, false)
	if err != nil {
		h.writeUpstreamError(w, r, ctx, started, err)
		return
	}
	defer resp.Body.Close()
	upstreamMs := time.Since(upstreamStart).Milliseconds()

	contentEncoding := resp.Header.Get("Content-Encoding")
	contentType := resp.Header.Get("Content-Type")

	if shouldStreamUninspected(h.Settings, toggles, snap, contentEncoding, contentType) {
		h.streamUninspected(w, r, resp, ctx, reqBody, reqRewrite, started, upstreamMs)
		return
	}

	respBody, _, _ := readBounded(resp.Body, h.Settings.BodyLimit)

	respRewrite := rewriteResult{body: respBody}
	respHeaders := resp.Header.Clone()
	if editEnabled {
		respRewrite = rewriteBody(respBody, resp.Header, snap, limits, true, ctx.RequestURL, ctx.FullURL)
		if len(respRewrite.applied) > 0 {
			rewrite.ApplyHeaderText(respHeaders, snap.Text, true, ctx.RequestURL, ctx.FullURL)
		}
	}

	stripHopByHop(respHeaders)
	rewrite.ApplyResponseCacheBusting(respHeaders, false)
	respHeaders.Set("Content-Length", strconv.Itoa(len(respRewrite.body)))

	copyHeaders(w.Header(), respHeaders)
	w.WriteHeader(resp.StatusCode)
	w.Write(respRewrite.body)

	applied := append(append([]rewrite.Applied(nil), reqRewrite.applied...), respRewrite.applied...)
	entry := &logstore.Entry{
		StartedAt:       started,
		Method:          r.Method,
		RequestURL:      ctx.RequestURL,
		FullURL:         ctx.FullURL,
		Source:          h.source(),
		Host:            ctx.Host,
		Path:            ctx.Path,
		RequestHeaders:  map[string][]string(r.Header),
		ResponseStatus:  resp.StatusCode,
		ResponseHeaders: map[string][]string(respHeaders),
		Rewrites:        applied,
		ConnectRequest:  reqRewrite.connect,
		ConnectResponse: respRewrite.connect,
		Metrics: logstore.Metrics{
			UpstreamDurationMs: upstreamMs,
			TotalDurationMs:    time.Since(started).Milliseconds(),
			RequestBytes:       int64(len(reqRewrite.body)),
			ResponseBytes:      int64(len(respRewrite.body)),
		},
	}
	if reqRewrite.jsonAfter != nil {
		entry.RequestBody = reqRewrite.jsonAfter
	} else {
		entry.RequestBody = string(reqRewrite.body)
	}
	if respRewrite.jsonAfter != nil {
		entry.ResponseBody = respRewrite.jsonAfter
	} else {
		entry.ResponseBody = string(respRewrite.body)
	}
	h.Logs.Insert(entry)
}

// streamUninspected copies the upstream response straight to the client
// without buffering, logging a size-only entry once the copy completes.
func (h *Handler) streamUninspected(w http.ResponseWriter, r *http.Request, resp *http.Response, ctx router.Context, reqBody []byte, reqRewrite rewriteResult, started time.Time, upstreamMs int64) {
	headers := resp.Header.Clone()
	stripHopByHop(headers)
	rewrite.ApplyResponseCacheBusting(headers, false)
	copyHeaders(w.Header(), headers)
	w.WriteHeader(resp.StatusCode)

	n, _ := io.Copy(w, resp.Body)

	h.Logs.Insert(&logstore.Entry{
		StartedAt:       started,
		Method:          r.Method,
		RequestURL:      ctx.RequestURL,
		FullURL:         ctx.FullURL,
		Source:          h.source(),
		Host:            ctx.Host,
		Path:            ctx.Path,
		RequestHeaders:  map[string][]string(r.Header),
		RequestBody:     string(reqRewrite.body),
		ResponseStatus:  resp.StatusCode,
		ResponseHeaders: map[string][]string(headers),
		Rewrites:        reqRewrite.applied,
		Metrics: logstore.Metrics{
			UpstreamDurationMs: upstreamMs,
			TotalDurationMs:    time.Since(started).Milliseconds(),
			RequestBytes:       int64(len(reqBody)),
			ResponseBytes:      n,
		},
	})
}

// source picks the Source label for a mediated entry depending on whether
// this Handler is serving the plain HTTP listener or MITM-decrypted
// traffic.
func (h *Handler) source() logstore.Source {
	if h.MITM {
		return logstore.SourceMitm
	}
	return logstore.SourceProxied
}

// writeUpstreamError responds with 502 and logs a categorized error entry.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, r *http.Request, ctx router.Context, started time.Time, err error) {
	http.Error(w, "upstream error", http.StatusBadGateway)
	h.Logs.Insert(&logstore.Entry{
		StartedAt:             started,
		Method:                r.Method,
		RequestURL:            ctx.RequestURL,
		FullURL:               ctx.FullURL,
		Source:                logstore.SourceError,
		Host:                  ctx.Host,
		Path:                  ctx.Path,
		RequestHeaders:        map[string][]string(r.Header),
		ResponseStatus:        http.StatusBadGateway,
		Error:                 err.Error(),
		UpstreamErrorCategory: categorizeError(err),
		Metrics:               logstore.Metrics{TotalDurationMs: time.Since(started).Milliseconds()},
	})
}

func copyHeaders(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
}

func stripHopByHop(h http.Header) {
	h.Del("Connection")
	h.Del("Proxy-Connection")
	h.Del("Transfer-Encoding")
}
