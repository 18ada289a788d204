package rewrite

import (
	"net/http"
	"strings"

	"github.com/relayforge/relayforge/internal/rules"
)

// hopByHopHeaders are stripped from requests forwarded upstream and from
// responses forwarded to the client.
var hopByHopHeaders = []string{"connection", "proxy-connection", "transfer-encoding"}

// conditionalHeaders are stripped from requests forwarded upstream so a
// mediated flow never short-circuits to a 304 the proxy can't rewrite.
var conditionalHeaders = []string{"if-none-match", "if-modified-since", "if-match", "if-unmodified-since"}

// ApplyHeaderText runs text rules against every value of every header
// (list-valued headers get each value rewritten independently), scoped by
// URL pattern and phase.
func ApplyHeaderText(h http.Header, compiled []*rules.CompiledText, response bool, requestURL, fullURL string) []Applied {
	var all []Applied
	for name, values := range h {
		out := make([]string, len(values))
		changed := false
		for i, v := range values {
			rewritten, applied := ApplyText(v, compiled, response, requestURL, fullURL)
			out[i] = rewritten
			if len(applied) > 0 {
				all = append(all, applied...)
				changed = true
			}
		}
		if changed {
			h[name] = out
		}
	}
	return all
}

// CreateForwardHeaders builds the header set sent upstream: hop-by-hop and
// conditional headers are always removed; identifying tracing headers are
// additionally removed for actively processed (non-bypass) flows. Applying
// it twice is idempotent.
func CreateForwardHeaders(h http.Header, bypass bool) http.Header {
	out := h.Clone()
	for _, name := range hopByHopHeaders {
		out.Del(name)
	}
	for _, name := range conditionalHeaders {
		out.Del(name)
	}
	if !bypass {
		stripIdentifyingHeaders(out)
	}
	return out
}

// stripIdentifyingHeaders removes exactly the headers whose lowercase name
// equals "baggage" or "sentry-trace", or starts with "sentry-".
func stripIdentifyingHeaders(h http.Header) {
	for name := range h {
		lower := strings.ToLower(name)
		if lower == "baggage" || lower == "sentry-trace" || strings.HasPrefix(lower, "sentry-") {
			h.Del(name)
		}
	}
}

// ApplyResponseCacheBusting adds the cache-busting headers and the
// X-Proxy-Source tag that every actively processed response carries back
// to the client.
func ApplyResponseCacheBusting(h http.Header, local bool) {
	h.Set("Cache-Control", "no-store, no-cache, must-revalidate, proxy-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	if local {
		h.Set("X-Proxy-Source", "local")
	} else {
		h.Set("X-Proxy-Source", "remote")
	}
}
