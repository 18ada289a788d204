package httpproxy

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/relayforge/relayforge/internal/rewrite"
)

// forwardRequest builds and sends the upstream request: method/body
// passthrough to an arbitrary resolved target URL, with a split
// headers/body timeout pair instead of one blanket request timeout.
func (h *Handler) forwardRequest(r *http.Request, target string, body []byte, bypass bool) (*http.Response, error) {
	ctx := r.Context()
	if h.Settings.UpstreamBodyTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(h.Settings.UpstreamBodyTimeoutMs)*time.Millisecond)
		// Not cancelled on return: the caller reads resp.Body under this
		// same context, which is released when its deadline passes.
		_ = cancel
	}

	upstreamReq, err := http.NewRequestWithContext(ctx, r.Method, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}

	upstreamReq.Header = rewrite.CreateForwardHeaders(r.Header, bypass)
	upstreamReq.Header.Del("X-Target-URL")
	upstreamReq.ContentLength = int64(len(body))

	resp, err := h.Client.Do(upstreamReq)
	if err != nil {
		return nil, fmt.Errorf("forwarding to upstream %s: %w", target, err)
	}
	return resp, nil
}
