// Package httpproxy implements the plain HTTP pipeline:
// route, then block/direct/proxy handling with header and body rewrites,
// local-resource overrides, and log-entry publication. The same handler
// processes decrypted MITM traffic (internal/mitm wraps the client
// connection in TLS and dispatches each request here).
package httpproxy

import (
	"io"
	"net/http"
	"time"

	"github.com/relayforge/relayforge/internal/certs"
	"github.com/relayforge/relayforge/internal/codec"
	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/rules"
)

// Handler is the http.Handler mounted on the proxy's listening socket for
// every non-CONNECT, non-upgrade request.
type Handler struct {
	Settings config.Settings
	Rules    *rules.Store
	Logs     *logstore.Store
	Toggles  func() config.Toggles
	Client   *http.Client

	// CA is set for the plain-HTTP listener and for MITM-decrypted
	// traffic alike; it is unused by the
	// HTTP pipeline itself but threaded through so the same Handler value
	// can be shared between internal/httpproxy's own listener and
	// internal/mitm's decrypted-connection dispatch.
	CA *certs.Authority

	// MITM marks this Handler as serving traffic decrypted by
	// internal/mitm rather than the plain-HTTP listener, so the logged
	// Source reads "mitm" instead of "proxied" for mediated requests.
	MITM bool
}

// New builds a Handler with a pooled upstream client honouring the
// configured timeouts.
func New(settings config.Settings, store *rules.Store, logs *logstore.Store, toggles func() config.Toggles, ca *certs.Authority) *Handler {
	return &Handler{
		Settings: settings,
		Rules:    store,
		Logs:     logs,
		Toggles:  toggles,
		CA:       ca,
		Client: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: time.Duration(settings.UpstreamHeadersTimeoutMs) * time.Millisecond,
				MaxIdleConnsPerHost:   32,
			},
		},
	}
}

// readBounded reads all of r up to limit+1 bytes, reporting overLimit=true
// if more than limit bytes were available.
func readBounded(r io.Reader, limit int64) (body []byte, overLimit bool, err error) {
	if limit <= 0 {
		body, err = io.ReadAll(r)
		return body, false, err
	}
	body, err = io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

// shouldStreamUninspected reports whether the proxy path should skip
// buffering the response entirely.
func shouldStreamUninspected(settings config.Settings, toggles config.Toggles, snap *rules.Snapshot, contentEncoding, contentType string) bool {
	if !settings.StreamUninspectedResponses {
		return false
	}
	if toggles.EditRulesEnabled && (len(snap.Text) > 0 || len(snap.JSONPath) > 0) {
		return false
	}
	enc := codec.Normalize(contentEncoding)
	if enc != codec.Identity && enc != codec.Gzip && enc != codec.Deflate && enc != codec.Brotli {
		return true // unknown/unsupported encoding: can't decompress to inspect
	}
	return !codec.ShouldDecompress(contentType)
}
