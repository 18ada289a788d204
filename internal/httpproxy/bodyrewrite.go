package httpproxy

import (
	"net/http"
	"strings"

	"github.com/relayforge/relayforge/internal/codec"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/rewrite"
	"github.com/relayforge/relayforge/internal/rules"
	"github.com/relayforge/relayforge/internal/wire"
)

// isConnectContentType reports whether a Content-Type header value
// indicates a Connect/gRPC envelope body.
func isConnectContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "application/connect+") || strings.HasPrefix(ct, "application/grpc")
}

// connectEncodingOf reads the per-frame Connect-level codec from
// whichever of the three header names the client/upstream used.
func connectEncodingOf(h http.Header) codec.Encoding {
	for _, name := range []string{"Connect-Content-Encoding", "Connect-Encoding", "Grpc-Encoding"} {
		if v := h.Get(name); v != "" {
			return codec.Normalize(v)
		}
	}
	return codec.Identity
}

// rewriteResult is the outcome of rewriteBody, carrying enough to both
// forward the new bytes and populate a log entry.
type rewriteResult struct {
	body       []byte
	applied    []rewrite.Applied
	jsonBefore any
	jsonAfter  any
	connect    *logstore.ConnectView
	changed    bool
}

// rewriteBody dispatches a request or response body to the Connect
// pipeline or the generic text/JSONPath body pipeline, decompressing and recompressing around the HTTP
// Content-Encoding so rule application never sees compressed bytes.
func rewriteBody(body []byte, headers http.Header, snap *rules.Snapshot, limits rewrite.ConnectLimits, response bool, requestURL, fullURL string) rewriteResult {
	contentType := headers.Get("Content-Type")
	httpEnc := codec.Normalize(headers.Get("Content-Encoding"))

	if isConnectContentType(contentType) {
		connectEnc := connectEncodingOf(headers)
		out, applied, ok, err := rewrite.ApplyConnect(body, httpEnc, connectEnc, snap.Text, snap.JSONPath, response, requestURL, fullURL, limits)
		if err == nil && ok {
			view := buildConnectView(out, httpEnc, connectEnc, limits)
			return rewriteResult{body: out, applied: applied, connect: view, changed: len(applied) > 0}
		}
		// Not a recognisable envelope (or decode failed): fall through to
		// plain-text rewriting of the whole body, same as a non-Connect
		// response whose declared content-type lied.
	}

	raw := body
	var decompressErr error
	if httpEnc != codec.Identity {
		raw, decompressErr = codec.Decompress(httpEnc, body)
	}
	if decompressErr != nil {
		return rewriteResult{body: body}
	}
	if codec.PrintableRatio(raw) < codec.BinarySkipThreshold {
		return rewriteResult{body: body}
	}

	res := rewrite.ApplyBody(raw, snap.Text, snap.JSONPath, response, requestURL, fullURL)
	if !res.Changed {
		return rewriteResult{body: body}
	}

	out := res.Body
	if httpEnc != codec.Identity {
		recompressed, err := codec.Compress(httpEnc, out)
		if err != nil {
			if codec.ErrZstdUnavailable(err) {
				return rewriteResult{body: body} // can't recompress: leave original bytes, drop the rewrite
			}
			return rewriteResult{body: body}
		}
		out = recompressed
	}

	return rewriteResult{body: out, applied: res.Applied, jsonBefore: res.JSONBefore, jsonAfter: res.JSONAfter, changed: true}
}

// buildConnectView decodes the rewritten Connect envelope back into the
// log entry's decoded-frame view ("Connect Frame (decoded)").
func buildConnectView(body []byte, httpEnc, connectEnc codec.Encoding, limits rewrite.ConnectLimits) *logstore.ConnectView {
	raw := body
	if httpEnc != codec.Identity {
		if d, err := codec.Decompress(httpEnc, body); err == nil {
			raw = d
		}
	}
	frames, err := wire.SplitFrames(raw)
	if err != nil {
		return &logstore.ConnectView{Envelope: false}
	}

	view := &logstore.ConnectView{Envelope: true, FrameCount: len(frames)}
	for i, f := range frames {
		cf := logstore.ConnectFrame{Index: i, Length: len(f.Payload), Compressed: f.Compressed(), EndStream: f.EndStream()}
		payload := f.Payload
		if f.Compressed() {
			d, err := codec.Decompress(connectEnc, payload)
			if err != nil {
				cf.Note = "frame decompress failed"
				view.Frames = append(view.Frames, cf)
				continue
			}
			payload = d
			cf.FrameDecompressed = true
		}
		fields, err := wire.ParseMessage(payload, limits.MaxFields)
		if err != nil {
			cf.Note = "frame parse failed"
			view.Frames = append(view.Frames, cf)
			continue
		}
		cf.JSON = wire.Project(fields, limits.MaxFields, limits.MaxBytes)
		view.Frames = append(view.Frames, cf)
	}
	return view
}
