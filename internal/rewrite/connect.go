package rewrite

import (
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/relayforge/relayforge/internal/codec"
	"github.com/relayforge/relayforge/internal/rules"
	"github.com/relayforge/relayforge/internal/wire"
)

// ConnectLimits bounds the work the Connect/protobuf rewriter will do,
// sourced from internal/config (PROTOBUF_MAX_FIELDS, PROTOBUF_MAX_BYTES,
// CONNECT_MAX_FRAMES, CONNECT_MAX_FRAME_BYTES).
type ConnectLimits struct {
	MaxFrames     int
	MaxFrameBytes int
	MaxFields     int
	MaxBytes      int
}

// ApplyConnect rewrites a Connect/gRPC-Web framed body in place. body is
// the raw HTTP body exactly as received (still HTTP-encoded per httpEnc);
// connectEnc is the per-frame Connect-level encoding taken from the
// connect-content-encoding / connect-encoding / grpc-encoding header.
// Returns the rewritten, re-encoded body and the rules that fired, or
// ok=false with a nil body when it doesn't look
// like a Connect envelope at all — callers fall back to plain text
// rewriting of the whole body in that case.
func ApplyConnect(body []byte, httpEnc, connectEnc codec.Encoding, compiledText []*rules.CompiledText, compiledJSONPath []*rules.CompiledJSONPath, response bool, requestURL, fullURL string, limits ConnectLimits) (out []byte, applied []Applied, ok bool, err error) {
	raw := body
	if httpEnc != codec.Identity {
		raw, err = codec.Decompress(httpEnc, body)
		if err != nil {
			return nil, nil, false, err
		}
	}

	frames, ferr := wire.SplitFrames(raw)
	if ferr != nil || !wire.LooksLikeEnvelope(raw) {
		return nil, nil, false, nil
	}

	for i, f := range frames {
		if limits.MaxFrames > 0 && i >= limits.MaxFrames {
			break // remaining frames preserved verbatim
		}
		if limits.MaxFrameBytes > 0 && len(f.Payload) > limits.MaxFrameBytes {
			continue // preserved verbatim
		}

		rewritten, frameApplied, changed := rewriteFrame(f, connectEnc, compiledText, compiledJSONPath, response, requestURL, fullURL, limits)
		if changed {
			frames[i] = rewritten
			applied = append(applied, frameApplied...)
		}
	}

	rebuilt := wire.BuildFrames(frames)
	if httpEnc != codec.Identity {
		rebuilt, err = codec.Compress(httpEnc, rebuilt)
		if err != nil {
			if codec.ErrZstdUnavailable(err) {
				return raw, applied, true, nil
			}
			return nil, nil, false, err
		}
	}
	return rebuilt, applied, true, nil
}

func rewriteFrame(f wire.Frame, connectEnc codec.Encoding, compiledText []*rules.CompiledText, compiledJSONPath []*rules.CompiledJSONPath, response bool, requestURL, fullURL string, limits ConnectLimits) (wire.Frame, []Applied, bool) {
	payload := f.Payload
	wasCompressed := f.Compressed()

	if wasCompressed {
		decompressed, err := codec.Decompress(connectEnc, payload)
		if err != nil {
			return f, nil, false // codec unavailable or corrupt: leave frame intact
		}
		payload = decompressed
	}

	fields, err := wire.ParseMessage(payload, limits.MaxFields)
	if err != nil {
		return f, nil, false
	}

	var applied []Applied
	fields, textApplied := rewriteFieldsText(fields, compiledText, response, requestURL, fullURL, limits, 0)
	applied = append(applied, textApplied...)

	jsonApplied := rewriteFieldsJSONPath(fields, compiledJSONPath, response, requestURL, fullURL)
	applied = append(applied, jsonApplied...)

	if len(applied) == 0 {
		return f, nil, false
	}

	newPayload := wire.EncodeMessage(fields)
	if wasCompressed {
		recompressed, err := codec.Compress(connectEnc, newPayload)
		if err != nil {
			if codec.ErrZstdUnavailable(err) {
				return f, nil, false // leave original frame intact
			}
			return f, nil, false
		}
		newPayload = recompressed
	}

	return wire.Frame{Flags: f.Flags, Payload: newPayload}, applied, true
}

// rewriteFieldsText applies text rules to UTF-8-looking length-delimited
// fields, recursing into nested messages up to MaxDepth. Text-modified fields are re-encoded preserving their original
// field number and wire type.
func rewriteFieldsText(fields []wire.Field, compiled []*rules.CompiledText, response bool, requestURL, fullURL string, limits ConnectLimits, depth int) ([]wire.Field, []Applied) {
	if len(compiled) == 0 || depth >= wire.MaxDepth {
		return fields, nil
	}

	var applied []Applied
	for i, f := range fields {
		if f.Type != protowire.BytesType {
			continue
		}
		if wire.LooksLikeMessage(f.Raw, limits.MaxFields) {
			nested, err := wire.ParseMessage(f.Raw, limits.MaxFields)
			if err != nil {
				continue
			}
			rewritten, nestedApplied := rewriteFieldsText(nested, compiled, response, requestURL, fullURL, limits, depth+1)
			if len(nestedApplied) > 0 {
				fields[i].Raw = wire.EncodeMessage(rewritten)
				applied = append(applied, nestedApplied...)
			}
			continue
		}
		if !utf8.Valid(f.Raw) || codec.PrintableRatio(f.Raw) < codec.ProtoTextAcceptThreshold {
			continue
		}
		text := string(f.Raw)
		rewritten, textApplied := ApplyText(text, compiled, response, requestURL, fullURL)
		if len(textApplied) > 0 {
			fields[i].Raw = []byte(rewritten)
			applied = append(applied, textApplied...)
		}
	}
	return fields, applied
}

// rewriteFieldsJSONPath applies JSONPath rules directly to protobuf
// fields using the "fN" projection. Only single-segment, top-level "fN"
// paths are surgically rewritten in place (the changedTopLevelKeys hint
// exists precisely so the engine can avoid full re-encoding for this
// common case); a rule targeting a deeper path is evaluated for matching
// purposes but has no field to write back to at this layer and is
// skipped.
func rewriteFieldsJSONPath(fields []wire.Field, compiled []*rules.CompiledJSONPath, response bool, requestURL, fullURL string) []Applied {
	var applied []Applied
	for _, c := range compiled {
		if c.Inert || !c.Rule.Enabled {
			continue
		}
		if !phaseApplies(c.Rule.Target, response) {
			continue
		}
		if !urlMatch(c.Rule.URLPattern, requestURL, fullURL) {
			continue
		}
		if len(c.Segments) != 1 || c.Segments[0].IsIndex {
			continue
		}
		num, ok := fieldNumberFromKey(c.Segments[0].Key)
		if !ok {
			continue
		}

		value, ok := coerce(c.Rule.Value, c.Rule.ValueType)
		if !ok {
			continue
		}
		str, ok := value.(string)
		if !ok {
			continue
		}

		changed := false
		for i := range fields {
			if fields[i].Number != num || fields[i].Type != protowire.BytesType {
				continue
			}
			if string(fields[i].Raw) == str {
				continue
			}
			fields[i].Raw = []byte(str)
			changed = true
		}
		if changed {
			applied = append(applied, Applied{ID: c.Rule.ID, Name: c.Rule.Name, Kind: kindJSONPath, Target: c.Rule.Target, URL: c.Rule.URLPattern})
		}
	}
	return applied
}

func fieldNumberFromKey(key string) (protowire.Number, bool) {
	if len(key) < 2 || key[0] != 'f' {
		return 0, false
	}
	n := 0
	for _, r := range key[1:] {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, false
	}
	return protowire.Number(n), true
}
