package rewrite

import (
	"encoding/json"
	"strings"

	"github.com/relayforge/relayforge/internal/rules"
)

// BodyResult carries the rewritten body plus the before/after JSON views
// for log-entry attachment, mirroring WSResult for non-framed HTTP bodies.
type BodyResult struct {
	Body       []byte
	Applied    []Applied
	JSONBefore any
	JSONAfter  any
	Changed    bool
}

// ApplyBody runs text rules against the whole decompressed body, then, if
// the (possibly rewritten) body parses as a JSON object or array, runs
// JSONPath rules against it and re-serialises.
// Unlike ApplyWebSocketText there is no non-JSON prefix to preserve: an
// HTTP body either is JSON in full or it isn't inspected for JSONPath at
// all.
func ApplyBody(body []byte, compiledText []*rules.CompiledText, compiledJSONPath []*rules.CompiledJSONPath, response bool, requestURL, fullURL string) BodyResult {
	text, textApplied := ApplyText(string(body), compiledText, response, requestURL, fullURL)
	res := BodyResult{Body: []byte(text), Applied: textApplied, Changed: len(textApplied) > 0}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') {
		return res
	}

	var root any
	if err := json.Unmarshal([]byte(text), &root); err != nil {
		return res
	}
	res.JSONBefore = root

	result := ApplyJSONPath(root, compiledJSONPath, response, requestURL, fullURL)
	res.JSONAfter = root
	if len(result.Applied) == 0 {
		return res
	}

	encoded, err := json.Marshal(root)
	if err != nil {
		return res
	}
	res.Body = encoded
	res.Applied = append(res.Applied, result.Applied...)
	res.Changed = true
	return res
}
