package rewrite

import (
	"encoding/json"
	"strings"

	"github.com/relayforge/relayforge/internal/rules"
)

// WSResult carries the rewritten WebSocket text payload plus the JSON
// views before/after rewriting, for attachment to the log entry.
type WSResult struct {
	Payload    string
	Applied    []Applied
	JSONBefore any
	JSONAfter  any
	Changed    bool
}

// ApplyWebSocketText applies the rewrite rules to a text frame: text
// rules run first, then JSONPath rules run against the JSON tail located
// by the first '{' or '[', with the non-JSON prefix preserved verbatim
// across re-serialisation (many WS protocols prefix a JSON payload with a
// plain-text channel/event tag, e.g. socket.io's "42/ns,[...]").
func ApplyWebSocketText(payload string, compiledText []*rules.CompiledText, compiledJSONPath []*rules.CompiledJSONPath, response bool, requestURL, fullURL string) WSResult {
	text, textApplied := ApplyText(payload, compiledText, response, requestURL, fullURL)

	res := WSResult{Payload: text, Applied: textApplied}

	prefixLen := jsonTailStart(text)
	if prefixLen < 0 {
		res.Changed = len(textApplied) > 0
		return res
	}

	var root any
	if err := json.Unmarshal([]byte(text[prefixLen:]), &root); err != nil {
		res.Changed = len(textApplied) > 0
		return res
	}
	res.JSONBefore = root

	result := ApplyJSONPath(root, compiledJSONPath, response, requestURL, fullURL)
	if len(result.Applied) == 0 {
		res.JSONAfter = root
		res.Changed = len(textApplied) > 0
		return res
	}

	encoded, err := json.Marshal(root)
	if err != nil {
		res.JSONAfter = root
		res.Changed = len(textApplied) > 0
		return res
	}

	res.Payload = text[:prefixLen] + string(encoded)
	res.JSONAfter = root
	res.Applied = append(res.Applied, result.Applied...)
	res.Changed = true
	return res
}

// jsonTailStart returns the index of the first '{' or '[' in s, or -1 if
// neither appears.
func jsonTailStart(s string) int {
	i := strings.IndexAny(s, "{[")
	return i
}
