// Package rewrite implements the rule-application pipeline:
// text rewrites, JSONPath rewrites, Connect/protobuf frame rewrites, and
// WebSocket frame rewrites, all driven from the compiled rule.Snapshot
// taken once at flow start.
package rewrite

import (
	"github.com/relayforge/relayforge/internal/rules"
)

// Applied describes one rule that fired against a flow, for attachment to
// the eventual log entry.
type Applied struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Kind   string       `json:"kind"` // "text" or "jsonPath"
	Target rules.Target `json:"target"`
	URL    string       `json:"url"`
}

const (
	kindText     = "text"
	kindJSONPath = "jsonPath"
)

// urlMatch reports whether a rule scoped to pattern applies to the current
// flow's URL candidates, using the same bidirectional-contains heuristic
// as rules.URLMatches. An empty pattern always matches (no URL scoping).
func urlMatch(pattern, requestURL, fullURL string) bool {
	if pattern == "" {
		return true
	}
	return rules.URLMatches(pattern, requestURL, fullURL)
}

// phaseApplies reports whether a rule's target phase applies to the given
// side of the flow.
func phaseApplies(target rules.Target, response bool) bool {
	switch target {
	case rules.TargetBoth:
		return true
	case rules.TargetResponse:
		return response
	default: // TargetRequest and any unrecognised value default to request
		return !response
	}
}
