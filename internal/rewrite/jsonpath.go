package rewrite

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/relayforge/relayforge/internal/rules"
)

var topLevelFieldKey = regexp.MustCompile(`^f\d+$`)

// JSONResult summarizes the outcome of applying a set of JSONPath rules to
// a parsed JSON value.
type JSONResult struct {
	Applied             []Applied
	ChangedTopLevelKeys []string // root-level "fN" keys mutated, for the protobuf surgical-rewrite hint
}

// ApplyJSONPath mutates root in place : each rule walks
// its path to the parent container, skipping if any segment is missing;
// coerces Value by ValueType; skips identity writes so they don't count as
// applied.
func ApplyJSONPath(root any, compiled []*rules.CompiledJSONPath, response bool, requestURL, fullURL string) JSONResult {
	var res JSONResult
	changed := map[string]bool{}

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

		if applyOneJSONPath(root, c) {
			res.Applied = append(res.Applied, Applied{ID: c.Rule.ID, Name: c.Rule.Name, Kind: kindJSONPath, Target: c.Rule.Target, URL: c.Rule.URLPattern})
			if len(c.Segments) == 1 && !c.Segments[0].IsIndex && topLevelFieldKey.MatchString(c.Segments[0].Key) {
				changed[c.Segments[0].Key] = true
			}
		}
	}

	for k := range changed {
		res.ChangedTopLevelKeys = append(res.ChangedTopLevelKeys, k)
	}
	return res
}

// applyOneJSONPath walks to the parent container, then writes the coerced
// value. Returns true iff the write actually changed something.
func applyOneJSONPath(root any, c *rules.CompiledJSONPath) bool {
	if len(c.Segments) == 0 {
		return false
	}

	cur := root
	for i := 0; i < len(c.Segments)-1; i++ {
		seg := c.Segments[i]
		next, ok := step(cur, seg)
		if !ok {
			return false
		}
		cur = next
	}

	last := c.Segments[len(c.Segments)-1]
	value, ok := coerce(c.Rule.Value, c.Rule.ValueType)
	if !ok {
		return false
	}

	if last.IsIndex {
		arr, ok := cur.([]any)
		if !ok || last.Index < 0 || last.Index >= len(arr) {
			return false
		}
		if identical(arr[last.Index], value) {
			return false
		}
		arr[last.Index] = value
		return true
	}

	obj, ok := cur.(map[string]any)
	if !ok {
		return false
	}
	existing, present := obj[last.Key]
	if !present {
		return false
	}
	if identical(existing, value) {
		return false
	}
	obj[last.Key] = value
	return true
}

func step(cur any, seg rules.PathSegment) (any, bool) {
	if seg.IsIndex {
		arr, ok := cur.([]any)
		if !ok || seg.Index < 0 || seg.Index >= len(arr) {
			return nil, false
		}
		return arr[seg.Index], true
	}
	obj, ok := cur.(map[string]any)
	if !ok {
		return nil, false
	}
	v, present := obj[seg.Key]
	if !present {
		return nil, false
	}
	return v, true
}

// coerce converts a rule's literal Value according to ValueType, following
// coercion table. Returns ok=false when a strict numeric
// or boolean parse fails, in which case the rule is skipped entirely.
func coerce(value any, vt rules.ValueType) (any, bool) {
	switch vt {
	case rules.ValueNull:
		return nil, true
	case rules.ValueBoolean:
		switch v := value.(type) {
		case bool:
			return v, true
		case string:
			switch strings.ToLower(v) {
			case "true":
				return true, true
			case "false":
				return false, true
			}
		}
		return nil, false
	case rules.ValueNumber:
		switch v := value.(type) {
		case float64:
			return v, true
		case int:
			return float64(v), true
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return nil, false
			}
			return n, true
		}
		return nil, false
	default: // ValueString
		return fmt.Sprint(value), true
	}
}

// identical compares two coerced JSON values, treating NaN as equal to
// itself so identity writes are correctly suppressed.
func identical(a, b any) bool {
	af, aIsFloat := a.(float64)
	bf, bIsFloat := b.(float64)
	if aIsFloat && bIsFloat {
		if math.IsNaN(af) && math.IsNaN(bf) {
			return true
		}
		return af == bf
	}
	return a == b
}
