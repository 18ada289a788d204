package rewrite

import (
	"strings"

	"github.com/relayforge/relayforge/internal/rules"
)

// ApplyText runs every compiled text rule against text in declaration
// order; the output of rule i becomes the input of rule i+1. Rules are skipped when their URL pattern or target phase
// doesn't match the current flow.
func ApplyText(text string, compiled []*rules.CompiledText, response bool, requestURL, fullURL string) (string, []Applied) {
	var applied []Applied
	for _, c := range compiled {
		if !c.Rule.Enabled {
			continue
		}
		if !phaseApplies(c.Rule.Target, response) {
			continue
		}
		if !urlMatch(c.Rule.URLPattern, requestURL, fullURL) {
			continue
		}

		out, hit := applyOne(text, c)
		if hit {
			text = out
			applied = append(applied, Applied{ID: c.Rule.ID, Name: c.Rule.Name, Kind: kindText, Target: c.Rule.Target, URL: c.Rule.URLPattern})
		}
	}
	return text, applied
}

func applyOne(text string, c *rules.CompiledText) (string, bool) {
	if c.UseRegex {
		if c.Regex == nil {
			return text, false
		}
		switch c.Mode {
		case rules.ModeBetween:
			return regexBetween(text, c)
		default:
			if !c.Regex.MatchString(text) {
				return text, false
			}
			return c.Regex.ReplaceAllString(text, c.Rule.Replacement), true
		}
	}

	switch c.Mode {
	case rules.ModeBetween:
		return literalBetween(text, c.Start, c.End, c.Rule.Replacement, c.CaseSensitive)
	case rules.ModePrefix:
		return literalReplaceAll(text, c.Start, c.Rule.Replacement, c.CaseSensitive)
	default: // ModeSuffix
		return literalReplaceAll(text, c.End, c.Rule.Replacement, c.CaseSensitive)
	}
}

// literalBetween walks text for start..end spans, replacing each
// (inclusive of both anchors) with replacement, then resuming the scan
// right after the inserted replacement.
func literalBetween(text, start, end, replacement string, caseSensitive bool) (string, bool) {
	var b strings.Builder
	hay := text
	cmpHay := hay
	cmpStart, cmpEnd := start, end
	if !caseSensitive {
		cmpHay = strings.ToLower(hay)
		cmpStart = strings.ToLower(start)
		cmpEnd = strings.ToLower(end)
	}

	pos := 0
	any := false
	for {
		si := strings.Index(cmpHay[pos:], cmpStart)
		if si < 0 {
			b.WriteString(hay[pos:])
			break
		}
		si += pos
		afterStart := si + len(start)
		ei := strings.Index(cmpHay[afterStart:], cmpEnd)
		if ei < 0 {
			b.WriteString(hay[pos:])
			break
		}
		ei += afterStart
		spanEnd := ei + len(end)

		b.WriteString(hay[pos:si])
		b.WriteString(replacement)
		pos = spanEnd
		any = true
	}
	if !any {
		return text, false
	}
	return b.String(), true
}

// literalReplaceAll replaces every occurrence of anchor with replacement,
// case-folding the comparison but slicing the original bytes.
func literalReplaceAll(text, anchor, replacement string, caseSensitive bool) (string, bool) {
	if anchor == "" {
		return text, false
	}
	hay := text
	cmpHay := hay
	cmpAnchor := anchor
	if !caseSensitive {
		cmpHay = strings.ToLower(hay)
		cmpAnchor = strings.ToLower(anchor)
	}

	var b strings.Builder
	pos := 0
	any := false
	for {
		idx := strings.Index(cmpHay[pos:], cmpAnchor)
		if idx < 0 {
			b.WriteString(hay[pos:])
			break
		}
		idx += pos
		b.WriteString(hay[pos:idx])
		b.WriteString(replacement)
		pos = idx + len(anchor)
		any = true
	}
	if !any {
		return text, false
	}
	return b.String(), true
}

// regexBetween applies a "between" rule whose anchors are regexes: every
// match of the start regex is paired with its nearest following match of
// the end regex, mirroring literalBetween's scan-and-resume walk instead
// of anchoring every pair to whichever literal text the first start match
// happened to produce.
func regexBetween(text string, c *rules.CompiledText) (string, bool) {
	var b strings.Builder
	pos := 0
	any := false
	for {
		startLoc := c.Regex.FindStringIndex(text[pos:])
		if startLoc == nil {
			b.WriteString(text[pos:])
			break
		}
		si := pos + startLoc[0]
		afterStart := pos + startLoc[1]

		endLoc := c.EndRegex.FindStringIndex(text[afterStart:])
		if endLoc == nil {
			b.WriteString(text[pos:])
			break
		}
		spanEnd := afterStart + endLoc[1]

		b.WriteString(text[pos:si])
		b.WriteString(c.Rule.Replacement)
		pos = spanEnd
		any = true
	}
	if !any {
		return text, false
	}
	return b.String(), true
}
