package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// TextMode selects which anchor combination a compiled text rule uses.
type TextMode int

const (
	ModeBetween TextMode = iota
	ModePrefix
	ModeSuffix
)

// CompiledText is the fast-path form of a TextRule, built once by Compile
// and reused until the rule set changes.
type CompiledText struct {
	Rule          TextRule
	Mode          TextMode
	UseRegex      bool
	CaseSensitive bool
	Regex         *regexp.Regexp // set when UseRegex; the Start anchor for ModeBetween
	EndRegex      *regexp.Regexp // set when UseRegex and Mode == ModeBetween; the End anchor
	Start         string         // literal anchors, set when !UseRegex
	End           string
}

// CompileText builds a CompiledText from a TextRule. Returns an error if
// both Start and End are empty, or if a regex anchor fails to compile.
func CompileText(r TextRule) (*CompiledText, error) {
	if r.Start == "" && r.End == "" {
		return nil, fmt.Errorf("text rule %q: at least one of start/end must be non-empty", r.ID)
	}

	c := &CompiledText{Rule: r, CaseSensitive: r.CaseSensitive, UseRegex: r.UseRegex}

	switch {
	case r.Start != "" && r.End != "":
		c.Mode = ModeBetween
	case r.Start != "":
		c.Mode = ModePrefix
	default:
		c.Mode = ModeSuffix
	}

	if r.UseRegex {
		flags := ""
		if !r.CaseSensitive {
			flags = "(?i)"
		}
		var err error
		switch c.Mode {
		case ModePrefix:
			c.Regex, err = regexp.Compile(flags + r.Start)
		case ModeSuffix:
			c.Regex, err = regexp.Compile(flags + r.End)
		default:
			// "between" regex rules compile Start and End independently;
			// the engine pairs every Start match with its nearest
			// following End match.
			c.Regex, err = regexp.Compile(flags + r.Start)
			if err == nil {
				c.EndRegex, err = regexp.Compile(flags + r.End)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("text rule %q: invalid regex: %w", r.ID, err)
		}
	} else {
		c.Start = r.Start
		c.End = r.End
	}

	return c, nil
}

// PathSegment is one step of a compiled JSONPath: either a map key or an
// array index.
type PathSegment struct {
	Key      string
	Index    int
	IsIndex  bool
}

// CompiledJSONPath is the fast-path form of a JSONPathRule.
type CompiledJSONPath struct {
	Rule     JSONPathRule
	Segments []PathSegment
	Inert    bool // true when URLPattern is empty or the path fails to parse
}

// CompileJSONPath parses the dotted/[i] path expression into segments.
// An empty URLPattern or an unparseable/empty path marks the rule inert
// rather than erroring, "rules with unparseable or
// empty segments are inert".
func CompileJSONPath(r JSONPathRule) *CompiledJSONPath {
	c := &CompiledJSONPath{Rule: r}

	if strings.TrimSpace(r.URLPattern) == "" {
		c.Inert = true
		return c
	}

	segs, err := parsePath(r.Path)
	if err != nil || len(segs) == 0 {
		c.Inert = true
		return c
	}

	c.Segments = segs
	return c
}

// parsePath parses a dotted/[i] path expression with an optional
// "root." or "$." prefix into a sequence of PathSegments.
//
// Examples: "root.f2", "$.items[0].name", "a.b[3]"
func parsePath(path string) ([]PathSegment, error) {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "root.")
	p = strings.TrimPrefix(p, "root")
	p = strings.TrimPrefix(p, "$.")
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, ".")

	if p == "" {
		return nil, fmt.Errorf("empty path")
	}

	var segs []PathSegment
	var cur strings.Builder

	flush := func() error {
		if cur.Len() == 0 {
			return nil
		}
		segs = append(segs, PathSegment{Key: cur.String()})
		cur.Reset()
		return nil
	}

	i := 0
	for i < len(p) {
		ch := p[i]
		switch ch {
		case '.':
			if err := flush(); err != nil {
				return nil, err
			}
			i++
		case '[':
			if err := flush(); err != nil {
				return nil, err
			}
			end := strings.IndexByte(p[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index at %d", i)
			}
			idxStr := p[i+1 : i+end]
			idx, err := strconv.Atoi(idxStr)
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("invalid index %q", idxStr)
			}
			segs = append(segs, PathSegment{Index: idx, IsIndex: true})
			i += end + 1
		default:
			cur.WriteByte(ch)
			i++
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(segs) == 0 {
		return nil, fmt.Errorf("no segments parsed")
	}
	return segs, nil
}

// URLMatches implements the bidirectional-contains matcher: a rule
// matches when either the candidate contains the pattern or the pattern
// contains the candidate, compared lowercase.
func URLMatches(pattern string, candidates ...string) bool {
	if pattern == "" {
		return false
	}
	p := strings.ToLower(pattern)
	for _, c := range candidates {
		if c == "" {
			continue
		}
		cl := strings.ToLower(c)
		if strings.Contains(cl, p) || strings.Contains(p, cl) {
			return true
		}
	}
	return false
}
