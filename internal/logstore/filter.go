package logstore

import "strings"

// Filter describes one UI log view.
type Filter struct {
	// Query is the substring search expression: "||" delimits OR-groups,
	// ";" delimits AND-terms within a group, a leading "!" negates a term.
	Query string

	Sources       []Source // allow-list; empty means no source restriction
	Methods       []string // allow-list; empty means no method restriction
	FileTypes     []string // allow-list; empty means no file-type restriction
	ShowWebSocket bool     // include WebSocket connection summaries

	// RewrittenOnly, when non-empty, requires at least one rewrite
	// descriptor whose Target matches: "request", "response", or "any".
	RewrittenOnly string

	// BlockedMuted mirrors "Blocked patterns act as a
	// global mute for the default view regardless of enabled" — when
	// true, blocked entries are hidden even if SourceBlocked would
	// otherwise pass every other check.
	BlockedMuted bool
}

// alwaysIncluded bypasses the source/method/file-type allow-lists: local
// resources, blocked requests, and errors always surface in the feed.
func alwaysIncluded(e *Entry) bool {
	return e.Source == SourceLocal || e.Source == SourceBlocked || e.Source == SourceError
}

// Matches reports whether e should appear in this filtered view.
func (f Filter) Matches(e *Entry) bool {
	if f.BlockedMuted && e.Source == SourceBlocked {
		return false
	}
	if e.WebSocket != nil && !f.ShowWebSocket {
		return false
	}

	if !alwaysIncluded(e) {
		if len(f.Sources) > 0 && !containsSource(f.Sources, e.Source) {
			return false
		}
		if len(f.Methods) > 0 && !containsFold(f.Methods, e.Method) {
			return false
		}
		if len(f.FileTypes) > 0 && !containsFold(f.FileTypes, e.FileType) {
			return false
		}
	}

	if f.RewrittenOnly != "" && !hasRewriteFor(e, f.RewrittenOnly) {
		return false
	}

	if f.Query != "" {
		haystack := e.requestBodySearch + " " + e.responseBodySearch + " " + e.headerSearch
		if !evalQuery(f.Query, haystack) {
			return false
		}
	}
	return true
}

func containsSource(list []Source, s Source) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func hasRewriteFor(e *Entry, side string) bool {
	for _, r := range e.Rewrites {
		switch side {
		case "any":
			return true
		case "request":
			if r.Target == "request" || r.Target == "both" {
				return true
			}
		case "response":
			if r.Target == "response" || r.Target == "both" {
				return true
			}
		}
	}
	return false
}

// evalQuery implements the OR-of-AND substring DSL: query matches
// haystack (already lowercased) if at least one "||"-delimited group has
// every ";"-delimited term satisfied, where a term beginning with "!" must
// NOT be a substring and every other term must be.
func evalQuery(query, haystack string) bool {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return true
	}
	for _, group := range strings.Split(query, "||") {
		if groupMatches(group, haystack) {
			return true
		}
	}
	return false
}

func groupMatches(group, haystack string) bool {
	terms := strings.Split(group, ";")
	matchedAny := false
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		matchedAny = true
		negate := strings.HasPrefix(term, "!")
		if negate {
			term = strings.TrimPrefix(term, "!")
		}
		present := strings.Contains(haystack, term)
		if negate == present {
			return false
		}
	}
	return matchedAny
}
