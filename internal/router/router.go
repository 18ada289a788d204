// Package router implements the block/bypass/focus/proxy routing decision
// for a request or CONNECT target. It consults a rules.Snapshot taken
// once at flow start, so a running flow is never affected by a
// concurrent rule mutation.
package router

import (
	"regexp"
	"strings"

	"golang.org/x/net/idna"

	"github.com/relayforge/relayforge/internal/rules"
)

// Decision is the outcome of routing a request.
type Decision string

const (
	Block  Decision = "block"
	Direct Decision = "direct"
	Proxy  Decision = "proxy"
)

// WSDecision is the outcome of routing a WebSocket upgrade.
type WSDecision string

const (
	WSBlock  WSDecision = "block"
	WSDirect WSDecision = "direct"
	WSMitm   WSDecision = "mitm"
)

// ToWebSocket maps an HTTP Decision onto the WebSocket pipeline's
// decision space: block->block, direct->direct, proxy->mitm.
func ToWebSocket(d Decision) WSDecision {
	switch d {
	case Block:
		return WSBlock
	case Direct:
		return WSDirect
	default:
		return WSMitm
	}
}

// Context holds the parsed components of an incoming request used to
// make a routing decision.
type Context struct {
	Method     string
	RequestURL string // client-facing request URL/path
	FullURL    string // resolved full upstream URL
	Host       string
	Path       string
	TargetURL  string
}

var localhostPort = regexp.MustCompile(`(?i)(localhost|127\.0\.0\.1):\d+`)

// Decide applies the four-step routing algorithm
func Decide(ctx Context, snap *rules.Snapshot) Decision {
	if isInternalRequest(ctx) {
		return Proxy
	}

	if snap.BlockOn {
		for _, b := range snap.Block {
			if !b.Enabled {
				continue
			}
			if rules.URLMatches(b.URL, ctx.RequestURL, ctx.FullURL) {
				return Block
			}
		}
	}

	if !snap.FilterOn {
		return Proxy
	}

	matched := filterMatches(ctx, snap.Filters)
	switch snap.FilterMode {
	case rules.FilterFocus:
		if matched {
			return Proxy
		}
		return Direct
	default: // ignore mode
		if matched {
			return Direct
		}
		return Proxy
	}
}

// isInternalRequest guards control-plane traffic: it must never be
// bypassed regardless of block/filter configuration.
func isInternalRequest(ctx Context) bool {
	host := normalizeHost(hostOnly(ctx.Host))
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	for _, candidate := range []string{ctx.RequestURL, ctx.FullURL, ctx.TargetURL} {
		if localhostPort.MatchString(candidate) {
			return true
		}
	}
	return false
}

func hostOnly(host string) string {
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
		return host[:idx]
	}
	return host
}

// normalizeHost lowercases and punycode-normalises a hostname via
// golang.org/x/net/idna so Unicode-homoglyph hosts compare consistently
// with the ASCII patterns configured in filter/block rules. Falls back to
// a plain lowercase if the host isn't valid IDNA (e.g. it's already an IP
// literal), keeping Decide stable under case changes.
func normalizeHost(host string) string {
	lower := strings.ToLower(host)
	ascii, err := idna.Lookup.ToASCII(lower)
	if err != nil {
		return lower
	}
	return ascii
}

// filterMatches applies step 3: a host-typed matcher is tested
// against the normalized request host (exact, dotted-suffix, or a bare
// leading-dot suffix match), a path-typed matcher against the request's
// URL/path candidates via the bidirectional-contains heuristic. A compiled
// glob, when present, is an additional way for a host-typed matcher to hit.
func filterMatches(ctx Context, filters []rules.CompiledFilter) bool {
	host := normalizeHost(hostOnly(ctx.Host))
	for _, f := range filters {
		if !f.Rule.Enabled {
			continue
		}
		switch f.Kind {
		case rules.MatcherHost:
			if hostMatches(host, strings.ToLower(f.Rule.URL)) {
				return true
			}
			if f.Glob != nil && f.Glob.Match(host) {
				return true
			}
		default:
			if rules.URLMatches(f.Rule.URL, ctx.RequestURL, ctx.FullURL, ctx.Path) {
				return true
			}
		}
	}
	return false
}

// hostMatches tests an exact match, a dotted-suffix match ("cdn.com"
// matching "images.cdn.com"), or an explicit leading-dot suffix pattern
// (".cdn.com").
func hostMatches(host, pattern string) bool {
	if pattern == "" {
		return false
	}
	if host == pattern {
		return true
	}
	suffix := pattern
	if !strings.HasPrefix(suffix, ".") {
		suffix = "." + suffix
	}
	return strings.HasSuffix(host, suffix)
}
