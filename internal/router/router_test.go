package router

import (
	"testing"

	"github.com/relayforge/relayforge/internal/rules"
)

func emptySnapshot() *rules.Snapshot {
	return &rules.Snapshot{Resources: map[string]rules.LocalResource{}}
}

func TestDecideInternalAlwaysProxy(t *testing.T) {
	snap := emptySnapshot()
	snap.BlockOn = true
	snap.Block = []rules.BlockRule{{Enabled: true, URL: "localhost"}}

	ctx := Context{Host: "localhost:8787", RequestURL: "/shutdown", FullURL: "http://localhost:8787/shutdown"}
	if got := Decide(ctx, snap); got != Proxy {
		t.Errorf("Decide() = %v, want Proxy for internal control-plane request", got)
	}
}

func TestDecideBlockTakesPriorityOverFilter(t *testing.T) {
	snap := emptySnapshot()
	snap.BlockOn = true
	snap.Block = []rules.BlockRule{{Enabled: true, URL: "ads.example.com"}}
	snap.FilterOn = true
	snap.FilterMode = rules.FilterFocus

	ctx := Context{Host: "ads.example.com", RequestURL: "http://ads.example.com/tag.js", FullURL: "http://ads.example.com/tag.js"}
	if got := Decide(ctx, snap); got != Block {
		t.Errorf("Decide() = %v, want Block", got)
	}
}

func TestDecideFilterIgnoreMode(t *testing.T) {
	snap := emptySnapshot()
	snap.FilterOn = true
	snap.FilterMode = rules.FilterIgnore
	snap.Filters = []rules.CompiledFilter{
		{Rule: rules.FilterRule{Enabled: true, URL: "cdn.example.com", Mode: rules.FilterIgnore}, Kind: rules.MatcherHost},
	}

	matched := Context{Host: "assets.cdn.example.com", RequestURL: "/x.png", FullURL: "http://assets.cdn.example.com/x.png"}
	if got := Decide(matched, snap); got != Direct {
		t.Errorf("Decide() = %v, want Direct for host matched in ignore mode", got)
	}

	unmatched := Context{Host: "api.example.com", RequestURL: "/x", FullURL: "http://api.example.com/x"}
	if got := Decide(unmatched, snap); got != Proxy {
		t.Errorf("Decide() = %v, want Proxy for unmatched host in ignore mode", got)
	}
}

func TestDecideFilterFocusMode(t *testing.T) {
	snap := emptySnapshot()
	snap.FilterOn = true
	snap.FilterMode = rules.FilterFocus
	snap.Filters = []rules.CompiledFilter{
		{Rule: rules.FilterRule{Enabled: true, URL: "/api/", Mode: rules.FilterFocus}, Kind: rules.MatcherPath},
	}

	matched := Context{Host: "example.com", RequestURL: "/api/users", FullURL: "http://example.com/api/users"}
	if got := Decide(matched, snap); got != Proxy {
		t.Errorf("Decide() = %v, want Proxy for path matched in focus mode", got)
	}

	unmatched := Context{Host: "example.com", RequestURL: "/static/logo.png", FullURL: "http://example.com/static/logo.png"}
	if got := Decide(unmatched, snap); got != Direct {
		t.Errorf("Decide() = %v, want Direct for path unmatched in focus mode", got)
	}
}

func TestHostMatchesDottedSuffix(t *testing.T) {
	cases := []struct {
		host, pattern string
		want          bool
	}{
		{"images.cdn.com", "cdn.com", true},
		{"cdn.com", "cdn.com", true},
		{"evilcdn.com", "cdn.com", false},
		{"images.cdn.com", ".cdn.com", true},
		{"anything", "", false},
	}
	for _, c := range cases {
		if got := hostMatches(c.host, c.pattern); got != c.want {
			t.Errorf("hostMatches(%q, %q) = %v, want %v", c.host, c.pattern, got, c.want)
		}
	}
}

func TestDisabledFilterNeverMatches(t *testing.T) {
	snap := emptySnapshot()
	snap.FilterOn = true
	snap.FilterMode = rules.FilterFocus
	snap.Filters = []rules.CompiledFilter{
		{Rule: rules.FilterRule{Enabled: false, URL: "example.com", Mode: rules.FilterFocus}, Kind: rules.MatcherHost},
	}

	ctx := Context{Host: "example.com", RequestURL: "/", FullURL: "http://example.com/"}
	if got := Decide(ctx, snap); got != Direct {
		t.Errorf("Decide() = %v, want Direct since disabled filter should not match in focus mode", got)
	}
}

func TestToWebSocket(t *testing.T) {
	cases := map[Decision]WSDecision{Block: WSBlock, Direct: WSDirect, Proxy: WSMitm}
	for in, want := range cases {
		if got := ToWebSocket(in); got != want {
			t.Errorf("ToWebSocket(%v) = %v, want %v", in, got, want)
		}
	}
}
