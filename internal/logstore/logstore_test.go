package logstore

import (
	"testing"
	"time"

	"github.com/relayforge/relayforge/internal/rewrite"
)

func newTestStore(cap int) *Store {
	return New(Options{MaxEntries: cap})
}

func TestInsertDerivesOverheadAndRewriteCount(t *testing.T) {
	s := newTestStore(10)
	id := s.Insert(&Entry{
		Method: "GET", Host: "api.example.com", Path: "/v1/users",
		Metrics:  Metrics{UpstreamDurationMs: 40, TotalDurationMs: 55},
		Rewrites: []rewrite.Applied{{ID: "r1", Kind: "text", Target: "request"}},
	})
	e, ok := s.Get(id)
	if !ok {
		t.Fatal("expected entry to be retrievable")
	}
	if e.Metrics.ProxyOverheadMs != 15 {
		t.Errorf("ProxyOverheadMs = %d, want 15", e.Metrics.ProxyOverheadMs)
	}
	if e.Metrics.RewriteCount != 1 {
		t.Errorf("RewriteCount = %d, want 1", e.Metrics.RewriteCount)
	}
}

func TestRingEvictsOldestAndRoundTripsAggregates(t *testing.T) {
	s := newTestStore(2)
	s.Insert(&Entry{Host: "a.com", Path: "/x", Source: SourceProxied, Metrics: Metrics{TotalDurationMs: 10}})
	s.Insert(&Entry{Host: "b.com", Path: "/y", Source: SourceProxied, Metrics: Metrics{TotalDurationMs: 20}})
	s.Insert(&Entry{Host: "c.com", Path: "/z", Source: SourceProxied, Metrics: Metrics{TotalDurationMs: 30}})

	tail := s.Tail(0)
	if len(tail) != 2 {
		t.Fatalf("expected ring capped at 2, got %d", len(tail))
	}
	if tail[0].Host != "c.com" || tail[1].Host != "b.com" {
		t.Errorf("expected newest-first c.com,b.com, got %s,%s", tail[0].Host, tail[1].Host)
	}

	counts := s.GlobalCounts()
	if counts[SourceProxied] != 2 {
		t.Errorf("expected sum over ring entries (round-trip property), got %d", counts[SourceProxied])
	}
}

func TestClearResetsRingAndAggregates(t *testing.T) {
	s := newTestStore(10)
	s.Insert(&Entry{Host: "a.com", Path: "/x", Source: SourceProxied})
	s.Clear()
	if len(s.Tail(0)) != 0 {
		t.Error("expected empty ring after Clear")
	}
	if len(s.GlobalCounts()) != 0 {
		t.Error("expected empty aggregates after Clear")
	}
}

func TestRouteKeyTakesFirstTwoSegments(t *testing.T) {
	k := routeKeyFor("api.example.com", "/v1/users/42/profile")
	if k.Path != "/v1/users" {
		t.Errorf("routeKeyFor path = %q, want /v1/users", k.Path)
	}
}

func TestRouteSnapshotTracksMaxAndTotals(t *testing.T) {
	s := newTestStore(10)
	s.Insert(&Entry{Host: "a.com", Path: "/v1/users", Source: SourceProxied, Metrics: Metrics{TotalDurationMs: 10, ResponseBytes: 100}})
	s.Insert(&Entry{Host: "a.com", Path: "/v1/users/1", Source: SourceProxied, Metrics: Metrics{TotalDurationMs: 50, ResponseBytes: 200}})

	snap := s.RouteSnapshot()
	stats, ok := snap[RouteKey{Host: "a.com", Path: "/v1/users"}]
	if !ok {
		t.Fatal("expected aggregated route key")
	}
	if stats.Count != 2 || stats.MaxMs != 50 || stats.TotalResponseBytes != 300 {
		t.Errorf("unexpected route stats: %+v", stats)
	}
}

func TestSuggestionsExcludeDirectLocalBlocked(t *testing.T) {
	s := newTestStore(10)
	s.Insert(&Entry{Host: "tracker.io", Path: "/beacon", Source: SourceProxied, Timestamp: time.Now()})
	s.Insert(&Entry{Host: "internal.local", Path: "/x", Source: SourceDirect, Timestamp: time.Now()})

	sugg := s.Suggestions(10, nil)
	if len(sugg) != 1 || sugg[0].Host != "tracker.io" {
		t.Errorf("expected only tracker.io suggested, got %+v", sugg)
	}
}

func TestSuggestionsOmitBypassedHosts(t *testing.T) {
	s := newTestStore(10)
	s.Insert(&Entry{Host: "tracker.io", Path: "/beacon", Source: SourceProxied})

	sugg := s.Suggestions(10, func(host string) bool { return host == "tracker.io" })
	if len(sugg) != 0 {
		t.Errorf("expected tracker.io filtered out by isBypassed, got %+v", sugg)
	}
}

func TestFileTypeClassificationOrder(t *testing.T) {
	if ft := classifyFileType("application/json; charset=utf-8", "/api", nil); ft != "json" {
		t.Errorf("content-type json classification = %q", ft)
	}
	if ft := classifyFileType("", "/static/font.woff2", nil); ft != "font" {
		t.Errorf("extension font classification = %q", ft)
	}
	if ft := classifyFileType("", "/unknown", `{"a":1}`); ft != "json" {
		t.Errorf("json-sniff classification = %q", ft)
	}
	if ft := classifyFileType("", "/unknown", "plain text"); ft != "other" {
		t.Errorf("fallback classification = %q", ft)
	}
}

func TestEvalQueryORofAND(t *testing.T) {
	haystack := "method:get host:api.example.com status:200"
	if !evalQuery("api.example.com;status:200", haystack) {
		t.Error("expected AND-term match")
	}
	if evalQuery("api.example.com;status:500", haystack) {
		t.Error("expected AND-term mismatch to fail")
	}
	if !evalQuery("nope||api.example.com", haystack) {
		t.Error("expected OR-group fallback to match")
	}
	if !evalQuery("!status:500", haystack) {
		t.Error("expected negated term absent from haystack to match")
	}
	if evalQuery("!status:200", haystack) {
		t.Error("expected negated term present in haystack to fail")
	}
}

func TestFilterAlwaysIncludesLocalBlockedError(t *testing.T) {
	f := Filter{Sources: []Source{SourceProxied}}
	blocked := &Entry{Source: SourceBlocked}
	if !f.Matches(blocked) {
		t.Error("expected blocked entry to bypass source allow-list")
	}
}

func TestFilterBlockedMuteOverridesAlwaysIncluded(t *testing.T) {
	f := Filter{BlockedMuted: true}
	blocked := &Entry{Source: SourceBlocked}
	if f.Matches(blocked) {
		t.Error("expected BlockedMuted to hide blocked entries regardless of allow-lists")
	}
}

func TestFilterHidesWebSocketByDefault(t *testing.T) {
	f := Filter{}
	ws := &Entry{Source: SourceWebsocket, WebSocket: &WebSocketSummary{Messages: 3}}
	if f.Matches(ws) {
		t.Error("expected WebSocket summary hidden unless ShowWebSocket is set")
	}
	f.ShowWebSocket = true
	if !f.Matches(ws) {
		t.Error("expected WebSocket summary visible once ShowWebSocket is set")
	}
}

func TestFilterRewrittenOnly(t *testing.T) {
	f := Filter{RewrittenOnly: "response"}
	e := &Entry{Rewrites: []rewrite.Applied{{Target: "request"}}}
	if f.Matches(e) {
		t.Error("expected request-only rewrite to fail a response-only filter")
	}
	e.Rewrites = append(e.Rewrites, rewrite.Applied{Target: "both"})
	if !f.Matches(e) {
		t.Error("expected target=both rewrite to satisfy a response-only filter")
	}
}

func TestCompleteStreamedUpdatesOnlyResponseFields(t *testing.T) {
	s := newTestStore(10)
	id := s.Insert(&Entry{Host: "a.com", Path: "/x", Source: SourceProxied, Method: "GET"})
	ok := s.CompleteStreamed(id, "late body", 9)
	if !ok {
		t.Fatal("expected CompleteStreamed to find the entry")
	}
	e, _ := s.Get(id)
	if e.ResponseBody != "late body" || e.Metrics.ResponseBytes != 9 {
		t.Errorf("unexpected post-completion entry: %+v", e)
	}
	if e.Method != "GET" {
		t.Error("expected unrelated fields untouched by late completion")
	}
}
