package logstore

import (
	"net"
	"sort"
	"strings"
	"time"
)

// bucketHistogram is an invertible, in-memory counterpart to the
// Prometheus histograms in metrics.go: Prometheus counters only grow, but
// requires "dashboard aggregates are the sum over requestLogs
// of their per-entry contribution" — a round-trip property that demands
// undoing a bucket's count on eviction. Buckets mirror latencyBuckets.
type bucketHistogram struct {
	counts []int64 // len(latencyBuckets)+1, last bucket is +Inf
	sum    float64
	count  int64
}

func newBucketHistogram() *bucketHistogram {
	return &bucketHistogram{counts: make([]int64, len(latencyBuckets)+1)}
}

func (h *bucketHistogram) add(v float64, sign int64) {
	h.sum += v * float64(sign)
	h.count += sign
	idx := len(latencyBuckets)
	for i, b := range latencyBuckets {
		if v <= b {
			idx = i
			break
		}
	}
	h.counts[idx] += sign
}

// globalAggregates holds the dashboard's source/latency/payload totals,
// maintained incrementally on insert (+1) and eviction (-1).
type globalAggregates struct {
	sourceCounts map[Source]int64
	errors       int64

	upstreamMs *bucketHistogram
	totalMs    *bucketHistogram
	overheadMs *bucketHistogram
	requestB   *bucketHistogram
	responseB  *bucketHistogram
}

func newGlobalAggregates() *globalAggregates {
	return &globalAggregates{
		sourceCounts: make(map[Source]int64),
		upstreamMs:   newBucketHistogram(),
		totalMs:      newBucketHistogram(),
		overheadMs:   newBucketHistogram(),
		requestB:     newBucketHistogram(),
		responseB:    newBucketHistogram(),
	}
}

// applyDelta adds (sign=+1, insertion) or removes (sign=-1, eviction) one
// entry's contribution to every aggregate it affects.
func (g *globalAggregates) applyDelta(e *Entry, sign int64) {
	g.sourceCounts[e.Source] += sign
	if e.Source == SourceError {
		g.errors += sign
	}
	if e.Metrics.UpstreamDurationMs > 0 {
		g.upstreamMs.add(float64(e.Metrics.UpstreamDurationMs), sign)
	}
	g.totalMs.add(float64(e.Metrics.TotalDurationMs), sign)
	g.overheadMs.add(float64(e.Metrics.ProxyOverheadMs), sign)
	if e.Metrics.RequestBytes > 0 {
		g.requestB.add(float64(e.Metrics.RequestBytes), sign)
	}
	if e.Metrics.ResponseBytes > 0 {
		g.responseB.add(float64(e.Metrics.ResponseBytes), sign)
	}
}

// routeKeyFor derives the RouteKey: host plus the first 1-2
// non-empty path segments.
func routeKeyFor(host, p string) RouteKey {
	segs := make([]string, 0, 2)
	for _, s := range strings.Split(p, "/") {
		if s == "" {
			continue
		}
		segs = append(segs, s)
		if len(segs) == 2 {
			break
		}
	}
	return RouteKey{Host: host, Path: "/" + strings.Join(segs, "/")}
}

// routeAggregates holds the dashboard's per-host+path table.
type routeAggregates struct {
	byKey map[RouteKey]*RouteStats
}

func newRouteAggregates() *routeAggregates {
	return &routeAggregates{byKey: make(map[RouteKey]*RouteStats)}
}

func (r *routeAggregates) applyDelta(e *Entry, sign int64) {
	key := routeKeyFor(e.Host, e.Path)
	stats, ok := r.byKey[key]
	if !ok {
		if sign < 0 {
			return // evicting an entry whose route was never recorded: no-op
		}
		stats = &RouteStats{SourceCounts: make(map[Source]int64)}
		r.byKey[key] = stats
	}
	stats.Count += sign
	stats.TotalMs += e.Metrics.TotalDurationMs * sign
	stats.TotalResponseBytes += e.Metrics.ResponseBytes * sign
	stats.SourceCounts[e.Source] += sign
	if sign > 0 && e.Metrics.TotalDurationMs > stats.MaxMs {
		stats.MaxMs = e.Metrics.TotalDurationMs
	}
	if stats.Count <= 0 {
		delete(r.byKey, key)
	}
}

// suggestionAggregates tracks per-host counts for traffic not already
// bypassed or internal.
type suggestionAggregates struct {
	byHost map[string]*SuggestionStats
}

func newSuggestionAggregates() *suggestionAggregates {
	return &suggestionAggregates{byHost: make(map[string]*SuggestionStats)}
}

// eligible reports whether e should contribute to suggestion stats: not
// already a bypassed/local/blocked flow, and not the internal control
// plane itself.
func eligibleForSuggestion(e *Entry) bool {
	switch e.Source {
	case SourceDirect, SourceLocal, SourceBlocked:
		return false
	}
	host := strings.ToLower(e.Host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host != "localhost" && host != "127.0.0.1"
}

func (s *suggestionAggregates) applyDelta(e *Entry, sign int64) {
	if !eligibleForSuggestion(e) {
		return
	}
	host := e.Host
	if host == "" {
		return
	}
	stats, ok := s.byHost[host]
	if !ok {
		if sign < 0 {
			return
		}
		stats = &SuggestionStats{Host: host, PathCounts: make(map[string]int64)}
		s.byHost[host] = stats
	}
	stats.Count += sign
	if sign > 0 && e.Timestamp.After(stats.LastSeen) {
		stats.LastSeen = e.Timestamp
	}
	key := routeKeyFor("", e.Path).Path
	stats.PathCounts[key] += sign
	if stats.PathCounts[key] <= 0 {
		delete(stats.PathCounts, key)
	}
	if stats.Count <= 0 {
		delete(s.byHost, host)
	}
}

// clear drops every host record, used when the log ring is cleared.
func (s *suggestionAggregates) clear() {
	s.byHost = make(map[string]*SuggestionStats)
}

// Suggestion is one ranked entry of the top-N hosts-not-covered response.
type Suggestion struct {
	Host       string    `json:"host"`
	Count      int64     `json:"count"`
	LastSeen   time.Time `json:"lastSeen"`
	TopPaths   []string  `json:"topPaths"`
}

// topN returns the n highest-count hosts not already matched by any
// enabled host-type filter (isBypassed), sorted by count desc, then
// lastSeen desc, then host name, each annotated with its three most
// frequent two-segment path prefixes.
func (s *suggestionAggregates) topN(n int, isBypassed func(host string) bool) []Suggestion {
	out := make([]Suggestion, 0, len(s.byHost))
	for host, stats := range s.byHost {
		if isBypassed != nil && isBypassed(host) {
			continue
		}
		out = append(out, Suggestion{
			Host:     host,
			Count:    stats.Count,
			LastSeen: stats.LastSeen,
			TopPaths: topPaths(stats.PathCounts, 3),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		if !out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].LastSeen.After(out[j].LastSeen)
		}
		return out[i].Host < out[j].Host
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func topPaths(counts map[string]int64, n int) []string {
	type kv struct {
		path  string
		count int64
	}
	kvs := make([]kv, 0, len(counts))
	for p, c := range counts {
		kvs = append(kvs, kv{p, c})
	}
	sort.Slice(kvs, func(i, j int) bool {
		if kvs[i].count != kvs[j].count {
			return kvs[i].count > kvs[j].count
		}
		return kvs[i].path < kvs[j].path
	})
	if len(kvs) > n {
		kvs = kvs[:n]
	}
	paths := make([]string, len(kvs))
	for i, e := range kvs {
		paths[i] = e.path
	}
	return paths
}
