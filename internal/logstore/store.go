package logstore

import (
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is the bounded in-memory log sequence: a ring
// capped at MAX_LOG_ENTRIES, with dashboard/route/suggestion aggregates
// maintained incrementally on insertion and eviction, and a SQLite
// secondary index (index.go) recording every evicted entry for
// GET /api/logs/export. There is no append-only log file and no hash
// chain — there's no tamper-evidence requirement here.
type Store struct {
	mu  sync.Mutex
	cap int

	ring  []*Entry          // oldest first
	byID  map[string]*Entry

	global      *globalAggregates
	routes      *routeAggregates
	suggestions *suggestionAggregates
	metrics     *promMetrics

	index *sqliteIndex // nil when the on-disk index could not be opened
}

// Options configures a new Store. LogPreviewMaxBytes/LogDecompressMaxBytes
// from config.Settings (LOG_PREVIEW_MAX_BYTES/LOG_DECOMPRESS_MAX_BYTES) are
// not options here: the store does not bound previews or decompression,
// and no pipeline that builds Entry values reads those two settings.
type Options struct {
	MaxEntries int
	IndexPath  string // SQLite export index path; empty disables it
	Registerer prometheus.Registerer
}

// New builds a Store. A failure to open the SQLite export index is
// logged and degrades to an in-memory-only ring.
func New(opts Options) *Store {
	s := &Store{
		cap:         opts.MaxEntries,
		byID:        make(map[string]*Entry),
		global:      newGlobalAggregates(),
		routes:      newRouteAggregates(),
		suggestions: newSuggestionAggregates(),
		metrics:     newPromMetrics(opts.Registerer),
	}
	if opts.IndexPath != "" {
		idx, err := openIndex(opts.IndexPath)
		if err != nil {
			slog.Error("logstore: opening sqlite export index failed, export will only see the in-memory ring", "path", opts.IndexPath, "error", err)
		} else {
			s.index = idx
		}
	}
	return s
}

// Close releases the SQLite export index, if any.
func (s *Store) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.close()
}

// Insert commits a new entry: it derives Metrics.ProxyOverheadMs, the
// file type, and search snapshots, appends it to the ring, applies its
// delta to every aggregate, and evicts the oldest entry (applying the
// inverse delta, and recording it in the export index) if the ring is
// over capacity. Returns the committed entry's ID.
func (s *Store) Insert(e *Entry) string {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.finalize(e)

	s.mu.Lock()
	defer s.mu.Unlock()

	e.committed = true
	s.ring = append(s.ring, e)
	s.byID[e.ID] = e
	s.applyDelta(e, +1)
	s.metrics.observe(e)

	if s.cap > 0 && len(s.ring) > s.cap {
		evicted := s.ring[0]
		s.ring = s.ring[1:]
		delete(s.byID, evicted.ID)
		s.applyDelta(evicted, -1)
		if s.index != nil {
			s.index.insert(evicted)
		}
	}
	return e.ID
}

// finalize derives fields that depend only on e itself, before it's
// visible to any reader.
func (s *Store) finalize(e *Entry) {
	if e.Metrics.TotalDurationMs < e.Metrics.UpstreamDurationMs {
		e.Metrics.TotalDurationMs = e.Metrics.UpstreamDurationMs
	}
	overhead := e.Metrics.TotalDurationMs - e.Metrics.UpstreamDurationMs
	if overhead < 0 {
		overhead = 0
	}
	e.Metrics.ProxyOverheadMs = overhead
	e.Metrics.RewriteCount = len(e.Rewrites)

	var contentType string
	if e.ResponseHeaders != nil {
		if v := e.ResponseHeaders["Content-Type"]; len(v) > 0 {
			contentType = v[0]
		}
	}
	e.FileType = classifyFileType(contentType, e.RequestURL, e.ResponseBody)

	e.requestBodySearch = lowerSnapshot(bodyToSearchText(e.RequestBody))
	e.responseBodySearch = lowerSnapshot(bodyToSearchText(e.ResponseBody))
	e.headerSearch = lowerSnapshot(headersToSearchText(e.RequestHeaders) + " " + headersToSearchText(e.ResponseHeaders))
}

func (s *Store) applyDelta(e *Entry, sign int64) {
	s.global.applyDelta(e, sign)
	s.routes.applyDelta(e, sign)
	s.suggestions.applyDelta(e, sign)
}

// CompleteStreamed applies the one late-completion mutation the
// created -> enriched -> committed -> evicted lifecycle still permits:
// only responseBody and the response byte count may change after commit,
// for streaming-mode entries whose body keeps growing after the headers
// were logged.
func (s *Store) CompleteStreamed(id string, responseBody any, responseBytes int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return false
	}
	oldBytes := e.Metrics.ResponseBytes
	e.ResponseBody = responseBody
	e.Metrics.ResponseBytes = responseBytes
	e.responseBodySearch = lowerSnapshot(bodyToSearchText(responseBody))

	if oldBytes > 0 {
		s.global.responseB.add(float64(oldBytes), -1)
	}
	if responseBytes > 0 {
		s.global.responseB.add(float64(responseBytes), 1)
	}
	if stats, ok := s.routes.byKey[routeKeyFor(e.Host, e.Path)]; ok {
		stats.TotalResponseBytes += responseBytes - oldBytes
	}
	return true
}

// Clear empties the ring and every aggregate. The export index is untouched — it is the durable record
// survivors of the clear can still export.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = nil
	s.byID = make(map[string]*Entry)
	s.global = newGlobalAggregates()
	s.routes = newRouteAggregates()
	s.suggestions.clear()
}

// Tail returns up to limit entries, newest first. limit<=0 returns every entry in the ring.
func (s *Store) Tail(limit int) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.ring)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Entry, n)
	for i := 0; i < n; i++ {
		out[i] = s.ring[len(s.ring)-1-i]
	}
	return out
}

// Get looks up one entry by ID.
func (s *Store) Get(id string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	return e, ok
}

// RouteSnapshot returns a copy of the current route aggregates keyed by
// "host path".
func (s *Store) RouteSnapshot() map[RouteKey]RouteStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[RouteKey]RouteStats, len(s.routes.byKey))
	for k, v := range s.routes.byKey {
		cp := *v
		cp.SourceCounts = make(map[Source]int64, len(v.SourceCounts))
		for src, c := range v.SourceCounts {
			cp.SourceCounts[src] = c
		}
		out[k] = cp
	}
	return out
}

// Suggestions returns the top-n hosts not covered by isBypassed.
func (s *Store) Suggestions(n int, isBypassed func(host string) bool) []Suggestion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suggestions.topN(n, isBypassed)
}

// GlobalCounts returns a copy of the source-bucket counters.
func (s *Store) GlobalCounts() map[Source]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Source]int64, len(s.global.sourceCounts))
	for k, v := range s.global.sourceCounts {
		out[k] = v
	}
	return out
}

func lowerSnapshot(s string) string {
	if len(s) > searchSnapshotLimit {
		s = s[:searchSnapshotLimit]
	}
	return strings.ToLower(s)
}

func bodyToSearchText(body any) string {
	switch v := body.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func headersToSearchText(h map[string][]string) string {
	var b strings.Builder
	for k, vs := range h {
		b.WriteString(k)
		b.WriteByte(' ')
		for _, v := range vs {
			b.WriteString(v)
			b.WriteByte(' ')
		}
	}
	return b.String()
}

// DefaultIndexPath returns the conventional SQLite export index location
// under the server's storage directory.
func DefaultIndexPath(storageDir string) string {
	return filepath.Join(storageDir, "logs", "index.db")
}

// Filtered returns up to limit ring entries matching f, newest first
//.
func (s *Store) Filtered(f Filter, limit int) []*Entry {
	all := s.Tail(0)
	out := make([]*Entry, 0, len(all))
	for _, e := range all {
		if f.Matches(e) {
			out = append(out, e)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Export serves GET /api/logs/export: it unions the live ring with the
// evicted entries recorded in the SQLite index (when present), applies f,
// and returns newest first.
func (s *Store) Export(f Filter, q ExportQuery) ([]*Entry, error) {
	ring := s.Filtered(f, 0)

	if s.index == nil {
		return ring, nil
	}
	archived, err := s.index.query(q)
	if err != nil {
		return ring, err
	}

	seen := make(map[string]bool, len(ring))
	out := make([]*Entry, 0, len(ring)+len(archived))
	for _, e := range ring {
		seen[e.ID] = true
		out = append(out, e)
	}
	for _, e := range archived {
		if seen[e.ID] {
			continue
		}
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
