// Package logstore implements the bounded log ring, incremental dashboard
// and suggestion aggregates, and the SQLite secondary index used by
// GET /api/logs/export.
package logstore

import (
	"time"

	"github.com/relayforge/relayforge/internal/rewrite"
)

// Source classifies how a flow was handled, attached to every committed
// log entry.
type Source string

const (
	SourceProxied   Source = "proxied"
	SourceMitm      Source = "mitm"
	SourceWebsocket Source = "websocket"
	SourceDirect    Source = "direct"
	SourceTunnel    Source = "tunnel"
	SourceLocal     Source = "local"
	SourceBlocked   Source = "blocked"
	SourceError     Source = "error"
	SourceUnknown   Source = "unknown"
)

// ErrorCategory buckets upstream failures into a small taxonomy.
type ErrorCategory string

const (
	ErrorTimeout    ErrorCategory = "timeout"
	ErrorAborted    ErrorCategory = "aborted"
	ErrorConnection ErrorCategory = "connection"
	ErrorProtocol   ErrorCategory = "protocol"
	ErrorUpstream   ErrorCategory = "upstream"
	ErrorUnknown    ErrorCategory = "unknown"
)

// ConnectFrame is the decoded view of one Connect/gRPC envelope frame
// attached to a log entry's connectRequest/connectResponse view.
type ConnectFrame struct {
	Index               int    `json:"index"`
	Length              int    `json:"length"`
	Compressed          bool   `json:"compressed"`
	EndStream           bool   `json:"endStream"`
	FrameDecompressed   bool   `json:"frameDecompressed"`
	Preview             string `json:"preview"`
	JSON                any    `json:"json,omitempty"`
	DataBase64          string `json:"dataBase64,omitempty"`
	Note                string `json:"note,omitempty"`
}

// ConnectView wraps the decoded frames of one side of a Connect exchange.
type ConnectView struct {
	Envelope   bool           `json:"envelope"`
	FrameCount int            `json:"frameCount"`
	Frames     []ConnectFrame `json:"frames"`
	// OriginalFrames holds the pre-rewrite decode, omitted when no rewrite
	// rule touched this side.
	OriginalFrames []ConnectFrame `json:"originalFrames,omitempty"`
}

// Metrics holds the derived per-entry timing/size figures. Invariant:
// totalDurationMs >= upstreamDurationMs >= 0 and proxyOverheadMs =
// max(0, totalDurationMs - upstreamDurationMs).
type Metrics struct {
	UpstreamDurationMs int64 `json:"upstreamDurationMs,omitempty"`
	TotalDurationMs    int64 `json:"totalDurationMs"`
	ProxyOverheadMs    int64 `json:"proxyOverheadMs"`
	RequestBytes       int64 `json:"requestBytes"`
	ResponseBytes      int64 `json:"responseBytes"`
	RewriteCount       int   `json:"rewriteCount"`
}

// searchSnapshot holds a bounded, lowercased copy of a body/header blob
// used for substring filtering without re-lowercasing on every query
//.
const searchSnapshotLimit = 256 * 1024

// Entry is one committed log record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	StartedAt time.Time `json:"-"` // monotonic start, not serialised

	Method         string `json:"method"`
	RequestURL     string `json:"requestUrl"`
	FullURL        string `json:"fullUrl"`
	Source         Source `json:"source"`
	Host           string `json:"host"`
	Path           string `json:"path"`

	RequestHeaders  map[string][]string `json:"requestHeaders"`
	RequestBody     any                 `json:"requestBody,omitempty"`
	ResponseStatus  int                 `json:"responseStatus,omitempty"`
	ResponseHeaders map[string][]string `json:"responseHeaders,omitempty"`
	ResponseBody    any                 `json:"responseBody,omitempty"`

	ConnectRequest  *ConnectView `json:"connectRequest,omitempty"`
	ConnectResponse *ConnectView `json:"connectResponse,omitempty"`

	Rewrites []rewrite.Applied `json:"rewrites,omitempty"`
	Metrics  Metrics           `json:"metrics"`

	FileType string `json:"fileType,omitempty"`

	Error               string        `json:"error,omitempty"`
	UpstreamErrorCategory ErrorCategory `json:"upstreamErrorCategory,omitempty"`

	// WebSocket connections are logged as a single summary entry emitted
	// at close.
	WebSocket *WebSocketSummary `json:"webSocket,omitempty"`

	// search snapshots, lowercased and size-bounded, never re-derived.
	requestBodySearch  string
	responseBodySearch string
	headerSearch       string

	// committed marks that this entry has already contributed its delta
	// to the aggregates; only a late streaming completion may still
	// mutate ResponseBody/Metrics.ResponseBytes after commit.
	committed bool
}

// WebSocketSummary accumulates counts for one WS connection's lifetime.
type WebSocketSummary struct {
	Messages      int   `json:"messages"`
	Bytes         int64 `json:"bytes"`
	RewriteCount  int   `json:"rewriteCount"`
	OpenedAt      time.Time `json:"openedAt"`
	ClosedAt      time.Time `json:"closedAt"`
}

// RouteKey identifies one row of the Dashboard / Route Stats map: host
// plus a sanitised path made of the first 1-2 non-empty path segments.
type RouteKey struct {
	Host string
	Path string
}

// RouteStats is the aggregate value for one RouteKey.
type RouteStats struct {
	Count              int64
	TotalMs            int64
	MaxMs              int64
	TotalResponseBytes int64
	SourceCounts       map[Source]int64
}

// SuggestionStats is the per-host record derived from log entries that
// are neither already bypassed nor internal.
type SuggestionStats struct {
	Host       string
	Count      int64
	LastSeen   time.Time
	PathCounts map[string]int64
}
