package dashboard

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/relayforge/relayforge/internal/logstore"
)

// handleLogs serves GET /api/logs and DELETE /api/logs.
func (d *Dashboard) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		f, limit := filterFromQuery(r.URL.Query())
		writeJSON(w, http.StatusOK, d.logs.Filtered(f, limit))

	case http.MethodDelete:
		d.logs.Clear()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

// handleLogsExport serves GET /api/logs/export: the filtered union of the
// live ring and the SQLite-archived evicted entries.
func (d *Dashboard) handleLogsExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	f, limit := filterFromQuery(r.URL.Query())
	q := logstore.ExportQuery{
		Host:   r.URL.Query().Get("host"),
		Source: logstore.Source(r.URL.Query().Get("source")),
		Since:  r.URL.Query().Get("since"),
		Limit:  limit,
	}
	entries, err := d.logs.Export(f, q)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// handleAudit serves GET /api/audit: the recent-activity feed, an
// unfiltered tail bounded by ?limit (default 50).
func (d *Dashboard) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, d.logs.Tail(limit))
}

// filterFromQuery builds a logstore.Filter plus a result limit from the
// query string shared by /api/logs and /api/logs/export: ?q=, ?source=
// (comma-separated), ?method= (comma-separated), ?fileType=
// (comma-separated), ?rewritten=request|response|any, ?ws=true, ?limit=.
func filterFromQuery(q map[string][]string) (logstore.Filter, int) {
	get := func(key string) string {
		if v, ok := q[key]; ok && len(v) > 0 {
			return v[0]
		}
		return ""
	}
	split := func(key string) []string {
		v := get(key)
		if v == "" {
			return nil
		}
		return strings.Split(v, ",")
	}

	var sources []logstore.Source
	for _, s := range split("source") {
		sources = append(sources, logstore.Source(s))
	}

	f := logstore.Filter{
		Query:         get("q"),
		Sources:       sources,
		Methods:       split("method"),
		FileTypes:     split("fileType"),
		ShowWebSocket: get("ws") == "true",
		RewrittenOnly: get("rewritten"),
		BlockedMuted:  get("blockedMuted") == "true",
	}

	limit := 0
	if l := get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	return f, limit
}
