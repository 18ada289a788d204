package dashboard

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/relayforge/relayforge/internal/rules"
)

// filterRequest mirrors blockedRequest, adding Mode and Glob for the
// bypass/focus distinction and the supplemental glob matcher.
type filterRequest struct {
	ID      string           `json:"id,omitempty"`
	URL     string           `json:"url,omitempty"`
	Name    string           `json:"name,omitempty"`
	Mode    rules.FilterMode `json:"mode,omitempty"`
	Glob    bool             `json:"glob,omitempty"`
	Enabled *bool            `json:"enabled,omitempty"`
	Action  string           `json:"action"`
}

// handleFilters serves GET /api/filters (raw list, all modes) and POST
// /api/filters (add|update|remove).
func (d *Dashboard) handleFilters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, d.rules.ListFilterRules())

	case http.MethodPost:
		var body filterRequest
		if err := decodeJSON(r, &body); err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}

		switch body.Action {
		case "add", "update":
			mode := body.Mode
			if mode != rules.FilterIgnore && mode != rules.FilterFocus {
				mode = d.rules.FilterMode()
			}
			rule := rules.FilterRule{ID: body.ID, Name: body.Name, URL: body.URL, Mode: mode, Glob: body.Glob, Enabled: true}
			if body.Enabled != nil {
				rule.Enabled = *body.Enabled
			}
			out, err := d.rules.PutFilterRule(rule)
			if err != nil {
				writeErr(w, http.StatusBadRequest, err)
				return
			}
			writeJSON(w, http.StatusOK, out)

		case "remove":
			if body.ID == "" {
				writeErr(w, http.StatusBadRequest, errMissingID)
				return
			}
			if err := d.rules.DeleteFilterRule(body.ID); err != nil {
				writeErr(w, http.StatusNotFound, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})

		default:
			writeErr(w, http.StatusBadRequest, fmt.Errorf("unknown action %q", body.Action))
		}

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleFilterSuggestions serves GET /api/filters/suggestions?limit=: the
// top hosts seen in traffic that no enabled host-type bypass filter
// already covers.
func (d *Dashboard) handleFilterSuggestions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	limit := 10
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	snap := d.rules.Current()
	isBypassed := func(host string) bool {
		for _, f := range snap.Filters {
			if f.Rule.Mode != rules.FilterIgnore || !f.Rule.Enabled || f.Kind != rules.MatcherHost {
				continue
			}
			if f.Glob != nil && f.Glob.Match(host) {
				return true
			}
			if f.Rule.URL == host {
				return true
			}
		}
		return false
	}

	writeJSON(w, http.StatusOK, d.logs.Suggestions(limit, isBypassed))
}

// handleFilterMetrics serves GET /api/filters/metrics: per-mode rule
// counts alongside the global source breakdown, letting the UI show how
// much of observed traffic each active filter set actually covers.
func (d *Dashboard) handleFilterMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	all := d.rules.ListFilterRules()
	var ignoreCount, focusCount, enabledCount int
	for _, f := range all {
		if f.Enabled {
			enabledCount++
		}
		switch f.Mode {
		case rules.FilterIgnore:
			ignoreCount++
		case rules.FilterFocus:
			focusCount++
		}
	}

	sources := make(map[string]int64)
	for src, n := range d.logs.GlobalCounts() {
		sources[string(src)] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":         d.rules.FilterMode(),
		"totalRules":   len(all),
		"enabledRules": enabledCount,
		"ignoreRules":  ignoreCount,
		"focusRules":   focusCount,
		"sources":      sources,
	})
}
