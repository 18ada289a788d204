// Package dashboard serves the REST control surface: a thin boundary over
// internal/rules, internal/logstore and internal/config's ToggleStore,
// mounted on /api/ alongside the proxy's own listening socket.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/rules"
)

// Options holds the dependencies injected into the dashboard.
type Options struct {
	Settings config.Settings
	Rules    *rules.Store
	Logs     *logstore.Store
	Toggles  *config.ToggleStore
}

// Dashboard implements the REST API. It holds no state of its own beyond
// its dependencies — every mutation goes straight through to the owning
// store, which is responsible for its own persistence and atomic-swap
// discipline.
type Dashboard struct {
	settings config.Settings
	rules    *rules.Store
	logs     *logstore.Store
	toggles  *config.ToggleStore
}

// New builds a Dashboard over the given dependencies.
func New(opts Options) *Dashboard {
	return &Dashboard{
		settings: opts.Settings,
		rules:    opts.Rules,
		logs:     opts.Logs,
		toggles:  opts.Toggles,
	}
}

// APIHandler returns an http.Handler serving every /api/ route.
// Mounted by cmd/relayforge alongside the proxy listener.
func (d *Dashboard) APIHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/logs", d.handleLogs)
	mux.HandleFunc("/api/logs/export", d.handleLogsExport)
	mux.HandleFunc("/api/audit", d.handleAudit)
	mux.HandleFunc("/api/dashboard", d.handleDashboardStats)

	mux.HandleFunc("/api/config", d.handleConfig)
	mux.HandleFunc("/api/interactive-mode", d.handleToggle(func(t *config.Toggles, v bool) { t.InteractiveModeEnabled = v }))
	mux.HandleFunc("/api/edit-rules-mode", d.handleToggle(func(t *config.Toggles, v bool) { t.EditRulesEnabled = v }))
	mux.HandleFunc("/api/local-resources-mode", d.handleToggle(func(t *config.Toggles, v bool) { t.LocalResourcesEnabled = v }))
	mux.HandleFunc("/api/filter-rules-mode", d.handleToggle(func(t *config.Toggles, v bool) { t.FilterRulesEnabled = v }))
	mux.HandleFunc("/api/blocked-rules-mode", d.handleToggle(func(t *config.Toggles, v bool) { t.BlockedRulesEnabled = v }))
	mux.HandleFunc("/api/filter-mode", d.handleFilterMode)

	mux.HandleFunc("/api/resources", d.handleResources)
	mux.HandleFunc("/api/resources/toggle", d.handleResourcesToggle)
	mux.HandleFunc("/api/resources/", d.handleResourceDelete)

	mux.HandleFunc("/api/blocked", d.handleBlocked)

	mux.HandleFunc("/api/filters", d.handleFilters)
	mux.HandleFunc("/api/filters/suggestions", d.handleFilterSuggestions)
	mux.HandleFunc("/api/filters/metrics", d.handleFilterMetrics)

	mux.HandleFunc("/api/edit-rules", d.handleEditRules)
	mux.HandleFunc("/api/edit-rules/", d.handleEditRuleByID)

	return mux
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.Encode(data)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	slog.Debug("dashboard: request failed", "status", status, "error", err)
	http.Error(w, err.Error(), status)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
