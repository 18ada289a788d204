package dashboard

import "net/http"

// dashboardStats is the combined GET /api/dashboard payload: global
// source counts plus the per-route table, // "Dashboard / Route Stats" model.
type dashboardStats struct {
	Sources map[string]int64 `json:"sources"`
	Routes  []routeStatsView `json:"routes"`
}

type routeStatsView struct {
	Host               string           `json:"host"`
	Path               string           `json:"path"`
	Count              int64            `json:"count"`
	TotalMs            int64            `json:"totalMs"`
	MaxMs              int64            `json:"maxMs"`
	TotalResponseBytes int64            `json:"totalResponseBytes"`
	SourceCounts       map[string]int64 `json:"sourceCounts"`
}

// handleDashboardStats serves GET /api/dashboard.
func (d *Dashboard) handleDashboardStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	sources := make(map[string]int64)
	for src, n := range d.logs.GlobalCounts() {
		sources[string(src)] = n
	}

	routeSnap := d.logs.RouteSnapshot()
	routes := make([]routeStatsView, 0, len(routeSnap))
	for key, stats := range routeSnap {
		sc := make(map[string]int64, len(stats.SourceCounts))
		for src, n := range stats.SourceCounts {
			sc[string(src)] = n
		}
		routes = append(routes, routeStatsView{
			Host:               key.Host,
			Path:               key.Path,
			Count:              stats.Count,
			TotalMs:            stats.TotalMs,
			MaxMs:              stats.MaxMs,
			TotalResponseBytes: stats.TotalResponseBytes,
			SourceCounts:       sc,
		})
	}

	writeJSON(w, http.StatusOK, dashboardStats{Sources: sources, Routes: routes})
}
