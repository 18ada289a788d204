package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show proxy status and route statistics",
	Long: `Display whether the relayforge proxy is running, its listen address,
and a summary of per-route traffic counts.

Queries the live proxy process for accurate real-time data.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStatus(cmd, args)
	},
}

// statusRouteJSON mirrors the subset of internal/dashboard's
// dashboardStats/routeStatsView JSON we display here.
type statusRouteJSON struct {
	Host    string `json:"host"`
	Path    string `json:"path"`
	Count   int64  `json:"count"`
	TotalMs int64  `json:"totalMs"`
	MaxMs   int64  `json:"maxMs"`
}

type statusResponseJSON struct {
	Sources map[string]int64  `json:"sources"`
	Routes  []statusRouteJSON `json:"routes"`
}

// runStatus queries the live proxy via HTTP for status and route data:
// /health first, then a route-stats summary endpoint.
func runStatus(cmd *cobra.Command, args []string) error {
	fileCfg, err := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%d", fileCfg.Server.Host, fileCfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(addr + "/health")
	if err != nil {
		fmt.Println("[relayforge] Status: NOT RUNNING")
		fmt.Printf("[relayforge] Expected at: %s\n", addr)
		return nil
	}
	resp.Body.Close()

	fmt.Println("[relayforge] Status: RUNNING")
	fmt.Printf("[relayforge] Listening on: %s\n", addr)

	statsResp, err := client.Get(addr + "/api/dashboard")
	if err != nil {
		fmt.Println("[relayforge] Could not query route data (dashboard API may be disabled)")
		return nil
	}
	defer statsResp.Body.Close()

	body, err := io.ReadAll(statsResp.Body)
	if err != nil {
		fmt.Println("[relayforge] Could not read route data")
		return nil
	}

	var stats statusResponseJSON
	if err := json.Unmarshal(body, &stats); err != nil {
		fmt.Println("[relayforge] Could not parse route data")
		return nil
	}

	fmt.Println()
	fmt.Println("  SOURCE          COUNT")
	fmt.Println("  ------          -----")
	sources := make([]string, 0, len(stats.Sources))
	for s := range stats.Sources {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	for _, s := range sources {
		fmt.Printf("  %-15s %d\n", s, stats.Sources[s])
	}

	if len(stats.Routes) == 0 {
		fmt.Println()
		fmt.Println("[relayforge] No routes recorded yet")
		return nil
	}

	fmt.Println()
	fmt.Printf("  %-30s %-8s %-8s %-8s\n", "ROUTE", "COUNT", "TOTALMS", "MAXMS")
	fmt.Printf("  %-30s %-8s %-8s %-8s\n", "-----", "-----", "-------", "-----")
	for _, r := range stats.Routes {
		fmt.Printf("  %-30s %-8d %-8d %-8d\n", r.Host+r.Path, r.Count, r.TotalMs, r.MaxMs)
	}
	return nil
}
