package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Query the running proxy's traffic log",
}

var logsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the most recent log entries",
	RunE:  runLogsTail,
}

var logsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Search logged traffic with a filter expression",
	Long: `Search logged traffic. -q takes the same substring expression the
dashboard search box accepts: "||" separates OR-groups, ";" separates
AND-terms within a group, and a leading "!" negates a term.`,
	RunE: runLogsQuery,
}

var (
	logsLimit  int
	logsQuery  string
	logsSource string
	logsHost   string
)

func init() {
	logsTailCmd.Flags().IntVar(&logsLimit, "limit", 50, "Number of entries to show")

	logsQueryCmd.Flags().StringVarP(&logsQuery, "q", "q", "", "Search expression")
	logsQueryCmd.Flags().StringVar(&logsSource, "source", "", "Restrict to one source bucket (comma-separated)")
	logsQueryCmd.Flags().StringVar(&logsHost, "host", "", "Restrict to entries whose host contains this substring")
	logsQueryCmd.Flags().IntVar(&logsLimit, "limit", 100, "Maximum entries to show")

	logsCmd.AddCommand(logsTailCmd, logsQueryCmd)
}

// logEntryJSON mirrors the subset of logstore.Entry's JSON the CLI
// renders; the full entry carries headers/bodies the terminal table
// doesn't need.
type logEntryJSON struct {
	Method         string `json:"method"`
	RequestURL     string `json:"requestUrl"`
	Host           string `json:"host"`
	Path           string `json:"path"`
	Source         string `json:"source"`
	ResponseStatus int    `json:"responseStatus"`
	Metrics        struct {
		TotalDurationMs int64 `json:"totalDurationMs"`
		ResponseBytes   int64 `json:"responseBytes"`
	} `json:"metrics"`
}

func runLogsTail(cmd *cobra.Command, args []string) error {
	addr, err := dashboardAddr()
	if err != nil {
		return err
	}
	resp, err := apiClient().Get(fmt.Sprintf("%s/audit?limit=%d", addr, logsLimit))
	if err != nil {
		return fmt.Errorf("proxy unreachable: %w", err)
	}
	defer resp.Body.Close()
	return printLogEntries(resp, "")
}

func runLogsQuery(cmd *cobra.Command, args []string) error {
	addr, err := dashboardAddr()
	if err != nil {
		return err
	}

	q := make([]string, 0, 4)
	if logsQuery != "" {
		q = append(q, "q="+logsQuery)
	}
	if logsSource != "" {
		q = append(q, "source="+logsSource)
	}
	q = append(q, fmt.Sprintf("limit=%d", logsLimit))

	resp, err := apiClient().Get(addr + "/logs?" + strings.Join(q, "&"))
	if err != nil {
		return fmt.Errorf("proxy unreachable: %w", err)
	}
	defer resp.Body.Close()
	return printLogEntries(resp, logsHost)
}

// printLogEntries renders the entries in resp; a non-empty host keeps only
// entries whose host contains it.
func printLogEntries(resp *http.Response, host string) error {
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var entries []logEntryJSON
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if host != "" {
		kept := entries[:0]
		for _, e := range entries {
			if strings.Contains(e.Host, host) {
				kept = append(kept, e)
			}
		}
		entries = kept
	}
	if len(entries) == 0 {
		fmt.Println("[relayforge] No matching entries")
		return nil
	}

	colorize := isatty.IsTerminal(os.Stdout.Fd())
	for _, e := range entries {
		status := strconv.Itoa(e.ResponseStatus)
		if colorize {
			status = colorForStatus(e.ResponseStatus) + status + "\x1b[0m"
		}
		fmt.Printf("%-6s %-9s %3s %-40s %8s %s\n",
			e.Method, e.Source, status, e.Host+e.Path,
			humanize.Bytes(uint64(e.Metrics.ResponseBytes)),
			time.Duration(e.Metrics.TotalDurationMs)*time.Millisecond)
	}
	return nil
}

func colorForStatus(status int) string {
	switch {
	case status >= 500:
		return "\x1b[31m" // red
	case status >= 400:
		return "\x1b[33m" // yellow
	case status >= 200 && status < 300:
		return "\x1b[32m" // green
	default:
		return ""
	}
}
