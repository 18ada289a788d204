// Package main is the CLI entry point for relayforge — an interactive
// intercepting HTTP/1.1, HTTPS (MITM) and WebSocket proxy with a rule-driven
// rewrite engine and a REST dashboard: a cobra command tree, daemon re-exec,
// PID file, and loopback-restricted /shutdown endpoint.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-02-10"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// configDir is the global flag for the relayforge state directory: it
// holds config.yaml, the rule/resource/block/filter JSON files, the CA
// directory, the log SQLite export index, and the PID file.
var configDir string

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relayforge"
	}
	return filepath.Join(home, ".relayforge")
}

var rootCmd = &cobra.Command{
	Use:   "relayforge",
	Short: "relayforge — interactive intercepting proxy",
	Long: `relayforge is an interactive intercepting proxy: plain HTTP/1.1,
CONNECT tunnels (raw splice or TLS-terminated MITM), and WebSocket
upgrades, all mediated by a rule-driven rewrite and routing engine with
a REST dashboard.

Run 'relayforge start' to start the proxy.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to relayforge config and state directory",
	)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(certsCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// writePIDFile writes the current process ID, used by `relayforge stop`'s
// SIGTERM fallback.
func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}
