package main

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running relayforge proxy",
	Long: `Stop a running relayforge proxy. Tries HTTP shutdown first
(cross-platform), then falls back to PID file + SIGTERM on Unix systems.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

// runStop tries a two-strategy shutdown: POST /shutdown first (works on
// every platform), then PID file + SIGTERM as the Unix fallback if the
// HTTP endpoint is unreachable.
func runStop(cmd *cobra.Command, args []string) error {
	fileCfg, err := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	addr := fmt.Sprintf("http://%s:%d", fileCfg.Server.Host, fileCfg.Server.Port)
	pidFile := filepath.Join(fileCfg.Storage.Dir, "relayforge.pid")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(addr+"/shutdown", "application/json", nil)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			fmt.Println("[relayforge] Stop signal sent to proxy")
			os.Remove(pidFile)
			return nil
		}
	}

	if runtime.GOOS == "windows" {
		return fmt.Errorf("proxy is not responding at %s — cannot stop", addr)
	}

	pidBytes, err := os.ReadFile(pidFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("proxy is not running (no PID file and HTTP unreachable)")
		}
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(pidBytes)))
	if err != nil {
		return fmt.Errorf("invalid PID in %s: %w", pidFile, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidFile)
		return fmt.Errorf("failed to stop proxy (PID %d): %w", pid, err)
	}

	os.Remove(pidFile)
	fmt.Printf("[relayforge] Sent stop signal to proxy (PID %d)\n", pid)
	return nil
}
