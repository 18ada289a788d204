package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/relayforge/relayforge/internal/certs"
	"github.com/relayforge/relayforge/internal/config"
	"github.com/relayforge/relayforge/internal/dashboard"
	"github.com/relayforge/relayforge/internal/httpproxy"
	"github.com/relayforge/relayforge/internal/logstore"
	"github.com/relayforge/relayforge/internal/mitm"
	"github.com/relayforge/relayforge/internal/rules"
	"github.com/relayforge/relayforge/internal/wsproxy"
)

var daemonMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relayforge proxy",
	Long: `Start the relayforge proxy. Serves the plain HTTP, CONNECT, and
WebSocket pipelines plus the REST dashboard on one listener.

By default runs in the foreground. Use -d for daemon/background mode.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd, args)
	},
}

func init() {
	startCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run proxy in daemon/background mode")
}

// runStart wires every internal package together: rule store, toggle
// store, log store, certificate authority, the three protocol pipelines,
// and the dashboard, then starts the HTTP server and blocks until a
// shutdown signal arrives: daemon re-exec, PID file, graceful drain on
// SIGINT/SIGTERM/HTTP-shutdown.
func runStart(cmd *cobra.Command, args []string) error {
	if daemonMode && os.Getenv("RELAYFORGE_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	fileCfg, err := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if os.Getenv("PORT") == "" {
		os.Setenv("PORT", strconv.Itoa(fileCfg.Server.Port))
	}
	if os.Getenv("STORAGE_DIR") == "" {
		os.Setenv("STORAGE_DIR", fileCfg.Storage.Dir)
	}

	settings, err := config.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := os.MkdirAll(settings.StorageDir, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory: %w", err)
	}

	store, err := rules.New(rules.Options{
		EditRulesPath:   filepath.Join(settings.StorageDir, "edit-rules.json"),
		BlockRulesPath:  filepath.Join(settings.StorageDir, "block-rules.json"),
		FilterRulesPath: filepath.Join(settings.StorageDir, "filter-rules.json"),
		ResourcesPath:   filepath.Join(settings.StorageDir, "resources.json"),
		ResourcesDir:    filepath.Join(settings.StorageDir, "resources"),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize rule store: %w", err)
	}

	toggles, err := config.NewToggleStore(filepath.Join(settings.StorageDir, "config.json"))
	if err != nil {
		return fmt.Errorf("failed to initialize toggle store: %w", err)
	}

	ca, err := certs.Load(settings.CertsDir)
	if err != nil {
		return fmt.Errorf("failed to initialize certificate authority: %w", err)
	}

	registry := prometheus.NewRegistry()
	logs := logstore.New(logstore.Options{
		MaxEntries: settings.MaxLogEntries,
		IndexPath:  filepath.Join(settings.LogsDir, "export.db"),
		Registerer: registry,
	})
	defer logs.Close()

	httpHandler := httpproxy.New(settings, store, logs, toggles.Current, ca)
	mitmHandler := mitm.New(settings, store, logs, ca, httpHandler)
	wsHandler := wsproxy.New(settings, store, logs, toggles.Current)

	var dash http.Handler
	if fileCfg.Dashboard.Enabled {
		dash = dashboard.New(dashboard.Options{
			Settings: settings,
			Rules:    store,
			Logs:     logs,
			Toggles:  toggles,
		}).APIHandler()
	}

	mux := http.NewServeMux()
	if dash != nil {
		mux.Handle("/api/", dash)
	}
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, version)
	})

	shutdownCh := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	})

	mux.HandleFunc("/", proxyDispatch(httpHandler, mitmHandler, wsHandler))

	addr := fmt.Sprintf("%s:%d", fileCfg.Server.Host, settings.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	pidFile := filepath.Join(settings.StorageDir, "relayforge.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	watcher, err := config.NewWatcher(settings.StorageDir, config.WatchTargets{
		OnConfigChange: func() {
			if reloadErr := toggles.Reload(); reloadErr != nil {
				fmt.Fprintf(os.Stderr, "[relayforge] warning: failed to reload toggles: %v\n", reloadErr)
			}
		},
		OnEditRulesChange:   func() { reloadRules(store) },
		OnBlockRulesChange:  func() { reloadRules(store) },
		OnFilterRulesChange: func() { reloadRules(store) },
		OnResourcesChange:   func() { reloadRules(store) },
	})
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[relayforge] Proxy listening on http://%s\n", addr)
		if dash != nil {
			fmt.Printf("[relayforge] Dashboard API at http://%s/api\n", addr)
		}
		if !daemonMode {
			fmt.Println("[relayforge] Press Ctrl+C to stop")
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[relayforge] Shutting down (signal received)...")
	case <-shutdownCh:
		fmt.Println("[relayforge] Shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[relayforge] shutdown error: %v\n", shutdownErr)
	}

	fmt.Println("[relayforge] Stopped")
	return nil
}

func reloadRules(store *rules.Store) {
	if err := store.Reload(); err != nil {
		fmt.Fprintf(os.Stderr, "[relayforge] warning: failed to reload rule store: %v\n", err)
	}
}

// proxyDispatch routes one incoming connection to the CONNECT tunnel
// pipeline, the WebSocket upgrade pipeline, or the plain HTTP pipeline —
// the three protocol handlers internal/mitm, internal/wsproxy and
// internal/httpproxy each already implement in full.
func proxyDispatch(httpHandler http.Handler, mitmHandler *mitm.Handler, wsHandler http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodConnect:
			mitmHandler.ServeConnect(w, r)
		case isWebSocketUpgrade(r):
			wsHandler.ServeHTTP(w, r)
		default:
			httpHandler.ServeHTTP(w, r)
		}
	}
}

// isWebSocketUpgrade reports point 4's upgrade detection:
// Connection contains "upgrade" and Upgrade equals "websocket", both
// case-insensitively.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// spawnDaemon re-execs the relayforge binary as a detached background
// process. Go can't fork() safely because the runtime is multi-threaded,
// so this re-exec-with-env-marker pattern stands in for it.
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "relayforge.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	daemonArgs := []string{"start"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "RELAYFORGE_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[relayforge] Proxy started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[relayforge] Log file: %s\n", logPath)
	fmt.Println("[relayforge] Use 'relayforge stop' to stop the proxy")

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[relayforge] warning: failed to release child process: %v\n", err)
	}

	logFile.Close()
	return nil
}

// isLoopback restricts /shutdown to localhost callers.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}
