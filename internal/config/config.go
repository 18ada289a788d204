// Package config handles loading the relayforge proxy's environment-driven
// settings and its small persisted toggle file from ~/.relayforge/config.json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/relayforge/relayforge/internal/rules"
)

// Settings holds the environment-configured knobs read once at startup.
// These are process-wide and fixed for the lifetime of the proxy; unlike
// Toggles they are never hot-reloaded.
type Settings struct {
	Port       int
	StorageDir string
	LogsDir    string
	CertsDir   string

	MaxLogEntries          int
	LogPreviewMaxBytes     int
	LogDecompressMaxBytes  int
	BodyLimit              int64
	ProtobufMaxFields      int
	ProtobufMaxBytes       int
	ConnectMaxFrames       int
	ConnectMaxFrameBytes   int
	WSMaxTextBytes         int
	UpstreamHeadersTimeoutMs int
	UpstreamBodyTimeoutMs    int

	MitmBypassRewritesEnabled bool
	DebugLogEnabled           bool
	StrictTLSEnabled          bool
	StrictTLSCAFile           string
	StreamUninspectedResponses bool
	WSLogBodyEnabled          bool
}

// LoadSettings reads every knob from the environment, falling back to the
// defaults a fresh install would need.
func LoadSettings() (Settings, error) {
	s := Settings{
		Port:                     envInt("PORT", 8787),
		StorageDir:               envString("STORAGE_DIR", defaultDir(".relayforge")),
		LogsDir:                  envString("LOGS_DIR", ""),
		CertsDir:                 envString("CERTS_DIR", ""),
		MaxLogEntries:            envInt("MAX_LOG_ENTRIES", 2000),
		LogPreviewMaxBytes:       envInt("LOG_PREVIEW_MAX_BYTES", 64*1024),
		LogDecompressMaxBytes:    envInt("LOG_DECOMPRESS_MAX_BYTES", 8*1024*1024),
		BodyLimit:                envInt64("BODY_LIMIT", 32*1024*1024),
		ProtobufMaxFields:        envInt("PROTOBUF_MAX_FIELDS", 10000),
		ProtobufMaxBytes:         envInt("PROTOBUF_MAX_BYTES", 8*1024*1024),
		ConnectMaxFrames:         envInt("CONNECT_MAX_FRAMES", 1000),
		ConnectMaxFrameBytes:     envInt("CONNECT_MAX_FRAME_BYTES", 4*1024*1024),
		WSMaxTextBytes:           envInt("WS_MAX_TEXT_BYTES", 1024*1024),
		UpstreamHeadersTimeoutMs: envInt("UPSTREAM_HEADERS_TIMEOUT_MS", 15000),
		UpstreamBodyTimeoutMs:    envInt("UPSTREAM_BODY_TIMEOUT_MS", 60000),

		MitmBypassRewritesEnabled:  envBool("MITM_BYPASS_REWRITES_ENABLED", false),
		DebugLogEnabled:            envBool("DEBUG_LOG_ENABLED", false),
		StrictTLSEnabled:           envBool("STRICT_TLS_ENABLED", false),
		StrictTLSCAFile:            envString("STRICT_TLS_CA_FILE", ""),
		StreamUninspectedResponses: envBool("STREAM_UNINSPECTED_RESPONSES", true),
		WSLogBodyEnabled:           envBool("WS_LOG_BODY_ENABLED", true),
	}

	if s.LogsDir == "" {
		s.LogsDir = s.StorageDir + "/logs"
	}
	if s.CertsDir == "" {
		s.CertsDir = s.StorageDir + "/certs"
	}
	if s.Port < 1 || s.Port > 65535 {
		return Settings{}, fmt.Errorf("PORT %d out of range (1-65535)", s.Port)
	}
	if s.MaxLogEntries < 1 {
		return Settings{}, fmt.Errorf("MAX_LOG_ENTRIES must be at least 1")
	}
	return s, nil
}

// Toggles is the small persisted control-plane state:
// `{interactiveModeEnabled, editRulesEnabled, localResourcesEnabled,
// filterRulesEnabled, blockedRulesEnabled, filterMode}`. It is read by the
// routing/rewrite engines and mutated by the REST control surface; changes
// are hot-reloaded the same way rule files are (see watcher.go).
type Toggles struct {
	InteractiveModeEnabled bool             `json:"interactiveModeEnabled"`
	EditRulesEnabled       bool             `json:"editRulesEnabled"`
	LocalResourcesEnabled  bool             `json:"localResourcesEnabled"`
	FilterRulesEnabled     bool             `json:"filterRulesEnabled"`
	BlockedRulesEnabled    bool             `json:"blockedRulesEnabled"`
	FilterMode             rules.FilterMode `json:"filterMode"`
}

// defaultToggles matches a fresh install: everything active, filter mode
// set to the less surprising "ignore" (bypass) behaviour.
func defaultToggles() Toggles {
	return Toggles{
		InteractiveModeEnabled: true,
		EditRulesEnabled:       true,
		LocalResourcesEnabled:  true,
		FilterRulesEnabled:     true,
		BlockedRulesEnabled:    true,
		FilterMode:             rules.FilterIgnore,
	}
}

// LoadToggles reads the persisted toggle file. A missing file is not an
// error — it returns the defaults, "failure to load
// a persisted config file is logged and defaults are used".
func LoadToggles(path string) (Toggles, error) {
	t := defaultToggles()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, fmt.Errorf("reading toggle config %s: %w", path, err)
	}
	if len(data) == 0 {
		return t, nil
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parsing toggle config %s: %w", path, err)
	}
	if t.FilterMode != rules.FilterIgnore && t.FilterMode != rules.FilterFocus {
		t.FilterMode = rules.FilterIgnore
	}
	return t, nil
}

// SaveToggles persists the toggle file. Disk write failures are returned to
// the caller to log; they must not crash the process.
func SaveToggles(path string, t Toggles) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling toggle config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultDir(name string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "." + name
	}
	return home + "/" + name
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
