package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk process configuration at <configDir>/config.yaml:
// the knobs an operator sets once at install time, layered on top of the
// environment-variable settings internal/config.LoadSettings already reads.
type fileConfig struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		Dir string `yaml:"dir"`
	} `yaml:"storage"`
	Dashboard struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"dashboard"`
}

func applyFileConfigDefaults() *fileConfig {
	cfg := &fileConfig{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8787
	cfg.Storage.Dir = defaultConfigDir()
	cfg.Dashboard.Enabled = true
	return cfg
}

// loadFileConfig reads config.yaml, falling back to defaults when the file
// is absent (first run, before `relayforge config generate` or
// `relayforge config edit` has written one).
func loadFileConfig(path string) (*fileConfig, error) {
	cfg := applyFileConfigDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := validateFileConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// writeDefaultFileConfig writes a commented default config.yaml, used by
// `relayforge config generate` and by `relayforge config edit` when no
// file exists yet.
func writeDefaultFileConfig(path string) error {
	cfg := applyFileConfigDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# relayforge proxy configuration
#
# server:
#   host: bind address (default: 127.0.0.1, loopback only)
#   port: listen port (default: 8787)
#
# storage:
#   dir: state directory holding rule/resource/block/filter JSON, the CA,
#        and the log export index (default: ~/.relayforge)
#
# dashboard:
#   enabled: serve the REST control surface at /api on the same port

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

func validateFileConfig(cfg *fileConfig) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}
	if cfg.Storage.Dir == "" {
		return fmt.Errorf("storage.dir must not be empty")
	}
	return nil
}
