package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and edit relayforge's on-disk configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current config.yaml",
	RunE:  runConfigShow,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a default config.yaml",
	Long: `Write a commented default config.yaml to the config directory.
Refuses to overwrite an existing file unless --force is given.`,
	RunE: runConfigGenerate,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config.yaml in $EDITOR",
	RunE:  runConfigEdit,
}

var configForce bool

func init() {
	configGenerateCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config.yaml")
	configCmd.AddCommand(configShowCmd, configGenerateCmd, configEditCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	path := filepath.Join(configDir, "config.yaml")
	cfg, err := loadFileConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Printf("# %s\n%s", path, data)
	return nil
}

func runConfigGenerate(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	if err := writeDefaultFileConfig(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("[relayforge] Wrote default config to %s\n", path)
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	path := filepath.Join(configDir, "config.yaml")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefaultFileConfig(path); err != nil {
			return fmt.Errorf("failed to write initial config: %w", err)
		}
	}

	editor := os.Getenv("EDITOR")
	if editor == "" {
		if runtime.GOOS == "windows" {
			editor = "notepad"
		} else {
			editor = "vi"
		}
	}

	c := exec.Command(editor, path)
	c.Stdin = os.Stdin
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}

	if _, err := loadFileConfig(path); err != nil {
		return fmt.Errorf("config is now invalid: %w", err)
	}
	return nil
}
