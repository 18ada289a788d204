package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/relayforge/relayforge/internal/certs"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage the MITM root certificate authority",
}

var certsOutPath string

var certsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Print (or save) the root CA certificate in PEM form",
	Long: `Export the root CA certificate so it can be installed as a trusted
root in a browser or OS trust store. Generates the authority on first run
if it doesn't already exist on disk.`,
	RunE: runCertsExport,
}

func init() {
	certsExportCmd.Flags().StringVarP(&certsOutPath, "out", "o", "", "Write PEM to this file instead of stdout")
	certsCmd.AddCommand(certsExportCmd)
}

func runCertsExport(cmd *cobra.Command, args []string) error {
	fileCfg, err := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	certsDir := filepath.Join(fileCfg.Storage.Dir, "certs")
	if err := os.MkdirAll(certsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create certs directory: %w", err)
	}

	ca, err := certs.Load(certsDir)
	if err != nil {
		return fmt.Errorf("failed to load certificate authority: %w", err)
	}

	pem := ca.RootCertPEM()

	if certsOutPath == "" {
		_, err := os.Stdout.Write(pem)
		return err
	}

	if err := os.WriteFile(certsOutPath, pem, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", certsOutPath, err)
	}
	fmt.Printf("[relayforge] Wrote root CA certificate to %s\n", certsOutPath)
	return nil
}
