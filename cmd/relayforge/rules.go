package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/relayforge/relayforge/internal/rules"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage edit and filter rules",
	Long: `List, add, and remove rewrite and filter rules against the running
relayforge proxy's REST control surface.`,
}

var rulesFilterMode string

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List edit rules (or filter rules with --filters)",
	RunE:  runRulesList,
}

var rulesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a text rewrite rule",
	Long: `Add a text rewrite rule that replaces every span between --start and
--end with --replacement, scoped by --url and --target.`,
	RunE: runRulesAdd,
}

var rulesRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an edit rule by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runRulesRemove,
}

var rulesSuggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Show hosts seen in traffic that no bypass filter covers",
	RunE:  runRulesSuggest,
}

var (
	ruleStart       string
	ruleEnd         string
	ruleReplacement string
	ruleURL         string
	ruleTarget      string
	ruleName        string
	ruleUseRegex    bool
	listFilters     bool
	suggestLimit    int
)

func init() {
	rulesListCmd.Flags().BoolVar(&listFilters, "filters", false, "List filter rules instead of edit rules")

	rulesAddCmd.Flags().StringVar(&ruleName, "name", "", "Rule name")
	rulesAddCmd.Flags().StringVar(&ruleStart, "start", "", "Start marker (literal or regex)")
	rulesAddCmd.Flags().StringVar(&ruleEnd, "end", "", "End marker (literal or regex)")
	rulesAddCmd.Flags().StringVar(&ruleReplacement, "replacement", "", "Replacement text")
	rulesAddCmd.Flags().StringVar(&ruleURL, "url", "", "URL substring scoping this rule")
	rulesAddCmd.Flags().StringVar(&ruleTarget, "target", "both", "request, response, or both")
	rulesAddCmd.Flags().BoolVar(&ruleUseRegex, "regex", false, "Treat start/end as regular expressions")

	rulesSuggestCmd.Flags().IntVar(&suggestLimit, "limit", 10, "Number of hosts to show")

	rulesCmd.AddCommand(rulesListCmd, rulesAddCmd, rulesRemoveCmd, rulesSuggestCmd)
}

// dashboardAddr resolves the base URL of the running proxy's dashboard API
// from the cmd-local YAML config layer.
func dashboardAddr() (string, error) {
	fileCfg, err := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return fmt.Sprintf("http://%s:%d/api", fileCfg.Server.Host, fileCfg.Server.Port), nil
}

func apiClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func runRulesList(cmd *cobra.Command, args []string) error {
	addr, err := dashboardAddr()
	if err != nil {
		return err
	}

	path := "/edit-rules"
	if listFilters {
		path = "/filters"
	}

	resp, err := apiClient().Get(addr + path)
	if err != nil {
		return fmt.Errorf("proxy unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	if listFilters {
		var out []rules.FilterRule
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		if len(out) == 0 {
			fmt.Println("[relayforge] No filter rules")
			return nil
		}
		fmt.Printf("  %-36s %-8s %-6s %-7s %s\n", "ID", "MODE", "GLOB", "ENABLED", "URL")
		for _, f := range out {
			fmt.Printf("  %-36s %-8s %-6v %-7v %s\n", f.ID, f.Mode, f.Glob, f.Enabled, f.URL)
		}
		return nil
	}

	var out []rules.EditRule
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out) == 0 {
		fmt.Println("[relayforge] No edit rules")
		return nil
	}
	fmt.Printf("  %-36s %-9s %-7s %s\n", "ID", "KIND", "ENABLED", "NAME")
	for _, r := range out {
		fmt.Printf("  %-36s %-9s %-7v %s\n", r.ID, r.Kind, r.Enabled, r.Name)
	}
	return nil
}

func runRulesAdd(cmd *cobra.Command, args []string) error {
	if ruleStart == "" && ruleEnd == "" {
		return fmt.Errorf("at least one of --start or --end is required")
	}

	addr, err := dashboardAddr()
	if err != nil {
		return err
	}

	body := rules.EditRule{
		Kind:        rules.KindText,
		Name:        ruleName,
		Enabled:     true,
		Start:       ruleStart,
		End:         ruleEnd,
		Replacement: ruleReplacement,
		UseRegex:    ruleUseRegex,
		URLPattern:  ruleURL,
		Target:      rules.Target(ruleTarget),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode rule: %w", err)
	}

	resp, err := apiClient().Post(addr+"/edit-rules", "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("proxy unreachable: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, respBody)
	}

	var out rules.EditRule
	if err := json.Unmarshal(respBody, &out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	fmt.Printf("[relayforge] Added rule %s\n", out.ID)
	return nil
}

func runRulesRemove(cmd *cobra.Command, args []string) error {
	addr, err := dashboardAddr()
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodDelete, addr+"/edit-rules/"+args[0], nil)
	if err != nil {
		return err
	}

	resp, err := apiClient().Do(req)
	if err != nil {
		return fmt.Errorf("proxy unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}
	fmt.Printf("[relayforge] Removed rule %s\n", args[0])
	return nil
}

func runRulesSuggest(cmd *cobra.Command, args []string) error {
	addr, err := dashboardAddr()
	if err != nil {
		return err
	}

	resp, err := apiClient().Get(fmt.Sprintf("%s/filters/suggestions?limit=%d", addr, suggestLimit))
	if err != nil {
		return fmt.Errorf("proxy unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, body)
	}

	var out []struct {
		Host     string    `json:"host"`
		Count    int64     `json:"count"`
		LastSeen time.Time `json:"lastSeen"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out) == 0 {
		fmt.Println("[relayforge] No uncovered hosts in recent traffic")
		return nil
	}

	fmt.Printf("  %-40s %-8s %s\n", "HOST", "COUNT", "LAST SEEN")
	for _, s := range out {
		fmt.Printf("  %-40s %-8d %s\n", s.Host, s.Count, s.LastSeen.Format(time.RFC3339))
	}
	return nil
}
