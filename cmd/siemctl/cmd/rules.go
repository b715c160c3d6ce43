package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/siemlite/internal/alerting"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Detection rule management",
	Long: `Commands for managing detection rules.

Rules are matched by slug. Importing a file creates new rules and updates
changed ones; rules missing from the file are left untouched.

Changes are written to the database directly. A running server keeps
enabled rules cached and picks changes up once its cache entries expire
(alerting.rule_cache_ttl, 10s by default).

Examples:
  siemctl rules import rules.yaml
  siemctl rules list
  siemctl rules disable ssh-brute-force`,
}

var rulesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Create or update rules from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rules, err := alerting.LoadRulesFromFile(args[0])
		if err != nil {
			return err
		}
		PrintVerbose("Loaded %d rule(s) from %s", len(rules), args[0])

		store, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := alerting.SyncRules(context.Background(), store.Rules(), rules)
		if err != nil {
			return err
		}
		if ok, err := printJSON(cmd.OutOrStdout(), res); ok {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rules imported: %d created, %d updated, %d unchanged\n",
			res.Created, res.Updated, res.Unchanged)
		return nil
	},
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close()

		rules, err := store.Rules().List(context.Background())
		if err != nil {
			return fmt.Errorf("list rules: %w", err)
		}
		out := cmd.OutOrStdout()
		if ok, err := printJSON(out, rules); ok {
			return err
		}
		if len(rules) == 0 {
			fmt.Fprintln(out, "No rules found.")
			return nil
		}

		fmt.Fprintf(out, "\n%-30s  %-20s  %-9s  %9s  %7s  %s\n",
			"SLUG", "EVENT TYPE", "SEVERITY", "THRESHOLD", "WINDOW", "ENABLED")
		fmt.Fprintln(out, strings.Repeat("-", 95))
		for _, r := range rules {
			fmt.Fprintf(out, "%-30s  %-20s  %-9s  %9d  %6dm  %t\n",
				r.Slug, r.EventType, r.Severity, r.Threshold, r.WindowMinutes, r.Enabled)
		}
		fmt.Fprintf(out, "\nTotal: %d rule(s)\n", len(rules))
		return nil
	},
}

var rulesEnableCmd = &cobra.Command{
	Use:   "enable <id|slug>",
	Short: "Enable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(cmd, args[0], true)
	},
}

var rulesDisableCmd = &cobra.Command{
	Use:   "disable <id|slug>",
	Short: "Disable a rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setRuleEnabled(cmd, args[0], false)
	},
}

func setRuleEnabled(cmd *cobra.Command, ref string, enabled bool) error {
	store, err := openDatabase()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	rule, err := findRule(ctx, store.Rules(), ref)
	if err != nil {
		return err
	}
	if err := store.Rules().SetEnabled(ctx, rule.ID, enabled); err != nil {
		return fmt.Errorf("update rule: %w", err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rule %s %s\n", rule.Slug, state)
	return nil
}

// findRule resolves ref as a rule ID, then as a slug.
func findRule(ctx context.Context, repo storage.RuleRepository, ref string) (*models.Rule, error) {
	rule, err := repo.GetByID(ctx, ref)
	if errors.Is(err, storage.ErrNotFound) {
		rule, err = repo.GetBySlug(ctx, ref)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("rule not found: %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("load rule: %w", err)
	}
	return rule, nil
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesImportCmd, rulesListCmd, rulesEnableCmd, rulesDisableCmd)
}
