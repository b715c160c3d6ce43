package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

var (
	alertStatus   string
	alertSeverity string
	alertMachine  string
	alertLimit    int
	alertActor    string
)

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Alert management",
	Long: `Commands for reviewing and triaging alerts.

Examples:
  siemctl alerts list --status open --severity critical
  siemctl alerts ack 3f2a9c1e-...
  siemctl alerts close 3f2a9c1e-... --actor alice
  siemctl alerts history 3f2a9c1e-...`,
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts, most recently seen first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := &storage.AlertFilter{MachineID: alertMachine, Limit: alertLimit}
		if alertStatus != "" {
			status, err := models.ParseAlertStatus(alertStatus)
			if err != nil {
				return err
			}
			filter.Status = status
		}
		if alertSeverity != "" {
			severity, err := models.ParseSeverity(alertSeverity)
			if err != nil {
				return err
			}
			filter.Severity = severity
		}

		store, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close()

		alerts, total, err := store.Alerts().List(context.Background(), filter)
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}
		out := cmd.OutOrStdout()
		if ok, err := printJSON(out, alerts); ok {
			return err
		}
		if len(alerts) == 0 {
			fmt.Fprintln(out, "No alerts found.")
			return nil
		}

		fmt.Fprintf(out, "\n%-36s  %-9s  %-12s  %5s  %-3s  %-19s  %s\n",
			"ID", "SEVERITY", "STATUS", "OCC", "ESC", "LAST SEEN", "TITLE")
		fmt.Fprintln(out, strings.Repeat("-", 130))
		for _, a := range alerts {
			esc := ""
			if a.IsEscalated {
				esc = "yes"
			}
			fmt.Fprintf(out, "%-36s  %-9s  %-12s  %5d  %-3s  %-19s  %s\n",
				a.ID, a.Severity, a.Status, a.Occurrences, esc,
				a.LastSeen.Local().Format("2006-01-02 15:04:05"), a.Title)
		}
		fmt.Fprintf(out, "\nShowing %d of %d alert(s)\n", len(alerts), total)
		return nil
	},
}

var alertsAckCmd = &cobra.Command{
	Use:   "ack <alert-id>",
	Short: "Acknowledge an open alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionAlert(cmd, args[0], models.AlertStatusAcknowledged)
	},
}

var alertsCloseCmd = &cobra.Command{
	Use:   "close <alert-id>",
	Short: "Close an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transitionAlert(cmd, args[0], models.AlertStatusClosed)
	},
}

func transitionAlert(cmd *cobra.Command, id string, status models.AlertStatus) error {
	store, err := openDatabase()
	if err != nil {
		return err
	}
	defer store.Close()

	alert, err := store.Alerts().SetStatus(context.Background(), id, status, alertActor)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("alert not found: %s", id)
	case errors.Is(err, storage.ErrInvalidTransition):
		return fmt.Errorf("alert %s cannot move to %s", id, status)
	case err != nil:
		return fmt.Errorf("update alert: %w", err)
	}
	if ok, err := printJSON(cmd.OutOrStdout(), alert); ok {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Alert %s is now %s\n", alert.ID, alert.Status)
	return nil
}

var alertsHistoryCmd = &cobra.Command{
	Use:   "history <alert-id>",
	Short: "Show the change history of an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := context.Background()
		if _, err := store.Alerts().GetByID(ctx, args[0]); errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("alert not found: %s", args[0])
		} else if err != nil {
			return fmt.Errorf("load alert: %w", err)
		}

		entries, _, err := store.Alerts().History(ctx, args[0], alertLimit, 0)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		out := cmd.OutOrStdout()
		if ok, err := printJSON(out, entries); ok {
			return err
		}
		for _, h := range entries {
			fmt.Fprintf(out, "%s  %-12s  %-9s  %5d  %-10s  %s\n",
				h.CreatedAt.Local().Format("2006-01-02 15:04:05"), h.Action, h.Severity, h.Occurrences, h.Actor, h.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(alertsCmd)
	alertsCmd.AddCommand(alertsListCmd, alertsAckCmd, alertsCloseCmd, alertsHistoryCmd)

	alertsListCmd.Flags().StringVar(&alertStatus, "status", "", "filter by status (open, acknowledged, closed)")
	alertsListCmd.Flags().StringVar(&alertSeverity, "severity", "", "filter by severity")
	alertsListCmd.Flags().StringVar(&alertMachine, "machine", "", "filter by machine ID")
	for _, c := range []*cobra.Command{alertsListCmd, alertsHistoryCmd} {
		c.Flags().IntVarP(&alertLimit, "limit", "n", 50, "maximum number of rows")
	}
	for _, c := range []*cobra.Command{alertsAckCmd, alertsCloseCmd} {
		c.Flags().StringVar(&alertActor, "actor", "siemctl", "name recorded in the alert history")
	}
}
