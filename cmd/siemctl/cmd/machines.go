package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/storage"
)

var (
	machineName     string
	machineHostname string
	machineIP       string
)

var machinesCmd = &cobra.Command{
	Use:   "machines",
	Short: "Agent machine management",
	Long: `Commands for managing the machines that submit log events.

Examples:
  siemctl machines list
  siemctl machines register --name web-01 --hostname web-01.example.com --ip 10.0.0.10
  siemctl machines deactivate 0b7c...`,
}

var machinesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered machines",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close()

		machines, err := store.Machines().List(context.Background())
		if err != nil {
			return fmt.Errorf("list machines: %w", err)
		}
		out := cmd.OutOrStdout()
		if ok, err := printJSON(out, machines); ok {
			return err
		}
		if len(machines) == 0 {
			fmt.Fprintln(out, "No machines registered.")
			return nil
		}

		fmt.Fprintf(out, "\n%-36s  %-20s  %-30s  %-15s  %-6s  %s\n",
			"ID", "NAME", "HOSTNAME", "IP", "ACTIVE", "LAST HEARTBEAT")
		fmt.Fprintln(out, strings.Repeat("-", 135))
		for _, m := range machines {
			heartbeat := "never"
			if m.LastHeartbeat != nil {
				heartbeat = m.LastHeartbeat.Local().Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(out, "%-36s  %-20s  %-30s  %-15s  %-6t  %s\n",
				m.ID, m.Name, m.Hostname, m.IPAddress, m.IsActive, heartbeat)
		}
		fmt.Fprintf(out, "\nTotal: %d machine(s)\n", len(machines))
		return nil
	},
}

var machinesRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a machine and print its API token",
	Long: `Register a machine and print its API token.

The token is shown once and cannot be recovered; store it in the agent's
configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase()
		if err != nil {
			return err
		}
		defer store.Close()

		registry := ingest.NewRegistry(store.Machines(), zap.NewNop().Sugar())
		machine, token, err := registry.Register(context.Background(), ingest.Registration{
			Name:      machineName,
			Hostname:  machineHostname,
			IPAddress: machineIP,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if ok, err := printJSON(out, map[string]string{"id": machine.ID, "api_token": token}); ok {
			return err
		}
		fmt.Fprintf(out, "Machine registered:\n")
		fmt.Fprintf(out, "  ID:        %s\n", machine.ID)
		fmt.Fprintf(out, "  Name:      %s\n", machine.Name)
		fmt.Fprintf(out, "  API token: %s\n", token)
		fmt.Fprintln(out, "\nThe API token will not be shown again.")
		return nil
	},
}

var machinesActivateCmd = &cobra.Command{
	Use:   "activate <machine-id>",
	Short: "Allow a machine to authenticate again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setMachineActive(cmd, args[0], true)
	},
}

var machinesDeactivateCmd = &cobra.Command{
	Use:   "deactivate <machine-id>",
	Short: "Stop a machine from authenticating or ingesting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setMachineActive(cmd, args[0], false)
	},
}

func setMachineActive(cmd *cobra.Command, id string, active bool) error {
	store, err := openDatabase()
	if err != nil {
		return err
	}
	defer store.Close()

	err = store.Machines().SetActive(context.Background(), id, active)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("machine not found: %s", id)
	}
	if err != nil {
		return fmt.Errorf("update machine: %w", err)
	}

	state := "deactivated"
	if active {
		state = "activated"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Machine %s %s\n", shortID(id), state)
	return nil
}

func init() {
	rootCmd.AddCommand(machinesCmd)
	machinesCmd.AddCommand(machinesListCmd, machinesRegisterCmd, machinesActivateCmd, machinesDeactivateCmd)

	machinesRegisterCmd.Flags().StringVar(&machineName, "name", "", "machine name (required)")
	machinesRegisterCmd.Flags().StringVar(&machineHostname, "hostname", "", "machine hostname")
	machinesRegisterCmd.Flags().StringVar(&machineIP, "ip", "", "machine IP address")
	machinesRegisterCmd.MarkFlagRequired("name")
}
