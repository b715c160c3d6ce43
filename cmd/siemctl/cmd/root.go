// Package cmd contains the siemctl commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/siemlite/internal/storage"
)

var (
	verbose bool
	output  string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "siemctl",
	Short: "SIEM-Lite administration tool",
	Long: `siemctl manages a SIEM-Lite installation.

Most commands operate directly on the server's SQLite database and are
intended for administrators working on the server host.

Examples:
  # Import detection rules
  siemctl rules import rules.yaml --db ./data/siemlite.db

  # List open alerts
  siemctl alerts list --status open

  # Register a machine and print its one-time API token
  siemctl machines register --name web-01 --hostname web-01.example.com

  # Generate the admin password hash for the server config
  siemctl hash-password`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/siemlite.db", "path to the SQLite database")
}

// PrintVerbose prints a message only if verbose mode is enabled.
func PrintVerbose(format string, args ...any) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
}

// printJSON writes v as indented JSON when JSON output was requested and
// reports whether it did.
func printJSON(w io.Writer, v any) (bool, error) {
	if output != "json" {
		return false, nil
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return true, enc.Encode(v)
}

// openDatabase opens and migrates the SQLite database at dbPath.
func openDatabase() (*storage.SQLiteStorage, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database file not found: %s", dbPath)
	}
	PrintVerbose("Opening database %s", dbPath)

	store := storage.NewSQLiteStorage(dbPath)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
