package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/siemlite/pkg/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ok, err := printJSON(cmd.OutOrStdout(), config.GetBuildInfo()); ok {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), config.VersionString("siemctl"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
