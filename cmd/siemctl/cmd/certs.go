package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/siemlite/internal/security"
)

var (
	certDir       string
	certOutputDir string
	certValidDays int
	caValidDays   int
	certHosts     []string
)

var caCmd = &cobra.Command{
	Use:   "ca",
	Short: "Certificate authority for agent TLS",
}

var caInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a certificate authority",
	Long: `Create a certificate authority for the gRPC ingestion listener.

Writes ca.crt and ca.key to the CA directory. Point
server.tls.client_ca_file at ca.crt to require agent certificates.

Example:
  siemctl ca init --ca-dir /etc/siemlite/certs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		PrintVerbose("Generating CA in %s (valid %d days)", certDir, caValidDays)
		if _, err := security.InitCA(certDir, caValidDays); err != nil {
			return fmt.Errorf("generate CA: %w", err)
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "CA certificate generated:\n")
		fmt.Fprintf(out, "  Certificate: %s\n", filepath.Join(certDir, "ca.crt"))
		fmt.Fprintf(out, "  Private key: %s\n", filepath.Join(certDir, "ca.key"))
		return nil
	},
}

var certCmd = &cobra.Command{
	Use:   "cert",
	Short: "Issue certificates signed by the CA",
}

var certServerCmd = &cobra.Command{
	Use:   "server <name>",
	Short: "Issue a server certificate",
	Long: `Issue a server certificate. localhost, 127.0.0.1 and ::1 are always
included; add more names with --host.

Example:
  siemctl cert server siem --host siem.example.com --host 10.0.0.5`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCert(cmd, security.CertRequest{Name: args[0], Kind: security.ServerCert, Hosts: certHosts, ValidDays: certValidDays})
	},
}

var certAgentCmd = &cobra.Command{
	Use:   "agent <name>",
	Short: "Issue an agent client certificate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCert(cmd, security.CertRequest{Name: args[0], Kind: security.AgentCert, ValidDays: certValidDays})
	},
}

func issueCert(cmd *cobra.Command, req security.CertRequest) error {
	ca, err := security.LoadCA(certDir)
	if err != nil {
		return err
	}
	dir := certOutputDir
	if dir == "" {
		dir = certDir
	}
	if err := ca.Issue(dir, req); err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Certificate issued:\n")
	fmt.Fprintf(out, "  Certificate: %s\n", filepath.Join(dir, req.Name+".crt"))
	fmt.Fprintf(out, "  Private key: %s\n", filepath.Join(dir, req.Name+".key"))
	return nil
}

func init() {
	rootCmd.AddCommand(caCmd, certCmd)
	caCmd.AddCommand(caInitCmd)
	certCmd.AddCommand(certServerCmd, certAgentCmd)

	for _, c := range []*cobra.Command{caCmd, certCmd} {
		c.PersistentFlags().StringVar(&certDir, "ca-dir", "./certs", "directory holding ca.crt and ca.key")
	}
	caInitCmd.Flags().IntVarP(&caValidDays, "valid-days", "d", security.DefaultCAValidDays, "validity in days")
	for _, c := range []*cobra.Command{certServerCmd, certAgentCmd} {
		c.Flags().IntVarP(&certValidDays, "valid-days", "d", security.DefaultCertValidDays, "validity in days")
		c.Flags().StringVar(&certOutputDir, "output-dir", "", "output directory (default: the CA directory)")
	}
	certServerCmd.Flags().StringSliceVar(&certHosts, "host", nil, "additional DNS name or IP address")
}
