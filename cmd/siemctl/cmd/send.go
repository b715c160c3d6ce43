package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/security"
	"github.com/good-yellow-bee/siemlite/internal/server"
)

var (
	sendServer   string
	sendToken    string
	sendType     string
	sendMessage  string
	sendSourceIP string
	sendUsername string
	sendMetadata string
	sendCAFile   string
	sendCertFile string
	sendKeyFile  string
	sendTimeout  time.Duration
)

var sendEventCmd = &cobra.Command{
	Use:   "send-event",
	Short: "Submit a test event over gRPC",
	Long: `Submit one event to the gRPC ingestion listener, authenticating with a
machine API token. Useful for checking rules and agent connectivity.

Example:
  siemctl send-event --server localhost:9443 --token slm_... \
    --type ssh_failed_login --source-ip 203.0.113.7 --username root \
    --message "Failed password for root from 203.0.113.7 port 22 ssh2"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		event := &ingest.Event{
			Timestamp:  time.Now().UTC(),
			EventType:  sendType,
			RawMessage: sendMessage,
			SourceIP:   sendSourceIP,
			Username:   sendUsername,
		}
		if sendMetadata != "" {
			if err := json.Unmarshal([]byte(sendMetadata), &event.Metadata); err != nil {
				return fmt.Errorf("parse --metadata: %w", err)
			}
		}
		msg, err := server.EventToStruct(event)
		if err != nil {
			return err
		}

		creds := insecure.NewCredentials()
		if sendCAFile != "" {
			creds, err = security.LoadClientTLS(&security.ClientTLSConfig{
				CAFile:   sendCAFile,
				CertFile: sendCertFile,
				KeyFile:  sendKeyFile,
			})
			if err != nil {
				return err
			}
		}
		conn, err := grpc.NewClient(sendServer, grpc.WithTransportCredentials(creds))
		if err != nil {
			return fmt.Errorf("connect %s: %w", sendServer, err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		ctx = metadata.AppendToOutgoingContext(ctx, server.MachineTokenKey, sendToken)

		resp, err := server.NewIngestClient(conn).Ingest(ctx, msg)
		if err != nil {
			if id := server.StoredEventID(err); id != "" {
				return fmt.Errorf("event %s stored but not evaluated: %w", id, err)
			}
			return err
		}
		res := server.ResultFromStruct(resp)
		if ok, err := printJSON(cmd.OutOrStdout(), res); ok {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Event %s %s, %d alert(s) raised or updated\n", res.ID, res.Status, res.Alerts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendEventCmd)

	f := sendEventCmd.Flags()
	f.StringVar(&sendServer, "server", "localhost:9443", "gRPC ingestion address")
	f.StringVar(&sendToken, "token", "", "machine API token (required)")
	f.StringVar(&sendType, "type", "", "event type (required)")
	f.StringVar(&sendMessage, "message", "", "raw log line (required)")
	f.StringVar(&sendSourceIP, "source-ip", "", "source IP address")
	f.StringVar(&sendUsername, "username", "", "username")
	f.StringVar(&sendMetadata, "metadata", "", "metadata as a JSON object")
	f.StringVar(&sendCAFile, "ca-file", "", "CA certificate; enables TLS")
	f.StringVar(&sendCertFile, "cert-file", "", "agent certificate for mTLS")
	f.StringVar(&sendKeyFile, "key-file", "", "agent key for mTLS")
	f.DurationVar(&sendTimeout, "timeout", 10*time.Second, "request timeout")
	sendEventCmd.MarkFlagRequired("token")
	sendEventCmd.MarkFlagRequired("type")
	sendEventCmd.MarkFlagRequired("message")
}
