package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/good-yellow-bee/siemlite/internal/agent"
	"github.com/good-yellow-bee/siemlite/internal/agent/buffer"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/logging"
	"github.com/good-yellow-bee/siemlite/internal/models"
	"github.com/good-yellow-bee/siemlite/internal/server"
	"github.com/good-yellow-bee/siemlite/pkg/config"
)

var (
	configPath string
	serverAddr string
	once       bool

	burstCount  int
	burstWindow int
	burstIP     string
	burstUser   string
)

var rootCmd = &cobra.Command{
	Use:   "siemlite-agent",
	Short: "SIEM-Lite agent - ships auth logs to the SIEM-Lite server",
	Long: `siemlite-agent follows local authentication logs, normalizes sshd and
sudo lines into events and streams them to the server over gRPC. Events are
spooled to disk while the server is unreachable.`,
	SilenceUsage: true,
	RunE:         runAgent,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Follow the configured sources (default)",
	RunE:  runAgent,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this machine and save its credentials",
	RunE:  runRegister,
}

var testEventCmd = &cobra.Command{
	Use:   "send-test-event",
	Short: "Send one synthetic event to verify connectivity",
	RunE:  runSendTestEvent,
}

var burstCmd = &cobra.Command{
	Use:   "send-burst",
	Short: "Send a burst of failed SSH logins to exercise detection rules",
	RunE:  runSendBurst,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.VersionString("siemlite-agent"))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/siemlite/agent.yaml", "config file path")
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "", "override server.address")
	rootCmd.Flags().BoolVar(&once, "once", false, "read sources to their end, deliver and exit")
	runCmd.Flags().BoolVar(&once, "once", false, "read sources to their end, deliver and exit")

	burstCmd.Flags().IntVar(&burstCount, "count", 5, "number of events")
	burstCmd.Flags().IntVar(&burstWindow, "window", 5, "spread timestamps over this many seconds")
	burstCmd.Flags().StringVar(&burstIP, "source-ip", "10.0.0.5", "source IP of the simulated attacker")
	burstCmd.Flags().StringVar(&burstUser, "username", "admin", "targeted username")

	rootCmd.AddCommand(runCmd, registerCmd, testEventCmd, burstCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the config, builds the logger and resolves credentials,
// registering the machine on first use.
func setup(ctx context.Context) (*Config, *zap.SugaredLogger, string, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, nil, "", err
	}
	if serverAddr != "" {
		cfg.Server.Address = serverAddr
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, "", err
	}

	if cfg.Agent.APIToken != "" {
		return cfg, logger, cfg.Agent.APIToken, nil
	}
	creds, registered, err := agent.EnsureRegistered(ctx, cfg.Agent.CredentialsFile,
		agent.NewRegistrar(cfg.Server.APIURL), registration(cfg))
	if err != nil {
		return nil, nil, "", err
	}
	if registered {
		logger.Infow("machine registered", "machine_id", creds.MachineID, "credentials", cfg.Agent.CredentialsFile)
	}
	return cfg, logger, creds.APIToken, nil
}

func registration(cfg *Config) agent.Registration {
	hostname, _ := os.Hostname()
	return agent.Registration{
		Name:      cfg.Agent.Name,
		Hostname:  hostname,
		IPAddress: cfg.Agent.IPAddress,
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, logger, token, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if len(cfg.Sources) == 0 {
		return errors.New("no sources configured")
	}

	sender, err := agent.Dial(cfg.Server.Address, token, cfg.ClientTLS())
	if err != nil {
		return err
	}
	defer sender.Close()

	bufCfg := buffer.DefaultConfig()
	bufCfg.Dir = cfg.Agent.BufferDir
	if cfg.Agent.BufferMaxSize > 0 {
		bufCfg.MaxSize = cfg.Agent.BufferMaxSize
	}
	buf, err := buffer.Open(bufCfg)
	if err != nil {
		return err
	}
	defer buf.Close()

	a, err := agent.New(agent.Config{
		Sources:       cfg.AgentSources(),
		Labels:        cfg.Labels,
		BatchSize:     cfg.Agent.BatchSize,
		FlushInterval: cfg.Agent.FlushInterval,
		Once:          once,
	}, sender, buf, logger)
	if err != nil {
		return err
	}

	logger.Infow("siemlite-agent starting",
		"server", cfg.Server.Address, "sources", len(cfg.Sources), "tls", cfg.Server.TLS.Enabled,
		"spooled", buf.Len(), "version", config.Version)

	err = a.Run(ctx)
	stats := a.Stats()
	logger.Infow("siemlite-agent stopped",
		"collected", stats.Collected, "delivered", stats.Delivered, "rejected", stats.Rejected,
		"spooled", stats.Spooled, "alerts", stats.Alerts, "dropped", buf.Dropped())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runRegister(cmd *cobra.Command, args []string) error {
	cfg, logger, _, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if cfg.Agent.APIToken != "" {
		fmt.Fprintln(cmd.OutOrStdout(), "agent.api_token is configured; nothing to register")
		return nil
	}
	creds, err := agent.LoadCredentials(cfg.Agent.CredentialsFile)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "machine %s, credentials in %s\n", creds.MachineID, cfg.Agent.CredentialsFile)
	return nil
}

func runSendTestEvent(cmd *cobra.Command, args []string) error {
	event := &ingest.Event{
		Timestamp:  time.Now().UTC(),
		EventType:  "agent_test",
		Severity:   string(models.SeverityInfo),
		RawMessage: "siemlite-agent connectivity test",
		Metadata:   map[string]any{"source": "send-test-event"},
	}
	return sendEvents(cmd, []*ingest.Event{event})
}

func runSendBurst(cmd *cobra.Command, args []string) error {
	if burstCount <= 0 {
		return errors.New("--count must be positive")
	}
	if net.ParseIP(burstIP) == nil {
		return fmt.Errorf("--source-ip %q is not an IP address", burstIP)
	}
	return sendEvents(cmd, burstEvents(time.Now().UTC(), burstCount, burstWindow, burstIP, burstUser))
}

// burstEvents builds count failed logins ending at now, spread evenly over
// window seconds.
func burstEvents(now time.Time, count, window int, ip, user string) []*ingest.Event {
	step := time.Duration(0)
	if count > 1 && window > 0 {
		step = time.Duration(window) * time.Second / time.Duration(count-1)
	}
	events := make([]*ingest.Event, count)
	for i := range events {
		ts := now.Add(-time.Duration(count-1-i) * step)
		port := 4444 + i
		events[i] = &ingest.Event{
			Timestamp:  ts,
			EventType:  models.EventTypeSSHFailedLogin,
			RawMessage: fmt.Sprintf("Failed password for %s from %s port %d ssh2", user, ip, port),
			SourceIP:   ip,
			Username:   user,
			Metadata: map[string]any{
				"auth_method": "password",
				"port":        port,
				"source":      "send-burst",
			},
		}
	}
	return events
}

func sendEvents(cmd *cobra.Command, events []*ingest.Event) error {
	cfg, logger, token, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	msgs := make([]*structpb.Struct, len(events))
	for i, e := range events {
		if msgs[i], err = server.EventToStruct(e); err != nil {
			return err
		}
	}

	sender, err := agent.Dial(cfg.Server.Address, token, cfg.ClientTLS())
	if err != nil {
		return err
	}
	defer sender.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	acks, err := sender.Send(ctx, msgs)
	if err != nil {
		return err
	}
	return printAcks(cmd, acks, len(events))
}

func printAcks(cmd *cobra.Command, acks []agent.Ack, sent int) error {
	out := cmd.OutOrStdout()
	var failed int
	for _, ack := range acks {
		if ack.Error != "" {
			failed++
			fmt.Fprintf(out, "#%d %s: %s\n", ack.Index+1, ack.Code, ack.Error)
			continue
		}
		fmt.Fprintf(out, "#%d %s id=%s alerts=%d\n", ack.Index+1, ack.Status, ack.ID, ack.Alerts)
	}
	if missing := sent - len(acks); missing > 0 {
		return fmt.Errorf("%d of %d events were not acknowledged", missing, sent)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d events failed", failed, sent)
	}
	return nil
}
