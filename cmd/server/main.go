package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/siemlite/internal/alerting"
	"github.com/good-yellow-bee/siemlite/internal/api"
	"github.com/good-yellow-bee/siemlite/internal/api/auth"
	"github.com/good-yellow-bee/siemlite/internal/api/health"
	"github.com/good-yellow-bee/siemlite/internal/ingest"
	"github.com/good-yellow-bee/siemlite/internal/lock"
	"github.com/good-yellow-bee/siemlite/internal/logging"
	"github.com/good-yellow-bee/siemlite/internal/metrics"
	"github.com/good-yellow-bee/siemlite/internal/notifier"
	"github.com/good-yellow-bee/siemlite/internal/server"
	"github.com/good-yellow-bee/siemlite/internal/storage"
	"github.com/good-yellow-bee/siemlite/pkg/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "siemlite-server",
	Short: "SIEM-Lite server - log ingestion and threshold alerting",
	Long: `SIEM-Lite server receives normalized log events from agents over HTTP
and gRPC, evaluates detection rules and manages the resulting alerts.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the server (default)",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := config.GetBuildInfo()
		fmt.Printf("siemlite-server %s\n", info.Version)
		fmt.Printf("  commit: %s\n", info.Commit)
		fmt.Printf("  built:  %s\n", info.BuildTime)
		fmt.Printf("  go:     %s %s/%s\n", info.GoVersion, info.OS, info.Arch)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (optional)")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, logger)
}

// run wires every component and blocks until ctx is canceled or a server
// fails.
func run(ctx context.Context, cfg *Config, logger *zap.SugaredLogger) error {
	logger.Infow("starting siemlite-server", "version", config.Version, "commit", config.Commit)
	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	store := storage.NewSQLiteStorage(cfg.Database.Path)
	if err := store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Infow("database initialized", "path", cfg.Database.Path)

	checkers := []health.Checker{health.NewSQLiteChecker(store)}

	events := store.Events()
	if cfg.Events.Backend == "clickhouse" {
		ch := storage.NewClickHouseStorage(&storage.ClickHouseConfig{
			Addresses:     cfg.Events.ClickHouse.Addresses,
			Database:      cfg.Events.ClickHouse.Database,
			Username:      cfg.Events.ClickHouse.Username,
			Password:      cfg.Events.ClickHouse.Password,
			MaxOpenConns:  cfg.Events.ClickHouse.MaxOpenConns,
			DialTimeout:   cfg.Events.ClickHouse.DialTimeout,
			Compression:   cfg.Events.ClickHouse.Compression,
			RetentionDays: cfg.Events.ClickHouse.RetentionDays,
		})
		if err := ch.Open(); err != nil {
			return fmt.Errorf("open clickhouse: %w", err)
		}
		defer ch.Close()
		if err := ch.Migrate(); err != nil {
			return fmt.Errorf("migrate clickhouse: %w", err)
		}
		events = ch.Events()
		checkers = append(checkers, health.NewClickHouseChecker(ch))
		logger.Infow("event store", "backend", "clickhouse", "addresses", cfg.Events.ClickHouse.Addresses)
	}

	rules := storage.NewCachedRules(store.Rules(), cfg.Alerting.RuleCacheSize, cfg.Alerting.RuleCacheTTL)

	var locker lock.KeyLocker
	switch cfg.Lock.Backend {
	case "redis":
		rl := lock.NewRedisLocker(lock.RedisConfig{
			Addr:     cfg.Lock.Redis.Addr,
			Password: cfg.Lock.Redis.Password,
			DB:       cfg.Lock.Redis.DB,
			Prefix:   cfg.Lock.Redis.Prefix,
			TTL:      cfg.Lock.TTL,
			Wait:     cfg.Lock.Wait,
		}, logger)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rl.Ping(pingCtx)
		cancel()
		if err != nil {
			rl.Close()
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rl.Close()
		locker = rl
		checkers = append(checkers, health.NewRedisChecker(rl))
	default:
		locker = lock.NewLocalLocker(cfg.Lock.Wait)
	}

	dispatcher := notifier.NewDispatcher(notifier.Config{
		Timeout: cfg.Notify.Timeout,
		RateLimit: notifier.RateLimitConfig{
			Enabled:      cfg.Notify.RateLimit.Enabled,
			MaxPerWindow: cfg.Notify.RateLimit.MaxPerWindow,
			Window:       cfg.Notify.RateLimit.Window,
		},
	}, logger)
	defer dispatcher.Close()
	if err := dispatcher.RegisterConfigured(notifier.ChannelsConfig{
		Email: notifier.EmailConfig{
			Host:       cfg.Notify.Email.Host,
			Port:       cfg.Notify.Email.Port,
			Username:   cfg.Notify.Email.Username,
			Password:   cfg.Notify.Email.Password,
			From:       cfg.Notify.Email.From,
			Recipients: cfg.Notify.Email.Recipients,
		},
		Slack:    notifier.SlackConfig{WebhookURL: cfg.Notify.Slack.WebhookURL},
		Telegram: notifier.TelegramConfig{BotToken: cfg.Notify.Telegram.BotToken, ChatID: cfg.Notify.Telegram.ChatID},
		Teams:    notifier.TeamsConfig{WebhookURL: cfg.Notify.Teams.WebhookURL},
	}); err != nil {
		return fmt.Errorf("configure notifications: %w", err)
	}

	engine := alerting.NewEngine(store.Alerts(), store.Machines(), locker, dispatcher,
		alerting.Config{EscalationThreshold: cfg.Alerting.EscalationThreshold}, logger)
	evaluator := alerting.NewEvaluator(rules, events, engine, logger)
	ingester := ingest.NewService(events, store.Machines(), evaluator, logger)
	registry := ingest.NewRegistry(store.Machines(), logger)
	jwt := auth.NewJWTService([]byte(cfg.Auth.JWTSecret), cfg.Auth.MachineTokenTTL, cfg.Auth.AdminTokenTTL)

	if cfg.Auth.AdminPasswordHash == "" {
		logger.Warnw("auth.admin_password_hash is not set; admin login is disabled",
			"hint", "generate one with: siemctl hash-password")
	}

	apiServer, err := api.New(&api.Config{
		Address:          cfg.Server.HTTPAddress,
		CORSOrigins:      cfg.API.CORSOrigins,
		RateLimitPerIP:   cfg.API.RateLimitPerIP,
		LockoutThreshold: cfg.API.LockoutThreshold,
		LockoutDuration:  cfg.API.LockoutDuration,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	}, api.Deps{
		Store:    store,
		Events:   events,
		Rules:    rules,
		Ingester: ingester,
		Registry: registry,
		JWT:      jwt,
		Admin:    auth.AdminCredentials{Username: cfg.Auth.AdminUsername, PasswordHash: cfg.Auth.AdminPasswordHash},
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create API server: %w", err)
	}
	for _, c := range checkers {
		apiServer.RegisterHealthChecker(c)
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Alerting.RulesFile != "" {
		watcher, err := alerting.NewRuleWatcher(cfg.Alerting.RulesFile, rules, logger)
		if err != nil {
			return fmt.Errorf("watch rules: %w", err)
		}
		defer watcher.Close()
		res, err := watcher.Sync(ctx)
		if err != nil {
			return fmt.Errorf("load rules: %w", err)
		}
		logger.Infow("rules loaded", "path", cfg.Alerting.RulesFile,
			"created", res.Created, "updated", res.Updated, "unchanged", res.Unchanged)
		if cfg.Alerting.WatchRules {
			g.Go(func() error { return watcher.Run(gctx) })
		}
	}

	g.Go(func() error { return apiServer.Run(gctx) })

	if cfg.Server.GRPCAddress != "" {
		grpcCfg := &server.Config{
			Address:         cfg.Server.GRPCAddress,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}
		if cfg.Server.TLS.Enabled {
			grpcCfg.TLSCertFile = cfg.Server.TLS.CertFile
			grpcCfg.TLSKeyFile = cfg.Server.TLS.KeyFile
			grpcCfg.TLSClientCAFile = cfg.Server.TLS.ClientCAFile
		} else {
			logger.Warnw("gRPC ingestion is running without TLS", "address", cfg.Server.GRPCAddress)
		}
		grpcServer, err := server.New(grpcCfg, ingester, registry, jwt, logger)
		if err != nil {
			return fmt.Errorf("create gRPC server: %w", err)
		}
		g.Go(func() error { return grpcServer.Run(gctx) })
	}

	if cfg.Server.MetricsAddress != "" {
		metricsServer := metrics.NewServer(cfg.Server.MetricsAddress, logger)
		g.Go(metricsServer.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Infow("server stopped")
	return err
}
