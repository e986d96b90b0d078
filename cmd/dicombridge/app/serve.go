package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dicombridge/dicombridge/pkg/audit"
	"github.com/dicombridge/dicombridge/pkg/config"
	"github.com/dicombridge/dicombridge/pkg/logger"
	"github.com/dicombridge/dicombridge/pkg/proxy"
	"github.com/dicombridge/dicombridge/pkg/ratelimit"
	"github.com/dicombridge/dicombridge/pkg/telemetry"
	"github.com/dicombridge/dicombridge/pkg/tokens"
	"github.com/dicombridge/dicombridge/pkg/versions"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 8099
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the token broker and DICOMweb proxy",
		Long: `Load the configuration, build one token manager per configured server and
serve the admin API and proxy paths until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, host, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (required)")
	cmd.Flags().StringVar(&host, "host", defaultHost, "Host to bind the proxy server to")
	cmd.Flags().IntVar(&port, "port", defaultPort, "Port to bind the proxy server to")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		logger.Errorf("Failed to mark config flag required: %v", err)
	}

	return cmd
}

func runServe(parentCtx context.Context, configPath, host string, port int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := cfg.LogLevel
	if viper.GetBool("debug") {
		level = "DEBUG"
	}
	logger.Initialize(level)

	info := versions.GetVersionInfo()
	logger.Infow("Starting dicombridge",
		"version", info.Version, "servers", len(cfg.Servers), "log_level", level)

	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metrics *telemetry.Metrics
	if cfg.EnableMetrics {
		metrics = telemetry.NewMetrics()
	}
	auditor := audit.NewAuditor(nil)
	auditor.Event(audit.EventConfigChange, "",
		"servers_configured", len(cfg.Servers),
		"rate_limit_requests", cfg.RateLimitRequests,
		"rate_limit_window_seconds", cfg.RateLimitWindowSeconds,
	)

	registry, err := tokens.NewRegistry(ctx, cfg, metrics, auditor)
	if err != nil {
		return fmt.Errorf("failed to build token managers: %w", err)
	}

	forwarder, err := proxy.NewForwarder(ctx, cfg, registry, metrics, auditor)
	if err != nil {
		return fmt.Errorf("failed to build proxy: %w", err)
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow())
	server := proxy.NewServer(host, port, cfg, registry, forwarder, limiter, metrics, auditor)

	if err := server.Start(); err != nil {
		return err
	}
	logger.Infow("dicombridge is ready", "address", server.Addr())

	<-ctx.Done()
	logger.Info("Shutting down")

	// A fresh context: the signal context is already cancelled.
	return server.Stop(context.Background())
}
