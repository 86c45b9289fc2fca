package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/romejiang/gelfrelay"
	"github.com/romejiang/gelfrelay/internal/acl"
	"github.com/romejiang/gelfrelay/internal/circuitbreaker"
	"github.com/romejiang/gelfrelay/internal/config"
	"github.com/romejiang/gelfrelay/internal/dlq"
	"github.com/romejiang/gelfrelay/internal/healthcheck"
	"github.com/romejiang/gelfrelay/internal/metrics"
	"github.com/romejiang/gelfrelay/internal/server"
	"github.com/romejiang/gelfrelay/internal/transport"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:     gelfrelay.AppName,
	Short:   "Reliable GELF-over-TCP transport and relay",
	Long:    "Ships NUL-terminated GELF frames to a remote collector over TCP/TLS with bounded retries, periodic reconnection, and an optional relay ingress.",
	Version: gelfrelay.Version(),
	Run:     handleRootCmd,
}

// parseLogLevel maps a level name to its slog level, falling back to info.
func parseLogLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func setupLogging(levelName string) {
	level, ok := parseLogLevel(levelName)
	if !ok {
		fmt.Fprintf(os.Stderr, "invalid log level %q, using info\n", levelName)
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Convert all timestamps to UTC
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.TimeValue(t.UTC())
				}
			}
			return a
		},
	})
	slog.SetDefault(slog.New(handler))
}

// buildSender assembles the collector-facing transport from configuration.
func buildSender(cfg *config.Config) (*transport.Sender, *dlq.Writer, error) {
	dialer, err := cfg.Collector.Dialer()
	if err != nil {
		return nil, nil, fmt.Errorf("collector dialer: %w", err)
	}

	manager := transport.NewManager(cfg.Collector.Endpoint(), dialer, cfg.Collector.ManagerConfig(), nil)
	sender := transport.New(manager, cfg.Collector.SenderConfig(), nil)

	var dlqWriter *dlq.Writer
	if cfg.DLQ != nil && cfg.DLQ.Enabled {
		dlqWriter, err = dlq.New(cfg.DLQ.Dir)
		if err != nil {
			sender.Close()
			return nil, nil, fmt.Errorf("dlq: %w", err)
		}
		sender.SetDeadLetter(dlqWriter)
		slog.Info("initialized DLQ", "dir", cfg.DLQ.Dir)
	}

	return sender, dlqWriter, nil
}

// buildBreaker returns the delivery guard for the ingress, or nil when
// the operator has not enabled one.
func buildBreaker(cfg *config.CircuitBreakerConfig) *circuitbreaker.Breaker {
	if cfg == nil || !cfg.Enabled {
		return nil
	}

	cbCfg := circuitbreaker.DefaultConfig()
	if cfg.FailureThreshold > 0 {
		cbCfg.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.SuccessThreshold > 0 {
		cbCfg.SuccessThreshold = cfg.SuccessThreshold
	}
	if cfg.CoolDownSeconds > 0 {
		cbCfg.CoolDown = time.Duration(cfg.CoolDownSeconds) * time.Second
	}
	if cfg.HalfOpenMaxCalls > 0 {
		cbCfg.HalfOpenMaxCalls = cfg.HalfOpenMaxCalls
	}
	return circuitbreaker.New(cbCfg)
}

func handleRootCmd(cmd *cobra.Command, args []string) {
	setupLogging(logLevel)

	// Initialize metrics
	metrics.Init(gelfrelay.Version())

	// Load configuration (config file is required)
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Start metrics server
	addr := cfg.MetricsAddr
	if metricsAddr != "" {
		addr = metricsAddr
	}
	if err := metrics.StartServer(addr); err != nil {
		slog.Error("failed to start metrics server", "error", err)
		os.Exit(1)
	}

	// Initialize healthcheck server if enabled
	if cfg.HealthCheckEnabled {
		healthSrv := healthcheck.New(cfg.HealthCheckAddr)
		if err := healthSrv.Start(); err != nil {
			slog.Error("failed to start healthcheck server", "error", err)
			os.Exit(1)
		}
		defer healthSrv.Stop()
		slog.Info("healthcheck server listening", "addr", cfg.HealthCheckAddr)
	}

	// Assemble the collector transport
	sender, dlqWriter, err := buildSender(cfg)
	if err != nil {
		slog.Error("failed to initialize transport", "error", err)
		os.Exit(1)
	}
	defer func() {
		sender.Close()
		if dlqWriter != nil {
			if err := dlqWriter.Close(); err != nil {
				slog.Warn("failed to close DLQ", "error", err)
			}
		}
	}()
	slog.Info("collector transport ready", "collector", cfg.Collector.Endpoint().Addr())

	if cfg.Listener == nil || !cfg.Listener.Enabled {
		slog.Error("no listener enabled; use the ship subcommand for one-shot delivery")
		os.Exit(1)
	}

	// Initialize ACL
	aclList, err := acl.New(cfg.Listener.AllowedCIDRs)
	if err != nil {
		slog.Error("failed to initialize ACL", "error", err)
		os.Exit(1)
	}

	// Initialize the ingress
	serverCfg := server.Config{
		ListenAddr:    cfg.Listener.ListenAddr,
		MaxFrameBytes: cfg.Listener.MaxFrameBytes,
		CollectorAddr: cfg.Collector.Endpoint().Addr(),
	}
	if cfg.Listener.TLS != nil {
		serverCfg.TLSCertFile = cfg.Listener.TLS.CertFile
		serverCfg.TLSKeyFile = cfg.Listener.TLS.KeyFile
	}

	srv := server.New(serverCfg, aclList, sender, buildBreaker(cfg.CircuitBreaker), dlqWriter)
	if err := srv.Start(); err != nil {
		slog.Error("failed to start ingress", "error", err)
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	sig := <-sigCh
	slog.Info("received signal, shutting down", "signal", sig.String())

	if err := srv.Stop(); err != nil {
		slog.Warn("ingress shutdown error", "error", err)
	}
}
