// Package main is the entry point for the agorad binary.
// It wires the governance engine, its scheduler, and the admin endpoints.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/agora/pkg/config"
	"github.com/polisai/agora/pkg/engine"
	"github.com/polisai/agora/pkg/event"
	"github.com/polisai/agora/pkg/hook"
	"github.com/polisai/agora/pkg/logging"
	"github.com/polisai/agora/pkg/platform"
	"github.com/polisai/agora/pkg/storage"
	"github.com/polisai/agora/pkg/telemetry"
)

const (
	serviceName              = "agora"
	telemetryShutdownTimeout = 5 * time.Second
	gracefulShutdownTimeout  = 10 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root command for agorad
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agorad",
		Short: "Community self-governance engine",
		Long: `agorad evaluates community actions against community-authored policies.

Members propose actions; policies filter them, put them to a vote or approve
them outright, and run side effects at each lifecycle stage. The daemon keeps
re-evaluating open proposals until a policy reaches a verdict.

Example:
  agorad --config agora.yaml --seed communities.yaml --log-level debug --pretty`,
		RunE: runServe,
	}

	rootCmd.Flags().StringP("config", "c", "", "Path to configuration file (YAML)")
	rootCmd.Flags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("pretty", false, "Enable pretty console logging")
	rootCmd.Flags().String("admin-listen", "", "HTTP listen address for the admin endpoints")
	rootCmd.Flags().String("seed", "", "Path to a community seed file (YAML)")

	return rootCmd
}

// buildConfig loads the configuration file and applies CLI flag overrides.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	// CLI flags override config file values
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	if cmd.Flags().Changed("pretty") {
		pretty, err := cmd.Flags().GetBool("pretty")
		if err != nil {
			return nil, fmt.Errorf("failed to get pretty flag: %w", err)
		}
		cfg.Logging.Pretty = pretty
	}

	adminAddr, err := cmd.Flags().GetString("admin-listen")
	if err != nil {
		return nil, fmt.Errorf("failed to get admin-listen flag: %w", err)
	}
	if adminAddr != "" {
		cfg.Server.AdminAddress = adminAddr
	}

	seedFile, err := cmd.Flags().GetString("seed")
	if err != nil {
		return nil, fmt.Errorf("failed to get seed flag: %w", err)
	}
	if seedFile != "" {
		cfg.Seed.File = seedFile
	}

	// Overrides may have introduced invalid values
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// runServe is the main entry point for the serve loop
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
	})
	slog.SetDefault(logger)

	logger.Info("Starting agorad",
		"admin", cfg.Server.AdminAddress,
		"log_level", cfg.Logging.Level,
		"fallback_verdict", cfg.Engine.FallbackVerdict,
	)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	return run(ctx, cfg, logger)
}

// run orchestrates the daemon lifecycle.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	telemetryShutdown, err := initializeTelemetry(ctx, cfg)
	if err != nil {
		return fmt.Errorf("telemetry initialization failed: %w", err)
	}
	defer shutdownTelemetry(telemetryShutdown, logger)

	registry := prometheus.NewRegistry()

	store := storage.NewMemory()
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Store close error", "error", err)
		}
	}()

	bus := event.NewBus(registry, logger)
	defer bus.Stop()

	compiler := hook.NewCompiler()

	adapter := platform.NewAuditLog(platform.NewLogAdapter(logger), store)
	dispatcher := platform.NewDispatcher(platform.Config{
		Adapter:   adapter,
		Logger:    logger,
		Breaker:   cfg.Platform.Breaker.ToGovernance(),
		Retry:     cfg.Platform.Retry.ToGovernance(),
		RateLimit: cfg.Platform.RateLimit.ToGovernance(),
	})

	eng, err := engine.New(engine.Config{
		Store:           store,
		Hooks:           compiler,
		Platform:        dispatcher,
		Bus:             bus,
		Logger:          logger,
		MaxHookFailures: cfg.Engine.MaxHookFailures,
		FallbackVerdict: cfg.Engine.Verdict(),
	})
	if err != nil {
		return fmt.Errorf("engine initialization failed: %w", err)
	}

	if cfg.Seed.File != "" {
		seed, err := config.LoadSeed(cfg.Seed.File)
		if err != nil {
			return fmt.Errorf("seed load failed: %w", err)
		}
		if err := applySeed(ctx, store, compiler, seed, logger); err != nil {
			return fmt.Errorf("seed apply failed: %w", err)
		}

		if cfg.Seed.Watch {
			watcher, err := config.NewSeedWatcher(cfg.Seed.File, logger, func(s *config.Seed) {
				if err := applySeed(context.Background(), store, compiler, s, logger); err != nil {
					logger.Error("Seed reapply failed", "error", err)
				}
			})
			if err != nil {
				return fmt.Errorf("seed watcher failed: %w", err)
			}
			defer func() {
				if err := watcher.Close(); err != nil {
					logger.Error("Seed watcher close error", "error", err)
				}
			}()
		}
	}

	sched := engine.NewScheduler(engine.SchedulerConfig{
		Engine:   eng,
		Store:    store,
		Bus:      bus,
		Logger:   logger,
		Interval: cfg.Engine.ReevaluateInterval(),
	})
	sched.Start(ctx)
	defer sched.Stop()

	adminSrv := startAdminServer(cfg, registry, dispatcher, logger)
	defer shutdownAdminServer(adminSrv, logger)

	awaitShutdownSignal(ctx, logger)
	return nil
}

// initializeTelemetry sets up OpenTelemetry with the provided configuration.
func initializeTelemetry(ctx context.Context, cfg *config.Config) (func(context.Context) error, error) {
	return telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName:  serviceName,
		Endpoint:     cfg.Telemetry.OTLPEndpoint,
		Insecure:     cfg.Telemetry.Insecure,
		Environment:  cfg.Telemetry.Environment,
		ResourceTags: map[string]string{"log.level": cfg.Logging.Level},
	})
}

// shutdownTelemetry gracefully shuts down the telemetry provider.
func shutdownTelemetry(shutdown func(context.Context) error, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		logger.Error("Telemetry shutdown error", "error", err)
	}
}

// applySeed writes the seeded communities into the store and admits every
// seeded policy. Hook sources left empty are completed with defaults first,
// so a seed can omit stages the same way policy payloads can.
func applySeed(ctx context.Context, store storage.Store, runners engine.RunnerFactory, seed *config.Seed, logger *slog.Logger) error {
	now := time.Now()
	for _, cs := range seed.Communities {
		if err := store.SaveCommunity(ctx, cs.ToDomain()); err != nil {
			return fmt.Errorf("save community %s: %w", cs.ID, err)
		}
		for _, ms := range cs.Members {
			if err := store.SaveMember(ctx, ms.ToDomain(cs.ID)); err != nil {
				return fmt.Errorf("save member %s: %w", ms.ID, err)
			}
		}
		for _, rs := range cs.Roles {
			if err := store.SaveRole(ctx, rs.ToDomain(cs.ID)); err != nil {
				return fmt.Errorf("save role %s: %w", rs.ID, err)
			}
		}
		for _, ds := range cs.Documents {
			if err := store.SaveDocument(ctx, ds.ToDomain(cs.ID)); err != nil {
				return fmt.Errorf("save document %s: %w", ds.ID, err)
			}
		}
		for _, ps := range cs.Policies {
			pol := ps.ToDomain(cs.ID, now)
			pol.Hooks = hook.Complete(pol.Hooks)
			if err := runners.Admit(ctx, pol.Hooks); err != nil {
				return fmt.Errorf("admit policy %s: %w", ps.ID, err)
			}
			// A re-seeded policy may carry new hooks; drop any cached program.
			runners.Invalidate(pol.ID)
			if err := store.SavePolicy(ctx, pol); err != nil {
				return fmt.Errorf("save policy %s: %w", ps.ID, err)
			}
		}

		logger.Info("Community seeded",
			"community", cs.ID,
			"members", len(cs.Members),
			"roles", len(cs.Roles),
			"documents", len(cs.Documents),
			"policies", len(cs.Policies),
		)
	}
	return nil
}

// startAdminServer initializes and starts the admin server.
func startAdminServer(cfg *config.Config, registry *prometheus.Registry, dispatcher *platform.Dispatcher, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(dispatcher.Stats()); err != nil {
			logger.Error("Status encode error", "error", err)
		}
	})

	server := &http.Server{
		Addr:              cfg.Server.AdminAddress,
		Handler:           otelhttp.NewHandler(mux, "agora.admin"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		ln, err := net.Listen("tcp", cfg.Server.AdminAddress)
		if err != nil {
			logger.Error("Admin server listen error", "addr", cfg.Server.AdminAddress, "error", err)
			return
		}
		logger.Info("Admin server listening", "addr", ln.Addr().String())
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin server error", "error", err)
		}
	}()

	return server
}

// shutdownAdminServer performs graceful shutdown of the admin server.
func shutdownAdminServer(server *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Admin server shutdown error", "error", err)
	}
}

// awaitShutdownSignal blocks until a shutdown signal arrives or the context
// is canceled.
func awaitShutdownSignal(ctx context.Context, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Shutting down", "reason", "context canceled")
	}
}
