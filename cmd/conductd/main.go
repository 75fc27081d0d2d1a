// Conductd is the delivery-pipeline control-plane daemon.
//
// It hosts the autonomy policy store, the safety interlocks, the
// validation gate pipeline, and the phase orchestrator, and exposes them
// over an HTTP API.
//
// Configuration is loaded from ~/.config/conductd/config.yaml and
// overridden with environment variables. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	conductd
//
//	# Use an explicit config file
//	conductd --config /etc/conductd/config.yaml
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/conductd/internal/capability"
	"github.com/fyrsmithlabs/conductd/internal/config"
	"github.com/fyrsmithlabs/conductd/internal/events"
	"github.com/fyrsmithlabs/conductd/internal/gates"
	conducthttp "github.com/fyrsmithlabs/conductd/internal/http"
	"github.com/fyrsmithlabs/conductd/internal/logging"
	"github.com/fyrsmithlabs/conductd/internal/orchestrator"
	"github.com/fyrsmithlabs/conductd/internal/policy"
	"github.com/fyrsmithlabs/conductd/internal/safety"
	"github.com/fyrsmithlabs/conductd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  conductd           Start the conductd daemon\n")
			fmt.Fprintf(os.Stderr, "  conductd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("conductd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the conductd daemon and blocks until context cancellation.
//
// Initialization order:
//  1. Load and validate configuration, ensure state directory
//  2. Build logger, telemetry providers, and event bus
//  3. Build policy store and start its state-file watcher
//  4. Build safety interlocks
//  5. Register collaborator capabilities from config
//  6. Build gate pipeline and orchestrator
//  7. Start the HTTP server, shut down gracefully on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := config.EnsureStateDir(cfg); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting conductd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("state_dir", cfg.State.Dir),
		zap.String("initial_profile", cfg.Policy.InitialProfile))

	if cfg.Observability.EnableTelemetry {
		tel, err := telemetry.Setup(ctx, telemetry.Config{
			ServiceName:    cfg.Observability.ServiceName,
			ServiceVersion: version,
			TraceEndpoint:  cfg.Observability.TraceEndpoint,
			Insecure:       cfg.Observability.TraceInsecure,
			SampleRate:     cfg.Observability.TraceSampleRate,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", zap.Error(err))
			}
		}()
	}

	bus := events.NewBus(logger)

	store, err := policy.NewStore(&policy.Config{
		InitialProfile: cfg.Policy.InitialProfile,
		StateFile:      cfg.PolicyStateFile(),
	}, bus, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize policy store: %w", err)
	}
	if err := store.Watch(ctx); err != nil {
		logger.Warn("policy state watcher unavailable", zap.Error(err))
	}

	locks := safety.NewInterlocks(cfg.State.Dir, bus, logger)

	phases, err := loadPhases(cfg)
	if err != nil {
		return err
	}

	registry := capability.NewRegistry(logger)
	for name, endpoint := range cfg.Capabilities {
		if err := registry.Register(capability.NewRemote(name, endpoint, 5*time.Minute, logger)); err != nil {
			return fmt.Errorf("failed to register capability %s: %w", name, err)
		}
	}

	pipeline, err := gates.NewPipeline(gates.DefaultDefinitions(), registry, locks, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize gate pipeline: %w", err)
	}

	orch, err := orchestrator.New(&orchestrator.Config{
		Project:    cfg.Pipeline.Project,
		Brownfield: cfg.Pipeline.Brownfield,
		Phases:     phases,
	}, registry, store, locks, pipeline, bus, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	locks.Stop.SetSource(orch)

	srv, err := conducthttp.NewServer(store, locks, orch, logger, &conducthttp.Config{
		Host: "localhost",
		Port: cfg.Server.Port,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	logger.Info("Server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Int("phases", len(phases)),
		zap.Strings("capabilities", registry.Names()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// loadPhases loads the configured pipeline file or falls back to the
// built-in delivery workflow.
func loadPhases(cfg *config.Config) ([]orchestrator.Phase, error) {
	if cfg.Pipeline.File == "" {
		return orchestrator.DefaultPhases(), nil
	}
	phases, err := orchestrator.LoadPhases(cfg.Pipeline.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline: %w", err)
	}
	return phases, nil
}
