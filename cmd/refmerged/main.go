// Refmerged resolves document references and merges fields from the
// documents they point at, then indexes the result.
//
// Configuration is loaded from a YAML or TOML file and REFMERGE_ environment
// variables. See internal/config for details.
//
// Usage:
//
//	# Start with ~/.config/refmerge/config.yaml
//	refmerged
//
//	# Explicit config file and port override
//	REFMERGE_SERVER_HTTP_PORT=9191 refmerged -config ./refmerge.toml
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

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/config"
	"github.com/fyrsmithlabs/refmerge/internal/docstore"
	"github.com/fyrsmithlabs/refmerge/internal/events"
	httpserver "github.com/fyrsmithlabs/refmerge/internal/http"
	"github.com/fyrsmithlabs/refmerge/internal/logging"
	"github.com/fyrsmithlabs/refmerge/internal/processor"
	"github.com/fyrsmithlabs/refmerge/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "config file (default ~/.config/refmerge/config.yaml)")
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
			fmt.Fprintf(os.Stderr, "  refmerged [-config file]   Start the refmerge daemon\n")
			fmt.Fprintf(os.Stderr, "  refmerged version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("refmerged by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
// Startup order:
//  1. Loads and validates configuration
//  2. Initializes telemetry, then the logger bridged to it
//  3. Opens the document store
//  4. Builds the processor with its sinks (index, optional NATS events)
//  5. Starts the config watcher and the HTTP server
//  6. Shuts everything down in reverse on cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	if err := cfg.Section("logging", logCfg); err != nil {
		return err
	}
	telCfg := telemetry.NewDefaultConfig()
	telCfg.ServiceVersion = version
	if err := cfg.Section("telemetry", telCfg); err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telCfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()
	zl := logger.Underlying()

	logger.Info(ctx, "starting refmerged",
		zap.String("config", cfg.Path()),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Provider),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Bool("events", cfg.Events.Enabled),
	)

	deps, err := initDependencies(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	settings, err := processor.SettingsFromConfig(cfg.Merge, cfg.Store.LookupTimeout.Duration())
	if err != nil {
		return err
	}
	sinks := []processor.Sink{processor.NewIndexSink(deps.store)}
	if deps.publisher != nil {
		sinks = append(sinks, deps.publisher)
	}
	proc, err := processor.New(deps.store, settings, logger.Named("processor"), sinks...)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}
	pool := processor.NewPool(proc, cfg.Workers.Count)

	srv, err := httpserver.NewServer(deps.store, proc, pool, zl.Named("http"), &httpserver.Config{
		Port:          cfg.Server.Port,
		MeterProvider: tel.MeterProvider(),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		err := config.Watch(watchCtx, cfg.Path(), zl.Named("config"), func(next *config.Config) {
			reloadMerge(watchCtx, logger, proc, next)
		})
		if err != nil {
			logger.Warn(ctx, "config watcher stopped", zap.Error(err))
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if deps.publisher != nil {
		if err := deps.publisher.Flush(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("events flush: %w", err))
		}
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// reloadMerge applies the merge section of a reloaded config. Store, server
// and events settings only take effect on restart.
func reloadMerge(ctx context.Context, logger *logging.Logger, proc *processor.Processor, next *config.Config) {
	settings, err := processor.SettingsFromConfig(next.Merge, next.Store.LookupTimeout.Duration())
	if err == nil {
		err = proc.Reconfigure(settings)
	}
	if err != nil {
		logger.Error(ctx, "merge settings reload rejected", zap.Error(err))
		return
	}
	logger.Info(ctx, "merge settings reloaded",
		zap.String("local_id_field", settings.ReferenceField),
		zap.Int("mappings", len(settings.Mappings)),
	)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	store     docstore.Store
	publisher *events.Publisher
	logger    *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.publisher != nil {
		_ = d.publisher.Close()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("closing document store", zap.Error(err))
		}
	}
}

// initDependencies opens the document store and, when enabled, connects the
// NATS event publisher.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	store, err := docstore.NewStore(ctx, cfg, logger.Named("docstore"))
	if err != nil {
		return nil, fmt.Errorf("failed to open document store: %w", err)
	}
	deps := &dependencies{store: store, logger: logger}

	if cfg.Events.Enabled {
		pub, err := events.Connect(cfg.Events.URL, cfg.Events.Subject, cfg.Merge.IDField, logger.Named("events"))
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.publisher = pub
	}
	return deps, nil
}
