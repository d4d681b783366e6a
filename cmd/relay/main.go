package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	relay "github.com/glimte/mmate-relay"
	"github.com/glimte/mmate-relay/archive"
	"github.com/glimte/mmate-relay/internal/config"
	"github.com/glimte/mmate-relay/internal/rabbitmq"
	"github.com/glimte/mmate-relay/monitor"
	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mmate-relay",
		Short: "Move messages from a queue on one AMQP broker to another broker",
		Long: `mmate-relay drains an existing queue on a source broker and republishes every
message to a destination broker with publisher confirms. Messages are archived
before they are published and acknowledged on the source only once confirmed.

Every flag can also be set through its environment variable, e.g. SOURCE_URL.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			logger, err := cfg.NewLogger(os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			if err := run(cmd.Context(), cfg, logger); err != nil {
				logger.Error("relay exited", "error", err)
				return err
			}
			return nil
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.AddCommand(newArchiveCommand(), newQueueCommand())
	return cmd
}

func run(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	states := make([]string, 0, len(relay.States()))
	for _, s := range relay.States() {
		states = append(states, s.String())
	}
	metrics := monitor.NewMetrics(states...)

	store, err := archive.Open(archive.Options{
		CacheURL:        cfg.CacheURL,
		CacheTTL:        cfg.CacheTTL,
		FileEnabled:     cfg.FileArchive,
		FilePath:        cfg.FileArchivePath,
		OnBreakerChange: metrics.ObserveBreaker,
		Logger:          logger,
	})
	if err != nil {
		return err
	}

	r := relay.New(*cfg,
		relay.WithLogger(logger),
		relay.WithArchive(store),
		relay.WithObserver(metrics),
		relay.WithStateListener(func(from, to relay.State) {
			metrics.SetState(to.String())
		}),
	)

	var serverErrors <-chan error
	if cfg.MetricsAddr != "" {
		server := monitor.NewServer(cfg.MetricsAddr, metrics, newHealth(cfg, r, store),
			monitor.WithServerLogger(logger))
		if err := server.Start(); err != nil {
			return errors.Join(fmt.Errorf("monitoring server: %w", err), shutdown(r))
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			server.Shutdown(sctx)
		}()
		serverErrors = server.Errors()
	}

	if err := r.Run(ctx); err != nil {
		if ctx.Err() != nil {
			logger.Info("interrupted while connecting")
			return shutdown(r)
		}
		shutdown(r)
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("received termination signal")
	case <-r.Done():
	case err := <-serverErrors:
		shutdown(r)
		return fmt.Errorf("monitoring server: %w", err)
	}

	if err := shutdown(r); err != nil {
		return err
	}
	return r.Err()
}

func shutdown(r *relay.Relay) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return r.Shutdown(ctx)
}

func newHealth(cfg *config.Config, r *relay.Relay, store archive.Store) *monitor.Registry {
	health := monitor.NewRegistry()
	health.Register(monitor.NewStateChecker(func() string { return r.State().String() }))
	health.Register(monitor.NewConnectionChecker(r.Registry(), rabbitmq.RoleSource))
	health.Register(monitor.NewConnectionChecker(r.Registry(), rabbitmq.RoleDestination))
	health.Register(monitor.NewQueueDepthChecker(r.Registry(), cfg.SourceQueue, 0))
	if cache, ok := archive.FindRedis(store); ok {
		health.Register(monitor.NewArchiveChecker(cache))
	}

	health.SetMetadata("version", version)
	health.SetMetadata("sourceQueue", cfg.SourceQueue)
	health.SetMetadata("archive", archive.Describe(store))
	return health
}
