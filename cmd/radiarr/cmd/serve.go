package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/radiarr/internal/broadcast"
	"github.com/jmylchreest/radiarr/internal/config"
	"github.com/jmylchreest/radiarr/internal/droptoken"
	"github.com/jmylchreest/radiarr/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/radiarr/internal/http"
	"github.com/jmylchreest/radiarr/internal/http/handlers"
	"github.com/jmylchreest/radiarr/internal/httpclient"
	"github.com/jmylchreest/radiarr/internal/metrics"
	"github.com/jmylchreest/radiarr/internal/observability"
	"github.com/jmylchreest/radiarr/internal/scheduler"
	"github.com/jmylchreest/radiarr/internal/session"
	"github.com/jmylchreest/radiarr/internal/source"
	"github.com/jmylchreest/radiarr/internal/startup"
	"github.com/jmylchreest/radiarr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the radiarr server",
	Long: `Start the source listener, the media sessions and the HTTP server.

The HTTP server provides:
- Listener streams at /stream/{stationId}
- The session control API under /api/v1 with OpenAPI docs at /docs
- Health at /health and Prometheus metrics at /metrics`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "HTTP host to bind to")
	serveCmd.Flags().Int("port", 8080, "HTTP port to listen on")
	serveCmd.Flags().StringSlice("source-address", []string{"0.0.0.0:8000"}, "address encoders connect to (repeatable)")
	serveCmd.Flags().String("database-driver", "sqlite", "database driver (sqlite, postgres, mysql)")
	serveCmd.Flags().String("database", "radiarr.db", "database DSN")
	serveCmd.Flags().String("deployment-id", "", "identity of this deployment (default hostname)")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("source.addresses", serveCmd.Flags().Lookup("source-address"))
	mustBindPFlag("database.driver", serveCmd.Flags().Lookup("database-driver"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("session.deployment_id", serveCmd.Flags().Lookup("deployment-id"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := scheduler.ValidateCron(cfg.Session.SweepSchedule); err != nil {
		return fmt.Errorf("session.sweep_schedule: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.Default()

	if cfg.Storage.Backend == "local" {
		removed, err := startup.CleanupOrphanedUploads(logger, cfg.Storage.BaseDir, startup.DefaultCleanupAge)
		if err != nil {
			observability.WithError(logger, err).Warn("failed to clean orphaned uploads")
		} else if removed > 0 {
			logger.Info("cleaned orphaned uploads on startup", slog.Int("removed_count", removed))
		}
	}

	c, err := openCore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	detector := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath)
	if info, err := detector.Detect(ctx); err != nil {
		observability.WithError(logger, err).Warn("ffmpeg not available, playlist stations will not play")
	} else {
		logger.Info("ffmpeg detected",
			slog.String("path", info.FFmpegPath),
			slog.String("version", info.Version),
			slog.Bool("libmp3lame", info.HasEncoder("libmp3lame")),
		)
	}

	tokens := droptoken.NewCounter()
	registry := broadcast.NewRegistry(broadcast.Config{
		Capacity:    cfg.Relay.ChannelCapacity,
		BurstLength: cfg.Relay.BurstLength,
	}).WithDropTokens(tokens).WithLogger(observability.WithComponent(logger, "broadcast"))

	manager := session.NewManager(session.Options{
		Session:    cfg.Session,
		Relay:      cfg.Relay,
		Registry:   registry,
		Stations:   c.stations,
		AudioFiles: c.audioFiles,
		Sessions:   c.sessions,
		Lookup:     c.service,
		Store:      c.store,
		Transcoder: ffmpeg.NewTranscoder(detector, logger),
		HTTPClient: httpclient.New(httpclient.Config{
			ConnectTimeout: cfg.Relay.ConnectTimeout,
			Logger:         observability.WithComponent(logger, "relay_client"),
		}),
		DropTokens: tokens,
		Logger:     logger,
	})
	c.service.WithNotifier(manager)

	if _, err := startup.RecoverDeploymentState(ctx, logger, manager.DeploymentID(), c.stations, c.sessions); err != nil {
		return fmt.Errorf("recovering deployment state: %w", err)
	}

	sourceSrv, err := source.NewServer(source.ServerConfig{
		Addresses:      cfg.Source.Addresses,
		MaxConnections: cfg.Source.MaxConnections,
	}, source.NewHandler(source.HandlerConfig{
		MaxHeadSize: cfg.Source.MaxHeadSize.Int(),
		ChunkSize:   cfg.Relay.ChunkSize.Int(),
		ReadTimeout: cfg.Source.ReadTimeout,
	}, c.service, manager, logger), tokens, logger)
	if err != nil {
		return fmt.Errorf("creating source server: %w", err)
	}

	httpSrv := newHTTPServer(cfg, logger, c, registry, manager)

	sched := scheduler.NewScheduler(logger)
	sweeper := scheduler.NewSweeper(c.stations, c.sessions, cfg.Session.LeaseTimeout).WithLogger(logger)
	if err := sched.Add("lease-sweep", cfg.Session.SweepSchedule, sweeper.Job()); err != nil {
		return fmt.Errorf("scheduling lease sweep: %w", err)
	}

	if err := sourceSrv.Listen(); err != nil {
		return err
	}
	if err := httpSrv.Listen(); err != nil {
		_ = sourceSrv.Close()
		return err
	}

	logger.Info("starting radiarr",
		slog.String("version", version.Version),
		slog.String("deployment_id", manager.DeploymentID()),
		slog.String("http_address", httpSrv.Addr().String()),
		slog.Any("source_addresses", cfg.Source.Addresses),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpSrv.Serve)
	g.Go(sourceSrv.Serve)
	g.Go(func() error { return manager.Run(gctx) })
	if err := sched.Start(gctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	<-gctx.Done()
	logger.Info("shutting down", slog.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownErr := shutdown(cfg, logger, tokens, sched, sourceSrv, httpSrv, manager)
	return errors.Join(g.Wait(), shutdownErr)
}

func newHTTPServer(
	cfg *config.Config,
	logger *slog.Logger,
	c *core,
	registry *broadcast.Registry,
	manager *session.Manager,
) *internalhttp.Server {
	srv := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  internalhttp.DefaultServerConfig().IdleTimeout,
		CORSOrigins:  cfg.Server.CORSOrigins,
	}, logger, version.Version)

	handlers.NewHealthHandler(version.Version).
		WithDB(c.db.DB).
		WithChannels(registry).
		WithSessions(manager).
		Register(srv.API())
	handlers.NewSessionHandler(manager, registry).Register(srv.API())
	handlers.NewStreamHandler(registry).
		WithLogger(logger).
		RegisterChiRoutes(srv.Router())
	srv.Router().Handle("/metrics", metrics.Handler(metrics.NewRegistry()))

	return srv
}

// shutdown stops accepting work and stops the playlist and relay sessions.
// Connected encoders and their listeners get until the shutdown timeout to
// finish before the remaining sessions and connections are closed.
func shutdown(
	cfg *config.Config,
	logger *slog.Logger,
	tokens *droptoken.Counter,
	sched *scheduler.Scheduler,
	sourceSrv *source.Server,
	httpSrv *internalhttp.Server,
	manager *session.Manager,
) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	sched.Stop()
	if err := sourceSrv.Shutdown(); err != nil {
		errs = append(errs, fmt.Errorf("closing source listeners: %w", err))
	}
	httpDone := make(chan error, 1)
	go func() { httpDone <- httpSrv.Shutdown(ctx) }()

	if err := manager.Shutdown(ctx); err != nil {
		logger.Warn("live sessions closed at shutdown timeout", slog.String("error", err.Error()))
	}
	if err := tokens.Wait(ctx); err != nil {
		logger.Warn("connections still open at shutdown timeout", slog.Int("open", tokens.Count()))
	}

	if err := sourceSrv.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing source connections: %w", err))
	}
	if err := <-httpDone; err != nil {
		errs = append(errs, fmt.Errorf("stopping http server: %w", err))
	}

	logger.Info("radiarr stopped")
	return errors.Join(errs...)
}
