package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/clipdock/clipdock/internal/analysis"
	"github.com/clipdock/clipdock/internal/auth"
	"github.com/clipdock/clipdock/internal/blob"
	"github.com/clipdock/clipdock/internal/config"
	"github.com/clipdock/clipdock/internal/database"
	"github.com/clipdock/clipdock/internal/events"
	internalhttp "github.com/clipdock/clipdock/internal/http"
	"github.com/clipdock/clipdock/internal/http/handlers"
	"github.com/clipdock/clipdock/internal/hub"
	"github.com/clipdock/clipdock/internal/maintenance"
	"github.com/clipdock/clipdock/internal/notify"
	"github.com/clipdock/clipdock/internal/pipeline"
	"github.com/clipdock/clipdock/internal/repository"
	"github.com/clipdock/clipdock/internal/service"
	"github.com/clipdock/clipdock/internal/version"
	"github.com/clipdock/clipdock/pkg/format"
	"github.com/clipdock/clipdock/pkg/httpclient"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the clipdock server",
	Long: `Start the clipdock HTTP server and processing pipeline.

The server provides:
- REST API for uploading, inspecting and deleting videos
- Range-capable video streaming
- WebSocket push of processing events at /ws
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	// Server flags
	serveCmd.Flags().String("listen", ":8080", "Address to listen on")
	serveCmd.Flags().String("database", "clipdock.db", "Database DSN (file path for sqlite)")
	serveCmd.Flags().String("storage-path", "./data/blobs", "Directory for stored video blobs")

	// Pipeline flags
	serveCmd.Flags().Int("workers", 4, "Processing worker pool size")
	serveCmd.Flags().Bool("requeue-on-start", true, "Re-schedule uploads stranded by a previous shutdown")

	// Bind flags to viper
	mustBindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
	mustBindPFlag("database.dsn", serveCmd.Flags().Lookup("database"))
	mustBindPFlag("storage.path", serveCmd.Flags().Lookup("storage-path"))
	mustBindPFlag("pipeline.workers", serveCmd.Flags().Lookup("workers"))
	mustBindPFlag("pipeline.requeueOnStart", serveCmd.Flags().Lookup("requeue-on-start"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.Default()

	// Initialize database
	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	// Initialize repository and blob storage
	videoRepo := repository.NewVideoRepository(db.DB)

	blobs, err := blob.NewStore(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("initializing blob store: %w", err)
	}

	// Initialize event fan-out
	bus := events.NewBus(cfg.Bus.SubscriberBuffer).WithLogger(logger)
	eventHub := hub.NewHub(bus).WithLogger(logger)

	// Initialize processing pipeline
	prober := pipeline.NewFFProber(cfg.Pipeline.FFprobePath).
		WithTimeout(cfg.Pipeline.ProbeTimeout())
	analyzer := analysis.NewAnalyzer(cfg.Analyzer.FlagThreshold)

	engine := pipeline.NewEngine(videoRepo, blobs, prober, analyzer, bus).
		WithLogger(logger).
		WithConfig(pipeline.EngineConfig{
			Workers:      cfg.Pipeline.Workers,
			QueueSize:    cfg.Pipeline.QueueSize,
			ProbeTimeout: cfg.Pipeline.ProbeTimeout(),
			StepDelays:   cfg.Pipeline.StepDelays(),
		})

	videoService := service.NewVideoService(videoRepo, blobs, bus, engine).
		WithLogger(logger).
		WithMaxBlobBytes(cfg.Blob.MaxBytes.Bytes())

	// Webhook delivery of terminal processing events
	webhookCfg := httpclient.DefaultConfig()
	webhookCfg.Timeout = cfg.Notify.Timeout.Duration()
	webhookCfg.RetryAttempts = cfg.Notify.MaxRetries
	webhookCfg.Logger = logger
	notifier := notify.NewNotifier(bus, cfg.Notify.WebhookURL).
		WithLogger(logger).
		WithClient(httpclient.New(webhookCfg))

	// Background maintenance sweeps
	sweeper := maintenance.NewSweeper(videoRepo, blobs, engine).
		WithLogger(logger).
		WithSchedule(cfg.Maintenance.Schedule).
		WithRetention(cfg.Maintenance.Retention.Duration())

	// Initialize HTTP server
	verifier := auth.NewStaticVerifier(cfg.Auth.Tokens).WithLogger(logger)
	server := internalhttp.NewServer(cfg, verifier, logger, version.Version)

	// Register handlers
	healthHandler := handlers.NewHealthHandler().
		WithDB(db.DB).
		WithEngine(engine).
		WithHub(eventHub).
		WithBus(bus).
		WithBreaker("webhook", notifier.Breaker())
	healthHandler.Register(server.API())

	// The upload route is documented through the API but served raw, so
	// Register must come before RegisterChiRoutes.
	videoHandler := handlers.NewVideoHandler(videoService).
		WithLogger(logger).
		WithBasePath(cfg.Server.BasePath).
		WithMaxUploadBytes(cfg.Blob.MaxBytes.Bytes())
	videoHandler.Register(server.API())
	videoHandler.RegisterChiRoutes(server.Router())

	streamHandler := handlers.NewStreamHandler(videoService).
		WithLogger(logger).
		WithBasePath(cfg.Server.BasePath).
		WithContentType(cfg.Streamer.ContentType).
		WithCacheControl(cfg.Streamer.CacheControl)
	streamHandler.Register(server.API())
	streamHandler.RegisterChiRoutes(server.Router())

	server.Router().Get("/ws", eventHub.ServeHTTP)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	// Start background components before the listener so the first
	// request already sees a live pipeline.
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("starting pipeline engine: %w", err)
	}
	notifier.Start()
	if cfg.Maintenance.Enabled {
		if err := sweeper.Start(ctx); err != nil {
			return fmt.Errorf("starting maintenance sweeper: %w", err)
		}
	}

	logger.Info("starting clipdock server",
		slog.String("listen", cfg.Server.Listen),
		slog.String("storage", cfg.Storage.Path),
		slog.String("max_upload", format.Bytes(cfg.Blob.MaxBytes.Bytes())),
		slog.String("version", version.Version),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	if cfg.Pipeline.RequeueOnStart {
		// Recovery of stranded uploads is best-effort here; the periodic
		// maintenance sweep retries whatever this pass misses.
		g.Go(func() error {
			requeued, interrupted, err := engine.RequeueStranded(gctx)
			if err != nil {
				logger.Warn("requeue of stranded uploads failed", slog.String("error", err.Error()))
				return nil
			}
			if requeued > 0 || interrupted > 0 {
				logger.Info("recovered stranded uploads",
					slog.Int("requeued", requeued),
					slog.Int("interrupted", interrupted),
				)
			}
			return nil
		})
	}

	err = g.Wait()

	// Teardown order: the sweeper schedules into the engine, so it stops
	// first; the notifier and hub unsubscribe before the bus closes.
	if cfg.Maintenance.Enabled {
		sweeper.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if serr := engine.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("pipeline drain incomplete", slog.String("error", serr.Error()))
	}

	notifier.Stop()
	eventHub.Close()
	bus.Close()

	return err
}
