package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Open-Course-Factory/ocf-coursegen/internal/api"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/config"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/courses"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/database"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/enricher"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/events"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/genai"
	applogger "github.com/Open-Course-Factory/ocf-coursegen/internal/logger"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/storage"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/telemetry"
	"github.com/Open-Course-Factory/ocf-coursegen/internal/worker"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := applogger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatal("ocf-coursegen stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Starting ocf-coursegen",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("course_store", cfg.CourseStore),
		zap.String("storage_type", cfg.Storage.Type),
		zap.String("narration_provider", cfg.Narration.Provider))

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  "ocf-coursegen",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		SampleRatio:  cfg.Telemetry.SampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	// Course store
	var repo courses.Repository
	switch cfg.CourseStore {
	case "postgres":
		db, err := database.Connect(cfg.DatabaseURL, cfg.LogLevel, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		repo = courses.NewCourseRepository(db.DB)
	default:
		logger.Warn("Using in-memory course store, courses are lost on restart")
		repo = courses.NewMemoryRepository()
	}

	// Media storage
	backend, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	media := storage.NewMediaService(backend)

	// Generative collaborators
	if cfg.GenAI.KindoAPIKey == "" {
		logger.Warn("KINDO_API_KEY is empty, text generation requests will be rejected")
	}
	text := genai.NewKindoClient(cfg.GenAI.KindoBaseURL, cfg.GenAI.KindoAPIKey, cfg.GenAI.RequestTimeout)
	images := genai.NewHuggingFaceClient(cfg.GenAI.HuggingFaceBaseURL, cfg.GenAI.HuggingFaceAPIKey, cfg.GenAI.RequestTimeout)

	narrator, closeNarrator, err := newNarrator(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeNarrator()

	slideEnricher := enricher.New(text, images, narrator, media, enricher.Config{
		GeneralModel:        cfg.GenAI.GeneralModel,
		ImageModel:          cfg.GenAI.ImageModel,
		PlaceholderImageURL: cfg.GenAI.PlaceholderImageURL,
		WorkspaceBase:       cfg.Worker.WorkspaceBase,
	}, logger)

	// Progress events and shared rate limiting, both optional
	var publisher events.Publisher = events.NopPublisher{}
	var rateLimiter api.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		rateLimiter = api.NewMemoryRateLimiter(cfg.RateLimitPerMinute, time.Minute)
	}
	if cfg.Redis.Addr != "" {
		redisPublisher, err := events.NewRedisPublisher(events.RedisConfig{
			Addr:          cfg.Redis.Addr,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			ChannelPrefix: cfg.Redis.ChannelPrefix,
		}, logger)
		if err != nil {
			logger.Warn("Redis unavailable, progress events disabled", zap.Error(err))
		} else {
			defer redisPublisher.Close()
			publisher = redisPublisher
			if cfg.RateLimitPerMinute > 0 {
				rateLimiter = api.NewRedisRateLimiter(redisPublisher.Client(), cfg.RateLimitPerMinute, time.Minute)
			}
		}
	}

	// Workers
	processor := worker.NewJobProcessor(repo, text, slideEnricher, publisher, worker.ProcessorConfig{
		KnowledgeModel:         cfg.GenAI.KnowledgeModel,
		GeneralModel:           cfg.GenAI.GeneralModel,
		KnowledgeMaxAttempts:   cfg.Knowledge.MaxAttempts,
		KnowledgeRetryDelay:    cfg.Knowledge.RetryDelay,
		KnowledgeRetryMaxDelay: cfg.Knowledge.RetryMaxDelay,
	}, logger)

	pool := worker.NewWorkerPool(processor, &worker.PoolConfig{
		WorkerCount: cfg.Worker.WorkerCount,
		QueueSize:   cfg.Worker.QueueSize,
		JobTimeout:  cfg.JobTimeout,
	}, logger)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	courseService := courses.NewService(repo, pool, cfg.ProvisionalSlides, logger)

	// Stale jobs and orphan workspaces
	workspaces, err := enricher.NewWorkspaceManager(cfg.Worker.WorkspaceBase, logger)
	if err != nil {
		return err
	}
	cleanup := courses.NewCleanupService(courseService, workspaces, cfg.CleanupInterval, cfg.StaleJobAge, logger)

	routerCfg := api.RouterConfig{
		AllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:   rateLimiter,
	}
	if cfg.Storage.Type == "filesystem" {
		routerCfg.MediaDir = cfg.Storage.BasePath
	}
	router := api.SetupRouter(courseService, pool, media, routerCfg, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(sigCtx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		cleanup.Start(gctx)
		return nil
	})

	// Arrêt sur signal ou à la première erreur d'une des goroutines
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
		cleanup.Stop()
		return nil
	})

	err = g.Wait()

	if stopErr := pool.Stop(); stopErr != nil {
		logger.Error("Worker pool shutdown failed", zap.Error(stopErr))
	}
	if err != nil {
		return err
	}

	logger.Info("Server shutdown complete")
	return nil
}

// newNarrator construit le fournisseur de narration configuré. Le Narrator retourné est nil pour "none".
func newNarrator(ctx context.Context, cfg *config.Config) (genai.Narrator, func(), error) {
	noop := func() {}

	switch cfg.Narration.Provider {
	case "google":
		client, err := genai.NewGoogleTTSClient(ctx, cfg.Narration.GoogleCredentialsFile,
			cfg.Narration.GoogleLanguageCode, cfg.Narration.GoogleVoiceName)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to initialize Google TTS: %w", err)
		}
		return client, func() { _ = client.Close() }, nil
	case "none":
		return nil, noop, nil
	default:
		options := genai.DefaultUnrealSpeechOptions()
		options.VoiceID = cfg.Narration.UnrealSpeechVoice
		client := genai.NewUnrealSpeechClient(cfg.Narration.UnrealSpeechEndpoint,
			cfg.Narration.UnrealSpeechAPIKey, options, cfg.GenAI.RequestTimeout)
		return client, noop, nil
	}
}
