package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/ai"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/app"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/authpw"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/blob"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/config"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/response"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/session"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	dataStore := store.NewPostgresStore(db)

	blobs, err := blob.NewMinioStore(blob.MinioConfig{
		Endpoint:  cfg.BlobEndpoint,
		AccessKey: cfg.BlobAccessKey,
		SecretKey: cfg.BlobSecretKey,
		Bucket:    cfg.BlobBucket,
		UseSSL:    cfg.BlobUseSSL,
	})
	if err != nil {
		logger.Fatal("object storage init failed", zap.Error(err))
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		logger.Fatal("bucket init failed", zap.Error(err))
	}

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer sessions.Close()

	var invoker ai.Invoker
	switch cfg.AIProvider {
	case "subprocess":
		invoker = ai.NewSubprocessInvoker(cfg.PythonBin, cfg.ScriptsDir+"/conversation.py")
		logger.Info("using subprocess ai invoker", zap.String("python", cfg.PythonBin))
	default:
		invoker = ai.NewOpenAIInvoker(cfg.OpenAIKey, cfg.OpenAIModel)
		logger.Info("using openai invoker", zap.String("model", cfg.OpenAIModel))
	}

	responses := response.NewStore(blobs, nil, logger)
	passwords := authpw.NewService(dataStore)
	service := app.New(cfg, dataStore, blobs, responses, invoker, sessions, passwords, logger)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Writes stay open long enough for the ask flow and SSE streams.
		WriteTimeout: cfg.AskTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
