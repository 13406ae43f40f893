package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/astra-intelligence/astra-ingest/internal/config"
	"github.com/astra-intelligence/astra-ingest/internal/core"
	db "github.com/astra-intelligence/astra-ingest/internal/core/database"
	"github.com/astra-intelligence/astra-ingest/internal/core/extract"
	"github.com/astra-intelligence/astra-ingest/internal/core/llm"
	"github.com/astra-intelligence/astra-ingest/internal/core/objectstore"
	"github.com/astra-intelligence/astra-ingest/internal/ingest"
)

type App struct {
	DBClient core.DbClient
	Embedder *llm.GeminiEmbedder
	Pipeline *ingest.Pipeline
	Server   *Server
	log      *zap.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	log.Info("database initialized and ready")

	objClient, err := objectstore.NewS3Client(appCtx, cfg)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("object store: %w", err)
	}
	log.Info("object client initialized and ready")

	embedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
	if err != nil {
		_ = dbClient.Close()
		return nil, fmt.Errorf("embedder: %w", err)
	}

	extractor := extract.NewDocExtractor(log.Named("extract"))
	embedClient := ingest.NewEmbedClient(embedder, cfg.EmbedBatchSize, cfg.EmbedMaxRetries, cfg.EmbedInitialDelay, log.Named("embed"))
	notifier := ingest.NewWebhookNotifier(cfg.ClassifierWebhookURL, log.Named("notify"))

	pipeline := ingest.NewPipeline(dbClient, objClient, extractor, embedClient, notifier, ingest.PipelineConfig{
		Bucket:         cfg.BucketName,
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, log.Named("ingest"))

	server := NewServer(cfg, dbClient, objClient, pipeline, embedder, log)

	return &App{
		DBClient: dbClient,
		Embedder: embedder,
		Pipeline: pipeline,
		Server:   server,
		log:      log,
	}, nil
}

func (a *App) Close() {
	if a.Embedder != nil {
		_ = a.Embedder.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
