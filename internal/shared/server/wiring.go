package server

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"menu-analysis-backend/internal/analyses"
	"menu-analysis-backend/internal/llm"
	llmopenai "menu-analysis-backend/internal/llm/openai"
	"menu-analysis-backend/internal/queue"
	"menu-analysis-backend/internal/shared/config"
	"menu-analysis-backend/internal/shared/storage/db"
	"menu-analysis-backend/internal/shared/storage/object"
	localstore "menu-analysis-backend/internal/shared/storage/object/local"
	s3store "menu-analysis-backend/internal/shared/storage/object/s3"
	"menu-analysis-backend/internal/shared/telemetry"
)

// NewStateRepo builds the checkpoint store selected by STATE_STORE. The
// returned close func releases any connection it opened.
func NewStateRepo(ctx context.Context, cfg config.Config) (analyses.StateRepo, func(), error) {
	noop := func() {}
	switch cfg.StateStore {
	case "postgres":
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
		if err != nil {
			return nil, noop, fmt.Errorf("connect state database: %w", err)
		}
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			sqlDB.Close()
			return nil, noop, fmt.Errorf("migrate state database: %w", err)
		}
		return &analyses.PGRepo{DB: sqlDB, Key: cfg.StateKey}, closeDB(sqlDB), nil
	case "object":
		store, err := NewObjectStore(ctx, cfg)
		if err != nil {
			return nil, noop, err
		}
		return &analyses.ObjectRepo{Store: store, Key: cfg.StateKey}, noop, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("ping redis: %w", err)
		}
		return &analyses.RedisRepo{Client: client, Key: cfg.StateKey}, func() { _ = client.Close() }, nil
	default:
		return analyses.NewMemoryRepo(), noop, nil
	}
}

func closeDB(sqlDB *sql.DB) func() {
	return func() { _ = sqlDB.Close() }
}

// NewObjectStore builds the object store selected by OBJECT_STORE.
func NewObjectStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	if cfg.ObjectStoreType == "s3" {
		store, err := s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
		if err != nil {
			return nil, fmt.Errorf("init s3 store: %w", err)
		}
		return store, nil
	}
	return localstore.New(cfg.LocalStoreDir), nil
}

// NewLLMClient builds the provider client selected by LLM_PROVIDER. A missing
// OpenAI key degrades to the placeholder client so the API still starts.
func NewLLMClient(cfg config.Config) llm.Client {
	if cfg.LLMProvider != "openai" {
		return llm.PlaceholderClient{}
	}
	client, err := llmopenai.NewClient(cfg.OpenAIAPIKey, cfg.LLMModel, cfg.OpenAIBaseURL)
	if err != nil {
		telemetry.Warn("llm.disabled", map[string]any{"error": err})
		return llm.PlaceholderClient{}
	}
	return client
}

// NewOutcomeQueue returns an SQS publisher when OUTCOME_QUEUE_URL is set.
func NewOutcomeQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if cfg.OutcomeQueueURL == "" {
		return nil, nil
	}
	client, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.OutcomeQueueURL)
	if err != nil {
		return nil, fmt.Errorf("init outcome queue: %w", err)
	}
	return client, nil
}
