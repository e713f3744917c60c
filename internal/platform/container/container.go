package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/doc-rag/internal/core/retrieval"
	"github.com/jinford/doc-rag/internal/infra/bolt"
	"github.com/jinford/doc-rag/internal/infra/filesource"
	"github.com/jinford/doc-rag/internal/infra/openai"
	"github.com/jinford/doc-rag/internal/infra/postgres"
	"github.com/jinford/doc-rag/internal/infra/redis"
	"github.com/jinford/doc-rag/internal/infra/tokenizer"
	"github.com/jinford/doc-rag/internal/platform/config"
	"github.com/jinford/doc-rag/internal/platform/database"
)

// ServiceContainer はアプリケーションの依存関係を保持する。
type ServiceContainer struct {
	RetrievalService *retrieval.Service
	Collector        *filesource.Collector
	Store            retrieval.VectorStore

	logger *slog.Logger
}

type containerOptions struct {
	logger       *slog.Logger
	embedder     retrieval.Embedder
	store        retrieval.VectorStore
	tokenCounter retrieval.TokenCounter
	observer     retrieval.StageObserver
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder はカスタム Embedder を注入する
func WithContainerEmbedder(embedder retrieval.Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerStore はカスタム VectorStore を注入する
func WithContainerStore(store retrieval.VectorStore) ContainerOption {
	return func(opts *containerOptions) {
		opts.store = store
	}
}

// WithContainerTokenCounter は TokenCounter を差し替える
func WithContainerTokenCounter(counter retrieval.TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// WithContainerStageObserver は取り込み段階の通知先を設定する
func WithContainerStageObserver(observer retrieval.StageObserver) ContainerOption {
	return func(opts *containerOptions) {
		opts.observer = observer
	}
}

// NewContainer は設定からコンテナを生成する。
// 設定の検証はストアへの接続より前に行う。
func NewContainer(ctx context.Context, cfg *config.Config, opts ...ContainerOption) (*ServiceContainer, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Embedder (OpenAI 互換)
	embedder := options.embedder
	if embedder == nil {
		e, err := openai.NewEmbedder(openai.EmbedderConfig{
			APIKey:     cfg.Embedding.APIKey,
			Endpoint:   cfg.Embedding.Endpoint,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			BatchSize:  cfg.Embedding.BatchSize,
			Timeout:    cfg.Embedding.Timeout,
		}, openai.WithEmbedderLogger(options.logger))
		if err != nil {
			return nil, err
		}
		embedder = e
	}

	// VectorStore
	store := options.store
	if store == nil {
		s, err := newStore(ctx, cfg, options.logger)
		if err != nil {
			return nil, err
		}
		store = s
	}

	// TokenCounter（取得できない場合は文字数による概算にフォールバック）
	tokenCounter := options.tokenCounter
	if tokenCounter == nil && cfg.Retrieval.TokenBudget > 0 {
		tc, err := tokenizer.NewTokenCounter("")
		if err != nil {
			options.logger.Warn("TokenCounter の初期化に失敗したため文字数で概算します", "error", err)
		} else {
			tokenCounter = tc
		}
	}

	serviceOpts := []retrieval.ServiceOption{
		retrieval.WithLogger(options.logger),
		retrieval.WithEnabled(cfg.Retrieval.Enabled),
		retrieval.WithChunking(cfg.Retrieval.ChunkSize, cfg.Retrieval.ChunkOverlap),
		retrieval.WithDefaultTopK(cfg.Retrieval.TopK),
		retrieval.WithContextOptions(retrieval.ContextOptions{
			TokenBudget: cfg.Retrieval.TokenBudget,
			Counter:     tokenCounter,
		}),
	}
	if options.observer != nil {
		serviceOpts = append(serviceOpts, retrieval.WithStageObserver(options.observer))
	}

	return &ServiceContainer{
		RetrievalService: retrieval.NewService(store, embedder, serviceOpts...),
		Collector:        filesource.NewCollector(filesource.WithCollectorLogger(options.logger)),
		Store:            store,
		logger:           options.logger,
	}, nil
}

// newStore は設定されたバックエンドの VectorStore を生成する
func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (retrieval.VectorStore, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := database.New(ctx, database.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
		}
		if err := postgres.Migrate(ctx, db.Pool); err != nil {
			db.Close()
			return nil, fmt.Errorf("スキーマ作成に失敗しました: %w", err)
		}
		opts := []postgres.Option{
			postgres.WithLogger(logger),
			postgres.WithWriteConcurrency(cfg.Store.WriteConcurrency),
		}
		if cfg.Store.AtomicWrites {
			opts = append(opts, postgres.WithAtomicWrites())
		}
		return postgres.NewStore(db.Pool, opts...), nil

	case config.BackendRedis:
		client, err := redis.Connect(ctx, redis.ConnectionParams{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("Redis初期化に失敗しました: %w", err)
		}
		return redis.NewStore(client,
			redis.WithLogger(logger),
			redis.WithWriteConcurrency(cfg.Store.WriteConcurrency),
		), nil

	default:
		store, err := bolt.Open(cfg.Store.BoltPath,
			bolt.WithLogger(logger),
			bolt.WithWriteConcurrency(cfg.Store.WriteConcurrency),
		)
		if err != nil {
			return nil, fmt.Errorf("bboltストア初期化に失敗しました: %w", err)
		}
		return store, nil
	}
}

// Close は内部リソースを解放する。
func (c *ServiceContainer) Close() error {
	if c == nil || c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// Logger はロガーを返す。
func (c *ServiceContainer) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}
