// Package postgres は PostgreSQL + pgvector による VectorStore を提供する
package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

const backendName = "postgres"

// DefaultWriteConcurrency は1回の StoreEmbeddings で同時に発行する upsert 数
const DefaultWriteConcurrency = 8

// Store は rag_chunks テーブルを使った VectorStore 実装
type Store struct {
	pool        *pgxpool.Pool
	queries     *ChunkQueries
	txProvider  *TransactionProvider
	atomic      bool
	concurrency int
	logger      *slog.Logger
}

type storeOptions struct {
	atomic      bool
	concurrency int
	logger      *slog.Logger
}

// Option は Store のオプション設定
type Option func(*storeOptions)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithWriteConcurrency は upsert の同時実行数を設定する
func WithWriteConcurrency(n int) Option {
	return func(o *storeOptions) {
		o.concurrency = n
	}
}

// WithAtomicWrites は StoreEmbeddings を1トランザクションで実行する
// 既定ではレコードごとに独立した upsert を発行し、失敗前の書き込みは残る
func WithAtomicWrites() Option {
	return func(o *storeOptions) {
		o.atomic = true
	}
}

// NewStore は新しい Store を作成する。スキーマは Migrate で事前に作成しておくこと
func NewStore(pool *pgxpool.Pool, opts ...Option) *Store {
	options := storeOptions{
		concurrency: DefaultWriteConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.concurrency <= 0 {
		options.concurrency = DefaultWriteConcurrency
	}

	return &Store{
		pool:        pool,
		queries:     NewChunkQueries(pool),
		txProvider:  NewTransactionProvider(pool),
		atomic:      options.atomic,
		concurrency: options.concurrency,
		logger:      options.logger,
	}
}

// StoreEmbeddings はチャンクごとのレコードを upsert する
func (s *Store) StoreEmbeddings(ctx context.Context, sessionID, documentID string, chunks []retrieval.EmbeddedChunk) error {
	records := retrieval.NewChunkRecords(sessionID, documentID, chunks)
	if len(records) == 0 {
		return nil
	}

	var err error
	if s.atomic {
		_, err = TransactDocument(ctx, s.txProvider, sessionID, documentID, func(a *Adapter) (struct{}, error) {
			for _, r := range records {
				if err := a.Chunks.Upsert(ctx, r); err != nil {
					return struct{}{}, err
				}
			}
			return struct{}{}, nil
		})
	} else {
		eg, egCtx := errgroup.WithContext(ctx)
		eg.SetLimit(s.concurrency)
		for _, r := range records {
			eg.Go(func() error {
				return s.queries.Upsert(egCtx, r)
			})
		}
		err = eg.Wait()
	}
	if err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "store embeddings", Err: err}
	}

	s.logger.Debug("チャンクを保存しました",
		"session", sessionID,
		"document", documentID,
		"count", len(records),
		"atomic", s.atomic,
	)
	return nil
}

// FindSimilarChunks はセッションのレコードを読み出し、全件比較で上位 topK 件を返す
func (s *Store) FindSimilarChunks(ctx context.Context, sessionID string, queryVector []float32, topK int) ([]retrieval.ScoredChunk, error) {
	if len(queryVector) == 0 {
		return []retrieval.ScoredChunk{}, nil
	}

	records, err := s.queries.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, &retrieval.StorageError{Backend: backendName, Op: "scan session", Err: err}
	}
	return retrieval.RankRecords(queryVector, records, topK)
}

// ClearSessionData はセッションの全レコードを削除する
func (s *Store) ClearSessionData(ctx context.Context, sessionID string) error {
	n, err := s.queries.DeleteBySession(ctx, sessionID)
	if err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "clear session", Err: err}
	}
	s.logger.Debug("セッションのレコードを削除しました", "session", sessionID, "deleted", n)
	return nil
}

// DeleteDocument はドキュメントのレコードを削除する
func (s *Store) DeleteDocument(ctx context.Context, sessionID, documentID string) error {
	if _, err := s.queries.DeleteByDocument(ctx, sessionID, documentID); err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "delete document", Err: err}
	}
	return nil
}

// CountChunks はセッションのレコード数を返す
func (s *Store) CountChunks(ctx context.Context, sessionID string) (int, error) {
	n, err := s.queries.CountBySession(ctx, sessionID)
	if err != nil {
		return 0, &retrieval.StorageError{Backend: backendName, Op: "count", Err: err}
	}
	return n, nil
}

// Close は接続プールを閉じる
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// インターフェース実装の確認
var _ retrieval.VectorStore = (*Store)(nil)
