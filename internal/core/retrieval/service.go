package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jinford/doc-rag/internal/core/chunk"
)

// IngestResult は取り込み処理の結果を表す
type IngestResult struct {
	SessionID  string
	DocumentID string
	ChunkCount int
	Replaced   bool
	Duration   time.Duration
}

// ContextResult は質問に対する検索結果とコンテキストブロック
type ContextResult struct {
	Chunks []ScoredChunk
	// Block は下流のLLM呼び出しに渡すテキスト（予算内に収まったチャンクのみ）
	Block string
	// UsedChunks は Block に含まれるチャンク数
	UsedChunks int
}

// Service はドキュメント取り込みと検索のオーケストレーションを提供する
type Service struct {
	store       VectorStore
	embedder    Embedder
	chunker     *chunk.Chunker
	enabled     bool
	topK        int
	contextOpts ContextOptions
	observer    StageObserver
	logger      *slog.Logger
}

type serviceOptions struct {
	chunkSize    int
	chunkOverlap int
	enabled      bool
	topK         int
	contextOpts  ContextOptions
	observer     StageObserver
	logger       *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*serviceOptions)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(o *serviceOptions) {
		o.logger = logger
	}
}

// WithChunking はチャンク長とオーバーラップを上書きする
func WithChunking(size, overlap int) ServiceOption {
	return func(o *serviceOptions) {
		o.chunkSize = size
		o.chunkOverlap = overlap
	}
}

// WithEnabled はRAGの有効/無効を切り替える
// 無効時は取り込みが ErrRAGDisabled で失敗し、検索は空の結果を返す
func WithEnabled(enabled bool) ServiceOption {
	return func(o *serviceOptions) {
		o.enabled = enabled
	}
}

// WithDefaultTopK は topK 未指定時の件数を設定する
func WithDefaultTopK(k int) ServiceOption {
	return func(o *serviceOptions) {
		o.topK = k
	}
}

// WithContextOptions はコンテキストブロック構築のオプションを設定する
func WithContextOptions(opts ContextOptions) ServiceOption {
	return func(o *serviceOptions) {
		o.contextOpts = opts
	}
}

// WithStageObserver は取り込み段階の遷移通知先を設定する
func WithStageObserver(observer StageObserver) ServiceOption {
	return func(o *serviceOptions) {
		o.observer = observer
	}
}

// NewService は新しい Service を作成する
func NewService(store VectorStore, embedder Embedder, opts ...ServiceOption) *Service {
	options := serviceOptions{
		chunkSize:    chunk.DefaultSize,
		chunkOverlap: chunk.DefaultOverlap,
		enabled:      true,
		topK:         DefaultTopK,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	if options.topK <= 0 {
		options.topK = DefaultTopK
	}

	return &Service{
		store:       store,
		embedder:    embedder,
		chunker:     chunk.New(options.chunkSize, options.chunkOverlap, chunk.WithLogger(options.logger)),
		enabled:     options.enabled,
		topK:        options.topK,
		contextOpts: options.contextOpts,
		observer:    options.observer,
		logger:      options.logger,
	}
}

// Enabled はRAGが有効かどうかを返す
func (s *Service) Enabled() bool {
	return s.enabled
}

// ProcessDocument は本文をチャンク化・ベクトル化してセッションに保存する
func (s *Service) ProcessDocument(ctx context.Context, session *Session, documentID, rawText string) (*IngestResult, error) {
	return s.ingest(ctx, session, StringDocument{ID: documentID, Text: rawText}, false)
}

// IngestDocument は DocumentReader から本文を読み出して取り込む
func (s *Service) IngestDocument(ctx context.Context, session *Session, reader DocumentReader) (*IngestResult, error) {
	return s.ingest(ctx, session, reader, false)
}

// ReplaceDocument はドキュメントの既存レコードを削除してから取り込み直す
// チャンク数が減った場合に古いレコードが残らない
func (s *Service) ReplaceDocument(ctx context.Context, session *Session, reader DocumentReader) (*IngestResult, error) {
	return s.ingest(ctx, session, reader, true)
}

func (s *Service) ingest(ctx context.Context, session *Session, reader DocumentReader, replace bool) (*IngestResult, error) {
	startTime := time.Now()
	documentID := reader.DocumentID()

	tracker := &stageTracker{
		sessionID:  session.ID,
		documentID: documentID,
		current:    StageIdle,
		observer:   s.observer,
	}
	failAt := func(stage Stage, err error) error {
		tracker.fail(err)
		s.logger.Error("ドキュメントの取り込みに失敗しました",
			"session", session.ID,
			"document", documentID,
			"stage", stage,
			"error", err,
		)
		return &OperationError{Op: OperationIngest, Stage: string(stage), DocumentID: documentID, Err: err}
	}

	if !s.enabled {
		return nil, failAt(StageIdle, ErrRAGDisabled)
	}
	if session.ID == "" {
		return nil, failAt(StageIdle, fmt.Errorf("session id is required"))
	}
	if strings.TrimSpace(documentID) == "" {
		return nil, failAt(StageIdle, fmt.Errorf("document id is required"))
	}
	// 取り込みは送信中フラグの対象外。同一セッションへの並行取り込みはストアの書き込みに任せる

	s.logger.Info("ドキュメントの取り込みを開始",
		"session", session.ID,
		"document", documentID,
		"replace", replace,
	)

	// 1. 本文の読み込み
	tracker.enter(StageReading)
	text, err := reader.ReadText(ctx)
	if err != nil {
		return nil, failAt(StageReading, fmt.Errorf("failed to read document: %w", err))
	}

	// 2. チャンク化
	tracker.enter(StageChunking)
	chunks := s.chunker.Split(text)
	s.logger.Debug("チャンク化完了", "document", documentID, "chunks", len(chunks))

	// 3. ベクトル化
	tracker.enter(StageEmbedding)
	var embedded []EmbeddedChunk
	if len(chunks) > 0 {
		vectors, err := s.embedder.GetEmbeddings(ctx, chunk.Texts(chunks))
		if err != nil {
			return nil, failAt(StageEmbedding, err)
		}
		if len(vectors) != len(chunks) {
			return nil, failAt(StageEmbedding, fmt.Errorf("embedding count mismatch: %d chunks, %d vectors: %w",
				len(chunks), len(vectors), ErrMissingEmbedding))
		}
		embedded = make([]EmbeddedChunk, len(chunks))
		for i, c := range chunks {
			embedded[i] = EmbeddedChunk{Text: c.Text, Vector: vectors[i]}
		}
	}

	// 4. 保存
	tracker.enter(StageStoring)
	if replace {
		if err := s.store.DeleteDocument(ctx, session.ID, documentID); err != nil {
			return nil, failAt(StageStoring, err)
		}
	}
	if len(embedded) > 0 {
		if err := s.store.StoreEmbeddings(ctx, session.ID, documentID, embedded); err != nil {
			return nil, failAt(StageStoring, err)
		}
	}

	tracker.enter(StageDone)
	result := &IngestResult{
		SessionID:  session.ID,
		DocumentID: documentID,
		ChunkCount: len(embedded),
		Replaced:   replace,
		Duration:   time.Since(startTime),
	}

	s.logger.Info("ドキュメントの取り込みが完了",
		"session", session.ID,
		"document", documentID,
		"chunks", result.ChunkCount,
		"duration", result.Duration,
	)

	return result, nil
}

// RetrieveContext は質問をベクトル化し、セッション内の類似チャンク上位 topK 件を返す
// 質問間で状態は保持しない。topK <= 0 の場合は既定値を使う
func (s *Service) RetrieveContext(ctx context.Context, session *Session, question string, topK int) ([]ScoredChunk, error) {
	if !s.enabled {
		s.logger.Debug("RAGが無効のためコンテキストを返しません", "session", session.ID)
		return []ScoredChunk{}, nil
	}
	if strings.TrimSpace(question) == "" {
		return []ScoredChunk{}, nil
	}
	if topK <= 0 {
		topK = s.topK
	}

	if !session.TryBegin() {
		return nil, &OperationError{Op: OperationQuestion, Stage: string(StageIdle), Err: ErrRequestInFlight}
	}
	defer session.End()

	return s.retrieve(ctx, session, question, topK)
}

func (s *Service) retrieve(ctx context.Context, session *Session, question string, topK int) ([]ScoredChunk, error) {
	queryVector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		s.logger.Error("質問のベクトル化に失敗しました", "session", session.ID, "error", err)
		return nil, &OperationError{Op: OperationQuestion, Stage: string(StageEmbeddingQuery), Err: err}
	}

	results, err := s.store.FindSimilarChunks(ctx, session.ID, queryVector, topK)
	if err != nil {
		s.logger.Error("類似チャンクの検索に失敗しました", "session", session.ID, "error", err)
		return nil, &OperationError{Op: OperationQuestion, Stage: string(StageRanking), Err: err}
	}

	s.logger.Debug("類似チャンク検索完了", "session", session.ID, "topK", topK, "results", len(results))
	return results, nil
}

// BuildContext は検索とコンテキストブロックの構築をまとめて行う
func (s *Service) BuildContext(ctx context.Context, session *Session, question string, topK int) (*ContextResult, error) {
	chunks, err := s.RetrieveContext(ctx, session, question, topK)
	if err != nil {
		return nil, err
	}

	block, used := BuildContextBlock(chunks, s.contextOpts)
	if used < len(chunks) {
		s.logger.Info("トークン予算によりチャンクを切り捨てました",
			"session", session.ID,
			"retrieved", len(chunks),
			"used", used,
			"budget", s.contextOpts.TokenBudget,
		)
	}

	return &ContextResult{Chunks: chunks, Block: block, UsedChunks: used}, nil
}

// DeleteDocument はセッション内のドキュメントのレコードを削除する
func (s *Service) DeleteDocument(ctx context.Context, session *Session, documentID string) error {
	if err := s.store.DeleteDocument(ctx, session.ID, documentID); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", documentID, err)
	}
	s.logger.Info("ドキュメントを削除しました", "session", session.ID, "document", documentID)
	return nil
}

// ClearSession はセッションの全レコードを削除する
func (s *Service) ClearSession(ctx context.Context, session *Session) error {
	if err := s.store.ClearSessionData(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to clear session %s: %w", session.ID, err)
	}
	s.logger.Info("セッションのデータを削除しました", "session", session.ID)
	return nil
}

// CountChunks はセッションに保存されているレコード数を返す
func (s *Service) CountChunks(ctx context.Context, session *Session) (int, error) {
	n, err := s.store.CountChunks(ctx, session.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
