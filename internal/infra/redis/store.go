// Package redis は Redis のハッシュとセットを使った VectorStore を提供する
package redis

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

const (
	backendName = "redis"

	// DefaultKeyPrefix はキーの既定プレフィックス
	DefaultKeyPrefix = "docrag"
	// DefaultWriteConcurrency は1回の StoreEmbeddings で同時に発行するパイプライン数
	DefaultWriteConcurrency = 8
)

// ConnectionParams は Redis 接続パラメータ
type ConnectionParams struct {
	Addr     string
	Password string
	DB       int
}

// Connect は Redis クライアントを作成し、疎通を確認する
func Connect(ctx context.Context, params ConnectionParams) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     params.Addr,
		Password: params.Password,
		DB:       params.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// Store は Redis による VectorStore 実装
//
// キー構成:
//   - <prefix>:chunk:<id>: ハッシュ（session, document, index, text, vector）
//   - <prefix>:session:<sessionID>: セッションのレコードIDセット
//   - <prefix>:session:<sessionID>:docs: セッションのドキュメントIDセット
//   - <prefix>:doc:<sessionID>:<documentID>: ドキュメントのレコードIDセット
//
// 永続性は Redis サーバーの AOF/RDB 設定に依存する
type Store struct {
	client      *redis.Client
	prefix      string
	concurrency int
	logger      *slog.Logger
}

type storeOptions struct {
	prefix      string
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

// WithKeyPrefix はキーのプレフィックスを設定する
func WithKeyPrefix(prefix string) Option {
	return func(o *storeOptions) {
		o.prefix = prefix
	}
}

// WithWriteConcurrency はレコード書き込みの同時実行数を設定する
func WithWriteConcurrency(n int) Option {
	return func(o *storeOptions) {
		o.concurrency = n
	}
}

// NewStore は新しい Store を作成する
func NewStore(client *redis.Client, opts ...Option) *Store {
	options := storeOptions{
		prefix:      DefaultKeyPrefix,
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
		client:      client,
		prefix:      options.prefix,
		concurrency: options.concurrency,
		logger:      options.logger,
	}
}

// キーに含める ID は keySegment で符号化する。
// 生の ID は ":" を含み得るため、そのまま連結すると別セッションのキーと衝突する
func keySegment(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

func (s *Store) chunkKey(id string) string {
	return s.prefix + ":chunk:" + keySegment(id)
}

func (s *Store) sessionKey(sessionID string) string {
	return s.prefix + ":session:" + keySegment(sessionID) + ":chunks"
}

func (s *Store) sessionDocsKey(sessionID string) string {
	return s.prefix + ":session:" + keySegment(sessionID) + ":docs"
}

func (s *Store) documentKey(sessionID, documentID string) string {
	return s.prefix + ":doc:" + keySegment(sessionID) + ":" + keySegment(documentID)
}

// StoreEmbeddings はレコードごとに独立したパイプライン（非トランザクション）で書き込む
func (s *Store) StoreEmbeddings(ctx context.Context, sessionID, documentID string, chunks []retrieval.EmbeddedChunk) error {
	records := retrieval.NewChunkRecords(sessionID, documentID, chunks)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for _, r := range records {
		eg.Go(func() error {
			return s.put(egCtx, r)
		})
	}
	if err := eg.Wait(); err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "store embeddings", Err: err}
	}
	return nil
}

func (s *Store) put(ctx context.Context, r retrieval.ChunkRecord) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.chunkKey(r.ID), map[string]any{
			"session":  r.SessionID,
			"document": r.DocumentID,
			"index":    r.ChunkIndex,
			"text":     r.Text,
			"vector":   encodeVector(r.Vector),
		})
		pipe.SAdd(ctx, s.sessionKey(r.SessionID), r.ID)
		pipe.SAdd(ctx, s.sessionDocsKey(r.SessionID), r.DocumentID)
		pipe.SAdd(ctx, s.documentKey(r.SessionID, r.DocumentID), r.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write chunk %s: %w", r.ID, err)
	}
	return nil
}

// FindSimilarChunks はセッションのIDセットからレコードを読み出し、全件比較で上位 topK 件を返す
func (s *Store) FindSimilarChunks(ctx context.Context, sessionID string, queryVector []float32, topK int) ([]retrieval.ScoredChunk, error) {
	if len(queryVector) == 0 {
		return []retrieval.ScoredChunk{}, nil
	}

	records, err := s.sessionRecords(ctx, sessionID)
	if err != nil {
		return nil, &retrieval.StorageError{Backend: backendName, Op: "scan session", Err: err}
	}
	return retrieval.RankRecords(queryVector, records, topK)
}

func (s *Store) sessionRecords(ctx context.Context, sessionID string) ([]retrieval.ChunkRecord, error) {
	ids, err := s.client.SMembers(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session members: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.chunkKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read chunks: %w", err)
	}

	records := make([]retrieval.ChunkRecord, 0, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			s.logger.Warn("インデックスに対応するレコードがありません", "session", sessionID, "id", ids[i])
			continue
		}
		r, err := decodeRecord(ids[i], fields)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, nil
}

// ClearSessionData はセッションの全レコードとインデックスを削除する
func (s *Store) ClearSessionData(ctx context.Context, sessionID string) error {
	ids, err := s.client.SMembers(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "clear session", Err: err}
	}
	docs, err := s.client.SMembers(ctx, s.sessionDocsKey(sessionID)).Result()
	if err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "clear session", Err: err}
	}

	keys := make([]string, 0, len(ids)+len(docs)+2)
	for _, id := range ids {
		keys = append(keys, s.chunkKey(id))
	}
	for _, doc := range docs {
		keys = append(keys, s.documentKey(sessionID, doc))
	}
	keys = append(keys, s.sessionKey(sessionID), s.sessionDocsKey(sessionID))

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "clear session", Err: err}
	}

	s.logger.Debug("セッションのレコードを削除しました", "session", sessionID, "deleted", len(ids))
	return nil
}

// DeleteDocument はドキュメントのレコードとインデックスを削除する
func (s *Store) DeleteDocument(ctx context.Context, sessionID, documentID string) error {
	docKey := s.documentKey(sessionID, documentID)
	ids, err := s.client.SMembers(ctx, docKey).Result()
	if err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "delete document", Err: err}
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, s.chunkKey(id))
			pipe.SRem(ctx, s.sessionKey(sessionID), id)
		}
		pipe.Del(ctx, docKey)
		pipe.SRem(ctx, s.sessionDocsKey(sessionID), documentID)
		return nil
	})
	if err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "delete document", Err: err}
	}
	return nil
}

// CountChunks はセッションのIDセットの要素数を返す
func (s *Store) CountChunks(ctx context.Context, sessionID string) (int, error) {
	n, err := s.client.SCard(ctx, s.sessionKey(sessionID)).Result()
	if err != nil {
		return 0, &retrieval.StorageError{Backend: backendName, Op: "count", Err: err}
	}
	return int(n), nil
}

// Close はクライアントを閉じる
func (s *Store) Close() error {
	return s.client.Close()
}

// encodeVector はベクトルをリトルエンディアンの float32 列にエンコードする
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("vector payload length is not a multiple of 4")
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

func decodeRecord(id string, fields map[string]string) (retrieval.ChunkRecord, error) {
	index, err := strconv.Atoi(fields["index"])
	if err != nil {
		return retrieval.ChunkRecord{}, fmt.Errorf("invalid chunk index for %s: %w", id, err)
	}
	vector, err := decodeVector([]byte(fields["vector"]))
	if err != nil {
		return retrieval.ChunkRecord{}, fmt.Errorf("invalid vector for %s: %w", id, err)
	}
	return retrieval.ChunkRecord{
		ID:         id,
		SessionID:  fields["session"],
		DocumentID: fields["document"],
		ChunkIndex: index,
		Text:       fields["text"],
		Vector:     vector,
	}, nil
}

// インターフェース実装の確認
var _ retrieval.VectorStore = (*Store)(nil)
