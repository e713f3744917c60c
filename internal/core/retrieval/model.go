package retrieval

import (
	"context"
	"encoding/binary"
	"strconv"

	"github.com/google/uuid"
)

// chunkNamespace は ChunkRecord ID 生成用の UUIDv5 名前空間
var chunkNamespace = uuid.MustParse("6f1c2d1e-8b7a-4c55-9d0e-3a4b5c6d7e8f")

// DefaultTopK は類似検索で返す件数のデフォルト値
const DefaultTopK = 3

// ChunkRecord は永続化の単位となるチャンクレコードを表す
// ID は (SessionID, DocumentID, ChunkIndex) から決定的に導出される
type ChunkRecord struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	DocumentID string    `json:"documentId"`
	ChunkIndex int       `json:"chunkIndex"`
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
}

// EmbeddedChunk はベクトル化済みのチャンク（保存前）を表す
type EmbeddedChunk struct {
	Text   string
	Vector []float32
}

// ScoredChunk は類似検索の結果1件を表す
type ScoredChunk struct {
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	DocumentID string  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
}

// ChunkID は (sessionID, documentID, chunkIndex) から決定的なレコードIDを生成する
// 同じ位置への再取り込みは同じIDになり、上書き（upsert）となる
func ChunkID(sessionID, documentID string, chunkIndex int) string {
	// 各フィールドに長さを付けて連結する。ID がどんな文字を含んでも境界がずれない
	name := make([]byte, 0, len(sessionID)+len(documentID)+24)
	for _, field := range []string{sessionID, documentID, strconv.Itoa(chunkIndex)} {
		name = binary.AppendUvarint(name, uint64(len(field)))
		name = append(name, field...)
	}
	return uuid.NewSHA1(chunkNamespace, name).String()
}

// NewChunkRecords は EmbeddedChunk 列を ChunkRecord 列へ変換する
// ChunkIndex は入力列内の位置
func NewChunkRecords(sessionID, documentID string, chunks []EmbeddedChunk) []ChunkRecord {
	records := make([]ChunkRecord, 0, len(chunks))
	for i, c := range chunks {
		records = append(records, ChunkRecord{
			ID:         ChunkID(sessionID, documentID, i),
			SessionID:  sessionID,
			DocumentID: documentID,
			ChunkIndex: i,
			Text:       c.Text,
			Vector:     c.Vector,
		})
	}
	return records
}

// VectorStore はチャンクレコードの永続化とセッション単位の類似検索を提供するインターフェース
// 実装: internal/infra/bolt, internal/infra/postgres, internal/infra/redis
type VectorStore interface {
	// StoreEmbeddings はチャンクごとに独立したレコードを書き込む（バッチ全体のアトミック性はない）
	StoreEmbeddings(ctx context.Context, sessionID, documentID string, chunks []EmbeddedChunk) error

	// FindSimilarChunks はセッション内の全レコードとのコサイン類似度を計算し、上位 topK 件を降順で返す
	FindSimilarChunks(ctx context.Context, sessionID string, queryVector []float32, topK int) ([]ScoredChunk, error)

	// ClearSessionData はセッションの全レコードを削除する
	ClearSessionData(ctx context.Context, sessionID string) error

	// DeleteDocument はセッション内の指定ドキュメントのレコードを削除する
	DeleteDocument(ctx context.Context, sessionID, documentID string) error

	// CountChunks はセッションのレコード数を返す
	CountChunks(ctx context.Context, sessionID string) (int, error)

	// Close はストアが保持するリソースを解放する
	Close() error
}
