package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

// DBTX はプールとトランザクションの共通インターフェース
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ChunkQueries は rag_chunks テーブルへのクエリを提供する
type ChunkQueries struct {
	db DBTX
}

// NewChunkQueries は新しい ChunkQueries を作成する
func NewChunkQueries(db DBTX) *ChunkQueries {
	return &ChunkQueries{db: db}
}

const upsertChunk = `
INSERT INTO rag_chunks (id, session_id, document_id, chunk_index, text, embedding)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	text = EXCLUDED.text,
	embedding = EXCLUDED.embedding,
	created_at = now()`

// Upsert はレコードを挿入または上書きする
func (q *ChunkQueries) Upsert(ctx context.Context, r retrieval.ChunkRecord) error {
	_, err := q.db.Exec(ctx, upsertChunk,
		r.ID, r.SessionID, r.DocumentID, r.ChunkIndex, r.Text, pgvector.NewVector(r.Vector))
	if err != nil {
		return fmt.Errorf("failed to upsert chunk %s: %w", r.ID, err)
	}
	return nil
}

const listBySession = `
SELECT id, document_id, chunk_index, text, embedding
FROM rag_chunks
WHERE session_id = $1`

// ListBySession はセッションの全レコードを返す（session_id インデックスを使用）
func (q *ChunkQueries) ListBySession(ctx context.Context, sessionID string) ([]retrieval.ChunkRecord, error) {
	rows, err := q.db.Query(ctx, listBySession, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query session chunks: %w", err)
	}
	defer rows.Close()

	var records []retrieval.ChunkRecord
	for rows.Next() {
		var (
			r         retrieval.ChunkRecord
			embedding pgvector.Vector
		)
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.ChunkIndex, &r.Text, &embedding); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		r.SessionID = sessionID
		r.Vector = embedding.Slice()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chunks: %w", err)
	}
	return records, nil
}

// DeleteBySession はセッションの全レコードを削除し、削除件数を返す
func (q *ChunkQueries) DeleteBySession(ctx context.Context, sessionID string) (int64, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM rag_chunks WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete session chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteByDocument はドキュメントのレコードを削除し、削除件数を返す
func (q *ChunkQueries) DeleteByDocument(ctx context.Context, sessionID, documentID string) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`DELETE FROM rag_chunks WHERE session_id = $1 AND document_id = $2`, sessionID, documentID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete document chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountBySession はセッションのレコード数を返す
func (q *ChunkQueries) CountBySession(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, `SELECT count(*) FROM rag_chunks WHERE session_id = $1`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return n, nil
}
