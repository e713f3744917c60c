package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaStatements は rag_chunks テーブルと二次インデックスを作成する
// ベクトル検索はアプリ側の全件比較で行うため、ANN インデックスは作らない
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS rag_chunks (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		document_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text        TEXT NOT NULL,
		embedding   vector NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_rag_chunks_session ON rag_chunks (session_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rag_chunks_session_document ON rag_chunks (session_id, document_id)`,
}

// Migrate はスキーマを作成する（冪等）
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
