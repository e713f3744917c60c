package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// DocumentLocks はトランザクションスコープのアドバイザリロックを取得する
// ロックはトランザクション終了時に自動的に解放される
type DocumentLocks struct {
	db DBTX
}

// NewDocumentLocks は DocumentLocks を作成する
func NewDocumentLocks(db DBTX) *DocumentLocks {
	return &DocumentLocks{db: db}
}

// LockID は文字列からロックIDを生成する
func LockID(parts ...string) int64 {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0x1f})
	}
	// ハッシュの先頭8バイトを int64 として使用
	return int64(binary.BigEndian.Uint64(h.Sum(nil)[:8]))
}

// AcquireDocument はセッション内ドキュメント単位のロックを取得する
// 同じドキュメントへの並行書き込みはコミットまで待たされる
func (l *DocumentLocks) AcquireDocument(ctx context.Context, sessionID, documentID string) error {
	if _, err := l.db.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", LockID(sessionID, documentID)); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	return nil
}
