package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TransactionProvider は pgx のトランザクションをコールバックの内側に閉じ込める
// 参考: https://threedots.tech/post/database-transactions-in-go/
type TransactionProvider struct {
	pool *pgxpool.Pool
}

// NewTransactionProvider は新しいTransactionProviderを作成します
func NewTransactionProvider(pool *pgxpool.Pool) *TransactionProvider {
	return &TransactionProvider{pool: pool}
}

// Adapter は1つのトランザクション上で動くクエリ群
type Adapter struct {
	Chunks *ChunkQueries
	Locks  *DocumentLocks
}

func newAdapter(tx pgx.Tx) *Adapter {
	return &Adapter{
		Chunks: NewChunkQueries(tx),
		Locks:  NewDocumentLocks(tx),
	}
}

// Transact はトランザクションを開始し、fn がエラーを返せばロールバック、成功すればコミットする
func Transact[T any](ctx context.Context, p *TransactionProvider, fn func(*Adapter) (T, error)) (T, error) {
	var zero T
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := fn(newAdapter(tx))
	if err != nil {
		// 呼び出し元の ctx がキャンセル済みでもロールバックは送る
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return zero, fmt.Errorf("tx rollback failed: %v (original err: %w)", rbErr, err)
		}
		return zero, err
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

// TransactDocument はドキュメント単位のアドバイザリロックを取得してから fn を実行する
// ロックはコミットまたはロールバックで解放される
func TransactDocument[T any](ctx context.Context, p *TransactionProvider, sessionID, documentID string, fn func(*Adapter) (T, error)) (T, error) {
	return Transact(ctx, p, func(a *Adapter) (T, error) {
		if err := a.Locks.AcquireDocument(ctx, sessionID, documentID); err != nil {
			var zero T
			return zero, err
		}
		return fn(a)
	})
}
