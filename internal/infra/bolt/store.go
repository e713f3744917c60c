// Package bolt は bbolt ファイルを使った組み込み VectorStore を提供する
package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

const backendName = "bolt"

var (
	bucketChunks    = []byte("chunks")
	bucketSessions  = []byte("sessions")
	bucketDocuments = []byte("documents")
)

// DefaultWriteConcurrency は1回の StoreEmbeddings で同時に発行する書き込み数
const DefaultWriteConcurrency = 8

// Store は bbolt による VectorStore 実装
//
// バケット構成:
//   - chunks: レコードID → ChunkRecord(JSON)
//   - sessions/<sessionID>: レコードID → 空（セッションの二次インデックス）
//   - documents/<len(sessionID)><sessionID><documentID>: レコードID → 空（ドキュメントの二次インデックス）
type Store struct {
	db          *bbolt.DB
	concurrency int
	logger      *slog.Logger
}

type storeOptions struct {
	concurrency int
	timeout     time.Duration
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

// WithWriteConcurrency はレコード書き込みの同時実行数を設定する
func WithWriteConcurrency(n int) Option {
	return func(o *storeOptions) {
		o.concurrency = n
	}
}

// WithOpenTimeout はファイルロック取得のタイムアウトを設定する
func WithOpenTimeout(d time.Duration) Option {
	return func(o *storeOptions) {
		o.timeout = d
	}
}

// Open は path の bbolt ファイルを開き（なければ作成し）、必要なバケットを用意する
func Open(path string, opts ...Option) (*Store, error) {
	options := storeOptions{
		concurrency: DefaultWriteConcurrency,
		timeout:     5 * time.Second,
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

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &retrieval.StorageError{Backend: backendName, Op: "open", Err: err}
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: options.timeout})
	if err != nil {
		return nil, &retrieval.StorageError{Backend: backendName, Op: "open", Err: err}
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChunks, bucketSessions, bucketDocuments} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, &retrieval.StorageError{Backend: backendName, Op: "init buckets", Err: err}
	}

	options.logger.Debug("bboltストアを開きました", "path", path)

	return &Store{db: db, concurrency: options.concurrency, logger: options.logger}, nil
}

// documentKey はセッションIDの長さを先頭に付けたキーを返す
// 長さ付きなのでセッションIDがどんなバイトを含んでも別セッションのキーと一致しない
func documentKey(sessionID, documentID string) []byte {
	key := binary.AppendUvarint(nil, uint64(len(sessionID)))
	key = append(key, sessionID...)
	return append(key, documentID...)
}

// StoreEmbeddings はチャンクごとに独立した書き込みを行う
// 各書き込みは db.Batch で他の同時書き込みとまとめてコミットされ、失敗した書き込み以前のものは残る
func (s *Store) StoreEmbeddings(ctx context.Context, sessionID, documentID string, chunks []retrieval.EmbeddedChunk) error {
	records := retrieval.NewChunkRecords(sessionID, documentID, chunks)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.concurrency)
	for _, record := range records {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return s.put(record)
		})
	}

	if err := eg.Wait(); err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "store embeddings", Err: err}
	}
	return nil
}

func (s *Store) put(record retrieval.ChunkRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", record.ID, err)
	}
	id := []byte(record.ID)

	return s.db.Batch(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketChunks).Put(id, data); err != nil {
			return err
		}
		sess, err := tx.Bucket(bucketSessions).CreateBucketIfNotExists([]byte(record.SessionID))
		if err != nil {
			return err
		}
		if err := sess.Put(id, nil); err != nil {
			return err
		}
		doc, err := tx.Bucket(bucketDocuments).CreateBucketIfNotExists(documentKey(record.SessionID, record.DocumentID))
		if err != nil {
			return err
		}
		return doc.Put(id, nil)
	})
}

// FindSimilarChunks はセッションインデックス経由でレコードを読み出し、全件比較で上位 topK 件を返す
func (s *Store) FindSimilarChunks(ctx context.Context, sessionID string, queryVector []float32, topK int) ([]retrieval.ScoredChunk, error) {
	if len(queryVector) == 0 {
		return []retrieval.ScoredChunk{}, nil
	}

	records, err := s.sessionRecords(sessionID)
	if err != nil {
		return nil, &retrieval.StorageError{Backend: backendName, Op: "scan session", Err: err}
	}
	return retrieval.RankRecords(queryVector, records, topK)
}

func (s *Store) sessionRecords(sessionID string) ([]retrieval.ChunkRecord, error) {
	var records []retrieval.ChunkRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		sess := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if sess == nil {
			return nil
		}
		chunks := tx.Bucket(bucketChunks)
		return sess.ForEach(func(id, _ []byte) error {
			data := chunks.Get(id)
			if data == nil {
				s.logger.Warn("インデックスに対応するレコードがありません", "session", sessionID, "id", string(id))
				return nil
			}
			var r retrieval.ChunkRecord
			if err := json.Unmarshal(data, &r); err != nil {
				return fmt.Errorf("failed to unmarshal record %s: %w", id, err)
			}
			records = append(records, r)
			return nil
		})
	})
	return records, err
}

// ClearSessionData はセッションの全レコードとインデックスを削除する
func (s *Store) ClearSessionData(ctx context.Context, sessionID string) error {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		sessions := tx.Bucket(bucketSessions)
		sess := sessions.Bucket([]byte(sessionID))
		if sess == nil {
			return nil
		}

		chunks := tx.Bucket(bucketChunks)
		c := sess.Cursor()
		for id, _ := c.First(); id != nil; id, _ = c.Next() {
			if err := chunks.Delete(id); err != nil {
				return err
			}
			deleted++
		}
		if err := sessions.DeleteBucket([]byte(sessionID)); err != nil {
			return err
		}

		// ドキュメントインデックスは documentKey(sessionID, "") で始まるバケット
		docs := tx.Bucket(bucketDocuments)
		prefix := documentKey(sessionID, "")
		var names [][]byte
		dc := docs.Cursor()
		for k, _ := dc.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = dc.Next() {
			names = append(names, append([]byte(nil), k...))
		}
		for _, name := range names {
			if err := docs.DeleteBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "clear session", Err: err}
	}

	s.logger.Debug("セッションのレコードを削除しました", "session", sessionID, "deleted", deleted)
	return nil
}

// DeleteDocument はドキュメントのレコードとインデックスを削除する
func (s *Store) DeleteDocument(ctx context.Context, sessionID, documentID string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		docs := tx.Bucket(bucketDocuments)
		key := documentKey(sessionID, documentID)
		doc := docs.Bucket(key)
		if doc == nil {
			return nil
		}

		chunks := tx.Bucket(bucketChunks)
		sess := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		c := doc.Cursor()
		for id, _ := c.First(); id != nil; id, _ = c.Next() {
			if err := chunks.Delete(id); err != nil {
				return err
			}
			if sess != nil {
				if err := sess.Delete(id); err != nil {
					return err
				}
			}
		}
		return docs.DeleteBucket(key)
	})
	if err != nil {
		return &retrieval.StorageError{Backend: backendName, Op: "delete document", Err: err}
	}
	return nil
}

// CountChunks はセッションインデックスのキー数を返す
func (s *Store) CountChunks(ctx context.Context, sessionID string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		sess := tx.Bucket(bucketSessions).Bucket([]byte(sessionID))
		if sess == nil {
			return nil
		}
		return sess.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return 0, &retrieval.StorageError{Backend: backendName, Op: "count", Err: err}
	}
	return n, nil
}

// Close はファイルを閉じる
func (s *Store) Close() error {
	return s.db.Close()
}

// インターフェース実装の確認
var _ retrieval.VectorStore = (*Store)(nil)
