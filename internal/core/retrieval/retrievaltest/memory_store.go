// Package retrievaltest は retrieval パッケージのテスト支援（インメモリストア、モック、共通テストスイート）を提供する
package retrievaltest

import (
	"context"
	"sync"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

// MemoryStore はテスト用のインメモリ VectorStore です
// 任意の操作に失敗を注入できます
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]retrieval.ChunkRecord

	StoreErr  error
	FindErr   error
	DeleteErr error
	ClearErr  error

	StoreCalls int
}

// NewMemoryStore は空の MemoryStore を作成します
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]retrieval.ChunkRecord)}
}

func (m *MemoryStore) StoreEmbeddings(ctx context.Context, sessionID, documentID string, chunks []retrieval.EmbeddedChunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreCalls++
	if m.StoreErr != nil {
		return m.StoreErr
	}
	for _, r := range retrieval.NewChunkRecords(sessionID, documentID, chunks) {
		m.records[r.ID] = r
	}
	return nil
}

func (m *MemoryStore) FindSimilarChunks(ctx context.Context, sessionID string, queryVector []float32, topK int) ([]retrieval.ScoredChunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	var records []retrieval.ChunkRecord
	for _, r := range m.records {
		if r.SessionID == sessionID {
			records = append(records, r)
		}
	}
	return retrieval.RankRecords(queryVector, records, topK)
}

func (m *MemoryStore) ClearSessionData(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClearErr != nil {
		return m.ClearErr
	}
	for id, r := range m.records {
		if r.SessionID == sessionID {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, sessionID, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	for id, r := range m.records {
		if r.SessionID == sessionID && r.DocumentID == documentID {
			delete(m.records, id)
		}
	}
	return nil
}

func (m *MemoryStore) CountChunks(ctx context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.SessionID == sessionID {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }

// Records はセッションのレコードを返します
func (m *MemoryStore) Records(sessionID string) []retrieval.ChunkRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []retrieval.ChunkRecord
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	return out
}

var _ retrieval.VectorStore = (*MemoryStore)(nil)
