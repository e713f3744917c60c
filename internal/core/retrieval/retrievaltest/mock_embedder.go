package retrievaltest

import (
	"context"
	"sync"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

// MockEmbedder はテスト用のモック Embedder です
// VectorFunc 未設定時は HashVector でベクトルを生成します
type MockEmbedder struct {
	mu sync.Mutex

	VectorFunc func(text string) []float32
	Err        error

	Calls [][]string
}

func (m *MockEmbedder) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, append([]string(nil), texts...))
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.GetEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (m *MockEmbedder) vector(text string) []float32 {
	if m.VectorFunc != nil {
		return m.VectorFunc(text)
	}
	return HashVector(text, 8)
}

// HashVector はテキストから決定的な dim 次元のベクトルを生成します
// 同じテキストは常に同じベクトル（コサイン類似度1.0）になります
func HashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	var h uint32 = 2166136261
	for i, r := range text {
		h ^= uint32(r)
		h *= 16777619
		v[i%dim] += float32(h%1000)/1000 + 0.001
	}
	return v
}

var _ retrieval.Embedder = (*MockEmbedder)(nil)
