package retrieval

import "github.com/jinford/doc-rag/internal/core/ranking"

// RankRecords はレコード群をクエリとのコサイン類似度で順位付けし、上位 topK 件を返す
// 各 VectorStore 実装はセッションのレコードを読み出した後にこれを呼ぶ
func RankRecords(queryVector []float32, records []ChunkRecord, topK int) ([]ScoredChunk, error) {
	if len(queryVector) == 0 {
		return []ScoredChunk{}, nil
	}

	candidates := make([]ranking.Candidate, len(records))
	for i, r := range records {
		candidates[i] = ranking.Candidate{
			Text:       r.Text,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
			Vector:     r.Vector,
		}
	}

	results, err := ranking.TopK(queryVector, candidates, topK)
	if err != nil {
		return nil, err
	}

	scored := make([]ScoredChunk, len(results))
	for i, r := range results {
		scored[i] = ScoredChunk{
			Text:       r.Text,
			Score:      r.Score,
			DocumentID: r.DocumentID,
			ChunkIndex: r.ChunkIndex,
		}
	}
	return scored, nil
}
