// Package ranking はコサイン類似度による厳密な全件比較ランキングを提供する
//
// セッションあたりのチャンク数は数件から数百件程度を想定しており、
// 近似最近傍インデックスは使用せず O(n) の総当たりで上位K件を求める。
package ranking

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
)

// DefaultK は k 未指定時に返す件数
const DefaultK = 3

// ErrDimensionMismatch はベクトル長が一致しない場合のエラー
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DimensionMismatchError は比較したベクトルの次元を保持する
// 切り詰めやゼロ埋めは行わず、常にエラーとする
type DimensionMismatchError struct {
	Query  int
	Stored int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: query has %d dimensions, stored vector has %d", e.Query, e.Stored)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// CosineSimilarity は2ベクトルのコサイン類似度を返す
// どちらかのノルムが0の場合は0を返す
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Query: len(a), Stored: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Candidate はランキング対象のベクトル
type Candidate struct {
	Text       string
	DocumentID string
	ChunkIndex int
	Vector     []float32
}

// Result はランキング結果1件
type Result struct {
	Text       string
	DocumentID string
	ChunkIndex int
	Score      float64
}

// TopK は全候補とクエリの類似度を計算し、スコア降順で上位 k 件を返す
// 同スコアは (DocumentID, ChunkIndex) 昇順で並べる。k <= 0 の場合は DefaultK を使う
func TopK(query []float32, candidates []Candidate, k int) ([]Result, error) {
	if k <= 0 {
		k = DefaultK
	}
	if len(query) == 0 || len(candidates) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		score, err := CosineSimilarity(query, c.Vector)
		if err != nil {
			return nil, fmt.Errorf("document %s chunk %d: %w", c.DocumentID, c.ChunkIndex, err)
		}
		results = append(results, Result{
			Text:       c.Text,
			DocumentID: c.DocumentID,
			ChunkIndex: c.ChunkIndex,
			Score:      score,
		})
	}

	Sort(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Sort は結果をスコア降順（同点は DocumentID, ChunkIndex 昇順）に並べ替える
func Sort(results []Result) {
	slices.SortStableFunc(results, func(a, b Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		if c := strings.Compare(a.DocumentID, b.DocumentID); c != 0 {
			return c
		}
		return a.ChunkIndex - b.ChunkIndex
	})
}
