package retrieval

import (
	"fmt"
	"strings"
)

// ContextOptions はコンテキストブロック構築のオプション
type ContextOptions struct {
	// TokenBudget はブロック全体のトークン上限（0以下は無制限）
	TokenBudget int
	// Counter はトークン数の計測器（nil の場合は文字数で概算する）
	Counter TokenCounter
}

// BuildContextBlock は上位チャンクを下流のLLM呼び出しに渡すコンテキストブロックへ連結する
// 予算を超えるチャンクはスコアの低い方から切り捨て、残ったチャンク数を返す
func BuildContextBlock(chunks []ScoredChunk, opts ContextOptions) (string, int) {
	if len(chunks) == 0 {
		return "", 0
	}

	counter := opts.Counter
	if counter == nil {
		counter = runeEstimator{}
	}

	var sb strings.Builder
	sb.WriteString("## 参考資料\n")
	sb.WriteString("以下は質問に関連する文書の抜粋です。回答の根拠として使用してください。\n\n")

	used := 0
	for i, c := range chunks {
		section := formatChunk(i+1, c)
		if opts.TokenBudget > 0 && counter.CountTokens(sb.String()+section) > opts.TokenBudget {
			break
		}
		sb.WriteString(section)
		used++
	}

	if used == 0 {
		return "", 0
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", used
}

func formatChunk(n int, c ScoredChunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### [抜粋 %d] %s #%d (関連度スコア: %.3f)\n", n, c.DocumentID, c.ChunkIndex, c.Score)
	sb.WriteString(c.Text)
	sb.WriteString("\n\n")
	return sb.String()
}

// runeEstimator は1トークンを約4文字とみなす概算器
type runeEstimator struct{}

func (runeEstimator) CountTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}
