package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type fixedCounter struct{ perRune int }

func (c fixedCounter) CountTokens(text string) int { return len([]rune(text)) * c.perRune }

func TestBuildContextBlock(t *testing.T) {
	chunks := []ScoredChunk{
		{Text: strings.Repeat("a", 100), Score: 0.9, DocumentID: "doc", ChunkIndex: 0},
		{Text: strings.Repeat("b", 100), Score: 0.8, DocumentID: "doc", ChunkIndex: 1},
		{Text: strings.Repeat("c", 100), Score: 0.7, DocumentID: "doc", ChunkIndex: 2},
	}

	tests := []struct {
		name     string
		opts     ContextOptions
		wantUsed int
	}{
		{name: "予算なし", opts: ContextOptions{}, wantUsed: 3},
		{name: "予算で切り捨て", opts: ContextOptions{TokenBudget: 350, Counter: fixedCounter{perRune: 1}}, wantUsed: 2},
		{name: "予算が小さすぎる", opts: ContextOptions{TokenBudget: 10, Counter: fixedCounter{perRune: 1}}, wantUsed: 0},
		{name: "概算カウンタ", opts: ContextOptions{TokenBudget: 100}, wantUsed: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, used := BuildContextBlock(chunks, tt.opts)
			assert.Equal(t, tt.wantUsed, used)
			if tt.wantUsed == 0 {
				assert.Empty(t, block)
				return
			}
			assert.True(t, strings.HasPrefix(block, "## 参考資料"))
			assert.Contains(t, block, chunks[0].Text)
			assert.Equal(t, tt.wantUsed, strings.Count(block, "### [抜粋"))
		})
	}
}

func TestBuildContextBlock_Empty(t *testing.T) {
	block, used := BuildContextBlock(nil, ContextOptions{})
	assert.Empty(t, block)
	assert.Zero(t, used)
}
