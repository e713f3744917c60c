package chunk

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		size      int
		overlap   int
		wantCount int
	}{
		{name: "空文字列", text: "", size: 500, overlap: 50, wantCount: 0},
		{name: "サイズ未満", text: strings.Repeat("a", 120), size: 500, overlap: 50, wantCount: 1},
		{name: "ちょうどサイズ", text: strings.Repeat("a", 500), size: 500, overlap: 50, wantCount: 1},
		{name: "1200文字は3チャンク", text: strings.Repeat("a", 1200), size: 500, overlap: 50, wantCount: 3},
		{name: "オーバーラップなし", text: strings.Repeat("a", 1000), size: 250, overlap: 0, wantCount: 4},
		{name: "マルチバイト", text: strings.Repeat("あ", 30), size: 10, overlap: 2, wantCount: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split(tt.text, tt.size, tt.overlap)
			require.Len(t, chunks, tt.wantCount)
			for i, c := range chunks {
				assert.Equal(t, i, c.Index)
				assert.NotEmpty(t, c.Text)
				assert.LessOrEqual(t, c.End-c.Start, tt.size)
			}
		})
	}
}

func TestSplit_Boundaries(t *testing.T) {
	text := strings.Repeat("0123456789", 120)
	chunks := Split(text, 500, 50)
	require.Len(t, chunks, 3)

	assert.Equal(t, [2]int{0, 500}, [2]int{chunks[0].Start, chunks[0].End})
	assert.Equal(t, [2]int{450, 950}, [2]int{chunks[1].Start, chunks[1].End})
	assert.Equal(t, [2]int{900, 1200}, [2]int{chunks[2].Start, chunks[2].End})
	assert.Equal(t, text[450:950], chunks[1].Text)
}

func TestSplit_Coverage(t *testing.T) {
	text := strings.Repeat("こんにちは世界。", 97)
	runes := []rune(text)

	chunks := Split(text, 37, 7)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(runes), chunks[len(chunks)-1].End)

	// 隣接チャンクは overlap 分だけ重なり、内容は元テキストと一致する
	var rebuilt []rune
	for i, c := range chunks {
		assert.Equal(t, string(runes[c.Start:c.End]), c.Text)
		if i == 0 {
			rebuilt = append(rebuilt, []rune(c.Text)...)
			continue
		}
		prev := chunks[i-1]
		assert.Equal(t, 7, prev.End-c.Start)
		rebuilt = append(rebuilt, []rune(c.Text)[prev.End-c.Start:]...)
	}
	assert.Equal(t, text, string(rebuilt))
}

func TestSplit_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	first := Split(text, 100, 20)
	second := Split(text, 100, 20)
	assert.Equal(t, first, second)
}

func TestNew_ClampsOverlap(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	c := New(100, 150, WithLogger(logger))
	assert.Equal(t, 100, c.Size())
	assert.Equal(t, 20, c.Overlap())
	assert.Contains(t, buf.String(), "clamped=20")

	chunks := c.Split(strings.Repeat("x", 250))
	require.Len(t, chunks, 3)
	assert.Equal(t, 80, chunks[1].Start)
}

func TestNew_InvalidParams(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	c := New(0, -3, WithLogger(logger))
	assert.Equal(t, DefaultSize, c.Size())
	assert.Equal(t, 0, c.Overlap())
}

func TestTexts(t *testing.T) {
	chunks := Split("abcdefghij", 4, 1)
	assert.Equal(t, []string{"abcd", "defg", "ghij"}, Texts(chunks))
}
