package retrievaltest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

// StoreFactory はテストごとに空の VectorStore を返す
type StoreFactory func(t *testing.T) retrieval.VectorStore

// RunVectorStoreSuite は全バックエンド共通の VectorStore 振る舞いを検証する
func RunVectorStoreSuite(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("類似度降順で返す", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.StoreEmbeddings(ctx, "s1", "doc", []retrieval.EmbeddedChunk{
			{Text: "orthogonal", Vector: []float32{0, 1, 0}},
			{Text: "exact", Vector: []float32{1, 0, 0}},
			{Text: "diagonal", Vector: []float32{1, 1, 0}},
			{Text: "opposite", Vector: []float32{-1, 0, 0}},
		}))

		results, err := store.FindSimilarChunks(ctx, "s1", []float32{1, 0, 0}, 3)
		require.NoError(t, err)
		require.Len(t, results, 3)

		assert.Equal(t, "exact", results[0].Text)
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
		assert.Equal(t, "doc", results[0].DocumentID)
		assert.Equal(t, 1, results[0].ChunkIndex)
		assert.Equal(t, "diagonal", results[1].Text)
		assert.InDelta(t, 0.7071, results[1].Score, 1e-3)
		assert.Equal(t, "orthogonal", results[2].Text)
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
	})

	t.Run("topKが0なら既定件数", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.StoreEmbeddings(ctx, "s1", "doc", fixtureChunks(5)))

		results, err := store.FindSimilarChunks(ctx, "s1", []float32{1, 0, 0}, 0)
		require.NoError(t, err)
		assert.Len(t, results, retrieval.DefaultTopK)
	})

	t.Run("件数がtopK未満", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.StoreEmbeddings(ctx, "s1", "doc", fixtureChunks(2)))

		results, err := store.FindSimilarChunks(ctx, "s1", []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("空のセッションと空のクエリ", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		results, err := store.FindSimilarChunks(ctx, "missing", []float32{1, 0, 0}, 3)
		require.NoError(t, err)
		assert.Empty(t, results)

		require.NoError(t, store.StoreEmbeddings(ctx, "s1", "doc", fixtureChunks(2)))
		results, err = store.FindSimilarChunks(ctx, "s1", nil, 3)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("セッション分離", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.StoreEmbeddings(ctx, "a", "doc", []retrieval.EmbeddedChunk{
			{Text: "from a", Vector: []float32{0, 1, 0}},
		}))
		require.NoError(t, store.StoreEmbeddings(ctx, "b", "doc", []retrieval.EmbeddedChunk{
			{Text: "from b", Vector: []float32{1, 0, 0}},
		}))

		results, err := store.FindSimilarChunks(ctx, "a", []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "from a", results[0].Text)
	})

	t.Run("区切り文字を含むIDでもセッションを越えない", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		kept := []retrieval.EmbeddedChunk{{Text: "kept", Vector: []float32{1, 0, 0}}}

		// 連結すると同じ文字列になるID、他IDの接頭辞になるIDを並べる
		pairs := []struct {
			keep    [2]string
			removed [2]string
		}{
			{keep: [2]string{"a:b", "c"}, removed: [2]string{"a", "b:c"}},
			{keep: [2]string{"x:docs", "doc"}, removed: [2]string{"x", "doc"}},
			{keep: [2]string{"p\x1fq", "r"}, removed: [2]string{"p", "q\x1fr"}},
			{keep: [2]string{"s:chunks", "doc"}, removed: [2]string{"s", "chunks"}},
		}
		for _, p := range pairs {
			require.NoError(t, store.StoreEmbeddings(ctx, p.keep[0], p.keep[1], kept))
			require.NoError(t, store.StoreEmbeddings(ctx, p.removed[0], p.removed[1], kept))
		}

		for _, p := range pairs {
			require.NoError(t, store.DeleteDocument(ctx, p.removed[0], p.removed[1]))
			require.NoError(t, store.ClearSessionData(ctx, p.removed[0]))
		}

		for _, p := range pairs {
			n, err := store.CountChunks(ctx, p.keep[0])
			require.NoError(t, err)
			assert.Equal(t, 1, n, p.keep[0])

			results, err := store.FindSimilarChunks(ctx, p.keep[0], []float32{1, 0, 0}, 3)
			require.NoError(t, err)
			require.Len(t, results, 1, p.keep[0])
			assert.Equal(t, p.keep[1], results[0].DocumentID)

			n, err = store.CountChunks(ctx, p.removed[0])
			require.NoError(t, err)
			assert.Zero(t, n, p.removed[0])
		}
	})

	t.Run("再取り込みは上書き", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.StoreEmbeddings(ctx, "s1", "doc", fixtureChunks(3)))
		require.NoError(t, store.StoreEmbeddings(ctx, "s1", "doc", fixtureChunks(3)))

		n, err := store.CountChunks(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		updated := fixtureChunks(3)
		updated[0].Text = "rewritten"
		require.NoError(t, store.StoreEmbeddings(ctx, "s1", "doc", updated))

		results, err := store.FindSimilarChunks(ctx, "s1", updated[0].Vector, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "rewritten", results[0].Text)
	})

	t.Run("セッション削除は他セッションに影響しない", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.StoreEmbeddings(ctx, "a", "doc1", fixtureChunks(3)))
		require.NoError(t, store.StoreEmbeddings(ctx, "a", "doc2", fixtureChunks(2)))
		require.NoError(t, store.StoreEmbeddings(ctx, "b", "doc1", fixtureChunks(2)))

		require.NoError(t, store.ClearSessionData(ctx, "a"))

		n, err := store.CountChunks(ctx, "a")
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = store.CountChunks(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		results, err := store.FindSimilarChunks(ctx, "a", []float32{1, 0, 0}, 3)
		require.NoError(t, err)
		assert.Empty(t, results)

		// 存在しないセッションの削除はエラーにならない
		require.NoError(t, store.ClearSessionData(ctx, "missing"))
	})

	t.Run("ドキュメント削除", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		require.NoError(t, store.StoreEmbeddings(ctx, "s1", "keep", fixtureChunks(2)))
		require.NoError(t, store.StoreEmbeddings(ctx, "s1", "drop", fixtureChunks(3)))

		require.NoError(t, store.DeleteDocument(ctx, "s1", "drop"))

		n, err := store.CountChunks(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		results, err := store.FindSimilarChunks(ctx, "s1", []float32{1, 0, 0}, 10)
		require.NoError(t, err)
		for _, r := range results {
			assert.Equal(t, "keep", r.DocumentID)
		}
	})

	t.Run("次元不一致はエラー", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)
		require.NoError(t, store.StoreEmbeddings(ctx, "s1", "doc", fixtureChunks(2)))

		_, err := store.FindSimilarChunks(ctx, "s1", []float32{1, 0}, 3)
		assert.ErrorIs(t, err, retrieval.ErrDimensionMismatch)
	})

	t.Run("並行書き込み", func(t *testing.T) {
		ctx := context.Background()
		store := newStore(t)

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for d := 0; d < 4; d++ {
			wg.Add(1)
			go func(d int) {
				defer wg.Done()
				errs <- store.StoreEmbeddings(ctx, "s1", fmt.Sprintf("doc-%d", d), fixtureChunks(5))
			}(d)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		n, err := store.CountChunks(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 20, n)
	})
}

// fixtureChunks は3次元の単位ベクトル寄りのチャンクを n 件生成する
func fixtureChunks(n int) []retrieval.EmbeddedChunk {
	chunks := make([]retrieval.EmbeddedChunk, n)
	for i := range chunks {
		chunks[i] = retrieval.EmbeddedChunk{
			Text:   fmt.Sprintf("chunk %d", i),
			Vector: []float32{1, float32(i) * 0.5, float32(i%2) * 0.25},
		}
	}
	return chunks
}
