package bolt

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/retrieval"
	"github.com/jinford/doc-rag/internal/core/retrieval/retrievaltest"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := Open(path, WithLogger(logger), WithWriteConcurrency(4))
	require.NoError(t, err)
	return store
}

func TestStore_Conformance(t *testing.T) {
	retrievaltest.RunVectorStoreSuite(t, func(t *testing.T) retrieval.VectorStore {
		store := openTestStore(t, filepath.Join(t.TempDir(), "rag.db"))
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "rag.db")

	store := openTestStore(t, path)
	require.NoError(t, store.StoreEmbeddings(ctx, "s1", "doc", []retrieval.EmbeddedChunk{
		{Text: "persisted", Vector: []float32{0.5, 0.5}},
	}))
	require.NoError(t, store.Close())

	reopened := openTestStore(t, path)
	defer reopened.Close()

	results, err := reopened.FindSimilarChunks(ctx, "s1", []float32{1, 1}, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "persisted", results[0].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestStore_ClearSessionKeepsPrefixedSessions(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, filepath.Join(t.TempDir(), "rag.db"))
	defer store.Close()

	chunks := []retrieval.EmbeddedChunk{{Text: "x", Vector: []float32{1, 0}}}
	require.NoError(t, store.StoreEmbeddings(ctx, "s", "doc", chunks))
	require.NoError(t, store.StoreEmbeddings(ctx, "s2", "doc", chunks))

	require.NoError(t, store.ClearSessionData(ctx, "s"))

	n, err := store.CountChunks(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// s2 のドキュメントインデックスも残っている
	require.NoError(t, store.DeleteDocument(ctx, "s2", "doc"))
	n, err = store.CountChunks(ctx, "s2")
	require.NoError(t, err)
	assert.Zero(t, n)
}
