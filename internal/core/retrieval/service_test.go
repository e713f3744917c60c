package retrieval_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/retrieval"
	"github.com/jinford/doc-rag/internal/core/retrieval/retrievaltest"
)

func newTestService(store retrieval.VectorStore, embedder retrieval.Embedder, opts ...retrieval.ServiceOption) *retrieval.Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]retrieval.ServiceOption{retrieval.WithLogger(logger)}, opts...)
	return retrieval.NewService(store, embedder, opts...)
}

// sampleText は1200文字の決定的なテキストを生成する
func sampleText() string {
	var sb strings.Builder
	for i := 0; sb.Len() < 1200; i++ {
		sb.WriteByte(byte('a' + i%26))
	}
	return sb.String()[:1200]
}

func TestProcessDocument_EndToEnd(t *testing.T) {
	ctx := context.Background()
	store := retrievaltest.NewMemoryStore()
	embedder := &retrievaltest.MockEmbedder{}
	svc := newTestService(store, embedder)
	session := retrieval.NewSession("session-1")

	text := sampleText()
	result, err := svc.ProcessDocument(ctx, session, "paper.pdf", text)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ChunkCount)
	assert.False(t, session.InFlight())

	n, err := svc.CountChunks(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// 2番目のチャンクと同じ文字列で検索すると、そのチャンクがスコア1.0で先頭に来る
	second := text[450:950]
	results, err := svc.RetrieveContext(ctx, session, second, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, second, results[0].Text)
	assert.Equal(t, 1, results[0].ChunkIndex)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
}

func TestProcessDocument_EmptyText(t *testing.T) {
	store := retrievaltest.NewMemoryStore()
	embedder := &retrievaltest.MockEmbedder{}
	svc := newTestService(store, embedder)

	result, err := svc.ProcessDocument(context.Background(), retrieval.NewSession("s"), "empty.txt", "")
	require.NoError(t, err)
	assert.Zero(t, result.ChunkCount)
	assert.Empty(t, embedder.Calls)
	assert.Zero(t, store.StoreCalls)
}

func TestProcessDocument_StageTransitions(t *testing.T) {
	var stages []retrieval.Stage
	observer := func(tr retrieval.StageTransition) { stages = append(stages, tr.To) }

	t.Run("成功", func(t *testing.T) {
		stages = nil
		svc := newTestService(retrievaltest.NewMemoryStore(), &retrievaltest.MockEmbedder{}, retrieval.WithStageObserver(observer))
		_, err := svc.ProcessDocument(context.Background(), retrieval.NewSession("s"), "doc", "hello world")
		require.NoError(t, err)
		assert.Equal(t, []retrieval.Stage{
			retrieval.StageReading,
			retrieval.StageChunking,
			retrieval.StageEmbedding,
			retrieval.StageStoring,
			retrieval.StageDone,
		}, stages)
	})

	t.Run("Embedding失敗", func(t *testing.T) {
		stages = nil
		embedder := &retrievaltest.MockEmbedder{Err: &retrieval.ProviderError{StatusCode: 500, Model: "m"}}
		store := retrievaltest.NewMemoryStore()
		svc := newTestService(store, embedder, retrieval.WithStageObserver(observer))

		_, err := svc.ProcessDocument(context.Background(), retrieval.NewSession("s"), "doc", "hello world")
		require.Error(t, err)
		assert.Equal(t, retrieval.StageFailed, stages[len(stages)-1])
		assert.Equal(t, retrieval.StageEmbedding, stages[len(stages)-2])
		assert.Zero(t, store.StoreCalls)

		var opErr *retrieval.OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, string(retrieval.StageEmbedding), opErr.Stage)
		assert.Equal(t, "文書の取り込みに失敗しました", opErr.UserMessage())

		var providerErr *retrieval.ProviderError
		assert.ErrorAs(t, err, &providerErr)
	})
}

func TestProcessDocument_StorageFailure(t *testing.T) {
	store := retrievaltest.NewMemoryStore()
	store.StoreErr = &retrieval.StorageError{Backend: "memory", Op: "put", Err: errors.New("disk full")}
	svc := newTestService(store, &retrievaltest.MockEmbedder{})

	_, err := svc.ProcessDocument(context.Background(), retrieval.NewSession("s"), "doc", "some text")
	var storageErr *retrieval.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "文書の取り込みに失敗しました", retrieval.UserMessage(err))
}

func TestProcessDocument_Disabled(t *testing.T) {
	embedder := &retrievaltest.MockEmbedder{}
	svc := newTestService(retrievaltest.NewMemoryStore(), embedder, retrieval.WithEnabled(false))
	session := retrieval.NewSession("s")

	_, err := svc.ProcessDocument(context.Background(), session, "doc", "text")
	assert.ErrorIs(t, err, retrieval.ErrRAGDisabled)

	results, err := svc.RetrieveContext(context.Background(), session, "question", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, embedder.Calls)
}

func TestProcessDocument_Validation(t *testing.T) {
	svc := newTestService(retrievaltest.NewMemoryStore(), &retrievaltest.MockEmbedder{})

	_, err := svc.ProcessDocument(context.Background(), retrieval.NewSession(""), "doc", "text")
	assert.Error(t, err)

	_, err = svc.ProcessDocument(context.Background(), retrieval.NewSession("s"), " ", "text")
	assert.Error(t, err)
}

// blockingEmbedder は release が閉じられるまで質問のベクトル化に応答しない
// 文書のベクトル化（GetEmbeddings）はブロックしない
type blockingEmbedder struct {
	retrievaltest.MockEmbedder
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.MockEmbedder.Embed(ctx, text)
}

func TestSession_RequestInFlight(t *testing.T) {
	ctx := context.Background()
	embedder := &blockingEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	store := retrievaltest.NewMemoryStore()
	svc := newTestService(store, embedder)
	session := retrieval.NewSession("s")

	done := make(chan error, 1)
	go func() {
		_, err := svc.RetrieveContext(ctx, session, "first question", 3)
		done <- err
	}()
	<-embedder.started
	assert.True(t, session.InFlight())

	// 送信中の質問があると次の質問は拒否される
	_, err := svc.RetrieveContext(ctx, session, "second", 3)
	assert.ErrorIs(t, err, retrieval.ErrRequestInFlight)
	_, err = svc.BuildContext(ctx, session, "second", 3)
	assert.ErrorIs(t, err, retrieval.ErrRequestInFlight)

	// 取り込みは送信中でも受け付ける
	result, err := svc.ProcessDocument(ctx, session, "doc", "ingested while asking")
	require.NoError(t, err)
	assert.Equal(t, 1, result.ChunkCount)

	// 別セッションは影響を受けない
	other := retrieval.NewSession("other")
	assert.True(t, other.TryBegin())
	other.End()

	close(embedder.release)
	require.NoError(t, <-done)
	assert.False(t, session.InFlight())
}

// slowEmbedder は応答前に待機する
type slowEmbedder struct {
	retrievaltest.MockEmbedder
	delay time.Duration
}

func (e *slowEmbedder) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	time.Sleep(e.delay)
	return e.MockEmbedder.GetEmbeddings(ctx, texts)
}

func TestProcessDocument_ConcurrentIngestIntoSameSession(t *testing.T) {
	ctx := context.Background()
	store := retrievaltest.NewMemoryStore()
	embedder := &slowEmbedder{delay: 50 * time.Millisecond}
	svc := newTestService(store, embedder, retrieval.WithChunking(10, 0))
	session := retrieval.NewSession("s1")

	docs := map[string]string{
		"d1": strings.Repeat("a", 30),
		"d2": strings.Repeat("b", 20),
	}

	var wg sync.WaitGroup
	errs := make(map[string]error, len(docs))
	var mu sync.Mutex
	for id, text := range docs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ProcessDocument(ctx, session, id, text)
			mu.Lock()
			errs[id] = err
			mu.Unlock()
		}()
	}
	wg.Wait()

	for id, err := range errs {
		assert.NoError(t, err, id)
	}

	n, err := svc.CountChunks(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.False(t, session.InFlight())
}

func TestReplaceDocument_RemovesStaleChunks(t *testing.T) {
	ctx := context.Background()
	store := retrievaltest.NewMemoryStore()
	svc := newTestService(store, &retrievaltest.MockEmbedder{})
	session := retrieval.NewSession("s")

	_, err := svc.IngestDocument(ctx, session, retrieval.StringDocument{ID: "doc", Text: sampleText()})
	require.NoError(t, err)
	assert.Len(t, store.Records("s"), 3)

	result, err := svc.ReplaceDocument(ctx, session, retrieval.StringDocument{ID: "doc", Text: "short"})
	require.NoError(t, err)
	assert.True(t, result.Replaced)
	require.Len(t, store.Records("s"), 1)
	assert.Equal(t, "short", store.Records("s")[0].Text)
}

func TestReingest_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := retrievaltest.NewMemoryStore()
	svc := newTestService(store, &retrievaltest.MockEmbedder{})
	session := retrieval.NewSession("s")

	for i := 0; i < 2; i++ {
		_, err := svc.ProcessDocument(ctx, session, "doc", sampleText())
		require.NoError(t, err)
	}
	assert.Len(t, store.Records("s"), 3)
}

func TestRetrieveContext_Errors(t *testing.T) {
	t.Run("検索失敗", func(t *testing.T) {
		store := retrievaltest.NewMemoryStore()
		store.FindErr = &retrieval.StorageError{Backend: "memory", Op: "scan", Err: errors.New("io")}
		svc := newTestService(store, &retrievaltest.MockEmbedder{})

		_, err := svc.RetrieveContext(context.Background(), retrieval.NewSession("s"), "q", 3)
		var opErr *retrieval.OperationError
		require.ErrorAs(t, err, &opErr)
		assert.Equal(t, retrieval.OperationQuestion, opErr.Op)
		assert.Equal(t, "質問の処理に失敗しました", opErr.UserMessage())
	})

	t.Run("Embedding失敗", func(t *testing.T) {
		embedder := &retrievaltest.MockEmbedder{Err: &retrieval.TransportError{Err: errors.New("timeout")}}
		svc := newTestService(retrievaltest.NewMemoryStore(), embedder)

		_, err := svc.RetrieveContext(context.Background(), retrieval.NewSession("s"), "q", 3)
		var transportErr *retrieval.TransportError
		assert.ErrorAs(t, err, &transportErr)
	})

	t.Run("空の質問", func(t *testing.T) {
		embedder := &retrievaltest.MockEmbedder{}
		svc := newTestService(retrievaltest.NewMemoryStore(), embedder)

		results, err := svc.RetrieveContext(context.Background(), retrieval.NewSession("s"), "  ", 3)
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Empty(t, embedder.Calls)
	})
}

func TestClearSession(t *testing.T) {
	ctx := context.Background()
	store := retrievaltest.NewMemoryStore()
	svc := newTestService(store, &retrievaltest.MockEmbedder{})
	a, b := retrieval.NewSession("a"), retrieval.NewSession("b")

	_, err := svc.ProcessDocument(ctx, a, "doc", "alpha text")
	require.NoError(t, err)
	_, err = svc.ProcessDocument(ctx, b, "doc", "beta text")
	require.NoError(t, err)

	require.NoError(t, svc.ClearSession(ctx, a))
	assert.Empty(t, store.Records("a"))
	assert.Len(t, store.Records("b"), 1)

	results, err := svc.RetrieveContext(ctx, a, "alpha text", 3)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestBuildContext(t *testing.T) {
	ctx := context.Background()
	svc := newTestService(retrievaltest.NewMemoryStore(), &retrievaltest.MockEmbedder{})
	session := retrieval.NewSession("s")

	_, err := svc.ProcessDocument(ctx, session, "notes.md", sampleText())
	require.NoError(t, err)

	result, err := svc.BuildContext(ctx, session, "abcdef", 2)
	require.NoError(t, err)
	assert.Len(t, result.Chunks, 2)
	assert.Equal(t, 2, result.UsedChunks)
	assert.Contains(t, result.Block, "notes.md")
	assert.Contains(t, result.Block, result.Chunks[0].Text)
}
