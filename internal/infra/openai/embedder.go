package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

const (
	// DefaultEndpoint は OpenAI 互換 Embedding エンドポイントの既定値（DashScope 互換モード）
	DefaultEndpoint = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-v3"
	// DefaultBatchSize は1リクエストあたりの最大入力数
	DefaultBatchSize = 10
	// DefaultTimeout は1リクエストあたりのタイムアウト
	DefaultTimeout = 60 * time.Second
)

// EmbedderConfig は Embedding プロバイダへの接続設定
type EmbedderConfig struct {
	APIKey     string
	Endpoint   string
	Model      string
	Dimensions mo.Option[int]
	BatchSize  int
	Timeout    time.Duration
}

// Validate は必須項目を検証する
func (c EmbedderConfig) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return &retrieval.ConfigurationError{Field: "EMBEDDING_API_KEY"}
	}
	if strings.TrimSpace(c.Endpoint) == "" {
		return &retrieval.ConfigurationError{Field: "EMBEDDING_API_ENDPOINT"}
	}
	if strings.TrimSpace(c.Model) == "" {
		return &retrieval.ConfigurationError{Field: "EMBEDDING_MODEL"}
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &retrieval.ConfigurationError{Field: "EMBEDDING_API_ENDPOINT", Reason: "must be an absolute URL"}
	}
	if d, ok := c.Dimensions.Get(); ok && d <= 0 {
		return &retrieval.ConfigurationError{Field: "EMBEDDING_DIMENSIONS", Reason: "must be positive"}
	}
	return nil
}

// Embedder は OpenAI 互換 API を使用してテキストをベクトルに変換する
type Embedder struct {
	client     openai.Client
	model      string
	dimensions mo.Option[int]
	batchSize  int
	logger     *slog.Logger
}

type embedderOptions struct {
	logger     *slog.Logger
	httpClient *http.Client
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbedderLogger はロガーを設定する
func WithEmbedderLogger(logger *slog.Logger) EmbedderOption {
	return func(o *embedderOptions) {
		o.logger = logger
	}
}

// WithHTTPClient は HTTP クライアントを差し替える
func WithHTTPClient(client *http.Client) EmbedderOption {
	return func(o *embedderOptions) {
		o.httpClient = client
	}
}

// NewEmbedder は新しい Embedder を作成する
// 必須設定が欠けている場合は I/O を行う前に *retrieval.ConfigurationError を返す
func NewEmbedder(cfg EmbedderConfig, opts ...EmbedderOption) (*Embedder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := embedderOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if options.httpClient == nil {
		options.httpClient = &http.Client{Timeout: timeout}
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	endpoint, _ := url.Parse(cfg.Endpoint)

	return &Embedder{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithHTTPClient(options.httpClient),
			option.WithMaxRetries(0),
			option.WithMiddleware(pinEndpoint(endpoint)),
		),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		batchSize:  batchSize,
		logger:     options.logger,
	}, nil
}

// pinEndpoint は全リクエストを設定されたエンドポイントURLへそのまま送る
// OpenAI 互換プロバイダは任意のパスで Embedding API を公開しているため、SDK のパス結合は使わない
func pinEndpoint(endpoint *url.URL) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		u := *endpoint
		req.URL = &u
		req.Host = u.Host
		return next(req)
	}
}

// Embed は単一テキストの Embedding を生成する
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.GetEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// GetEmbeddings は入力と同じ順序・同じ件数のベクトルを返す
// バッチはインデックス順に逐次送信し、いずれかが失敗した時点で全体を中断する
func (e *Embedder) GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, len(texts))
	batches := (len(texts) + e.batchSize - 1) / e.batchSize

	for b := 0; b < batches; b++ {
		start := b * e.batchSize
		end := min(start+e.batchSize, len(texts))

		e.logger.Debug("Embeddingバッチを送信します",
			"batch", b+1,
			"totalBatches", batches,
			"size", end-start,
			"model", e.model,
		)

		if err := e.embedBatch(ctx, texts[start:end], start, vectors); err != nil {
			return nil, &retrieval.BatchError{Batch: b, Start: start, End: end, Err: err}
		}
	}

	for i, v := range vectors {
		if v == nil {
			return nil, fmt.Errorf("input %d: %w", i, retrieval.ErrMissingEmbedding)
		}
	}

	return vectors, nil
}

func (e *Embedder) embedBatch(ctx context.Context, batch []string, start int, vectors [][]float32) error {
	params := openai.EmbeddingNewParams{
		Model:          openai.EmbeddingModel(e.model),
		Input:          openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: batch},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if d, ok := e.dimensions.Get(); ok {
		params.Dimensions = openai.Int(int64(d))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return e.classifyError(err)
	}

	for _, data := range resp.Data {
		abs := start + int(data.Index)
		if data.Index < 0 || int(data.Index) >= len(batch) {
			e.logger.Warn("範囲外のインデックスを含むEmbeddingを無視します",
				"index", data.Index,
				"batchStart", start,
				"batchSize", len(batch),
			)
			continue
		}

		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		vectors[abs] = vector
	}

	return nil
}

func (e *Embedder) classifyError(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return &retrieval.TransportError{Err: err}
	}

	providerErr := &retrieval.ProviderError{
		StatusCode: apiErr.StatusCode,
		Reason:     reasonPhrase(apiErr.Response, apiErr.StatusCode),
		Message:    apiErr.Message,
		Model:      e.model,
	}
	if providerErr.Message == "" && apiErr.Response != nil && apiErr.Response.Body != nil {
		providerErr.Message = errorMessageFromBody(apiErr.Response.Body)
	}

	e.logger.Error("Embedding APIがエラーを返しました",
		"status", providerErr.StatusCode,
		"model", e.model,
		"message", providerErr.Message,
	)
	return providerErr
}

// reasonPhrase は "404 Not Found" 形式のステータス行から理由句を取り出す
func reasonPhrase(resp *http.Response, code int) string {
	if resp != nil {
		if reason, ok := strings.CutPrefix(resp.Status, strconv.Itoa(code)+" "); ok && reason != "" {
			return reason
		}
	}
	return http.StatusText(code)
}

// errorMessageFromBody は {"error":{"message":...}} 形式のボディからメッセージを取り出す
func errorMessageFromBody(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return ""
	}
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.Error.Message
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension はベクトル次元数を返す（未指定の場合は0）
func (e *Embedder) Dimension() int {
	return e.dimensions.OrElse(0)
}

// MaxBatchSize は1リクエストあたりの最大入力数を返す
func (e *Embedder) MaxBatchSize() int {
	return e.batchSize
}

// インターフェース実装の確認
var _ retrieval.Embedder = (*Embedder)(nil)
