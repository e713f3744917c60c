package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

var configKeys = []string{
	"EMBEDDING_API_KEY", "EMBEDDING_API_ENDPOINT", "EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS",
	"EMBEDDING_BATCH_SIZE", "EMBEDDING_TIMEOUT", "RAG_ENABLED", "CHUNK_SIZE", "CHUNK_OVERLAP",
	"RETRIEVAL_TOP_K", "CONTEXT_TOKEN_BUDGET", "VECTOR_STORE_BACKEND", "BOLT_PATH",
	"STORE_WRITE_CONCURRENCY", "STORE_ATOMIC_WRITES", "REDIS_ADDR", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv はテスト中に設定関連の環境変数を未設定にする（終了時に元の値へ戻る）
// godotenv は既存の変数を上書きしないため、空文字ではなく Unsetenv する
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configKeys {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings", cfg.Embedding.Endpoint)
	assert.Equal(t, "text-embedding-v3", cfg.Embedding.Model)
	assert.True(t, cfg.Embedding.Dimensions.IsAbsent())
	assert.Equal(t, 10, cfg.Embedding.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Embedding.Timeout)
	assert.True(t, cfg.Retrieval.Enabled)
	assert.Equal(t, 500, cfg.Retrieval.ChunkSize)
	assert.Equal(t, 50, cfg.Retrieval.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, BackendBolt, cfg.Store.Backend)
	assert.Equal(t, 8, cfg.Store.WriteConcurrency)
}

func TestLoad_FromEnvFile(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "EMBEDDING_API_KEY=sk-test\n" +
		"EMBEDDING_DIMENSIONS=1024\n" +
		"EMBEDDING_TIMEOUT=15\n" +
		"RAG_ENABLED=false\n" +
		"VECTOR_STORE_BACKEND=Postgres\n" +
		"STORE_ATOMIC_WRITES=true\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	cfg, err := Load(envFile)
	require.NoError(t, err)

	assert.Equal(t, "sk-test", cfg.Embedding.APIKey)
	dims, ok := cfg.Embedding.Dimensions.Get()
	require.True(t, ok)
	assert.Equal(t, 1024, dims)
	assert.Equal(t, 15*time.Second, cfg.Embedding.Timeout)
	assert.False(t, cfg.Retrieval.Enabled)
	assert.Equal(t, BackendPostgres, cfg.Store.Backend)
	assert.True(t, cfg.Store.AtomicWrites)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_InvalidDimensions(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMBEDDING_DIMENSIONS", "abc")
	_, err := Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "APIキーなし", mutate: func(c *Config) { c.Embedding.APIKey = "" }, field: "EMBEDDING_API_KEY"},
		{name: "エンドポイントなし", mutate: func(c *Config) { c.Embedding.Endpoint = " " }, field: "EMBEDDING_API_ENDPOINT"},
		{name: "モデルなし", mutate: func(c *Config) { c.Embedding.Model = "" }, field: "EMBEDDING_MODEL"},
		{name: "不明なバックエンド", mutate: func(c *Config) { c.Store.Backend = "sqlite" }, field: "VECTOR_STORE_BACKEND"},
		{name: "チャンクサイズ0", mutate: func(c *Config) { c.Retrieval.ChunkSize = 0 }, field: "CHUNK_SIZE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := Load("")
			require.NoError(t, err)
			cfg.Embedding.APIKey = "sk-test"
			tt.mutate(cfg)

			var cfgErr *retrieval.ConfigurationError
			require.ErrorAs(t, cfg.Validate(), &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}
