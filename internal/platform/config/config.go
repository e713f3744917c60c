package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/samber/mo"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

// VectorStoreBackend はベクトルストアの種別
type VectorStoreBackend string

const (
	BackendBolt     VectorStoreBackend = "bolt"
	BackendPostgres VectorStoreBackend = "postgres"
	BackendRedis    VectorStoreBackend = "redis"
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// Embedding プロバイダ設定
	Embedding EmbeddingConfig

	// 取り込み・検索設定
	Retrieval RetrievalConfig

	// ベクトルストア設定
	Store StoreConfig

	// Database設定（postgres バックエンド用）
	Database DatabaseConfig

	// Redis設定（redis バックエンド用）
	Redis RedisConfig

	// ログ設定
	Log LogConfig
}

// EmbeddingConfig は OpenAI 互換 Embedding API の設定
type EmbeddingConfig struct {
	APIKey     string
	Endpoint   string
	Model      string
	Dimensions mo.Option[int] // 未指定の場合はリクエストに含めない
	BatchSize  int
	Timeout    time.Duration
}

// RetrievalConfig はチャンク化と検索の設定
type RetrievalConfig struct {
	Enabled      bool
	ChunkSize    int
	ChunkOverlap int
	TopK         int
	TokenBudget  int // 0 は無制限
}

// StoreConfig はベクトルストアの設定
type StoreConfig struct {
	Backend          VectorStoreBackend
	BoltPath         string
	WriteConcurrency int
	AtomicWrites     bool // postgres のみ有効
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig は Redis 接続設定
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	dimensions, err := getEnvAsOptionalInt("EMBEDDING_DIMENSIONS")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Embedding: EmbeddingConfig{
			APIKey:     getEnv("EMBEDDING_API_KEY", ""),
			Endpoint:   getEnv("EMBEDDING_API_ENDPOINT", "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"),
			Model:      getEnv("EMBEDDING_MODEL", "text-embedding-v3"),
			Dimensions: dimensions,
			BatchSize:  getEnvAsInt("EMBEDDING_BATCH_SIZE", 10),
			Timeout:    getEnvAsDuration("EMBEDDING_TIMEOUT", 60*time.Second),
		},
		Retrieval: RetrievalConfig{
			Enabled:      getEnvAsBool("RAG_ENABLED", true), // 取り込みと検索が本体のため既定で有効
			ChunkSize:    getEnvAsInt("CHUNK_SIZE", 500),
			ChunkOverlap: getEnvAsInt("CHUNK_OVERLAP", 50),
			TopK:         getEnvAsInt("RETRIEVAL_TOP_K", 3),
			TokenBudget:  getEnvAsInt("CONTEXT_TOKEN_BUDGET", 0),
		},
		Store: StoreConfig{
			Backend:          VectorStoreBackend(strings.ToLower(getEnv("VECTOR_STORE_BACKEND", string(BackendBolt)))),
			BoltPath:         getEnv("BOLT_PATH", "./data/doc-rag.db"),
			WriteConcurrency: getEnvAsInt("STORE_WRITE_CONCURRENCY", 8),
			AtomicWrites:     getEnvAsBool("STORE_ATOMIC_WRITES", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "docrag"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "docrag"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// Validate は設定値を検証します
// 必須の Embedding 設定が欠けている場合は *retrieval.ConfigurationError を返します
func (c *Config) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"EMBEDDING_API_KEY", c.Embedding.APIKey},
		{"EMBEDDING_API_ENDPOINT", c.Embedding.Endpoint},
		{"EMBEDDING_MODEL", c.Embedding.Model},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &retrieval.ConfigurationError{Field: r.field}
		}
	}

	switch c.Store.Backend {
	case BackendBolt:
		if c.Store.BoltPath == "" {
			return &retrieval.ConfigurationError{Field: "BOLT_PATH"}
		}
	case BackendPostgres, BackendRedis:
	default:
		return &retrieval.ConfigurationError{
			Field:  "VECTOR_STORE_BACKEND",
			Reason: fmt.Sprintf("unknown backend %q", c.Store.Backend),
		}
	}

	if c.Retrieval.ChunkSize <= 0 {
		return &retrieval.ConfigurationError{Field: "CHUNK_SIZE", Reason: "must be positive"}
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsOptionalInt は未設定を None として整数を取得します
func getEnvAsOptionalInt(key string) (mo.Option[int], error) {
	valueStr := strings.TrimSpace(os.Getenv(key))
	if valueStr == "" {
		return mo.None[int](), nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return mo.None[int](), fmt.Errorf("invalid %s: %w", key, err)
	}
	return mo.Some(value), nil
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を時間として取得します（"30s" 形式または秒数）
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(valueStr); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
