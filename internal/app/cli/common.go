package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jinford/doc-rag/internal/core/retrieval"
	"github.com/jinford/doc-rag/internal/platform/config"
	"github.com/jinford/doc-rag/internal/platform/container"
	"github.com/jinford/doc-rag/internal/platform/logger"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、ストアに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	// 設定の読み込み
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	// ロガーの初期化
	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
	})

	// コンテナの初期化
	cont, err := container.NewContainer(ctx, cfg, container.WithContainerLogger(appLogger))
	if err != nil {
		var cfgErr *retrieval.ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("設定が不足しています: %w", err)
		}
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		if err := ac.Container.Close(); err != nil {
			ac.Logger().Warn("リソースの解放に失敗しました", "error", err)
		}
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// Service は取り込み・検索サービスを返す
func (ac *AppContext) Service() *retrieval.Service {
	return ac.Container.RetrievalService
}

// userFacingError は詳細をログに残し、ユーザー向けメッセージのみのエラーを返す
func userFacingError(logger *slog.Logger, err error) error {
	logger.Error("処理に失敗しました", "error", err)
	return errors.New(retrieval.UserMessage(err))
}

// requireSession はセッションIDを検証して Session を作成する
func requireSession(id string) (*retrieval.Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("--session を指定してください")
	}
	return retrieval.NewSession(id), nil
}
