package retrieval

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jinford/doc-rag/internal/core/ranking"
)

var (
	// ErrRequestInFlight は同一セッションでユーザー起点のリクエストが実行中の場合のエラー
	ErrRequestInFlight = errors.New("another request is already in flight for this session")

	// ErrRAGDisabled はRAGが設定で無効化されている場合のエラー
	ErrRAGDisabled = errors.New("rag is disabled")

	// ErrMissingEmbedding はプロバイダの応答にある入力のベクトルが含まれていなかった場合のエラー
	ErrMissingEmbedding = errors.New("embedding missing from provider response")

	// ErrDimensionMismatch はクエリと保存済みベクトルの次元が一致しない場合のエラー
	ErrDimensionMismatch = ranking.ErrDimensionMismatch
)

// ConfigurationError は必須設定（APIキー、エンドポイント、モデル名等）の欠落を表す
// I/O の前に検出され、自動リトライされない
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("configuration error: %s is not configured", e.Field)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// ProviderError は Embedding プロバイダが 2xx 以外を返した場合のエラー
type ProviderError struct {
	StatusCode int
	Reason     string
	Message    string
	Model      string
}

func (e *ProviderError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = http.StatusText(e.StatusCode)
	}
	msg := fmt.Sprintf("embedding provider error: %d %s (model: %s)", e.StatusCode, reason, e.Model)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// TransportError はネットワーク障害（タイムアウト、DNS、接続リセット等）を表す
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("embedding transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// BatchError は失敗したバッチの範囲 [Start, End) を示す
// 呼び出し全体は中断され、部分的な結果は返されない
type BatchError struct {
	Batch int
	Start int
	End   int
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch %d (inputs %d-%d) failed: %v", e.Batch+1, e.Start, e.End-1, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// StorageError はバックエンドストアの読み書き失敗を表す
// バッチ内の部分的な書き込みはロールバックされない
type StorageError struct {
	Backend string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s store: %s failed: %v", e.Backend, e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Operation はユーザー起点の操作種別
type Operation string

const (
	OperationIngest   Operation = "ingest"
	OperationQuestion Operation = "question"
)

// OperationError はオーケストレータが呼び出し元に返すエラー
// 内部のエラー分類は errors.As で参照でき、ユーザーには UserMessage のみを見せる
type OperationError struct {
	Op         Operation
	Stage      string
	DocumentID string
	Err        error
}

func (e *OperationError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("%s failed at %s (document %s): %v", e.Op, e.Stage, e.DocumentID, e.Err)
	}
	return fmt.Sprintf("%s failed at %s: %v", e.Op, e.Stage, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// UserMessage はエンドユーザー向けの単一メッセージを返す
func (e *OperationError) UserMessage() string {
	switch e.Op {
	case OperationIngest:
		return "文書の取り込みに失敗しました"
	case OperationQuestion:
		return "質問の処理に失敗しました"
	default:
		return "処理に失敗しました"
	}
}

// UserMessage は任意のエラーからユーザー向けメッセージを取り出す
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.UserMessage()
	}
	return "処理に失敗しました"
}
