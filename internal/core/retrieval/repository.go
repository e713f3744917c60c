package retrieval

import "context"

// Embedder はテキストのEmbedding生成インターフェース
// テスト時のモック用に消費者側で定義
type Embedder interface {
	// GetEmbeddings は入力と同じ順序・件数のベクトルを返す
	GetEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// Embed は単一テキストのEmbeddingを生成する
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentReader は取り込み対象ドキュメントの本文を提供する
// PDF等からのテキスト抽出は実装側の責務で、コアは文字列のみを受け取る
type DocumentReader interface {
	// DocumentID はセッション内でドキュメントを識別するIDを返す
	DocumentID() string

	// ReadText は本文を読み出す
	ReadText(ctx context.Context) (string, error)
}

// TokenCounter はテキストのトークン数を数える
type TokenCounter interface {
	CountTokens(text string) int
}

// StringDocument はメモリ上の文字列を DocumentReader として扱う
type StringDocument struct {
	ID   string
	Text string
}

// DocumentID はドキュメントIDを返す
func (d StringDocument) DocumentID() string { return d.ID }

// ReadText は本文を返す
func (d StringDocument) ReadText(context.Context) (string, error) { return d.Text, nil }
