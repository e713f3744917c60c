// Package chunk はドキュメント本文を固定長のオーバーラップ付きウィンドウに分割する
package chunk

import "log/slog"

const (
	// DefaultSize はチャンクの既定長（文字数）
	DefaultSize = 500
	// DefaultOverlap は隣接チャンク間の既定オーバーラップ（文字数）
	DefaultOverlap = 50
)

// Chunk は分割されたテキスト片を表す
// Start/End は元テキスト中のルーン単位のオフセット [Start, End)
type Chunk struct {
	Text  string
	Index int
	Start int
	End   int
}

// Chunker はスライディングウィンドウによる分割器
type Chunker struct {
	size    int
	overlap int
	logger  *slog.Logger
}

// Option は Chunker のオプション
type Option func(*Chunker)

// WithLogger はロガーを設定する
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New は Chunker を作成する
// 不正なパラメータは補正され、警告ログを出力する
func New(size, overlap int, opts ...Option) *Chunker {
	c := &Chunker{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	c.size, c.overlap = normalize(size, overlap, c.logger)
	return c
}

// Size は補正後のチャンク長を返す
func (c *Chunker) Size() int { return c.size }

// Overlap は補正後のオーバーラップを返す
func (c *Chunker) Overlap() int { return c.overlap }

// Split はテキストを分割する
func (c *Chunker) Split(text string) []Chunk {
	return split([]rune(text), c.size, c.overlap)
}

// Split は size/overlap を指定してテキストを分割する
// 空文字列は空のスライスを返す。overlap >= size の場合は size/5 に補正する
func Split(text string, size, overlap int) []Chunk {
	size, overlap = normalize(size, overlap, slog.Default())
	return split([]rune(text), size, overlap)
}

func normalize(size, overlap int, logger *slog.Logger) (int, int) {
	if size <= 0 {
		logger.Warn("チャンクサイズが不正なため既定値を使用します", "size", size, "default", DefaultSize)
		size = DefaultSize
	}
	if overlap < 0 {
		logger.Warn("オーバーラップが負のため0に補正します", "overlap", overlap)
		overlap = 0
	}
	if overlap >= size {
		clamped := size / 5
		logger.Warn("オーバーラップがチャンクサイズ以上のため補正します",
			"size", size, "overlap", overlap, "clamped", clamped)
		overlap = clamped
	}
	return size, overlap
}

func split(runes []rune, size, overlap int) []Chunk {
	if len(runes) == 0 {
		return []Chunk{}
	}

	step := size - overlap
	chunks := make([]Chunk, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := min(start+size, len(runes))
		chunks = append(chunks, Chunk{
			Text:  string(runes[start:end]),
			Index: len(chunks),
			Start: start,
			End:   end,
		})
		// ウィンドウ終端がテキスト末尾に到達したら終了
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// Texts はチャンクのテキストのみを取り出す
func Texts(chunks []Chunk) []string {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return texts
}
