// Package filesource はローカルファイルを取り込み用の DocumentReader として提供する
package filesource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jinford/doc-rag/internal/core/retrieval"
)

// FileDocument はローカルファイルを表す DocumentReader
type FileDocument struct {
	id       string
	path     string
	detector *ContentDetector
}

// NewFileDocument は FileDocument を作成する。id が空の場合はファイル名を使う
func NewFileDocument(path, id string) *FileDocument {
	if id == "" {
		id = filepath.Base(path)
	}
	return &FileDocument{id: id, path: path, detector: NewContentDetector()}
}

// DocumentID はドキュメントIDを返す
func (d *FileDocument) DocumentID() string { return d.id }

// Path はファイルパスを返す
func (d *FileDocument) Path() string { return d.path }

// ReadText はファイルを読み込み、テキストであることを確認して返す
func (d *FileDocument) ReadText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	content, err := os.ReadFile(d.path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if _, err := d.detector.Detect(d.path, content); err != nil {
		return "", err
	}
	return string(content), nil
}

// Skipped は取り込み対象外となったファイル
type Skipped struct {
	Path   string
	Reason string
}

// Collector はファイルまたはディレクトリから取り込み対象を収集する
type Collector struct {
	detector *ContentDetector
	logger   *slog.Logger
}

// CollectorOption は Collector のオプション
type CollectorOption func(*Collector)

// WithCollectorLogger はロガーを設定する
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCollector は Collector を作成する
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{detector: NewContentDetector(), logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect は path がファイルならそれ1件を、ディレクトリなら配下の取り込み可能なファイルを返す
// ディレクトリの場合、ドキュメントIDは root からの相対パス（スラッシュ区切り）になる
func (c *Collector) Collect(path string) ([]*FileDocument, []Skipped, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return []*FileDocument{NewFileDocument(path, "")}, nil, nil
	}

	filter, err := NewIgnoreFilter(path)
	if err != nil {
		return nil, nil, err
	}

	var (
		docs    []*FileDocument
		skipped []Skipped
	)
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(path, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if filter.ShouldIgnore(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		content, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}
		if _, err := c.detector.Detect(rel, content); err != nil {
			reason := "unsupported"
			if errors.Is(err, ErrBinaryContent) {
				reason = "binary"
			}
			c.logger.Debug("取り込み対象外のファイルをスキップします", "path", rel, "reason", reason)
			skipped = append(skipped, Skipped{Path: rel, Reason: reason})
			return nil
		}

		docs = append(docs, NewFileDocument(p, rel))
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to walk %s: %w", path, err)
	}

	c.logger.Info("取り込み対象ファイルを収集しました",
		"root", path,
		"documents", len(docs),
		"skipped", len(skipped),
	)
	return docs, skipped, nil
}

// SkippedReasons は理由ごとのスキップ件数を返す
func SkippedReasons(skipped []Skipped) string {
	counts := map[string]int{}
	for _, s := range skipped {
		counts[s.Reason]++
	}
	var parts []string
	for _, reason := range []string{"binary", "unsupported"} {
		if n := counts[reason]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", reason, n))
		}
	}
	return strings.Join(parts, ", ")
}

// インターフェース実装の確認
var _ retrieval.DocumentReader = (*FileDocument)(nil)
