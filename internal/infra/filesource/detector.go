package filesource

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-enry/go-enry/v2"
)

var (
	// ErrUnsupportedFormat はテキスト抽出に対応していない形式のエラー
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrBinaryContent はバイナリファイルのエラー
	ErrBinaryContent = errors.New("binary content")
)

// unsupportedExtensions はテキスト抽出が必要なため取り込めない拡張子
var unsupportedExtensions = map[string]string{
	".pdf":  "PDF",
	".doc":  "Word",
	".docx": "Word",
	".epub": "EPUB",
}

// ContentDetector はファイルが取り込み可能なテキストかどうかを判定する
type ContentDetector struct{}

// NewContentDetector は ContentDetector を生成する
func NewContentDetector() *ContentDetector {
	return &ContentDetector{}
}

// Detection は判定結果
type Detection struct {
	// Language は go-enry が判定した言語名（"Markdown", "Text" など）
	Language string
	MimeType string
}

// Detect はパスと内容から取り込み可否を判定する
func (d *ContentDetector) Detect(path string, content []byte) (Detection, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if format, ok := unsupportedExtensions[ext]; ok {
		return Detection{}, fmt.Errorf("%s: %s text extraction is not supported: %w", path, format, ErrUnsupportedFormat)
	}
	if enry.IsBinary(content) || !utf8.Valid(content) {
		return Detection{}, fmt.Errorf("%s: %w", path, ErrBinaryContent)
	}

	language := enry.GetLanguage(filepath.Base(path), content)
	if language == "" {
		language = "Text"
	}
	return Detection{Language: language, MimeType: languageToMimeType(language)}, nil
}

func languageToMimeType(language string) string {
	mapping := map[string]string{
		"Markdown":         "text/markdown",
		"Text":             "text/plain",
		"reStructuredText": "text/x-rst",
		"AsciiDoc":         "text/asciidoc",
		"HTML":             "text/html",
		"TeX":              "text/x-tex",
		"Org":              "text/x-org",
		"JSON":             "application/json",
		"YAML":             "text/x-yaml",
		"XML":              "text/xml",
		"Go":               "text/x-go",
		"Python":           "text/x-python",
	}
	if mime, ok := mapping[language]; ok {
		return mime
	}
	return "text/plain"
}
