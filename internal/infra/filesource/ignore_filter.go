package filesource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// ignoreFileNames はディレクトリ取り込み時に読み込む除外ルールファイル
var ignoreFileNames = []string{".gitignore", ".docragignore"}

// IgnoreFilter は .gitignore と .docragignore のパターンマッチングを提供します
type IgnoreFilter struct {
	patterns *gitignore.GitIgnore
}

// NewIgnoreFilter は新しいIgnoreFilterを作成します
// root 直下の .gitignore と .docragignore を読み込みます
func NewIgnoreFilter(root string) (*IgnoreFilter, error) {
	var patterns []string

	for _, name := range ignoreFileNames {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		lines, err := readIgnoreFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		patterns = append(patterns, lines...)
	}

	// デフォルトの除外パターンを追加
	patterns = append(patterns, defaultIgnorePatterns()...)

	return &IgnoreFilter{
		patterns: gitignore.CompileIgnoreLines(patterns...),
	}, nil
}

// ShouldIgnore はパス（root からの相対パス）が除外対象かどうかを判定します
func (f *IgnoreFilter) ShouldIgnore(path string) bool {
	if f == nil || f.patterns == nil {
		return false
	}
	return f.patterns.MatchesPath(filepath.ToSlash(path))
}

func readIgnoreFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var patterns []string
	for _, line := range strings.FieldsFunc(string(content), func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		// 空行とコメント行をスキップ
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}

func defaultIgnorePatterns() []string {
	return []string{
		".git",
		".gitignore",
		".docragignore",
		"node_modules",
		"vendor",
		".vscode",
		".idea",
		".DS_Store",
		"*.swp",
		"*~",
		"*.log",
		"*.tmp",
		".env",
		".env.*",
		"*.pem",
		"*.key",
		"*.db",
		"*.sqlite",
	}
}
