package filesource

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, content []byte) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestContentDetector_Detect(t *testing.T) {
	d := NewContentDetector()

	tests := []struct {
		name     string
		path     string
		content  []byte
		wantErr  error
		wantMime string
	}{
		{name: "Markdown", path: "notes.md", content: []byte("# Title\n\nbody"), wantMime: "text/markdown"},
		{name: "プレーンテキスト", path: "paper.txt", content: []byte("plain text"), wantMime: "text/plain"},
		{name: "PDFは未対応", path: "paper.pdf", content: []byte("%PDF-1.7"), wantErr: ErrUnsupportedFormat},
		{name: "バイナリ", path: "blob.dat", content: []byte{0x00, 0x01, 0x02, 0x00}, wantErr: ErrBinaryContent},
		{name: "不正なUTF-8", path: "latin1.txt", content: []byte{0xff, 0xfe, 'a'}, wantErr: ErrBinaryContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, err := d.Detect(tt.path, tt.content)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMime, det.MimeType)
		})
	}
}

func TestFileDocument_ReadText(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "doc.md", []byte("こんにちは"))

	doc := NewFileDocument(path, "")
	assert.Equal(t, "doc.md", doc.DocumentID())

	text, err := doc.ReadText(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", text)

	pdf := NewFileDocument(writeFile(t, root, "a.pdf", []byte("%PDF")), "custom-id")
	assert.Equal(t, "custom-id", pdf.DocumentID())
	_, err = pdf.ReadText(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCollector_Collect(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "README.md", []byte("# readme"))
	writeFile(t, root, "chapters/01.txt", []byte("chapter one"))
	writeFile(t, root, "chapters/draft.txt", []byte("draft"))
	writeFile(t, root, "private/secret.txt", []byte("secret"))
	writeFile(t, root, "paper.pdf", []byte("%PDF-1.4"))
	writeFile(t, root, "image.bin", []byte{0, 1, 2, 3, 0})
	writeFile(t, root, "node_modules/pkg/index.md", []byte("ignored by default"))
	writeFile(t, root, ".gitignore", []byte("# comment\nprivate/\n"))
	writeFile(t, root, ".docragignore", []byte("chapters/draft.txt\n"))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs, skipped, err := NewCollector(WithCollectorLogger(logger)).Collect(root)
	require.NoError(t, err)

	var ids []string
	for _, d := range docs {
		ids = append(ids, d.DocumentID())
	}
	sort.Strings(ids)
	assert.Equal(t, []string{"README.md", "chapters/01.txt"}, ids)

	assert.Len(t, skipped, 2)
	assert.Equal(t, "binary=1, unsupported=1", SkippedReasons(skipped))
}

func TestCollector_SingleFile(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "one.txt", []byte("one"))

	docs, skipped, err := NewCollector().Collect(path)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Empty(t, skipped)
	assert.Equal(t, "one.txt", docs[0].DocumentID())
}

func TestCollector_MissingPath(t *testing.T) {
	_, _, err := NewCollector().Collect(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestIgnoreFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", []byte("*.bak\nbuild/\n"))

	f, err := NewIgnoreFilter(root)
	require.NoError(t, err)

	assert.True(t, f.ShouldIgnore("notes.bak"))
	assert.True(t, f.ShouldIgnore("build/out.txt"))
	assert.True(t, f.ShouldIgnore(".git"))
	assert.False(t, f.ShouldIgnore("notes.md"))

	var nilFilter *IgnoreFilter
	assert.False(t, nilFilter.ShouldIgnore("anything"))
}
