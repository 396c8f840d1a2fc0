package ingestion

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgai/backend/pkg/apperr"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestLoad_FiltersTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.md"), []byte("# Alpha\nfirst file"))
	writeFile(t, filepath.Join(root, "guides", "b.TXT"), []byte("beta"))
	writeFile(t, filepath.Join(root, "page.html"), []byte(`<html><head><title>Setup Guide</title><style>p{}</style></head>
<body><h1>Install</h1><p>Run   the installer.</p><script>x()</script></body></html>`))
	writeFile(t, filepath.Join(root, "node_modules", "x.md"), []byte("vendored"))
	writeFile(t, filepath.Join(root, "main.go"), []byte("package main"))
	writeFile(t, filepath.Join(root, "bad.txt"), []byte{0xff, 0xfe, 0xfd})

	loader := NewLoader(Config{
		Dir:          root,
		FileTypes:    []string{".md", "txt", ".html"},
		ExcludedDirs: []string{"node_modules"},
	})
	docs, err := loader.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "a.md", docs[0].Name())
	assert.Equal(t, "# Alpha\nfirst file", docs[0].Content)
	assert.Equal(t, "b.TXT", docs[1].Name())
	assert.Equal(t, "page.html", docs[2].Name())

	html := docs[2]
	assert.Equal(t, "Setup Guide", html.Title)
	assert.Equal(t, "Install\nRun the installer.", html.Content)
	assert.NotContains(t, html.Content, "x()")
	assert.Len(t, html.ID, 16)
}

func TestLoad_MissingDirectory(t *testing.T) {
	_, err := NewLoader(Config{Dir: filepath.Join(t.TempDir(), "nope"), FileTypes: []string{".md"}}).Load(context.Background())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}
