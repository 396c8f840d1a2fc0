package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/pkg/apperr"
	"github.com/orgai/backend/pkg/logger"
	"github.com/orgai/backend/pkg/utils"
)

var inlineSpace = regexp.MustCompile(`[ \t\r\f\v]+`)

// Document is one loaded documentation file.
type Document struct {
	ID       string
	Path     string
	Title    string
	Content  string
	LoadedAt time.Time
}

// Name is the file's base name.
func (d *Document) Name() string { return filepath.Base(d.Path) }

type Config struct {
	Dir          string
	FileTypes    []string
	ExcludedDirs []string
}

type Loader struct {
	cfg Config
}

func NewLoader(cfg Config) *Loader {
	for i, ext := range cfg.FileTypes {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.FileTypes[i] = ext
	}
	return &Loader{cfg: cfg}
}

// Load walks the documentation tree once. Files outside the extension
// allow-list, inside an excluded directory, or not valid UTF-8 are skipped.
// A missing root directory is a configuration error.
func (l *Loader) Load(ctx context.Context) ([]Document, error) {
	info, err := os.Stat(l.cfg.Dir)
	if err != nil || !info.IsDir() {
		return nil, apperr.Configuration("load documentation",
			fmt.Errorf("documentation directory not found: %s", l.cfg.Dir))
	}

	var docs []Document
	err = filepath.WalkDir(l.cfg.Dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logger.Warn("Skipping unreadable path", zap.String("path", path), zap.Error(walkErr))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != l.cfg.Dir && l.excludedDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if !l.allowed(path) {
			return nil
		}

		doc, err := l.read(path)
		if err != nil {
			logger.Warn("Failed to load documentation file", zap.String("path", path), zap.Error(err))
			return nil
		}
		docs = append(docs, *doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk documentation directory: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	metrics.DocumentsLoaded.Set(float64(len(docs)))
	metrics.SourceRefreshes.WithLabelValues("documentation", "local").Inc()
	logger.Info("Loaded documentation",
		zap.String("dir", l.cfg.Dir),
		zap.Int("files", len(docs)),
	)
	return docs, nil
}

func (l *Loader) excludedDir(name string) bool {
	for _, ex := range l.cfg.ExcludedDirs {
		if strings.EqualFold(name, strings.Trim(ex, `/\`)) {
			return true
		}
	}
	return false
}

func (l *Loader) allowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, ft := range l.cfg.FileTypes {
		if ext == ft {
			return true
		}
	}
	return false
}

func (l *Loader) read(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("file is not valid UTF-8")
	}

	content := string(data)
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		content, title, err = htmlText(content, title)
		if err != nil {
			return nil, err
		}
	}

	return &Document{
		ID:       utils.HashString(path)[:16],
		Path:     path,
		Title:    title,
		Content:  content,
		LoadedAt: time.Now(),
	}, nil
}

// htmlText extracts the visible text of an HTML page, one block per line.
func htmlText(html, fallbackTitle string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		title = strings.TrimSpace(doc.Find("h1").First().Text())
	}
	if title == "" {
		title = fallbackTitle
	}

	doc.Find("script, style, nav, footer, noscript").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, pre, h1, h2, h3, h4, h5, h6, section, article, table").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	lines := strings.Split(doc.Find("body").Text(), "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " "))
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n"), title, nil
}
