// Package docs searches local documentation files loaded by the ingestion
// loader and returns short snippets around the best matching line.
package docs

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orgai/backend/internal/corpus"
	"github.com/orgai/backend/internal/ingestion"
	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/internal/similarity"
	"github.com/orgai/backend/pkg/logger"
)

const (
	FileNameWeight   = 0.40
	ContentWeight    = 0.60
	ContentBonus     = 0.25
	Threshold        = 0.30
	KeywordThreshold = 0.20
	SnippetRadius    = 2
	SourceName       = "documentation"
)

// Keywords lower the relevance threshold when present in the query.
var Keywords = []string{
	"documentation", "docs", "guide", "manual", "tutorial", "readme",
	"how to", "how do i", "setup", "set up", "install", "configure",
	"instructions", "troubleshoot",
}

// Snippet is the payload of a documentation result. Line is the zero-based
// index of the best matching line; Context holds up to SnippetRadius lines
// on either side of it.
type Snippet struct {
	Path    string
	Title   string
	Line    int
	Context string
}

type entry struct {
	doc   ingestion.Document
	name  string
	lower string
	lines []string
}

// Corpus is immutable after construction.
type Corpus struct {
	entries []entry
}

func New(docs []ingestion.Document) *Corpus {
	c := &Corpus{entries: make([]entry, 0, len(docs))}
	for _, d := range docs {
		c.entries = append(c.entries, entry{
			doc:   d,
			name:  strings.ToLower(d.Name()),
			lower: strings.ToLower(d.Content),
			lines: strings.Split(d.Content, "\n"),
		})
	}
	return c
}

// Load reads the tree once through loader.
func Load(ctx context.Context, loader *ingestion.Loader) (*Corpus, error) {
	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, err
	}
	return New(docs), nil
}

func (c *Corpus) Name() string { return SourceName }

func (c *Corpus) Len() int { return len(c.entries) }

func (c *Corpus) Search(ctx context.Context, query string) []corpus.Result {
	start := time.Now()
	terms := corpus.Terms(query)
	if len(terms) == 0 {
		return nil
	}

	threshold := Threshold
	if corpus.ContainsAny(query, Keywords) {
		threshold = KeywordThreshold
	}

	var results []corpus.Result
	for i := range c.entries {
		if ctx.Err() != nil {
			logger.Warn("Documentation search cancelled", zap.Error(ctx.Err()))
			return nil
		}
		e := &c.entries[i]
		score := similarity.BestOf(terms, e.name)*FileNameWeight +
			similarity.BestOf(terms, e.lower)*ContentWeight
		if corpus.AnyTermIn(terms, e.lower) {
			score += ContentBonus
		}
		if score <= threshold {
			continue
		}
		results = append(results, corpus.Result{
			Source: SourceName,
			Type:   corpus.TypeDocument,
			Item:   e.snippet(terms),
			Score:  score,
		})
	}
	corpus.Sort(results)

	metrics.CorpusSearchDuration.WithLabelValues(SourceName).Observe(time.Since(start).Seconds())
	metrics.CorpusResultsCount.WithLabelValues(SourceName).Observe(float64(len(results)))
	return results
}

func (e *entry) snippet(terms []string) *Snippet {
	best, bestScore := 0, 0.0
	for i, line := range e.lines {
		if s := similarity.BestOf(terms, line); s > bestScore {
			best, bestScore = i, s
		}
	}
	from := max(0, best-SnippetRadius)
	to := min(len(e.lines), best+SnippetRadius+1)
	return &Snippet{
		Path:    e.doc.Path,
		Title:   e.doc.Title,
		Line:    best,
		Context: strings.Join(e.lines[from:to], "\n"),
	}
}
