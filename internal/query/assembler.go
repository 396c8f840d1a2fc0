package query

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orgai/backend/internal/classifier"
	"github.com/orgai/backend/internal/corpus"
	"github.com/orgai/backend/internal/corpus/docs"
	"github.com/orgai/backend/internal/corpus/policy"
	"github.com/orgai/backend/internal/corpus/schema"
	"github.com/orgai/backend/internal/history"
	"github.com/orgai/backend/internal/sqlgate"
	"github.com/orgai/backend/pkg/logger"
)

// Section sizes.
const (
	PolicyLimit       = 3
	SchemaLimit       = 5
	DocsLimit         = 3
	DefinitionPreview = 200
)

type Organization struct {
	Name        string
	Description string
	Website     string
}

// Sources are the corpora searched during assembly. A nil source is
// skipped.
type Sources struct {
	Policies corpus.Searcher
	Schemas  corpus.Searcher
	Docs     corpus.Searcher
}

type Assembler struct {
	org     Organization
	sources Sources
	gate    *sqlgate.Gate
	dialect string
	history *history.History
}

func NewAssembler(org Organization, sources Sources, gate *sqlgate.Gate, dialect string, hist *history.History) *Assembler {
	return &Assembler{
		org:     org,
		sources: sources,
		gate:    gate,
		dialect: dialect,
		history: hist,
	}
}

// Assembled is the retrieval outcome for one query.
type Assembled struct {
	Category     classifier.Category
	Policies     []corpus.Result
	Schema       []corpus.Result
	Docs         []corpus.Result
	Conversation string
	Text         string
}

// Assemble searches the corpora selected by the classification and renders
// the prompt context. It never fails; a source that errors contributes
// nothing.
func (a *Assembler) Assemble(ctx context.Context, cls classifier.Result, query, user string) *Assembled {
	out := &Assembled{Category: cls.Category}

	switch cls.Category {
	case classifier.CategoryPolicy:
		out.Policies = search(ctx, a.sources.Policies, query, PolicyLimit)
	case classifier.CategorySchema, classifier.CategoryData:
		out.Schema = search(ctx, a.sources.Schemas, query, SchemaLimit)
	case classifier.CategoryDocumentation:
		out.Docs = search(ctx, a.sources.Docs, query, DocsLimit)
	default:
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			out.Policies = search(gctx, a.sources.Policies, query, PolicyLimit)
			return nil
		})
		g.Go(func() error {
			out.Schema = search(gctx, a.sources.Schemas, query, SchemaLimit)
			return nil
		})
		g.Go(func() error {
			out.Docs = search(gctx, a.sources.Docs, query, DocsLimit)
			return nil
		})
		_ = g.Wait()
	}

	if a.history != nil {
		conv, err := a.history.Context(ctx, user)
		if err != nil {
			logger.Warn("Conversation history unavailable", zap.String("user", user), zap.Error(err))
		}
		out.Conversation = conv
	}

	out.Text = a.render(out)
	logger.Debug("Context assembled",
		zap.String("category", string(cls.Category)),
		zap.Int("policies", len(out.Policies)),
		zap.Int("schema", len(out.Schema)),
		zap.Int("docs", len(out.Docs)),
		zap.Int("chars", len(out.Text)),
	)
	return out
}

func search(ctx context.Context, s corpus.Searcher, query string, limit int) []corpus.Result {
	if s == nil {
		return nil
	}
	return corpus.Top(s.Search(ctx, query), limit)
}

func (a *Assembler) render(out *Assembled) string {
	var parts []string
	if org := a.renderOrganization(); org != "" {
		parts = append(parts, org)
	}
	if len(out.Policies) > 0 {
		parts = append(parts, renderPolicies(out.Policies))
	}
	if out.Category == classifier.CategoryData {
		parts = append(parts, a.renderGuidance(out.Schema))
	} else if len(out.Schema) > 0 {
		parts = append(parts, renderSchema(out.Schema))
	}
	if len(out.Docs) > 0 {
		parts = append(parts, renderDocs(out.Docs))
	}
	if out.Conversation != "" {
		parts = append(parts, "Conversation context:\n"+out.Conversation)
	}
	return strings.Join(parts, "\n\n")
}

func (a *Assembler) renderOrganization() string {
	if a.org.Name == "" {
		return ""
	}
	lines := []string{"Organization: " + a.org.Name}
	if a.org.Description != "" {
		lines = append(lines, "About: "+a.org.Description)
	}
	if a.org.Website != "" {
		lines = append(lines, "Website: "+a.org.Website)
	}
	return strings.Join(lines, "\n")
}

func renderPolicies(results []corpus.Result) string {
	lines := []string{"Relevant Policy Documents:"}
	for _, r := range results {
		rec, ok := r.Item.(*policy.Record)
		if !ok {
			continue
		}
		lines = append(lines,
			"- "+rec.Name,
			"  Category: "+rec.Category,
			"  Author: "+rec.Author,
			"  Applicability: "+rec.ApplicabilityGroup,
			"  Preview: "+rec.Preview,
		)
		if u := rec.URLs[policy.URLDirect]; u != "" {
			lines = append(lines, "  URL: "+u)
		}
	}
	return strings.Join(lines, "\n")
}

func renderSchema(results []corpus.Result) string {
	lines := []string{"Relevant Database Information:"}
	for _, r := range results {
		hit, ok := r.Item.(*schema.Hit)
		if !ok {
			continue
		}
		lines = append(lines, "- Database: "+hit.Database)
		switch r.Type {
		case corpus.TypeTable, corpus.TypeView:
			label := "Table"
			if r.Type == corpus.TypeView {
				label = "View"
			}
			lines = append(lines, fmt.Sprintf("  %s: %s", label, hit.Table.QualifiedName()), "  Columns:")
			for _, col := range hit.Table.Columns {
				lines = append(lines, "    - "+columnLine(col))
			}
		case corpus.TypeColumn:
			lines = append(lines, fmt.Sprintf("  Column: %s.%s", hit.Table.QualifiedName(), columnLine(*hit.Column)))
		case corpus.TypeStoredProcedure:
			lines = append(lines, "  Stored Procedure: "+hit.Procedure.QualifiedName())
			if hit.Procedure.Comment != "" {
				lines = append(lines, "  Description: "+hit.Procedure.Comment)
			}
			lines = append(lines, "  Definition: "+preview(hit.Procedure.Definition, DefinitionPreview))
		}
	}
	return strings.Join(lines, "\n")
}

// renderGuidance shapes schema hits as statement generation guidance: the
// matched tables with their columns, followed by the gate's rules.
func (a *Assembler) renderGuidance(results []corpus.Result) string {
	lines := []string{"SQL Generation Guidance:"}
	if a.dialect != "" {
		lines = append(lines, "Dialect: "+a.dialect)
	}

	seen := make(map[string]bool)
	var tables []string
	for _, r := range results {
		hit, ok := r.Item.(*schema.Hit)
		if !ok || hit.Table == nil {
			continue
		}
		key := hit.Database + "." + hit.Table.QualifiedName()
		if seen[key] {
			continue
		}
		seen[key] = true

		cols := make([]string, 0, len(hit.Table.Columns))
		for _, col := range hit.Table.Columns {
			cols = append(cols, col.Name+" "+col.Type)
		}
		tables = append(tables, fmt.Sprintf("- %s: %s (%s)", hit.Database, hit.Table.QualifiedName(), strings.Join(cols, ", ")))
	}
	if len(tables) > 0 {
		lines = append(lines, "Available tables:")
		lines = append(lines, tables...)
	}

	if a.gate != nil {
		lines = append(lines, "Rules:")
		for _, rule := range a.gate.Rules() {
			lines = append(lines, "- "+rule)
		}
	}
	lines = append(lines, "Reply with the statement in a ```sql fenced code block.")
	return strings.Join(lines, "\n")
}

func renderDocs(results []corpus.Result) string {
	lines := []string{"Relevant Documentation:"}
	for _, r := range results {
		snip, ok := r.Item.(*docs.Snippet)
		if !ok {
			continue
		}
		lines = append(lines, "- File: "+snip.Path, "  Context: "+snip.Context)
	}
	return strings.Join(lines, "\n")
}

func columnLine(col schema.Column) string {
	line := col.Name + ": " + col.Type
	if col.Description != "" {
		line += " (" + col.Description + ")"
	}
	return line
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
