package schema

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/orgai/backend/internal/corpus"
	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/internal/similarity"
	"github.com/orgai/backend/pkg/logger"
)

// Field weights, bonuses and thresholds for schema scoring.
const (
	TableNameWeight   = 0.80
	TableColumnWeight = 0.20
	TableNameBonus    = 0.20

	ProcNameWeight       = 0.60
	ProcCommentWeight    = 0.25
	ProcDefinitionWeight = 0.15
	ProcNameBonus        = 0.20

	ColumnWeight           = 0.80
	ColumnTableWeight      = 0.20
	ColumnNameBonus        = 0.20
	ColumnDescriptionBonus = 0.10
	ColumnDescriptionBar   = 0.40

	TableThreshold        = 0.35
	TableKeywordThreshold = 0.25

	// ObjectThresholdOffset lowers the table threshold for views and
	// stored procedures.
	ObjectThresholdOffset = 0.05

	DefaultTTL = time.Hour
	// IntrospectTimeout bounds a shared refresh, which outlives the
	// request that started it.
	IntrospectTimeout = 30 * time.Second
	SourceName        = "schema"
)

// Keywords lower the relevance thresholds when present in the query.
var Keywords = []string{
	"table", "column", "schema", "database", "view", "procedure", "field",
	"etl", "data type", "primary key", "foreign key", "metadata", "index",
}

// Target is one configured database and the backend chosen for it.
type Target struct {
	Name    string
	Backend Backend
}

type database struct {
	name    string
	backend Backend

	mu          sync.RWMutex
	snapshot    *Snapshot
	refreshedAt time.Time
}

type Corpus struct {
	databases []*database
	ttl       time.Duration
	now       func() time.Time
	group     singleflight.Group
}

func New(targets []Target, ttl time.Duration) *Corpus {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Corpus{ttl: ttl, now: time.Now}
	for _, t := range targets {
		c.databases = append(c.databases, &database{name: t.Name, backend: t.Backend})
	}
	return c
}

func (c *Corpus) Name() string { return SourceName }

// Databases lists the configured database names in configuration order.
func (c *Corpus) Databases() []string {
	names := make([]string, 0, len(c.databases))
	for _, d := range c.databases {
		names = append(names, d.name)
	}
	return names
}

// Backend returns the backend of the named database, or of the first
// configured database when name is empty.
func (c *Corpus) Backend(name string) (Backend, bool) {
	for _, d := range c.databases {
		if name == "" || d.name == name {
			return d.backend, true
		}
	}
	return nil, false
}

// Objects returns the cached snapshot of the named database, introspecting
// when it is older than the TTL. Concurrent refreshes of one database are
// collapsed into one that runs detached from any single caller's
// cancellation. A failed refresh serves the stale snapshot if any.
func (c *Corpus) Objects(ctx context.Context, name string) (*Snapshot, error) {
	var d *database
	for _, candidate := range c.databases {
		if candidate.name == name {
			d = candidate
			break
		}
	}
	if d == nil {
		return nil, errUnknownDatabase(name)
	}

	d.mu.RLock()
	snap, at := d.snapshot, d.refreshedAt
	d.mu.RUnlock()
	if snap != nil && c.now().Sub(at) < c.ttl {
		metrics.CacheHits.WithLabelValues(SourceName).Inc()
		return snap, nil
	}
	metrics.CacheMisses.WithLabelValues(SourceName).Inc()

	ch := c.group.DoChan(name, func() (any, error) {
		ictx, cancel := context.WithTimeout(context.WithoutCancel(ctx), IntrospectTimeout)
		defer cancel()
		fresh, err := d.backend.Introspect(ictx)
		if err != nil {
			return nil, err
		}
		d.mu.Lock()
		d.snapshot, d.refreshedAt = fresh, c.now()
		d.mu.Unlock()
		metrics.SourceRefreshes.WithLabelValues(SourceName, "fetched").Inc()
		logger.Info("Refreshed database schema",
			zap.String("database", name),
			zap.String("backend", d.backend.Kind()),
			zap.Int("tables", len(fresh.Tables)),
			zap.Int("views", len(fresh.Views)),
			zap.Int("procedures", len(fresh.Procedures)),
		)
		return fresh, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		if snap != nil {
			return snap, nil
		}
		return nil, ctx.Err()
	}
	if err := res.Err; err != nil {
		metrics.SourceRefreshes.WithLabelValues(SourceName, "failed").Inc()
		if snap != nil {
			logger.Warn("Schema refresh failed, serving stale snapshot",
				zap.String("database", name),
				zap.Error(err),
			)
			return snap, nil
		}
		return nil, err
	}
	return res.Val.(*Snapshot), nil
}

// Search ranks tables, views, stored procedures and table columns of every
// configured database. A database that cannot be introspected contributes
// nothing.
func (c *Corpus) Search(ctx context.Context, query string) []corpus.Result {
	start := time.Now()
	terms := corpus.Terms(query)
	if len(terms) == 0 {
		return nil
	}

	tableThreshold := TableThreshold
	if corpus.ContainsAny(query, Keywords) {
		tableThreshold = TableKeywordThreshold
	}
	objectThreshold := tableThreshold - ObjectThresholdOffset

	var results []corpus.Result
	for _, d := range c.databases {
		snap, err := c.Objects(ctx, d.name)
		if err != nil {
			logger.Warn("Skipping database in schema search", zap.String("database", d.name), zap.Error(err))
			continue
		}

		for i := range snap.Tables {
			t := &snap.Tables[i]
			nameScore := similarity.BestOf(terms, t.Name)
			if score := scoreTable(terms, t, nameScore); score > tableThreshold {
				results = append(results, result(corpus.TypeTable, score, &Hit{Database: d.name, Table: t}))
			}
			for j := range t.Columns {
				col := &t.Columns[j]
				if score := ScoreColumn(terms, col, nameScore); score > tableThreshold {
					results = append(results, result(corpus.TypeColumn, score, &Hit{Database: d.name, Table: t, Column: col}))
				}
			}
		}
		for i := range snap.Views {
			v := &snap.Views[i]
			if score := ScoreTable(terms, v); score > objectThreshold {
				results = append(results, result(corpus.TypeView, score, &Hit{Database: d.name, Table: v}))
			}
		}
		for i := range snap.Procedures {
			p := &snap.Procedures[i]
			if score := ScoreProcedure(terms, p); score > objectThreshold {
				results = append(results, result(corpus.TypeStoredProcedure, score, &Hit{Database: d.name, Procedure: p}))
			}
		}
	}
	corpus.Sort(results)

	metrics.CorpusSearchDuration.WithLabelValues(SourceName).Observe(time.Since(start).Seconds())
	metrics.CorpusResultsCount.WithLabelValues(SourceName).Observe(float64(len(results)))
	return results
}

func result(typ corpus.ObjectType, score float64, hit *Hit) corpus.Result {
	return corpus.Result{Source: SourceName, Type: typ, Item: hit, Score: score}
}

// ScoreTable scores a table or view by name and its best matching column
// name, plus TableNameBonus when a term appears literally in the name.
func ScoreTable(terms []string, t *Table) float64 {
	return scoreTable(terms, t, similarity.BestOf(terms, t.Name))
}

func scoreTable(terms []string, t *Table, nameScore float64) float64 {
	best := 0.0
	for i := range t.Columns {
		if s := similarity.BestOf(terms, t.Columns[i].Name); s > best {
			best = s
		}
	}
	score := nameScore*TableNameWeight + best*TableColumnWeight
	if corpus.AnyTermIn(terms, t.Name) {
		score += TableNameBonus
	}
	return score
}

// ScoreColumn takes the better of the column-name and description scores
// and folds in the enclosing table's name score.
func ScoreColumn(terms []string, col *Column, tableNameScore float64) float64 {
	nameScore := similarity.BestOf(terms, col.Name)
	descScore := 0.0
	if col.Description != "" {
		descScore = similarity.BestOf(terms, col.Description)
	}
	score := max(nameScore, descScore)*ColumnWeight + tableNameScore*ColumnTableWeight
	switch {
	case corpus.AnyTermIn(terms, col.Name):
		score += ColumnNameBonus
	case descScore > ColumnDescriptionBar:
		score += ColumnDescriptionBonus
	}
	return score
}

func ScoreProcedure(terms []string, p *StoredProcedure) float64 {
	score := similarity.BestOf(terms, p.Name)*ProcNameWeight +
		similarity.BestOf(terms, p.Comment)*ProcCommentWeight +
		similarity.BestOf(terms, p.Definition)*ProcDefinitionWeight
	if corpus.AnyTermIn(terms, p.Name) {
		score += ProcNameBonus
	}
	return score
}

// Close closes every backend.
func (c *Corpus) Close() error {
	var first error
	for _, d := range c.databases {
		if err := d.backend.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
