package policy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/orgai/backend/internal/corpus"
	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/internal/similarity"
	"github.com/orgai/backend/pkg/logger"
)

// Field weights and thresholds for policy scoring.
const (
	NameWeight       = 0.45
	PreviewWeight    = 0.30
	CategoryWeight   = 0.15
	GroupWeight      = 0.05
	AuthorWeight     = 0.05
	NameMatchBonus   = 0.25
	Threshold        = 0.30
	KeywordThreshold = 0.20
	SourceName       = "policy"
)

// Keywords lower the relevance threshold when present in the query.
var Keywords = []string{
	"policy", "policies", "procedures manual", "guideline", "handbook", "benefit",
	"leave", "vacation", "pto", "holiday", "sick", "overtime", "remote",
	"dress code", "conduct", "harassment", "compliance", "reimbursement",
	"travel", "expense", "onboarding", "human resources",
}

type Corpus struct {
	loader   *Loader
	interval time.Duration
	now      func() time.Time

	mu        sync.RWMutex
	records   []Record
	updatedAt time.Time
}

// New builds a corpus backed by loader. Call Load before serving.
func New(loader *Loader) *Corpus {
	interval := 24 * time.Hour
	if loader != nil {
		interval = loader.cfg.RefreshInterval
	}
	return &Corpus{loader: loader, interval: interval, now: time.Now}
}

// NewStatic builds a corpus over a fixed record set that never refreshes.
func NewStatic(records []Record) *Corpus {
	return &Corpus{records: records, updatedAt: time.Now(), now: time.Now}
}

func (c *Corpus) Name() string { return SourceName }

// Load performs the initial load. Its error is fatal for the policy
// subsystem only.
func (c *Corpus) Load(ctx context.Context) error {
	records, updatedAt, err := c.loader.load(ctx)
	if err != nil {
		return err
	}
	c.swap(records, updatedAt)
	return nil
}

// Refresh reloads the record set if the refresh interval has elapsed since
// the records were last fetched from the source. Records served from an old
// cache file count from the file's modification time, not from when they
// were loaded. A failed refresh keeps the current set.
func (c *Corpus) Refresh(ctx context.Context) {
	if c.loader == nil {
		return
	}
	c.mu.RLock()
	due := c.now().Sub(c.updatedAt) >= c.interval
	c.mu.RUnlock()
	if !due {
		return
	}

	records, updatedAt, err := c.loader.load(ctx)
	if err != nil {
		logger.Warn("Policy refresh failed, keeping current records", zap.Error(err))
		return
	}
	c.swap(records, updatedAt)
}

func (c *Corpus) swap(records []Record, updatedAt time.Time) {
	c.mu.Lock()
	c.records = records
	c.updatedAt = updatedAt
	c.mu.Unlock()
}

func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Search ranks policy records against query.
func (c *Corpus) Search(_ context.Context, query string) []corpus.Result {
	start := time.Now()
	terms := corpus.Terms(query)
	if len(terms) == 0 {
		return nil
	}

	threshold := Threshold
	if corpus.ContainsAny(query, Keywords) {
		threshold = KeywordThreshold
	}

	c.mu.RLock()
	records := c.records
	c.mu.RUnlock()

	var results []corpus.Result
	for i := range records {
		rec := &records[i]
		score := Score(terms, rec)
		if score <= threshold {
			continue
		}
		results = append(results, corpus.Result{
			Source: SourceName,
			Type:   corpus.TypePolicy,
			Item:   rec,
			Score:  score,
		})
	}
	corpus.Sort(results)

	metrics.CorpusSearchDuration.WithLabelValues(SourceName).Observe(time.Since(start).Seconds())
	metrics.CorpusResultsCount.WithLabelValues(SourceName).Observe(float64(len(results)))
	logger.Debug("Policy search complete",
		zap.Strings("terms", terms),
		zap.Float64("threshold", threshold),
		zap.Int("results", len(results)),
	)
	return results
}

// Score is the weighted field similarity of a record, plus NameMatchBonus
// when a term appears literally in the policy name.
func Score(terms []string, rec *Record) float64 {
	score := similarity.BestOf(terms, rec.Name)*NameWeight +
		similarity.BestOf(terms, rec.Preview)*PreviewWeight +
		similarity.BestOf(terms, rec.Category)*CategoryWeight +
		similarity.BestOf(terms, rec.ApplicabilityGroup)*GroupWeight +
		similarity.BestOf(terms, rec.Author)*AuthorWeight
	if corpus.AnyTermIn(terms, rec.Name) {
		score += NameMatchBonus
	}
	return score
}
