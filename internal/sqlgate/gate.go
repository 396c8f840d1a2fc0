// Package sqlgate validates ad hoc retrieval statements, caps their row
// count, and runs them against a schema backend.
package sqlgate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/orgai/backend/internal/corpus/schema"
	"github.com/orgai/backend/internal/metrics"
	"github.com/orgai/backend/pkg/apperr"
	"github.com/orgai/backend/pkg/logger"
	"github.com/orgai/backend/pkg/utils"
)

const (
	DefaultMaxRows = 100
	DefaultTimeout = 30 * time.Second
)

var (
	mutatingRe  = regexp.MustCompile(`(?i)\b(drop|delete|truncate|update|insert|alter|create|exec|execute|merge|grant|revoke)\b`)
	injectionRe = regexp.MustCompile(`(?i)--|/\*|\*/|;|\b(waitfor|delay|shutdown|union)\b|\bxp_\w*`)
	selectRe    = regexp.MustCompile(`(?i)^select\b`)
	rowLimitRe  = regexp.MustCompile(`(?i)\btop\s*\(?\s*\d+|\blimit\s+\d+|\bfetch\s+(first|next)\b`)
	topPrefixRe = regexp.MustCompile(`(?i)^select(\s+distinct)?\s+`)
	// String literals and quoted identifiers, blanked before row-limit checks.
	quotedRe = regexp.MustCompile(`'(?:[^']|'')*'|"[^"]*"|\[[^\]]*\]`)
)

type Config struct {
	// Enabled is the query execution feature flag.
	Enabled bool
	// DatabaseEnabled reports whether the database subsystem is on.
	DatabaseEnabled  bool
	MaxRows          int
	Timeout          time.Duration
	RestrictedTables []string
	AllowedTables    []string
	// Dialect decides how Validate injects the row cap.
	Dialect string
}

// Executor runs a validated statement.
type Executor interface {
	Kind() string
	Dialect() string
	Execute(ctx context.Context, stmt string, maxRows int) (*schema.Rows, error)
}

type Gate struct {
	cfg          Config
	restricted   []*regexp.Regexp
	allowed      []*regexp.Regexp
	allowedNames string
}

func New(cfg Config) *Gate {
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dialect == "" {
		cfg.Dialect = schema.DialectSQLServer
	}
	g := &Gate{cfg: cfg, allowedNames: strings.Join(cfg.AllowedTables, ", ")}
	for _, t := range cfg.RestrictedTables {
		g.restricted = append(g.restricted, tablePattern(t))
	}
	for _, t := range cfg.AllowedTables {
		g.allowed = append(g.allowed, tablePattern(t))
	}
	return g
}

// tablePattern matches the table as a whole word, bare or schema
// qualified. A qualified entry also matches its bare name.
func tablePattern(table string) *regexp.Regexp {
	table = strings.Trim(strings.TrimSpace(table), "[]")
	name := table
	if i := strings.LastIndex(table, "."); i >= 0 {
		name = table[i+1:]
	}
	return regexp.MustCompile(`(?i)\b(` + regexp.QuoteMeta(table) + `|` + regexp.QuoteMeta(name) + `)\b`)
}

func (g *Gate) MaxRows() int { return g.cfg.MaxRows }

// Validate checks stmt and returns it with a row cap in the configured
// dialect. Every rejection is a KindSafety error.
func (g *Gate) Validate(stmt string) (string, error) {
	return g.validate(stmt, g.cfg.Dialect)
}

func (g *Gate) validate(stmt, dialect string) (string, error) {
	if !g.cfg.Enabled {
		return "", apperr.Safety("SQL query execution is disabled")
	}
	if !g.cfg.DatabaseEnabled {
		return "", apperr.Safety("database integration is disabled")
	}

	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return "", apperr.Safety("empty SQL statement")
	}
	if m := mutatingRe.FindString(stmt); m != "" {
		return "", apperr.Safety(fmt.Sprintf("%s operations are not allowed", strings.ToUpper(m)))
	}
	if m := injectionRe.FindString(stmt); m != "" {
		return "", apperr.Safety(fmt.Sprintf("potentially unsafe SQL pattern detected: %s", m))
	}
	if !selectRe.MatchString(stmt) {
		return "", apperr.Safety("only SELECT statements are allowed")
	}

	if !rowLimitRe.MatchString(quotedRe.ReplaceAllString(stmt, "''")) {
		stmt = g.limit(stmt, dialect)
	}

	for i, re := range g.restricted {
		if re.MatchString(stmt) {
			return "", apperr.Safety(fmt.Sprintf("access to table %s is restricted", g.cfg.RestrictedTables[i]))
		}
	}
	if len(g.allowed) > 0 {
		permitted := false
		for _, re := range g.allowed {
			if re.MatchString(stmt) {
				permitted = true
				break
			}
		}
		if !permitted {
			return "", apperr.Safety(fmt.Sprintf("query must reference at least one allowed table: %s", g.allowedNames))
		}
	}
	return stmt, nil
}

func (g *Gate) limit(stmt, dialect string) string {
	if dialect == schema.DialectSQLServer {
		loc := topPrefixRe.FindStringIndex(stmt)
		return fmt.Sprintf("%sTOP %d %s", stmt[:loc[1]], g.cfg.MaxRows, stmt[loc[1]:])
	}
	return fmt.Sprintf("%s LIMIT %d", stmt, g.cfg.MaxRows)
}

// Result is an executed statement's row set and its text rendering.
type Result struct {
	Statement string
	Backend   string
	Columns   []string
	Rows      [][]string
	Table     string
}

// Run validates stmt for the executor's dialect and executes it under the
// configured timeout. Execution failures are KindQuery errors.
func (g *Gate) Run(ctx context.Context, exec Executor, stmt string) (*Result, error) {
	normalized, err := g.validate(stmt, exec.Dialect())
	if err != nil {
		metrics.SafetyGateVerdicts.WithLabelValues("rejected").Inc()
		logger.Warn("SQL statement rejected",
			zap.String("fingerprint", utils.StatementFingerprint(stmt)),
			zap.Error(err),
		)
		return nil, err
	}
	metrics.SafetyGateVerdicts.WithLabelValues("accepted").Inc()

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	rows, err := exec.Execute(ctx, normalized, g.cfg.MaxRows)
	if err != nil {
		metrics.SQLExecutions.WithLabelValues(exec.Kind(), "error").Inc()
		return nil, apperr.Query("execute query", err)
	}
	metrics.SQLExecutions.WithLabelValues(exec.Kind(), "success").Inc()
	logger.Info("SQL statement executed",
		zap.String("backend", exec.Kind()),
		zap.String("fingerprint", utils.StatementFingerprint(normalized)),
		zap.Int("rows", len(rows.Values)),
		zap.Duration("duration", time.Since(start)),
	)

	return &Result{
		Statement: normalized,
		Backend:   exec.Kind(),
		Columns:   rows.Columns,
		Rows:      rows.Values,
		Table:     Render(rows.Columns, rows.Values),
	}, nil
}

// Rules restates the gate's constraints for statement generation prompts.
func (g *Gate) Rules() []string {
	rules := []string{
		"Write a single SELECT statement; no other statement types are executed.",
		"Do not use DROP, DELETE, TRUNCATE, UPDATE, INSERT, ALTER, CREATE, EXEC, MERGE, GRANT or REVOKE.",
		"Do not use comments, semicolons, UNION, WAITFOR, DELAY or SHUTDOWN.",
		fmt.Sprintf("Results are capped at %d rows.", g.cfg.MaxRows),
	}
	if len(g.cfg.RestrictedTables) > 0 {
		rules = append(rules, "Never reference these tables: "+strings.Join(g.cfg.RestrictedTables, ", ")+".")
	}
	if len(g.cfg.AllowedTables) > 0 {
		rules = append(rules, "Only these tables may be queried: "+g.allowedNames+".")
	}
	return rules
}
