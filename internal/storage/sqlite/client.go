package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/orgai/backend/internal/storage/models"
	"github.com/orgai/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// go-sqlite3 gives every connection its own :memory: database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_history (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		queue INTEGER NOT NULL,
		mode TEXT NOT NULL,
		category TEXT NOT NULL,
		prompt TEXT NOT NULL,
		response TEXT,
		context TEXT,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chat_user ON chat_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_chat_created ON chat_history(created_at);

	CREATE TABLE IF NOT EXISTS sql_executions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		statement TEXT NOT NULL,
		backend TEXT,
		verdict TEXT NOT NULL,
		reason TEXT,
		row_count INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (chat_id) REFERENCES chat_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_sql_chat ON sql_executions(chat_id);
	CREATE INDEX IF NOT EXISTS idx_sql_verdict ON sql_executions(verdict);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) InsertChatRecord(ctx context.Context, record *models.ChatRecord) error {
	query := `
		INSERT INTO chat_history (id, user_id, queue, mode, category, prompt, response, context, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx,
		query,
		record.ID,
		record.UserID,
		record.Queue,
		record.Mode,
		record.Category,
		record.Prompt,
		record.Response,
		record.Context,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert chat record: %w", err)
	}

	logger.Debug("Chat recorded",
		zap.String("chat_id", record.ID),
		zap.String("user", record.UserID),
		zap.String("category", record.Category),
	)

	return nil
}

func (c *Client) InsertSQLExecution(ctx context.Context, exec *models.SQLExecution) error {
	query := `
		INSERT INTO sql_executions (chat_id, fingerprint, statement, backend, verdict, reason, row_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.ExecContext(ctx,
		query,
		exec.ChatID,
		exec.Fingerprint,
		exec.Statement,
		exec.Backend,
		exec.Verdict,
		exec.Reason,
		exec.RowCount,
		exec.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert sql execution: %w", err)
	}

	return nil
}

func (c *Client) GetChatHistory(ctx context.Context, userID string, limit int) ([]models.ChatRecord, error) {
	query := `
		SELECT id, user_id, queue, mode, category, prompt, response, latency_ms, created_at
		FROM chat_history
		WHERE user_id = ?
		ORDER BY created_at DESC, queue DESC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get chat history: %w", err)
	}
	defer rows.Close()

	var records []models.ChatRecord
	for rows.Next() {
		var r models.ChatRecord
		var createdAt int64

		err := rows.Scan(&r.ID, &r.UserID, &r.Queue, &r.Mode, &r.Category, &r.Prompt, &r.Response, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) GetSQLExecutions(ctx context.Context, chatID string) ([]models.SQLExecution, error) {
	query := `
		SELECT id, chat_id, fingerprint, statement, backend, verdict, reason, row_count, created_at
		FROM sql_executions
		WHERE chat_id = ?
		ORDER BY id
	`

	rows, err := c.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sql executions: %w", err)
	}
	defer rows.Close()

	var execs []models.SQLExecution
	for rows.Next() {
		var e models.SQLExecution
		var createdAt int64

		err := rows.Scan(&e.ID, &e.ChatID, &e.Fingerprint, &e.Statement, &e.Backend, &e.Verdict, &e.Reason, &e.RowCount, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		e.CreatedAt = time.Unix(createdAt, 0)
		execs = append(execs, e)
	}

	return execs, rows.Err()
}

// CountVerdicts returns how many statements received each verdict.
func (c *Client) CountVerdicts(ctx context.Context) (map[string]int, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT verdict, COUNT(*) FROM sql_executions GROUP BY verdict`)
	if err != nil {
		return nil, fmt.Errorf("failed to count verdicts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var verdict string
		var n int
		if err := rows.Scan(&verdict, &n); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		counts[verdict] = n
	}

	return counts, rows.Err()
}
