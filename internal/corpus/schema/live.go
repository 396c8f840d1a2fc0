package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"
)

// driverNames maps a dialect to its database/sql driver registration.
var driverNames = map[string]string{
	DialectSQLServer: "sqlserver",
	DialectPostgres:  "pgx",
	DialectSQLite:    "sqlite3",
}

const sqlServerObjectsQuery = `
SELECT t.TABLE_SCHEMA, t.TABLE_NAME, t.TABLE_TYPE,
       c.COLUMN_NAME, c.DATA_TYPE, c.IS_NULLABLE, c.COLUMN_DEFAULT,
       CAST(ep.value AS NVARCHAR(4000)), c.ORDINAL_POSITION
FROM INFORMATION_SCHEMA.TABLES t
LEFT JOIN INFORMATION_SCHEMA.COLUMNS c
  ON t.TABLE_NAME = c.TABLE_NAME AND t.TABLE_SCHEMA = c.TABLE_SCHEMA
LEFT JOIN sys.extended_properties ep
  ON ep.major_id = OBJECT_ID(QUOTENAME(t.TABLE_SCHEMA) + '.' + QUOTENAME(t.TABLE_NAME))
 AND ep.minor_id = COLUMNPROPERTY(ep.major_id, c.COLUMN_NAME, 'ColumnId')
 AND ep.name = 'MS_Description'
WHERE t.TABLE_TYPE IN ('BASE TABLE', 'VIEW')
ORDER BY t.TABLE_NAME, c.ORDINAL_POSITION`

const sqlServerRoutinesQuery = `
SELECT ROUTINE_SCHEMA, ROUTINE_NAME, ROUTINE_DEFINITION, '',
       CONVERT(VARCHAR(33), CREATED, 126), CONVERT(VARCHAR(33), LAST_ALTERED, 126)
FROM INFORMATION_SCHEMA.ROUTINES
WHERE ROUTINE_TYPE = 'PROCEDURE'
ORDER BY ROUTINE_NAME`

const postgresObjectsQuery = `
SELECT t.table_schema, t.table_name, t.table_type,
       c.column_name, c.data_type, c.is_nullable, c.column_default,
       col_description((quote_ident(t.table_schema) || '.' || quote_ident(t.table_name))::regclass, c.ordinal_position::int),
       c.ordinal_position
FROM information_schema.tables t
LEFT JOIN information_schema.columns c
  ON t.table_name = c.table_name AND t.table_schema = c.table_schema
WHERE t.table_type IN ('BASE TABLE', 'VIEW')
ORDER BY t.table_name, c.ordinal_position`

const postgresRoutinesQuery = `
SELECT r.routine_schema, r.routine_name, r.routine_definition,
       obj_description(p.oid, 'pg_proc'), r.created::text, r.last_altered::text
FROM information_schema.routines r
LEFT JOIN pg_proc p ON p.proname = r.routine_name
WHERE r.routine_type = 'PROCEDURE'
ORDER BY r.routine_name`

const sqliteObjectsQuery = `
SELECT 'main', m.name, CASE m.type WHEN 'view' THEN 'VIEW' ELSE 'BASE TABLE' END,
       p.name, p.type, CASE p."notnull" WHEN 1 THEN 'NO' ELSE 'YES' END, p.dflt_value,
       NULL, p.cid + 1
FROM sqlite_master m
LEFT JOIN pragma_table_info(m.name) p ON 1 = 1
WHERE m.type IN ('table', 'view') AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`

// LiveConfig points a Live backend at one database.
type LiveConfig struct {
	Dialect         string
	DSN             string
	ExcludedSchemas []string
	ConnectTimeout  time.Duration
}

// Live introspects and queries a real database through database/sql.
type Live struct {
	db  *sql.DB
	cfg LiveConfig
}

// OpenLive opens and pings the database. A failed ping closes the handle
// and returns the error, so callers can fall back to the mock backend.
func OpenLive(ctx context.Context, cfg LiveConfig) (*Live, error) {
	driver, ok := driverNames[cfg.Dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported database dialect %q", cfg.Dialect)
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Dialect, err)
	}
	if cfg.Dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
	}

	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", cfg.Dialect, err)
	}
	return &Live{db: db, cfg: cfg}, nil
}

// NewLive wraps an already opened handle.
func NewLive(db *sql.DB, cfg LiveConfig) *Live {
	return &Live{db: db, cfg: cfg}
}

func (l *Live) Kind() string    { return "live" }
func (l *Live) Dialect() string { return l.cfg.Dialect }
func (l *Live) Close() error    { return l.db.Close() }

func (l *Live) Introspect(ctx context.Context) (*Snapshot, error) {
	objectsQuery, routinesQuery := sqliteObjectsQuery, ""
	switch l.cfg.Dialect {
	case DialectSQLServer:
		objectsQuery, routinesQuery = sqlServerObjectsQuery, sqlServerRoutinesQuery
	case DialectPostgres:
		objectsQuery, routinesQuery = postgresObjectsQuery, postgresRoutinesQuery
	}

	snap := &Snapshot{RefreshedAt: time.Now()}
	if err := l.loadObjects(ctx, objectsQuery, snap); err != nil {
		return nil, err
	}
	if routinesQuery != "" {
		if err := l.loadRoutines(ctx, routinesQuery, snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (l *Live) loadObjects(ctx context.Context, query string, snap *Snapshot) error {
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	index := make(map[string]*Table)
	var order []string
	kinds := make(map[string]string)
	for rows.Next() {
		var (
			schemaName, tableName, tableType              string
			colName, dataType, nullable, colDefault, desc sql.NullString
			position                                      sql.NullInt64
		)
		if err := rows.Scan(&schemaName, &tableName, &tableType,
			&colName, &dataType, &nullable, &colDefault, &desc, &position); err != nil {
			return fmt.Errorf("failed to scan table row: %w", err)
		}
		if excluded(schemaName, l.cfg.ExcludedSchemas) {
			continue
		}

		key := schemaName + "." + tableName
		t, ok := index[key]
		if !ok {
			t = &Table{Schema: schemaName, Name: tableName}
			index[key] = t
			order = append(order, key)
			kinds[key] = tableType
		}
		if colName.Valid {
			t.Columns = append(t.Columns, Column{
				Name:        colName.String,
				Type:        dataType.String,
				Nullable:    strings.EqualFold(nullable.String, "YES"),
				Default:     colDefault.String,
				Description: desc.String,
				Position:    int(position.Int64),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read tables: %w", err)
	}

	for _, key := range order {
		if kinds[key] == "VIEW" {
			snap.Views = append(snap.Views, *index[key])
		} else {
			snap.Tables = append(snap.Tables, *index[key])
		}
	}
	return nil
}

func (l *Live) loadRoutines(ctx context.Context, query string, snap *Snapshot) error {
	rows, err := l.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to list stored procedures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			schemaName, name                          string
			definition, comment, created, lastAltered sql.NullString
		)
		if err := rows.Scan(&schemaName, &name, &definition, &comment, &created, &lastAltered); err != nil {
			return fmt.Errorf("failed to scan stored procedure row: %w", err)
		}
		if excluded(schemaName, l.cfg.ExcludedSchemas) {
			continue
		}
		snap.Procedures = append(snap.Procedures, StoredProcedure{
			Schema:      schemaName,
			Name:        name,
			Definition:  definition.String,
			Comment:     comment.String,
			Created:     created.String,
			LastAltered: lastAltered.String,
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read stored procedures: %w", err)
	}
	return nil
}

// Execute runs stmt and reads at most maxRows rows (all rows when maxRows
// is not positive).
func (l *Live) Execute(ctx context.Context, stmt string, maxRows int) (*Rows, error) {
	rows, err := l.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	result := &Rows{Columns: columns}
	for rows.Next() {
		if maxRows > 0 && len(result.Values) >= maxRows {
			break
		}
		cells := make([]sql.NullString, len(columns))
		dest := make([]any, len(columns))
		for i := range cells {
			dest[i] = &cells[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		values := make([]string, len(columns))
		for i, c := range cells {
			values[i] = c.String
		}
		result.Values = append(result.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return result, nil
}
