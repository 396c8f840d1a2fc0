package sqlgate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgai/backend/internal/corpus/schema"
	"github.com/orgai/backend/pkg/apperr"
)

func openGate(cfg Config) *Gate {
	cfg.Enabled = true
	cfg.DatabaseEnabled = true
	return New(cfg)
}

func TestValidate_RejectsMutations(t *testing.T) {
	g := openGate(Config{})

	_, err := g.Validate("DROP TABLE Employees")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindSafety))
	assert.Contains(t, err.Error(), "DROP")

	for _, stmt := range []string{
		"delete from Employees",
		"SELECT Name FROM Employees; DROP TABLE Employees",
		"UPDATE Employees SET Name = 'x'",
		"EXEC xp_cmdshell 'dir'",
		"SELECT * INTO Backup FROM Employees WHERE 1=1 AND CREATE",
	} {
		_, err := g.Validate(stmt)
		assert.True(t, apperr.IsKind(err, apperr.KindSafety), stmt)
	}
}

func TestValidate_RejectsInjectionMarkers(t *testing.T) {
	g := openGate(Config{})
	for stmt, marker := range map[string]string{
		"SELECT Name FROM Employees -- trailing":              "--",
		"SELECT Name FROM Employees /* hidden */":             "/*",
		"SELECT Name FROM Employees;":                         ";",
		"SELECT Name FROM Employees WAITFOR DELAY '0:0:5'":    "WAITFOR",
		"SELECT Name FROM A UNION SELECT Password FROM Users": "UNION",
		"SELECT * FROM xp_dirtree":                            "xp_dirtree",
	} {
		_, err := g.Validate(stmt)
		require.Error(t, err, stmt)
		assert.EqualError(t, err, "potentially unsafe SQL pattern detected: "+marker, stmt)
	}
}

func TestValidate_RequiresSelect(t *testing.T) {
	g := openGate(Config{})
	_, err := g.Validate("WITH x AS (SELECT 1 AS n) SELECT n FROM x")
	assert.EqualError(t, err, "only SELECT statements are allowed")

	_, err = g.Validate("   ")
	assert.True(t, apperr.IsKind(err, apperr.KindSafety))
}

func TestValidate_WordBoundaries(t *testing.T) {
	stmt, err := openGate(Config{}).Validate("SELECT created_at, last_update FROM Employees")
	require.NoError(t, err)
	assert.Equal(t, "SELECT TOP 100 created_at, last_update FROM Employees", stmt)
}

func TestValidate_RowCap(t *testing.T) {
	sqlserver := openGate(Config{MaxRows: 50})
	sqlite := openGate(Config{MaxRows: 50, Dialect: schema.DialectSQLite})

	tests := []struct {
		gate *Gate
		in   string
		want string
	}{
		{sqlserver, "SELECT Name FROM Employees", "SELECT TOP 50 Name FROM Employees"},
		{sqlserver, "select distinct Department from Employees", "select distinct TOP 50 Department from Employees"},
		{sqlserver, "SELECT TOP 5 Name FROM Employees", "SELECT TOP 5 Name FROM Employees"},
		{sqlite, "SELECT Name FROM Employees", "SELECT Name FROM Employees LIMIT 50"},
		{sqlite, "SELECT Name FROM Employees LIMIT 5", "SELECT Name FROM Employees LIMIT 5"},
		{sqlite, "SELECT Name FROM Employees ORDER BY Name OFFSET 0 ROWS FETCH NEXT 5 ROWS ONLY", "SELECT Name FROM Employees ORDER BY Name OFFSET 0 ROWS FETCH NEXT 5 ROWS ONLY"},
		{sqlserver, "SELECT Name FROM Employees WHERE Title = 'Top 10 Seller'", "SELECT TOP 50 Name FROM Employees WHERE Title = 'Top 10 Seller'"},
		{sqlserver, "SELECT [Top 3] FROM Awards", "SELECT TOP 50 [Top 3] FROM Awards"},
		{sqlite, "SELECT Name FROM Employees WHERE Note = 'it''s limit 3'", "SELECT Name FROM Employees WHERE Note = 'it''s limit 3' LIMIT 50"},
		{sqlite, `SELECT "fetch next" FROM Notes`, `SELECT "fetch next" FROM Notes LIMIT 50`},
	}
	for _, tt := range tests {
		got, err := tt.gate.Validate(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestValidate_FeatureFlags(t *testing.T) {
	_, err := New(Config{DatabaseEnabled: true}).Validate("SELECT Name FROM Employees")
	assert.EqualError(t, err, "SQL query execution is disabled")

	_, err = New(Config{Enabled: true}).Validate("SELECT Name FROM Employees")
	assert.EqualError(t, err, "database integration is disabled")
}

func TestValidate_RestrictedTables(t *testing.T) {
	g := openGate(Config{RestrictedTables: []string{"Salaries", "hr.Payroll"}})

	for _, stmt := range []string{
		"SELECT * FROM Salaries",
		"SELECT * FROM dbo.Salaries",
		"SELECT * FROM [Salaries]",
		"SELECT * FROM hr.Payroll",
		"SELECT * FROM Payroll",
	} {
		_, err := g.Validate(stmt)
		assert.True(t, apperr.IsKind(err, apperr.KindSafety), stmt)
	}

	_, err := g.Validate("SELECT * FROM Employees")
	assert.NoError(t, err)
	_, err = g.Validate("SELECT SalariesTotal FROM Employees")
	assert.NoError(t, err)
}

func TestValidate_AllowedTables(t *testing.T) {
	g := openGate(Config{AllowedTables: []string{"Employees", "Departments"}})

	_, err := g.Validate("SELECT * FROM dbo.Employees")
	assert.NoError(t, err)

	_, err = g.Validate("SELECT * FROM Contractors")
	assert.EqualError(t, err, "query must reference at least one allowed table: Employees, Departments")
}

type failingExecutor struct{}

func (failingExecutor) Kind() string    { return "live" }
func (failingExecutor) Dialect() string { return schema.DialectPostgres }
func (failingExecutor) Execute(context.Context, string, int) (*schema.Rows, error) {
	return nil, errors.New("relation does not exist")
}

func TestRun_Mock(t *testing.T) {
	res, err := openGate(Config{}).Run(context.Background(), schema.NewMock(), "SELECT EmployeeID, FirstName FROM Employees")
	require.NoError(t, err)

	assert.Equal(t, "SELECT TOP 100 EmployeeID, FirstName FROM Employees", res.Statement)
	assert.Equal(t, "mock", res.Backend)
	assert.Len(t, res.Rows, schema.MockRowCount)
	assert.Equal(t, "EmployeeID | FirstName\n"+
		"-----------+------------\n"+
		"1          | FirstName 1\n"+
		"2          | FirstName 2\n"+
		"3          | FirstName 3\n"+
		"(3 rows)", res.Table)
}

func TestRun_Errors(t *testing.T) {
	g := openGate(Config{})

	_, err := g.Run(context.Background(), schema.NewMock(), "DROP TABLE Employees")
	assert.True(t, apperr.IsKind(err, apperr.KindSafety))

	_, err = g.Run(context.Background(), failingExecutor{}, "SELECT * FROM missing")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindQuery))
}

func TestRender(t *testing.T) {
	assert.Equal(t, "id | name\n---+-----\n(0 rows)", Render([]string{"id", "name"}, nil))
	assert.Equal(t, "a\n-\nx\n(1 row)", Render([]string{"a"}, [][]string{{"x"}}))
	assert.Equal(t, "(no columns)", Render(nil, nil))
}

func TestExtract(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"```sql\nSELECT * FROM Employees;\n```", "SELECT * FROM Employees", true},
		{"Run this:\n```\nselect Name\nfrom Employees\n```", "select Name\nfrom Employees", true},
		{"Here it is:\nSELECT Name FROM Employees;", "SELECT Name FROM Employees", true},
		{"```python\nprint(1)\n```\nSELECT a FROM b", "SELECT a FROM b", true},
		{"```DROP TABLE Employees```", "DROP TABLE Employees", true},
		{"What is our vacation policy?", "", false},
		{"Please select the right option from the menu", "", false},
	}
	for _, tt := range tests {
		got, ok := Extract(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestRules(t *testing.T) {
	rules := openGate(Config{MaxRows: 25, RestrictedTables: []string{"Salaries"}}).Rules()
	assert.Contains(t, rules, "Results are capped at 25 rows.")
	assert.Contains(t, rules, "Never reference these tables: Salaries.")
}
