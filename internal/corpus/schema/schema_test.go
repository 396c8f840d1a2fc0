package schema

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgai/backend/internal/corpus"
)

type countingBackend struct {
	*Mock
	calls int
	err   error
}

func (b *countingBackend) Introspect(ctx context.Context) (*Snapshot, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return b.Mock.Introspect(ctx)
}

func mockCorpus() *Corpus {
	return New([]Target{{Name: "HR", Backend: NewMock()}}, time.Hour)
}

func TestSearch_TableRanksFirst(t *testing.T) {
	results := mockCorpus().Search(context.Background(), "employees table")
	require.NotEmpty(t, results)

	hit := results[0].Item.(*Hit)
	assert.Equal(t, corpus.TypeTable, results[0].Type)
	assert.Equal(t, "Employees", hit.Table.Name)
	assert.Equal(t, "HR", hit.Database)
	assert.Equal(t, SourceName, results[0].Source)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearch_FindsColumnsAndProcedures(t *testing.T) {
	c := mockCorpus()

	var column *Hit
	for _, r := range c.Search(context.Background(), "first name column") {
		if r.Type == corpus.TypeColumn {
			column = r.Item.(*Hit)
			break
		}
	}
	require.NotNil(t, column)
	assert.Equal(t, "FirstName", column.Column.Name)
	assert.Equal(t, "Employees", column.Table.Name)

	var proc *Hit
	for _, r := range c.Search(context.Background(), "GetEmployeeByID procedure") {
		if r.Type == corpus.TypeStoredProcedure {
			proc = r.Item.(*Hit)
			break
		}
	}
	require.NotNil(t, proc)
	assert.Equal(t, "dbo.GetEmployeeByID", proc.Procedure.QualifiedName())
}

func TestSearch_NoMatch(t *testing.T) {
	assert.Empty(t, mockCorpus().Search(context.Background(), "zzz"))
}

func TestScoreTable_PinnedWeights(t *testing.T) {
	snap, err := NewMock().Introspect(context.Background())
	require.NoError(t, err)

	employees := snap.Lookup("dbo.Employees")
	require.NotNil(t, employees)

	// name 1.0, best column "EmployeeID" 16/19, literal name bonus.
	want := 1.0*TableNameWeight + 16.0/19.0*TableColumnWeight + TableNameBonus
	assert.InDelta(t, want, ScoreTable([]string{"employees"}, employees), 1e-9)
}

func TestScoreColumn_DescriptionBonus(t *testing.T) {
	col := &Column{Name: "Dept", Description: "manager"}
	score := ScoreColumn([]string{"manager"}, col, 0)
	// description is an exact match; no literal hit in the name.
	assert.InDelta(t, 1.0*ColumnWeight+ColumnDescriptionBonus, score, 1e-9)
}

func TestObjects_CachedUntilTTL(t *testing.T) {
	backend := &countingBackend{Mock: NewMock()}
	c := New([]Target{{Name: "HR", Backend: backend}}, time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }

	_, err := c.Objects(context.Background(), "HR")
	require.NoError(t, err)
	_, err = c.Objects(context.Background(), "HR")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)

	now = now.Add(61 * time.Minute)
	_, err = c.Objects(context.Background(), "HR")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.calls)
}

func TestObjects_StaleSnapshotOnFailure(t *testing.T) {
	backend := &countingBackend{Mock: NewMock()}
	c := New([]Target{{Name: "HR", Backend: backend}}, time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }

	first, err := c.Objects(context.Background(), "HR")
	require.NoError(t, err)

	backend.err = errors.New("connection reset")
	now = now.Add(2 * time.Hour)
	snap, err := c.Objects(context.Background(), "HR")
	require.NoError(t, err)
	assert.Same(t, first, snap)
}

func TestObjects_FailureWithoutSnapshot(t *testing.T) {
	backend := &countingBackend{Mock: NewMock(), err: errors.New("login failed")}
	c := New([]Target{{Name: "HR", Backend: backend}}, time.Hour)

	_, err := c.Objects(context.Background(), "HR")
	assert.Error(t, err)
	assert.Empty(t, c.Search(context.Background(), "employees table"))

	_, err = c.Objects(context.Background(), "Payroll")
	assert.EqualError(t, err, "database Payroll not found")
}

type blockingBackend struct {
	*Mock
	started chan struct{}
	release chan struct{}
	ctxErr  chan error
}

func (b *blockingBackend) Introspect(ctx context.Context) (*Snapshot, error) {
	close(b.started)
	<-b.release
	b.ctxErr <- ctx.Err()
	return b.Mock.Introspect(ctx)
}

func TestObjects_RefreshSurvivesCallerCancel(t *testing.T) {
	backend := &blockingBackend{
		Mock:    NewMock(),
		started: make(chan struct{}),
		release: make(chan struct{}),
		ctxErr:  make(chan error, 1),
	}
	c := New([]Target{{Name: "HR", Backend: backend}}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Objects(ctx, "HR")
		firstErr <- err
	}()
	<-backend.started

	type outcome struct {
		snap *Snapshot
		err  error
	}
	second := make(chan outcome, 1)
	go func() {
		snap, err := c.Objects(context.Background(), "HR")
		second <- outcome{snap, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(backend.release)
	require.NoError(t, <-backend.ctxErr, "shared introspection must not see the caller's cancellation")
	got := <-second
	require.NoError(t, got.err)
	assert.NotEmpty(t, got.snap.Tables)
}

func TestMockExecute(t *testing.T) {
	m := NewMock()

	rows, err := m.Execute(context.Background(), "SELECT TOP 100 EmployeeID, e.FirstName, LastName AS Surname FROM Employees e", 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"EmployeeID", "FirstName", "Surname"}, rows.Columns)
	require.Len(t, rows.Values, MockRowCount)
	assert.Equal(t, []string{"1", "FirstName 1", "Surname 1"}, rows.Values[0])
	assert.Equal(t, []string{"3", "FirstName 3", "Surname 3"}, rows.Values[2])

	rows, err = m.Execute(context.Background(), "SELECT * FROM dbo.Departments", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"DepartmentID", "DepartmentName", "ManagerID"}, rows.Columns)
	assert.Len(t, rows.Values, 2)

	_, err = m.Execute(context.Background(), "EXEC GetEmployeeByID 1", 10)
	assert.Error(t, err)
}

func TestLiveSQLite(t *testing.T) {
	ctx := context.Background()
	live, err := OpenLive(ctx, LiveConfig{Dialect: DialectSQLite, DSN: ":memory:", ConnectTimeout: time.Second})
	require.NoError(t, err)
	defer live.Close()

	for _, stmt := range []string{
		`CREATE TABLE employees (id INTEGER PRIMARY KEY, name TEXT NOT NULL, salary REAL DEFAULT 0)`,
		`CREATE VIEW staff AS SELECT id, name FROM employees`,
		`INSERT INTO employees (name, salary) VALUES ('Ada', 10), ('Grace', 20)`,
	} {
		_, err := live.db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	snap, err := live.Introspect(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Tables, 1)
	require.Len(t, snap.Views, 1)

	employees := snap.Tables[0]
	assert.Equal(t, "main.employees", employees.QualifiedName())
	require.Len(t, employees.Columns, 3)
	assert.Equal(t, "name", employees.Columns[1].Name)
	assert.False(t, employees.Columns[1].Nullable)
	assert.Equal(t, 2, employees.Columns[1].Position)
	assert.Equal(t, "0", employees.Columns[2].Default)
	assert.Equal(t, "staff", snap.Views[0].Name)
	assert.Len(t, snap.Views[0].Columns, 2)

	rows, err := live.Execute(ctx, "SELECT id, name FROM employees ORDER BY id", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name"}, rows.Columns)
	assert.Equal(t, [][]string{{"1", "Ada"}}, rows.Values)

	_, err = live.Execute(ctx, "SELECT nope FROM missing", 1)
	assert.Error(t, err)
}

func TestOpenLive_UnsupportedDialect(t *testing.T) {
	_, err := OpenLive(context.Background(), LiveConfig{Dialect: "oracle"})
	assert.Error(t, err)
}
