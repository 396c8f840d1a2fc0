package schema

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MockRowCount is the number of rows the mock backend returns per query,
// before the row cap.
const MockRowCount = 3

var (
	mockSelectRe = regexp.MustCompile(`(?is)^\s*select\s+(?:top\s+\d+\s+)?(?:distinct\s+)?(.+?)\s+from\s+([\[\]"\w.]+)`)
	mockAliasRe  = regexp.MustCompile(`(?i)\s+as\s+([\[\]"\w]+)\s*$`)
)

// Mock is a fixed HR-shaped schema with synthetic, deterministic rows. It
// stands in for the live database when no connection can be made.
type Mock struct {
	snapshot Snapshot
}

func NewMock() *Mock {
	return &Mock{snapshot: mockSnapshot()}
}

func (m *Mock) Kind() string    { return "mock" }
func (m *Mock) Dialect() string { return DialectSQLServer }
func (m *Mock) Close() error    { return nil }

func (m *Mock) Introspect(_ context.Context) (*Snapshot, error) {
	snap := m.snapshot
	snap.RefreshedAt = time.Now()
	return &snap, nil
}

// Execute derives the column list from the statement's select list and
// fills MockRowCount rows. Identifier columns get the row number, other
// columns "<column> <row>".
func (m *Mock) Execute(_ context.Context, stmt string, maxRows int) (*Rows, error) {
	match := mockSelectRe.FindStringSubmatch(stmt)
	if match == nil {
		return nil, fmt.Errorf("mock backend only answers SELECT ... FROM statements")
	}

	columns := m.selectColumns(match[1], trimIdent(match[2]))
	n := MockRowCount
	if maxRows > 0 && maxRows < n {
		n = maxRows
	}

	rows := &Rows{Columns: columns, Values: make([][]string, 0, n)}
	for r := 1; r <= n; r++ {
		row := make([]string, len(columns))
		for c, col := range columns {
			if strings.HasSuffix(strings.ToLower(col), "id") {
				row[c] = fmt.Sprintf("%d", r)
			} else {
				row[c] = fmt.Sprintf("%s %d", col, r)
			}
		}
		rows.Values = append(rows.Values, row)
	}
	return rows, nil
}

func (m *Mock) selectColumns(list, table string) []string {
	var columns []string
	for _, item := range splitTopLevel(list) {
		item = strings.TrimSpace(item)
		switch {
		case item == "*" || strings.HasSuffix(item, ".*"):
			if t := m.snapshot.Lookup(table); t != nil {
				for _, c := range t.Columns {
					columns = append(columns, c.Name)
				}
				continue
			}
			columns = append(columns, fmt.Sprintf("Column%d", len(columns)+1))
		case mockAliasRe.MatchString(item):
			columns = append(columns, trimIdent(mockAliasRe.FindStringSubmatch(item)[1]))
		case strings.ContainsAny(item, "()"):
			columns = append(columns, fmt.Sprintf("Column%d", len(columns)+1))
		default:
			fields := strings.Fields(item)
			name := fields[len(fields)-1]
			if i := strings.LastIndex(name, "."); i >= 0 {
				name = name[i+1:]
			}
			columns = append(columns, trimIdent(name))
		}
	}
	return columns
}

// splitTopLevel splits on commas outside parentheses.
func splitTopLevel(s string) []string {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

func trimIdent(s string) string {
	return strings.Trim(s, `[]"`)
}

func mockSnapshot() Snapshot {
	return Snapshot{
		Tables: []Table{
			{
				Schema: "dbo",
				Name:   "Employees",
				Columns: []Column{
					{Name: "EmployeeID", Type: "int", Description: "Primary key", Position: 1},
					{Name: "FirstName", Type: "varchar", Description: "Employee first name", Position: 2},
					{Name: "LastName", Type: "varchar", Description: "Employee last name", Position: 3},
					{Name: "Department", Type: "varchar", Nullable: true, Description: "Employee department", Position: 4},
				},
			},
			{
				Schema: "dbo",
				Name:   "Departments",
				Columns: []Column{
					{Name: "DepartmentID", Type: "int", Description: "Primary key", Position: 1},
					{Name: "DepartmentName", Type: "varchar", Description: "Department name", Position: 2},
					{Name: "ManagerID", Type: "int", Nullable: true, Description: "Department manager", Position: 3},
				},
			},
		},
		Views: []Table{
			{
				Schema: "dbo",
				Name:   "EmployeeDetails",
				Columns: []Column{
					{Name: "EmployeeID", Type: "int", Description: "Employee ID", Position: 1},
					{Name: "FullName", Type: "varchar", Description: "Employee full name", Position: 2},
					{Name: "DepartmentName", Type: "varchar", Nullable: true, Description: "Department name", Position: 3},
				},
			},
		},
		Procedures: []StoredProcedure{
			{
				Schema:      "dbo",
				Name:        "GetEmployeeByID",
				Definition:  "CREATE PROCEDURE GetEmployeeByID @EmployeeID int AS SELECT * FROM Employees WHERE EmployeeID = @EmployeeID",
				Comment:     "Retrieves employee information by ID",
				Created:     "2024-01-01",
				LastAltered: "2024-01-01",
			},
		},
	}
}
