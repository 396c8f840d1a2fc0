package schema

import "time"

type Column struct {
	Name        string
	Type        string
	Nullable    bool
	Default     string
	Description string
	Position    int
}

// Table describes a base table or a view.
type Table struct {
	Schema  string
	Name    string
	Columns []Column
}

func (t *Table) QualifiedName() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

type StoredProcedure struct {
	Schema      string
	Name        string
	Definition  string
	Comment     string
	Created     string
	LastAltered string
}

func (p *StoredProcedure) QualifiedName() string {
	if p.Schema == "" {
		return p.Name
	}
	return p.Schema + "." + p.Name
}

// Snapshot is the introspected object set of one database.
type Snapshot struct {
	Tables      []Table
	Views       []Table
	Procedures  []StoredProcedure
	RefreshedAt time.Time
}

// Lookup finds a table or view by name, case-insensitively, accepting an
// optional schema qualifier.
func (s *Snapshot) Lookup(name string) *Table {
	if s == nil {
		return nil
	}
	for _, set := range [][]Table{s.Tables, s.Views} {
		for i := range set {
			t := &set[i]
			if equalFold(name, t.Name) || equalFold(name, t.QualifiedName()) {
				return t
			}
		}
	}
	return nil
}

// Hit is the payload of a schema search result. Table is set for table,
// view and column hits; Column only for column hits; Procedure only for
// stored procedure hits.
type Hit struct {
	Database  string
	Table     *Table
	Column    *Column
	Procedure *StoredProcedure
}
