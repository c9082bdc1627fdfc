package models

import (
	"fmt"
	"sort"

	"github.com/vitebski/softdelete-gen/internal/diag"
)

// Directory is the immutable set of tables a run works from
type Directory struct {
	tables []*Table
	index  map[string]*Table
}

// NewDirectory validates the tables and builds a directory. Duplicate identities and foreign keys
// whose column lists disagree in length are structural errors.
func NewDirectory(tables []Table) (*Directory, error) {
	d := &Directory{index: make(map[string]*Table, len(tables))}

	for i := range tables {
		t := tables[i]
		if t.Name == "" {
			return nil, fmt.Errorf("table %d has no name", i)
		}
		key := t.ID().Key()
		if _, exists := d.index[key]; exists {
			return nil, fmt.Errorf("table %s declared twice", t.ID())
		}

		for _, fk := range t.ForeignKeys {
			if len(fk.Columns) == 0 {
				return nil, &diag.StructuralError{
					Tables: []string{t.ID().String()},
					Reason: fmt.Sprintf("foreign key %s has no columns", fk.Name),
				}
			}
			if len(fk.Columns) != len(fk.ReferencedColumns) {
				return nil, &diag.StructuralError{
					Tables: []string{t.ID().String(), t.ReferencedID(fk).String()},
					Reason: fmt.Sprintf("foreign key %s maps %d columns onto %d referenced columns",
						fk.Name, len(fk.Columns), len(fk.ReferencedColumns)),
				}
			}
			if fk.ReferencedTable == "" {
				return nil, &diag.StructuralError{
					Tables: []string{t.ID().String()},
					Reason: fmt.Sprintf("foreign key %s has no referenced table", fk.Name),
				}
			}
		}

		d.tables = append(d.tables, &t)
		d.index[key] = &t
	}

	sort.Slice(d.tables, func(i, j int) bool {
		return d.tables[i].ID().Key() < d.tables[j].ID().Key()
	})

	return d, nil
}

// Tables returns every table ordered by identity
func (d *Directory) Tables() []*Table {
	out := make([]*Table, len(d.tables))
	copy(out, d.tables)
	return out
}

// Get looks up a table by identity, case-insensitively
func (d *Directory) Get(id TableID) (*Table, bool) {
	t, ok := d.index[id.Key()]
	return t, ok
}

// Len returns the number of tables
func (d *Directory) Len() int {
	return len(d.tables)
}
