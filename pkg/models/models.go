package models

import (
	"strings"
)

// Column represents a database column with its properties
type Column struct {
	Name       string `yaml:"name"`
	DataType   string `yaml:"data_type,omitempty"`
	IsNullable bool   `yaml:"nullable,omitempty"`
}

// ForeignKey represents a foreign key constraint. Columns and ReferencedColumns are
// positionally paired; more than one pair makes the key composite.
type ForeignKey struct {
	Name              string   `yaml:"name"`
	Columns           []string `yaml:"columns"`
	ReferencedTable   string   `yaml:"referenced_table"`
	ReferencedSchema  string   `yaml:"referenced_schema,omitempty"`
	ReferencedColumns []string `yaml:"referenced_columns"`
	OnDelete          string   `yaml:"on_delete,omitempty"`
}

// IsComposite reports whether the key spans more than one column
func (fk ForeignKey) IsComposite() bool {
	return len(fk.Columns) > 1
}

// CheckConstraint represents a CHECK constraint and its raw expression
type CheckConstraint struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
}

// TableID identifies a table by schema and name
type TableID struct {
	Schema string
	Name   string
}

// String returns schema.name, or just name when the schema is unknown
func (id TableID) String() string {
	if id.Schema == "" {
		return id.Name
	}
	return id.Schema + "." + id.Name
}

// Key returns the case-folded identity used for map lookups
func (id TableID) Key() string {
	return strings.ToLower(id.String())
}

// Table represents everything the generator knows about one table
type Table struct {
	Name                  string            `yaml:"name"`
	Schema                string            `yaml:"schema,omitempty"`
	Category              string            `yaml:"category,omitempty"`
	Columns               []Column          `yaml:"columns"`
	PrimaryKey            []string          `yaml:"primary_key,omitempty"`
	ForeignKeys           []ForeignKey      `yaml:"foreign_keys,omitempty"`
	CheckConstraints      []CheckConstraint `yaml:"check_constraints,omitempty"`
	HasTemporalVersioning bool              `yaml:"temporal,omitempty"`
	// IsHistoryTable marks the generated history table of a temporal table.
	IsHistoryTable bool `yaml:"history,omitempty"`
}

// ID returns the table identity
func (t *Table) ID() TableID {
	return TableID{Schema: t.Schema, Name: t.Name}
}

// Column looks up a column by name, case-insensitively
func (t *Table) Column(name string) (Column, bool) {
	if name == "" {
		return Column{}, false
	}
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// HasColumn reports whether the table has a column with the given name
func (t *Table) HasColumn(name string) bool {
	_, ok := t.Column(name)
	return ok
}

// HasActiveColumn reports whether the table carries the named soft-delete flag column
func (t *Table) HasActiveColumn(activeColumn string) bool {
	return t.HasColumn(activeColumn)
}

// ReferencedID resolves the table a foreign key points at. A key without an explicit
// referenced schema points into the owning table's schema.
func (t *Table) ReferencedID(fk ForeignKey) TableID {
	schema := fk.ReferencedSchema
	if schema == "" {
		schema = t.Schema
	}
	return TableID{Schema: schema, Name: fk.ReferencedTable}
}

// Declaration is a trigger, view or procedure already declared somewhere in the source tree
type Declaration struct {
	Name        string
	Schema      string
	TargetTable string
	SourcePath  string
	// IsGeneratedLocation is true when the declaring file lives in a generated-output directory.
	IsGeneratedLocation bool
}
