// Package planner decides which soft delete triggers and which purge procedure a schema needs,
// and computes the key predicates each of them joins on.
package planner

import (
	"github.com/vitebski/softdelete-gen/pkg/models"
)

// Kind identifies an artifact variant
type Kind int

const (
	KindCascadeSoftDelete Kind = iota
	KindRestrictSoftDelete
	KindReactivationGuard
	KindCascadeReactivation
	KindPurgeProcedure
)

func (k Kind) String() string {
	switch k {
	case KindCascadeSoftDelete:
		return "cascade_soft_delete"
	case KindRestrictSoftDelete:
		return "restrict_soft_delete"
	case KindReactivationGuard:
		return "reactivation_guard"
	case KindCascadeReactivation:
		return "cascade_reactivation"
	case KindPurgeProcedure:
		return "purge_procedure"
	default:
		return "unknown"
	}
}

// IsTrigger reports whether the artifact kind is a trigger
func (k Kind) IsTrigger() bool {
	return k != KindPurgeProcedure
}

// Artifact is one planned SQL object
type Artifact interface {
	Kind() Kind
	// Name is the SQL object name.
	Name() string
	// Table is the table the object is declared on; zero for the purge procedure.
	Table() models.TableID
	// FileName is the deterministic file the object is written to.
	FileName() string
}

// TriggerName builds the trigger name for a table and trigger kind
func TriggerName(table string, kind Kind) string {
	return "trg_" + table + "_" + kind.String()
}

// QualifiedFileName is FileName with the table's schema in front of the table name. It tells
// apart the files of same-named tables in different schemas.
func QualifiedFileName(a Artifact) string {
	id := a.Table()
	if id.Schema == "" || !a.Kind().IsTrigger() {
		return a.FileName()
	}
	return TriggerName(id.Schema+"_"+id.Name, a.Kind()) + ".sql"
}

// TableRef carries the column names of a table an artifact reads or writes. Optional columns the
// table does not have are empty.
type TableRef struct {
	ID              models.TableID
	PrimaryKey      []string
	ActiveColumn    string
	ValidFromColumn string
	UpdatedByColumn string
	UpdatedByType   string
}

// KeyPair equates one child column with one parent column
type KeyPair struct {
	ChildColumn  string
	ParentColumn string
}

// KeyMatch is the predicate of one foreign key: every pair must be equal
type KeyMatch []KeyPair

// PolymorphicLink matches a child that references its owner through a type/id column pair
type PolymorphicLink struct {
	TypeColumn   string
	IDColumn     string
	TypeValue    string
	ParentColumn string
}

// ChildLink is one child table of a parent. The child row matches when any of Keys matches, or
// when the polymorphic pair matches.
type ChildLink struct {
	Child       TableRef
	Keys        []KeyMatch
	Polymorphic *PolymorphicLink
}

// SelfReference reports whether the child is the parent table itself
func (l ChildLink) SelfReference(parent models.TableID) bool {
	return l.Child.ID.Key() == parent.Key()
}

// Skipped records a child left out of an artifact, rendered as a comment
type Skipped struct {
	Table  models.TableID
	Reason string
}

// CascadeSoftDelete soft deletes active children when their parent is soft deleted
type CascadeSoftDelete struct {
	Parent   TableRef
	Children []ChildLink
	Skipped  []Skipped
}

func (a *CascadeSoftDelete) Kind() Kind            { return KindCascadeSoftDelete }
func (a *CascadeSoftDelete) Name() string          { return TriggerName(a.Parent.ID.Name, a.Kind()) }
func (a *CascadeSoftDelete) Table() models.TableID { return a.Parent.ID }
func (a *CascadeSoftDelete) FileName() string      { return a.Name() + ".sql" }

// RestrictSoftDelete rejects soft deleting a parent that active children still reference
type RestrictSoftDelete struct {
	Parent   TableRef
	Children []ChildLink
	Skipped  []Skipped
}

func (a *RestrictSoftDelete) Kind() Kind            { return KindRestrictSoftDelete }
func (a *RestrictSoftDelete) Name() string          { return TriggerName(a.Parent.ID.Name, a.Kind()) }
func (a *RestrictSoftDelete) Table() models.TableID { return a.Parent.ID }
func (a *RestrictSoftDelete) FileName() string      { return a.Name() + ".sql" }

// ParentCheck is one parent a reactivated row must not point at while it is inactive
type ParentCheck struct {
	Parent TableRef
	Keys   []KeyMatch
}

// ReactivationGuard rejects reactivating a row whose parent is still soft deleted
type ReactivationGuard struct {
	Child   TableRef
	Parents []ParentCheck
}

func (a *ReactivationGuard) Kind() Kind            { return KindReactivationGuard }
func (a *ReactivationGuard) Name() string          { return TriggerName(a.Child.ID.Name, a.Kind()) }
func (a *ReactivationGuard) Table() models.TableID { return a.Child.ID }
func (a *ReactivationGuard) FileName() string      { return a.Name() + ".sql" }

// CascadeReactivation reactivates children that were soft deleted together with their parent
type CascadeReactivation struct {
	Parent   TableRef
	Children []ChildLink
	Window   ReactivationWindow
	Skipped  []Skipped
}

func (a *CascadeReactivation) Kind() Kind            { return KindCascadeReactivation }
func (a *CascadeReactivation) Name() string          { return TriggerName(a.Parent.ID.Name, a.Kind()) }
func (a *CascadeReactivation) Table() models.TableID { return a.Parent.ID }
func (a *CascadeReactivation) FileName() string      { return a.Name() + ".sql" }

// PurgeStep deletes the expired soft deleted rows of one table. References lists every child
// whose rows keep a parent row alive.
type PurgeStep struct {
	Table      TableRef
	References []ChildLink
}

// PurgeProcedure permanently deletes soft deleted rows older than the grace period, children
// before parents
type PurgeProcedure struct {
	ProcedureName   string
	Schema          string
	Steps           []PurgeStep
	GracePeriodDays int
	BatchSize       int
	DryRun          bool
}

func (a *PurgeProcedure) Kind() Kind            { return KindPurgeProcedure }
func (a *PurgeProcedure) Name() string          { return a.ProcedureName }
func (a *PurgeProcedure) Table() models.TableID { return models.TableID{} }
func (a *PurgeProcedure) FileName() string      { return a.ProcedureName + ".sql" }
