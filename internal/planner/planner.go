package planner

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vitebski/softdelete-gen/internal/analyzer"
	"github.com/vitebski/softdelete-gen/internal/config"
	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

// Planner turns an analyzed schema into artifacts. It only reads the analysis, so tables can be
// planned independently and in any order.
type Planner struct {
	Analysis *analyzer.SchemaAnalyzer
	Report   *diag.Report
	Logger   *logrus.Logger
}

// NewPlanner creates a planner over a completed analysis
func NewPlanner(analysis *analyzer.SchemaAnalyzer, logger *logrus.Logger) *Planner {
	return &Planner{
		Analysis: analysis,
		Report:   diag.NewReport(),
		Logger:   logger,
	}
}

// Plan returns every artifact of the schema: per table in identity order, then the purge
// procedure
func (p *Planner) Plan() []Artifact {
	var artifacts []Artifact
	for _, t := range p.Analysis.Directory.Tables() {
		artifacts = append(artifacts, p.PlanTable(t)...)
	}
	if purge := p.PlanPurge(); purge != nil {
		artifacts = append(artifacts, purge)
	}
	p.Logger.Infof("Planned %d artifacts", len(artifacts))
	return artifacts
}

// PlanTable returns the triggers declared on one table
func (p *Planner) PlanTable(t *models.Table) []Artifact {
	var artifacts []Artifact
	rc := p.Analysis.Config(t.ID())

	switch rc.SoftDeleteMode {
	case config.ModeCascade:
		if a := p.planCascade(t); a != nil {
			artifacts = append(artifacts, a)
		}
	case config.ModeRestrict:
		if a := p.planRestrict(t); a != nil {
			artifacts = append(artifacts, a)
		}
	}

	// Reactivation triggers apply in every mode but Ignore
	if a := p.planCascadeReactivation(t); a != nil {
		artifacts = append(artifacts, a)
	}
	if a := p.planGuard(t); a != nil {
		artifacts = append(artifacts, a)
	}
	return artifacts
}

func (p *Planner) planCascade(t *models.Table) Artifact {
	if !p.Analysis.Pattern(t.ID()).HasSoftDelete {
		return nil
	}
	children, skipped := p.childLinks(t, KindCascadeSoftDelete)
	if len(children)+len(skipped) == 0 {
		return nil
	}
	if !p.parentReady(t, KindCascadeSoftDelete, children) {
		return nil
	}
	return &CascadeSoftDelete{Parent: p.ref(t), Children: children, Skipped: skipped}
}

func (p *Planner) planRestrict(t *models.Table) Artifact {
	if !p.Analysis.Pattern(t.ID()).HasSoftDelete {
		return nil
	}
	children, skipped := p.childLinks(t, KindRestrictSoftDelete)
	if len(children)+len(skipped) == 0 {
		return nil
	}
	if !p.parentReady(t, KindRestrictSoftDelete, children) {
		return nil
	}
	return &RestrictSoftDelete{Parent: p.ref(t), Children: children, Skipped: skipped}
}

func (p *Planner) planCascadeReactivation(t *models.Table) Artifact {
	rc := p.Analysis.Config(t.ID())
	if !rc.ReactivationCascade || rc.SoftDeleteMode == config.ModeIgnore {
		return nil
	}
	if !p.Analysis.Pattern(t.ID()).HasSoftDelete {
		return nil
	}

	children, skipped := p.childLinks(t, KindCascadeReactivation)
	if len(children)+len(skipped) == 0 {
		return nil
	}

	// The window compares soft delete times, so the parent needs its timestamp column
	parent := p.ref(t)
	if parent.ValidFromColumn == "" {
		p.partial(t, KindCascadeReactivation, "column %s is missing, so the soft delete time is unknown", rc.ValidFromColumn)
		return nil
	}
	if !p.parentReady(t, KindCascadeReactivation, children) {
		return nil
	}

	return &CascadeReactivation{
		Parent:   parent,
		Children: children,
		Skipped:  skipped,
		Window:   ReactivationWindow{ToleranceMs: rc.ReactivationToleranceMs},
	}
}

// planGuard plans the reactivation guard a table owes to its parents, whatever its own mode
func (p *Planner) planGuard(t *models.Table) Artifact {
	rc := p.Analysis.Config(t.ID())
	if !rc.GenerateReactivationGuards || !p.Analysis.Pattern(t.ID()).HasSoftDelete {
		return nil
	}

	// Only parents that can be soft deleted are worth checking
	var checks []ParentCheck
	for _, parent := range p.Analysis.Graph.Parents(t.ID()) {
		if !p.Analysis.Pattern(parent.ID()).HasSoftDelete {
			continue
		}
		if p.Analysis.Config(parent.ID()).SoftDeleteMode == config.ModeIgnore {
			continue
		}
		checks = append(checks, ParentCheck{Parent: p.ref(parent), Keys: keyMatches(t, parent)})
	}
	if len(checks) == 0 {
		return nil
	}

	if len(t.PrimaryKey) == 0 {
		p.partial(t, KindReactivationGuard, "no primary key to correlate old and new row versions")
		return nil
	}

	return &ReactivationGuard{Child: p.ref(t), Parents: checks}
}

// childLinks collects the children of a parent: foreign key children first, then polymorphic
// children naming the parent. Children that do not soft delete are skipped.
func (p *Planner) childLinks(parent *models.Table, kind Kind) ([]ChildLink, []Skipped) {
	var links []ChildLink
	var skipped []Skipped

	for _, child := range p.Analysis.Graph.Children(parent.ID()) {
		if !p.Analysis.Pattern(child.ID()).HasSoftDelete {
			skipped = append(skipped, Skipped{Table: child.ID(), Reason: "child does not soft delete"})
			continue
		}
		if kind == KindCascadeReactivation && p.ref(child).ValidFromColumn == "" {
			skipped = append(skipped, Skipped{Table: child.ID(), Reason: "child has no soft delete timestamp column"})
			continue
		}
		links = append(links, ChildLink{Child: p.ref(child), Keys: keyMatches(child, parent)})
	}

	// Polymorphic children do not take part in reactivation
	if kind == KindCascadeReactivation {
		return links, skipped
	}

	// Polymorphic children have no foreign key, so scan for type values naming the parent
	for _, child := range p.Analysis.Directory.Tables() {
		pattern := p.Analysis.Pattern(child.ID())
		if !pattern.IsPolymorphic || !allows(pattern.Polymorphic.AllowedValues, parent) {
			continue
		}
		if !pattern.HasSoftDelete {
			skipped = append(skipped, Skipped{Table: child.ID(), Reason: "polymorphic child does not soft delete"})
			continue
		}
		if len(parent.PrimaryKey) != 1 {
			skipped = append(skipped, Skipped{Table: child.ID(), Reason: "polymorphic owner needs a single column primary key"})
			continue
		}
		links = append(links, ChildLink{
			Child: p.ref(child),
			Polymorphic: &PolymorphicLink{
				TypeColumn:   pattern.Polymorphic.TypeColumn,
				IDColumn:     pattern.Polymorphic.IDColumn,
				TypeValue:    matchingValue(pattern.Polymorphic.AllowedValues, parent),
				ParentColumn: columnName(parent, parent.PrimaryKey[0]),
			},
		})
	}

	return links, skipped
}

// parentReady checks what every parent-role trigger needs: a primary key to pair old and new row
// versions, and at least one child left to act on
func (p *Planner) parentReady(t *models.Table, kind Kind, children []ChildLink) bool {
	if len(children) == 0 {
		p.partial(t, kind, "no child table soft deletes")
		return false
	}
	if len(t.PrimaryKey) == 0 {
		p.partial(t, kind, "no primary key to correlate old and new row versions")
		return false
	}
	return true
}

func (p *Planner) partial(t *models.Table, kind Kind, format string, args ...interface{}) {
	p.Report.Addf(diag.PartialInput, t.ID().String(), TriggerName(t.Name, kind), format, args...)
}

// ref builds the column view of a table using its own resolved configuration
func (p *Planner) ref(t *models.Table) TableRef {
	rc := p.Analysis.Config(t.ID())
	ref := TableRef{
		ID:              t.ID(),
		ActiveColumn:    columnName(t, rc.ActiveColumn),
		ValidFromColumn: columnName(t, rc.ValidFromColumn),
		UpdatedByColumn: columnName(t, rc.UpdatedByColumn),
		UpdatedByType:   rc.UpdatedByType,
	}
	for _, c := range t.PrimaryKey {
		ref.PrimaryKey = append(ref.PrimaryKey, columnName(t, c))
	}
	return ref
}

// keyMatches returns one predicate per foreign key from child to parent, in declaration order
func keyMatches(child, parent *models.Table) []KeyMatch {
	var matches []KeyMatch
	for _, fk := range child.ForeignKeys {
		if child.ReferencedID(fk).Key() != parent.ID().Key() {
			continue
		}
		match := make(KeyMatch, 0, len(fk.Columns))
		for i := range fk.Columns {
			match = append(match, KeyPair{
				ChildColumn:  keyColumn(child, fk.Columns[i]),
				ParentColumn: keyColumn(parent, fk.ReferencedColumns[i]),
			})
		}
		matches = append(matches, match)
	}
	return matches
}

// keyColumn is columnName for key columns, which are kept as written when the table does not
// list them
func keyColumn(t *models.Table, name string) string {
	if c := columnName(t, name); c != "" {
		return c
	}
	return name
}

// columnName returns the table's spelling of a column, or "" when the table lacks it
func columnName(t *models.Table, name string) string {
	if c, ok := t.Column(name); ok {
		return c.Name
	}
	for _, pk := range t.PrimaryKey {
		if strings.EqualFold(pk, name) {
			return pk
		}
	}
	for _, fk := range t.ForeignKeys {
		for _, c := range fk.Columns {
			if strings.EqualFold(c, name) {
				return c
			}
		}
	}
	return ""
}

func allows(values []string, parent *models.Table) bool {
	return matchingValue(values, parent) != ""
}

func matchingValue(values []string, parent *models.Table) string {
	for _, v := range values {
		if strings.EqualFold(v, parent.Name) || strings.EqualFold(v, parent.ID().String()) {
			return v
		}
	}
	return ""
}
