package planner

import (
	"github.com/vitebski/softdelete-gen/internal/diag"
)

// PlanPurge builds the purge procedure from the analysis purge order. Only soft delete tables
// with a timestamp column take part; every child of a purged table, soft deleting or not, guards
// the parent rows it still references. Returns nil when the feature is off or no table qualifies.
func (p *Planner) PlanPurge() *PurgeProcedure {
	cfg := p.Analysis.Resolver.Config()
	if !cfg.Features.Purge {
		return nil
	}

	schema := cfg.Purge.Schema
	if schema == "" {
		schema = cfg.Output.DefaultSchema
	}
	proc := &PurgeProcedure{
		ProcedureName:   cfg.Purge.ProcedureName,
		Schema:          schema,
		GracePeriodDays: cfg.Purge.GracePeriodDays,
		BatchSize:       cfg.Purge.BatchSize,
		DryRun:          cfg.Purge.DryRun,
	}

	for _, id := range p.Analysis.PurgeOrder {
		t, ok := p.Analysis.Directory.Get(id)
		if !ok || !p.Analysis.Pattern(id).HasSoftDelete {
			continue
		}
		if p.Analysis.Config(id).ExcludeFromPurge {
			p.Logger.Debugf("Table %s is excluded from the purge procedure", id)
			continue
		}

		ref := p.ref(t)
		if ref.ValidFromColumn == "" {
			p.Report.Add(diag.Diagnostic{
				Kind:     diag.PartialInput,
				Table:    id.String(),
				Artifact: proc.ProcedureName,
				Message:  "no soft delete timestamp column; table left out of the purge",
			})
			continue
		}

		step := PurgeStep{Table: ref}
		for _, child := range p.Analysis.Graph.Children(id) {
			step.References = append(step.References, ChildLink{
				Child: p.ref(child),
				Keys:  keyMatches(child, t),
			})
		}
		proc.Steps = append(proc.Steps, step)
	}

	if len(proc.Steps) == 0 {
		p.Logger.Infof("No table qualifies for purging; skipping %s", proc.ProcedureName)
		return nil
	}
	return proc
}
