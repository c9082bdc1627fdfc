// Package explicit drops planned artifacts that a user already declared by hand.
package explicit

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/internal/planner"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

// Filter applies the explicit-wins rule: a declaration outside the generated directories
// suppresses the same-named artifact. A declaration inside them is a previous run's output and
// is regenerated only when Force is set.
type Filter struct {
	declared map[string][]models.Declaration
	Force    bool
	Logger   *logrus.Logger
}

// NewFilter indexes the discovered declarations by lowercased name
func NewFilter(declarations []models.Declaration, force bool, logger *logrus.Logger) *Filter {
	f := &Filter{
		declared: make(map[string][]models.Declaration),
		Force:    force,
		Logger:   logger,
	}
	for _, d := range declarations {
		key := strings.ToLower(d.Name)
		f.declared[key] = append(f.declared[key], d)
	}
	return f
}

// Apply returns the artifacts to emit, in their original order, and a Skip diagnostic for each
// artifact dropped. Each artifact is decided on its own.
func (f *Filter) Apply(artifacts []planner.Artifact) ([]planner.Artifact, *diag.Report) {
	report := diag.NewReport()
	kept := make([]planner.Artifact, 0, len(artifacts))

	for _, a := range artifacts {
		d, explicit := f.conflict(a)
		switch {
		case d == nil:
			kept = append(kept, a)
		case explicit:
			f.Logger.Infof("Skipping %s: declared by hand in %s", a.Name(), d.SourcePath)
			report.Add(diag.Diagnostic{
				Kind:     diag.Skip,
				Table:    tableName(a),
				Artifact: a.Name(),
				Message:  "a hand-written declaration with the same name exists",
				Location: d.SourcePath,
			})
		case f.Force:
			f.Logger.Debugf("Regenerating %s over %s", a.Name(), d.SourcePath)
			kept = append(kept, a)
		default:
			f.Logger.Infof("Keeping existing %s unchanged (force is off)", d.SourcePath)
			report.Add(diag.Diagnostic{
				Kind:     diag.Skip,
				Table:    tableName(a),
				Artifact: a.Name(),
				Message:  "already generated and force is off",
				Location: d.SourcePath,
			})
		}
	}

	return kept, report
}

// conflict finds the declaration an artifact collides with. A hand-written declaration takes
// precedence over a generated one of the same name.
func (f *Filter) conflict(a planner.Artifact) (*models.Declaration, bool) {
	var generated *models.Declaration
	candidates := f.declared[strings.ToLower(a.Name())]
	for i := range candidates {
		d := &candidates[i]
		if !sameSchema(d.Schema, artifactSchema(a)) {
			continue
		}
		if !d.IsGeneratedLocation {
			return d, true
		}
		// Remember the first generated match, a hand-written one may still follow
		if generated == nil {
			generated = d
		}
	}
	return generated, false
}

// sameSchema treats an unknown schema on either side as a match
func sameSchema(a, b string) bool {
	return a == "" || b == "" || strings.EqualFold(a, b)
}

func artifactSchema(a planner.Artifact) string {
	if p, ok := a.(*planner.PurgeProcedure); ok {
		return p.Schema
	}
	return a.Table().Schema
}

func tableName(a planner.Artifact) string {
	if a.Table().Name == "" {
		return ""
	}
	return a.Table().String()
}
