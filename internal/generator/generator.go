// Package generator runs the whole pipeline: schema analysis, artifact planning, the explicit-wins
// filter and file emission.
package generator

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vitebski/softdelete-gen/internal/analyzer"
	"github.com/vitebski/softdelete-gen/internal/config"
	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/internal/emitter"
	"github.com/vitebski/softdelete-gen/internal/explicit"
	"github.com/vitebski/softdelete-gen/internal/planner"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

// Input is everything a run reads: the table facts and the declarations already in the source tree
type Input struct {
	Tables       []models.Table
	Declarations []models.Declaration
}

// Plan is the outcome of planning, before anything is written
type Plan struct {
	Analysis *analyzer.SchemaAnalyzer
	// Planned is every artifact the schema needs; Artifacts is what survives the explicit-wins filter.
	Planned   []planner.Artifact
	Artifacts []planner.Artifact
	Report    *diag.Report
}

// Summary describes a completed run
type Summary struct {
	Tables  int
	Planned int
	Files   []emitter.FileResult
	Report  *diag.Report
}

// Count returns the number of files with the given status
func (s *Summary) Count(status emitter.Status) int {
	n := 0
	for _, f := range s.Files {
		if f.Status == status {
			n++
		}
	}
	return n
}

// Generator runs the pipeline for one configuration
type Generator struct {
	Config *config.Config
	// Workers bounds the files written in parallel; zero uses GOMAXPROCS.
	Workers int
	Logger  *logrus.Logger
}

// NewGenerator creates a new generator
func NewGenerator(cfg *config.Config, logger *logrus.Logger) *Generator {
	return &Generator{Config: cfg, Logger: logger}
}

// Analyze builds the directory and analyzes it. A structural error is returned together with the
// partial analysis, so the caller can still report the tables involved.
func (g *Generator) Analyze(tables []models.Table) (*analyzer.SchemaAnalyzer, error) {
	dir, err := models.NewDirectory(tables)
	if err != nil {
		g.Logger.Errorf("Invalid schema: %v", err)
		return nil, err
	}

	sa := analyzer.NewSchemaAnalyzer(dir, config.NewResolver(g.Config, g.Logger), g.Logger)
	if err := sa.AnalyzeSchema(); err != nil {
		return sa, err
	}
	return sa, nil
}

// Plan analyzes the schema, plans every artifact and drops the ones declared by hand
func (g *Generator) Plan(in Input) (*Plan, error) {
	sa, err := g.Analyze(in.Tables)
	if err != nil {
		return nil, err
	}

	p := planner.NewPlanner(sa, g.Logger)
	planned := p.Plan()

	filter := explicit.NewFilter(in.Declarations, g.Config.Output.Force, g.Logger)
	kept, skips := filter.Apply(planned)

	report := diag.NewReport()
	report.Merge(sa.Report)
	report.Merge(p.Report)
	report.Merge(skips)

	g.Logger.Infof("Planned %d artifacts, %d after explicit declarations", len(planned), len(kept))
	return &Plan{Analysis: sa, Planned: planned, Artifacts: kept, Report: report}, nil
}

// Run plans and writes every artifact
func (g *Generator) Run(ctx context.Context, in Input) (*Summary, error) {
	plan, err := g.Plan(in)
	if err != nil {
		return nil, err
	}

	em, err := emitter.NewEmitter(g.Config.Output, g.Logger)
	if err != nil {
		return nil, err
	}

	result, err := em.WithWorkers(g.Workers).WriteAll(ctx, plan.Artifacts)
	if err != nil {
		return nil, fmt.Errorf("emit artifacts: %w", err)
	}
	plan.Report.Merge(result.Report)

	return &Summary{
		Tables:  plan.Analysis.Directory.Len(),
		Planned: len(plan.Planned),
		Files:   result.Files,
		Report:  plan.Report,
	}, nil
}
