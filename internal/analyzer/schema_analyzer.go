// Package analyzer combines the dependency graph, the resolved per-table configuration and the
// pattern classification of every table into one analysis the planner works from.
package analyzer

import (
	"github.com/sirupsen/logrus"

	"github.com/vitebski/softdelete-gen/internal/config"
	"github.com/vitebski/softdelete-gen/internal/depgraph"
	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

// SchemaAnalyzer analyzes a schema snapshot: dependencies, configuration and table patterns
type SchemaAnalyzer struct {
	Directory      *models.Directory
	Resolver       *config.Resolver
	Graph          *depgraph.Graph
	Configs        map[string]config.ResolvedTableConfig
	Patterns       map[string]TablePattern
	CircularTables map[string]bool
	PurgeOrder     []models.TableID
	Report         *diag.Report
	Logger         *logrus.Logger
}

// NewSchemaAnalyzer creates a new schema analyzer
func NewSchemaAnalyzer(dir *models.Directory, resolver *config.Resolver, logger *logrus.Logger) *SchemaAnalyzer {
	return &SchemaAnalyzer{
		Directory:      dir,
		Resolver:       resolver,
		Configs:        make(map[string]config.ResolvedTableConfig),
		Patterns:       make(map[string]TablePattern),
		CircularTables: make(map[string]bool),
		Report:         diag.NewReport(),
		Logger:         logger,
	}
}

// AnalyzeSchema builds the graph, resolves and classifies every table and computes the purge
// order. A foreign key cycle across tables is returned as a StructuralError.
func (sa *SchemaAnalyzer) AnalyzeSchema() error {
	// Build the dependency graph
	sa.Graph = depgraph.New(sa.Directory, sa.Logger)
	sa.CircularTables = sa.Graph.CircularTables()

	// Config warnings never stop the run; last declared override wins
	sa.Report.Merge(sa.Resolver.Check(sa.Directory))

	// Resolve and classify each table
	enabled := sa.Resolver.Config().Features.SoftDelete
	for _, t := range sa.Directory.Tables() {
		id := t.ID()
		rc := sa.Resolver.Resolve(t)
		sa.Configs[id.Key()] = rc
		sa.Patterns[id.Key()] = Classify(t, rc, enabled, sa.Graph.IsLeaf(id), sa.Graph.IsSelfReferencing(id))

		sa.Logger.Debugf("Table %s: mode=%s soft_delete=%t leaf=%t overrides=%v",
			id, rc.SoftDeleteMode, sa.Patterns[id.Key()].HasSoftDelete, sa.Graph.IsLeaf(id), rc.AppliedOverrides)
	}

	// Order for purging; fails on a cycle
	order, err := sa.Graph.PurgeOrder()
	if err != nil {
		sa.Logger.Errorf("Error ordering tables: %v", err)
		return err
	}
	sa.PurgeOrder = order

	sa.Logger.Infof("Analyzed %d tables (%d soft delete, %d circular)",
		sa.Directory.Len(), sa.countSoftDelete(), len(sa.CircularTables))
	return nil
}

// Config returns the resolved configuration of a table
func (sa *SchemaAnalyzer) Config(id models.TableID) config.ResolvedTableConfig {
	return sa.Configs[id.Key()]
}

// Pattern returns the classification of a table
func (sa *SchemaAnalyzer) Pattern(id models.TableID) TablePattern {
	return sa.Patterns[id.Key()]
}

// GetCircularTables returns tables involved in multi-table foreign key cycles
func (sa *SchemaAnalyzer) GetCircularTables() map[string]bool {
	return sa.CircularTables
}

func (sa *SchemaAnalyzer) countSoftDelete() int {
	n := 0
	for _, p := range sa.Patterns {
		if p.HasSoftDelete {
			n++
		}
	}
	return n
}
