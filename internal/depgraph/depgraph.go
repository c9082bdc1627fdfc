// Package depgraph builds the foreign key dependency graph of a schema: which tables reference
// which, which tables are leaves, where the cycles are, and the order in which soft deleted rows
// can be purged without violating a foreign key.
package depgraph

import (
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/yourbasic/graph"

	"github.com/vitebski/softdelete-gen/pkg/models"
)

// Graph is an arena of tables indexed by position, with child->parent edges per foreign key.
// Vertices are numbered in table identity order so every traversal is deterministic.
type Graph struct {
	tables   []*models.Table
	index    map[string]int
	edges    *graph.Mutable
	children [][]int
	parents  [][]int
	selfRefs []bool
	Logger   *logrus.Logger
}

// New builds the graph. Foreign keys pointing outside the directory are logged and ignored.
func New(dir *models.Directory, logger *logrus.Logger) *Graph {
	tables := dir.Tables()
	g := &Graph{
		tables:   tables,
		index:    make(map[string]int, len(tables)),
		edges:    graph.New(len(tables)),
		children: make([][]int, len(tables)),
		parents:  make([][]int, len(tables)),
		selfRefs: make([]bool, len(tables)),
		Logger:   logger,
	}

	// Index tables by case-folded identity
	for i, t := range tables {
		g.index[t.ID().Key()] = i
	}

	for child, t := range tables {
		for _, fk := range t.ForeignKeys {
			ref := t.ReferencedID(fk)
			parent, ok := g.index[ref.Key()]
			if !ok {
				logger.Warningf("Foreign key %s on %s references %s, which is not part of the schema; ignoring it",
					fk.Name, t.ID(), ref)
				continue
			}

			// Several keys between the same pair collapse into one edge
			if g.edges.Edge(child, parent) {
				continue
			}
			g.edges.Add(child, parent)
			g.children[parent] = append(g.children[parent], child)
			g.parents[child] = append(g.parents[child], parent)
			if child == parent {
				g.selfRefs[child] = true
			}
		}
	}

	// Keep neighbour lists in identity order
	for i := range tables {
		sort.Ints(g.children[i])
		sort.Ints(g.parents[i])
	}

	return g
}

// Len returns the number of tables in the graph
func (g *Graph) Len() int {
	return len(g.tables)
}

// Table returns the table behind an identity
func (g *Graph) Table(id models.TableID) (*models.Table, bool) {
	i, ok := g.index[id.Key()]
	if !ok {
		return nil, false
	}
	return g.tables[i], true
}

// Children returns the tables holding a foreign key to id, each once, in identity order.
// A self-referencing table is its own child.
func (g *Graph) Children(id models.TableID) []*models.Table {
	i, ok := g.index[id.Key()]
	if !ok {
		return nil
	}
	return g.resolve(g.children[i])
}

// Parents returns the tables id holds a foreign key to, each once, in identity order
func (g *Graph) Parents(id models.TableID) []*models.Table {
	i, ok := g.index[id.Key()]
	if !ok {
		return nil
	}
	return g.resolve(g.parents[i])
}

// IsLeaf reports whether no table references id
func (g *Graph) IsLeaf(id models.TableID) bool {
	i, ok := g.index[id.Key()]
	return !ok || len(g.children[i]) == 0
}

// IsSelfReferencing reports whether id holds a foreign key to itself
func (g *Graph) IsSelfReferencing(id models.TableID) bool {
	i, ok := g.index[id.Key()]
	return ok && g.selfRefs[i]
}

func (g *Graph) resolve(indices []int) []*models.Table {
	out := make([]*models.Table, 0, len(indices))
	for _, i := range indices {
		out = append(out, g.tables[i])
	}
	return out
}

func (g *Graph) names(indices []int) []string {
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		out = append(out, g.tables[i].ID().String())
	}
	return out
}
