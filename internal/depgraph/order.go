package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yourbasic/graph"

	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

const (
	white = iota
	grey
	black
)

// FindCycle walks parent references depth first and returns the first cycle found as a closed
// path (first table repeated at the end), or nil. Self references are not cycles.
func (g *Graph) FindCycle() []string {
	color := make([]int, len(g.tables))
	stack := make([]int, 0, len(g.tables))

	var cycle []int
	var visit func(v int) bool
	visit = func(v int) bool {
		// Mark as in progress and push onto the current path
		color[v] = grey
		stack = append(stack, v)
		for _, p := range g.parents[v] {
			// Skip self references
			if p == v {
				continue
			}
			switch color[p] {
			case grey:
				// back edge: the cycle is the stack from p onwards
				for i, s := range stack {
					if s == p {
						cycle = append(append([]int{}, stack[i:]...), p)
						break
					}
				}
				return true
			case white:
				if visit(p) {
					return true
				}
			}
		}
		// Fully explored, pop it
		stack = stack[:len(stack)-1]
		color[v] = black
		return false
	}

	// Start from every unvisited table so disconnected parts are covered
	for v := range g.tables {
		if color[v] == white && visit(v) {
			return g.names(cycle)
		}
	}
	return nil
}

// CircularTables returns every table that sits on a multi-table cycle
func (g *Graph) CircularTables() map[string]bool {
	circular := make(map[string]bool)
	for _, component := range graph.StrongComponents(g.edges) {
		// A single table component is at most a self reference
		if len(component) < 2 {
			continue
		}
		for _, v := range component {
			circular[g.tables[v].ID().String()] = true
		}
	}
	return circular
}

// PurgeOrder returns every table ordered so that each table comes before all tables it
// references, which is the order rows can be deleted in. Ties go to the table whose identity sorts
// first. A multi-table cycle is a StructuralError and no order is returned.
func (g *Graph) PurgeOrder() ([]models.TableID, error) {
	if cycle := g.FindCycle(); cycle != nil {
		return nil, g.cycleError(cycle)
	}

	// remaining children per table, self references excluded
	pending := make([]int, len(g.tables))
	for v := range g.tables {
		for _, c := range g.children[v] {
			if c != v {
				pending[v]++
			}
		}
	}

	// Tables nothing references can go first
	var ready []int
	for v := range g.tables {
		if pending[v] == 0 {
			ready = append(ready, v)
		}
	}

	order := make([]models.TableID, 0, len(g.tables))
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		order = append(order, g.tables[v].ID())

		// Release each parent once its last child is placed
		for _, p := range g.parents[v] {
			if p == v {
				continue
			}
			pending[p]--
			if pending[p] == 0 {
				ready = insertSorted(ready, p)
			}
		}
	}

	if len(order) != len(g.tables) {
		// Unreachable after FindCycle; never return a partial order
		return nil, &diag.StructuralError{Reason: "dependency order is incomplete"}
	}

	g.Logger.Debugf("Purge order: %v", order)
	return order, nil
}

func (g *Graph) cycleError(cycle []string) error {
	// Report every table on any cycle, not just the first cycle found
	circular := g.CircularTables()
	var involved []string
	for name := range circular {
		involved = append(involved, name)
	}
	sort.Strings(involved)

	return &diag.StructuralError{
		Tables: cycle,
		Reason: fmt.Sprintf("foreign key cycle; tables on cycles: %s", strings.Join(involved, ", ")),
	}
}

func insertSorted(s []int, v int) []int {
	i := sort.SearchInts(s, v)
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}
