package emitter

import (
	"fmt"
	"strings"

	"github.com/vitebski/softdelete-gen/internal/planner"
)

const indentUnit = "    "

// sqlWriter accumulates indented SQL lines
type sqlWriter struct {
	b strings.Builder
}

func (w *sqlWriter) linef(depth int, format string, args ...interface{}) {
	w.b.WriteString(strings.Repeat(indentUnit, depth))
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteString("\n")
}

func (w *sqlWriter) blank() {
	w.b.WriteString("\n")
}

func (w *sqlWriter) String() string {
	return w.b.String()
}

// quoter renders identifiers and string literals for one dialect
type quoter interface {
	ident(name string) string
	literal(s string) string
}

// matchPredicate renders the condition under which a row of the child (childAlias) belongs to a
// row of the parent (parentAlias). Each foreign key is a conjunction of column equalities; a
// child with several keys to the parent matches through any of them.
func matchPredicate(q quoter, childAlias, parentAlias string, link planner.ChildLink) string {
	var alternatives []string
	for _, km := range link.Keys {
		alternatives = append(alternatives, keyPredicate(q, childAlias, parentAlias, km))
	}
	if poly := link.Polymorphic; poly != nil {
		alternatives = append(alternatives, fmt.Sprintf("(%s.%s = %s AND %s.%s = %s.%s)",
			childAlias, q.ident(poly.TypeColumn), q.literal(poly.TypeValue),
			childAlias, q.ident(poly.IDColumn), parentAlias, q.ident(poly.ParentColumn)))
	}
	if len(alternatives) == 1 {
		return alternatives[0]
	}
	return "(" + strings.Join(alternatives, " OR ") + ")"
}

func keyPredicate(q quoter, childAlias, parentAlias string, km planner.KeyMatch) string {
	parts := make([]string, 0, len(km))
	for _, pair := range km {
		parts = append(parts, fmt.Sprintf("%s.%s = %s.%s",
			childAlias, q.ident(pair.ChildColumn), parentAlias, q.ident(pair.ParentColumn)))
	}
	return "(" + strings.Join(parts, " AND ") + ")"
}

// columnsEqual renders a.c = b.c for every column
func columnsEqual(q quoter, a, b string, columns []string) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		parts = append(parts, fmt.Sprintf("%s.%s = %s.%s", a, q.ident(c), b, q.ident(c)))
	}
	return strings.Join(parts, " AND ")
}

// writeWhere writes a WHERE clause with one condition per line and ends the statement
func writeWhere(w *sqlWriter, depth int, conditions []string) {
	writeConditions(w, depth, conditions, ";")
}

// writeConditions writes a WHERE clause and appends end to its last line
func writeConditions(w *sqlWriter, depth int, conditions []string, end string) {
	for i, c := range conditions {
		tail := ""
		if i == len(conditions)-1 {
			tail = end
		}
		if i == 0 {
			w.linef(depth, "WHERE %s%s", c, tail)
			continue
		}
		w.linef(depth+1, "AND %s%s", c, tail)
	}
}

func writeSkipped(w *sqlWriter, depth int, skipped []planner.Skipped) {
	for _, s := range skipped {
		w.linef(depth, "-- skipped %s: %s", s.Table, s.Reason)
	}
}
