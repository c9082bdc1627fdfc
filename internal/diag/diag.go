// Package diag collects the structural errors and non-fatal diagnostics raised while a schema is
// analyzed, planned and emitted.
package diag

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// StructuralError reports a schema shape the generator cannot work with: a foreign key cycle
// spanning more than one table, or a malformed foreign key.
type StructuralError struct {
	Tables []string
	Reason string
}

func (e *StructuralError) Error() string {
	if len(e.Tables) == 0 {
		return "structural error: " + e.Reason
	}
	return fmt.Sprintf("structural error: %s (%s)", e.Reason, strings.Join(e.Tables, " -> "))
}

// Kind classifies a non-fatal diagnostic.
type Kind int

const (
	// Config is an override that matched nothing or overwrote an earlier override's value.
	Config Kind = iota
	// Skip is an artifact deliberately not written (explicit-wins or unforced regeneration).
	Skip
	// PartialInput is a table missing data for one artifact; only that artifact is affected.
	PartialInput
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Skip:
		return "skip"
	case PartialInput:
		return "partial-input"
	default:
		return "unknown"
	}
}

// Diagnostic is a single non-fatal finding.
type Diagnostic struct {
	Kind     Kind
	Table    string
	Artifact string
	Message  string
	// Location is the conflicting source file, when there is one.
	Location string
}

func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(d.Kind.String())
	if d.Table != "" {
		b.WriteString(" [" + d.Table + "]")
	}
	if d.Artifact != "" {
		b.WriteString(" " + d.Artifact)
	}
	b.WriteString(": " + d.Message)
	if d.Location != "" {
		b.WriteString(" (" + d.Location + ")")
	}
	return b.String()
}

// Report accumulates diagnostics. It is safe for concurrent use.
type Report struct {
	mu    sync.Mutex
	items []Diagnostic
}

// NewReport creates an empty report
func NewReport() *Report {
	return &Report{}
}

// Add appends a diagnostic
func (r *Report) Add(d Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, d)
}

// Addf appends a diagnostic built from a format string
func (r *Report) Addf(kind Kind, table, artifact, format string, args ...interface{}) {
	r.Add(Diagnostic{Kind: kind, Table: table, Artifact: artifact, Message: fmt.Sprintf(format, args...)})
}

// Merge appends every diagnostic of other
func (r *Report) Merge(other *Report) {
	if other == nil {
		return
	}
	for _, d := range other.Items() {
		r.Add(d)
	}
}

// Items returns a copy of all diagnostics in insertion order
func (r *Report) Items() []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Diagnostic, len(r.items))
	copy(out, r.items)
	return out
}

// Of returns the diagnostics of one kind
func (r *Report) Of(kind Kind) []Diagnostic {
	var out []Diagnostic
	for _, d := range r.Items() {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of diagnostics
func (r *Report) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// Log writes every diagnostic to the logger, grouped by kind. Skips are informational,
// everything else is a warning.
func (r *Report) Log(logger *logrus.Logger) {
	items := r.Items()
	sort.SliceStable(items, func(i, j int) bool { return items[i].Kind < items[j].Kind })
	for _, d := range items {
		if d.Kind == Skip {
			logger.Infof("%s", d)
			continue
		}
		logger.Warningf("%s", d)
	}
}
