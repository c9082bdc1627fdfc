package analyzer

import (
	"regexp"
	"strings"

	"github.com/vitebski/softdelete-gen/internal/config"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

// PolymorphicInfo describes a type/id column pair that references rows of several owner tables
type PolymorphicInfo struct {
	TypeColumn string
	IDColumn   string
	// AllowedValues are the owner type names harvested from CHECK constraints on TypeColumn.
	AllowedValues []string
}

// TablePattern is the classification of one table
type TablePattern struct {
	HasSoftDelete     bool
	IsLeaf            bool
	IsSelfReferencing bool
	IsAppendOnly      bool
	IsPolymorphic     bool
	Polymorphic       *PolymorphicInfo
}

// Classify decides the soft delete, append-only and polymorphic status of a table.
//
// A table soft deletes only when it has the active column, is temporally versioned, and the
// feature is enabled. History tables copy the columns of their base table without owning its
// constraints, so they are never append-only or polymorphic.
func Classify(t *models.Table, rc config.ResolvedTableConfig, softDeleteEnabled, isLeaf, selfRef bool) TablePattern {
	p := TablePattern{
		IsLeaf:            isLeaf,
		IsSelfReferencing: selfRef,
		HasSoftDelete:     softDeleteEnabled && t.HasActiveColumn(rc.ActiveColumn) && t.HasTemporalVersioning,
	}

	if t.IsHistoryTable {
		return p
	}

	p.IsAppendOnly = t.HasColumn(rc.CreatedAtColumn) &&
		!t.HasColumn(rc.UpdatedByColumn) &&
		!t.HasTemporalVersioning

	// First configured type/id pair present on the table wins
	for _, pattern := range rc.PolymorphicPatterns {
		typeCol, okType := t.Column(pattern.TypeColumn)
		idCol, okID := t.Column(pattern.IDColumn)
		if !okType || !okID {
			continue
		}
		p.IsPolymorphic = true
		p.Polymorphic = &PolymorphicInfo{
			TypeColumn:    typeCol.Name,
			IDColumn:      idCol.Name,
			AllowedValues: harvestAllowedValues(t.CheckConstraints, typeCol.Name),
		}
		break
	}

	return p
}

var literalRe = regexp.MustCompile(`'((?:[^']|'')*)'`)

// harvestAllowedValues collects the string literals of every CHECK constraint that mentions
// column, in first-seen order
func harvestAllowedValues(checks []models.CheckConstraint, column string) []string {
	columnRe := regexp.MustCompile(`(?i)(^|[^a-z0-9_])[\[` + "`" + `"]?` + regexp.QuoteMeta(column) +
		`[\]` + "`" + `"]?([^a-z0-9_]|$)`)

	var values []string
	seen := make(map[string]bool)
	for _, check := range checks {
		if !columnRe.MatchString(check.Expression) {
			continue
		}
		// Unescape doubled quotes
		for _, m := range literalRe.FindAllStringSubmatch(check.Expression, -1) {
			v := strings.ReplaceAll(m[1], "''", "'")
			if !seen[v] {
				seen[v] = true
				values = append(values, v)
			}
		}
	}
	return values
}
