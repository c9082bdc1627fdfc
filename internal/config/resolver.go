package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar"
	"github.com/sirupsen/logrus"

	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

// ResolvedTableConfig is the effective configuration of one table
type ResolvedTableConfig struct {
	SoftDeleteMode             SoftDeleteMode
	GenerateReactivationGuards bool
	ReactivationCascade        bool
	ReactivationToleranceMs    int64
	ActiveColumn               string
	ValidFromColumn            string
	ValidToColumn              string
	CreatedAtColumn            string
	UpdatedByColumn            string
	UpdatedByType              string
	PolymorphicPatterns        []PolymorphicPattern
	ExcludeFromPurge           bool
	// AppliedOverrides lists the match keys that touched this table, in application order.
	AppliedOverrides []string
}

// Resolver folds the global configuration with overrides.
//
// Every override whose key matches a table is applied, in the order the overrides are declared,
// and each one replaces only the fields it sets. The last declared override wins a field, even
// when an earlier one was more specific: a "category:billing" entry declared after "invoices"
// overrides what "invoices" set.
type Resolver struct {
	cfg    *Config
	Logger *logrus.Logger
}

// NewResolver creates a resolver over cfg
func NewResolver(cfg *Config, logger *logrus.Logger) *Resolver {
	return &Resolver{cfg: cfg, Logger: logger}
}

// Config returns the underlying configuration
func (r *Resolver) Config() *Config {
	return r.cfg
}

// Resolve returns the effective configuration of a table
func (r *Resolver) Resolve(t *models.Table) ResolvedTableConfig {
	rc, _ := r.resolve(t)
	return rc
}

// Matches reports whether an override key selects the table
func (r *Resolver) Matches(o Override, t *models.Table) bool {
	return MatchKey(o.Match, t.Name, t.Schema, t.Category)
}

const categoryPrefix = "category:"

// MatchKey implements the override key grammar: "category:<name>", a glob containing one of
// * ? [ {, or an exact (optionally schema-qualified) name. All comparisons ignore case, the
// category prefix included.
func MatchKey(key, name, schema, category string) bool {
	key = strings.TrimSpace(key)
	if prefix := len(categoryPrefix); len(key) >= prefix && strings.EqualFold(key[:prefix], categoryPrefix) {
		return category != "" && strings.EqualFold(strings.TrimSpace(key[prefix:]), category)
	}

	qualified := name
	if schema != "" {
		qualified = schema + "." + name
	}

	if strings.ContainsAny(key, "*?[{") {
		pattern := strings.ToLower(key)
		target := strings.ToLower(name)
		if strings.Contains(pattern, ".") {
			target = strings.ToLower(qualified)
		}
		matched, err := doublestar.Match(pattern, target)
		return err == nil && matched
	}

	return strings.EqualFold(key, name) || strings.EqualFold(key, qualified)
}

// Check reports overrides that select no table, and fields that a later override overwrote with
// a different value. Neither is fatal: the last declared value stands.
func (r *Resolver) Check(dir *models.Directory) *diag.Report {
	report := diag.NewReport()
	used := make([]bool, len(r.cfg.Overrides))

	for _, t := range dir.Tables() {
		for i, o := range r.cfg.Overrides {
			if r.Matches(o, t) {
				used[i] = true
			}
		}
		_, conflicts := r.resolve(t)
		for _, c := range conflicts {
			report.Add(diag.Diagnostic{Kind: diag.Config, Table: t.ID().String(), Message: c})
		}
	}

	for i, o := range r.cfg.Overrides {
		if !used[i] {
			report.Add(diag.Diagnostic{
				Kind:    diag.Config,
				Message: fmt.Sprintf("override %d (%q) matches no table", i, o.Match),
			})
		}
	}

	return report
}

func (r *Resolver) resolve(t *models.Table) (ResolvedTableConfig, []string) {
	g := r.cfg
	rc := ResolvedTableConfig{
		SoftDeleteMode:             g.SoftDelete.Mode,
		GenerateReactivationGuards: g.Features.ReactivationGuards,
		ReactivationCascade:        g.Features.ReactivationCascade,
		ReactivationToleranceMs:    g.SoftDelete.ReactivationToleranceMs,
		ActiveColumn:               g.Columns.Active,
		ValidFromColumn:            g.Columns.ValidFrom,
		ValidToColumn:              g.Columns.ValidTo,
		CreatedAtColumn:            g.Columns.CreatedAt,
		UpdatedByColumn:            g.Columns.UpdatedBy,
		UpdatedByType:              g.Columns.UpdatedByType,
		PolymorphicPatterns:        slices.Clone(g.Polymorphic),
	}
	if rc.SoftDeleteMode == "" {
		rc.SoftDeleteMode = ModeCascade
	}

	f := &fold{setBy: make(map[string]string)}
	for _, o := range g.Overrides {
		if !r.Matches(o, t) {
			continue
		}
		rc.AppliedOverrides = append(rc.AppliedOverrides, o.Match)

		if o.SoftDeleteMode != nil {
			f.note("soft_delete_mode", o.Match, rc.SoftDeleteMode != *o.SoftDeleteMode)
			rc.SoftDeleteMode = *o.SoftDeleteMode
		}
		if o.GenerateReactivationGuards != nil {
			f.note("reactivation_guards", o.Match, rc.GenerateReactivationGuards != *o.GenerateReactivationGuards)
			rc.GenerateReactivationGuards = *o.GenerateReactivationGuards
		}
		if o.ReactivationCascade != nil {
			f.note("reactivation_cascade", o.Match, rc.ReactivationCascade != *o.ReactivationCascade)
			rc.ReactivationCascade = *o.ReactivationCascade
		}
		if o.ReactivationToleranceMs != nil {
			f.note("reactivation_tolerance_ms", o.Match, rc.ReactivationToleranceMs != *o.ReactivationToleranceMs)
			rc.ReactivationToleranceMs = *o.ReactivationToleranceMs
		}
		if o.ActiveColumn != nil {
			f.note("active_column", o.Match, !strings.EqualFold(rc.ActiveColumn, *o.ActiveColumn))
			rc.ActiveColumn = *o.ActiveColumn
		}
		if o.ValidFromColumn != nil {
			f.note("valid_from_column", o.Match, !strings.EqualFold(rc.ValidFromColumn, *o.ValidFromColumn))
			rc.ValidFromColumn = *o.ValidFromColumn
		}
		if o.ValidToColumn != nil {
			f.note("valid_to_column", o.Match, !strings.EqualFold(rc.ValidToColumn, *o.ValidToColumn))
			rc.ValidToColumn = *o.ValidToColumn
		}
		if o.UpdatedByColumn != nil {
			f.note("updated_by_column", o.Match, !strings.EqualFold(rc.UpdatedByColumn, *o.UpdatedByColumn))
			rc.UpdatedByColumn = *o.UpdatedByColumn
		}
		if o.UpdatedByType != nil {
			f.note("updated_by_type", o.Match, !strings.EqualFold(rc.UpdatedByType, *o.UpdatedByType))
			rc.UpdatedByType = *o.UpdatedByType
		}
		if o.PolymorphicPatterns != nil {
			f.note("polymorphic", o.Match, !slices.Equal(rc.PolymorphicPatterns, o.PolymorphicPatterns))
			rc.PolymorphicPatterns = slices.Clone(o.PolymorphicPatterns)
		}
		if o.ExcludeFromPurge != nil {
			f.note("exclude_from_purge", o.Match, rc.ExcludeFromPurge != *o.ExcludeFromPurge)
			rc.ExcludeFromPurge = *o.ExcludeFromPurge
		}
	}

	return rc, f.conflicts
}

// fold tracks which override last set each field
type fold struct {
	setBy     map[string]string
	conflicts []string
}

func (f *fold) note(field, key string, changed bool) {
	if prev, ok := f.setBy[field]; ok && changed {
		f.conflicts = append(f.conflicts,
			fmt.Sprintf("%s set by override %q is overwritten by later override %q", field, prev, key))
	}
	f.setBy[field] = key
}
