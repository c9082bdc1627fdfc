package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "softdelete.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
features:
  reactivation_cascade: true
columns:
  active: is_active
soft_delete:
  mode: Restrict
  reactivation_tolerance_ms: 500
purge:
  grace_period_days: 30
  batch_size: 1000
output:
  dialect: mysql
overrides:
  - match: users
    soft_delete_mode: cascade
  - match: "category:audit"
    reactivation_guards: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Features.SoftDelete, "unset keys keep their defaults")
	assert.True(t, cfg.Features.ReactivationCascade)
	assert.Equal(t, "is_active", cfg.Columns.Active)
	assert.Equal(t, "valid_from", cfg.Columns.ValidFrom)
	assert.Equal(t, ModeRestrict, cfg.SoftDelete.Mode)
	assert.Equal(t, int64(500), cfg.SoftDelete.ReactivationToleranceMs)
	assert.Equal(t, 30, cfg.Purge.GracePeriodDays)
	assert.Equal(t, 1000, cfg.Purge.BatchSize)
	assert.Equal(t, DialectMySQL, cfg.Output.Dialect)
	require.Len(t, cfg.Overrides, 2)
	require.NotNil(t, cfg.Overrides[0].SoftDeleteMode)
	assert.Equal(t, ModeCascade, *cfg.Overrides[0].SoftDeleteMode)
	assert.Nil(t, cfg.Overrides[0].GenerateReactivationGuards)
	require.NotNil(t, cfg.Overrides[1].GenerateReactivationGuards)
	assert.False(t, *cfg.Overrides[1].GenerateReactivationGuards)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "unknown_key", yaml: "colums:\n  active: x\n", wantErr: "colums"},
		{name: "bad_mode", yaml: "soft_delete:\n  mode: sometimes\n", wantErr: "unknown soft delete mode"},
		{name: "negative_batch", yaml: "purge:\n  batch_size: -1\n", wantErr: "batch_size"},
		{name: "bad_dialect", yaml: "output:\n  dialect: oracle\n", wantErr: "not supported"},
		{name: "empty_match", yaml: "overrides:\n  - match: ''\n", wantErr: "match is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestMatchKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		table    string
		schema   string
		category string
		want     bool
	}{
		{name: "exact", key: "users", table: "Users", want: true},
		{name: "exact_other", key: "users", table: "orders", want: false},
		{name: "qualified", key: "dbo.users", table: "users", schema: "DBO", want: true},
		{name: "category", key: "category:Audit", table: "log", category: "audit", want: true},
		{name: "category_prefix_case", key: "Category:billing", table: "invoices", category: "billing", want: true},
		{name: "category_prefix_upper", key: "CATEGORY: Billing", table: "invoices", category: "billing", want: true},
		{name: "category_missing", key: "category:audit", table: "log", want: false},
		{name: "glob", key: "tmp_*", table: "TMP_import", want: true},
		{name: "glob_miss", key: "tmp_*", table: "import_tmp", want: false},
		{name: "glob_qualified", key: "stage.*", table: "orders", schema: "stage", want: true},
		{name: "glob_alternatives", key: "{users,orders}", table: "orders", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchKey(tt.key, tt.table, tt.schema, tt.category))
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestResolveLastDeclaredWins(t *testing.T) {
	cfg := Default()
	cfg.Overrides = []Override{
		{Match: "invoices", SoftDeleteMode: ptr(ModeIgnore), ActiveColumn: ptr("is_live")},
		{Match: "category:billing", SoftDeleteMode: ptr(ModeRestrict)},
		{Match: "inv*", ReactivationToleranceMs: ptr(int64(10))},
	}
	r := NewResolver(cfg, testLogger())

	invoices := &models.Table{Name: "invoices", Category: "billing"}
	rc := r.Resolve(invoices)

	// the category entry is less specific but declared later, so it wins the mode
	assert.Equal(t, ModeRestrict, rc.SoftDeleteMode)
	assert.Equal(t, "is_live", rc.ActiveColumn)
	assert.Equal(t, int64(10), rc.ReactivationToleranceMs)
	assert.Equal(t, "valid_from", rc.ValidFromColumn)
	assert.Equal(t, []string{"invoices", "category:billing", "inv*"}, rc.AppliedOverrides)

	other := &models.Table{Name: "payments", Category: "billing"}
	rc = r.Resolve(other)
	assert.Equal(t, ModeRestrict, rc.SoftDeleteMode)
	assert.Equal(t, "active", rc.ActiveColumn)
	assert.Equal(t, int64(2000), rc.ReactivationToleranceMs)

	plain := &models.Table{Name: "users"}
	rc = r.Resolve(plain)
	assert.Equal(t, ModeCascade, rc.SoftDeleteMode)
	assert.True(t, rc.GenerateReactivationGuards)
	assert.False(t, rc.ReactivationCascade)
	assert.Empty(t, rc.AppliedOverrides)
}

func TestResolverCheck(t *testing.T) {
	cfg := Default()
	cfg.Overrides = []Override{
		{Match: "invoices", SoftDeleteMode: ptr(ModeIgnore)},
		{Match: "category:billing", SoftDeleteMode: ptr(ModeRestrict)},
		{Match: "ghost_table", SoftDeleteMode: ptr(ModeIgnore)},
		{Match: "category:billing", ExcludeFromPurge: ptr(true)},
	}
	dir, err := models.NewDirectory([]models.Table{
		{Name: "invoices", Category: "billing"},
		{Name: "users"},
	})
	require.NoError(t, err)

	report := NewResolver(cfg, testLogger()).Check(dir)
	items := report.Of(diag.Config)
	require.Len(t, items, 2)

	assert.Equal(t, "invoices", items[0].Table)
	assert.Contains(t, items[0].Message, "soft_delete_mode")
	assert.Contains(t, items[1].Message, "ghost_table")
	assert.Contains(t, items[1].Message, "matches no table")
}
