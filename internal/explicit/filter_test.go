package explicit

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/internal/planner"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func artifacts() []planner.Artifact {
	users := planner.TableRef{ID: models.TableID{Schema: "dbo", Name: "users"}, PrimaryKey: []string{"id"}}
	orders := planner.TableRef{ID: models.TableID{Schema: "dbo", Name: "orders"}, PrimaryKey: []string{"id"}}
	return []planner.Artifact{
		&planner.CascadeSoftDelete{Parent: users, Children: []planner.ChildLink{{Child: orders}}},
		&planner.ReactivationGuard{Child: orders, Parents: []planner.ParentCheck{{Parent: users}}},
		&planner.PurgeProcedure{ProcedureName: "usp_purge_soft_deleted", Schema: "dbo"},
	}
}

func names(artifacts []planner.Artifact) []string {
	var out []string
	for _, a := range artifacts {
		out = append(out, a.Name())
	}
	return out
}

func TestApply(t *testing.T) {
	tests := []struct {
		name         string
		declarations []models.Declaration
		force        bool
		wantKept     []string
		wantSkipped  []string
	}{
		{
			name:     "no declarations",
			force:    true,
			wantKept: []string{"trg_users_cascade_soft_delete", "trg_orders_reactivation_guard", "usp_purge_soft_deleted"},
		},
		{
			name: "hand-written trigger drops only that artifact",
			declarations: []models.Declaration{
				{Name: "TRG_Users_Cascade_Soft_Delete", Schema: "dbo", TargetTable: "users", SourcePath: "db/triggers/users.sql"},
			},
			force:       true,
			wantKept:    []string{"trg_orders_reactivation_guard", "usp_purge_soft_deleted"},
			wantSkipped: []string{"trg_users_cascade_soft_delete"},
		},
		{
			name: "hand-written procedure",
			declarations: []models.Declaration{
				{Name: "usp_purge_soft_deleted", SourcePath: "db/procs/purge.sql"},
			},
			force:       true,
			wantKept:    []string{"trg_users_cascade_soft_delete", "trg_orders_reactivation_guard"},
			wantSkipped: []string{"usp_purge_soft_deleted"},
		},
		{
			name: "other schema does not collide",
			declarations: []models.Declaration{
				{Name: "trg_users_cascade_soft_delete", Schema: "audit", SourcePath: "db/audit.sql"},
			},
			force:    true,
			wantKept: []string{"trg_users_cascade_soft_delete", "trg_orders_reactivation_guard", "usp_purge_soft_deleted"},
		},
		{
			name: "generated file is regenerated when forced",
			declarations: []models.Declaration{
				{Name: "trg_orders_reactivation_guard", SourcePath: "generated/triggers/trg_orders_reactivation_guard.sql", IsGeneratedLocation: true},
			},
			force:    true,
			wantKept: []string{"trg_users_cascade_soft_delete", "trg_orders_reactivation_guard", "usp_purge_soft_deleted"},
		},
		{
			name: "generated file is preserved without force",
			declarations: []models.Declaration{
				{Name: "trg_orders_reactivation_guard", SourcePath: "generated/triggers/trg_orders_reactivation_guard.sql", IsGeneratedLocation: true},
			},
			force:       false,
			wantKept:    []string{"trg_users_cascade_soft_delete", "usp_purge_soft_deleted"},
			wantSkipped: []string{"trg_orders_reactivation_guard"},
		},
		{
			name: "hand-written wins over generated copy",
			declarations: []models.Declaration{
				{Name: "trg_orders_reactivation_guard", SourcePath: "generated/triggers/trg_orders_reactivation_guard.sql", IsGeneratedLocation: true},
				{Name: "trg_orders_reactivation_guard", SourcePath: "db/orders.sql"},
			},
			force:       true,
			wantKept:    []string{"trg_users_cascade_soft_delete", "usp_purge_soft_deleted"},
			wantSkipped: []string{"trg_orders_reactivation_guard"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(tt.declarations, tt.force, testLogger())
			kept, report := f.Apply(artifacts())

			assert.Equal(t, tt.wantKept, names(kept))

			skips := report.Of(diag.Skip)
			require.Len(t, skips, len(tt.wantSkipped))
			for i, want := range tt.wantSkipped {
				assert.Equal(t, want, skips[i].Artifact)
				assert.NotEmpty(t, skips[i].Location)
			}
			assert.Len(t, report.Items(), len(skips))
		})
	}
}

func TestApplyReportsHandWrittenLocation(t *testing.T) {
	f := NewFilter([]models.Declaration{
		{Name: "trg_orders_reactivation_guard", SourcePath: "generated/triggers/trg_orders_reactivation_guard.sql", IsGeneratedLocation: true},
		{Name: "trg_orders_reactivation_guard", SourcePath: "db/orders.sql"},
	}, false, testLogger())

	_, report := f.Apply(artifacts())

	skips := report.Of(diag.Skip)
	require.Len(t, skips, 1)
	assert.Equal(t, "db/orders.sql", skips[0].Location)
	assert.Equal(t, "dbo.orders", skips[0].Table)
}
