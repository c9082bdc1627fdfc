package emitter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitebski/softdelete-gen/internal/config"
	"github.com/vitebski/softdelete-gen/internal/diag"
	"github.com/vitebski/softdelete-gen/internal/planner"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func ref(name string, pk ...string) planner.TableRef {
	return planner.TableRef{
		ID:              models.TableID{Name: name},
		PrimaryKey:      pk,
		ActiveColumn:    "active",
		ValidFromColumn: "valid_from",
		UpdatedByColumn: "updated_by",
		UpdatedByType:   "INT",
	}
}

func ordersLink() planner.ChildLink {
	return planner.ChildLink{
		Child: ref("orders", "id"),
		Keys:  []planner.KeyMatch{{{ChildColumn: "user_id", ParentColumn: "id"}}},
	}
}

func cascade() *planner.CascadeSoftDelete {
	return &planner.CascadeSoftDelete{Parent: ref("users", "id"), Children: []planner.ChildLink{ordersLink()}}
}

func guard() *planner.ReactivationGuard {
	return &planner.ReactivationGuard{
		Child:   ref("orders", "id"),
		Parents: []planner.ParentCheck{{Parent: ref("users", "id"), Keys: ordersLink().Keys}},
	}
}

func purge() *planner.PurgeProcedure {
	return &planner.PurgeProcedure{
		ProcedureName:   "usp_purge_soft_deleted",
		GracePeriodDays: 90,
		BatchSize:       500,
		Steps: []planner.PurgeStep{
			{Table: ref("orders", "id")},
			{Table: ref("users", "id"), References: []planner.ChildLink{ordersLink()}},
		},
	}
}

func render(t *testing.T, dialect string, a planner.Artifact) string {
	t.Helper()
	out := config.Default().Output
	out.Dialect = dialect
	e, err := NewEmitter(out, testLogger())
	require.NoError(t, err)
	sql, err := e.Render(a)
	require.NoError(t, err)
	require.True(t, HasMarker([]byte(sql)))
	return sql
}

func linesStartingWith(sql, prefix string) []string {
	var out []string
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), prefix) {
			out = append(out, line)
		}
	}
	return out
}

func TestSQLServerCascadeSoftDelete(t *testing.T) {
	sql := render(t, config.DialectSQLServer, cascade())

	assert.Contains(t, sql, "CREATE OR ALTER TRIGGER [dbo].[trg_users_cascade_soft_delete]")
	assert.Contains(t, sql, "ON [dbo].[users]")
	assert.Contains(t, sql, "IF NOT UPDATE([active]) RETURN;")
	assert.Contains(t, sql, "WHERE d.[active] = 1 AND i.[active] = 0")
	assert.Len(t, linesStartingWith(sql, "UPDATE c"), 1)
	assert.Contains(t, sql, "FROM [dbo].[orders] AS c")
	assert.Contains(t, sql, "INNER JOIN inserted AS i ON (c.[user_id] = i.[id])")
	assert.Contains(t, sql, "c.[updated_by] = i.[updated_by]")
}

func TestSQLServerRestrictSoftDelete(t *testing.T) {
	restrict := &planner.RestrictSoftDelete{Parent: ref("users", "id"), Children: []planner.ChildLink{ordersLink()}}
	sql := render(t, config.DialectSQLServer, restrict)

	assert.Empty(t, linesStartingWith(sql, "UPDATE "))
	assert.Contains(t, sql, "ROLLBACK TRANSACTION;")
	assert.Contains(t, sql, "THROW 50001, N'Cannot soft delete users: active rows in orders still reference it.', 1;")
	assert.Contains(t, sql, "INNER JOIN [dbo].[orders] AS c ON (c.[user_id] = i.[id])")
}

func TestSQLServerCompositeKey(t *testing.T) {
	a := &planner.CascadeSoftDelete{
		Parent: ref("users", "tenant_id", "user_id"),
		Children: []planner.ChildLink{{
			Child: ref("orders", "id"),
			Keys: []planner.KeyMatch{{
				{ChildColumn: "tenant_id", ParentColumn: "tenant_id"},
				{ChildColumn: "user_id", ParentColumn: "user_id"},
			}},
		}},
	}
	sql := render(t, config.DialectSQLServer, a)

	assert.Contains(t, sql, "INNER JOIN inserted AS i ON (c.[tenant_id] = i.[tenant_id] AND c.[user_id] = i.[user_id])")
	assert.Contains(t, sql, "INNER JOIN deleted AS d ON d.[tenant_id] = i.[tenant_id] AND d.[user_id] = i.[user_id]")
	assert.NotContains(t, sql, "+")
}

func TestSQLServerMultipleKeysAndPolymorphic(t *testing.T) {
	a := &planner.CascadeSoftDelete{
		Parent: ref("users", "id"),
		Children: []planner.ChildLink{
			{
				Child: ref("transfers", "id"),
				Keys: []planner.KeyMatch{
					{{ChildColumn: "from_user_id", ParentColumn: "id"}},
					{{ChildColumn: "to_user_id", ParentColumn: "id"}},
				},
			},
			{
				Child: ref("comments", "id"),
				Polymorphic: &planner.PolymorphicLink{
					TypeColumn: "owner_type", IDColumn: "owner_id", TypeValue: "User's", ParentColumn: "id",
				},
			},
		},
	}
	sql := render(t, config.DialectSQLServer, a)

	assert.Contains(t, sql, "ON ((c.[from_user_id] = i.[id]) OR (c.[to_user_id] = i.[id]))")
	assert.Contains(t, sql, "ON (c.[owner_type] = N'User''s' AND c.[owner_id] = i.[id])")
}

func TestSQLServerReactivationGuard(t *testing.T) {
	sql := render(t, config.DialectSQLServer, guard())

	assert.Contains(t, sql, "CREATE OR ALTER TRIGGER [dbo].[trg_orders_reactivation_guard]")
	assert.Contains(t, sql, "WHERE d.[active] = 0 AND i.[active] = 1")
	assert.Contains(t, sql, "INNER JOIN [dbo].[users] AS p ON (i.[user_id] = p.[id])")
	assert.Contains(t, sql, "THROW 50002")
	assert.Empty(t, linesStartingWith(sql, "UPDATE "))
}

func TestSQLServerCascadeReactivation(t *testing.T) {
	a := &planner.CascadeReactivation{
		Parent:   ref("users", "id"),
		Children: []planner.ChildLink{ordersLink()},
		Window:   planner.ReactivationWindow{ToleranceMs: 2000},
		Skipped:  []planner.Skipped{{Table: models.TableID{Name: "notes"}, Reason: "child does not soft delete"}},
	}
	sql := render(t, config.DialectSQLServer, a)

	assert.Contains(t, sql, "SET c.[active] = 1,")
	assert.Contains(t, sql, "AND ABS(DATEDIFF_BIG(MICROSECOND, c.[valid_from], d.[valid_from])) <= 2000000;")
	assert.Contains(t, sql, "-- skipped notes: child does not soft delete")
}

func TestSQLServerPurge(t *testing.T) {
	sql := render(t, config.DialectSQLServer, purge())

	assert.Contains(t, sql, "CREATE OR ALTER PROCEDURE [dbo].[usp_purge_soft_deleted]")
	assert.Contains(t, sql, "@DryRun BIT = 0,")
	assert.Contains(t, sql, "@BatchSize INT = 500,")
	assert.Contains(t, sql, "@GracePeriodDays INT = 90")
	assert.Contains(t, sql, "AND NOT EXISTS (SELECT 1 FROM [dbo].[orders] AS r WHERE (r.[user_id] = t.[id]));")
	assert.Contains(t, sql, "BEGIN TRANSACTION;")
	assert.Contains(t, sql, "COMMIT TRANSACTION;")

	deletes := linesStartingWith(sql, "FROM [dbo]")
	require.Len(t, deletes, 4, "one count and one delete per table")
	assert.Contains(t, deletes[2], "[orders]")
	assert.Contains(t, deletes[3], "[users]")
	assert.Less(t, strings.Index(sql, "RETURN;"), strings.Index(sql, "DELETE TOP (@Top) t"))
}

func TestMySQLTriggers(t *testing.T) {
	sql := render(t, config.DialectMySQL, cascade())

	assert.Contains(t, sql, "DROP TRIGGER IF EXISTS `trg_users_cascade_soft_delete`;")
	assert.Contains(t, sql, "DELIMITER $$")
	assert.Contains(t, sql, "AFTER UPDATE ON `users`")
	assert.Contains(t, sql, "IF OLD.`active` = 1 AND NEW.`active` = 0 THEN")
	assert.Contains(t, sql, "UPDATE `orders` AS c")
	assert.Contains(t, sql, "AND (c.`user_id` = NEW.`id`);")
	assert.True(t, strings.HasSuffix(sql, "DELIMITER ;\n"))

	sql = render(t, config.DialectMySQL, guard())
	assert.Contains(t, sql, "BEFORE UPDATE ON `orders`")
	assert.Contains(t, sql, "WHERE p.`active` = 0 AND (NEW.`user_id` = p.`id`)")
	assert.Contains(t, sql, "SIGNAL SQLSTATE '45000'")
}

func TestMySQLSelfReferenceIsSkipped(t *testing.T) {
	categories := ref("categories", "id")
	a := &planner.CascadeSoftDelete{
		Parent: categories,
		Children: []planner.ChildLink{{
			Child: categories,
			Keys:  []planner.KeyMatch{{{ChildColumn: "parent_id", ParentColumn: "id"}}},
		}},
	}

	sql := render(t, config.DialectMySQL, a)
	assert.Empty(t, linesStartingWith(sql, "UPDATE "))
	assert.Contains(t, sql, "-- skipped categories: MySQL triggers cannot modify the table they fire on")

	sql = render(t, config.DialectSQLServer, a)
	assert.Len(t, linesStartingWith(sql, "UPDATE c"), 1)
}

func TestMySQLPurge(t *testing.T) {
	sql := render(t, config.DialectMySQL, purge())

	assert.Contains(t, sql, "CREATE PROCEDURE `usp_purge_soft_deleted`(")
	assert.Contains(t, sql, "SET p_batch_size = COALESCE(p_batch_size, 500);")
	assert.Contains(t, sql, "DECLARE EXIT HANDLER FOR SQLEXCEPTION")
	assert.Contains(t, sql, "START TRANSACTION;")
	assert.Contains(t, sql, "LIMIT v_limit;")
	assert.Contains(t, sql,
		"`id` NOT IN (SELECT k0 FROM (SELECT DISTINCT `user_id` AS k0 FROM `orders` WHERE `user_id` IS NOT NULL) AS ref1)")
	assert.Less(t, strings.Index(sql, "DELETE FROM `orders`"), strings.Index(sql, "DELETE FROM `users`"))
}

func newTestEmitter(t *testing.T, force bool) *Emitter {
	t.Helper()
	root := t.TempDir()
	out := config.Default().Output
	out.TriggersDir = filepath.Join(root, "triggers")
	out.ProceduresDir = filepath.Join(root, "procedures")
	out.Force = force
	e, err := NewEmitter(out, testLogger())
	require.NoError(t, err)
	return e.WithWorkers(2)
}

func TestWriteAll(t *testing.T) {
	e := newTestEmitter(t, true)
	artifacts := []planner.Artifact{cascade(), guard(), purge()}

	result, err := e.WriteAll(context.Background(), artifacts)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count(Written))

	assert.FileExists(t, filepath.Join(e.TriggersDir, "trg_users_cascade_soft_delete.sql"))
	assert.FileExists(t, filepath.Join(e.TriggersDir, "trg_orders_reactivation_guard.sql"))
	assert.FileExists(t, filepath.Join(e.ProceduresDir, "usp_purge_soft_deleted.sql"))

	entries, err := os.ReadDir(e.TriggersDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files are left behind")

	result, err = e.WriteAll(context.Background(), artifacts)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count(Unchanged))
}

func TestWriteAllKeepsHandWrittenFiles(t *testing.T) {
	e := newTestEmitter(t, true)
	require.NoError(t, os.MkdirAll(e.TriggersDir, 0o755))

	path := filepath.Join(e.TriggersDir, "trg_users_cascade_soft_delete.sql")
	handWritten := "CREATE TRIGGER trg_users_cascade_soft_delete ON users AFTER UPDATE AS BEGIN RETURN; END;\n"
	require.NoError(t, os.WriteFile(path, []byte(handWritten), 0o644))

	result, err := e.WriteAll(context.Background(), []planner.Artifact{cascade(), guard()})
	require.NoError(t, err)

	assert.Equal(t, Skipped, result.Files[0].Status)
	assert.Equal(t, Written, result.Files[1].Status)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, handWritten, string(data))

	skips := result.Report.Of(diag.Skip)
	require.Len(t, skips, 1)
	assert.Equal(t, path, skips[0].Location)
}

func TestWriteAllWithoutForce(t *testing.T) {
	e := newTestEmitter(t, false)
	require.NoError(t, os.MkdirAll(e.TriggersDir, 0o755))

	path := filepath.Join(e.TriggersDir, "trg_orders_reactivation_guard.sql")
	stale := Marker + "\n-- an older rendering\n"
	require.NoError(t, os.WriteFile(path, []byte(stale), 0o644))

	result, err := e.WriteAll(context.Background(), []planner.Artifact{guard()})
	require.NoError(t, err)
	assert.Equal(t, Skipped, result.Files[0].Status)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, stale, string(data))

	e.Force = true
	result, err = e.WriteAll(context.Background(), []planner.Artifact{guard()})
	require.NoError(t, err)
	assert.Equal(t, Written, result.Files[0].Status)
}

func TestHasMarker(t *testing.T) {
	assert.True(t, HasMarker([]byte(Marker+"\nSELECT 1;")))
	assert.True(t, HasMarker([]byte(Marker+"\r\n")))
	assert.False(t, HasMarker([]byte("-- hand written\n"+Marker)))
	assert.False(t, HasMarker(nil))
}

func TestNewDialect(t *testing.T) {
	_, err := NewDialect("postgres", "")
	assert.Error(t, err)

	d, err := NewDialect(config.DialectMySQL, "app")
	require.NoError(t, err)
	assert.Equal(t, "mysql", d.Name())
}

func TestCascadeReactivationWindowIsInclusive(t *testing.T) {
	tests := []struct {
		name    string
		dialect string
		ms      int64
		want    string
	}{
		{"sqlserver at tolerance", config.DialectSQLServer, 2000, "ABS(DATEDIFF_BIG(MICROSECOND, c.[valid_from], d.[valid_from])) <= 2000000"},
		{"sqlserver one millisecond wider", config.DialectSQLServer, 2001, "ABS(DATEDIFF_BIG(MICROSECOND, c.[valid_from], d.[valid_from])) <= 2001000"},
		{"mysql at tolerance", config.DialectMySQL, 2000, "ABS(TIMESTAMPDIFF(MICROSECOND, c.`valid_from`, OLD.`valid_from`)) <= 2000000"},
		{"mysql zero", config.DialectMySQL, 0, "ABS(TIMESTAMPDIFF(MICROSECOND, c.`valid_from`, OLD.`valid_from`)) <= 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &planner.CascadeReactivation{
				Parent:   ref("users", "id"),
				Children: []planner.ChildLink{ordersLink()},
				Window:   planner.ReactivationWindow{ToleranceMs: tt.ms},
			}
			assert.Contains(t, render(t, tt.dialect, a), tt.want)
		})
	}
}

func schemaRef(schema, name string) planner.TableRef {
	r := ref(name, "id")
	r.ID.Schema = schema
	return r
}

func TestPathsQualifySameNamedTables(t *testing.T) {
	e := newTestEmitter(t, true)
	artifacts := []planner.Artifact{
		&planner.CascadeSoftDelete{Parent: schemaRef("sales", "users")},
		&planner.CascadeSoftDelete{Parent: schemaRef("hr", "users")},
		&planner.CascadeSoftDelete{Parent: schemaRef("sales", "accounts")},
		purge(),
	}

	assert.Equal(t, []string{
		filepath.Join(e.TriggersDir, "trg_sales_users_cascade_soft_delete.sql"),
		filepath.Join(e.TriggersDir, "trg_hr_users_cascade_soft_delete.sql"),
		filepath.Join(e.TriggersDir, "trg_accounts_cascade_soft_delete.sql"),
		filepath.Join(e.ProceduresDir, "usp_purge_soft_deleted.sql"),
	}, e.Paths(artifacts))
}

func TestWriteAllSkipsDuplicateFiles(t *testing.T) {
	e := newTestEmitter(t, true)
	// schemas differing only in case still share a file on case-insensitive file systems
	artifacts := []planner.Artifact{
		cascade(),
		&planner.CascadeSoftDelete{Parent: schemaRef("sales", "orders"), Children: []planner.ChildLink{ordersLink()}},
		&planner.CascadeSoftDelete{Parent: schemaRef("Sales", "orders"), Children: []planner.ChildLink{ordersLink()}},
	}

	result, err := e.WriteAll(context.Background(), artifacts)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Count(Written))
	assert.Equal(t, filepath.Join(e.TriggersDir, "trg_sales_orders_cascade_soft_delete.sql"), result.Files[1].Path)
	assert.Equal(t, Skipped, result.Files[2].Status)
	skips := result.Report.Of(diag.Skip)
	require.Len(t, skips, 1)
	assert.Equal(t, "trg_orders_cascade_soft_delete", skips[0].Artifact)

	entries, err := os.ReadDir(e.TriggersDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
