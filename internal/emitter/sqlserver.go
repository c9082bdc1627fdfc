package emitter

import (
	"fmt"
	"strings"

	"github.com/vitebski/softdelete-gen/internal/planner"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

const (
	sqlServerRestrictError = 50001
	sqlServerGuardError    = 50002
)

// SQLServer renders statement-level T-SQL triggers over the inserted and deleted pseudo-tables
type SQLServer struct {
	DefaultSchema string
}

func (d *SQLServer) Name() string { return "sqlserver" }

func (d *SQLServer) ident(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *SQLServer) literal(s string) string {
	return "N'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (d *SQLServer) schema(s string) string {
	switch {
	case s != "":
		return s
	case d.DefaultSchema != "":
		return d.DefaultSchema
	default:
		return "dbo"
	}
}

func (d *SQLServer) table(id models.TableID) string {
	return d.ident(d.schema(id.Schema)) + "." + d.ident(id.Name)
}

// Render renders one artifact
func (d *SQLServer) Render(a planner.Artifact) (string, error) {
	w := &sqlWriter{}
	switch a := a.(type) {
	case *planner.CascadeSoftDelete:
		d.cascadeSoftDelete(w, a)
	case *planner.RestrictSoftDelete:
		d.restrictSoftDelete(w, a)
	case *planner.ReactivationGuard:
		d.reactivationGuard(w, a)
	case *planner.CascadeReactivation:
		d.cascadeReactivation(w, a)
	case *planner.PurgeProcedure:
		d.purge(w, a)
	default:
		return "", fmt.Errorf("sqlserver: unsupported artifact %T", a)
	}
	return w.String(), nil
}

func (d *SQLServer) triggerHeader(w *sqlWriter, name string, on models.TableID) {
	w.linef(0, "CREATE OR ALTER TRIGGER %s.%s", d.ident(d.schema(on.Schema)), d.ident(name))
	w.linef(0, "ON %s", d.table(on))
	w.linef(0, "AFTER UPDATE")
	w.linef(0, "AS")
	w.linef(0, "BEGIN")
	w.linef(1, "SET NOCOUNT ON;")
	w.blank()
}

// transition exits early unless some row of t moved from one active value to the other
func (d *SQLServer) transition(w *sqlWriter, t planner.TableRef, from, to int) {
	active := d.ident(t.ActiveColumn)
	w.linef(1, "IF NOT UPDATE(%s) RETURN;", active)
	w.blank()
	w.linef(1, "IF NOT EXISTS (")
	w.linef(2, "SELECT 1")
	w.linef(2, "FROM inserted AS i")
	w.linef(2, "INNER JOIN deleted AS d ON %s", columnsEqual(d, "d", "i", t.PrimaryKey))
	w.linef(2, "WHERE d.%s = %d AND i.%s = %d", active, from, active, to)
	w.linef(1, ") RETURN;")
	w.blank()
}

// updatedBy returns the assignment that carries the acting user to a child row, or ""
func (d *SQLServer) updatedBy(child, parent planner.TableRef) string {
	if child.UpdatedByColumn == "" {
		return ""
	}
	if parent.UpdatedByColumn != "" {
		return fmt.Sprintf("c.%s = i.%s", d.ident(child.UpdatedByColumn), d.ident(parent.UpdatedByColumn))
	}
	return fmt.Sprintf("c.%s = CAST(SESSION_CONTEXT(N'%s') AS %s)",
		d.ident(child.UpdatedByColumn), child.UpdatedByColumn, child.UpdatedByType)
}

// propagate writes one UPDATE per child setting its active column to value
func (d *SQLServer) propagate(w *sqlWriter, parent planner.TableRef, link planner.ChildLink, value int, extra string) {
	c := link.Child
	from := 1 - value

	w.linef(1, "-- %s", c.ID)
	w.linef(1, "UPDATE c")
	if by := d.updatedBy(c, parent); by != "" {
		w.linef(1, "SET c.%s = %d,", d.ident(c.ActiveColumn), value)
		w.linef(2, "%s", by)
	} else {
		w.linef(1, "SET c.%s = %d", d.ident(c.ActiveColumn), value)
	}
	w.linef(1, "FROM %s AS c", d.table(c.ID))
	w.linef(1, "INNER JOIN inserted AS i ON %s", matchPredicate(d, "c", "i", link))
	w.linef(1, "INNER JOIN deleted AS d ON %s", columnsEqual(d, "d", "i", parent.PrimaryKey))
	where := []string{
		fmt.Sprintf("c.%s = %d", d.ident(c.ActiveColumn), from),
		fmt.Sprintf("d.%s = %d AND i.%s = %d", d.ident(parent.ActiveColumn), from, d.ident(parent.ActiveColumn), value),
	}
	if extra != "" {
		where = append(where, extra)
	}
	writeWhere(w, 1, where)
	w.blank()
}

func (d *SQLServer) fail(w *sqlWriter, number int, message string) {
	w.linef(1, "BEGIN")
	w.linef(2, "IF @@TRANCOUNT > 0 ROLLBACK TRANSACTION;")
	w.linef(2, "THROW %d, %s, 1;", number, d.literal(message))
	w.linef(1, "END;")
	w.blank()
}

func (d *SQLServer) cascadeSoftDelete(w *sqlWriter, a *planner.CascadeSoftDelete) {
	d.triggerHeader(w, a.Name(), a.Parent.ID)
	d.transition(w, a.Parent, 1, 0)
	for _, link := range a.Children {
		d.propagate(w, a.Parent, link, 0, "")
	}
	writeSkipped(w, 1, a.Skipped)
	w.linef(0, "END;")
}

func (d *SQLServer) restrictSoftDelete(w *sqlWriter, a *planner.RestrictSoftDelete) {
	p := a.Parent
	active := d.ident(p.ActiveColumn)

	d.triggerHeader(w, a.Name(), p.ID)
	d.transition(w, p, 1, 0)
	for _, link := range a.Children {
		c := link.Child
		w.linef(1, "IF EXISTS (")
		w.linef(2, "SELECT 1")
		w.linef(2, "FROM inserted AS i")
		w.linef(2, "INNER JOIN deleted AS d ON %s", columnsEqual(d, "d", "i", p.PrimaryKey))
		w.linef(2, "INNER JOIN %s AS c ON %s", d.table(c.ID), matchPredicate(d, "c", "i", link))
		w.linef(2, "WHERE d.%s = 1 AND i.%s = 0 AND c.%s = 1", active, active, d.ident(c.ActiveColumn))
		w.linef(1, ")")
		d.fail(w, sqlServerRestrictError, fmt.Sprintf(
			"Cannot soft delete %s: active rows in %s still reference it.", p.ID, c.ID))
	}
	writeSkipped(w, 1, a.Skipped)
	w.linef(0, "END;")
}

func (d *SQLServer) reactivationGuard(w *sqlWriter, a *planner.ReactivationGuard) {
	c := a.Child
	active := d.ident(c.ActiveColumn)

	d.triggerHeader(w, a.Name(), c.ID)
	d.transition(w, c, 0, 1)
	for _, check := range a.Parents {
		p := check.Parent
		link := planner.ChildLink{Child: c, Keys: check.Keys}
		w.linef(1, "IF EXISTS (")
		w.linef(2, "SELECT 1")
		w.linef(2, "FROM inserted AS i")
		w.linef(2, "INNER JOIN deleted AS d ON %s", columnsEqual(d, "d", "i", c.PrimaryKey))
		w.linef(2, "INNER JOIN %s AS p ON %s", d.table(p.ID), matchPredicate(d, "i", "p", link))
		w.linef(2, "WHERE d.%s = 0 AND i.%s = 1 AND p.%s = 0", active, active, d.ident(p.ActiveColumn))
		w.linef(1, ")")
		d.fail(w, sqlServerGuardError, fmt.Sprintf(
			"Cannot reactivate %s: the referenced %s row is still soft deleted.", c.ID, p.ID))
	}
	w.linef(0, "END;")
}

func (d *SQLServer) cascadeReactivation(w *sqlWriter, a *planner.CascadeReactivation) {
	d.triggerHeader(w, a.Name(), a.Parent.ID)
	d.transition(w, a.Parent, 0, 1)
	w.linef(1, "-- children soft deleted within %d ms of the parent are reactivated with it", a.Window.ToleranceMs)
	w.blank()
	for _, link := range a.Children {
		within := fmt.Sprintf("ABS(DATEDIFF_BIG(MICROSECOND, c.%s, d.%s)) <= %d",
			d.ident(link.Child.ValidFromColumn), d.ident(a.Parent.ValidFromColumn), a.Window.ToleranceMicros())
		d.propagate(w, a.Parent, link, 1, within)
	}
	writeSkipped(w, 1, a.Skipped)
	w.linef(0, "END;")
}

// purgePredicate selects the expired soft deleted rows of a step that nothing references
func (d *SQLServer) purgePredicate(step planner.PurgeStep) []string {
	t := step.Table
	preds := []string{
		fmt.Sprintf("t.%s = 0", d.ident(t.ActiveColumn)),
		fmt.Sprintf("t.%s < @Cutoff", d.ident(t.ValidFromColumn)),
	}
	for _, ref := range step.References {
		preds = append(preds, fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s AS r WHERE %s)",
			d.table(ref.Child.ID), matchPredicate(d, "r", "t", ref)))
	}
	return preds
}

func (d *SQLServer) purge(w *sqlWriter, a *planner.PurgeProcedure) {
	dryRun := 0
	if a.DryRun {
		dryRun = 1
	}

	w.linef(0, "CREATE OR ALTER PROCEDURE %s.%s", d.ident(d.schema(a.Schema)), d.ident(a.ProcedureName))
	w.linef(1, "@DryRun BIT = %d,", dryRun)
	w.linef(1, "@BatchSize INT = %d,", a.BatchSize)
	w.linef(1, "@GracePeriodDays INT = %d", a.GracePeriodDays)
	w.linef(0, "AS")
	w.linef(0, "BEGIN")
	w.linef(1, "SET NOCOUNT ON;")
	w.linef(1, "SET XACT_ABORT ON;")
	w.blank()
	w.linef(1, "DECLARE @Cutoff DATETIME2 = DATEADD(DAY, -@GracePeriodDays, SYSUTCDATETIME());")
	w.linef(1, "DECLARE @Top BIGINT = CASE WHEN @BatchSize > 0 THEN @BatchSize ELSE 9223372036854775807 END;")
	w.linef(1, "DECLARE @Counts TABLE (table_name NVARCHAR(256) NOT NULL, row_count BIGINT NOT NULL);")
	w.blank()

	w.linef(1, "IF @DryRun = 1")
	w.linef(1, "BEGIN")
	for _, step := range a.Steps {
		w.linef(2, "INSERT INTO @Counts (table_name, row_count)")
		w.linef(2, "SELECT %s, COUNT_BIG(*)", d.literal(step.Table.ID.String()))
		w.linef(2, "FROM %s AS t", d.table(step.Table.ID))
		writeWhere(w, 2, d.purgePredicate(step))
		w.blank()
	}
	w.linef(2, "SELECT table_name, row_count FROM @Counts;")
	w.linef(2, "RETURN;")
	w.linef(1, "END;")
	w.blank()

	w.linef(1, "BEGIN TRANSACTION;")
	w.blank()
	for _, step := range a.Steps {
		w.linef(1, "DELETE TOP (@Top) t")
		w.linef(1, "FROM %s AS t", d.table(step.Table.ID))
		writeWhere(w, 1, d.purgePredicate(step))
		w.linef(1, "INSERT INTO @Counts (table_name, row_count) VALUES (%s, @@ROWCOUNT);", d.literal(step.Table.ID.String()))
		w.blank()
	}
	w.linef(1, "COMMIT TRANSACTION;")
	w.blank()
	w.linef(1, "SELECT table_name, row_count FROM @Counts;")
	w.linef(0, "END;")
}
