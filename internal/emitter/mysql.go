package emitter

import (
	"fmt"
	"strings"

	"github.com/vitebski/softdelete-gen/internal/planner"
	"github.com/vitebski/softdelete-gen/pkg/models"
)

// MySQL renders row-level triggers over OLD and NEW. Each object is wrapped in a DELIMITER block
// so the file can be fed to the mysql client as is.
type MySQL struct {
	DefaultSchema string
}

func (d *MySQL) Name() string { return "mysql" }

func (d *MySQL) ident(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *MySQL) literal(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// object qualifies a name with its schema, or leaves it in the connection's database
func (d *MySQL) object(schema, name string) string {
	if schema == "" {
		schema = d.DefaultSchema
	}
	if schema == "" {
		return d.ident(name)
	}
	return d.ident(schema) + "." + d.ident(name)
}

func (d *MySQL) table(id models.TableID) string {
	return d.object(id.Schema, id.Name)
}

// Render renders one artifact
func (d *MySQL) Render(a planner.Artifact) (string, error) {
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
		return "", fmt.Errorf("mysql: unsupported artifact %T", a)
	}
	return w.String(), nil
}

func (d *MySQL) triggerHeader(w *sqlWriter, name, timing string, on models.TableID) {
	trigger := d.object(on.Schema, name)
	w.linef(0, "DROP TRIGGER IF EXISTS %s;", trigger)
	w.blank()
	w.linef(0, "DELIMITER $$")
	w.blank()
	w.linef(0, "CREATE TRIGGER %s", trigger)
	w.linef(0, "%s UPDATE ON %s", timing, d.table(on))
	w.linef(0, "FOR EACH ROW")
	w.linef(0, "BEGIN")
}

func (d *MySQL) triggerFooter(w *sqlWriter) {
	w.linef(0, "END$$")
	w.blank()
	w.linef(0, "DELIMITER ;")
}

func (d *MySQL) transition(w *sqlWriter, t planner.TableRef, from, to int) {
	active := d.ident(t.ActiveColumn)
	w.linef(1, "IF OLD.%s = %d AND NEW.%s = %d THEN", active, from, active, to)
}

func (d *MySQL) signal(w *sqlWriter, depth int, message string) {
	w.linef(depth, "SIGNAL SQLSTATE '45000' SET MESSAGE_TEXT = %s;", d.literal(truncateMessage(message)))
}

// truncateMessage keeps a signal message within the 128 characters MySQL accepts
func truncateMessage(message string) string {
	if len(message) <= 128 {
		return message
	}
	return message[:125] + "..."
}

// selfSkip reports a child that is the trigger's own table. MySQL rejects a trigger that writes
// the table it fires on.
func selfSkip(link planner.ChildLink, parent models.TableID) (planner.Skipped, bool) {
	if !link.SelfReference(parent) {
		return planner.Skipped{}, false
	}
	return planner.Skipped{Table: parent, Reason: "MySQL triggers cannot modify the table they fire on"}, true
}

func (d *MySQL) updatedBy(child, parent planner.TableRef) string {
	if child.UpdatedByColumn == "" {
		return ""
	}
	if parent.UpdatedByColumn != "" {
		return fmt.Sprintf("c.%s = NEW.%s", d.ident(child.UpdatedByColumn), d.ident(parent.UpdatedByColumn))
	}
	return fmt.Sprintf("c.%s = @%s", d.ident(child.UpdatedByColumn), child.UpdatedByColumn)
}

func (d *MySQL) propagate(w *sqlWriter, parent planner.TableRef, link planner.ChildLink, value int, extra string) {
	c := link.Child

	w.linef(2, "-- %s", c.ID)
	w.linef(2, "UPDATE %s AS c", d.table(c.ID))
	if by := d.updatedBy(c, parent); by != "" {
		w.linef(2, "SET c.%s = %d,", d.ident(c.ActiveColumn), value)
		w.linef(3, "%s", by)
	} else {
		w.linef(2, "SET c.%s = %d", d.ident(c.ActiveColumn), value)
	}
	where := []string{
		fmt.Sprintf("c.%s = %d", d.ident(c.ActiveColumn), 1-value),
		matchPredicate(d, "c", "NEW", link),
	}
	if extra != "" {
		where = append(where, extra)
	}
	writeWhere(w, 2, where)
}

func (d *MySQL) cascadeSoftDelete(w *sqlWriter, a *planner.CascadeSoftDelete) {
	skipped := append([]planner.Skipped{}, a.Skipped...)

	d.triggerHeader(w, a.Name(), "AFTER", a.Parent.ID)
	d.transition(w, a.Parent, 1, 0)
	for _, link := range a.Children {
		if s, ok := selfSkip(link, a.Parent.ID); ok {
			skipped = append(skipped, s)
			continue
		}
		d.propagate(w, a.Parent, link, 0, "")
	}
	writeSkipped(w, 2, skipped)
	w.linef(1, "END IF;")
	d.triggerFooter(w)
}

func (d *MySQL) restrictSoftDelete(w *sqlWriter, a *planner.RestrictSoftDelete) {
	p := a.Parent

	d.triggerHeader(w, a.Name(), "BEFORE", p.ID)
	d.transition(w, p, 1, 0)
	for _, link := range a.Children {
		c := link.Child
		where := []string{
			fmt.Sprintf("c.%s = 1", d.ident(c.ActiveColumn)),
			matchPredicate(d, "c", "NEW", link),
		}
		if link.SelfReference(p.ID) {
			where = append(where, fmt.Sprintf("NOT (%s)", columnsEqual(d, "c", "NEW", p.PrimaryKey)))
		}
		w.linef(2, "IF EXISTS (")
		w.linef(3, "SELECT 1 FROM %s AS c", d.table(c.ID))
		w.linef(3, "WHERE %s", strings.Join(where, " AND "))
		w.linef(2, ") THEN")
		d.signal(w, 3, fmt.Sprintf("Cannot soft delete %s: active rows in %s still reference it.", p.ID, c.ID))
		w.linef(2, "END IF;")
	}
	writeSkipped(w, 2, a.Skipped)
	w.linef(1, "END IF;")
	d.triggerFooter(w)
}

func (d *MySQL) reactivationGuard(w *sqlWriter, a *planner.ReactivationGuard) {
	c := a.Child

	d.triggerHeader(w, a.Name(), "BEFORE", c.ID)
	d.transition(w, c, 0, 1)
	for _, check := range a.Parents {
		p := check.Parent
		link := planner.ChildLink{Child: c, Keys: check.Keys}
		w.linef(2, "IF EXISTS (")
		w.linef(3, "SELECT 1 FROM %s AS p", d.table(p.ID))
		w.linef(3, "WHERE p.%s = 0 AND %s", d.ident(p.ActiveColumn), matchPredicate(d, "NEW", "p", link))
		w.linef(2, ") THEN")
		d.signal(w, 3, fmt.Sprintf("Cannot reactivate %s: the referenced %s row is still soft deleted.", c.ID, p.ID))
		w.linef(2, "END IF;")
	}
	w.linef(1, "END IF;")
	d.triggerFooter(w)
}

func (d *MySQL) cascadeReactivation(w *sqlWriter, a *planner.CascadeReactivation) {
	skipped := append([]planner.Skipped{}, a.Skipped...)

	d.triggerHeader(w, a.Name(), "AFTER", a.Parent.ID)
	d.transition(w, a.Parent, 0, 1)
	w.linef(2, "-- children soft deleted within %d ms of the parent are reactivated with it", a.Window.ToleranceMs)
	for _, link := range a.Children {
		if s, ok := selfSkip(link, a.Parent.ID); ok {
			skipped = append(skipped, s)
			continue
		}
		within := fmt.Sprintf("ABS(TIMESTAMPDIFF(MICROSECOND, c.%s, OLD.%s)) <= %d",
			d.ident(link.Child.ValidFromColumn), d.ident(a.Parent.ValidFromColumn), a.Window.ToleranceMicros())
		d.propagate(w, a.Parent, link, 1, within)
	}
	writeSkipped(w, 2, skipped)
	w.linef(1, "END IF;")
	d.triggerFooter(w)
}

// purgePredicate selects the expired rows of a step that nothing references. References are
// read through derived tables so a self-referencing table can be filtered against itself.
func (d *MySQL) purgePredicate(step planner.PurgeStep) []string {
	t := step.Table
	preds := []string{
		fmt.Sprintf("%s = 0", d.ident(t.ActiveColumn)),
		fmt.Sprintf("%s < v_cutoff", d.ident(t.ValidFromColumn)),
	}

	n := 0
	for _, ref := range step.References {
		for _, km := range ref.Keys {
			n++
			preds = append(preds, d.notReferenced(ref.Child.ID, km, n))
		}
		if poly := ref.Polymorphic; poly != nil {
			n++
			preds = append(preds, fmt.Sprintf(
				"%s NOT IN (SELECT k0 FROM (SELECT DISTINCT %s AS k0 FROM %s WHERE %s = %s AND %s IS NOT NULL) AS ref%d)",
				d.ident(poly.ParentColumn), d.ident(poly.IDColumn), d.table(ref.Child.ID),
				d.ident(poly.TypeColumn), d.literal(poly.TypeValue), d.ident(poly.IDColumn), n))
		}
	}
	return preds
}

func (d *MySQL) notReferenced(child models.TableID, km planner.KeyMatch, n int) string {
	var parentCols, childCols, aliases, notNull []string
	for i, pair := range km {
		alias := fmt.Sprintf("k%d", i)
		parentCols = append(parentCols, d.ident(pair.ParentColumn))
		childCols = append(childCols, d.ident(pair.ChildColumn)+" AS "+alias)
		aliases = append(aliases, alias)
		notNull = append(notNull, d.ident(pair.ChildColumn)+" IS NOT NULL")
	}

	left := parentCols[0]
	if len(parentCols) > 1 {
		left = "(" + strings.Join(parentCols, ", ") + ")"
	}
	return fmt.Sprintf("%s NOT IN (SELECT %s FROM (SELECT DISTINCT %s FROM %s WHERE %s) AS ref%d)",
		left, strings.Join(aliases, ", "), strings.Join(childCols, ", "), d.table(child),
		strings.Join(notNull, " AND "), n)
}

func (d *MySQL) purge(w *sqlWriter, a *planner.PurgeProcedure) {
	proc := d.object(a.Schema, a.ProcedureName)
	dryRun := 0
	if a.DryRun {
		dryRun = 1
	}

	w.linef(0, "-- CALL %s(NULL, NULL, NULL) runs with the defaults below;", proc)
	w.linef(0, "-- CALL %s(1, 1000, 30) counts what a 30 day purge in batches of 1000 would delete.", proc)
	w.linef(0, "DROP PROCEDURE IF EXISTS %s;", proc)
	w.blank()
	w.linef(0, "DELIMITER $$")
	w.blank()
	w.linef(0, "CREATE PROCEDURE %s(", proc)
	w.linef(1, "IN p_dry_run TINYINT,")
	w.linef(1, "IN p_batch_size INT,")
	w.linef(1, "IN p_grace_period_days INT")
	w.linef(0, ")")
	w.linef(0, "BEGIN")
	w.linef(1, "DECLARE v_cutoff DATETIME(6);")
	w.linef(1, "DECLARE v_limit BIGINT UNSIGNED;")
	w.linef(1, "DECLARE EXIT HANDLER FOR SQLEXCEPTION")
	w.linef(1, "BEGIN")
	w.linef(2, "ROLLBACK;")
	w.linef(2, "RESIGNAL;")
	w.linef(1, "END;")
	w.blank()
	w.linef(1, "SET p_dry_run = COALESCE(p_dry_run, %d);", dryRun)
	w.linef(1, "SET p_batch_size = COALESCE(p_batch_size, %d);", a.BatchSize)
	w.linef(1, "SET p_grace_period_days = COALESCE(p_grace_period_days, %d);", a.GracePeriodDays)
	w.linef(1, "SET v_cutoff = UTC_TIMESTAMP(6) - INTERVAL p_grace_period_days DAY;")
	w.linef(1, "SET v_limit = IF(p_batch_size > 0, p_batch_size, 18446744073709551615);")
	w.blank()
	w.linef(1, "DROP TEMPORARY TABLE IF EXISTS purge_counts;")
	w.linef(1, "CREATE TEMPORARY TABLE purge_counts (table_name VARCHAR(256) NOT NULL, row_count BIGINT NOT NULL);")
	w.blank()

	w.linef(1, "IF p_dry_run = 1 THEN")
	for _, step := range a.Steps {
		w.linef(2, "INSERT INTO purge_counts (table_name, row_count)")
		w.linef(2, "SELECT %s, COUNT(*) FROM %s", d.literal(step.Table.ID.String()), d.table(step.Table.ID))
		writeWhere(w, 2, d.purgePredicate(step))
	}
	w.linef(1, "ELSE")
	w.linef(2, "START TRANSACTION;")
	for _, step := range a.Steps {
		w.blank()
		w.linef(2, "DELETE FROM %s", d.table(step.Table.ID))
		writeConditions(w, 2, d.purgePredicate(step), "")
		w.linef(2, "LIMIT v_limit;")
		w.linef(2, "INSERT INTO purge_counts (table_name, row_count) VALUES (%s, ROW_COUNT());", d.literal(step.Table.ID.String()))
	}
	w.blank()
	w.linef(2, "COMMIT;")
	w.linef(1, "END IF;")
	w.blank()
	w.linef(1, "SELECT table_name, row_count FROM purge_counts;")
	w.linef(1, "DROP TEMPORARY TABLE purge_counts;")
	w.linef(0, "END$$")
	w.blank()
	w.linef(0, "DELIMITER ;")
}
