package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitebski/softdelete-gen/internal/diag"
)

func TestNewDirectory(t *testing.T) {
	dir, err := NewDirectory([]Table{
		{Name: "orders", Schema: "dbo", Columns: []Column{{Name: "id"}}},
		{Name: "Users", Schema: "dbo", Columns: []Column{{Name: "ID"}, {Name: "Active"}}},
	})
	require.NoError(t, err)
	require.Equal(t, 2, dir.Len())

	tables := dir.Tables()
	assert.Equal(t, "orders", tables[0].Name)
	assert.Equal(t, "Users", tables[1].Name)

	users, ok := dir.Get(TableID{Schema: "DBO", Name: "users"})
	require.True(t, ok)
	assert.True(t, users.HasColumn("id"))
	assert.True(t, users.HasActiveColumn("active"))
	assert.False(t, users.HasColumn(""))
}

func TestNewDirectoryRejectsDuplicates(t *testing.T) {
	_, err := NewDirectory([]Table{{Name: "users"}, {Name: "USERS"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared twice")
}

func TestNewDirectoryMismatchedForeignKey(t *testing.T) {
	_, err := NewDirectory([]Table{
		{Name: "users", PrimaryKey: []string{"tenant_id", "id"}},
		{Name: "orders", ForeignKeys: []ForeignKey{{
			Name:              "fk_orders_users",
			Columns:           []string{"tenant_id", "user_id"},
			ReferencedTable:   "users",
			ReferencedColumns: []string{"id"},
		}}},
	})
	require.Error(t, err)

	var structural *diag.StructuralError
	require.True(t, errors.As(err, &structural))
	assert.Contains(t, structural.Reason, "fk_orders_users")
}

func TestReferencedIDDefaultsToOwningSchema(t *testing.T) {
	orders := Table{Name: "orders", Schema: "sales"}
	id := orders.ReferencedID(ForeignKey{ReferencedTable: "users"})
	assert.Equal(t, TableID{Schema: "sales", Name: "users"}, id)

	id = orders.ReferencedID(ForeignKey{ReferencedTable: "users", ReferencedSchema: "auth"})
	assert.Equal(t, "auth.users", id.String())
	assert.Equal(t, "auth.users", TableID{Schema: "AUTH", Name: "Users"}.Key())
}

func TestForeignKeyIsComposite(t *testing.T) {
	single := ForeignKey{Name: "fk_orders_users", Columns: []string{"user_id"}, ReferencedColumns: []string{"id"}}
	composite := ForeignKey{
		Name:              "fk_orders_users",
		Columns:           []string{"tenant_id", "user_id"},
		ReferencedColumns: []string{"tenant_id", "id"},
	}

	assert.False(t, single.IsComposite())
	assert.True(t, composite.IsComposite())
}
