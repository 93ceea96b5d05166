package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefinitionOrdersColumnsByColumnOrder(t *testing.T) {
	def := map[string]string{
		"ORDER_NAME":    "string:32",
		"CUSTOMER_NAME": "string:64",
		"PRODUCT_NAME":  "string:64",
		"COLUMN_ORDER":  "ORDER_NAME,CUSTOMER_NAME,PRODUCT_NAME",
		"INSERT":        "admin",
		"SELECT":        "admin,guest",
	}
	tbl, err := ParseDefinition("order", def)
	require.NoError(t, err)

	cols := tbl.Columns()
	require.Len(t, cols, 3)
	assert.Equal(t, "order_name", cols[0].Name)
	assert.Equal(t, 0, cols[0].Offset)
	assert.Equal(t, "customer_name", cols[1].Name)
	assert.Equal(t, 32, cols[1].Offset)
	assert.Equal(t, "product_name", cols[2].Name)
	assert.Equal(t, 96, cols[2].Offset)
	assert.Equal(t, 4+32+64+64, tbl.RowWidth())

	assert.True(t, tbl.IsPermitted(OpInsert, "admin"))
	assert.False(t, tbl.IsPermitted(OpInsert, "guest"))
	assert.True(t, tbl.IsPermitted(OpSelect, "guest"))
	assert.False(t, tbl.IsPermitted(OpDelete, "admin"))
}

func TestParseDefinitionRejectsBadColumnSpec(t *testing.T) {
	_, err := ParseDefinition("t", map[string]string{"X": "string", "COLUMN_ORDER": "x"})
	assert.Error(t, err)

	_, err = ParseDefinition("t", map[string]string{"X": "string:0", "COLUMN_ORDER": "x"})
	assert.Error(t, err)

	_, err = ParseDefinition("t", map[string]string{"X": "bogus:4", "COLUMN_ORDER": "x"})
	assert.Error(t, err)
}

func TestEqualIgnoresTrailingZeroPadding(t *testing.T) {
	tbl, err := ParseDefinition("t", map[string]string{
		"NAME":         "string:8",
		"COLUMN_ORDER": "NAME",
	})
	require.NoError(t, err)

	eq, err := tbl.Equal("name", []byte("ab"), []byte{'a', 'b', 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = tbl.Equal("name", []byte("ab"), []byte{'a', 'c', 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.False(t, eq)
}

func TestDefaultValue(t *testing.T) {
	tbl, err := ParseDefinition("t", map[string]string{
		"NAME":         "string:4",
		"CREATED":      "datetime:32",
		"PASS":         "password:32",
		"COLUMN_ORDER": "NAME,CREATED,PASS",
	})
	require.NoError(t, err)

	v, err := tbl.DefaultValue("name")
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 4), v)

	v, err = tbl.DefaultValue("created")
	require.NoError(t, err)
	assert.Len(t, v, 32)

	_, err = tbl.DefaultValue("pass")
	assert.Error(t, err)
}
