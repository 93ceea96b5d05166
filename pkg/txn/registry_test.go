package txn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papiermache/dlex/pkg/datafile"
	"github.com/papiermache/dlex/pkg/ident"
	"github.com/papiermache/dlex/pkg/schema"
)

func openTable(t *testing.T, name string, def map[string]string) *Table {
	t.Helper()
	tbl, err := schema.ParseDefinition(name, def)
	require.NoError(t, err)
	df, err := datafile.Open(filepath.Join(t.TempDir(), name+".dat"), tbl)
	require.NoError(t, err)
	t.Cleanup(func() { df.Close() })
	return &Table{Def: tbl, File: df}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	order := openTable(t, "order", map[string]string{
		"ORDER_NAME":    "string:32",
		"CUSTOMER_NAME": "string:64",
		"COLUMN_ORDER":  "ORDER_NAME,CUSTOMER_NAME",
		"INSERT":        "admin",
		"UPDATE":        "admin",
		"DELETE":        "admin",
		"SELECT":        "admin,guest",
	})
	return NewRegistry(map[string]*Table{"order": order})
}

func TestFullInsertCommitSelectFlow(t *testing.T) {
	r := newTestRegistry(t)
	const conn = "c1"

	assert.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn, "admin", []byte("please:transaction")))
	assert.Equal(t, RespOK, r.Dispatch(conn, "admin",
		[]byte(`please:insert order (order_name="widget", customer_name="acme")`)))
	assert.Equal(t, RespOK, r.Dispatch(conn, "admin", []byte("please:commit")))

	_, err := r.Select(conn+"-ro", "guest", "order", nil)
	assert.ErrorIs(t, err, ErrNoSuchTransaction, "a select needs its own open transaction on that connection")

	require.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn+"-ro", "guest", []byte("please:transaction")))
	rows, err := r.Select(conn+"-ro", "guest", "order", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "widget", trimZeroTxn(rows[0].Values["order_name"]))
}

func TestSelectRequiresOpenTransaction(t *testing.T) {
	r := newTestRegistry(t)
	resp := r.Dispatch("c1", "guest", []byte("please:select order"))
	assert.Equal(t, RespNoSuchTransaction, resp)
}

func TestPermissionDeniedForUnauthorizedInsert(t *testing.T) {
	r := newTestRegistry(t)
	const conn = "c1"
	require.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn, "guest", []byte("please:transaction")))
	resp := r.Dispatch(conn, "guest", []byte(`please:insert order (order_name="x")`))
	assert.Equal(t, RespPermissionDenied, resp)
}

func TestTransactionAlreadyOpen(t *testing.T) {
	r := newTestRegistry(t)
	const conn = "c1"
	require.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn, "admin", []byte("please:transaction")))
	resp := r.Dispatch(conn, "admin", []byte("please:transaction"))
	assert.Equal(t, RespTransactionExists, resp)
}

func TestRollbackDiscardsInsert(t *testing.T) {
	r := newTestRegistry(t)
	const conn = "c1"
	require.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn, "admin", []byte("please:transaction")))
	require.Equal(t, RespOK, r.Dispatch(conn, "admin",
		[]byte(`please:insert order (order_name="widget", customer_name="acme")`)))
	require.Equal(t, RespOK, r.Dispatch(conn, "admin", []byte("please:rollback")))

	require.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn, "admin", []byte("please:transaction")))
	rows, err := r.Select(conn, "admin", "order", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpdateAndDeleteWithWhereClause(t *testing.T) {
	r := newTestRegistry(t)
	const conn = "c1"
	require.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn, "admin", []byte("please:transaction")))
	require.Equal(t, RespOK, r.Dispatch(conn, "admin",
		[]byte(`please:insert order (order_name="widget", customer_name="acme")`)))
	require.Equal(t, RespOK, r.Dispatch(conn, "admin", []byte("please:commit")))

	require.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn, "admin", []byte("please:transaction")))
	resp := r.Dispatch(conn, "admin",
		[]byte(`please:update order (customer_name="other") where (order_name="widget")`))
	require.Equal(t, RespOK, resp)
	require.Equal(t, RespOK, r.Dispatch(conn, "admin", []byte("please:commit")))

	require.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn, "admin", []byte("please:transaction")))
	rows, err := r.Select(conn, "admin", "order", map[string][]byte{"order_name": []byte("widget")})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "other", trimZeroTxn(rows[0].Values["customer_name"]))
	require.Equal(t, RespOK, r.Dispatch(conn, "admin", []byte("please:commit")))

	require.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn, "admin", []byte("please:transaction")))
	resp = r.Dispatch(conn, "admin", []byte(`please:delete order where (order_name="widget")`))
	require.Equal(t, RespOK, resp)
	require.Equal(t, RespOK, r.Dispatch(conn, "admin", []byte("please:commit")))

	require.Equal(t, RespTransactionStartSucceed, r.Dispatch(conn, "admin", []byte("please:transaction")))
	rows, err = r.Select(conn, "admin", "order", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUserVerbAuthenticatesAgainstUsersTable(t *testing.T) {
	users := openTable(t, "users", map[string]string{
		"NAME":         "string:16",
		"PASSWORD":     "password:32",
		"COLUMN_ORDER": "NAME,PASSWORD",
		"INSERT":       "admin",
		"SELECT":       "admin",
	})
	r := NewRegistry(map[string]*Table{"users": users})

	offset, err := users.File.Insert(1, map[string][]byte{
		"name":     []byte("alice"),
		"password": ident.DigestBytes("hunter2"),
	})
	require.NoError(t, err)
	require.NoError(t, users.File.Commit(1))
	_ = offset

	assert.Equal(t, RespOK, r.Dispatch("c1", "admin", []byte("please:user alice hunter2")))
	assert.Equal(t, RespBadCredentials, r.Dispatch("c1", "admin", []byte("please:user alice wrong")))
	assert.Equal(t, RespBadCredentials, r.Dispatch("c1", "admin", []byte("please:user bob hunter2")))
}

func trimZeroTxn(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
