package datafile

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papiermache/dlex/pkg/schema"
)

func openTestTable(t *testing.T) (*DataFile, *schema.Table) {
	t.Helper()
	tbl, err := schema.ParseDefinition("order", map[string]string{
		"ORDER_NAME":    "string:16",
		"CUSTOMER_NAME": "string:16",
		"COLUMN_ORDER":  "ORDER_NAME,CUSTOMER_NAME",
	})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "order.dat")
	df, err := Open(path, tbl)
	require.NoError(t, err)
	t.Cleanup(func() { df.Close() })
	return df, tbl
}

func TestInsertCommitThenSelectSeesRow(t *testing.T) {
	df, _ := openTestTable(t)

	offset, err := df.Insert(1, map[string][]byte{"order_name": []byte("widget")})
	require.NoError(t, err)

	rows, err := df.Select(2, func(map[string][]byte) bool { return true })
	require.NoError(t, err)
	assert.Empty(t, rows, "uncommitted insert must not be visible to other transactions")

	require.NoError(t, df.Commit(1))

	rows, err = df.Select(2, func(v map[string][]byte) bool { return true })
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, offset, rows[0].Offset)
	assert.Equal(t, "widget", trimZero(rows[0].Values["order_name"]))
}

func TestInsertRollbackLeavesNoRow(t *testing.T) {
	df, _ := openTestTable(t)

	_, err := df.Insert(1, map[string][]byte{"order_name": []byte("widget")})
	require.NoError(t, err)
	require.NoError(t, df.Rollback(1))

	rows, err := df.Select(2, func(map[string][]byte) bool { return true })
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestUpdateWithinOwnUncommittedInsertIsVisibleToSelf(t *testing.T) {
	df, _ := openTestTable(t)

	offset, err := df.Insert(1, map[string][]byte{"order_name": []byte("widget")})
	require.NoError(t, err)
	require.NoError(t, df.Update(1, offset, map[string][]byte{"customer_name": []byte("acme")}))

	rows, err := df.Select(1, func(map[string][]byte) bool { return true })
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "widget", trimZero(rows[0].Values["order_name"]))
	assert.Equal(t, "acme", trimZero(rows[0].Values["customer_name"]))
}

func TestUpdateBlocksUntilOtherTransactionReleases(t *testing.T) {
	df, _ := openTestTable(t)

	offset, err := df.Insert(1, map[string][]byte{"order_name": []byte("widget")})
	require.NoError(t, err)
	require.NoError(t, df.Commit(1))

	require.NoError(t, df.Update(2, offset, map[string][]byte{"customer_name": []byte("acme")}))

	done := make(chan error, 1)
	go func() {
		done <- df.Update(3, offset, map[string][]byte{"customer_name": []byte("other")})
	}()

	select {
	case <-done:
		t.Fatal("transaction 3 should have blocked while transaction 2 holds the row lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, df.Commit(2))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("transaction 3 never woke up after transaction 2 committed")
	}
}

func TestSetToTerminateUnblocksAWaiter(t *testing.T) {
	df, _ := openTestTable(t)

	offset, err := df.Insert(1, map[string][]byte{"order_name": []byte("widget")})
	require.NoError(t, err)
	require.NoError(t, df.Commit(1))

	require.NoError(t, df.Update(2, offset, map[string][]byte{"customer_name": []byte("acme")}))

	done := make(chan error, 1)
	go func() {
		done <- df.Update(3, offset, map[string][]byte{"customer_name": []byte("other")})
	}()

	time.Sleep(20 * time.Millisecond)
	df.SetToTerminate(3)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTerminated)
	case <-time.After(time.Second):
		t.Fatal("terminated transaction never woke up")
	}
}

func TestDeleteThenCommitFreesTheOffsetForReuse(t *testing.T) {
	df, _ := openTestTable(t)

	offset, err := df.Insert(1, map[string][]byte{"order_name": []byte("widget")})
	require.NoError(t, err)
	require.NoError(t, df.Commit(1))

	require.NoError(t, df.Delete(2, offset))
	require.NoError(t, df.Commit(2))

	rows, err := df.Select(3, func(map[string][]byte) bool { return true })
	require.NoError(t, err)
	assert.Empty(t, rows)

	reused, err := df.Insert(3, map[string][]byte{"order_name": []byte("gadget")})
	require.NoError(t, err)
	assert.Equal(t, offset, reused, "a freed offset should be recycled before growing the file")
}

func TestCommittedInsertWritesLiveControlHeader(t *testing.T) {
	df, tbl := openTestTable(t)

	offset, err := df.Insert(1, map[string][]byte{"order_name": []byte("widget")})
	require.NoError(t, err)
	require.NoError(t, df.Commit(1))

	header := make([]byte, schema.ControlDataSize)
	_, err = df.f.ReadAt(header, offset)
	require.NoError(t, err)
	flag, owner, err := decodeControl(header)
	require.NoError(t, err)
	assert.Equal(t, flagLive, flag)
	assert.Equal(t, int16(-1), owner)
	_ = tbl
}

func TestDeleteThenCommitWritesTombstoneControlHeader(t *testing.T) {
	df, _ := openTestTable(t)

	offset, err := df.Insert(1, map[string][]byte{"order_name": []byte("widget")})
	require.NoError(t, err)
	require.NoError(t, df.Commit(1))

	require.NoError(t, df.Delete(2, offset))
	require.NoError(t, df.Commit(2))

	header := make([]byte, schema.ControlDataSize)
	_, err = df.f.ReadAt(header, offset)
	require.NoError(t, err)
	flag, owner, err := decodeControl(header)
	require.NoError(t, err)
	assert.Equal(t, flagTombstone, flag, "control byte 0 must be 1 after a committed delete")
	assert.Equal(t, int16(-1), owner, "transaction id must be cleared to -1, not 0")
}

func TestRollbackClearsOwnerToNegativeOne(t *testing.T) {
	df, _ := openTestTable(t)

	offset, err := df.Insert(1, map[string][]byte{"order_name": []byte("widget")})
	require.NoError(t, err)
	require.NoError(t, df.Commit(1))

	require.NoError(t, df.Update(2, offset, map[string][]byte{"customer_name": []byte("acme")}))
	require.NoError(t, df.Rollback(2))

	header := make([]byte, schema.ControlDataSize)
	_, err = df.f.ReadAt(header, offset)
	require.NoError(t, err)
	flag, owner, err := decodeControl(header)
	require.NoError(t, err)
	assert.Equal(t, flagLive, flag, "rollback must not change the row's validity flag")
	assert.Equal(t, int16(-1), owner)
}

func trimZero(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
