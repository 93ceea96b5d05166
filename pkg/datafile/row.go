package datafile

import (
	"fmt"

	"github.com/papiermache/dlex/pkg/schema"
)

// encodeRow lays values out into a RowWidth()-ControlDataSize byte slice
// according to the table's column offsets. Every column must be present in
// values (callers fill in defaults via schema.Table.DefaultValue first); a
// value longer than its column's declared width is rejected rather than
// silently truncated, a shorter one is zero-padded on the right.
func encodeRow(table *schema.Table, values map[string][]byte) ([]byte, error) {
	data := make([]byte, table.RowWidth()-schema.ControlDataSize)
	for _, col := range table.Columns() {
		v, ok := values[col.Name]
		if !ok {
			return nil, fmt.Errorf("datafile: missing value for column %q", col.Name)
		}
		if len(v) > col.Width {
			return nil, fmt.Errorf("datafile: value for column %q is %d bytes, exceeds width %d", col.Name, len(v), col.Width)
		}
		copy(data[col.Offset:col.Offset+col.Width], v)
	}
	return data, nil
}

// decodeRow splits a raw data slice (as returned by encodeRow, without the
// control header) back into its named column values.
func decodeRow(table *schema.Table, data []byte) map[string][]byte {
	values := make(map[string][]byte, len(table.Columns()))
	for _, col := range table.Columns() {
		v := make([]byte, col.Width)
		copy(v, data[col.Offset:col.Offset+col.Width])
		values[col.Name] = v
	}
	return values
}

// allocateForInsert claims a row for an insert: either a recycled, deleted
// slot from the free list, or a brand new offset at the end of the file.
// The claim is written to disk immediately, exactly like acquiring an
// existing row's lock, so a concurrent scan never observes a half-claimed
// row.
func (df *DataFile) allocateForInsert(txnID int16) (int64, error) {
	df.controlMu.Lock()
	defer df.controlMu.Unlock()

	if df.closed {
		return 0, ErrClosed
	}
	if df.isTerminated(txnID) {
		return 0, ErrTerminated
	}

	var offset int64
	if n := len(df.free); n > 0 {
		offset = df.free[n-1]
		df.free = df.free[:n-1]
		df.locks[offset].owner = txnID
	} else {
		offset = df.next
		nextNext, err := df.table.NextRowOffset(df.next)
		if err != nil {
			return 0, err
		}
		df.locks[offset] = &rowLock{owner: txnID, valid: false}
		df.next = nextNext
	}

	if err := df.writeControlLocked(offset, flagTombstone, txnID); err != nil {
		return 0, err
	}
	return offset, nil
}
