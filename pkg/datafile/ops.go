package datafile

import "github.com/papiermache/dlex/pkg/schema"

// Row is one committed or self-staged row returned by Select: its file
// offset (stable across the row's lifetime, used by Update/Delete) and its
// column values.
type Row struct {
	Offset int64
	Values map[string][]byte
}

// Insert stages a new row for txnID. Columns absent from values are filled
// with the table's default for their type; a password column with no
// supplied value is an error (schema.Table.DefaultValue rejects it). The
// row is not visible to other transactions, and its column data is not
// written to disk, until Commit; only the claimed slot's control header is
// written immediately (see allocateForInsert).
func (df *DataFile) Insert(txnID int16, values map[string][]byte) (int64, error) {
	full := make(map[string][]byte, len(df.table.Columns()))
	for _, col := range df.table.Columns() {
		if v, ok := values[col.Name]; ok {
			full[col.Name] = v
			continue
		}
		v, err := df.table.DefaultValue(col.Name)
		if err != nil {
			return 0, err
		}
		full[col.Name] = v
	}
	if _, err := encodeRow(df.table, full); err != nil {
		return 0, err
	}

	offset, err := df.allocateForInsert(txnID)
	if err != nil {
		return 0, err
	}
	df.stage(txnID, offset, Mutation{Kind: MutateInsert, Values: full})
	return offset, nil
}

// Update claims offset's row lock for txnID (blocking per the waiter
// protocol if another transaction holds it) and stages a column update on
// top of whatever is currently committed there. Columns absent from values
// keep their current committed (or, if txnID already staged a change to
// this row, their previously staged) contents.
func (df *DataFile) Update(txnID int16, offset int64, values map[string][]byte) error {
	if err := df.acquire(txnID, offset); err != nil {
		return err
	}

	current, err := df.readCommitted(offset)
	staged, hasStaged := df.stagedFor(txnID, offset)
	switch {
	case hasStaged && staged.Kind != MutateDelete:
		current = staged.Values
	case err != nil:
		// No committed row and nothing this transaction staged itself
		// (e.g. an Update with no prior Insert in this transaction): the
		// row genuinely does not exist yet.
		return err
	}

	merged := make(map[string][]byte, len(current))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	if _, err := encodeRow(df.table, merged); err != nil {
		return err
	}

	df.stage(txnID, offset, Mutation{Kind: MutateUpdate, Values: merged})
	return nil
}

// Delete claims offset's row lock for txnID and stages its removal. The
// row's data is left untouched on disk until Commit clears its validity
// flag; Rollback leaves the row exactly as it was.
func (df *DataFile) Delete(txnID int16, offset int64) error {
	if err := df.acquire(txnID, offset); err != nil {
		return err
	}
	df.stage(txnID, offset, Mutation{Kind: MutateDelete})
	return nil
}

// Select scans every committed row, applying txnID's own staged mutations
// first (read-your-writes) so a transaction sees its own uncommitted
// inserts/updates/deletes but never another transaction's. match is called
// with each candidate row's values and should report whether it satisfies
// the caller's where-clause; passing a match that always returns true scans
// the whole table.
func (df *DataFile) Select(txnID int16, match func(values map[string][]byte) bool) ([]Row, error) {
	df.controlMu.Lock()
	offsets := make([]int64, 0, len(df.locks))
	for offset := range df.locks {
		offsets = append(offsets, offset)
	}
	df.controlMu.Unlock()

	df.stagingMu.Lock()
	staged := df.staged[txnID]
	df.stagingMu.Unlock()

	var rows []Row
	for _, offset := range offsets {
		committed, err := df.readCommitted(offset)
		isCommitted := err == nil
		if err != nil && err != ErrNoSuchRow {
			return nil, err
		}

		values := committed
		visible := isCommitted
		if m, ok := staged[offset]; ok {
			switch m.Kind {
			case MutateDelete:
				visible = false
			case MutateInsert, MutateUpdate:
				values = m.Values
				visible = true
			}
		}
		if !visible {
			continue
		}
		if match(values) {
			rows = append(rows, Row{Offset: offset, Values: values})
		}
	}
	return rows, nil
}

// readCommitted reads a row's current on-disk contents. It returns
// ErrNoSuchRow if the row's validity flag is not set, regardless of what
// bytes happen to be sitting in its data area.
func (df *DataFile) readCommitted(offset int64) (map[string][]byte, error) {
	df.controlMu.Lock()
	lock, ok := df.locks[offset]
	df.controlMu.Unlock()
	if !ok {
		return nil, ErrNoSuchRow
	}
	if !lock.valid {
		return nil, ErrNoSuchRow
	}

	width := df.table.RowWidth()
	buf := make([]byte, width-schema.ControlDataSize)

	df.dataRWLock.RLock()
	_, err := df.f.ReadAt(buf, offset+int64(schema.ControlDataSize))
	df.dataRWLock.RUnlock()
	if err != nil {
		return nil, err
	}
	return decodeRow(df.table, buf), nil
}

// Commit writes every mutation txnID staged to disk, flips each row's
// validity flag accordingly, and releases all of its locks. It is a no-op
// if txnID staged nothing.
func (df *DataFile) Commit(txnID int16) error {
	mutations := df.takeStaged(txnID)
	defer df.clearTerminate(txnID)

	for offset, m := range mutations {
		switch m.Kind {
		case MutateInsert, MutateUpdate:
			data, err := encodeRow(df.table, m.Values)
			if err != nil {
				return err
			}
			df.dataRWLock.Lock()
			_, werr := df.f.WriteAt(data, offset+int64(schema.ControlDataSize))
			df.dataRWLock.Unlock()
			if werr != nil {
				return werr
			}
			if err := df.release(offset, true); err != nil {
				return err
			}
		case MutateDelete:
			if err := df.release(offset, false); err != nil {
				return err
			}
		}
	}
	return nil
}

// Rollback discards every mutation txnID staged and releases its locks
// without writing any data, leaving each row exactly as it was before the
// transaction touched it.
func (df *DataFile) Rollback(txnID int16) error {
	mutations := df.takeStaged(txnID)
	defer df.clearTerminate(txnID)

	for offset, m := range mutations {
		var wasValid bool
		df.controlMu.Lock()
		if lock, ok := df.locks[offset]; ok {
			wasValid = lock.valid
		}
		df.controlMu.Unlock()
		_ = m
		if err := df.release(offset, wasValid); err != nil {
			return err
		}
	}
	return nil
}

func (df *DataFile) stage(txnID int16, offset int64, m Mutation) {
	df.stagingMu.Lock()
	defer df.stagingMu.Unlock()
	if df.staged[txnID] == nil {
		df.staged[txnID] = map[int64]Mutation{}
	}
	df.staged[txnID][offset] = m
}

func (df *DataFile) stagedFor(txnID int16, offset int64) (Mutation, bool) {
	df.stagingMu.Lock()
	defer df.stagingMu.Unlock()
	m, ok := df.staged[txnID][offset]
	return m, ok
}

func (df *DataFile) takeStaged(txnID int16) map[int64]Mutation {
	df.stagingMu.Lock()
	defer df.stagingMu.Unlock()
	m := df.staged[txnID]
	delete(df.staged, txnID)
	return m
}
