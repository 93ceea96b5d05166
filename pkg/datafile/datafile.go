// Package datafile is the storage engine's core: a single table's rows,
// laid out as fixed-width binary records in one OS file, with row-level
// locking and staged (write-ahead, in-memory) mutations that only reach
// disk at commit.
//
// Each row is ControlDataSize bytes of control header followed by the
// table's column bytes:
//
//	byte 0:   validity flag (0 = live, 1 = tombstoned)
//	byte 1:   reserved, always zero
//	byte 2-3: little-endian signed int16 owning transaction id (-1 = free)
//
// A transaction claims a row by writing its id into the control header;
// the claim itself is durable (written immediately) so a crash mid-write
// never hides a lock, but the row's data bytes are only rewritten, and the
// validity flag only flipped, when that transaction commits. Rollback
// simply clears the owner back to -1, leaving the previous committed data
// (if any) untouched. This mirrors the ControlData/TemporaryData split in
// original_source/include/Datafile.h's Datafile class.
//
// Conflicting transactions block on a condition variable rather than
// failing fast, and there is no cycle detection. SetToTerminate is the only
// way to break a deadlock; nothing in this module (pkg/txn included) calls
// it, so a blocked transaction waits until the owner commits or rolls back
// or an outside caller invokes SetToTerminate.
package datafile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/papiermache/dlex/pkg/schema"
)

// Sentinel errors a caller (pkg/txn) maps onto protocol responses.
var (
	ErrClosed       = errors.New("datafile: closed")
	ErrNoSuchRow    = errors.New("datafile: no row at that offset")
	ErrTerminated   = errors.New("datafile: transaction was marked to terminate")
	ErrNotOwner     = errors.New("datafile: transaction does not hold this row's lock")
	ErrCorruptRow   = errors.New("datafile: corrupt control header")
	ErrNoTransition = errors.New("datafile: no staged mutation for that offset")
)

const (
	flagLive      byte  = 0
	flagTombstone byte  = 1
	ownerFree     int16 = -1
)

// rowLock is the in-memory mirror of one row's control header, kept so the
// waiter protocol does not need to re-read the file under controlMu.
type rowLock struct {
	owner int16 // ownerFree (-1) == unlocked
	valid bool  // mirrors the on-disk validity flag
}

// DataFile is one table's row store. Safe for concurrent use by multiple
// transactions.
type DataFile struct {
	table *schema.Table
	path  string

	f *os.File

	// dataRWLock guards the file's bytes: writers (commit) take it
	// exclusively, readers (select, row reads during lock acquisition)
	// take it shared. It is always acquired after controlMu, never before,
	// to keep a single fixed lock order across the package.
	dataRWLock sync.RWMutex

	// controlMu guards locks, free, and next below, and is the mutex
	// controlCondvar is bound to. A transaction blocked on a row in use
	// waits on controlCondvar and re-checks the termination list (guarded by
	// stagingMu, not controlMu) on every wakeup.
	controlMu      sync.Mutex
	controlCondvar *sync.Cond
	locks          map[int64]*rowLock
	free           []int64 // offsets whose validity flag is flagTombstone and reusable
	next           int64   // offset one past the highest row ever allocated

	// stagingMu guards staged (the write-ahead buffer of uncommitted
	// mutations) and terminate (the set of transaction ids a waiter must
	// abort for). It is acquired on its own, never while already holding
	// dataRWLock; acquire() nests it inside controlMu to consult terminate
	// without releasing the row-lock wait loop's grip on controlMu.
	stagingMu sync.Mutex
	staged    map[int16]map[int64]Mutation
	terminate map[int16]bool

	closed bool
}

// MutationKind distinguishes the three shapes a staged row change can take.
type MutationKind int

const (
	MutateInsert MutationKind = iota
	MutateUpdate
	MutateDelete
)

// Mutation is one row's pending change, buffered in memory until its owning
// transaction commits or rolls back.
type Mutation struct {
	Kind   MutationKind
	Values map[string][]byte // full column set, already defaulted; nil for MutateDelete
}

// Open opens or creates the backing file at path for table, recovering the
// free list and the allocation boundary from whatever rows are already on
// disk. Any row whose control header claims it for a transaction is left
// locked: a crash while a transaction held it means that lock can only be
// released by an operator clearing the file, matching the original's lack
// of crash recovery for in-flight transactions.
func Open(path string, table *schema.Table) (*DataFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("datafile: open %s: %w", path, err)
	}

	df := &DataFile{
		table:     table,
		path:      path,
		f:         f,
		locks:     map[int64]*rowLock{},
		terminate: map[int16]bool{},
		staged:    map[int16]map[int64]Mutation{},
	}
	df.controlCondvar = sync.NewCond(&df.controlMu)

	if err := df.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return df, nil
}

func (df *DataFile) recover() error {
	width := int64(df.table.RowWidth())
	info, err := df.f.Stat()
	if err != nil {
		return fmt.Errorf("datafile: stat: %w", err)
	}
	rowCount := info.Size() / width
	df.next = rowCount * width

	header := make([]byte, schema.ControlDataSize)
	for i := int64(0); i < rowCount; i++ {
		offset := i * width
		if _, err := df.f.ReadAt(header, offset); err != nil && err != io.EOF {
			return fmt.Errorf("datafile: reading control header at %d: %w", offset, err)
		}
		flag, owner, err := decodeControl(header)
		if err != nil {
			return err
		}
		lock := &rowLock{owner: owner, valid: flag == flagLive}
		df.locks[offset] = lock
		if owner == ownerFree && flag == flagTombstone {
			df.free = append(df.free, offset)
		}
	}
	return nil
}

// Close flushes and closes the backing file. Any still-staged mutations
// are discarded without being committed.
func (df *DataFile) Close() error {
	df.controlMu.Lock()
	df.closed = true
	df.controlCondvar.Broadcast()
	df.controlMu.Unlock()
	return df.f.Close()
}

func decodeControl(b []byte) (flag byte, owner int16, err error) {
	if len(b) != schema.ControlDataSize {
		return 0, 0, ErrCorruptRow
	}
	flag = b[0]
	if flag != flagLive && flag != flagTombstone {
		return 0, 0, ErrCorruptRow
	}
	owner = int16(uint16(b[2]) | uint16(b[3])<<8)
	return flag, owner, nil
}

func encodeControl(flag byte, owner int16) []byte {
	b := make([]byte, schema.ControlDataSize)
	b[0] = flag
	b[1] = 0
	b[2] = byte(uint16(owner))
	b[3] = byte(uint16(owner) >> 8)
	return b
}
