package txn

import (
	"fmt"
	"strings"
	"sync"

	"github.com/papiermache/dlex/pkg/datafile"
	"github.com/papiermache/dlex/pkg/ident"
	"github.com/papiermache/dlex/pkg/schema"
	"github.com/papiermache/dlex/pkg/wire"
)

// Table bundles one table's static schema with its open data file.
type Table struct {
	Def  *schema.Table
	File *datafile.DataFile
}

// state is the per-connection transaction bookkeeping: the assigned
// transaction id and every table it has touched, so commit/rollback knows
// exactly which data files to visit.
type state struct {
	id      int16
	touched map[*Table]bool
}

// Registry is the single point of entry for every please: request: it
// knows every table in the database, hands out monotonic transaction ids,
// and tracks one open transaction per connection id.
type Registry struct {
	tables map[string]*Table // lower-cased table name -> table
	users  *Table            // the well-known "users" table, or nil

	nextID *IDGenerator

	mu    sync.Mutex
	conns map[string]*state
}

// NewRegistry builds a registry over already-opened tables. If tables
// contains an entry named "users" with "name" and "password" columns, it
// is used to authenticate the `user <name> <password>` verb. Transaction
// ids are allocated from an IDGenerator seeded at 0, so the first
// transaction opened against this registry is id 0.
func NewRegistry(tables map[string]*Table) *Registry {
	r := &Registry{
		tables: tables,
		nextID: NewIDGenerator(0),
		conns:  map[string]*state{},
	}
	if u, ok := tables["users"]; ok {
		r.users = u
	}
	return r
}

// Dispatch parses one raw please: request from connID, submitted by
// authUser, and returns the wire response string. Most verbs return a bare
// sentinel; a successful select returns its matched rows formatted as one
// `col="val", ...` line per row after the leading "ok." line; a successful
// please:transaction returns its own fixed start-of-transaction sentinel
// rather than the generic "ok.".
func (r *Registry) Dispatch(connID, authUser string, raw []byte) string {
	text, err := r.dispatch(connID, authUser, raw)
	if err != nil {
		return responseFor(err)
	}
	if text != "" {
		return text
	}
	return RespOK
}

func (r *Registry) dispatch(connID, authUser string, raw []byte) (string, error) {
	verb, rest, err := wire.ParseVerb(raw)
	if err != nil {
		return "", err
	}

	switch verb {
	case "user":
		return "", r.handleUser(rest)
	case "transaction":
		return r.handleBeginTransaction(connID)
	case "commit":
		return "", r.handleCommit(connID)
	case "rollback":
		return "", r.handleRollback(connID)
	case "insert":
		return "", r.handleInsert(connID, authUser, rest)
	case "update":
		return "", r.handleUpdate(connID, authUser, rest)
	case "delete":
		return "", r.handleDelete(connID, authUser, rest)
	case "select":
		return r.handleSelect(connID, authUser, rest)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVerb, verb)
	}
}

func (r *Registry) handleUser(rest []byte) error {
	if r.users == nil {
		return ErrBadCredentials
	}
	name, password, err := splitUserCommand(rest)
	if err != nil {
		return err
	}
	rows, err := r.users.File.Select(0, func(v map[string][]byte) bool {
		eq, _ := r.users.Def.Equal("name", []byte(name), v["name"])
		return eq
	})
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return ErrBadCredentials
	}
	ok, err := ident.VerifyDigest(password, rows[0].Values["password"])
	if err != nil || !ok {
		return ErrBadCredentials
	}
	return nil
}

// handleBeginTransaction opens a transaction for connID. It has two of
// Database::startChildThread's three outcomes (the failed-start one cannot
// occur here): an already-open
// transaction is an error (ErrTransactionExists, mapped to "transaction is
// already exists."), and a fresh open succeeds with its own sentinel text
// rather than the generic "ok.".
func (r *Registry) handleBeginTransaction(connID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; ok {
		return "", ErrTransactionExists
	}
	id := r.nextID.GetID()
	r.conns[connID] = &state{id: id, touched: map[*Table]bool{}}
	return RespTransactionStartSucceed, nil
}

func (r *Registry) handleCommit(connID string) error {
	st, err := r.takeState(connID)
	if err != nil {
		return err
	}
	for tbl := range st.touched {
		if err := tbl.File.Commit(st.id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) handleRollback(connID string) error {
	st, err := r.takeState(connID)
	if err != nil {
		return err
	}
	for tbl := range st.touched {
		if err := tbl.File.Rollback(st.id); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) takeState(connID string) (*state, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[connID]
	if !ok {
		return nil, ErrNoSuchTransaction
	}
	delete(r.conns, connID)
	return st, nil
}

func (r *Registry) lookupTable(name string) (*Table, error) {
	tbl, ok := r.tables[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchTable, name)
	}
	return tbl, nil
}

// touch records that connID's open transaction has touched tbl, so a
// later commit/rollback visits it. It returns the transaction id and an
// error if connID has no open transaction.
func (r *Registry) touch(connID string, tbl *Table) (int16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.conns[connID]
	if !ok {
		return 0, ErrNoSuchTransaction
	}
	st.touched[tbl] = true
	return st.id, nil
}

func (r *Registry) handleInsert(connID, authUser string, rest []byte) error {
	name, body, _, err := splitClause(rest)
	if err != nil {
		return err
	}
	tbl, err := r.lookupTable(name)
	if err != nil {
		return err
	}
	if !tbl.Def.IsPermitted(schema.OpInsert, authUser) {
		return ErrPermissionDenied
	}
	values, err := wire.ParsePayload(body, passwordChecker(tbl.Def))
	if err != nil {
		return err
	}
	txnID, err := r.touch(connID, tbl)
	if err != nil {
		return err
	}
	_, err = tbl.File.Insert(txnID, values)
	return err
}

func (r *Registry) handleUpdate(connID, authUser string, rest []byte) error {
	name, body, where, err := splitClause(rest)
	if err != nil {
		return err
	}
	tbl, err := r.lookupTable(name)
	if err != nil {
		return err
	}
	if !tbl.Def.IsPermitted(schema.OpUpdate, authUser) {
		return ErrPermissionDenied
	}
	values, err := wire.ParsePayload(body, passwordChecker(tbl.Def))
	if err != nil {
		return err
	}
	whereValues := map[string][]byte{}
	if len(where) > 0 {
		whereValues, err = wire.ParsePayload(where, func(string) bool { return false })
		if err != nil {
			return err
		}
	}
	txnID, err := r.touch(connID, tbl)
	if err != nil {
		return err
	}
	matches, err := r.matchingOffsets(tbl, txnID, whereValues)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return ErrNoSuchRow
	}
	for _, offset := range matches {
		if err := tbl.File.Update(txnID, offset, values); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) handleDelete(connID, authUser string, rest []byte) error {
	name, where, err := splitWhereOnly(rest)
	if err != nil {
		return err
	}
	tbl, err := r.lookupTable(name)
	if err != nil {
		return err
	}
	if !tbl.Def.IsPermitted(schema.OpDelete, authUser) {
		return ErrPermissionDenied
	}
	txnID, err := r.touch(connID, tbl)
	if err != nil {
		return err
	}
	matches, err := r.matchingOffsets(tbl, txnID, where)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return ErrNoSuchRow
	}
	for _, offset := range matches {
		if err := tbl.File.Delete(txnID, offset); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) handleSelect(connID, authUser string, rest []byte) (string, error) {
	name, where, err := splitWhereOnly(rest)
	if err != nil {
		return "", err
	}
	tbl, err := r.lookupTable(name)
	if err != nil {
		return "", err
	}
	if !tbl.Def.IsPermitted(schema.OpSelect, authUser) {
		return "", ErrPermissionDenied
	}
	txnID, err := r.touch(connID, tbl)
	if err != nil {
		return "", err
	}
	rows, err := tbl.File.Select(txnID, whereMatcher(tbl.Def, where))
	if err != nil {
		return "", err
	}
	formatted := formatRows(tbl.Def, rows)
	if formatted == "" {
		return RespOK, nil
	}
	return RespOK + "\n" + formatted, nil
}

// Select runs a select inside connID's open transaction and returns the
// matched rows as datafile.Row values, for in-process callers holding the
// registry; handleSelect above performs the same lookup for the wire
// please:select path and formats the rows as response text.
func (r *Registry) Select(connID, authUser, tableName string, where map[string][]byte) ([]datafile.Row, error) {
	tbl, err := r.lookupTable(tableName)
	if err != nil {
		return nil, err
	}
	if !tbl.Def.IsPermitted(schema.OpSelect, authUser) {
		return nil, ErrPermissionDenied
	}
	txnID, err := r.touch(connID, tbl)
	if err != nil {
		return nil, err
	}
	return tbl.File.Select(txnID, whereMatcher(tbl.Def, where))
}

func (r *Registry) matchingOffsets(tbl *Table, txnID int16, where map[string][]byte) ([]int64, error) {
	rows, err := tbl.File.Select(txnID, whereMatcher(tbl.Def, where))
	if err != nil {
		return nil, err
	}
	offsets := make([]int64, len(rows))
	for i, row := range rows {
		offsets[i] = row.Offset
	}
	return offsets, nil
}

func whereMatcher(tbl *schema.Table, where map[string][]byte) func(map[string][]byte) bool {
	return func(values map[string][]byte) bool {
		for k, want := range where {
			got, ok := values[k]
			if !ok {
				return false
			}
			eq, err := tbl.Equal(k, want, got)
			if err != nil || !eq {
				return false
			}
		}
		return true
	}
}

func passwordChecker(tbl *schema.Table) wire.IsPasswordColumn {
	return func(name string) bool {
		col, err := tbl.Column(name)
		return err == nil && col.Type == schema.TypePassword
	}
}

// splitWhereOnly parses `<table> [where (<clause>)]`, the grammar delete
// and select use: a table name with no value clause of its own, and an
// optional where clause. A missing where clause means "match every row".
func splitWhereOnly(rest []byte) (table string, where map[string][]byte, err error) {
	s := string(rest)
	lower := strings.ToLower(s)
	idx := strings.Index(lower, "where")
	if idx < 0 {
		table = strings.TrimSpace(s)
		if table == "" {
			return "", nil, fmt.Errorf("%w: missing table name", ErrMalformedClause)
		}
		return table, map[string][]byte{}, nil
	}

	table = strings.TrimSpace(s[:idx])
	if table == "" {
		return "", nil, fmt.Errorf("%w: missing table name", ErrMalformedClause)
	}
	tail := s[idx+len("where"):]
	wopen := strings.IndexByte(tail, '(')
	if wopen < 0 {
		return "", nil, fmt.Errorf("%w: 'where' missing '('", ErrMalformedClause)
	}
	wclose, err := matchingParen(tail, wopen)
	if err != nil {
		return "", nil, err
	}
	vals, err := wire.ParsePayload([]byte(tail[wopen+1:wclose]), func(string) bool { return false })
	if err != nil {
		return "", nil, err
	}
	return table, vals, nil
}
