// Package txn is the table registry: it owns every open table's
// schema.Table and datafile.DataFile, assigns monotonic transaction ids,
// tracks which tables each connection's in-flight transaction has touched,
// and turns a parsed please: request into a datafile operation and a wire
// response string.
package txn

import "errors"

// Sentinel errors the dispatcher maps onto wire response strings.
var (
	ErrNoSuchTable        = errors.New("txn: no such table")
	ErrNoSuchColumn       = errors.New("txn: no such column")
	ErrNoSuchTransaction  = errors.New("txn: no transaction open on this connection")
	ErrTransactionExists  = errors.New("txn: a transaction is already open on this connection")
	ErrPermissionDenied   = errors.New("txn: user is not permitted to perform this operation")
	ErrBadCredentials     = errors.New("txn: unknown user or wrong password")
	ErrMalformedClause    = errors.New("txn: malformed table clause")
	ErrUnknownVerb        = errors.New("txn: unknown verb")
	ErrNoSuchRow          = errors.New("txn: no row matched the where clause")
)
