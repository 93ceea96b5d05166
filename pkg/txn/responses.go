package txn

import (
	"errors"

	"github.com/papiermache/dlex/pkg/datafile"
	"github.com/papiermache/dlex/pkg/wire"
)

// Response sentinel strings returned to the wire layer. Each ends with a
// trailing period, matching the terse, fixed-phrase acknowledgements in
// original_source/include/Database.h's handler methods. The transaction
// sentinels' odd grammar ("transaction is already exists.") is carried over
// verbatim from the original (Database.h:552,558,565,570), not a typo.
const (
	RespOK                      = "ok."
	RespParseError              = "parse error."
	RespNoSuchTable             = "no such table."
	RespNoSuchColumn            = "no such column."
	RespPermissionDenied        = "permission denied."
	RespBadCredentials          = "bad credentials."
	RespNoSuchTransaction       = "cannot find transaction."
	RespTransactionExists       = "transaction is already exists."
	RespTransactionStartSucceed = "transaction start is succeed."
	// RespTransactionStartFailed mirrors Database.h:570's else branch of
	// addTransaction's result; this registry's equivalent (the connection
	// map insert under r.mu) cannot itself fail, so nothing currently
	// returns this sentinel.
	RespTransactionStartFailed = "transaction start is failed."
	RespNoSuchRow              = "no such row."
	RespTerminated             = "transaction terminated."
	RespUnknownVerb            = "unknown verb."
	RespInternalError          = "internal error."
)

// responseFor maps a dispatch error onto its wire sentinel. Nil maps to
// RespOK. An error not recognized here falls back to RespInternalError
// rather than leaking implementation detail to the client.
func responseFor(err error) string {
	switch {
	case err == nil:
		return RespOK
	case errors.Is(err, ErrNoSuchTable):
		return RespNoSuchTable
	case errors.Is(err, ErrNoSuchColumn):
		return RespNoSuchColumn
	case errors.Is(err, ErrPermissionDenied):
		return RespPermissionDenied
	case errors.Is(err, ErrBadCredentials):
		return RespBadCredentials
	case errors.Is(err, ErrNoSuchTransaction):
		return RespNoSuchTransaction
	case errors.Is(err, ErrTransactionExists):
		return RespTransactionExists
	case errors.Is(err, ErrNoSuchRow), errors.Is(err, datafile.ErrNoSuchRow):
		return RespNoSuchRow
	case errors.Is(err, datafile.ErrTerminated):
		return RespTerminated
	case errors.Is(err, ErrMalformedClause),
		errors.Is(err, ErrUnknownVerb),
		errors.Is(err, wire.ErrMalformedRequest),
		errors.Is(err, wire.ErrPayload):
		return RespParseError
	default:
		return RespInternalError
	}
}
