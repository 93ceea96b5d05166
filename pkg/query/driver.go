// Package query is the client-side driver façade: it turns please: query
// strings into a round trip over a session.Connection and turns the
// response back into plain Go values, the same role
// original_source/include/Database.h's DbDriver class plays for in-process
// callers.
package query

import (
	"errors"
	"strings"

	"github.com/papiermache/dlex/pkg/session"
)

// ErrConnectionClosed is returned when a query is attempted on a closed
// connection.
var ErrConnectionClosed = errors.New("query: connection is closed")

// Driver sends please: queries over one session.Connection and decodes
// their responses.
type Driver struct {
	conn *session.Connection
}

// New wraps conn in a Driver.
func New(conn *session.Connection) *Driver {
	return &Driver{conn: conn}
}

// Exec sends a please: query that does not return rows (transaction,
// commit, rollback, insert, update, delete, user) and returns the raw
// sentinel response.
func (d *Driver) Exec(queryText string) (string, error) {
	if d.conn.IsClosed() {
		return "", ErrConnectionClosed
	}
	if err := d.conn.Send([]byte(queryText)); err != nil {
		return "", err
	}
	if err := d.conn.Request(); err != nil {
		return "", err
	}
	if err := d.conn.Wait(); err != nil {
		return "", err
	}
	resp, err := d.conn.Receive()
	if err != nil {
		return "", err
	}
	return string(resp), nil
}

// Row is one decoded select result row: column name to its string value,
// already unescaped.
type Row map[string]string

// Select sends a please:select query and decodes its response into rows.
// A non-"ok." response is returned as an error whose message is the
// response text prefixed with "query: ".
func (d *Driver) Select(queryText string) ([]Row, error) {
	resp, err := d.Exec(queryText)
	if err != nil {
		return nil, err
	}
	lines := strings.SplitN(resp, "\n", 2)
	if lines[0] != "ok." {
		return nil, errors.New("query: " + resp)
	}
	if len(lines) == 1 {
		return nil, nil
	}
	var rows []Row
	for _, line := range strings.Split(lines[1], "\n") {
		if line == "" {
			continue
		}
		rows = append(rows, decodeRow(line))
	}
	return rows, nil
}

// decodeRow parses one `col="val", col2="val2"` response line. It mirrors
// the quoting rules of pkg/wire's request payload grammar, but a response
// line never contains a password column's raw digest (pkg/txn masks it
// before formatting), so there is no raw-byte special case here.
func decodeRow(line string) Row {
	row := Row{}
	var key strings.Builder
	var value strings.Builder
	inKey := true
	inQuote := false
	escaped := false

	flush := func() {
		if key.Len() > 0 {
			row[key.String()] = value.String()
		}
		key.Reset()
		value.Reset()
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			value.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == '"':
			inQuote = !inQuote
		case c == '=' && inKey:
			inKey = false
		case c == ',' && !inQuote:
			flush()
			inKey = true
		case inKey:
			if c != ' ' {
				key.WriteByte(c)
			}
		default:
			value.WriteByte(c)
		}
	}
	flush()
	return row
}
