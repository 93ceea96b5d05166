// Package schema describes the immutable shape of a table: its ordered
// columns and the set of users permitted to perform each operation against
// it. A schema.Table never changes after it is built from a table
// definition map; the datafile package treats it as read-only for the life
// of the process.
package schema

import "fmt"

// ColumnType enumerates the column types the engine understands. There is
// no extensibility point: adding a type means teaching every layer
// (equality, default value, wire parsing) about it.
type ColumnType string

const (
	TypeString   ColumnType = "string"
	TypePassword ColumnType = "password"
	TypeDatetime ColumnType = "datetime"
)

// Valid reports whether t is one of the known column types.
func (t ColumnType) Valid() bool {
	switch t {
	case TypeString, TypePassword, TypeDatetime:
		return true
	default:
		return false
	}
}

// Column is one field of a row: its declared width in bytes and its byte
// offset from the start of the row's data (i.e. after the control header).
// Offsets are assigned once, in declared column order, at table-open time.
type Column struct {
	Name   string
	Type   ColumnType
	Width  int
	Offset int
}

func (c Column) String() string {
	return fmt.Sprintf("%s:%s:%d@%d", c.Name, c.Type, c.Width, c.Offset)
}
