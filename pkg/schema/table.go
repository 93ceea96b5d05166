package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Operation is one of the four permissioned actions a table definition can
// grant to a set of users.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpSelect Operation = "select"
)

// ControlDataSize is the fixed width, in bytes, of the per-row control
// header: one validity flag byte, one reserved alignment byte, and a
// little-endian signed 16-bit owning transaction id.
const ControlDataSize = 4

// Table is the immutable descriptor for one data file: its ordered columns
// and per-operation permission sets. Column names and permitted usernames
// are normalized to lower case, matching the wire protocol's
// case-insensitive verbs.
type Table struct {
	Name        string
	columns     []Column
	byName      map[string]Column
	permissions map[Operation]map[string]bool
}

// RowWidth is the fixed number of bytes a single row occupies on disk,
// control header included. It never changes after the table is opened.
func (t *Table) RowWidth() int {
	total := ControlDataSize
	for _, c := range t.columns {
		total += c.Width
	}
	return total
}

// Columns returns the table's columns in declared (offset) order.
func (t *Table) Columns() []Column {
	return t.columns
}

// Column looks up a column definition by name (case-insensitive).
func (t *Table) Column(name string) (Column, error) {
	c, ok := t.byName[strings.ToLower(name)]
	if !ok {
		return Column{}, fmt.Errorf("schema: unknown column %q", name)
	}
	return c, nil
}

// IsPermitted reports whether user may perform op against this table.
func (t *Table) IsPermitted(op Operation, user string) bool {
	users, ok := t.permissions[op]
	if !ok {
		return false
	}
	return users[strings.ToLower(user)]
}

// NextRowOffset returns the file offset of the row following the one that
// starts at current. Overflow is not expected in practice (it would require
// an implausibly large file) but is reported rather than silently wrapped.
func (t *Table) NextRowOffset(current int64) (int64, error) {
	width := int64(t.RowWidth())
	if current > 0 && width > 0 && current > (1<<62)-width {
		return 0, fmt.Errorf("schema: row offset overflow")
	}
	return current + width, nil
}

// ParseDefinition builds a Table from the wire-level table definition map
// described in spec.md §6:
//
//	<COL_NAME>   -> "<type>:<width>"
//	COLUMN_ORDER -> "col1,col2,..."
//	INSERT|UPDATE|DELETE|SELECT -> "user1,user2,..."
//
// This mirrors original_source/include/Datafile.h's constructor, which
// folds column parsing, permission parsing, and offset assignment into a
// single pass over the definition map.
func ParseDefinition(name string, def map[string]string) (*Table, error) {
	type rawColumn struct {
		name  string
		typ   ColumnType
		width int
	}

	var cols []rawColumn
	order := map[string]int{}
	perms := map[Operation]map[string]bool{}

	for key, value := range def {
		upper := strings.ToUpper(key)
		switch upper {
		case "INSERT", "UPDATE", "DELETE", "SELECT":
			perms[Operation(strings.ToLower(upper))] = parseUserList(value)
		case "COLUMN_ORDER":
			for i, colName := range splitNonEmpty(value) {
				order[strings.ToLower(colName)] = i
			}
		default:
			colName := strings.ToLower(key)
			for _, r := range colName {
				if !isAlnumOrUnderscore(r) {
					return nil, fmt.Errorf("schema: parse error: column name %q contains %q", key, string(r))
				}
			}
			typ, width, err := parseColumnSpec(value)
			if err != nil {
				return nil, fmt.Errorf("schema: column %q: %w", key, err)
			}
			cols = append(cols, rawColumn{name: colName, typ: typ, width: width})
		}
	}

	sort.Slice(cols, func(i, j int) bool {
		oi, iok := order[cols[i].name]
		oj, jok := order[cols[j].name]
		if !iok || !jok {
			// Any comparison involving a column missing from
			// COLUMN_ORDER falls back to comparing names, so such columns
			// get no well-defined position; this only matters for
			// malformed definitions and is not a documented contract.
			return cols[i].name < cols[j].name
		}
		return oi < oj
	})

	t := &Table{
		Name:        strings.ToLower(name),
		byName:      map[string]Column{},
		permissions: perms,
	}
	offset := 0
	for _, rc := range cols {
		if offset > (1<<31)-rc.width {
			return nil, fmt.Errorf("schema: arithmetic overflow assigning offsets")
		}
		c := Column{Name: rc.name, Type: rc.typ, Width: rc.width, Offset: offset}
		t.columns = append(t.columns, c)
		t.byName[rc.name] = c
		offset += rc.width
	}
	return t, nil
}

func parseColumnSpec(spec string) (ColumnType, int, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("parse error: missing ':' in %q", spec)
	}
	typ := ColumnType(strings.ToLower(parts[0]))
	if !typ.Valid() {
		return "", 0, fmt.Errorf("parse error: unknown column type %q", parts[0])
	}
	width, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, fmt.Errorf("parse error: bad width %q: %w", parts[1], err)
	}
	if width <= 0 {
		return "", 0, fmt.Errorf("column size cannot be zero or negative")
	}
	return typ, width, nil
}

func parseUserList(s string) map[string]bool {
	users := map[string]bool{}
	for _, u := range splitNonEmpty(s) {
		users[strings.ToLower(u)] = true
	}
	return users
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isAlnumOrUnderscore(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}
