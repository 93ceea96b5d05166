package schema

import (
	"bytes"
	"fmt"
	"time"
)

// Equal compares two on-disk byte values for column name according to its
// declared type. For string columns the shorter side is treated as
// zero-padded: trailing NUL bytes on the longer side are ignored, matching
// original_source/include/Datafile.h's TableInfo::isEqual. password and
// datetime columns compare full-width, byte for byte.
func (t *Table) Equal(name string, lhs, rhs []byte) (bool, error) {
	col, err := t.Column(name)
	if err != nil {
		return false, err
	}
	switch col.Type {
	case TypeString:
		return equalIgnoringTrailingZero(lhs, rhs), nil
	case TypePassword, TypeDatetime:
		return bytes.Equal(lhs, rhs), nil
	default:
		return false, fmt.Errorf("schema: unknown column type %q", col.Type)
	}
}

func equalIgnoringTrailingZero(lhs, rhs []byte) bool {
	if len(lhs) > len(rhs) {
		lhs, rhs = rhs, lhs
	}
	if !bytes.Equal(lhs, rhs[:len(lhs)]) {
		return false
	}
	for _, b := range rhs[len(lhs):] {
		if b != 0 {
			return false
		}
	}
	return true
}

// DefaultValue returns the value an insert should use for a column the
// caller did not supply, sized to exactly col.Width. password columns have
// no default: a digest cannot be fabricated.
func (t *Table) DefaultValue(name string) ([]byte, error) {
	col, err := t.Column(name)
	if err != nil {
		return nil, err
	}
	switch col.Type {
	case TypeString:
		return make([]byte, col.Width), nil
	case TypeDatetime:
		v := []byte(time.Now().Local().Format(time.RFC3339))
		if len(v) > col.Width {
			return nil, fmt.Errorf("schema: column %q default datetime value overflows width %d", name, col.Width)
		}
		out := make([]byte, col.Width)
		copy(out, v)
		return out, nil
	case TypePassword:
		return nil, fmt.Errorf("schema: column %q: password cannot have a default value", name)
	default:
		return nil, fmt.Errorf("schema: unknown column type %q", col.Type)
	}
}
