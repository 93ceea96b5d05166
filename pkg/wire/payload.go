package wire

import "fmt"

// ErrPayload is returned for any structurally invalid key="value" payload.
var ErrPayload = fmt.Errorf("wire: malformed payload")

// IsPasswordColumn reports whether name names a password-typed column, so
// that ParsePayload knows to switch that key's value out of the quoted
// grammar and into raw digest consumption.
type IsPasswordColumn func(name string) bool

// ParsePayload parses the `key1="value1", key2="value2"` grammar used
// inside a `(...)` clause of a please: request (spec.md §4.4). It is a
// direct port of original_source/include/Datafile.h's parseKeyValueVector
// state machine, generalized from std::string keys/values to Go []byte.
//
// Values are ordinarily quoted and support `\"` and `\\` escapes; the
// surrounding quotes are not part of the returned value. The one exception
// is a key that isPassword reports true for: its value is instead read as
// exactly ident.DigestSize raw bytes immediately following `=`, with no
// quote or escape interpretation, per spec.md's password column rule.
func ParsePayload(data []byte, isPassword IsPasswordColumn) (map[string][]byte, error) {
	result := make(map[string][]byte)

	var key []byte
	var value []byte
	isKey := true
	isValueState := false
	inQuote := false
	escaped := false

	flush := func() error {
		if len(key) == 0 {
			return fmt.Errorf("%w: empty key", ErrPayload)
		}
		if len(value) == 0 {
			return fmt.Errorf("%w: empty value for key %q", ErrPayload, key)
		}
		result[string(key)] = value
		key = nil
		value = nil
		return nil
	}

	for i := 0; i < len(data); i++ {
		b := data[i]

		if isValueState && isPassword(string(key)) && len(value) != passwordRawWidth {
			value = append(value, b)
			continue
		}

		switch b {
		case '=':
			if isKey {
				isKey = false
				isValueState = true
			} else if isValueState {
				value = append(value, b)
			}
			escaped = false

		case '\\':
			if escaped {
				value = append(value, b)
				escaped = false
			} else {
				escaped = true
			}

		case '"':
			if escaped {
				value = append(value, b)
			} else {
				inQuote = !inQuote
			}
			escaped = false

		case ',':
			if inQuote {
				value = append(value, b)
			} else {
				if err := flush(); err != nil {
					return nil, err
				}
				isKey = true
				isValueState = false
			}
			escaped = false

		default:
			if isKey {
				if b != ' ' {
					if !isAlnumOrUnderscore(b) {
						return nil, fmt.Errorf("%w: invalid key character %q", ErrPayload, b)
					}
					key = append(key, b)
				}
			} else if isValueState {
				value = append(value, b)
			}
			escaped = false
		}
	}

	if inQuote {
		return nil, fmt.Errorf("%w: unmatched quote", ErrPayload)
	}
	if len(key) != 0 || len(value) != 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// passwordRawWidth is ident.DigestSize, duplicated here to avoid a
// dependency from wire (a low-level grammar package) onto ident.
const passwordRawWidth = 32

func isAlnumOrUnderscore(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '_':
		return true
	default:
		return false
	}
}
