package wire

import (
	"fmt"
	"strconv"
)

// ParseIntField validates and converts a loosely-typed wire field (decoded
// from JSON as float64 or string, or given as int/int64) into an int; any
// other type, json.Number included, is rejected as unsupported. It backs
// the spec's requirement that stripe_idx and disk_index "must parse as
// integers" -- malformed input (missing field, non-numeric string, a JSON
// float with a fractional part) is rejected with a descriptive error rather
// than causing a panic deeper in the block store.
func ParseIntField(name string, v any) (int, error) {
	switch t := v.(type) {
	case nil:
		return 0, fmt.Errorf("%s: missing", name)
	case float64:
		if t != float64(int64(t)) {
			return 0, fmt.Errorf("%s: not an integer: %v", name, t)
		}
		return int(t), nil
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0, fmt.Errorf("%s: not an integer: %q", name, t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: unsupported type %T", name, v)
	}
}
