// Package codec converts engine-native values returned by pgx into a
// small, fixed set of JSON-safe kinds: null, boolean, number, string,
// sequence, and mapping. Conversion follows an explicit, ordered rule
// table; a value no rule covers fails with UnserializableError instead
// of being silently stringified.
//
// The codec is pure and safe for concurrent use.
package codec

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// UnserializableError reports a value the codec cannot represent. This
// is a programming or data error and is never silently dropped.
type UnserializableError struct {
	TypeName string
}

func (e *UnserializableError) Error() string {
	return fmt.Sprintf("value of type %s is not JSON serializable", e.TypeName)
}

// Normalize converts v into a structure containing only JSON-safe kinds.
// Rules are checked in order; the first match wins:
//
//   - numeric (arbitrary-precision decimal): integer when the value
//     equals its own truncation, float otherwise
//   - interval/duration: canonical human-readable string, e.g.
//     "1 day, 2:30:00" — never a unit-ambiguous number
//   - bytea (and any byte-slice view): lowercase hexadecimal string
//   - temporal values: RFC 3339 / wall-clock strings
//   - sequences and mappings: recurse
//   - anything else: UnserializableError naming the type
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string, json.Number:
		return val, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return val, nil
	case float32:
		return normalizeFloat(float64(val)), nil
	case float64:
		return normalizeFloat(val), nil

	case pgtype.Numeric:
		return normalizeNumeric(val)

	case pgtype.Interval:
		if !val.Valid {
			return nil, nil
		}
		return formatInterval(val.Months, val.Days, val.Microseconds), nil
	case time.Duration:
		return formatInterval(0, 0, val.Microseconds()), nil

	case []byte:
		return hex.EncodeToString(val), nil

	case time.Time:
		return val.Format(time.RFC3339Nano), nil
	case pgtype.Time:
		if !val.Valid {
			return nil, nil
		}
		return formatClock(val.Microseconds), nil

	case [16]byte:
		// UUID
		return fmt.Sprintf("%x-%x-%x-%x-%x", val[0:4], val[4:6], val[6:8], val[8:10], val[10:16]), nil

	case netip.Addr:
		return val.String(), nil
	case netip.Prefix:
		return val.String(), nil
	case net.HardwareAddr:
		return val.String(), nil

	case pgtype.Bits:
		if !val.Valid {
			return nil, nil
		}
		return formatBits(val), nil

	case pgtype.Range[any]:
		return normalizeRange(val)

	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			norm, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[k] = norm
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			norm, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil

	default:
		return nil, &UnserializableError{TypeName: fmt.Sprintf("%T", v)}
	}
}

// NormalizeRows normalizes every field of every row in place order.
func NormalizeRows(rows []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		norm, err := Normalize(row)
		if err != nil {
			return nil, err
		}
		out[i] = norm.(map[string]any)
	}
	return out, nil
}

// Marshal normalizes v and renders it as canonical JSON text:
// pretty-printed with 2-space indentation and deterministic key order.
func Marshal(v any) (string, error) {
	norm, err := Normalize(v)
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(norm, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// normalizeFloat maps non-finite floats to their PostgreSQL text forms;
// JSON has no representation for them.
func normalizeFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	default:
		return f
	}
}

// normalizeNumeric applies the decimal rule: a numeric whose value
// equals its own truncation to an integer becomes a JSON integer (exact
// digits preserved beyond int64 via json.Number); anything fractional
// becomes a float.
func normalizeNumeric(n pgtype.Numeric) (any, error) {
	if !n.Valid {
		return nil, nil
	}
	if n.NaN {
		return "NaN", nil
	}
	if n.InfinityModifier == pgtype.Infinity {
		return "Infinity", nil
	}
	if n.InfinityModifier == pgtype.NegativeInfinity {
		return "-Infinity", nil
	}

	i := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		i.Mul(i, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
	case n.Exp < 0:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		rem := new(big.Int)
		i.QuoRem(i, div, rem)
		if rem.Sign() != 0 {
			f, err := n.Float64Value()
			if err != nil {
				return nil, err
			}
			return f.Float64, nil
		}
	}
	if i.IsInt64() {
		return i.Int64(), nil
	}
	return json.Number(i.String()), nil
}

// formatInterval renders an interval the way a human reviews it:
// "[N year(s), ][N mon(s), ][N day(s), ]H:MM:SS[.ffffff]". The example
// form is "1 day, 2:30:00". PostgreSQL intervals carry a month component
// with no fixed day length, so months are rendered as their own part
// rather than folded into days.
func formatInterval(months, days int32, micros int64) string {
	var sb strings.Builder

	if months != 0 {
		years := months / 12
		mons := months % 12
		if years != 0 {
			fmt.Fprintf(&sb, "%d year%s, ", years, pluralSuffix(int64(years)))
		}
		if mons != 0 {
			fmt.Fprintf(&sb, "%d mon%s, ", mons, pluralSuffix(int64(mons)))
		}
	}
	if days != 0 {
		fmt.Fprintf(&sb, "%d day%s, ", days, pluralSuffix(int64(days)))
	}

	if micros < 0 {
		sb.WriteByte('-')
		micros = -micros
	}
	sb.WriteString(formatClock(micros))
	return sb.String()
}

// formatClock renders microseconds-since-midnight as H:MM:SS[.ffffff].
func formatClock(micros int64) string {
	hours := micros / 3_600_000_000
	micros -= hours * 3_600_000_000
	minutes := micros / 60_000_000
	micros -= minutes * 60_000_000
	seconds := micros / 1_000_000
	micros -= seconds * 1_000_000
	if micros > 0 {
		return fmt.Sprintf("%d:%02d:%02d.%06d", hours, minutes, seconds, micros)
	}
	return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
}

func pluralSuffix(n int64) string {
	if n == 1 || n == -1 {
		return ""
	}
	return "s"
}

// formatBits renders a bit/varbit value as a string of '0' and '1'.
func formatBits(b pgtype.Bits) string {
	out := make([]byte, b.Len)
	for i := int32(0); i < b.Len; i++ {
		byteIdx := i / 8
		bitIdx := 7 - (i % 8)
		if b.Bytes[byteIdx]&(1<<uint(bitIdx)) != 0 {
			out[i] = '1'
		} else {
			out[i] = '0'
		}
	}
	return string(out)
}

// normalizeRange renders a range value in PostgreSQL's bracket notation,
// normalizing the bound values recursively.
func normalizeRange(r pgtype.Range[any]) (any, error) {
	if !r.Valid {
		return nil, nil
	}
	if r.LowerType == pgtype.Empty {
		return "empty", nil
	}

	var sb strings.Builder
	if r.LowerType == pgtype.Inclusive {
		sb.WriteByte('[')
	} else {
		sb.WriteByte('(')
	}
	if r.LowerType != pgtype.Unbounded {
		lower, err := Normalize(r.Lower)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, "%v", lower)
	}
	sb.WriteByte(',')
	if r.UpperType != pgtype.Unbounded {
		upper, err := Normalize(r.Upper)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&sb, "%v", upper)
	}
	if r.UpperType == pgtype.Inclusive {
		sb.WriteByte(']')
	} else {
		sb.WriteByte(')')
	}
	return sb.String(), nil
}
