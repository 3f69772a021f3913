package timestamp

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Raw holds a timestamp exactly as the backend sent it: a string, an epoch
// number or null. Decoding never fails on unexpected JSON kinds; they are kept
// as absent so a bad date never rejects a whole page.
type Raw struct {
	v any // string, float64 or nil
}

// RawString wraps a string timestamp.
func RawString(s string) Raw { return Raw{v: s} }

// RawMillis wraps an epoch-millisecond timestamp.
func RawMillis(ms float64) Raw { return Raw{v: ms} }

// Value returns the underlying string, float64 or nil.
func (r Raw) Value() any { return r.v }

// IsZero reports whether the timestamp is absent or blank.
func (r Raw) IsZero() bool {
	switch v := r.v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

func (r Raw) String() string {
	switch v := r.v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func (r *Raw) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	r.v = nil
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		r.v = s
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			return nil
		}
		r.v = f
	}
	return nil
}

func (r Raw) MarshalJSON() ([]byte, error) {
	switch v := r.v.(type) {
	case string:
		return json.Marshal(v)
	case float64:
		return []byte(strconv.FormatFloat(v, 'f', -1, 64)), nil
	default:
		return []byte("null"), nil
	}
}
