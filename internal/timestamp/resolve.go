// Package timestamp turns the heterogeneous date values sent by the CRM backend
// into instants that can be compared and sorted.
package timestamp

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// maxEpochMillis mirrors the ECMAScript time value range (±100,000,000 days).
const maxEpochMillis = 8.64e15

// Options tunes how offset-less strings are interpreted.
type Options struct {
	// AssumeUTC treats strings without a timezone marker as UTC.
	AssumeUTC bool

	// AssumeOffset is appended (e.g. "-03:00") to strings without a timezone
	// marker. Ignored when AssumeUTC is set.
	AssumeOffset string

	// Location is the zone used for offset-less and day-first forms.
	// Defaults to time.Local.
	Location *time.Location
}

func (o Options) location() *time.Location {
	if o.Location != nil {
		return o.Location
	}
	return time.Local
}

var (
	tzMarkerPattern = regexp.MustCompile(`(?i)(z|[+-]\d{2}:?\d{2})$`)
	dayFirstSlash   = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})(?:\s+(\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
	dayFirstDash    = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})-(\d{4})(?:\s+(\d{1,2}):(\d{2})(?::(\d{2}))?)?$`)
	dateTimeSpace   = regexp.MustCompile(`^(\d{4}-\d{1,2}-\d{1,2})\s+`)
	zoneSpace       = regexp.MustCompile(`\s+(Z|[+-]\d{2}:?\d{2})$`)
	zonedLayouts    = []string{"2006-01-02T15:04:05Z07:00", "2006-01-02T15:04:05Z0700", "2006-01-02T15:04Z07:00", "2006-01-02T15:04Z0700", time.RFC1123Z, time.RFC1123, time.RFC850}
	localLayouts    = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}
	dateOnlyLayout  = "2006-01-02"
)

// Resolve parses raw into an instant. The boolean is false when raw is absent or
// cannot be interpreted; Resolve never panics.
//
// Numbers are epoch milliseconds. Strings are tried, in order: the AssumeUTC and
// AssumeOffset normalizations (only when the string has no timezone marker), a
// generic ISO-8601/RFC parse of the raw string, the same parse with spaces
// replaced by "T", and finally the day-first DD/MM/YYYY and DD-MM-YYYY forms.
func Resolve(raw any, opts Options) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case Raw:
		return Resolve(v.v, opts)
	case *Raw:
		if v == nil {
			return time.Time{}, false
		}
		return Resolve(v.v, opts)
	case time.Time:
		if v.IsZero() {
			return time.Time{}, false
		}
		return v, true
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case string:
		return resolveString(v, opts)
	case *string:
		if v == nil {
			return time.Time{}, false
		}
		return resolveString(*v, opts)
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return time.Time{}, false
		}
		return fromEpochMillis(f)
	case float64:
		return fromEpochMillis(v)
	case float32:
		return fromEpochMillis(float64(v))
	case int:
		return fromEpochMillis(float64(v))
	case int32:
		return fromEpochMillis(float64(v))
	case int64:
		return fromEpochMillis(float64(v))
	case uint32:
		return fromEpochMillis(float64(v))
	case uint64:
		return fromEpochMillis(float64(v))
	default:
		return time.Time{}, false
	}
}

// SortKey returns the epoch-millisecond sort position of a resolved value.
// Unresolved values sort as the oldest possible instant (0).
func SortKey(t time.Time, ok bool) int64 {
	if !ok || t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Best picks the value to resolve for a message: the explicit message timestamp
// when present, otherwise the generic creation timestamp.
func Best(messageTimestamp, createdAt any) any {
	if present(messageTimestamp) {
		return messageTimestamp
	}
	return createdAt
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case Raw:
		return !t.IsZero()
	case *Raw:
		return t != nil && !t.IsZero()
	case string:
		return strings.TrimSpace(t) != ""
	case *string:
		return t != nil && strings.TrimSpace(*t) != ""
	case *time.Time:
		return t != nil
	default:
		return true
	}
}

func fromEpochMillis(ms float64) (time.Time, bool) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || math.Abs(ms) > maxEpochMillis {
		return time.Time{}, false
	}
	ms = math.Trunc(ms)
	return time.UnixMilli(int64(ms)), true
}

func resolveString(raw string, opts Options) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	if strings.HasSuffix(s, "z") {
		s = s[:len(s)-1] + "Z"
	}
	loc := opts.location()
	marked := hasTimezoneMarker(s)

	if opts.AssumeUTC && !marked {
		if t, ok := parseGeneric(normalizeSeparators(s)+"Z", loc); ok {
			return t, true
		}
	} else if offset := strings.TrimSpace(opts.AssumeOffset); offset != "" && !marked {
		if t, ok := parseGeneric(normalizeSeparators(s)+offset, loc); ok {
			return t, true
		}
	}

	if t, ok := parseGeneric(s, loc); ok {
		return t, true
	}
	if t, ok := parseGeneric(normalizeSeparators(s), loc); ok {
		return t, true
	}
	if t, ok := parseDayFirst(dayFirstSlash, s, loc); ok {
		return t, true
	}
	if t, ok := parseDayFirst(dayFirstDash, s, loc); ok {
		return t, true
	}
	return time.Time{}, false
}

func hasTimezoneMarker(s string) bool {
	return tzMarkerPattern.MatchString(s)
}

// normalizeSeparators turns "YYYY-MM-DD hh:mm[:ss] [offset]" into its ISO form:
// the date/time space becomes "T" and the space before the offset is dropped.
func normalizeSeparators(s string) string {
	s = zoneSpace.ReplaceAllString(s, "$1")
	return dateTimeSpace.ReplaceAllString(s, "${1}T")
}

// parseGeneric accepts the date-time forms a browser's Date parser accepts for
// this backend: ISO-8601 with or without offset and RFC 1123/850 strings.
// Date-only ISO strings are UTC; offset-less date-times use loc.
func parseGeneric(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	if t, err := time.Parse(dateOnlyLayout, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func parseDayFirst(pattern *regexp.Regexp, s string, loc *time.Location) (time.Time, bool) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, false
	}
	day := atoi(m[1])
	month := atoi(m[2])
	year := atoi(m[3])
	hour := atoi(m[4])
	minute := atoi(m[5])
	second := atoi(m[6])

	if month < 1 || month > 12 || day < 1 || hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, loc)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, false
	}
	return t, true
}

// atoi returns 0 for empty (optional) capture groups.
func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
