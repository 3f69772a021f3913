package timestamp

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var buenosAires = time.FixedZone("ART", -3*60*60)

func mustResolve(t *testing.T, raw any, opts Options) time.Time {
	t.Helper()
	ts, ok := Resolve(raw, opts)
	require.True(t, ok, "expected %v to resolve", raw)
	return ts
}

func TestResolveAbsentValues(t *testing.T) {
	for _, raw := range []any{nil, "", "   ", Raw{}, (*Raw)(nil), time.Time{}, (*time.Time)(nil), (*string)(nil), true} {
		_, ok := Resolve(raw, Options{})
		require.False(t, ok, "raw=%#v", raw)
	}
}

func TestResolveEpochMillis(t *testing.T) {
	want := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)
	ms := want.UnixMilli()

	require.True(t, want.Equal(mustResolve(t, ms, Options{})))
	require.True(t, want.Equal(mustResolve(t, float64(ms), Options{})))
	require.True(t, want.Equal(mustResolve(t, json.Number("1704450600000"), Options{})))
	require.True(t, want.Equal(mustResolve(t, RawMillis(float64(ms)), Options{})))

	for _, bad := range []float64{math.NaN(), math.Inf(1), math.Inf(-1), 9e15} {
		_, ok := Resolve(bad, Options{})
		require.False(t, ok, "value=%v", bad)
	}
}

func TestResolveNativeTime(t *testing.T) {
	now := time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)
	require.Equal(t, now, mustResolve(t, now, Options{}))
	require.Equal(t, now, mustResolve(t, &now, Options{}))
}

func TestResolveExplicitOffsetIgnoresOptions(t *testing.T) {
	inputs := []string{
		"2024-01-05T10:30:00Z",
		"2024-01-05T10:30:00.250Z",
		"2024-01-05T07:30:00-03:00",
		"2024-01-05T13:30:00+0300",
		"2024-01-05T10:30Z",
	}
	optionSets := []Options{
		{},
		{AssumeUTC: true},
		{AssumeOffset: "+05:00"},
		{Location: buenosAires},
	}
	for _, in := range inputs {
		base := mustResolve(t, in, Options{})
		for _, opts := range optionSets {
			got := mustResolve(t, in, opts)
			require.True(t, base.Equal(got), "input=%q opts=%+v", in, opts)
		}
	}
}

func TestResolveAssumeUTCNormalizesSpace(t *testing.T) {
	got := mustResolve(t, "2024-01-05 10:30", Options{AssumeUTC: true})
	want := mustResolve(t, "2024-01-05T10:30:00Z", Options{})
	require.True(t, want.Equal(got))
}

func TestResolveZoneMarkerForms(t *testing.T) {
	want := time.Date(2024, 1, 5, 10, 30, 0, 0, time.UTC)
	for _, in := range []string{
		"2024-01-05T10:30:00z",
		"2024-01-05 10:30:00Z",
		"2024-01-05 10:30:00 Z",
		"2024-01-05 13:30:00 +03:00",
		"2024-01-05 13:30:00+0300",
		"2024-01-05  07:30 -03:00",
	} {
		got := mustResolve(t, in, Options{AssumeOffset: "+05:00"})
		require.True(t, want.Equal(got), "input=%q got=%s", in, got)
	}
}

func TestResolveAssumeOffset(t *testing.T) {
	got := mustResolve(t, "2024-01-05 10:30:00", Options{AssumeOffset: "-03:00"})
	require.True(t, time.Date(2024, 1, 5, 13, 30, 0, 0, time.UTC).Equal(got))

	got = mustResolve(t, "2024-01-05T10:30:00", Options{AssumeOffset: "+0100"})
	require.True(t, time.Date(2024, 1, 5, 9, 30, 0, 0, time.UTC).Equal(got))
}

func TestResolveOffsetlessUsesLocation(t *testing.T) {
	got := mustResolve(t, "2024-01-05T10:30:00", Options{Location: buenosAires})
	require.True(t, time.Date(2024, 1, 5, 13, 30, 0, 0, time.UTC).Equal(got))

	spaced := mustResolve(t, "2024-01-05 10:30:00", Options{Location: buenosAires})
	require.True(t, got.Equal(spaced))
}

func TestResolveDateOnlyIsUTC(t *testing.T) {
	got := mustResolve(t, "2024-05-01", Options{Location: buenosAires})
	require.True(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Equal(got))
}

func TestResolveRFC1123(t *testing.T) {
	got := mustResolve(t, "Fri, 05 Jan 2024 10:30:00 GMT", Options{})
	require.Equal(t, int64(1704450600000), got.UnixMilli())
}

func TestResolveDayFirstSlash(t *testing.T) {
	got := mustResolve(t, "05/01/2024", Options{Location: buenosAires})
	require.Equal(t, 2024, got.Year())
	require.Equal(t, time.January, got.Month())
	require.Equal(t, 5, got.Day())

	iso := mustResolve(t, "2024-05-01", Options{Location: buenosAires})
	require.False(t, got.Equal(iso))

	withTime := mustResolve(t, "05/01/2024 09:15", Options{Location: buenosAires})
	require.True(t, time.Date(2024, 1, 5, 9, 15, 0, 0, buenosAires).Equal(withTime))

	withSeconds := mustResolve(t, "5/1/2024 09:15:42", Options{Location: buenosAires})
	require.True(t, time.Date(2024, 1, 5, 9, 15, 42, 0, buenosAires).Equal(withSeconds))
}

func TestResolveDayFirstDash(t *testing.T) {
	got := mustResolve(t, "31-12-2023 23:59:59", Options{Location: buenosAires})
	require.True(t, time.Date(2023, 12, 31, 23, 59, 59, 0, buenosAires).Equal(got))
}

func TestResolveRejectsImpossibleDates(t *testing.T) {
	for _, in := range []string{"31/02/2024", "01/13/2024", "10/10/2024 24:00", "not a date", "2024-13-45"} {
		_, ok := Resolve(in, Options{Location: buenosAires})
		require.False(t, ok, "input=%q", in)
	}
}

func TestSortKey(t *testing.T) {
	require.Equal(t, int64(0), SortKey(time.Time{}, false))
	require.Equal(t, int64(0), SortKey(time.Now(), false))
	ts := time.UnixMilli(1704450600000)
	require.Equal(t, int64(1704450600000), SortKey(ts, true))
}

func TestBestPrefersMessageTimestamp(t *testing.T) {
	msgTS := RawString("2024-01-05T10:30:00Z")
	created := RawString("2024-01-01T00:00:00Z")

	require.Equal(t, msgTS, Best(msgTS, created))
	require.Equal(t, created, Best(Raw{}, created))
	require.Equal(t, created, Best(RawString("  "), created))
	require.Equal(t, "b", Best(nil, "b"))
	require.Equal(t, 12, Best(12, "b"))
}
