package timeline

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tOgg1/crmchat/internal/crm"
)

var base = time.Date(2026, 2, 9, 8, 0, 0, 0, time.UTC)

func msg(id int64, offset time.Duration, content string) crm.Message {
	return crm.Message{
		ID:         id,
		Direction:  crm.DirectionInbound,
		Channel:    crm.ChannelWhatsApp,
		Content:    &content,
		ResolvedAt: base.Add(offset),
	}
}

func undated(id int64, content string) crm.Message {
	return crm.Message{ID: id, Content: &content}
}

func requireSorted(t *testing.T, list []crm.Message) {
	t.Helper()
	for i := 1; i < len(list); i++ {
		require.LessOrEqual(t, list[i-1].SortKey(), list[i].SortKey(), "index %d", i)
	}
}

func TestMergeEmptyInputs(t *testing.T) {
	require.Empty(t, Merge(nil, nil))

	batch := []crm.Message{msg(2, 2*time.Minute, "b"), msg(1, time.Minute, "a")}
	require.Equal(t, []int64{1, 2}, IDs(Merge(nil, batch)))
	require.Equal(t, []int64{1, 2}, IDs(Merge(batch, nil)))
}

func TestMergeIsIdempotent(t *testing.T) {
	batchA := []crm.Message{
		msg(5, 5*time.Minute, "five"),
		msg(3, 3*time.Minute, "three"),
		undated(9, "no date"),
		msg(4, 3*time.Minute, "tie"),
	}
	once := Merge(nil, batchA)
	twice := Merge(once, batchA)
	require.Equal(t, IDs(once), IDs(twice))
	require.Equal(t, once, twice)
	require.Equal(t, []int64{9, 3, 4, 5}, IDs(once))
}

func TestMergePrecedence(t *testing.T) {
	current := []crm.Message{msg(1, 0, "old")}
	incoming := []crm.Message{msg(1, 0, "new")}

	polled := Merge(current, incoming)
	require.Len(t, polled, 1)
	require.Equal(t, "new", polled[0].Text())

	backfilled := Merge(incoming, current)
	require.Len(t, backfilled, 1)
	require.Equal(t, "old", backfilled[0].Text())
}

func TestMergeIDSetIsOrderIndependent(t *testing.T) {
	a := []crm.Message{msg(1, time.Minute, "a1"), msg(2, 2*time.Minute, "a2"), msg(3, 3*time.Minute, "a3")}
	b := []crm.Message{msg(3, 3*time.Minute, "b3"), msg(4, 4*time.Minute, "b4")}

	ab := Merge(a, b)
	ba := Merge(b, a)
	require.ElementsMatch(t, IDs(ab), IDs(ba))
	require.Equal(t, "b3", ab[2].Text())
	require.Equal(t, "a3", ba[2].Text())
}

func TestMergeReplacementKeepsTimestampOrder(t *testing.T) {
	current := []crm.Message{msg(1, time.Minute, "a"), msg(2, 2*time.Minute, "b")}
	// Server corrected the timestamp of message 1 so it is now the newest.
	incoming := []crm.Message{msg(1, 3*time.Minute, "a-confirmed")}

	merged := Merge(current, incoming)
	require.Equal(t, []int64{2, 1}, IDs(merged))
	require.Equal(t, "a-confirmed", merged[1].Text())
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	current := []crm.Message{msg(2, 2*time.Minute, "b"), msg(1, time.Minute, "a")}
	incoming := []crm.Message{msg(2, 2*time.Minute, "b2")}
	_ = Merge(current, incoming)
	require.Equal(t, []int64{2, 1}, IDs(current))
	require.Equal(t, "b", current[0].Text())
}

func TestMergeRandomBatchesStaySorted(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var list []crm.Message
	seen := map[int64]struct{}{}
	for round := 0; round < 50; round++ {
		batch := make([]crm.Message, 0, 8)
		for i := 0; i < 8; i++ {
			id := int64(rng.Intn(60))
			seen[id] = struct{}{}
			if rng.Intn(10) == 0 {
				batch = append(batch, undated(id, "x"))
				continue
			}
			batch = append(batch, msg(id, time.Duration(rng.Intn(1000))*time.Second, "x"))
		}
		if round%2 == 0 {
			list = Merge(list, batch)
		} else {
			list = Merge(batch, list)
		}
		requireSorted(t, list)
	}
	require.Len(t, list, len(seen))
}

func TestEndToEndInitialLoadThenBackfill(t *testing.T) {
	initial := []crm.Message{msg(5, 5*time.Minute, "five"), msg(3, 3*time.Minute, "three")}
	list := Merge(nil, initial)
	require.Equal(t, []int64{3, 5}, IDs(list))

	older := []crm.Message{msg(1, time.Minute, "one"), msg(2, 2*time.Minute, "two")}
	list = Merge(older, list)
	require.Equal(t, []int64{1, 2, 3, 5}, IDs(list))
}

func TestHelpers(t *testing.T) {
	before := []crm.Message{msg(1, time.Minute, "a")}
	after := Merge(before, []crm.Message{msg(2, 2*time.Minute, "b"), msg(1, time.Minute, "a2")})

	require.True(t, Contains(after, 2))
	require.False(t, Contains(after, 3))

	added := Added(before, after)
	require.Equal(t, []int64{2}, IDs(added))
}
