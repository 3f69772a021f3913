// Package timeline reconciles message batches from independent fetches into a
// single deduplicated, chronologically ordered list.
package timeline

import (
	"sort"

	"github.com/tOgg1/crmchat/internal/crm"
)

// Merge combines current and incoming into one list keyed by message id.
//
// Messages from current are inserted in order, then incoming is overlaid in
// order: a message whose id already exists replaces the earlier copy in place
// (the last applied batch wins). The result is stable-sorted ascending by
// resolved timestamp, so ties keep insertion order.
//
// The argument order encodes precedence:
//
//	initial load:  Merge(nil, page)
//	backfill:      Merge(older, current)   // loaded page wins over the older batch
//	poll:          Merge(current, latest)  // poll result wins
//
// Merge never mutates its inputs and always returns a fresh slice.
func Merge(current, incoming []crm.Message) []crm.Message {
	out := make([]crm.Message, 0, len(current)+len(incoming))
	index := make(map[int64]int, len(current)+len(incoming))

	put := func(m crm.Message) {
		if i, ok := index[m.ID]; ok {
			out[i] = m
			return
		}
		index[m.ID] = len(out)
		out = append(out, m)
	}
	for _, m := range current {
		put(m)
	}
	for _, m := range incoming {
		put(m)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SortKey() < out[j].SortKey()
	})
	return out
}

// IDs returns the message ids of list in order.
func IDs(list []crm.Message) []int64 {
	ids := make([]int64, len(list))
	for i, m := range list {
		ids[i] = m.ID
	}
	return ids
}

// Contains reports whether list holds a message with id.
func Contains(list []crm.Message, id int64) bool {
	for _, m := range list {
		if m.ID == id {
			return true
		}
	}
	return false
}

// Added returns the messages of after whose ids are absent from before,
// in the order of after.
func Added(before, after []crm.Message) []crm.Message {
	seen := make(map[int64]struct{}, len(before))
	for _, m := range before {
		seen[m.ID] = struct{}{}
	}
	var out []crm.Message
	for _, m := range after {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}
