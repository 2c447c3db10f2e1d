// Package ordering holds the position arithmetic shared by the client store and
// the server reconciliation service. Nothing in here performs I/O.
package ordering

import (
	"sort"

	"github.com/AINF-EPAMIG/gestao-sub001/domain"
)

// Entry is the ordering view of one item inside a lane.
type Entry struct {
	Key      domain.ItemKey
	Position int
}

// Less orders by (position, id). Kind breaks the remaining tie for lanes that
// mix kinds, where ids may collide.
func Less(a, b Entry) bool {
	if a.Position != b.Position {
		return a.Position < b.Position
	}
	if a.Key.ID != b.Key.ID {
		return a.Key.ID < b.Key.ID
	}
	return a.Key.Kind < b.Key.Kind
}

// Sort orders entries in place by (position, id).
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool { return Less(entries[i], entries[j]) })
}

// IsDense reports whether the sorted positions of entries are exactly 1..N.
func IsDense(entries []Entry) bool {
	sorted := append([]Entry(nil), entries...)
	Sort(sorted)
	for i, e := range sorted {
		if e.Position != i+1 {
			return false
		}
	}
	return true
}

// Corrections sorts entries by (position, id) and returns the entries whose
// position differs from their rank, carrying the corrected position.
func Corrections(entries []Entry) []Entry {
	sorted := append([]Entry(nil), entries...)
	Sort(sorted)
	var out []Entry
	for i, e := range sorted {
		if e.Position != i+1 {
			out = append(out, Entry{Key: e.Key, Position: i + 1})
		}
	}
	return out
}

// ClampIndex maps a requested zero-based index onto [0, length].
func ClampIndex(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}

// Remove returns keys without k and the index k was found at, or -1.
func Remove(keys []domain.ItemKey, k domain.ItemKey) ([]domain.ItemKey, int) {
	for i, cur := range keys {
		if cur == k {
			out := make([]domain.ItemKey, 0, len(keys)-1)
			out = append(out, keys[:i]...)
			return append(out, keys[i+1:]...), i
		}
	}
	return keys, -1
}

// Insert places k at index, clamped to [0, len(keys)]. It returns the new
// slice and the index actually used.
func Insert(keys []domain.ItemKey, k domain.ItemKey, index int) ([]domain.ItemKey, int) {
	index = ClampIndex(index, len(keys))
	out := make([]domain.ItemKey, 0, len(keys)+1)
	out = append(out, keys[:index]...)
	out = append(out, k)
	return append(out, keys[index:]...), index
}

// Keys extracts the keys of already ordered entries.
func Keys(ordered []Entry) []domain.ItemKey {
	keys := make([]domain.ItemKey, len(ordered))
	for i, e := range ordered {
		keys[i] = e.Key
	}
	return keys
}
