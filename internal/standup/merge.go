package standup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAmbiguousMatch indicates an edit reference could resolve to more
// than one existing entry. The caller asks the user instead of guessing.
var ErrAmbiguousMatch = errors.New("ambiguous item reference")

// ItemChange is one delta produced by the extraction engine for the
// edit path. It names the item being changed (or added) and its new
// state; entries the user did not mention never appear here.
type ItemChange struct {
	Item               string   `json:"item"`
	Status             Status   `json:"status"`
	IdentifiedBlockers []string `json:"identified_blockers"`
	Bucket             Bucket   `json:"bucket,omitempty"`
}

// Merge applies changes to entries and returns the merged result. This
// is a partial function update, never a full replace: entries not named
// by a change are carried over untouched, changed entries get the new
// status and blocker set, and unmatched changes append as new entries.
//
// Matching is by case-insensitive item key, tolerant of substring
// references ("task-12" matches an entry "TASK-12: fix login"). A
// reference that matches more than one entry returns ErrAmbiguousMatch
// so the caller can route to a clarifying question.
func Merge(entries []UpdateItem, changes []ItemChange) ([]UpdateItem, error) {
	merged := make([]UpdateItem, len(entries))
	copy(merged, entries)

	for _, ch := range changes {
		idx, err := findEntry(merged, ch.Item, ch.Bucket)
		if err != nil {
			return nil, err
		}

		if idx < 0 {
			merged = append(merged, UpdateItem{
				Item:               strings.TrimSpace(ch.Item),
				Status:             ch.Status,
				IdentifiedBlockers: normalizeBlockers(ch.IdentifiedBlockers),
				Bucket:             ch.Bucket,
			})
			continue
		}

		merged[idx].Status = ch.Status
		merged[idx].IdentifiedBlockers = normalizeBlockers(ch.IdentifiedBlockers)
		if ch.Bucket != BucketNone {
			merged[idx].Bucket = ch.Bucket
		}
	}

	return merged, nil
}

// findEntry resolves an item reference to an index in entries, or -1
// when nothing matches. Exact (case-folded) key matches win outright;
// otherwise substring containment in either direction is considered.
// More than one substring candidate is ambiguous.
func findEntry(entries []UpdateItem, ref string, bucket Bucket) (int, error) {
	key := itemKey(ref)
	if key == "" {
		return -1, fmt.Errorf("empty item reference")
	}

	// Exact matches first. An exact hit in the requested bucket (or any
	// bucket, when none was given) is never ambiguous.
	exact := -1
	for i, e := range entries {
		if bucket != BucketNone && e.Bucket != bucket {
			continue
		}
		if itemKey(e.Item) == key {
			if exact >= 0 {
				return -1, fmt.Errorf("%w: %q appears in multiple buckets", ErrAmbiguousMatch, ref)
			}
			exact = i
		}
	}
	if exact >= 0 {
		return exact, nil
	}

	var candidates []int
	for i, e := range entries {
		if bucket != BucketNone && e.Bucket != bucket {
			continue
		}
		ek := itemKey(e.Item)
		if strings.Contains(ek, key) || strings.Contains(key, ek) {
			candidates = append(candidates, i)
		}
	}

	switch len(candidates) {
	case 0:
		return -1, nil
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, len(candidates))
		for i, idx := range candidates {
			names[i] = entries[idx].Item
		}
		return -1, fmt.Errorf("%w: %q could be any of %s", ErrAmbiguousMatch, ref, strings.Join(names, ", "))
	}
}

// normalizeBlockers trims entries and drops empties; nil in, empty out,
// so persisted JSON always has an array.
func normalizeBlockers(blockers []string) []string {
	out := make([]string, 0, len(blockers))
	for _, b := range blockers {
		if t := strings.TrimSpace(b); t != "" {
			out = append(out, t)
		}
	}
	return out
}
