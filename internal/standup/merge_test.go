package standup

import (
	"errors"
	"reflect"
	"testing"
)

func TestMerge_PartialUpdate(t *testing.T) {
	entries := []UpdateItem{
		{Item: "task-1", Status: StatusInProgress, IdentifiedBlockers: []string{}},
		{Item: "task-2", Status: StatusBlocked, IdentifiedBlockers: []string{"waiting on team-1"}},
	}

	merged, err := Merge(entries, []ItemChange{
		{Item: "task-1", Status: StatusCompleted, IdentifiedBlockers: []string{}},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if merged[0].Status != StatusCompleted {
		t.Errorf("task-1 status = %s, want COMPLETED", merged[0].Status)
	}
	// The unmentioned item must come through byte-identical, blockers included.
	if !reflect.DeepEqual(merged[1], entries[1]) {
		t.Errorf("task-2 changed: got %+v, want %+v", merged[1], entries[1])
	}
}

func TestMerge_UnblockClearsBlockers(t *testing.T) {
	entries := []UpdateItem{
		{Item: "task-1", Status: StatusInProgress, IdentifiedBlockers: []string{}},
		{Item: "task-2", Status: StatusBlocked, IdentifiedBlockers: []string{"team-1"}},
	}

	merged, err := Merge(entries, []ItemChange{
		{Item: "task-1", Status: StatusCompleted},
		{Item: "task-2", Status: StatusInProgress},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	if merged[0].Status != StatusCompleted {
		t.Errorf("task-1 status = %s, want COMPLETED", merged[0].Status)
	}
	if merged[1].Status != StatusInProgress {
		t.Errorf("task-2 status = %s, want IN_PROGRESS", merged[1].Status)
	}
	if len(merged[1].IdentifiedBlockers) != 0 {
		t.Errorf("task-2 blockers = %v, want cleared", merged[1].IdentifiedBlockers)
	}
}

func TestMerge_AppendsNewItems(t *testing.T) {
	entries := []UpdateItem{
		{Item: "task-1", Status: StatusInProgress, IdentifiedBlockers: []string{}},
	}

	merged, err := Merge(entries, []ItemChange{
		{Item: "task-3", Status: StatusNotStarted},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("len = %d, want 2", len(merged))
	}
	if merged[1].Item != "task-3" || merged[1].Status != StatusNotStarted {
		t.Errorf("appended = %+v", merged[1])
	}
	if merged[1].IdentifiedBlockers == nil {
		t.Error("appended blockers should be an empty slice, not nil")
	}
}

func TestMerge_CaseInsensitiveMatch(t *testing.T) {
	entries := []UpdateItem{
		{Item: "TASK-1", Status: StatusInProgress, IdentifiedBlockers: []string{}},
	}

	merged, err := Merge(entries, []ItemChange{
		{Item: "task-1", Status: StatusCompleted},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("len = %d, want 1 (matched, not appended)", len(merged))
	}
	if merged[0].Item != "TASK-1" {
		t.Errorf("item key rewritten to %q, want original casing preserved", merged[0].Item)
	}
	if merged[0].Status != StatusCompleted {
		t.Errorf("status = %s, want COMPLETED", merged[0].Status)
	}
}

func TestMerge_SubstringMatch(t *testing.T) {
	entries := []UpdateItem{
		{Item: "PROJ-42: fix login flow", Status: StatusInProgress, IdentifiedBlockers: []string{}},
		{Item: "docs cleanup", Status: StatusNotStarted, IdentifiedBlockers: []string{}},
	}

	merged, err := Merge(entries, []ItemChange{
		{Item: "proj-42", Status: StatusInReview},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged[0].Status != StatusInReview {
		t.Errorf("status = %s, want IN_REVIEW", merged[0].Status)
	}
}

func TestMerge_AmbiguousReference(t *testing.T) {
	entries := []UpdateItem{
		{Item: "login bug frontend", Status: StatusInProgress, IdentifiedBlockers: []string{}},
		{Item: "login bug backend", Status: StatusInProgress, IdentifiedBlockers: []string{}},
	}

	_, err := Merge(entries, []ItemChange{
		{Item: "login bug", Status: StatusCompleted},
	})
	if !errors.Is(err, ErrAmbiguousMatch) {
		t.Errorf("err = %v, want ErrAmbiguousMatch", err)
	}
}

func TestMerge_ExactMatchBeatsSubstring(t *testing.T) {
	entries := []UpdateItem{
		{Item: "task-1", Status: StatusInProgress, IdentifiedBlockers: []string{}},
		{Item: "task-12", Status: StatusInProgress, IdentifiedBlockers: []string{}},
	}

	merged, err := Merge(entries, []ItemChange{
		{Item: "task-1", Status: StatusCompleted},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged[0].Status != StatusCompleted {
		t.Errorf("task-1 status = %s, want COMPLETED", merged[0].Status)
	}
	if merged[1].Status != StatusInProgress {
		t.Errorf("task-12 status = %s, want untouched IN_PROGRESS", merged[1].Status)
	}
}

func TestMerge_BucketScopedMatch(t *testing.T) {
	entries := []UpdateItem{
		{Item: "task-1", Status: StatusInProgress, IdentifiedBlockers: []string{}, Bucket: BucketYesterday},
		{Item: "task-1", Status: StatusNotStarted, IdentifiedBlockers: []string{}, Bucket: BucketToday},
	}

	// Without a bucket the reference is ambiguous across buckets.
	_, err := Merge(entries, []ItemChange{{Item: "task-1", Status: StatusCompleted}})
	if !errors.Is(err, ErrAmbiguousMatch) {
		t.Fatalf("err = %v, want ErrAmbiguousMatch", err)
	}

	// With a bucket it resolves.
	merged, err := Merge(entries, []ItemChange{
		{Item: "task-1", Status: StatusCompleted, Bucket: BucketYesterday},
	})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if merged[0].Status != StatusCompleted {
		t.Errorf("yesterday task-1 = %s, want COMPLETED", merged[0].Status)
	}
	if merged[1].Status != StatusNotStarted {
		t.Errorf("today task-1 = %s, want untouched", merged[1].Status)
	}
}

func TestMerge_DoesNotMutateInput(t *testing.T) {
	entries := []UpdateItem{
		{Item: "task-1", Status: StatusInProgress, IdentifiedBlockers: []string{}},
	}

	_, err := Merge(entries, []ItemChange{{Item: "task-1", Status: StatusCompleted}})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if entries[0].Status != StatusInProgress {
		t.Error("Merge mutated its input")
	}
}
