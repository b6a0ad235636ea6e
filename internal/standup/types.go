// Package standup defines the standup update data model, the
// non-destructive merge used for edits, and the durable update store.
// One record exists per (user, day); entries hold one status per task.
package standup

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the closed set of per-task states. Anything outside this
// set is a defect and must be rejected before persistence.
type Status string

const (
	StatusNotStarted Status = "NOT_STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusInReview   Status = "IN_REVIEW"
	StatusBlocked    Status = "BLOCKED"
	StatusRejected   Status = "REJECTED"
	StatusCompleted  Status = "COMPLETED"
)

// ErrNotFound indicates no record exists for the requested (user, day).
var ErrNotFound = errors.New("standup update not found")

// ErrConflict indicates a conditional upsert lost a race with another
// writer for the same (user, day).
var ErrConflict = errors.New("standup update modified concurrently")

// ParseStatus normalizes a string to a Status. It trims whitespace and
// is case-insensitive, but it never coerces unknown values — those come
// back from the reasoning service and must be rejected, not guessed at.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusNotStarted:
		return StatusNotStarted, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusInReview:
		return StatusInReview, nil
	case StatusBlocked:
		return StatusBlocked, nil
	case StatusRejected:
		return StatusRejected, nil
	case StatusCompleted:
		return StatusCompleted, nil
	default:
		return "", fmt.Errorf("invalid status %q", s)
	}
}

// Bucket partitions entries by day when day-splitting is enabled.
// The empty bucket is the flat (default) shape.
type Bucket string

const (
	BucketNone      Bucket = ""
	BucketYesterday Bucket = "yesterday"
	BucketToday     Bucket = "today"
)

// UpdateItem is one unit of work inside a record. Item is the merge
// key when editing: a ticket number, PR reference, or free-text task
// name.
type UpdateItem struct {
	Item               string   `json:"item"`
	Status             Status   `json:"status"`
	IdentifiedBlockers []string `json:"identified_blockers"`
	Bucket             Bucket   `json:"bucket,omitempty"`
}

// UpdateRecord is the daily report for one user. (UserID, Date) is the
// natural key; at most one record exists per key.
type UpdateRecord struct {
	UserID         string       `json:"user_id"`
	Date           string       `json:"date"` // calendar day, YYYY-MM-DD
	PreferredStyle string       `json:"preferred_style"`
	Entries        []UpdateItem `json:"entries"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdateTime     time.Time    `json:"update_time"`
}

// Empty reports whether the record carries no entries. A record can be
// created empty when the user accepts a prior-day carryover without
// stating today's plan.
func (r *UpdateRecord) Empty() bool {
	return len(r.Entries) == 0
}

// DateKey formats an instant as the calendar-day key in the given
// location. A nil location means UTC.
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}

// itemKey is the case-folded merge key for an entry.
func itemKey(item string) string {
	return strings.ToLower(strings.TrimSpace(item))
}

// Validate checks a record against the schema: every status in the
// closed enum and at most one entry per (item, bucket). Blockers on
// non-BLOCKED items are tolerated; a BLOCKED item without recorded
// blockers is also tolerated (advisory only).
func (r *UpdateRecord) Validate() error {
	seen := make(map[string]bool, len(r.Entries))
	for _, e := range r.Entries {
		if _, err := ParseStatus(string(e.Status)); err != nil {
			return fmt.Errorf("entry %q: %w", e.Item, err)
		}
		if strings.TrimSpace(e.Item) == "" {
			return fmt.Errorf("entry with empty item key")
		}
		key := itemKey(e.Item) + "\x00" + string(e.Bucket)
		if seen[key] {
			return fmt.Errorf("duplicate entry %q in bucket %q", e.Item, e.Bucket)
		}
		seen[key] = true
	}
	return nil
}

// CloneEntries returns a deep copy of the record's entries. Merge works
// on copies so callers can compare before/after states.
func (r *UpdateRecord) CloneEntries() []UpdateItem {
	if r.Entries == nil {
		return nil
	}
	out := make([]UpdateItem, len(r.Entries))
	for i, e := range r.Entries {
		out[i] = e
		if e.IdentifiedBlockers != nil {
			out[i].IdentifiedBlockers = append([]string(nil), e.IdentifiedBlockers...)
		}
	}
	return out
}
