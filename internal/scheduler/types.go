// Package scheduler fires the daily standup kickoff and any one-shot
// followups. Tasks and their execution history persist in sqlite so a
// restart can catch up a missed morning prompt instead of dropping it.
package scheduler

import (
	"fmt"
	"time"
)

// Task is the definition of a scheduled action.
type Task struct {
	ID        string    `json:"id"` // UUIDv7
	Name      string    `json:"name"`
	Schedule  Schedule  `json:"schedule"`
	GroupID   string    `json:"group_id"` // notification group to prompt
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Schedule defines when a task runs.
type Schedule struct {
	Kind      ScheduleKind `json:"kind"`
	At        *time.Time   `json:"at,omitempty"`          // for "at" kind
	TimeOfDay string       `json:"time_of_day,omitempty"` // "HH:MM", for "daily" kind
	Timezone  string       `json:"timezone,omitempty"`    // IANA timezone
}

// ScheduleKind identifies the schedule type.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"    // one-shot at a specific instant
	ScheduleDaily ScheduleKind = "daily" // every day at a local wall-clock time
)

// Validate checks the schedule is well-formed.
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleAt:
		if s.At == nil {
			return fmt.Errorf("at schedule without an instant")
		}
	case ScheduleDaily:
		if _, err := time.Parse("15:04", s.TimeOfDay); err != nil {
			return fmt.Errorf("daily schedule time %q: want HH:MM", s.TimeOfDay)
		}
		if s.Timezone != "" {
			if _, err := time.LoadLocation(s.Timezone); err != nil {
				return fmt.Errorf("daily schedule timezone: %w", err)
			}
		}
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return nil
}

// NextRun calculates the next execution time strictly after the given
// instant.
func (t *Task) NextRun(after time.Time) (time.Time, bool) {
	switch t.Schedule.Kind {
	case ScheduleAt:
		if t.Schedule.At != nil && t.Schedule.At.After(after) {
			return *t.Schedule.At, true
		}
		return time.Time{}, false // one-shot already passed

	case ScheduleDaily:
		tod, err := time.Parse("15:04", t.Schedule.TimeOfDay)
		if err != nil {
			return time.Time{}, false
		}
		loc := time.UTC
		if t.Schedule.Timezone != "" {
			if l, err := time.LoadLocation(t.Schedule.Timezone); err == nil {
				loc = l
			}
		}
		local := after.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(),
			tod.Hour(), tod.Minute(), 0, 0, loc)
		if !next.After(after) {
			next = next.AddDate(0, 0, 1)
		}
		return next, true

	default:
		return time.Time{}, false
	}
}

// Execution represents a single run of a task.
type Execution struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"`
}

// ExecutionStatus indicates the state of an execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusSkipped   ExecutionStatus = "skipped" // missed window, chose not to catch up
)
