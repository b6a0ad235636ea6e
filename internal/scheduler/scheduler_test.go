package scheduler

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "scheduler_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	s, err := NewStoreWithDB(db)
	if err != nil {
		t.Fatalf("NewStoreWithDB: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduleValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		schedule Schedule
		wantErr  bool
	}{
		{"daily valid", Schedule{Kind: ScheduleDaily, TimeOfDay: "08:55", Timezone: "America/Los_Angeles"}, false},
		{"daily no timezone", Schedule{Kind: ScheduleDaily, TimeOfDay: "23:00"}, false},
		{"daily bad time", Schedule{Kind: ScheduleDaily, TimeOfDay: "8 55"}, true},
		{"daily bad timezone", Schedule{Kind: ScheduleDaily, TimeOfDay: "08:55", Timezone: "Mars/Olympus"}, true},
		{"at valid", Schedule{Kind: ScheduleAt, At: &now}, false},
		{"at missing instant", Schedule{Kind: ScheduleAt}, true},
		{"unknown kind", Schedule{Kind: "cron"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNextRun_Daily(t *testing.T) {
	task := &Task{Schedule: Schedule{Kind: ScheduleDaily, TimeOfDay: "08:55"}}

	// Before today's fire time: fires today.
	after := time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)
	next, ok := task.NextRun(after)
	if !ok {
		t.Fatal("NextRun = no run")
	}
	want := time.Date(2026, 8, 30, 8, 55, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// After today's fire time: fires tomorrow.
	after = time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	next, _ = task.NextRun(after)
	want = time.Date(2026, 8, 31, 8, 55, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}

	// Exactly at the fire time: strictly after, so tomorrow.
	after = time.Date(2026, 8, 30, 8, 55, 0, 0, time.UTC)
	next, _ = task.NextRun(after)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestNextRun_OneShot(t *testing.T) {
	at := time.Now().Add(time.Hour)
	task := &Task{Schedule: Schedule{Kind: ScheduleAt, At: &at}}

	next, ok := task.NextRun(time.Now())
	if !ok || !next.Equal(at) {
		t.Errorf("NextRun = %v, %v", next, ok)
	}

	if _, ok := task.NextRun(at.Add(time.Minute)); ok {
		t.Error("one-shot in the past still runs")
	}
}

func TestEnsureDailyTask(t *testing.T) {
	store := newTestStore(t)
	s := New(discardLogger(), store, nil)

	task, err := s.EnsureDailyTask("morning-standup", "08:55", "UTC", "S1")
	if err != nil {
		t.Fatalf("EnsureDailyTask: %v", err)
	}
	if task.ID == "" || !task.Enabled {
		t.Errorf("task = %+v", task)
	}

	// Second call with a changed time updates in place, no duplicate.
	again, err := s.EnsureDailyTask("morning-standup", "09:30", "UTC", "S1")
	if err != nil {
		t.Fatalf("EnsureDailyTask: %v", err)
	}
	if again.ID != task.ID {
		t.Errorf("task replaced instead of updated: %s vs %s", again.ID, task.ID)
	}
	if again.Schedule.TimeOfDay != "09:30" {
		t.Errorf("schedule not updated: %+v", again.Schedule)
	}

	tasks, err := s.ListTasks(false)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("tasks = %d, want 1", len(tasks))
	}
	s.Stop()
}

func TestTriggerTask_RecordsExecution(t *testing.T) {
	store := newTestStore(t)

	var fired atomic.Int32
	s := New(discardLogger(), store, func(ctx context.Context, task *Task, exec *Execution) error {
		fired.Add(1)
		return nil
	})

	task, err := s.EnsureDailyTask("morning-standup", "08:55", "UTC", "S1")
	if err != nil {
		t.Fatalf("EnsureDailyTask: %v", err)
	}

	exec, err := s.TriggerTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("TriggerTask: %v", err)
	}
	if fired.Load() != 1 {
		t.Errorf("fired = %d, want 1", fired.Load())
	}
	if exec.Status != StatusCompleted {
		t.Errorf("status = %s", exec.Status)
	}

	execs, err := store.ListExecutions(task.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != StatusCompleted {
		t.Errorf("executions = %+v", execs)
	}
	s.Stop()
}

func TestOnTaskFire_AfterStop(t *testing.T) {
	store := newTestStore(t)

	var fired atomic.Int32
	s := New(discardLogger(), store, func(ctx context.Context, task *Task, exec *Execution) error {
		fired.Add(1)
		return nil
	})

	task, err := s.EnsureDailyTask("morning-standup", "08:55", "UTC", "S1")
	if err != nil {
		t.Fatalf("EnsureDailyTask: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop()

	// A timer callback that slips in after Stop must not execute or
	// touch the wait group.
	s.onTaskFire(task.ID)
	if fired.Load() != 0 {
		t.Errorf("fired = %d after Stop, want 0", fired.Load())
	}
}

func TestStart_SkipsStalePendingExecution(t *testing.T) {
	store := newTestStore(t)

	task := &Task{Name: "morning-standup", Schedule: Schedule{Kind: ScheduleDaily, TimeOfDay: "08:55"}, Enabled: true}
	if err := store.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	stale := &Execution{
		TaskID:      task.ID,
		ScheduledAt: time.Now().Add(-48 * time.Hour),
		Status:      StatusPending,
	}
	if err := store.CreateExecution(stale); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	var fired atomic.Int32
	s := New(discardLogger(), store, func(ctx context.Context, task *Task, exec *Execution) error {
		fired.Add(1)
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if fired.Load() != 0 {
		t.Error("stale execution was caught up instead of skipped")
	}

	execs, err := store.ListExecutions(task.ID, 10)
	if err != nil {
		t.Fatalf("ListExecutions: %v", err)
	}
	if len(execs) != 1 || execs[0].Status != StatusSkipped {
		t.Errorf("executions = %+v", execs)
	}
}

func TestStart_CatchesUpRecentPendingExecution(t *testing.T) {
	store := newTestStore(t)

	task := &Task{Name: "morning-standup", Schedule: Schedule{Kind: ScheduleDaily, TimeOfDay: "08:55"}, Enabled: true}
	if err := store.CreateTask(task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	recent := &Execution{
		TaskID:      task.ID,
		ScheduledAt: time.Now().Add(-time.Hour),
		Status:      StatusPending,
	}
	if err := store.CreateExecution(recent); err != nil {
		t.Fatalf("CreateExecution: %v", err)
	}

	var fired atomic.Int32
	s := New(discardLogger(), store, func(ctx context.Context, task *Task, exec *Execution) error {
		fired.Add(1)
		return nil
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if fired.Load() != 1 {
		t.Errorf("fired = %d, want 1 catch-up", fired.Load())
	}
}
