package standup

import (
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// newTestStore uses the pure-Go sqlite driver so the tests run without cgo.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "standup_test.db"))
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

func TestStore_GetNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("U1", "2026-08-30")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)

	rec := &UpdateRecord{
		UserID:         "U1",
		Date:           "2026-08-30",
		PreferredStyle: "Paragraph",
		Entries: []UpdateItem{
			{Item: "task-1", Status: StatusCompleted, IdentifiedBlockers: []string{}},
			{Item: "task-2", Status: StatusBlocked, IdentifiedBlockers: []string{"team-1"}},
		},
	}
	if err := s.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get("U1", "2026-08-30")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.PreferredStyle != "Paragraph" {
		t.Errorf("PreferredStyle = %q", got.PreferredStyle)
	}
	if !reflect.DeepEqual(got.Entries, rec.Entries) {
		t.Errorf("Entries = %+v, want %+v", got.Entries, rec.Entries)
	}
	if got.UpdateTime.IsZero() {
		t.Error("UpdateTime not stamped")
	}
}

func TestStore_NoDuplication(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 3; i++ {
		rec := &UpdateRecord{
			UserID:  "U1",
			Date:    "2026-08-30",
			Entries: []UpdateItem{{Item: "task-1", Status: StatusInProgress, IdentifiedBlockers: []string{}}},
		}
		if err := s.Upsert(rec); err != nil {
			t.Fatalf("Upsert %d: %v", i, err)
		}
	}

	records, err := s.ListSince("U1", "2026-08-30")
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("records = %d, want exactly 1 per (user, day)", len(records))
	}
}

func TestStore_RejectsInvalidStatus(t *testing.T) {
	s := newTestStore(t)

	rec := &UpdateRecord{
		UserID:  "U1",
		Date:    "2026-08-30",
		Entries: []UpdateItem{{Item: "task-1", Status: "ALMOST_DONE"}},
	}
	if err := s.Upsert(rec); err == nil {
		t.Fatal("Upsert accepted an out-of-enum status")
	}

	if exists, _ := s.Exists("U1", "2026-08-30"); exists {
		t.Error("invalid record was persisted")
	}
}

func TestStore_DayIsolation(t *testing.T) {
	s := newTestStore(t)

	rec := &UpdateRecord{
		UserID:  "U1",
		Date:    "2026-08-29",
		Entries: []UpdateItem{{Item: "task-1", Status: StatusInProgress, IdentifiedBlockers: []string{}}},
	}
	if err := s.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, err := s.Get("U1", "2026-08-30"); !errors.Is(err, ErrNotFound) {
		t.Errorf("day D1 record visible on day D2: err = %v", err)
	}
}

func TestStore_ExistsIdempotent(t *testing.T) {
	s := newTestStore(t)

	first, err := s.Exists("U1", "2026-08-30")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	second, err := s.Exists("U1", "2026-08-30")
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if first != second {
		t.Errorf("Exists changed between calls with no write: %v then %v", first, second)
	}
}

func TestStore_UpsertIf(t *testing.T) {
	s := newTestStore(t)

	rec := &UpdateRecord{
		UserID:  "U1",
		Date:    "2026-08-30",
		Entries: []UpdateItem{{Item: "task-1", Status: StatusInProgress, IdentifiedBlockers: []string{}}},
	}
	if err := s.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Matching expected time succeeds.
	rec.Entries[0].Status = StatusCompleted
	if err := s.UpsertIf(rec, rec.UpdateTime); err != nil {
		t.Fatalf("UpsertIf: %v", err)
	}

	// A stale expectation now conflicts.
	rec.Entries[0].Status = StatusBlocked
	err := s.UpsertIf(rec, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}

	got, err := s.Get("U1", "2026-08-30")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Entries[0].Status != StatusCompleted {
		t.Errorf("status = %s, want COMPLETED (stale write must not land)", got.Entries[0].Status)
	}
}

func TestStore_UpsertIfMissing(t *testing.T) {
	s := newTestStore(t)

	rec := &UpdateRecord{UserID: "U1", Date: "2026-08-30"}
	err := s.UpsertIf(rec, time.Now())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(t)

	rec := &UpdateRecord{UserID: "U1", Date: "2026-08-30"}
	if err := s.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete("U1", "2026-08-30"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("U1", "2026-08-30"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestStore_ListSince(t *testing.T) {
	s := newTestStore(t)

	for _, date := range []string{"2026-08-27", "2026-08-28", "2026-08-30"} {
		rec := &UpdateRecord{UserID: "U1", Date: date}
		if err := s.Upsert(rec); err != nil {
			t.Fatalf("Upsert %s: %v", date, err)
		}
	}
	// Another user's records never leak in.
	if err := s.Upsert(&UpdateRecord{UserID: "U2", Date: "2026-08-29"}); err != nil {
		t.Fatalf("Upsert U2: %v", err)
	}

	records, err := s.ListSince("U1", "2026-08-28")
	if err != nil {
		t.Fatalf("ListSince: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0].Date != "2026-08-28" || records[1].Date != "2026-08-30" {
		t.Errorf("dates = %s, %s; want ascending from 2026-08-28", records[0].Date, records[1].Date)
	}
}
