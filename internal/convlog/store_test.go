package convlog

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "convlog_test.db"))
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

func TestAppendAndRecent(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		msg := &Message{
			UserID:    "U1",
			ChannelID: "C1",
			Text:      fmt.Sprintf("message %d", i),
			IsBot:     i%2 == 0,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.Append(msg); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if msg.ID == "" {
			t.Fatal("Append did not assign an ID")
		}
	}

	got, err := s.Recent("U1", "C1", 3, time.Time{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Chronological order, newest 3 of 5.
	if got[0].Text != "message 2" || got[2].Text != "message 4" {
		t.Errorf("window = [%s .. %s], want [message 2 .. message 4]", got[0].Text, got[2].Text)
	}
	if !got[2].IsBot {
		t.Error("is_bot polarity lost on round trip")
	}
}

func TestRecent_SinceFilter(t *testing.T) {
	s := newTestStore(t)

	base := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if err := s.Append(&Message{
			UserID:    "U1",
			ChannelID: "C1",
			Text:      fmt.Sprintf("message %d", i),
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent("U1", "C1", 10, base.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (since filter)", len(got))
	}
	if got[0].Text != "message 2" {
		t.Errorf("first = %s, want message 2", got[0].Text)
	}
}

func TestRecent_ScopedByUserAndChannel(t *testing.T) {
	s := newTestStore(t)

	msgs := []*Message{
		{UserID: "U1", ChannelID: "C1", Text: "mine"},
		{UserID: "U2", ChannelID: "C1", Text: "other user"},
		{UserID: "U1", ChannelID: "C2", Text: "other channel"},
	}
	for _, m := range msgs {
		if err := s.Append(m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent("U1", "C1", 10, time.Time{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 1 || got[0].Text != "mine" {
		t.Errorf("got %+v, want only the (U1, C1) message", got)
	}
}

func TestRecent_TimestampTieInsertionOrder(t *testing.T) {
	s := newTestStore(t)

	ts := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	for _, text := range []string{"first", "second", "third"} {
		if err := s.Append(&Message{
			UserID: "U1", ChannelID: "C1", Text: text, Timestamp: ts,
		}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent("U1", "C1", 2, time.Time{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Text != "second" || got[1].Text != "third" {
		t.Errorf("tie order = [%s, %s], want [second, third]", got[0].Text, got[1].Text)
	}
}

func TestRecent_ZeroLimit(t *testing.T) {
	s := newTestStore(t)

	got, err := s.Recent("U1", "C1", 0, time.Time{})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil for zero window", got)
	}
}
