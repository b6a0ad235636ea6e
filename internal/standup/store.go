package standup

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store persists one UpdateRecord per (user, day) in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore creates an update store using the given database path.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB creates an update store using an existing database
// connection.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS standup_updates (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			date            TEXT NOT NULL,
			preferred_style TEXT NOT NULL DEFAULT '',
			entries         TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			update_time     TEXT NOT NULL,
			UNIQUE(user_id, date)
		);

		CREATE INDEX IF NOT EXISTS idx_updates_user_date ON standup_updates(user_id, date);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get retrieves the record for (userID, date). Returns ErrNotFound when
// no record exists.
func (s *Store) Get(userID, date string) (*UpdateRecord, error) {
	row := s.db.QueryRow(`
		SELECT user_id, date, preferred_style, entries, created_at, update_time
		FROM standup_updates WHERE user_id = ? AND date = ?
	`, userID, date)
	return scanRecord(row)
}

// Exists reports whether a record exists for (userID, date).
func (s *Store) Exists(userID, date string) (bool, error) {
	var one int
	err := s.db.QueryRow(`
		SELECT 1 FROM standup_updates WHERE user_id = ? AND date = ?
	`, userID, date).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return true, nil
}

// Upsert writes the record for its (user, day) key, creating or
// replacing as needed. UpdateTime is stamped here; CreatedAt is
// preserved on replace.
func (s *Store) Upsert(rec *UpdateRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	now := time.Now().UTC()
	entries, err := marshalEntries(rec.Entries)
	if err != nil {
		return err
	}

	id, _ := uuid.NewV7()
	_, err = s.db.Exec(`
		INSERT INTO standup_updates (id, user_id, date, preferred_style, entries, created_at, update_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, date) DO UPDATE SET
			preferred_style = excluded.preferred_style,
			entries         = excluded.entries,
			update_time     = excluded.update_time
	`, id.String(), rec.UserID, rec.Date, rec.PreferredStyle, entries,
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}

	rec.UpdateTime = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	return nil
}

// UpsertIf replaces an existing record only when its update_time still
// equals expected. A rapid double-send that interleaved a read-modify-
// write loses here with ErrConflict instead of silently dropping the
// first write.
func (s *Store) UpsertIf(rec *UpdateRecord, expected time.Time) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	now := time.Now().UTC()
	entries, err := marshalEntries(rec.Entries)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE standup_updates
		SET preferred_style = ?, entries = ?, update_time = ?
		WHERE user_id = ? AND date = ? AND update_time = ?
	`, rec.PreferredStyle, entries, now.Format(time.RFC3339Nano),
		rec.UserID, rec.Date, expected.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("conditional upsert: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		exists, err := s.Exists(rec.UserID, rec.Date)
		if err != nil {
			return err
		}
		if exists {
			return ErrConflict
		}
		return ErrNotFound
	}

	rec.UpdateTime = now
	return nil
}

// Delete removes the record for (userID, date). Deleting a missing
// record returns ErrNotFound.
func (s *Store) Delete(userID, date string) error {
	res, err := s.db.Exec(`
		DELETE FROM standup_updates WHERE user_id = ? AND date = ?
	`, userID, date)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSince returns the user's records with date >= since, oldest
// first. Used to fetch a run of unresolved days and the prior day's
// record for morning summaries.
func (s *Store) ListSince(userID, since string) ([]*UpdateRecord, error) {
	rows, err := s.db.Query(`
		SELECT user_id, date, preferred_style, entries, created_at, update_time
		FROM standup_updates
		WHERE user_id = ? AND date >= ?
		ORDER BY date
	`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var records []*UpdateRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func marshalEntries(entries []UpdateItem) (string, error) {
	if entries == nil {
		entries = []UpdateItem{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal entries: %w", err)
	}
	return string(data), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*UpdateRecord, error) {
	var rec UpdateRecord
	var entriesJSON, createdAt, updateTime string

	err := row.Scan(&rec.UserID, &rec.Date, &rec.PreferredStyle, &entriesJSON, &createdAt, &updateTime)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}

	if err := json.Unmarshal([]byte(entriesJSON), &rec.Entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	rec.UpdateTime, _ = time.Parse(time.RFC3339Nano, updateTime)
	return &rec, nil
}
