// Package githublink connects chat users to their GitHub identity.
// Linking happens through the OAuth flow; once linked, the activity
// feed can pull a user's recent commits and pull requests to seed the
// morning standup prompt. An unlinked user is a normal condition, not
// an error path — everything degrades to "no activity".
package githublink

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotLinked indicates the user has no GitHub identity on file.
var ErrNotLinked = errors.New("github identity not linked")

// Link is one user's GitHub connection.
type Link struct {
	UserID      string
	AccessToken string
	Username    string
	LinkedAt    time.Time
}

// LinkStore persists GitHub links in sqlite, one row per user.
type LinkStore struct {
	db *sql.DB
}

// NewLinkStore creates a link store using the given database path.
func NewLinkStore(dbPath string) (*LinkStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &LinkStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewLinkStoreWithDB creates a link store using an existing database
// connection.
func NewLinkStoreWithDB(db *sql.DB) (*LinkStore, error) {
	s := &LinkStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *LinkStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS github_links (
			user_id      TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			username     TEXT NOT NULL,
			linked_at    TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the database connection.
func (s *LinkStore) Close() error {
	return s.db.Close()
}

// Upsert writes the link, replacing any previous one for the user.
// Re-linking refreshes the token and username.
func (s *LinkStore) Upsert(link *Link) error {
	if link.UserID == "" {
		return fmt.Errorf("link without user id")
	}

	if link.LinkedAt.IsZero() {
		link.LinkedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO github_links (user_id, access_token, username, linked_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token = excluded.access_token,
			username     = excluded.username,
			linked_at    = excluded.linked_at
	`, link.UserID, link.AccessToken, link.Username, link.LinkedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert link: %w", err)
	}
	return nil
}

// Get retrieves the user's link. Returns ErrNotLinked when none exists.
func (s *LinkStore) Get(userID string) (*Link, error) {
	var link Link
	var linkedAt string

	err := s.db.QueryRow(`
		SELECT user_id, access_token, username, linked_at
		FROM github_links WHERE user_id = ?
	`, userID).Scan(&link.UserID, &link.AccessToken, &link.Username, &linkedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotLinked
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}

	link.LinkedAt, _ = time.Parse(time.RFC3339, linkedAt)
	return &link, nil
}

// Delete removes the user's link. Deleting a missing link returns
// ErrNotLinked.
func (s *LinkStore) Delete(userID string) error {
	res, err := s.db.Exec(`DELETE FROM github_links WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete link: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotLinked
	}
	return nil
}
