// Package convlog provides the append-only per-(user, channel)
// conversation log. The log is the decision context for reconciliation:
// readers take a bounded most-recent-N window, never the full history.
package convlog

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is one logged conversation turn. Messages are immutable once
// appended; ordering is by timestamp with insertion order breaking ties.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	Text      string    `json:"text"`
	IsBot     bool      `json:"is_bot"`
	Timestamp time.Time `json:"timestamp"`
}

// Store persists conversation messages in sqlite.
type Store struct {
	db *sql.DB
}

// NewStore creates a conversation log using the given database path.
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

// NewStoreWithDB creates a conversation log using an existing database
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
		CREATE TABLE IF NOT EXISTS conversation_messages (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			id         TEXT NOT NULL UNIQUE,
			user_id    TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			text       TEXT NOT NULL,
			is_bot     INTEGER NOT NULL,
			timestamp  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_messages_user_channel
			ON conversation_messages(user_id, channel_id, timestamp);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append adds a message to the log. The message's ID and Timestamp are
// assigned here when unset.
func (s *Store) Append(msg *Message) error {
	if msg.ID == "" {
		id, _ := uuid.NewV7()
		msg.ID = id.String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	_, err := s.db.Exec(`
		INSERT INTO conversation_messages (id, user_id, channel_id, text, is_bot, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.UserID, msg.ChannelID, msg.Text, boolToInt(msg.IsBot),
		msg.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append: %w", err)
	}
	return nil
}

// Recent returns the most recent limit messages for (userID, channelID)
// in chronological order. since, when non-zero, drops anything older.
// The window is a query parameter, not in-memory truncation: different
// decisions use different sizes.
func (s *Store) Recent(userID, channelID string, limit int, since time.Time) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	sinceStr := ""
	if !since.IsZero() {
		sinceStr = since.UTC().Format(time.RFC3339Nano)
	}

	// Take the newest N (timestamp descending, insertion order breaking
	// ties), then flip to chronological for the caller.
	rows, err := s.db.Query(`
		SELECT id, user_id, channel_id, text, is_bot, timestamp
		FROM conversation_messages
		WHERE user_id = ? AND channel_id = ? AND timestamp >= ?
		ORDER BY timestamp DESC, seq DESC
		LIMIT ?
	`, userID, channelID, sinceStr, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var newest []Message
	for rows.Next() {
		var m Message
		var isBot int
		var ts string
		if err := rows.Scan(&m.ID, &m.UserID, &m.ChannelID, &m.Text, &isBot, &ts); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		m.IsBot = isBot != 0
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		newest = append(newest, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(newest)-1; i < j; i, j = i+1, j-1 {
		newest[i], newest[j] = newest[j], newest[i]
	}
	return newest, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
