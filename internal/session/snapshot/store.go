// Package snapshot persists session records to SQLite so a process restart
// does not lose mid-flow conversations.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/civicmesh/enroll/internal/session"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	user_id           INTEGER PRIMARY KEY,
	display_name      TEXT NOT NULL,
	username          TEXT NOT NULL,
	flow              TEXT NOT NULL,
	state             TEXT NOT NULL,
	answers           TEXT NOT NULL,
	deeplink          TEXT NOT NULL,
	last_event_id     TEXT NOT NULL,
	user_row_appended INTEGER NOT NULL,
	created_at        INTEGER NOT NULL,
	last_activity     INTEGER NOT NULL
);
`

// Store provides SQLite-backed session snapshots.
type Store struct {
	sqlDB *sql.DB
}

// Open opens a snapshot store and creates its schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("snapshot path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Save replaces the stored snapshot with the given records atomically.
func (s *Store) Save(ctx context.Context, records []session.Record) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("snapshot storage is not configured")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	for _, record := range records {
		answers, err := json.Marshal(record.Answers)
		if err != nil {
			return fmt.Errorf("encode answers for user %d: %w", record.UserID, err)
		}
		appended := 0
		if record.UserRowAppended {
			appended = 1
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO sessions (
	user_id, display_name, username, flow, state, answers,
	deeplink, last_event_id, user_row_appended, created_at, last_activity
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
			record.UserID,
			record.DisplayName,
			record.Username,
			string(record.Flow),
			string(record.State),
			string(answers),
			record.Deeplink,
			record.LastEventID,
			appended,
			record.CreatedAt.UTC().UnixMilli(),
			record.LastActivity.UTC().UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert session for user %d: %w", record.UserID, err)
		}
	}
	return tx.Commit()
}

// Load returns every stored session record.
func (s *Store) Load(ctx context.Context) ([]session.Record, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("snapshot storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT user_id, display_name, username, flow, state, answers,
	deeplink, last_event_id, user_row_appended, created_at, last_activity
FROM sessions
`)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	var records []session.Record
	for rows.Next() {
		var (
			record       session.Record
			flow, state  string
			answers      string
			appended     int
			createdAt    int64
			lastActivity int64
		)
		err := rows.Scan(
			&record.UserID,
			&record.DisplayName,
			&record.Username,
			&flow,
			&state,
			&answers,
			&record.Deeplink,
			&record.LastEventID,
			&appended,
			&createdAt,
			&lastActivity,
		)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		record.Flow = session.Flow(flow)
		record.State = session.State(state)
		record.UserRowAppended = appended != 0
		record.CreatedAt = time.UnixMilli(createdAt).UTC()
		record.LastActivity = time.UnixMilli(lastActivity).UTC()
		if err := json.Unmarshal([]byte(answers), &record.Answers); err != nil {
			return nil, fmt.Errorf("decode answers for user %d: %w", record.UserID, err)
		}
		if record.Answers == nil {
			record.Answers = make(map[string]string)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
