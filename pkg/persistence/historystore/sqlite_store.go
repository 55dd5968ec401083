package historystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/telegem/telegem/pkg/conversation"
)

// SQLiteStore persists history records in a local sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = &SQLiteStore{}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite history store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history store: db is nil")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_histories (
		  user_id INTEGER PRIMARY KEY,
		  history_json TEXT NOT NULL DEFAULT '[]',
		  last_update_ms INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS chat_histories_by_last_update
		  ON chat_histories(last_update_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite history store: migrate")
		}
	}
	return nil
}

func (s *SQLiteStore) Read(ctx context.Context, user conversation.UserID) (Record, bool, error) {
	if s == nil || s.db == nil {
		return Record{}, false, errors.New("sqlite history store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		historyJSON  string
		lastUpdateMs int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT history_json, last_update_ms
		FROM chat_histories
		WHERE user_id = ?
	`, int64(user)).Scan(&historyJSON, &lastUpdateMs)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, errors.Wrap(err, "sqlite history store: read")
	}

	var history []Entry
	if err := json.Unmarshal([]byte(historyJSON), &history); err != nil {
		return Record{}, false, errors.Wrap(err, "sqlite history store: decode history")
	}
	return Record{
		History:    history,
		LastUpdate: time.UnixMilli(lastUpdateMs),
	}, true, nil
}

// MergeWrite upserts the history columns only. Any other columns a future
// migration adds to the row survive untouched.
func (s *SQLiteStore) MergeWrite(ctx context.Context, user conversation.UserID, rec Record) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	historyJSON, err := json.Marshal(rec.History)
	if err != nil {
		return errors.Wrap(err, "sqlite history store: encode history")
	}
	lastUpdate := rec.LastUpdate
	if lastUpdate.IsZero() {
		lastUpdate = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO chat_histories (user_id, history_json, last_update_ms)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
		  history_json = excluded.history_json,
		  last_update_ms = CASE
		    WHEN excluded.last_update_ms > chat_histories.last_update_ms THEN excluded.last_update_ms
		    ELSE chat_histories.last_update_ms
		  END
	`, int64(user), string(historyJSON), lastUpdate.UnixMilli())
	if err != nil {
		return errors.Wrap(err, "sqlite history store: merge write")
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, user conversation.UserID) error {
	if s == nil || s.db == nil {
		return errors.New("sqlite history store: db is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_histories WHERE user_id = ?`, int64(user)); err != nil {
		return errors.Wrap(err, "sqlite history store: delete")
	}
	return nil
}

// SQLiteDSNForFile builds a DSN with WAL and a busy timeout so the webhook
// goroutines and the store writer don't trip over transient SQLITE_BUSY.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", errors.New("sqlite history store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}
