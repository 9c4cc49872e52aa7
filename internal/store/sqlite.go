package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aitranslate/subtitler/internal/subtitle"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	task_id    TEXT PRIMARY KEY,
	filename   TEXT NOT NULL,
	file_type  INTEGER NOT NULL,
	duration   REAL NOT NULL DEFAULT 0,
	entries    TEXT NOT NULL,
	completed  INTEGER NOT NULL DEFAULT 0,
	total      INTEGER NOT NULL DEFAULT 0,
	tokens     INTEGER NOT NULL DEFAULT 0,
	status     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS history (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id  TEXT NOT NULL,
	filename TEXT NOT NULL,
	status   INTEGER NOT NULL
);
`

// SQLiteStore is the production Persistence implementation, backed by
// modernc.org/sqlite (pure Go, no cgo) so the rest of the module stays
// buildable without a system sqlite library.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and migrates) a sqlite database at path. Use
// ":memory:" for an ephemeral, process-local database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &Error{Op: "Open", Err: err}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, &Error{Op: "Migrate", Err: err}
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTask(ctx context.Context, filename string, entries []subtitle.Entry, opts CreateOptions) (string, error) {
	id := uuid.NewString()

	encoded, err := json.Marshal(entries)
	if err != nil {
		return "", &Error{Op: "CreateTask", Err: err}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, filename, file_type, entries, total) VALUES (?, ?, ?, ?, ?)`,
		id, filename, int(opts.FileType), string(encoded), len(entries),
	)
	if err != nil {
		return "", &Error{Op: "CreateTask", Err: err}
	}

	return id, nil
}

func (s *SQLiteStore) SetEntries(ctx context.Context, taskID string, entries []subtitle.Entry) error {
	encoded, err := json.Marshal(entries)
	if err != nil {
		return &Error{Op: "SetEntries", Err: err}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET entries = ?, total = ? WHERE task_id = ?`,
		string(encoded), len(entries), taskID,
	)
	if err != nil {
		return &Error{Op: "SetEntries", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &Error{Op: "SetEntries", Err: fmt.Errorf("task %q not found", taskID)}
	}
	return nil
}

func (s *SQLiteStore) UpdateEntry(ctx context.Context, taskID string, entryID int, update EntryUpdate) error {
	update.EntryID = entryID
	return s.BatchUpdateEntries(ctx, taskID, []EntryUpdate{update})
}

func (s *SQLiteStore) BatchUpdateEntries(ctx context.Context, taskID string, updates []EntryUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "BatchUpdateEntries", Err: err}
	}
	defer tx.Rollback()

	var raw string
	if err := tx.QueryRowContext(ctx, `SELECT entries FROM tasks WHERE task_id = ?`, taskID).Scan(&raw); err != nil {
		return &Error{Op: "BatchUpdateEntries", Err: err}
	}

	var entries []subtitle.Entry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return &Error{Op: "BatchUpdateEntries", Err: err}
	}

	byID := make(map[int]int, len(entries))
	for i, e := range entries {
		byID[e.ID] = i
	}

	for _, u := range updates {
		idx, ok := byID[u.EntryID]
		if !ok {
			continue
		}
		if u.Text != "" {
			entries[idx].Text = u.Text
		}
		if u.HasTranslation {
			entries[idx].TranslatedText = u.TranslatedText
		}
		if u.Status != nil {
			entries[idx].TranslationStatus = *u.Status
		}
	}

	encoded, err := json.Marshal(entries)
	if err != nil {
		return &Error{Op: "BatchUpdateEntries", Err: err}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tasks SET entries = ? WHERE task_id = ?`, string(encoded), taskID); err != nil {
		return &Error{Op: "BatchUpdateEntries", Err: err}
	}

	return tx.Commit()
}

func (s *SQLiteStore) UpdateProgress(ctx context.Context, taskID string, update ProgressUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &Error{Op: "UpdateProgress", Err: err}
	}
	defer tx.Rollback()

	var completed, total, tokens, status int
	if err := tx.QueryRowContext(ctx, `SELECT completed, total, tokens, status FROM tasks WHERE task_id = ?`, taskID).
		Scan(&completed, &total, &tokens, &status); err != nil {
		return &Error{Op: "UpdateProgress", Err: err}
	}

	if update.Completed != nil {
		completed = *update.Completed
	}
	if update.Total != nil {
		total = *update.Total
	}
	if update.Tokens != nil {
		tokens += *update.Tokens
	}
	if update.Status != nil {
		status = int(*update.Status)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET completed = ?, total = ?, tokens = ?, status = ? WHERE task_id = ?`,
		completed, total, tokens, status, taskID,
	); err != nil {
		return &Error{Op: "UpdateProgress", Err: err}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	var t Task
	var raw string
	var fileType, status int

	err := s.db.QueryRowContext(ctx,
		`SELECT filename, file_type, duration, entries, completed, total, tokens, status FROM tasks WHERE task_id = ?`,
		taskID,
	).Scan(&t.Filename, &fileType, &t.DurationSeconds, &raw, &t.Progress.Completed, &t.Progress.Total, &t.Progress.Tokens, &status)
	if err != nil {
		return Task{}, &Error{Op: "GetTask", Err: err}
	}

	if err := json.Unmarshal([]byte(raw), &t.Entries); err != nil {
		return Task{}, &Error{Op: "GetTask", Err: err}
	}

	t.TaskID = taskID
	t.FileType = FileType(fileType)
	t.Progress.Status = TranslationStatus(status)

	return t, nil
}

func (s *SQLiteStore) ClearTask(ctx context.Context, taskID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id = ?`, taskID); err != nil {
		return &Error{Op: "ClearTask", Err: err}
	}
	return nil
}

func (s *SQLiteStore) AppendHistoryEntry(ctx context.Context, entry HistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (task_id, filename, status) VALUES (?, ?, ?)`,
		entry.TaskID, entry.Filename, int(entry.Status),
	)
	if err != nil {
		return &Error{Op: "AppendHistoryEntry", Err: err}
	}
	return nil
}
