// Package store defines the persistence capability contract (§6) the
// pipeline depends on, and the shared Task/history types it reads and
// writes. Concrete implementations live in this package (sqlite-backed)
// and in store/memstore (in-memory, used by tests), both satisfying the
// same interface.
package store

import (
	"context"
	"fmt"

	"github.com/aitranslate/subtitler/internal/subtitle"
)

// FileType discriminates how a Task's entries were produced.
type FileType int

const (
	FileTypeAudioVideo FileType = iota
	FileTypeSRT
)

// TranslationStatus summarizes a task's overall translation progress.
type TranslationStatus int

const (
	TranslationStatusIdle TranslationStatus = iota
	TranslationStatusInProgress
	TranslationStatusCompleted
	TranslationStatusFailed
)

// Progress tracks aggregate translation counters for a task.
type Progress struct {
	Completed int
	Total     int
	Tokens    int
	Status    TranslationStatus
}

// Task is the persisted record of a single file's subtitle entries and
// translation progress.
type Task struct {
	TaskID          string
	Filename        string
	Entries         []subtitle.Entry
	Progress        Progress
	FileType        FileType
	DurationSeconds float64
}

// CreateOptions carries metadata recorded alongside a new task.
type CreateOptions struct {
	FileType FileType
	FileSize int64
}

// EntryUpdate is one entry's mutation, applied atomically as part of a
// batch.
type EntryUpdate struct {
	EntryID        int
	Text           string
	TranslatedText string
	HasTranslation bool
	Status         *subtitle.TranslationStatus
}

// ProgressUpdate carries optional deltas/overrides for a task's aggregate
// progress counters; nil fields are left unchanged.
type ProgressUpdate struct {
	Completed *int
	Total     *int
	Tokens    *int
	Status    *TranslationStatus
}

// HistoryEntry records a completed or failed run for later review.
type HistoryEntry struct {
	TaskID   string
	Filename string
	Status   TranslationStatus
}

// Error wraps any persistence failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Persistence is the storage capability contract. Every method is atomic
// per call; GetTask returns a snapshot copy of the task. The in-memory
// implementation takes its one mutex for reads as well as writes, so its
// reads are not lock-free.
type Persistence interface {
	CreateTask(ctx context.Context, filename string, entries []subtitle.Entry, opts CreateOptions) (string, error)
	// SetEntries replaces a task's entry list wholesale. Used once, when
	// the transcription pipeline finishes and fills in the entries of a
	// task that was created eagerly (before transcription started) with
	// none.
	SetEntries(ctx context.Context, taskID string, entries []subtitle.Entry) error
	UpdateEntry(ctx context.Context, taskID string, entryID int, update EntryUpdate) error
	BatchUpdateEntries(ctx context.Context, taskID string, updates []EntryUpdate) error
	UpdateProgress(ctx context.Context, taskID string, update ProgressUpdate) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	ClearTask(ctx context.Context, taskID string) error
	AppendHistoryEntry(ctx context.Context, entry HistoryEntry) error
}
