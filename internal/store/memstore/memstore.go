// Package memstore is an in-memory Persistence implementation used by
// tests and by callers who don't need durability across process restarts.
// It satisfies the same interface as the sqlite-backed store so pipeline
// code never branches on which one it's talking to.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aitranslate/subtitler/internal/store"
	"github.com/aitranslate/subtitler/internal/subtitle"
)

// Store is a mutex-guarded map of tasks, one lock per call to keep every
// operation atomic the way the capability contract requires.
type Store struct {
	mu      sync.Mutex
	tasks   map[string]store.Task
	history []store.HistoryEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{tasks: make(map[string]store.Task)}
}

func (s *Store) CreateTask(_ context.Context, filename string, entries []subtitle.Entry, opts store.CreateOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.tasks[id] = store.Task{
		TaskID:   id,
		Filename: filename,
		Entries:  append([]subtitle.Entry(nil), entries...),
		FileType: opts.FileType,
		Progress: store.Progress{Total: len(entries)},
	}
	return id, nil
}

func (s *Store) SetEntries(_ context.Context, taskID string, entries []subtitle.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return &store.Error{Op: "SetEntries", Err: fmt.Errorf("task %q not found", taskID)}
	}

	task.Entries = append([]subtitle.Entry(nil), entries...)
	task.Progress.Total = len(entries)
	s.tasks[taskID] = task
	return nil
}

func (s *Store) UpdateEntry(_ context.Context, taskID string, entryID int, update store.EntryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return &store.Error{Op: "UpdateEntry", Err: fmt.Errorf("task %q not found", taskID)}
	}

	idx := findEntry(task.Entries, entryID)
	if idx < 0 {
		return &store.Error{Op: "UpdateEntry", Err: fmt.Errorf("entry %d not found in task %q", entryID, taskID)}
	}

	applyUpdate(&task.Entries[idx], update)
	s.tasks[taskID] = task
	return nil
}

func (s *Store) BatchUpdateEntries(_ context.Context, taskID string, updates []store.EntryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return &store.Error{Op: "BatchUpdateEntries", Err: fmt.Errorf("task %q not found", taskID)}
	}

	for _, u := range updates {
		idx := findEntry(task.Entries, u.EntryID)
		if idx < 0 {
			continue
		}
		applyUpdate(&task.Entries[idx], u)
	}
	s.tasks[taskID] = task
	return nil
}

func (s *Store) UpdateProgress(_ context.Context, taskID string, update store.ProgressUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return &store.Error{Op: "UpdateProgress", Err: fmt.Errorf("task %q not found", taskID)}
	}

	if update.Completed != nil {
		task.Progress.Completed = *update.Completed
	}
	if update.Total != nil {
		task.Progress.Total = *update.Total
	}
	if update.Tokens != nil {
		task.Progress.Tokens += *update.Tokens
	}
	if update.Status != nil {
		task.Progress.Status = *update.Status
	}
	s.tasks[taskID] = task
	return nil
}

func (s *Store) GetTask(_ context.Context, taskID string) (store.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return store.Task{}, &store.Error{Op: "GetTask", Err: fmt.Errorf("task %q not found", taskID)}
	}
	task.Entries = append([]subtitle.Entry(nil), task.Entries...)
	return task, nil
}

func (s *Store) ClearTask(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, taskID)
	return nil
}

func (s *Store) AppendHistoryEntry(_ context.Context, entry store.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, entry)
	return nil
}

// History returns a snapshot of recorded history entries, for tests.
func (s *Store) History() []store.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.HistoryEntry(nil), s.history...)
}

func findEntry(entries []subtitle.Entry, id int) int {
	for i, e := range entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func applyUpdate(e *subtitle.Entry, u store.EntryUpdate) {
	if u.Text != "" {
		e.Text = u.Text
	}
	if u.HasTranslation {
		e.TranslatedText = u.TranslatedText
	}
	if u.Status != nil {
		e.TranslationStatus = *u.Status
	}
}
