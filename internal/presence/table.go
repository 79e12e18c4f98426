// Package presence tracks which users are currently editing which
// translation cell. It is a visibility signal, not a lock: two users may
// edit the same cell at once and both stay listed.
package presence

import (
	"log/slog"
	"sync"
	"time"
)

// Cell identifies one translation key/language pair.
type Cell struct {
	KeyID      int64
	LanguageID int64
}

// Editor is one user shown as active on a cell.
type Editor struct {
	UserID      int64
	DisplayName string
}

// Expiry is one editor swept off a cell by the supervisor.
type Expiry struct {
	Cell   Cell
	Editor Editor
}

type editorState struct {
	Editor
	lastActiveAt time.Time
}

// entry keeps its editors in insertion order so clients render a stable
// list.
type entry struct {
	editors []*editorState
}

type Table struct {
	mu    sync.RWMutex
	cells map[Cell]*entry

	logger *slog.Logger
}

func NewTable(logger *slog.Logger) *Table {
	return &Table{
		cells:  make(map[Cell]*entry),
		logger: logger.With(slog.String("component", "presence_table")),
	}
}

// RecordEdit upserts the editor into the cell's set, refreshes their
// activity timestamp and returns the full updated editor list for
// broadcast. Re-recording an already-present editor only refreshes the
// timestamp.
func (t *Table) RecordEdit(cell Cell, editor Editor, now time.Time) []Editor {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.cells[cell]
	if !ok {
		e = &entry{}
		t.cells[cell] = e
	}

	found := false
	for _, es := range e.editors {
		if es.UserID == editor.UserID {
			es.lastActiveAt = now
			es.DisplayName = editor.DisplayName
			found = true
			break
		}
	}
	if !found {
		e.editors = append(e.editors, &editorState{Editor: editor, lastActiveAt: now})
		t.logger.Debug("Editor joined cell",
			slog.Int64("keyID", cell.KeyID),
			slog.Int64("languageID", cell.LanguageID),
			slog.Int64("userID", editor.UserID),
		)
	}

	return e.editorsCopy()
}

// RemoveEditor drops the editor from the cell. It reports whether the
// editor was present and whether the cell's editor set became empty (the
// entry itself is deleted in that case).
func (t *Table) RemoveEditor(cell Cell, userID int64) (removed, empty bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(cell, userID)
}

// PurgeUser removes the user from every cell they appear in and returns
// the cells that changed, one leave broadcast each.
func (t *Table) PurgeUser(userID int64) []Cell {
	t.mu.Lock()
	defer t.mu.Unlock()

	var changed []Cell
	for cell, e := range t.cells {
		for _, es := range e.editors {
			if es.UserID == userID {
				changed = append(changed, cell)
				break
			}
		}
	}
	for _, cell := range changed {
		t.removeLocked(cell, userID)
	}
	if len(changed) > 0 {
		t.logger.Debug("Purged user from presence",
			slog.Int64("userID", userID),
			slog.Int("cells", len(changed)),
		)
	}
	return changed
}

// ExpireBefore removes every editor whose last activity predates the
// deadline and returns the removals so the caller can broadcast synthetic
// leaves.
func (t *Table) ExpireBefore(deadline time.Time) []Expiry {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []Expiry
	for cell, e := range t.cells {
		for _, es := range e.editors {
			if es.lastActiveAt.Before(deadline) {
				expired = append(expired, Expiry{Cell: cell, Editor: es.Editor})
			}
		}
	}
	for _, ex := range expired {
		t.removeLocked(ex.Cell, ex.Editor.UserID)
	}
	return expired
}

// Editors returns the cell's current editor list in insertion order.
func (t *Table) Editors(cell Cell) []Editor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.cells[cell]
	if !ok {
		return nil
	}
	return e.editorsCopy()
}

// Snapshot returns every occupied cell with its editors, for presence
// replay to late joiners.
func (t *Table) Snapshot() map[Cell][]Editor {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := make(map[Cell][]Editor, len(t.cells))
	for cell, e := range t.cells {
		snap[cell] = e.editorsCopy()
	}
	return snap
}

func (t *Table) removeLocked(cell Cell, userID int64) (removed, empty bool) {
	e, ok := t.cells[cell]
	if !ok {
		return false, false
	}
	for i, es := range e.editors {
		if es.UserID == userID {
			e.editors = append(e.editors[:i], e.editors[i+1:]...)
			removed = true
			break
		}
	}
	if len(e.editors) == 0 {
		delete(t.cells, cell)
		return removed, true
	}
	return removed, false
}

func (e *entry) editorsCopy() []Editor {
	out := make([]Editor, len(e.editors))
	for i, es := range e.editors {
		out[i] = es.Editor
	}
	return out
}
