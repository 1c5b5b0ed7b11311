package canvas

const defaultHistoryLimit = 100

// HistoryState reports whether a document has anything to undo.
type HistoryState string

const (
	// HistoryClean means the undo stack is empty.
	HistoryClean HistoryState = "clean"
	// HistoryDirty means at least one mutation can be undone.
	HistoryDirty HistoryState = "dirty"
)

// History keeps bounded undo and redo stacks of pre-mutation snapshots.
// It is not safe for concurrent use; the store serializes access per document.
type History struct {
	limit int
	undo  []Snapshot
	redo  []Snapshot
}

// NewHistory constructs a history bounded to limit entries per stack.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &History{limit: limit}
}

// Record pushes the pre-mutation state and invalidates redo.
func (h *History) Record(before Document) error {
	snapshot, err := TakeSnapshot(before)
	if err != nil {
		return err
	}
	h.undo = h.push(h.undo, snapshot)
	h.redo = nil
	return nil
}

// Undo returns the most recent snapshot and moves current onto the redo stack.
func (h *History) Undo(current Document) (Document, error) {
	if len(h.undo) == 0 {
		return Document{}, ErrNothingToUndo
	}
	restored, currentSnapshot, err := h.swap(h.undo[len(h.undo)-1], current)
	if err != nil {
		return Document{}, err
	}
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = h.push(h.redo, currentSnapshot)
	return restored, nil
}

// Redo mirrors Undo using the redo stack.
func (h *History) Redo(current Document) (Document, error) {
	if len(h.redo) == 0 {
		return Document{}, ErrNothingToRedo
	}
	restored, currentSnapshot, err := h.swap(h.redo[len(h.redo)-1], current)
	if err != nil {
		return Document{}, err
	}
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = h.push(h.undo, currentSnapshot)
	return restored, nil
}

// State reports the Clean/Dirty state of the undo stack.
func (h *History) State() HistoryState {
	if len(h.undo) == 0 {
		return HistoryClean
	}
	return HistoryDirty
}

// UndoDepth returns the number of undoable entries.
func (h *History) UndoDepth() int {
	return len(h.undo)
}

// RedoDepth returns the number of redoable entries.
func (h *History) RedoDepth() int {
	return len(h.redo)
}

func (h *History) swap(target Snapshot, current Document) (Document, Snapshot, error) {
	currentSnapshot, err := TakeSnapshot(current)
	if err != nil {
		return Document{}, nil, err
	}
	restored, err := target.Restore()
	if err != nil {
		return Document{}, nil, err
	}
	return restored, currentSnapshot, nil
}

func (h *History) push(stack []Snapshot, snapshot Snapshot) []Snapshot {
	stack = append(stack, snapshot)
	if overflow := len(stack) - h.limit; overflow > 0 {
		stack = append([]Snapshot(nil), stack[overflow:]...)
	}
	return stack
}
