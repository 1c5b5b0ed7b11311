package canvas

import (
	"errors"
	"testing"
)

func TestHistoryUndoOnEmptyStackFails(t *testing.T) {
	history := NewHistory(5)
	if _, err := history.Undo(NewDocument("doc", "Doc", fixedClock())); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected ErrNothingToUndo, got %v", err)
	}
	if _, err := history.Redo(NewDocument("doc", "Doc", fixedClock())); !errors.Is(err, ErrNothingToRedo) {
		t.Fatalf("expected ErrNothingToRedo, got %v", err)
	}
	if history.State() != HistoryClean {
		t.Fatalf("expected clean history, got %s", history.State())
	}
}

func TestHistoryEvictsOldestSnapshots(t *testing.T) {
	history := NewHistory(2)
	for _, name := range []string{"first", "second", "third"} {
		if err := history.Record(NewDocument("doc", name, fixedClock())); err != nil {
			t.Fatalf("unexpected record error: %v", err)
		}
	}
	if history.UndoDepth() != 2 {
		t.Fatalf("expected undo depth 2, got %d", history.UndoDepth())
	}

	current := NewDocument("doc", "fourth", fixedClock())
	restored, err := history.Undo(current)
	if err != nil {
		t.Fatalf("unexpected undo error: %v", err)
	}
	if restored.Name != "third" {
		t.Fatalf("expected third snapshot, got %q", restored.Name)
	}
	restored, err = history.Undo(restored)
	if err != nil {
		t.Fatalf("unexpected undo error: %v", err)
	}
	if restored.Name != "second" {
		t.Fatalf("expected second snapshot, got %q", restored.Name)
	}
	if _, err := history.Undo(restored); !errors.Is(err, ErrNothingToUndo) {
		t.Fatalf("expected evicted snapshot to be gone, got %v", err)
	}
}

func TestHistoryRecordClearsRedo(t *testing.T) {
	history := NewHistory(5)
	if err := history.Record(NewDocument("doc", "before", fixedClock())); err != nil {
		t.Fatalf("unexpected record error: %v", err)
	}
	if _, err := history.Undo(NewDocument("doc", "after", fixedClock())); err != nil {
		t.Fatalf("unexpected undo error: %v", err)
	}
	if history.RedoDepth() != 1 {
		t.Fatalf("expected one redo entry, got %d", history.RedoDepth())
	}
	if err := history.Record(NewDocument("doc", "other", fixedClock())); err != nil {
		t.Fatalf("unexpected record error: %v", err)
	}
	if history.RedoDepth() != 0 {
		t.Fatalf("expected redo to be cleared")
	}
}

func TestSnapshotIsIndependentOfLaterMutation(t *testing.T) {
	document := NewDocument("doc", "Doc", fixedClock())
	document.Elements = append(document.Elements, Element{ID: "e1", Type: ElementText, Text: "hello", Style: DefaultStyle()})

	snapshot, err := TakeSnapshot(document)
	if err != nil {
		t.Fatalf("unexpected snapshot error: %v", err)
	}
	document.Elements[0].Text = "changed"

	restored, err := snapshot.Restore()
	if err != nil {
		t.Fatalf("unexpected restore error: %v", err)
	}
	if restored.Elements[0].Text != "hello" {
		t.Fatalf("snapshot was affected by mutation: %q", restored.Elements[0].Text)
	}
}
