package collab

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/mattbaird/jsonpatch"
)

// requirePatchTransforms applies the patch to before and compares the result with after.
func requirePatchTransforms(t *testing.T, before, after canvas.Document, operations []jsonpatch.JsonPatchOperation) {
	t.Helper()
	if len(operations) == 0 {
		t.Fatalf("expected a non-empty patch")
	}
	encoded, err := json.Marshal(operations)
	if err != nil {
		t.Fatalf("failed to encode patch: %v", err)
	}
	var decoded []jsonpatch.JsonPatchOperation
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("failed to decode patch: %v", err)
	}

	source := decodeDocument(t, before)
	applied, err := applyPatch(source, decoded)
	if err != nil {
		t.Fatalf("patch %s does not apply: %v", string(encoded), err)
	}
	if target := decodeDocument(t, after); !reflect.DeepEqual(applied, target) {
		t.Fatalf("patch %s produced %#v, want %#v", string(encoded), applied, target)
	}
}

func decodeDocument(t *testing.T, document canvas.Document) any {
	t.Helper()
	raw, err := json.Marshal(document)
	if err != nil {
		t.Fatalf("failed to encode document: %v", err)
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("failed to decode document: %v", err)
	}
	return decoded
}

func patchDocument() canvas.Document {
	return canvas.NewDocument("room-patch", "Board", time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC))
}

func TestDocumentPatchRemovesSeveralElements(t *testing.T) {
	before := patchDocument()
	for _, id := range []canvas.ElementID{"a", "b", "c"} {
		before.Elements = append(before.Elements, canvas.Element{ID: id, Type: canvas.ElementRectangle})
	}
	after := patchDocument()
	after.Version = before.Version + 1

	operations, err := documentPatch(before, after)
	if err != nil {
		t.Fatalf("unexpected patch error: %v", err)
	}
	requirePatchTransforms(t, before, after, operations)
	if operations[0].Operation != patchRemove || operations[0].Path != "/elements/2" {
		t.Fatalf("expected removals to start from the last index, got %s %s", operations[0].Operation, operations[0].Path)
	}
}

func TestDocumentPatchFallsBackToReplaceForRepeatedValues(t *testing.T) {
	stroke := func(points ...canvas.Point) []canvas.Element {
		return []canvas.Element{{ID: "stroke", Type: canvas.ElementFreehand, Points: points}}
	}
	before := patchDocument()
	before.Elements = stroke(canvas.Point{}, canvas.Point{}, canvas.Point{X: 1, Y: 1})
	after := patchDocument()
	after.Elements = stroke(canvas.Point{})

	operations, err := documentPatch(before, after)
	if err != nil {
		t.Fatalf("unexpected patch error: %v", err)
	}
	requirePatchTransforms(t, before, after, operations)
}

func TestApplyPatchRejectsOutOfRangeIndex(t *testing.T) {
	document := map[string]any{"elements": []any{"a"}}
	_, err := applyPatch(document, []jsonpatch.JsonPatchOperation{
		jsonpatch.NewPatch(patchRemove, "/elements/0", nil),
		jsonpatch.NewPatch(patchRemove, "/elements/1", nil),
	})
	if err == nil {
		t.Fatalf("expected an out of range error")
	}
}

func TestUpdatePatchesReplayAcrossResetUndoAndRedo(t *testing.T) {
	ctx := context.Background()
	fixture := newRegistryFixture(t, RoleEditor)
	alice := session("alice", "c-alice")
	mustJoin(t, fixture.registry, "room-patch", alice)

	current, err := fixture.registry.Document(ctx, "room-patch", "alice")
	if err != nil {
		t.Fatalf("unexpected document error: %v", err)
	}
	steps := []Mutation{
		AddElement(rectangle()),
		AddElement(rectangle()),
		AddElement(rectangle()),
		CreateCanvas("Fresh"),
		Undo(),
		Redo(),
		Undo(),
		Undo(),
		Undo(),
		AddElement(rectangle()),
	}
	for _, mutation := range steps {
		if _, err := fixture.registry.Mutate(ctx, "room-patch", alice, mutation); err != nil {
			t.Fatalf("%s failed: %v", mutation.Name(), err)
		}
		published, ok := fixture.broadcaster.lastPublished(EventUpdate)
		if !ok {
			t.Fatalf("expected update after %s", mutation.Name())
		}
		payload := published.event.Payload.(UpdatePayload)
		requirePatchTransforms(t, current, payload.Document, payload.Patch)
		current = payload.Document
	}
	if len(current.Elements) != 2 {
		t.Fatalf("expected two elements after the sequence, got %d", len(current.Elements))
	}
}
