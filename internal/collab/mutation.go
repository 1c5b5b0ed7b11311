package collab

import (
	"context"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
)

// Mutation is a document change requested through a room.
type Mutation struct {
	name  string
	apply func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error)
}

// Name returns the wire name of the mutation.
func (m Mutation) Name() string {
	return m.name
}

// MutationResult is the committed document and any identifier the mutation produced.
type MutationResult struct {
	Document  canvas.Document
	ElementID canvas.ElementID
	GroupID   canvas.GroupID
}

func documentOnly(document canvas.Document, err error) (MutationResult, error) {
	return MutationResult{Document: document}, err
}

// CreateCanvas resets the room document to an empty canvas named name.
func CreateCanvas(name string) Mutation {
	return Mutation{name: "create-document", apply: func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error) {
		return documentOnly(store.CreateCanvas(ctx, id, name))
	}}
}

// AddElement appends an element built from draft.
func AddElement(draft canvas.ElementDraft) Mutation {
	return Mutation{name: "add-element", apply: func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error) {
		document, element, err := store.AddElement(ctx, id, draft)
		return MutationResult{Document: document, ElementID: element.ID}, err
	}}
}

// UpdateElement applies patch to an existing element.
func UpdateElement(elementID canvas.ElementID, patch canvas.ElementPatch) Mutation {
	return Mutation{name: "update-element", apply: func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error) {
		document, err := store.UpdateElement(ctx, id, elementID, patch)
		return MutationResult{Document: document, ElementID: elementID}, err
	}}
}

// DeleteElement removes an element.
func DeleteElement(elementID canvas.ElementID) Mutation {
	return Mutation{name: "delete-element", apply: func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error) {
		document, err := store.DeleteElement(ctx, id, elementID)
		return MutationResult{Document: document, ElementID: elementID}, err
	}}
}

// UpdateStyle changes an element's style.
func UpdateStyle(elementID canvas.ElementID, patch canvas.StylePatch) Mutation {
	return Mutation{name: "update-style", apply: func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error) {
		document, err := store.UpdateStyle(ctx, id, elementID, patch)
		return MutationResult{Document: document, ElementID: elementID}, err
	}}
}

// GroupElements assigns a new group to the listed elements. Unknown ids are skipped.
func GroupElements(elementIDs []canvas.ElementID) Mutation {
	return Mutation{name: "group-elements", apply: func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error) {
		document, groupID, err := store.GroupElements(ctx, id, elementIDs)
		return MutationResult{Document: document, GroupID: groupID}, err
	}}
}

// UngroupElements clears groupID from its members.
func UngroupElements(groupID canvas.GroupID) Mutation {
	return Mutation{name: "ungroup-elements", apply: func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error) {
		document, err := store.UngroupElements(ctx, id, groupID)
		return MutationResult{Document: document, GroupID: groupID}, err
	}}
}

// UpdateSettings changes the canvas settings.
func UpdateSettings(patch canvas.SettingsPatch) Mutation {
	return Mutation{name: "update-settings", apply: func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error) {
		return documentOnly(store.UpdateCanvasSettings(ctx, id, patch))
	}}
}

// Undo restores the previous document state.
func Undo() Mutation {
	return Mutation{name: "undo", apply: func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error) {
		return documentOnly(store.Undo(ctx, id))
	}}
}

// Redo reapplies the most recently undone change.
func Redo() Mutation {
	return Mutation{name: "redo", apply: func(ctx context.Context, store *canvas.Store, id canvas.DocumentID) (MutationResult, error) {
		return documentOnly(store.Redo(ctx, id))
	}}
}
