package canvas

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

type memoryRepository struct {
	mu        sync.Mutex
	documents map[DocumentID]Document
	saves     int
	failSaves bool
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{documents: make(map[DocumentID]Document)}
}

func (r *memoryRepository) LoadDocument(_ context.Context, id DocumentID) (Document, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	document, ok := r.documents[id]
	return document, ok, nil
}

func (r *memoryRepository) SaveDocument(_ context.Context, document Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if r.failSaves {
		return errors.New("disk unavailable")
	}
	r.documents[document.ID] = document
	return nil
}

func (r *memoryRepository) setFailSaves(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failSaves = fail
}

func (r *memoryRepository) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("id-%d", p.next), nil
}

func fixedClock() time.Time {
	return time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
}

func newTestStore(t *testing.T, repository Repository) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Repository:   repository,
		IDProvider:   &sequenceIDProvider{},
		Clock:        fixedClock,
		HistoryLimit: 10,
	})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	return store
}

func mustDocumentID(t *testing.T, value string) DocumentID {
	t.Helper()
	id, err := NewDocumentID(value)
	if err != nil {
		t.Fatalf("unexpected document id error: %v", err)
	}
	return id
}

func rectangleDraft(x float64) ElementDraft {
	return ElementDraft{
		Type:     ElementRectangle,
		Position: Point{X: x, Y: 0},
		Size:     Size{Width: 10, Height: 10},
	}
}

// assertSameContent compares documents ignoring version and update time.
func assertSameContent(t *testing.T, expected, actual Document) {
	t.Helper()
	expected.Version, actual.Version = 0, 0
	expected.UpdatedAt, actual.UpdatedAt = time.Time{}, time.Time{}
	if !reflect.DeepEqual(expected, actual) {
		t.Fatalf("document content mismatch:\nexpected %#v\nactual   %#v", expected, actual)
	}
}

func stringPointer(value string) *string {
	return &value
}

func floatPointer(value float64) *float64 {
	return &value
}
