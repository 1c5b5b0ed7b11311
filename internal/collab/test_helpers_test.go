package collab

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type publishedEvent struct {
	recipients []string
	event      Event
}

type sentEvent struct {
	userID       string
	connectionID string
	event        Event
}

type recordingBroadcaster struct {
	mu        sync.Mutex
	published []publishedEvent
	sent      []sentEvent
}

func (b *recordingBroadcaster) Publish(_ context.Context, recipients []string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedEvent{recipients: append([]string(nil), recipients...), event: event})
}

func (b *recordingBroadcaster) Send(_ context.Context, userID, connectionID string, event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentEvent{userID: userID, connectionID: connectionID, event: event})
}

func (b *recordingBroadcaster) publishedEvents() []publishedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]publishedEvent(nil), b.published...)
}

func (b *recordingBroadcaster) sentEvents() []sentEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentEvent(nil), b.sent...)
}

func (b *recordingBroadcaster) lastPublished(eventType EventType) (publishedEvent, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for index := len(b.published) - 1; index >= 0; index-- {
		if b.published[index].event.Type == eventType {
			return b.published[index], true
		}
	}
	return publishedEvent{}, false
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

type registryFixture struct {
	registry    *Registry
	broadcaster *recordingBroadcaster
	store       *canvas.Store
	repository  *GormRepository
	database    *gorm.DB
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "collab.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := database.AutoMigrate(&canvas.DocumentRecord{}, &CollaborationRecord{}, &MemberRecord{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return database
}

func newRegistryFixture(t *testing.T, defaultRole Role) registryFixture {
	t.Helper()
	database := openTestDatabase(t)
	documentRepository, err := canvas.NewGormRepository(database)
	if err != nil {
		t.Fatalf("unexpected document repository error: %v", err)
	}
	store, err := canvas.NewStore(canvas.StoreConfig{
		Repository: documentRepository,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("unexpected store error: %v", err)
	}
	repository, err := NewGormRepository(database)
	if err != nil {
		t.Fatalf("unexpected collaboration repository error: %v", err)
	}
	broadcaster := &recordingBroadcaster{}
	registry, err := NewRegistry(RegistryConfig{
		Store:             store,
		Repository:        repository,
		Broadcaster:       broadcaster,
		IDProvider:        &sequenceIDProvider{},
		DefaultRole:       defaultRole,
		ChatLimit:         3,
		PersistRetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("unexpected registry error: %v", err)
	}
	t.Cleanup(registry.Close)
	return registryFixture{
		registry:    registry,
		broadcaster: broadcaster,
		store:       store,
		repository:  repository,
		database:    database,
	}
}

func session(userID, connectionID string) Session {
	return Session{UserID: userID, DisplayName: "User " + userID, ConnectionID: connectionID}
}

func mustJoin(t *testing.T, registry *Registry, roomID string, s Session) Role {
	t.Helper()
	_, role, err := registry.Join(context.Background(), roomID, s)
	if err != nil {
		t.Fatalf("join %s as %s failed: %v", roomID, s.UserID, err)
	}
	return role
}

func participantIDs(participants []Participant) []string {
	ids := make([]string, 0, len(participants))
	for _, participant := range participants {
		ids = append(ids, participant.UserID)
	}
	return ids
}

func contains(values []string, target string) bool {
	for _, value := range values {
		if value == target {
			return true
		}
	}
	return false
}

func rectangle() canvas.ElementDraft {
	return canvas.ElementDraft{
		Type:     canvas.ElementRectangle,
		Position: canvas.Point{X: 0, Y: 0},
		Size:     canvas.Size{Width: 10, Height: 10},
	}
}
