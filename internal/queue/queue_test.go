package queue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	stores := map[string]Store{
		"memory": NewMemory(),
	}

	boltStore, err := OpenBolt(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open bolt queue: %v", err)
	}
	stores["bolt"] = boltStore

	if address := os.Getenv("CANVAS_TEST_REDIS_ADDRESS"); address != "" {
		redisStore, err := NewRedis(context.Background(), address, 0)
		if err != nil {
			t.Fatalf("failed to connect redis queue: %v", err)
		}
		stores["redis"] = redisStore
	}

	t.Cleanup(func() {
		for _, store := range stores {
			_ = store.Close()
		}
	})
	return stores
}

func TestStoreDrainsInEnqueueOrderExactlyOnce(t *testing.T) {
	ctx := context.Background()
	stamper := NewStamper(nil)

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			userID := fmt.Sprintf("user-order-%d", time.Now().UnixNano())
			expected := []Message{}
			for i := 0; i < 20; i += 1 {
				message, err := stamper.NewMessage(userID, []byte(fmt.Sprintf(`{"n":%d}`, i)))
				assert.Equal(t, nil, err)
				assert.Equal(t, nil, store.Enqueue(ctx, message))
				expected = append(expected, message)
			}

			drained, err := store.Drain(ctx, userID)
			assert.Equal(t, nil, err)
			assert.Equal(t, len(expected), len(drained))
			for i := range expected {
				assert.Equal(t, expected[i].ID, drained[i].ID)
				assert.Equal(t, string(expected[i].Frame), string(drained[i].Frame))
				if i > 0 {
					assert.Equal(t, -1, drained[i-1].ID.Compare(drained[i].ID))
				}
			}

			again, err := store.Drain(ctx, userID)
			assert.Equal(t, nil, err)
			assert.Equal(t, 0, len(again))
		})
	}
}

func TestStoreKeepsUsersSeparate(t *testing.T) {
	ctx := context.Background()
	stamper := NewStamper(nil)

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			suffix := time.Now().UnixNano()
			alice := fmt.Sprintf("alice-%d", suffix)
			bob := fmt.Sprintf("bob-%d", suffix)

			for _, userID := range []string{alice, bob, alice} {
				message, err := stamper.NewMessage(userID, []byte(`{"type":"update"}`))
				assert.Equal(t, nil, err)
				assert.Equal(t, nil, store.Enqueue(ctx, message))
			}

			drained, err := store.Drain(ctx, alice)
			assert.Equal(t, nil, err)
			assert.Equal(t, 2, len(drained))

			drained, err = store.Drain(ctx, bob)
			assert.Equal(t, nil, err)
			assert.Equal(t, 1, len(drained))
			assert.Equal(t, bob, drained[0].UserID)
		})
	}
}

func TestStoreConcurrentEnqueue(t *testing.T) {
	ctx := context.Background()
	stamper := NewStamper(nil)

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			userID := fmt.Sprintf("user-concurrent-%d", time.Now().UnixNano())
			writers := 8
			perWriter := 25

			var wg sync.WaitGroup
			for w := 0; w < writers; w += 1 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < perWriter; i += 1 {
						message, err := stamper.NewMessage(userID, []byte(`{}`))
						if err != nil {
							t.Errorf("stamp failed: %v", err)
							return
						}
						if err := store.Enqueue(ctx, message); err != nil {
							t.Errorf("enqueue failed: %v", err)
							return
						}
					}
				}()
			}
			wg.Wait()

			drained, err := store.Drain(ctx, userID)
			assert.Equal(t, nil, err)
			assert.Equal(t, writers*perWriter, len(drained))

			seen := map[string]bool{}
			for _, message := range drained {
				assert.Equal(t, false, seen[message.ID.String()])
				seen[message.ID.String()] = true
			}
		})
	}
}

func TestBoltSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	store, err := OpenBolt(path)
	assert.Equal(t, nil, err)
	message, err := NewStamper(nil).NewMessage("user-1", []byte(`{"type":"update"}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, store.Enqueue(ctx, message))
	assert.Equal(t, nil, store.Close())

	reopened, err := OpenBolt(path)
	assert.Equal(t, nil, err)
	defer reopened.Close()

	drained, err := reopened.Drain(ctx, "user-1")
	assert.Equal(t, nil, err)
	assert.Equal(t, 1, len(drained))
	assert.Equal(t, message.ID, drained[0].ID)
}

func TestEnqueueRejectsInvalidMessages(t *testing.T) {
	store := NewMemory()
	assert.Equal(t, ErrInvalidMessage, store.Enqueue(context.Background(), Message{UserID: "user-1"}))
	assert.Equal(t, ErrInvalidMessage, store.Enqueue(context.Background(), Message{Frame: []byte("x")}))

	_, err := NewStamper(nil).NewMessage("", []byte("x"))
	assert.NotEqual(t, nil, err)
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Config{Backend: "kafka"})
	assert.NotEqual(t, nil, err)

	store, err := Open(context.Background(), Config{Backend: "memory"})
	assert.Equal(t, nil, err)
	assert.Equal(t, nil, store.Close())
}
