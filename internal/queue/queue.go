package queue

import (
	"context"
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidMessage indicates a message without a recipient or frame.
	ErrInvalidMessage = errors.New("queue: invalid message")

	errMissingUserID = errors.New("queue: user id is required")
)

// Message is one outbound frame held for an offline user. The ULID doubles
// as the logical enqueue timestamp; later messages carry larger ids.
type Message struct {
	ID         ulid.ULID `json:"id"`
	UserID     string    `json:"userId"`
	Frame      []byte    `json:"frame"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Store holds per-user messages. Enqueue is safe for concurrent use from
// many rooms; Drain atomically removes and returns a user's messages in
// enqueue order.
type Store interface {
	Enqueue(ctx context.Context, message Message) error
	Drain(ctx context.Context, userID string) ([]Message, error)
	Close() error
}

// Stamper issues monotonically increasing message ids.
type Stamper struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	clock   func() time.Time
}

// NewStamper returns a Stamper using the provided clock, or time.Now.
func NewStamper(clock func() time.Time) *Stamper {
	if clock == nil {
		clock = time.Now
	}
	return &Stamper{
		entropy: ulid.Monotonic(rand.Reader, 0),
		clock:   clock,
	}
}

// NewMessage stamps a frame addressed to userID.
func (s *Stamper) NewMessage(userID string, frame []byte) (Message, error) {
	if userID == "" {
		return Message{}, errMissingUserID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock().UTC()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ID:         id,
		UserID:     userID,
		Frame:      append([]byte(nil), frame...),
		EnqueuedAt: now,
	}, nil
}

func validate(message Message) error {
	if message.UserID == "" || len(message.Frame) == 0 {
		return ErrInvalidMessage
	}
	return nil
}
