package queue

import (
	"context"
	"sync"
)

// Memory is a process-local Store. Messages do not survive a restart.
type Memory struct {
	mu       sync.Mutex
	messages map[string][]Message
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{messages: make(map[string][]Message)}
}

func (m *Memory) Enqueue(_ context.Context, message Message) error {
	if err := validate(message); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[message.UserID] = append(m.messages[message.UserID], message)
	return nil
}

func (m *Memory) Drain(_ context.Context, userID string) ([]Message, error) {
	if userID == "" {
		return nil, errMissingUserID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	drained := m.messages[userID]
	delete(m.messages, userID)
	return drained, nil
}

func (m *Memory) Close() error {
	return nil
}
