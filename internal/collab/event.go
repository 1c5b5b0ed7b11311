package collab

import (
	"context"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/mattbaird/jsonpatch"
)

// EventType names an outbound room event.
type EventType string

const (
	EventUpdate        EventType = "update"
	EventCollaboration EventType = "collaboration"
)

// Event is a room event addressed to one or more users. Durable events are
// queued for members without an open connection; others are dropped.
type Event struct {
	Type    EventType
	RoomID  string
	Payload any
	Durable bool
}

// UpdatePayload carries the full document after a mutation.
type UpdatePayload struct {
	Document  canvas.Document                `json:"document"`
	Patch     []jsonpatch.JsonPatchOperation `json:"patch,omitempty"`
	Operation string                         `json:"operation"`
	Actor     string                         `json:"actor,omitempty"`
	ElementID canvas.ElementID               `json:"elementId,omitempty"`
	GroupID   canvas.GroupID                 `json:"groupId,omitempty"`
}

// CollaborationPayload carries the participant list and chat state.
type CollaborationPayload struct {
	Reason       string        `json:"reason"`
	Participants []Participant `json:"participants"`
	Chat         []ChatMessage `json:"chat,omitempty"`
	Message      *ChatMessage  `json:"message,omitempty"`
	Role         Role          `json:"role,omitempty"`
}

// Broadcaster delivers room events. Implementations must not block the
// caller on slow connections.
type Broadcaster interface {
	Publish(ctx context.Context, recipients []string, event Event)
	Send(ctx context.Context, userID, connectionID string, event Event)
}
