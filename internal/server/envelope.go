package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
)

// Inbound message types.
const (
	TypeAuth            = "auth"
	TypeJoin            = "join"
	TypeLeave           = "leave"
	TypeCreateDocument  = "create-document"
	TypeAddElement      = "add-element"
	TypeUpdateElement   = "update-element"
	TypeDeleteElement   = "delete-element"
	TypeUpdateStyle     = "update-style"
	TypeGroupElements   = "group-elements"
	TypeUngroupElements = "ungroup-elements"
	TypeUpdateSettings  = "update-settings"
	TypeChat            = "chat"
	TypeCursor          = "cursor"
	TypeUndo            = "undo"
	TypeRedo            = "redo"
	TypeSetRole         = "set-role"
	TypePeer            = "peer"
)

// Outbound message types.
const (
	TypeAuthenticated = "authenticated"
	TypeUpdate        = "update"
	TypeCollaboration = "collaboration"
	TypeAck           = "ack"
	TypeError         = "error"
)

// Envelope is the wire frame exchanged with clients.
type Envelope struct {
	Type      string          `json:"type"`
	Action    string          `json:"action,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	RoomID    string          `json:"roomId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	envelope.Type = strings.TrimSpace(envelope.Type)
	if envelope.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrTransport)
	}
	return envelope, nil
}

func (e Envelope) decodePayload(target any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return fmt.Errorf("%w: payload is required", canvas.ErrValidation)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("%w: payload: %v", canvas.ErrValidation, err)
	}
	return nil
}

type frameHeader struct {
	Type      string
	SessionID string
	RoomID    string
	RequestID string
}

func encodeFrame(header frameHeader, payload any, now time.Time) ([]byte, error) {
	encodedPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      header.Type,
		SessionID: header.SessionID,
		RoomID:    header.RoomID,
		RequestID: header.RequestID,
		Payload:   encodedPayload,
		Timestamp: now.UnixMilli(),
	})
}

type authPayload struct {
	Credential string `json:"credential"`
}

type authenticatedPayload struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Replayed    int    `json:"replayed"`
}

type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Request string `json:"request,omitempty"`
}

type ackPayload struct {
	Request   string           `json:"request"`
	Role      string           `json:"role,omitempty"`
	Version   int64            `json:"version,omitempty"`
	ElementID canvas.ElementID `json:"elementId,omitempty"`
	GroupID   canvas.GroupID   `json:"groupId,omitempty"`
	MessageID string           `json:"messageId,omitempty"`
}

type createDocumentPayload struct {
	Name string `json:"name"`
}

type elementPatchPayload struct {
	ElementID canvas.ElementID    `json:"elementId"`
	Patch     canvas.ElementPatch `json:"patch"`
}

type elementRefPayload struct {
	ElementID canvas.ElementID `json:"elementId"`
}

type stylePayload struct {
	ElementID canvas.ElementID  `json:"elementId"`
	Style     canvas.StylePatch `json:"style"`
}

type groupPayload struct {
	ElementIDs []canvas.ElementID `json:"elementIds"`
}

type ungroupPayload struct {
	GroupID canvas.GroupID `json:"groupId"`
}

type chatPayload struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}

type cursorPayload struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

type setRolePayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

type peerPayload struct {
	UserID string `json:"userId"`
}
