package collab

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/zeebo/blake3"
)

// Role controls what a participant may do in a room.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// ParseRole validates raw input and returns a Role.
func ParseRole(rawInput string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(rawInput)))
	switch role {
	case RoleViewer, RoleEditor, RoleAdmin:
		return role, nil
	default:
		return "", invalid("role %q is not supported", rawInput)
	}
}

// CanEdit reports whether the role may mutate the document.
func (r Role) CanEdit() bool {
	return r == RoleEditor || r == RoleAdmin
}

// Session identifies the connection a request arrived on.
type Session struct {
	UserID       string
	DisplayName  string
	ConnectionID string
}

func (s Session) validate() error {
	if strings.TrimSpace(s.UserID) == "" {
		return invalid("user id is required")
	}
	if strings.TrimSpace(s.ConnectionID) == "" {
		return invalid("connection id is required")
	}
	return nil
}

// Participant is one user's live presence in a room.
type Participant struct {
	UserID        string        `json:"userId"`
	DisplayName   string        `json:"displayName"`
	Role          Role          `json:"role"`
	Cursor        *canvas.Point `json:"cursor,omitempty"`
	Color         string        `json:"color"`
	Collaborators []string      `json:"collaborators,omitempty"`
	JoinedAt      time.Time     `json:"joinedAt"`

	connections map[string]struct{}
}

func (p *Participant) snapshot() Participant {
	copied := *p
	copied.connections = nil
	if p.Cursor != nil {
		cursor := *p.Cursor
		copied.Cursor = &cursor
	}
	if len(p.Collaborators) > 0 {
		copied.Collaborators = append([]string(nil), p.Collaborators...)
	}
	return copied
}

func (p *Participant) addCollaborator(userID string) {
	for _, existing := range p.Collaborators {
		if existing == userID {
			return
		}
	}
	p.Collaborators = append(p.Collaborators, userID)
	sort.Strings(p.Collaborators)
}

func (p *Participant) removeCollaborator(userID string) {
	kept := p.Collaborators[:0]
	for _, existing := range p.Collaborators {
		if existing != userID {
			kept = append(kept, existing)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	p.Collaborators = kept
}

// ChatKind distinguishes user chat from generated notices.
type ChatKind string

const (
	ChatText   ChatKind = "text"
	ChatSystem ChatKind = "system"
	ChatEmote  ChatKind = "emote"
)

// ParseChatKind validates raw input; an empty kind means text.
func ParseChatKind(rawInput string) (ChatKind, error) {
	switch kind := ChatKind(strings.TrimSpace(rawInput)); kind {
	case "":
		return ChatText, nil
	case ChatText, ChatEmote:
		return kind, nil
	default:
		return "", invalid("chat kind %q is not supported", rawInput)
	}
}

// ChatMessage is one entry in a room's chat log.
type ChatMessage struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	DisplayName string    `json:"displayName"`
	Body        string    `json:"body"`
	Kind        ChatKind  `json:"kind"`
	SentAt      time.Time `json:"sentAt"`
}

// Collaboration is the persisted collaboration state of a room.
type Collaboration struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
	Chat         []ChatMessage `json:"chat"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Membership records a user's role in a room across sessions.
type Membership struct {
	RoomID string
	UserID string
	Role   Role
}

var cursorPalette = []string{
	"#ef4444", "#f97316", "#f59e0b", "#84cc16",
	"#10b981", "#06b6d4", "#3b82f6", "#6366f1",
	"#8b5cf6", "#d946ef", "#ec4899", "#64748b",
}

// ColorFor derives a stable display colour from the user id.
func ColorFor(userID string) string {
	digest := blake3.Sum256([]byte(userID))
	index := binary.BigEndian.Uint32(digest[:4]) % uint32(len(cursorPalette))
	return cursorPalette[index]
}

func normalizeRoomID(rawInput string) (string, error) {
	documentID, err := canvas.NewDocumentID(rawInput)
	if err != nil {
		return "", fmt.Errorf("room id: %w", err)
	}
	return documentID.String(), nil
}
