package collab

import (
	"context"
	"sort"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
)

type roomOp struct {
	ctx  context.Context
	run  func(ctx context.Context, r *room)
	done chan struct{}
}

// room is owned by its mailbox goroutine; no field is touched elsewhere.
type room struct {
	id           string
	documentID   canvas.DocumentID
	loaded       bool
	participants map[string]*Participant
	members      map[string]struct{}
	roles        map[string]Role
	chat         []ChatMessage

	mailbox chan roomOp
	exited  chan struct{}
}

func newRoom(id string, mailboxSize int) *room {
	return &room{
		id:           id,
		documentID:   canvas.DocumentID(id),
		participants: make(map[string]*Participant),
		members:      make(map[string]struct{}),
		roles:        make(map[string]Role),
		mailbox:      make(chan roomOp, mailboxSize),
		exited:       make(chan struct{}),
	}
}

func (r *room) participantList() []Participant {
	list := make([]Participant, 0, len(r.participants))
	for _, participant := range r.participants {
		list = append(list, participant.snapshot())
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].JoinedAt.Equal(list[j].JoinedAt) {
			return list[i].JoinedAt.Before(list[j].JoinedAt)
		}
		return list[i].UserID < list[j].UserID
	})
	return list
}

func (r *room) chatLog() []ChatMessage {
	return append([]ChatMessage(nil), r.chat...)
}

func (r *room) memberIDs() []string {
	ids := make([]string, 0, len(r.members))
	for userID := range r.members {
		ids = append(ids, userID)
	}
	sort.Strings(ids)
	return ids
}

func (r *room) participantIDs(except string) []string {
	ids := make([]string, 0, len(r.participants))
	for userID := range r.participants {
		if userID != except {
			ids = append(ids, userID)
		}
	}
	sort.Strings(ids)
	return ids
}

// dropConnection detaches a connection and reports whether its participant left.
func (r *room) dropConnection(userID, connectionID string) bool {
	participant, ok := r.participants[userID]
	if !ok {
		return false
	}
	delete(participant.connections, connectionID)
	if len(participant.connections) > 0 {
		return false
	}
	delete(r.participants, userID)
	for _, other := range r.participants {
		other.removeCollaborator(userID)
	}
	return true
}

func (r *room) appendChat(message ChatMessage, limit int) {
	r.chat = append(r.chat, message)
	if overflow := len(r.chat) - limit; limit > 0 && overflow > 0 {
		r.chat = append([]ChatMessage(nil), r.chat[overflow:]...)
	}
}
