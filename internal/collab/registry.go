package collab

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const (
	defaultMailboxSize = 64
	defaultChatLimit   = 200
	maxChatLength      = 2000
)

var noOpLogger = zap.NewNop()

// RegistryConfig describes the dependencies of a Registry.
type RegistryConfig struct {
	Store             *canvas.Store
	Repository        Repository
	Broadcaster       Broadcaster
	IDProvider        canvas.IDProvider
	Clock             func() time.Time
	Logger            *zap.Logger
	DefaultRole       Role
	ChatLimit         int
	MailboxSize       int
	PersistRetries    int
	PersistRetryDelay time.Duration
}

// Registry owns every room. Operations for one room run one at a time on
// that room's goroutine, so all participants observe the same event order.
type Registry struct {
	store       *canvas.Store
	repository  Repository
	broadcaster Broadcaster
	idProvider  canvas.IDProvider
	clock       func() time.Time
	logger      *zap.Logger
	defaultRole Role
	chatLimit   int
	mailboxSize int
	retries     int
	retryDelay  time.Duration

	mu          sync.Mutex
	rooms       map[string]*room
	connections map[string]*connectionRooms

	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type connectionRooms struct {
	userID string
	rooms  map[string]struct{}
}

// NewRegistry validates the configuration and returns a Registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Store == nil {
		return nil, newServiceError(opRegistryNew, reasonMissingStore, errMissingStore)
	}
	if cfg.Repository == nil {
		return nil, newServiceError(opRegistryNew, reasonMissingRepository, errMissingRepository)
	}
	if cfg.Broadcaster == nil {
		return nil, newServiceError(opRegistryNew, reasonMissingBroadcaster, errMissingBroadcaster)
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = canvas.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	defaultRole := cfg.DefaultRole
	if defaultRole == "" {
		defaultRole = RoleEditor
	}
	chatLimit := cfg.ChatLimit
	if chatLimit <= 0 {
		chatLimit = defaultChatLimit
	}
	mailboxSize := cfg.MailboxSize
	if mailboxSize <= 0 {
		mailboxSize = defaultMailboxSize
	}
	retries := cfg.PersistRetries
	if retries < 0 {
		retries = 0
	}
	return &Registry{
		store:       cfg.Store,
		repository:  cfg.Repository,
		broadcaster: cfg.Broadcaster,
		idProvider:  idProvider,
		clock:       clock,
		logger:      logger,
		defaultRole: defaultRole,
		chatLimit:   chatLimit,
		mailboxSize: mailboxSize,
		retries:     retries,
		retryDelay:  cfg.PersistRetryDelay,
		rooms:       make(map[string]*room),
		connections: make(map[string]*connectionRooms),
		quit:        make(chan struct{}),
	}, nil
}

// Join adds the session's connection to the room, loading the room's
// document on first use. The joining connection receives the document and
// the collaboration snapshot; other participants receive presence only.
func (reg *Registry) Join(ctx context.Context, roomID string, session Session) (canvas.Document, Role, error) {
	roomID, err := reg.checkRequest(opJoin, roomID, session)
	if err != nil {
		return canvas.Document{}, "", err
	}
	var (
		document canvas.Document
		role     Role
	)
	err = reg.execute(ctx, roomID, true, func(ctx context.Context, r *room) error {
		if err := reg.ensureLoaded(ctx, opJoin, r); err != nil {
			return err
		}
		opened, err := reg.store.Open(ctx, r.documentID)
		if err != nil {
			return err
		}

		assigned, known := r.roles[session.UserID]
		if !known {
			assigned = reg.defaultRole
			if len(r.roles) == 0 {
				assigned = RoleAdmin
			}
			membership := Membership{RoomID: r.id, UserID: session.UserID, Role: assigned}
			if err := reg.retry(ctx, func() error { return reg.repository.SaveMembership(ctx, membership) }); err != nil {
				reg.logError(opJoin, reasonSaveFailed, err, zap.String("room_id", r.id), zap.String("user_id", session.UserID))
				return newServiceError(opJoin, reasonSaveFailed, fmt.Errorf("%w: %v", canvas.ErrPersistence, err))
			}
			r.roles[session.UserID] = assigned
		}

		participant, present := r.participants[session.UserID]
		if !present {
			participant = &Participant{
				UserID:      session.UserID,
				Role:        assigned,
				Color:       ColorFor(session.UserID),
				JoinedAt:    reg.clock().UTC(),
				connections: make(map[string]struct{}),
			}
			r.participants[session.UserID] = participant
		}
		participant.DisplayName = session.DisplayName
		participant.Role = assigned
		participant.connections[session.ConnectionID] = struct{}{}
		r.members[session.UserID] = struct{}{}
		reg.trackConnection(session, r.id)
		var notice *ChatMessage
		if !present {
			notice = reg.systemNotice(ctx, opJoin, r, session, "joined the room")
		}

		document = opened
		role = assigned
		participants := r.participantList()
		reg.broadcaster.Send(ctx, session.UserID, session.ConnectionID, Event{
			Type:    EventUpdate,
			RoomID:  r.id,
			Payload: UpdatePayload{Document: opened, Operation: "join"},
		})
		reg.broadcaster.Send(ctx, session.UserID, session.ConnectionID, Event{
			Type:    EventCollaboration,
			RoomID:  r.id,
			Payload: CollaborationPayload{Reason: "join", Participants: participants, Chat: r.chatLog(), Role: assigned},
		})
		if others := r.participantIDs(session.UserID); len(others) > 0 {
			reg.broadcaster.Publish(ctx, others, Event{
				Type:    EventCollaboration,
				RoomID:  r.id,
				Payload: CollaborationPayload{Reason: "join", Participants: participants, Message: notice},
			})
		}
		reg.logger.Debug("participant joined",
			zap.String("room_id", r.id),
			zap.String("user_id", session.UserID),
			zap.String("role", string(assigned)))
		return nil
	})
	if err != nil {
		return canvas.Document{}, "", err
	}
	return document, role, nil
}

// Leave removes the session's connection from the room. A participant
// without remaining connections also stops receiving the room's events.
func (reg *Registry) Leave(ctx context.Context, roomID string, session Session) error {
	roomID, err := reg.checkRequest(opLeave, roomID, session)
	if err != nil {
		return err
	}
	return reg.execute(ctx, roomID, false, func(ctx context.Context, r *room) error {
		if _, ok := r.participants[session.UserID]; !ok {
			return nil
		}
		reg.untrackConnection(session.ConnectionID, r.id)
		left := r.dropConnection(session.UserID, session.ConnectionID)
		if left {
			delete(r.members, session.UserID)
		}
		if len(r.participants) == 0 {
			r.members = make(map[string]struct{})
			return nil
		}
		var notice *ChatMessage
		if left {
			notice = reg.systemNotice(ctx, opLeave, r, session, "left the room")
		}
		reg.broadcaster.Publish(ctx, r.participantIDs(""), Event{
			Type:    EventCollaboration,
			RoomID:  r.id,
			Payload: CollaborationPayload{Reason: "leave", Participants: r.participantList(), Message: notice},
		})
		return nil
	})
}

// Disconnect removes a closed connection from every room it joined. Users
// left without connections stay members so durable events queue for them.
func (reg *Registry) Disconnect(ctx context.Context, connectionID string) error {
	reg.mu.Lock()
	tracked, ok := reg.connections[connectionID]
	delete(reg.connections, connectionID)
	reg.mu.Unlock()
	if !ok {
		return nil
	}

	var errs []error
	for roomID := range tracked.rooms {
		err := reg.execute(ctx, roomID, false, func(ctx context.Context, r *room) error {
			if left := r.dropConnection(tracked.userID, connectionID); !left {
				return nil
			}
			if len(r.participants) > 0 {
				reg.publishPresence(ctx, r, "disconnect")
			}
			return nil
		})
		if err != nil && !errors.Is(err, ErrRoomNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		reg.logError(opDisconnect, reasonDisconnectFailed, err, zap.String("connection_id", connectionID))
		return err
	}
	return nil
}

// UpdateCursor records the participant's pointer position and broadcasts
// the participant list to the room.
func (reg *Registry) UpdateCursor(ctx context.Context, roomID string, session Session, position canvas.Point) error {
	roomID, err := reg.checkRequest(opCursor, roomID, session)
	if err != nil {
		return err
	}
	if math.IsNaN(position.X) || math.IsNaN(position.Y) || math.IsInf(position.X, 0) || math.IsInf(position.Y, 0) {
		return newServiceError(opCursor, reasonInvalidRequest, invalid("cursor position must be finite"))
	}
	return reg.execute(ctx, roomID, false, func(ctx context.Context, r *room) error {
		participant, err := reg.participant(opCursor, r, session.UserID)
		if err != nil {
			return err
		}
		cursor := position
		participant.Cursor = &cursor
		participant.Color = ColorFor(participant.UserID)
		reg.broadcaster.Publish(ctx, r.participantIDs(""), Event{
			Type:    EventCollaboration,
			RoomID:  r.id,
			Payload: CollaborationPayload{Reason: "cursor", Participants: r.participantList()},
		})
		return nil
	})
}

// SendChat appends a message to the room's chat log, persists the
// collaboration state and delivers the message to every member.
func (reg *Registry) SendChat(ctx context.Context, roomID string, session Session, body string, kind ChatKind) (ChatMessage, error) {
	roomID, err := reg.checkRequest(opChat, roomID, session)
	if err != nil {
		return ChatMessage{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return ChatMessage{}, newServiceError(opChat, reasonInvalidRequest, invalid("chat message is empty"))
	}
	if len(body) > maxChatLength {
		return ChatMessage{}, newServiceError(opChat, reasonInvalidRequest, invalid("chat message exceeds %d characters", maxChatLength))
	}
	if kind == "" {
		kind = ChatText
	}

	var sent ChatMessage
	err = reg.execute(ctx, roomID, false, func(ctx context.Context, r *room) error {
		participant, err := reg.participant(opChat, r, session.UserID)
		if err != nil {
			return err
		}
		messageID, err := reg.idProvider.NewID()
		if err != nil {
			return newServiceError(opChat, reasonInvalidRequest, err)
		}
		sent = ChatMessage{
			ID:          messageID,
			UserID:      participant.UserID,
			DisplayName: participant.DisplayName,
			Body:        body,
			Kind:        kind,
			SentAt:      reg.clock().UTC(),
		}
		r.appendChat(sent, reg.chatLimit)
		saveErr := reg.saveCollaboration(ctx, opChat, r)

		message := sent
		reg.broadcaster.Publish(ctx, r.memberIDs(), Event{
			Type:    EventCollaboration,
			RoomID:  r.id,
			Payload: CollaborationPayload{Reason: "chat", Participants: r.participantList(), Message: &message},
			Durable: true,
		})
		return saveErr
	})
	return sent, err
}

// Mutate applies a document mutation on behalf of an editor or admin and
// broadcasts the resulting document to every member of the room. A
// persistence failure is returned after the broadcast.
func (reg *Registry) Mutate(ctx context.Context, roomID string, session Session, mutation Mutation) (MutationResult, error) {
	roomID, err := reg.checkRequest(opMutate, roomID, session)
	if err != nil {
		return MutationResult{}, err
	}
	if mutation.apply == nil {
		return MutationResult{}, newServiceError(opMutate, reasonInvalidRequest, invalid("mutation is required"))
	}

	var result MutationResult
	err = reg.execute(ctx, roomID, false, func(ctx context.Context, r *room) error {
		participant, err := reg.participant(opMutate, r, session.UserID)
		if err != nil {
			return err
		}
		if !participant.Role.CanEdit() {
			return newServiceError(opMutate, reasonPermissionDenied,
				fmt.Errorf("%w: role %s cannot %s", ErrPermission, participant.Role, mutation.name))
		}
		before, err := reg.store.Open(ctx, r.documentID)
		if err != nil {
			return err
		}
		applied, applyErr := mutation.apply(ctx, reg.store, r.documentID)
		if applyErr != nil && !errors.Is(applyErr, canvas.ErrPersistence) {
			return applyErr
		}
		result = applied
		if applied.Document.Version == before.Version {
			return applyErr
		}

		payload := UpdatePayload{
			Document:  applied.Document,
			Operation: mutation.name,
			Actor:     session.UserID,
			ElementID: applied.ElementID,
			GroupID:   applied.GroupID,
		}
		patch, patchErr := documentPatch(before, applied.Document)
		if patchErr != nil {
			reg.logError(opMutate, reasonPatchFailed, patchErr, zap.String("room_id", r.id))
		} else {
			payload.Patch = patch
		}
		reg.broadcaster.Publish(ctx, r.memberIDs(), Event{
			Type:    EventUpdate,
			RoomID:  r.id,
			Payload: payload,
			Durable: true,
		})
		return applyErr
	})
	return result, err
}

// SetRole changes another member's role. Only admins may change roles.
func (reg *Registry) SetRole(ctx context.Context, roomID string, session Session, targetUserID string, role Role) error {
	roomID, err := reg.checkRequest(opSetRole, roomID, session)
	if err != nil {
		return err
	}
	if _, err := ParseRole(string(role)); err != nil {
		return newServiceError(opSetRole, reasonInvalidRequest, err)
	}
	if targetUserID == "" || targetUserID == session.UserID {
		return newServiceError(opSetRole, reasonInvalidRequest, invalid("target must be another member"))
	}
	return reg.execute(ctx, roomID, false, func(ctx context.Context, r *room) error {
		caller, err := reg.participant(opSetRole, r, session.UserID)
		if err != nil {
			return err
		}
		if caller.Role != RoleAdmin {
			return newServiceError(opSetRole, reasonPermissionDenied, fmt.Errorf("%w: only admins may change roles", ErrPermission))
		}
		if _, ok := r.roles[targetUserID]; !ok {
			return newServiceError(opSetRole, reasonInvalidRequest, fmt.Errorf("%w: member %s", canvas.ErrNotFound, targetUserID))
		}
		membership := Membership{RoomID: r.id, UserID: targetUserID, Role: role}
		if err := reg.retry(ctx, func() error { return reg.repository.SaveMembership(ctx, membership) }); err != nil {
			reg.logError(opSetRole, reasonSaveFailed, err, zap.String("room_id", r.id), zap.String("user_id", targetUserID))
			return newServiceError(opSetRole, reasonSaveFailed, fmt.Errorf("%w: %v", canvas.ErrPersistence, err))
		}
		r.roles[targetUserID] = role
		if target, ok := r.participants[targetUserID]; ok {
			target.Role = role
		}
		reg.publishPresence(ctx, r, "role")
		return nil
	})
}

// PeerSession starts or ends a peer session between two participants.
func (reg *Registry) PeerSession(ctx context.Context, roomID string, session Session, peerUserID string, start bool) error {
	roomID, err := reg.checkRequest(opPeer, roomID, session)
	if err != nil {
		return err
	}
	if peerUserID == "" || peerUserID == session.UserID {
		return newServiceError(opPeer, reasonInvalidRequest, invalid("peer must be another participant"))
	}
	return reg.execute(ctx, roomID, false, func(ctx context.Context, r *room) error {
		caller, err := reg.participant(opPeer, r, session.UserID)
		if err != nil {
			return err
		}
		peer, ok := r.participants[peerUserID]
		if !ok {
			return newServiceError(opPeer, reasonInvalidRequest, fmt.Errorf("%w: participant %s", canvas.ErrNotFound, peerUserID))
		}
		if start {
			caller.addCollaborator(peer.UserID)
			peer.addCollaborator(caller.UserID)
		} else {
			caller.removeCollaborator(peer.UserID)
			peer.removeCollaborator(caller.UserID)
		}
		reg.publishPresence(ctx, r, "peer")
		return nil
	})
}

// Document returns the room's current document for a known member. A room
// that is not held in memory is only loaded for one of its stored members.
func (reg *Registry) Document(ctx context.Context, roomID, userID string) (canvas.Document, error) {
	roomID, err := normalizeRoomID(roomID)
	if err != nil {
		return canvas.Document{}, newServiceError(opDocument, reasonInvalidRequest, err)
	}
	if !reg.resident(roomID) {
		member, err := reg.storedMember(ctx, roomID, userID)
		if err != nil {
			return canvas.Document{}, err
		}
		if !member {
			return canvas.Document{}, notMemberError()
		}
	}
	var document canvas.Document
	err = reg.execute(ctx, roomID, true, func(ctx context.Context, r *room) error {
		if err := reg.ensureLoaded(ctx, opDocument, r); err != nil {
			return err
		}
		if _, ok := r.roles[userID]; !ok {
			return notMemberError()
		}
		opened, err := reg.store.Open(ctx, r.documentID)
		if err != nil {
			return err
		}
		document = opened
		return nil
	})
	return document, err
}

func (reg *Registry) resident(roomID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	_, ok := reg.rooms[roomID]
	return ok
}

func (reg *Registry) storedMember(ctx context.Context, roomID, userID string) (bool, error) {
	var memberships []Membership
	err := reg.retry(ctx, func() error {
		var loadErr error
		memberships, loadErr = reg.repository.LoadMemberships(ctx, roomID)
		return loadErr
	})
	if err != nil {
		reg.logError(opDocument, reasonLoadFailed, err, zap.String("room_id", roomID))
		return false, newServiceError(opDocument, reasonLoadFailed, fmt.Errorf("%w: %v", canvas.ErrPersistence, err))
	}
	for _, membership := range memberships {
		if membership.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func notMemberError() error {
	return newServiceError(opDocument, reasonPermissionDenied, fmt.Errorf("%w: not a member", ErrPermission))
}

// Participants returns the live participant list of a room.
func (reg *Registry) Participants(ctx context.Context, roomID string) ([]Participant, error) {
	var participants []Participant
	err := reg.execute(ctx, roomID, false, func(_ context.Context, r *room) error {
		participants = r.participantList()
		return nil
	})
	return participants, err
}

// RoomCount returns the number of rooms held in memory.
func (reg *Registry) RoomCount() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return len(reg.rooms)
}

// Close stops every room goroutine and waits for them to exit.
func (reg *Registry) Close() {
	reg.closeOnce.Do(func() {
		close(reg.quit)
	})
	reg.wg.Wait()
}

// execute runs fn on the room's goroutine and waits for it to finish. Once
// queued, fn runs even if ctx is cancelled so mutations are never torn.
func (reg *Registry) execute(ctx context.Context, roomID string, create bool, fn func(ctx context.Context, r *room) error) error {
	r, err := reg.lookup(roomID, create)
	if err != nil {
		return err
	}
	var result error
	op := roomOp{
		ctx: context.WithoutCancel(ctx),
		run: func(ctx context.Context, r *room) {
			result = fn(ctx, r)
		},
		done: make(chan struct{}),
	}
	select {
	case r.mailbox <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-reg.quit:
		return ErrClosed
	}
	select {
	case <-op.done:
		return result
	case <-r.exited:
		return ErrClosed
	}
}

func (reg *Registry) lookup(roomID string, create bool) (*room, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	select {
	case <-reg.quit:
		return nil, ErrClosed
	default:
	}
	if r, ok := reg.rooms[roomID]; ok {
		return r, nil
	}
	if !create {
		return nil, ErrRoomNotFound
	}
	r := newRoom(roomID, reg.mailboxSize)
	reg.rooms[roomID] = r
	reg.wg.Add(1)
	go reg.run(r)
	return r, nil
}

func (reg *Registry) run(r *room) {
	defer reg.wg.Done()
	defer close(r.exited)
	for {
		select {
		case op := <-r.mailbox:
			op.run(op.ctx, r)
			close(op.done)
		case <-reg.quit:
			return
		}
	}
}

func (reg *Registry) ensureLoaded(ctx context.Context, operation string, r *room) error {
	if r.loaded {
		return nil
	}
	var (
		collaboration Collaboration
		found         bool
		memberships   []Membership
	)
	err := reg.retry(ctx, func() error {
		var loadErr error
		collaboration, found, loadErr = reg.repository.LoadCollaboration(ctx, r.id)
		if loadErr != nil {
			return loadErr
		}
		memberships, loadErr = reg.repository.LoadMemberships(ctx, r.id)
		return loadErr
	})
	if err != nil {
		reg.logError(operation, reasonLoadFailed, err, zap.String("room_id", r.id))
		return newServiceError(operation, reasonLoadFailed, fmt.Errorf("%w: %v", canvas.ErrPersistence, err))
	}
	if found {
		for _, message := range collaboration.Chat {
			r.appendChat(message, reg.chatLimit)
		}
	}
	for _, membership := range memberships {
		r.roles[membership.UserID] = membership.Role
	}
	r.loaded = true
	return nil
}

func (reg *Registry) saveCollaboration(ctx context.Context, operation string, r *room) error {
	collaboration := Collaboration{
		RoomID:       r.id,
		Participants: r.participantList(),
		Chat:         r.chatLog(),
		UpdatedAt:    reg.clock().UTC(),
	}
	if err := reg.retry(ctx, func() error { return reg.repository.SaveCollaboration(ctx, collaboration) }); err != nil {
		reg.logError(operation, reasonSaveFailed, err, zap.String("room_id", r.id))
		return newServiceError(operation, reasonSaveFailed, fmt.Errorf("%w: %v", canvas.ErrPersistence, err))
	}
	return nil
}

// systemNotice records a generated chat message about the session's user.
// Failures are logged; the notice is best effort.
func (reg *Registry) systemNotice(ctx context.Context, operation string, r *room, session Session, body string) *ChatMessage {
	messageID, err := reg.idProvider.NewID()
	if err != nil {
		reg.logError(operation, reasonInvalidRequest, err, zap.String("room_id", r.id))
		return nil
	}
	notice := ChatMessage{
		ID:          messageID,
		UserID:      session.UserID,
		DisplayName: session.DisplayName,
		Body:        body,
		Kind:        ChatSystem,
		SentAt:      reg.clock().UTC(),
	}
	r.appendChat(notice, reg.chatLimit)
	_ = reg.saveCollaboration(ctx, operation, r)
	return &notice
}

func (reg *Registry) publishPresence(ctx context.Context, r *room, reason string) {
	reg.broadcaster.Publish(ctx, r.participantIDs(""), Event{
		Type:    EventCollaboration,
		RoomID:  r.id,
		Payload: CollaborationPayload{Reason: reason, Participants: r.participantList()},
	})
}

func (reg *Registry) participant(operation string, r *room, userID string) (*Participant, error) {
	participant, ok := r.participants[userID]
	if !ok {
		return nil, newServiceError(operation, reasonNotParticipant, ErrNotParticipant)
	}
	return participant, nil
}

func (reg *Registry) checkRequest(operation, roomID string, session Session) (string, error) {
	normalized, err := normalizeRoomID(roomID)
	if err != nil {
		return "", newServiceError(operation, reasonInvalidRequest, err)
	}
	if err := session.validate(); err != nil {
		return "", newServiceError(operation, reasonInvalidRequest, err)
	}
	return normalized, nil
}

func (reg *Registry) trackConnection(session Session, roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	tracked, ok := reg.connections[session.ConnectionID]
	if !ok {
		tracked = &connectionRooms{userID: session.UserID, rooms: make(map[string]struct{})}
		reg.connections[session.ConnectionID] = tracked
	}
	tracked.rooms[roomID] = struct{}{}
}

func (reg *Registry) untrackConnection(connectionID, roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	tracked, ok := reg.connections[connectionID]
	if !ok {
		return
	}
	delete(tracked.rooms, roomID)
	if len(tracked.rooms) == 0 {
		delete(reg.connections, connectionID)
	}
}

func (reg *Registry) retry(ctx context.Context, operation func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(reg.retryDelay), uint64(reg.retries)),
		ctx,
	)
	return backoff.Retry(operation, policy)
}

func (reg *Registry) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	reg.logger.Error("collaboration registry error", attrs...)
}
