package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/MarcoPoloResearchLab/canvas/internal/collab"
	"go.uber.org/zap"
)

const (
	peerActionStart = "start"
	peerActionEnd   = "end"

	internalErrorMessage = "internal error"
)

// handleFrame parses one inbound frame, runs it against the registry and
// answers the sender with an ack or an error.
func (s *Supervisor) handleFrame(ctx context.Context, conn *Connection, data []byte) {
	envelope, err := decodeEnvelope(data)
	if err != nil {
		s.metrics.transportErrors.Add(1)
		s.logger.Debug("malformed frame", zap.String("connection_id", conn.ID()), zap.Error(err))
		s.sendError(ctx, conn, frameHeader{Type: TypeError, SessionID: conn.ID()}, err)
		return
	}

	session := collab.Session{
		UserID:       conn.UserID(),
		DisplayName:  conn.displayName,
		ConnectionID: conn.ID(),
	}
	ack, err := s.dispatch(ctx, envelope, session)
	header := frameHeader{
		SessionID: conn.ID(),
		RoomID:    envelope.RoomID,
		RequestID: envelope.RequestID,
	}
	if err != nil {
		s.metrics.requestErrors.Add(1)
		kind := errorKind(err)
		fields := []zap.Field{
			zap.String("connection_id", conn.ID()),
			zap.String("user_id", session.UserID),
			zap.String("type", envelope.Type),
			zap.String("kind", kind),
			zap.Error(err),
		}
		if kind == KindInternal || kind == KindPersistence {
			s.logger.Error("request failed", fields...)
		} else {
			s.logger.Debug("request rejected", fields...)
		}
		header.Type = TypeError
		s.sendError(ctx, conn, header, err)
		return
	}
	ack.Request = envelope.Type
	header.Type = TypeAck
	frame, err := encodeFrame(header, ack, s.clock())
	if err != nil {
		s.logger.Error("ack encoding failed", zap.Error(err))
		return
	}
	s.router.reply(ctx, conn, frame)
}

func (s *Supervisor) dispatch(ctx context.Context, envelope Envelope, session collab.Session) (ackPayload, error) {
	roomID := envelope.RoomID
	switch envelope.Type {
	case TypeAuth:
		return ackPayload{}, fmt.Errorf("%w: connection is already authenticated", canvas.ErrValidation)

	case TypeJoin:
		document, role, err := s.registry.Join(ctx, roomID, session)
		if err != nil {
			return ackPayload{}, err
		}
		return ackPayload{Role: string(role), Version: document.Version}, nil

	case TypeLeave:
		return ackPayload{}, s.registry.Leave(ctx, roomID, session)

	case TypeCreateDocument:
		var payload createDocumentPayload
		if err := envelope.decodePayload(&payload); err != nil {
			return ackPayload{}, err
		}
		return s.mutate(ctx, roomID, session, collab.CreateCanvas(payload.Name))

	case TypeAddElement:
		var draft canvas.ElementDraft
		if err := envelope.decodePayload(&draft); err != nil {
			return ackPayload{}, err
		}
		return s.mutate(ctx, roomID, session, collab.AddElement(draft))

	case TypeUpdateElement:
		var payload elementPatchPayload
		if err := envelope.decodePayload(&payload); err != nil {
			return ackPayload{}, err
		}
		return s.mutate(ctx, roomID, session, collab.UpdateElement(payload.ElementID, payload.Patch))

	case TypeDeleteElement:
		var payload elementRefPayload
		if err := envelope.decodePayload(&payload); err != nil {
			return ackPayload{}, err
		}
		return s.mutate(ctx, roomID, session, collab.DeleteElement(payload.ElementID))

	case TypeUpdateStyle:
		var payload stylePayload
		if err := envelope.decodePayload(&payload); err != nil {
			return ackPayload{}, err
		}
		return s.mutate(ctx, roomID, session, collab.UpdateStyle(payload.ElementID, payload.Style))

	case TypeGroupElements:
		var payload groupPayload
		if err := envelope.decodePayload(&payload); err != nil {
			return ackPayload{}, err
		}
		return s.mutate(ctx, roomID, session, collab.GroupElements(payload.ElementIDs))

	case TypeUngroupElements:
		var payload ungroupPayload
		if err := envelope.decodePayload(&payload); err != nil {
			return ackPayload{}, err
		}
		return s.mutate(ctx, roomID, session, collab.UngroupElements(payload.GroupID))

	case TypeUpdateSettings:
		var patch canvas.SettingsPatch
		if err := envelope.decodePayload(&patch); err != nil {
			return ackPayload{}, err
		}
		return s.mutate(ctx, roomID, session, collab.UpdateSettings(patch))

	case TypeUndo:
		return s.mutate(ctx, roomID, session, collab.Undo())

	case TypeRedo:
		return s.mutate(ctx, roomID, session, collab.Redo())

	case TypeChat:
		var payload chatPayload
		if err := envelope.decodePayload(&payload); err != nil {
			return ackPayload{}, err
		}
		kind, err := collab.ParseChatKind(payload.Kind)
		if err != nil {
			return ackPayload{}, err
		}
		message, err := s.registry.SendChat(ctx, roomID, session, payload.Message, kind)
		if err != nil {
			return ackPayload{}, err
		}
		return ackPayload{MessageID: message.ID}, nil

	case TypeCursor:
		var payload cursorPayload
		if err := envelope.decodePayload(&payload); err != nil {
			return ackPayload{}, err
		}
		if payload.X == nil || payload.Y == nil {
			return ackPayload{}, fmt.Errorf("%w: cursor requires x and y", canvas.ErrValidation)
		}
		return ackPayload{}, s.registry.UpdateCursor(ctx, roomID, session, canvas.Point{X: *payload.X, Y: *payload.Y})

	case TypeSetRole:
		var payload setRolePayload
		if err := envelope.decodePayload(&payload); err != nil {
			return ackPayload{}, err
		}
		role, err := collab.ParseRole(payload.Role)
		if err != nil {
			return ackPayload{}, err
		}
		if err := s.registry.SetRole(ctx, roomID, session, strings.TrimSpace(payload.UserID), role); err != nil {
			return ackPayload{}, err
		}
		return ackPayload{Role: string(role)}, nil

	case TypePeer:
		var payload peerPayload
		if err := envelope.decodePayload(&payload); err != nil {
			return ackPayload{}, err
		}
		var start bool
		switch strings.ToLower(strings.TrimSpace(envelope.Action)) {
		case peerActionStart:
			start = true
		case peerActionEnd:
		default:
			return ackPayload{}, fmt.Errorf("%w: peer action %q is not supported", canvas.ErrValidation, envelope.Action)
		}
		return ackPayload{}, s.registry.PeerSession(ctx, roomID, session, strings.TrimSpace(payload.UserID), start)

	default:
		return ackPayload{}, fmt.Errorf("%w: unknown message type %q", canvas.ErrValidation, envelope.Type)
	}
}

func (s *Supervisor) mutate(ctx context.Context, roomID string, session collab.Session, mutation collab.Mutation) (ackPayload, error) {
	result, err := s.registry.Mutate(ctx, roomID, session, mutation)
	if err != nil {
		if errors.Is(err, canvas.ErrPersistence) {
			s.logger.Warn("mutation applied but not persisted",
				zap.String("room_id", roomID),
				zap.String("operation", mutation.Name()),
				zap.String("user_id", session.UserID))
		}
		return ackPayload{}, err
	}
	return ackPayload{
		Version:   result.Document.Version,
		ElementID: result.ElementID,
		GroupID:   result.GroupID,
	}, nil
}

func (s *Supervisor) sendError(ctx context.Context, conn *Connection, header frameHeader, err error) {
	frame, encodeErr := encodeFrame(header, errorFrom(err, header.RequestID), s.clock())
	if encodeErr != nil {
		s.logger.Error("error encoding failed", zap.Error(encodeErr))
		return
	}
	s.router.reply(ctx, conn, frame)
}

func errorFrom(err error, requestID string) errorPayload {
	kind := errorKind(err)
	message := err.Error()
	if kind == KindInternal {
		message = internalErrorMessage
	}
	return errorPayload{
		Kind:    kind,
		Message: message,
		Code:    errorCode(err),
		Request: requestID,
	}
}
