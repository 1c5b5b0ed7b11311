package server

import (
	"errors"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
	"github.com/MarcoPoloResearchLab/canvas/internal/collab"
)

var (
	// ErrAuthentication indicates a missing, late or invalid credential. It is
	// fatal to the connection.
	ErrAuthentication = errors.New("server: authentication failed")
	// ErrTransport indicates a frame that could not be parsed.
	ErrTransport = errors.New("server: malformed frame")

	errMissingVerifier      = errors.New("credential verifier dependency required")
	errMissingRegistry      = errors.New("collaboration registry dependency required")
	errMissingRouter        = errors.New("broadcast router dependency required")
	errMissingSupervisor    = errors.New("connection supervisor dependency required")
	errMissingQueue         = errors.New("offline queue dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// Error kinds reported to clients in error frames.
const (
	KindAuthentication = "authentication_error"
	KindPermission     = "permission_error"
	KindNotFound       = "not_found"
	KindValidation     = "validation_error"
	KindTransport      = "transport_error"
	KindNothingToUndo  = "nothing_to_undo"
	KindNothingToRedo  = "nothing_to_redo"
	KindPersistence    = "persistence_error"
	KindInternal       = "internal_error"
)

type coded interface {
	Code() string
}

// errorKind maps an error onto the client-facing taxonomy.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrAuthentication):
		return KindAuthentication
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, collab.ErrPermission):
		return KindPermission
	case errors.Is(err, canvas.ErrNothingToUndo):
		return KindNothingToUndo
	case errors.Is(err, canvas.ErrNothingToRedo):
		return KindNothingToRedo
	case errors.Is(err, canvas.ErrPersistence):
		return KindPersistence
	case errors.Is(err, canvas.ErrNotFound):
		return KindNotFound
	case errors.Is(err, canvas.ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

func errorCode(err error) string {
	var withCode coded
	if errors.As(err, &withCode) {
		return withCode.Code()
	}
	return ""
}
