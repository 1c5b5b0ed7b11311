package collab

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/canvas/internal/canvas"
)

var (
	// ErrPermission indicates the participant's role does not allow the operation.
	ErrPermission = errors.New("collab: permission denied")
	// ErrRoomNotFound indicates the room has never been joined in this process.
	ErrRoomNotFound = fmt.Errorf("collab: room %w", canvas.ErrNotFound)
	// ErrNotParticipant indicates the caller has not joined the room.
	ErrNotParticipant = fmt.Errorf("collab: not a participant: %w", ErrPermission)
	// ErrClosed indicates the registry has shut down.
	ErrClosed = errors.New("collab: registry closed")

	errMissingStore       = errors.New("document store is required")
	errMissingRepository  = errors.New("collaboration repository is required")
	errMissingBroadcaster = errors.New("broadcaster is required")
)

// ServiceError carries a stable operation.reason code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opRegistryNew = "collab.registry.new"
	opJoin        = "collab.join"
	opLeave       = "collab.leave"
	opDisconnect  = "collab.disconnect"
	opCursor      = "collab.cursor"
	opChat        = "collab.chat"
	opMutate      = "collab.mutate"
	opSetRole     = "collab.set_role"
	opPeer        = "collab.peer"
	opDocument    = "collab.document"

	reasonMissingStore       = "missing_store"
	reasonMissingRepository  = "missing_repository"
	reasonMissingBroadcaster = "missing_broadcaster"
	reasonInvalidRequest     = "invalid_request"
	reasonDisconnectFailed   = "disconnect_failed"
	reasonNotParticipant     = "not_participant"
	reasonPermissionDenied   = "permission_denied"
	reasonLoadFailed         = "load_failed"
	reasonSaveFailed         = "save_failed"
	reasonPatchFailed        = "patch_failed"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", canvas.ErrValidation, fmt.Sprintf(format, args...))
}
