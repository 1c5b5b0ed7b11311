package canvas

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a document or element does not exist.
	ErrNotFound = errors.New("canvas: not found")
	// ErrValidation indicates a malformed mutation request.
	ErrValidation = errors.New("canvas: invalid request")
	// ErrNothingToUndo indicates an empty undo stack.
	ErrNothingToUndo = errors.New("canvas: nothing to undo")
	// ErrNothingToRedo indicates an empty redo stack.
	ErrNothingToRedo = errors.New("canvas: nothing to redo")
	// ErrPersistence indicates the storage collaborator kept failing after retries.
	ErrPersistence = errors.New("canvas: persistence failed")

	errMissingRepository = errors.New("document repository is required")
	errMissingIDProvider = errors.New("id provider is required")
	errUnchanged         = errors.New("canvas: unchanged")
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
	opStoreNew        = "canvas.store.new"
	opOpen            = "canvas.open"
	opCreateCanvas    = "canvas.create_canvas"
	opAddElement      = "canvas.add_element"
	opUpdateElement   = "canvas.update_element"
	opDeleteElement   = "canvas.delete_element"
	opUpdateStyle     = "canvas.update_style"
	opGroupElements   = "canvas.group_elements"
	opUngroupElements = "canvas.ungroup_elements"
	opUpdateSettings  = "canvas.update_settings"
	opUndo            = "canvas.undo"
	opRedo            = "canvas.redo"
	opHistoryState    = "canvas.history_state"

	reasonMissingRepository = "missing_repository"
	reasonMissingIDProvider = "missing_id_provider"
	reasonInvalidDocumentID = "invalid_document_id"
	reasonLoadFailed        = "load_failed"
	reasonSaveFailed        = "save_failed"
	reasonSnapshotFailed    = "snapshot_failed"
	reasonIDFailed          = "id_generation_failed"
	reasonInvalidRequest    = "invalid_request"
	reasonElementNotFound   = "element_not_found"
	reasonNothingToUndo     = "nothing_to_undo"
	reasonNothingToRedo     = "nothing_to_redo"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return reasonElementNotFound
	case errors.Is(err, ErrNothingToUndo):
		return reasonNothingToUndo
	case errors.Is(err, ErrNothingToRedo):
		return reasonNothingToRedo
	case errors.Is(err, ErrValidation):
		return reasonInvalidRequest
	default:
		return reasonSnapshotFailed
	}
}
