package canvas

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"
)

const maxIDAttempts = 5

var noOpLogger = zap.NewNop()

// Repository is the durable storage collaborator for documents.
type Repository interface {
	LoadDocument(ctx context.Context, id DocumentID) (Document, bool, error)
	SaveDocument(ctx context.Context, document Document) error
}

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Repository        Repository
	IDProvider        IDProvider
	Clock             func() time.Time
	Logger            *zap.Logger
	HistoryLimit      int
	PersistRetries    int
	PersistRetryDelay time.Duration
}

// Store holds the canonical in-memory state of every open document and
// applies mutations atomically: a failed validation changes nothing.
type Store struct {
	repository   Repository
	idProvider   IDProvider
	clock        func() time.Time
	logger       *zap.Logger
	historyLimit int
	retries      int
	retryDelay   time.Duration

	mu      sync.Mutex
	entries map[DocumentID]*documentEntry
}

type documentEntry struct {
	mu       sync.Mutex
	loaded   bool
	document Document
	history  *History
	dirty    bool
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opStoreNew, reasonMissingRepository, errMissingRepository)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, reasonMissingIDProvider, errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	retries := cfg.PersistRetries
	if retries < 0 {
		retries = 0
	}
	return &Store{
		repository:   cfg.Repository,
		idProvider:   cfg.IDProvider,
		clock:        clock,
		logger:       logger,
		historyLimit: cfg.HistoryLimit,
		retries:      retries,
		retryDelay:   cfg.PersistRetryDelay,
		entries:      make(map[DocumentID]*documentEntry),
	}, nil
}

// Open returns the document, loading it from storage or creating it on first access.
func (s *Store) Open(ctx context.Context, id DocumentID) (Document, error) {
	entry, err := s.acquire(ctx, opOpen, id)
	if err != nil {
		return Document{}, err
	}
	defer entry.mu.Unlock()
	return entry.document, nil
}

// HistoryState reports whether the document has undoable history.
func (s *Store) HistoryState(ctx context.Context, id DocumentID) (HistoryState, error) {
	entry, err := s.acquire(ctx, opHistoryState, id)
	if err != nil {
		return "", err
	}
	defer entry.mu.Unlock()
	return entry.history.State(), nil
}

// CreateCanvas resets the document to an empty canvas with the given name.
func (s *Store) CreateCanvas(ctx context.Context, id DocumentID, name string) (Document, error) {
	normalized, err := normalizeName(name)
	if err != nil {
		return Document{}, s.reject(opCreateCanvas, err, id)
	}
	return s.mutate(ctx, opCreateCanvas, id, func(document *Document) error {
		document.Name = normalized
		document.Elements = []Element{}
		document.Settings = DefaultSettings()
		return nil
	})
}

// AddElement appends a new element with a freshly generated unique id.
func (s *Store) AddElement(ctx context.Context, id DocumentID, draft ElementDraft) (Document, Element, error) {
	if err := draft.validate(); err != nil {
		return Document{}, Element{}, s.reject(opAddElement, err, id)
	}
	var added Element
	document, err := s.mutate(ctx, opAddElement, id, func(document *Document) error {
		elementID, idErr := s.uniqueElementID(*document)
		if idErr != nil {
			return idErr
		}
		added = draft.build(elementID)
		document.Elements = append(document.Elements, added)
		return nil
	})
	if err != nil && !errors.Is(err, ErrPersistence) {
		return Document{}, Element{}, err
	}
	return document, added, err
}

// UpdateElement merges the patch into the named element.
func (s *Store) UpdateElement(ctx context.Context, id DocumentID, elementID ElementID, patch ElementPatch) (Document, error) {
	if err := patch.validate(); err != nil {
		return Document{}, s.reject(opUpdateElement, err, id)
	}
	return s.mutate(ctx, opUpdateElement, id, func(document *Document) error {
		index := document.indexOf(elementID)
		if index < 0 {
			return fmt.Errorf("%w: element %s", ErrNotFound, elementID)
		}
		document.Elements[index] = patch.applyTo(document.Elements[index])
		return nil
	})
}

// DeleteElement removes the named element.
func (s *Store) DeleteElement(ctx context.Context, id DocumentID, elementID ElementID) (Document, error) {
	return s.mutate(ctx, opDeleteElement, id, func(document *Document) error {
		index := document.indexOf(elementID)
		if index < 0 {
			return fmt.Errorf("%w: element %s", ErrNotFound, elementID)
		}
		document.Elements = append(document.Elements[:index], document.Elements[index+1:]...)
		return nil
	})
}

// UpdateStyle merges style fields on the named element.
func (s *Store) UpdateStyle(ctx context.Context, id DocumentID, elementID ElementID, patch StylePatch) (Document, error) {
	if patch.empty() {
		return Document{}, s.reject(opUpdateStyle, invalid("no style fields to update"), id)
	}
	if err := patch.validate(); err != nil {
		return Document{}, s.reject(opUpdateStyle, err, id)
	}
	return s.mutate(ctx, opUpdateStyle, id, func(document *Document) error {
		index := document.indexOf(elementID)
		if index < 0 {
			return fmt.Errorf("%w: element %s", ErrNotFound, elementID)
		}
		document.Elements[index].Style = patch.applyTo(document.Elements[index].Style)
		return nil
	})
}

// GroupElements assigns a new group id to every listed element that exists.
// Ids that do not match an element are skipped. When nothing matches the
// document is returned unchanged with an empty group id.
func (s *Store) GroupElements(ctx context.Context, id DocumentID, elementIDs []ElementID) (Document, GroupID, error) {
	if len(elementIDs) == 0 {
		return Document{}, "", s.reject(opGroupElements, invalid("no elements to group"), id)
	}
	rawGroupID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, "", newServiceError(opGroupElements, reasonIDFailed, err)
	}
	groupID := GroupID(rawGroupID)
	requested := make(map[ElementID]struct{}, len(elementIDs))
	for _, elementID := range elementIDs {
		requested[elementID] = struct{}{}
	}
	grouped := false
	document, err := s.mutate(ctx, opGroupElements, id, func(document *Document) error {
		for index := range document.Elements {
			if _, ok := requested[document.Elements[index].ID]; ok {
				document.Elements[index].GroupID = groupID
				grouped = true
			}
		}
		if !grouped {
			return errUnchanged
		}
		return nil
	})
	if !grouped {
		return document, "", err
	}
	return document, groupID, err
}

// UngroupElements clears the group id from every element carrying it.
func (s *Store) UngroupElements(ctx context.Context, id DocumentID, groupID GroupID) (Document, error) {
	if groupID == "" {
		return Document{}, s.reject(opUngroupElements, invalid("group id is required"), id)
	}
	return s.mutate(ctx, opUngroupElements, id, func(document *Document) error {
		changed := false
		for index := range document.Elements {
			if document.Elements[index].GroupID == groupID {
				document.Elements[index].GroupID = ""
				changed = true
			}
		}
		if !changed {
			return errUnchanged
		}
		return nil
	})
}

// UpdateCanvasSettings merges the patch into the document settings.
func (s *Store) UpdateCanvasSettings(ctx context.Context, id DocumentID, patch SettingsPatch) (Document, error) {
	if err := patch.validate(); err != nil {
		return Document{}, s.reject(opUpdateSettings, err, id)
	}
	return s.mutate(ctx, opUpdateSettings, id, func(document *Document) error {
		document.Settings = patch.applyTo(document.Settings)
		return nil
	})
}

// Undo restores the state preceding the most recent mutation.
func (s *Store) Undo(ctx context.Context, id DocumentID) (Document, error) {
	return s.travel(ctx, opUndo, id, (*History).Undo)
}

// Redo reapplies the most recently undone mutation.
func (s *Store) Redo(ctx context.Context, id DocumentID) (Document, error) {
	return s.travel(ctx, opRedo, id, (*History).Redo)
}

func (s *Store) travel(ctx context.Context, operation string, id DocumentID, step func(*History, Document) (Document, error)) (Document, error) {
	entry, err := s.acquire(ctx, operation, id)
	if err != nil {
		return Document{}, err
	}
	defer entry.mu.Unlock()

	restored, err := step(entry.history, entry.document)
	if err != nil {
		return Document{}, s.reject(operation, err, id)
	}
	restored.ID = entry.document.ID
	restored.Version = entry.document.Version + 1
	restored.UpdatedAt = s.clock().UTC()
	entry.document = restored
	return s.commit(ctx, operation, entry)
}

func (s *Store) mutate(ctx context.Context, operation string, id DocumentID, change func(*Document) error) (Document, error) {
	entry, err := s.acquire(ctx, operation, id)
	if err != nil {
		return Document{}, err
	}
	defer entry.mu.Unlock()

	working, err := cloneDocument(entry.document)
	if err != nil {
		s.logError(operation, reasonSnapshotFailed, err, zap.String("document_id", id.String()))
		return Document{}, newServiceError(operation, reasonSnapshotFailed, err)
	}
	if err := change(&working); err != nil {
		if errors.Is(err, errUnchanged) {
			return entry.document, nil
		}
		return Document{}, s.reject(operation, err, id)
	}
	if err := entry.history.Record(entry.document); err != nil {
		s.logError(operation, reasonSnapshotFailed, err, zap.String("document_id", id.String()))
		return Document{}, newServiceError(operation, reasonSnapshotFailed, err)
	}
	working.ID = entry.document.ID
	working.Version = entry.document.Version + 1
	working.UpdatedAt = s.clock().UTC()
	entry.document = working
	return s.commit(ctx, operation, entry)
}

// commit persists the installed document. On persistent failure the
// in-memory document stays authoritative and is returned with the error.
func (s *Store) commit(ctx context.Context, operation string, entry *documentEntry) (Document, error) {
	if err := s.retry(ctx, func() error {
		return s.repository.SaveDocument(ctx, entry.document)
	}); err != nil {
		entry.dirty = true
		s.logError(operation, reasonSaveFailed, err,
			zap.String("document_id", entry.document.ID.String()),
			zap.Int64("version", entry.document.Version))
		return entry.document, newServiceError(operation, reasonSaveFailed, fmt.Errorf("%w: %v", ErrPersistence, err))
	}
	if entry.dirty {
		s.logger.Info("document persisted after earlier failure",
			zap.String("document_id", entry.document.ID.String()),
			zap.Int64("version", entry.document.Version))
	}
	entry.dirty = false
	return entry.document, nil
}

// acquire returns the locked, loaded entry for id. Callers must unlock it.
func (s *Store) acquire(ctx context.Context, operation string, id DocumentID) (*documentEntry, error) {
	if id == "" {
		return nil, newServiceError(operation, reasonInvalidDocumentID, invalid("empty document id"))
	}
	s.mu.Lock()
	entry, ok := s.entries[id]
	if !ok {
		entry = &documentEntry{history: NewHistory(s.historyLimit)}
		s.entries[id] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	if entry.loaded {
		return entry, nil
	}
	if err := s.load(ctx, operation, id, entry); err != nil {
		entry.mu.Unlock()
		return nil, err
	}
	return entry, nil
}

func (s *Store) load(ctx context.Context, operation string, id DocumentID, entry *documentEntry) error {
	var (
		document Document
		found    bool
	)
	err := s.retry(ctx, func() error {
		var loadErr error
		document, found, loadErr = s.repository.LoadDocument(ctx, id)
		return loadErr
	})
	if err != nil {
		s.logError(operation, reasonLoadFailed, err, zap.String("document_id", id.String()))
		return newServiceError(operation, reasonLoadFailed, fmt.Errorf("%w: %v", ErrPersistence, err))
	}
	if !found {
		document = NewDocument(id, defaultCanvasName, s.clock())
		if err := s.retry(ctx, func() error {
			return s.repository.SaveDocument(ctx, document)
		}); err != nil {
			entry.dirty = true
			s.logError(operation, reasonSaveFailed, err, zap.String("document_id", id.String()))
		}
	}
	if document.Elements == nil {
		document.Elements = []Element{}
	}
	entry.document = document
	entry.loaded = true
	return nil
}

func (s *Store) retry(ctx context.Context, operation func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), uint64(s.retries)),
		ctx,
	)
	return backoff.Retry(operation, policy)
}

func (s *Store) uniqueElementID(document Document) (ElementID, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		rawID, err := s.idProvider.NewID()
		if err != nil {
			return "", fmt.Errorf("%s: %w", reasonIDFailed, err)
		}
		candidate := ElementID(rawID)
		if document.indexOf(candidate) < 0 {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: exhausted %d attempts", reasonIDFailed, maxIDAttempts)
}

func (s *Store) reject(operation string, err error, id DocumentID) error {
	reason := reasonFor(err)
	s.logger.Debug("canvas mutation rejected",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("document_id", id.String()),
		zap.Error(err))
	return newServiceError(operation, reason, err)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("canvas store error", attrs...)
}
