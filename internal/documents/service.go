package documents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the document does not exist or is not visible to
	// the caller. The two cases are deliberately indistinguishable so a
	// denied lookup does not leak the existence of private documents.
	ErrNotFound = errors.New("documents: document not found or access denied")
	// ErrAccessDenied indicates the document exists and is visible but the
	// caller lacks the required ownership.
	ErrAccessDenied = errors.New("documents: access denied")
	// ErrMissingTitle indicates a create or update without a usable title.
	ErrMissingTitle = errors.New("documents: title is required")

	errMissingDatabase   = errors.New("documents: database handle is required")
	errMissingIDProvider = errors.New("documents: id provider is required")
)

// IDProvider issues identifiers for new documents and version rows.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies for the document store service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the durable document store: CRUD, access-checked lookups,
// content overwrite, and the append-only version log. Version-number
// allocation is serialized per document; everything else relies on the
// database for atomicity.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger

	versionMu    sync.Mutex
	versionLocks map[string]*sync.Mutex
}

// NewService constructs the document store service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:           cfg.Database,
		clock:        clock,
		idProvider:   cfg.IDProvider,
		logger:       logger,
		versionLocks: make(map[string]*sync.Mutex),
	}, nil
}

// CreateParams carries the fields for a new document.
type CreateParams struct {
	OwnerID  string
	Title    string
	Content  string
	IsPublic bool
}

// Create stores a new document and its initial version row (version 1).
func (s *Service) Create(ctx context.Context, params CreateParams) (Document, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return Document{}, ErrMissingTitle
	}

	documentID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, err
	}
	versionID, err := s.idProvider.NewID()
	if err != nil {
		return Document{}, err
	}

	now := s.clock().UTC()
	document := Document{
		ID:        documentID,
		Title:     title,
		Content:   params.Content,
		OwnerID:   params.OwnerID,
		IsPublic:  params.IsPublic,
		UpdatedAt: now,
	}
	initial := DocumentVersion{
		ID:            versionID,
		DocumentID:    documentID,
		VersionNumber: 1,
		Content:       params.Content,
		AuthorID:      params.OwnerID,
		Description:   DescriptionCreated,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&document).Error; err != nil {
			return err
		}
		return tx.Create(&initial).Error
	})
	if txErr != nil {
		s.logError("documents.create", txErr, zap.String("owner_id", params.OwnerID))
		return Document{}, txErr
	}
	return document, nil
}

// GetForAccess returns the document joined with its owner's username when
// the caller owns it or it is public, and ErrNotFound otherwise.
func (s *Service) GetForAccess(ctx context.Context, documentID, userID string) (AccessView, error) {
	var view AccessView
	err := s.db.WithContext(ctx).
		Table("documents").
		Select("documents.id, documents.title, documents.current_content, documents.owner_id, documents.is_public, documents.created_at, documents.updated_at, users.username AS owner_username").
		Joins("JOIN users ON users.id = documents.owner_id").
		Where("documents.id = ? AND (documents.owner_id = ? OR documents.is_public = ?)", documentID, userID, true).
		Take(&view).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AccessView{}, ErrNotFound
	}
	if err != nil {
		s.logError("documents.get_for_access", err, zap.String("document_id", documentID))
		return AccessView{}, err
	}
	return view, nil
}

// List returns every document the user owns plus every public document,
// newest activity first, with owner usernames and version counts.
func (s *Service) List(ctx context.Context, userID string) ([]Summary, error) {
	var summaries []Summary
	err := s.db.WithContext(ctx).
		Table("documents").
		Select("documents.id, documents.title, documents.owner_id, documents.is_public, documents.created_at, documents.updated_at, users.username AS owner_username, (SELECT COUNT(*) FROM document_versions WHERE document_versions.document_id = documents.id) AS version_count").
		Joins("JOIN users ON users.id = documents.owner_id").
		Where("documents.owner_id = ? OR documents.is_public = ?", userID, true).
		Order("documents.updated_at DESC").
		Find(&summaries).Error
	if err != nil {
		s.logError("documents.list", err, zap.String("user_id", userID))
		return nil, err
	}
	return summaries, nil
}

// UpdateParams carries the optional fields of a document update. Nil fields
// are left unchanged.
type UpdateParams struct {
	Title    *string
	Content  *string
	IsPublic *bool
}

// Update applies an owner-only partial update. A content change appends a
// version row describing the update.
func (s *Service) Update(ctx context.Context, documentID, userID string, params UpdateParams) (Document, error) {
	var existing Document
	err := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", documentID, userID).
		Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		s.logError("documents.update", err, zap.String("document_id", documentID))
		return Document{}, err
	}

	updates := map[string]interface{}{}
	if params.Title != nil {
		title := strings.TrimSpace(*params.Title)
		if title == "" {
			return Document{}, ErrMissingTitle
		}
		updates["title"] = title
		existing.Title = title
	}
	if params.Content != nil {
		updates["current_content"] = *params.Content
	}
	if params.IsPublic != nil {
		updates["is_public"] = *params.IsPublic
		existing.IsPublic = *params.IsPublic
	}
	if len(updates) == 0 {
		return existing, nil
	}

	now := s.clock().UTC()
	updates["updated_at"] = now
	if err := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", documentID).
		Updates(updates).Error; err != nil {
		s.logError("documents.update", err, zap.String("document_id", documentID))
		return Document{}, err
	}
	existing.UpdatedAt = now

	if params.Content != nil && *params.Content != existing.Content {
		existing.Content = *params.Content
		if _, err := s.CreateVersion(ctx, documentID, *params.Content, userID, DescriptionUpdated); err != nil {
			return Document{}, err
		}
	}
	return existing, nil
}

// Delete removes an owner's document. ErrNotFound covers both a missing
// document and one owned by someone else.
func (s *Service) Delete(ctx context.Context, documentID, userID string) error {
	result := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", documentID, userID).
		Delete(&Document{})
	if result.Error != nil {
		s.logError("documents.delete", result.Error, zap.String("document_id", documentID))
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetContent overwrites the document's current content. This is the
// last-writer-wins point: concurrent writers overwrite each other in arrival
// order, with no merge.
func (s *Service) SetContent(ctx context.Context, documentID, content string) error {
	err := s.db.WithContext(ctx).Model(&Document{}).
		Where("id = ?", documentID).
		Updates(map[string]interface{}{
			"current_content": content,
			"updated_at":      s.clock().UTC(),
		}).Error
	if err != nil {
		s.logError("documents.set_content", err, zap.String("document_id", documentID))
	}
	return err
}

// CreateVersion allocates the next version number for the document and
// appends a version row, returning the allocated number. Allocation holds a
// per-document critical section around the read-max-then-insert transaction,
// so concurrent saves receive distinct consecutive numbers.
func (s *Service) CreateVersion(ctx context.Context, documentID, content, authorID, description string) (int64, error) {
	versionID, err := s.idProvider.NewID()
	if err != nil {
		return 0, err
	}

	lock := s.lockForDocument(documentID)
	lock.Lock()
	defer lock.Unlock()

	var allocated int64
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current int64
		if err := tx.Model(&DocumentVersion{}).
			Where("document_id = ?", documentID).
			Select("COALESCE(MAX(version_number), 0)").
			Scan(&current).Error; err != nil {
			return err
		}
		allocated = current + 1
		return tx.Create(&DocumentVersion{
			ID:            versionID,
			DocumentID:    documentID,
			VersionNumber: allocated,
			Content:       content,
			AuthorID:      authorID,
			Description:   description,
		}).Error
	})
	if txErr != nil {
		s.logError("documents.create_version", txErr, zap.String("document_id", documentID))
		return 0, txErr
	}
	return allocated, nil
}

// Versions returns the version history, newest first. The caller must own
// the document or it must be public; unlike GetForAccess the two failure
// modes are distinguished because the existence of the document has already
// been established by the 404 branch.
func (s *Service) Versions(ctx context.Context, documentID, userID string) ([]VersionSummary, error) {
	var document Document
	err := s.db.WithContext(ctx).Where("id = ?", documentID).Take(&document).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logError("documents.versions", err, zap.String("document_id", documentID))
		return nil, err
	}
	if document.OwnerID != userID && !document.IsPublic {
		return nil, ErrAccessDenied
	}

	var versions []VersionSummary
	err = s.db.WithContext(ctx).
		Table("document_versions").
		Select("document_versions.id, document_versions.version_number, document_versions.change_description, document_versions.created_by, document_versions.created_at, users.username AS author_username").
		Joins("JOIN users ON users.id = document_versions.created_by").
		Where("document_versions.document_id = ?", documentID).
		Order("document_versions.version_number DESC").
		Find(&versions).Error
	if err != nil {
		s.logError("documents.versions", err, zap.String("document_id", documentID))
		return nil, err
	}
	return versions, nil
}

// CountOwned returns how many documents the user owns.
func (s *Service) CountOwned(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&Document{}).
		Where("owner_id = ?", userID).
		Count(&count).Error
	if err != nil {
		s.logError("documents.count_owned", err, zap.String("user_id", userID))
		return 0, err
	}
	return count, nil
}

func (s *Service) lockForDocument(documentID string) *sync.Mutex {
	s.versionMu.Lock()
	defer s.versionMu.Unlock()
	lock, ok := s.versionLocks[documentID]
	if !ok {
		lock = &sync.Mutex{}
		s.versionLocks[documentID] = lock
	}
	return lock
}

func (s *Service) logError(operation string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{zap.String("operation", operation), zap.Error(err)}, fields...)
	s.logger.Error("documents service error", attrs...)
}
