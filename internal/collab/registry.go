package collab

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActiveSession is the persisted liveness fact for one (document, user)
// pair. At most one row exists per pair; a rejoin replaces the connection
// identifier and timestamps rather than duplicating the row.
type ActiveSession struct {
	DocumentID     string    `gorm:"column:document_id;primaryKey;size:190;not null"`
	UserID         string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	ConnectionID   string    `gorm:"column:connection_id;size:190;not null;index"`
	JoinedAt       time.Time `gorm:"column:joined_at;not null"`
	LastSeenAt     time.Time `gorm:"column:last_seen_at;not null;index"`
	CursorPosition int       `gorm:"column:cursor_position;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (ActiveSession) TableName() string {
	return "active_sessions"
}

// SessionKey identifies one registry row.
type SessionKey struct {
	DocumentID string
	UserID     string
}

var errMissingRegistryDatabase = errors.New("collab: registry database handle is required")

// RegistryConfig describes the dependencies for the session registry.
type RegistryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Registry is the liveness ledger: the persisted mapping of (document, user)
// to active connection metadata. All mutations are single statements or
// transactions, so upsert, remove, and reap are atomic with respect to each
// other.
type Registry struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewRegistry constructs the session registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Database == nil {
		return nil, errMissingRegistryDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Registry{db: cfg.Database, clock: clock}, nil
}

// Upsert creates or replaces the unique (document, user) row, resetting join
// and liveness timestamps to now. Last caller wins.
func (r *Registry) Upsert(ctx context.Context, documentID, userID, connectionID string) (ActiveSession, error) {
	now := r.clock().UTC()
	session := ActiveSession{
		DocumentID:   documentID,
		UserID:       userID,
		ConnectionID: connectionID,
		JoinedAt:     now,
		LastSeenAt:   now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"connection_id", "joined_at", "last_seen_at"}),
	}).Create(&session).Error
	if err != nil {
		return ActiveSession{}, err
	}
	return session, nil
}

// Touch refreshes the liveness timestamp. A touch that races a concurrent
// removal finds no row; that is a no-op, not an error.
func (r *Registry) Touch(ctx context.Context, documentID, userID string) error {
	return r.db.WithContext(ctx).Model(&ActiveSession{}).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Update("last_seen_at", r.clock().UTC()).Error
}

// UpdateCursor records the last-known cursor offset and refreshes liveness.
func (r *Registry) UpdateCursor(ctx context.Context, documentID, userID string, position int) error {
	return r.db.WithContext(ctx).Model(&ActiveSession{}).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Updates(map[string]interface{}{
			"cursor_position": position,
			"last_seen_at":    r.clock().UTC(),
		}).Error
}

// Remove deletes the (document, user) row and reports whether one existed.
func (r *Registry) Remove(ctx context.Context, documentID, userID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("document_id = ? AND user_id = ?", documentID, userID).
		Delete(&ActiveSession{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// RemoveByConnection deletes the user's row only when it still belongs to
// the given connection. A user who reconnected before the old row was reaped
// keeps the replacement row.
func (r *Registry) RemoveByConnection(ctx context.Context, userID, connectionID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("user_id = ? AND connection_id = ?", userID, connectionID).
		Delete(&ActiveSession{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ListActive returns the document's rows whose liveness is within the
// staleness window, ordered by join time (user id breaks ties so the order
// is deterministic).
func (r *Registry) ListActive(ctx context.Context, documentID string, staleness time.Duration) ([]ActiveSession, error) {
	cutoff := r.clock().UTC().Add(-staleness)
	var sessions []ActiveSession
	err := r.db.WithContext(ctx).
		Where("document_id = ? AND last_seen_at > ?", documentID, cutoff).
		Order("joined_at ASC, user_id ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// ReapStale deletes every row across all documents whose liveness exceeds
// the staleness threshold, returning the deleted keys. Selection and
// deletion happen in one transaction so a row is never double-counted or
// left half-deleted.
func (r *Registry) ReapStale(ctx context.Context, staleness time.Duration) ([]SessionKey, error) {
	cutoff := r.clock().UTC().Add(-staleness)
	var reaped []SessionKey
	txErr := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []ActiveSession
		if err := tx.Where("last_seen_at <= ?", cutoff).Find(&stale).Error; err != nil {
			return err
		}
		for _, session := range stale {
			if err := tx.Where("document_id = ? AND user_id = ?", session.DocumentID, session.UserID).
				Delete(&ActiveSession{}).Error; err != nil {
				return err
			}
			reaped = append(reaped, SessionKey{DocumentID: session.DocumentID, UserID: session.UserID})
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return reaped, nil
}

// Clear removes every registry row. Called at startup: a restart orphans all
// persisted sessions because their connections died with the old process.
func (r *Registry) Clear(ctx context.Context) error {
	return r.db.WithContext(ctx).Where("1 = 1").Delete(&ActiveSession{}).Error
}
