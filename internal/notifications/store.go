package notifications

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var errMissingDatabase = errors.New("database handle is required")

// Store is the append-mostly access path to the notifications table.
type Store interface {
	Insert(ctx context.Context, notification *Notification) error
	ExistsSince(ctx context.Context, userID string, kind Type, metadataKey, metadataValue string, since time.Time) (bool, error)
	ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error)
	MarkRead(ctx context.Context, userID string, notificationIDs []string) (int64, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
}

// GormStore implements Store on a gorm handle.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps the provided database handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errMissingDatabase
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Insert(ctx context.Context, notification *Notification) error {
	return s.db.WithContext(ctx).Create(notification).Error
}

// ExistsSince reports whether userID has a notification of kind created at or after
// since whose metadata holds metadataValue under metadataKey.
func (s *GormStore) ExistsSince(ctx context.Context, userID string, kind Type, metadataKey, metadataValue string, since time.Time) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND type = ? AND created_at >= ?", userID, kind, since).
		Where(datatypes.JSONQuery("metadata").Equals(metadataValue, metadataKey)).
		Count(&count).Error
	return count > 0, err
}

func (s *GormStore) ListForUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	var rows []Notification
	err := query.Order("created_at DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (s *GormStore) MarkRead(ctx context.Context, userID string, notificationIDs []string) (int64, error) {
	if len(notificationIDs) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND id IN ? AND is_read = ?", userID, notificationIDs, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}

func (s *GormStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return result.RowsAffected, result.Error
}
