package notifications

import (
	"context"
	"errors"
	"strings"

	"github.com/umshado/umshado-api/internal/apperrors"
	"go.uber.org/zap"
)

const (
	opList     = "notifications.list"
	opMarkRead = "notifications.mark_read"

	defaultListLimit = 50
	maxListLimit     = 200
)

var errMissingUserID = errors.New("user identifier is required")

// Inbox is the recipient-facing read side of the notifications table.
type Inbox struct {
	store  Store
	logger *zap.Logger
}

func NewInbox(store Store, logger *zap.Logger) (*Inbox, error) {
	if store == nil {
		return nil, errMissingStore
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Inbox{store: store, logger: logger}, nil
}

// List returns the newest notifications addressed to userID.
func (i *Inbox) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.Input(opList, "missing_user_id", errMissingUserID)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	rows, err := i.store.ListForUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		i.logger.Error("notifications query failed",
			zap.String("operation", opList),
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, apperrors.Store(opList, "query_failed", err)
	}
	return rows, nil
}

// MarkRead flips is_read on the caller's own notifications. With all set, ids are ignored.
func (i *Inbox) MarkRead(ctx context.Context, userID string, notificationIDs []string, all bool) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, apperrors.Input(opMarkRead, "missing_user_id", errMissingUserID)
	}

	var (
		updated int64
		err     error
	)
	if all {
		updated, err = i.store.MarkAllRead(ctx, userID)
	} else {
		cleaned := uniqueNonEmpty(notificationIDs)
		if len(cleaned) == 0 {
			return 0, apperrors.Input(opMarkRead, "missing_ids", errors.New("notification ids are required"))
		}
		updated, err = i.store.MarkRead(ctx, userID, cleaned)
	}
	if err != nil {
		i.logger.Error("notifications update failed",
			zap.String("operation", opMarkRead),
			zap.String("user_id", userID),
			zap.Error(err))
		return 0, apperrors.Store(opMarkRead, "update_failed", err)
	}
	return updated, nil
}
