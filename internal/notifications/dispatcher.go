package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/umshado/umshado-api/internal/ids"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const opDispatch = "notifications.dispatch"

var (
	errMissingStore      = errors.New("notification store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// Publisher receives every notification that was stored successfully.
type Publisher interface {
	PublishNotification(notification Notification)
}

// Request describes one dispatch event fanned out to every recipient.
type Request struct {
	Recipients []string
	Type       Type
	Title      string
	Body       string
	Link       string
	Metadata   map[string]any
}

// DispatchResult reports how many rows were written. Callers must not turn it into an error.
type DispatchResult struct {
	Delivered int
	Failed    int
}

type DispatcherConfig struct {
	Store      Store
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
	Publisher  Publisher
}

// Dispatcher writes one notification row per recipient and never fails its caller.
type Dispatcher struct {
	store      Store
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
	publisher  Publisher
}

func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
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
		logger = noOpLogger
	}
	return &Dispatcher{
		store:      cfg.Store,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		publisher:  cfg.Publisher,
	}, nil
}

// Dispatch inserts the notification for each distinct non-empty recipient.
// Store failures are logged and counted; they never propagate.
func (d *Dispatcher) Dispatch(ctx context.Context, request Request) DispatchResult {
	recipients := uniqueNonEmpty(request.Recipients)
	if len(recipients) == 0 {
		return DispatchResult{}
	}

	var link *string
	if trimmed := strings.TrimSpace(request.Link); trimmed != "" {
		link = &trimmed
	}

	result := DispatchResult{}
	createdAt := d.clock().UTC()
	for _, recipient := range recipients {
		notificationID, err := d.idProvider.NewID()
		if err != nil {
			result.Failed++
			d.logFailure("id_generation_failed", err, recipient, request.Type)
			continue
		}
		notification := Notification{
			ID:        notificationID,
			UserID:    recipient,
			Type:      request.Type,
			Title:     request.Title,
			Body:      request.Body,
			Link:      link,
			IsRead:    false,
			Metadata:  copyMetadata(request.Metadata),
			CreatedAt: createdAt,
		}
		if err := d.store.Insert(ctx, &notification); err != nil {
			result.Failed++
			d.logFailure("insert_failed", err, recipient, request.Type)
			continue
		}
		result.Delivered++
		if d.publisher != nil {
			d.publisher.PublishNotification(notification)
		}
	}
	return result
}

func (d *Dispatcher) logFailure(reason string, err error, recipient string, kind Type) {
	d.logger.Warn("notification dispatch failed",
		zap.String("operation", opDispatch),
		zap.String("reason", reason),
		zap.String("recipient_id", recipient),
		zap.String("type", string(kind)),
		zap.Error(err))
}

func uniqueNonEmpty(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	recipients := make([]string, 0, len(raw))
	for _, candidate := range raw {
		trimmed := strings.TrimSpace(candidate)
		if trimmed == "" {
			continue
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		recipients = append(recipients, trimmed)
	}
	return recipients
}

// copyMetadata gives every row its own map so a publisher cannot observe shared mutation.
func copyMetadata(source map[string]any) datatypes.JSONMap {
	copied := datatypes.JSONMap{}
	for key, value := range source {
		copied[key] = value
	}
	return copied
}
