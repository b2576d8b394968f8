package notifications

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	opShouldThrottle = "notifications.should_throttle"
	opRemember       = "notifications.remember_cooldown"
)

// CooldownMarker is an optional fast path that remembers recently notified threads.
type CooldownMarker interface {
	Active(ctx context.Context, receiverID, threadID string) (bool, error)
	Mark(ctx context.Context, receiverID, threadID string, ttl time.Duration) error
}

type ThrottleConfig struct {
	Store     Store
	Clock     func() time.Time
	Logger    *zap.Logger
	Marker CooldownMarker
}

// Throttle decides whether a message_received notification would be spam.
type Throttle struct {
	store  Store
	clock  func() time.Time
	logger *zap.Logger
	marker CooldownMarker
}

func NewThrottle(cfg ThrottleConfig) (*Throttle, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Throttle{
		store:  cfg.Store,
		clock:  clock,
		logger: logger,
		marker: cfg.Marker,
	}, nil
}

// ShouldThrottle reports whether receiverID already got a message_received
// notification for threadID within the cooldown. Lookup errors fail open.
func (t *Throttle) ShouldThrottle(ctx context.Context, receiverID, threadID string, cooldown time.Duration) bool {
	if cooldown <= 0 || receiverID == "" || threadID == "" {
		return false
	}

	if t.marker != nil {
		active, err := t.marker.Active(ctx, receiverID, threadID)
		if err != nil {
			t.logFailure(opShouldThrottle, "marker_lookup_failed", err, receiverID, threadID)
		} else if active {
			return true
		}
	}

	since := t.clock().UTC().Add(-cooldown)
	notified, err := t.store.ExistsSince(ctx, receiverID, TypeMessageReceived, MetaConversationID, threadID, since)
	if err != nil {
		t.logFailure(opShouldThrottle, "lookup_failed", err, receiverID, threadID)
		return false
	}
	return notified
}

// Remember records a dispatched notification on the cooldown marker, if one is configured.
func (t *Throttle) Remember(ctx context.Context, receiverID, threadID string, cooldown time.Duration) {
	if t.marker == nil || cooldown <= 0 {
		return
	}
	if err := t.marker.Mark(ctx, receiverID, threadID, cooldown); err != nil {
		t.logFailure(opRemember, "marker_write_failed", err, receiverID, threadID)
	}
}

func (t *Throttle) logFailure(operation, reason string, err error, receiverID, threadID string) {
	t.logger.Warn("notification throttle degraded",
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String("receiver_id", receiverID),
		zap.String("thread_id", threadID),
		zap.Error(err))
}
