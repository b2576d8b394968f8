package profiles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/umshado/umshado-api/internal/apperrors"
	"github.com/umshado/umshado-api/internal/notifications"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FallbackDisplayName is used when neither a profile nor a vendor name is known.
const FallbackDisplayName = "Someone"

const (
	opEnsureProfile = "profiles.ensure"
	opLookupVendor  = "profiles.vendor"
	opLookupCouple  = "profiles.couple"
	opPublishVendor = "profiles.publish_vendor"
)

var (
	// ErrInvalidIdentity indicates the caller did not carry a usable user id.
	ErrInvalidIdentity = errors.New("profiles: invalid identity")
	errVendorNotFound  = errors.New("vendor not found")
	errCoupleNotFound  = errors.New("couple not found")
	noOpLogger         = zap.NewNop()
)

// Notifier is the best-effort dispatch used for vendor lifecycle alerts.
type Notifier interface {
	Dispatch(ctx context.Context, request notifications.Request) notifications.DispatchResult
}

// ServiceConfig describes the dependencies required for profile lookups.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
	Notifier Notifier
}

// Service resolves display names and owns the vendor publish flow.
type Service struct {
	db       *gorm.DB
	now      func() time.Time
	logger   *zap.Logger
	notifier Notifier
	known    sync.Map
}

// NewService constructs the profile service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("profiles: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:       cfg.Database,
		now:      clock,
		logger:   logger,
		notifier: cfg.Notifier,
	}, nil
}

// EnsureProfile creates the profile row for an authenticated user on first sight.
// Existing rows only get their email and last-seen time refreshed, once per process.
func (s *Service) EnsureProfile(ctx context.Context, userID, email string) error {
	userID = normalize(userID)
	if userID == "" {
		return ErrInvalidIdentity
	}
	if _, ok := s.known.Load(userID); ok {
		return nil
	}

	var profile Profile
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&profile).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile = Profile{
			ID:         userID,
			Email:      normalize(email),
			LastSeenAt: s.now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&profile).Error; err != nil {
			// A concurrent request may have created it first.
			if lookupErr := s.db.WithContext(ctx).Where("id = ?", userID).Take(&profile).Error; lookupErr != nil {
				return apperrors.Store(opEnsureProfile, "insert_failed", err)
			}
		}
	case err != nil:
		return apperrors.Store(opEnsureProfile, "query_failed", err)
	default:
		updates := map[string]interface{}{"last_seen_at": s.now().UTC()}
		if trimmed := normalize(email); trimmed != "" && trimmed != profile.Email {
			updates["email"] = trimmed
		}
		if err := s.db.WithContext(ctx).Model(&Profile{}).Where("id = ?", userID).Updates(updates).Error; err != nil {
			s.logger.Warn("profile refresh failed",
				zap.String("operation", opEnsureProfile),
				zap.String("reason", "refresh_failed"),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}

	s.known.Store(userID, struct{}{})
	return nil
}

// DisplayName resolves the name shown to other users: profile full name,
// then vendor business name, then couple partner names, then FallbackDisplayName.
// Lookup errors fall through.
func (s *Service) DisplayName(ctx context.Context, userID string) string {
	userID = normalize(userID)
	if userID == "" {
		return FallbackDisplayName
	}

	var profile Profile
	if err := s.db.WithContext(ctx).Select("full_name").Where("id = ?", userID).Take(&profile).Error; err == nil {
		if name := normalize(profile.FullName); name != "" {
			return name
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("profile name lookup failed", zap.String("user_id", userID), zap.Error(err))
	}

	var vendor Vendor
	if err := s.db.WithContext(ctx).Select("business_name").Where("id = ?", userID).Take(&vendor).Error; err == nil {
		if name := normalize(vendor.BusinessName); name != "" {
			return name
		}
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Warn("vendor name lookup failed", zap.String("user_id", userID), zap.Error(err))
	}

	couple, err := s.Couple(ctx, userID)
	if err == nil {
		if name := couple.DisplayName(); name != "" {
			return name
		}
	} else if apperrors.KindOf(err) != apperrors.KindNotFound {
		s.logger.Warn("couple name lookup failed", zap.String("user_id", userID), zap.Error(err))
	}

	return FallbackDisplayName
}

// Vendor loads a vendor row.
func (s *Service) Vendor(ctx context.Context, vendorID string) (Vendor, error) {
	var vendor Vendor
	err := s.db.WithContext(ctx).Where("id = ?", normalize(vendorID)).Take(&vendor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Vendor{}, apperrors.NotFound(opLookupVendor, "vendor_not_found", errVendorNotFound)
	}
	if err != nil {
		return Vendor{}, apperrors.Store(opLookupVendor, "query_failed", err)
	}
	return vendor, nil
}

// Couple loads a couple row.
func (s *Service) Couple(ctx context.Context, coupleID string) (Couple, error) {
	var couple Couple
	err := s.db.WithContext(ctx).Where("id = ?", normalize(coupleID)).Take(&couple).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Couple{}, apperrors.NotFound(opLookupCouple, "couple_not_found", errCoupleNotFound)
	}
	if err != nil {
		return Couple{}, apperrors.Store(opLookupCouple, "query_failed", err)
	}
	return couple, nil
}

// PublishVendor makes a vendor listing visible. The first publish notifies the vendor.
func (s *Service) PublishVendor(ctx context.Context, vendorID string) (Vendor, error) {
	vendor, err := s.Vendor(ctx, vendorID)
	if err != nil {
		return Vendor{}, err
	}
	if vendor.Published {
		return vendor, nil
	}

	publishedAt := s.now().UTC()
	result := s.db.WithContext(ctx).
		Model(&Vendor{}).
		Where("id = ? AND published = ?", vendor.ID, false).
		Updates(map[string]interface{}{"published": true, "published_at": publishedAt})
	if result.Error != nil {
		s.logger.Error("vendor publish failed",
			zap.String("operation", opPublishVendor),
			zap.String("vendor_id", vendor.ID),
			zap.Error(result.Error))
		return Vendor{}, apperrors.Store(opPublishVendor, "update_failed", result.Error)
	}
	vendor.Published = true
	vendor.PublishedAt = &publishedAt

	// Another request won the race and already notified.
	if result.RowsAffected == 0 {
		return vendor, nil
	}

	if s.notifier != nil {
		s.notifier.Dispatch(ctx, notifications.Request{
			Recipients: []string{vendor.ID},
			Type:       notifications.TypeVendorPublished,
			Title:      "Your profile is live",
			Body:       fmt.Sprintf("%s is now visible to couples on uMshado.", vendor.BusinessName),
			Link:       "/vendor/dashboard",
			Metadata:   map[string]any{"vendor_id": vendor.ID},
		})
	}
	return vendor, nil
}
