package quotes

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/umshado/umshado-api/internal/apperrors"
	"github.com/umshado/umshado-api/internal/ids"
	"github.com/umshado/umshado-api/internal/messaging"
	"github.com/umshado/umshado-api/internal/notifications"
	"github.com/umshado/umshado-api/internal/profiles"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	opServiceNew   = "quotes.service.new"
	opCreateQuote  = "quotes.create"
	opTransition   = "quotes.transition"
	opLinkQuote    = "quotes.link"
	opLoadQuote    = "quotes.load"
	opConversion   = "quotes.conversion"
	maxNotesRunes  = 2000
	maxVendorRunes = 2000
)

var (
	errMissingDatabase      = errors.New("database handle is required")
	errMissingIDProvider    = errors.New("id provider is required")
	errMissingConversations = errors.New("conversation service is required")
	errMissingDirectory     = errors.New("profile directory is required")
	errMissingVendor        = errors.New("vendor id is required")
	errMissingPackage       = errors.New("package id and name are required")
	errMissingReference     = errors.New("quote reference is required")
	errMissingActor         = errors.New("actor id is required")
	errSelfQuote            = errors.New("a vendor cannot request a quote from itself")
	errNegativePrice        = errors.New("prices must be non-negative numbers")
	errDuplicateReference   = errors.New("quote reference already exists")
	errQuoteNotFound        = errors.New("quote not found")
	errNotParticipant       = errors.New("actor is not a party to this quote")
	errStatusChanged        = errors.New("quote status changed concurrently")
	errTextTooLong          = errors.New("text is too long")
	noOpLogger              = zap.NewNop()
)

// Conversations is the slice of the messaging service the quote workflow writes through.
type Conversations interface {
	FindOrCreateConversation(ctx context.Context, coupleID, vendorID string) (messaging.Conversation, error)
	AppendMessage(ctx context.Context, request messaging.AppendRequest) (messaging.Message, error)
	HasQuoteMessage(ctx context.Context, conversationID, quoteRef string) (bool, error)
}

// Directory resolves vendors and display names.
type Directory interface {
	Vendor(ctx context.Context, vendorID string) (profiles.Vendor, error)
	DisplayName(ctx context.Context, userID string) string
}

// Notifier is the best-effort dispatch side channel.
type Notifier interface {
	Dispatch(ctx context.Context, request notifications.Request) notifications.DispatchResult
}

type ServiceConfig struct {
	Database      *gorm.DB
	Clock         func() time.Time
	IDProvider    ids.Provider
	Logger        *zap.Logger
	Conversations Conversations
	Directory     Directory
	Notifier      Notifier
}

// Service runs the quote lifecycle: creation, conversation linkage and status transitions.
type Service struct {
	db            *gorm.DB
	clock         func() time.Time
	idProvider    ids.Provider
	logger        *zap.Logger
	conversations Conversations
	directory     Directory
	notifier      Notifier
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.Store(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperrors.Store(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	if cfg.Conversations == nil {
		return nil, apperrors.Store(opServiceNew, "missing_conversations", errMissingConversations)
	}
	if cfg.Directory == nil {
		return nil, apperrors.Store(opServiceNew, "missing_directory", errMissingDirectory)
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
		db:            cfg.Database,
		clock:         clock,
		idProvider:    cfg.IDProvider,
		logger:        logger,
		conversations: cfg.Conversations,
		directory:     cfg.Directory,
		notifier:      cfg.Notifier,
	}, nil
}

// CreateQuoteRequest is a couple asking a vendor to price a package.
type CreateQuoteRequest struct {
	CoupleID    string
	VendorID    string
	PackageID   string
	PackageName string
	PricingMode string
	GuestCount  *int
	Hours       *float64
	BasePrice   float64
	AddOns      []AddOn
	Notes       string
	Reference   string
}

type CreateQuoteResult struct {
	QuoteID        string
	ConversationID string
	Reference      string
}

// CreateQuote writes the quote, links it to the pair's conversation with a summary
// message and notifies both parties. Writes are ordered quote, conversation, message,
// notification; a failure after the quote insert is reported as a partial failure.
func (s *Service) CreateQuote(ctx context.Context, request CreateQuoteRequest) (CreateQuoteResult, error) {
	quote, err := s.buildQuote(request)
	if err != nil {
		return CreateQuoteResult{}, err
	}
	if _, err := s.directory.Vendor(ctx, quote.VendorID); err != nil {
		return CreateQuoteResult{}, err
	}

	taken, err := s.referenceTaken(ctx, quote.Reference)
	if err != nil {
		s.logError(opCreateQuote, "reference_lookup_failed", err, zap.String("quote_ref", quote.Reference))
		return CreateQuoteResult{}, apperrors.Store(opCreateQuote, "reference_lookup_failed", err)
	}
	if taken {
		return CreateQuoteResult{}, apperrors.Input(opCreateQuote, "duplicate_reference", errDuplicateReference)
	}

	if err := s.db.WithContext(ctx).Create(&quote).Error; err != nil {
		// A concurrent create may have claimed the reference after the check above.
		if taken, lookupErr := s.referenceTaken(ctx, quote.Reference); lookupErr == nil && taken {
			return CreateQuoteResult{}, apperrors.Input(opCreateQuote, "duplicate_reference", errDuplicateReference)
		}
		s.logError(opCreateQuote, "insert_failed", err, zap.String("quote_ref", quote.Reference))
		return CreateQuoteResult{}, apperrors.Store(opCreateQuote, "insert_failed", err)
	}

	return s.linkConversation(ctx, opCreateQuote, quote)
}

func (s *Service) referenceTaken(ctx context.Context, reference string) (bool, error) {
	var existing int64
	err := s.db.WithContext(ctx).Model(&Quote{}).Where("reference = ?", reference).Count(&existing).Error
	return existing > 0, err
}

func (s *Service) buildQuote(request CreateQuoteRequest) (Quote, error) {
	coupleID := strings.TrimSpace(request.CoupleID)
	vendorID := strings.TrimSpace(request.VendorID)
	packageID := strings.TrimSpace(request.PackageID)
	packageName := strings.TrimSpace(request.PackageName)
	reference := strings.TrimSpace(request.Reference)
	notes := strings.TrimSpace(request.Notes)

	switch {
	case coupleID == "":
		return Quote{}, apperrors.Input(opCreateQuote, "missing_actor", errMissingActor)
	case vendorID == "":
		return Quote{}, apperrors.Input(opCreateQuote, "missing_vendor", errMissingVendor)
	case packageID == "" || packageName == "":
		return Quote{}, apperrors.Input(opCreateQuote, "missing_package", errMissingPackage)
	case reference == "":
		return Quote{}, apperrors.Input(opCreateQuote, "missing_reference", errMissingReference)
	case coupleID == vendorID:
		return Quote{}, apperrors.Input(opCreateQuote, "self_quote", errSelfQuote)
	case !validPrice(request.BasePrice):
		return Quote{}, apperrors.Input(opCreateQuote, "invalid_base_price", errNegativePrice)
	case utf8.RuneCountInString(notes) > maxNotesRunes:
		return Quote{}, apperrors.Input(opCreateQuote, "notes_too_long", errTextTooLong)
	}
	mode, err := ParsePricingMode(request.PricingMode)
	if err != nil {
		return Quote{}, apperrors.Input(opCreateQuote, "invalid_pricing_mode", err)
	}
	if request.GuestCount != nil && *request.GuestCount < 0 {
		return Quote{}, apperrors.Input(opCreateQuote, "invalid_guest_count", errNegativePrice)
	}
	if request.Hours != nil && !validPrice(*request.Hours) {
		return Quote{}, apperrors.Input(opCreateQuote, "invalid_hours", errNegativePrice)
	}

	addOns := make(datatypes.JSONSlice[AddOn], 0, len(request.AddOns))
	for _, addOn := range request.AddOns {
		name := strings.TrimSpace(addOn.Name)
		if name == "" {
			continue
		}
		if !validPrice(addOn.Price) {
			return Quote{}, apperrors.Input(opCreateQuote, "invalid_add_on_price", errNegativePrice)
		}
		addOns = append(addOns, AddOn{Name: name, Price: addOn.Price})
	}

	quoteID, err := s.idProvider.NewID()
	if err != nil {
		return Quote{}, apperrors.Store(opCreateQuote, "id_generation_failed", err)
	}
	now := s.clock().UTC()
	return Quote{
		ID:          quoteID,
		Reference:   reference,
		CoupleID:    coupleID,
		VendorID:    vendorID,
		PackageID:   packageID,
		PackageName: packageName,
		PricingMode: mode,
		GuestCount:  request.GuestCount,
		Hours:       request.Hours,
		BasePrice:   request.BasePrice,
		AddOns:      addOns,
		Notes:       notes,
		Status:      StatusRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// LinkConversation retries the conversation linkage of an existing quote. The summary
// message is appended only when the conversation holds no message tagged with the reference.
func (s *Service) LinkConversation(ctx context.Context, quoteID, actorID string) (CreateQuoteResult, error) {
	quote, err := s.Quote(ctx, quoteID)
	if err != nil {
		return CreateQuoteResult{}, err
	}
	if roleOf(quote, strings.TrimSpace(actorID)) == "" {
		return CreateQuoteResult{}, apperrors.Forbidden(opLinkQuote, "not_participant", errNotParticipant)
	}
	return s.linkConversation(ctx, opLinkQuote, quote)
}

func (s *Service) linkConversation(ctx context.Context, operation string, quote Quote) (CreateQuoteResult, error) {
	result := CreateQuoteResult{QuoteID: quote.ID, Reference: quote.Reference}

	conversation, err := s.conversations.FindOrCreateConversation(ctx, quote.CoupleID, quote.VendorID)
	if err != nil {
		s.logError(operation, "conversation_failed", err, zap.String("quote_id", quote.ID))
		return result, apperrors.Partial(operation, "conversation_failed", err, quote.ID, "")
	}
	result.ConversationID = conversation.ID

	tagged, err := s.conversations.HasQuoteMessage(ctx, conversation.ID, quote.Reference)
	if err != nil {
		s.logError(operation, "message_lookup_failed", err, zap.String("quote_id", quote.ID))
		return result, apperrors.Partial(operation, "message_lookup_failed", err, quote.ID, conversation.ID)
	}
	if tagged {
		return result, nil
	}

	if _, err := s.conversations.AppendMessage(ctx, messaging.AppendRequest{
		ConversationID: conversation.ID,
		SenderID:       quote.CoupleID,
		Body:           summaryMessage(quote),
		QuoteRef:       quote.Reference,
	}); err != nil {
		s.logError(operation, "message_failed", err, zap.String("quote_id", quote.ID), zap.String("conversation_id", conversation.ID))
		return result, apperrors.Partial(operation, "message_failed", err, quote.ID, conversation.ID)
	}

	s.notifyCreated(ctx, quote, conversation.ID)
	return result, nil
}

func (s *Service) notifyCreated(ctx context.Context, quote Quote, conversationID string) {
	if s.notifier == nil {
		return
	}
	coupleName := s.directory.DisplayName(ctx, quote.CoupleID)
	vendorName := s.directory.DisplayName(ctx, quote.VendorID)
	link := messaging.ConversationLink(conversationID)
	metadata := map[string]any{
		notifications.MetaQuoteID:        quote.ID,
		notifications.MetaQuoteRef:       quote.Reference,
		notifications.MetaConversationID: conversationID,
	}

	s.notifier.Dispatch(ctx, notifications.Request{
		Recipients: []string{quote.VendorID},
		Type:       notifications.TypeQuoteCreated,
		Title:      "New quote request",
		Body:       coupleName + " requested a quote for " + quote.PackageName + " (" + quote.Reference + ").",
		Link:       link,
		Metadata:   metadata,
	})
	s.notifier.Dispatch(ctx, notifications.Request{
		Recipients: []string{quote.CoupleID},
		Type:       notifications.TypeQuoteCreated,
		Title:      "Quote request sent",
		Body:       "Your request for " + quote.PackageName + " was sent to " + vendorName + ".",
		Link:       link,
		Metadata:   metadata,
	})
}

// Quote loads a quote by id.
func (s *Service) Quote(ctx context.Context, quoteID string) (Quote, error) {
	quoteID = strings.TrimSpace(quoteID)
	if quoteID == "" {
		return Quote{}, apperrors.Input(opLoadQuote, "missing_quote_id", errQuoteNotFound)
	}
	var quote Quote
	err := s.db.WithContext(ctx).Where("id = ?", quoteID).Take(&quote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Quote{}, apperrors.NotFound(opLoadQuote, "quote_not_found", errQuoteNotFound)
	}
	if err != nil {
		s.logError(opLoadQuote, "query_failed", err, zap.String("quote_id", quoteID))
		return Quote{}, apperrors.Store(opLoadQuote, "query_failed", err)
	}
	return quote, nil
}

// TransitionRequest moves a quote to a new status on behalf of one of its parties.
// FinalPrice and VendorMessage are honoured only when the actor is the vendor.
type TransitionRequest struct {
	QuoteID       string
	ActorID       string
	Status        string
	FinalPrice    *float64
	VendorMessage *string
}

// TransitionQuote applies a status change, appends the matching chat message and
// notifies the counterparty. Repeating the current status without changes is a no-op.
func (s *Service) TransitionQuote(ctx context.Context, request TransitionRequest) (Quote, error) {
	next, err := ParseTargetStatus(request.Status)
	if err != nil {
		return Quote{}, apperrors.Input(opTransition, "invalid_status", err)
	}
	quote, err := s.Quote(ctx, request.QuoteID)
	if err != nil {
		return Quote{}, err
	}
	role := roleOf(quote, strings.TrimSpace(request.ActorID))
	if role == "" {
		return Quote{}, apperrors.Forbidden(opTransition, "not_participant", errNotParticipant)
	}

	var finalPrice *float64
	var vendorMessage *string
	if role == RoleVendor {
		if request.FinalPrice != nil {
			if !validPrice(*request.FinalPrice) {
				return Quote{}, apperrors.Input(opTransition, "invalid_final_price", errNegativePrice)
			}
			price := *request.FinalPrice
			finalPrice = &price
		}
		if request.VendorMessage != nil {
			text := strings.TrimSpace(*request.VendorMessage)
			if utf8.RuneCountInString(text) > maxVendorRunes {
				return Quote{}, apperrors.Input(opTransition, "vendor_message_too_long", errTextTooLong)
			}
			if text != "" {
				vendorMessage = &text
			}
		}
	}

	if err := checkTransition(quote.Status, role, next); err != nil {
		if errors.Is(err, errWrongRole) {
			return Quote{}, apperrors.Forbidden(opTransition, "role_not_allowed", err)
		}
		if next == quote.Status {
			return quote, nil
		}
		return Quote{}, apperrors.Input(opTransition, "transition_not_allowed", err)
	}
	if next == quote.Status && !revises(quote, finalPrice, vendorMessage) {
		return quote, nil
	}

	previous := quote
	now := s.clock().UTC()
	updates := map[string]any{
		"status":     next,
		"updated_at": now,
	}
	if finalPrice != nil {
		updates["vendor_final_price"] = *finalPrice
		quote.VendorFinalPrice = finalPrice
	}
	if vendorMessage != nil {
		updates["vendor_message"] = *vendorMessage
		quote.VendorMessage = vendorMessage
	}
	update := s.db.WithContext(ctx).
		Model(&Quote{}).
		Where("id = ? AND status = ?", quote.ID, previous.Status).
		Updates(updates)
	if update.Error != nil {
		s.logError(opTransition, "update_failed", update.Error, zap.String("quote_id", quote.ID))
		return Quote{}, apperrors.Store(opTransition, "update_failed", update.Error)
	}
	if update.RowsAffected == 0 {
		return Quote{}, apperrors.Input(opTransition, "status_changed", errStatusChanged)
	}
	quote.Status = next
	quote.UpdatedAt = now

	conversationID := s.appendStatusMessage(ctx, quote, role, finalPrice != nil)
	if next == StatusAccepted {
		s.recordConversion(ctx, quote, finalPrice, previous.VendorFinalPrice)
	}
	s.notifyTransition(ctx, quote, role, conversationID)
	return quote, nil
}

// revises reports whether a repeated status carries new vendor pricing or wording.
func revises(quote Quote, finalPrice *float64, vendorMessage *string) bool {
	if finalPrice != nil && (quote.VendorFinalPrice == nil || *quote.VendorFinalPrice != *finalPrice) {
		return true
	}
	if vendorMessage != nil && (quote.VendorMessage == nil || *quote.VendorMessage != *vendorMessage) {
		return true
	}
	return false
}

// appendStatusMessage posts the transition into the pair's conversation and returns its id.
// Failures are logged; the status change already stands.
func (s *Service) appendStatusMessage(ctx context.Context, quote Quote, role Role, finalPriceSet bool) string {
	conversation, err := s.conversations.FindOrCreateConversation(ctx, quote.CoupleID, quote.VendorID)
	if err != nil {
		s.logger.Warn("quote conversation lookup failed",
			zap.String("operation", opTransition),
			zap.String("quote_id", quote.ID),
			zap.Error(err))
		return ""
	}
	text, ok := statusChatMessage(quote, role, finalPriceSet)
	if !ok {
		return conversation.ID
	}
	senderID := quote.CoupleID
	if role == RoleVendor {
		senderID = quote.VendorID
	}
	if _, err := s.conversations.AppendMessage(ctx, messaging.AppendRequest{
		ConversationID: conversation.ID,
		SenderID:       senderID,
		Body:           text,
		QuoteRef:       quote.Reference,
	}); err != nil {
		s.logger.Warn("quote status message failed",
			zap.String("operation", opTransition),
			zap.String("quote_id", quote.ID),
			zap.String("conversation_id", conversation.ID),
			zap.Error(err))
	}
	return conversation.ID
}

// recordConversion writes the accepted-quote row used for vendor reporting. Best effort.
func (s *Service) recordConversion(ctx context.Context, quote Quote, finalPrice, priorFinalPrice *float64) {
	amount := 0.0
	switch {
	case finalPrice != nil:
		amount = *finalPrice
	case priorFinalPrice != nil:
		amount = *priorFinalPrice
	}
	conversionID, err := s.idProvider.NewID()
	if err != nil {
		s.logger.Warn("quote conversion skipped", zap.String("operation", opConversion), zap.Error(err))
		return
	}
	conversion := Conversion{
		ID:        conversionID,
		QuoteID:   quote.ID,
		VendorID:  quote.VendorID,
		CoupleID:  quote.CoupleID,
		Amount:    amount,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&conversion).Error; err != nil {
		s.logger.Warn("quote conversion failed",
			zap.String("operation", opConversion),
			zap.String("quote_id", quote.ID),
			zap.Error(err))
	}
}

func (s *Service) notifyTransition(ctx context.Context, quote Quote, role Role, conversationID string) {
	if s.notifier == nil {
		return
	}
	notice, ok := statusNotices[noticeKey{role: role, status: quote.Status}]
	if !ok {
		return
	}
	recipient := quote.VendorID
	actorID := quote.CoupleID
	if role == RoleVendor {
		recipient = quote.CoupleID
		actorID = quote.VendorID
	}
	title, body := notice(quote, s.directory.DisplayName(ctx, actorID))

	metadata := map[string]any{
		notifications.MetaQuoteID:  quote.ID,
		notifications.MetaQuoteRef: quote.Reference,
		notifications.MetaStatus:   string(quote.Status),
	}
	link := ""
	if conversationID != "" {
		metadata[notifications.MetaConversationID] = conversationID
		link = messaging.ConversationLink(conversationID)
	}
	s.notifier.Dispatch(ctx, notifications.Request{
		Recipients: []string{recipient},
		Type:       notifications.TypeQuoteStatusUpdated,
		Title:      title,
		Body:       body,
		Link:       link,
		Metadata:   metadata,
	})
}

func validPrice(value float64) bool {
	return value >= 0 && !math.IsNaN(value) && !math.IsInf(value, 0)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("quote service error", attrs...)
}
