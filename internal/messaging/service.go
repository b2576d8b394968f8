package messaging

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/umshado/umshado-api/internal/apperrors"
	"github.com/umshado/umshado-api/internal/ids"
	"github.com/umshado/umshado-api/internal/notifications"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew       = "messaging.service.new"
	opFindConversation = "messaging.conversation"
	opEnsureThread     = "messaging.find_or_create_conversation"
	opAppendMessage    = "messaging.append_message"
	opSendMessage      = "messaging.send"
	opListMessages     = "messaging.list"

	// DefaultMessageCooldown is the throttle window for message_received notifications.
	DefaultMessageCooldown = 60 * time.Second

	fallbackSender   = "Someone"
	previewLimit     = 80
	previewEllipsis  = "…"
	maxMessageRunes  = 4000
	defaultPageLimit = 100
	maxPageLimit     = 500
)

var (
	errMissingDatabase     = errors.New("database handle is required")
	errMissingIDProvider   = errors.New("id provider is required")
	errEmptyMessage        = errors.New("message text is required")
	errMessageTooLong      = errors.New("message text is too long")
	errConversationMissing = errors.New("conversation not found")
	errNotParticipant      = errors.New("user is not a participant in this conversation")
	errMissingParticipants = errors.New("couple and vendor identifiers are required")
	noOpLogger             = zap.NewNop()
)

// Notifier is the best-effort dispatch side channel.
type Notifier interface {
	Dispatch(ctx context.Context, request notifications.Request) notifications.DispatchResult
}

// Throttler suppresses repeated message_received notifications per thread.
type Throttler interface {
	ShouldThrottle(ctx context.Context, receiverID, threadID string, cooldown time.Duration) bool
	Remember(ctx context.Context, receiverID, threadID string, cooldown time.Duration)
}

// NameResolver resolves the display name of a sender.
type NameResolver interface {
	DisplayName(ctx context.Context, userID string) string
}

type ServiceConfig struct {
	Database        *gorm.DB
	Clock           func() time.Time
	IDProvider      ids.Provider
	Logger          *zap.Logger
	Notifier        Notifier
	Throttle        Throttler
	Names           NameResolver
	// MessageCooldown defaults to DefaultMessageCooldown when not positive.
	MessageCooldown time.Duration
}

// Service owns conversations and messages.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
	notifier   Notifier
	throttle   Throttler
	names      NameResolver
	cooldown   time.Duration
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.Store(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, apperrors.Store(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	cooldown := cfg.MessageCooldown
	if cooldown <= 0 {
		cooldown = DefaultMessageCooldown
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		notifier:   cfg.Notifier,
		throttle:   cfg.Throttle,
		names:      cfg.Names,
		cooldown:   cooldown,
	}, nil
}

// Conversation loads a conversation by id.
func (s *Service) Conversation(ctx context.Context, conversationID string) (Conversation, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return Conversation{}, apperrors.Input(opFindConversation, "missing_conversation_id", errConversationMissing)
	}
	var conversation Conversation
	err := s.db.WithContext(ctx).Where("id = ?", conversationID).Take(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, apperrors.NotFound(opFindConversation, "conversation_not_found", errConversationMissing)
	}
	if err != nil {
		s.logError(opFindConversation, "query_failed", err, zap.String("conversation_id", conversationID))
		return Conversation{}, apperrors.Store(opFindConversation, "query_failed", err)
	}
	return conversation, nil
}

// ConversationByPair looks up the conversation of a couple/vendor pair.
func (s *Service) ConversationByPair(ctx context.Context, coupleID, vendorID string) (Conversation, bool, error) {
	var conversation Conversation
	err := s.db.WithContext(ctx).
		Where("couple_id = ? AND vendor_id = ?", coupleID, vendorID).
		Take(&conversation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Conversation{}, false, nil
	}
	if err != nil {
		return Conversation{}, false, err
	}
	return conversation, true, nil
}

// FindOrCreateConversation returns the pair's conversation, creating it when absent.
// A failed insert is re-read once so concurrent callers converge on the row that won.
func (s *Service) FindOrCreateConversation(ctx context.Context, coupleID, vendorID string) (Conversation, error) {
	coupleID = strings.TrimSpace(coupleID)
	vendorID = strings.TrimSpace(vendorID)
	if coupleID == "" || vendorID == "" {
		return Conversation{}, apperrors.Input(opEnsureThread, "missing_participants", errMissingParticipants)
	}

	existing, found, err := s.ConversationByPair(ctx, coupleID, vendorID)
	if err != nil {
		s.logError(opEnsureThread, "query_failed", err, zap.String("couple_id", coupleID), zap.String("vendor_id", vendorID))
		return Conversation{}, apperrors.Store(opEnsureThread, "query_failed", err)
	}
	if found {
		return existing, nil
	}

	conversationID, err := s.idProvider.NewID()
	if err != nil {
		return Conversation{}, apperrors.Store(opEnsureThread, "id_generation_failed", err)
	}
	conversation := Conversation{
		ID:        conversationID,
		CoupleID:  coupleID,
		VendorID:  vendorID,
		CreatedAt: s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&conversation).Error; err != nil {
		winner, found, lookupErr := s.ConversationByPair(ctx, coupleID, vendorID)
		if lookupErr == nil && found {
			return winner, nil
		}
		s.logError(opEnsureThread, "insert_failed", err, zap.String("couple_id", coupleID), zap.String("vendor_id", vendorID))
		return Conversation{}, apperrors.Store(opEnsureThread, "insert_failed", err)
	}
	return conversation, nil
}

// AppendRequest describes a message written on behalf of a participant.
type AppendRequest struct {
	ConversationID string
	SenderID       string
	Body           string
	QuoteRef       string
}

// AppendMessage stores an unread message and bumps the conversation's last activity.
// The caller is responsible for participant checks.
func (s *Service) AppendMessage(ctx context.Context, request AppendRequest) (Message, error) {
	messageID, err := s.idProvider.NewID()
	if err != nil {
		return Message{}, apperrors.Store(opAppendMessage, "id_generation_failed", err)
	}
	createdAt := s.clock().UTC()
	message := Message{
		ID:             messageID,
		ConversationID: request.ConversationID,
		SenderID:       request.SenderID,
		Body:           request.Body,
		IsRead:         false,
		CreatedAt:      createdAt,
	}
	if ref := strings.TrimSpace(request.QuoteRef); ref != "" {
		message.QuoteRef = &ref
	}
	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logError(opAppendMessage, "insert_failed", err, zap.String("conversation_id", request.ConversationID))
		return Message{}, apperrors.Store(opAppendMessage, "insert_failed", err)
	}
	s.touchConversation(ctx, request.ConversationID, createdAt)
	return message, nil
}

// HasQuoteMessage reports whether the conversation already holds a message tagged with quoteRef.
func (s *Service) HasQuoteMessage(ctx context.Context, conversationID, quoteRef string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Where("conversation_id = ? AND quote_ref = ?", conversationID, quoteRef).
		Count(&count).Error
	return count > 0, err
}

// touchConversation bumps last_message_at. A failure leaves the stored message in place.
func (s *Service) touchConversation(ctx context.Context, conversationID string, at time.Time) {
	err := s.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message_at", at).Error
	if err != nil {
		s.logger.Warn("conversation activity update failed",
			zap.String("operation", opAppendMessage),
			zap.String("conversation_id", conversationID),
			zap.Error(err))
	}
}

// SendMessageRequest is a participant posting free text into a conversation.
type SendMessageRequest struct {
	ConversationID string
	SenderID       string
	Text           string
}

type SendMessageResult struct {
	MessageID string
	CreatedAt time.Time
}

// SendMessage validates membership, appends the message and notifies the other
// participant unless a notification for this thread went out within the cooldown.
func (s *Service) SendMessage(ctx context.Context, request SendMessageRequest) (SendMessageResult, error) {
	text := strings.TrimSpace(request.Text)
	if text == "" {
		return SendMessageResult{}, apperrors.Input(opSendMessage, "empty_message", errEmptyMessage)
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return SendMessageResult{}, apperrors.Input(opSendMessage, "message_too_long", errMessageTooLong)
	}

	conversation, err := s.Conversation(ctx, request.ConversationID)
	if err != nil {
		return SendMessageResult{}, err
	}
	if !conversation.HasParticipant(request.SenderID) {
		return SendMessageResult{}, apperrors.Forbidden(opSendMessage, "not_participant", errNotParticipant)
	}

	message, err := s.AppendMessage(ctx, AppendRequest{
		ConversationID: conversation.ID,
		SenderID:       request.SenderID,
		Body:           text,
	})
	if err != nil {
		return SendMessageResult{}, err
	}

	s.notifyReceiver(ctx, conversation, message)

	return SendMessageResult{MessageID: message.ID, CreatedAt: message.CreatedAt}, nil
}

func (s *Service) notifyReceiver(ctx context.Context, conversation Conversation, message Message) {
	if s.notifier == nil {
		return
	}
	receiverID := conversation.OtherParticipant(message.SenderID)
	if receiverID == "" {
		return
	}
	if s.throttle != nil && s.throttle.ShouldThrottle(ctx, receiverID, conversation.ID, s.cooldown) {
		s.logger.Debug("message notification throttled",
			zap.String("conversation_id", conversation.ID),
			zap.String("receiver_id", receiverID))
		return
	}

	senderName := fallbackSender
	if s.names != nil {
		senderName = s.names.DisplayName(ctx, message.SenderID)
	}

	result := s.notifier.Dispatch(ctx, notifications.Request{
		Recipients: []string{receiverID},
		Type:       notifications.TypeMessageReceived,
		Title:      "New message from " + senderName,
		Body:       Preview(message.Body),
		Link:       ConversationLink(conversation.ID),
		Metadata: map[string]any{
			notifications.MetaConversationID: conversation.ID,
			notifications.MetaSenderID:       message.SenderID,
			notifications.MetaMessageID:      message.ID,
		},
	})
	if result.Delivered > 0 && s.throttle != nil {
		s.throttle.Remember(ctx, receiverID, conversation.ID, s.cooldown)
	}
}

// ListMessages returns the newest limit messages of the conversation, oldest first.
// Only participants may read them.
func (s *Service) ListMessages(ctx context.Context, conversationID, actorID string, limit int) ([]Message, error) {
	conversation, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(actorID) {
		return nil, apperrors.Forbidden(opListMessages, "not_participant", errNotParticipant)
	}
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	var messages []Message
	if err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversation.ID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&messages).Error; err != nil {
		s.logError(opListMessages, "query_failed", err, zap.String("conversation_id", conversation.ID))
		return nil, apperrors.Store(opListMessages, "query_failed", err)
	}
	slices.Reverse(messages)
	return messages, nil
}

// Preview shortens text for notification bodies: at most 80 runes, then an ellipsis.
func Preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= previewLimit {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLimit]) + previewEllipsis
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
	s.logger.Error("messaging service error", attrs...)
}
