package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/umshado/umshado-api/internal/apperrors"
	"github.com/umshado/umshado-api/internal/auth"
	"github.com/umshado/umshado-api/internal/messaging"
	"github.com/umshado/umshado-api/internal/notifications"
	"github.com/umshado/umshado-api/internal/profiles"
	"github.com/umshado/umshado-api/internal/quotes"
	"go.uber.org/zap"
)

const (
	userIDContextKey    = "umshado_user_id"
	userEmailContextKey = "umshado_user_email"
)

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingProfiles       = errors.New("profile service dependency required")
	errMissingQuotes         = errors.New("quote service dependency required")
	errMissingMessages       = errors.New("message service dependency required")
	errMissingInbox          = errors.New("notification inbox dependency required")
	errMissingRealtime       = errors.New("realtime dispatcher dependency required")
)

type TokenValidator interface {
	ValidateRequest(r *http.Request) (auth.AccessClaims, error)
}

type ProfileService interface {
	EnsureProfile(ctx context.Context, userID, email string) error
	PublishVendor(ctx context.Context, vendorID string) (profiles.Vendor, error)
}

type QuoteService interface {
	CreateQuote(ctx context.Context, request quotes.CreateQuoteRequest) (quotes.CreateQuoteResult, error)
	TransitionQuote(ctx context.Context, request quotes.TransitionRequest) (quotes.Quote, error)
	LinkConversation(ctx context.Context, quoteID, actorID string) (quotes.CreateQuoteResult, error)
}

type MessageService interface {
	SendMessage(ctx context.Context, request messaging.SendMessageRequest) (messaging.SendMessageResult, error)
	ListMessages(ctx context.Context, conversationID, actorID string, limit int) ([]messaging.Message, error)
}

type NotificationInbox interface {
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]notifications.Notification, error)
	MarkRead(ctx context.Context, userID string, notificationIDs []string, all bool) (int64, error)
}

type Dependencies struct {
	Tokens         TokenValidator
	Profiles       ProfileService
	Quotes         QuoteService
	Messages       MessageService
	Inbox          NotificationInbox
	Realtime       *RealtimeDispatcher
	Logger         *zap.Logger
	AllowedOrigins []string
	RateLimit      RateLimitConfig
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Profiles == nil {
		return nil, errMissingProfiles
	}
	if deps.Quotes == nil {
		return nil, errMissingQuotes
	}
	if deps.Messages == nil {
		return nil, errMissingMessages
	}
	if deps.Inbox == nil {
		return nil, errMissingInbox
	}
	if deps.Realtime == nil {
		return nil, errMissingRealtime
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		tokens:   deps.Tokens,
		profiles: deps.Profiles,
		quotes:   deps.Quotes,
		messages: deps.Messages,
		inbox:    deps.Inbox,
		realtime: deps.Realtime,
		logger:   logger,
	}
	limiter := newUserRateLimiter(deps.RateLimit, time.Now)

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notifications/stream", handler.handleNotificationStream)

	limited := protected.Group("/")
	limited.Use(limiter.middleware)
	limited.POST("/quotes/create", handler.handleCreateQuote)
	limited.POST("/quotes/status", handler.handleQuoteStatus)
	limited.POST("/quotes/link", handler.handleLinkQuote)
	limited.POST("/messages/send", handler.handleSendMessage)
	limited.GET("/messages", handler.handleListMessages)
	limited.GET("/notifications", handler.handleListNotifications)
	limited.POST("/notifications/read", handler.handleMarkNotificationsRead)
	limited.POST("/vendors/publish", handler.handlePublishVendor)

	return router, nil
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type", "Last-Event-ID"},
		MaxAge:       12 * time.Hour,
	}
	if len(allowedOrigins) == 0 || containsWildcard(allowedOrigins) {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if strings.TrimSpace(origin) == "*" {
			return true
		}
	}
	return false
}

type httpHandler struct {
	tokens   TokenValidator
	profiles ProfileService
	quotes   QuoteService
	messages MessageService
	inbox    NotificationInbox
	realtime *RealtimeDispatcher
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrMissingToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "auth.invalid_token"})
		return
	}
	userID := claims.UserID()
	if err := h.profiles.EnsureProfile(c.Request.Context(), userID, claims.Email); err != nil {
		h.logger.Warn("profile ensure failed", zap.String("user_id", userID), zap.Error(err))
	}
	c.Set(userIDContextKey, userID)
	c.Set(userEmailContextKey, claims.Email)
	c.Next()
}

// respondError maps service failures onto the {error, code} response shape.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	failure, ok := apperrors.As(err)
	if !ok {
		h.logger.Error("unclassified request failure", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "server.internal"})
		return
	}

	body := gin.H{"code": failure.Code()}
	status := http.StatusInternalServerError
	switch failure.Kind() {
	case apperrors.KindInput:
		status = http.StatusBadRequest
		body["error"] = causeMessage(failure)
	case apperrors.KindAuth:
		status = http.StatusUnauthorized
		body["error"] = "unauthorized"
	case apperrors.KindForbidden:
		status = http.StatusForbidden
		body["error"] = causeMessage(failure)
	case apperrors.KindNotFound:
		status = http.StatusNotFound
		body["error"] = causeMessage(failure)
	case apperrors.KindPartial:
		body["error"] = "request partially completed"
		if failure.QuoteID != "" {
			body["quoteId"] = failure.QuoteID
		}
		if failure.ConversationID != "" {
			body["conversationId"] = failure.ConversationID
		}
	default:
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}

func causeMessage(failure *apperrors.Error) string {
	if cause := failure.Unwrap(); cause != nil {
		return cause.Error()
	}
	return failure.Code()
}

func (h *httpHandler) invalidRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message, "code": code})
}
