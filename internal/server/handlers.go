package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/umshado/umshado-api/internal/messaging"
	"github.com/umshado/umshado-api/internal/notifications"
	"github.com/umshado/umshado-api/internal/quotes"
	"go.uber.org/zap"
)

const streamHeartbeatInterval = 25 * time.Second

type addOnPayload struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

type createQuotePayload struct {
	VendorID    string         `json:"vendorId"`
	PackageID   string         `json:"packageId"`
	PackageName string         `json:"packageName"`
	PricingMode string         `json:"pricingMode"`
	GuestCount  *int           `json:"guestCount"`
	Hours       *float64       `json:"hours"`
	BasePrice   *float64       `json:"basePrice"`
	AddOns      []addOnPayload `json:"addOns"`
	Notes       string         `json:"notes"`
	QuoteRef    string         `json:"quoteRef"`
}

type quoteLinkResponse struct {
	QuoteID        string `json:"quoteId"`
	ConversationID string `json:"conversationId"`
	QuoteRef       string `json:"quoteRef"`
}

func (h *httpHandler) handleCreateQuote(c *gin.Context) {
	var request createQuotePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.invalidRequest(c, "quotes.create.invalid_body", "invalid request body")
		return
	}
	if request.BasePrice == nil {
		h.invalidRequest(c, "quotes.create.missing_base_price", "basePrice is required")
		return
	}
	addOns := make([]quotes.AddOn, 0, len(request.AddOns))
	for _, addOn := range request.AddOns {
		addOns = append(addOns, quotes.AddOn{Name: addOn.Name, Price: addOn.Price})
	}

	result, err := h.quotes.CreateQuote(c.Request.Context(), quotes.CreateQuoteRequest{
		CoupleID:    c.GetString(userIDContextKey),
		VendorID:    request.VendorID,
		PackageID:   request.PackageID,
		PackageName: request.PackageName,
		PricingMode: request.PricingMode,
		GuestCount:  request.GuestCount,
		Hours:       request.Hours,
		BasePrice:   *request.BasePrice,
		AddOns:      addOns,
		Notes:       request.Notes,
		Reference:   request.QuoteRef,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quoteLinkResponse{
		QuoteID:        result.QuoteID,
		ConversationID: result.ConversationID,
		QuoteRef:       result.Reference,
	})
}

type quoteStatusPayload struct {
	QuoteID          string   `json:"quoteId"`
	Status           string   `json:"status"`
	VendorFinalPrice *float64 `json:"vendorFinalPrice"`
	VendorMessage    *string  `json:"vendorMessage"`
	ConversationID   string   `json:"conversationId"`
}

type quoteResponse struct {
	ID               string         `json:"id"`
	Reference        string         `json:"quoteRef"`
	CoupleID         string         `json:"coupleId"`
	VendorID         string         `json:"vendorId"`
	PackageID        string         `json:"packageId"`
	PackageName      string         `json:"packageName"`
	PricingMode      string         `json:"pricingMode"`
	GuestCount       *int           `json:"guestCount,omitempty"`
	Hours            *float64       `json:"hours,omitempty"`
	BasePrice        float64        `json:"basePrice"`
	AddOns           []addOnPayload `json:"addOns"`
	Notes            string         `json:"notes,omitempty"`
	VendorFinalPrice *float64       `json:"vendorFinalPrice"`
	VendorMessage    *string        `json:"vendorMessage"`
	Status           string         `json:"status"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func newQuoteResponse(quote quotes.Quote) quoteResponse {
	addOns := make([]addOnPayload, 0, len(quote.AddOns))
	for _, addOn := range quote.AddOns {
		addOns = append(addOns, addOnPayload{Name: addOn.Name, Price: addOn.Price})
	}
	return quoteResponse{
		ID:               quote.ID,
		Reference:        quote.Reference,
		CoupleID:         quote.CoupleID,
		VendorID:         quote.VendorID,
		PackageID:        quote.PackageID,
		PackageName:      quote.PackageName,
		PricingMode:      string(quote.PricingMode),
		GuestCount:       quote.GuestCount,
		Hours:            quote.Hours,
		BasePrice:        quote.BasePrice,
		AddOns:           addOns,
		Notes:            quote.Notes,
		VendorFinalPrice: quote.VendorFinalPrice,
		VendorMessage:    quote.VendorMessage,
		Status:           string(quote.Status),
		CreatedAt:        quote.CreatedAt,
		UpdatedAt:        quote.UpdatedAt,
	}
}

func (h *httpHandler) handleQuoteStatus(c *gin.Context) {
	var request quoteStatusPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.QuoteID) == "" {
		h.invalidRequest(c, "quotes.transition.invalid_body", "quoteId and status are required")
		return
	}

	quote, err := h.quotes.TransitionQuote(c.Request.Context(), quotes.TransitionRequest{
		QuoteID:       request.QuoteID,
		ActorID:       c.GetString(userIDContextKey),
		Status:        request.Status,
		FinalPrice:    request.VendorFinalPrice,
		VendorMessage: request.VendorMessage,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": newQuoteResponse(quote)})
}

type quoteLinkPayload struct {
	QuoteID string `json:"quoteId"`
}

func (h *httpHandler) handleLinkQuote(c *gin.Context) {
	var request quoteLinkPayload
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.QuoteID) == "" {
		h.invalidRequest(c, "quotes.link.invalid_body", "quoteId is required")
		return
	}
	result, err := h.quotes.LinkConversation(c.Request.Context(), request.QuoteID, c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, quoteLinkResponse{
		QuoteID:        result.QuoteID,
		ConversationID: result.ConversationID,
		QuoteRef:       result.Reference,
	})
}

type sendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	MessageText    string `json:"messageText"`
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request sendMessagePayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.invalidRequest(c, "messaging.send.invalid_body", "invalid request body")
		return
	}
	result, err := h.messages.SendMessage(c.Request.Context(), messaging.SendMessageRequest{
		ConversationID: request.ConversationID,
		SenderID:       c.GetString(userIDContextKey),
		Text:           request.MessageText,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messageId": result.MessageID, "createdAt": result.CreatedAt})
}

type messageResponse struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	QuoteRef       *string   `json:"quoteRef"`
	IsRead         bool      `json:"isRead"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	limit, ok := h.parseLimit(c)
	if !ok {
		return
	}
	messages, err := h.messages.ListMessages(c.Request.Context(), c.Query("conversationId"), c.GetString(userIDContextKey), limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]messageResponse, 0, len(messages))
	for _, message := range messages {
		response = append(response, messageResponse{
			ID:             message.ID,
			ConversationID: message.ConversationID,
			SenderID:       message.SenderID,
			Body:           message.Body,
			QuoteRef:       message.QuoteRef,
			IsRead:         message.IsRead,
			CreatedAt:      message.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"messages": response})
}

type notificationResponse struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Body      string         `json:"body"`
	Link      *string        `json:"link"`
	IsRead    bool           `json:"isRead"`
	Metadata  map[string]any `json:"metadata"`
	CreatedAt time.Time      `json:"createdAt"`
}

func newNotificationResponse(notification notifications.Notification) notificationResponse {
	metadata := map[string]any(notification.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	return notificationResponse{
		ID:        notification.ID,
		Type:      string(notification.Type),
		Title:     notification.Title,
		Body:      notification.Body,
		Link:      notification.Link,
		IsRead:    notification.IsRead,
		Metadata:  metadata,
		CreatedAt: notification.CreatedAt,
	}
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	limit, ok := h.parseLimit(c)
	if !ok {
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	rows, err := h.inbox.List(c.Request.Context(), c.GetString(userIDContextKey), unreadOnly, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	response := make([]notificationResponse, 0, len(rows))
	for _, row := range rows {
		response = append(response, newNotificationResponse(row))
	}
	c.JSON(http.StatusOK, gin.H{"notifications": response})
}

type markReadPayload struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

func (h *httpHandler) handleMarkNotificationsRead(c *gin.Context) {
	var request markReadPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.invalidRequest(c, "notifications.mark_read.invalid_body", "invalid request body")
		return
	}
	updated, err := h.inbox.MarkRead(c.Request.Context(), c.GetString(userIDContextKey), request.IDs, request.All)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

func (h *httpHandler) handlePublishVendor(c *gin.Context) {
	vendor, err := h.profiles.PublishVendor(c.Request.Context(), c.GetString(userIDContextKey))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"published": vendor.Published, "publishedAt": vendor.PublishedAt})
}

// handleNotificationStream pushes each stored notification to the recipient as a server-sent event.
func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	c.SSEvent(realtimeEventReady, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"source": realtimeSourceBackend})
			return true
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, newNotificationResponse(message.Notification))
			return true
		}
	})
	h.logger.Debug("notification stream closed", zap.String("user_id", userID))
}

func (h *httpHandler) parseLimit(c *gin.Context) (int, bool) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		h.invalidRequest(c, "server.invalid_limit", "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}
