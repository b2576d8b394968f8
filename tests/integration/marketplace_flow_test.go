package integration_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/umshado/umshado-api/internal/auth"
	"github.com/umshado/umshado-api/internal/database"
	"github.com/umshado/umshado-api/internal/ids"
	"github.com/umshado/umshado-api/internal/messaging"
	"github.com/umshado/umshado-api/internal/notifications"
	"github.com/umshado/umshado-api/internal/profiles"
	"github.com/umshado/umshado-api/internal/quotes"
	"github.com/umshado/umshado-api/internal/server"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	tokenSigningSecret = "integration-secret"
	tokenAudience      = "authenticated"
	coupleUserID       = "couple-abc"
	vendorUserID       = "vendor-xyz"
	jsonContentType    = "application/json"
)

type marketplace struct {
	server *httptest.Server
	db     *gorm.DB
}

func newMarketplace(testContext *testing.T) marketplace {
	testContext.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open("file:"+strings.ReplaceAll(testContext.Name(), "/", "_")+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		testContext.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		testContext.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	testContext.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := database.Migrate(db, zap.NewNop()); err != nil {
		testContext.Fatalf("failed to migrate: %v", err)
	}
	if err := db.Create(&profiles.Profile{ID: coupleUserID, FullName: "Thandi Mokoena"}).Error; err != nil {
		testContext.Fatalf("failed to seed couple: %v", err)
	}
	if err := db.Create(&profiles.Vendor{ID: vendorUserID, BusinessName: "Blooms by Lerato"}).Error; err != nil {
		testContext.Fatalf("failed to seed vendor: %v", err)
	}

	store, err := notifications.NewGormStore(db)
	if err != nil {
		testContext.Fatalf("failed to build store: %v", err)
	}
	realtime := server.NewRealtimeDispatcher()
	idProvider := ids.NewUUIDProvider()
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherConfig{
		Store:      store,
		IDProvider: idProvider,
		Publisher:  realtime,
	})
	if err != nil {
		testContext.Fatalf("failed to build dispatcher: %v", err)
	}
	throttle, err := notifications.NewThrottle(notifications.ThrottleConfig{Store: store})
	if err != nil {
		testContext.Fatalf("failed to build throttle: %v", err)
	}
	inbox, err := notifications.NewInbox(store, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to build inbox: %v", err)
	}
	profileService, err := profiles.NewService(profiles.ServiceConfig{Database: db, Notifier: dispatcher})
	if err != nil {
		testContext.Fatalf("failed to build profiles: %v", err)
	}
	messageService, err := messaging.NewService(messaging.ServiceConfig{
		Database:   db,
		IDProvider: idProvider,
		Notifier:   dispatcher,
		Throttle:   throttle,
		Names:      profileService,
	})
	if err != nil {
		testContext.Fatalf("failed to build messaging: %v", err)
	}
	quoteService, err := quotes.NewService(quotes.ServiceConfig{
		Database:      db,
		IDProvider:    idProvider,
		Conversations: messageService,
		Directory:     profileService,
		Notifier:      dispatcher,
	})
	if err != nil {
		testContext.Fatalf("failed to build quotes: %v", err)
	}
	tokenValidator, err := auth.NewTokenValidator(auth.TokenValidatorConfig{
		SigningSecret: []byte(tokenSigningSecret),
		Audience:      tokenAudience,
	})
	if err != nil {
		testContext.Fatalf("failed to construct token validator: %v", err)
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Tokens:         tokenValidator,
		Profiles:       profileService,
		Quotes:         quoteService,
		Messages:       messageService,
		Inbox:          inbox,
		Realtime:       realtime,
		Logger:         zap.NewNop(),
		AllowedOrigins: []string{"*"},
		RateLimit:      server.RateLimitConfig{RequestsPerSecond: 100, Burst: 100},
	})
	if err != nil {
		testContext.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	testContext.Cleanup(testServer.Close)
	return marketplace{server: testServer, db: db}
}

func mustMintAccessToken(testContext *testing.T, userID string) string {
	testContext.Helper()
	now := time.Now()
	claims := auth.AccessClaims{
		Email: userID + "@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Audience:  jwt.ClaimStrings{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(tokenSigningSecret))
	if err != nil {
		testContext.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func (m marketplace) call(testContext *testing.T, method, path, userID string, payload any, out any) int {
	testContext.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			testContext.Fatalf("failed to encode payload: %v", err)
		}
	}
	request, err := http.NewRequest(method, m.server.URL+path, &body)
	if err != nil {
		testContext.Fatalf("failed to build request: %v", err)
	}
	request.Header.Set("Content-Type", jsonContentType)
	if userID != "" {
		request.Header.Set("Authorization", "Bearer "+mustMintAccessToken(testContext, userID))
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		testContext.Fatalf("request failed: %v", err)
	}
	defer response.Body.Close()
	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			testContext.Fatalf("failed to decode response for %s %s: %v", method, path, err)
		}
	}
	return response.StatusCode
}

type notificationList struct {
	Notifications []struct {
		ID       string         `json:"id"`
		Type     string         `json:"type"`
		Title    string         `json:"title"`
		Body     string         `json:"body"`
		Link     *string        `json:"link"`
		IsRead   bool           `json:"isRead"`
		Metadata map[string]any `json:"metadata"`
	} `json:"notifications"`
}

func (m marketplace) notifications(testContext *testing.T, userID string) notificationList {
	testContext.Helper()
	var list notificationList
	if status := m.call(testContext, http.MethodGet, "/notifications", userID, nil, &list); status != http.StatusOK {
		testContext.Fatalf("unexpected notifications status %d", status)
	}
	return list
}

func countByType(list notificationList, kind string) int {
	total := 0
	for _, notification := range list.Notifications {
		if notification.Type == kind {
			total++
		}
	}
	return total
}

func TestQuoteNegotiationFlow(testContext *testing.T) {
	app := newMarketplace(testContext)

	// Scenario A: the couple requests a quote.
	var created struct {
		QuoteID        string `json:"quoteId"`
		ConversationID string `json:"conversationId"`
		QuoteRef       string `json:"quoteRef"`
	}
	status := app.call(testContext, http.MethodPost, "/quotes/create", coupleUserID, map[string]any{
		"vendorId":    vendorUserID,
		"packageId":   "pkg-premium",
		"packageName": "Premium Package",
		"pricingMode": "guest_based",
		"guestCount":  120,
		"basePrice":   15000,
		"quoteRef":    "Q-2026-0001",
	}, &created)
	if status != http.StatusOK {
		testContext.Fatalf("unexpected create status %d", status)
	}
	if created.QuoteRef != "Q-2026-0001" || created.QuoteID == "" || created.ConversationID == "" {
		testContext.Fatalf("unexpected create response %#v", created)
	}
	vendorInbox := app.notifications(testContext, vendorUserID)
	coupleInbox := app.notifications(testContext, coupleUserID)
	if countByType(vendorInbox, string(notifications.TypeQuoteCreated)) != 1 || countByType(coupleInbox, string(notifications.TypeQuoteCreated)) != 1 {
		testContext.Fatalf("expected one quote_created notification each, got vendor=%v couple=%v", vendorInbox, coupleInbox)
	}
	if vendorInbox.Notifications[0].Title == coupleInbox.Notifications[0].Title {
		testContext.Fatalf("expected confirmation-flavoured couple notification")
	}

	// Scenario B: the vendor sends a final price.
	var negotiated struct {
		Quote struct {
			Status           string   `json:"status"`
			VendorFinalPrice *float64 `json:"vendorFinalPrice"`
		} `json:"quote"`
	}
	status = app.call(testContext, http.MethodPost, "/quotes/status", vendorUserID, map[string]any{
		"quoteId":          created.QuoteID,
		"status":           "negotiating",
		"vendorFinalPrice": 18000,
		"conversationId":   created.ConversationID,
	}, &negotiated)
	if status != http.StatusOK {
		testContext.Fatalf("unexpected negotiate status %d", status)
	}
	if negotiated.Quote.Status != "negotiating" || negotiated.Quote.VendorFinalPrice == nil || *negotiated.Quote.VendorFinalPrice != 18000 {
		testContext.Fatalf("unexpected negotiated quote %#v", negotiated.Quote)
	}
	var thread struct {
		Messages []struct {
			Body     string  `json:"body"`
			QuoteRef *string `json:"quoteRef"`
		} `json:"messages"`
	}
	if status := app.call(testContext, http.MethodGet, "/messages?conversationId="+created.ConversationID, coupleUserID, nil, &thread); status != http.StatusOK {
		testContext.Fatalf("unexpected messages status %d", status)
	}
	foundPrice := false
	for _, message := range thread.Messages {
		if strings.Contains(message.Body, "18 000") {
			foundPrice = true
		}
	}
	if !foundPrice {
		testContext.Fatalf("expected a chat message with the formatted price, got %#v", thread.Messages)
	}
	coupleInbox = app.notifications(testContext, coupleUserID)
	if countByType(coupleInbox, string(notifications.TypeQuoteStatusUpdated)) != 1 {
		testContext.Fatalf("expected one status notification for the couple, got %#v", coupleInbox)
	}
	for _, notification := range coupleInbox.Notifications {
		if notification.Type == string(notifications.TypeQuoteStatusUpdated) && !strings.Contains(notification.Title, "Q-2026-0001") {
			testContext.Fatalf("expected title to reference the quote, got %q", notification.Title)
		}
	}

	// A stranger cannot move the quote.
	if status := app.call(testContext, http.MethodPost, "/quotes/status", "stranger", map[string]any{
		"quoteId": created.QuoteID,
		"status":  "accepted",
	}, nil); status != http.StatusForbidden {
		testContext.Fatalf("expected forbidden for stranger, got %d", status)
	}

	// Scenario C: the couple accepts.
	status = app.call(testContext, http.MethodPost, "/quotes/status", coupleUserID, map[string]any{
		"quoteId":          created.QuoteID,
		"status":           "accepted",
		"vendorFinalPrice": 1,
	}, &negotiated)
	if status != http.StatusOK {
		testContext.Fatalf("unexpected accept status %d", status)
	}
	if negotiated.Quote.Status != "accepted" || *negotiated.Quote.VendorFinalPrice != 18000 {
		testContext.Fatalf("unexpected accepted quote %#v", negotiated.Quote)
	}
	vendorInbox = app.notifications(testContext, vendorUserID)
	if countByType(vendorInbox, string(notifications.TypeQuoteStatusUpdated)) != 1 {
		testContext.Fatalf("expected one status notification for the vendor, got %#v", vendorInbox)
	}
	var conversions int64
	if err := app.db.Model(&quotes.Conversion{}).Where("quote_id = ?", created.QuoteID).Count(&conversions).Error; err != nil {
		testContext.Fatalf("failed to count conversions: %v", err)
	}
	if conversions != 1 {
		testContext.Fatalf("expected one conversion, got %d", conversions)
	}

	// Marking everything read empties the unread view.
	var marked struct {
		Updated int64 `json:"updated"`
	}
	if status := app.call(testContext, http.MethodPost, "/notifications/read", vendorUserID, map[string]any{"all": true}, &marked); status != http.StatusOK || marked.Updated != 2 {
		testContext.Fatalf("unexpected mark read result %d %#v", status, marked)
	}
	var unread notificationList
	if status := app.call(testContext, http.MethodGet, "/notifications?unread=true", vendorUserID, nil, &unread); status != http.StatusOK || len(unread.Notifications) != 0 {
		testContext.Fatalf("expected no unread notifications, got %d %#v", status, unread)
	}
}

func TestMessageThrottleFlow(testContext *testing.T) {
	app := newMarketplace(testContext)

	var created struct {
		ConversationID string `json:"conversationId"`
	}
	if status := app.call(testContext, http.MethodPost, "/quotes/create", coupleUserID, map[string]any{
		"vendorId":    vendorUserID,
		"packageId":   "pkg-basic",
		"packageName": "Basic Package",
		"pricingMode": "package_based",
		"basePrice":   5000,
		"quoteRef":    "Q-2026-0002",
	}, &created); status != http.StatusOK {
		testContext.Fatalf("unexpected create status %d", status)
	}

	// Scenario D: two quick messages produce one message_received notification.
	for _, text := range []string{"Are you free on the 12th?", "Also, is travel included?"} {
		var sent struct {
			MessageID string `json:"messageId"`
		}
		status := app.call(testContext, http.MethodPost, "/messages/send", coupleUserID, map[string]any{
			"conversationId": created.ConversationID,
			"messageText":    text,
		}, &sent)
		if status != http.StatusOK || sent.MessageID == "" {
			testContext.Fatalf("unexpected send result %d %#v", status, sent)
		}
	}
	vendorInbox := app.notifications(testContext, vendorUserID)
	if got := countByType(vendorInbox, string(notifications.TypeMessageReceived)); got != 1 {
		testContext.Fatalf("expected one message_received notification, got %d", got)
	}
	for _, notification := range vendorInbox.Notifications {
		if notification.Type != string(notifications.TypeMessageReceived) {
			continue
		}
		if notification.Metadata[notifications.MetaConversationID] != created.ConversationID {
			testContext.Fatalf("expected conversation correlator, got %#v", notification.Metadata)
		}
		if notification.Title != "New message from Thandi Mokoena" {
			testContext.Fatalf("unexpected title %q", notification.Title)
		}
	}

	// Blank text is rejected and nobody else may post.
	if status := app.call(testContext, http.MethodPost, "/messages/send", coupleUserID, map[string]any{
		"conversationId": created.ConversationID,
		"messageText":    "   ",
	}, nil); status != http.StatusBadRequest {
		testContext.Fatalf("expected bad request for blank text, got %d", status)
	}
	if status := app.call(testContext, http.MethodPost, "/messages/send", "stranger", map[string]any{
		"conversationId": created.ConversationID,
		"messageText":    "hello",
	}, nil); status != http.StatusForbidden {
		testContext.Fatalf("expected forbidden for stranger, got %d", status)
	}
	if status := app.call(testContext, http.MethodGet, "/notifications", "", nil, nil); status != http.StatusUnauthorized {
		testContext.Fatalf("expected unauthorized without token, got %d", status)
	}
}

func TestVendorPublishFlow(testContext *testing.T) {
	app := newMarketplace(testContext)

	var published struct {
		Published bool `json:"published"`
	}
	for i := 0; i < 2; i++ {
		if status := app.call(testContext, http.MethodPost, "/vendors/publish", vendorUserID, nil, &published); status != http.StatusOK || !published.Published {
			testContext.Fatalf("unexpected publish result %d %#v", status, published)
		}
	}
	if got := countByType(app.notifications(testContext, vendorUserID), string(notifications.TypeVendorPublished)); got != 1 {
		testContext.Fatalf("expected one vendor_published notification, got %d", got)
	}
	if status := app.call(testContext, http.MethodPost, "/vendors/publish", coupleUserID, nil, nil); status != http.StatusNotFound {
		testContext.Fatalf("expected couples to have no vendor listing, got %d", status)
	}
}
