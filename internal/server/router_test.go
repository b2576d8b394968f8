package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/umshado/umshado-api/internal/apperrors"
	"github.com/umshado/umshado-api/internal/auth"
	"github.com/umshado/umshado-api/internal/quotes"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func registeredSubject(userID string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{Subject: userID}
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body %q: %v", recorder.Body.String(), err)
	}
	return body
}

func TestNewHTTPHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); !errors.Is(err, errMissingTokenValidator) {
		t.Fatalf("expected missing token validator, got %v", err)
	}
	deps := newTestDependencies("user-1")
	deps.realtime = nil
	if _, err := deps.handler(RateLimitConfig{}); !errors.Is(err, errMissingRealtime) {
		t.Fatalf("expected missing realtime, got %v", err)
	}
}

func TestAuthorizeRequestLogsMissingTokenAtInfoLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/notifications", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens:   stubTokens{err: auth.ErrMissingToken},
		profiles: &stubProfiles{},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected one info entry, got %v", entries)
	}
	if entries[0].Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entries[0].Message)
	}
}

func TestAuthorizeRequestLogsInvalidTokenAtWarnLevel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodGet, "/notifications", http.NoBody)

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		tokens:   stubTokens{err: auth.ErrInvalidToken},
		profiles: &stubProfiles{},
		logger:   zap.New(core),
	}

	handler.authorizeRequest(ctx)

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: %d", recorder.Code)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestAuthorizeRequestEnsuresProfile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDependencies("couple-1")
	handler, err := deps.handler(RateLimitConfig{})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/notifications", http.NoBody))

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	if len(deps.profiles.ensured) != 1 || deps.profiles.ensured[0] != "couple-1" {
		t.Fatalf("expected profile ensure for couple-1, got %v", deps.profiles.ensured)
	}
}

func TestHealthDoesNotRequireAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDependencies("couple-1")
	deps.tokens = stubTokens{err: auth.ErrMissingToken}
	handler, err := deps.handler(RateLimitConfig{})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", recorder.Code)
	}

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/quotes/create", strings.NewReader(`{}`)))
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected protected route to require auth, got %d", recorder.Code)
	}
}

func TestHandleCreateQuoteRequiresBasePrice(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Set(userIDContextKey, "couple-1")
	request := httptest.NewRequest(http.MethodPost, "/quotes/create", strings.NewReader(`{"vendorId":"vendor-1","packageId":"p","packageName":"Premium Package","pricingMode":"guest_based","quoteRef":"Q-1"}`))
	request.Header.Set("Content-Type", "application/json")
	ctx.Request = request

	quoteService := &stubQuotes{}
	handler := &httpHandler{quotes: quoteService, logger: zap.NewNop()}
	handler.handleCreateQuote(ctx)

	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}
	expected := `{"code":"quotes.create.missing_base_price","error":"basePrice is required"}`
	if recorder.Body.String() != expected {
		t.Fatalf("unexpected response body: %s", recorder.Body.String())
	}
	if quoteService.lastCreate.VendorID != "" {
		t.Fatalf("expected the service not to be called")
	}
}

func TestHandleCreateQuoteUsesCallerAsCouple(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Set(userIDContextKey, "couple-1")
	request := httptest.NewRequest(http.MethodPost, "/quotes/create", strings.NewReader(`{"vendorId":"vendor-1","packageId":"p","packageName":"Premium Package","pricingMode":"guest_based","basePrice":15000,"addOns":[{"name":"Flowers","price":500}],"quoteRef":"Q-1"}`))
	request.Header.Set("Content-Type", "application/json")
	ctx.Request = request

	quoteService := &stubQuotes{createResult: quotes.CreateQuoteResult{QuoteID: "q-1", ConversationID: "c-1", Reference: "Q-1"}}
	handler := &httpHandler{quotes: quoteService, logger: zap.NewNop()}
	handler.handleCreateQuote(ctx)

	if recorder.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", recorder.Code, recorder.Body.String())
	}
	if quoteService.lastCreate.CoupleID != "couple-1" || quoteService.lastCreate.BasePrice != 15000 {
		t.Fatalf("unexpected service request %#v", quoteService.lastCreate)
	}
	if len(quoteService.lastCreate.AddOns) != 1 || quoteService.lastCreate.AddOns[0].Name != "Flowers" {
		t.Fatalf("expected add-ons to be forwarded, got %#v", quoteService.lastCreate.AddOns)
	}
	body := decodeBody(t, recorder)
	if body["quoteId"] != "q-1" || body["conversationId"] != "c-1" || body["quoteRef"] != "Q-1" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRespondErrorMapsKinds(t *testing.T) {
	gin.SetMode(gin.TestMode)
	testCases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "input", err: apperrors.Input("quotes.create", "missing_vendor", errors.New("vendor id is required")), status: http.StatusBadRequest, code: "quotes.create.missing_vendor"},
		{name: "forbidden", err: apperrors.Forbidden("quotes.transition", "not_participant", errors.New("nope")), status: http.StatusForbidden, code: "quotes.transition.not_participant"},
		{name: "not-found", err: apperrors.NotFound("quotes.load", "quote_not_found", errors.New("quote not found")), status: http.StatusNotFound, code: "quotes.load.quote_not_found"},
		{name: "store", err: apperrors.Store("messaging.send", "insert_failed", errors.New("disk full")), status: http.StatusInternalServerError, code: "messaging.send.insert_failed"},
		{name: "foreign", err: errors.New("boom"), status: http.StatusInternalServerError, code: "server.internal"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			ctx, _ := gin.CreateTestContext(recorder)
			ctx.Request = httptest.NewRequest(http.MethodPost, "/", http.NoBody)
			handler := &httpHandler{logger: zap.NewNop()}

			handler.respondError(ctx, testCase.err)

			if recorder.Code != testCase.status {
				t.Fatalf("expected %d, got %d", testCase.status, recorder.Code)
			}
			body := decodeBody(t, recorder)
			if body["code"] != testCase.code {
				t.Fatalf("expected code %q, got %v", testCase.code, body["code"])
			}
			if testCase.status == http.StatusInternalServerError && body["error"] != "internal error" {
				t.Fatalf("expected store details to stay hidden, got %v", body["error"])
			}
		})
	}
}

func TestRespondErrorCarriesPartialFailureIdentifiers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request = httptest.NewRequest(http.MethodPost, "/quotes/create", http.NoBody)
	handler := &httpHandler{logger: zap.NewNop()}

	handler.respondError(ctx, apperrors.Partial("quotes.create", "conversation_failed", errors.New("timeout"), "quote-1", ""))

	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
	body := decodeBody(t, recorder)
	if body["quoteId"] != "quote-1" {
		t.Fatalf("expected quote id in body, got %v", body)
	}
	if _, present := body["conversationId"]; present {
		t.Fatalf("did not expect conversation id, got %v", body)
	}
}

func TestHandleListMessagesRejectsBadLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	deps := newTestDependencies("couple-1")
	handler, err := deps.handler(RateLimitConfig{})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/messages?conversationId=c-1&limit=abc", http.NoBody))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected bad request, got %d", recorder.Code)
	}
}

func TestCORSMiddlewareAllowsConfiguredOrigin(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(corsMiddleware([]string{"https://umshado.co.za"}))
	router.OPTIONS("/quotes/create", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	request := httptest.NewRequest(http.MethodOptions, "/quotes/create", http.NoBody)
	request.Header.Set("Origin", "https://umshado.co.za")
	request.Header.Set("Access-Control-Request-Method", http.MethodPost)
	request.Header.Set("Access-Control-Request-Headers", "Authorization")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if recorder.Header().Get("Access-Control-Allow-Origin") != "https://umshado.co.za" {
		t.Fatalf("unexpected allow origin %q", recorder.Header().Get("Access-Control-Allow-Origin"))
	}
	if !strings.Contains(strings.ToLower(recorder.Header().Get("Access-Control-Allow-Headers")), "authorization") {
		t.Fatalf("expected Authorization to be allowed, got %q", recorder.Header().Get("Access-Control-Allow-Headers"))
	}
}
