package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/umshado/umshado-api/internal/auth"
	"github.com/umshado/umshado-api/internal/messaging"
	"github.com/umshado/umshado-api/internal/notifications"
	"github.com/umshado/umshado-api/internal/profiles"
	"github.com/umshado/umshado-api/internal/quotes"
)

type stubTokens struct {
	claims auth.AccessClaims
	err    error
}

func (s stubTokens) ValidateRequest(*http.Request) (auth.AccessClaims, error) {
	return s.claims, s.err
}

type stubProfiles struct {
	mu      sync.Mutex
	ensured []string
	vendor  profiles.Vendor
	err     error
}

func (s *stubProfiles) EnsureProfile(_ context.Context, userID, _ string) error {
	s.mu.Lock()
	s.ensured = append(s.ensured, userID)
	s.mu.Unlock()
	return nil
}

func (s *stubProfiles) PublishVendor(context.Context, string) (profiles.Vendor, error) {
	return s.vendor, s.err
}

type stubQuotes struct {
	lastCreate     quotes.CreateQuoteRequest
	lastTransition quotes.TransitionRequest
	createResult   quotes.CreateQuoteResult
	quote          quotes.Quote
	err            error
}

func (s *stubQuotes) CreateQuote(_ context.Context, request quotes.CreateQuoteRequest) (quotes.CreateQuoteResult, error) {
	s.lastCreate = request
	return s.createResult, s.err
}

func (s *stubQuotes) TransitionQuote(_ context.Context, request quotes.TransitionRequest) (quotes.Quote, error) {
	s.lastTransition = request
	return s.quote, s.err
}

func (s *stubQuotes) LinkConversation(context.Context, string, string) (quotes.CreateQuoteResult, error) {
	return s.createResult, s.err
}

type stubMessages struct {
	lastSend messaging.SendMessageRequest
	result   messaging.SendMessageResult
	messages []messaging.Message
	err      error
}

func (s *stubMessages) SendMessage(_ context.Context, request messaging.SendMessageRequest) (messaging.SendMessageResult, error) {
	s.lastSend = request
	return s.result, s.err
}

func (s *stubMessages) ListMessages(context.Context, string, string, int) ([]messaging.Message, error) {
	return s.messages, s.err
}

type stubInbox struct {
	rows    []notifications.Notification
	updated int64
	err     error
}

func (s *stubInbox) List(context.Context, string, bool, int) ([]notifications.Notification, error) {
	return s.rows, s.err
}

func (s *stubInbox) MarkRead(context.Context, string, []string, bool) (int64, error) {
	return s.updated, s.err
}

type testDependencies struct {
	tokens   stubTokens
	profiles *stubProfiles
	quotes   *stubQuotes
	messages *stubMessages
	inbox    *stubInbox
	realtime *RealtimeDispatcher
}

func newTestDependencies(userID string) testDependencies {
	return testDependencies{
		tokens:   stubTokens{claims: auth.AccessClaims{Email: userID + "@example.com", RegisteredClaims: registeredSubject(userID)}},
		profiles: &stubProfiles{},
		quotes:   &stubQuotes{},
		messages: &stubMessages{},
		inbox:    &stubInbox{},
		realtime: NewRealtimeDispatcher(),
	}
}

func (d testDependencies) handler(rateLimit RateLimitConfig) (http.Handler, error) {
	return NewHTTPHandler(Dependencies{
		Tokens:         d.tokens,
		Profiles:       d.profiles,
		Quotes:         d.quotes,
		Messages:       d.messages,
		Inbox:          d.inbox,
		Realtime:       d.realtime,
		AllowedOrigins: []string{"https://umshado.co.za"},
		RateLimit:      rateLimit,
	})
}
