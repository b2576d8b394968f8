package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/umshado/umshado-api/internal/ids"
	"gorm.io/gorm"
)

var errStoreUnavailable = errors.New("store unavailable")

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&Notification{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	db := newTestDatabase(t)
	store, err := NewGormStore(db)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store, db
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock(start time.Time) *manualClock {
	return &manualClock{now: start}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(delta time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(delta)
	c.mu.Unlock()
}

func newTestDispatcher(t *testing.T, store Store, clock *manualClock) *Dispatcher {
	t.Helper()
	dispatcher, err := NewDispatcher(DispatcherConfig{
		Store:      store,
		Clock:      clock.Now,
		IDProvider: ids.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to build dispatcher: %v", err)
	}
	return dispatcher
}

// failingStore rejects every call.
type failingStore struct {
	insertCalls int
}

func (s *failingStore) Insert(context.Context, *Notification) error {
	s.insertCalls++
	return errStoreUnavailable
}

func (s *failingStore) ExistsSince(context.Context, string, Type, string, string, time.Time) (bool, error) {
	return false, errStoreUnavailable
}

func (s *failingStore) ListForUser(context.Context, string, bool, int) ([]Notification, error) {
	return nil, errStoreUnavailable
}

func (s *failingStore) MarkRead(context.Context, string, []string) (int64, error) {
	return 0, errStoreUnavailable
}

func (s *failingStore) MarkAllRead(context.Context, string) (int64, error) {
	return 0, errStoreUnavailable
}

type recordingPublisher struct {
	published []Notification
}

func (p *recordingPublisher) PublishNotification(notification Notification) {
	p.published = append(p.published, notification)
}

type stubMarker struct {
	active    bool
	activeErr error
	marked    []string
}

func (m *stubMarker) Active(context.Context, string, string) (bool, error) {
	return m.active, m.activeErr
}

func (m *stubMarker) Mark(_ context.Context, receiverID, threadID string, _ time.Duration) error {
	m.marked = append(m.marked, receiverID+":"+threadID)
	return nil
}
