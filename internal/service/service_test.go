package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pulsechat/realtime/internal/model"
	"github.com/pulsechat/realtime/internal/store"
	"github.com/pulsechat/realtime/pkg/logger"
)

// emission is one recorded Emit call.
type emission struct {
	Room  string
	Event string
	Data  any
}

// fakeEmitter records every emission for assertions.
type fakeEmitter struct {
	mu        sync.Mutex
	emissions []emission
}

func (f *fakeEmitter) Emit(room, event string, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emissions = append(f.emissions, emission{Room: room, Event: event, Data: data})
}

func (f *fakeEmitter) count(room, event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.emissions {
		if e.Room == room && e.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeEmitter) last(room, event string) (emission, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.emissions) - 1; i >= 0; i-- {
		e := f.emissions[i]
		if e.Room == room && e.Event == event {
			return e, true
		}
	}
	return emission{}, false
}

func (f *fakeEmitter) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emissions = nil
}

// fakeTracker scripts online and viewing state.
type fakeTracker struct {
	online  map[string]bool
	viewing map[string]string
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{
		online:  make(map[string]bool),
		viewing: make(map[string]string),
	}
}

func (f *fakeTracker) Connect(userID, connID string) bool    { f.online[userID] = true; return true }
func (f *fakeTracker) Disconnect(userID, connID string) bool { delete(f.online, userID); return true }
func (f *fakeTracker) IsOnline(userID string) bool           { return f.online[userID] }
func (f *fakeTracker) Touch(userID string)                   {}
func (f *fakeTracker) LastActive(userID string) (time.Time, bool) {
	return time.Time{}, false
}
func (f *fakeTracker) SetViewing(userID, conversationID string) {
	f.viewing[userID] = conversationID
}
func (f *fakeTracker) ClearViewing(userID string) { delete(f.viewing, userID) }
func (f *fakeTracker) IsViewing(userID, conversationID string) bool {
	return f.viewing[userID] == conversationID
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("create logger: %v", err)
	}
	return log
}

// fixture wires the delivery pipeline against a real store with scripted
// presence and a recording emitter.
type fixture struct {
	store    *store.Store
	tracker  *fakeTracker
	emitter  *fakeEmitter
	delivery *DeliveryService
	convs    *ConversationService
	reader   *ReaderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := newTestStore(t)
	log := newTestLogger(t)
	tracker := newFakeTracker()
	emitter := &fakeEmitter{}

	fanout := NewFanoutService(st, tracker, &StoreDirectory{Store: st}, emitter, log)
	delivery := NewDeliveryService(st, fanout, emitter, log)
	convs := NewConversationService(st, emitter, log)
	convs.SetDelivery(delivery)
	reader := NewReaderService(st, emitter, log)

	return &fixture{
		store:    st,
		tracker:  tracker,
		emitter:  emitter,
		delivery: delivery,
		convs:    convs,
		reader:   reader,
	}
}

func (f *fixture) newGroup(t *testing.T, owner string, others ...string) *model.Conversation {
	t.Helper()
	conv, err := f.convs.Create(context.Background(), owner, &model.CreateConversationRequest{
		Type:      model.ConversationGroup,
		Title:     "test group",
		MemberIDs: others,
	})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	return conv
}
