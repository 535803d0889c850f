// Package presence tracks online state and viewing claims in process memory.
//
// The registry is rebuilt from zero on process start and has no durability
// guarantee. It is not shared across server processes; cross-node visibility
// comes from the event bridge, not from this registry.
package presence

import (
	"sync"
	"time"
)

// Tracker is the registry surface the services depend on. Kept as an
// interface so tests can substitute a scripted implementation.
type Tracker interface {
	Connect(userID, connID string) (wentOnline bool)
	Disconnect(userID, connID string) (wentOffline bool)
	IsOnline(userID string) bool
	Touch(userID string)
	LastActive(userID string) (time.Time, bool)
	SetViewing(userID, conversationID string)
	ClearViewing(userID string)
	IsViewing(userID, conversationID string) bool
}

type viewingClaim struct {
	conversationID string
	claimedAt      time.Time
}

// Registry is the in-memory Tracker. Constructed once per process and
// injected into connection handlers; never a package-level singleton.
type Registry struct {
	mu         sync.RWMutex
	conns      map[string]map[string]struct{}
	lastActive map[string]time.Time
	viewing    map[string]viewingClaim

	ttl time.Duration
	now func() time.Time
}

// NewRegistry creates a registry whose viewing claims expire after ttl.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		conns:      make(map[string]map[string]struct{}),
		lastActive: make(map[string]time.Time),
		viewing:    make(map[string]viewingClaim),
		ttl:        ttl,
		now:        time.Now,
	}
}

// Connect records one socket for the user. It reports true only on the
// offline-to-online edge, i.e. the first live socket; additional tabs are
// silent.
func (r *Registry) Connect(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.conns[userID]
	wentOnline := len(set) == 0
	if set == nil {
		set = make(map[string]struct{})
		r.conns[userID] = set
	}
	set[connID] = struct{}{}
	r.lastActive[userID] = r.now()
	return wentOnline
}

// Disconnect removes one socket. It reports true only when the last socket
// goes away: the online-to-offline edge fires exactly once. The user's
// viewing claim dies with their last socket.
func (r *Registry) Disconnect(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.conns[userID]
	if !ok {
		return false
	}
	if _, ok := set[connID]; !ok {
		return false
	}
	delete(set, connID)
	r.lastActive[userID] = r.now()
	if len(set) > 0 {
		return false
	}
	delete(r.conns, userID)
	delete(r.viewing, userID)
	return true
}

// IsOnline reports whether the user has at least one live socket.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[userID]) > 0
}

// Touch refreshes the user's last-active time (heartbeat).
func (r *Registry) Touch(userID string) {
	r.mu.Lock()
	r.lastActive[userID] = r.now()
	r.mu.Unlock()
}

// LastActive returns the user's last-active time, if known to this process.
func (r *Registry) LastActive(userID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastActive[userID]
	return t, ok
}

// SetViewing declares the user's focus on one conversation, superseding any
// previous claim.
func (r *Registry) SetViewing(userID, conversationID string) {
	r.mu.Lock()
	r.viewing[userID] = viewingClaim{conversationID: conversationID, claimedAt: r.now()}
	r.mu.Unlock()
}

// ClearViewing drops the user's claim (blur).
func (r *Registry) ClearViewing(userID string) {
	r.mu.Lock()
	delete(r.viewing, userID)
	r.mu.Unlock()
}

// IsViewing reports whether the user's stored claim matches the conversation
// and is still within the TTL. Expiry is checked lazily; there is no
// background sweep.
func (r *Registry) IsViewing(userID, conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	claim, ok := r.viewing[userID]
	if !ok || claim.conversationID != conversationID {
		return false
	}
	return r.now().Sub(claim.claimedAt) <= r.ttl
}

// OnlineCount returns the number of users with at least one live socket.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
