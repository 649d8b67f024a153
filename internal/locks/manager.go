package locks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/infrastructure/monitoring"
)

// DefaultTTL is how long a lock may be held without renewal before any
// subsequent request or the sweep may force-release it.
const DefaultTTL = 5 * time.Minute

// Key identifies one lockable note.
type Key struct {
	RoomID string
	TabID  string
	NoteID string
}

// Lock is the held state for one key.
type Lock struct {
	HolderNickname string
	HolderToken    string
	LockedAt       time.Time
}

// Info is the externally visible form of a held lock, shaped for the
// edit-locks reply on join.
type Info struct {
	TabID    string `json:"tabId"`
	NoteID   string `json:"noteId"`
	LockedBy string `json:"lockedBy"`
}

// EventType distinguishes lock transitions.
type EventType int

const (
	// EventLocked means a lock was granted.
	EventLocked EventType = iota
	// EventReleased means a lock was released: explicitly, by disconnect,
	// or force-released after expiry.
	EventReleased
)

// Event describes one lock transition for the transport layer to
// broadcast. ExceptToken names the socket that caused the transition and
// should not receive the broadcast; it is empty for sweep-initiated
// releases.
type Event struct {
	Type        EventType
	Key         Key
	Nickname    string
	ExceptToken string
}

// Result is the outcome of a lock request.
type Result struct {
	Granted  bool
	LockedBy string // current holder's nickname when denied
}

// Manager enforces at most one lock per key. Transitions are reported
// through the event callback; the manager itself knows nothing about the
// transport.
type Manager struct {
	ttl     time.Duration
	logger  *logging.Logger
	metrics *monitoring.Metrics
	now     func() time.Time
	onEvent func(Event)

	mu       sync.Mutex
	locks    map[Key]*Lock
	byHolder map[string]map[Key]struct{}
	byRoom   map[string]map[Key]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL overrides the lock TTL.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics attaches lock telemetry.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a lock manager. Every transition is passed to
// onEvent after the state change commits.
func NewManager(logger *logging.Logger, onEvent func(Event), opts ...Option) *Manager {
	m := &Manager{
		ttl:      DefaultTTL,
		logger:   logger,
		now:      time.Now,
		onEvent:  onEvent,
		locks:    make(map[Key]*Lock),
		byHolder: make(map[string]map[Key]struct{}),
		byRoom:   make(map[string]map[Key]struct{}),
	}
	if m.onEvent == nil {
		m.onEvent = func(Event) {}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Request attempts to acquire the lock for key on behalf of holder.
// Unlocked keys are granted. Keys locked by someone else are denied with
// the holder's nickname, unless the lock has outlived its TTL, in which
// case it is force-released (with a synthetic release event for the stale
// holder) and the request granted.
func (m *Manager) Request(key Key, nickname, token string) Result {
	var events []Event

	m.mu.Lock()
	existing, held := m.locks[key]
	if held {
		if existing.HolderToken == token {
			// Re-request by the current holder refreshes the clock.
			existing.LockedAt = m.now()
			m.mu.Unlock()
			return Result{Granted: true}
		}
		if m.now().Sub(existing.LockedAt) <= m.ttl {
			lockedBy := existing.HolderNickname
			m.mu.Unlock()
			if m.metrics != nil {
				m.metrics.LockDenials.Inc()
			}
			return Result{Granted: false, LockedBy: lockedBy}
		}
		// Expired: force-release the stale holder, then grant.
		events = append(events, m.removeLocked(key, existing, ""))
		if m.metrics != nil {
			m.metrics.LockForceReleases.Inc()
		}
	}

	m.locks[key] = &Lock{
		HolderNickname: nickname,
		HolderToken:    token,
		LockedAt:       m.now(),
	}
	m.index(m.byHolder, token, key)
	m.index(m.byRoom, key.RoomID, key)
	held = true
	lockCount := len(m.locks)
	m.mu.Unlock()

	events = append(events, Event{
		Type:        EventLocked,
		Key:         key,
		Nickname:    nickname,
		ExceptToken: token,
	})
	for _, ev := range events {
		m.onEvent(ev)
	}

	if m.metrics != nil {
		m.metrics.LockGrants.Inc()
		m.metrics.LocksHeld.Set(float64(lockCount))
	}
	return Result{Granted: true}
}

// Release frees the lock for key if, and only if, the caller currently
// holds it. A non-holder's release is a silent no-op so a stray or
// duplicate release can never evict someone else's active lock.
func (m *Manager) Release(key Key, token string) bool {
	m.mu.Lock()
	existing, held := m.locks[key]
	if !held || existing.HolderToken != token {
		m.mu.Unlock()
		return false
	}
	ev := m.removeLocked(key, existing, token)
	lockCount := len(m.locks)
	m.mu.Unlock()

	m.onEvent(ev)
	if m.metrics != nil {
		m.metrics.LocksHeld.Set(float64(lockCount))
	}
	return true
}

// ReleaseHolder frees every lock held by one token, each with its own
// release event. Uses the locks-by-holder index rather than a full-table
// scan. Called on socket disconnect.
func (m *Manager) ReleaseHolder(token string) int {
	m.mu.Lock()
	keys := m.byHolder[token]
	events := make([]Event, 0, len(keys))
	for key := range keys {
		if existing, held := m.locks[key]; held {
			events = append(events, m.removeLocked(key, existing, token))
		}
	}
	lockCount := len(m.locks)
	m.mu.Unlock()

	for _, ev := range events {
		m.onEvent(ev)
	}
	if m.metrics != nil {
		m.metrics.LocksHeld.Set(float64(lockCount))
	}
	return len(events)
}

// Sweep force-releases every lock older than the TTL, independent of
// client action, so no lock survives a silent network partition forever.
func (m *Manager) Sweep() int {
	cutoff := m.now().Add(-m.ttl)

	m.mu.Lock()
	var events []Event
	for key, lock := range m.locks {
		if lock.LockedAt.Before(cutoff) {
			events = append(events, m.removeLocked(key, lock, ""))
		}
	}
	lockCount := len(m.locks)
	m.mu.Unlock()

	for _, ev := range events {
		m.onEvent(ev)
	}
	if len(events) > 0 {
		m.logger.Debug("swept stale edit locks", zap.Int("count", len(events)))
		if m.metrics != nil {
			m.metrics.LockForceReleases.Add(float64(len(events)))
			m.metrics.LocksHeld.Set(float64(lockCount))
		}
	}
	return len(events)
}

// Run sweeps on the given interval until ctx is canceled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// ForRoom lists the outstanding locks of one room, for the edit-locks
// reply on join.
func (m *Manager) ForRoom(roomID string) []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.byRoom[roomID]
	infos := make([]Info, 0, len(keys))
	for key := range keys {
		if lock, held := m.locks[key]; held {
			infos = append(infos, Info{
				TabID:    key.TabID,
				NoteID:   key.NoteID,
				LockedBy: lock.HolderNickname,
			})
		}
	}
	return infos
}

// PurgeRoom silently drops every lock in one room. Used during room
// teardown, when there is nobody left to broadcast to.
func (m *Manager) PurgeRoom(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := m.byRoom[roomID]
	var purged int
	for key := range keys {
		if existing, held := m.locks[key]; held {
			m.removeLocked(key, existing, "")
			purged++
		}
	}
	if m.metrics != nil {
		m.metrics.LocksHeld.Set(float64(len(m.locks)))
	}
	return purged
}

// Holder reports the current holder of key, if locked.
func (m *Manager) Holder(key Key) (Lock, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, held := m.locks[key]
	if !held {
		return Lock{}, false
	}
	return *lock, true
}

// Count returns the number of held locks.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// removeLocked erases the lock and both secondary index entries and
// returns the release event. Caller holds m.mu.
func (m *Manager) removeLocked(key Key, lock *Lock, exceptToken string) Event {
	delete(m.locks, key)
	m.unindex(m.byHolder, lock.HolderToken, key)
	m.unindex(m.byRoom, key.RoomID, key)
	return Event{
		Type:        EventReleased,
		Key:         key,
		Nickname:    lock.HolderNickname,
		ExceptToken: exceptToken,
	}
}

func (m *Manager) index(idx map[string]map[Key]struct{}, by string, key Key) {
	set, ok := idx[by]
	if !ok {
		set = make(map[Key]struct{})
		idx[by] = set
	}
	set[key] = struct{}{}
}

func (m *Manager) unindex(idx map[string]map[Key]struct{}, by string, key Key) {
	set, ok := idx[by]
	if !ok {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(idx, by)
	}
}
