package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/infrastructure/monitoring"
	"github.com/warroomhq/warroom/internal/shared/id"
)

var (
	// ErrNotFound means the token was never issued or has been removed.
	ErrNotFound = errors.New("session: token not found")
	// ErrExpired means the token outlived its TTL; it is evicted on lookup.
	ErrExpired = errors.New("session: token expired")
)

// DefaultTTL is the maximum session age.
const DefaultTTL = 24 * time.Hour

// Session maps an opaque token to a room identity.
type Session struct {
	Token       string    `json:"token"`
	RoomID      string    `json:"room_id"`
	Nickname    string    `json:"nickname"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry authenticates opaque tokens to (room, nickname). Tokens are
// indexed globally and per room so bulk invalidation of one room is
// proportional to that room's membership.
type Registry struct {
	ttl     time.Duration
	logger  *logging.Logger
	metrics *monitoring.Metrics
	now     func() time.Time

	mu      sync.RWMutex
	byToken map[string]*Session
	byRoom  map[string]map[string]*Session
}

// Option configures a Registry.
type Option func(*Registry)

// WithTTL overrides the session max age.
func WithTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithMetrics attaches session gauges.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty session registry.
func NewRegistry(logger *logging.Logger, opts ...Option) *Registry {
	r := &Registry{
		ttl:     DefaultTTL,
		logger:  logger,
		now:     time.Now,
		byToken: make(map[string]*Session),
		byRoom:  make(map[string]map[string]*Session),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create mints a high-entropy token bound to (roomID, nickname).
func (r *Registry) Create(roomID, nickname string) (string, error) {
	token, err := id.NewToken()
	if err != nil {
		return "", err
	}

	sess := &Session{
		Token:       token,
		RoomID:      roomID,
		Nickname:    nickname,
		ConnectedAt: r.now(),
	}

	r.mu.Lock()
	r.byToken[token] = sess
	room, ok := r.byRoom[roomID]
	if !ok {
		room = make(map[string]*Session)
		r.byRoom[roomID] = room
	}
	room[token] = sess
	live := len(r.byToken)
	r.mu.Unlock()

	r.setActive(live)
	return token, nil
}

// Authenticate resolves a token. Expired tokens are evicted on the spot.
func (r *Registry) Authenticate(token string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.byToken[token]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if r.now().Sub(sess.ConnectedAt) > r.ttl {
		r.Remove(token)
		if r.metrics != nil {
			r.metrics.SessionsExpired.Inc()
		}
		return nil, ErrExpired
	}

	copied := *sess
	return &copied, nil
}

// Remove destroys one session. Unknown tokens are a no-op.
func (r *Registry) Remove(token string) {
	r.mu.Lock()
	r.removeLocked(token)
	live := len(r.byToken)
	r.mu.Unlock()

	r.setActive(live)
}

func (r *Registry) removeLocked(token string) {
	sess, ok := r.byToken[token]
	if !ok {
		return
	}
	delete(r.byToken, token)
	if room, ok := r.byRoom[sess.RoomID]; ok {
		delete(room, token)
		if len(room) == 0 {
			delete(r.byRoom, sess.RoomID)
		}
	}
}

// InvalidateRoom erases every session for one room and returns the removed
// tokens so callers can close the matching sockets. Cost is proportional
// to that room's membership, not global state size.
func (r *Registry) InvalidateRoom(roomID string) []string {
	r.mu.Lock()
	room, ok := r.byRoom[roomID]
	if !ok {
		r.mu.Unlock()
		return nil
	}

	tokens := make([]string, 0, len(room))
	for token := range room {
		tokens = append(tokens, token)
		delete(r.byToken, token)
	}
	delete(r.byRoom, roomID)
	live := len(r.byToken)
	r.mu.Unlock()

	r.setActive(live)
	r.logger.Info("invalidated room sessions",
		zap.String("room_id", roomID), zap.Int("count", len(tokens)))
	return tokens
}

// Sweep evicts every expired session and returns how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var evicted int
	for token, sess := range r.byToken {
		if sess.ConnectedAt.Before(cutoff) {
			r.removeLocked(token)
			evicted++
		}
	}
	live := len(r.byToken)
	r.mu.Unlock()

	if evicted > 0 {
		r.setActive(live)
		if r.metrics != nil {
			r.metrics.SessionsExpired.Add(float64(evicted))
		}
		r.logger.Debug("swept expired sessions", zap.Int("count", evicted))
	}
	return evicted
}

// Run sweeps on the given interval until ctx is canceled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}

func (r *Registry) setActive(live int) {
	if r.metrics != nil {
		r.metrics.SessionsActive.Set(float64(live))
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byToken)
}

// CountRoom returns the number of live sessions for one room.
func (r *Registry) CountRoom(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byRoom[roomID])
}
