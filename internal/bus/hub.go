package bus

import (
	"sync"

	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/infrastructure/monitoring"
)

// Presence is one roster entry: who is connected and which tab they view.
type Presence struct {
	Nickname    string `json:"nickname"`
	ActiveTabID string `json:"activeTabId"`
}

// Bus tracks live sync sockets per room and fans out events. Delivery
// preserves send order per sender→receiver pair; there is no cross-room
// or global ordering guarantee.
type Bus struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithMetrics attaches broadcast telemetry.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// New creates an empty broadcast bus.
func New(logger *logging.Logger, opts ...Option) *Bus {
	b := &Bus{
		logger: logger,
		rooms:  make(map[string]map[*Client]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Join adds a client to its room's membership and returns the roster
// snapshot, the joiner included. The caller replies with the roster and
// then broadcasts user-joined to the rest.
func (b *Bus) Join(c *Client) []Presence {
	b.mu.Lock()
	room, ok := b.rooms[c.RoomID]
	if !ok {
		room = make(map[*Client]struct{})
		b.rooms[c.RoomID] = room
	}
	room[c] = struct{}{}

	roster := make([]Presence, 0, len(room))
	for member := range room {
		roster = append(roster, Presence{
			Nickname:    member.Nickname,
			ActiveTabID: member.ActiveTab(),
		})
	}
	roomCount := len(b.rooms)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RoomsActive.Set(float64(roomCount))
	}
	b.logger.Debug("client joined room",
		zap.String("room_id", c.RoomID), zap.String("nickname", c.Nickname))

	return roster
}

// Leave removes a client from its room. An emptied room's membership set
// is deleted to bound memory. Unknown clients are a no-op.
func (b *Bus) Leave(c *Client) {
	b.mu.Lock()
	room, ok := b.rooms[c.RoomID]
	if ok {
		delete(room, c)
		if len(room) == 0 {
			delete(b.rooms, c.RoomID)
		}
	}
	roomCount := len(b.rooms)
	b.mu.Unlock()

	if b.metrics != nil {
		b.metrics.RoomsActive.Set(float64(roomCount))
	}
}

// Broadcast fans a message out to every member of a room, optionally
// excluding one client (usually the sender).
func (b *Bus) Broadcast(roomID string, msg any, except *Client) {
	b.mu.RLock()
	room := b.rooms[roomID]
	targets := make([]*Client, 0, len(room))
	for member := range room {
		if member != except {
			targets = append(targets, member)
		}
	}
	b.mu.RUnlock()

	for _, member := range targets {
		if !member.Send(msg) {
			b.logger.Debug("dropping message for slow client",
				zap.String("room_id", roomID),
				zap.String("nickname", member.Nickname))
		}
	}

	if b.metrics != nil && len(targets) > 0 {
		b.metrics.BroadcastsSent.Add(float64(len(targets)))
	}
}

// Roster returns the current presence list for a room.
func (b *Bus) Roster(roomID string) []Presence {
	b.mu.RLock()
	room := b.rooms[roomID]
	roster := make([]Presence, 0, len(room))
	for member := range room {
		roster = append(roster, Presence{
			Nickname:    member.Nickname,
			ActiveTabID: member.ActiveTab(),
		})
	}
	b.mu.RUnlock()
	return roster
}

// ClientByToken finds a room member by session token. Returns nil when
// no member of the room carries that token.
func (b *Bus) ClientByToken(roomID, token string) *Client {
	if token == "" {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for member := range b.rooms[roomID] {
		if member.Token == token {
			return member
		}
	}
	return nil
}

// CloseRoom force-closes every live socket in one room and erases its
// membership in time proportional to that room's size. Returns how many
// sockets were closed.
func (b *Bus) CloseRoom(roomID string) int {
	b.mu.Lock()
	room := b.rooms[roomID]
	members := make([]*Client, 0, len(room))
	for member := range room {
		members = append(members, member)
	}
	delete(b.rooms, roomID)
	roomCount := len(b.rooms)
	b.mu.Unlock()

	for _, member := range members {
		member.Close()
	}

	if b.metrics != nil {
		b.metrics.RoomsActive.Set(float64(roomCount))
	}
	if len(members) > 0 {
		b.logger.Info("closed room sockets",
			zap.String("room_id", roomID), zap.Int("count", len(members)))
	}
	return len(members)
}

// CloseAll force-closes every socket on the bus. Used during shutdown.
func (b *Bus) CloseAll() {
	b.mu.Lock()
	var members []*Client
	for _, room := range b.rooms {
		for member := range room {
			members = append(members, member)
		}
	}
	b.rooms = make(map[string]map[*Client]struct{})
	b.mu.Unlock()

	for _, member := range members {
		member.Close()
	}
}

// MemberCount returns the number of live sockets in one room.
func (b *Bus) MemberCount(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}
