package rooms

import (
	"context"

	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/bus"
	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/locks"
	"github.com/warroomhq/warroom/internal/session"
	"github.com/warroomhq/warroom/internal/term"
)

// Teardown coordinates per-room shutdown across the live state tables.
// Every step is scoped to one room; other rooms keep running.
type Teardown struct {
	service  *Service
	registry *session.Registry
	bus      *bus.Bus
	locks    *locks.Manager
	mux      *term.Mux
	logger   *logging.Logger
}

// NewTeardown wires the coordinator over the live state tables.
func NewTeardown(service *Service, registry *session.Registry, b *bus.Bus, l *locks.Manager, m *term.Mux, logger *logging.Logger) *Teardown {
	return &Teardown{
		service:  service,
		registry: registry,
		bus:      b,
		locks:    l,
		mux:      m,
		logger:   logger,
	}
}

// Room tears down everything attached to one room: sessions are
// invalidated, sync sockets closed, edit locks purged without
// broadcast, PTY sessions killed, and the room document deleted.
func (t *Teardown) Room(ctx context.Context, roomID string) error {
	tokens := t.registry.InvalidateRoom(roomID)
	closed := t.bus.CloseRoom(roomID)
	purged := t.locks.PurgeRoom(roomID)
	killed := t.mux.CloseRoom(roomID)
	if err := t.service.Delete(ctx, roomID); err != nil {
		return err
	}

	t.logger.Info("room torn down",
		zap.String("room_id", roomID),
		zap.Int("sessions", len(tokens)),
		zap.Int("sockets", closed),
		zap.Int("locks", purged),
		zap.Int("terminals", killed))
	return nil
}

// Tab kills the PTY sessions under one tab. Sessions and sockets for
// the room stay up.
func (t *Teardown) Tab(roomID, tabID string) {
	killed := t.mux.CloseTab(roomID, tabID)
	t.logger.Info("tab torn down",
		zap.String("room_id", roomID),
		zap.String("tab_id", tabID),
		zap.Int("terminals", killed))
}

// InvalidateSessions destroys every session for the room and closes the
// attached sync sockets. Used when the room's credentials rotate: locks
// and terminals stay, the users reconnect with the new credentials.
func (t *Teardown) InvalidateSessions(roomID string) int {
	tokens := t.registry.InvalidateRoom(roomID)
	closed := t.bus.CloseRoom(roomID)
	t.logger.Info("room sessions invalidated",
		zap.String("room_id", roomID),
		zap.Int("sessions", len(tokens)),
		zap.Int("sockets", closed))
	return len(tokens)
}
