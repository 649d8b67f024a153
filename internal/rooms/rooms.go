// Package rooms owns the persisted room structure (tabs and their
// terminal slots) and the teardown orchestration that keeps every
// per-room table (sessions, sockets, locks, PTYs) consistent when a
// room or tab goes away.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/shared/id"
	"github.com/warroomhq/warroom/internal/store"
)

// ErrNotFound means the room document does not exist.
var ErrNotFound = errors.New("rooms: room not found")

// Terminal is one terminal slot within a tab.
type Terminal struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Tab is a named workstream within a room.
type Tab struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Terminals []Terminal `json:"terminals"`
}

// Room is the persisted top-level isolation boundary.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Tabs      []Tab     `json:"tabs"`
}

// Service reads and mutates room documents through the state store, with
// a small read cache invalidated by the store's post-write hook.
type Service struct {
	store  *store.Store
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]Room
}

// NewService creates a room service backed by s.
func NewService(s *store.Store, logger *logging.Logger) *Service {
	return &Service{
		store:  s,
		logger: logger,
		cache:  make(map[string]Room),
	}
}

func roomKey(roomID string) string {
	return fmt.Sprintf("rooms/%s/room.json", roomID)
}

// Create persists a new room with one default tab.
func (s *Service) Create(ctx context.Context, name string) (Room, error) {
	room := Room{
		ID:        id.NewRoomID().String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Tabs: []Tab{{
			ID:        "tab-1",
			Name:      "Main",
			Terminals: []Terminal{{ID: "term-1", Name: "Terminal 1"}},
		}},
	}

	err := s.update(ctx, room.ID, func(doc *Room) (any, error) {
		*doc = room
		return nil, nil
	})
	if err != nil {
		return Room{}, err
	}
	s.logger.Info("room created",
		zap.String("room_id", room.ID), zap.String("name", room.Name))
	return room, nil
}

// Get returns one room document, from cache when warm.
func (s *Service) Get(ctx context.Context, roomID string) (Room, error) {
	s.mu.RLock()
	cached, warm := s.cache[roomID]
	s.mu.RUnlock()
	if warm {
		return cached, nil
	}

	doc, err := store.Load(ctx, s.store, roomKey(roomID), Room{})
	if err != nil {
		return Room{}, err
	}
	if doc.ID == "" {
		return Room{}, ErrNotFound
	}

	s.mu.Lock()
	s.cache[roomID] = doc
	s.mu.Unlock()
	return doc, nil
}

// TabExists reports whether the room's tab list contains tabID. Consumed
// by the terminal endpoint before attaching a viewer.
func (s *Service) TabExists(ctx context.Context, roomID, tabID string) (bool, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, tab := range room.Tabs {
		if tab.ID == tabID {
			return true, nil
		}
	}
	return false, nil
}

// AddTab appends a tab to the room.
func (s *Service) AddTab(ctx context.Context, roomID string, tab Tab) error {
	return s.update(ctx, roomID, func(doc *Room) (any, error) {
		if doc.ID == "" {
			return nil, ErrNotFound
		}
		doc.Tabs = append(doc.Tabs, tab)
		return nil, nil
	})
}

// RemoveTab deletes a tab from the room document. Terminal teardown is
// the Teardown coordinator's job.
func (s *Service) RemoveTab(ctx context.Context, roomID, tabID string) error {
	return s.update(ctx, roomID, func(doc *Room) (any, error) {
		if doc.ID == "" {
			return nil, ErrNotFound
		}
		kept := doc.Tabs[:0]
		for _, tab := range doc.Tabs {
			if tab.ID != tabID {
				kept = append(kept, tab)
			}
		}
		doc.Tabs = kept
		return nil, nil
	})
}

// Delete removes the room document from disk and drops the cached copy,
// so a torn-down room cannot be fetched or rejoined. Live state teardown
// runs separately.
func (s *Service) Delete(ctx context.Context, roomID string) error {
	if err := s.store.Remove(ctx, roomKey(roomID)); err != nil {
		return err
	}
	s.invalidate(roomID)
	s.logger.Info("room deleted", zap.String("room_id", roomID))
	return nil
}

func (s *Service) update(ctx context.Context, roomID string, mutator func(*Room) (any, error)) error {
	_, err := store.UpdateWith(ctx, s.store, roomKey(roomID), Room{}, mutator, store.UpdateOptions{
		PostWrite: func(string) error {
			s.invalidate(roomID)
			return nil
		},
	})
	return err
}

func (s *Service) invalidate(roomID string) {
	s.mu.Lock()
	delete(s.cache, roomID)
	s.mu.Unlock()
}
