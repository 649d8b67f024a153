// Package http carries the REST handlers for room administration. The
// collaborative protocol itself lives on the websocket endpoints; these
// handlers only create and dismantle the structure the sockets attach to.
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/rooms"
	"github.com/warroomhq/warroom/internal/session"
	"github.com/warroomhq/warroom/internal/shared/validation"
)

// Handlers bundle the room admin surface.
type Handlers struct {
	rooms    *rooms.Service
	teardown *rooms.Teardown
	registry *session.Registry
	logger   *logging.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(roomSvc *rooms.Service, teardown *rooms.Teardown, registry *session.Registry, logger *logging.Logger) *Handlers {
	return &Handlers{
		rooms:    roomSvc,
		teardown: teardown,
		registry: registry,
		logger:   logger,
	}
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// CreateRoomRequest is the body for POST /rooms.
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateRoom provisions a new room with its default tab.
func (h *Handlers) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room request"})
		return
	}
	if err := validation.RoomName(req.Name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.rooms.Create(c.Request.Context(), req.Name)
	if err != nil {
		h.logger.Error("failed to create room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create room"})
		return
	}
	c.JSON(http.StatusCreated, room)
}

// GetRoom returns one room document.
func (h *Handlers) GetRoom(c *gin.Context) {
	room, err := h.rooms.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		h.logger.Error("failed to load room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}
	c.JSON(http.StatusOK, room)
}

// JoinRoomRequest is the body for POST /rooms/:id/join.
type JoinRoomRequest struct {
	Nickname string `json:"nickname" binding:"required"`
}

// JoinRoom mints a session token for the websocket endpoints.
// Credential checks happen upstream of this server.
func (h *Handlers) JoinRoom(c *gin.Context) {
	var req JoinRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid join request"})
		return
	}
	if err := validation.Nickname(req.Nickname); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	roomID := c.Param("id")
	if _, err := h.rooms.Get(c.Request.Context(), roomID); err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		h.logger.Error("failed to load room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load room"})
		return
	}

	token, err := h.registry.Create(roomID, req.Nickname)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "roomId": roomID})
}

// AddTabRequest is the body for POST /rooms/:id/tabs.
type AddTabRequest struct {
	ID   string `json:"id" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// AddTab appends a tab to a room.
func (h *Handlers) AddTab(c *gin.Context) {
	var req AddTabRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tab request"})
		return
	}
	if err := validation.TabID(req.ID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.rooms.AddTab(c.Request.Context(), c.Param("id"), rooms.Tab{
		ID:   req.ID,
		Name: req.Name,
	})
	if err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		h.logger.Error("failed to add tab", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to add tab"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

// RemoveTab deletes a tab and kills its terminal sessions.
func (h *Handlers) RemoveTab(c *gin.Context) {
	roomID, tabID := c.Param("id"), c.Param("tabId")
	if err := h.rooms.RemoveTab(c.Request.Context(), roomID, tabID); err != nil {
		if errors.Is(err, rooms.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		h.logger.Error("failed to remove tab", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to remove tab"})
		return
	}
	h.teardown.Tab(roomID, tabID)
	c.Status(http.StatusNoContent)
}

// DeleteRoom dismantles all state for a room: sessions, sync sockets,
// edit locks, PTY sessions and the room document itself.
func (h *Handlers) DeleteRoom(c *gin.Context) {
	if err := h.teardown.Room(c.Request.Context(), c.Param("id")); err != nil {
		h.logger.Error("failed to delete room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete room"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RotateSessions invalidates every session in the room and closes its
// sync sockets, the server side of a credential rotation.
func (h *Handlers) RotateSessions(c *gin.Context) {
	invalidated := h.teardown.InvalidateSessions(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"invalidated": invalidated})
}
