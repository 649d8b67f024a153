package ws

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/alerts"
	"github.com/warroomhq/warroom/internal/bus"
	"github.com/warroomhq/warroom/internal/governor"
	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/infrastructure/monitoring"
	"github.com/warroomhq/warroom/internal/locks"
	"github.com/warroomhq/warroom/internal/session"
)

// syncEnvelope is the inbound frame shape on the sync channel. One
// struct covers every message type; unused fields stay empty.
type syncEnvelope struct {
	Type        string `json:"type"`
	Token       string `json:"token"`
	ActiveTabID string `json:"activeTabId"`
	TabID       string `json:"tabId"`
	NoteID      string `json:"noteId"`
	Context     string `json:"context"`
	Title       string `json:"title"`
	Preview     string `json:"preview"`
}

// SyncGateway serves /ws/sync: authenticates the socket against the
// session registry, joins it to the room's broadcast bus and drives the
// presence and edit-lock protocol until disconnect.
type SyncGateway struct {
	registry *session.Registry
	bus      *bus.Bus
	locks    *locks.Manager
	alerts   *alerts.Log
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	cfg      governor.Config
	upgrader websocket.Upgrader
}

// NewSyncGateway wires the sync endpoint.
func NewSyncGateway(registry *session.Registry, b *bus.Bus, l *locks.Manager, a *alerts.Log, logger *logging.Logger, metrics *monitoring.Metrics, cfg governor.Config) *SyncGateway {
	return &SyncGateway{
		registry: registry,
		bus:      b,
		locks:    l,
		alerts:   a,
		logger:   logger,
		metrics:  metrics,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     SameHostOrigin,
		},
	}
}

// Handle upgrades the request and runs the sync session to completion.
func (g *SyncGateway) Handle(c *gin.Context) {
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Debug("sync upgrade refused", zap.Error(err))
		return
	}

	conn := governor.Wrap(ws, g.cfg, governor.WithMetrics(g.metrics, "sync"))
	defer conn.Close()

	if g.metrics != nil {
		g.metrics.WSConnections.WithLabelValues("sync").Inc()
		defer g.metrics.WSConnections.WithLabelValues("sync").Dec()
	}

	client := g.authenticate(conn)
	if client == nil {
		return
	}
	g.serve(c.Request.Context(), conn, client)
}

// authenticate consumes the first frame, which must be a valid auth
// message. Anything else closes the socket without a reply.
func (g *SyncGateway) authenticate(conn *governor.Conn) *bus.Client {
	data, err := conn.Read()
	if err != nil {
		return nil
	}

	var msg syncEnvelope
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "auth" {
		g.logger.Debug("sync socket sent no auth, closing")
		return nil
	}

	sess, err := g.registry.Authenticate(msg.Token)
	if err != nil {
		g.logger.Info("sync auth rejected", zap.Error(err))
		return nil
	}
	return bus.NewClient(conn, sess.RoomID, sess.Nickname, sess.Token, msg.ActiveTabID)
}

func (g *SyncGateway) serve(ctx context.Context, conn *governor.Conn, client *bus.Client) {
	roster := g.bus.Join(client)
	client.Send(map[string]any{"type": "users", "users": roster})
	if held := g.locks.ForRoom(client.RoomID); len(held) > 0 {
		client.Send(map[string]any{"type": "edit-locks", "locks": held})
	}
	g.bus.Broadcast(client.RoomID, map[string]any{
		"type":        "user-joined",
		"nickname":    client.Nickname,
		"activeTabId": client.ActiveTab(),
	}, client)

	defer g.disconnect(client)

	for {
		data, err := conn.Read()
		if err != nil {
			return
		}

		var msg syncEnvelope
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames are dropped like oversized ones.
			continue
		}
		if g.metrics != nil {
			g.metrics.RecordWSMessage("sync", msg.Type)
		}

		switch msg.Type {
		case "tab-switch":
			g.handleTabSwitch(client, msg)
		case "note-editing":
			g.handleNoteEditing(client, msg)
		case "note-edit-done":
			g.locks.Release(locks.Key{
				RoomID: client.RoomID,
				TabID:  msg.TabID,
				NoteID: msg.NoteID,
			}, client.Token)
		case "finding-flagged":
			g.handleFindingFlagged(ctx, client, msg)
		default:
			// Unknown types are dropped silently.
		}
	}
}

func (g *SyncGateway) handleTabSwitch(client *bus.Client, msg syncEnvelope) {
	client.SetActiveTab(msg.TabID)
	g.bus.Broadcast(client.RoomID, map[string]any{
		"type":     "tab-switch",
		"nickname": client.Nickname,
		"tabId":    msg.TabID,
	}, client)
}

func (g *SyncGateway) handleNoteEditing(client *bus.Client, msg syncEnvelope) {
	res := g.locks.Request(locks.Key{
		RoomID: client.RoomID,
		TabID:  msg.TabID,
		NoteID: msg.NoteID,
	}, client.Nickname, client.Token)
	if !res.Granted {
		client.Send(map[string]any{
			"type":     "note-lock-denied",
			"tabId":    msg.TabID,
			"noteId":   msg.NoteID,
			"lockedBy": res.LockedBy,
		})
	}
	// The grant broadcast rides the lock manager's event callback.
}

func (g *SyncGateway) handleFindingFlagged(ctx context.Context, client *bus.Client, msg syncEnvelope) {
	alert, err := g.alerts.Append(ctx, client.RoomID, client.Nickname, msg.Context, msg.Title, msg.Preview)
	if err != nil {
		g.logger.Error("failed to persist flagged finding",
			zap.String("room_id", client.RoomID), zap.Error(err))
		return
	}
	// The flagger already has the finding; only the rest of the room
	// needs the persisted copy.
	g.bus.Broadcast(client.RoomID, map[string]any{
		"type":      "finding-flagged",
		"id":        alert.ID,
		"context":   alert.Context,
		"title":     alert.Title,
		"preview":   alert.Preview,
		"flaggedBy": alert.FlaggedBy,
		"timestamp": alert.Timestamp,
	}, client)
}

// disconnect unwinds a sync socket: leave the bus first so release
// broadcasts cannot bounce back to the leaver, then free the locks and
// tell the room.
func (g *SyncGateway) disconnect(client *bus.Client) {
	g.bus.Leave(client)
	g.locks.ReleaseHolder(client.Token)
	g.bus.Broadcast(client.RoomID, map[string]any{
		"type":     "user-left",
		"nickname": client.Nickname,
	}, nil)
}
