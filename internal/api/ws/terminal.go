package ws

import (
	"encoding/json"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/governor"
	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/infrastructure/monitoring"
	"github.com/warroomhq/warroom/internal/rooms"
	"github.com/warroomhq/warroom/internal/session"
	"github.com/warroomhq/warroom/internal/term"
)

// terminalEnvelope is the inbound frame shape on the terminal channel.
// Outbound traffic is raw PTY bytes with no envelope at all.
type terminalEnvelope struct {
	Type     string `json:"type"`
	Token    string `json:"token"`
	TabID    string `json:"tabId"`
	SubTabID string `json:"subTabId"`
	Cols     uint16 `json:"cols"`
	Rows     uint16 `json:"rows"`
	Data     string `json:"data"`
}

// TerminalGateway serves /ws/terminal: one socket views (and drives) one
// PTY session, shared with every other viewer of the same key.
type TerminalGateway struct {
	registry *session.Registry
	rooms    *rooms.Service
	mux      *term.Mux
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	cfg      governor.Config
	upgrader websocket.Upgrader
}

// NewTerminalGateway wires the terminal endpoint.
func NewTerminalGateway(registry *session.Registry, roomSvc *rooms.Service, mux *term.Mux, logger *logging.Logger, metrics *monitoring.Metrics, cfg governor.Config) *TerminalGateway {
	return &TerminalGateway{
		registry: registry,
		rooms:    roomSvc,
		mux:      mux,
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

// Handle upgrades the request and runs the terminal session to completion.
func (g *TerminalGateway) Handle(c *gin.Context) {
	ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Debug("terminal upgrade refused", zap.Error(err))
		return
	}

	conn := governor.Wrap(ws, g.cfg, governor.WithMetrics(g.metrics, "terminal"))
	defer conn.Close()

	if g.metrics != nil {
		g.metrics.WSConnections.WithLabelValues("terminal").Inc()
		defer g.metrics.WSConnections.WithLabelValues("terminal").Dec()
	}

	key, ok := g.initialize(c, conn)
	if !ok {
		return
	}
	defer g.mux.Detach(key, conn)

	for {
		data, err := conn.Read()
		if err != nil {
			return
		}

		var msg terminalEnvelope
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if g.metrics != nil {
			g.metrics.RecordWSMessage("terminal", msg.Type)
		}

		switch msg.Type {
		case "input":
			if err := g.mux.Input(key, []byte(msg.Data)); err != nil {
				// Proc already gone; the viewer close is on its way.
				return
			}
		case "resize":
			if err := g.mux.Resize(key, msg.Cols, msg.Rows); err != nil {
				return
			}
		}
	}
}

// initialize consumes the init frame: authenticate, verify the tab still
// exists, then attach this socket as a viewer. A full room replies with
// the capacity error before closing; everything else closes silently.
func (g *TerminalGateway) initialize(c *gin.Context, conn *governor.Conn) (term.Key, bool) {
	data, err := conn.Read()
	if err != nil {
		return term.Key{}, false
	}

	var msg terminalEnvelope
	if err := json.Unmarshal(data, &msg); err != nil || msg.Type != "init" {
		g.logger.Debug("terminal socket sent no init, closing")
		return term.Key{}, false
	}

	sess, err := g.registry.Authenticate(msg.Token)
	if err != nil {
		g.logger.Info("terminal auth rejected", zap.Error(err))
		return term.Key{}, false
	}

	exists, err := g.rooms.TabExists(c.Request.Context(), sess.RoomID, msg.TabID)
	if err != nil || !exists {
		g.logger.Debug("terminal init for unknown tab",
			zap.String("room_id", sess.RoomID), zap.String("tab_id", msg.TabID))
		return term.Key{}, false
	}

	key := term.Key{RoomID: sess.RoomID, TabID: msg.TabID, SubTabID: msg.SubTabID}
	if err := g.mux.Attach(key, conn, msg.Cols, msg.Rows); err != nil {
		var capErr *term.CapacityError
		if errors.As(err, &capErr) {
			conn.SendFinal(map[string]any{
				"type":  "terminal-capacity",
				"limit": capErr.Limit,
			})
		}
		g.logger.Warn("terminal attach failed",
			zap.String("room_id", sess.RoomID), zap.Error(err))
		return term.Key{}, false
	}
	return key, true
}
