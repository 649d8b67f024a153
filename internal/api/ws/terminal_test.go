package ws

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warroomhq/warroom/internal/governor"
	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/rooms"
	"github.com/warroomhq/warroom/internal/session"
	"github.com/warroomhq/warroom/internal/store"
	"github.com/warroomhq/warroom/internal/term"
)

// echoProc plays the shell: everything written to it comes straight
// back as output.
type echoProc struct {
	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}
	once sync.Once
}

func newEchoProc() *echoProc {
	pr, pw := io.Pipe()
	return &echoProc{pr: pr, pw: pw, done: make(chan struct{})}
}

func (p *echoProc) Read(b []byte) (int, error)  { return p.pr.Read(b) }
func (p *echoProc) Write(b []byte) (int, error) { return p.pw.Write(b) }
func (p *echoProc) Resize(cols, rows uint16) error {
	return nil
}
func (p *echoProc) Kill() error {
	p.once.Do(func() {
		p.pw.Close()
		close(p.done)
	})
	return nil
}
func (p *echoProc) Wait() error {
	<-p.done
	return nil
}

type echoSpawner struct {
	mu      sync.Mutex
	spawned int
}

func (s *echoSpawner) Spawn(shell string, cols, rows uint16) (term.Proc, error) {
	s.mu.Lock()
	s.spawned++
	s.mu.Unlock()
	return newEchoProc(), nil
}

func (s *echoSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spawned
}

type terminalHarness struct {
	registry *session.Registry
	rooms    *rooms.Service
	mux      *term.Mux
	spawner  *echoSpawner
	roomID   string
	url      string
}

func newTerminalHarness(t *testing.T, muxOpts ...term.Option) *terminalHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := logging.NewNop()

	h := &terminalHarness{
		registry: session.NewRegistry(logger),
		rooms:    rooms.NewService(store.New(t.TempDir(), logger), logger),
		spawner:  &echoSpawner{},
	}
	h.mux = term.NewMux(h.spawner, logger, muxOpts...)

	room, err := h.rooms.Create(context.Background(), "ops")
	require.NoError(t, err)
	h.roomID = room.ID

	gw := NewTerminalGateway(h.registry, h.rooms, h.mux, logger, nil, governor.DefaultConfig())
	router := gin.New()
	router.GET("/ws/terminal", gw.Handle)
	h.url = newWSServer(t, router)
	h.url += "/ws/terminal"
	return h
}

// attach dials and sends the init frame for one viewer.
func (h *terminalHarness) attach(t *testing.T, subTabID string) *websocket.Conn {
	t.Helper()
	token, err := h.registry.Create(h.roomID, "alice")
	require.NoError(t, err)

	conn := dialWS(t, h.url, nil)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "init", "token": token,
		"tabId": "tab-1", "subTabId": subTabID,
		"cols": 80, "rows": 24,
	}))
	return conn
}

// readUntil accumulates binary output frames until want appears.
func readUntil(t *testing.T, conn *websocket.Conn, want []byte) []byte {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []byte
	for {
		kind, data, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for output %q", want)
		if kind != websocket.BinaryMessage {
			continue
		}
		got = append(got, data...)
		if bytes.Contains(got, want) {
			return got
		}
	}
}

func TestTerminalEcho(t *testing.T) {
	h := newTerminalHarness(t)
	conn := h.attach(t, "a")

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "input", "data": "whoami\n",
	}))
	readUntil(t, conn, []byte("whoami\n"))
	assert.Equal(t, 1, h.spawner.count())
}

func TestTerminalSharedSession(t *testing.T) {
	h := newTerminalHarness(t)
	first := h.attach(t, "a")
	second := h.attach(t, "a")

	require.NoError(t, first.WriteJSON(map[string]any{
		"type": "input", "data": "ls\n",
	}))
	readUntil(t, first, []byte("ls\n"))
	readUntil(t, second, []byte("ls\n"))
	assert.Equal(t, 1, h.spawner.count(), "both viewers share one proc")
}

func TestTerminalLateJoinerGetsReplay(t *testing.T) {
	h := newTerminalHarness(t)
	first := h.attach(t, "a")

	require.NoError(t, first.WriteJSON(map[string]any{
		"type": "input", "data": "history\n",
	}))
	readUntil(t, first, []byte("history\n"))

	late := h.attach(t, "a")
	readUntil(t, late, []byte("history\n"))
}

func TestTerminalUnknownTabCloses(t *testing.T) {
	h := newTerminalHarness(t)
	token, err := h.registry.Create(h.roomID, "alice")
	require.NoError(t, err)

	conn := dialWS(t, h.url, nil)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "init", "token": token,
		"tabId": "tab-9", "subTabId": "a",
		"cols": 80, "rows": 24,
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, readErr := conn.ReadMessage()
	assert.Error(t, readErr)
	assert.Equal(t, 0, h.spawner.count())
}

func TestTerminalAuthRejected(t *testing.T) {
	h := newTerminalHarness(t)

	conn := dialWS(t, h.url, nil)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type": "init", "token": "bogus",
		"tabId": "tab-1", "subTabId": "a",
		"cols": 80, "rows": 24,
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, readErr := conn.ReadMessage()
	assert.Error(t, readErr)
}

func TestTerminalCapacityRepliesThenCloses(t *testing.T) {
	h := newTerminalHarness(t, term.WithMaxPerRoom(1))
	h.attach(t, "a")

	over := h.attach(t, "b")
	over.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	require.NoError(t, over.ReadJSON(&reply))
	assert.Equal(t, "terminal-capacity", reply["type"])
	assert.EqualValues(t, 1, reply["limit"])

	_, _, readErr := over.ReadMessage()
	assert.Error(t, readErr, "socket closes after the capacity reply")
}

func newHTTPTestServer(t *testing.T, handler http.Handler) string {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv.URL
}
