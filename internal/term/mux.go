package term

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
	"github.com/warroomhq/warroom/internal/infrastructure/monitoring"
)

// ErrNotFound means no session exists for the key.
var ErrNotFound = errors.New("term: session not found")

// ErrClosed means the session's backing process has exited.
var ErrClosed = errors.New("term: session closed")

// CapacityError is returned when a room is at its session ceiling. Unlike
// most protocol violations it is reported to the client before the socket
// closes, so the user sees "limit reached" rather than a dead connection.
type CapacityError struct {
	Limit int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("term: room at session capacity (%d)", e.Limit)
}

// Key identifies one terminal slot.
type Key struct {
	RoomID   string
	TabID    string
	SubTabID string
}

// Viewer is one attached socket. Output must not block; false means the
// viewer is dead and will be detached and closed. All attached viewers
// have equal write access to the shared process.
type Viewer interface {
	Output(data []byte) bool
	Close()
}

// DefaultBufferBytes caps the replay buffer per session.
const DefaultBufferBytes = 256 * 1024

// DefaultMaxPerRoom caps concurrent sessions per room.
const DefaultMaxPerRoom = 50

// Mux shares one backing shell process among N viewer sockets per key.
// Output is identical for every viewer and late joiners replay recent
// history before seeing live output.
type Mux struct {
	spawner    Spawner
	shell      string
	bufBytes   int
	maxPerRoom int
	logger     *logging.Logger
	metrics    *monitoring.Metrics

	mu       sync.Mutex
	sessions map[Key]*Session
	byRoom   map[string]map[Key]struct{}
}

// Option configures a Mux.
type Option func(*Mux)

// WithShell overrides the spawned shell.
func WithShell(shell string) Option {
	return func(m *Mux) { m.shell = shell }
}

// WithBufferBytes overrides the replay buffer cap.
func WithBufferBytes(n int) Option {
	return func(m *Mux) { m.bufBytes = n }
}

// WithMaxPerRoom overrides the per-room session ceiling.
func WithMaxPerRoom(n int) Option {
	return func(m *Mux) { m.maxPerRoom = n }
}

// WithMetrics attaches terminal telemetry.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Mux) { m.metrics = metrics }
}

// NewMux creates a multiplexer spawning processes through spawner.
func NewMux(spawner Spawner, logger *logging.Logger, opts ...Option) *Mux {
	m := &Mux{
		spawner:    spawner,
		bufBytes:   DefaultBufferBytes,
		maxPerRoom: DefaultMaxPerRoom,
		logger:     logger,
		sessions:   make(map[Key]*Session),
		byRoom:     make(map[string]map[Key]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Session is one shared terminal: a backing process, its replay buffer,
// and the set of attached viewers.
type Session struct {
	key  Key
	proc Proc
	buf  *Buffer

	mu      sync.Mutex
	viewers map[Viewer]struct{}
	closed  bool
}

// Attach connects a viewer to the session for key, spawning the backing
// process on first use. The replay buffer is delivered to the viewer, in
// original order, before any further output is fanned out. Returns a
// *CapacityError when the room is at its ceiling.
func (m *Mux) Attach(key Key, v Viewer, cols, rows uint16) error {
	cols, rows = clampSize(cols, rows)

	m.mu.Lock()
	sess, ok := m.sessions[key]
	if !ok {
		if len(m.byRoom[key.RoomID]) >= m.maxPerRoom {
			limit := m.maxPerRoom
			m.mu.Unlock()
			return &CapacityError{Limit: limit}
		}

		proc, err := m.spawner.Spawn(m.shell, cols, rows)
		if err != nil {
			m.mu.Unlock()
			return fmt.Errorf("failed to spawn terminal: %w", err)
		}

		sess = &Session{
			key:     key,
			proc:    proc,
			buf:     NewBuffer(m.bufBytes),
			viewers: make(map[Viewer]struct{}),
		}
		m.sessions[key] = sess
		room, exists := m.byRoom[key.RoomID]
		if !exists {
			room = make(map[Key]struct{})
			m.byRoom[key.RoomID] = room
		}
		room[key] = struct{}{}

		go m.pump(sess)

		if m.metrics != nil {
			m.metrics.PTYSpawned.Inc()
			m.metrics.PTYSessionsActive.Set(float64(len(m.sessions)))
		}
		m.logger.Info("spawned terminal session",
			zap.String("room_id", key.RoomID),
			zap.String("tab_id", key.TabID),
			zap.String("sub_tab_id", key.SubTabID))
	}
	m.mu.Unlock()

	if err := sess.attach(v); err != nil {
		return err
	}
	if m.metrics != nil {
		m.metrics.PTYViewers.Inc()
	}
	return nil
}

// attach replays history to the viewer and adds it to the fan-out set,
// atomically with respect to fanOut, which guarantees replay ordering.
func (s *Session) attach(v Viewer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if replay := s.buf.Snapshot(); len(replay) > 0 {
		v.Output(replay)
	}
	s.viewers[v] = struct{}{}
	return nil
}

// Detach removes a viewer from the fan-out set only. The process survives
// with any number of viewers, including zero, until explicit teardown or
// natural exit.
func (m *Mux) Detach(key Key, v Viewer) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	_, attached := sess.viewers[v]
	delete(sess.viewers, v)
	sess.mu.Unlock()

	if attached && m.metrics != nil {
		m.metrics.PTYViewers.Dec()
	}
}

// Input forwards data verbatim to the backing process.
func (m *Mux) Input(key Key, data []byte) error {
	sess, err := m.session(key)
	if err != nil {
		return err
	}
	if _, err := sess.proc.Write(data); err != nil {
		return fmt.Errorf("failed to write to terminal: %w", err)
	}
	return nil
}

// Resize changes the backing terminal's dimensions, clamped to at least
// one column and one row.
func (m *Mux) Resize(key Key, cols, rows uint16) error {
	sess, err := m.session(key)
	if err != nil {
		return err
	}
	cols, rows = clampSize(cols, rows)
	return sess.proc.Resize(cols, rows)
}

func (m *Mux) session(key Key) (*Session, error) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	sess.mu.Lock()
	closed := sess.closed
	sess.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return sess, nil
}

// pump reads process output, appends it to the replay buffer, and fans it
// out until the process exits, then tears the session down.
func (m *Mux) pump(sess *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := sess.proc.Read(buf)
		if n > 0 {
			sess.fanOut(buf[:n])
		}
		if err != nil {
			break
		}
	}
	sess.proc.Wait()
	m.remove(sess, "process exit")
}

// fanOut appends one chunk to the buffer and delivers it to every
// attached viewer. Dead viewers are detached and closed on the spot so
// the viewer set never retains a closed socket.
func (s *Session) fanOut(chunk []byte) {
	data := make([]byte, len(chunk))
	copy(data, chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf.Write(data)
	for v := range s.viewers {
		if !v.Output(data) {
			delete(s.viewers, v)
			v.Close()
		}
	}
}

// remove deletes the session and closes every attached viewer. Idempotent:
// explicit teardown and natural exit race here safely.
func (m *Mux) remove(sess *Session, reason string) {
	m.mu.Lock()
	if current, ok := m.sessions[sess.key]; ok && current == sess {
		delete(m.sessions, sess.key)
		if room, exists := m.byRoom[sess.key.RoomID]; exists {
			delete(room, sess.key)
			if len(room) == 0 {
				delete(m.byRoom, sess.key.RoomID)
			}
		}
	}
	sessionCount := len(m.sessions)
	m.mu.Unlock()

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	viewers := make([]Viewer, 0, len(sess.viewers))
	for v := range sess.viewers {
		viewers = append(viewers, v)
	}
	sess.viewers = make(map[Viewer]struct{})
	sess.mu.Unlock()

	for _, v := range viewers {
		v.Close()
	}

	if m.metrics != nil {
		m.metrics.PTYSessionsActive.Set(float64(sessionCount))
		m.metrics.PTYViewers.Sub(float64(len(viewers)))
	}
	m.logger.Info("terminal session removed",
		zap.String("room_id", sess.key.RoomID),
		zap.String("tab_id", sess.key.TabID),
		zap.String("sub_tab_id", sess.key.SubTabID),
		zap.String("reason", reason))
}

// CloseSession tears down one terminal slot: tab delete or administrative
// reset for a single terminal.
func (m *Mux) CloseSession(key Key) {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.proc.Kill()
	m.remove(sess, "teardown")
}

// CloseTab tears down every terminal slot owned by one tab.
func (m *Mux) CloseTab(roomID, tabID string) int {
	return m.closeMatching(roomID, func(key Key) bool { return key.TabID == tabID })
}

// CloseRoom tears down every terminal session in one room, leaving other
// rooms untouched.
func (m *Mux) CloseRoom(roomID string) int {
	return m.closeMatching(roomID, func(Key) bool { return true })
}

func (m *Mux) closeMatching(roomID string, match func(Key) bool) int {
	m.mu.Lock()
	var targets []*Session
	for key := range m.byRoom[roomID] {
		if match(key) {
			if sess, ok := m.sessions[key]; ok {
				targets = append(targets, sess)
			}
		}
	}
	m.mu.Unlock()

	for _, sess := range targets {
		sess.proc.Kill()
		m.remove(sess, "teardown")
	}
	return len(targets)
}

// CloseAll terminates every backing process and closes every viewer.
// Called during graceful shutdown.
func (m *Mux) CloseAll() {
	m.mu.Lock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		targets = append(targets, sess)
	}
	m.mu.Unlock()

	for _, sess := range targets {
		sess.proc.Kill()
		m.remove(sess, "shutdown")
	}
}

// Count returns the number of live sessions.
func (m *Mux) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RoomCount returns the number of live sessions in one room.
func (m *Mux) RoomCount(roomID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byRoom[roomID])
}

// ViewerCount returns the number of viewers attached to one session.
func (m *Mux) ViewerCount(key Key) int {
	m.mu.Lock()
	sess, ok := m.sessions[key]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.viewers)
}

func clampSize(cols, rows uint16) (uint16, uint16) {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	return cols, rows
}
