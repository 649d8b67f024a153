package term

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
)

// fakeProc is an in-memory Proc whose output is driven by the test.
type fakeProc struct {
	pr *io.PipeReader
	pw *io.PipeWriter

	mu      sync.Mutex
	input   bytes.Buffer
	cols    uint16
	rows    uint16
	killed  bool
	exited  chan struct{}
	echoing bool
}

func newFakeProc() *fakeProc {
	pr, pw := io.Pipe()
	return &fakeProc{pr: pr, pw: pw, exited: make(chan struct{})}
}

func (p *fakeProc) Read(buf []byte) (int, error) { return p.pr.Read(buf) }

func (p *fakeProc) Write(buf []byte) (int, error) {
	p.mu.Lock()
	p.input.Write(buf)
	echo := p.echoing
	p.mu.Unlock()
	if echo {
		p.pw.Write(buf)
	}
	return len(buf), nil
}

func (p *fakeProc) Resize(cols, rows uint16) error {
	p.mu.Lock()
	p.cols, p.rows = cols, rows
	p.mu.Unlock()
	return nil
}

func (p *fakeProc) Kill() error {
	p.mu.Lock()
	if !p.killed {
		p.killed = true
		close(p.exited)
		p.pw.Close()
	}
	p.mu.Unlock()
	return nil
}

func (p *fakeProc) Wait() error {
	<-p.exited
	return nil
}

// emit simulates process output.
func (p *fakeProc) emit(data string) { p.pw.Write([]byte(data)) }

// exit simulates the process dying on its own.
func (p *fakeProc) exit() { p.Kill() }

func (p *fakeProc) inputString() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input.String()
}

func (p *fakeProc) size() (uint16, uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cols, p.rows
}

// fakeSpawner hands out fakeProcs and records spawn calls.
type fakeSpawner struct {
	mu     sync.Mutex
	procs  []*fakeProc
	failed error
}

func (s *fakeSpawner) Spawn(shell string, cols, rows uint16) (Proc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed != nil {
		return nil, s.failed
	}
	p := newFakeProc()
	p.cols, p.rows = cols, rows
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) spawnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) proc(i int) *fakeProc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

// fakeViewer records output chunks in arrival order.
type fakeViewer struct {
	mu     sync.Mutex
	chunks [][]byte
	closed bool
	dead   bool
}

func (v *fakeViewer) Output(data []byte) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dead {
		return false
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	v.chunks = append(v.chunks, chunk)
	return true
}

func (v *fakeViewer) Close() {
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
}

func (v *fakeViewer) received() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	var all []byte
	for _, c := range v.chunks {
		all = append(all, c...)
	}
	return all
}

func (v *fakeViewer) firstChunk() []byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.chunks) == 0 {
		return nil
	}
	return v.chunks[0]
}

func (v *fakeViewer) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

var testKey = Key{RoomID: "room1", TabID: "tab1", SubTabID: "t1"}

func newTestMux(t *testing.T, opts ...Option) (*Mux, *fakeSpawner) {
	t.Helper()
	spawner := &fakeSpawner{}
	m := NewMux(spawner, logging.NewNop(), opts...)
	t.Cleanup(m.CloseAll)
	return m, spawner
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestAttachSpawnsOnce(t *testing.T) {
	m, spawner := newTestMux(t)

	v1 := &fakeViewer{}
	v2 := &fakeViewer{}
	require.NoError(t, m.Attach(testKey, v1, 80, 24))
	require.NoError(t, m.Attach(testKey, v2, 80, 24))

	assert.Equal(t, 1, spawner.spawnCount())
	assert.Equal(t, 2, m.ViewerCount(testKey))
}

func TestAllViewersSeeIdenticalOutput(t *testing.T) {
	m, spawner := newTestMux(t)
	spawnEcho := func() *fakeProc {
		p := spawner.proc(0)
		p.mu.Lock()
		p.echoing = true
		p.mu.Unlock()
		return p
	}

	v1 := &fakeViewer{}
	v2 := &fakeViewer{}
	require.NoError(t, m.Attach(testKey, v1, 80, 24))
	require.NoError(t, m.Attach(testKey, v2, 80, 24))
	proc := spawnEcho()

	require.NoError(t, m.Input(testKey, []byte("ls\n")))

	waitFor(t, func() bool { return len(v1.received()) > 0 && len(v2.received()) > 0 },
		"both viewers should receive output")

	assert.Equal(t, "ls\n", proc.inputString())
	assert.Equal(t, v1.received(), v2.received())
}

func TestLateJoinerReplaysHistoryFirst(t *testing.T) {
	m, spawner := newTestMux(t)

	v1 := &fakeViewer{}
	require.NoError(t, m.Attach(testKey, v1, 80, 24))
	proc := spawner.proc(0)

	proc.emit("early output")
	waitFor(t, func() bool { return len(v1.received()) == len("early output") },
		"first viewer should see the early output")

	v2 := &fakeViewer{}
	require.NoError(t, m.Attach(testKey, v2, 80, 24))

	proc.emit(" and more")
	waitFor(t, func() bool { return bytes.Equal(v2.received(), []byte("early output and more")) },
		"late joiner should see history then live output")

	assert.Equal(t, []byte("early output"), v2.firstChunk(),
		"history must arrive before any new output")
}

func TestRoomCapacityCeiling(t *testing.T) {
	m, _ := newTestMux(t, WithMaxPerRoom(2))

	require.NoError(t, m.Attach(Key{RoomID: "room1", TabID: "tab1", SubTabID: "a"}, &fakeViewer{}, 80, 24))
	require.NoError(t, m.Attach(Key{RoomID: "room1", TabID: "tab1", SubTabID: "b"}, &fakeViewer{}, 80, 24))

	err := m.Attach(Key{RoomID: "room1", TabID: "tab1", SubTabID: "c"}, &fakeViewer{}, 80, 24)
	var capErr *CapacityError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, 2, capErr.Limit)

	// The ceiling is per room: another room still gets a session.
	assert.NoError(t, m.Attach(Key{RoomID: "room2", TabID: "tab1", SubTabID: "a"}, &fakeViewer{}, 80, 24))
}

func TestViewerDisconnectLeavesProcessRunning(t *testing.T) {
	m, spawner := newTestMux(t)

	v1 := &fakeViewer{}
	require.NoError(t, m.Attach(testKey, v1, 80, 24))

	m.Detach(testKey, v1)

	assert.Equal(t, 0, m.ViewerCount(testKey))
	assert.Equal(t, 1, m.Count(), "zero viewers must not tear the session down")

	proc := spawner.proc(0)
	proc.mu.Lock()
	killed := proc.killed
	proc.mu.Unlock()
	assert.False(t, killed)
}

func TestProcessExitClosesAllViewers(t *testing.T) {
	m, spawner := newTestMux(t)

	v1 := &fakeViewer{}
	v2 := &fakeViewer{}
	require.NoError(t, m.Attach(testKey, v1, 80, 24))
	require.NoError(t, m.Attach(testKey, v2, 80, 24))

	spawner.proc(0).exit()

	waitFor(t, func() bool { return m.Count() == 0 }, "session should be removed")
	assert.True(t, v1.isClosed())
	assert.True(t, v2.isClosed())

	assert.ErrorIs(t, m.Input(testKey, []byte("x")), ErrNotFound)
}

func TestDeadViewerIsDetachedOnFanOut(t *testing.T) {
	m, spawner := newTestMux(t)

	v1 := &fakeViewer{}
	dead := &fakeViewer{dead: true}
	require.NoError(t, m.Attach(testKey, v1, 80, 24))
	require.NoError(t, m.Attach(testKey, dead, 80, 24))

	spawner.proc(0).emit("tick")

	waitFor(t, func() bool { return m.ViewerCount(testKey) == 1 },
		"dead viewer should be removed from the fan-out set")
	assert.True(t, dead.isClosed())
}

func TestResizeClampsDimensions(t *testing.T) {
	m, spawner := newTestMux(t)

	require.NoError(t, m.Attach(testKey, &fakeViewer{}, 80, 24))
	require.NoError(t, m.Resize(testKey, 0, 0))

	cols, rows := spawner.proc(0).size()
	assert.Equal(t, uint16(1), cols)
	assert.Equal(t, uint16(1), rows)
}

func TestCloseRoomIsIsolated(t *testing.T) {
	m, _ := newTestMux(t)

	r1a := Key{RoomID: "room1", TabID: "tab1", SubTabID: "a"}
	r1b := Key{RoomID: "room1", TabID: "tab2", SubTabID: "a"}
	r2 := Key{RoomID: "room2", TabID: "tab1", SubTabID: "a"}
	v1, v2, v3 := &fakeViewer{}, &fakeViewer{}, &fakeViewer{}
	require.NoError(t, m.Attach(r1a, v1, 80, 24))
	require.NoError(t, m.Attach(r1b, v2, 80, 24))
	require.NoError(t, m.Attach(r2, v3, 80, 24))

	closed := m.CloseRoom("room1")

	assert.Equal(t, 2, closed)
	assert.True(t, v1.isClosed())
	assert.True(t, v2.isClosed())
	assert.False(t, v3.isClosed())
	assert.Equal(t, 0, m.RoomCount("room1"))
	assert.Equal(t, 1, m.RoomCount("room2"))
}

func TestCloseTab(t *testing.T) {
	m, _ := newTestMux(t)

	tab1 := Key{RoomID: "room1", TabID: "tab1", SubTabID: "a"}
	tab2 := Key{RoomID: "room1", TabID: "tab2", SubTabID: "a"}
	require.NoError(t, m.Attach(tab1, &fakeViewer{}, 80, 24))
	require.NoError(t, m.Attach(tab2, &fakeViewer{}, 80, 24))

	assert.Equal(t, 1, m.CloseTab("room1", "tab1"))
	assert.Equal(t, 1, m.Count())
	assert.Equal(t, 1, m.RoomCount("room1"))
}

func TestSpawnFailurePropagates(t *testing.T) {
	spawner := &fakeSpawner{failed: errors.New("no pty")}
	m := NewMux(spawner, logging.NewNop())

	err := m.Attach(testKey, &fakeViewer{}, 80, 24)
	assert.Error(t, err)
	assert.Equal(t, 0, m.Count())
}
