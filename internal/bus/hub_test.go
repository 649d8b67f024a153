package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warroomhq/warroom/internal/infrastructure/logging"
)

// fakeConn records sent messages in order.
type fakeConn struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

func (f *fakeConn) Send(v any) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	f.sent = append(f.sent, v)
	return true
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestClient(roomID, nickname, tab string) (*Client, *fakeConn) {
	conn := &fakeConn{}
	return NewClient(conn, roomID, nickname, "tok-"+nickname, tab), conn
}

func TestJoinReturnsRoster(t *testing.T) {
	b := New(logging.NewNop())

	alice, _ := newTestClient("room1", "alice", "tab1")
	bob, _ := newTestClient("room1", "bob", "tab2")

	roster := b.Join(alice)
	assert.Len(t, roster, 1)

	roster = b.Join(bob)
	assert.ElementsMatch(t, []Presence{
		{Nickname: "alice", ActiveTabID: "tab1"},
		{Nickname: "bob", ActiveTabID: "tab2"},
	}, roster)
}

func TestBroadcastExcludesSender(t *testing.T) {
	b := New(logging.NewNop())

	alice, aliceConn := newTestClient("room1", "alice", "tab1")
	bob, bobConn := newTestClient("room1", "bob", "tab1")
	b.Join(alice)
	b.Join(bob)

	b.Broadcast("room1", "hello", alice)

	assert.Empty(t, aliceConn.messages())
	assert.Equal(t, []any{"hello"}, bobConn.messages())
}

func TestBroadcastIsRoomScoped(t *testing.T) {
	b := New(logging.NewNop())

	alice, _ := newTestClient("room1", "alice", "tab1")
	carol, carolConn := newTestClient("room2", "carol", "tab1")
	b.Join(alice)
	b.Join(carol)

	b.Broadcast("room1", "secret", nil)

	assert.Empty(t, carolConn.messages())
}

func TestBroadcastPreservesSendOrder(t *testing.T) {
	b := New(logging.NewNop())

	alice, _ := newTestClient("room1", "alice", "tab1")
	bob, bobConn := newTestClient("room1", "bob", "tab1")
	b.Join(alice)
	b.Join(bob)

	for i := 0; i < 10; i++ {
		b.Broadcast("room1", i, alice)
	}

	assert.Equal(t, []any{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, bobConn.messages())
}

func TestLeaveDeletesEmptyRoom(t *testing.T) {
	b := New(logging.NewNop())

	alice, _ := newTestClient("room1", "alice", "tab1")
	b.Join(alice)
	assert.Equal(t, 1, b.MemberCount("room1"))

	b.Leave(alice)
	assert.Equal(t, 0, b.MemberCount("room1"))

	// Leaving twice is harmless.
	b.Leave(alice)
}

func TestTabSwitchVisibleInRoster(t *testing.T) {
	b := New(logging.NewNop())

	alice, _ := newTestClient("room1", "alice", "tab1")
	b.Join(alice)

	alice.SetActiveTab("tab9")

	roster := b.Roster("room1")
	assert.Equal(t, []Presence{{Nickname: "alice", ActiveTabID: "tab9"}}, roster)
}

func TestCloseRoomIsIsolated(t *testing.T) {
	b := New(logging.NewNop())

	alice, aliceConn := newTestClient("room1", "alice", "tab1")
	bob, bobConn := newTestClient("room1", "bob", "tab1")
	carol, carolConn := newTestClient("room2", "carol", "tab1")
	b.Join(alice)
	b.Join(bob)
	b.Join(carol)

	closed := b.CloseRoom("room1")

	assert.Equal(t, 2, closed)
	assert.True(t, aliceConn.isClosed())
	assert.True(t, bobConn.isClosed())
	assert.False(t, carolConn.isClosed())
	assert.Equal(t, 0, b.MemberCount("room1"))
	assert.Equal(t, 1, b.MemberCount("room2"))
}

func TestCloseAll(t *testing.T) {
	b := New(logging.NewNop())

	alice, aliceConn := newTestClient("room1", "alice", "tab1")
	carol, carolConn := newTestClient("room2", "carol", "tab1")
	b.Join(alice)
	b.Join(carol)

	b.CloseAll()

	assert.True(t, aliceConn.isClosed())
	assert.True(t, carolConn.isClosed())
	assert.Equal(t, 0, b.MemberCount("room1"))
	assert.Equal(t, 0, b.MemberCount("room2"))
}

func TestClientByToken(t *testing.T) {
	b := New(logging.NewNop())

	alice, _ := newTestClient("room1", "alice", "tab1")
	bob, _ := newTestClient("room1", "bob", "tab1")
	b.Join(alice)
	b.Join(bob)

	assert.Same(t, alice, b.ClientByToken("room1", "tok-alice"))
	assert.Nil(t, b.ClientByToken("room2", "tok-alice"))
	assert.Nil(t, b.ClientByToken("room1", ""))
	assert.Nil(t, b.ClientByToken("room1", "tok-unknown"))
}
