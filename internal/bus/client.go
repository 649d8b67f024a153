package bus

import "sync"

// Conn is the transport half of a sync client. The websocket layer
// implements it with a pumped gorilla connection; tests implement it with
// an in-memory recorder. Send must not block: a receiver that cannot keep
// up reports false and is treated as dead.
type Conn interface {
	Send(v any) bool
	Close()
}

// Client is the ephemeral per-socket identity on the broadcast bus. Its
// lifetime equals the socket's lifetime.
type Client struct {
	conn     Conn
	Nickname string
	Token    string
	RoomID   string

	mu          sync.Mutex
	activeTabID string
}

// NewClient binds a transport connection to an authenticated identity.
func NewClient(conn Conn, roomID, nickname, token, activeTabID string) *Client {
	return &Client{
		conn:        conn,
		RoomID:      roomID,
		Nickname:    nickname,
		Token:       token,
		activeTabID: activeTabID,
	}
}

// ActiveTab returns the tab the user is currently viewing.
func (c *Client) ActiveTab() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeTabID
}

// SetActiveTab records a tab switch.
func (c *Client) SetActiveTab(tabID string) {
	c.mu.Lock()
	c.activeTabID = tabID
	c.mu.Unlock()
}

// Send enqueues one message for this client.
func (c *Client) Send(v any) bool {
	return c.conn.Send(v)
}

// Close tears down the transport.
func (c *Client) Close() {
	c.conn.Close()
}
