package governor

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/warroomhq/warroom/internal/infrastructure/monitoring"
)

// ErrClosed is returned by Read after the connection is torn down.
var ErrClosed = errors.New("governor: connection closed")

// Defaults applied to every socket uniformly.
const (
	DefaultMaxMessageBytes   = 64 * 1024
	DefaultMessagesPerSecond = 100
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultSendQueueSize     = 256

	// hardLimitFactor bounds how much of an oversized frame is read
	// before the transport gives up on the connection entirely. Frames
	// between the ceiling and this bound are swallowed silently.
	hardLimitFactor = 4

	writeWait = 10 * time.Second
)

// Config tunes one governed connection.
type Config struct {
	MaxMessageBytes   int64
	MessagesPerSecond int
	HeartbeatInterval time.Duration
	SendQueueSize     int
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		MaxMessageBytes:   DefaultMaxMessageBytes,
		MessagesPerSecond: DefaultMessagesPerSecond,
		HeartbeatInterval: DefaultHeartbeatInterval,
		SendQueueSize:     DefaultSendQueueSize,
	}
}

type frame struct {
	binary  bool
	payload []byte
	value   any
}

// Conn wraps a websocket connection with the uniform connection policy:
// oversized frames and frames beyond the per-second rate window are
// dropped silently, and a ping/pong heartbeat force-closes unresponsive
// sockets through the same path as a clean close. Conn also serializes
// all writes through a single pump, so it is safe to hand to the
// broadcast bus and the terminal fan-out concurrently.
type Conn struct {
	ws      *websocket.Conn
	cfg     Config
	limiter *rate.Limiter
	metrics *monitoring.Metrics
	channel string

	send      chan frame
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Conn.
type Option func(*Conn)

// WithMetrics attaches drop telemetry under the given channel label.
func WithMetrics(m *monitoring.Metrics, channel string) Option {
	return func(c *Conn) {
		c.metrics = m
		c.channel = channel
	}
}

// Wrap applies the governor to an upgraded websocket connection and
// starts its write pump.
func Wrap(ws *websocket.Conn, cfg Config, opts ...Option) *Conn {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = DefaultSendQueueSize
	}

	c := &Conn{
		ws:      ws,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.MessagesPerSecond), cfg.MessagesPerSecond),
		send:    make(chan frame, cfg.SendQueueSize),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	ws.SetReadLimit(cfg.MaxMessageBytes * hardLimitFactor)
	ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.pongWait()))
	})

	go c.writePump()
	return c
}

// pongWait is how long a socket may stay silent before the heartbeat
// declares it dead.
func (c *Conn) pongWait() time.Duration {
	return c.cfg.HeartbeatInterval * 2
}

// Read blocks for the next accepted frame. Oversized and over-rate
// frames are swallowed without a reply and the connection stays open;
// the peer sees nothing it could distinguish from network loss.
func (c *Conn) Read() ([]byte, error) {
	for {
		select {
		case <-c.done:
			return nil, ErrClosed
		default:
		}

		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if int64(len(data)) > c.cfg.MaxMessageBytes {
			c.recordDrop("oversized")
			continue
		}
		if !c.limiter.Allow() {
			c.recordDrop("rate")
			continue
		}
		return data, nil
	}
}

// Send enqueues one JSON frame. Returns false when the queue is full or
// the connection is closed; a full queue means the peer is not draining
// and the message is dropped rather than blocking the caller.
func (c *Conn) Send(v any) bool {
	select {
	case c.send <- frame{value: v}:
		return true
	case <-c.done:
		return false
	default:
		c.recordDrop("backpressure")
		return false
	}
}

// Output enqueues one binary frame with no envelope. Same semantics as
// Send. Satisfies the terminal viewer contract.
func (c *Conn) Output(data []byte) bool {
	payload := make([]byte, len(data))
	copy(payload, data)
	select {
	case c.send <- frame{binary: true, payload: payload}:
		return true
	case <-c.done:
		return false
	default:
		c.recordDrop("backpressure")
		return false
	}
}

// SendFinal writes one JSON frame directly, bypassing the queue, so it
// reaches the wire before an immediately following Close. Only valid
// while no other goroutine can be writing data frames on this
// connection, which holds during connection setup.
func (c *Conn) SendFinal(v any) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

// Close tears the connection down. Idempotent; every exit path of both
// pumps funnels through here so cleanup runs exactly once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// writePump serializes all writes and drives the heartbeat. An
// unresponsive socket fails its ping write or its read deadline and ends
// up force-closed like any other disconnect.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-c.done:
			return
		case f := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			var err error
			if f.binary {
				err = c.ws.WriteMessage(websocket.BinaryMessage, f.payload)
			} else {
				err = c.ws.WriteJSON(f.value)
			}
			if err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *Conn) recordDrop(reason string) {
	if c.metrics != nil {
		c.metrics.RecordWSDrop(c.channel, reason)
	}
}
