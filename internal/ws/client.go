package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxFrameSize   = 4096
	defaultBacklog = 256
)

var (
	// ErrClientClosed is returned by Send after Close.
	ErrClientClosed = errors.New("client closed")
	// ErrSlowConsumer is returned by Send when the client's outbound queue is full.
	ErrSlowConsumer = errors.New("client send queue full")
)

// Client represents a websocket client connection. Sends are queued and written by
// WritePump, the connection's only writer.
type Client struct {
	conn      *websocket.Conn
	log       *slog.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client wrapper with an outbound queue of backlog frames.
func NewClient(conn *websocket.Conn, logger *slog.Logger, backlog int) *Client {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &Client{conn: conn, log: logger, send: make(chan []byte, backlog), done: make(chan struct{})}
}

// Send queues a message for the websocket connection.
func (c *Client) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.log.Warn("websocket client too slow, dropping", "queued", len(c.send))
		return ErrSlowConsumer
	}
}

// Close terminates the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// WritePump writes queued frames and periodic pings until the client closes or a write fails.
func (c *Client) WritePump(heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Warn("websocket send failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// ReadFrames decodes inbound frames and hands them to fn until the connection fails.
// Frames that are not JSON are ignored.
func (c *Client) ReadFrames(fn func(Frame)) error {
	c.conn.SetReadLimit(maxFrameSize)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.log.Debug("ignoring malformed frame", "error", err)
			continue
		}
		fn(frame)
	}
}
