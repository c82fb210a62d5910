package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SSEClient streams hub frames as Server-Sent Events over an HTTP response writer.
type SSEClient struct {
	mu        sync.Mutex
	writer    io.Writer
	flusher   http.Flusher
	log       *slog.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSSEClient builds an SSE client instance.
func NewSSEClient(writer io.Writer, flusher http.Flusher, logger *slog.Logger, backlog int) *SSEClient {
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	return &SSEClient{
		writer:  writer,
		flusher: flusher,
		log:     logger,
		send:    make(chan []byte, backlog),
		done:    make(chan struct{}),
	}
}

// Send queues a frame for the stream.
func (c *SSEClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Serve writes queued frames and heartbeat comments until ctx ends, the client is closed
// or a write fails.
func (c *SSEClient) Serve(ctx context.Context, heartbeat time.Duration) {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case payload := <-c.send:
			if err := c.writeEvent(payload); err != nil {
				c.log.Warn("sse send failed", "error", err)
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.write(": ping\n\n"); err != nil {
				c.log.Warn("sse heartbeat failed", "error", err)
				c.Close()
				return
			}
		}
	}
}

func (c *SSEClient) writeEvent(payload []byte) error {
	frame := Frame{Event: EventMessage, Data: string(payload)}
	if err := json.Unmarshal(payload, &frame); err != nil || frame.Event == "" {
		frame = Frame{Event: EventMessage, Data: string(payload)}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", frame.Event)
	for _, line := range strings.Split(frame.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	return c.write(b.String())
}

func (c *SSEClient) write(chunk string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.writer, chunk); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

// Close marks the stream as closed.
func (c *SSEClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
