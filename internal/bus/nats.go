package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const flushTimeout = 5 * time.Second

// NATS implements Bus on core NATS subjects. Channel names use ':' as namespace separator
// while NATS subjects use '.', so "logs:foo" travels as subject "logs.foo" and the pattern
// "logs:*" subscribes to "logs.*".
type NATS struct {
	conn *nats.Conn
}

// NewNATS connects to the NATS server at rawURL.
func NewNATS(rawURL string, opts ...nats.Option) (*NATS, error) {
	opts = append([]nats.Option{
		nats.Name("edgeship"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, opts...)
	nc, err := nats.Connect(rawURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &NATS{conn: nc}, nil
}

// Publish sends payload to the subject for channel and flushes so short-lived workers do not
// exit with buffered messages.
func (n *NATS) Publish(ctx context.Context, channel string, payload []byte) error {
	if n == nil || n.conn == nil {
		return errors.New("nats bus not initialised")
	}
	if err := n.conn.Publish(toSubject(channel), payload); err != nil {
		return err
	}
	return n.flush(ctx)
}

// PSubscribe subscribes to the subject wildcard for pattern. NATS delivers a subscription's
// messages sequentially, which keeps per-channel order.
func (n *NATS) PSubscribe(ctx context.Context, pattern string, fn Handler) (io.Closer, error) {
	if n == nil || n.conn == nil {
		return nil, errors.New("nats bus not initialised")
	}
	if fn == nil {
		return nil, errors.New("nil handler")
	}
	sub, err := n.conn.Subscribe(toSubject(pattern), func(msg *nats.Msg) {
		fn(fromSubject(msg.Subject), msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", pattern, err)
	}
	if err := n.flush(ctx); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("nats subscribe flush: %w", err)
	}
	closer := &natsSubscription{sub: sub}
	go func() {
		<-ctx.Done()
		_ = closer.Close()
	}()
	return closer, nil
}

// Ping round-trips to the server.
func (n *NATS) Ping(ctx context.Context) error {
	if n == nil || n.conn == nil {
		return errors.New("nats bus not initialised")
	}
	return n.flush(ctx)
}

// flush round-trips to the server. FlushWithContext refuses contexts without a deadline.
func (n *NATS) flush(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	return n.conn.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
		return err
	}
	return nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Close() error {
	if !s.sub.IsValid() {
		return nil
	}
	return s.sub.Unsubscribe()
}

func toSubject(channel string) string {
	return strings.ReplaceAll(channel, ":", ".")
}

func fromSubject(subject string) string {
	return strings.Replace(subject, ".", ":", 1)
}
