// Package bus wraps the publish/subscribe fabric that carries deployment log events between
// build workers and the log relay.
package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// Handler receives the concrete channel name and raw payload of a delivered message.
type Handler func(channel string, payload []byte)

// Publisher sends payloads to a named channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Bus is a process-owned connection to the message fabric. Construct it once per process,
// pass it to the components that need it and Close it on shutdown.
type Bus interface {
	Publisher
	// PSubscribe registers fn for every channel matching pattern and returns once the
	// subscription is active. Messages on one channel reach fn in publish order.
	PSubscribe(ctx context.Context, pattern string, fn Handler) (io.Closer, error)
	Ping(ctx context.Context) error
	Close() error
}

// ErrUnsupportedScheme is returned by Open for unknown bus URLs.
var ErrUnsupportedScheme = errors.New("unsupported bus url scheme")

// Open connects to the bus described by rawURL (redis://, rediss:// or nats://).
func Open(ctx context.Context, rawURL string) (Bus, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse bus url: %w", err)
	}
	switch parsed.Scheme {
	case "redis", "rediss":
		return NewRedis(ctx, parsed.String())
	case "nats", "tls":
		return NewNATS(parsed.String())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, parsed.Scheme)
	}
}
