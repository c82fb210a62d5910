package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/splax/edgeship/internal/domain"
)

// ErrBuildFailed is returned by Follow when the deployment ends with a failure line.
var ErrBuildFailed = errors.New("build failed")

type frame struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// Follow subscribes to slug's log room on the relay and calls onLine for every log line
// until the terminal line arrives. Lines published before the subscription are not
// replayed.
func (c *Client) Follow(ctx context.Context, slug string, onLine func(string)) error {
	endpoint, err := c.relayEndpoint()
	if err != nil {
		return err
	}
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("connect relay: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteJSON(frame{Event: "subscribe", Data: slug}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read relay: %w", err)
		}
		if f.Event != "message" {
			continue
		}
		event, err := domain.DecodeLogEvent(slug, []byte(f.Data))
		if err != nil {
			// Acknowledgements and other plain-text notices.
			continue
		}
		onLine(event.Text)
		if !event.Terminal() {
			continue
		}
		if strings.HasPrefix(event.Text, domain.FailedPrefix) {
			return fmt.Errorf("%w: %s", ErrBuildFailed, strings.TrimPrefix(event.Text, domain.FailedPrefix))
		}
		return nil
	}
}

func (c *Client) relayEndpoint() (string, error) {
	u, err := url.Parse(c.relayURL)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	switch u.Scheme {
	case "http", "":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}
