// Package proxy serves deployed artifacts by mapping the first hostname label of each
// request to that deployment's origin.
package proxy

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/splax/edgeship/internal/domain"
	"github.com/splax/edgeship/internal/slug"
)

// Resolver maps an inbound hostname to the origin serving that deployment.
type Resolver interface {
	Resolve(host string) (*url.URL, error)
}

// BaseResolver resolves every deployment to <Base>/<routing key>.
type BaseResolver struct {
	base *url.URL
}

// NewBaseResolver parses base, which must be an absolute http(s) URL.
func NewBaseResolver(base string) (*BaseResolver, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("parse base path: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.New("base path must be an http or https url")
	}
	if parsed.Host == "" {
		return nil, errors.New("base path must include a host")
	}
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return &BaseResolver{base: parsed}, nil
}

// Resolve returns the origin for host. The port is ignored and the routing key is the
// label before the first dot.
func (r *BaseResolver) Resolve(host string) (*url.URL, error) {
	key, err := RoutingKey(host)
	if err != nil {
		return nil, err
	}
	origin := *r.base
	origin.Path = strings.TrimRight(r.base.Path, "/") + "/" + key
	origin.RawPath = ""
	return &origin, nil
}

// RoutingKey extracts the deployment identifier from host.
func RoutingKey(host string) (string, error) {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.ToLower(host)
	key, _, found := strings.Cut(host, ".")
	if !found {
		return "", fmt.Errorf("%w: %q has no subdomain", domain.ErrInvalidHost, host)
	}
	if err := slug.Validate(key); err != nil {
		return "", fmt.Errorf("%w: %q", domain.ErrInvalidHost, key)
	}
	return key, nil
}
