package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/splax/edgeship/internal/bus"
	"github.com/splax/edgeship/internal/channel"
	"github.com/splax/edgeship/internal/slug"
	"github.com/splax/edgeship/internal/ws"
)

// ErrInvalidRoom is returned when a client asks to join a room that cannot name a deployment.
var ErrInvalidRoom = errors.New("invalid room")

var (
	metricsOnce     sync.Once
	relayedMessages prometheus.Counter
	droppedMessages prometheus.Counter
	roomJoins       prometheus.Counter
)

func initMetrics() {
	metricsOnce.Do(func() {
		relayedMessages = registerCounter(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgeship",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Bus messages fanned out to rooms",
		}))
		droppedMessages = registerCounter(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgeship",
			Subsystem: "relay",
			Name:      "ignored_messages_total",
			Help:      "Bus messages whose channel maps to no room",
		}))
		roomJoins = registerCounter(prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "edgeship",
			Subsystem: "relay",
			Name:      "joins_total",
			Help:      "Room join requests accepted",
		}))
	})
}

func registerCounter(c prometheus.Counter) prometheus.Counter {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(prometheus.Counter); ok {
				return existing
			}
		}
	}
	return c
}

// Service fans bus messages out to the clients that joined the matching room. It never
// inspects payloads.
type Service struct {
	bus    bus.Bus
	hub    *ws.Hub
	logger *slog.Logger

	mu  sync.Mutex
	sub io.Closer
}

// New constructs the relay. Start must be called once to subscribe to the bus.
func New(b bus.Bus, hub *ws.Hub, logger *slog.Logger) *Service {
	initMetrics()
	return &Service{bus: b, hub: hub, logger: logger}
}

// Start subscribes to every deployment log channel. The subscription lives until ctx ends
// or Close is called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub != nil {
		return errors.New("relay already started")
	}
	sub, err := s.bus.PSubscribe(ctx, channel.Pattern, s.OnBusMessage)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", channel.Pattern, err)
	}
	s.sub = sub
	s.logger.Info("subscribed to logs", "pattern", channel.Pattern)
	return nil
}

// OnBusMessage broadcasts payload to the room derived from ch.
func (s *Service) OnBusMessage(ch string, payload []byte) {
	room, ok := channel.Room(ch)
	if !ok {
		droppedMessages.Inc()
		s.logger.Debug("ignoring message on foreign channel", "channel", ch)
		return
	}
	if err := s.hub.Broadcast(room, ws.MessageFrame(string(payload))); err != nil {
		s.logger.Warn("relay broadcast failed", "room", room, "error", err)
		return
	}
	relayedMessages.Inc()
}

// Join adds sub to room and acknowledges the join to sub alone.
func (s *Service) Join(room string, sub ws.Subscriber) error {
	if err := slug.Validate(room); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, room)
	}
	if err := s.hub.Join(room, sub, ws.MessageFrame("Joined "+room)); err != nil {
		return err
	}
	roomJoins.Inc()
	return nil
}

// Disconnect removes sub from every room it joined.
func (s *Service) Disconnect(sub ws.Subscriber) {
	s.hub.Disconnect(sub)
}

// Close drops the bus subscription.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == nil {
		return nil
	}
	err := s.sub.Close()
	s.sub = nil
	return err
}
