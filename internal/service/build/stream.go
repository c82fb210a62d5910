package build

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/splax/edgeship/internal/bus"
	"github.com/splax/edgeship/internal/channel"
	"github.com/splax/edgeship/internal/domain"
)

// logStream publishes one deployment's log lines from a single goroutine, so the order on
// the channel is the order in which lines were handed to Publish.
type logStream struct {
	publisher    bus.Publisher
	logger       *slog.Logger
	deploymentID string
	channel      string
	timeout      time.Duration

	lines     chan string
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	terminal  bool
}

func newLogStream(p bus.Publisher, logger *slog.Logger, deploymentID string, timeout time.Duration) *logStream {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &logStream{
		publisher:    p,
		logger:       logger,
		deploymentID: deploymentID,
		channel:      channel.ForDeployment(deploymentID),
		timeout:      timeout,
		lines:        make(chan string, 1024),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *logStream) run() {
	defer close(s.done)
	for line := range s.lines {
		s.send(line)
	}
}

func (s *logStream) send(line string) {
	payload, err := domain.LogEvent{DeploymentID: s.deploymentID, Text: line}.Payload()
	if err != nil {
		s.logger.Error("encode log event failed", "deployment_id", s.deploymentID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, s.channel, payload); err != nil {
		s.logger.Warn("publish log failed", "deployment_id", s.deploymentID, "channel", s.channel, "error", err)
	}
}

// Publish queues a progress line. Lines after the terminal event are discarded.
func (s *logStream) Publish(line string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.terminal {
		return
	}
	s.lines <- line
}

// Finish queues the terminal line. Only the first call has any effect.
func (s *logStream) Finish(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.terminal {
		return
	}
	s.terminal = true
	s.lines <- line
}

// Close waits until every queued line has been handed to the bus.
func (s *logStream) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.lines)
		s.mu.Unlock()
	})
	<-s.done
}
