package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Guizzs26/go-datasync/internal/models"
	"github.com/Guizzs26/go-datasync/pkg/infra"
	"github.com/Guizzs26/go-datasync/pkg/metrics"
)

var errNoPublisher = errors.New("broker link is down")

// Supervisor keeps a Publisher connected and forwards notifications to
// whichever connection is currently healthy.
type Supervisor struct {
	url    string
	logger *slog.Logger

	mu      sync.RWMutex
	current *Publisher
}

func NewSupervisor(url string, logger *slog.Logger) *Supervisor {
	return &Supervisor{url: url, logger: logger}
}

func (s *Supervisor) publisher() *Publisher {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Notify publishes through the live connection. While reconnecting it fails
// fast; clients recover the change on their next poll.
func (s *Supervisor) Notify(ctx context.Context, ev models.ChangeEvent) error {
	p := s.publisher()
	if p == nil || !p.IsHealthy() {
		return errNoPublisher
	}
	return p.Notify(ctx, ev)
}

// Check reports the broker link state for health checks.
func (s *Supervisor) Check(ctx context.Context) error {
	p := s.publisher()
	if p == nil {
		return errNoPublisher
	}
	return p.Check(ctx)
}

// Run dials the broker and redials with backoff whenever the link drops. It
// blocks until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) {
	backoff := infra.NewBackoff(infra.BrokerRetry)
	check := time.NewTicker(2 * time.Second)
	defer check.Stop()

	for {
		if p := s.publisher(); p == nil || !p.IsHealthy() {
			if p != nil {
				p.Close()
				metrics.RabbitMQReconnections.Inc()
			}

			next, err := NewPublisher(s.url, s.logger)
			if err != nil {
				wait := backoff.Next()
				s.logger.Error("RabbitMQ link failure, retrying", "wait", wait, "attempt", backoff.Attempts(), "error", err)
				if infra.Sleep(ctx, wait) != nil {
					return
				}
				continue
			}

			s.logger.Info("RabbitMQ link established")
			backoff.Reset()
			s.mu.Lock()
			s.current = next
			s.mu.Unlock()
		}

		select {
		case <-check.C:
		case <-ctx.Done():
			s.logger.Info("Shutting down broker supervisor...")
			if p := s.publisher(); p != nil {
				p.Close()
			}
			return
		}
	}
}
