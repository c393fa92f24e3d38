package tickstream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sentimentengine/internal/markethours"
	"sentimentengine/internal/model"
)

const (
	fastLaneDelay    = 2 * time.Second
	initialBackoff   = 2 * time.Second
	maxBackoff       = 60 * time.Second
	healthCheckEvery = 5 * time.Second
	staleAfter       = 15 * time.Second
)

// Supervisor owns the market-hours-aware reconnect loop around Client
// sessions: it decides fast-lane vs exponential backoff, monitors for
// stalled connections via a 5s health check, and suppresses duplicate
// concurrent disconnect log lines.
type Supervisor struct {
	cfg   Config
	clock *markethours.Clock
	log   *slog.Logger

	mu               sync.Mutex
	disconnectLogged bool
	backoff          time.Duration

	OnReconnect func()
}

// NewSupervisor creates a reconnect supervisor for the given session config.
func NewSupervisor(cfg Config, clock *markethours.Clock, log *slog.Logger) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		clock:   clock,
		log:     log,
		backoff: initialBackoff,
	}
}

// Run drives the connect/reconnect loop until ctx is cancelled. Before each
// attempt it re-evaluates market hours; if the market is closed it blocks
// until the next open (or ctx cancellation) rather than attempting to dial.
func (s *Supervisor) Run(ctx context.Context, tickCh chan<- model.Tick) {
	for {
		if ctx.Err() != nil {
			return
		}

		if !s.clock.IsOpen(time.Now()) {
			if s.log != nil {
				s.log.Info("market closed, blocking tick stream supervisor", "status", s.clock.StatusString(time.Now()))
			}
			s.clock.BlockUntilOpen(ctx.Done())
			if ctx.Err() != nil {
				return
			}
		}

		s.runOneSession(ctx, tickCh)
	}
}

// runOneSession runs a single Client.Run call alongside a health monitor
// that cancels the session if no tick has arrived for staleAfter.
func (s *Supervisor) runOneSession(ctx context.Context, tickCh chan<- model.Tick) {
	client := New(s.cfg, s.log)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	healthDone := make(chan struct{})
	go s.healthMonitor(sessionCtx, client, cancel, healthDone)

	err := client.Run(sessionCtx, tickCh)
	cancel()
	<-healthDone

	s.logDisconnectOnce(err)
	s.scheduleNextAttempt(client, err, ctx)
}

func (s *Supervisor) healthMonitor(ctx context.Context, client *Client, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(healthCheckEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.clock.IsOpen(time.Now()) {
				continue
			}
			if idle := time.Since(client.LastTickAt()); idle > staleAfter {
				if s.log != nil {
					s.log.Warn("tick stream stalled, forcing reconnect", "idle", idle)
				}
				cancel()
				return
			}
		}
	}
}

// logDisconnectOnce consolidates all disconnect diagnostics into a single
// log line, using a fast-path check plus a double-check after acquiring the
// lock to suppress duplicate concurrent close logs.
func (s *Supervisor) logDisconnectOnce(err error) {
	s.mu.Lock()
	already := s.disconnectLogged
	s.mu.Unlock()
	if already {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnectLogged {
		return
	}
	s.disconnectLogged = true
	if s.log != nil {
		s.log.Info("tick stream disconnected", "reason", err)
	}
}

func (s *Supervisor) scheduleNextAttempt(client *Client, err error, ctx context.Context) {
	s.mu.Lock()
	s.disconnectLogged = false
	s.mu.Unlock()

	if s.OnReconnect != nil {
		s.OnReconnect()
	}

	if errors.Is(err, ErrAuthenticationFailed) {
		if s.log != nil {
			s.log.Error("authentication failed, tick stream will not retry automatically")
		}
		<-ctx.Done()
		return
	}

	var delay time.Duration
	switch {
	case errors.Is(err, ErrRateLimited):
		delay = s.nextBackoff()
	case client.EstablishedWithData():
		delay = fastLaneDelay
		s.resetBackoff()
	default:
		delay = s.nextBackoff()
	}

	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

func (s *Supervisor) nextBackoff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.backoff
	s.backoff *= 2
	if s.backoff > maxBackoff {
		s.backoff = maxBackoff
	}
	return d
}

func (s *Supervisor) resetBackoff() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff = initialBackoff
}
