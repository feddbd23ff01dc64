// Package supervisor drives the outer authenticate -> connect -> run ->
// backoff -> retry loop for one WoW session, and coordinates graceful
// shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/ascension-relay/innkeeper/internal/config"
	"github.com/ascension-relay/innkeeper/internal/game"
	"github.com/ascension-relay/innkeeper/internal/realm"
)

// dialTimeout bounds each individual TCP dial attempt.
const dialTimeout = 10 * time.Second

// Supervisor owns the reconnect loop: every iteration re-authenticates
// against the realm list, dials the selected game server, and runs a fresh
// game.Client until it exits, then backs off and retries.
type Supervisor struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	current *game.Client
	cancel  context.CancelFunc
}

// NewSupervisor builds a supervisor from a validated configuration.
func NewSupervisor(cfg *config.Config, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{cfg: cfg, logger: logger.With("component", "supervisor")}
}

// Current returns the in-flight game client, or nil between connections.
func (s *Supervisor) Current() *game.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Run blocks, driving the reconnect loop until ctx is cancelled or Stop is
// called. configure is invoked on every freshly connected client, before
// its steady-state loop starts, so the caller (the bridge) can attach its
// own callbacks each time.
func (s *Supervisor) Run(ctx context.Context, configure func(*game.Client)) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		client, err := s.connect(ctx)
		if err != nil {
			if isFatalAuthErr(err) {
				s.logger.Error("terminal authentication failure, not retrying", "error", err)
				return err
			}
			s.logger.Error("connect failed", "attempt", attempt+1, "error", err)
			if !s.backoffWait(ctx, attempt) {
				return nil
			}
			attempt++
			continue
		}

		s.mu.Lock()
		s.current = client
		s.mu.Unlock()

		if configure != nil {
			configure(client)
		}

		attempt = 0
		s.logger.Info("session established")
		runErr := client.Run(ctx)

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()

		if ctx.Err() != nil {
			return nil
		}
		if isFatalAuthErr(runErr) {
			s.logger.Error("terminal authentication failure, not retrying", "error", runErr)
			return runErr
		}
		if runErr != nil {
			s.logger.Warn("session ended, reconnecting", "error", runErr)
		} else {
			s.logger.Warn("session ended unexpectedly, reconnecting")
		}

		if !s.backoffWait(ctx, attempt) {
			return nil
		}
		attempt++
	}
}

// Stop performs a graceful shutdown: it asks the live session to log out
// (bounded wait for LOGOUT_COMPLETE) before cancelling the reconnect loop.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	client := s.current
	cancel := s.cancel
	s.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			s.logger.Warn("error during graceful logout", "error", err)
		}
	}
	if cancel != nil {
		cancel()
	}
}

// isFatalAuthErr reports whether err is a terminal authentication failure the
// reconnect loop must not retry: a realm-auth code that AuthCode.Fatal()
// marks fatal (banned, wrong password, unknown account, suspended, version
// mismatch), a rejected in-world AUTH_RESPONSE, or the configured character
// not appearing in CHAR_ENUM.
func isFatalAuthErr(err error) bool {
	if err == nil {
		return false
	}
	var authErr *realm.AuthError
	if errors.As(err, &authErr) && authErr.Code.Fatal() {
		return true
	}
	var sessionErr *game.AuthSessionError
	if errors.As(err, &sessionErr) {
		return true
	}
	return errors.Is(err, game.ErrCharacterNotFound)
}

func (s *Supervisor) backoffWait(ctx context.Context, attempt int) bool {
	delay := CalculateBackoff(attempt)
	s.logger.Info("waiting before reconnect", "attempt", attempt+1, "delay", delay)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (s *Supervisor) connect(ctx context.Context) (*game.Client, error) {
	realmConn, err := dial(ctx, s.cfg.Wow.RealmList)
	if err != nil {
		return nil, fmt.Errorf("dial realm list: %w", err)
	}

	rc := realm.NewClient(realmConn, realm.Config{
		Platform: s.cfg.Wow.Platform,
		Build:    s.cfg.Wow.RealmBuild,
		Account:  s.cfg.Wow.Account,
		Password: s.cfg.Wow.Password,
		Realm:    s.cfg.Wow.Realm,
	}, s.logger)

	result, err := rc.Authenticate(ctx)
	_ = realmConn.Close()
	if err != nil {
		return nil, fmt.Errorf("realm authenticate: %w", err)
	}

	gameConn, err := dial(ctx, result.Realm.Address.String())
	if err != nil {
		return nil, fmt.Errorf("dial game server %s: %w", result.Realm.Address, err)
	}

	client := game.NewClient(gameConn, game.ClientConfig{
		Build:     uint16(s.cfg.Wow.GameBuild),
		Account:   s.cfg.Wow.Account,
		Character: s.cfg.Wow.Character,
	}, result.SessionKey, s.logger)

	return client, nil
}

func dial(ctx context.Context, address string) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	d := net.Dialer{}
	return d.DialContext(dialCtx, "tcp", address)
}
