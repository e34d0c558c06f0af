// Package session owns the live browser handle and loads pages through it
// with bounded retries and dead-session recovery.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/metrics"
)

// ReasonSessionDead is the restart reason used when a driver reports a dead session.
const ReasonSessionDead = "session_dead"

// Driver is one live browser handle.
type Driver interface {
	// Navigate loads url and waits until the document is ready.
	Navigate(ctx context.Context, url string) error
	// Document returns the markup of the current page.
	Document(ctx context.Context) (string, error)
	Close() error
}

// LaunchOptions describe the identity of a new driver.
type LaunchOptions struct {
	SessionID string
	UserAgent string
}

// Launcher starts browser drivers.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Driver, error)
}

// IDGenerator produces session ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Config controls session lifecycle.
type Config struct {
	// RestartCooldown is waited between closing a handle and starting its replacement.
	RestartCooldown time.Duration
	// UserAgents are assigned round-robin to each new driver. Empty keeps the driver default.
	UserAgents []string
}

// pauseController abstracts how the session waits out the restart cooldown.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Session wraps exactly one live driver at a time.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	launcher Launcher
	ids      IDGenerator
	pauser   pauseController
	logger   *zap.Logger

	driver   Driver
	id       string
	nextUA   int
	restarts int
	// pending holds the reason of a discarded driver whose replacement is
	// deferred to the next Driver call.
	pending string
}

// New constructs a Session. No browser is started until Start or Driver is called.
func New(launcher Launcher, cfg Config, ids IDGenerator, logger *zap.Logger) (*Session, error) {
	if launcher == nil {
		return nil, errors.New("launcher is required")
	}
	if ids == nil {
		return nil, errors.New("id generator is required")
	}
	if cfg.RestartCooldown < 0 {
		return nil, fmt.Errorf("restart cooldown must be >= 0")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		cfg:      cfg,
		launcher: launcher,
		ids:      ids,
		pauser:   timerPauseController{},
		logger:   logger.Named("session"),
	}, nil
}

// Start launches the first driver. It is a no-op when a driver is live.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver != nil {
		return nil
	}
	return s.startLocked(ctx)
}

// Driver returns the live driver, starting one when none is live.
func (s *Session) Driver(ctx context.Context) (Driver, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver != nil {
		return s.driver, nil
	}
	if s.pending != "" {
		s.pauser.Pause(ctx, s.cfg.RestartCooldown)
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("replace session: %w", err)
		}
	}
	if err := s.startLocked(ctx); err != nil {
		return nil, err
	}
	if s.pending != "" {
		s.pending = ""
		s.restarts++
	}
	return s.driver, nil
}

// Discard closes the current driver without launching a replacement. The
// next Driver call waits the cooldown and starts one.
func (s *Session) Discard(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.driver == nil {
		return
	}
	old := s.id
	_ = s.closeLocked()
	s.pending = reason
	metrics.ObserveSessionRestart(reason)
	s.logger.Info("discarding browser session",
		zap.String("reason", reason),
		zap.String("session_id", old),
	)
}

// Replace closes the current driver, waits the cooldown and starts a new one.
// It is safe to call when the current driver is already dead or absent, and is
// the single transition used for both scheduled and emergency restarts.
func (s *Session) Replace(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.id
	s.closeLocked()
	metrics.ObserveSessionRestart(reason)
	s.logger.Info("replacing browser session",
		zap.String("reason", reason),
		zap.String("session_id", old),
		zap.Duration("cooldown", s.cfg.RestartCooldown),
	)

	s.pauser.Pause(ctx, s.cfg.RestartCooldown)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	if err := s.startLocked(ctx); err != nil {
		return fmt.Errorf("replace session: %w", err)
	}
	s.pending = ""
	s.restarts++
	return nil
}

// Close releases the live driver.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked()
}

// ID returns the id of the live driver, or "" when none is live.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Restarts reports how many replacements completed.
func (s *Session) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

func (s *Session) startLocked(ctx context.Context) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	opts := LaunchOptions{SessionID: id, UserAgent: s.pickUserAgent()}
	drv, err := s.launcher.Launch(ctx, opts)
	if err != nil {
		return fmt.Errorf("launch driver: %w", err)
	}
	s.driver = drv
	s.id = id
	s.logger.Info("browser session started", zap.String("session_id", id), zap.String("user_agent", opts.UserAgent))
	return nil
}

func (s *Session) closeLocked() error {
	if s.driver == nil {
		return nil
	}
	err := s.driver.Close()
	if err != nil {
		// A dead handle often fails to close; the replacement proceeds regardless.
		s.logger.Debug("close driver", zap.String("session_id", s.id), zap.Error(err))
	}
	s.driver = nil
	s.id = ""
	if err != nil {
		return fmt.Errorf("close driver: %w", err)
	}
	return nil
}

func (s *Session) pickUserAgent() string {
	if len(s.cfg.UserAgents) == 0 {
		return ""
	}
	ua := s.cfg.UserAgents[s.nextUA%len(s.cfg.UserAgents)]
	s.nextUA++
	return ua
}
