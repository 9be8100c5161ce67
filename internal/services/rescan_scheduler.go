package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"subscan/internal/core"
	"subscan/internal/ports"
)

// UserScanner scans one user; ScanService implements it
type UserScanner interface {
	ScanUser(ctx context.Context, userID string) (core.ScanResult, error)
}

// RescanSchedulerConfig holds configuration for periodic rescans
type RescanSchedulerConfig struct {
	// Interval between full rescans (default: 24h)
	Interval time.Duration

	// Concurrency bounds parallel user scans (default: 4)
	Concurrency int
}

func DefaultRescanSchedulerConfig() RescanSchedulerConfig {
	return RescanSchedulerConfig{
		Interval:    24 * time.Hour,
		Concurrency: 4,
	}
}

// RescanScheduler rescans every known user on a fixed interval
type RescanScheduler struct {
	users   ports.UserLister
	scanner UserScanner
	config  RescanSchedulerConfig

	mu      sync.Mutex
	running bool
}

func NewRescanScheduler(users ports.UserLister, scanner UserScanner, config RescanSchedulerConfig) *RescanScheduler {
	def := DefaultRescanSchedulerConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	return &RescanScheduler{users: users, scanner: scanner, config: config}
}

// RunOnce scans all users with bounded parallelism. One failed user does not
// stop the others; the number of successful scans and the joined failures are
// returned.
func (s *RescanScheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	slog.InfoContext(ctx, "Starting rescan",
		"component", "scheduler",
		"users", len(users),
		"run_at", now.Format(time.RFC3339))

	var (
		scanned atomic.Int64
		errMu   sync.Mutex
		errs    []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, userID := range users {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if _, err := s.scanner.ScanUser(gctx, userID); err != nil {
				slog.ErrorContext(gctx, "Rescan failed", "component", "scheduler", "user_id", userID, "error", err)
				errMu.Lock()
				errs = append(errs, fmt.Errorf("user %s: %w", userID, err))
				errMu.Unlock()
				return nil
			}
			scanned.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}

	slog.InfoContext(ctx, "Rescan complete",
		"component", "scheduler",
		"scanned", scanned.Load(),
		"failed", len(errs))

	return int(scanned.Load()), errors.Join(errs...)
}

// Run calls RunOnce immediately and then every Interval until ctx ends
func (s *RescanScheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("rescan scheduler is already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx, time.Now()); err != nil && ctx.Err() == nil {
			slog.WarnContext(ctx, "Rescan finished with errors", "component", "scheduler", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
