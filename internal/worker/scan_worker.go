// Package worker handles scan requests delivered over AMQP.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"subscan/internal/amqp"
	"subscan/internal/core"
	"subscan/internal/ports"
)

// Scanner runs a scan and reads stored sets; services.ScanService implements it
type Scanner interface {
	ScanUser(ctx context.Context, userID string) (core.ScanResult, error)
	Subscriptions(ctx context.Context, userID string) ([]core.DetectedSubscription, error)
}

// ScanWorker turns scan requests into scans and keeps the optional mirror in step
type ScanWorker struct {
	scanner Scanner
	mirror  ports.SubscriptionMirror
	users   ports.UserLister
}

// NewScanWorker creates a worker. mirror may be nil.
func NewScanWorker(scanner Scanner, mirror ports.SubscriptionMirror, users ports.UserLister) *ScanWorker {
	return &ScanWorker{scanner: scanner, mirror: mirror, users: users}
}

// HandleScanRequest scans the requested user and mirrors the new set. An
// error causes the message to be redelivered; scans are idempotent.
func (w *ScanWorker) HandleScanRequest(ctx context.Context, msg *amqp.ScanRequestMessage) error {
	slog.InfoContext(ctx, "Processing scan request",
		"component", "worker",
		"user_id", msg.UserID,
		"reason", msg.Reason,
		"requested_at", msg.RequestedAt)

	res, err := w.ScanUser(ctx, msg.UserID)
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Scan request handled",
		"component", "worker",
		"user_id", msg.UserID,
		"scan_id", res.Run.ID,
		"subscriptions", len(res.Subscriptions))
	return nil
}

// ScanUser scans one user and mirrors the result.
func (w *ScanWorker) ScanUser(ctx context.Context, userID string) (core.ScanResult, error) {
	res, err := w.scanner.ScanUser(ctx, userID)
	if err != nil {
		return core.ScanResult{}, fmt.Errorf("scan user: %w", err)
	}
	if err := w.mirrorSubscriptions(ctx, userID, res.Subscriptions); err != nil {
		return res, err
	}
	return res, nil
}

func (w *ScanWorker) mirrorSubscriptions(ctx context.Context, userID string, subs []core.DetectedSubscription) error {
	if w.mirror == nil {
		return nil
	}
	if err := w.mirror.MirrorSubscriptions(ctx, userID, subs); err != nil {
		return fmt.Errorf("mirror subscriptions: %w", err)
	}
	return nil
}

// StartupMirror copies every user's stored set to the mirror. It recovers a
// mirror that fell behind while the worker was down.
func (w *ScanWorker) StartupMirror(ctx context.Context) error {
	if w.mirror == nil || w.users == nil {
		slog.InfoContext(ctx, "No mirror configured, skipping startup mirror", "component", "worker")
		return nil
	}

	users, err := w.users.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users for startup mirror: %w", err)
	}

	synced, failed := 0, 0
	for _, userID := range users {
		subs, err := w.scanner.Subscriptions(ctx, userID)
		if err == nil {
			err = w.mirrorSubscriptions(ctx, userID, subs)
		}
		if err != nil {
			slog.ErrorContext(ctx, "Startup mirror failed", "component", "worker", "user_id", userID, "error", err)
			failed++
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Startup mirror completed",
		"component", "worker",
		"total", len(users),
		"synced", synced,
		"errors", failed)
	return nil
}
