// Package ports declares the outbound interfaces the scan services depend on.
package ports

import (
	"context"
	"errors"

	"subscan/internal/core"
)

// ErrNotFound is returned by readers when nothing is stored for the key.
var ErrNotFound = errors.New("not found")

type (
	// TransactionSource returns the raw transaction history of a user.
	TransactionSource interface {
		ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error)
	}

	// TransactionWriter stores raw transactions. Saving the same transaction
	// twice for a user is a no-op; the number of new rows is returned.
	TransactionWriter interface {
		SaveTransactions(ctx context.Context, userID string, txs []core.Transaction) (int, error)
	}

	// SubscriptionWriter replaces the full subscription set of run.UserID in a
	// single atomic step and records the run.
	SubscriptionWriter interface {
		ReplaceSubscriptions(ctx context.Context, run core.ScanRun, subs []core.DetectedSubscription) error
	}

	SubscriptionReader interface {
		ListSubscriptions(ctx context.Context, userID string) ([]core.DetectedSubscription, error)
		// LastScan returns ErrNotFound when the user was never scanned.
		LastScan(ctx context.Context, userID string) (core.ScanRun, error)
	}

	// UserLister enumerates users that have stored transactions.
	UserLister interface {
		ListUsers(ctx context.Context) ([]string, error)
	}

	// Store is everything a data backend provides.
	Store interface {
		TransactionSource
		TransactionWriter
		SubscriptionWriter
		SubscriptionReader
		UserLister
		Close() error
	}

	// EventPublisher announces that a user's subscription set was replaced.
	EventPublisher interface {
		PublishSubscriptionsReplaced(ctx context.Context, run core.ScanRun, count int) error
	}

	// SubscriptionMirror copies a user's subscriptions to an external view.
	SubscriptionMirror interface {
		MirrorSubscriptions(ctx context.Context, userID string, subs []core.DetectedSubscription) error
	}
)
