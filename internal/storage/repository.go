package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"subscan/internal/core"
	"subscan/internal/ports"

	_ "modernc.org/sqlite"
)

// Fixed width so timestamps sort as text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ ports.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; rescans run concurrently.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// SaveTransactions implements ports.TransactionWriter
func (r *SQLiteRepository) SaveTransactions(ctx context.Context, userID string, txs []core.Transaction) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, core.ErrEmptyUserID
	}

	inserted := 0
	keys := core.BatchKeys(txs)
	err := r.inTx(ctx, func(q *Queries) error {
		for i, t := range txs {
			if t.BookingDate.IsZero() {
				return fmt.Errorf("transaction %d: %w", i, core.ErrInvalidDate)
			}
			raw, err := encodeRaw(t.RawAttributes)
			if err != nil {
				return fmt.Errorf("transaction %d: encode raw attributes: %w", i, err)
			}
			n, err := q.InsertTransaction(ctx, InsertTransactionParams{
				UserID:        userID,
				ExternalID:    keys[i],
				MerchantName:  t.MerchantName,
				Amount:        t.Amount.String(),
				Currency:      t.Currency,
				BookingDate:   core.DateOnly(t.BookingDate).Format(time.DateOnly),
				Description:   t.Description,
				CreditorName:  t.CreditorName,
				DebtorName:    t.DebtorName,
				RawAttributes: raw,
			})
			if err != nil {
				return fmt.Errorf("insert transaction %d: %w", i, err)
			}
			inserted += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Transactions saved to SQLite",
		"user_id", userID,
		"received", len(txs),
		"inserted", inserted)
	return inserted, nil
}

// ListTransactions implements ports.TransactionSource
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.queries.ListTransactionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		t, err := row.toCore()
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", row.ID, err)
		}
		out = append(out, t)
	}
	return out, nil
}

// ListUsers implements ports.UserLister
func (r *SQLiteRepository) ListUsers(ctx context.Context) ([]string, error) {
	users, err := r.queries.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ReplaceSubscriptions implements ports.SubscriptionWriter. The delete, the
// inserts and the scan run record commit together or not at all.
func (r *SQLiteRepository) ReplaceSubscriptions(ctx context.Context, run core.ScanRun, subs []core.DetectedSubscription) error {
	if strings.TrimSpace(run.UserID) == "" {
		return core.ErrEmptyUserID
	}
	if run.ID == "" {
		return errors.New("scan run without id")
	}

	err := r.inTx(ctx, func(q *Queries) error {
		if err := q.InsertScanRun(ctx, ScanRun{
			ID:               run.ID,
			UserID:           run.UserID,
			StartedAt:        run.StartedAt.UTC().Format(timestampLayout),
			FinishedAt:       run.FinishedAt.UTC().Format(timestampLayout),
			TransactionsSeen: int64(run.Stats.TransactionsSeen),
			Outgoing:         int64(run.Stats.Outgoing),
			IncomingDropped:  int64(run.Stats.IncomingDropped),
			SkippedMalformed: int64(run.Stats.SkippedMalformed),
			GroupsFormed:     int64(run.Stats.GroupsFormed),
			GroupsRejected:   int64(run.Stats.GroupsRejected),
		}); err != nil {
			return fmt.Errorf("insert scan run: %w", err)
		}

		if err := q.DeleteSubscriptionsByUser(ctx, run.UserID); err != nil {
			return fmt.Errorf("delete subscriptions: %w", err)
		}

		for _, s := range subs {
			if err := s.Validate(); err != nil {
				return fmt.Errorf("subscription %s: %w", s.MerchantName, err)
			}
			next := ""
			if !s.NextChargeDate.IsZero() {
				next = s.NextChargeDate.Format(time.DateOnly)
			}
			if err := q.InsertSubscription(ctx, InsertSubscriptionParams{
				UserID:              run.UserID,
				ScanID:              run.ID,
				MerchantName:        s.MerchantName,
				MerchantKey:         s.MerchantKey,
				Amount:              core.AmountKey(s.Amount),
				Currency:            s.Currency,
				BillingCycle:        s.BillingCycle.String(),
				Confidence:          int64(s.Confidence),
				LastChargeDate:      s.LastChargeDate.Format(time.DateOnly),
				NextChargeDate:      next,
				TransactionCount:    int64(s.TransactionCount),
				AverageIntervalDays: s.AverageIntervalDays,
			}); err != nil {
				return fmt.Errorf("insert subscription %s: %w", s.MerchantName, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Subscriptions replaced in SQLite",
		"user_id", run.UserID,
		"scan_id", run.ID,
		"count", len(subs))
	return nil
}

// ListSubscriptions implements ports.SubscriptionReader
func (r *SQLiteRepository) ListSubscriptions(ctx context.Context, userID string) ([]core.DetectedSubscription, error) {
	rows, err := r.queries.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}

	out := make([]core.DetectedSubscription, 0, len(rows))
	for _, row := range rows {
		s, err := row.toCore()
		if err != nil {
			return nil, fmt.Errorf("subscription %d: %w", row.ID, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// LastScan implements ports.SubscriptionReader
func (r *SQLiteRepository) LastScan(ctx context.Context, userID string) (core.ScanRun, error) {
	row, err := r.queries.GetLatestScanRun(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.ScanRun{}, ports.ErrNotFound
	}
	if err != nil {
		return core.ScanRun{}, fmt.Errorf("get latest scan run: %w", err)
	}
	return row.toCore()
}

func (r *SQLiteRepository) inTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func encodeRaw(raw map[string]any) (string, error) {
	if len(raw) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (t Transaction) toCore() (core.Transaction, error) {
	amount, err := decimal.NewFromString(t.Amount)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount %q: %w", t.Amount, err)
	}
	date, err := time.Parse(time.DateOnly, t.BookingDate)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse booking date %q: %w", t.BookingDate, err)
	}
	var raw map[string]any
	if t.RawAttributes != "" && t.RawAttributes != "{}" {
		if err := json.Unmarshal([]byte(t.RawAttributes), &raw); err != nil {
			return core.Transaction{}, fmt.Errorf("decode raw attributes: %w", err)
		}
	}
	return core.Transaction{
		ID:            t.ExternalID,
		MerchantName:  t.MerchantName,
		Amount:        amount,
		Currency:      t.Currency,
		BookingDate:   date,
		Description:   t.Description,
		CreditorName:  t.CreditorName,
		DebtorName:    t.DebtorName,
		RawAttributes: raw,
	}, nil
}

func (s Subscription) toCore() (core.DetectedSubscription, error) {
	amount, err := decimal.NewFromString(s.Amount)
	if err != nil {
		return core.DetectedSubscription{}, fmt.Errorf("parse amount %q: %w", s.Amount, err)
	}
	cycle, err := core.ParseBillingCycle(s.BillingCycle)
	if err != nil {
		return core.DetectedSubscription{}, fmt.Errorf("billing cycle %q: %w", s.BillingCycle, err)
	}
	last, err := time.Parse(time.DateOnly, s.LastChargeDate)
	if err != nil {
		return core.DetectedSubscription{}, fmt.Errorf("parse last charge date: %w", err)
	}
	var next time.Time
	if s.NextChargeDate != "" {
		if next, err = time.Parse(time.DateOnly, s.NextChargeDate); err != nil {
			return core.DetectedSubscription{}, fmt.Errorf("parse next charge date: %w", err)
		}
	}
	return core.DetectedSubscription{
		MerchantName:        s.MerchantName,
		MerchantKey:         s.MerchantKey,
		Amount:              amount,
		Currency:            s.Currency,
		BillingCycle:        cycle,
		Confidence:          int(s.Confidence),
		LastChargeDate:      last,
		NextChargeDate:      next,
		TransactionCount:    int(s.TransactionCount),
		AverageIntervalDays: s.AverageIntervalDays,
	}, nil
}

func (s ScanRun) toCore() (core.ScanRun, error) {
	started, err := time.Parse(timestampLayout, s.StartedAt)
	if err != nil {
		return core.ScanRun{}, fmt.Errorf("parse started_at: %w", err)
	}
	finished, err := time.Parse(timestampLayout, s.FinishedAt)
	if err != nil {
		return core.ScanRun{}, fmt.Errorf("parse finished_at: %w", err)
	}
	return core.ScanRun{
		ID:         s.ID,
		UserID:     s.UserID,
		StartedAt:  started,
		FinishedAt: finished,
		Stats: core.ScanStats{
			TransactionsSeen: int(s.TransactionsSeen),
			Outgoing:         int(s.Outgoing),
			IncomingDropped:  int(s.IncomingDropped),
			SkippedMalformed: int(s.SkippedMalformed),
			GroupsFormed:     int(s.GroupsFormed),
			GroupsRejected:   int(s.GroupsRejected),
		},
	}, nil
}
