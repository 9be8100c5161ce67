package memory

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"subscan/internal/core"
	"subscan/internal/csvtx"
	"subscan/internal/ports"
)

// SeedFile is the transactions export NewFromFiles looks for.
const SeedFile = "seed_transactions.csv"

type Store struct {
	mu   sync.RWMutex
	txs  map[string][]core.Transaction
	seen map[string]map[string]struct{}
	subs map[string][]core.DetectedSubscription
	runs map[string]core.ScanRun
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		txs:  make(map[string][]core.Transaction),
		seen: make(map[string]map[string]struct{}),
		subs: make(map[string][]core.DetectedSubscription),
		runs: make(map[string]core.ScanRun),
	}
}

// NewFromFiles seeds the store from base/seed_transactions.csv when present.
// Rows without a user column are assigned to the "demo" user.
func NewFromFiles(base string) *Store {
	s := New()
	path := filepath.Join(base, SeedFile)
	f, err := os.Open(path)
	if err != nil {
		return s
	}
	defer f.Close()

	res, err := csvtx.Read(f)
	if err != nil {
		slog.Warn("Ignoring unreadable seed file", "path", path, "error", err)
		return s
	}
	for _, e := range res.Errors {
		slog.Warn("Skipping seed row", "path", path, "error", e)
	}
	for user, txs := range res.ByUser() {
		if user == "" {
			user = "demo"
		}
		_, _ = s.SaveTransactions(context.Background(), user, txs)
	}
	return s
}

func (s *Store) Close() error { return nil }

// SaveTransactions stores transactions not seen before for the user.
func (s *Store) SaveTransactions(_ context.Context, userID string, txs []core.Transaction) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, core.ErrEmptyUserID
	}
	for i, t := range txs {
		if t.BookingDate.IsZero() {
			return 0, fmt.Errorf("transaction %d: %w", i, core.ErrInvalidDate)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	seen := s.seen[userID]
	if seen == nil {
		seen = make(map[string]struct{})
		s.seen[userID] = seen
	}
	inserted := 0
	keys := core.BatchKeys(txs)
	for i, t := range txs {
		k := keys[i]
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		t.RawAttributes = cloneRaw(t.RawAttributes)
		s.txs[userID] = append(s.txs[userID], t)
		inserted++
	}
	return inserted, nil
}

// ListTransactions returns a copy of the user's transactions.
func (s *Store) ListTransactions(_ context.Context, userID string) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Transaction(nil), s.txs[userID]...), nil
}

func (s *Store) ListUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.txs))
	for u := range s.txs {
		users = append(users, u)
	}
	sort.Strings(users)
	return users, nil
}

// ReplaceSubscriptions swaps the user's set under the write lock, so readers
// see either the old or the new set.
func (s *Store) ReplaceSubscriptions(_ context.Context, run core.ScanRun, subs []core.DetectedSubscription) error {
	if strings.TrimSpace(run.UserID) == "" {
		return core.ErrEmptyUserID
	}
	for _, sub := range subs {
		if err := sub.Validate(); err != nil {
			return fmt.Errorf("subscription %s: %w", sub.MerchantName, err)
		}
	}

	next := append([]core.DetectedSubscription(nil), subs...)
	s.mu.Lock()
	s.subs[run.UserID] = next
	s.runs[run.UserID] = run
	s.mu.Unlock()
	return nil
}

func (s *Store) ListSubscriptions(_ context.Context, userID string) ([]core.DetectedSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.DetectedSubscription(nil), s.subs[userID]...), nil
}

func (s *Store) LastScan(_ context.Context, userID string) (core.ScanRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[userID]
	if !ok {
		return core.ScanRun{}, ports.ErrNotFound
	}
	return run, nil
}

func cloneRaw(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
