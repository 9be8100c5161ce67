package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"subscan/internal/cache"
	"subscan/internal/core"
	"subscan/internal/detection"
	applog "subscan/internal/log"
	"subscan/internal/ports"
)

// ScanStore is the part of a backend a scan needs
type ScanStore interface {
	ports.TransactionSource
	ports.TransactionWriter
	ports.SubscriptionWriter
	ports.SubscriptionReader
}

// ScanService runs the detection engine for one user at a time and keeps the
// stored subscription set in step with the result.
type ScanService struct {
	engine    *detection.Engine
	store     ScanStore
	publisher ports.EventPublisher
	subs      cache.Cache[[]core.DetectedSubscription]
	logger    *applog.Logger
	events    *applog.StructuredLogger
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*userLock

	// bumped on every invalidation; reads only fill the cache when unchanged
	generation atomic.Uint64
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// NewScanService wires a scan service. publisher and subsCache may be nil.
func NewScanService(engine *detection.Engine, store ScanStore, publisher ports.EventPublisher, subsCache cache.Cache[[]core.DetectedSubscription], logger *applog.Logger) *ScanService {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentScan)
	return &ScanService{
		engine:    engine,
		store:     store,
		publisher: publisher,
		subs:      subsCache,
		logger:    logger,
		events:    applog.NewStructuredLogger(logger),
		now:       time.Now,
		locks:     make(map[string]*userLock),
	}
}

// lockUser serializes scans of the same user so runs are recorded in order.
// The entry is dropped once no caller holds or waits on it.
func (s *ScanService) lockUser(userID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.locksMu.Unlock()
	}
}

// ScanUser detects the user's subscriptions and replaces the stored set.
// A failed replace is returned and leaves the previous set in place. A failed
// publish after a successful replace is only logged.
func (s *ScanService) ScanUser(ctx context.Context, userID string) (core.ScanResult, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return core.ScanResult{}, core.ErrEmptyUserID
	}

	unlock := s.lockUser(userID)
	defer unlock()

	started := s.now().UTC()
	txs, err := s.store.ListTransactions(ctx, userID)
	if err != nil {
		return core.ScanResult{}, fmt.Errorf("load transactions: %w", err)
	}

	report := s.engine.Scan(txs)
	run := core.ScanRun{
		ID:         uuid.NewString(),
		UserID:     userID,
		StartedAt:  started,
		FinishedAt: s.now().UTC(),
		Stats:      report.Stats,
	}

	if err := s.store.ReplaceSubscriptions(ctx, run, report.Subscriptions); err != nil {
		return core.ScanResult{}, fmt.Errorf("replace subscriptions: %w", err)
	}
	s.InvalidateSubscriptions(userID)

	for _, r := range report.Rejections {
		s.logger.DebugContext(ctx, "Merchant group rejected",
			applog.FieldUserID, userID,
			applog.FieldMerchant, r.MerchantKey,
			applog.FieldReason, string(r.Reason),
			"detail", r.Detail)
	}
	s.events.LogScanCompleted(ctx, userID, run.ID, len(report.Subscriptions), len(report.Rejections),
		run.FinishedAt.Sub(run.StartedAt).Milliseconds())

	if s.publisher != nil {
		if err := s.publisher.PublishSubscriptionsReplaced(ctx, run, len(report.Subscriptions)); err != nil {
			s.events.LogError(ctx, "Failed to publish subscriptions replaced event", err,
				applog.ComponentAMQP, applog.OpPublish,
				applog.NewFields().WithScan(userID, run.ID, len(report.Subscriptions), len(report.Rejections)))
		}
	}

	return core.ScanResult{
		Run:           run,
		Subscriptions: report.Subscriptions,
		Rejected:      len(report.Rejections),
	}, nil
}

// Subscriptions returns the stored set, served from the read cache when fresh
func (s *ScanService) Subscriptions(ctx context.Context, userID string) ([]core.DetectedSubscription, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, core.ErrEmptyUserID
	}
	if s.subs != nil {
		if cached, ok := s.subs.Get(userID); ok {
			return cached, nil
		}
	}

	gen := s.generation.Load()
	subs, err := s.store.ListSubscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if s.subs != nil && s.generation.Load() == gen {
		s.subs.Set(userID, subs)
	}
	return subs, nil
}

// InvalidateSubscriptions drops the cached set for userID. A read already in
// flight will not repopulate the cache with what it loaded.
func (s *ScanService) InvalidateSubscriptions(userID string) {
	s.generation.Add(1)
	if s.subs != nil {
		s.subs.Delete(strings.TrimSpace(userID))
	}
}

// ImportTransactions stores raw transactions; already known ones are skipped
func (s *ScanService) ImportTransactions(ctx context.Context, userID string, txs []core.Transaction) (int, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, core.ErrEmptyUserID
	}
	n, err := s.store.SaveTransactions(ctx, userID, txs)
	if err != nil {
		return 0, fmt.Errorf("save transactions: %w", err)
	}
	s.logger.InfoContext(ctx, "Imported transactions",
		applog.FieldUserID, userID,
		applog.FieldTransactions, len(txs),
		"inserted", n)
	return n, nil
}

// LastScan returns the most recent run for the user, or ports.ErrNotFound
func (s *ScanService) LastScan(ctx context.Context, userID string) (core.ScanRun, error) {
	return s.store.LastScan(ctx, strings.TrimSpace(userID))
}
