package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"subscan/internal/amqp"
	"subscan/internal/core"
	"subscan/internal/services"
)

type fakeScanner struct {
	subs    map[string][]core.DetectedSubscription
	scanErr error
	scans   []string
}

func (f *fakeScanner) ScanUser(_ context.Context, userID string) (core.ScanResult, error) {
	f.scans = append(f.scans, userID)
	if f.scanErr != nil {
		return core.ScanResult{}, f.scanErr
	}
	return core.ScanResult{Run: core.ScanRun{ID: "scan-" + userID, UserID: userID}, Subscriptions: f.subs[userID]}, nil
}

func (f *fakeScanner) Subscriptions(_ context.Context, userID string) ([]core.DetectedSubscription, error) {
	return f.subs[userID], nil
}

type fakeMirror struct {
	got map[string]int
	err error
}

func (f *fakeMirror) MirrorSubscriptions(_ context.Context, userID string, subs []core.DetectedSubscription) error {
	if f.err != nil {
		return f.err
	}
	if f.got == nil {
		f.got = make(map[string]int)
	}
	f.got[userID] = len(subs)
	return nil
}

type users []string

func (u users) ListUsers(context.Context) ([]string, error) { return u, nil }

func netflix() core.DetectedSubscription {
	return core.DetectedSubscription{
		MerchantName: "Netflix",
		MerchantKey:  "netflix",
		Amount:       decimal.RequireFromString("9.99"),
		Currency:     "EUR",
		BillingCycle: core.Monthly,
		Confidence:   100,
	}
}

func TestHandleScanRequest(t *testing.T) {
	scanner := &fakeScanner{subs: map[string][]core.DetectedSubscription{"u1": {netflix()}}}
	mirror := &fakeMirror{}
	w := NewScanWorker(scanner, mirror, nil)

	if err := w.HandleScanRequest(context.Background(), amqp.NewScanRequestMessage("u1", "manual")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(scanner.scans) != 1 || mirror.got["u1"] != 1 {
		t.Errorf("scans=%v mirrored=%v", scanner.scans, mirror.got)
	}
}

func TestHandleScanRequestErrors(t *testing.T) {
	tests := []struct {
		name    string
		scanErr error
		mirror  *fakeMirror
	}{
		{name: "scan fails", scanErr: errors.New("db down"), mirror: &fakeMirror{}},
		{name: "mirror fails", mirror: &fakeMirror{err: errors.New("quota")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewScanWorker(&fakeScanner{scanErr: tt.scanErr}, tt.mirror, nil)
			if err := w.HandleScanRequest(context.Background(), amqp.NewScanRequestMessage("u1", "")); err == nil {
				t.Fatal("expected error so the message is redelivered")
			}
		})
	}
}

func TestHandleScanRequestWithoutMirror(t *testing.T) {
	w := NewScanWorker(&fakeScanner{}, nil, nil)
	if err := w.HandleScanRequest(context.Background(), amqp.NewScanRequestMessage("u1", "")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := w.StartupMirror(context.Background()); err != nil {
		t.Fatalf("startup mirror without mirror: %v", err)
	}
}

func TestStartupMirror(t *testing.T) {
	scanner := &fakeScanner{subs: map[string][]core.DetectedSubscription{
		"u1": {netflix()},
		"u2": nil,
	}}
	mirror := &fakeMirror{}
	w := NewScanWorker(scanner, mirror, users{"u1", "u2"})

	if err := w.StartupMirror(context.Background()); err != nil {
		t.Fatal(err)
	}
	if mirror.got["u1"] != 1 || mirror.got["u2"] != 0 || len(mirror.got) != 2 {
		t.Errorf("mirrored = %v", mirror.got)
	}
	if len(scanner.scans) != 0 {
		t.Errorf("startup mirror must not rescan: %v", scanner.scans)
	}
}

func TestRescanThroughWorkerMirrors(t *testing.T) {
	scanner := &fakeScanner{subs: map[string][]core.DetectedSubscription{
		"u1": {netflix()},
		"u2": {netflix(), netflix()},
	}}
	mirror := &fakeMirror{}
	w := NewScanWorker(scanner, mirror, nil)

	sched := services.NewRescanScheduler(users{"u1", "u2"}, w, services.RescanSchedulerConfig{Concurrency: 1})
	n, err := sched.RunOnce(context.Background(), time.Now())
	if err != nil || n != 2 {
		t.Fatalf("rescan: n=%d err=%v", n, err)
	}
	if mirror.got["u1"] != 1 || mirror.got["u2"] != 2 {
		t.Errorf("mirrored = %v", mirror.got)
	}
}
