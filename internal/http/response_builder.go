package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"subscan/internal/core"
)

type subscriptionResponse struct {
	MerchantName        string  `json:"merchant_name"`
	MerchantKey         string  `json:"merchant_key"`
	Amount              string  `json:"amount"`
	Currency            string  `json:"currency"`
	BillingCycle        string  `json:"billing_cycle"`
	Confidence          int     `json:"confidence"`
	LastChargeDate      string  `json:"last_charge_date"`
	NextChargeDate      string  `json:"next_charge_date,omitempty"`
	TransactionCount    int     `json:"transaction_count"`
	AverageIntervalDays float64 `json:"average_interval_days"`
	MonthlyEquivalent   string  `json:"monthly_equivalent"`
}

type subscriptionListResponse struct {
	UserID        string                 `json:"user_id"`
	Subscriptions []subscriptionResponse `json:"subscriptions"`
	Count         int                    `json:"count"`
	MonthlyTotal  string                 `json:"monthly_total"`
	YearlyTotal   string                 `json:"yearly_total"`
}

type scanStatsResponse struct {
	TransactionsSeen int `json:"transactions_seen"`
	Outgoing         int `json:"outgoing"`
	IncomingDropped  int `json:"incoming_dropped"`
	SkippedMalformed int `json:"skipped_malformed"`
	GroupsFormed     int `json:"groups_formed"`
	GroupsRejected   int `json:"groups_rejected"`
}

type scanRunResponse struct {
	ScanID     string            `json:"scan_id"`
	UserID     string            `json:"user_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Stats      scanStatsResponse `json:"stats"`
}

type scanResponse struct {
	scanRunResponse
	Subscriptions []subscriptionResponse `json:"subscriptions"`
	Rejected      int                    `json:"rejected"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func toSubscriptionResponse(s core.DetectedSubscription) subscriptionResponse {
	out := subscriptionResponse{
		MerchantName:        s.MerchantName,
		MerchantKey:         s.MerchantKey,
		Amount:              s.Amount.StringFixed(2),
		Currency:            s.Currency,
		BillingCycle:        s.BillingCycle.String(),
		Confidence:          s.Confidence,
		LastChargeDate:      s.LastChargeDate.Format(time.DateOnly),
		TransactionCount:    s.TransactionCount,
		AverageIntervalDays: s.AverageIntervalDays,
		MonthlyEquivalent:   core.MonthlyEquivalent(s.Amount, s.BillingCycle).StringFixed(2),
	}
	if !s.NextChargeDate.IsZero() {
		out.NextChargeDate = s.NextChargeDate.Format(time.DateOnly)
	}
	return out
}

func toSubscriptionResponses(subs []core.DetectedSubscription) []subscriptionResponse {
	out := make([]subscriptionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubscriptionResponse(s))
	}
	return out
}

func buildSubscriptionList(userID string, subs []core.DetectedSubscription) subscriptionListResponse {
	sum := core.Summarize(subs)
	return subscriptionListResponse{
		UserID:        userID,
		Subscriptions: toSubscriptionResponses(subs),
		Count:         sum.Count,
		MonthlyTotal:  sum.MonthlyTotal.StringFixed(2),
		YearlyTotal:   sum.YearlyTotal.StringFixed(2),
	}
}

func toScanRunResponse(run core.ScanRun) scanRunResponse {
	return scanRunResponse{
		ScanID:     run.ID,
		UserID:     run.UserID,
		StartedAt:  run.StartedAt.UTC(),
		FinishedAt: run.FinishedAt.UTC(),
		Stats: scanStatsResponse{
			TransactionsSeen: run.Stats.TransactionsSeen,
			Outgoing:         run.Stats.Outgoing,
			IncomingDropped:  run.Stats.IncomingDropped,
			SkippedMalformed: run.Stats.SkippedMalformed,
			GroupsFormed:     run.Stats.GroupsFormed,
			GroupsRejected:   run.Stats.GroupsRejected,
		},
	}
}

func toScanResponse(res core.ScanResult) scanResponse {
	return scanResponse{
		scanRunResponse: toScanRunResponse(res.Run),
		Subscriptions:   toSubscriptionResponses(res.Subscriptions),
		Rejected:        res.Rejected,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: requestID(r)})
}
