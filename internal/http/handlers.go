package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"subscan/internal/core"
	applog "subscan/internal/log"
	"subscan/internal/ports"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

// handleReady checks the store when a readiness check is configured
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"store": "ok"}
	status, code := "ready", http.StatusOK

	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			checks["store"] = "failed: " + err.Error()
			status, code = "not_ready", http.StatusServiceUnavailable
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	rl := s.limiter.GetMetrics()
	tm := s.tracer.GetMetrics()
	metrics := map[string]any{
		"uptime_seconds":       int64(time.Since(s.started).Seconds()),
		"requests_total":       tm.TotalRequests,
		"avg_response_time_us": tm.AverageResponseTime,
		"rate_limit_hits":      rl.TotalHits,
		"rate_limit_clients":   rl.ClientCount,
		"suspicious_requests":  s.detector.GetMetrics().SuspiciousRequests,
	}
	if s.cacheStats != nil {
		cs := s.cacheStats()
		metrics["cache_hits"] = cs.Hits
		metrics["cache_misses"] = cs.Misses
		metrics["cache_size"] = cs.Size
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	subs, err := s.svc.Subscriptions(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err, applog.OpList, userID)
		return
	}
	writeJSON(w, http.StatusOK, buildSubscriptionList(userID, subs))
}

func (s *Server) handleLastScan(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}
	run, err := s.svc.LastScan(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err, applog.OpList, userID)
		return
	}
	writeJSON(w, http.StatusOK, toScanRunResponse(run))
}

// handleScan runs a scan inline, or queues it when async=true and a broker is wired
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if s.requester == nil {
			writeError(w, r, http.StatusServiceUnavailable, "asynchronous scans are not configured")
			return
		}
		if err := s.requester.PublishScanRequest(r.Context(), userID, "api"); err != nil {
			s.fail(w, r, err, applog.OpPublish, userID)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"user_id": userID, "status": "queued"})
		return
	}

	res, err := s.svc.ScanUser(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err, applog.OpScan, userID)
		return
	}
	writeJSON(w, http.StatusOK, toScanResponse(res))
}

func (s *Server) handleImportTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}

	txs, err := decodeTransactions(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.svc.ImportTransactions(r.Context(), userID, txs)
	if err != nil {
		s.fail(w, r, err, applog.OpImport, userID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"received": len(txs),
		"inserted": n,
	})
}

// fail maps service errors to a status; unexpected ones are logged as errors
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, op, userID string) {
	switch {
	case errors.Is(err, core.ErrEmptyUserID), errors.Is(err, core.ErrInvalidDate):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "no scan recorded for this user")
	case errors.Is(err, context.Canceled):
		writeError(w, r, http.StatusServiceUnavailable, "request cancelled")
	default:
		fields := applog.NewFields().WithRequestID(requestID(r))
		fields[applog.FieldUserID] = userID
		s.events.LogError(r.Context(), "Request failed", err, applog.ComponentHTTP, op, fields)
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
