package http

import (
	"net/http"
	"strings"

	"subscan/internal/middleware/trace"
)

// pathUser reads the {user} path segment, writing a 400 when it is blank
func pathUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := sanitizeInput(r.PathValue("user"))
	if userID == "" {
		writeError(w, r, http.StatusBadRequest, "user id is required")
		return "", false
	}
	return userID, true
}

// sanitizeInput drops control characters and trims whitespace.
func sanitizeInput(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' {
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func requestID(r *http.Request) string {
	return trace.GetRequestID(r.Context())
}
