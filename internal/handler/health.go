package handler

import (
	"net/http"
	"time"
)

// HealthStatus is the wire shape for GET /api/health.
type HealthStatus struct {
	Status             string  `json:"status"`
	ChatbotInitialized bool    `json:"chatbot_initialized"`
	Timestamp          string  `json:"timestamp"`
	Error              *string `json:"error"`
}

// Health reports server readiness. initErr carries a startup failure that
// left the chatbot unavailable; the endpoint still answers so deploys can
// see what went wrong.
func Health(initialized bool, initErr error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		httpStatus := http.StatusOK
		var errMsg *string

		if !initialized {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			if initErr != nil {
				msg := initErr.Error()
				errMsg = &msg
			}
		}

		respondJSON(w, httpStatus, HealthStatus{
			Status:             status,
			ChatbotInitialized: initialized,
			Timestamp:          time.Now().UTC().Format(time.RFC3339),
			Error:              errMsg,
		})
	}
}
