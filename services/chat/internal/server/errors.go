package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"bookchat/internal/util"
	"bookchat/pkg/domain"
	"bookchat/services/chat/internal/app"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// UserMessage is the persisted user turn when only the completion failed.
	UserMessage *domain.Message `json:"userMessage,omitempty"`
}

// classify maps app sentinels to an HTTP status and stable error code.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, app.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated", "unauthorized"
	case errors.Is(err, app.ErrForbidden):
		return http.StatusForbidden, "forbidden", "forbidden"
	case errors.Is(err, app.ErrNotFound):
		return http.StatusNotFound, "not_found", "not found"
	case errors.Is(err, app.ErrValidation):
		return http.StatusBadRequest, "validation_failed", err.Error()
	case errors.Is(err, app.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", "too many messages, slow down"
	case errors.Is(err, app.ErrCompletionFailed):
		return http.StatusBadGateway, "completion_failed", "the model did not answer, retry the completion"
	case errors.Is(err, app.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable", "storage unavailable, try again"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	logError(r, status, code, err)
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

func writeCompletionFailure(w http.ResponseWriter, r *http.Request, err error, userMsg domain.Message) {
	status, code, msg := classify(err)
	logError(r, status, code, err)
	writeJSON(w, status, errorResponse{Error: msg, Code: code, UserMessage: &userMsg})
}

func logError(r *http.Request, status int, code string, err error) {
	logger := util.LoggerFromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", code, "err", err)
		return
	}
	logger.Debug("request rejected", "code", code, "err", err)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
