package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	code := types.CodeOf(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", code, "error", err)
	}

	message := err.Error()
	var typed *types.Error
	if errors.As(err, &typed) {
		message = typed.Message
	}

	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    string(code),
		Message: message,
	}})
}

func httpStatus(code types.ErrorCode) int {
	switch code {
	case types.VALIDATION_FAILED, types.VALIDATION_EMPTY_BODY, types.TOOL_INVALID_INPUT:
		return http.StatusBadRequest
	case types.STATE_NOT_FOUND, types.TOOL_NOT_FOUND:
		return http.StatusNotFound
	case types.STATE_INVALID, types.STATE_ALREADY_LIVE:
		return http.StatusConflict
	case types.STATE_EXPIRED:
		return http.StatusGone
	case types.MODEL_PROVIDER_UNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
