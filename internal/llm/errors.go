package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/Morlock52/psscript-sub005/internal/types"
)

// IsRetryable determines if an error is transient and may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Cancellation is never retryable.
	if errors.Is(err, context.Canceled) {
		return false
	}

	var svcErr *types.Error
	if errors.As(err, &svcErr) {
		if svcErr.Retryable {
			return true
		}
		switch svcErr.Code {
		case types.MODEL_PROVIDER_UNAVAILABLE:
			return true
		case types.MODEL_RESPONSE_INVALID, types.MODEL_RETRIES_EXHAUSTED:
			return false
		}
	}

	// Deadline expiry on the request itself is worth another attempt.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Provider SDKs surface transport failures as plain errors; classify by
	// message as a last resort.
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"rate limit", "429", "502", "503", "overloaded", "timeout", "connection refused", "connection reset", "temporarily"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}

	return false
}
