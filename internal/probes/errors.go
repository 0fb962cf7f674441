package probes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
)

// timeoutMessage is the user-visible message for every abort-like failure,
// whether the deadline fired or the transport dropped the request mid-flight.
const timeoutMessage = "request timed out"

// isAbortError reports whether err represents a cancelled or timed-out
// request rather than a protocol-level failure.
func isAbortError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "request was aborted") ||
		strings.Contains(msg, "client.timeout")
}

// apiErrorBody covers the error envelopes the two protocol families emit.
// Anthropic nests {"error":{"type":...,"message":...}}; OpenAI-compatible
// endpoints use the same nesting or a bare {"message":...}.
type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// extractAPIError turns a non-2xx response body into a display message.
// Unparseable bodies fall back to the raw text, truncated.
func extractAPIError(statusCode int, body []byte) string {
	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		if parsed.Error.Message != "" {
			return fmt.Sprintf("HTTP %d: %s", statusCode, truncateForDisplay(parsed.Error.Message))
		}
		if parsed.Message != "" {
			return fmt.Sprintf("HTTP %d: %s", statusCode, truncateForDisplay(parsed.Message))
		}
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("HTTP %d", statusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", statusCode, truncateForDisplay(text))
}
