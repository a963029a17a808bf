package reliability

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeError classifies upstream realtime error codes that a
// later turn may recover from.
func IsRetryableRealtimeError(code string) bool {
	switch code {
	case "rate_limit_exceeded", "server_error", "resource_exhausted", "queue_overflow":
		return true
	default:
		return false
	}
}

// CloseReason maps a socket read error to a low-cardinality label.
func CloseReason(err error) string {
	switch {
	case err == nil:
		return "closed"
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		return "normal"
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		return "closed"
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return "timeout"
	case websocket.IsUnexpectedCloseError(err):
		return "abnormal"
	default:
		return "error"
	}
}

// IsExpectedClose reports whether err is an orderly shutdown rather than a
// transport failure.
func IsExpectedClose(err error) bool {
	switch CloseReason(err) {
	case "normal", "closed":
		return true
	default:
		return false
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
