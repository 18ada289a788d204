package httpproxy

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/relayforge/relayforge/internal/logstore"
)

// CategorizeError exports categorizeError for other pipelines (internal/mitm,
// internal/wsproxy) that need the same upstream-failure bucketing.
func CategorizeError(err error) logstore.ErrorCategory {
	return categorizeError(err)
}

// categorizeError implements the error taxonomy: "inspects the
// error's code/name/message and buckets into {timeout, aborted,
// connection, protocol, upstream, unknown}".
func categorizeError(err error) logstore.ErrorCategory {
	if err == nil {
		return logstore.ErrorUnknown
	}

	if errors.Is(err, context.Canceled) {
		return logstore.ErrorAborted
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return logstore.ErrorTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return logstore.ErrorTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) {
		return logstore.ErrorConnection
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case opErr.Timeout():
			return logstore.ErrorTimeout
		case opErr.Op == "dial":
			return logstore.ErrorConnection
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return logstore.ErrorTimeout
	case strings.Contains(msg, "refused") || strings.Contains(msg, "reset by peer") || strings.Contains(msg, "no such host") || strings.Contains(msg, "unreachable"):
		return logstore.ErrorConnection
	case strings.Contains(msg, "malformed") || strings.Contains(msg, "protocol") || strings.Contains(msg, "unexpected eof"):
		return logstore.ErrorProtocol
	case strings.Contains(msg, "client disconnected") || strings.Contains(msg, "context canceled"):
		return logstore.ErrorAborted
	default:
		return logstore.ErrorUpstream
	}
}
