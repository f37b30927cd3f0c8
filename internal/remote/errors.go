package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// ErrPayloadTooLarge is returned by Fetch when the body exceeds the configured limit.
var ErrPayloadTooLarge = errors.New("payload too large")

// StatusError is returned when the endpoint answers with a non-success status.
type StatusError struct {
	Method string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, Path, e.Code)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, Path, e.Code, e.Body)
}

// IsTransient reports whether err is worth retrying: transport failures,
// timeouts and throttling or server-side statuses. Client errors, oversized
// payloads and cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrPayloadTooLarge) {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
			return true
		}
		return se.Code >= 500
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
