package lights

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Response status codes. Anything other than StatusOK and StatusUnavailable
// is a permanent failure.
const (
	StatusOK          = 200
	StatusNotFound    = 404
	StatusUnavailable = 410
	StatusCanceled    = 499
	StatusFailed      = 500
	StatusUnsupported = 501
	StatusExhausted   = 504
)

var (
	// ErrUnavailable marks a device that is temporarily unable to take a command.
	ErrUnavailable = errors.New("device temporarily unavailable")
	ErrNotFound    = errors.New("device not found")
	ErrUnsupported = errors.New("operation not supported by device")
)

// Response is the outcome of one command against one device.
type Response struct {
	DeviceID string `json:"deviceId"`
	Status   int    `json:"status"`
	Message  string `json:"message,omitempty"`
}

func (r Response) OK() bool {
	return r.Status == StatusOK
}

func (r Response) Transient() bool {
	return r.Status == StatusUnavailable
}

func (r Response) String() string {
	if r.Message == "" {
		return fmt.Sprintf("%s: %d", r.DeviceID, r.Status)
	}
	return fmt.Sprintf("%s: %d %s", r.DeviceID, r.Status, r.Message)
}

// ResponseFromError maps a controller error onto a Response status.
func ResponseFromError(deviceID string, err error) Response {
	if err == nil {
		return Response{DeviceID: deviceID, Status: StatusOK}
	}
	status := StatusFailed
	switch {
	case errors.Is(err, ErrUnavailable):
		status = StatusUnavailable
	case errors.Is(err, ErrNotFound):
		status = StatusNotFound
	case errors.Is(err, ErrUnsupported):
		status = StatusUnsupported
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = StatusCanceled
	}
	return Response{DeviceID: deviceID, Status: status, Message: err.Error()}
}

// isRetryableHTTPStatus reports whether a bridge HTTP status means "try again later".
func isRetryableHTTPStatus(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func httpStatusError(code int) error {
	if isRetryableHTTPStatus(code) {
		return fmt.Errorf("%w: HTTP %d", ErrUnavailable, code)
	}
	return fmt.Errorf("bridge returned HTTP %d", code)
}
