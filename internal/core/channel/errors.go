package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrMalformedPayload marks webhook bodies that can never be parsed.
	// They are acknowledged and dropped.
	ErrMalformedPayload = errors.New("malformed payload")

	ErrChannelUnavailable = errors.New("channel unavailable")
	ErrInvalidRecipient   = errors.New("invalid recipient")
	ErrAuthExpired        = errors.New("auth expired")
)

// SendError describes a failed outbound send. It unwraps to one of
// ErrChannelUnavailable, ErrInvalidRecipient or ErrAuthExpired.
type SendError struct {
	Platform   Type
	StatusCode int
	Kind       error
	Message    string
}

func (e *SendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s send failed (status %d): %v: %s", e.Platform, e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s send failed: %v: %s", e.Platform, e.Kind, e.Message)
}

func (e *SendError) Unwrap() error {
	return e.Kind
}

// ClassifyStatus maps an HTTP status of a platform API to an error kind.
func ClassifyStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrAuthExpired
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity:
		return ErrInvalidRecipient
	default:
		return ErrChannelUnavailable
	}
}

// TransportError wraps network level failures, timeouts included, as
// ErrChannelUnavailable.
func TransportError(platform Type, err error) error {
	msg := err.Error()
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		msg = "timeout: " + msg
	}
	return &SendError{Platform: platform, Kind: ErrChannelUnavailable, Message: msg}
}

// Kind returns the name of the error class for metrics and audit labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrChannelUnavailable):
		return "channel_unavailable"
	case errors.Is(err, ErrInvalidRecipient):
		return "invalid_recipient"
	case errors.Is(err, ErrAuthExpired):
		return "auth_expired"
	default:
		return "error"
	}
}
