package gateway

import (
	"errors"
	"fmt"
	"strings"

	"storefront-checkout/internal/pkg/validation"
)

// ErrAlreadyConfirmed is the idempotent-conflict answer of the confirm
// endpoint. It means the payment was accepted by an earlier call.
var ErrAlreadyConfirmed = errors.New("transaction already confirmed")

// ValidationError is raised before any network call when the session
// snapshot is incomplete.
type ValidationError struct {
	Fields  []string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(err error) *ValidationError {
	msg := err.Error()
	if fields := validation.Fields(err); len(fields) > 0 {
		msg = "missing or invalid checkout fields: " + strings.Join(fields, ", ")
	}
	return &ValidationError{
		Fields:  validation.Fields(err),
		Message: msg,
	}
}

// GatewayError is a non-2xx answer (or transport failure, StatusCode 0). The
// server message is kept verbatim for display.
type GatewayError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return fmt.Sprintf("%s: %d %s", e.Op, e.StatusCode, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsTransport reports a failure that never got an HTTP answer.
func (e *GatewayError) IsTransport() bool {
	return e.StatusCode == 0
}

func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ServerMessage extracts the text to show the buyer for err.
func ServerMessage(err error) string {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func isAlreadyConfirmedMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "already confirmed") || strings.Contains(msg, "already been confirmed")
}
