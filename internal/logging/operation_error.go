package logging

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OperationError records which infrastructure step failed and for which
// request. Transient failures (timeouts, temporary network errors) may
// succeed on a later attempt.
type OperationError struct {
	Operation string
	RequestID string
	Transient bool
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID == "" {
		return fmt.Sprintf("%s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s [request %s]: %v", e.Operation, e.RequestID, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Fields returns the error as structured log fields.
func (e *OperationError) Fields() []zap.Field {
	fields := []zap.Field{
		zap.String("operation", e.Operation),
		zap.Bool("transient", e.Transient),
		zap.Error(e.Err),
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	return fields
}

// NewOperationError wraps err with the failing operation and classifies it.
// It returns nil for a nil err.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{
		Operation: operation,
		RequestID: requestID,
		Transient: IsTransient(err),
		Err:       err,
	}
}

// AsOperationError finds the first OperationError in err's chain.
func AsOperationError(err error) (*OperationError, bool) {
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr, true
	}
	return nil, false
}

// IsTransient reports whether err is a timeout or a temporary network
// failure. Cancellation by the caller is not transient.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temporary interface{ Temporary() bool }
	return errors.As(err, &temporary) && temporary.Temporary()
}
