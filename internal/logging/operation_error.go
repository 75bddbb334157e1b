package logging

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// OperationError records which operation failed, and for which request.
type OperationError struct {
	Operation string
	RequestID string
	Err       error
}

func (e *OperationError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request_id=%s): %v", e.Operation, e.RequestID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *OperationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOperationError wraps err with the failing operation. A nil err stays nil.
func NewOperationError(operation, requestID string, err error) error {
	if err == nil {
		return nil
	}
	return &OperationError{Operation: operation, RequestID: requestID, Err: err}
}

// ErrorFields returns zap fields describing err, including the innermost
// failing operation when err wraps an OperationError.
func ErrorFields(err error) []zap.Field {
	fields := []zap.Field{zap.Error(err)}
	var innermost *OperationError
	for e := err; ; {
		var op *OperationError
		if !errors.As(e, &op) {
			break
		}
		innermost = op
		e = op.Err
	}
	if innermost != nil {
		fields = append(fields, zap.String("failed_operation", innermost.Operation))
		if innermost.RequestID != "" {
			fields = append(fields, zap.String("request_id", innermost.RequestID))
		}
	}
	return fields
}
