// Package serviceerr carries the coded error type shared by the domain services.
package serviceerr

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ServiceError pairs a stable operation.reason code with the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier, safe to expose to clients.
func (e *ServiceError) Code() string {
	return e.code
}

// New builds a ServiceError with code "<operation>.<reason>".
func New(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// CodeOf extracts the code from err when it wraps a ServiceError.
func CodeOf(err error) (string, bool) {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Code(), true
	}
	return "", false
}

// Log writes a structured service failure entry.
func Log(logger *zap.Logger, component, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		return
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error(component+" service error", attrs...)
}
