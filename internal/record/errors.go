package record

import (
	"errors"
	"fmt"
)

// ConfigErrorCode is the error code reported on configuration outcomes
const ConfigErrorCode = "MISCONFIGURED_FIELD"

// ConfigError reports a payload or batch that cannot be sent as configured.
// It is always raised before any network call.
type ConfigError struct {
	ObjectType string
	Operation  Operation
	// Index is the payload index, or -1 for batch-level problems
	Index  int
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	where := "batch"
	if e.Index >= 0 {
		where = fmt.Sprintf("record %d", e.Index)
	}
	msg := fmt.Sprintf("config error: %s %s (%s): %s", e.ObjectType, e.Operation, where, e.Reason)
	if e.Field != "" {
		msg += " [" + e.Field + "]"
	}
	return msg
}

// IsConfigError reports whether err is or wraps a *ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// BatchError returns a batch-level configuration error
func BatchError(objectType string, op Operation, format string, args ...interface{}) *ConfigError {
	return &ConfigError{
		ObjectType: objectType,
		Operation:  op,
		Index:      -1,
		Reason:     fmt.Sprintf(format, args...),
	}
}

func payloadError(p Payload, field, format string, args ...interface{}) *ConfigError {
	return &ConfigError{
		ObjectType: p.ObjectType,
		Operation:  p.Operation,
		Index:      p.Index,
		Field:      field,
		Reason:     fmt.Sprintf(format, args...),
	}
}
