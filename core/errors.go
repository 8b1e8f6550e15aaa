package core

import (
	"errors"
	"fmt"
)

var (
	ErrNoCells               = errors.New("access point count must be positive")
	ErrNoStations            = errors.New("stations per access point must be positive")
	ErrAddressSpaceExhausted = errors.New("address scheme cannot fit all cells")
	ErrInvalidTiming         = errors.New("invalid lifecycle timing")
	ErrInvalidTraffic        = errors.New("invalid traffic profile")
	ErrInvalidConfig         = errors.New("invalid scenario configuration")
)

// ConfigurationError reports a malformed scenario. It is always raised
// before the engine is touched and is never retried.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error: %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(field string, err error, format string, args ...any) error {
	if format != "" {
		err = fmt.Errorf("%w: %s", err, fmt.Sprintf(format, args...))
	}
	return &ConfigurationError{Field: field, Err: err}
}

// IsConfigurationError reports whether err, or anything it wraps, is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// EngineError carries a failure surfaced by the simulation engine. The
// message is the engine's own; Op records which engine call failed.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string { return e.Err.Error() }

func (e *EngineError) Unwrap() error { return e.Err }

func engineErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return &EngineError{Op: op, Err: err}
}
