package providers

import (
	"errors"
	"fmt"

	"infinite-experiment/tourdesk/internal/constants"
)

// ProviderError represents a data source failure with a user-facing message
type ProviderError struct {
	Code    string
	Message string
	Details string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches sentinel provider errors by code
func (e *ProviderError) Is(target error) bool {
	var t *ProviderError
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Retryable reports whether the failure may go away on its own
func (e *ProviderError) Retryable() bool {
	switch e.Code {
	case constants.ErrCodeNetworkError, constants.ErrCodeSubscribeFailed, constants.ErrCodeProbeFailed:
		return true
	}
	return false
}

// Sentinels for errors.Is
var (
	ErrNotFound         = newError(constants.ErrCodeNotFound, "", nil)
	ErrAlreadyExists    = newError(constants.ErrCodeAlreadyExists, "", nil)
	ErrStaleWrite       = newError(constants.ErrCodeStaleWrite, "", nil)
	ErrValidation       = newError(constants.ErrCodeValidation, "", nil)
	ErrPermissionDenied = newError(constants.ErrCodePermissionDenied, "", nil)
	ErrUnavailable      = newError(constants.ErrCodeNetworkError, "", nil)
	ErrSubscribe        = newError(constants.ErrCodeSubscribeFailed, "", nil)
	ErrUnknownKind      = newError(constants.ErrCodeUnknownKind, "", nil)
)

func newError(code, details string, err error) *ProviderError {
	return &ProviderError{
		Code:    code,
		Message: constants.GetErrorMessage(code),
		Details: details,
		Err:     err,
	}
}

// NotFound builds an ErrNotFound for one record
func NotFound(table, id string) error {
	return newError(constants.ErrCodeNotFound, fmt.Sprintf("%s %s", table, id), nil)
}

// Validation builds an ErrValidation with details
func Validation(format string, args ...any) error {
	return newError(constants.ErrCodeValidation, fmt.Sprintf(format, args...), nil)
}

// Unavailable wraps a transport or database failure
func Unavailable(err error) error {
	return newError(constants.ErrCodeNetworkError, "", err)
}

// SubscribeFailed wraps a change stream failure
func SubscribeFailed(err error) error {
	return newError(constants.ErrCodeSubscribeFailed, "", err)
}

// UserMessage returns the message to show a user for err
func UserMessage(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}
	return constants.GetErrorMessage(constants.ErrCodeNetworkError)
}
