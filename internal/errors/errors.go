package errors

import (
	stderrors "errors"
	"fmt"
)

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches on Code so wrapped sentinels compare equal.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigInvalid = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrPersistence = &AppError{Code: "STORE_001", Message: "persistence failed"}

	ErrCourseNotFound = &AppError{Code: "COURSE_001", Message: "course not found"}
	ErrCourseInvalid  = &AppError{Code: "COURSE_002", Message: "invalid course"}

	ErrIntakeNotFound  = &AppError{Code: "INTAKE_001", Message: "intake not found"}
	ErrDuplicateIntake = &AppError{Code: "INTAKE_002", Message: "intake already logged for this day"}
	ErrNoIntakeHistory = &AppError{Code: "INTAKE_003", Message: "course has no intake history"}
	ErrIntakeInvalid   = &AppError{Code: "INTAKE_004", Message: "invalid intake"}

	ErrReminderNotFound = &AppError{Code: "REMINDER_001", Message: "reminder not found"}
	ErrReminderInvalid  = &AppError{Code: "REMINDER_002", Message: "invalid reminder"}

	ErrEncodeFailed       = &AppError{Code: "EXPORT_001", Message: "failed to export course"}
	ErrDecodeFailed       = &AppError{Code: "EXPORT_002", Message: "failed to read course file"}
	ErrUnsupportedVersion = &AppError{Code: "EXPORT_003", Message: "unsupported file version"}

	ErrGatewayUnavailable = &AppError{Code: "NOTIFY_001", Message: "notification gateway unavailable"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// From derives a new error from a sentinel, keeping its code and message.
func From(sentinel *AppError, cause error) *AppError {
	return &AppError{
		Code:    sentinel.Code,
		Message: sentinel.Message,
		Cause:   cause,
	}
}

// Withf derives a new error from a sentinel with extra detail in the message.
func Withf(sentinel *AppError, format string, args ...any) *AppError {
	return &AppError{
		Code:    sentinel.Code,
		Message: sentinel.Message + ": " + fmt.Sprintf(format, args...),
	}
}
