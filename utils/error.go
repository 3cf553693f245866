package utils

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// ErrorKind classifies operation failures so callers (HTTP shell, scheduler,
// tests) can branch on the category instead of parsing message strings.
type ErrorKind string

const (
	ErrorKindNotFound           ErrorKind = "NotFound"
	ErrorKindInvalidState       ErrorKind = "InvalidState"
	ErrorKindInsufficientCredit ErrorKind = "InsufficientCredit"
	ErrorKindValidation         ErrorKind = "Validation"
	ErrorKindAmountMismatch     ErrorKind = "AmountMismatch"
	ErrorKindDuplicate          ErrorKind = "Duplicate"
	ErrorKindExternalService    ErrorKind = "ExternalService"
	ErrorKindInternal           ErrorKind = "Internal"
)

// Error is the single error value returned by core operations.
// A Duplicate kind means "already done"; callers treat it as a no-op success.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind sentinels, e.g.
// errors.Is(err, utils.ErrorRecordNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the kind of an operation error; plain errors map to Internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrorKindInternal
}

func NotFoundErr(format string, args ...interface{}) *Error {
	return NewError(ErrorKindNotFound, format, args...)
}

func InvalidStateErr(format string, args ...interface{}) *Error {
	return NewError(ErrorKindInvalidState, format, args...)
}

func InsufficientCreditErr(format string, args ...interface{}) *Error {
	return NewError(ErrorKindInsufficientCredit, format, args...)
}

func ValidationErr(format string, args ...interface{}) *Error {
	return NewError(ErrorKindValidation, format, args...)
}

func AmountMismatchErr(format string, args ...interface{}) *Error {
	return NewError(ErrorKindAmountMismatch, format, args...)
}

func DuplicateErr(format string, args ...interface{}) *Error {
	return NewError(ErrorKindDuplicate, format, args...)
}

func ExternalServiceErr(err error, format string, args ...interface{}) *Error {
	return WrapError(ErrorKindExternalService, err, format, args...)
}

// ErrorRecordNotFound is the generic lookup miss used by the Fetch* helpers.
var ErrorRecordNotFound = NewError(ErrorKindNotFound, "record not found")

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}

// IsDuplicateEntryErr reports whether err is a MySQL unique-key violation
// (error 1062). Unique indexes are the arbiter for concurrent inserts.
func IsDuplicateEntryErr(err error) bool {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}
