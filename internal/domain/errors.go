// Package domain defines the error taxonomy shared by all services.
// Every boundary call returns either a success value or one of these
// typed failures; nothing is allowed to escape the dialog dispatch
// boundary as a crash.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure.
type Kind uint8

const (
	// KindValidation is bad user input: malformed username, date, price.
	KindValidation Kind = iota + 1
	// KindAuthorization is a failed role check.
	KindAuthorization
	// KindNotFound is an unknown username, promo code or payment id.
	KindNotFound
	// KindExternal is an unreachable or failing external collaborator
	// (VPN daemon, payment oracle). Retryable.
	KindExternal
	// KindConflict is a rejected mutation: duplicate promo code,
	// exhausted redemption, removing the last admin.
	KindConflict
)

// Error is a typed domain failure.
type Error struct {
	Kind  Kind
	Field string // optional, set for field-level validation failures
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports bad user input for a specific field.
func Validation(field, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Authorization reports a failed role check.
func Authorization(msg string) *Error {
	return &Error{Kind: KindAuthorization, Msg: msg}
}

// NotFound reports an unknown entity.
func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// External wraps a failure of an external collaborator.
func External(msg string, err error) *Error {
	return &Error{Kind: KindExternal, Msg: msg, Err: err}
}

// Conflict reports a rejected mutation with an explicit reason.
func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or 0 if err is not a domain error.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return 0
}

func IsValidation(err error) bool    { return KindOf(err) == KindValidation }
func IsAuthorization(err error) bool { return KindOf(err) == KindAuthorization }
func IsNotFound(err error) bool      { return KindOf(err) == KindNotFound }
func IsExternal(err error) bool      { return KindOf(err) == KindExternal }
func IsConflict(err error) bool      { return KindOf(err) == KindConflict }

// UserMessage returns the short human-readable reason carried by a
// domain error, or a generic message for unexpected failures.
func UserMessage(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if de.Kind == KindExternal {
			return "Внешний сервис недоступен, попробуйте ещё раз позже."
		}
		return de.Msg
	}
	return "Что-то пошло не так, попробуйте ещё раз."
}
