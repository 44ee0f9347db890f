package domain

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can branch without inspecting messages.
type Kind string

const (
	KindMissingParameters    Kind = "missing_parameters"
	KindPlanNotFound         Kind = "plan_not_found"
	KindAccountNotFound      Kind = "account_not_found"
	KindTransactionNotFound  Kind = "transaction_not_found"
	KindPaymentNotCompleted  Kind = "payment_not_completed"
	KindProcessorUnavailable Kind = "processor_unavailable"
	KindAlreadySettled       Kind = "already_settled"
	KindInvalidCredentials   Kind = "invalid_credentials"
	KindEmailTaken           Kind = "email_taken"
	KindInternal             Kind = "internal"
)

// Error carries a Kind and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so wrapped instances satisfy
// errors.Is against the sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrMissingParameters    = &Error{Kind: KindMissingParameters, Msg: "Missing Details"}
	ErrPlanNotFound         = &Error{Kind: KindPlanNotFound, Msg: "Plan not found"}
	ErrAccountNotFound      = &Error{Kind: KindAccountNotFound, Msg: "User not found"}
	ErrTransactionNotFound  = &Error{Kind: KindTransactionNotFound, Msg: "Transaction not found"}
	ErrPaymentNotCompleted  = &Error{Kind: KindPaymentNotCompleted, Msg: "Payment not completed"}
	ErrProcessorUnavailable = &Error{Kind: KindProcessorUnavailable, Msg: "Payment processor unavailable"}
	ErrAlreadySettled       = &Error{Kind: KindAlreadySettled, Msg: "Payment already settled"}
	ErrInvalidCredentials   = &Error{Kind: KindInvalidCredentials, Msg: "Invalid credentials"}
	ErrEmailTaken           = &Error{Kind: KindEmailTaken, Msg: "Email already registered"}
	ErrInternal             = &Error{Kind: KindInternal, Msg: "Internal error"}
)

// Wrap attaches a cause to a sentinel while keeping its kind and message.
func Wrap(sentinel *Error, cause error) error {
	return &Error{Kind: sentinel.Kind, Msg: sentinel.Msg, Err: cause}
}

// KindOf extracts the kind of err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns a caller-safe message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "Internal error"
}
