// Package apperror defines the categorized errors returned by the
// attendance and session services. Callers match sentinels with errors.Is
// and use KindOf to decide how to surface a failure.
package apperror

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeInternal     Code = "INTERNAL_ERROR"
	CodeInvalidInput Code = "INVALID_INPUT"

	// Not found
	CodeMemberNotFound     Code = "MEMBER_NOT_FOUND"
	CodeSessionNotFound    Code = "SESSION_NOT_FOUND"
	CodeAccountNotFound    Code = "ACCOUNT_NOT_FOUND"
	CodeAttendanceNotFound Code = "ATTENDANCE_NOT_FOUND"
	CodeTokenNotFound      Code = "TOKEN_NOT_FOUND"

	// Conflict
	CodeDuplicateAttendance     Code = "DUPLICATE_ATTENDANCE"
	CodeExcuseLimitExceeded     Code = "EXCUSE_LIMIT_EXCEEDED"
	CodeSessionAlreadyCancelled Code = "SESSION_ALREADY_CANCELLED"
	CodeActiveTokenExists       Code = "ACTIVE_TOKEN_EXISTS"
	CodeInvalidTransition       Code = "INVALID_STATUS_TRANSITION"
	CodeAccountExists           Code = "ACCOUNT_ALREADY_EXISTS"
	CodeConcurrentUpdate        Code = "CONCURRENT_UPDATE"
	CodeResourceBusy            Code = "RESOURCE_BUSY"
	CodeMemberAlreadyWithdrawn  Code = "MEMBER_ALREADY_WITHDRAWN"

	// Precondition
	CodeTokenExpired               Code = "TOKEN_EXPIRED"
	CodeTokenInvalid               Code = "TOKEN_INVALID"
	CodeSessionNotAcceptingCheckIn Code = "SESSION_NOT_IN_PROGRESS"
	CodeMemberWithdrawn            Code = "MEMBER_WITHDRAWN"
	CodeInsufficientDeposit        Code = "DEPOSIT_INSUFFICIENT"

	CodeLedgerInvariant Code = "LEDGER_INVARIANT_VIOLATED"
)

// Kind groups codes by how a caller should react.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindConflict
	KindPrecondition
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindPrecondition:
		return "precondition"
	default:
		return "internal"
	}
}

// Error is a categorized domain error.
type Error struct {
	Code    Code
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func New(code Code, kind Kind, message string) *Error {
	return &Error{Code: code, Kind: kind, Message: message}
}

var (
	ErrInvalidInput = New(CodeInvalidInput, KindInvalidInput, "invalid input")

	ErrMemberNotFound     = New(CodeMemberNotFound, KindNotFound, "member not found")
	ErrSessionNotFound    = New(CodeSessionNotFound, KindNotFound, "session not found")
	ErrAccountNotFound    = New(CodeAccountNotFound, KindNotFound, "cohort member account not found")
	ErrAttendanceNotFound = New(CodeAttendanceNotFound, KindNotFound, "attendance record not found")
	ErrTokenNotFound      = New(CodeTokenNotFound, KindNotFound, "access token not found")

	ErrDuplicateAttendance     = New(CodeDuplicateAttendance, KindConflict, "attendance already recorded for this session")
	ErrExcuseLimitExceeded     = New(CodeExcuseLimitExceeded, KindConflict, "excuse limit reached")
	ErrSessionAlreadyCancelled = New(CodeSessionAlreadyCancelled, KindConflict, "session is already cancelled")
	ErrActiveTokenExists       = New(CodeActiveTokenExists, KindConflict, "session already has an active access token")
	ErrInvalidTransition       = New(CodeInvalidTransition, KindConflict, "session status transition not allowed")
	ErrAccountExists           = New(CodeAccountExists, KindConflict, "member already has an account for this cohort")
	ErrConcurrentUpdate        = New(CodeConcurrentUpdate, KindConflict, "account was modified concurrently")
	ErrResourceBusy            = New(CodeResourceBusy, KindConflict, "another request is processing this attendance")
	ErrMemberAlreadyWithdrawn  = New(CodeMemberAlreadyWithdrawn, KindConflict, "member has already withdrawn")

	ErrTokenExpired               = New(CodeTokenExpired, KindPrecondition, "access token has expired")
	ErrTokenInvalid               = New(CodeTokenInvalid, KindPrecondition, "access token is invalid")
	ErrSessionNotAcceptingCheckIn = New(CodeSessionNotAcceptingCheckIn, KindPrecondition, "session is not accepting check-ins")
	ErrMemberWithdrawn            = New(CodeMemberWithdrawn, KindPrecondition, "member has withdrawn")
	ErrInsufficientDeposit        = New(CodeInsufficientDeposit, KindPrecondition, "deposit balance is insufficient for the penalty")

	ErrLedgerInvariant = New(CodeLedgerInvariant, KindInternal, "ledger invariant violated")
)

// Is matches on code so that errors built with a custom message still
// compare equal to the package sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Invalid returns an InvalidInput error carrying a specific message.
func Invalid(message string) error {
	return New(CodeInvalidInput, KindInvalidInput, message)
}

// As extracts the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies err; anything unrecognized is internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps a kind onto the status code the transport should send.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPrecondition:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
