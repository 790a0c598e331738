// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind groups failures the way callers react to them.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindAuthorization ErrorKind = "authorization"
	KindConflict      ErrorKind = "conflict"
	KindNotFound      ErrorKind = "not_found"
	KindInternal      ErrorKind = "internal"
)

// Authorization failures
var (
	ErrUnauthorized       = errors.New("signer is not allowed to perform this instruction")
	ErrBadSignature       = errors.New("signature does not verify for signer")
	ErrExpiredInstruction = errors.New("instruction issued outside the accepted window")
	ErrReplay             = errors.New("instruction signature already processed")
)

// State conflicts
var (
	ErrAdminExists       = errors.New("admin exists")
	ErrCampaignExists    = errors.New("campaign already exists for owner")
	ErrAlreadyReviewed   = errors.New("campaign already reviewed")
	ErrAlreadyCanceled   = errors.New("campaign already canceled")
	ErrNotReviewed       = errors.New("campaign has not been reviewed")
	ErrAlreadyWithdrawn  = errors.New("campaign funds already withdrawn")
	ErrGoalNotReached    = errors.New("campaign has not reached 80% of its goal")
	ErrCampaignEnded     = errors.New("campaign has ended")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance would exceed the maximum")
)

// Lookups
var (
	ErrAdminNotFound = errors.New("admin account not initialized")
	ErrNoPledge      = errors.New("signer has no pledge on this campaign")
)

// ErrCampaignNotFound is returned when no campaign lives at an address
type ErrCampaignNotFound struct {
	Address string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign at %s not found", e.Address)
}

// Helper constructor
func NewCampaignNotFound(address string) error {
	return &ErrCampaignNotFound{Address: address}
}

// ValidationError reports malformed input.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// Kind classifies err. Unknown errors are internal.
func Kind(err error) ErrorKind {
	var notFound *ErrCampaignNotFound
	var invalid *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalid):
		return KindValidation
	case errors.As(err, &notFound),
		errors.Is(err, ErrAdminNotFound),
		errors.Is(err, ErrNoPledge):
		return KindNotFound
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrBadSignature),
		errors.Is(err, ErrExpiredInstruction),
		errors.Is(err, ErrReplay):
		return KindAuthorization
	case errors.Is(err, ErrAdminExists),
		errors.Is(err, ErrCampaignExists),
		errors.Is(err, ErrAlreadyReviewed),
		errors.Is(err, ErrAlreadyCanceled),
		errors.Is(err, ErrNotReviewed),
		errors.Is(err, ErrAlreadyWithdrawn),
		errors.Is(err, ErrGoalNotReached),
		errors.Is(err, ErrCampaignEnded),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrBalanceOverflow):
		return KindConflict
	default:
		return KindInternal
	}
}

// HTTPStatus maps an error to the status code returned to clients.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case "":
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
