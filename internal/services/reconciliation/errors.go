package reconciliation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a record does not exist for the tenant.
	ErrNotFound = errors.New("not found")
	// ErrTransient marks persistence failures worth retrying on a later pass.
	ErrTransient = errors.New("transient persistence failure")
	// ErrClaimConflict means the payment is already claimed by another
	// external transaction.
	ErrClaimConflict = errors.New("payment already claimed")
	// ErrManualMatchConflict is the caller-facing form of ErrClaimConflict on
	// the manual match path.
	ErrManualMatchConflict = errors.New("manual match conflict")
	// ErrStaleState means a conditional write found the row changed underneath it.
	ErrStaleState = errors.New("record changed concurrently")
	// ErrAlreadyApplied means the external transaction is already matched.
	ErrAlreadyApplied = errors.New("external transaction already applied")
	// ErrInvalidTransition rejects a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAccountNotFound means the notification could not be tied to exactly
	// one ledger account.
	ErrAccountNotFound = errors.New("account not resolved")
)

// ValidationError rejects a whole request before anything is written.
type ValidationError struct {
	Line   int // 1-based; 0 when the error is not about a specific line
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// IsTransient reports whether err should leave work untouched for the next pass.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
