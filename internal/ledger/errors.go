package ledger

import "errors"

// Sentinel errors returned by the ledger. Callers map them onto API errors.
var (
	ErrStudentNotFound     = errors.New("student not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionExists   = errors.New("transaction already exists")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrBadgeAlreadyOwned   = errors.New("badge already owned")
	ErrMalformedCriteria   = errors.New("malformed unlock criteria")
	ErrMalformedLadder     = errors.New("malformed level ladder")
)
