package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrInvalidHash   = errors.New("invalid hash")

	// Ledger guards.
	ErrInvalidState        = errors.New("invalid market state for this operation")
	ErrStateConflict       = errors.New("market state changed concurrently")
	ErrDeadlineNotReached  = errors.New("deadline not yet reached")
	ErrDeadlinePassed      = errors.New("deadline has passed")
	ErrInvalidDeadline     = errors.New("deadline must be in the future")
	ErrQuestionTooLong     = errors.New("question exceeds 280 characters")
	ErrBlobTooLarge        = errors.New("encrypted blob exceeds 512 bytes")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidFee          = errors.New("fee must be between 0 and 10000 basis points")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrBetCapReached       = errors.New("market bet cap reached")
	ErrNoBets              = errors.New("market has no bets")
	ErrCannotCancelWithBet = errors.New("cannot cancel market with existing bets")
	ErrPoolOverflow        = errors.New("pool total overflows")
	ErrAlreadySettled      = errors.New("market already settled")
	ErrJobNotFailed        = errors.New("latest resolution job has not failed")
	ErrInvalidJobStatus    = errors.New("invalid job status transition")

	// Settlement verification and execution.
	ErrInvalidAttestation = errors.New("attestation verification failed")
	ErrMalformedResult    = errors.New("malformed result bytes")
	ErrMarketMismatch     = errors.New("result market does not match")
	ErrInvalidResult      = errors.New("result violates settlement invariants")
	ErrSettlementConflict = errors.New("a different result is already settling")
	ErrTransferFailed     = errors.New("asset transfer failed")
)

// GuardError names the ledger guard that rejected an operation. It unwraps
// to the underlying sentinel so callers can use errors.Is.
type GuardError struct {
	Guard string
	Err   error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("guard %s: %v", e.Guard, e.Err)
}

func (e *GuardError) Unwrap() error { return e.Err }

// Guard wraps err as a GuardError for the named guard.
func Guard(name string, err error) error {
	return &GuardError{Guard: name, Err: err}
}
