package ledger

import (
	"errors"
	"fmt"
)

// CommitCode categorizes why a submit failed.
type CommitCode string

const (
	// CodeConflict means prev_hash did not match the entity's current hash.
	// Retryable: re-fetch the snapshot and rebuild the patch.
	CodeConflict CommitCode = "CONFLICT"

	// CodeRejected means the patch or path was invalid. Fatal, never retried.
	CodeRejected CommitCode = "REJECTED"

	// CodeDuplicate means a closure for the same loop is already recorded.
	// Surfaced to callers as an "already done" signal, not a failure.
	CodeDuplicate CommitCode = "DUPLICATE"

	// CodeTransient means storage was unavailable. Retry with bounded backoff.
	CodeTransient CommitCode = "TRANSIENT"
)

// CommitError is the structured failure returned by Submit.
type CommitError struct {
	Code     CommitCode
	EntityID string
	Message  string
	Err      error
}

func (e *CommitError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s: %s (entity=%s)", e.Code, e.Message, e.EntityID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsConflict reports whether err is a hash-chain conflict.
// Uses errors.As to handle wrapped errors.
func IsConflict(err error) bool {
	return hasCode(err, CodeConflict)
}

// IsRejected reports whether err is a fatal patch rejection.
func IsRejected(err error) bool {
	return hasCode(err, CodeRejected)
}

// IsDuplicate reports whether err is a closure idempotency hit.
func IsDuplicate(err error) bool {
	return hasCode(err, CodeDuplicate)
}

// IsTransient reports whether err is a retryable storage failure.
func IsTransient(err error) bool {
	return hasCode(err, CodeTransient)
}

func hasCode(err error, code CommitCode) bool {
	var ce *CommitError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

func conflictErr(entityID, msg string) *CommitError {
	return &CommitError{Code: CodeConflict, EntityID: entityID, Message: msg}
}

func rejectedErr(entityID, msg string, err error) *CommitError {
	return &CommitError{Code: CodeRejected, EntityID: entityID, Message: msg, Err: err}
}

func duplicateErr(entityID, loopID string) *CommitError {
	return &CommitError{
		Code:     CodeDuplicate,
		EntityID: entityID,
		Message:  fmt.Sprintf("closure already recorded for loop %q", loopID),
	}
}

func transientErr(entityID, msg string, err error) *CommitError {
	return &CommitError{Code: CodeTransient, EntityID: entityID, Message: msg, Err: err}
}
