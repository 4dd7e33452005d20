package didtdw

import (
	"errors"
	"fmt"
)

// ErrInvalidLog is wrapped by every validation failure produced while
// replaying a DID log. Callers that don't care about the specific cause can
// check with errors.Is; the concrete types below carry the offending version
// and other context for callers that do.
var ErrInvalidLog = errors.New("invalid DID log")

// ErrVersionNotFound is returned when a requested version id, number, or
// time falls outside the resolvable log.
var ErrVersionNotFound = errors.New("version not found")

// ErrInvalidSignature is returned by suite verifiers when a signature does
// not verify against the referenced key.
var ErrInvalidSignature = errors.New("invalid signature")

// CanonicalizationError indicates a value that the canonical JSON form
// cannot represent (e.g. non-finite numbers).
type CanonicalizationError struct {
	Reason string
}

func (e *CanonicalizationError) Error() string {
	return fmt.Sprintf("canonicalization failed: %s", e.Reason)
}

func (e *CanonicalizationError) Unwrap() error { return ErrInvalidLog }

// SCIDMismatchError indicates that re-deriving the self-certifying
// identifier from the genesis entry did not reproduce the claimed SCID.
type SCIDMismatchError struct {
	Derived string
	Claimed string
}

func (e *SCIDMismatchError) Error() string {
	return fmt.Sprintf("scid mismatch: derived %s, log claims %s", e.Derived, e.Claimed)
}

func (e *SCIDMismatchError) Unwrap() error { return ErrInvalidLog }

// ChainLinkError indicates that recomputing an entry's hash over its
// canonical form did not reproduce the hash declared in its versionId.
type ChainLinkError struct {
	Version int64
}

func (e *ChainLinkError) Error() string {
	return fmt.Sprintf("chain link broken at version %d: entry hash mismatch", e.Version)
}

func (e *ChainLinkError) Unwrap() error { return ErrInvalidLog }

// VersionSequenceError indicates a gap, duplicate, or reordering in the
// strictly +1 version numbering.
type VersionSequenceError struct {
	Expected int64
	Found    int64
}

func (e *VersionSequenceError) Error() string {
	return fmt.Sprintf("version sequence error: expected %d, found %d", e.Expected, e.Found)
}

func (e *VersionSequenceError) Unwrap() error { return ErrInvalidLog }

// ProofVerificationError indicates a proof that could not be verified:
// a bad signature, an unsupported cryptosuite, or an unresolvable key
// identifier. Authorization failures use UnauthorizedKeyError instead.
type ProofVerificationError struct {
	KeyID  string
	Reason string
}

func (e *ProofVerificationError) Error() string {
	if e.KeyID == "" {
		return fmt.Sprintf("proof verification failed: %s", e.Reason)
	}
	return fmt.Sprintf("proof verification failed for key %s: %s", e.KeyID, e.Reason)
}

func (e *ProofVerificationError) Unwrap() error { return ErrInvalidLog }

// UnauthorizedKeyError indicates a proof signed by a key that was not in the
// update key set authorized by the previous version.
type UnauthorizedKeyError struct {
	KeyID   string
	Version int64
}

func (e *UnauthorizedKeyError) Error() string {
	return fmt.Sprintf("key %s not authorized to sign version %d", e.KeyID, e.Version)
}

func (e *UnauthorizedKeyError) Unwrap() error { return ErrInvalidLog }

// PreRotationError indicates an update key that does not hash into the
// commitments declared by the previous version, or a missing fresh
// commitment while pre-rotation is active.
type PreRotationError struct {
	Version int64
	KeyID   string
}

func (e *PreRotationError) Error() string {
	if e.KeyID == "" {
		return fmt.Sprintf("pre-rotation violation at version %d", e.Version)
	}
	return fmt.Sprintf("pre-rotation violation at version %d: key %s not committed", e.Version, e.KeyID)
}

func (e *PreRotationError) Unwrap() error { return ErrInvalidLog }

// WitnessThresholdError indicates that the valid witness proofs for an entry
// did not reach the required threshold.
type WitnessThresholdError struct {
	Required int
	Observed int
}

func (e *WitnessThresholdError) Error() string {
	return fmt.Sprintf("witness threshold not met: required %d, observed %d", e.Required, e.Observed)
}

func (e *WitnessThresholdError) Unwrap() error { return ErrInvalidLog }

// DeactivatedError indicates an entry at a higher version than one that set
// deactivated = true.
type DeactivatedError struct {
	Version int64
}

func (e *DeactivatedError) Error() string {
	return fmt.Sprintf("DID deactivated: version %d is not acceptable", e.Version)
}

func (e *DeactivatedError) Unwrap() error { return ErrInvalidLog }
