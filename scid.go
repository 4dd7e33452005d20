package didtdw

import (
	"bytes"
	"fmt"
)

// DeriveSCID computes the self-certifying identifier for a genesis entry:
// the canonical form with proofs removed, the versionId set to the
// placeholder, and every occurrence of the SCID textually substituted by the
// placeholder, hashed and base58btc-multihash encoded.
//
// The substitution must never be a no-op: two different genesis documents
// could otherwise collide. Entries built for derivation already carry the
// placeholder; entries under verification carry the real SCID and are
// substituted here.
func DeriveSCID(h Hasher, genesis *LogEntry) (string, error) {
	scid := genesis.Parameters.SCID
	if scid == "" {
		return "", fmt.Errorf("%w: genesis entry missing scid parameter", ErrInvalidLog)
	}

	cp := *genesis
	cp.Proof = nil
	cp.VersionID = SCIDPlaceholder
	b, err := canonicalJSON(&cp)
	if err != nil {
		return "", err
	}
	if scid != SCIDPlaceholder {
		b = bytes.ReplaceAll(b, []byte(scid), []byte(SCIDPlaceholder))
	}
	return h.Sum(b)
}

// VerifySCID reproduces the SCID derivation from the genesis entry and
// checks it against the SCID the entry claims.
func VerifySCID(h Hasher, genesis *LogEntry) error {
	claimed := genesis.Parameters.SCID
	if claimed == "" || claimed == SCIDPlaceholder {
		return fmt.Errorf("%w: genesis entry has no usable scid", ErrInvalidLog)
	}
	derived, err := DeriveSCID(h, genesis)
	if err != nil {
		return err
	}
	if derived != claimed {
		return &SCIDMismatchError{Derived: derived, Claimed: claimed}
	}
	return nil
}
