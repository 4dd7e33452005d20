package didtdw

import (
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// ResolveOptions selects what Resolve should materialize and supplies
// out-of-band inputs. The zero value resolves the latest version.
type ResolveOptions struct {
	// VersionID resolves a specific "<n>-<hash>" version.
	VersionID string
	// VersionNumber resolves a specific version number (0 = latest).
	VersionNumber int64
	// VersionTime resolves the latest version whose versionTime is not
	// after this instant.
	VersionTime time.Time

	// WitnessProofs are witness co-signatures supplied alongside the log.
	WitnessProofs []WitnessProof

	// RequireAllKeys demands a valid proof from every authorized update key
	// instead of at least one.
	RequireAllKeys bool

	// Hasher overrides the multihash function (zero value = SHA2-256).
	Hasher Hasher

	// Now anchors the future-timestamp check; zero means time.Now().
	Now time.Time
}

// ResolvedState is the materialized output of replaying a DID log.
type ResolvedState struct {
	DID           string
	Document      json.RawMessage
	VersionID     string
	VersionNumber int64
	VersionTime   time.Time
	Created       time.Time
	Updated       time.Time
	Deactivated   bool
	// Parameters is the active configuration snapshot as of this version.
	Parameters Parameters
	// Entries is the validated history up to and including this version,
	// retained for audit.
	Entries []LogEntry
}

// DocumentMetadata is the resolution metadata record served next to a DID
// document.
type DocumentMetadata struct {
	DID         string    `json:"did"`
	VersionID   string    `json:"versionId"`
	VersionTime time.Time `json:"versionTime"`
	Created     time.Time `json:"created"`
	Updated     time.Time `json:"updated"`
	Deactivated bool      `json:"deactivated"`
}

// Metadata returns the resolution metadata record for the state.
func (st *ResolvedState) Metadata() DocumentMetadata {
	return DocumentMetadata{
		DID:         st.DID,
		VersionID:   st.VersionID,
		VersionTime: st.VersionTime,
		Created:     st.Created,
		Updated:     st.Updated,
		Deactivated: st.Deactivated,
	}
}

// Resolve replays a DID log into the state at the requested target.
//
// Entries are folded in order through chain-link, authorization,
// pre-rotation, and witness validation; link integrity is checked first
// because authorization is keyed by prior state reached through that same
// chain. The fold stops as soon as the target criterion is satisfied.
//
// On a validation failure, Resolve returns the typed error for the first
// invalid entry together with the ResolvedState of the maximal valid prefix
// (nil if the genesis entry itself is invalid), so callers can choose
// between fail-closed and best-effort policies.
func Resolve(entries []LogEntry, opts *ResolveOptions) (*ResolvedState, error) {
	if opts == nil {
		opts = &ResolveOptions{}
	}
	h := opts.Hasher
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty log", ErrInvalidLog)
	}

	var (
		state       *ResolvedState
		active      Parameters
		doc         json.RawMessage
		prevPointer string
		prevTime    time.Time
		created     time.Time
	)

	for i := range entries {
		e := &entries[i]
		version := int64(i) + 1

		// AtTime target: stop before the first entry past the target.
		if !opts.VersionTime.IsZero() {
			if t, err := e.Time(); err == nil && t.After(opts.VersionTime) {
				if state == nil {
					return nil, fmt.Errorf("%w: no version at or before %s", ErrVersionNotFound, opts.VersionTime.Format(time.RFC3339))
				}
				return state, nil
			}
		}

		num, declaredHash, err := ParseVersionID(e.VersionID)
		if err != nil {
			return state, err
		}
		if num != version {
			return state, &VersionSequenceError{Expected: version, Found: num}
		}
		if active.Deactivated != nil && *active.Deactivated {
			return state, &DeactivatedError{Version: version}
		}

		if version == 1 {
			if err := VerifySCID(h, e); err != nil {
				return state, err
			}
			prevPointer = e.Parameters.SCID
		}

		computed, err := e.computeEntryHash(h, prevPointer)
		if err != nil {
			return state, err
		}
		if computed != declaredHash {
			return state, &ChainLinkError{Version: version}
		}

		t, err := e.Time()
		if err != nil {
			return state, fmt.Errorf("%w: bad versionTime at version %d: %v", ErrInvalidLog, version, err)
		}
		if version > 1 && !t.After(prevTime) {
			return state, fmt.Errorf("%w: versionTime not strictly increasing at version %d", ErrInvalidLog, version)
		}
		if t.After(now) {
			return state, fmt.Errorf("%w: versionTime in the future at version %d", ErrInvalidLog, version)
		}

		if err := checkParameterDelta(active, e.Parameters, version); err != nil {
			return state, err
		}

		// Authorization precedence: proofs validate against the update keys
		// declared by the previous version. Genesis self-authorizes.
		authorized := active.UpdateKeys
		if version == 1 {
			authorized = e.Parameters.UpdateKeys
		}
		if len(authorized) == 0 {
			return state, &ProofVerificationError{Reason: fmt.Sprintf("no authorized update keys at version %d", version)}
		}
		if err := verifyProofs(e, authorized, opts.RequireAllKeys, version); err != nil {
			return state, err
		}

		if version > 1 {
			if err := verifyRotation(h, e, active, version); err != nil {
				return state, err
			}
		}

		next := active.Merge(e.Parameters)

		if err := verifyWitnesses(e, next.Witness, opts.WitnessProofs); err != nil {
			return state, err
		}

		doc, err = applyState(doc, e.State, version)
		if err != nil {
			return state, err
		}

		active = next
		prevPointer = e.VersionID
		prevTime = t
		if version == 1 {
			created = t
		}

		state = &ResolvedState{
			DID:           documentID(doc),
			Document:      doc,
			VersionID:     e.VersionID,
			VersionNumber: version,
			VersionTime:   t,
			Created:       created,
			Updated:       t,
			Deactivated:   active.Deactivated != nil && *active.Deactivated,
			Parameters:    active,
			Entries:       entries[:i+1],
		}

		if opts.VersionID != "" && e.VersionID == opts.VersionID {
			return state, nil
		}
		if opts.VersionNumber != 0 && version == opts.VersionNumber {
			return state, nil
		}
	}

	if opts.VersionID != "" {
		return state, fmt.Errorf("%w: versionId %q", ErrVersionNotFound, opts.VersionID)
	}
	if opts.VersionNumber != 0 {
		return state, fmt.Errorf("%w: version %d", ErrVersionNotFound, opts.VersionNumber)
	}
	return state, nil
}

// checkParameterDelta rejects deltas that would violate parameter
// continuity: the SCID and method are fixed at genesis, and portability can
// only be enabled there.
func checkParameterDelta(active Parameters, delta Parameters, version int64) error {
	if version == 1 {
		if delta.Method == "" {
			return fmt.Errorf("%w: genesis entry missing method parameter", ErrInvalidLog)
		}
		return nil
	}
	if delta.SCID != "" && delta.SCID != active.SCID {
		return fmt.Errorf("%w: scid changed at version %d", ErrInvalidLog, version)
	}
	if delta.Portable != nil && *delta.Portable && (active.Portable == nil || !*active.Portable) {
		return fmt.Errorf("%w: portability can only be enabled at genesis (version %d)", ErrInvalidLog, version)
	}
	return nil
}

// verifyRotation enforces commit/reveal continuity: update keys introduced
// at this version must hash into the commitments declared by the previous
// version. Without pending commitments, rotation is unconstrained. While the
// prerotation parameter stays active, a rotation must also declare fresh
// commitments for the version after it.
func verifyRotation(h Hasher, e *LogEntry, active Parameters, version int64) error {
	prerotation := active.Prerotation != nil && *active.Prerotation

	if len(active.NextKeyHashes) == 0 {
		if prerotation {
			return &PreRotationError{Version: version}
		}
		return nil
	}
	if e.Parameters.UpdateKeys == nil {
		// Keys unchanged this version; commitments stay pending.
		return nil
	}

	committed := make(map[string]bool, len(active.NextKeyHashes))
	for _, kh := range active.NextKeyHashes {
		committed[kh] = true
	}
	for _, k := range e.Parameters.UpdateKeys {
		kh, err := h.HashKey(k)
		if err != nil {
			return err
		}
		if !committed[kh] {
			return &PreRotationError{Version: version, KeyID: k}
		}
	}

	stillActive := prerotation
	if e.Parameters.Prerotation != nil {
		stillActive = *e.Parameters.Prerotation
	}
	if stillActive && e.Parameters.NextKeyHashes == nil {
		return &PreRotationError{Version: version}
	}
	return nil
}

// applyState materializes one fold step: a full document replaces the prior
// one, a patch is applied to it by explicit merge.
func applyState(prev json.RawMessage, s DocState, version int64) (json.RawMessage, error) {
	if s.IsPatch() {
		if prev == nil {
			return nil, fmt.Errorf("%w: patch state at version %d with no prior document", ErrInvalidLog, version)
		}
		patch, err := jsonpatch.DecodePatch(s.PatchOps())
		if err != nil {
			return nil, fmt.Errorf("%w: bad patch at version %d: %v", ErrInvalidLog, version, err)
		}
		out, err := patch.Apply(prev)
		if err != nil {
			return nil, fmt.Errorf("%w: patch failed at version %d: %v", ErrInvalidLog, version, err)
		}
		return out, nil
	}
	d := s.Document()
	if len(d) == 0 {
		return nil, fmt.Errorf("%w: entry at version %d has no state", ErrInvalidLog, version)
	}
	return d, nil
}

func documentID(doc json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(doc, &probe)
	return probe.ID
}
