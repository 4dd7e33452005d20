package didtdw

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/bluesky-social/indigo/atproto/syntax"
)

// Witness is one entry in a witness configuration. A zero weight counts
// as 1.
type Witness struct {
	ID     string `json:"id"`
	Weight int    `json:"weight,omitempty"`
}

// WitnessConfig declares which witnesses may co-sign log entries and the
// combined weight their proofs must reach.
type WitnessConfig struct {
	Threshold  int       `json:"threshold"`
	SelfWeight int       `json:"selfWeight,omitempty"`
	Witnesses  []Witness `json:"witnesses"`
}

// Parameters is the method configuration carried by a log entry. Each entry
// holds a delta: nil/empty fields leave the previously active value in
// place. Merge folds a delta into the active snapshot.
type Parameters struct {
	Method        string         `json:"method,omitempty"`
	SCID          string         `json:"scid,omitempty"`
	UpdateKeys    []string       `json:"updateKeys,omitempty"`
	Prerotation   *bool          `json:"prerotation,omitempty"`
	NextKeyHashes []string       `json:"nextKeyHashes,omitempty"`
	Portable      *bool          `json:"portable,omitempty"`
	Witness       *WitnessConfig `json:"witness,omitempty"`
	Deactivated   *bool          `json:"deactivated,omitempty"`
	TTL           *uint64        `json:"ttl,omitempty"`
}

// Merge returns a new snapshot with delta's declared fields applied over p.
// Neither receiver nor argument is modified; the fold threads these
// immutable snapshots from version to version.
func (p Parameters) Merge(delta Parameters) Parameters {
	out := p
	if delta.Method != "" {
		out.Method = delta.Method
	}
	if delta.SCID != "" {
		out.SCID = delta.SCID
	}
	if delta.UpdateKeys != nil {
		out.UpdateKeys = append([]string(nil), delta.UpdateKeys...)
	}
	if delta.Prerotation != nil {
		v := *delta.Prerotation
		out.Prerotation = &v
	}
	if delta.NextKeyHashes != nil {
		out.NextKeyHashes = append([]string(nil), delta.NextKeyHashes...)
	}
	if delta.Portable != nil {
		v := *delta.Portable
		out.Portable = &v
	}
	if delta.Witness != nil {
		cfg := *delta.Witness
		cfg.Witnesses = append([]Witness(nil), delta.Witness.Witnesses...)
		out.Witness = &cfg
	}
	if delta.Deactivated != nil {
		v := *delta.Deactivated
		out.Deactivated = &v
	}
	if delta.TTL != nil {
		v := *delta.TTL
		out.TTL = &v
	}
	return out
}

// Proof is a Data Integrity proof over a log entry's canonical form (with
// the proof list itself removed).
type Proof struct {
	Type               string `json:"type"`
	Cryptosuite        string `json:"cryptosuite,omitempty"`
	Created            string `json:"created,omitempty"`
	VerificationMethod string `json:"verificationMethod"`
	ProofPurpose       string `json:"proofPurpose,omitempty"`
	ProofValue         string `json:"proofValue"`
	Challenge          string `json:"challenge,omitempty"`
}

// WitnessProof carries witness co-signatures over one entry's versionId,
// supplied alongside the log (e.g. from a did-witness.json document).
type WitnessProof struct {
	VersionID string  `json:"versionId"`
	Proof     []Proof `json:"proof"`
}

// DocState is the state carried by a log entry: either a full DID document
// (a bare document object, or one wrapped as {"value": ...}) or an RFC 6902
// patch against the previous materialized document ({"patch": [...]}).
//
// The raw bytes are preserved so that hashing is independent of this
// library's struct layout and numeric decoding.
type DocState struct {
	raw json.RawMessage
}

// FullState wraps a complete DID document.
func FullState(doc json.RawMessage) DocState {
	return DocState{raw: append(json.RawMessage(nil), doc...)}
}

// PatchState wraps RFC 6902 patch operations to apply against the prior
// materialized document.
func PatchState(ops json.RawMessage) DocState {
	wrapped, _ := json.Marshal(map[string]json.RawMessage{"patch": ops})
	return DocState{raw: wrapped}
}

func (s DocState) MarshalJSON() ([]byte, error) {
	if s.raw == nil {
		return []byte("null"), nil
	}
	return s.raw, nil
}

func (s *DocState) UnmarshalJSON(b []byte) error {
	s.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (s DocState) tagged() map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(s.raw, &m); err != nil {
		return nil
	}
	return m
}

// IsPatch reports whether the state is a patch rather than a full document.
// A DID document always carries an "id" member, so a single-member "patch"
// object is unambiguous.
func (s DocState) IsPatch() bool {
	m := s.tagged()
	_, ok := m["patch"]
	return ok && len(m) == 1
}

// PatchOps returns the RFC 6902 operations of a patch state.
func (s DocState) PatchOps() json.RawMessage {
	return s.tagged()["patch"]
}

// Document returns the full document of a non-patch state.
func (s DocState) Document() json.RawMessage {
	m := s.tagged()
	if v, ok := m["value"]; ok && len(m) == 1 {
		return v
	}
	return s.raw
}

// LogEntry is one versioned change record of a DID log, as serialized on a
// line of did.jsonl.
type LogEntry struct {
	VersionID   string     `json:"versionId"`
	VersionTime string     `json:"versionTime"`
	Parameters  Parameters `json:"parameters"`
	State       DocState   `json:"state"`
	Proof       []Proof    `json:"proof,omitempty"`
}

// ParseVersionID splits a "<versionNumber>-<entryHash>" version id.
func ParseVersionID(vid string) (int64, string, error) {
	num, hash, ok := strings.Cut(vid, "-")
	if !ok || num == "" || hash == "" {
		return 0, "", fmt.Errorf("%w: malformed versionId %q", ErrInvalidLog, vid)
	}
	n, err := strconv.ParseInt(num, 10, 64)
	if err != nil || n < 1 {
		return 0, "", fmt.Errorf("%w: malformed version number in %q", ErrInvalidLog, vid)
	}
	return n, hash, nil
}

// VersionNumber returns the numeric component of the entry's versionId.
func (e *LogEntry) VersionNumber() (int64, error) {
	n, _, err := ParseVersionID(e.VersionID)
	return n, err
}

// EntryHash returns the hash component of the entry's versionId.
func (e *LogEntry) EntryHash() (string, error) {
	_, h, err := ParseVersionID(e.VersionID)
	return h, err
}

// Time parses the entry's versionTime.
func (e *LogEntry) Time() (time.Time, error) {
	dt, err := syntax.ParseDatetime(e.VersionTime)
	if err != nil {
		return time.Time{}, err
	}
	return dt.Time(), nil
}

// signingInput is the canonical form of the entry with the proof list
// removed: the payload that update keys and witnesses sign.
func (e *LogEntry) signingInput() ([]byte, error) {
	cp := *e
	cp.Proof = nil
	return canonicalJSON(&cp)
}

// hashInput is the canonical form with proofs removed and versionId replaced
// by the predecessor pointer: the previous entry's versionId, or the SCID
// for version 1.
func (e *LogEntry) hashInput(prev string) ([]byte, error) {
	cp := *e
	cp.Proof = nil
	cp.VersionID = prev
	return canonicalJSON(&cp)
}

// computeEntryHash recomputes the content hash declared in the entry's
// versionId, given the predecessor pointer.
func (e *LogEntry) computeEntryHash(h Hasher, prev string) (string, error) {
	b, err := e.hashInput(prev)
	if err != nil {
		return "", err
	}
	return h.Sum(b)
}

// ParseLog decodes a did.jsonl document: one JSON log entry per line, blank
// lines ignored. Transport order is a hint only; Resolve re-derives strict
// ordering from version numbers.
func ParseLog(r io.Reader) ([]LogEntry, error) {
	var entries []LogEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, 10_000_000)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parsing log entry %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ParseWitnessProofs decodes a did-witness.json document: a JSON array of
// witness proof records.
func ParseWitnessProofs(r io.Reader) ([]WitnessProof, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var proofs []WitnessProof
	if err := json.Unmarshal(b, &proofs); err != nil {
		return nil, fmt.Errorf("parsing witness proofs: %w", err)
	}
	return proofs, nil
}
