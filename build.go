package didtdw

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bluesky-social/indigo/atproto/atcrypto"
	"github.com/multiformats/go-multibase"
)

// Signer produces Data Integrity proofs for log entries. Implementations
// pair a private key with the cryptosuite it signs under.
type Signer interface {
	// Multikey returns the multibase-encoded public key, the form that
	// appears in updateKeys.
	Multikey() string
	// Suite returns the cryptosuite identifier for proofs made by this
	// signer.
	Suite() string
	// Sign signs the canonical payload bytes.
	Sign(payload []byte) ([]byte, error)
}

// Ed25519Signer signs under eddsa-jcs-2022.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
}

// GenerateEd25519Signer creates a new random Ed25519 signing key.
func GenerateEd25519Signer() (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Ed25519Signer{priv: priv}, nil
}

// NewEd25519Signer wraps an existing Ed25519 private key.
func NewEd25519Signer(priv ed25519.PrivateKey) *Ed25519Signer {
	return &Ed25519Signer{priv: priv}
}

func (s *Ed25519Signer) Multikey() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	data := append([]byte{multicodecEd25519Pub, 0x01}, pub...)
	mk, _ := multibase.Encode(multibase.Base58BTC, data)
	return mk
}

func (s *Ed25519Signer) Suite() string { return SuiteEdDSAJCS2022 }

func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, payload), nil
}

// ECDSASigner signs under ecdsa-jcs-2019 with a P-256 or K-256 key.
type ECDSASigner struct {
	priv atcrypto.PrivateKey
}

// NewECDSASigner wraps an existing P-256 or K-256 private key.
func NewECDSASigner(priv atcrypto.PrivateKey) *ECDSASigner {
	return &ECDSASigner{priv: priv}
}

func (s *ECDSASigner) Multikey() string {
	pub, err := s.priv.PublicKey()
	if err != nil {
		return ""
	}
	return pub.Multibase()
}

func (s *ECDSASigner) Suite() string { return SuiteECDSAJCS2019 }

func (s *ECDSASigner) Sign(payload []byte) ([]byte, error) {
	return s.priv.HashAndSign(payload)
}

// FormatVersionTime renders a timestamp the way log entries carry it:
// UTC, millisecond precision.
func FormatVersionTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// SignEntry appends a Data Integrity proof over the entry's canonical form.
// Existing proofs are excluded from the payload, so multiple keys can each
// sign the same entry.
func SignEntry(e *LogEntry, signer Signer) error {
	payload, err := e.signingInput()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return err
	}
	pv, err := multibase.Encode(multibase.Base58BTC, sig)
	if err != nil {
		return err
	}
	mk := signer.Multikey()
	e.Proof = append(e.Proof, Proof{
		Type:               "DataIntegrityProof",
		Cryptosuite:        signer.Suite(),
		Created:            FormatVersionTime(time.Now()),
		VerificationMethod: "did:key:" + mk + "#" + mk,
		ProofPurpose:       "authentication",
		ProofValue:         pv,
	})
	return nil
}

// WitnessEntry produces a witness proof record for an entry: a signature
// over the canonical form of its versionId.
func WitnessEntry(e *LogEntry, signer Signer) (*WitnessProof, error) {
	payload, err := witnessPayload(e.VersionID)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(payload)
	if err != nil {
		return nil, err
	}
	pv, err := multibase.Encode(multibase.Base58BTC, sig)
	if err != nil {
		return nil, err
	}
	mk := signer.Multikey()
	return &WitnessProof{
		VersionID: e.VersionID,
		Proof: []Proof{{
			Type:               "DataIntegrityProof",
			Cryptosuite:        signer.Suite(),
			Created:            FormatVersionTime(time.Now()),
			VerificationMethod: "did:key:" + mk + "#" + mk,
			ProofPurpose:       "authentication",
			ProofValue:         pv,
		}},
	}, nil
}

// NewGenesisEntry builds and signs the first entry of a DID log. The state
// document and params may reference the not-yet-known identifier with the
// {SCID} literal; derivation fixes the SCID and the substitution is applied
// before hashing and signing.
//
// params must declare the method; scid and updateKeys are filled in here.
func NewGenesisEntry(signer Signer, params Parameters, state DocState, at time.Time) (*LogEntry, error) {
	if params.Method == "" {
		return nil, fmt.Errorf("%w: genesis parameters missing method", ErrInvalidLog)
	}
	if at.IsZero() {
		at = time.Now()
	}
	if params.UpdateKeys == nil {
		params.UpdateKeys = []string{signer.Multikey()}
	}
	params.SCID = SCIDPlaceholder

	e := &LogEntry{
		VersionTime: FormatVersionTime(at),
		Parameters:  params,
		State:       state,
	}
	scid, err := DeriveSCID(Hasher{}, e)
	if err != nil {
		return nil, err
	}
	if err := substituteSCID(e, scid); err != nil {
		return nil, err
	}

	hash, err := e.computeEntryHash(Hasher{}, scid)
	if err != nil {
		return nil, err
	}
	e.VersionID = fmt.Sprintf("1-%s", hash)

	if err := SignEntry(e, signer); err != nil {
		return nil, err
	}
	return e, nil
}

// NewUpdateEntry builds and signs the next entry after prev. delta carries
// only the parameters that change; state is the new document or a patch
// against prev's materialized document.
func NewUpdateEntry(signer Signer, prev *LogEntry, delta Parameters, state DocState, at time.Time) (*LogEntry, error) {
	prevNum, _, err := ParseVersionID(prev.VersionID)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		at = time.Now()
	}

	e := &LogEntry{
		VersionTime: FormatVersionTime(at),
		Parameters:  delta,
		State:       state,
	}
	hash, err := e.computeEntryHash(Hasher{}, prev.VersionID)
	if err != nil {
		return nil, err
	}
	e.VersionID = fmt.Sprintf("%d-%s", prevNum+1, hash)

	if err := SignEntry(e, signer); err != nil {
		return nil, err
	}
	return e, nil
}

// substituteSCID replaces the {SCID} literal throughout the entry with the
// derived identifier, round-tripping through the entry's own JSON form so the
// substitution reaches the state document too.
func substituteSCID(e *LogEntry, scid string) error {
	b, err := canonicalJSON(e)
	if err != nil {
		return err
	}
	b = bytes.ReplaceAll(b, []byte(SCIDPlaceholder), []byte(scid))
	var out LogEntry
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*e = out
	return nil
}
