package didtdw

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bluesky-social/indigo/atproto/atcrypto"
	"github.com/multiformats/go-multibase"
)

// Cryptosuite identifiers with built-in verifiers.
const (
	SuiteEdDSAJCS2022 = "eddsa-jcs-2022"
	SuiteECDSAJCS2019 = "ecdsa-jcs-2019"
)

// SuiteVerifier checks one Data Integrity cryptosuite. Suites are looked up
// by the proof's cryptosuite identifier, so new schemes can be added without
// touching the fold logic.
type SuiteVerifier interface {
	// Verify checks sig (the decoded proofValue) over payload using the
	// public key encoded as multikey. Returns ErrInvalidSignature when the
	// signature does not verify, other errors for unusable key material.
	Verify(payload []byte, sig []byte, multikey string) error
}

var (
	suitesMu sync.RWMutex
	suites   = map[string]SuiteVerifier{
		SuiteEdDSAJCS2022: eddsaVerifier{},
		SuiteECDSAJCS2019: ecdsaVerifier{},
	}
)

// RegisterSuite installs a verifier for a cryptosuite identifier, replacing
// any existing one.
func RegisterSuite(name string, v SuiteVerifier) {
	suitesMu.Lock()
	defer suitesMu.Unlock()
	suites[name] = v
}

func suiteFor(p Proof) SuiteVerifier {
	name := p.Cryptosuite
	if name == "" {
		// DataIntegrityProof with no explicit suite defaults to the
		// method's primary suite.
		name = SuiteEdDSAJCS2022
	}
	suitesMu.RLock()
	defer suitesMu.RUnlock()
	return suites[name]
}

const multicodecEd25519Pub = 0xed

// eddsaVerifier implements eddsa-jcs-2022: Ed25519 over the JCS canonical
// payload bytes.
type eddsaVerifier struct{}

func (eddsaVerifier) Verify(payload []byte, sig []byte, multikey string) error {
	pub, err := parseEd25519Multikey(multikey)
	if err != nil {
		return err
	}
	if !ed25519.Verify(pub, payload, sig) {
		return ErrInvalidSignature
	}
	return nil
}

// ecdsaVerifier implements ecdsa-jcs-2019 for P-256 and K-256 multikeys.
type ecdsaVerifier struct{}

func (ecdsaVerifier) Verify(payload []byte, sig []byte, multikey string) error {
	pub, err := atcrypto.ParsePublicMultibase(multikey)
	if err != nil {
		return fmt.Errorf("unsupported key material: %w", err)
	}
	if err := pub.HashAndVerify(payload, sig); err != nil {
		if errors.Is(err, atcrypto.ErrInvalidSignature) {
			return ErrInvalidSignature
		}
		return err
	}
	return nil
}

func parseEd25519Multikey(multikey string) (ed25519.PublicKey, error) {
	_, data, err := multibase.Decode(multikey)
	if err != nil {
		return nil, fmt.Errorf("decoding multikey: %w", err)
	}
	// varint multicodec prefix for ed25519-pub is the two bytes 0xed 0x01
	if len(data) != 2+ed25519.PublicKeySize || data[0] != multicodecEd25519Pub || data[1] != 0x01 {
		return nil, fmt.Errorf("not an ed25519 multikey: %s", multikey)
	}
	return ed25519.PublicKey(data[2:]), nil
}

func decodeProofValue(v string) ([]byte, error) {
	_, b, err := multibase.Decode(v)
	if err != nil {
		return nil, fmt.Errorf("decoding proofValue: %w", err)
	}
	return b, nil
}

// multikeyFromVerificationMethod extracts the multikey from a did:key
// verification method reference ("did:key:<mk>#<mk>" or a bare multikey).
func multikeyFromVerificationMethod(vm string) (string, error) {
	s := vm
	if frag := strings.IndexByte(s, '#'); frag >= 0 {
		s = s[frag+1:]
	}
	s = strings.TrimPrefix(s, "did:key:")
	if s == "" || !strings.HasPrefix(s, "z") {
		return "", fmt.Errorf("unresolvable verification method %q", vm)
	}
	return s, nil
}

// witnessDID reduces a verification method reference to its controlling
// did:key DID, the identifier form used in witness configurations.
func witnessDID(vm string) string {
	s, _, _ := strings.Cut(vm, "#")
	if !strings.HasPrefix(s, "did:key:") {
		return "did:key:" + s
	}
	return s
}

// verifyProofs checks an entry's proofs against the authorized update keys:
// the updateKeys active as of the previous version, except for version 1,
// which self-authorizes because no prior entry exists. Every supplied proof
// must verify; requireAll additionally demands a valid proof from each
// authorized key.
func verifyProofs(e *LogEntry, authorized []string, requireAll bool, version int64) error {
	if len(e.Proof) == 0 {
		return &ProofVerificationError{Reason: "entry has no proof"}
	}
	payload, err := e.signingInput()
	if err != nil {
		return err
	}

	allowed := make(map[string]bool, len(authorized))
	for _, k := range authorized {
		allowed[k] = true
	}

	signed := make(map[string]bool, len(e.Proof))
	for _, pr := range e.Proof {
		mk, err := multikeyFromVerificationMethod(pr.VerificationMethod)
		if err != nil {
			return &ProofVerificationError{KeyID: pr.VerificationMethod, Reason: "unresolvable key identifier"}
		}
		if !allowed[mk] {
			return &UnauthorizedKeyError{KeyID: mk, Version: version}
		}
		suite := suiteFor(pr)
		if suite == nil {
			return &ProofVerificationError{KeyID: mk, Reason: fmt.Sprintf("unsupported cryptosuite %q", pr.Cryptosuite)}
		}
		sig, err := decodeProofValue(pr.ProofValue)
		if err != nil {
			return &ProofVerificationError{KeyID: mk, Reason: err.Error()}
		}
		if err := suite.Verify(payload, sig, mk); err != nil {
			return &ProofVerificationError{KeyID: mk, Reason: err.Error()}
		}
		signed[mk] = true
	}

	if requireAll {
		for _, k := range authorized {
			if !signed[k] {
				return &ProofVerificationError{KeyID: k, Reason: "no proof from declared update key"}
			}
		}
	}
	return nil
}

// witnessPayload is what a witness signs: the canonical form of the
// versionId being witnessed.
func witnessPayload(versionID string) ([]byte, error) {
	return canonicalJSON(map[string]string{"versionId": versionID})
}

// verifyWitnesses counts distinct authorized witnesses with a valid proof
// over the entry's versionId and checks their combined weight against the
// threshold. The config is the one declared by the entry being witnessed,
// never a stale one. A nil config or zero threshold means witnessing is not
// required at this version.
func verifyWitnesses(e *LogEntry, cfg *WitnessConfig, proofs []WitnessProof) error {
	if cfg == nil || cfg.Threshold <= 0 {
		return nil
	}
	payload, err := witnessPayload(e.VersionID)
	if err != nil {
		return err
	}

	weights := make(map[string]int, len(cfg.Witnesses))
	for _, w := range cfg.Witnesses {
		weight := w.Weight
		if weight <= 0 {
			weight = 1
		}
		weights[w.ID] = weight
	}

	observed := 0
	seen := make(map[string]bool)
	for _, wp := range proofs {
		if wp.VersionID != e.VersionID {
			continue
		}
		for _, pr := range wp.Proof {
			id := witnessDID(pr.VerificationMethod)
			weight, ok := weights[id]
			if !ok || seen[id] {
				continue
			}
			mk, err := multikeyFromVerificationMethod(pr.VerificationMethod)
			if err != nil {
				continue
			}
			suite := suiteFor(pr)
			if suite == nil {
				continue
			}
			sig, err := decodeProofValue(pr.ProofValue)
			if err != nil {
				continue
			}
			if suite.Verify(payload, sig, mk) != nil {
				continue
			}
			seen[id] = true
			observed += weight
		}
	}

	if observed < cfg.Threshold {
		return &WitnessThresholdError{Required: cfg.Threshold, Observed: observed}
	}
	return nil
}
