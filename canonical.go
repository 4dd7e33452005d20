package didtdw

import (
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multihash"
)

// SCIDPlaceholder is the literal substituted for the SCID during derivation,
// so that the identifier can be computed before it exists and reproduced by
// any verifier afterwards.
const SCIDPlaceholder = "{SCID}"

// Hasher identifies the multihash function used for SCIDs, entry hashes, and
// key commitments. Digests are encoded as base58btc multihashes, so logs
// remain self-describing if the method migrates to a different function.
type Hasher struct {
	code uint64
}

// DefaultHasher uses SHA2-256 (multicodec 0x12), the method default.
var DefaultHasher = Hasher{code: multihash.SHA2_256}

// NewHasher returns a Hasher for the given multihash code.
func NewHasher(code uint64) Hasher {
	return Hasher{code: code}
}

// Sum hashes b and returns the base58btc-encoded multihash.
func (h Hasher) Sum(b []byte) (string, error) {
	code := h.code
	if code == 0 {
		code = multihash.SHA2_256
	}
	mh, err := multihash.Sum(b, code, -1)
	if err != nil {
		return "", fmt.Errorf("computing multihash: %w", err)
	}
	return base58.Encode(mh), nil
}

// HashKey computes the commitment digest for a public key, as recorded in
// nextKeyHashes and checked against the following version's updateKeys.
func (h Hasher) HashKey(multikey string) (string, error) {
	return h.Sum([]byte(multikey))
}

// canonicalJSON returns the RFC 8785 (JCS) canonical serialization of v:
// deterministic bytes, independent of whitespace and member order.
func canonicalJSON(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, &CanonicalizationError{Reason: err.Error()}
	}
	out, err := jcs.Transform(b)
	if err != nil {
		return nil, &CanonicalizationError{Reason: err.Error()}
	}
	return out, nil
}
