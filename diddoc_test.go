package didtdw

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvedStateDoc(t *testing.T) {
	assert := assert.New(t)

	signer, mk := newSigner(t)
	t0 := time.Now().Add(-time.Hour)
	doc := fmt.Sprintf(`{
		"@context": ["https://www.w3.org/ns/did/v1"],
		"id": "did:tdw:{SCID}:example.com",
		"verificationMethod": [{
			"id": "did:tdw:{SCID}:example.com#key-1",
			"type": "Multikey",
			"controller": "did:tdw:{SCID}:example.com",
			"publicKeyMultibase": %q
		}],
		"authentication": ["did:tdw:{SCID}:example.com#key-1"],
		"service": [{
			"id": "did:tdw:{SCID}:example.com#files",
			"type": "LinkedDomains",
			"serviceEndpoint": "https://example.com"
		}]
	}`, mk)

	genesis, err := NewGenesisEntry(signer, Parameters{Method: "did:tdw:0.4"},
		FullState(json.RawMessage(doc)), t0)
	require.NoError(t, err)

	st, err := Resolve([]LogEntry{*genesis}, nil)
	require.NoError(t, err)

	parsed, err := st.Doc()
	require.NoError(t, err)
	id := "did:tdw:" + genesis.Parameters.SCID + ":example.com"
	assert.Equal(id, parsed.ID)
	assert.Equal([]string{"https://www.w3.org/ns/did/v1"}, parsed.Context)
	require.Len(t, parsed.VerificationMethod, 1)
	assert.Equal(id+"#key-1", parsed.VerificationMethod[0].ID)
	assert.Equal(mk, parsed.VerificationMethod[0].PublicKeyMultibase)
	assert.Equal([]string{id + "#key-1"}, parsed.Authentication)
	require.Len(t, parsed.Service, 1)
	assert.Equal("https://example.com", parsed.Service[0].ServiceEndpoint)
}

func TestResolvedStateDocMalformed(t *testing.T) {
	assert := assert.New(t)

	st := &ResolvedState{Document: json.RawMessage(`{"id": 42}`)}
	_, err := st.Doc()
	assert.Error(err)
}
