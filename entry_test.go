package didtdw

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersionID(t *testing.T) {
	assert := assert.New(t)

	n, hash, err := ParseVersionID("3-QmSomeHashValue")
	require.NoError(t, err)
	assert.Equal(int64(3), n)
	assert.Equal("QmSomeHashValue", hash)

	for _, bad := range []string{"", "3", "-hash", "3-", "0-hash", "-1-hash", "x-hash"} {
		_, _, err := ParseVersionID(bad)
		assert.ErrorIs(err, ErrInvalidLog, "input: %q", bad)
	}
}

func TestParametersMerge(t *testing.T) {
	assert := assert.New(t)

	tr := true
	base := Parameters{
		Method:     "did:tdw:0.4",
		SCID:       "abc",
		UpdateKeys: []string{"k1"},
	}

	merged := base.Merge(Parameters{UpdateKeys: []string{"k2"}, Prerotation: &tr})
	assert.Equal("did:tdw:0.4", merged.Method)
	assert.Equal("abc", merged.SCID)
	assert.Equal([]string{"k2"}, merged.UpdateKeys)
	require.NotNil(t, merged.Prerotation)
	assert.True(*merged.Prerotation)

	// empty delta leaves everything in place
	same := merged.Merge(Parameters{})
	assert.Equal(merged.UpdateKeys, same.UpdateKeys)
	assert.Equal(merged.Method, same.Method)

	// merge output is detached from the delta's slices
	delta := Parameters{UpdateKeys: []string{"k3"}}
	out := base.Merge(delta)
	delta.UpdateKeys[0] = "mutated"
	assert.Equal([]string{"k3"}, out.UpdateKeys)
}

func TestParametersMergeEmptyUpdateKeysList(t *testing.T) {
	assert := assert.New(t)

	base := Parameters{UpdateKeys: []string{"k1"}}

	// an explicit empty list clears the keys; a nil list keeps them
	cleared := base.Merge(Parameters{UpdateKeys: []string{}})
	assert.Empty(cleared.UpdateKeys)

	kept := base.Merge(Parameters{UpdateKeys: nil})
	assert.Equal([]string{"k1"}, kept.UpdateKeys)
}

func TestDocStateFullAndPatch(t *testing.T) {
	assert := assert.New(t)

	full := FullState(json.RawMessage(`{"id":"did:tdw:abc:example.com"}`))
	assert.False(full.IsPatch())
	assert.JSONEq(`{"id":"did:tdw:abc:example.com"}`, string(full.Document()))

	wrapped := FullState(json.RawMessage(`{"value":{"id":"did:tdw:abc:example.com"}}`))
	assert.False(wrapped.IsPatch())
	assert.JSONEq(`{"id":"did:tdw:abc:example.com"}`, string(wrapped.Document()))

	patch := PatchState(json.RawMessage(`[{"op":"add","path":"/x","value":1}]`))
	assert.True(patch.IsPatch())
	assert.JSONEq(`[{"op":"add","path":"/x","value":1}]`, string(patch.PatchOps()))
}

func TestDocStateRoundTripPreservesBytes(t *testing.T) {
	assert := assert.New(t)

	raw := `{"id":"did:tdw:abc:example.com","n":1e2}`
	var s DocState
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(raw, string(out))
}

func TestParseLog(t *testing.T) {
	assert := assert.New(t)

	input := `{"versionId":"1-aaa","versionTime":"2024-01-01T00:00:00.000Z","parameters":{"method":"did:tdw:0.4"},"state":{"id":"x"}}

{"versionId":"2-bbb","versionTime":"2024-01-02T00:00:00.000Z","parameters":{},"state":{"id":"x"}}
`
	entries, err := ParseLog(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal("1-aaa", entries[0].VersionID)
	assert.Equal("did:tdw:0.4", entries[0].Parameters.Method)
	assert.Equal("2-bbb", entries[1].VersionID)
}

func TestParseLogMalformedLine(t *testing.T) {
	assert := assert.New(t)

	_, err := ParseLog(strings.NewReader("{not json}\n"))
	assert.Error(err)
}

func TestParseWitnessProofs(t *testing.T) {
	assert := assert.New(t)

	input := `[{"versionId":"1-aaa","proof":[{"type":"DataIntegrityProof","verificationMethod":"did:key:zKey#zKey","proofValue":"zSig"}]}]`
	proofs, err := ParseWitnessProofs(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, proofs, 1)
	assert.Equal("1-aaa", proofs[0].VersionID)
	require.Len(t, proofs[0].Proof, 1)
	assert.Equal("did:key:zKey#zKey", proofs[0].Proof[0].VerificationMethod)
}

func TestEntryTime(t *testing.T) {
	assert := assert.New(t)

	e := LogEntry{VersionTime: "2024-06-01T12:30:00.000Z"}
	tm, err := e.Time()
	require.NoError(t, err)
	assert.Equal(2024, tm.Year())

	e = LogEntry{VersionTime: "not-a-time"}
	_, err = e.Time()
	assert.Error(err)
}
