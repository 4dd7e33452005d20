package didtdw

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// helper: serialize entries as a did.jsonl document
func marshalLog(t *testing.T, entries []LogEntry) []byte {
	t.Helper()
	var out []byte
	for _, e := range entries {
		line, err := json.Marshal(e)
		require.NoError(t, err)
		out = append(out, line...)
		out = append(out, '\n')
	}
	return out
}

func TestClientFetchLogURL(t *testing.T) {
	assert := assert.New(t)

	signer, _ := newSigner(t)
	t0 := time.Now().Add(-2 * time.Hour)
	genesis := createGenesisEntry(t, signer, Parameters{}, t0)
	u1 := createUpdateEntry(t, signer, genesis, Parameters{}, t0.Add(time.Hour))
	logBytes := marshalLog(t, []LogEntry{*genesis, *u1})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/did.jsonl" {
			http.NotFound(w, r)
			return
		}
		w.Write(logBytes)
	}))
	defer srv.Close()

	c := Client{HTTPClient: srv.Client()}
	entries, err := c.FetchLogURL(context.Background(), srv.URL+"/.well-known/did.jsonl")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(genesis.VersionID, entries[0].VersionID)

	// the round-tripped log still resolves
	st, err := Resolve(entries, nil)
	require.NoError(t, err)
	assert.Equal(int64(2), st.VersionNumber)

	_, err = c.FetchLogURL(context.Background(), srv.URL+"/missing/did.jsonl")
	assert.Error(err)
}

func TestClientFetchLogURLServerError(t *testing.T) {
	assert := assert.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := Client{HTTPClient: srv.Client()}
	_, err := c.FetchLogURL(context.Background(), srv.URL+"/did.jsonl")
	assert.Error(err)
}

func TestClientResolveDoesNotMutateOptions(t *testing.T) {
	assert := assert.New(t)

	signer, _ := newSigner(t)
	t0 := time.Now().Add(-2 * time.Hour)
	genesis := createGenesisEntry(t, signer, Parameters{}, t0)
	logBytes := marshalLog(t, []LogEntry{*genesis})

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/did.jsonl":
			w.Write(logBytes)
		case "/.well-known/did-witness.json":
			w.Write([]byte("[]"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	didstr := "did:tdw:" + genesis.Parameters.SCID + ":" + u.Host

	c := Client{HTTPClient: srv.Client()}
	opts := &ResolveOptions{}
	st, err := c.Resolve(context.Background(), didstr, opts)
	require.NoError(t, err)
	assert.Equal(int64(1), st.VersionNumber)

	// the fetched witness proofs stay out of the caller's options, so the
	// same value can be reused for another DID
	assert.Nil(opts.WitnessProofs)
}

func TestClientUserAgent(t *testing.T) {
	assert := assert.New(t)

	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("User-Agent")
		fmt.Fprintln(w)
	}))
	defer srv.Close()

	c := Client{HTTPClient: srv.Client(), UserAgent: "test-agent/1.0"}
	_, err := c.FetchLogURL(context.Background(), srv.URL+"/did.jsonl")
	require.NoError(t, err)
	assert.Equal("test-agent/1.0", seen)
}
