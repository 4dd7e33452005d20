package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	didtdw "github.com/did-method-tdw/go-didtdw"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, store *Store, hub *Hub) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(store, nil, hub, ":0", logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestServerHealth(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)
	srv := newTestServer(t, store, nil)

	resp, err := http.Get(srv.URL + "/_health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(body, "version")
}

func TestServerWatchAndResolve(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	srv := newTestServer(t, store, nil)

	did, entries, _, st2 := newTestLog(t)

	// register
	body, _ := json.Marshal(WatchRequest{DID: did})
	resp, err := http.Post(srv.URL+"/dids", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusAccepted, resp.StatusCode)

	// not yet refreshed: no document
	resp, err = http.Get(srv.URL + "/" + did)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusNotFound, resp.StatusCode)

	// commit the verified log out of band
	_, err = store.ExtendLog(ctx, did, st2)
	require.NoError(t, err)

	// document
	resp, err = http.Get(srv.URL + "/" + did)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("application/did+json", resp.Header.Get("Content-Type"))
	var doc struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	assert.Equal(did, doc.ID)

	// metadata
	resp, err = http.Get(srv.URL + "/" + did + "/metadata")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	var md didtdw.DocumentMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&md))
	assert.Equal(st2.VersionID, md.VersionID)
	assert.False(md.Deactivated)

	// log as did.jsonl, still verifiable
	resp, err = http.Get(srv.URL + "/" + did + "/log")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	served, err := didtdw.ParseLog(resp.Body)
	require.NoError(t, err)
	require.Len(t, served, 2)
	assert.Equal(entries[0].VersionID, served[0].VersionID)
	st, err := didtdw.Resolve(served, nil)
	require.NoError(t, err)
	assert.Equal(int64(2), st.VersionNumber)

	// listing
	resp, err = http.Get(srv.URL + "/dids")
	require.NoError(t, err)
	defer resp.Body.Close()
	var list []DIDSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(did, list[0].DID)
	assert.Equal(int64(2), list[0].HeadVersion)
}

func TestServerWatchRejectsBadDID(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)
	srv := newTestServer(t, store, nil)

	body, _ := json.Marshal(WatchRequest{DID: "did:web:example.com"})
	resp, err := http.Post(srv.URL+"/dids", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/dids", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestServerDeactivatedDID(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	srv := newTestServer(t, store, nil)

	signer, err := didtdw.GenerateEd25519Signer()
	require.NoError(t, err)
	tr := true
	t0 := time.Now().Add(-2 * time.Hour)
	genesis, err := didtdw.NewGenesisEntry(signer, didtdw.Parameters{Method: "did:tdw:0.4"},
		didtdw.FullState(json.RawMessage(`{"id":"did:tdw:{SCID}:example.com"}`)), t0)
	require.NoError(t, err)
	update, err := didtdw.NewUpdateEntry(signer, genesis, didtdw.Parameters{Deactivated: &tr},
		didtdw.FullState(json.RawMessage(`{"id":"did:tdw:`+genesis.Parameters.SCID+`:example.com"}`)), t0.Add(time.Hour))
	require.NoError(t, err)

	st, err := didtdw.Resolve([]didtdw.LogEntry{*genesis, *update}, nil)
	require.NoError(t, err)
	require.True(t, st.Deactivated)

	did := "did:tdw:" + genesis.Parameters.SCID + ":example.com"
	require.NoError(t, store.Watch(ctx, did, ""))
	_, err = store.ExtendLog(ctx, did, st)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/" + did)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusGone, resp.StatusCode)

	// metadata is still served for deactivated DIDs
	resp, err = http.Get(srv.URL + "/" + did + "/metadata")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	var md didtdw.DocumentMetadata
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&md))
	assert.True(md.Deactivated)
}

func TestServerUnwatch(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	store := newTestStore(t)
	srv := newTestServer(t, store, nil)

	did, _, st1, _ := newTestLog(t)
	require.NoError(t, store.Watch(ctx, did, ""))
	_, err := store.ExtendLog(ctx, did, st1)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/"+did, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/" + did)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusNotFound, resp.StatusCode)

	// deleting again is a 404
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(http.StatusNotFound, resp.StatusCode)
}

func TestServerUpdatesWebsocket(t *testing.T) {
	assert := assert.New(t)
	store := newTestStore(t)
	hub := NewHub()
	srv := newTestServer(t, store, hub)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/updates"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	did, entries, _, _ := newTestLog(t)
	// give the server a moment to register the subscriber
	require.Eventually(t, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		return len(hub.subs) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast(UpdateEvent{DID: did, Entry: entries[0]})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev UpdateEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(did, ev.DID)
	assert.Equal(entries[0].VersionID, ev.Entry.VersionID)
}
