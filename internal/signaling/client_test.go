package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VuStudio-Labs/VuOs-WATCH-DOG/internal/protocol"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *EngineClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	return NewEngineClient(port, "screen://0")
}

func TestEngineClient_CreateOffer(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/createOffer", r.URL.Path)
		assert.Equal(t, "viewer-1", r.URL.Query().Get("peerid"))
		assert.Equal(t, "screen://0", r.URL.Query().Get("url"))
		_ = json.NewEncoder(w).Encode(protocol.SDPDescription{Type: "offer", SDP: "v=0"})
	})

	offer, err := client.CreateOffer(context.Background(), "viewer-1")
	require.NoError(t, err)
	assert.Equal(t, "offer", offer.Type)
	assert.Equal(t, "v=0", offer.SDP)
}

func TestEngineClient_SetAnswer(t *testing.T) {
	var gotBody protocol.SDPDescription
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/setAnswer", r.URL.Path)
		assert.Equal(t, "viewer-2", r.URL.Query().Get("peerid"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.SetAnswer(context.Background(), "viewer-2", protocol.SDPDescription{Type: "answer", SDP: "v=1"})
	require.NoError(t, err)
	assert.Equal(t, "answer", gotBody.Type)
}

func TestEngineClient_GetICECandidates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/getIceCandidate", r.URL.Path)
		assert.Equal(t, "viewer-3", r.URL.Query().Get("peerid"))
		_ = json.NewEncoder(w).Encode([]protocol.ICECandidate{{Candidate: "candidate:1", SDPMid: "0"}})
	})

	candidates, err := client.GetICECandidates(context.Background(), "viewer-3")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, "candidate:1", candidates[0].Candidate)
}

func TestEngineClient_AddICECandidate(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "/api/addIceCandidate", r.URL.Path)
		assert.Equal(t, "viewer-4", r.URL.Query().Get("peerid"))
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.AddICECandidate(context.Background(), "viewer-4", protocol.ICECandidate{Candidate: "candidate:2"})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestEngineClient_Hangup(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/hangup", r.URL.Path)
		assert.Equal(t, "viewer-5", r.URL.Query().Get("peerid"))
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.Hangup(context.Background(), "viewer-5")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestEngineClient_NonSuccessStatusReturnsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := client.CreateOffer(context.Background(), "viewer-6")
	require.Error(t, err)
}
