package warehouse

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carewatch/guardian/internal/model"
)

func TestWriteEvent_PostsEventJSON(t *testing.T) {
	var gotPath string
	var gotKind string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var body model.TimelineEvent
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotKind = string(body.Kind)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "key", WithHTTPClient(server.Client()))
	err := c.WriteEvent(context.Background(), model.TimelineEvent{
		ID: "e1", Kind: model.EventReplan, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, "/v1/events", gotPath)
	require.Equal(t, "REPLAN", gotKind)
}

func TestConfigSuggestions_ParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/config-suggestions", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]ConfigSuggestion{
			{CameraID: "cam-1", Reason: "too many false alarms", Confidence: 0.8, Patch: map[string]interface{}{"motion_spike_threshold": 0.5}},
		})
	}))
	defer server.Close()

	c := New(server.URL, "key", WithHTTPClient(server.Client()))
	suggestions, err := c.ConfigSuggestions(context.Background())
	require.NoError(t, err)
	require.Len(t, suggestions, 1)
	require.Equal(t, "cam-1", suggestions[0].CameraID)
}

func TestMirrorConfigUpdate_PostsUpdate(t *testing.T) {
	var gotApplied bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body model.ConfigUpdate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		gotApplied = body.Applied
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := New(server.URL, "key", WithHTTPClient(server.Client()))
	err := c.MirrorConfigUpdate(context.Background(), model.ConfigUpdate{ID: "u1", CameraID: "cam-1", Applied: true})
	require.NoError(t, err)
	require.True(t, gotApplied)
}

func TestWriteEvent_PropagatesServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	c := New(server.URL, "key", WithHTTPClient(server.Client()))
	err := c.WriteEvent(context.Background(), model.TimelineEvent{ID: "e1", Kind: model.EventReplan})
	require.Error(t, err)
}
