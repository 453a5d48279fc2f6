package planner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/carewatch/guardian/internal/model"
	"github.com/stretchr/testify/require"
)

func TestFallback_VoiceAppendedAboveSeverityFour(t *testing.T) {
	p := Fallback(0.9, true)
	require.Equal(t, 4, p.SeveritySeed)
	require.Len(t, p.Actions, 2)
	require.Equal(t, model.ActionSendSMSPrimary, p.Actions[0].Type)
	require.Equal(t, model.ActionStartVoiceCallPrimary, p.Actions[1].Type)
}

func TestFallback_NoVoiceWhenDisabled(t *testing.T) {
	p := Fallback(0.9, false)
	require.Len(t, p.Actions, 1)
}

func TestFallback_LowMotionSeverityThree(t *testing.T) {
	p := Fallback(0.2, true)
	require.Equal(t, 3, p.SeveritySeed)
	require.Len(t, p.Actions, 1, "voice only appended when severity_seed >= 4")
}

// TestPlanIncident_RetriesOnceWithHalfFramesThenFallback exercises the
// retry path: invalid JSON twice means exactly one retry with half the
// frames, then the deterministic fallback plan.
func TestPlanIncident_RetriesOnceWithHalfFramesThenFallback(t *testing.T) {
	var calls int32
	var lastFrameCount int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var body wireRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		lastFrameCount = len(body.Frames)
		w.Write([]byte("not valid json"))
	}))
	defer server.Close()

	a := NewAdapter(server.URL, "", WithHTTPClient(server.Client()))

	plan, err := a.PlanIncident(context.Background(), PlanIncidentRequest{
		FramesB64: []string{"f1", "f2", "f3", "f4"},
		Motion:    0.9,
	})
	require.NoError(t, err, "persistent failure must resolve to the fallback plan, not an error")
	require.Equal(t, int32(2), atomic.LoadInt32(&calls))
	require.Equal(t, 2, lastFrameCount, "second attempt must use half the frames")
	require.Equal(t, Fallback(0.9, true).Reasons, plan.Reasons)
}

func TestPlanIncident_SucceedsWithoutRetry(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte(`{"verdict":"CONFIRMED_FALL","severity_seed":4,"confidence":0.8,"reasons":["fall detected"],"actions":[{"type":"SEND_SMS_PRIMARY","delay_s":0}],"replan_interval_s":10}`))
	}))
	defer server.Close()

	a := NewAdapter(server.URL, "", WithHTTPClient(server.Client()))
	plan, err := a.PlanIncident(context.Background(), PlanIncidentRequest{FramesB64: []string{"f1"}})
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
	require.Equal(t, model.VerdictConfirmedFall, plan.Verdict)
}

func TestPlanIncident_ClampsToFourFrames(t *testing.T) {
	var gotFrames int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body wireRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotFrames = len(body.Frames)
		w.Write([]byte(`{"verdict":"NO_INCIDENT","severity_seed":1,"confidence":0.9,"actions":[],"replan_interval_s":30}`))
	}))
	defer server.Close()

	a := NewAdapter(server.URL, "", WithHTTPClient(server.Client()))
	_, err := a.PlanIncident(context.Background(), PlanIncidentRequest{
		FramesB64: []string{"f1", "f2", "f3", "f4", "f5", "f6"},
	})
	require.NoError(t, err)
	require.Equal(t, 4, gotFrames)
}
