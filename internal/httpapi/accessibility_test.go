package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carewatch/guardian/internal/controller"
	"github.com/carewatch/guardian/internal/executor"
	"github.com/carewatch/guardian/internal/guard"
	"github.com/carewatch/guardian/internal/httpapi"
	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/planner"
	"github.com/carewatch/guardian/internal/router"
	"github.com/carewatch/guardian/internal/store/memstore"
	"github.com/carewatch/guardian/internal/timeline"
)

type capturedEvent struct {
	incidentID string
	cameraID   string
	kind       model.TimelineEventKind
	payload    map[string]interface{}
}

type capturingEvents struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (c *capturingEvents) LogEvent(_ context.Context, incidentID, cameraID string, kind model.TimelineEventKind, payload map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, capturedEvent{incidentID, cameraID, kind, payload})
	return nil
}

func (c *capturingEvents) byKind(kind model.TimelineEventKind) []capturedEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []capturedEvent
	for _, e := range c.events {
		if e.kind == kind {
			out = append(out, e)
		}
	}
	return out
}

type fakeTranslator struct{}

func (fakeTranslator) Translate(_ context.Context, text, targetLanguage string) (string, error) {
	return "[" + targetLanguage + "] " + text, nil
}

type fakeSpeech struct{}

func (fakeSpeech) Synthesize(context.Context, string) ([]byte, error) {
	return []byte("mp3-bytes"), nil
}

func newAccessibilityServer(t *testing.T) (*httptest.Server, *memstore.Store, *capturingEvents) {
	t.Helper()
	st := memstore.New()
	g := guard.New()
	fp := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictPossibleFall}}
	ctrl := controller.New(st, fp, g, noopEvents{})
	exec := executor.New(st, fakeNotify{}, fakeNotify{})
	ctrl.SetExecutor(exec)
	r := router.New(st, fp, ctrl, g, exec, noopEvents{})

	events := &capturingEvents{}
	srv := httpapi.New(st, r, ctrl, timeline.NewHub(),
		httpapi.WithEventLogger(events),
		httpapi.WithAccessibility(fakeTranslator{}, fakeSpeech{}),
	)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts, st, events
}

func TestTranslateIncident_EmitsTranslatedEvent(t *testing.T) {
	ts, st, events := newAccessibilityServer(t)
	require.NoError(t, st.SaveIncident(context.Background(), model.Incident{
		ID: "inc-1", CameraID: "cam-1", Status: model.StatusActive,
		SummaryText: "CONFIRMED_FALL detected (severity 4/5).",
	}))

	body, _ := json.Marshal(map[string]string{"target_language": "es"})
	resp, err := http.Post(ts.URL+"/incidents/inc-1/translate", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, "[es] CONFIRMED_FALL detected (severity 4/5).", out["translated_text"])
	require.Equal(t, "es", out["language"])

	translated := events.byKind(model.EventTranslated)
	require.Len(t, translated, 1)
	require.Equal(t, "inc-1", translated[0].incidentID)
	require.Equal(t, "es", translated[0].payload["target_language"])
}

func TestTranslateIncident_NotFound(t *testing.T) {
	ts, _, _ := newAccessibilityServer(t)
	body, _ := json.Marshal(map[string]string{"target_language": "es"})
	resp, err := http.Post(ts.URL+"/incidents/missing/translate", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestTranslateIncident_UnconfiguredReturns503(t *testing.T) {
	ts, st := newTestServer(t)
	require.NoError(t, st.SaveIncident(context.Background(), model.Incident{
		ID: "inc-1", CameraID: "cam-1", Status: model.StatusActive,
	}))
	body, _ := json.Marshal(map[string]string{"target_language": "es"})
	resp, err := http.Post(ts.URL+"/incidents/inc-1/translate", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp.Body.Close()
}

func TestTTSIncident_ReturnsAudioAndEmitsEvent(t *testing.T) {
	ts, st, events := newAccessibilityServer(t)
	require.NoError(t, st.SaveIncident(context.Background(), model.Incident{
		ID: "inc-12345678", CameraID: "cam-1", Status: model.StatusActive,
		SummaryText: "POSSIBLE_FALL detected (severity 3/5).",
	}))

	resp, err := http.Post(ts.URL+"/incidents/inc-12345678/tts", "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "audio/mpeg", resp.Header.Get("Content-Type"))

	audio, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, []byte("mp3-bytes"), audio)

	generated := events.byKind(model.EventTTSGenerated)
	require.Len(t, generated, 1)
	require.Equal(t, len("mp3-bytes"), generated[0].payload["audio_bytes"])
}

func TestCreateAgentNote_EmitsEventAndActivates(t *testing.T) {
	ts, st, events := newAccessibilityServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"camera_id":        "cam-1",
		"priority":         2,
		"text":             "Watch for repeated attempts to stand unassisted",
		"duration_minutes": 30,
	})
	resp, err := http.Post(ts.URL+"/agent-notes/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var note model.AgentNote
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&note))
	resp.Body.Close()
	require.NotEmpty(t, note.ID)

	created := events.byKind(model.EventAgentNoteCreated)
	require.Len(t, created, 1)
	require.Equal(t, "cam-1", created[0].cameraID)

	active, err := st.ActiveAgentNotes(context.Background(), "cam-1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, note.ID, active[0].ID)
}

func TestCreateAgentNote_GlobalScope(t *testing.T) {
	ts, _, events := newAccessibilityServer(t)

	body, _ := json.Marshal(map[string]interface{}{"text": "No visitors after 9pm"})
	resp, err := http.Post(ts.URL+"/agent-notes/", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	created := events.byKind(model.EventAgentNoteCreated)
	require.Len(t, created, 1)
	require.Equal(t, "global", created[0].cameraID)
}

func TestCreateAgentNote_EmptyTextRejected(t *testing.T) {
	ts, _, _ := newAccessibilityServer(t)
	resp, err := http.Post(ts.URL+"/agent-notes/", "application/json", bytes.NewReader([]byte(`{"priority":1}`)))
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestOnboarding_AutoPopulatesCameraContacts(t *testing.T) {
	ts, _, _ := newAccessibilityServer(t)

	onb, _ := json.Marshal(model.OnboardingConfig{
		PrimaryContact: "+15551230001",
		BackupContact:  "+15551230002",
	})
	resp, err := http.Post(ts.URL+"/onboarding/", "application/json", bytes.NewReader(onb))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	cam, _ := json.Marshal(model.Camera{ID: "cam-1", Name: "Bedroom"})
	resp, err = http.Post(ts.URL+"/cameras/", "application/json", bytes.NewReader(cam))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created model.Camera
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, "+15551230001", created.PrimaryContact)
	require.Equal(t, "+15551230002", created.BackupContact)
}

func TestOnboarding_GetLatest(t *testing.T) {
	ts, _, _ := newAccessibilityServer(t)

	resp, err := http.Get(ts.URL + "/onboarding/")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	onb, _ := json.Marshal(model.OnboardingConfig{MonitoringType: "infant", PrimaryContact: "+15550009999"})
	resp, err = http.Post(ts.URL+"/onboarding/", "application/json", bytes.NewReader(onb))
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/onboarding/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out model.OnboardingConfig
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	require.Equal(t, "infant", out.MonitoringType)
}

func TestVoiceMenu_EnumeratesDTMFOptions(t *testing.T) {
	ts, st, _ := newAccessibilityServer(t)
	require.NoError(t, st.SaveIncident(context.Background(), model.Incident{
		ID: "inc-1", CameraID: "cam-1", Status: model.StatusActive,
		SummaryText: "CONFIRMED_FALL detected (severity 4/5).",
	}))

	resp, err := http.Post(ts.URL+"/voice/inc-1/menu", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var doc struct {
		Say     string `json:"say"`
		Options []struct {
			Digit  string `json:"digit"`
			Action string `json:"action"`
		} `json:"options"`
		WebhookURL string `json:"webhook_url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&doc))
	resp.Body.Close()

	require.Contains(t, doc.Say, "CONFIRMED_FALL detected")
	require.Len(t, doc.Options, 4)
	require.Equal(t, "ack", doc.Options[0].Action)
	require.Equal(t, "false_alarm", doc.Options[3].Action)
	require.Equal(t, "/voice/inc-1/webhook", doc.WebhookURL)
}
