package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/notify"
)

// summaryOrDefault falls back to a minimal factual line when the
// incident has not been summarized yet (no severity tick has run).
func summaryOrDefault(inc model.Incident) string {
	if inc.SummaryText != "" {
		return inc.SummaryText
	}
	return fmt.Sprintf("%s detected (severity %d/5).", inc.Verdict, inc.SeverityCurrent)
}

func (s *Server) logEvent(r *http.Request, incidentID, cameraID string, kind model.TimelineEventKind, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	_ = s.events.LogEvent(r.Context(), incidentID, cameraID, kind, payload)
}

// --- Incident translation ---

type translateRequest struct {
	Text           string `json:"text,omitempty"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
	Language       string `json:"language"`
}

func (s *Server) translateIncident(w http.ResponseWriter, r *http.Request) {
	if s.translator == nil {
		writeError(w, http.StatusServiceUnavailable, errTranslationUnavailable)
		return
	}
	inc, err := s.store.GetIncident(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var req translateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	source := req.Text
	if source == "" {
		source = summaryOrDefault(inc)
	}
	translated, err := s.translator.Translate(r.Context(), source, req.TargetLanguage)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	s.logEvent(r, inc.ID, inc.CameraID, model.EventTranslated, map[string]interface{}{
		"target_language":   req.TargetLanguage,
		"original_length":   len(source),
		"translated_length": len(translated),
	})
	writeJSON(w, http.StatusOK, translateResponse{TranslatedText: translated, Language: req.TargetLanguage})
}

// --- Incident text-to-speech ---

type ttsRequest struct {
	Text string `json:"text,omitempty"`
}

func (s *Server) ttsIncident(w http.ResponseWriter, r *http.Request) {
	if s.speech == nil {
		writeError(w, http.StatusServiceUnavailable, errSpeechUnavailable)
		return
	}
	incidentID := chi.URLParam(r, "incidentID")
	inc, err := s.store.GetIncident(r.Context(), incidentID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	var req ttsRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	text := req.Text
	if text == "" {
		text = summaryOrDefault(inc)
	}
	audio, err := s.speech.Synthesize(r.Context(), text)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}

	s.logEvent(r, inc.ID, inc.CameraID, model.EventTTSGenerated, map[string]interface{}{
		"text_length": len(text),
		"audio_bytes": len(audio),
	})

	short := incidentID
	if len(short) > 8 {
		short = short[:8]
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=incident_%s.mp3", short))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

// --- Agent notes ---

type agentNoteRequest struct {
	CameraID        string   `json:"camera_id,omitempty"`
	Priority        int      `json:"priority"`
	Text            string   `json:"text"`
	Watchlist       []string `json:"watchlist,omitempty"`
	Summary         string   `json:"summary,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
}

func (s *Server) createAgentNote(w http.ResponseWriter, r *http.Request) {
	var req agentNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, errEmptyNoteText)
		return
	}
	if req.DurationMinutes <= 0 {
		req.DurationMinutes = 60
	}

	now := time.Now().UTC()
	note := model.AgentNote{
		ID:        uuid.NewString(),
		CameraID:  req.CameraID,
		Priority:  req.Priority,
		Text:      req.Text,
		Watchlist: req.Watchlist,
		Summary:   req.Summary,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(req.DurationMinutes) * time.Minute),
	}
	if err := s.store.SaveAgentNote(r.Context(), note); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	cameraID := note.CameraID
	if cameraID == "" {
		cameraID = "global"
	}
	s.logEvent(r, "agent-note-"+note.ID[:8], cameraID, model.EventAgentNoteCreated, map[string]interface{}{
		"note_id":  note.ID,
		"summary":  note.Summary,
		"priority": note.Priority,
	})
	writeJSON(w, http.StatusCreated, note)
}

func (s *Server) listAgentNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.store.ActiveAgentNotes(r.Context(), r.URL.Query().Get("camera_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

// --- Onboarding ---

func (s *Server) saveOnboarding(w http.ResponseWriter, r *http.Request) {
	var o model.OnboardingConfig
	if err := json.NewDecoder(r.Body).Decode(&o); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.MonitoringType == "" {
		o.MonitoringType = "old_people"
	}
	o.CreatedAt = time.Now().UTC()
	if err := s.store.SaveOnboardingConfig(r.Context(), o); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (s *Server) getOnboarding(w http.ResponseWriter, r *http.Request) {
	o, err := s.store.LatestOnboardingConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// --- Voice call-control document ---

type voiceMenuOption struct {
	Digit  string `json:"digit"`
	Action string `json:"action"`
	Label  string `json:"label"`
}

type voiceMenuDocument struct {
	IncidentID string            `json:"incident_id"`
	Say        string            `json:"say"`
	Options    []voiceMenuOption `json:"options"`
	WebhookURL string            `json:"webhook_url"`
}

// voiceMenu serves the call-control document the voice gateway fetches
// when connecting a call: the spoken prompt plus the four-option
// DTMF menu, each digit POSTed back to the webhook below.
func (s *Server) voiceMenu(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "incidentID")
	inc, err := s.store.GetIncident(r.Context(), incidentID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	doc := voiceMenuDocument{
		IncidentID: incidentID,
		Say:        notify.CallMenuScript(summaryOrDefault(inc)),
		Options: []voiceMenuOption{
			{Digit: "1", Action: "ack", Label: "Acknowledge and stop escalation"},
			{Digit: "2", Action: "ack_will_call", Label: "Will call the monitored person"},
			{Digit: "3", Action: "escalate", Label: "Escalate to backup contact now"},
			{Digit: "4", Action: "false_alarm", Label: "Mark as false alarm"},
		},
		WebhookURL: fmt.Sprintf("/voice/%s/webhook", incidentID),
	}
	writeJSON(w, http.StatusOK, doc)
}
