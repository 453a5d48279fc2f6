// Package httpapi implements the public operational surface: incident
// query/ack/false-alarm, camera CRUD, telemetry ingestion, agent notes,
// onboarding, a WebSocket stream of timeline events, and the voice
// call-control endpoints, over github.com/go-chi/chi/v5. It stays a
// thin adapter over internal/router, internal/controller and
// internal/store.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/carewatch/guardian/internal/controller"
	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/notify"
	"github.com/carewatch/guardian/internal/platform/logging"
	"github.com/carewatch/guardian/internal/router"
	"github.com/carewatch/guardian/internal/store"
	"github.com/carewatch/guardian/internal/timeline"
)

// Server wires the operational HTTP surface onto a chi.Router.
type Server struct {
	store      store.Datastore
	router     *router.Router
	controller *controller.Controller
	hub        *timeline.Hub
	events     EventLogger
	translator notify.Translator
	speech     notify.SpeechClient
	logger     logging.Logger
	upgrader   websocket.Upgrader
}

// EventLogger is the same narrow timeline seam the controller logs
// through; the accessibility and agent-note handlers emit their own
// timeline events (TRANSLATED, TTS_GENERATED, AGENT_NOTE_CREATED).
type EventLogger interface {
	LogEvent(ctx context.Context, incidentID, cameraID string, kind model.TimelineEventKind, payload map[string]interface{}) error
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l logging.Logger) Option { return func(s *Server) { s.logger = l } }

// WithEventLogger attaches the timeline logger the accessibility and
// agent-note handlers emit through.
func WithEventLogger(ev EventLogger) Option { return func(s *Server) { s.events = ev } }

// WithAccessibility attaches the translation and text-to-speech clients
// behind the incident translate/tts endpoints. Either may be nil; the
// corresponding endpoint then answers 503.
func WithAccessibility(tr notify.Translator, sp notify.SpeechClient) Option {
	return func(s *Server) { s.translator = tr; s.speech = sp }
}

// New creates a Server. hub is the same *timeline.Hub the
// internal/timeline.Logger broadcasts into.
func New(datastore store.Datastore, triggerRouter *router.Router, ctrl *controller.Controller, hub *timeline.Hub, opts ...Option) *Server {
	s := &Server{
		store:      datastore,
		router:     triggerRouter,
		controller: ctrl,
		hub:        hub,
		logger:     logging.NoOpLogger{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the chi.Router for this surface.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/cameras", func(r chi.Router) {
		r.Get("/", s.listCameras)
		r.Post("/", s.createCamera)
		r.Route("/{cameraID}", func(r chi.Router) {
			r.Get("/", s.getCamera)
			r.Put("/", s.updateCamera)
		})
	})

	r.Route("/incidents", func(r chi.Router) {
		r.Route("/{incidentID}", func(r chi.Router) {
			r.Get("/", s.getIncident)
			r.Post("/ack", s.ackIncident)
			r.Post("/false-alarm", s.falseAlarmIncident)
			r.Post("/translate", s.translateIncident)
			r.Post("/tts", s.ttsIncident)
		})
	})

	r.Route("/agent-notes", func(r chi.Router) {
		r.Post("/", s.createAgentNote)
		r.Get("/", s.listAgentNotes)
	})

	r.Route("/onboarding", func(r chi.Router) {
		r.Post("/", s.saveOnboarding)
		r.Get("/", s.getOnboarding)
	})

	r.Route("/telemetry", func(r chi.Router) {
		r.Post("/fall", s.postTrigger(model.TriggerFall))
		r.Post("/edge", s.postTrigger(model.TriggerEdge))
		r.Post("/fall-trigger", s.postTrigger(model.TriggerFallTrigger))
		r.Post("/prevention", s.postPrevention)
	})

	r.Get("/stream/timeline", s.streamTimeline)
	r.Post("/voice/{incidentID}/menu", s.voiceMenu)
	r.Post("/voice/{incidentID}/webhook", s.voiceWebhook)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// --- Camera CRUD ---

func (s *Server) listCameras(w http.ResponseWriter, r *http.Request) {
	cameras, err := s.store.ListCameras(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cameras)
}

func (s *Server) createCamera(w http.ResponseWriter, r *http.Request) {
	var cam model.Camera
	if err := json.NewDecoder(r.Body).Decode(&cam); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !cam.ValidBedPolygon() {
		writeError(w, http.StatusBadRequest, errInvalidBedPolygon)
		return
	}
	if cam.ID == "" {
		cam.ID = uuid.NewString()
	}
	if cam.PrimaryContact == "" {
		if onb, err := s.store.LatestOnboardingConfig(r.Context()); err == nil {
			cam.PrimaryContact = onb.PrimaryContact
			if cam.BackupContact == "" {
				cam.BackupContact = onb.BackupContact
			}
			s.logger.Info("auto-populated camera contacts from onboarding config", logging.Fields{"camera_id": cam.ID})
		}
	}
	cam.CreatedAt = time.Now().UTC()
	if err := s.store.SaveCamera(r.Context(), cam); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.SavePolicy(r.Context(), model.DefaultNotificationPolicy(cam.ID)); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, cam)
}

func (s *Server) getCamera(w http.ResponseWriter, r *http.Request) {
	cam, err := s.store.GetCamera(r.Context(), chi.URLParam(r, "cameraID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, cam)
}

func (s *Server) updateCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "cameraID")
	var cam model.Camera
	if err := json.NewDecoder(r.Body).Decode(&cam); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !cam.ValidBedPolygon() {
		writeError(w, http.StatusBadRequest, errInvalidBedPolygon)
		return
	}
	cam.ID = id
	if err := s.store.UpdateCamera(r.Context(), cam); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cam)
}

// --- Incident query / ack / false-alarm ---

func (s *Server) getIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := s.store.GetIncident(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type ackRequest struct {
	AckBy string `json:"ack_by"`
}

// ackIncident is a no-op success on an already-terminal incident:
// Controller.Ack returns nil without touching an ACKED or CLOSED
// incident, so repeated acks are idempotent for the caller.
func (s *Server) ackIncident(w http.ResponseWriter, r *http.Request) {
	var req ackRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := s.controller.Ack(r.Context(), chi.URLParam(r, "incidentID"), req.AckBy); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) falseAlarmIncident(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.FalseAlarm(r.Context(), chi.URLParam(r, "incidentID")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Telemetry ingestion ---

type triggerRequest struct {
	CameraID string `json:"camera_id"`
	FrameB64 string `json:"frame_b64"`
}

func (s *Server) postTrigger(kind model.TriggerKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req triggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		incidentID, err := s.router.HandleTrigger(r.Context(), req.CameraID, kind, req.FrameB64)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"incident_id": incidentID})
	}
}

type preventionRequest struct {
	CameraID string   `json:"camera_id"`
	Frames   []string `json:"frames_b64"`
	Hour     int      `json:"hour_of_day"`
}

func (s *Server) postPrevention(w http.ResponseWriter, r *http.Request) {
	var req preventionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.router.HandlePrevention(r.Context(), req.CameraID, req.Frames, req.Hour); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

// --- Timeline broadcast stream ---

// streamTimeline upgrades to a WebSocket and relays every broadcast
// timeline event to the client until it disconnects or falls behind (a
// blocked send drops the subscriber). A write deadline per message plus
// a periodic ping detect a dead peer.
func (s *Server) streamTimeline(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnWithContext(r.Context(), "websocket upgrade failed", logging.Fields{"error": err.Error()})
		return
	}
	defer conn.Close()

	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// --- DTMF webhook ---

// dtmfRequest carries the digit pressed in the four-option voice menu:
// 1 ack, 2 ack-will-call, 3 escalate, 4 false alarm.
type dtmfRequest struct {
	Digit string `json:"digit"`
}

func (s *Server) voiceWebhook(w http.ResponseWriter, r *http.Request) {
	incidentID := chi.URLParam(r, "incidentID")
	var req dtmfRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var err error
	switch req.Digit {
	case "1":
		err = s.controller.Ack(r.Context(), incidentID, "primary:ack")
	case "2":
		err = s.controller.Ack(r.Context(), incidentID, "primary:ack_will_call")
	case "3":
		err = s.controller.EscalateNow(r.Context(), incidentID)
	case "4":
		err = s.controller.FalseAlarm(r.Context(), incidentID)
	default:
		writeError(w, http.StatusBadRequest, errUnknownDigit)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
