// Package router implements the Trigger Router & Dedup component:
// the single entry point for both prevention telemetry and fall/edge
// triggers, responsible for creating (or deduping into) incidents and
// handing them off to the Incident Controller.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carewatch/guardian/internal/controller"
	"github.com/carewatch/guardian/internal/executor"
	"github.com/carewatch/guardian/internal/guard"
	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/planner"
	"github.com/carewatch/guardian/internal/platform/logging"
	"github.com/carewatch/guardian/internal/platform/telemetry"
	"github.com/carewatch/guardian/internal/severity"
	"github.com/carewatch/guardian/internal/store"
)

// defaultRiskThresholdHigh is used when a camera has not configured one.
const defaultRiskThresholdHigh = 0.7

// seed holds the initial incident attributes for a trigger kind.
type seed struct {
	verdict    model.Verdict
	severity   int
	risk       float64
	confidence float64
}

var seedByTrigger = map[model.TriggerKind]seed{
	model.TriggerFall:        {verdict: model.VerdictConfirmedFall, severity: 4, risk: 0.9, confidence: 0.8},
	model.TriggerEdge:        {verdict: model.VerdictPossibleFall, severity: 3, risk: 0.6, confidence: 0.65},
	model.TriggerFallTrigger: {verdict: model.VerdictPossibleFall, severity: 3, risk: 0.8, confidence: 0},
}

// Router wires incoming telemetry to the Incident Controller and the
// prevention-path planner/guard/executor chain.
type Router struct {
	store      store.Datastore
	planner    planner.Client
	controller *controller.Controller
	guard      *guard.Guard
	exec       *executor.Executor
	events     controller.EventLogger
	dedup      *Dedup
	logger     logging.Logger
	counters   telemetry.Counters
}

// Option configures a Router.
type Option func(*Router)

func WithLogger(l logging.Logger) Option { return func(r *Router) { r.logger = l } }
func WithDedup(d *Dedup) Option          { return func(r *Router) { r.dedup = d } }

// New creates a Router.
func New(datastore store.Datastore, plannerClient planner.Client, ctrl *controller.Controller, g *guard.Guard, exec *executor.Executor, events controller.EventLogger, opts ...Option) *Router {
	r := &Router{
		store:      datastore,
		planner:    plannerClient,
		controller: ctrl,
		guard:      g,
		exec:       exec,
		events:     events,
		logger:     logging.NoOpLogger{},
		counters:   telemetry.NewCounters(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleTrigger is the fall/edge trigger entry point. It dedupes
// against any ACTIVE incident on cameraID — attaching the new frame
// instead of creating a second incident — and otherwise creates a fresh
// Incident seeded per the trigger-kind table, then hands off to the
// Incident Controller for its first plan.
func (r *Router) HandleTrigger(ctx context.Context, cameraID string, kind model.TriggerKind, frameB64 string) (string, error) {
	if existing, ok, err := r.existingActive(ctx, cameraID); err != nil {
		return "", err
	} else if ok {
		if err := r.controller.AttachFrame(ctx, existing.ID, frameB64); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	if r.dedup != nil {
		if acquired := r.dedup.TryLock(ctx, cameraID); !acquired {
			// Either another request is already creating the incident, or
			// Redis degraded us to store-only dedup. Either way, re-check
			// the store once before racing SaveIncident.
			if existing, ok, err := r.existingActive(ctx, cameraID); err == nil && ok {
				_ = r.controller.AttachFrame(ctx, existing.ID, frameB64)
				return existing.ID, nil
			}
		}
	}

	sv, known := seedByTrigger[kind]
	if !known {
		return "", fmt.Errorf("router: unknown trigger kind %q", kind)
	}

	inc := model.Incident{
		ID:              uuid.NewString(),
		CameraID:        cameraID,
		CreatedAt:       time.Now().UTC(),
		Status:          model.StatusActive,
		Verdict:         sv.verdict,
		SeveritySeed:    sv.severity,
		SeverityCurrent: sv.severity,
		RiskScore:       sv.risk,
		Confidence:      sv.confidence,
		FramesB64:       []string{frameB64},
	}

	if err := r.store.SaveIncident(ctx, inc); err != nil {
		if errors.Is(err, model.ErrConflict) {
			existing, gerr := r.store.ActiveIncidentByCamera(ctx, cameraID)
			if gerr != nil {
				return "", gerr
			}
			_ = r.controller.AttachFrame(ctx, existing.ID, frameB64)
			return existing.ID, nil
		}
		return "", fmt.Errorf("save incident: %w", err)
	}

	if r.counters.IncidentsCreated != nil {
		r.counters.IncidentsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", string(kind))))
	}

	if err := r.events.LogEvent(ctx, inc.ID, cameraID, model.EventTriggerReceived, map[string]interface{}{
		"trigger": string(kind),
	}); err != nil {
		r.logger.WarnWithContext(ctx, "failed to log trigger event", logging.Fields{"error": err.Error()})
	}

	if err := r.controller.Start(ctx, inc.ID); err != nil {
		return inc.ID, fmt.Errorf("start controller: %w", err)
	}
	return inc.ID, nil
}

func (r *Router) existingActive(ctx context.Context, cameraID string) (model.Incident, bool, error) {
	existing, err := r.store.ActiveIncidentByCamera(ctx, cameraID)
	if err == nil {
		return existing, true, nil
	}
	if errors.Is(err, model.ErrNotFound) {
		return model.Incident{}, false, nil
	}
	return model.Incident{}, false, err
}

// HandlePrevention is the periodic prevention-telemetry entry point.
// It assesses bed state, updates camera.risk_score, and — when
// risk crosses the camera's high threshold — invokes the planner in
// prevention mode and dispatches the (Guard-filtered) returned actions.
func (r *Router) HandlePrevention(ctx context.Context, cameraID string, framesB64 []string, hour int) error {
	camera, err := r.store.GetCamera(ctx, cameraID)
	if err != nil {
		return fmt.Errorf("load camera: %w", err)
	}

	assessment, err := r.planner.AssessBed(ctx, planner.AssessBedRequest{
		FramesB64:  framesB64,
		BedPolygon: camera.BedPolygon,
		RoomType:   camera.RoomType,
	})
	if err != nil {
		return fmt.Errorf("assess bed: %w", err)
	}
	if err := r.events.LogEvent(ctx, "", cameraID, model.EventBedAssessment, map[string]interface{}{
		"bed_state": string(assessment.BedState),
		"stability": string(assessment.Stability),
	}); err != nil {
		r.logger.WarnWithContext(ctx, "failed to log bed assessment", logging.Fields{"error": err.Error()})
	}

	risk := severity.Risk(severity.BedState(assessment.BedState), severity.Stability(assessment.Stability), hour)
	camera.RiskScore = risk
	if err := r.store.UpdateCamera(ctx, camera); err != nil {
		return fmt.Errorf("update camera risk: %w", err)
	}
	if err := r.events.LogEvent(ctx, "", cameraID, model.EventRiskUpdated, map[string]interface{}{
		"risk_score": risk,
	}); err != nil {
		r.logger.WarnWithContext(ctx, "failed to log risk update", logging.Fields{"error": err.Error()})
	}

	threshold := camera.Config.RiskThresholdHigh
	if threshold <= 0 {
		threshold = defaultRiskThresholdHigh
	}
	if risk < threshold {
		return nil
	}

	plan, err := r.planner.PlanIncident(ctx, planner.PlanIncidentRequest{
		FramesB64:    framesB64,
		RoomType:     camera.RoomType,
		PolicyText:   fmt.Sprintf("voice_enabled=%v sms_enabled=%v", camera.VoiceEnabled, camera.SMSEnabled),
		VoiceEnabled: camera.VoiceEnabled,
		Mode:         planner.ModePrevention,
	})
	if err != nil {
		r.logger.WarnWithContext(ctx, "prevention planner call failed", logging.Fields{"camera_id": cameraID, "error": err.Error()})
		return nil
	}

	policy, polErr := r.store.GetPolicy(ctx, cameraID)
	if polErr != nil {
		policy = model.DefaultNotificationPolicy(cameraID)
	}
	caps := guard.Capabilities{
		VoiceEnabled:           camera.VoiceEnabled,
		SMSEnabled:             camera.SMSEnabled,
		CooldownContactSec:     policy.CooldownContactSec,
		MaxPrimaryCallAttempts: policy.MaxPrimaryCallAttempts,
	}
	approved, _ := r.guard.Approve(time.Now(), cameraID, plan.Actions, caps)
	if len(approved) == 0 || r.exec == nil {
		return nil
	}
	// Prevention actions are not tied to an incident; the camera id
	// doubles as the ActionLog grouping key.
	return r.exec.Run(ctx, "prevention:"+cameraID, cameraID, approved)
}
