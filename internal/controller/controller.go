// Package controller implements the Incident Controller: the state
// machine that owns a live Incident from creation through a terminal
// state. One goroutine per incident multiplexes the replan timer and
// the 1-second severity ticker through a single select, so cancelling
// the incident is a single context signal.
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/carewatch/guardian/internal/executor"
	"github.com/carewatch/guardian/internal/guard"
	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/planner"
	"github.com/carewatch/guardian/internal/platform/logging"
	"github.com/carewatch/guardian/internal/platform/telemetry"
	"github.com/carewatch/guardian/internal/severity"
	"github.com/carewatch/guardian/internal/store"
)

// severityTickInterval is the severity-ticker period.
const severityTickInterval = 1 * time.Second

// Controller owns every live incident's replan loop and severity ticker.
// One Controller instance is shared across all incidents; per-incident
// state lives in the worker registry below.
type Controller struct {
	store    store.Datastore
	planner  planner.Client
	guard    *guard.Guard
	exec     *executor.Executor
	events   EventLogger
	logger   logging.Logger
	counters telemetry.Counters

	mu      sync.Mutex
	workers map[string]*worker
}

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l logging.Logger) Option { return func(c *Controller) { c.logger = l } }

// New creates a Controller. The Executor is supplied after construction
// via SetExecutor, since the Executor's hooks reference Controller
// methods and must be wired the other way round (see cmd/guardian).
func New(datastore store.Datastore, plannerClient planner.Client, g *guard.Guard, events EventLogger, opts ...Option) *Controller {
	c := &Controller{
		store:    datastore,
		planner:  plannerClient,
		guard:    g,
		events:   events,
		logger:   logging.NoOpLogger{},
		counters: telemetry.NewCounters(),
		workers:  make(map[string]*worker),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// recordRejections increments guardian.guard_rejections for every
// disapproved action in decisions, so a metrics backend can watch
// guard-admission behavior without parsing the timeline stream.
func (c *Controller) recordRejections(ctx context.Context, decisions []guard.Decision) {
	if c.counters.GuardRejections == nil {
		return
	}
	for _, d := range decisions {
		if d.Approved {
			continue
		}
		c.counters.GuardRejections.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action_type", string(d.ActionType)),
		))
	}
}

// SetExecutor completes construction by attaching the Action Executor.
func (c *Controller) SetExecutor(e *executor.Executor) {
	c.exec = e
}

// ExecutorHooks returns the Hooks an Executor shared by this Controller
// must be constructed with, so INCREASE_CHECK_RATE and
// REQUEST_STRONG_VERIFY actions can reach back into the owning worker.
func (c *Controller) ExecutorHooks() executor.Hooks {
	return executor.Hooks{
		OnIntervalAdjust:        c.adjustInterval,
		OnStrongVerifyRequested: c.requestStrongVerify,
		OnClose:                 c.forgetWorker,
	}
}

type worker struct {
	incidentID string
	cameraID   string
	cancel     context.CancelFunc

	mu             sync.Mutex
	replanInterval float64
}

func (w *worker) setInterval(sec float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if sec > 0 {
		w.replanInterval = sec
	}
}

func (w *worker) interval() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.replanInterval
}

// Start creates the incident's worker goroutine, idempotently, and runs
// the first plan synchronously before returning.
// incident, camera and policy must already be persisted.
func (c *Controller) Start(ctx context.Context, incidentID string) error {
	c.mu.Lock()
	if _, exists := c.workers[incidentID]; exists {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return fmt.Errorf("controller: load incident: %w", err)
	}

	w := &worker{incidentID: incidentID, cameraID: inc.CameraID, replanInterval: 5.0}

	if err := c.doPlan(ctx, w, model.EventPlanCreated, planner.ModeIncident); err != nil {
		c.logger.ErrorWithContext(ctx, "initial plan failed", logging.Fields{"incident_id": incidentID, "error": err.Error()})
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	c.mu.Lock()
	c.workers[incidentID] = w
	c.mu.Unlock()

	go c.runLoop(workerCtx, w)
	return nil
}

// runLoop multiplexes the replan loop and the severity ticker on a
// single goroutine via select over two timers, exiting when ctx is
// cancelled (ACK, FALSE_ALARM, or CLOSE_INCIDENT). A panic inside the
// loop is logged and ends only this goroutine.
func (c *Controller) runLoop(ctx context.Context, w *worker) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorWithContext(ctx, "incident loop panic", logging.Fields{"incident_id": w.incidentID, "panic": fmt.Sprint(r)})
		}
	}()

	severityTicker := time.NewTicker(severityTickInterval)
	defer severityTicker.Stop()

	replanTimer := time.NewTimer(time.Duration(w.interval() * float64(time.Second)))
	defer replanTimer.Stop()

	var tickCount int64
	var lastSeverity int = -1

	for {
		select {
		case <-ctx.Done():
			return

		case <-severityTicker.C:
			tickCount++
			c.handleSeverityTick(ctx, w, tickCount, &lastSeverity)

		case <-replanTimer.C:
			if err := c.doPlan(ctx, w, model.EventReplan, planner.ModeIncident); err != nil {
				c.logger.ErrorWithContext(ctx, "replan failed", logging.Fields{"incident_id": w.incidentID, "error": err.Error()})
			}
			replanTimer.Reset(time.Duration(w.interval() * float64(time.Second)))
		}
	}
}

// handleSeverityTick implements the severity ticker: increments
// time_down_s by 1s, recomputes severity_current, refreshes the
// summary, and checks the time-based escalation trigger.
func (c *Controller) handleSeverityTick(ctx context.Context, w *worker, tickCount int64, lastSeverity *int) {
	inc, err := c.store.GetIncident(ctx, w.incidentID)
	if err != nil {
		c.logger.WarnWithContext(ctx, "severity tick: load incident failed", logging.Fields{"error": err.Error()})
		return
	}
	if inc.Status != model.StatusActive {
		return
	}

	inc.TimeDownSec += severityTickInterval.Seconds()
	inc.SeverityCurrent = severity.Severity(inc.SeveritySeed, inc.TimeDownSec, 0, 0, inc.Acknowledged)
	inc.SummaryText = summary(inc)

	changed := *lastSeverity != inc.SeverityCurrent
	*lastSeverity = inc.SeverityCurrent

	camera, camErr := c.store.GetCamera(ctx, inc.CameraID)
	escalationDelay := camera.Config.EscalationDelaySec
	if escalationDelay <= 0 {
		escalationDelay = 60
	}

	if !inc.Acknowledged && camErr == nil && inc.TimeDownSec > escalationDelay && inc.EscalationStage < 2 {
		c.escalate(ctx, &inc, camera)
	}

	if err := c.store.UpdateIncident(ctx, inc); err != nil {
		c.logger.WarnWithContext(ctx, "severity tick: persist failed", logging.Fields{"error": err.Error()})
	}

	if changed || tickCount%5 == 0 {
		_ = c.events.LogEvent(ctx, w.incidentID, inc.CameraID, model.EventSeverityTick, map[string]interface{}{
			"severity_current": inc.SeverityCurrent,
			"time_down_s":      inc.TimeDownSec,
		})
	}
}

// escalate proposes ESCALATE_TO_BACKUP through the Guard and, on
// approval, bumps inc.EscalationStage and dispatches it. It reports
// whether the escalation was approved so callers know whether inc
// needs persisting. The caller owns persistence: handleSeverityTick
// batches it into its own UpdateIncident, EscalateNow persists it
// directly.
func (c *Controller) escalate(ctx context.Context, inc *model.Incident, camera model.Camera) bool {
	policy, polErr := c.store.GetPolicy(ctx, inc.CameraID)
	if polErr != nil {
		policy = model.DefaultNotificationPolicy(inc.CameraID)
	}

	caps := guard.Capabilities{
		Acked:                  inc.Acknowledged,
		VoiceEnabled:           camera.VoiceEnabled,
		SMSEnabled:             camera.SMSEnabled,
		EscalationStage:        inc.EscalationStage,
		CooldownContactSec:     policy.CooldownContactSec,
		MaxPrimaryCallAttempts: policy.MaxPrimaryCallAttempts,
	}

	approved, _ := c.guard.Approve(time.Now(), inc.CameraID, []model.PlanAction{
		{Type: model.ActionEscalateToBackup},
	}, caps)
	if len(approved) == 0 {
		return false
	}

	inc.EscalationStage++
	if c.exec != nil {
		_ = c.exec.Run(ctx, inc.ID, inc.CameraID, approved)
	}
	_ = c.events.LogEvent(ctx, inc.ID, inc.CameraID, model.EventEscalation, map[string]interface{}{
		"escalation_stage": inc.EscalationStage,
	})
	return true
}

// EscalateNow immediately proposes an out-of-band escalation to
// backup, independent of the time-based trigger in the severity
// ticker. It backs the DTMF "3" (escalate) webhook digit: the
// caregiver who answered the primary call asks to pull in the backup
// contact right away. A no-op if the incident is no longer ACTIVE or
// the Guard rejects the escalation (already acked, or stage capped).
func (c *Controller) EscalateNow(ctx context.Context, incidentID string) error {
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if inc.Status != model.StatusActive {
		return nil
	}
	camera, err := c.store.GetCamera(ctx, inc.CameraID)
	if err != nil {
		return err
	}
	if !c.escalate(ctx, &inc, camera) {
		return nil
	}
	return c.store.UpdateIncident(ctx, inc)
}

// doPlan queries the planner (or runs the fallback), persists a new
// IncidentPlan version, updates the Incident, runs the Guard, and
// dispatches the approved actions.
func (c *Controller) doPlan(ctx context.Context, w *worker, createdEvent model.TimelineEventKind, mode planner.Mode) error {
	inc, err := c.store.GetIncident(ctx, w.incidentID)
	if err != nil {
		return fmt.Errorf("load incident: %w", err)
	}
	if inc.Status != model.StatusActive {
		return nil
	}

	camera, err := c.store.GetCamera(ctx, inc.CameraID)
	if err != nil {
		return fmt.Errorf("load camera: %w", err)
	}
	policy, err := c.store.GetPolicy(ctx, inc.CameraID)
	if err != nil {
		policy = model.DefaultNotificationPolicy(inc.CameraID)
	}
	notes, _ := c.store.ActiveAgentNotes(ctx, inc.CameraID)
	noteTexts := make([]string, 0, len(notes))
	for _, n := range notes {
		noteTexts = append(noteTexts, n.Text)
	}

	req := planner.PlanIncidentRequest{
		FramesB64:    inc.FramesB64,
		RoomType:     camera.RoomType,
		PolicyText:   fmt.Sprintf("voice_enabled=%v sms_enabled=%v", camera.VoiceEnabled, camera.SMSEnabled),
		VoiceEnabled: camera.VoiceEnabled,
		IncidentState: planner.IncidentState{
			Verdict:         inc.Verdict,
			SeverityCurrent: inc.SeverityCurrent,
			TimeDownSec:     inc.TimeDownSec,
			Acknowledged:    inc.Acknowledged,
			EscalationStage: inc.EscalationStage,
			PlanVersion:     inc.PlanVersion,
		},
		AgentNotes: noteTexts,
		Mode:       mode,
	}

	plan, err := c.planner.PlanIncident(ctx, req)
	if err != nil {
		_ = c.events.LogEvent(ctx, inc.ID, inc.CameraID, model.EventPlanFailed, map[string]interface{}{"error": err.Error()})
		return err
	}

	inc.PlanVersion++
	inc.Verdict = plan.Verdict
	inc.SeveritySeed = plan.SeveritySeed
	inc.Confidence = plan.Confidence
	inc.ReasonsCurrent = plan.Reasons
	inc.SeverityCurrent = severity.Severity(inc.SeveritySeed, inc.TimeDownSec, 0, 0, inc.Acknowledged)
	inc.SummaryText = summary(inc)
	w.setInterval(plan.ReplanIntervalSec)

	if err := c.store.SavePlan(ctx, model.IncidentPlan{
		ID:                uuid.NewString(),
		IncidentID:        inc.ID,
		Version:           inc.PlanVersion,
		ModelUsed:         model.ModelFast,
		Verdict:           plan.Verdict,
		SeveritySeed:      plan.SeveritySeed,
		Confidence:        plan.Confidence,
		Reasons:           plan.Reasons,
		Actions:           plan.Actions,
		ReplanIntervalSec: plan.ReplanIntervalSec,
		CreatedAt:         time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save plan: %w", err)
	}

	if err := c.store.UpdateIncident(ctx, inc); err != nil {
		return fmt.Errorf("update incident: %w", err)
	}

	_ = c.events.LogEvent(ctx, inc.ID, inc.CameraID, createdEvent, map[string]interface{}{
		"plan_version": inc.PlanVersion,
		"verdict":      string(plan.Verdict),
	})

	caps := guard.Capabilities{
		Acked:                  inc.Acknowledged,
		VoiceEnabled:           camera.VoiceEnabled,
		SMSEnabled:             camera.SMSEnabled,
		EscalationStage:        inc.EscalationStage,
		CooldownContactSec:     policy.CooldownContactSec,
		MaxPrimaryCallAttempts: policy.MaxPrimaryCallAttempts,
	}
	approved, decisions := c.guard.Approve(time.Now(), inc.CameraID, plan.Actions, caps)
	_ = c.events.LogEvent(ctx, inc.ID, inc.CameraID, model.EventPlanApproved, map[string]interface{}{
		"approved_count": len(approved),
		"decisions":      decisionSummaries(decisions),
	})
	c.recordRejections(ctx, decisions)

	if c.exec != nil && len(approved) > 0 {
		if err := c.exec.Run(ctx, inc.ID, inc.CameraID, approved); err != nil {
			c.logger.WarnWithContext(ctx, "executor run failed", logging.Fields{"error": err.Error()})
		}
	}

	if plan.NeedsStrongVerify() {
		c.spawnStrongVerify(w.incidentID, req.FramesB64, planner.IncidentState{
			Verdict:         inc.Verdict,
			SeverityCurrent: inc.SeverityCurrent,
			TimeDownSec:     inc.TimeDownSec,
			Acknowledged:    inc.Acknowledged,
			EscalationStage: inc.EscalationStage,
			PlanVersion:     inc.PlanVersion,
		}, plan)
	}

	return nil
}

func decisionSummaries(decisions []guard.Decision) []string {
	out := make([]string, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, fmt.Sprintf("%s:%v", d.ActionType, d.Approved))
	}
	return out
}

// spawnStrongVerify schedules the one-shot strong-verification
// task. It never dispatches actions itself; it only persists a revised
// plan version that the next replan tick will pick up.
func (c *Controller) spawnStrongVerify(incidentID string, frames []string, state planner.IncidentState, current planner.Plan) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
		defer cancel()

		strong, err := c.planner.PlanStrong(ctx, planner.PlanStrongRequest{
			FramesB64: frames,
			CurrentPlan: model.IncidentPlan{
				Verdict:           current.Verdict,
				SeveritySeed:      current.SeveritySeed,
				Confidence:        current.Confidence,
				Reasons:           current.Reasons,
				Actions:           current.Actions,
				ReplanIntervalSec: current.ReplanIntervalSec,
			},
			IncidentState: state,
		})
		if err != nil {
			c.logger.WarnWithContext(ctx, "strong verify failed", logging.Fields{"incident_id": incidentID, "error": err.Error()})
			return
		}

		inc, err := c.store.GetIncident(ctx, incidentID)
		if err != nil || inc.Status != model.StatusActive {
			return
		}
		inc.PlanVersion++
		inc.Verdict = strong.Verdict
		inc.SeveritySeed = strong.SeveritySeed
		inc.Confidence = strong.Confidence
		inc.ReasonsCurrent = strong.Reasons
		inc.SummaryText = summary(inc)

		if err := c.store.SavePlan(ctx, model.IncidentPlan{
			ID:                uuid.NewString(),
			IncidentID:        incidentID,
			Version:           inc.PlanVersion,
			ModelUsed:         model.ModelStrong,
			Verdict:           strong.Verdict,
			SeveritySeed:      strong.SeveritySeed,
			Confidence:        strong.Confidence,
			Reasons:           strong.Reasons,
			Actions:           strong.Actions,
			ReplanIntervalSec: strong.ReplanIntervalSec,
			CreatedAt:         time.Now().UTC(),
		}); err != nil {
			return
		}
		_ = c.store.UpdateIncident(ctx, inc)
		_ = c.events.LogEvent(ctx, incidentID, inc.CameraID, model.EventPlanCreated, map[string]interface{}{
			"plan_version": inc.PlanVersion,
			"model_used":   string(model.ModelStrong),
		})
	}()
}

// adjustInterval is the executor hook backing INCREASE_CHECK_RATE.
func (c *Controller) adjustInterval(incidentID string, intervalSec float64) {
	c.mu.Lock()
	w, ok := c.workers[incidentID]
	c.mu.Unlock()
	if ok {
		w.setInterval(intervalSec)
	}
}

// requestStrongVerify is the executor hook backing REQUEST_STRONG_VERIFY
// when triggered directly from a plan action rather than the
// needs_strong_verify check in doPlan.
func (c *Controller) requestStrongVerify(incidentID string) {
	c.mu.Lock()
	w, ok := c.workers[incidentID]
	c.mu.Unlock()
	if !ok {
		return
	}
	inc, err := c.store.GetIncident(context.Background(), incidentID)
	if err != nil {
		return
	}
	plan, err := c.store.LatestPlan(context.Background(), incidentID)
	if err != nil {
		return
	}
	c.spawnStrongVerify(w.incidentID, inc.FramesB64, planner.IncidentState{
		Verdict:         inc.Verdict,
		SeverityCurrent: inc.SeverityCurrent,
		TimeDownSec:     inc.TimeDownSec,
		Acknowledged:    inc.Acknowledged,
		EscalationStage: inc.EscalationStage,
		PlanVersion:     inc.PlanVersion,
	}, planner.Plan{
		Verdict: plan.Verdict, SeveritySeed: plan.SeveritySeed, Confidence: plan.Confidence,
		Reasons: plan.Reasons, Actions: plan.Actions, ReplanIntervalSec: plan.ReplanIntervalSec,
	})
}

// forgetWorker is the executor hook backing CLOSE_INCIDENT: cancels the
// worker's context, removes it from the registry, and resets the Guard
// for its camera.
func (c *Controller) forgetWorker(incidentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[incidentID]; ok {
		w.cancel()
		delete(c.workers, incidentID)
		c.guard.Reset(w.cameraID)
	}
}

// Ack acknowledges an incident: cancels its loops, resets the Guard for
// its camera, and emits ACK_RECEIVED. Acking an incident that is
// already ACKED or CLOSED is a no-op success — a terminal incident
// admits no further state changes or live events.
func (c *Controller) Ack(ctx context.Context, incidentID, ackBy string) error {
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if inc.Status.Terminal() {
		return nil
	}
	inc.Status = model.StatusAcked
	inc.Acknowledged = true
	inc.AckBy = ackBy
	inc.SeverityCurrent = severity.Severity(inc.SeveritySeed, inc.TimeDownSec, 0, 0, inc.Acknowledged)
	inc.SummaryText = summary(inc)
	if err := c.store.UpdateIncident(ctx, inc); err != nil {
		return err
	}

	c.cancelWorker(incidentID)
	c.guard.Reset(inc.CameraID)
	return c.events.LogEvent(ctx, incidentID, inc.CameraID, model.EventAckReceived, map[string]interface{}{"ack_by": ackBy})
}

// FalseAlarm closes an incident as a false alarm. A no-op success on an
// incident that is already terminal.
func (c *Controller) FalseAlarm(ctx context.Context, incidentID string) error {
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	if inc.Status.Terminal() {
		return nil
	}
	inc.Status = model.StatusClosed
	inc.Verdict = model.VerdictFalseAlarm
	inc.Acknowledged = true
	if err := c.store.UpdateIncident(ctx, inc); err != nil {
		return err
	}

	c.cancelWorker(incidentID)
	c.guard.Reset(inc.CameraID)
	return c.events.LogEvent(ctx, incidentID, inc.CameraID, model.EventClosed, map[string]interface{}{"reason": "false_alarm"})
}

func (c *Controller) cancelWorker(incidentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.workers[incidentID]; ok {
		w.cancel()
		delete(c.workers, incidentID)
	}
}

// AttachFrame appends a new frame to an already-ACTIVE incident without
// creating a second one. The next replan tick picks up
// the new frame.
func (c *Controller) AttachFrame(ctx context.Context, incidentID, frameB64 string) error {
	inc, err := c.store.GetIncident(ctx, incidentID)
	if err != nil {
		return err
	}
	inc.AppendFrame(frameB64)
	return c.store.UpdateIncident(ctx, inc)
}

// Running reports whether incidentID currently has a live worker, for
// tests and diagnostics.
func (c *Controller) Running(incidentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.workers[incidentID]
	return ok
}
