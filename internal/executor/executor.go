// Package executor implements the Action Executor: it dispatches
// Safety-Guard-approved actions one at a time, in order, honoring each
// action's delay before firing it. Dispatch is panic-safe and every
// action leaves an ActionLog behind, success or not; actions within a
// plan run sequentially, never concurrently.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/notify"
	"github.com/carewatch/guardian/internal/platform/logging"
	"github.com/carewatch/guardian/internal/platform/telemetry"
	"github.com/carewatch/guardian/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Hooks lets the controller observe executor-driven side effects that
// change its own scheduling without the executor importing it back.
type Hooks struct {
	// OnIntervalAdjust is called for INCREASE_CHECK_RATE with the new
	// replan interval in seconds.
	OnIntervalAdjust func(incidentID string, intervalSec float64)
	// OnStrongVerifyRequested is called for REQUEST_STRONG_VERIFY.
	OnStrongVerifyRequested func(incidentID string)
	// OnClose is called for CLOSE_INCIDENT, after the store has been
	// updated to CLOSED.
	OnClose func(incidentID string)
}

// EventLogger is the narrow timeline seam the executor emits
// ACTION_EXECUTED events through, mirroring controller.EventLogger so
// neither package imports the other.
type EventLogger interface {
	LogEvent(ctx context.Context, incidentID, cameraID string, kind model.TimelineEventKind, payload map[string]interface{}) error
}

// Executor dispatches approved PlanAction slices sequentially.
type Executor struct {
	store    store.Datastore
	sms      notify.SMSClient
	voice    notify.VoiceClient
	events   EventLogger
	logger   logging.Logger
	hooks    Hooks
	counters telemetry.Counters
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(l logging.Logger) Option { return func(e *Executor) { e.logger = l } }
func WithHooks(h Hooks) Option           { return func(e *Executor) { e.hooks = h } }

// WithEventLogger attaches the timeline logger every dispatched action
// is reported through.
func WithEventLogger(ev EventLogger) Option { return func(e *Executor) { e.events = ev } }

// WithCounters attaches the process-wide telemetry.Counters instance so
// every dispatched action increments guardian.actions_dispatched.
func WithCounters(c telemetry.Counters) Option { return func(e *Executor) { e.counters = c } }

// New creates an Executor.
func New(datastore store.Datastore, sms notify.SMSClient, voice notify.VoiceClient, opts ...Option) *Executor {
	e := &Executor{
		store:    datastore,
		sms:      sms,
		voice:    voice,
		logger:   logging.NoOpLogger{},
		counters: telemetry.NewCounters(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes actions in order against incident/camera, honoring each
// action's DelaySec via a cancellable timer. A per-action error is
// logged and recorded in the ActionLog but never aborts the remaining
// actions. Run returns early, without error, if ctx is cancelled
// mid-delay — the caller (controller) is expected to treat that as a
// normal incident-lifecycle interruption, not a failure.
func (e *Executor) Run(ctx context.Context, incidentID, cameraID string, actions []model.PlanAction) error {
	for _, action := range actions {
		if action.DelaySec > 0 {
			timer := time.NewTimer(time.Duration(action.DelaySec * float64(time.Second)))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil
			}
		}

		e.dispatchOne(ctx, incidentID, cameraID, action)
	}
	return nil
}

func (e *Executor) dispatchOne(ctx context.Context, incidentID, cameraID string, action model.PlanAction) {
	ctx, span := telemetry.StartSpan(ctx, "executor.dispatch",
		attribute.String("executor.action_type", string(action.Type)),
		attribute.String("executor.incident_id", incidentID),
	)
	defer span.End()

	if e.counters.ActionsDispatched != nil {
		e.counters.ActionsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("action_type", string(action.Type))))
	}

	result, err := e.execute(ctx, incidentID, cameraID, action)
	if err != nil {
		telemetry.RecordError(span, err)
		result = "error: " + err.Error()
		e.logger.ErrorWithContext(ctx, "action dispatch failed", logging.Fields{
			"incident_id": incidentID,
			"action_type": string(action.Type),
			"error":       err.Error(),
		})
	}

	logErr := e.store.SaveActionLog(ctx, model.ActionLog{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		CameraID:   cameraID,
		ActionType: action.Type,
		Params:     action.Params,
		Result:     result,
		Timestamp:  time.Now().UTC(),
	})
	if logErr != nil {
		e.logger.WarnWithContext(ctx, "failed to persist action log", logging.Fields{"error": logErr.Error()})
	}

	if e.events != nil {
		_ = e.events.LogEvent(ctx, incidentID, cameraID, model.EventActionExecuted, map[string]interface{}{
			"action_type": string(action.Type),
			"result":      result,
		})
	}
}

// execute performs panic-safe dispatch for a single action type. A
// handler panic is converted to an error result rather than crashing
// the incident's goroutine.
func (e *Executor) execute(ctx context.Context, incidentID, cameraID string, action model.PlanAction) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action handler panic: %v\n%s", r, debug.Stack())
		}
	}()

	camera, camErr := e.store.GetCamera(ctx, cameraID)
	if camErr != nil {
		return "", fmt.Errorf("load camera: %w", camErr)
	}

	switch action.Type {
	case model.ActionSendSMSPrimary:
		id, sendErr := e.sms.Send(ctx, camera.PrimaryContact, smsBodyFor(action))
		if sendErr != nil {
			return "", sendErr
		}
		return "sent:" + id, nil

	case model.ActionSendLowPriorityHeadsup:
		id, sendErr := e.sms.Send(ctx, camera.PrimaryContact, "Heads up: activity detected, no action needed yet.")
		if sendErr != nil {
			return "", sendErr
		}
		return "sent:" + id, nil

	case model.ActionStartVoiceCallPrimary:
		id, callErr := e.voice.StartCall(ctx, camera.PrimaryContact, incidentID)
		if callErr != nil {
			return "", callErr
		}
		return "called:" + id, nil

	case model.ActionEscalateToBackup:
		smsID, smsErr := e.sms.Send(ctx, camera.BackupContact, smsBodyFor(action))
		callID, callErr := e.voice.StartCall(ctx, camera.BackupContact, incidentID)
		if smsErr != nil && callErr != nil {
			return "", fmt.Errorf("sms: %v, call: %v", smsErr, callErr)
		}
		if smsErr != nil {
			return "called:" + callID + " sms_error:" + smsErr.Error(), nil
		}
		if callErr != nil {
			return "sms:" + smsID + " call_error:" + callErr.Error(), nil
		}
		return "sms:" + smsID + " called:" + callID, nil

	case model.ActionCancelEscalation:
		return "cancelled", nil

	case model.ActionIncreaseCheckRate:
		interval := action.IntervalSeconds(10.0)
		if e.hooks.OnIntervalAdjust != nil {
			e.hooks.OnIntervalAdjust(incidentID, interval)
		}
		return fmt.Sprintf("interval=%.1fs", interval), nil

	case model.ActionRequestStrongVerify:
		if e.hooks.OnStrongVerifyRequested != nil {
			e.hooks.OnStrongVerifyRequested(incidentID)
		}
		return "requested", nil

	case model.ActionCloseIncident:
		inc, getErr := e.store.GetIncident(ctx, incidentID)
		if getErr != nil {
			return "", fmt.Errorf("load incident: %w", getErr)
		}
		inc.Status = model.StatusClosed
		if updErr := e.store.UpdateIncident(ctx, inc); updErr != nil {
			return "", fmt.Errorf("close incident: %w", updErr)
		}
		if e.hooks.OnClose != nil {
			e.hooks.OnClose(incidentID)
		}
		return "closed", nil

	default:
		return "", fmt.Errorf("unknown action type: %s", action.Type)
	}
}

func smsBodyFor(action model.PlanAction) string {
	if action.Params != nil {
		if msg, ok := action.Params["message"].(string); ok && msg != "" {
			return msg
		}
	}
	return "Possible fall detected. Please check in."
}
