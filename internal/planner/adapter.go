// Package planner implements the Planner Adapter: the boundary between
// the deterministic core and the external vision-language model. One
// HTTP client, a span per call, and strict parsing of the model's JSON
// output with a deterministic fallback when it cannot be trusted.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/platform/breaker"
	"github.com/carewatch/guardian/internal/platform/logging"
	"github.com/carewatch/guardian/internal/platform/retry"
	"github.com/carewatch/guardian/internal/platform/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// CallTimeout is the adapter-enforced per-call timeout. A timed-out
// plan_incident call is treated like any other failure and ends in the
// fallback plan.
const CallTimeout = 30 * time.Second

// Client is the Planner Adapter's public surface.
type Client interface {
	PlanIncident(ctx context.Context, req PlanIncidentRequest) (Plan, error)
	PlanStrong(ctx context.Context, req PlanStrongRequest) (Plan, error)
	AssessBed(ctx context.Context, req AssessBedRequest) (BedAssessment, error)
}

// Adapter is the HTTP-backed implementation of Client.
type Adapter struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     logging.Logger
	breaker    *breaker.Breaker
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(l logging.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithHTTPClient overrides the default http.Client (used by tests to
// point at an httptest.Server).
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.httpClient = c }
}

// WithCircuitBreaker overrides the default breaker.
func WithCircuitBreaker(b *breaker.Breaker) Option {
	return func(a *Adapter) { a.breaker = b }
}

// NewAdapter creates a Planner Adapter pointed at baseURL.
func NewAdapter(baseURL, apiKey string, opts ...Option) *Adapter {
	a := &Adapter{
		httpClient: &http.Client{Timeout: CallTimeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.breaker == nil {
		a.breaker = breaker.New("planner", breaker.DefaultConfig(), a.logger)
	}
	return a
}

type wireRequest struct {
	Frames        []string      `json:"frames"`
	Motion        float64       `json:"motion"`
	Stillness     float64       `json:"stillness"`
	RoomType      string        `json:"room_type,omitempty"`
	PolicyText    string        `json:"policy_text,omitempty"`
	IncidentState IncidentState `json:"incident_state"`
	AgentNotes    []string      `json:"agent_notes,omitempty"`
	Mode          string        `json:"mode,omitempty"`
	BedPolygon    []model.Point `json:"bed_polygon,omitempty"`
	CurrentPlan   *Plan         `json:"current_plan,omitempty"`
}

func clampFrames(frames []string) []string {
	if len(frames) <= 4 {
		return frames
	}
	return frames[:4]
}

func halve(frames []string) []string {
	if len(frames) <= 1 {
		return frames
	}
	return frames[:(len(frames)+1)/2]
}

// PlanIncident calls the planner for an incident-path (or prevention-path)
// plan. On invalid/timed-out output it retries once with half the frames;
// on persistent failure it returns the deterministic fallback plan and a
// nil error, since planner unavailability is not an error condition for
// the caller.
func (a *Adapter) PlanIncident(ctx context.Context, req PlanIncidentRequest) (Plan, error) {
	ctx, span := telemetry.StartSpan(ctx, "planner.plan_incident",
		attribute.Int("planner.frames_count", len(req.FramesB64)),
		attribute.String("planner.mode", string(req.Mode)),
	)
	defer span.End()

	req.FramesB64 = clampFrames(req.FramesB64)

	var plan Plan
	err := retry.Do(ctx, retry.Config{MaxAttempts: 2, InitialDelay: 0, BackoffFactor: 1, Jitter: false}, func(attempt int) error {
		frames := req.FramesB64
		if attempt == 2 {
			frames = halve(req.FramesB64)
		}
		p, callErr := a.callPlan(ctx, "/v1/plan-incident", wireRequest{
			Frames:        frames,
			Motion:        req.Motion,
			Stillness:     req.Stillness,
			RoomType:      req.RoomType,
			PolicyText:    req.PolicyText,
			IncidentState: req.IncidentState,
			AgentNotes:    req.AgentNotes,
			Mode:          string(req.Mode),
		}, model.ModelFast)
		if callErr != nil {
			a.logger.WarnWithContext(ctx, "planner plan_incident attempt failed", logging.Fields{
				"attempt": attempt,
				"error":   callErr.Error(),
			})
			return callErr
		}
		plan = p
		return nil
	})

	if err != nil {
		telemetry.RecordError(span, err)
		a.logger.ErrorWithContext(ctx, "planner plan_incident exhausted retries, using fallback", logging.Fields{
			"error": err.Error(),
		})
		return Fallback(req.Motion, req.VoiceEnabled), nil
	}

	return plan, nil
}

// PlanStrong calls the planner's strong-verification path. Unlike
// PlanIncident it does not retry or fall back: failure is returned to the
// caller, which is expected to simply log it; this is a one-shot,
// best-effort refinement task.
func (a *Adapter) PlanStrong(ctx context.Context, req PlanStrongRequest) (Plan, error) {
	ctx, span := telemetry.StartSpan(ctx, "planner.plan_strong",
		attribute.Int("planner.frames_count", len(req.FramesB64)),
	)
	defer span.End()

	current := Plan{
		ModelUsed:         req.CurrentPlan.ModelUsed,
		Verdict:           req.CurrentPlan.Verdict,
		SeveritySeed:      req.CurrentPlan.SeveritySeed,
		Confidence:        req.CurrentPlan.Confidence,
		Reasons:           req.CurrentPlan.Reasons,
		Actions:           req.CurrentPlan.Actions,
		ReplanIntervalSec: req.CurrentPlan.ReplanIntervalSec,
	}
	plan, err := a.callPlan(ctx, "/v1/plan-strong", wireRequest{
		Frames:        clampFrames(req.FramesB64),
		Motion:        req.Motion,
		Stillness:     req.Stillness,
		IncidentState: req.IncidentState,
		CurrentPlan:   &current,
	}, model.ModelStrong)
	if err != nil {
		telemetry.RecordError(span, err)
		return Plan{}, err
	}
	return plan, nil
}

// AssessBed calls the planner's bed-assessment path.
func (a *Adapter) AssessBed(ctx context.Context, req AssessBedRequest) (BedAssessment, error) {
	ctx, span := telemetry.StartSpan(ctx, "planner.assess_bed",
		attribute.Int("planner.frames_count", len(req.FramesB64)),
	)
	defer span.End()

	raw, err := a.post(ctx, "/v1/assess-bed", wireRequest{
		Frames:     clampFrames(req.FramesB64),
		RoomType:   req.RoomType,
		BedPolygon: req.BedPolygon,
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return BedAssessment{}, err
	}

	assessment, err := ParseBedAssessment(raw)
	if err != nil {
		telemetry.RecordError(span, err)
		return BedAssessment{}, err
	}
	return assessment, nil
}

func (a *Adapter) callPlan(ctx context.Context, path string, body wireRequest, modelUsed model.ModelUsed) (Plan, error) {
	raw, err := a.post(ctx, path, body)
	if err != nil {
		return Plan{}, err
	}
	return ParsePlan(raw, modelUsed)
}

func (a *Adapter) post(ctx context.Context, path string, body wireRequest) (string, error) {
	var raw string
	err := a.breaker.ExecuteWithTimeout(ctx, CallTimeout, func(ctx context.Context) error {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("planner: marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("planner: build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if a.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
		}

		resp, err := a.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("planner: request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("planner: read response: %w", err)
		}

		if resp.StatusCode >= 300 {
			return fmt.Errorf("planner: unexpected status %d: %s", resp.StatusCode, string(data))
		}

		raw = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}
