// Package store defines the Datastore interface: the abstract
// persistence boundary for every persisted entity. No schema is exposed;
// internal/store/memstore and internal/store/pgstore provide two
// interchangeable implementations.
package store

import (
	"context"

	"github.com/carewatch/guardian/internal/model"
)

// Datastore is the persistence surface the core depends on. All methods
// are safe for concurrent use.
type Datastore interface {
	// Camera
	SaveCamera(ctx context.Context, c model.Camera) error
	GetCamera(ctx context.Context, id string) (model.Camera, error)
	UpdateCamera(ctx context.Context, c model.Camera) error
	ListCameras(ctx context.Context) ([]model.Camera, error)

	// NotificationPolicy
	SavePolicy(ctx context.Context, p model.NotificationPolicy) error
	GetPolicy(ctx context.Context, cameraID string) (model.NotificationPolicy, error)

	// Incident
	SaveIncident(ctx context.Context, inc model.Incident) error
	UpdateIncident(ctx context.Context, inc model.Incident) error
	GetIncident(ctx context.Context, id string) (model.Incident, error)
	// ActiveIncidentByCamera returns the ACTIVE incident on cameraID, or
	// model.ErrNotFound if none exists.
	ActiveIncidentByCamera(ctx context.Context, cameraID string) (model.Incident, error)

	// IncidentPlan
	SavePlan(ctx context.Context, p model.IncidentPlan) error
	// LatestPlan returns the highest-version IncidentPlan for incidentID.
	LatestPlan(ctx context.Context, incidentID string) (model.IncidentPlan, error)
	ListPlans(ctx context.Context, incidentID string) ([]model.IncidentPlan, error)

	// IncidentTimeline (append-only)
	AppendTimelineEvent(ctx context.Context, e model.TimelineEvent) error
	ListTimelineEvents(ctx context.Context, incidentID string) ([]model.TimelineEvent, error)

	// ActionLog
	SaveActionLog(ctx context.Context, a model.ActionLog) error
	ListActionLogs(ctx context.Context, incidentID string) ([]model.ActionLog, error)

	// AgentNote
	SaveAgentNote(ctx context.Context, n model.AgentNote) error
	// ActiveAgentNotes returns active notes scoped to cameraID plus any
	// active global notes (CameraID == "").
	ActiveAgentNotes(ctx context.Context, cameraID string) ([]model.AgentNote, error)

	// ConfigUpdate
	SaveConfigUpdate(ctx context.Context, u model.ConfigUpdate) error
	ListConfigUpdates(ctx context.Context, cameraID string) ([]model.ConfigUpdate, error)

	// OnboardingConfig
	SaveOnboardingConfig(ctx context.Context, o model.OnboardingConfig) error
	// LatestOnboardingConfig returns the most recently created record, or
	// model.ErrNotFound when onboarding has never run.
	LatestOnboardingConfig(ctx context.Context) (model.OnboardingConfig, error)
}
