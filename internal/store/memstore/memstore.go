// Package memstore is an in-memory Datastore implementation used for unit
// tests and local/offline runs: mutex-guarded maps, no external
// dependency.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/store"
)

// Store is a process-local, concurrency-safe Datastore.
type Store struct {
	mu sync.RWMutex

	cameras      map[string]model.Camera
	policies     map[string]model.NotificationPolicy
	incidents    map[string]model.Incident
	plans        map[string][]model.IncidentPlan // incidentID -> plans
	timeline     map[string][]model.TimelineEvent // incidentID -> events, append order
	actionLogs   map[string][]model.ActionLog
	agentNotes   []model.AgentNote
	configUpdate map[string][]model.ConfigUpdate
	onboarding   []model.OnboardingConfig

	sequence int64
}

var _ store.Datastore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		cameras:      make(map[string]model.Camera),
		policies:     make(map[string]model.NotificationPolicy),
		incidents:    make(map[string]model.Incident),
		plans:        make(map[string][]model.IncidentPlan),
		timeline:     make(map[string][]model.TimelineEvent),
		actionLogs:   make(map[string][]model.ActionLog),
		configUpdate: make(map[string][]model.ConfigUpdate),
	}
}

func (s *Store) SaveCamera(_ context.Context, c model.Camera) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cameras[c.ID] = c
	return nil
}

func (s *Store) GetCamera(_ context.Context, id string) (model.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cameras[id]
	if !ok {
		return model.Camera{}, model.ErrNotFound
	}
	return c, nil
}

func (s *Store) UpdateCamera(ctx context.Context, c model.Camera) error {
	return s.SaveCamera(ctx, c)
}

func (s *Store) ListCameras(_ context.Context) ([]model.Camera, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Camera, 0, len(s.cameras))
	for _, c := range s.cameras {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SavePolicy(_ context.Context, p model.NotificationPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.CameraID] = p
	return nil
}

func (s *Store) GetPolicy(_ context.Context, cameraID string) (model.NotificationPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[cameraID]
	if !ok {
		return model.NotificationPolicy{}, model.ErrNotFound
	}
	return p, nil
}

func (s *Store) SaveIncident(_ context.Context, inc model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inc.Status == model.StatusActive {
		for _, existing := range s.incidents {
			if existing.CameraID == inc.CameraID && existing.Status == model.StatusActive && existing.ID != inc.ID {
				return model.ErrConflict
			}
		}
	}
	s.incidents[inc.ID] = inc
	return nil
}

func (s *Store) UpdateIncident(ctx context.Context, inc model.Incident) error {
	return s.SaveIncident(ctx, inc)
}

func (s *Store) GetIncident(_ context.Context, id string) (model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return model.Incident{}, model.ErrNotFound
	}
	return inc, nil
}

func (s *Store) ActiveIncidentByCamera(_ context.Context, cameraID string) (model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, inc := range s.incidents {
		if inc.CameraID == cameraID && inc.Status == model.StatusActive {
			return inc, nil
		}
	}
	return model.Incident{}, model.ErrNotFound
}

func (s *Store) SavePlan(_ context.Context, p model.IncidentPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.plans[p.IncidentID] {
		if existing.Version == p.Version {
			return model.ErrConflict
		}
	}
	s.plans[p.IncidentID] = append(s.plans[p.IncidentID], p)
	return nil
}

func (s *Store) LatestPlan(_ context.Context, incidentID string) (model.IncidentPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plans := s.plans[incidentID]
	if len(plans) == 0 {
		return model.IncidentPlan{}, model.ErrNotFound
	}
	latest := plans[0]
	for _, p := range plans[1:] {
		if p.Version > latest.Version {
			latest = p
		}
	}
	return latest, nil
}

func (s *Store) ListPlans(_ context.Context, incidentID string) ([]model.IncidentPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.IncidentPlan, len(s.plans[incidentID]))
	copy(out, s.plans[incidentID])
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) AppendTimelineEvent(_ context.Context, e model.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	e.Sequence = s.sequence
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.timeline[e.IncidentID] = append(s.timeline[e.IncidentID], e)
	return nil
}

func (s *Store) ListTimelineEvents(_ context.Context, incidentID string) ([]model.TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.TimelineEvent, len(s.timeline[incidentID]))
	copy(out, s.timeline[incidentID])
	return out, nil
}

func (s *Store) SaveActionLog(_ context.Context, a model.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actionLogs[a.IncidentID] = append(s.actionLogs[a.IncidentID], a)
	return nil
}

func (s *Store) ListActionLogs(_ context.Context, incidentID string) ([]model.ActionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ActionLog, len(s.actionLogs[incidentID]))
	copy(out, s.actionLogs[incidentID])
	return out, nil
}

func (s *Store) SaveAgentNote(_ context.Context, n model.AgentNote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agentNotes = append(s.agentNotes, n)
	return nil
}

func (s *Store) ActiveAgentNotes(_ context.Context, cameraID string) ([]model.AgentNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	out := make([]model.AgentNote, 0)
	for _, n := range s.agentNotes {
		if !n.Active(now) {
			continue
		}
		if n.CameraID == "" || n.CameraID == cameraID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) SaveConfigUpdate(_ context.Context, u model.ConfigUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configUpdate[u.CameraID] = append(s.configUpdate[u.CameraID], u)
	return nil
}

func (s *Store) ListConfigUpdates(_ context.Context, cameraID string) ([]model.ConfigUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ConfigUpdate, len(s.configUpdate[cameraID]))
	copy(out, s.configUpdate[cameraID])
	return out, nil
}

func (s *Store) SaveOnboardingConfig(_ context.Context, o model.OnboardingConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onboarding = append(s.onboarding, o)
	return nil
}

func (s *Store) LatestOnboardingConfig(_ context.Context) (model.OnboardingConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.onboarding) == 0 {
		return model.OnboardingConfig{}, model.ErrNotFound
	}
	latest := s.onboarding[0]
	for _, o := range s.onboarding[1:] {
		if o.CreatedAt.After(latest.CreatedAt) {
			latest = o
		}
	}
	return latest, nil
}
