package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carewatch/guardian/internal/controller"
	"github.com/carewatch/guardian/internal/executor"
	"github.com/carewatch/guardian/internal/guard"
	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/planner"
	"github.com/carewatch/guardian/internal/store/memstore"
)

type fakePlanner struct {
	mu         sync.Mutex
	planCalls  int
	plan       planner.Plan
	assessment planner.BedAssessment
}

func (f *fakePlanner) PlanIncident(ctx context.Context, req planner.PlanIncidentRequest) (planner.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	return f.plan, nil
}

func (f *fakePlanner) PlanStrong(ctx context.Context, req planner.PlanStrongRequest) (planner.Plan, error) {
	return f.plan, nil
}

func (f *fakePlanner) AssessBed(ctx context.Context, req planner.AssessBedRequest) (planner.BedAssessment, error) {
	return f.assessment, nil
}

type fakeEvents struct {
	mu     sync.Mutex
	events []model.TimelineEventKind
}

func (f *fakeEvents) LogEvent(ctx context.Context, incidentID, cameraID string, kind model.TimelineEventKind, payload map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, kind)
	return nil
}

func (f *fakeEvents) count(kind model.TimelineEventKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, k := range f.events {
		if k == kind {
			n++
		}
	}
	return n
}

type fakeSMS struct{ mu sync.Mutex; sent int }

func (f *fakeSMS) Send(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent++
	return "sms-id", nil
}

type fakeVoice struct{ mu sync.Mutex; called int }

func (f *fakeVoice) StartCall(_ context.Context, to, incidentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called++
	return "call-id", nil
}

func seedCamera(t *testing.T, s *memstore.Store) model.Camera {
	t.Helper()
	cam := model.Camera{
		ID: "cam-1", PrimaryContact: "+1primary", BackupContact: "+1backup",
		VoiceEnabled: true, SMSEnabled: true, Status: "ACTIVE",
		Config: model.CameraConfig{EscalationDelaySec: 60, RiskThresholdHigh: 0.7},
	}
	require.NoError(t, s.SaveCamera(context.Background(), cam))
	require.NoError(t, s.SavePolicy(context.Background(), model.DefaultNotificationPolicy(cam.ID)))
	return cam
}

func newTestRouter(t *testing.T, p *fakePlanner) (*Router, *memstore.Store, *fakeEvents, *fakeSMS, *fakeVoice) {
	t.Helper()
	s := memstore.New()
	events := &fakeEvents{}
	g := guard.New()
	ctrl := controller.New(s, p, g, events)
	sms := &fakeSMS{}
	voice := &fakeVoice{}
	exec := executor.New(s, sms, voice, executor.WithHooks(ctrl.ExecutorHooks()))
	ctrl.SetExecutor(exec)
	r := New(s, p, ctrl, g, exec, events)
	return r, s, events, sms, voice
}

func TestHandleTrigger_CreatesIncidentWithSeedValues(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictConfirmedFall, SeveritySeed: 4, Confidence: 0.9, ReplanIntervalSec: 5}}
	r, store, events, _, _ := newTestRouter(t, p)
	cam := seedCamera(t, store)

	incidentID, err := r.HandleTrigger(context.Background(), cam.ID, model.TriggerFall, "frame-1")
	require.NoError(t, err)
	require.NotEmpty(t, incidentID)

	inc, err := store.GetIncident(context.Background(), incidentID)
	require.NoError(t, err)
	require.Equal(t, model.StatusActive, inc.Status)
	require.Equal(t, 1, events.count(model.EventTriggerReceived))

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, r.controller.Ack(context.Background(), incidentID, "test"))
}

func TestHandleTrigger_DedupsAgainstExistingActiveIncident(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictPossibleFall, SeveritySeed: 3, Confidence: 0.9, ReplanIntervalSec: 30}}
	r, store, _, _, _ := newTestRouter(t, p)
	cam := seedCamera(t, store)

	first, err := r.HandleTrigger(context.Background(), cam.ID, model.TriggerEdge, "frame-1")
	require.NoError(t, err)

	second, err := r.HandleTrigger(context.Background(), cam.ID, model.TriggerEdge, "frame-2")
	require.NoError(t, err)
	require.Equal(t, first, second, "a second trigger on the same camera must attach to the existing incident, not create a new one")

	inc, err := store.GetIncident(context.Background(), first)
	require.NoError(t, err)
	require.Equal(t, []string{"frame-1", "frame-2"}, inc.FramesB64)

	require.NoError(t, r.controller.Ack(context.Background(), first, "test"))
}

func TestHandlePrevention_UpdatesRiskAndSkipsPlanningBelowThreshold(t *testing.T) {
	p := &fakePlanner{assessment: planner.BedAssessment{BedState: model.BedInBed, Stability: model.StabilityStable}}
	r, store, events, sms, voice := newTestRouter(t, p)
	cam := seedCamera(t, store)

	require.NoError(t, r.HandlePrevention(context.Background(), cam.ID, []string{"frame-1"}, 14))

	got, err := store.GetCamera(context.Background(), cam.ID)
	require.NoError(t, err)
	require.Less(t, got.RiskScore, 0.7)
	require.Equal(t, 1, events.count(model.EventBedAssessment))
	require.Equal(t, 1, events.count(model.EventRiskUpdated))
	require.Equal(t, 0, p.planCalls, "risk below threshold must not invoke planning")
	require.Equal(t, 0, sms.sent)
	require.Equal(t, 0, voice.called)
}

func TestHandlePrevention_InvokesPlannerAboveThreshold(t *testing.T) {
	p := &fakePlanner{
		assessment: planner.BedAssessment{BedState: model.BedLegsOver, Stability: model.StabilityUnstable},
		plan: planner.Plan{
			Actions: []model.PlanAction{{Type: model.ActionSendLowPriorityHeadsup}},
		},
	}
	r, store, _, sms, _ := newTestRouter(t, p)
	cam := seedCamera(t, store)

	require.NoError(t, r.HandlePrevention(context.Background(), cam.ID, []string{"frame-1"}, 23))

	got, err := store.GetCamera(context.Background(), cam.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, got.RiskScore, 0.7)
	require.Equal(t, 1, p.planCalls)
	require.Equal(t, 1, sms.sent)
}
