package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carewatch/guardian/internal/executor"
	"github.com/carewatch/guardian/internal/guard"
	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/planner"
	"github.com/carewatch/guardian/internal/store/memstore"
)

type fakePlanner struct {
	mu      sync.Mutex
	calls   int
	plan    planner.Plan
	err     error
	strong  planner.Plan
}

func (f *fakePlanner) PlanIncident(ctx context.Context, req planner.PlanIncidentRequest) (planner.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return planner.Plan{}, f.err
	}
	return f.plan, nil
}

func (f *fakePlanner) PlanStrong(ctx context.Context, req planner.PlanStrongRequest) (planner.Plan, error) {
	return f.strong, nil
}

func (f *fakePlanner) AssessBed(ctx context.Context, req planner.AssessBedRequest) (planner.BedAssessment, error) {
	return planner.BedAssessment{}, nil
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

type fakeSMS struct{ mu sync.Mutex; sent []string }

func (f *fakeSMS) Send(_ context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return "sms-id", nil
}

type fakeVoice struct{ mu sync.Mutex; called []string }

func (f *fakeVoice) StartCall(_ context.Context, to, incidentID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called = append(f.called, to)
	return "call-id", nil
}

func seedCamera(t *testing.T, s *memstore.Store) model.Camera {
	t.Helper()
	cam := model.Camera{
		ID: "cam-1", PrimaryContact: "+1primary", BackupContact: "+1backup",
		VoiceEnabled: true, SMSEnabled: true, Status: "ACTIVE",
		Config: model.CameraConfig{EscalationDelaySec: 60},
	}
	require.NoError(t, s.SaveCamera(context.Background(), cam))
	require.NoError(t, s.SavePolicy(context.Background(), model.DefaultNotificationPolicy(cam.ID)))
	return cam
}

func newTestController(t *testing.T, p *fakePlanner) (*Controller, *memstore.Store, *fakeEvents, *fakeSMS, *fakeVoice) {
	t.Helper()
	s := memstore.New()
	events := &fakeEvents{}
	g := guard.New()
	c := New(s, p, g, events)
	sms := &fakeSMS{}
	voice := &fakeVoice{}
	exec := executor.New(s, sms, voice, executor.WithHooks(c.ExecutorHooks()))
	c.SetExecutor(exec)
	return c, s, events, sms, voice
}

func TestStart_RunsFirstPlanAndDispatchesApprovedActions(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{
		Verdict: model.VerdictConfirmedFall, SeveritySeed: 4, Confidence: 0.9,
		Reasons: []string{"no motion"}, ReplanIntervalSec: 5,
		Actions: []model.PlanAction{{Type: model.ActionSendSMSPrimary}},
	}}
	c, store, events, sms, _ := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-1", CameraID: cam.ID, Status: model.StatusActive, CreatedAt: time.Now()}
	require.NoError(t, store.SaveIncident(context.Background(), inc))

	require.NoError(t, c.Start(context.Background(), inc.ID))
	defer c.cancelWorker(inc.ID)

	require.Equal(t, 1, p.calls)
	require.Len(t, sms.sent, 1)
	require.Equal(t, 1, events.count(model.EventPlanCreated))
	require.Equal(t, 1, events.count(model.EventPlanApproved))

	got, err := store.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, model.VerdictConfirmedFall, got.Verdict)
	require.Equal(t, 1, got.PlanVersion)
}

func TestAck_StopsWorkerAndResetsGuard(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictPossibleFall, SeveritySeed: 2, Confidence: 0.9, ReplanIntervalSec: 30}}
	c, store, events, _, _ := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-2", CameraID: cam.ID, Status: model.StatusActive, CreatedAt: time.Now()}
	require.NoError(t, store.SaveIncident(context.Background(), inc))
	require.NoError(t, c.Start(context.Background(), inc.ID))
	require.True(t, c.Running(inc.ID))

	require.NoError(t, c.Ack(context.Background(), inc.ID, "caregiver-1"))
	require.False(t, c.Running(inc.ID))
	require.Equal(t, 1, events.count(model.EventAckReceived))

	got, err := store.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusAcked, got.Status)
	require.True(t, got.Acknowledged)
	require.Equal(t, "caregiver-1", got.AckBy)
}

func TestAck_DecrementsSeverityCurrent(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictConfirmedFall, SeveritySeed: 4, Confidence: 0.9, ReplanIntervalSec: 30}}
	c, store, _, _, _ := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-ack-sev", CameraID: cam.ID, Status: model.StatusActive, CreatedAt: time.Now()}
	require.NoError(t, store.SaveIncident(context.Background(), inc))
	require.NoError(t, c.Start(context.Background(), inc.ID))

	before, err := store.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, 4, before.SeverityCurrent)

	require.NoError(t, c.Ack(context.Background(), inc.ID, "caregiver-1"))

	after, err := store.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, 3, after.SeverityCurrent, "ack must lower severity_current by 1, clamped at 1")
}

func TestFalseAlarm_ClosesIncident(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictPossibleFall, SeveritySeed: 2, Confidence: 0.9, ReplanIntervalSec: 30}}
	c, store, events, _, _ := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-3", CameraID: cam.ID, Status: model.StatusActive, CreatedAt: time.Now()}
	require.NoError(t, store.SaveIncident(context.Background(), inc))
	require.NoError(t, c.Start(context.Background(), inc.ID))

	require.NoError(t, c.FalseAlarm(context.Background(), inc.ID))
	require.False(t, c.Running(inc.ID))
	require.Equal(t, 1, events.count(model.EventClosed))

	got, err := store.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusClosed, got.Status)
	require.Equal(t, model.VerdictFalseAlarm, got.Verdict)
}

func TestStart_PlannerFailureFallsBackToNoPlan(t *testing.T) {
	p := &fakePlanner{err: assertErr{}}
	c, store, events, sms, voice := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-4", CameraID: cam.ID, Status: model.StatusActive, CreatedAt: time.Now()}
	require.NoError(t, store.SaveIncident(context.Background(), inc))

	require.NoError(t, c.Start(context.Background(), inc.ID))
	defer c.cancelWorker(inc.ID)

	require.Equal(t, 1, events.count(model.EventPlanFailed))
	require.Empty(t, sms.sent)
	require.Empty(t, voice.called)

	got, err := store.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.PlanVersion, "a failed plan call must not bump the version")
}

func TestStart_IsIdempotent(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictPossibleFall, SeveritySeed: 2, Confidence: 0.9, ReplanIntervalSec: 30}}
	c, store, _, _, _ := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-5", CameraID: cam.ID, Status: model.StatusActive, CreatedAt: time.Now()}
	require.NoError(t, store.SaveIncident(context.Background(), inc))

	require.NoError(t, c.Start(context.Background(), inc.ID))
	require.NoError(t, c.Start(context.Background(), inc.ID))
	defer c.cancelWorker(inc.ID)

	require.Equal(t, 1, p.calls, "second Start on the same incident must be a no-op")
}

func TestAck_NoOpOnClosedIncident(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictPossibleFall, SeveritySeed: 2, Confidence: 0.9, ReplanIntervalSec: 30}}
	c, store, events, _, _ := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-closed", CameraID: cam.ID, Status: model.StatusClosed, Verdict: model.VerdictFalseAlarm, Acknowledged: true}
	require.NoError(t, store.SaveIncident(context.Background(), inc))

	require.NoError(t, c.Ack(context.Background(), inc.ID, "caregiver-1"))

	got, err := store.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusClosed, got.Status, "a CLOSED incident must stay CLOSED")
	require.Empty(t, got.AckBy)
	require.Equal(t, 0, events.count(model.EventAckReceived))
}

func TestFalseAlarm_NoOpOnAckedIncident(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictPossibleFall, SeveritySeed: 2, Confidence: 0.9, ReplanIntervalSec: 30}}
	c, store, events, _, _ := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-acked", CameraID: cam.ID, Status: model.StatusAcked, Verdict: model.VerdictConfirmedFall, Acknowledged: true}
	require.NoError(t, store.SaveIncident(context.Background(), inc))

	require.NoError(t, c.FalseAlarm(context.Background(), inc.ID))

	got, err := store.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatusAcked, got.Status)
	require.Equal(t, model.VerdictConfirmedFall, got.Verdict, "the recorded verdict must not be rewritten after a terminal transition")
	require.Equal(t, 0, events.count(model.EventClosed))
}

func TestEscalateNow_BumpsStageAndContactsBackup(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictConfirmedFall, SeveritySeed: 4, Confidence: 0.9, ReplanIntervalSec: 30}}
	c, store, events, sms, voice := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-esc", CameraID: cam.ID, Status: model.StatusActive, CreatedAt: time.Now()}
	require.NoError(t, store.SaveIncident(context.Background(), inc))

	require.NoError(t, c.EscalateNow(context.Background(), inc.ID))

	got, err := store.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.EscalationStage)
	require.Equal(t, 1, events.count(model.EventEscalation))
	require.Contains(t, sms.sent, "+1backup")
	require.Contains(t, voice.called, "+1backup")
}

func TestEscalateNow_StageCapIsHonored(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictConfirmedFall, SeveritySeed: 4, Confidence: 0.9, ReplanIntervalSec: 30}}
	c, store, events, _, _ := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-esc-cap", CameraID: cam.ID, Status: model.StatusActive, CreatedAt: time.Now(), EscalationStage: 2}
	require.NoError(t, store.SaveIncident(context.Background(), inc))

	require.NoError(t, c.EscalateNow(context.Background(), inc.ID))

	got, err := store.GetIncident(context.Background(), inc.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.EscalationStage, "escalation stage must never exceed 2")
	require.Equal(t, 0, events.count(model.EventEscalation))
}

func TestEscalateNow_NoOpOnTerminalIncident(t *testing.T) {
	p := &fakePlanner{plan: planner.Plan{Verdict: model.VerdictPossibleFall, SeveritySeed: 2, Confidence: 0.9, ReplanIntervalSec: 30}}
	c, store, events, _, _ := newTestController(t, p)
	cam := seedCamera(t, store)

	inc := model.Incident{ID: "inc-esc-acked", CameraID: cam.ID, Status: model.StatusAcked, Acknowledged: true, CreatedAt: time.Now()}
	require.NoError(t, store.SaveIncident(context.Background(), inc))

	require.NoError(t, c.EscalateNow(context.Background(), inc.ID))
	require.Equal(t, 0, events.count(model.EventEscalation))
}

// assertErr is a minimal error implementation to avoid importing errors
// just to construct a sentinel for this one test.
type assertErr struct{}

func (assertErr) Error() string { return "planner unavailable" }
