package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/scheduler"
	"github.com/carewatch/guardian/internal/store/memstore"
	"github.com/carewatch/guardian/internal/timeline"
	"github.com/carewatch/guardian/internal/warehouse"
)

// fakeWarehouse is an in-memory warehouse.Client stand-in, mirroring the
// httptest-server fakes internal/warehouse tests itself with but
// without the HTTP round trip, since scheduler only needs to observe
// call counts/arguments.
type fakeWarehouse struct {
	mu          sync.Mutex
	written     []model.TimelineEvent
	suggestions []warehouse.ConfigSuggestion
	mirrored    []model.ConfigUpdate
	failNextN   int
}

func (f *fakeWarehouse) WriteEvent(_ context.Context, e model.TimelineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextN > 0 {
		f.failNextN--
		return assert.AnError
	}
	f.written = append(f.written, e)
	return nil
}

func (f *fakeWarehouse) ConfigSuggestions(context.Context) ([]warehouse.ConfigSuggestion, error) {
	return f.suggestions, nil
}

func (f *fakeWarehouse) MirrorConfigUpdate(_ context.Context, u model.ConfigUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mirrored = append(f.mirrored, u)
	return nil
}

func TestFlushOnce_DrainsBufferIntoWarehouse(t *testing.T) {
	buf := timeline.NewRingBuffer()
	buf.Push(model.TimelineEvent{ID: "e1", Kind: model.EventReplan})
	buf.Push(model.TimelineEvent{ID: "e2", Kind: model.EventSeverityTick})

	wh := &fakeWarehouse{}
	s := scheduler.New(memstore.New(), wh, buf, noopEvents{})

	s.FlushOnce(context.Background())

	require.Len(t, wh.written, 2)
	assert.Equal(t, 0, buf.Len(), "buffer is fully drained after a flush")
}

func TestFlushOnce_ContinuesPastIndividualWriteFailure(t *testing.T) {
	buf := timeline.NewRingBuffer()
	buf.Push(model.TimelineEvent{ID: "e1"})
	buf.Push(model.TimelineEvent{ID: "e2"})
	buf.Push(model.TimelineEvent{ID: "e3"})

	wh := &fakeWarehouse{failNextN: 1}
	s := scheduler.New(memstore.New(), wh, buf, noopEvents{})

	s.FlushOnce(context.Background())

	assert.Len(t, wh.written, 2, "one failed write does not block the others")
}

func TestOptimizeOnce_AppliesSuggestionOnlyWhenIdle(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	idleCam := model.Camera{ID: "idle-cam", RiskScore: 0.1}
	busyCam := model.Camera{ID: "busy-cam", RiskScore: 0.1}
	require.NoError(t, st.SaveCamera(ctx, idleCam))
	require.NoError(t, st.SaveCamera(ctx, busyCam))
	require.NoError(t, st.SaveIncident(ctx, model.Incident{ID: "inc-1", CameraID: busyCam.ID, Status: model.StatusActive}))

	wh := &fakeWarehouse{
		suggestions: []warehouse.ConfigSuggestion{
			{CameraID: idleCam.ID, Reason: "tune", Confidence: 0.7, Patch: map[string]interface{}{"motion_spike_threshold": 0.6}},
			{CameraID: busyCam.ID, Reason: "tune", Confidence: 0.7, Patch: map[string]interface{}{"motion_spike_threshold": 0.6}},
		},
	}

	var logged []model.TimelineEventKind
	events := recordingEvents{record: func(kind model.TimelineEventKind) { logged = append(logged, kind) }}

	s := scheduler.New(st, wh, timeline.NewRingBuffer(), events)
	s.OptimizeOnce(ctx)

	updated, err := st.GetCamera(ctx, idleCam.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.6, updated.Config.MotionSpikeThreshold, "idle camera gets the patch applied")

	stillBusy, err := st.GetCamera(ctx, busyCam.ID)
	require.NoError(t, err)
	assert.Zero(t, stillBusy.Config.MotionSpikeThreshold, "a camera with an active incident is never idle-patched")

	require.Len(t, wh.mirrored, 1)
	assert.Equal(t, []model.TimelineEventKind{model.EventConfigSuggestionApplied}, logged)
}

func TestStartStop_IsIdempotentAndCancellable(t *testing.T) {
	s := scheduler.New(memstore.New(), &fakeWarehouse{}, timeline.NewRingBuffer(), noopEvents{},
		scheduler.WithFlushInterval(5*time.Millisecond),
		scheduler.WithOptimizeInterval(5*time.Millisecond),
	)

	ctx := context.Background()
	s.Start(ctx)
	s.Start(ctx) // no-op, must not double-spawn or deadlock

	time.Sleep(20 * time.Millisecond)
	s.Stop()
	s.Stop() // no-op
}

type noopEvents struct{}

func (noopEvents) LogEvent(context.Context, string, string, model.TimelineEventKind, map[string]interface{}) error {
	return nil
}

type recordingEvents struct {
	record func(model.TimelineEventKind)
}

func (r recordingEvents) LogEvent(_ context.Context, _, _ string, kind model.TimelineEventKind, _ map[string]interface{}) error {
	r.record(kind)
	return nil
}
