// Package scheduler drives the two periodic background tasks:
// warehouse_flush (drain the timeline buffer every 10s) and
// config_optimization (read and apply idle-window config suggestions
// every 5 minutes). Start/Stop lifecycle: cancellable context,
// WaitGroup-joined goroutines, swap-guarded running flag.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/carewatch/guardian/internal/config"
	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/platform/logging"
	"github.com/carewatch/guardian/internal/platform/telemetry"
	"github.com/carewatch/guardian/internal/store"
	"github.com/carewatch/guardian/internal/warehouse"
	"go.opentelemetry.io/otel/attribute"
)

// FlushInterval is the warehouse_flush period.
const FlushInterval = 10 * time.Second

// ConfigOptimizationInterval is the config_optimization period.
const ConfigOptimizationInterval = 5 * time.Minute

// IdleRiskThreshold is the idle-window risk ceiling: a camera above it
// (or with an active incident) never receives a config patch.
const IdleRiskThreshold = 0.3

// EventLogger is the narrow seam scheduler needs from internal/timeline,
// mirroring controller.EventLogger so neither package imports the other.
type EventLogger interface {
	LogEvent(ctx context.Context, incidentID, cameraID string, kind model.TimelineEventKind, payload map[string]interface{}) error
}

// Buffer is the drainable staging area scheduler flushes into the
// warehouse (internal/timeline.RingBuffer satisfies this).
type Buffer interface {
	Drain() []model.TimelineEvent
}

// Scheduler owns the two periodic background tasks. One Scheduler
// instance runs for the process lifetime.
type Scheduler struct {
	store      store.Datastore
	warehouse  warehouse.Client
	buffer     Buffer
	events     EventLogger
	logger     logging.Logger

	flushInterval  time.Duration
	optimizeInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	running atomic.Bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l logging.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithFlushInterval overrides FlushInterval (tests only).
func WithFlushInterval(d time.Duration) Option { return func(s *Scheduler) { s.flushInterval = d } }

// WithOptimizeInterval overrides ConfigOptimizationInterval (tests only).
func WithOptimizeInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.optimizeInterval = d }
}

// New creates a Scheduler.
func New(datastore store.Datastore, warehouseClient warehouse.Client, buffer Buffer, events EventLogger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:            datastore,
		warehouse:        warehouseClient,
		buffer:           buffer,
		events:           events,
		logger:           logging.NoOpLogger{},
		flushInterval:    FlushInterval,
		optimizeInterval: ConfigOptimizationInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the two periodic loops as background goroutines.
// Calling Start twice is a no-op; Stop must be called to re-arm it.
func (s *Scheduler) Start(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.runFlushLoop(runCtx)
	go s.runOptimizationLoop(runCtx)
}

// Stop cancels both loops and waits for them to exit.
func (s *Scheduler) Stop() {
	if !s.running.Swap(false) {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runFlushLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.FlushOnce(ctx)
		}
	}
}

func (s *Scheduler) runOptimizationLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.optimizeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.OptimizeOnce(ctx)
		}
	}
}

// FlushOnce drains the buffer and writes each event to the warehouse.
// Individual write failures are logged and do not stop the drain from
// completing.
func (s *Scheduler) FlushOnce(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.warehouse_flush")
	defer span.End()

	events := s.buffer.Drain()
	span.SetAttributes(attribute.Int("scheduler.drained_count", len(events)))
	for _, e := range events {
		if err := s.warehouse.WriteEvent(ctx, e); err != nil {
			s.logger.WarnWithContext(ctx, "warehouse flush: event write failed", logging.Fields{
				"event_id": e.ID, "error": err.Error(),
			})
		}
	}
}

// OptimizeOnce reads pending config suggestions and applies each one
// through the idle gate: one at a time, best-effort, no partial-batch
// rollback beyond the only-when-idle rule itself.
func (s *Scheduler) OptimizeOnce(ctx context.Context) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler.config_optimization")
	defer span.End()

	suggestions, err := s.warehouse.ConfigSuggestions(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.WarnWithContext(ctx, "config optimization: fetch suggestions failed", logging.Fields{"error": err.Error()})
		return
	}

	for _, sug := range suggestions {
		if err := s.applySuggestion(ctx, sug); err != nil {
			s.logger.WarnWithContext(ctx, "config optimization: apply failed", logging.Fields{
				"camera_id": sug.CameraID, "error": err.Error(),
			})
		}
	}
}

func (s *Scheduler) applySuggestion(ctx context.Context, sug warehouse.ConfigSuggestion) error {
	camera, err := s.store.GetCamera(ctx, sug.CameraID)
	if err != nil {
		return err
	}

	idle, err := config.IsIdle(ctx, s.store, camera)
	if err != nil {
		return err
	}
	if !idle {
		return nil
	}

	patch := config.FilterRecognizedKeys(sug.Patch)
	update := config.ApplyPatch(&camera, patch)
	if !update.Applied {
		return nil
	}

	if err := s.store.UpdateCamera(ctx, camera); err != nil {
		return err
	}

	rec := model.ConfigUpdate{
		ID:         update.ID,
		CameraID:   sug.CameraID,
		Reason:     sug.Reason,
		Confidence: sug.Confidence,
		ConfigJSON: update.ConfigJSON,
		Applied:    true,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.store.SaveConfigUpdate(ctx, rec); err != nil {
		return err
	}

	if err := s.events.LogEvent(ctx, "", sug.CameraID, model.EventConfigSuggestionApplied, map[string]interface{}{
		"reason":     sug.Reason,
		"confidence": sug.Confidence,
		"config":     patch,
	}); err != nil {
		s.logger.WarnWithContext(ctx, "failed to log config suggestion event", logging.Fields{"error": err.Error()})
	}

	if err := s.warehouse.MirrorConfigUpdate(ctx, rec); err != nil {
		s.logger.WarnWithContext(ctx, "failed to mirror config update to warehouse", logging.Fields{"error": err.Error()})
	}
	return nil
}
