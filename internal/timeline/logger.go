package timeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carewatch/guardian/internal/model"
	"github.com/carewatch/guardian/internal/platform/logging"
	"github.com/carewatch/guardian/internal/store"
)

// Logger implements the controller.EventLogger seam: every call appends
// the event durably, stages it into the bounded buffer for the
// warehouse flush, and fans it out to live broadcast subscribers.
type Logger struct {
	store  store.Datastore
	hub    *Hub
	buffer *RingBuffer
	logger logging.Logger
}

// New creates a Logger. hub and buffer may be shared with
// internal/httpapi and internal/scheduler respectively.
func New(datastore store.Datastore, hub *Hub, buffer *RingBuffer, logger logging.Logger) *Logger {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Logger{store: datastore, hub: hub, buffer: buffer, logger: logger}
}

// LogEvent implements controller.EventLogger.
func (l *Logger) LogEvent(ctx context.Context, incidentID, cameraID string, kind model.TimelineEventKind, payload map[string]interface{}) error {
	event := model.TimelineEvent{
		ID:         uuid.NewString(),
		IncidentID: incidentID,
		CameraID:   cameraID,
		Kind:       kind,
		Timestamp:  time.Now().UTC(),
		Payload:    payload,
	}

	if err := l.store.AppendTimelineEvent(ctx, event); err != nil {
		return fmt.Errorf("append timeline event: %w", err)
	}

	if l.buffer != nil {
		l.buffer.Push(event)
	}

	if l.hub != nil {
		data, err := json.Marshal(event)
		if err != nil {
			l.logger.WarnWithContext(ctx, "failed to marshal timeline event for broadcast", logging.Fields{"error": err.Error()})
			return nil
		}
		l.hub.Broadcast(data)
	}

	return nil
}
