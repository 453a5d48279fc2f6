package controller

import (
	"context"

	"github.com/carewatch/guardian/internal/model"
)

// EventLogger is the narrow seam the controller logs through.
// internal/timeline provides the concrete append+buffer+broadcast
// implementation; the controller only needs to know events go somewhere
// durable, so it depends on this interface rather than that package.
type EventLogger interface {
	LogEvent(ctx context.Context, incidentID, cameraID string, kind model.TimelineEventKind, payload map[string]interface{}) error
}
