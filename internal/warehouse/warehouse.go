// Package warehouse implements the analytics-warehouse client the
// scheduler drains timeline events into and reads config suggestions
// from. Same HTTP client shape as internal/notify and internal/planner.
package warehouse

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
	"github.com/carewatch/guardian/internal/platform/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// ConfigSuggestion is a config patch the warehouse's offline
// optimization job proposes for a camera.
type ConfigSuggestion struct {
	CameraID   string                 `json:"camera_id"`
	Reason     string                 `json:"reason"`
	Confidence float64                `json:"confidence"`
	Patch      map[string]interface{} `json:"patch"`
}

// Client is the warehouse's public surface: best-effort event writes
// and config-suggestion read/mirror.
type Client interface {
	WriteEvent(ctx context.Context, e model.TimelineEvent) error
	ConfigSuggestions(ctx context.Context) ([]ConfigSuggestion, error)
	MirrorConfigUpdate(ctx context.Context, u model.ConfigUpdate) error
}

// HTTPClient is the HTTP-backed Client implementation.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     logging.Logger
	breaker    *breaker.Breaker
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

func WithLogger(l logging.Logger) Option { return func(c *HTTPClient) { c.logger = l } }
func WithHTTPClient(hc *http.Client) Option { return func(c *HTTPClient) { c.httpClient = hc } }
func WithCircuitBreaker(b *breaker.Breaker) Option {
	return func(c *HTTPClient) { c.breaker = b }
}

// New creates an HTTPClient.
func New(baseURL, apiKey string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = breaker.New("warehouse", breaker.DefaultConfig(), c.logger)
	}
	return c
}

// WriteEvent posts a single timeline event. Writes are best-effort: the
// caller, internal/scheduler, logs an error and continues its drain.
func (c *HTTPClient) WriteEvent(ctx context.Context, e model.TimelineEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "warehouse.write_event", attribute.String("warehouse.event_kind", string(e.Kind)))
	defer span.End()

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, "/v1/events", e, nil)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		c.logger.WarnWithContext(ctx, "warehouse event write failed", logging.Fields{"error": err.Error()})
		return err
	}
	return nil
}

// ConfigSuggestions fetches pending config suggestions for the
// config_optimization scheduler task.
func (c *HTTPClient) ConfigSuggestions(ctx context.Context) ([]ConfigSuggestion, error) {
	ctx, span := telemetry.StartSpan(ctx, "warehouse.config_suggestions")
	defer span.End()

	var out []ConfigSuggestion
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/config-suggestions", nil)
		if err != nil {
			return fmt.Errorf("warehouse: build request: %w", err)
		}
		c.authorize(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("warehouse: request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("warehouse: read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("warehouse: unexpected status %d: %s", resp.StatusCode, string(data))
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return out, nil
}

// MirrorConfigUpdate reports an applied (or rolled back) config update
// back to the warehouse for its own bookkeeping.
func (c *HTTPClient) MirrorConfigUpdate(ctx context.Context, u model.ConfigUpdate) error {
	ctx, span := telemetry.StartSpan(ctx, "warehouse.mirror_config_update", attribute.String("warehouse.camera_id", u.CameraID))
	defer span.End()

	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.post(ctx, "/v1/config-updates", u, nil)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		c.logger.WarnWithContext(ctx, "warehouse config mirror failed", logging.Fields{"error": err.Error()})
		return err
	}
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("warehouse: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("warehouse: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("warehouse: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("warehouse: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("warehouse: unexpected status %d: %s", resp.StatusCode, string(data))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}
