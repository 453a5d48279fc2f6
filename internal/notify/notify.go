// Package notify implements the SMS/voice gateway clients the Action
// Executor dispatches to, plus the translation and text-to-speech
// clients behind the accessibility endpoints.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/carewatch/guardian/internal/platform/breaker"
	"github.com/carewatch/guardian/internal/platform/logging"
	"github.com/carewatch/guardian/internal/platform/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// SMSClient sends a text message and returns the gateway's external id.
type SMSClient interface {
	Send(ctx context.Context, to, body string) (externalID string, err error)
}

// VoiceClient starts a voice call. The gateway is expected to fetch a
// call-control document at a URL parameterized by incidentID.
type VoiceClient interface {
	StartCall(ctx context.Context, to, incidentID string) (externalID string, err error)
}

// HTTPGateway implements both SMSClient and VoiceClient against a single
// HTTP gateway endpoint (e.g. a Twilio-shaped provider).
type HTTPGateway struct {
	httpClient      *http.Client
	baseURL         string
	apiKey          string
	callbackBaseURL string
	logger          logging.Logger
	breaker         *breaker.Breaker
}

// Option configures an HTTPGateway.
type Option func(*HTTPGateway)

// WithLogger sets the gateway's logger.
func WithLogger(l logging.Logger) Option {
	return func(g *HTTPGateway) { g.logger = l }
}

// WithHTTPClient overrides the default client (used by tests).
func WithHTTPClient(c *http.Client) Option {
	return func(g *HTTPGateway) { g.httpClient = c }
}

// WithCircuitBreaker overrides the default breaker.
func WithCircuitBreaker(b *breaker.Breaker) Option {
	return func(g *HTTPGateway) { g.breaker = b }
}

// NewHTTPGateway creates a gateway client. callbackBaseURL is the base
// used to build the per-incident call-control document URL handed to the
// voice provider.
func NewHTTPGateway(baseURL, apiKey, callbackBaseURL string, opts ...Option) *HTTPGateway {
	g := &HTTPGateway{
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		baseURL:         baseURL,
		apiKey:          apiKey,
		callbackBaseURL: callbackBaseURL,
		logger:          logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.breaker == nil {
		g.breaker = breaker.New("notify-gateway", breaker.DefaultConfig(), g.logger)
	}
	return g
}

type sendSMSRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type startCallRequest struct {
	To          string `json:"to"`
	CallControlURL string `json:"call_control_url"`
}

type gatewayResponse struct {
	ExternalID string `json:"external_id"`
	Error      string `json:"error,omitempty"`
}

// Send dispatches an SMS via the gateway.
func (g *HTTPGateway) Send(ctx context.Context, to, body string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "notify.send_sms", attribute.String("notify.to", redact(to)))
	defer span.End()

	var externalID string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		id, callErr := g.post(ctx, "/v1/sms", sendSMSRequest{To: to, Body: body})
		if callErr != nil {
			return callErr
		}
		externalID = id
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		g.logger.WarnWithContext(ctx, "sms send failed", logging.Fields{"error": err.Error()})
		return "", err
	}
	return externalID, nil
}

// StartCall dispatches a voice call via the gateway. The call-control
// document URL is parameterized by incidentID; the DTMF webhook
// semantics live in internal/controller and internal/httpapi.
func (g *HTTPGateway) StartCall(ctx context.Context, to, incidentID string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "notify.start_voice_call",
		attribute.String("notify.to", redact(to)),
		attribute.String("notify.incident_id", incidentID),
	)
	defer span.End()

	callControlURL := fmt.Sprintf("%s/voice/%s/menu", g.callbackBaseURL, incidentID)

	var externalID string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		id, callErr := g.post(ctx, "/v1/calls", startCallRequest{To: to, CallControlURL: callControlURL})
		if callErr != nil {
			return callErr
		}
		externalID = id
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		g.logger.WarnWithContext(ctx, "voice call failed", logging.Fields{"error": err.Error()})
		return "", err
	}
	return externalID, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, body interface{}) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("notify: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("notify: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("notify: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("notify: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("notify: unexpected status %d: %s", resp.StatusCode, string(data))
	}

	var out gatewayResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("notify: invalid response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("notify: gateway error: %s", out.Error)
	}
	return out.ExternalID, nil
}

// redact trims a contact string down to a non-identifying suffix for
// tracing attributes.
func redact(s string) string {
	if len(s) <= 4 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}
