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

// Translator renders incident text into a caregiver's language.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// SpeechClient turns incident text into playable audio for the voice
// call flow and the accessibility endpoints.
type SpeechClient interface {
	Synthesize(ctx context.Context, text string) (audio []byte, err error)
}

// HTTPTranslator is the HTTP-backed Translator implementation.
type HTTPTranslator struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     logging.Logger
	breaker    *breaker.Breaker
}

// TranslatorOption configures an HTTPTranslator.
type TranslatorOption func(*HTTPTranslator)

func WithTranslatorLogger(l logging.Logger) TranslatorOption {
	return func(t *HTTPTranslator) { t.logger = l }
}

func WithTranslatorHTTPClient(c *http.Client) TranslatorOption {
	return func(t *HTTPTranslator) { t.httpClient = c }
}

// NewHTTPTranslator creates a translation client.
func NewHTTPTranslator(baseURL, apiKey string, opts ...TranslatorOption) *HTTPTranslator {
	t := &HTTPTranslator{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logger:     logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.breaker == nil {
		t.breaker = breaker.New("translator", breaker.DefaultConfig(), t.logger)
	}
	return t
}

type translateRequest struct {
	Text           string `json:"text"`
	TargetLanguage string `json:"target_language"`
}

type translateResponse struct {
	TranslatedText string `json:"translated_text"`
	Error          string `json:"error,omitempty"`
}

// Translate sends text to the translation service. English in, English
// out is a no-op handled locally so the service is only hit when a real
// target language is requested.
func (t *HTTPTranslator) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	if text == "" || targetLanguage == "" || targetLanguage == "en" {
		return text, nil
	}

	ctx, span := telemetry.StartSpan(ctx, "notify.translate",
		attribute.String("notify.target_language", targetLanguage),
		attribute.Int("notify.text_length", len(text)),
	)
	defer span.End()

	var translated string
	err := t.breaker.Execute(ctx, func(ctx context.Context) error {
		payload, err := json.Marshal(translateRequest{Text: text, TargetLanguage: targetLanguage})
		if err != nil {
			return fmt.Errorf("translator: marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/translate", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("translator: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if t.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+t.apiKey)
		}

		resp, err := t.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("translator: request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("translator: read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("translator: unexpected status %d: %s", resp.StatusCode, string(data))
		}

		var out translateResponse
		if err := json.Unmarshal(data, &out); err != nil {
			return fmt.Errorf("translator: invalid response: %w", err)
		}
		if out.Error != "" {
			return fmt.Errorf("translator: service error: %s", out.Error)
		}
		translated = out.TranslatedText
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		t.logger.WarnWithContext(ctx, "translation failed", logging.Fields{"error": err.Error()})
		return "", err
	}
	return translated, nil
}

// HTTPSpeech is the HTTP-backed SpeechClient implementation. The service
// returns raw MP3 bytes rather than a JSON envelope.
type HTTPSpeech struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	voiceID    string
	logger     logging.Logger
	breaker    *breaker.Breaker
}

// SpeechOption configures an HTTPSpeech.
type SpeechOption func(*HTTPSpeech)

func WithSpeechLogger(l logging.Logger) SpeechOption {
	return func(s *HTTPSpeech) { s.logger = l }
}

func WithSpeechHTTPClient(c *http.Client) SpeechOption {
	return func(s *HTTPSpeech) { s.httpClient = c }
}

// WithVoice overrides the default synthesis voice.
func WithVoice(voiceID string) SpeechOption {
	return func(s *HTTPSpeech) { s.voiceID = voiceID }
}

// defaultVoiceID is the provider's stock multilingual voice.
const defaultVoiceID = "calm-female-1"

// NewHTTPSpeech creates a text-to-speech client.
func NewHTTPSpeech(baseURL, apiKey string, opts ...SpeechOption) *HTTPSpeech {
	s := &HTTPSpeech{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		voiceID:    defaultVoiceID,
		logger:     logging.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.breaker == nil {
		s.breaker = breaker.New("speech", breaker.DefaultConfig(), s.logger)
	}
	return s
}

type synthesizeRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// Synthesize generates speech audio for text, returning MP3 bytes.
func (s *HTTPSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	ctx, span := telemetry.StartSpan(ctx, "notify.synthesize",
		attribute.Int("notify.text_length", len(text)),
		attribute.String("notify.voice_id", s.voiceID),
	)
	defer span.End()

	var audio []byte
	err := s.breaker.Execute(ctx, func(ctx context.Context) error {
		payload, err := json.Marshal(synthesizeRequest{Text: text, ModelID: "multilingual-v2"})
		if err != nil {
			return fmt.Errorf("speech: marshal request: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/text-to-speech/"+s.voiceID, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("speech: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "audio/mpeg")
		if s.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+s.apiKey)
		}

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("speech: request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("speech: read response: %w", err)
		}
		if resp.StatusCode >= 300 {
			return fmt.Errorf("speech: unexpected status %d: %s", resp.StatusCode, string(data))
		}
		audio = data
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.WarnWithContext(ctx, "speech synthesis failed", logging.Fields{"error": err.Error()})
		return nil, err
	}
	return audio, nil
}

// CallMenuScript composes the spoken prompt for the voice call's DTMF
// menu.
func CallMenuScript(incidentSummary string) string {
	return fmt.Sprintf(
		"Caregiver alert. %s "+
			"Press 1 to acknowledge and stop escalation. "+
			"Press 2 if you will call the monitored person. "+
			"Press 3 to escalate to the backup contact now. "+
			"Press 4 to mark this as a false alarm.",
		incidentSummary,
	)
}
