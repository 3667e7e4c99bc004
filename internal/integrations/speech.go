package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/symptom-intake-server/internal/domain"
	"github.com/symptom-intake-server/internal/report"
)

const (
	defaultSpeechBaseURL = "https://api.elevenlabs.io"
	defaultSpeechModel   = "eleven_multilingual_v2"
	audioContentType     = "audio/mpeg"
)

// AudioStore receives synthesized audio for a report.
type AudioStore interface {
	PutAudio(ctx context.Context, reportID string, audio []byte, contentType string) error
}

// SpeechClient talks to an ElevenLabs-compatible text-to-speech API.
type SpeechClient struct {
	baseURL    string
	apiKey     string
	voiceID    string
	modelID    string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

// NewSpeechClient creates a client. RateLimit is requests per second.
func NewSpeechClient(config domain.SpeechConfig) *SpeechClient {
	if config.BaseURL == "" {
		config.BaseURL = defaultSpeechBaseURL
	}
	if config.ModelID == "" {
		config.ModelID = defaultSpeechModel
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}

	return &SpeechClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		voiceID: config.VoiceID,
		modelID: config.ModelID,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "speech",
			MaxRequests: 1,
			Timeout:     time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
	}
}

// Synthesize converts text to MP3 audio.
func (c *SpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("speech text cannot be empty")
	}
	if c.voiceID == "" {
		return nil, fmt.Errorf("speech voice id is required")
	}

	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.post(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *SpeechClient) post(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(speechRequest{Text: text, ModelID: c.modelID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s", c.baseURL, url.PathEscape(c.voiceID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", audioContentType)
	req.Header.Set("User-Agent", "Symptom-Intake-Server/1.0")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("speech API returned status %d: %s", resp.StatusCode, string(msg))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("speech API returned no audio")
	}
	return audio, nil
}

// Speech narrates the report summary and hands the audio to the archive.
type Speech struct {
	client *SpeechClient
	audio  AudioStore
	logger *logrus.Logger
}

// NewSpeech builds the speech sink. Without an audio store the synthesized
// audio is discarded after a successful call.
func NewSpeech(client *SpeechClient, audio AudioStore, logger *logrus.Logger) *Speech {
	return &Speech{client: client, audio: audio, logger: logger}
}

func (s *Speech) Name() string  { return "speech" }
func (s *Speech) Enabled() bool { return s != nil && s.client != nil }

func (s *Speech) Publish(ctx context.Context, r *domain.Report) error {
	audio, err := s.client.Synthesize(ctx, report.Summary(r))
	if err != nil {
		return fmt.Errorf("synthesizing summary: %w", err)
	}
	fields := logrus.Fields{"report_id": r.ID, "bytes": len(audio)}
	if s.audio == nil {
		s.logger.WithFields(fields).Debug("Summary synthesized without an audio store")
		return nil
	}
	if err := s.audio.PutAudio(ctx, r.ID, audio, audioContentType); err != nil {
		return fmt.Errorf("storing audio: %w", err)
	}
	s.logger.WithFields(fields).Info("Summary audio archived")
	return nil
}
