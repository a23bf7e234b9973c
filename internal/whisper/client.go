// Package whisper owns the whisper-server engine: the one-shot HTTP
// inference client and the subprocess supervisor that keeps the engine
// alive.
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/orac-stt/internal/audio"
)

// Engine failure kinds. Checked with errors.Is by the orchestrator,
// which maps all of them to a recorded-but-not-5xx transcription failure.
var (
	ErrEngineDown    = errors.New("engine down")
	ErrEngineTimeout = errors.New("engine timeout")
	ErrEngineError   = errors.New("engine error")
)

// Result is one transcription outcome from the engine. Confidence is
// synthesized (0.95 for non-empty text, 0 otherwise); the engine does
// not report one. Treat it as a liveness signal, not a probability.
type Result struct {
	Text             string
	Confidence       float64
	Language         string
	InferenceSeconds float64
}

// Client calls a whisper-server /inference endpoint.
type Client struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewClient creates an engine client. timeout bounds each inference call.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		log:     log,
	}
}

// URL returns the engine base URL.
func (c *Client) URL() string { return c.baseURL }

// Transcribe serializes samples to a mono 16-bit 16 kHz WAV and posts it
// to the engine. language may be empty for the engine default.
func (c *Client) Transcribe(ctx context.Context, samples []float32, language string) (Result, error) {
	wav := audio.EncodeWAV(samples, audio.SampleRate)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "audio.wav")
	if err != nil {
		return Result{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return Result{}, fmt.Errorf("write audio data: %w", err)
	}
	w.WriteField("response_format", "json")
	if language != "" {
		w.WriteField("language", language)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/inference", &buf)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: read response: %v", ErrEngineError, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: status %d: %s", ErrEngineError, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrEngineError, err)
	}

	text := strings.TrimSpace(parsed.Text)
	confidence := 0.0
	if text != "" {
		confidence = 0.95
	}

	return Result{
		Text:             text,
		Confidence:       confidence,
		Language:         parsed.Language,
		InferenceSeconds: time.Since(start).Seconds(),
	}, nil
}

// Health probes the engine root URL. whisper-server serves its landing
// page once the model is loaded.
func (c *Client) Health(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// WaitReady polls Health every second until it succeeds or ctx expires.
func (c *Client) WaitReady(ctx context.Context) bool {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		if c.Health(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func classifyTransportErr(err error) error {
	var nerr interface{ Timeout() bool }
	if errors.As(err, &nerr) && nerr.Timeout() {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrEngineTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrEngineDown, err)
}
