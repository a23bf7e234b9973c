// Package coreclient talks to downstream Core instances: transcription
// forwards, heartbeat batches, and health probes.
package coreclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/orac-stt/internal/topics"
)

// Client is an HTTP client bound to one Core base URL.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a client for the Core at baseURL.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("core_url", strings.TrimRight(baseURL, "/")).Logger(),
	}
}

// BaseURL returns the client's Core base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Close releases idle connections. Safe to call more than once.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// ForwardTranscription posts text to Core's generate endpoint for the
// topic. A 404 means the topic is unknown downstream and is not an
// error; Core auto-discovers topics on its side.
func (c *Client) ForwardTranscription(ctx context.Context, topic, text string, metadata map[string]any) error {
	topic = topics.Sanitize(topic)

	payload := map[string]any{
		"prompt": text,
		"stream": false,
	}
	if len(metadata) > 0 {
		meta := make(map[string]any, len(metadata)+2)
		for k, v := range metadata {
			meta[k] = v
		}
		meta["source"] = "orac_stt"
		meta["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		payload["metadata"] = meta
	}

	c.log.Info().Str("topic", topic).Int("text_length", len(text)).Msg("forwarding transcription to core")

	status, body, err := c.postJSON(ctx, c.baseURL+"/v1/generate/"+topic, payload)
	if err != nil {
		return fmt.Errorf("forward transcription: %w", err)
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		c.log.Warn().Str("topic", topic).Msg("topic not known to core")
		return nil
	default:
		return fmt.Errorf("forward transcription: core returned %d: %s", status, body)
	}
}

// ForwardHeartbeat posts a batched topic heartbeat to Core.
func (c *Client) ForwardHeartbeat(ctx context.Context, body any) error {
	status, respBody, err := c.postJSON(ctx, c.baseURL+"/v1/topics/heartbeat", body)
	if err != nil {
		return fmt.Errorf("forward heartbeat: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("forward heartbeat: core returned %d: %s", status, respBody)
	}
	return nil
}

// Health reports whether Core answers its status endpoint with
// status "running".
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/status", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Msg("core health check failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	var st struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return false
	}
	return st.Status == "running"
}

func (c *Client) postJSON(ctx context.Context, url string, payload any) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, strings.TrimSpace(string(body)), nil
}
