// Package upstream calls the AI provider that performs generations.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fortec/gateway/internal/apperr"
)

// DefaultBaseURL is the provider used when none is configured.
const DefaultBaseURL = "https://pollinations.ai/api"

const maxErrorBody = 4 << 10

// Client calls the provider's generation endpoints. Calls are not retried:
// a retried generation could be billed twice by the provider.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// New returns a Client with a per-call timeout.
func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		logger: logger.With("component", "upstream"),
	}
}

// GenerateText requests a text completion.
func (c *Client) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	req = req.WithDefaults()

	var resp textResponse
	if err := c.post(ctx, "/text/generate", req, &resp); err != nil {
		return nil, err
	}
	return &TextResult{
		Text:   resp.Text,
		Model:  req.Model,
		Tokens: resp.Usage.normalize(),
	}, nil
}

// GenerateImage requests images.
func (c *Client) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	req = req.WithDefaults()

	var resp imageResponse
	if err := c.post(ctx, "/image/generate", req, &resp); err != nil {
		return nil, err
	}

	res := &ImageResult{Images: resp.Images, Model: resp.Model}
	if res.Images == nil {
		res.Images = []json.RawMessage{}
	}
	if res.Model == "" {
		res.Model = DefaultImageModel
	}
	return res, nil
}

// GenerateSpeech requests synthesized speech.
func (c *Client) GenerateSpeech(ctx context.Context, req SpeechRequest) (*SpeechResult, error) {
	req = req.WithDefaults()

	var resp speechResponse
	if err := c.post(ctx, "/speech/generate", req, &resp); err != nil {
		return nil, err
	}
	return &SpeechResult{
		AudioURL: resp.AudioURL,
		Duration: resp.Duration,
		Voice:    req.Voice,
		Format:   req.Format,
	}, nil
}

// post sends body as JSON and decodes a 2xx response into out. Every
// failure is returned as *apperr.UpstreamError.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal upstream request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("upstream request failed",
			slog.String("path", path),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return &apperr.UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		upErr := &apperr.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw)}
		var parsed errorResponse
		if json.Unmarshal(raw, &parsed) == nil {
			upErr.Message = parsed.Message
		}
		c.logger.Warn("upstream returned error status",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", time.Since(start)),
		)
		return upErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &apperr.UpstreamError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return nil
}
