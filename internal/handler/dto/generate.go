package dto

import "github.com/fortec/gateway/internal/upstream"

// TextRequest represents the body of POST /api/text/generate.
type TextRequest struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// ImageRequest represents the body of POST /api/image/generate.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	N      int    `json:"n,omitempty"`
	Size   string `json:"size,omitempty"`
	Style  string `json:"style,omitempty"`
}

// SpeechRequest represents the body of POST /api/speech/generate.
type SpeechRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Format string `json:"format,omitempty"`
}

// Upstream converts the request to the provider request.
func (r TextRequest) Upstream() upstream.TextRequest {
	return upstream.TextRequest{Prompt: r.Prompt, Model: r.Model, MaxTokens: r.MaxTokens}
}

// Upstream converts the request to the provider request.
func (r ImageRequest) Upstream() upstream.ImageRequest {
	return upstream.ImageRequest{Prompt: r.Prompt, N: r.N, Size: r.Size, Style: r.Style}
}

// Upstream converts the request to the provider request.
func (r SpeechRequest) Upstream() upstream.SpeechRequest {
	return upstream.SpeechRequest{Text: r.Text, Voice: r.Voice, Format: r.Format}
}
