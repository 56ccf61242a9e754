package upstream

import "encoding/json"

// Request defaults applied when the caller leaves a field empty.
const (
	DefaultTextModel  = "mistralai/mixtral-8x7b-instruct-v0.1"
	DefaultMaxTokens  = 500
	DefaultImageCount = 1
	DefaultImageSize  = "1024x1024"
	DefaultImageStyle = "photographic"
	DefaultImageModel = "stable-diffusion"
	DefaultVoice      = "alloy"
	DefaultFormat     = "mp3"
)

// TextRequest is the body sent to the text endpoint.
type TextRequest struct {
	Prompt    string `json:"prompt"`
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
}

// WithDefaults fills empty fields.
func (r TextRequest) WithDefaults() TextRequest {
	if r.Model == "" {
		r.Model = DefaultTextModel
	}
	if r.MaxTokens <= 0 {
		r.MaxTokens = DefaultMaxTokens
	}
	return r
}

// TokenUsage reports token counts. Fields are null when the provider
// does not report usage.
type TokenUsage struct {
	Prompt     *int `json:"prompt"`
	Completion *int `json:"completion"`
	Total      *int `json:"total"`
}

// TextResult is the normalized text response.
type TextResult struct {
	Text   string     `json:"text"`
	Model  string     `json:"model"`
	Tokens TokenUsage `json:"tokens"`
}

// ImageRequest is the body sent to the image endpoint.
type ImageRequest struct {
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
	Style  string `json:"style"`
}

// WithDefaults fills empty fields.
func (r ImageRequest) WithDefaults() ImageRequest {
	if r.N <= 0 {
		r.N = DefaultImageCount
	}
	if r.Size == "" {
		r.Size = DefaultImageSize
	}
	if r.Style == "" {
		r.Style = DefaultImageStyle
	}
	return r
}

// ImageResult is the normalized image response. Images are passed
// through in whatever shape the provider uses.
type ImageResult struct {
	Images []json.RawMessage `json:"images"`
	Model  string            `json:"model"`
}

// SpeechRequest is the body sent to the speech endpoint.
type SpeechRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Format string `json:"format"`
}

// WithDefaults fills empty fields.
func (r SpeechRequest) WithDefaults() SpeechRequest {
	if r.Voice == "" {
		r.Voice = DefaultVoice
	}
	if r.Format == "" {
		r.Format = DefaultFormat
	}
	return r
}

// SpeechResult is the normalized speech response.
type SpeechResult struct {
	AudioURL string   `json:"audio_url"`
	Duration *float64 `json:"duration"`
	Voice    string   `json:"voice"`
	Format   string   `json:"format"`
}

// providerUsage accepts both short and OpenAI-style usage keys.
type providerUsage struct {
	Prompt           *int `json:"prompt"`
	Completion       *int `json:"completion"`
	Total            *int `json:"total"`
	PromptTokens     *int `json:"prompt_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	TotalTokens      *int `json:"total_tokens"`
}

func (u *providerUsage) normalize() TokenUsage {
	if u == nil {
		return TokenUsage{}
	}
	return TokenUsage{
		Prompt:     firstNonNil(u.Prompt, u.PromptTokens),
		Completion: firstNonNil(u.Completion, u.CompletionTokens),
		Total:      firstNonNil(u.Total, u.TotalTokens),
	}
}

func firstNonNil(vals ...*int) *int {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

type textResponse struct {
	Text  string         `json:"text"`
	Usage *providerUsage `json:"usage"`
}

type imageResponse struct {
	Images []json.RawMessage `json:"images"`
	Model  string            `json:"model"`
}

type speechResponse struct {
	AudioURL string   `json:"audio_url"`
	Duration *float64 `json:"duration"`
}

type errorResponse struct {
	Message string `json:"message"`
}
