package handler

import (
	"context"
	"net/http"

	"github.com/fortec/gateway/internal/auth"
	"github.com/fortec/gateway/internal/handler/dto"
	"github.com/fortec/gateway/internal/model"
	"github.com/fortec/gateway/internal/upstream"
)

// Generator runs generations on behalf of an account.
// service.GenerationService implements it.
type Generator interface {
	GenerateText(ctx context.Context, acc *model.Account, req upstream.TextRequest) (*upstream.TextResult, error)
	GenerateImage(ctx context.Context, acc *model.Account, req upstream.ImageRequest) (*upstream.ImageResult, error)
	GenerateSpeech(ctx context.Context, acc *model.Account, req upstream.SpeechRequest) (*upstream.SpeechResult, error)
}

// GenerateHandler handles the /api/*/generate endpoints.
type GenerateHandler struct {
	*Handler
	generator Generator
}

// NewGenerateHandler creates a new GenerateHandler.
func NewGenerateHandler(h *Handler, generator Generator) *GenerateHandler {
	return &GenerateHandler{Handler: h, generator: generator}
}

// Text handles POST /api/text/generate.
func (h *GenerateHandler) Text(w http.ResponseWriter, r *http.Request) {
	var req dto.TextRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.generator.GenerateText(r.Context(), auth.MustAccountFromContext(r.Context()), req.Upstream())
	h.respond(w, r, res, err)
}

// Image handles POST /api/image/generate.
func (h *GenerateHandler) Image(w http.ResponseWriter, r *http.Request) {
	var req dto.ImageRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.generator.GenerateImage(r.Context(), auth.MustAccountFromContext(r.Context()), req.Upstream())
	h.respond(w, r, res, err)
}

// Speech handles POST /api/speech/generate.
func (h *GenerateHandler) Speech(w http.ResponseWriter, r *http.Request) {
	var req dto.SpeechRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.generator.GenerateSpeech(r.Context(), auth.MustAccountFromContext(r.Context()), req.Upstream())
	h.respond(w, r, res, err)
}

func (h *GenerateHandler) respond(w http.ResponseWriter, r *http.Request, res any, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.OK(res))
}
