// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/events"
	"github.com/fortec/gateway/internal/metrics"
	"github.com/fortec/gateway/internal/model"
	"github.com/fortec/gateway/internal/upstream"
)

// UsageLedger reserves and releases quota. identity.Service implements it.
type UsageLedger interface {
	RecordUsage(ctx context.Context, acc *model.Account, category model.Category) (*model.Account, time.Time, error)
	ReleaseUsage(ctx context.Context, acc *model.Account, category model.Category, at time.Time) error
}

// Provider performs the generation. upstream.Client implements it.
type Provider interface {
	GenerateText(ctx context.Context, req upstream.TextRequest) (*upstream.TextResult, error)
	GenerateImage(ctx context.Context, req upstream.ImageRequest) (*upstream.ImageResult, error)
	GenerateSpeech(ctx context.Context, req upstream.SpeechRequest) (*upstream.SpeechResult, error)
}

// GenerationService forwards generation requests upstream and charges the
// account only for requests the provider completed.
type GenerationService struct {
	usage    UsageLedger
	provider Provider
	events   events.Publisher
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewGenerationService creates a new GenerationService.
func NewGenerationService(usage UsageLedger, provider Provider, publisher events.Publisher, recorder metrics.Recorder, logger *slog.Logger) *GenerationService {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationService{
		usage:    usage,
		provider: provider,
		events:   publisher,
		metrics:  recorder,
		logger:   logger.With("component", "generation"),
		now:      time.Now,
	}
}

// GenerateText produces text for req.Prompt.
func (s *GenerationService) GenerateText(ctx context.Context, acc *model.Account, req upstream.TextRequest) (*upstream.TextResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperr.Validation("prompt", "Prompt is required")
	}
	return charge(ctx, s, acc, model.CategoryText, func(ctx context.Context) (*upstream.TextResult, string, error) {
		res, err := s.provider.GenerateText(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return res, res.Model, nil
	})
}

// GenerateImage produces images for req.Prompt.
func (s *GenerationService) GenerateImage(ctx context.Context, acc *model.Account, req upstream.ImageRequest) (*upstream.ImageResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperr.Validation("prompt", "Prompt is required")
	}
	return charge(ctx, s, acc, model.CategoryImage, func(ctx context.Context) (*upstream.ImageResult, string, error) {
		res, err := s.provider.GenerateImage(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return res, res.Model, nil
	})
}

// GenerateSpeech synthesizes req.Text.
func (s *GenerationService) GenerateSpeech(ctx context.Context, acc *model.Account, req upstream.SpeechRequest) (*upstream.SpeechResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, apperr.Validation("text", "Text is required")
	}
	return charge(ctx, s, acc, model.CategorySpeech, func(ctx context.Context) (*upstream.SpeechResult, string, error) {
		res, err := s.provider.GenerateSpeech(ctx, req)
		if err != nil {
			return nil, "", err
		}
		return res, "", nil
	})
}

// charge reserves one use of category, runs call and releases the
// reservation if call fails. A failed call leaves usage as it was.
func charge[T any](ctx context.Context, s *GenerationService, acc *model.Account, category model.Category, call func(context.Context) (T, string, error)) (T, error) {
	var zero T

	_, at, err := s.usage.RecordUsage(ctx, acc, category)
	if err != nil {
		var qe *apperr.QuotaError
		if errors.As(err, &qe) {
			s.metrics.IncQuotaRejection(qe.Period)
			s.metrics.IncGeneration(string(category), metrics.OutcomeQuota)
		} else {
			s.metrics.IncGeneration(string(category), metrics.OutcomeError)
		}
		return zero, err
	}

	start := s.now()
	res, modelName, err := call(ctx)
	elapsed := s.now().Sub(start)
	s.metrics.ObserveUpstreamDuration(string(category), elapsed)

	if err != nil {
		s.release(ctx, acc, category, at)
		outcome := metrics.OutcomeError
		if errors.Is(err, apperr.ErrUpstream) {
			outcome = metrics.OutcomeUpstream
		}
		s.finish(acc, category, outcome, modelName, elapsed)
		return zero, fmt.Errorf("generate %s: %w", category, err)
	}

	s.finish(acc, category, metrics.OutcomeSuccess, modelName, elapsed)
	return res, nil
}

// release undoes a reservation. It runs even if the request was
// cancelled, otherwise the account would pay for a failed call.
func (s *GenerationService) release(ctx context.Context, acc *model.Account, category model.Category, at time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.usage.ReleaseUsage(ctx, acc, category, at); err != nil {
		s.logger.Error("failed to release usage",
			slog.String("account_id", acc.ID),
			slog.String("category", string(category)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.metrics.IncUsageRelease(string(category))
}

func (s *GenerationService) finish(acc *model.Account, category model.Category, outcome, modelName string, elapsed time.Duration) {
	s.metrics.IncGeneration(string(category), outcome)
	s.events.PublishAsync(events.UsageEvent{
		AccountID:  acc.ID,
		Category:   string(category),
		Outcome:    outcome,
		Model:      modelName,
		DurationMs: elapsed.Milliseconds(),
		At:         s.now().UnixMilli(),
	})
}
