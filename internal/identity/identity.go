// Package identity registers accounts and resolves API keys to them.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/fortec/gateway/internal/apperr"
	"github.com/fortec/gateway/internal/auth"
	"github.com/fortec/gateway/internal/cache"
	"github.com/fortec/gateway/internal/metrics"
	"github.com/fortec/gateway/internal/model"
	"github.com/fortec/gateway/internal/quota"
	"github.com/fortec/gateway/internal/repository"
)

const maxKeyRetries = 3

// verifyTimeout bounds a shared key verification, which runs detached from
// any single caller's context.
const verifyTimeout = 5 * time.Second

// Store persists accounts. repository.Repository and repository.Memory
// implement it.
type Store interface {
	CreateAccount(ctx context.Context, acc *model.Account) error
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByKeyPrefix(ctx context.Context, prefix string) (*model.Account, error)
	UpdateAccountKey(ctx context.Context, id, currentPrefix, prefix, hash string, at time.Time) error
	IncrementUsage(ctx context.Context, id string, category model.Category, at time.Time) (*model.Account, error)
	DecrementUsage(ctx context.Context, id string, category model.Category, at time.Time) error
	Ping(ctx context.Context) error
}

// KeyCache remembers which account a verified key belongs to, so repeat
// requests skip the argon2 verification. cache.Cache implements it.
type KeyCache interface {
	GetKey(ctx context.Context, cacheKey string) (*cache.CachedKey, error)
	SetKey(ctx context.Context, cacheKey string, entry cache.CachedKey) error
	DeleteKey(ctx context.Context, cacheKey string) error
}

// Config wires a Service.
type Config struct {
	Store     Store
	Cache     KeyCache // optional
	Generator *auth.KeyGenerator
	Clock     func() time.Time
	Logger    *slog.Logger
	Metrics   metrics.Recorder
}

// Service implements account registration, key resolution and usage
// accounting on top of a Store.
type Service struct {
	store     Store
	cache     KeyCache
	generator *auth.KeyGenerator
	now       func() time.Time
	logger    *slog.Logger
	metrics   metrics.Recorder
	lookups   singleflight.Group
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	if cfg.Generator == nil {
		cfg.Generator = auth.NewKeyGenerator(auth.EnvLive, nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	return &Service{
		store:     cfg.Store,
		cache:     cfg.Cache,
		generator: cfg.Generator,
		now:       cfg.Clock,
		logger:    cfg.Logger.With("component", "identity"),
		metrics:   cfg.Metrics,
	}
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RegisterInput defines input for Register.
type RegisterInput struct {
	Name  string
	Email string
	Tier  model.Tier // defaults to free
}

// Register creates an account and returns it together with the plaintext
// API key, which is not recoverable afterwards.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Account, string, error) {
	name := strings.TrimSpace(in.Name)
	email := NormalizeEmail(in.Email)
	if err := validateRegistration(name, email); err != nil {
		return nil, "", err
	}

	tier := in.Tier
	if tier == "" {
		tier = model.TierFree
	}
	if !tier.Valid() {
		return nil, "", apperr.Validation("tier", "Unknown tier")
	}

	now := s.now().UTC()
	acc := &model.Account{
		ID:        ulid.Make().String(),
		Name:      name,
		Email:     email,
		Tier:      tier,
		Limits:    model.LimitsFor(tier),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for attempt := 0; attempt < maxKeyRetries; attempt++ {
		key, err := s.generator.Generate()
		if err != nil {
			return nil, "", fmt.Errorf("generate key: %w", err)
		}
		acc.KeyPrefix = key.Prefix
		acc.KeyHash = key.Hash

		err = s.store.CreateAccount(ctx, acc)
		switch {
		case err == nil:
			s.metrics.IncRegistration()
			s.logger.Info("account registered",
				slog.String("account_id", acc.ID),
				slog.String("tier", string(acc.Tier)),
			)
			return acc, key.Plaintext, nil
		case errors.Is(err, repository.ErrEmailExists):
			return nil, "", fmt.Errorf("register %s: %w", email, apperr.ErrDuplicateKey)
		case errors.Is(err, repository.ErrKeyPrefixExists):
			continue
		default:
			return nil, "", storeError("create account", err)
		}
	}
	return nil, "", fmt.Errorf("register: no free key prefix after %d attempts", maxKeyRetries)
}

// FindByEmail returns the account registered with email.
func (s *Service) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	acc, err := s.store.GetAccountByEmail(ctx, NormalizeEmail(email))
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, storeError("get account by email", err)
	}
	return acc, nil
}

// FindByAPIKey returns the account whose active key is key. Unknown,
// malformed and superseded keys fail with apperr.ErrInvalidCredential.
func (s *Service) FindByAPIKey(ctx context.Context, key string) (*model.Account, error) {
	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed key", apperr.ErrInvalidCredential)
	}

	cacheKey := auth.QuickHash(key)
	if acc := s.fromCache(ctx, cacheKey); acc != nil {
		return acc, nil
	}

	// Concurrent first requests with the same key share one verification.
	// It must outlive any one caller, so each caller waits on its own ctx.
	ch := s.lookups.DoChan(cacheKey, func() (any, error) {
		vctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), verifyTimeout)
		defer cancel()
		return s.verify(vctx, parsed.Prefix, key, cacheKey)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.Account).Clone(), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("find by api key: %w", ctx.Err())
	}
}

func (s *Service) verify(ctx context.Context, prefix, key, cacheKey string) (*model.Account, error) {
	acc, err := s.store.GetAccountByKeyPrefix(ctx, prefix)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: unknown key", apperr.ErrInvalidCredential)
	}
	if err != nil {
		return nil, storeError("get account by key prefix", err)
	}

	ok, err := s.generator.Hasher.Verify(key, acc.KeyHash)
	if err != nil {
		s.logger.Error("stored key hash unreadable",
			slog.String("account_id", acc.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: unreadable hash", apperr.ErrInvalidCredential)
	}
	if !ok {
		return nil, fmt.Errorf("%w: key mismatch", apperr.ErrInvalidCredential)
	}

	if s.cache != nil {
		entry := cache.CachedKey{AccountID: acc.ID, KeyHash: acc.KeyHash}
		if err := s.cache.SetKey(ctx, cacheKey, entry); err != nil {
			s.logger.Warn("failed to cache key", slog.String("error", err.Error()))
		}
	}
	return acc, nil
}

// fromCache returns the cached account, or nil on a miss. An entry whose
// hash no longer matches the account's active key is stale and removed.
func (s *Service) fromCache(ctx context.Context, cacheKey string) *model.Account {
	if s.cache == nil {
		return nil
	}

	entry, err := s.cache.GetKey(ctx, cacheKey)
	if err != nil {
		s.logger.Warn("key cache unavailable", slog.String("error", err.Error()))
		return nil
	}
	if entry == nil {
		s.metrics.IncKeyCacheLookup(false)
		return nil
	}

	acc, err := s.store.GetAccountByID(ctx, entry.AccountID)
	if err != nil || acc.KeyHash != entry.KeyHash {
		_ = s.cache.DeleteKey(ctx, cacheKey)
		s.metrics.IncKeyCacheLookup(false)
		return nil
	}
	s.metrics.IncKeyCacheLookup(true)
	return acc
}

// RotateAPIKey replaces the account's key and returns the new plaintext.
// The previous key stops resolving immediately. acc must be the account as
// resolved from the key being replaced: if that key was rotated meanwhile,
// the call fails with apperr.ErrInvalidCredential.
func (s *Service) RotateAPIKey(ctx context.Context, acc *model.Account, currentKey string) (string, error) {
	for attempt := 0; attempt < maxKeyRetries; attempt++ {
		key, err := s.generator.Generate()
		if err != nil {
			return "", fmt.Errorf("generate key: %w", err)
		}

		err = s.store.UpdateAccountKey(ctx, acc.ID, acc.KeyPrefix, key.Prefix, key.Hash, s.now().UTC())
		switch {
		case err == nil:
			if s.cache != nil && currentKey != "" {
				_ = s.cache.DeleteKey(ctx, auth.QuickHash(currentKey))
			}
			s.metrics.IncKeyRotation()
			s.logger.Info("api key rotated", slog.String("account_id", acc.ID))
			return key.Plaintext, nil
		case errors.Is(err, repository.ErrKeyPrefixExists):
			continue
		case errors.Is(err, repository.ErrAccountNotFound), errors.Is(err, repository.ErrKeySuperseded):
			return "", fmt.Errorf("rotate key: %w", apperr.ErrInvalidCredential)
		default:
			return "", storeError("update account key", err)
		}
	}
	return "", fmt.Errorf("rotate key: no free key prefix after %d attempts", maxKeyRetries)
}

// RecordUsage checks the account's quota and records one use of category
// in a single atomic step. It returns the updated account and the time the
// use was recorded at, which ReleaseUsage needs to undo it.
func (s *Service) RecordUsage(ctx context.Context, acc *model.Account, category model.Category) (*model.Account, time.Time, error) {
	at := s.now().UTC()

	updated, err := s.store.IncrementUsage(ctx, acc.ID, category, at)
	switch {
	case err == nil:
		return updated, at, nil
	case errors.Is(err, repository.ErrUsageLimitReached):
		return nil, at, s.quotaError(ctx, acc, at)
	case errors.Is(err, repository.ErrAccountNotFound):
		return nil, at, fmt.Errorf("record usage: %w", apperr.ErrInvalidCredential)
	case errors.Is(err, repository.ErrUnknownCategory):
		return nil, at, fmt.Errorf("record usage: %w", err)
	default:
		return nil, at, storeError("increment usage", err)
	}
}

// quotaError explains which window is exhausted.
func (s *Service) quotaError(ctx context.Context, acc *model.Account, at time.Time) error {
	if current, err := s.store.GetAccountByID(ctx, acc.ID); err == nil {
		acc = current
	}
	if err := quota.Check(acc, at); err != nil {
		return err
	}
	return &apperr.QuotaError{
		Period:  quota.PeriodDaily,
		Limit:   acc.Limits.Daily,
		ResetAt: quota.DayStart(at).AddDate(0, 0, 1),
	}
}

// ReleaseUsage undoes a use recorded by RecordUsage at time at.
func (s *Service) ReleaseUsage(ctx context.Context, acc *model.Account, category model.Category, at time.Time) error {
	if err := s.store.DecrementUsage(ctx, acc.ID, category, at); err != nil {
		return storeError("decrement usage", err)
	}
	return nil
}

func storeError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, apperr.ErrStoreUnavailable, err)
}
