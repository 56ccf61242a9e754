package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fortec/gateway/internal/model"
	"github.com/fortec/gateway/internal/testutil"
)

// accountStore is the behaviour shared by Repository and Memory.
type accountStore interface {
	CreateAccount(ctx context.Context, acc *model.Account) error
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByKeyPrefix(ctx context.Context, prefix string) (*model.Account, error)
	UpdateAccountKey(ctx context.Context, id, currentPrefix, prefix, hash string, at time.Time) error
	IncrementUsage(ctx context.Context, id string, category model.Category, at time.Time) (*model.Account, error)
	DecrementUsage(ctx context.Context, id string, category model.Category, at time.Time) error
}

var (
	_ accountStore = (*Repository)(nil)
	_ accountStore = (*Memory)(nil)
)

// runStoreTests exercises a store implementation. newStore must return an
// empty store.
func runStoreTests(t *testing.T, newStore func(t *testing.T) accountStore) {
	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := testutil.NewTestAccount(t)

		if err := s.CreateAccount(ctx, k.Account); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}

		for name, get := range map[string]func() (*model.Account, error){
			"by id":     func() (*model.Account, error) { return s.GetAccountByID(ctx, k.Account.ID) },
			"by email":  func() (*model.Account, error) { return s.GetAccountByEmail(ctx, k.Account.Email) },
			"by prefix": func() (*model.Account, error) { return s.GetAccountByKeyPrefix(ctx, k.Account.KeyPrefix) },
		} {
			got, err := get()
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if got.ID != k.Account.ID || got.KeyHash != k.Account.KeyHash || got.Tier != model.TierFree {
				t.Errorf("%s returned %+v", name, got)
			}
			if got.Limits != k.Account.Limits {
				t.Errorf("%s limits = %+v, want %+v", name, got.Limits, k.Account.Limits)
			}
		}
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.GetAccountByID(ctx, "missing"); !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("GetAccountByID error = %v, want ErrAccountNotFound", err)
		}
		if _, err := s.GetAccountByEmail(ctx, "nobody@example.com"); !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("GetAccountByEmail error = %v, want ErrAccountNotFound", err)
		}
		if _, err := s.GetAccountByKeyPrefix(ctx, "00000000"); !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("GetAccountByKeyPrefix error = %v, want ErrAccountNotFound", err)
		}
	})

	t.Run("duplicate email leaves existing account unchanged", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := testutil.NewTestAccount(t)
		if err := s.CreateAccount(ctx, first.Account); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}

		second := testutil.NewTestAccount(t)
		second.Account.Email = first.Account.Email
		second.Account.Name = "Impostor"
		if err := s.CreateAccount(ctx, second.Account); !errors.Is(err, ErrEmailExists) {
			t.Fatalf("CreateAccount duplicate error = %v, want ErrEmailExists", err)
		}

		got, err := s.GetAccountByEmail(ctx, first.Account.Email)
		if err != nil {
			t.Fatalf("GetAccountByEmail: %v", err)
		}
		if got.ID != first.Account.ID || got.Name != first.Account.Name || got.KeyHash != first.Account.KeyHash {
			t.Errorf("existing account changed: %+v", got)
		}
	})

	t.Run("update key swaps prefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := testutil.NewTestAccount(t)
		if err := s.CreateAccount(ctx, k.Account); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}

		next := testutil.NewTestAccount(t)
		if err := s.UpdateAccountKey(ctx, k.Account.ID, k.Account.KeyPrefix, next.Account.KeyPrefix, next.Account.KeyHash, time.Now().UTC()); err != nil {
			t.Fatalf("UpdateAccountKey: %v", err)
		}

		if _, err := s.GetAccountByKeyPrefix(ctx, k.Account.KeyPrefix); !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("old prefix still resolves: %v", err)
		}
		got, err := s.GetAccountByKeyPrefix(ctx, next.Account.KeyPrefix)
		if err != nil {
			t.Fatalf("new prefix: %v", err)
		}
		if got.ID != k.Account.ID || got.KeyHash != next.Account.KeyHash {
			t.Errorf("new prefix resolved %+v", got)
		}

		if err := s.UpdateAccountKey(ctx, "missing", "00000000", "ffffffff", "h", time.Now()); !errors.Is(err, ErrAccountNotFound) {
			t.Errorf("UpdateAccountKey missing error = %v", err)
		}
	})

	t.Run("update key from a superseded prefix", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := testutil.NewTestAccount(t)
		if err := s.CreateAccount(ctx, k.Account); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}

		second := testutil.NewTestAccount(t)
		if err := s.UpdateAccountKey(ctx, k.Account.ID, k.Account.KeyPrefix, second.Account.KeyPrefix, second.Account.KeyHash, time.Now().UTC()); err != nil {
			t.Fatalf("first UpdateAccountKey: %v", err)
		}

		third := testutil.NewTestAccount(t)
		err := s.UpdateAccountKey(ctx, k.Account.ID, k.Account.KeyPrefix, third.Account.KeyPrefix, third.Account.KeyHash, time.Now().UTC())
		if !errors.Is(err, ErrKeySuperseded) {
			t.Fatalf("stale UpdateAccountKey error = %v, want ErrKeySuperseded", err)
		}

		got, err := s.GetAccountByKeyPrefix(ctx, second.Account.KeyPrefix)
		if err != nil || got.KeyHash != second.Account.KeyHash {
			t.Errorf("second key no longer active: %+v, %v", got, err)
		}
	})

	t.Run("increment until limit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := testutil.NewTestAccountWithLimits(t, 3, 100)
		if err := s.CreateAccount(ctx, k.Account); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}

		at := time.Now().UTC().Truncate(time.Microsecond)
		cats := []model.Category{model.CategoryText, model.CategoryImage, model.CategoryText}
		for i, c := range cats {
			acc, err := s.IncrementUsage(ctx, k.Account.ID, c, at)
			if err != nil {
				t.Fatalf("IncrementUsage %d: %v", i, err)
			}
			if acc.Monthly.Count != int64(i+1) {
				t.Errorf("monthly count = %d, want %d", acc.Monthly.Count, i+1)
			}
		}

		if _, err := s.IncrementUsage(ctx, k.Account.ID, model.CategorySpeech, at); !errors.Is(err, ErrUsageLimitReached) {
			t.Fatalf("IncrementUsage past limit error = %v, want ErrUsageLimitReached", err)
		}

		got, err := s.GetAccountByID(ctx, k.Account.ID)
		if err != nil {
			t.Fatalf("GetAccountByID: %v", err)
		}
		if got.Usage.Text.Count != 2 || got.Usage.Image.Count != 1 || got.Usage.Speech.Count != 0 {
			t.Errorf("usage = %+v", got.Usage)
		}
		if got.Usage.Text.LastUsed == nil || !got.Usage.Text.LastUsed.Equal(at) {
			t.Errorf("text lastUsed = %v, want %v", got.Usage.Text.LastUsed, at)
		}
	})

	t.Run("previous day usage restarts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := testutil.NewTestAccountWithLimits(t, 1, 100)
		if err := s.CreateAccount(ctx, k.Account); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}

		yesterday := time.Date(2024, 3, 14, 23, 59, 0, 0, time.UTC)
		today := time.Date(2024, 3, 15, 0, 0, 30, 0, time.UTC)

		if _, err := s.IncrementUsage(ctx, k.Account.ID, model.CategoryText, yesterday); err != nil {
			t.Fatalf("IncrementUsage yesterday: %v", err)
		}
		acc, err := s.IncrementUsage(ctx, k.Account.ID, model.CategoryText, today)
		if err != nil {
			t.Fatalf("IncrementUsage today: %v", err)
		}
		if acc.Usage.Text.Count != 1 {
			t.Errorf("text count = %d, want 1 after day rollover", acc.Usage.Text.Count)
		}
	})

	t.Run("decrement reverts reservation", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		k := testutil.NewTestAccountWithLimits(t, 1, 100)
		if err := s.CreateAccount(ctx, k.Account); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}

		at := time.Now().UTC()
		if _, err := s.IncrementUsage(ctx, k.Account.ID, model.CategoryImage, at); err != nil {
			t.Fatalf("IncrementUsage: %v", err)
		}
		if err := s.DecrementUsage(ctx, k.Account.ID, model.CategoryImage, at); err != nil {
			t.Fatalf("DecrementUsage: %v", err)
		}

		got, err := s.GetAccountByID(ctx, k.Account.ID)
		if err != nil {
			t.Fatalf("GetAccountByID: %v", err)
		}
		if got.Usage.Image.Count != 0 || got.Monthly.Count != 0 {
			t.Errorf("after decrement usage = %+v monthly = %+v", got.Usage.Image, got.Monthly)
		}

		if _, err := s.IncrementUsage(ctx, k.Account.ID, model.CategoryImage, at); err != nil {
			t.Errorf("released slot should be usable again: %v", err)
		}
	})

	t.Run("concurrent increments never overshoot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const limit = 10
		k := testutil.NewTestAccountWithLimits(t, limit, 1000)
		if err := s.CreateAccount(ctx, k.Account); err != nil {
			t.Fatalf("CreateAccount: %v", err)
		}

		at := time.Now().UTC()
		var (
			wg       sync.WaitGroup
			admitted atomic.Int64
		)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c := model.Categories[i%len(model.Categories)]
				if _, err := s.IncrementUsage(ctx, k.Account.ID, c, at); err == nil {
					admitted.Add(1)
				} else if !errors.Is(err, ErrUsageLimitReached) {
					t.Errorf("IncrementUsage: %v", err)
				}
			}(i)
		}
		wg.Wait()

		if got := admitted.Load(); got != limit {
			t.Errorf("admitted = %d, want %d", got, limit)
		}
	})

	t.Run("unknown category", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.IncrementUsage(context.Background(), "any", model.Category("video"), time.Now()); !errors.Is(err, ErrUnknownCategory) {
			t.Errorf("error = %v, want ErrUnknownCategory", err)
		}
	})
}

func TestMemory(t *testing.T) {
	runStoreTests(t, func(*testing.T) accountStore { return NewMemory() })
}

func TestMemory_ReturnsCopies(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	k := testutil.NewTestAccount(t)
	if err := m.CreateAccount(ctx, k.Account); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}

	got, err := m.GetAccountByID(ctx, k.Account.ID)
	if err != nil {
		t.Fatalf("GetAccountByID: %v", err)
	}
	got.Usage.Text.Count = 99
	k.Account.Name = "mutated"

	again, err := m.GetAccountByID(ctx, k.Account.ID)
	if err != nil {
		t.Fatalf("GetAccountByID: %v", err)
	}
	if again.Usage.Text.Count != 0 || again.Name == "mutated" {
		t.Errorf("store shares memory with callers: %+v", again)
	}
}

func TestIncrementUsageQuery(t *testing.T) {
	q := incrementUsageQuery(model.CategorySpeech)
	for _, want := range []string{
		"speech_count = CASE WHEN speech_last_used >= $3",
		"speech_last_used = $2",
		"CASE WHEN text_last_used >= $3 THEN text_count ELSE 0 END",
		"CASE WHEN image_last_used >= $3 THEN image_count ELSE 0 END",
		") < daily_limit",
		"< monthly_limit",
		"RETURNING id, name",
	} {
		if !strings.Contains(q, want) {
			t.Errorf("query missing %q:\n%s", want, q)
		}
	}
	if strings.Contains(q, "text_last_used = $2") {
		t.Error("query must only stamp the requested category")
	}
}
