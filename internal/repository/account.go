package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fortec/gateway/internal/model"
	"github.com/fortec/gateway/internal/quota"
)

const accountColumns = `id, name, email, key_prefix, key_hash, tier, daily_limit, monthly_limit,
	text_count, text_last_used, image_count, image_last_used, speech_count, speech_last_used,
	month_count, month_start, created_at, updated_at`

// CreateAccount inserts a new account.
func (r *Repository) CreateAccount(ctx context.Context, acc *model.Account) error {
	query := `
		INSERT INTO accounts (id, name, email, key_prefix, key_hash, tier, daily_limit, monthly_limit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		acc.ID,
		acc.Name,
		acc.Email,
		acc.KeyPrefix,
		acc.KeyHash,
		string(acc.Tier),
		acc.Limits.Daily,
		acc.Limits.Monthly,
		acc.CreatedAt,
		acc.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("create account", err)
	}
	return nil
}

// GetAccountByID retrieves an account by ID.
func (r *Repository) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, id))
}

// GetAccountByEmail retrieves an account by its normalized email.
func (r *Repository) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, email))
}

// GetAccountByKeyPrefix retrieves the account whose active key has prefix.
func (r *Repository) GetAccountByKeyPrefix(ctx context.Context, prefix string) (*model.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE key_prefix = $1`
	return scanAccount(r.pool.QueryRow(ctx, query, prefix))
}

// UpdateAccountKey replaces the active key in a single statement, so the
// old key stops resolving the moment the new one starts. The swap only
// happens while currentPrefix is still the active prefix; otherwise it
// fails with ErrKeySuperseded.
func (r *Repository) UpdateAccountKey(ctx context.Context, id, currentPrefix, prefix, hash string, at time.Time) error {
	query := `
		UPDATE accounts
		SET key_prefix = $3, key_hash = $4, updated_at = $5
		WHERE id = $1 AND key_prefix = $2
	`

	tag, err := r.pool.Exec(ctx, query, id, currentPrefix, prefix, hash, at)
	if err != nil {
		return mapWriteError("update account key", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetAccountByID(ctx, id); err != nil {
			return err
		}
		return ErrKeySuperseded
	}
	return nil
}

// IncrementUsage records one use of category at time at, provided the
// account is still under both its daily and monthly limits. The check and
// the increment are one statement, so concurrent requests cannot overshoot.
func (r *Repository) IncrementUsage(ctx context.Context, id string, category model.Category, at time.Time) (*model.Account, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	at = at.UTC()
	query := incrementUsageQuery(category)

	acc, err := scanAccount(r.pool.QueryRow(ctx, query, id, at, quota.DayStart(at), quota.MonthStart(at)))
	if !errors.Is(err, ErrAccountNotFound) {
		return acc, err
	}

	// No row: either the account is gone or it is over a limit.
	if _, err := r.GetAccountByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrUsageLimitReached
}

// DecrementUsage reverts a use of category recorded at time at. Counters
// that have since rolled into a new day or month are left alone.
func (r *Repository) DecrementUsage(ctx context.Context, id string, category model.Category, at time.Time) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}

	at = at.UTC()
	dayStart := quota.DayStart(at)
	c := string(category)
	query := fmt.Sprintf(`
		UPDATE accounts SET
			%[1]s_count = CASE
				WHEN %[1]s_last_used >= $2 AND %[1]s_last_used < $3 AND %[1]s_count > 0 THEN %[1]s_count - 1
				ELSE %[1]s_count END,
			month_count = CASE
				WHEN month_start = $4 AND month_count > 0 THEN month_count - 1
				ELSE month_count END,
			updated_at = now()
		WHERE id = $1
	`, c)

	tag, err := r.pool.Exec(ctx, query, id, dayStart, dayStart.AddDate(0, 0, 1), quota.MonthStart(at))
	if err != nil {
		return fmt.Errorf("failed to decrement usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// incrementUsageQuery builds the conditional update for one category.
// $1 id, $2 at, $3 day start, $4 month start.
func incrementUsageQuery(category model.Category) string {
	var today []string
	for _, c := range model.Categories {
		today = append(today, fmt.Sprintf("CASE WHEN %[1]s_last_used >= $3 THEN %[1]s_count ELSE 0 END", c))
	}

	return fmt.Sprintf(`
		UPDATE accounts SET
			%[1]s_count = CASE WHEN %[1]s_last_used >= $3 THEN %[1]s_count + 1 ELSE 1 END,
			%[1]s_last_used = $2,
			month_count = CASE WHEN month_start >= $4 THEN month_count + 1 ELSE 1 END,
			month_start = CASE WHEN month_start >= $4 THEN month_start ELSE $4 END,
			updated_at = $2
		WHERE id = $1
			AND (%[2]s) < daily_limit
			AND (CASE WHEN month_start >= $4 THEN month_count ELSE 0 END) < monthly_limit
		RETURNING `+accountColumns,
		string(category),
		strings.Join(today, "\n\t\t\t\t+ "),
	)
}

// scanAccount scans a single account row.
func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		acc  model.Account
		tier string
	)

	err := row.Scan(
		&acc.ID,
		&acc.Name,
		&acc.Email,
		&acc.KeyPrefix,
		&acc.KeyHash,
		&tier,
		&acc.Limits.Daily,
		&acc.Limits.Monthly,
		&acc.Usage.Text.Count,
		&acc.Usage.Text.LastUsed,
		&acc.Usage.Image.Count,
		&acc.Usage.Image.LastUsed,
		&acc.Usage.Speech.Count,
		&acc.Usage.Speech.LastUsed,
		&acc.Monthly.Count,
		&acc.Monthly.PeriodStart,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	acc.Tier = model.Tier(tier)
	return &acc, nil
}

func mapWriteError(op string, err error) error {
	if constraint, ok := uniqueConstraint(err); ok {
		switch constraint {
		case "accounts_email_key":
			return ErrEmailExists
		case "accounts_key_prefix_key":
			return ErrKeyPrefixExists
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
