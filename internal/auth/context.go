package auth

import (
	"context"

	"github.com/fortec/gateway/internal/model"
)

type contextKey string

const accountContextKey contextKey = "account"

// ContextWithAccount attaches the authenticated account to ctx.
func ContextWithAccount(ctx context.Context, acc *model.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, acc)
}

// AccountFromContext returns the authenticated account, or nil.
func AccountFromContext(ctx context.Context) *model.Account {
	acc, _ := ctx.Value(accountContextKey).(*model.Account)
	return acc
}

// MustAccountFromContext panics when the auth middleware has not run.
func MustAccountFromContext(ctx context.Context) *model.Account {
	acc := AccountFromContext(ctx)
	if acc == nil {
		panic("account not found in context - ensure auth middleware is applied")
	}
	return acc
}
