package auth

import (
	"context"
	"testing"

	"github.com/fortec/gateway/internal/model"
)

func TestAccountContext(t *testing.T) {
	ctx := context.Background()
	if AccountFromContext(ctx) != nil {
		t.Fatal("empty context should have no account")
	}

	acc := &model.Account{ID: "acc_1"}
	ctx = ContextWithAccount(ctx, acc)
	if got := AccountFromContext(ctx); got != acc {
		t.Errorf("AccountFromContext = %v, want %v", got, acc)
	}
	if got := MustAccountFromContext(ctx); got.ID != "acc_1" {
		t.Errorf("MustAccountFromContext ID = %s", got.ID)
	}
}

func TestMustAccountFromContext_Panics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic without account")
		}
	}()
	MustAccountFromContext(context.Background())
}
