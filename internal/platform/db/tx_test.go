package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil transaction, got %v", tx)
	}
}

func TestWithTx_JoinsOuterTransaction(t *testing.T) {
	// A context that already carries a transaction must not touch the pool,
	// so a nil pool is safe here.
	var outer fakeTx
	ctx := context.WithValue(context.Background(), txKey, &outer)

	called := false
	err := WithTx(ctx, nil, func(inner context.Context) error {
		called = true
		if TxFromContext(inner) != &outer {
			t.Error("expected the outer transaction to be reused")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
}

func TestWithTx_PropagatesError(t *testing.T) {
	var outer fakeTx
	ctx := context.WithValue(context.Background(), txKey, &outer)
	want := errors.New("boom")

	if err := WithTx(ctx, nil, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}

// fakeTx satisfies pgx.Tx; none of its methods are expected to be called.
type fakeTx struct {
	pgx.Tx
}
