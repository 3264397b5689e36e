package storage

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestMemoryStoreRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	addr := solana.NewWallet().PublicKey()

	if err := store.Update(ctx, func(ctx context.Context, tx Tx) error {
		return tx.Put(ctx, addr, "Agent", []byte{1})
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := stdErrors.New("boom")
	err := store.Update(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Put(ctx, addr, "Agent", []byte{2}); err != nil {
			return err
		}
		got, err := tx.Get(ctx, addr)
		if err != nil {
			return err
		}
		if got[0] != 2 {
			t.Fatalf("writes must be visible inside the transaction")
		}
		return boom
	})
	if !stdErrors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	_ = store.View(ctx, func(ctx context.Context, tx Tx) error {
		got, err := tx.Get(ctx, addr)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got[0] != 1 {
			t.Fatalf("rolled back write leaked: %v", got)
		}
		return nil
	})
}

func TestMemoryStoreScanAndReadOnly(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a, b := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()

	err := store.Update(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Put(ctx, a, "Agent", []byte("a")); err != nil {
			return err
		}
		if err := tx.Put(ctx, b, "Mint", []byte("b")); err != nil {
			return err
		}
		recs, err := tx.Scan(ctx, "Agent")
		if err != nil {
			return err
		}
		if len(recs) != 1 || !recs[0].Address.Equals(a) {
			t.Fatalf("scan inside tx: %+v", recs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Get(ctx, solana.NewWallet().PublicKey()); !stdErrors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		return tx.Put(ctx, a, "Agent", nil)
	})
	if !stdErrors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("unexpected account count %d", store.Len())
	}
}
