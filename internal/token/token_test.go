package token

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/storage"
)

func TestMintTransferBurn(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	mint := solana.NewWallet().PublicKey()
	alice := solana.NewWallet().PublicKey()
	bob := solana.NewWallet().PublicKey()

	err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := InitMint(ctx, tx, mint, mint, 9); err != nil {
			return err
		}
		if _, err := MintTo(ctx, tx, mint, alice, 1_000, 100); err != nil {
			return err
		}
		aliceAcct, _ := ata(t, alice, mint)
		bobAcct, _ := ata(t, bob, mint)
		if err := Transfer(ctx, tx, aliceAcct, bobAcct, mint, bob, 400, 100); err != nil {
			return err
		}
		if err := Transfer(ctx, tx, aliceAcct, bobAcct, mint, bob, 601, 100); !stdErrors.Is(err, xerrors.ErrInsufficientFunds) {
			t.Fatalf("expected INSUFFICIENT_FUNDS, got %v", err)
		}
		m, err := Burn(ctx, tx, mint, bob, 100, 100)
		if err != nil {
			return err
		}
		if m.Supply != 900 {
			t.Fatalf("supply = %d, want 900", m.Supply)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	_ = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		a, _ := Balance(ctx, tx, alice, mint)
		b, _ := Balance(ctx, tx, bob, mint)
		if a != 600 || b != 300 {
			t.Fatalf("balances alice=%d bob=%d, want 600/300", a, b)
		}
		none, err := Balance(ctx, tx, solana.NewWallet().PublicKey(), mint)
		if err != nil || none != 0 {
			t.Fatalf("missing account must read as zero, got %d %v", none, err)
		}
		return nil
	})
}

func TestBalanceAtEndOfPeriod(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	mint := solana.NewWallet().PublicKey()
	holder := solana.NewWallet().PublicKey()

	step := func(period int64, amount uint64) {
		t.Helper()
		if err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
			_, err := MintTo(ctx, tx, mint, holder, amount, period)
			return err
		}); err != nil {
			t.Fatalf("mint at %d: %v", period, err)
		}
	}
	if err := store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		return InitMint(ctx, tx, mint, mint, 9)
	}); err != nil {
		t.Fatalf("init mint: %v", err)
	}

	step(10, 100)
	step(11, 50)
	step(11, 25)

	_ = store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		v, err := BalanceAtEndOf(ctx, tx, holder, mint, 10)
		if err != nil || v != 100 {
			t.Fatalf("end of day 10 = %d (%v), want 100", v, err)
		}
		v, err = BalanceAtEndOf(ctx, tx, holder, mint, 11)
		if err != nil || v != 175 {
			t.Fatalf("end of day 11 = %d (%v), want 175", v, err)
		}
		return nil
	})
}

func ata(t *testing.T, owner, mint solana.PublicKey) (solana.PublicKey, error) {
	t.Helper()
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		t.Fatalf("associated address: %v", err)
	}
	return addr, nil
}
