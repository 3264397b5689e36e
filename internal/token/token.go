// Package token implements SPL-style mints and token accounts on top of the
// account store. Every balance change refreshes the account's period
// checkpoint first, so balances at the end of the previous period remain
// recoverable for reward snapshots.
package token

import (
	"context"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/address"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/state"
	"XGrowth-Chain/internal/storage"
)

// InitMint creates a mint account.
func InitMint(ctx context.Context, tx storage.Tx, mint, authority solana.PublicKey, decimals uint8) error {
	return state.Create(ctx, tx, mint, &state.Mint{Authority: authority, Decimals: decimals})
}

// InitAccount creates an empty token account at addr. Vaults use program
// derived addresses; holders use associated token accounts.
func InitAccount(ctx context.Context, tx storage.Tx, addr, mint, owner solana.PublicKey) error {
	return state.Create(ctx, tx, addr, &state.TokenAccount{Mint: mint, Owner: owner})
}

// Account loads the token account at addr.
func Account(ctx context.Context, tx storage.Tx, addr solana.PublicKey) (*state.TokenAccount, error) {
	acct := new(state.TokenAccount)
	if err := state.Load(ctx, tx, addr, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Balance returns the balance of owner's associated account for mint. A
// missing account has a zero balance.
func Balance(ctx context.Context, tx storage.Tx, owner, mint solana.PublicKey) (uint64, error) {
	addr, err := address.TokenAccount(owner, mint)
	if err != nil {
		return 0, err
	}
	acct := new(state.TokenAccount)
	found, err := state.LoadOptional(ctx, tx, addr, acct)
	if err != nil || !found {
		return 0, err
	}
	return acct.Amount, nil
}

// BalanceAtEndOf returns owner's balance at the end of period.
func BalanceAtEndOf(ctx context.Context, tx storage.Tx, owner, mint solana.PublicKey, period int64) (uint64, error) {
	addr, err := address.TokenAccount(owner, mint)
	if err != nil {
		return 0, err
	}
	acct := new(state.TokenAccount)
	found, err := state.LoadOptional(ctx, tx, addr, acct)
	if err != nil || !found {
		return 0, err
	}
	v, ok := acct.Checkpoint.ValueAtEndOf(period, acct.Amount)
	if !ok {
		return 0, xerrors.New(xerrors.CodeInvalidParameters, "balance snapshot no longer available",
			xerrors.WithInt(xerrors.MetaPeriod, period))
	}
	return v, nil
}

// Credit adds amount to the account at addr, creating it when missing.
func Credit(ctx context.Context, tx storage.Tx, addr, mint, owner solana.PublicKey, amount uint64, period int64) (*state.TokenAccount, error) {
	acct := new(state.TokenAccount)
	found, err := state.LoadOptional(ctx, tx, addr, acct)
	if err != nil {
		return nil, err
	}
	if !found {
		acct = &state.TokenAccount{Mint: mint, Owner: owner}
	} else if !acct.Mint.Equals(mint) {
		return nil, mintMismatch(addr, mint)
	}
	acct.Checkpoint.Touch(period, acct.Amount)
	sum, overflow := math.SafeAdd(acct.Amount, amount)
	if overflow {
		return nil, xerrors.New(xerrors.CodeArithmeticOverflow, "token balance overflow",
			xerrors.WithMetadata(xerrors.MetaAddress, addr.String()))
	}
	acct.Amount = sum
	if err := state.Save(ctx, tx, addr, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Debit removes amount from the account at addr.
func Debit(ctx context.Context, tx storage.Tx, addr, mint solana.PublicKey, amount uint64, period int64) (*state.TokenAccount, error) {
	acct := new(state.TokenAccount)
	found, err := state.LoadOptional(ctx, tx, addr, acct)
	if err != nil {
		return nil, err
	}
	if !found {
		acct = &state.TokenAccount{Mint: mint}
	} else if !acct.Mint.Equals(mint) {
		return nil, mintMismatch(addr, mint)
	}
	diff, underflow := math.SafeSub(acct.Amount, amount)
	if underflow {
		return nil, xerrors.New(xerrors.CodeInsufficientFunds, "token balance too low",
			xerrors.WithMetadata(xerrors.MetaAddress, addr.String()),
			xerrors.WithUint(xerrors.MetaRequired, amount),
			xerrors.WithUint(xerrors.MetaAvailable, acct.Amount))
	}
	if amount == 0 {
		return acct, nil
	}
	acct.Checkpoint.Touch(period, acct.Amount)
	acct.Amount = diff
	if err := state.Save(ctx, tx, addr, acct); err != nil {
		return nil, err
	}
	return acct, nil
}

// Transfer moves amount between two accounts of the same mint.
func Transfer(ctx context.Context, tx storage.Tx, from, to, mint, toOwner solana.PublicKey, amount uint64, period int64) error {
	if from.Equals(to) {
		return xerrors.New(xerrors.CodeInvalidParameters, "source and destination are the same account")
	}
	if _, err := Debit(ctx, tx, from, mint, amount, period); err != nil {
		return err
	}
	_, err := Credit(ctx, tx, to, mint, toOwner, amount, period)
	return err
}

// MintTo issues amount new tokens into owner's associated account.
func MintTo(ctx context.Context, tx storage.Tx, mint, owner solana.PublicKey, amount uint64, period int64) (*state.Mint, error) {
	m := new(state.Mint)
	if err := state.Load(ctx, tx, mint, m); err != nil {
		return nil, err
	}
	supply, overflow := math.SafeAdd(m.Supply, amount)
	if overflow {
		return nil, xerrors.New(xerrors.CodeArithmeticOverflow, "mint supply overflow",
			xerrors.WithMetadata(xerrors.MetaAddress, mint.String()))
	}
	dest, err := address.TokenAccount(owner, mint)
	if err != nil {
		return nil, err
	}
	if _, err := Credit(ctx, tx, dest, mint, owner, amount, period); err != nil {
		return nil, err
	}
	m.Supply = supply
	if err := state.Save(ctx, tx, mint, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Burn destroys amount tokens from owner's associated account.
func Burn(ctx context.Context, tx storage.Tx, mint, owner solana.PublicKey, amount uint64, period int64) (*state.Mint, error) {
	m := new(state.Mint)
	if err := state.Load(ctx, tx, mint, m); err != nil {
		return nil, err
	}
	src, err := address.TokenAccount(owner, mint)
	if err != nil {
		return nil, err
	}
	if _, err := Debit(ctx, tx, src, mint, amount, period); err != nil {
		return nil, err
	}
	supply, underflow := math.SafeSub(m.Supply, amount)
	if underflow {
		return nil, xerrors.New(xerrors.CodeArithmeticOverflow, "mint supply underflow",
			xerrors.WithMetadata(xerrors.MetaAddress, mint.String()))
	}
	m.Supply = supply
	if err := state.Save(ctx, tx, mint, m); err != nil {
		return nil, err
	}
	return m, nil
}

func mintMismatch(addr, mint solana.PublicKey) error {
	return xerrors.New(xerrors.CodeInvalidParameters, "token account belongs to a different mint",
		xerrors.WithMetadata(xerrors.MetaAddress, addr.String()),
		xerrors.WithMetadata("mint", mint.String()))
}
