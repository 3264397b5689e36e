// Package ledger is the boundary between transaction builders and whatever
// executes them: the local program runtime or a Solana cluster over
// JSON-RPC.
package ledger

import (
	"context"

	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
)

// Submitter accepts signed transactions.
type Submitter interface {
	RecentBlockhash(ctx context.Context) (solana.Hash, error)
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// SignAndSubmit builds a transaction paid by payer, signs it with payer and
// any extra signers, and submits it.
func SignAndSubmit(ctx context.Context, sub Submitter, payer solana.PrivateKey, instructions []solana.Instruction, extra ...solana.PrivateKey) (solana.Signature, error) {
	tx, err := Sign(ctx, sub, payer, instructions, extra...)
	if err != nil {
		return solana.Signature{}, err
	}
	return sub.Submit(ctx, tx)
}

// Sign builds and signs a transaction against a fresh blockhash from sub.
func Sign(ctx context.Context, sub Submitter, payer solana.PrivateKey, instructions []solana.Instruction, extra ...solana.PrivateKey) (*solana.Transaction, error) {
	if sub == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "ledger submitter is not configured")
	}
	hash, err := sub.RecentBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction(instructions, hash, solana.TransactionPayer(payer.PublicKey()))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidParameters, err, "build transaction")
	}
	keys := append([]solana.PrivateKey{payer}, extra...)
	_, err = tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(pub) {
				return &keys[i]
			}
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUnauthorized, err, "sign transaction")
	}
	return tx, nil
}
