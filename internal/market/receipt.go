package market

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/state"
	"XGrowth-Chain/internal/storage"
)

func newTxRef() string {
	return uuid.NewString()
}

// replay 查找 (signer, ref) 对应的回执。找到时返回先前的成交结果。
func (e *Executor) replay(ctx context.Context, tx storage.Tx, side Side, agentID string, signer solana.PublicKey, ref string) (solana.PublicKey, *TradeResult, error) {
	if ref == "" {
		return solana.PublicKey{}, nil, nil
	}
	addr, err := e.derive.Receipt(signer, ref)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	receipt := new(state.Receipt)
	found, err := state.LoadOptional(ctx, tx, addr.Address, receipt)
	if err != nil || !found {
		return addr.Address, nil, err
	}
	if receipt.Operation != string(side) || receipt.AgentID != agentID {
		return solana.PublicKey{}, nil, xerrors.New(xerrors.CodeInvalidParameters, "client reference already used by another operation",
			xerrors.WithMetadata(xerrors.MetaField, "client_ref"),
			xerrors.WithMetadata("operation", receipt.Operation))
	}
	return addr.Address, &TradeResult{
		AgentID:   receipt.AgentID,
		Side:      side,
		Trader:    signer,
		AmountIn:  receipt.AmountIn,
		AmountOut: receipt.AmountOut,
		Fee:       receipt.Fee,
		Period:    receipt.Period,
		TxRef:     receipt.TxRef,
		Replayed:  true,
	}, nil
}

func (e *Executor) writeReceipt(ctx context.Context, tx storage.Tx, addr solana.PublicKey, ref string, res *TradeResult) error {
	if ref == "" {
		return nil
	}
	return state.Save(ctx, tx, addr, &state.Receipt{
		Signer:    res.Trader,
		Ref:       ref,
		Operation: string(res.Side),
		AgentID:   res.AgentID,
		AmountIn:  res.AmountIn,
		AmountOut: res.AmountOut,
		Fee:       res.Fee,
		Period:    res.Period,
		TxRef:     res.TxRef,
		CreatedAt: res.ExecutedAt.Unix(),
	})
}
