package market

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/address"
	"XGrowth-Chain/internal/curve"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/platform"
	"XGrowth-Chain/internal/state"
	"XGrowth-Chain/internal/storage"
	"XGrowth-Chain/internal/token"
	"XGrowth-Chain/pkg/logger"
)

// ExecuteBuy 以支付资产买入 Agent 代币。
//
// 定价使用事务内读取的供应量；若成交数量低于 MinTokensOut 返回
// SLIPPAGE_EXCEEDED，若会越过最大供应量返回 CURVE_EXHAUSTED。
func (e *Executor) ExecuteBuy(ctx context.Context, req BuyRequest) (*TradeResult, error) {
	phase := PhaseQuoting
	if req.PaymentAmount == 0 {
		err := xerrors.New(xerrors.CodeInvalidParameters, "支付金额必须大于 0",
			xerrors.WithMetadata(xerrors.MetaField, "payment_amount"))
		e.reject(SideBuy, req.AgentID, req.Payer, phase, err)
		return nil, err
	}
	now := e.now()
	period := state.PeriodAt(now)

	var res *TradeResult
	err := e.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		receiptAddr, replayed, err := e.replay(ctx, tx, SideBuy, req.AgentID, req.Payer, req.ClientRef)
		if err != nil || replayed != nil {
			res = replayed
			return err
		}
		_, p, err := platform.Load(ctx, tx, e.derive)
		if err != nil {
			return err
		}
		agentAddr, agent, err := platform.LoadAgent(ctx, tx, e.derive, req.AgentID)
		if err != nil {
			return err
		}

		payerAcct, err := address.TokenAccount(req.Payer, p.PaymentMint)
		if err != nil {
			return err
		}
		balance, err := token.Balance(ctx, tx, req.Payer, p.PaymentMint)
		if err != nil {
			return err
		}
		if balance < req.PaymentAmount {
			return xerrors.New(xerrors.CodeInsufficientFunds, "支付资产余额不足",
				xerrors.WithUint(xerrors.MetaRequired, req.PaymentAmount),
				xerrors.WithUint(xerrors.MetaAvailable, balance))
		}

		q, err := curve.QuoteBuy(agent.Params(), agent.CirculatingSupply, req.PaymentAmount)
		if err != nil {
			return err
		}
		if q.TokensOut < req.MinTokensOut {
			return xerrors.New(xerrors.CodeSlippageExceeded, "成交数量低于最小值",
				xerrors.WithUint(xerrors.MetaRequiredMin, req.MinTokensOut),
				xerrors.WithUint(xerrors.MetaActual, q.TokensOut))
		}

		phase = PhaseSettling
		if err := token.Transfer(ctx, tx, payerAcct, agent.Reserve, p.PaymentMint, agentAddr, req.PaymentAmount, period); err != nil {
			return err
		}
		agent.SupplyCheckpoint.Touch(period, agent.CirculatingSupply)
		mint, err := token.MintTo(ctx, tx, agent.TokenMint, req.Payer, q.TokensOut, period)
		if err != nil {
			return err
		}
		agent.CirculatingSupply = q.SupplyAfter
		if agent.ReserveBalance, err = add(agent.ReserveBalance, req.PaymentAmount, "reserve_balance"); err != nil {
			return err
		}
		if agent.TotalVolume, err = add(agent.TotalVolume, req.PaymentAmount, "total_volume"); err != nil {
			return err
		}
		exhausted := agent.CirculatingSupply == agent.Curve.MaxSupply
		if exhausted {
			agent.CurveExhaustedAt = now.Unix()
		}
		if err := checkBacking(ctx, tx, agent, mint); err != nil {
			return err
		}
		if err := ensureUserRewards(ctx, tx, e.derive, req.Payer, agentAddr); err != nil {
			return err
		}
		if err := state.Save(ctx, tx, agentAddr, agent); err != nil {
			return err
		}

		ref := req.ClientRef
		if ref == "" {
			ref = e.newRef()
		}
		res = &TradeResult{
			AgentID:        req.AgentID,
			Side:           SideBuy,
			Trader:         req.Payer,
			AmountIn:       req.PaymentAmount,
			AmountOut:      q.TokensOut,
			SpotBefore:     q.SpotBefore,
			SpotAfter:      q.SpotAfter,
			PriceImpactBps: q.PriceImpactBps,
			SupplyAfter:    agent.CirculatingSupply,
			ReserveAfter:   agent.ReserveBalance,
			CurveExhausted: exhausted,
			Period:         period,
			TxRef:          ref,
			ExecutedAt:     now,
		}
		return e.writeReceipt(ctx, tx, receiptAddr, req.ClientRef, res)
	})
	if err != nil {
		e.reject(SideBuy, req.AgentID, req.Payer, phase, err)
		return nil, err
	}
	if res.Replayed {
		return res, nil
	}
	logger.Audit().Info("买入成交",
		slog.String("agent_id", res.AgentID),
		slog.String("payer", res.Trader.String()),
		slog.Uint64("payment", res.AmountIn),
		slog.Uint64("tokens_out", res.AmountOut),
		slog.Uint64("supply_after", res.SupplyAfter),
		slog.String("tx_ref", res.TxRef),
	)
	e.publish(res)
	return res, nil
}

// ExecuteSell 将 Agent 代币卖回曲线，按卖出前的现价计价，且不超过卖方按持仓比例
// 应得的储备份额，再扣除手续费。手续费留在储备中，剩余流通量的储备覆盖比例不会下降；
// 储备不足以支付时返回 INSUFFICIENT_RESERVE，不做部分成交。
func (e *Executor) ExecuteSell(ctx context.Context, req SellRequest) (*TradeResult, error) {
	phase := PhaseQuoting
	if req.TokenAmount == 0 {
		err := xerrors.New(xerrors.CodeInvalidParameters, "卖出数量必须大于 0",
			xerrors.WithMetadata(xerrors.MetaField, "token_amount"))
		e.reject(SideSell, req.AgentID, req.Seller, phase, err)
		return nil, err
	}
	now := e.now()
	period := state.PeriodAt(now)

	var res *TradeResult
	err := e.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		receiptAddr, replayed, err := e.replay(ctx, tx, SideSell, req.AgentID, req.Seller, req.ClientRef)
		if err != nil || replayed != nil {
			res = replayed
			return err
		}
		_, p, err := platform.Load(ctx, tx, e.derive)
		if err != nil {
			return err
		}
		agentAddr, agent, err := platform.LoadAgent(ctx, tx, e.derive, req.AgentID)
		if err != nil {
			return err
		}

		held, err := token.Balance(ctx, tx, req.Seller, agent.TokenMint)
		if err != nil {
			return err
		}
		if held < req.TokenAmount {
			return xerrors.New(xerrors.CodeInsufficientFunds, "代币余额不足",
				xerrors.WithUint(xerrors.MetaRequired, req.TokenAmount),
				xerrors.WithUint(xerrors.MetaAvailable, held))
		}

		q, err := curve.QuoteSell(agent.Params(), agent.CirculatingSupply, agent.ReserveBalance, req.TokenAmount, uint64(p.SellFeeBps))
		if err != nil {
			return err
		}
		if q.NetOut < req.MinPaymentOut {
			return xerrors.New(xerrors.CodeSlippageExceeded, "成交金额低于最小值",
				xerrors.WithUint(xerrors.MetaRequiredMin, req.MinPaymentOut),
				xerrors.WithUint(xerrors.MetaActual, q.NetOut))
		}
		if agent.ReserveBalance < q.NetOut {
			return xerrors.New(xerrors.CodeInsufficientReserve, "储备不足以支付卖出金额",
				xerrors.WithUint(xerrors.MetaRequired, q.NetOut),
				xerrors.WithUint(xerrors.MetaAvailable, agent.ReserveBalance),
				xerrors.WithMetadata(xerrors.MetaAgentID, req.AgentID))
		}

		phase = PhaseSettling
		agent.SupplyCheckpoint.Touch(period, agent.CirculatingSupply)
		mint, err := token.Burn(ctx, tx, agent.TokenMint, req.Seller, req.TokenAmount, period)
		if err != nil {
			return err
		}
		sellerAcct, err := address.TokenAccount(req.Seller, p.PaymentMint)
		if err != nil {
			return err
		}
		if err := token.Transfer(ctx, tx, agent.Reserve, sellerAcct, p.PaymentMint, req.Seller, q.NetOut, period); err != nil {
			return err
		}
		agent.CirculatingSupply = q.SupplyAfter
		agent.ReserveBalance -= q.NetOut
		if agent.TotalVolume, err = add(agent.TotalVolume, q.NetOut, "total_volume"); err != nil {
			return err
		}
		if err := checkBacking(ctx, tx, agent, mint); err != nil {
			return err
		}
		if err := state.Save(ctx, tx, agentAddr, agent); err != nil {
			return err
		}

		ref := req.ClientRef
		if ref == "" {
			ref = e.newRef()
		}
		res = &TradeResult{
			AgentID:        req.AgentID,
			Side:           SideSell,
			Trader:         req.Seller,
			AmountIn:       req.TokenAmount,
			AmountOut:      q.NetOut,
			Fee:            q.Fee,
			SpotBefore:     q.SpotBefore,
			SpotAfter:      q.SpotAfter,
			PriceImpactBps: q.PriceImpactBps,
			SupplyAfter:    agent.CirculatingSupply,
			ReserveAfter:   agent.ReserveBalance,
			Period:         period,
			TxRef:          ref,
			ExecutedAt:     now,
		}
		return e.writeReceipt(ctx, tx, receiptAddr, req.ClientRef, res)
	})
	if err != nil {
		e.reject(SideSell, req.AgentID, req.Seller, phase, err)
		return nil, err
	}
	if res.Replayed {
		return res, nil
	}
	logger.Audit().Info("卖出成交",
		slog.String("agent_id", res.AgentID),
		slog.String("seller", res.Trader.String()),
		slog.Uint64("tokens_in", res.AmountIn),
		slog.Uint64("payment_out", res.AmountOut),
		slog.Uint64("fee", res.Fee),
		slog.String("tx_ref", res.TxRef),
	)
	e.publish(res)
	return res, nil
}

// checkBacking 校验 Agent 记录与铸币、储备金库一致。
func checkBacking(ctx context.Context, tx storage.Tx, agent *state.Agent, mint *state.Mint) error {
	if mint.Supply != agent.CirculatingSupply {
		return xerrors.New(xerrors.CodeStorageFailure, "流通量与铸币供应不一致",
			xerrors.WithUint("mint_supply", mint.Supply),
			xerrors.WithUint("circulating_supply", agent.CirculatingSupply),
			xerrors.WithRetryable(false))
	}
	vault, err := token.Account(ctx, tx, agent.Reserve)
	if err != nil {
		return err
	}
	if vault.Amount != agent.ReserveBalance {
		return xerrors.New(xerrors.CodeStorageFailure, "储备余额与金库不一致",
			xerrors.WithUint("vault", vault.Amount),
			xerrors.WithUint("reserve_balance", agent.ReserveBalance),
			xerrors.WithRetryable(false))
	}
	return nil
}

// ensureUserRewards 在首次买入时创建持有人的领取记录。
func ensureUserRewards(ctx context.Context, tx storage.Tx, derive *address.Deriver, user, agent solana.PublicKey) error {
	addr, err := derive.UserRewards(user, agent)
	if err != nil {
		return err
	}
	existing := new(state.UserRewards)
	found, err := state.LoadOptional(ctx, tx, addr.Address, existing)
	if err != nil || found {
		return err
	}
	return state.Save(ctx, tx, addr.Address, &state.UserRewards{
		User:              user,
		Agent:             agent,
		LastClaimedPeriod: state.NoClaim,
		Bump:              addr.Bump,
	})
}

func add(a, b uint64, field string) (uint64, error) {
	sum, overflow := math.SafeAdd(a, b)
	if overflow {
		return 0, xerrors.New(xerrors.CodeArithmeticOverflow, "", xerrors.WithMetadata(xerrors.MetaField, field))
	}
	return sum, nil
}
