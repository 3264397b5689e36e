package rewards

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/address"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/events"
	"XGrowth-Chain/internal/platform"
	"XGrowth-Chain/internal/state"
	"XGrowth-Chain/internal/storage"
	"XGrowth-Chain/internal/token"
	"XGrowth-Chain/pkg/logger"
)

// ClaimRequest 描述一次领取。
type ClaimRequest struct {
	User      solana.PublicKey
	AgentID   string
	ClientRef string
}

// ClaimResult 描述一次已提交的领取。
type ClaimResult struct {
	AgentID           string           `json:"agent_id"`
	User              solana.PublicKey `json:"user"`
	Period            int64            `json:"period"`
	Amount            uint64           `json:"amount"`
	CumulativeClaimed uint64           `json:"cumulative_claimed"`
	TxRef             string           `json:"tx_ref"`
	Replayed          bool             `json:"replayed"`
	ClaimedAt         time.Time        `json:"claimed_at"`
}

// Claim 领取上一个周期的奖励。周期尚未结算时先在同一事务内结算。
func (l *Ledger) Claim(ctx context.Context, req ClaimRequest) (*ClaimResult, error) {
	now := l.now()
	period := ClaimablePeriod(now)
	current := period + 1

	var (
		res     *ClaimResult
		settled *Settlement
	)
	err := l.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		var receiptAddr solana.PublicKey
		if req.ClientRef != "" {
			addr, err := l.derive.Receipt(req.User, req.ClientRef)
			if err != nil {
				return err
			}
			receiptAddr = addr.Address
			receipt := new(state.Receipt)
			found, err := state.LoadOptional(ctx, tx, receiptAddr, receipt)
			if err != nil {
				return err
			}
			if found {
				if receipt.Operation != operationClaim || receipt.AgentID != req.AgentID {
					return xerrors.New(xerrors.CodeInvalidParameters, "client reference already used by another operation",
						xerrors.WithMetadata(xerrors.MetaField, "client_ref"))
				}
				res = &ClaimResult{
					AgentID:   receipt.AgentID,
					User:      req.User,
					Period:    receipt.Period,
					Amount:    receipt.AmountOut,
					TxRef:     receipt.TxRef,
					Replayed:  true,
					ClaimedAt: time.Unix(receipt.CreatedAt, 0).UTC(),
				}
				return nil
			}
		}

		_, p, err := platform.Load(ctx, tx, l.derive)
		if err != nil {
			return err
		}
		agentAddr, agent, err := platform.LoadAgent(ctx, tx, l.derive, req.AgentID)
		if err != nil {
			return err
		}

		urAddr, err := l.derive.UserRewards(req.User, agentAddr)
		if err != nil {
			return err
		}
		ur := new(state.UserRewards)
		found, err := state.LoadOptional(ctx, tx, urAddr.Address, ur)
		if err != nil {
			return err
		}
		if !found {
			ur = &state.UserRewards{User: req.User, Agent: agentAddr, LastClaimedPeriod: state.NoClaim, Bump: urAddr.Bump}
		}
		if ur.LastClaimedPeriod >= period {
			return xerrors.New(xerrors.CodeAlreadyClaimed, "本周期奖励已领取",
				xerrors.WithInt(xerrors.MetaPeriod, period),
				xerrors.WithInt(xerrors.MetaNextEligiblePeriod, ur.LastClaimedPeriod+1))
		}

		s, err := l.ensureSettled(ctx, tx, p, period, now)
		if err != nil {
			return err
		}
		if !s.AlreadySettled {
			settled = s
		}

		shareAddr, err := l.derive.PeriodShare(agentAddr, period)
		if err != nil {
			return err
		}
		share := new(state.PeriodShare)
		hasShare, err := state.LoadOptional(ctx, tx, shareAddr.Address, share)
		if err != nil {
			return err
		}
		var amount uint64
		if hasShare {
			balance, err := token.BalanceAtEndOf(ctx, tx, req.User, agent.TokenMint, period)
			if err != nil {
				return err
			}
			if amount, err = Entitlement(balance, share.Allotment, share.SnapshotSupply); err != nil {
				return err
			}
		}
		if amount == 0 {
			return xerrors.New(xerrors.CodeNothingToClaim, "",
				xerrors.WithInt(xerrors.MetaPeriod, period),
				xerrors.WithInt(xerrors.MetaNextEligiblePeriod, period+1))
		}
		if share.Allotment-share.Claimed < amount {
			return xerrors.New(xerrors.CodeInsufficientReserve, "领取总额超过 Agent 份额",
				xerrors.WithUint(xerrors.MetaRequired, amount),
				xerrors.WithUint(xerrors.MetaAvailable, share.Allotment-share.Claimed),
				xerrors.WithMetadata(xerrors.MetaAgentID, req.AgentID),
				xerrors.WithSeverity(xerrors.SeverityCritical))
		}

		pool, err := l.derive.RewardPool()
		if err != nil {
			return err
		}
		vault, err := token.Account(ctx, tx, pool.Address)
		if err != nil {
			return err
		}
		if vault.Amount < amount {
			return xerrors.New(xerrors.CodeInsufficientReserve, "奖励池余额不足",
				xerrors.WithUint(xerrors.MetaRequired, amount),
				xerrors.WithUint(xerrors.MetaAvailable, vault.Amount))
		}
		dest, err := address.TokenAccount(req.User, p.PaymentMint)
		if err != nil {
			return err
		}
		if err := token.Transfer(ctx, tx, pool.Address, dest, p.PaymentMint, req.User, amount, current); err != nil {
			return err
		}

		ur.LastClaimedPeriod = period
		ur.LastClaimAt = now.Unix()
		if ur.CumulativeClaimed, err = checkedAdd(ur.CumulativeClaimed, amount, "cumulative_claimed"); err != nil {
			return err
		}
		share.Claimed += amount
		share.Claims++
		if agent.TotalRewardsClaimed, err = checkedAdd(agent.TotalRewardsClaimed, amount, "total_rewards_claimed"); err != nil {
			return err
		}
		if err := state.Save(ctx, tx, urAddr.Address, ur); err != nil {
			return err
		}
		if err := state.Save(ctx, tx, shareAddr.Address, share); err != nil {
			return err
		}
		if err := state.Save(ctx, tx, agentAddr, agent); err != nil {
			return err
		}

		ref := req.ClientRef
		if ref == "" {
			ref = newTxRef()
		}
		res = &ClaimResult{
			AgentID:           req.AgentID,
			User:              req.User,
			Period:            period,
			Amount:            amount,
			CumulativeClaimed: ur.CumulativeClaimed,
			TxRef:             ref,
			ClaimedAt:         now,
		}
		if req.ClientRef == "" {
			return nil
		}
		return state.Save(ctx, tx, receiptAddr, &state.Receipt{
			Signer:    req.User,
			Ref:       req.ClientRef,
			Operation: operationClaim,
			AgentID:   req.AgentID,
			AmountOut: amount,
			Period:    period,
			TxRef:     ref,
			CreatedAt: now.Unix(),
		})
	})
	if err != nil {
		code := xerrors.CodeOf(err)
		if l.recorder != nil {
			l.recorder.ObserveRejection(operationClaim, code)
		}
		logger.Audit().Warn("奖励领取被拒绝",
			slog.String("agent_id", req.AgentID),
			slog.String("user", req.User.String()),
			slog.Int64("period", period),
			slog.String("error_code", string(code)),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if settled != nil {
		l.published(settled, now)
	}
	if res.Replayed {
		return res, nil
	}
	logger.Audit().Info("奖励领取成功",
		slog.String("agent_id", res.AgentID),
		slog.String("user", res.User.String()),
		slog.Int64("period", res.Period),
		slog.Uint64("amount", res.Amount),
		slog.String("tx_ref", res.TxRef),
	)
	l.bus.Publish(events.Event{
		Kind:      events.KindRewardsClaimed,
		AgentID:   res.AgentID,
		Actor:     res.User.String(),
		AmountOut: res.Amount,
		Period:    res.Period,
		TxRef:     res.TxRef,
		At:        now,
	})
	return res, nil
}

// UserRewardsView 是持有人在某个 Agent 上的领取状态。
type UserRewardsView struct {
	User               solana.PublicKey `json:"user"`
	AgentID            string           `json:"agent_id"`
	LastClaimedPeriod  int64            `json:"last_claimed_period"`
	CumulativeClaimed  uint64           `json:"cumulative_claimed"`
	LastClaimAt        int64            `json:"last_claim_at"`
	ClaimablePeriod    int64            `json:"claimable_period"`
	Claimable          uint64           `json:"claimable"`
	NextEligiblePeriod int64            `json:"next_eligible_period"`
	Settled            bool             `json:"settled"`
}

// UserRewards 返回持有人的领取状态以及当前窗口内可领取的估算金额。
// 周期尚未结算时按当前数据预估，不写入任何账户。
func (l *Ledger) UserRewards(ctx context.Context, user solana.PublicKey, agentID string) (*UserRewardsView, error) {
	period := ClaimablePeriod(l.now())
	out := &UserRewardsView{User: user, AgentID: agentID, LastClaimedPeriod: state.NoClaim, ClaimablePeriod: period}
	err := l.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, p, err := platform.Load(ctx, tx, l.derive)
		if err != nil {
			return err
		}
		agentAddr, agent, err := platform.LoadAgent(ctx, tx, l.derive, agentID)
		if err != nil {
			return err
		}
		urAddr, err := l.derive.UserRewards(user, agentAddr)
		if err != nil {
			return err
		}
		ur := new(state.UserRewards)
		found, err := state.LoadOptional(ctx, tx, urAddr.Address, ur)
		if err != nil {
			return err
		}
		if found {
			out.LastClaimedPeriod = ur.LastClaimedPeriod
			out.CumulativeClaimed = ur.CumulativeClaimed
			out.LastClaimAt = ur.LastClaimAt
		}
		out.NextEligiblePeriod = max(period, out.LastClaimedPeriod+1)
		if out.LastClaimedPeriod >= period {
			return nil
		}

		share, settled, err := l.previewShare(ctx, tx, p, agentAddr, period)
		if err != nil || share == nil {
			return err
		}
		out.Settled = settled
		balance, err := token.BalanceAtEndOf(ctx, tx, user, agent.TokenMint, period)
		if err != nil {
			return err
		}
		out.Claimable, err = Entitlement(balance, share.Allotment, share.SnapshotSupply)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// previewShare 读取已结算份额，未结算时计算但不持久化。
func (l *Ledger) previewShare(ctx context.Context, tx storage.Tx, p *state.Platform, agentAddr solana.PublicKey, period int64) (*state.PeriodShare, bool, error) {
	rpAddr, err := l.derive.RewardPeriod(period)
	if err != nil {
		return nil, false, err
	}
	rp := new(state.RewardPeriod)
	settled, err := state.LoadOptional(ctx, tx, rpAddr.Address, rp)
	if err != nil {
		return nil, false, err
	}
	if settled {
		shareAddr, err := l.derive.PeriodShare(agentAddr, period)
		if err != nil {
			return nil, true, err
		}
		share := new(state.PeriodShare)
		found, err := state.LoadOptional(ctx, tx, shareAddr.Address, share)
		if err != nil || !found {
			return nil, true, err
		}
		return share, true, nil
	}
	_, shares, err := l.compute(ctx, tx, p, period)
	if err != nil {
		return nil, false, err
	}
	for _, sh := range shares {
		if sh.agentAddr.Equals(agentAddr) {
			return sh.share, false, nil
		}
	}
	return nil, false, nil
}

func checkedAdd(a, b uint64, field string) (uint64, error) {
	sum, overflow := math.SafeAdd(a, b)
	if overflow {
		return 0, xerrors.New(xerrors.CodeArithmeticOverflow, "", xerrors.WithMetadata(xerrors.MetaField, field))
	}
	return sum, nil
}
