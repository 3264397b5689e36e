package market

import (
	"context"

	"XGrowth-Chain/internal/curve"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/platform"
	"XGrowth-Chain/internal/storage"
)

// Quote 是只读报价结果，不修改任何状态。
type Quote struct {
	AgentID        string `json:"agent_id"`
	Side           Side   `json:"side"`
	AmountIn       uint64 `json:"amount_in"`
	AmountOut      uint64 `json:"amount_out"`
	Fee            uint64 `json:"fee"`
	SpotBefore     uint64 `json:"spot_before"`
	SpotAfter      uint64 `json:"spot_after"`
	PriceImpactBps uint64 `json:"price_impact_bps"`
	SupplyAfter    uint64 `json:"supply_after"`
	// ReserveCapped 表示卖出金额受储备份额限制，低于曲线价格。
	ReserveCapped bool `json:"reserve_capped,omitempty"`
}

// PriceImpactPct 以百分比形式返回价格冲击。
func (q Quote) PriceImpactPct() float64 {
	return float64(q.PriceImpactBps) / 100
}

// Quote 按当前供应量计算一笔买入或卖出的预期结果。
func (e *Executor) Quote(ctx context.Context, agentID string, side Side, amount uint64) (*Quote, error) {
	var out *Quote
	err := e.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, p, err := platform.Load(ctx, tx, e.derive)
		if err != nil {
			return err
		}
		_, agent, err := platform.LoadAgent(ctx, tx, e.derive, agentID)
		if err != nil {
			return err
		}
		switch side {
		case SideBuy:
			q, err := curve.QuoteBuy(agent.Params(), agent.CirculatingSupply, amount)
			if err != nil {
				return err
			}
			out = &Quote{
				AgentID: agentID, Side: side, AmountIn: amount, AmountOut: q.TokensOut,
				SpotBefore: q.SpotBefore, SpotAfter: q.SpotAfter,
				PriceImpactBps: q.PriceImpactBps, SupplyAfter: q.SupplyAfter,
			}
		case SideSell:
			q, err := curve.QuoteSell(agent.Params(), agent.CirculatingSupply, agent.ReserveBalance, amount, uint64(p.SellFeeBps))
			if err != nil {
				return err
			}
			out = &Quote{
				AgentID: agentID, Side: side, AmountIn: amount, AmountOut: q.NetOut, Fee: q.Fee,
				SpotBefore: q.SpotBefore, SpotAfter: q.SpotAfter,
				PriceImpactBps: q.PriceImpactBps, SupplyAfter: q.SupplyAfter,
				ReserveCapped: q.ReserveCapped,
			}
		default:
			return xerrors.New(xerrors.CodeInvalidParameters, "未知的交易方向",
				xerrors.WithMetadata(xerrors.MetaField, "side"))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MigrationStatus 描述曲线的发行进度。
type MigrationStatus struct {
	AgentID           string `json:"agent_id"`
	CirculatingSupply uint64 `json:"circulating_supply"`
	MaxSupply         uint64 `json:"max_supply"`
	RemainingSupply   uint64 `json:"remaining_supply"`
	ProgressBps       uint64 `json:"progress_bps"`
	ReserveBalance    uint64 `json:"reserve_balance"`
	SpotPrice         uint64 `json:"spot_price"`
	Exhausted         bool   `json:"exhausted"`
	ExhaustedAt       int64  `json:"exhausted_at,omitempty"`
}

// MigrationStatus 返回 Agent 曲线是否已售罄以及当前进度。
func (e *Executor) MigrationStatus(ctx context.Context, agentID string) (*MigrationStatus, error) {
	var out *MigrationStatus
	err := e.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, agent, err := platform.LoadAgent(ctx, tx, e.derive, agentID)
		if err != nil {
			return err
		}
		spot, err := curve.SpotPrice(agent.Params(), agent.CirculatingSupply)
		if err != nil {
			return err
		}
		progress, err := curve.MulDiv(agent.CirculatingSupply, curve.BpsDenominator, agent.Curve.MaxSupply)
		if err != nil {
			return err
		}
		out = &MigrationStatus{
			AgentID:           agentID,
			CirculatingSupply: agent.CirculatingSupply,
			MaxSupply:         agent.Curve.MaxSupply,
			RemainingSupply:   agent.Curve.MaxSupply - agent.CirculatingSupply,
			ProgressBps:       progress,
			ReserveBalance:    agent.ReserveBalance,
			SpotPrice:         spot,
			Exhausted:         agent.CirculatingSupply >= agent.Curve.MaxSupply,
			ExhaustedAt:       agent.CurveExhaustedAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
