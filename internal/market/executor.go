// Package market 实现 Agent 代币在联合曲线上的报价与成交。
//
// 一次成交在单个存储事务内完成：读取结算时的供应量、定价、滑点与供应上限校验、
// 资金划转、铸造或销毁代币、更新供应量。任一步骤失败都不会留下部分状态。
package market

import (
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/address"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/events"
	"XGrowth-Chain/internal/storage"
	"XGrowth-Chain/pkg/logger"
)

// Side 表示交易方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Phase 表示交易状态机所处阶段。
type Phase string

const (
	PhaseQuoting  Phase = "quoting"
	PhaseSettling Phase = "settling"
	PhaseIdle     Phase = "idle"
	PhaseRejected Phase = "rejected"
)

// Recorder 记录被拒绝的操作，通常由指标模块实现。
type Recorder interface {
	ObserveRejection(operation string, code xerrors.Code)
}

// Executor 负责报价与执行买卖。
type Executor struct {
	store    storage.Store
	derive   *address.Deriver
	bus      *events.Bus
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder
	newRef   func() string
}

// Option 定义可选配置。
type Option func(*Executor)

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithEventBus 配置事件总线。
func WithEventBus(bus *events.Bus) Option {
	return func(e *Executor) {
		e.bus = bus
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRecorder 配置拒绝计数器。
func WithRecorder(r Recorder) Option {
	return func(e *Executor) {
		e.recorder = r
	}
}

// NewExecutor 构造 Executor。
func NewExecutor(store storage.Store, derive *address.Deriver, opts ...Option) *Executor {
	e := &Executor{
		store:  store,
		derive: derive,
		now:    time.Now,
		logger: logger.Named("market"),
		newRef: newTxRef,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// BuyRequest 描述一次买入。
type BuyRequest struct {
	AgentID       string
	Payer         solana.PublicKey
	PaymentAmount uint64
	MinTokensOut  uint64
	ClientRef     string
}

// SellRequest 描述一次卖出。
type SellRequest struct {
	AgentID       string
	Seller        solana.PublicKey
	TokenAmount   uint64
	MinPaymentOut uint64
	ClientRef     string
}

// TradeResult 描述一次已提交的成交。
type TradeResult struct {
	AgentID        string           `json:"agent_id"`
	Side           Side             `json:"side"`
	Trader         solana.PublicKey `json:"trader"`
	AmountIn       uint64           `json:"amount_in"`
	AmountOut      uint64           `json:"amount_out"`
	Fee            uint64           `json:"fee"`
	SpotBefore     uint64           `json:"spot_before"`
	SpotAfter      uint64           `json:"spot_after"`
	PriceImpactBps uint64           `json:"price_impact_bps"`
	SupplyAfter    uint64           `json:"supply_after"`
	ReserveAfter   uint64           `json:"reserve_after"`
	CurveExhausted bool             `json:"curve_exhausted"`
	Period         int64            `json:"period"`
	TxRef          string           `json:"tx_ref"`
	Replayed       bool             `json:"replayed"`
	ExecutedAt     time.Time        `json:"executed_at"`
}

func (e *Executor) reject(side Side, agentID string, trader solana.PublicKey, phase Phase, err error) {
	code := xerrors.CodeOf(err)
	if e.recorder != nil {
		e.recorder.ObserveRejection(string(side), code)
	}
	logger.Audit().Warn("交易被拒绝",
		slog.String("side", string(side)),
		slog.String("agent_id", agentID),
		slog.String("trader", trader.String()),
		slog.String("phase", string(phase)),
		slog.String("error_code", string(code)),
		slog.String("error", err.Error()),
	)
}

func (e *Executor) publish(res *TradeResult) {
	kind := events.KindBuy
	if res.Side == SideSell {
		kind = events.KindSell
	}
	ev := events.Event{
		Kind:      kind,
		AgentID:   res.AgentID,
		Actor:     res.Trader.String(),
		AmountIn:  res.AmountIn,
		AmountOut: res.AmountOut,
		Fee:       res.Fee,
		Period:    res.Period,
		TxRef:     res.TxRef,
		At:        res.ExecutedAt,
	}
	e.bus.Publish(ev)
	if res.CurveExhausted {
		ev.Kind = events.KindCurveExhausted
		e.bus.Publish(ev)
	}
}
