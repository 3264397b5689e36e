// Package rewards 负责每日奖励池的结算与持有人领取。
//
// 周期为 UTC 日。周期 P 的奖励只能在 P+1 日内领取，错过即作废。结算按各 Agent
// 在 P 的表现分数切分奖励池；持有人的份额按其在 P 结束时的持仓占当时流通量的
// 比例计算，因此在领取窗口内买入不会获得 P 的奖励。
package rewards

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"XGrowth-Chain/internal/address"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/events"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/internal/platform"
	"XGrowth-Chain/internal/state"
	"XGrowth-Chain/internal/storage"
	"XGrowth-Chain/internal/token"
	"XGrowth-Chain/pkg/logger"
)

const operationClaim = "claim_rewards"

// Recorder 记录被拒绝的领取。
type Recorder interface {
	ObserveRejection(operation string, code xerrors.Code)
}

// Ledger 管理奖励结算与领取。
type Ledger struct {
	store    storage.Store
	derive   *address.Deriver
	bus      *events.Bus
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder
}

// Option 定义可选配置。
type Option func(*Ledger)

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithEventBus 配置事件总线。
func WithEventBus(bus *events.Bus) Option {
	return func(l *Ledger) {
		l.bus = bus
	}
}

// WithRecorder 配置拒绝计数器。
func WithRecorder(r Recorder) Option {
	return func(l *Ledger) {
		l.recorder = r
	}
}

// NewLedger 构造 Ledger。
func NewLedger(store storage.Store, derive *address.Deriver, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		derive: derive,
		now:    time.Now,
		logger: logger.Named("rewards"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// ClaimablePeriod 返回 t 时刻可领取的周期。
func ClaimablePeriod(t time.Time) int64 {
	return state.PeriodAt(t) - 1
}

// Share 是某个 Agent 在已结算周期中的份额。
type Share struct {
	AgentID        string `json:"agent_id"`
	Score          uint64 `json:"score"`
	Allotment      uint64 `json:"allotment"`
	SnapshotSupply uint64 `json:"snapshot_supply"`
	Claimed        uint64 `json:"claimed"`
	Claims         uint64 `json:"claims"`
}

// Settlement 是一个周期的结算结果。
type Settlement struct {
	Period         int64   `json:"period"`
	DailyPool      uint64  `json:"daily_pool"`
	TotalScore     uint64  `json:"total_score"`
	ActiveAgents   uint64  `json:"active_agents"`
	SettledAt      int64   `json:"settled_at"`
	Shares         []Share `json:"shares"`
	AlreadySettled bool    `json:"already_settled"`
}

// Settle 结算周期 period，只能在 period 的领取窗口内调用。重复调用返回已有结算。
func (l *Ledger) Settle(ctx context.Context, period int64) (*Settlement, error) {
	now := l.now()
	if claimable := ClaimablePeriod(now); period != claimable {
		return nil, xerrors.New(xerrors.CodeInvalidParameters, "只能结算上一个周期",
			xerrors.WithInt(xerrors.MetaPeriod, period),
			xerrors.WithInt(xerrors.MetaRequired, claimable))
	}
	var out *Settlement
	err := l.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, p, err := platform.Load(ctx, tx, l.derive)
		if err != nil {
			return err
		}
		out, err = l.ensureSettled(ctx, tx, p, period, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !out.AlreadySettled {
		l.published(out, now)
	}
	return out, nil
}

// Settlement 返回已结算周期的结果。
func (l *Ledger) Settlement(ctx context.Context, period int64) (*Settlement, error) {
	var out *Settlement
	err := l.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		addr, err := l.derive.RewardPeriod(period)
		if err != nil {
			return err
		}
		rp := new(state.RewardPeriod)
		if err := state.Load(ctx, tx, addr.Address, rp); err != nil {
			return err
		}
		out, err = l.loadSettlement(ctx, tx, rp)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Ledger) published(s *Settlement, now time.Time) {
	l.logger.Info("奖励周期已结算",
		slog.Int64("period", s.Period),
		slog.Uint64("daily_pool", s.DailyPool),
		slog.Uint64("total_score", s.TotalScore),
		slog.Uint64("active_agents", s.ActiveAgents),
	)
	l.bus.Publish(events.Event{
		Kind:     events.KindPeriodSettled,
		AmountIn: s.DailyPool,
		Period:   s.Period,
		At:       now,
	})
}

// ensureSettled 在事务内结算 period；已结算时读取既有结果。
func (l *Ledger) ensureSettled(ctx context.Context, tx storage.Tx, p *state.Platform, period int64, now time.Time) (*Settlement, error) {
	addr, err := l.derive.RewardPeriod(period)
	if err != nil {
		return nil, err
	}
	existing := new(state.RewardPeriod)
	found, err := state.LoadOptional(ctx, tx, addr.Address, existing)
	if err != nil {
		return nil, err
	}
	if found {
		s, err := l.loadSettlement(ctx, tx, existing)
		if err != nil {
			return nil, err
		}
		s.AlreadySettled = true
		return s, nil
	}

	rp, shares, err := l.compute(ctx, tx, p, period)
	if err != nil {
		return nil, err
	}
	rp.SettledAt = now.Unix()
	if err := state.Create(ctx, tx, addr.Address, rp); err != nil {
		return nil, err
	}
	out := settlementView(rp)
	for _, sh := range shares {
		shareAddr, err := l.derive.PeriodShare(sh.agentAddr, period)
		if err != nil {
			return nil, err
		}
		if err := state.Create(ctx, tx, shareAddr.Address, sh.share); err != nil {
			return nil, err
		}
		out.Shares = append(out.Shares, shareView(sh.agentID, sh.share))
	}
	sortShares(out.Shares)
	return out, nil
}

type computedShare struct {
	agentID   string
	agentAddr solana.PublicKey
	share     *state.PeriodShare
}

// compute 按 Agent 分数切分奖励池，不写入任何账户。奖励池取配置额度与金库余额中的较小值。
func (l *Ledger) compute(ctx context.Context, tx storage.Tx, p *state.Platform, period int64) (*state.RewardPeriod, []computedShare, error) {
	pool, err := l.derive.RewardPool()
	if err != nil {
		return nil, nil, err
	}
	vault, err := token.Account(ctx, tx, pool.Address)
	if err != nil {
		return nil, nil, err
	}
	dailyPool := p.DailyRewardPool
	if vault.Amount < dailyPool {
		dailyPool = vault.Amount
	}

	addrs, agents, err := state.Agents(ctx, tx)
	if err != nil {
		return nil, nil, err
	}
	rp := &state.RewardPeriod{Period: period, DailyPool: dailyPool}
	var shares []computedShare
	for idx, agent := range agents {
		score := oracle.PeriodScore(agent.Performance, period, p.ScoreHalfSaturation)
		if score == 0 {
			continue
		}
		total, overflow := math.SafeAdd(rp.TotalScore, score)
		if overflow {
			return nil, nil, xerrors.New(xerrors.CodeArithmeticOverflow, "", xerrors.WithMetadata(xerrors.MetaField, "total_score"))
		}
		rp.TotalScore = total
		rp.ActiveAgents++
		snapshot, ok := agent.SupplyCheckpoint.ValueAtEndOf(period, agent.CirculatingSupply)
		if !ok {
			return nil, nil, xerrors.New(xerrors.CodeInvalidParameters, "供应量快照已不可用",
				xerrors.WithMetadata(xerrors.MetaAgentID, agent.AgentID),
				xerrors.WithInt(xerrors.MetaPeriod, period))
		}
		shares = append(shares, computedShare{
			agentID:   agent.AgentID,
			agentAddr: addrs[idx],
			share: &state.PeriodShare{
				Agent:          addrs[idx],
				Period:         period,
				Score:          score,
				SnapshotSupply: snapshot,
			},
		})
	}
	for _, sh := range shares {
		allotment, err := AgentAllotment(dailyPool, sh.share.Score, rp.TotalScore)
		if err != nil {
			return nil, nil, err
		}
		sh.share.Allotment = allotment
	}
	return rp, shares, nil
}

func (l *Ledger) loadSettlement(ctx context.Context, tx storage.Tx, rp *state.RewardPeriod) (*Settlement, error) {
	out := settlementView(rp)
	addrs, agents, err := state.Agents(ctx, tx)
	if err != nil {
		return nil, err
	}
	for idx, agent := range agents {
		shareAddr, err := l.derive.PeriodShare(addrs[idx], rp.Period)
		if err != nil {
			return nil, err
		}
		share := new(state.PeriodShare)
		found, err := state.LoadOptional(ctx, tx, shareAddr.Address, share)
		if err != nil {
			return nil, err
		}
		if found {
			out.Shares = append(out.Shares, shareView(agent.AgentID, share))
		}
	}
	sortShares(out.Shares)
	return out, nil
}

func sortShares(shares []Share) {
	sort.Slice(shares, func(i, j int) bool { return shares[i].AgentID < shares[j].AgentID })
}

func settlementView(rp *state.RewardPeriod) *Settlement {
	return &Settlement{
		Period:       rp.Period,
		DailyPool:    rp.DailyPool,
		TotalScore:   rp.TotalScore,
		ActiveAgents: rp.ActiveAgents,
		SettledAt:    rp.SettledAt,
	}
}

func shareView(agentID string, s *state.PeriodShare) Share {
	return Share{
		AgentID:        agentID,
		Score:          s.Score,
		Allotment:      s.Allotment,
		SnapshotSupply: s.SnapshotSupply,
		Claimed:        s.Claimed,
		Claims:         s.Claims,
	}
}

func newTxRef() string {
	return uuid.NewString()
}
