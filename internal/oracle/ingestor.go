// Package oracle 接收预言机上报的 Agent 社交互动数据并计算表现分数。
//
// 每次上报都是增量：同时累加到累计计数与当日计数。当上报所在的 UTC 日
// 与当日计数所属日期不同时，旧日期的分数被冻结，当日计数从新增量重新开始。
package oracle

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common/math"
	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/address"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/events"
	"XGrowth-Chain/internal/platform"
	"XGrowth-Chain/internal/state"
	"XGrowth-Chain/internal/storage"
	"XGrowth-Chain/pkg/logger"
)

// MaxClockSkew 是上报时间戳允许超前于本地时钟的最大值。
const MaxClockSkew = 5 * time.Minute

const operationUpdate = "update_performance"

// Update 是一次表现数据上报。
type Update struct {
	ID           string `json:"id"`
	AgentID      string `json:"agent_id"`
	Likes        uint64 `json:"likes"`
	Views        uint64 `json:"views"`
	Comments     uint64 `json:"comments"`
	NewFollowers uint64 `json:"new_followers"`
	Timestamp    int64  `json:"timestamp"`
}

// Counters 返回上报携带的增量。
func (u Update) Counters() Counters {
	return Counters{Likes: u.Likes, Views: u.Views, Comments: u.Comments, NewFollowers: u.NewFollowers}
}

// UpdateResult 是上报处理结果。
type UpdateResult struct {
	AgentID     string `json:"agent_id"`
	UpdateID    string `json:"update_id"`
	Period      int64  `json:"period"`
	DailyScore  uint64 `json:"daily_score"`
	RolledOver  bool   `json:"rolled_over"`
	Duplicate   bool   `json:"duplicate"`
	LastUpdated int64  `json:"last_updated"`
}

// Performance 是 Agent 表现数据的只读视图。
type Performance struct {
	AgentID     string                   `json:"agent_id"`
	Metrics     state.PerformanceMetrics `json:"metrics"`
	Period      int64                    `json:"period"`
	Score       uint64                   `json:"score"`
	ClosedScore uint64                   `json:"closed_score"`
}

// Ingestor 处理预言机上报。
type Ingestor struct {
	store  storage.Store
	derive *address.Deriver
	bus    *events.Bus
	now    func() time.Time
	logger *slog.Logger
}

// Option 定义可选配置。
type Option func(*Ingestor)

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) {
		if now != nil {
			i.now = now
		}
	}
}

// WithEventBus 配置事件总线。
func WithEventBus(bus *events.Bus) Option {
	return func(i *Ingestor) {
		i.bus = bus
	}
}

// NewIngestor 构造 Ingestor。
func NewIngestor(store storage.Store, derive *address.Deriver, opts ...Option) *Ingestor {
	i := &Ingestor{
		store:  store,
		derive: derive,
		now:    time.Now,
		logger: logger.Named("oracle"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// SubmitUpdate 校验上报方并把增量应用到 Agent 的表现数据。
// 相同 ID 的重复上报直接返回首次处理的结果。
func (i *Ingestor) SubmitUpdate(ctx context.Context, reporter solana.PublicKey, upd Update) (*UpdateResult, error) {
	if upd.ID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidParameters, "上报 ID 不能为空",
			xerrors.WithMetadata(xerrors.MetaField, "id"))
	}
	now := i.now()
	if upd.Timestamp > now.Add(MaxClockSkew).Unix() {
		return nil, xerrors.New(xerrors.CodeInvalidParameters, "上报时间戳超前于当前时间",
			xerrors.WithMetadata(xerrors.MetaField, "timestamp"),
			xerrors.WithInt(xerrors.MetaActual, upd.Timestamp),
			xerrors.WithInt(xerrors.MetaAvailable, now.Unix()))
	}
	receiptAddr, err := i.derive.Receipt(reporter, upd.ID)
	if err != nil {
		return nil, err
	}

	var res *UpdateResult
	err = i.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, p, err := platform.Load(ctx, tx, i.derive)
		if err != nil {
			return err
		}
		if !p.Oracle.Equals(reporter) {
			return xerrors.New(xerrors.CodeUnauthorized, "上报方不是平台预言机",
				xerrors.WithMetadata("reporter", reporter.String()))
		}

		receipt := new(state.Receipt)
		found, err := state.LoadOptional(ctx, tx, receiptAddr.Address, receipt)
		if err != nil {
			return err
		}
		if found {
			if receipt.Operation != operationUpdate {
				return xerrors.New(xerrors.CodeInvalidParameters, "上报 ID 已被其他操作使用",
					xerrors.WithMetadata(xerrors.MetaField, "id"))
			}
			res = &UpdateResult{
				AgentID:     receipt.AgentID,
				UpdateID:    upd.ID,
				Period:      receipt.Period,
				DailyScore:  receipt.AmountOut,
				Duplicate:   true,
				LastUpdated: receipt.CreatedAt,
			}
			return nil
		}

		agentAddr, agent, err := platform.LoadAgent(ctx, tx, i.derive, upd.AgentID)
		if err != nil {
			return err
		}
		m := &agent.Performance
		if upd.Timestamp < m.LastUpdated {
			return xerrors.New(xerrors.CodeInvalidParameters, "上报时间戳早于最近一次上报",
				xerrors.WithMetadata(xerrors.MetaField, "timestamp"),
				xerrors.WithInt(xerrors.MetaActual, upd.Timestamp),
				xerrors.WithInt(xerrors.MetaRequiredMin, m.LastUpdated))
		}

		period := state.PeriodOf(upd.Timestamp)
		if period < m.DailyPeriod {
			return xerrors.New(xerrors.CodeInvalidParameters, "上报所属周期已结束",
				xerrors.WithMetadata(xerrors.MetaField, "timestamp"),
				xerrors.WithInt(xerrors.MetaPeriod, period))
		}
		rpAddr, err := i.derive.RewardPeriod(period)
		if err != nil {
			return err
		}
		settled, err := state.LoadOptional(ctx, tx, rpAddr.Address, new(state.RewardPeriod))
		if err != nil {
			return err
		}
		if settled {
			return xerrors.New(xerrors.CodeInvalidParameters, "上报所属周期已结算",
				xerrors.WithMetadata(xerrors.MetaField, "timestamp"),
				xerrors.WithInt(xerrors.MetaPeriod, period))
		}
		rolled := false
		if period > m.DailyPeriod {
			m.ClosedPeriod = m.DailyPeriod
			m.ClosedScore = Score(RawEngagement(DailyCounters(*m)), p.ScoreHalfSaturation)
			m.DailyPeriod = period
			m.DailyLikes, m.DailyViews, m.DailyComments, m.DailyNewFollowers = 0, 0, 0, 0
			rolled = true
		}
		m.TotalLikes = saturatingAdd(m.TotalLikes, upd.Likes)
		m.TotalViews = saturatingAdd(m.TotalViews, upd.Views)
		m.TotalComments = saturatingAdd(m.TotalComments, upd.Comments)
		m.TotalFollowers = saturatingAdd(m.TotalFollowers, upd.NewFollowers)
		m.DailyLikes = saturatingAdd(m.DailyLikes, upd.Likes)
		m.DailyViews = saturatingAdd(m.DailyViews, upd.Views)
		m.DailyComments = saturatingAdd(m.DailyComments, upd.Comments)
		m.DailyNewFollowers = saturatingAdd(m.DailyNewFollowers, upd.NewFollowers)
		m.LastUpdated = upd.Timestamp

		if err := state.Save(ctx, tx, agentAddr, agent); err != nil {
			return err
		}
		res = &UpdateResult{
			AgentID:     upd.AgentID,
			UpdateID:    upd.ID,
			Period:      period,
			DailyScore:  Score(RawEngagement(DailyCounters(*m)), p.ScoreHalfSaturation),
			RolledOver:  rolled,
			LastUpdated: m.LastUpdated,
		}
		return state.Save(ctx, tx, receiptAddr.Address, &state.Receipt{
			Signer:    reporter,
			Ref:       upd.ID,
			Operation: operationUpdate,
			AgentID:   upd.AgentID,
			AmountOut: res.DailyScore,
			Period:    period,
			TxRef:     upd.ID,
			CreatedAt: upd.Timestamp,
		})
	})
	if err != nil {
		i.logger.Warn("表现数据上报被拒绝",
			slog.String("update_id", upd.ID),
			slog.String("agent_id", upd.AgentID),
			slog.String("error_code", string(xerrors.CodeOf(err))),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	if res.Duplicate {
		return res, nil
	}

	i.logger.Info("表现数据已更新",
		slog.String("agent_id", res.AgentID),
		slog.String("update_id", res.UpdateID),
		slog.Int64("period", res.Period),
		slog.Uint64("daily_score", res.DailyScore),
		slog.Bool("rolled_over", res.RolledOver),
	)
	i.bus.Publish(events.Event{
		Kind:    events.KindPerformance,
		AgentID: res.AgentID,
		Actor:   reporter.String(),
		Period:  res.Period,
		TxRef:   res.UpdateID,
		At:      now,
		Attrs: map[string]string{
			"daily_score": strconv.FormatUint(res.DailyScore, 10),
		},
	})
	return res, nil
}

// PerformanceScore 返回 Agent 当前周期的表现分数以及最近冻结的分数。
func (i *Ingestor) PerformanceScore(ctx context.Context, agentID string) (*Performance, error) {
	period := state.PeriodAt(i.now())
	var out *Performance
	err := i.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, p, err := platform.Load(ctx, tx, i.derive)
		if err != nil {
			return err
		}
		_, agent, err := platform.LoadAgent(ctx, tx, i.derive, agentID)
		if err != nil {
			return err
		}
		out = &Performance{
			AgentID:     agentID,
			Metrics:     agent.Performance,
			Period:      period,
			Score:       PeriodScore(agent.Performance, period, p.ScoreHalfSaturation),
			ClosedScore: PeriodScore(agent.Performance, period-1, p.ScoreHalfSaturation),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func saturatingAdd(a, b uint64) uint64 {
	sum, overflow := math.SafeAdd(a, b)
	if overflow {
		return maxUint64
	}
	return sum
}
