// Package platform 负责平台初始化、参数配置、Agent 创建以及奖励池注资。
package platform

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/address"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/events"
	"XGrowth-Chain/internal/state"
	"XGrowth-Chain/internal/storage"
	"XGrowth-Chain/pkg/logger"
)

const (
	// DefaultSellFeeBps 为默认卖出手续费（1%）。
	DefaultSellFeeBps uint16 = 100
	// MaxSellFeeBps 限制手续费上限（10%）。
	MaxSellFeeBps uint16 = 1_000
	// DefaultScoreHalfSaturation 为表现分数达到一半刻度时的原始互动量。
	DefaultScoreHalfSaturation uint64 = 10_000
	// DefaultTokenDecimals 为 Agent 代币默认精度。
	DefaultTokenDecimals uint8 = 9

	maxNameLength   = 32
	maxSymbolLength = 10
	maxURILength    = 200
)

// Service 提供平台级管理操作。
type Service struct {
	store  storage.Store
	derive *address.Deriver
	bus    *events.Bus
	now    func() time.Time
	logger *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithClock 注入时钟，便于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithEventBus 配置事件总线。
func WithEventBus(bus *events.Bus) Option {
	return func(s *Service) {
		s.bus = bus
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService 构造平台服务。
func NewService(store storage.Store, derive *address.Deriver, opts ...Option) *Service {
	s := &Service{
		store:  store,
		derive: derive,
		now:    time.Now,
		logger: logger.Named("platform"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// InitParams 描述平台初始化参数。
type InitParams struct {
	PaymentMint         solana.PublicKey
	PaymentDecimals     uint8
	Oracle              solana.PublicKey
	DailyRewardPool     uint64
	SellFeeBps          uint16
	ScoreHalfSaturation uint64
}

// InitializePlatform 创建平台单例账户、支付资产铸币账户与奖励池金库。
func (s *Service) InitializePlatform(ctx context.Context, authority solana.PublicKey, params InitParams) (*state.Platform, error) {
	if authority.IsZero() {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "平台管理员不能为空")
	}
	if params.PaymentMint.IsZero() {
		return nil, invalid("payment_mint", "支付资产铸币地址不能为空")
	}
	if params.PaymentDecimals > 18 {
		return nil, invalid("payment_decimals", "支付资产精度超出范围")
	}
	if params.SellFeeBps > MaxSellFeeBps {
		return nil, invalid("sell_fee_bps", "卖出手续费超出上限")
	}
	if params.Oracle.IsZero() {
		params.Oracle = authority
	}
	if params.ScoreHalfSaturation == 0 {
		params.ScoreHalfSaturation = DefaultScoreHalfSaturation
	}

	platformAddr, err := s.derive.Platform()
	if err != nil {
		return nil, err
	}
	pool, err := s.derive.RewardPool()
	if err != nil {
		return nil, err
	}

	now := s.now()
	p := &state.Platform{
		Authority:           authority,
		PaymentMint:         params.PaymentMint,
		PaymentDecimals:     params.PaymentDecimals,
		Oracle:              params.Oracle,
		DailyRewardPool:     params.DailyRewardPool,
		SellFeeBps:          params.SellFeeBps,
		ScoreHalfSaturation: params.ScoreHalfSaturation,
		CreatedAt:           now.Unix(),
		Bump:                platformAddr.Bump,
	}
	err = s.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := state.Create(ctx, tx, platformAddr.Address, p); err != nil {
			return err
		}
		mint := new(state.Mint)
		found, err := state.LoadOptional(ctx, tx, params.PaymentMint, mint)
		if err != nil {
			return err
		}
		if !found {
			if err := state.Create(ctx, tx, params.PaymentMint, &state.Mint{Authority: platformAddr.Address, Decimals: params.PaymentDecimals}); err != nil {
				return err
			}
		} else if mint.Decimals != params.PaymentDecimals {
			return invalid("payment_decimals", "支付资产精度与铸币账户不一致")
		}
		return state.Create(ctx, tx, pool.Address, &state.TokenAccount{Mint: params.PaymentMint, Owner: platformAddr.Address})
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("平台初始化完成",
		slog.String("platform", platformAddr.Address.String()),
		slog.String("authority", authority.String()),
		slog.String("oracle", params.Oracle.String()),
		slog.Uint64("daily_reward_pool", params.DailyRewardPool),
	)
	s.bus.Publish(events.Event{Kind: events.KindPlatformConfigure, Actor: authority.String(), At: now})
	return p, nil
}

// ConfigUpdate 描述可修改的平台参数，nil 表示不修改。
type ConfigUpdate struct {
	Authority           *solana.PublicKey
	Oracle              *solana.PublicKey
	DailyRewardPool     *uint64
	SellFeeBps          *uint16
	ScoreHalfSaturation *uint64
}

// Configure 修改平台参数，仅平台管理员可调用。
func (s *Service) Configure(ctx context.Context, signer solana.PublicKey, update ConfigUpdate) (*state.Platform, error) {
	var out *state.Platform
	err := s.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		addr, p, err := Load(ctx, tx, s.derive)
		if err != nil {
			return err
		}
		if err := RequireAuthority(p, signer); err != nil {
			return err
		}
		if update.Authority != nil {
			if update.Authority.IsZero() {
				return invalid("authority", "新管理员不能为空")
			}
			p.Authority = *update.Authority
		}
		if update.Oracle != nil {
			if update.Oracle.IsZero() {
				return invalid("oracle", "预言机地址不能为空")
			}
			p.Oracle = *update.Oracle
		}
		if update.DailyRewardPool != nil {
			p.DailyRewardPool = *update.DailyRewardPool
		}
		if update.SellFeeBps != nil {
			if *update.SellFeeBps > MaxSellFeeBps {
				return invalid("sell_fee_bps", "卖出手续费超出上限")
			}
			p.SellFeeBps = *update.SellFeeBps
		}
		if update.ScoreHalfSaturation != nil {
			if *update.ScoreHalfSaturation == 0 {
				return invalid("score_half_saturation", "半饱和参数必须大于 0")
			}
			p.ScoreHalfSaturation = *update.ScoreHalfSaturation
		}
		out = p
		return state.Save(ctx, tx, addr, p)
	})
	if err != nil {
		return nil, err
	}
	logger.Audit().Info("平台参数已更新",
		slog.String("signer", signer.String()),
		slog.String("oracle", out.Oracle.String()),
		slog.Uint64("daily_reward_pool", out.DailyRewardPool),
		slog.Int("sell_fee_bps", int(out.SellFeeBps)),
	)
	s.bus.Publish(events.Event{Kind: events.KindPlatformConfigure, Actor: signer.String(), At: s.now()})
	return out, nil
}

// Platform 返回平台账户。
func (s *Service) Platform(ctx context.Context) (*state.Platform, error) {
	var out *state.Platform
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, p, err := Load(ctx, tx, s.derive)
		out = p
		return err
	})
	return out, err
}

// Load 在事务中读取平台账户。
func Load(ctx context.Context, tx storage.Tx, derive *address.Deriver) (solana.PublicKey, *state.Platform, error) {
	addr, err := derive.Platform()
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	p := new(state.Platform)
	if err := state.Load(ctx, tx, addr.Address, p); err != nil {
		return solana.PublicKey{}, nil, err
	}
	return addr.Address, p, nil
}

// RequireAuthority 校验签名者是否为平台管理员。
func RequireAuthority(p *state.Platform, signer solana.PublicKey) error {
	if !p.Authority.Equals(signer) {
		return xerrors.New(xerrors.CodeUnauthorized, "签名者不是平台管理员",
			xerrors.WithMetadata("signer", signer.String()))
	}
	return nil
}

func invalid(field, msg string, opts ...xerrors.Option) error {
	opts = append(opts, xerrors.WithMetadata(xerrors.MetaField, field))
	return xerrors.New(xerrors.CodeInvalidParameters, msg, opts...)
}
