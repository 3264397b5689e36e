// Package crank 周期性地提交 distribute_rewards 指令，使每个已结束的周期在领取窗口
// 开始后尽快结算，而不必等待第一笔领取。
package crank

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/address"
	"XGrowth-Chain/internal/ledger"
	"XGrowth-Chain/internal/observability/alerting"
	"XGrowth-Chain/internal/program"
	"XGrowth-Chain/internal/rewards"
	"XGrowth-Chain/pkg/logger"
)

// Crank 负责结算上一个周期。
type Crank struct {
	sub      ledger.Submitter
	builder  *program.Builder
	key      solana.PrivateKey
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	alerts   alerting.Dispatcher

	mu          sync.Mutex
	lastSettled int64
	hasSettled  bool
}

// Option 定义可选配置。
type Option func(*Crank)

// WithClock 注入时钟。
func WithClock(now func() time.Time) Option {
	return func(c *Crank) {
		if now != nil {
			c.now = now
		}
	}
}

// WithInterval 设置检查间隔。
func WithInterval(d time.Duration) Option {
	return func(c *Crank) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithAlertDispatcher 配置结算失败时的告警。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(c *Crank) {
		c.alerts = d
	}
}

// New 创建 Crank。sub 可以是本地运行时，也可以是远端集群。
func New(sub ledger.Submitter, derive *address.Deriver, key solana.PrivateKey, opts ...Option) *Crank {
	c := &Crank{
		sub:      sub,
		builder:  program.NewBuilder(derive, solana.PublicKey{}),
		key:      key,
		interval: time.Minute,
		now:      time.Now,
		logger:   logger.Named("crank"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Tick 在上一个周期尚未由本实例结算时提交结算交易。返回是否提交了交易。
func (c *Crank) Tick(ctx context.Context) (bool, error) {
	period := rewards.ClaimablePeriod(c.now())
	c.mu.Lock()
	done := c.hasSettled && c.lastSettled >= period
	c.mu.Unlock()
	if done {
		return false, nil
	}

	ix, err := c.builder.Build(program.DistributeRewards, c.key.PublicKey(), program.DistributeRewardsArgs{Period: period})
	if err != nil {
		return false, err
	}
	sig, err := ledger.SignAndSubmit(ctx, c.sub, c.key, []solana.Instruction{ix})
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.lastSettled, c.hasSettled = period, true
	c.mu.Unlock()
	c.logger.Info("已提交周期结算", slog.Int64("period", period), slog.String("signature", sig.String()))
	return true, nil
}

// Run 按间隔调用 Tick，直到 ctx 结束。失败只记录日志，下一次间隔重试。
func (c *Crank) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		if _, err := c.Tick(ctx); err != nil && ctx.Err() == nil {
			c.logger.Warn("周期结算失败", slog.Any("error", err))
			if c.alerts != nil {
				ev := alerting.FromError(err, program.DistributeRewards, "crank")
				ev.Attempts = 1
				if notifyErr := c.alerts.Notify(ctx, ev); notifyErr != nil {
					c.logger.Warn("发送告警失败", slog.Any("error", notifyErr))
				}
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
