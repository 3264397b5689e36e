package feed

import (
	"context"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/observability/alerting"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/pkg/logger"
)

// DefaultMaxAttempts 是可重试失败的最大处理次数。
const DefaultMaxAttempts = 5

// Ingestor 定义处理器所需的预言机能力。
type Ingestor interface {
	SubmitUpdate(ctx context.Context, reporter solana.PublicKey, upd oracle.Update) (*oracle.UpdateResult, error)
}

// Processor 从队列消费签名上报，校验后交给 Ingestor。
type Processor struct {
	ingestor    Ingestor
	consumer    Consumer
	producer    Producer
	workerCount int
	maxAttempts int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	onResult    func(*oracle.UpdateResult, error)
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithMaxAttempts 设置可重试失败的最大处理次数。
func WithMaxAttempts(n int) ProcessorOption {
	return func(p *Processor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithResultHook 在每条消息处理结束后回调，供指标与测试使用。
func WithResultHook(fn func(*oracle.UpdateResult, error)) ProcessorOption {
	return func(p *Processor) {
		p.onResult = fn
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(ingestor Ingestor, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		ingestor:    ingestor,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		maxAttempts: DefaultMaxAttempts,
		logger:      logger.Named("oracle-feed"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Publish 签名后的上报入队。
func Publish(ctx context.Context, producer Producer, update *SignedUpdate) error {
	payload, err := update.Encode()
	if err != nil {
		return err
	}
	return producer.Publish(ctx, payload)
}

// Start 启动消费循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil || p.ingestor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置上报消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// handle 处理一条消息。终止性失败被丢弃并告警；可重试失败带着递增的
// 尝试次数重新入队。只有重新入队本身失败时才返回错误，交由队列重投。
func (p *Processor) handle(ctx context.Context, payload []byte) error {
	signed, err := DecodeSignedUpdate(payload)
	if err != nil {
		p.drop(ctx, "", err, "decode")
		return nil
	}
	if err := signed.Verify(); err != nil {
		p.drop(ctx, signed.Update.ID, err, "verify")
		return nil
	}

	res, err := p.ingestor.SubmitUpdate(ctx, signed.Reporter, signed.Update)
	if p.onResult != nil {
		p.onResult(res, err)
	}
	if err == nil {
		if res != nil && res.Duplicate {
			p.logger.Debug("忽略重复上报", slog.String("update_id", signed.Update.ID))
		}
		return nil
	}

	signed.Attempts++
	if !xerrors.RetryableError(err) || signed.Attempts >= p.maxAttempts {
		p.drop(ctx, signed.Update.ID, err, "terminal")
		return nil
	}
	p.logger.Warn("上报处理失败，重新排队",
		slog.String("update_id", signed.Update.ID),
		slog.Int("attempts", signed.Attempts),
		slog.String("error", err.Error()),
	)
	if pubErr := Publish(ctx, p.producer, signed); pubErr != nil {
		p.emitAlert(ctx, signed.Update.ID, signed.Attempts, pubErr, "requeue")
		return pubErr
	}
	return nil
}

func (p *Processor) drop(ctx context.Context, updateID string, err error, stage string) {
	logger.Audit().Warn("上报被丢弃",
		slog.String("update_id", updateID),
		slog.String("stage", stage),
		slog.String("error_code", string(xerrors.CodeOf(err))),
		slog.String("error", err.Error()),
	)
	p.emitAlert(ctx, updateID, 0, err, stage)
}

func (p *Processor) emitAlert(ctx context.Context, updateID string, attempts int, cause error, stage string) {
	if p.alerter == nil {
		return
	}
	ev := alerting.FromError(cause, updateID, stage)
	ev.Attempts = attempts
	if err := p.alerter.Notify(ctx, ev); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("update_id", updateID),
			slog.String("stage", stage),
		)
	}
}
