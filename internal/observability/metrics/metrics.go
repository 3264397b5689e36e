// Package metrics 基于 Prometheus 导出交易、奖励、预言机与 HTTP 指标。
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/events"
	"XGrowth-Chain/internal/oracle"
)

const namespace = "xgrowth"

// Collector 汇总领域事件与请求指标。
type Collector struct {
	registry *prometheus.Registry

	trades        *prometheus.CounterVec
	tradeVolume   *prometheus.CounterVec
	sellFees      prometheus.Counter
	exhausted     prometheus.Counter
	rejections    *prometheus.CounterVec
	claims        prometheus.Counter
	claimedAmount prometheus.Counter
	settlements   prometheus.Counter
	settledPool   prometheus.Gauge
	oracleUpdates prometheus.Counter
	feedResults   *prometheus.CounterVec
	poolFunded    prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// NewCollector 创建并注册全部指标。
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trades_total", Help: "Committed curve trades.",
		}, []string{"side"}),
		tradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "trade_volume_base_units_total", Help: "Payment asset moved by trades, in base units.",
		}, []string{"side"}),
		sellFees: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sell_fees_base_units_total", Help: "Sell fees retained in reserves, in base units.",
		}),
		exhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "curves_exhausted_total", Help: "Curves that reached max supply.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "rejections_total", Help: "Rejected operations by error code.",
		}, []string{"operation", "code"}),
		claims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reward_claims_total", Help: "Successful reward claims.",
		}),
		claimedAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rewards_claimed_base_units_total", Help: "Rewards paid out, in base units.",
		}),
		settlements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reward_periods_settled_total", Help: "Settled reward periods.",
		}),
		settledPool: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_settled_pool_base_units", Help: "Daily pool of the last settled period.",
		}),
		oracleUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "oracle_updates_total", Help: "Applied performance updates.",
		}),
		feedResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "oracle_feed_results_total", Help: "Feed processor outcomes.",
		}, []string{"outcome"}),
		poolFunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reward_pool_funded_base_units_total", Help: "Payment asset added to the reward pool.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"handler", "method"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.trades, c.tradeVolume, c.sellFees, c.exhausted, c.rejections,
		c.claims, c.claimedAmount, c.settlements, c.settledPool,
		c.oracleUpdates, c.feedResults, c.poolFunded,
		c.httpRequests, c.httpDuration,
	)
	return c
}

// Registry 返回底层注册表。
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler 以 Prometheus 文本格式导出指标。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveRejection 记录一次被拒绝的操作。
func (c *Collector) ObserveRejection(operation string, code xerrors.Code) {
	c.rejections.WithLabelValues(operation, string(code)).Inc()
}

// ObserveFeedResult 记录上报处理结果，可作为 feed 处理器的回调。
func (c *Collector) ObserveFeedResult(res *oracle.UpdateResult, err error) {
	switch {
	case err != nil:
		c.feedResults.WithLabelValues(string(xerrors.CodeOf(err))).Inc()
	case res != nil && res.Duplicate:
		c.feedResults.WithLabelValues("duplicate").Inc()
	default:
		c.feedResults.WithLabelValues("applied").Inc()
	}
}

// Observe 按事件类型更新指标。
func (c *Collector) Observe(ev events.Event) {
	switch ev.Kind {
	case events.KindBuy:
		c.trades.WithLabelValues("buy").Inc()
		c.tradeVolume.WithLabelValues("buy").Add(float64(ev.AmountIn))
	case events.KindSell:
		c.trades.WithLabelValues("sell").Inc()
		c.tradeVolume.WithLabelValues("sell").Add(float64(ev.AmountOut))
		c.sellFees.Add(float64(ev.Fee))
	case events.KindCurveExhausted:
		c.exhausted.Inc()
	case events.KindRewardsClaimed:
		c.claims.Inc()
		c.claimedAmount.Add(float64(ev.AmountOut))
	case events.KindPeriodSettled:
		c.settlements.Inc()
		c.settledPool.Set(float64(ev.AmountIn))
	case events.KindPerformance:
		c.oracleUpdates.Inc()
	case events.KindRewardPoolFunded:
		c.poolFunded.Add(float64(ev.AmountIn))
	}
}

// Run 订阅事件总线直到 ctx 结束。
func (c *Collector) Run(ctx context.Context, bus *events.Bus) error {
	ch := make(chan events.Event, 256)
	sub := bus.Subscribe(ch)
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case ev := <-ch:
			c.Observe(ev)
		}
	}
}

// Middleware 记录请求数量与耗时。
func (c *Collector) Middleware(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		c.httpRequests.WithLabelValues(handler, r.Method, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(handler, r.Method).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
