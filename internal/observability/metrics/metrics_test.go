package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/events"
	"XGrowth-Chain/internal/oracle"
)

func TestCollectorFollowsEventBus(t *testing.T) {
	c := NewCollector()
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, bus) }()

	deadline := time.Now().Add(2 * time.Second)
	for bus.Publish(events.Event{Kind: events.KindBuy, AmountIn: 1_000_000}) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("collector never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	bus.Publish(events.Event{Kind: events.KindSell, AmountOut: 990_000, Fee: 10_000})
	bus.Publish(events.Event{Kind: events.KindRewardsClaimed, AmountOut: 12_000_000})
	bus.Publish(events.Event{Kind: events.KindPeriodSettled, AmountIn: 200_000_000})

	for time.Now().Before(deadline) && testutil.ToFloat64(c.settledPool) != 200_000_000 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run returned %v", err)
	}

	if got := testutil.ToFloat64(c.trades.WithLabelValues("buy")); got != 1 {
		t.Fatalf("buy trades = %v", got)
	}
	if got := testutil.ToFloat64(c.sellFees); got != 10_000 {
		t.Fatalf("sell fees = %v", got)
	}
	if got := testutil.ToFloat64(c.claimedAmount); got != 12_000_000 {
		t.Fatalf("claimed = %v", got)
	}
}

func TestRejectionsAndFeedResults(t *testing.T) {
	c := NewCollector()
	c.ObserveRejection("buy", xerrors.CodeSlippageExceeded)
	c.ObserveRejection("buy", xerrors.CodeSlippageExceeded)
	c.ObserveFeedResult(&oracle.UpdateResult{Duplicate: true}, nil)
	c.ObserveFeedResult(nil, xerrors.New(xerrors.CodeUnauthorized, "bad reporter"))

	if got := testutil.ToFloat64(c.rejections.WithLabelValues("buy", string(xerrors.CodeSlippageExceeded))); got != 2 {
		t.Fatalf("rejections = %v", got)
	}
	if got := testutil.ToFloat64(c.feedResults.WithLabelValues("duplicate")); got != 1 {
		t.Fatalf("duplicates = %v", got)
	}
	if got := testutil.ToFloat64(c.feedResults.WithLabelValues(string(xerrors.CodeUnauthorized))); got != 1 {
		t.Fatalf("unauthorized = %v", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	c := NewCollector()
	h := c.Middleware("quote", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/quote", nil))

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `xgrowth_http_requests_total{code="418",handler="quote",method="GET"} 1`) {
		t.Fatalf("request counter missing from exposition:\n%s", body)
	}
}
