package crank

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/market"
	"XGrowth-Chain/internal/observability/alerting"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/internal/platform/platformtest"
	"XGrowth-Chain/internal/program"
	"XGrowth-Chain/internal/rewards"
	"XGrowth-Chain/internal/state"
)

type countingSubmitter struct {
	*program.Runtime
	submits int
}

func (s *countingSubmitter) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	s.submits++
	return s.Runtime.Submit(ctx, tx)
}

func TestTickSettlesPreviousPeriodOnce(t *testing.T) {
	f := platformtest.New(t)
	ctx := context.Background()
	ledger := rewards.NewLedger(f.Store, f.Deriver, rewards.WithClock(f.Clock.Now))
	ingest := oracle.NewIngestor(f.Store, f.Deriver, oracle.WithClock(f.Clock.Now))
	sub := &countingSubmitter{Runtime: program.NewRuntime(f.Deriver, program.Services{
		Platform: f.Platform,
		Market:   market.NewExecutor(f.Store, f.Deriver, market.WithClock(f.Clock.Now)),
		Oracle:   ingest,
		Rewards:  ledger,
	}, program.WithClock(f.Clock.Now))}

	f.FundPool(t, platformtest.DailyPool)
	f.CreateAgent(t, "alpha")
	day := state.PeriodAt(f.Clock.Now())
	if _, err := ingest.SubmitUpdate(ctx, f.Oracle.PublicKey(), oracle.Update{
		ID: "u-1", AgentID: "alpha", Likes: 100, Timestamp: f.Clock.Now().Unix(),
	}); err != nil {
		t.Fatalf("oracle update: %v", err)
	}
	f.Clock.Advance(24 * time.Hour)

	c := New(sub, f.Deriver, solana.NewWallet().PrivateKey, WithClock(f.Clock.Now))
	submitted, err := c.Tick(ctx)
	if err != nil || !submitted {
		t.Fatalf("first tick: %v %v", submitted, err)
	}
	s, err := ledger.Settlement(ctx, day)
	if err != nil {
		t.Fatalf("settlement: %v", err)
	}
	if s.DailyPool != platformtest.DailyPool || len(s.Shares) != 1 {
		t.Fatalf("unexpected settlement %+v", s)
	}

	submitted, err = c.Tick(ctx)
	if err != nil || submitted {
		t.Fatalf("second tick: %v %v", submitted, err)
	}
	if sub.submits != 1 {
		t.Fatalf("submits = %d", sub.submits)
	}
}

type recordingDispatcher struct {
	events []alerting.Event
}

func (d *recordingDispatcher) Notify(_ context.Context, ev alerting.Event) error {
	d.events = append(d.events, ev)
	return nil
}

type failingSubmitter struct{}

func (failingSubmitter) RecentBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{}, xerrors.New(xerrors.CodeLedgerFailure, "rpc unavailable")
}

func (failingSubmitter) Submit(context.Context, *solana.Transaction) (solana.Signature, error) {
	return solana.Signature{}, nil
}

func TestRunAlertsOnFailure(t *testing.T) {
	f := platformtest.New(t)
	alerts := &recordingDispatcher{}
	c := New(failingSubmitter{}, f.Deriver, solana.NewWallet().PrivateKey,
		WithClock(f.Clock.Now), WithInterval(time.Hour), WithAlertDispatcher(alerts))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
	if len(alerts.events) != 1 || alerts.events[0].Code != xerrors.CodeLedgerFailure {
		t.Fatalf("unexpected alerts %+v", alerts.events)
	}
}
