package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/observability/alerting"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/internal/platform/platformtest"
)

type alertRecorder struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *alertRecorder) Notify(_ context.Context, ev alerting.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *alertRecorder) stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Stage)
	}
	return out
}

type flakyIngestor struct {
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyIngestor) SubmitUpdate(_ context.Context, _ solana.PublicKey, upd oracle.Update) (*oracle.UpdateResult, error) {
	f.calls.Add(1)
	if f.failures.Add(-1) >= 0 {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "temporarily unavailable")
	}
	return &oracle.UpdateResult{AgentID: upd.AgentID, UpdateID: upd.ID}, nil
}

func TestSignAndVerify(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	signed, err := Sign(oracle.Update{ID: "u1", AgentID: "alpha", Likes: 3, Timestamp: 1_700_000_000}, key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := signed.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}
	payload, err := signed.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSignedUpdate(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := decoded.Verify(); err != nil {
		t.Fatalf("verify decoded: %v", err)
	}

	decoded.Update.Likes = 300
	if err := decoded.Verify(); !errors.Is(err, xerrors.ErrUnauthorized) {
		t.Fatalf("tampered update should fail verification, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("condition not met in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestProcessorIngestsSignedUpdates(t *testing.T) {
	f := platformtest.New(t)
	f.CreateAgent(t, "alpha")
	ing := oracle.NewIngestor(f.Store, f.Deriver, oracle.WithClock(f.Clock.Now))
	queue := NewMemoryQueue(16)
	alerts := &alertRecorder{}
	var done atomic.Int32
	proc := NewProcessor(ing, queue, queue,
		WithWorkerCount(2),
		WithAlertDispatcher(alerts),
		WithResultHook(func(*oracle.UpdateResult, error) { done.Add(1) }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = proc.Start(ctx) }()

	ts := f.Clock.Now().Unix()
	good, err := Sign(oracle.Update{ID: "u1", AgentID: "alpha", Likes: 1_000, Timestamp: ts}, f.Oracle)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	forged, err := Sign(oracle.Update{ID: "u2", AgentID: "alpha", Likes: 1_000, Timestamp: ts}, solana.NewWallet().PrivateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	for _, s := range []*SignedUpdate{good, forged} {
		if err := Publish(ctx, queue, s); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := queue.Publish(ctx, []byte("not json")); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}

	waitFor(t, func() bool { return done.Load() == 2 && len(alerts.stages()) == 2 })

	perf, err := ing.PerformanceScore(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("performance: %v", err)
	}
	if perf.Metrics.DailyLikes != 1_000 {
		t.Fatalf("forged update must not count, daily likes = %d", perf.Metrics.DailyLikes)
	}
	stages := alerts.stages()
	seen := map[string]bool{}
	for _, s := range stages {
		seen[s] = true
	}
	if !seen["decode"] || !seen["terminal"] {
		t.Fatalf("unexpected alert stages %v", stages)
	}
}

func TestProcessorRequeuesRetryableFailures(t *testing.T) {
	ing := &flakyIngestor{}
	ing.failures.Store(2)
	queue := NewMemoryQueue(4)
	alerts := &alertRecorder{}
	proc := NewProcessor(ing, queue, queue, WithAlertDispatcher(alerts), WithMaxAttempts(5))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = proc.Start(ctx) }()

	signed, err := Sign(oracle.Update{ID: "u1", AgentID: "alpha"}, solana.NewWallet().PrivateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Publish(ctx, queue, signed); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return ing.calls.Load() == 3 })
	if len(alerts.stages()) != 0 {
		t.Fatalf("retryable failures should not alert: %v", alerts.stages())
	}
}

func TestProcessorGivesUpAfterMaxAttempts(t *testing.T) {
	ing := &flakyIngestor{}
	ing.failures.Store(100)
	queue := NewMemoryQueue(4)
	alerts := &alertRecorder{}
	proc := NewProcessor(ing, queue, queue, WithAlertDispatcher(alerts), WithMaxAttempts(3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = proc.Start(ctx) }()

	signed, err := Sign(oracle.Update{ID: "u1", AgentID: "alpha"}, solana.NewWallet().PrivateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := Publish(ctx, queue, signed); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, func() bool { return len(alerts.stages()) == 1 })
	if got := ing.calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}
