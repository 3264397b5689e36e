// Package platformtest builds an initialized in-memory platform for tests.
package platformtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/address"
	"XGrowth-Chain/internal/events"
	"XGrowth-Chain/internal/platform"
	"XGrowth-Chain/internal/storage"
)

const (
	// PaymentUnit is one whole payment asset (6 decimals).
	PaymentUnit uint64 = 1_000_000
	// TokenUnit is one whole agent token (9 decimals).
	TokenUnit uint64 = 1_000_000_000
	// BasePrice is 0.01 payment asset per token.
	BasePrice uint64 = 10_000
	// MaxSupply is one million whole tokens.
	MaxSupply = 1_000_000 * TokenUnit
	// DailyPool is the reward pool used by default.
	DailyPool = 200 * PaymentUnit
)

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts at t.
func NewClock(t time.Time) *Clock { return &Clock{now: t} }

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Fixture bundles an initialized platform.
type Fixture struct {
	Store       *storage.MemoryStore
	Deriver     *address.Deriver
	Bus         *events.Bus
	Clock       *Clock
	Platform    *platform.Service
	Authority   solana.PrivateKey
	Oracle      solana.PrivateKey
	PaymentMint solana.PublicKey
}

// New initializes a platform with a 1% sell fee and DailyPool rewards.
func New(t testing.TB) *Fixture {
	t.Helper()
	f := &Fixture{
		Store:       storage.NewMemoryStore(),
		Deriver:     address.NewDeriver(address.DefaultProgramID()),
		Bus:         events.NewBus(),
		Clock:       NewClock(time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)),
		Authority:   solana.NewWallet().PrivateKey,
		Oracle:      solana.NewWallet().PrivateKey,
		PaymentMint: solana.NewWallet().PublicKey(),
	}
	f.Platform = platform.NewService(f.Store, f.Deriver, platform.WithClock(f.Clock.Now), platform.WithEventBus(f.Bus))
	_, err := f.Platform.InitializePlatform(context.Background(), f.Authority.PublicKey(), platform.InitParams{
		PaymentMint:     f.PaymentMint,
		PaymentDecimals: 6,
		Oracle:          f.Oracle.PublicKey(),
		DailyRewardPool: DailyPool,
		SellFeeBps:      platform.DefaultSellFeeBps,
	})
	if err != nil {
		t.Fatalf("initialize platform: %v", err)
	}
	return f
}

// CreateAgent registers an agent on the canonical curve.
func (f *Fixture) CreateAgent(t testing.TB, id string) *platform.AgentView {
	t.Helper()
	view, err := f.Platform.CreateAgent(context.Background(), f.Authority.PublicKey(), platform.AgentParams{
		AgentID:   id,
		Name:      "Agent " + id,
		Symbol:    "AGT",
		BasePrice: BasePrice,
		MaxSupply: MaxSupply,
	})
	if err != nil {
		t.Fatalf("create agent %s: %v", id, err)
	}
	return view
}

// NewUser returns a fresh wallet credited with payment base units.
func (f *Fixture) NewUser(t testing.TB, payment uint64) solana.PrivateKey {
	t.Helper()
	user := solana.NewWallet().PrivateKey
	if payment > 0 {
		f.Deposit(t, user.PublicKey(), payment)
	}
	return user
}

// Deposit credits owner with payment base units.
func (f *Fixture) Deposit(t testing.TB, owner solana.PublicKey, amount uint64) {
	t.Helper()
	if _, err := f.Platform.Deposit(context.Background(), f.Authority.PublicKey(), owner, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

// FundPool deposits amount to the authority and moves it into the reward pool.
func (f *Fixture) FundPool(t testing.TB, amount uint64) {
	t.Helper()
	f.Deposit(t, f.Authority.PublicKey(), amount)
	if _, err := f.Platform.FundRewardPool(context.Background(), f.Authority.PublicKey(), amount); err != nil {
		t.Fatalf("fund reward pool: %v", err)
	}
}
