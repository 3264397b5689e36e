package curve

import (
	stdErrors "errors"
	"math/rand"
	"testing"

	xerrors "XGrowth-Chain/internal/errors"
)

const (
	tokenUnit   = 1_000_000_000
	paymentUnit = 1_000_000
)

func canonical() Params {
	return Params{
		BasePrice:     10_000, // 0.01 payment per token
		CurveFactor:   CurveFactorUnit,
		MaxSupply:     1_000_000 * tokenUnit,
		TokenDecimals: 9,
	}
}

func TestSpotPriceEndpoints(t *testing.T) {
	p := canonical()
	start, err := SpotPrice(p, 0)
	if err != nil {
		t.Fatalf("spot at zero: %v", err)
	}
	if start != p.BasePrice {
		t.Fatalf("spot(0) = %d, want %d", start, p.BasePrice)
	}
	end, err := SpotPrice(p, p.MaxSupply)
	if err != nil {
		t.Fatalf("spot at max: %v", err)
	}
	if end != 4*p.BasePrice {
		t.Fatalf("spot(max) = %d, want %d", end, 4*p.BasePrice)
	}
	half, _ := SpotPrice(p, p.MaxSupply/2)
	if half != 22_500 {
		t.Fatalf("spot(max/2) = %d, want 22500", half)
	}
}

func TestSpotPriceMonotonic(t *testing.T) {
	for _, factor := range []uint64{1, CurveFactorUnit / 2, CurveFactorUnit, MaxCurveFactor} {
		p := canonical()
		p.CurveFactor = factor
		prev := uint64(0)
		step := p.MaxSupply / 997
		for s := uint64(0); s <= p.MaxSupply; s += step {
			price, err := SpotPrice(p, s)
			if err != nil {
				t.Fatalf("factor %d supply %d: %v", factor, s, err)
			}
			if price < prev {
				t.Fatalf("factor %d: price decreased at supply %d (%d < %d)", factor, s, price, prev)
			}
			prev = price
		}
	}
}

func TestInvalidParameters(t *testing.T) {
	cases := map[string]Params{
		"zero max":      {BasePrice: 1, CurveFactor: CurveFactorUnit, MaxSupply: 0, TokenDecimals: 9},
		"zero base":     {BasePrice: 0, CurveFactor: CurveFactorUnit, MaxSupply: 10, TokenDecimals: 9},
		"zero factor":   {BasePrice: 1, CurveFactor: 0, MaxSupply: 10, TokenDecimals: 9},
		"steep factor":  {BasePrice: 1, CurveFactor: MaxCurveFactor + 1, MaxSupply: 10, TokenDecimals: 9},
		"wide decimals": {BasePrice: 1, CurveFactor: CurveFactorUnit, MaxSupply: 10, TokenDecimals: 19},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := SpotPrice(p, 0); !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
				t.Fatalf("expected INVALID_PARAMETERS, got %v", err)
			}
		})
	}
	if _, err := SpotPrice(canonical(), canonical().MaxSupply+1); !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("supply above max must be rejected, got %v", err)
	}
}

func TestTokensOutScenario(t *testing.T) {
	out, err := TokensOutForPayment(canonical(), 0, 1*paymentUnit)
	if err != nil {
		t.Fatalf("tokens out: %v", err)
	}
	if out != 100*tokenUnit {
		t.Fatalf("1 payment unit bought %d base units, want %d", out, 100*tokenUnit)
	}
}

func TestQuoteBuyExhaustion(t *testing.T) {
	p := canonical()
	if _, err := QuoteBuy(p, p.MaxSupply, paymentUnit); !stdErrors.Is(err, xerrors.ErrCurveExhausted) {
		t.Fatalf("buy at max supply: expected CURVE_EXHAUSTED, got %v", err)
	}
	nearlyFull := p.MaxSupply - tokenUnit
	_, err := QuoteBuy(p, nearlyFull, 1_000*paymentUnit)
	if !stdErrors.Is(err, xerrors.ErrCurveExhausted) {
		t.Fatalf("crossing max supply: expected CURVE_EXHAUSTED, got %v", err)
	}
	e, _ := xerrors.From(err)
	if e.Metadata()[xerrors.MetaAvailable] != "1000000000" {
		t.Fatalf("unexpected remaining supply metadata: %v", e.Metadata())
	}
}

func TestQuoteBuyDustRejected(t *testing.T) {
	p := canonical()
	p.TokenDecimals = 0
	if _, err := QuoteBuy(p, 0, 1); !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("expected INVALID_PARAMETERS for dust payment, got %v", err)
	}
}

func TestRoundTripNeverProfits(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, factor := range []uint64{CurveFactorUnit / 10, CurveFactorUnit, 5 * CurveFactorUnit} {
		p := canonical()
		p.CurveFactor = factor
		for i := 0; i < 2000; i++ {
			supply := uint64(rng.Int63n(int64(p.MaxSupply / 2)))
			spot, err := SpotPrice(p, supply)
			if err != nil {
				t.Fatalf("spot: %v", err)
			}
			// Existing holders are backed by at most the curve value of their tokens.
			fullBacking, err := MulDiv(supply, spot, p.Unit())
			if err != nil {
				t.Fatalf("backing: %v", err)
			}
			reserve, _ := MulDiv(fullBacking, uint64(rng.Intn(101)), 100)
			payment := uint64(rng.Int63n(10_000*paymentUnit)) + 1
			buy, err := QuoteBuy(p, supply, payment)
			if err != nil {
				continue
			}
			sell, err := QuoteSell(p, buy.SupplyAfter, reserve+payment, buy.TokensOut, 0)
			if err != nil {
				continue
			}
			if sell.NetOut > payment {
				t.Fatalf("round trip profit: paid %d, got back %d (supply %d factor %d)", payment, sell.NetOut, supply, factor)
			}
		}
	}
}

func TestQuoteSellFee(t *testing.T) {
	p := canonical()
	supply := 500_000 * uint64(tokenUnit)
	q, err := QuoteSell(p, supply, 100_000*paymentUnit, 100*tokenUnit, 100)
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}
	// 100 tokens at spot(500k) = 0.0225 each.
	if q.ReserveCapped || q.CurveOut != 2_250_000 || q.GrossOut != q.CurveOut {
		t.Fatalf("expected an uncapped pre-sale price, got %+v", q)
	}
	if q.Fee != q.GrossOut/100 {
		t.Fatalf("fee = %d, want 1%% of %d", q.Fee, q.GrossOut)
	}
	if q.NetOut+q.Fee != q.GrossOut {
		t.Fatalf("net + fee must equal gross")
	}
	if q.SpotAfter > q.SpotBefore {
		t.Fatalf("selling must not raise the spot price")
	}
	if _, err := QuoteSell(p, 10, 10, 11, 0); !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("selling more than supply must be rejected, got %v", err)
	}
}

func TestQuoteSellCappedByReserveShare(t *testing.T) {
	p := canonical()
	supply := 100_000 * uint64(tokenUnit)
	reserve := 1_000 * uint64(paymentUnit)

	q, err := QuoteSell(p, supply, reserve, supply/4, 100)
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}
	if !q.ReserveCapped || q.GrossOut != reserve/4 || q.CurveOut <= q.GrossOut {
		t.Fatalf("expected payout capped at a quarter of the reserve, got %+v", q)
	}

	all, err := QuoteSell(p, supply, reserve, supply, 0)
	if err != nil {
		t.Fatalf("quote full exit: %v", err)
	}
	if all.NetOut != reserve {
		t.Fatalf("last holder must receive the whole reserve, got %d", all.NetOut)
	}

	if _, err := QuoteSell(p, supply, 0, supply, 0); !stdErrors.Is(err, xerrors.ErrInsufficientReserve) {
		t.Fatalf("expected INSUFFICIENT_RESERVE for an empty reserve, got %v", err)
	}
}

func TestPriceImpactBps(t *testing.T) {
	if got := PriceImpactBps(10_000, 10_100); got != 100 {
		t.Fatalf("impact = %d, want 100", got)
	}
	if got := PriceImpactBps(10_000, 9_900); got != 100 {
		t.Fatalf("impact = %d, want 100", got)
	}
	if got := PriceImpactBps(0, 5); got != 0 {
		t.Fatalf("zero base impact = %d", got)
	}
}
