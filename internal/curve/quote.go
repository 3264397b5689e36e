package curve

import (
	xerrors "XGrowth-Chain/internal/errors"
)

// BuyQuote is the result of pricing a payment against the curve.
type BuyQuote struct {
	Payment        uint64
	TokensOut      uint64
	SupplyBefore   uint64
	SupplyAfter    uint64
	SpotBefore     uint64
	SpotAfter      uint64
	PriceImpactBps uint64
}

// SellQuote is the result of pricing a token return against the curve.
type SellQuote struct {
	Tokens uint64
	// CurveOut is tokens priced at SpotBefore, before the reserve cap.
	CurveOut       uint64
	GrossOut       uint64
	Fee            uint64
	NetOut         uint64
	ReserveCapped  bool
	SupplyBefore   uint64
	SupplyAfter    uint64
	SpotBefore     uint64
	SpotAfter      uint64
	PriceImpactBps uint64
}

// QuoteBuy prices a purchase of payment base units at the given supply.
// It fails with CURVE_EXHAUSTED when the purchase would cross max supply.
func QuoteBuy(p Params, supply, payment uint64) (BuyQuote, error) {
	if err := p.Validate(); err != nil {
		return BuyQuote{}, err
	}
	if payment == 0 {
		return BuyQuote{}, invalid("payment_amount", "payment amount must be positive")
	}
	if supply >= p.MaxSupply {
		return BuyQuote{}, xerrors.New(xerrors.CodeCurveExhausted, "curve has reached max supply",
			xerrors.WithUint(xerrors.MetaActual, supply),
			xerrors.WithUint(xerrors.MetaAvailable, 0))
	}
	spotBefore, err := SpotPrice(p, supply)
	if err != nil {
		return BuyQuote{}, err
	}
	tokens, err := MulDiv(payment, p.Unit(), spotBefore)
	if err != nil {
		return BuyQuote{}, err
	}
	if tokens == 0 {
		return BuyQuote{}, invalid("payment_amount", "payment too small to buy any token",
			xerrors.WithUint(xerrors.MetaRequiredMin, spotBefore/p.Unit()+1))
	}
	remaining := p.MaxSupply - supply
	if tokens > remaining {
		return BuyQuote{}, xerrors.New(xerrors.CodeCurveExhausted, "purchase exceeds remaining supply",
			xerrors.WithUint(xerrors.MetaRequired, tokens),
			xerrors.WithUint(xerrors.MetaAvailable, remaining))
	}
	after := supply + tokens
	spotAfter, err := SpotPrice(p, after)
	if err != nil {
		return BuyQuote{}, err
	}
	return BuyQuote{
		Payment:        payment,
		TokensOut:      tokens,
		SupplyBefore:   supply,
		SupplyAfter:    after,
		SpotBefore:     spotBefore,
		SpotAfter:      spotAfter,
		PriceImpactBps: PriceImpactBps(spotBefore, spotAfter),
	}, nil
}

// QuoteSell prices returning tokens at the pre-sale spot price and caps the
// gross payout at the seller's pro-rata share of the reserve,
// reserve·tokens/supply, before deducting feeBps. The cap keeps the reserve
// backing every remaining token at no less than its current ratio, so the
// last holder can always exit. It fails with INSUFFICIENT_RESERVE when the
// capped payout rounds to zero.
func QuoteSell(p Params, supply, reserve, tokens uint64, feeBps uint64) (SellQuote, error) {
	if err := p.Validate(); err != nil {
		return SellQuote{}, err
	}
	if tokens == 0 {
		return SellQuote{}, invalid("token_amount", "token amount must be positive")
	}
	if tokens > supply {
		return SellQuote{}, invalid("token_amount", "token amount exceeds circulating supply",
			xerrors.WithUint(xerrors.MetaRequired, tokens),
			xerrors.WithUint(xerrors.MetaAvailable, supply))
	}
	if feeBps > BpsDenominator {
		return SellQuote{}, invalid("sell_fee_bps", "fee exceeds 100%")
	}
	spotBefore, err := SpotPrice(p, supply)
	if err != nil {
		return SellQuote{}, err
	}
	after := supply - tokens
	spotAfter, err := SpotPrice(p, after)
	if err != nil {
		return SellQuote{}, err
	}
	curveOut, err := MulDiv(tokens, spotBefore, p.Unit())
	if err != nil {
		return SellQuote{}, err
	}
	share, err := MulDiv(reserve, tokens, supply)
	if err != nil {
		return SellQuote{}, err
	}
	gross, capped := curveOut, false
	if share < gross {
		gross, capped = share, true
	}
	fee, err := MulDiv(gross, feeBps, BpsDenominator)
	if err != nil {
		return SellQuote{}, err
	}
	net := gross - fee
	if net == 0 {
		if capped {
			return SellQuote{}, xerrors.New(xerrors.CodeInsufficientReserve, "reserve share rounds to zero",
				xerrors.WithUint(xerrors.MetaAvailable, reserve),
				xerrors.WithUint(xerrors.MetaRequired, curveOut))
		}
		return SellQuote{}, invalid("token_amount", "token amount too small to receive any payment")
	}
	return SellQuote{
		Tokens:         tokens,
		CurveOut:       curveOut,
		GrossOut:       gross,
		Fee:            fee,
		NetOut:         net,
		ReserveCapped:  capped,
		SupplyBefore:   supply,
		SupplyAfter:    after,
		SpotBefore:     spotBefore,
		SpotAfter:      spotAfter,
		PriceImpactBps: PriceImpactBps(spotBefore, spotAfter),
	}, nil
}
