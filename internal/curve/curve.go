// Package curve prices agent tokens on a quadratic bonding curve.
//
// Prices are integers: payment-asset base units per one whole agent token
// (10^TokenDecimals base units). All intermediate products are computed in
// 256 bits, so no operation rounds before its final floor division.
package curve

import (
	"github.com/holiman/uint256"

	xerrors "XGrowth-Chain/internal/errors"
)

const (
	// CurveFactorUnit is the fixed-point scale of Params.CurveFactor. A factor
	// equal to CurveFactorUnit yields base*(1 + supply/max)^2.
	CurveFactorUnit uint64 = 1_000_000
	// MaxCurveFactor caps steepness so the terminal price stays below 101^2 * base.
	MaxCurveFactor = 100 * CurveFactorUnit
	// MaxTokenDecimals bounds the token precision accepted by the engine.
	MaxTokenDecimals = 18
	// BpsDenominator is the basis point scale used for fees and impact.
	BpsDenominator uint64 = 10_000
)

// Params describes one agent's curve.
type Params struct {
	BasePrice     uint64 `json:"base_price"`
	CurveFactor   uint64 `json:"curve_factor"`
	MaxSupply     uint64 `json:"max_supply"`
	TokenDecimals uint8  `json:"token_decimals"`
}

// Validate rejects parameters for which the curve is undefined.
func (p Params) Validate() error {
	switch {
	case p.MaxSupply == 0:
		return invalid("max_supply", "max supply must be positive")
	case p.BasePrice == 0:
		return invalid("base_price", "base price must be positive")
	case p.CurveFactor == 0:
		return invalid("curve_factor", "curve factor must be positive")
	case p.CurveFactor > MaxCurveFactor:
		return invalid("curve_factor", "curve factor exceeds maximum",
			xerrors.WithUint(xerrors.MetaRequired, MaxCurveFactor))
	case p.TokenDecimals > MaxTokenDecimals:
		return invalid("token_decimals", "token decimals exceed maximum")
	}
	return nil
}

// Unit returns 10^TokenDecimals, the number of base units in one whole token.
func (p Params) Unit() uint64 {
	return pow10(p.TokenDecimals)
}

// SpotPrice returns base * (1 + f*supply/max)^2 with f = CurveFactor/CurveFactorUnit.
func SpotPrice(p Params, supply uint64) (uint64, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	if supply > p.MaxSupply {
		return 0, invalid("supply", "supply exceeds max supply",
			xerrors.WithUint(xerrors.MetaActual, supply),
			xerrors.WithUint(xerrors.MetaAvailable, p.MaxSupply))
	}
	scale := new(uint256.Int).Mul(uint256.NewInt(p.MaxSupply), uint256.NewInt(CurveFactorUnit))
	num := new(uint256.Int).Mul(uint256.NewInt(p.CurveFactor), uint256.NewInt(supply))
	num.Add(num, scale)
	num2 := new(uint256.Int).Mul(num, num)
	den2 := new(uint256.Int).Mul(scale, scale)

	price, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(p.BasePrice), num2, den2)
	if overflow || !price.IsUint64() {
		return 0, overflowErr("spot_price")
	}
	return price.Uint64(), nil
}

// TokensOutForPayment returns floor(payment * unit / spot(supply)). The whole
// payment is priced at the current spot, which slightly favors the buyer
// compared with integrating along the curve.
func TokensOutForPayment(p Params, supply, payment uint64) (uint64, error) {
	spot, err := SpotPrice(p, supply)
	if err != nil {
		return 0, err
	}
	return MulDiv(payment, p.Unit(), spot)
}

// PaymentOutForTokens returns floor(tokens * spot(supply) / unit). Callers pass
// the supply at which the tokens are priced; sells use the post-sale supply.
func PaymentOutForTokens(p Params, supply, tokens uint64) (uint64, error) {
	spot, err := SpotPrice(p, supply)
	if err != nil {
		return 0, err
	}
	return MulDiv(tokens, spot, p.Unit())
}

// PriceImpactBps reports |after-before|/before in basis points.
func PriceImpactBps(before, after uint64) uint64 {
	if before == 0 {
		return 0
	}
	diff := after - before
	if after < before {
		diff = before - after
	}
	bps, err := MulDiv(diff, BpsDenominator, before)
	if err != nil {
		return ^uint64(0)
	}
	return bps
}

// MulDiv computes floor(x*y/d) without intermediate overflow.
func MulDiv(x, y, d uint64) (uint64, error) {
	if d == 0 {
		return 0, invalid("denominator", "division by zero")
	}
	res, overflow := new(uint256.Int).MulDivOverflow(uint256.NewInt(x), uint256.NewInt(y), uint256.NewInt(d))
	if overflow || !res.IsUint64() {
		return 0, overflowErr("mul_div")
	}
	return res.Uint64(), nil
}

func pow10(decimals uint8) uint64 {
	v := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		v *= 10
	}
	return v
}

func invalid(field, msg string, opts ...xerrors.Option) error {
	opts = append(opts, xerrors.WithMetadata(xerrors.MetaField, field))
	return xerrors.New(xerrors.CodeInvalidParameters, msg, opts...)
}

func overflowErr(field string) error {
	return xerrors.New(xerrors.CodeArithmeticOverflow, "", xerrors.WithMetadata(xerrors.MetaField, field))
}
