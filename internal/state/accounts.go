package state

import (
	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/curve"
)

// Platform is the singleton configuration account.
type Platform struct {
	Authority           solana.PublicKey
	PaymentMint         solana.PublicKey
	PaymentDecimals     uint8
	Oracle              solana.PublicKey
	DailyRewardPool     uint64
	SellFeeBps          uint16
	ScoreHalfSaturation uint64
	TotalAgents         uint64
	CreatedAt           int64
	Bump                uint8
}

func (*Platform) AccountName() string { return "Platform" }

// CurveParams is the on-account form of curve.Params.
type CurveParams struct {
	BasePrice   uint64
	CurveFactor uint64
	MaxSupply   uint64
}

// PerformanceMetrics accumulates oracle-reported engagement.
type PerformanceMetrics struct {
	TotalLikes     uint64
	TotalViews     uint64
	TotalComments  uint64
	TotalFollowers uint64
	LastUpdated    int64

	// Counters of the UTC day DailyPeriod.
	DailyPeriod       int64
	DailyLikes        uint64
	DailyViews        uint64
	DailyComments     uint64
	DailyNewFollowers uint64

	// Score frozen when the daily counters rolled over.
	ClosedPeriod int64
	ClosedScore  uint64
}

// Agent is the per-agent record.
type Agent struct {
	AgentID             string
	Name                string
	Symbol              string
	URI                 string
	Authority           solana.PublicKey
	TokenMint           solana.PublicKey
	Reserve             solana.PublicKey
	TokenDecimals       uint8
	Curve               CurveParams
	CirculatingSupply   uint64
	SupplyCheckpoint    Checkpoint
	ReserveBalance      uint64
	TotalVolume         uint64
	Performance         PerformanceMetrics
	TotalRewardsClaimed uint64
	CurveExhaustedAt    int64
	CreatedAt           int64
	Bump                uint8
}

func (*Agent) AccountName() string { return "Agent" }

// Params returns the pricing parameters of the agent.
func (a *Agent) Params() curve.Params {
	return curve.Params{
		BasePrice:     a.Curve.BasePrice,
		CurveFactor:   a.Curve.CurveFactor,
		MaxSupply:     a.Curve.MaxSupply,
		TokenDecimals: a.TokenDecimals,
	}
}

// Mint tracks the supply of one token.
type Mint struct {
	Authority solana.PublicKey
	Supply    uint64
	Decimals  uint8
}

func (*Mint) AccountName() string { return "Mint" }

// TokenAccount holds a balance of one mint for one owner.
type TokenAccount struct {
	Mint       solana.PublicKey
	Owner      solana.PublicKey
	Amount     uint64
	Checkpoint Checkpoint
}

func (*TokenAccount) AccountName() string { return "TokenAccount" }

// UserRewards is a holder's claim watermark for one agent.
type UserRewards struct {
	User              solana.PublicKey
	Agent             solana.PublicKey
	LastClaimedPeriod int64
	CumulativeClaimed uint64
	LastClaimAt       int64
	Bump              uint8
}

func (*UserRewards) AccountName() string { return "UserRewards" }

// NoClaim is the watermark of a holder that never claimed.
const NoClaim int64 = -1

// RewardPeriod is the settlement of one period's pool across agents.
type RewardPeriod struct {
	Period       int64
	DailyPool    uint64
	TotalScore   uint64
	ActiveAgents uint64
	SettledAt    int64
}

func (*RewardPeriod) AccountName() string { return "RewardPeriod" }

// PeriodShare is one agent's allotment of a settled period.
type PeriodShare struct {
	Agent          solana.PublicKey
	Period         int64
	Score          uint64
	Allotment      uint64
	SnapshotSupply uint64
	Claimed        uint64
	Claims         uint64
}

func (*PeriodShare) AccountName() string { return "PeriodShare" }

// Receipt records the outcome of an idempotent operation.
type Receipt struct {
	Signer    solana.PublicKey
	Ref       string
	Operation string
	AgentID   string
	AmountIn  uint64
	AmountOut uint64
	Fee       uint64
	Period    int64
	TxRef     string
	CreatedAt int64
}

func (*Receipt) AccountName() string { return "Receipt" }
