// Package program builds and executes the program's instructions.
//
// Instruction data follows the Anchor layout: an 8-byte discriminator,
// sha256("global:<name>")[:8], followed by the Borsh encoding of the
// instruction's args. Every args struct that carries an amount also declares
// the decimal precision the amount is expressed in; the runtime rejects
// declarations that disagree with the on-ledger mints.
package program

import (
	"bytes"
	"crypto/sha256"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/address"
	xerrors "XGrowth-Chain/internal/errors"
)

// Instruction names.
const (
	InitializePlatform = "initialize_platform"
	ConfigurePlatform  = "configure_platform"
	CreateAgent        = "create_agent"
	BuyFromCurve       = "buy_from_curve"
	SellToCurve        = "sell_to_curve"
	UpdatePerformance  = "update_performance"
	DistributeRewards  = "distribute_rewards"
	ClaimRewards       = "claim_rewards"
	FundRewardPool     = "fund_reward_pool"
	Deposit            = "deposit"
)

// Names lists every instruction in a stable order.
var Names = []string{
	InitializePlatform, ConfigurePlatform, CreateAgent, BuyFromCurve, SellToCurve,
	UpdatePerformance, DistributeRewards, ClaimRewards, FundRewardPool, Deposit,
}

// DiscriminatorLength is the size of the instruction tag.
const DiscriminatorLength = 8

// Discriminator returns the tag of the named instruction.
func Discriminator(name string) [DiscriminatorLength]byte {
	sum := sha256.Sum256([]byte("global:" + name))
	var out [DiscriminatorLength]byte
	copy(out[:], sum[:DiscriminatorLength])
	return out
}

var byDiscriminator = func() map[[DiscriminatorLength]byte]string {
	m := make(map[[DiscriminatorLength]byte]string, len(Names))
	for _, n := range Names {
		m[Discriminator(n)] = n
	}
	return m
}()

// InitializePlatformArgs are the args of initialize_platform.
type InitializePlatformArgs struct {
	PaymentMint         solana.PublicKey
	PaymentDecimals     uint8
	Oracle              solana.PublicKey
	DailyRewardPool     uint64
	SellFeeBps          uint16
	ScoreHalfSaturation uint64
}

// ConfigurePlatformArgs are the args of configure_platform. Nil fields are
// left unchanged.
type ConfigurePlatformArgs struct {
	PaymentDecimals     uint8
	Authority           *solana.PublicKey `bin:"optional"`
	Oracle              *solana.PublicKey `bin:"optional"`
	DailyRewardPool     *uint64           `bin:"optional"`
	SellFeeBps          *uint16           `bin:"optional"`
	ScoreHalfSaturation *uint64           `bin:"optional"`
}

// CreateAgentArgs are the args of create_agent. BasePrice is expressed in
// PaymentDecimals, MaxSupply in TokenDecimals.
type CreateAgentArgs struct {
	AgentID         string
	Name            string
	Symbol          string
	URI             string
	BasePrice       uint64
	PaymentDecimals uint8
	CurveFactor     uint64
	MaxSupply       uint64
	TokenDecimals   uint8
}

// BuyArgs are the args of buy_from_curve.
type BuyArgs struct {
	AgentID         string
	PaymentAmount   uint64
	PaymentDecimals uint8
	MinTokensOut    uint64
	TokenDecimals   uint8
}

// SellArgs are the args of sell_to_curve.
type SellArgs struct {
	AgentID         string
	TokenAmount     uint64
	TokenDecimals   uint8
	MinPaymentOut   uint64
	PaymentDecimals uint8
}

// UpdatePerformanceArgs are the args of update_performance.
type UpdatePerformanceArgs struct {
	UpdateID     string
	AgentID      string
	Likes        uint64
	Views        uint64
	Comments     uint64
	NewFollowers uint64
	Timestamp    int64
}

// DistributeRewardsArgs are the args of distribute_rewards.
type DistributeRewardsArgs struct {
	Period int64
}

// ClaimRewardsArgs are the args of claim_rewards.
type ClaimRewardsArgs struct {
	AgentID string
}

// FundRewardPoolArgs are the args of fund_reward_pool.
type FundRewardPoolArgs struct {
	Amount          uint64
	PaymentDecimals uint8
}

// DepositArgs are the args of deposit.
type DepositArgs struct {
	Owner           solana.PublicKey
	Amount          uint64
	PaymentDecimals uint8
}

// Builder produces unsigned instructions. The payment mint is needed for the
// payment token accounts and may be zero when only initialize_platform is
// built.
type Builder struct {
	derive      *address.Deriver
	paymentMint solana.PublicKey
}

// NewBuilder returns a Builder for the program behind derive.
func NewBuilder(derive *address.Deriver, paymentMint solana.PublicKey) *Builder {
	return &Builder{derive: derive, paymentMint: paymentMint}
}

// EncodeData returns the instruction data of name with args.
func EncodeData(name string, args any) ([]byte, error) {
	var buf bytes.Buffer
	disc := Discriminator(name)
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(&buf).Encode(args); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidParameters, err, "encode instruction args",
			xerrors.WithMetadata("instruction", name))
	}
	return buf.Bytes(), nil
}

// DecodeName returns the instruction named by the data's discriminator.
func DecodeName(data []byte) (string, error) {
	if len(data) < DiscriminatorLength {
		return "", xerrors.New(xerrors.CodeInvalidParameters, "instruction data too short")
	}
	var disc [DiscriminatorLength]byte
	copy(disc[:], data)
	name, ok := byDiscriminator[disc]
	if !ok {
		return "", xerrors.New(xerrors.CodeInvalidParameters, "unknown instruction")
	}
	return name, nil
}

// NewArgs returns a pointer to a zero args value of the named instruction.
func NewArgs(name string) (any, error) {
	switch name {
	case InitializePlatform:
		return new(InitializePlatformArgs), nil
	case ConfigurePlatform:
		return new(ConfigurePlatformArgs), nil
	case CreateAgent:
		return new(CreateAgentArgs), nil
	case BuyFromCurve:
		return new(BuyArgs), nil
	case SellToCurve:
		return new(SellArgs), nil
	case UpdatePerformance:
		return new(UpdatePerformanceArgs), nil
	case DistributeRewards:
		return new(DistributeRewardsArgs), nil
	case ClaimRewards:
		return new(ClaimRewardsArgs), nil
	case FundRewardPool:
		return new(FundRewardPoolArgs), nil
	case Deposit:
		return new(DepositArgs), nil
	}
	return nil, xerrors.New(xerrors.CodeInvalidParameters, "unknown instruction",
		xerrors.WithMetadata("instruction", name))
}

// DecodeArgs decodes instruction data into its name and args pointer.
func DecodeArgs(data []byte) (string, any, error) {
	name, err := DecodeName(data)
	if err != nil {
		return "", nil, err
	}
	args, err := NewArgs(name)
	if err != nil {
		return "", nil, err
	}
	if err := bin.NewBorshDecoder(data[DiscriminatorLength:]).Decode(args); err != nil {
		return "", nil, xerrors.Wrap(xerrors.CodeInvalidParameters, err, "decode instruction args",
			xerrors.WithMetadata("instruction", name))
	}
	return name, args, nil
}

// Build returns the instruction name signed by signer. args may be a value
// or a pointer of the instruction's args type.
func (b *Builder) Build(name string, signer solana.PublicKey, args any) (*solana.GenericInstruction, error) {
	metas, err := b.Accounts(name, signer, args)
	if err != nil {
		return nil, err
	}
	data, err := EncodeData(name, args)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(b.derive.ProgramID(), metas, data), nil
}

// Accounts returns the account list of the named instruction. The signer is
// always first.
func (b *Builder) Accounts(name string, signer solana.PublicKey, args any) (solana.AccountMetaSlice, error) {
	argsName, value := deref(args)
	if argsName != name {
		return nil, xerrors.New(xerrors.CodeInvalidParameters, "args do not match instruction",
			xerrors.WithMetadata("instruction", name))
	}
	if signer.IsZero() {
		return nil, xerrors.New(xerrors.CodeUnauthorized, "signer is empty")
	}
	platform, err := b.derive.Platform()
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{solana.Meta(signer).WRITE().SIGNER()}

	switch a := value.(type) {
	case InitializePlatformArgs:
		pool, err := b.derive.RewardPool()
		if err != nil {
			return nil, err
		}
		return append(metas, solana.Meta(platform.Address).WRITE(), solana.Meta(pool.Address).WRITE()), nil

	case ConfigurePlatformArgs:
		return append(metas, solana.Meta(platform.Address).WRITE()), nil

	case CreateAgentArgs:
		agent, mint, reserve, err := b.agentAccounts(a.AgentID)
		if err != nil {
			return nil, err
		}
		return append(metas,
			solana.Meta(platform.Address).WRITE(),
			solana.Meta(agent).WRITE(),
			solana.Meta(mint).WRITE(),
			solana.Meta(reserve).WRITE(),
		), nil

	case BuyArgs:
		return b.tradeAccounts(metas, platform.Address, signer, a.AgentID)

	case SellArgs:
		return b.tradeAccounts(metas, platform.Address, signer, a.AgentID)

	case UpdatePerformanceArgs:
		agent, err := b.derive.Agent(a.AgentID)
		if err != nil {
			return nil, err
		}
		return append(metas, solana.Meta(platform.Address), solana.Meta(agent.Address).WRITE()), nil

	case DistributeRewardsArgs:
		pool, err := b.derive.RewardPool()
		if err != nil {
			return nil, err
		}
		period, err := b.derive.RewardPeriod(a.Period)
		if err != nil {
			return nil, err
		}
		return append(metas,
			solana.Meta(platform.Address),
			solana.Meta(pool.Address),
			solana.Meta(period.Address).WRITE(),
		), nil

	case ClaimRewardsArgs:
		agent, mint, _, err := b.agentAccounts(a.AgentID)
		if err != nil {
			return nil, err
		}
		watermark, err := b.derive.UserRewards(signer, agent)
		if err != nil {
			return nil, err
		}
		pool, err := b.derive.RewardPool()
		if err != nil {
			return nil, err
		}
		payment, err := b.paymentAccount(signer)
		if err != nil {
			return nil, err
		}
		holding, err := address.TokenAccount(signer, mint)
		if err != nil {
			return nil, err
		}
		return append(metas,
			solana.Meta(platform.Address),
			solana.Meta(agent).WRITE(),
			solana.Meta(watermark.Address).WRITE(),
			solana.Meta(pool.Address).WRITE(),
			solana.Meta(payment).WRITE(),
			solana.Meta(holding),
		), nil

	case FundRewardPoolArgs:
		payment, err := b.paymentAccount(signer)
		if err != nil {
			return nil, err
		}
		pool, err := b.derive.RewardPool()
		if err != nil {
			return nil, err
		}
		return append(metas,
			solana.Meta(platform.Address),
			solana.Meta(payment).WRITE(),
			solana.Meta(pool.Address).WRITE(),
		), nil

	case DepositArgs:
		payment, err := b.paymentAccount(a.Owner)
		if err != nil {
			return nil, err
		}
		return append(metas,
			solana.Meta(platform.Address),
			solana.Meta(a.Owner),
			solana.Meta(payment).WRITE(),
		), nil
	}
	return nil, xerrors.New(xerrors.CodeInvalidParameters, "unsupported instruction args",
		xerrors.WithMetadata("instruction", name))
}

func (b *Builder) tradeAccounts(metas solana.AccountMetaSlice, platform, trader solana.PublicKey, agentID string) (solana.AccountMetaSlice, error) {
	agent, mint, reserve, err := b.agentAccounts(agentID)
	if err != nil {
		return nil, err
	}
	payment, err := b.paymentAccount(trader)
	if err != nil {
		return nil, err
	}
	holding, err := address.TokenAccount(trader, mint)
	if err != nil {
		return nil, err
	}
	watermark, err := b.derive.UserRewards(trader, agent)
	if err != nil {
		return nil, err
	}
	return append(metas,
		solana.Meta(platform),
		solana.Meta(agent).WRITE(),
		solana.Meta(mint).WRITE(),
		solana.Meta(reserve).WRITE(),
		solana.Meta(payment).WRITE(),
		solana.Meta(holding).WRITE(),
		solana.Meta(watermark.Address).WRITE(),
	), nil
}

func (b *Builder) agentAccounts(agentID string) (agent, mint, reserve solana.PublicKey, err error) {
	a, err := b.derive.Agent(agentID)
	if err != nil {
		return
	}
	m, err := b.derive.TokenMint(agentID)
	if err != nil {
		return
	}
	r, err := b.derive.Reserve(a.Address)
	if err != nil {
		return
	}
	return a.Address, m.Address, r.Address, nil
}

func (b *Builder) paymentAccount(owner solana.PublicKey) (solana.PublicKey, error) {
	if b.paymentMint.IsZero() {
		return solana.PublicKey{}, xerrors.New(xerrors.CodeInvalidParameters, "payment mint is not configured",
			xerrors.WithMetadata(xerrors.MetaField, "payment_mint"))
	}
	return address.TokenAccount(owner, b.paymentMint)
}

// deref returns the instruction named by the args type and the args value.
func deref(args any) (string, any) {
	switch a := args.(type) {
	case *InitializePlatformArgs:
		return InitializePlatform, *a
	case InitializePlatformArgs:
		return InitializePlatform, a
	case *ConfigurePlatformArgs:
		return ConfigurePlatform, *a
	case ConfigurePlatformArgs:
		return ConfigurePlatform, a
	case *CreateAgentArgs:
		return CreateAgent, *a
	case CreateAgentArgs:
		return CreateAgent, a
	case *BuyArgs:
		return BuyFromCurve, *a
	case BuyArgs:
		return BuyFromCurve, a
	case *SellArgs:
		return SellToCurve, *a
	case SellArgs:
		return SellToCurve, a
	case *UpdatePerformanceArgs:
		return UpdatePerformance, *a
	case UpdatePerformanceArgs:
		return UpdatePerformance, a
	case *DistributeRewardsArgs:
		return DistributeRewards, *a
	case DistributeRewardsArgs:
		return DistributeRewards, a
	case *ClaimRewardsArgs:
		return ClaimRewards, *a
	case ClaimRewardsArgs:
		return ClaimRewards, a
	case *FundRewardPoolArgs:
		return FundRewardPool, *a
	case FundRewardPoolArgs:
		return FundRewardPool, a
	case *DepositArgs:
		return Deposit, *a
	case DepositArgs:
		return Deposit, a
	}
	return "", args
}
