// Package address derives the deterministic account addresses used by the
// program. Every address is a Solana program-derived address: the SHA-256 of a
// kind tag, the kind's seeds, a bump byte and the program ID, pushed off the
// ed25519 curve so that no private key exists for it.
//
// Kind tags are prefix-free and each kind has exactly one seed layout, so the
// concatenated seed bytes identify (kind, seeds) unambiguously.
package address

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
)

// Kind names an account family.
type Kind string

const (
	KindPlatform     Kind = "platform"
	KindAgent        Kind = "agent"
	KindTokenMint    Kind = "token_mint"
	KindReserve      Kind = "reserve"
	KindUserRewards  Kind = "user_rewards"
	KindRewardPool   Kind = "reward_pool"
	KindRewardPeriod Kind = "reward_period"
	KindPeriodShare  Kind = "period_share"
	KindReceipt      Kind = "receipt"
)

// Kinds lists every account family in a stable order.
var Kinds = []Kind{
	KindPlatform, KindAgent, KindTokenMint, KindReserve, KindUserRewards,
	KindRewardPool, KindRewardPeriod, KindPeriodShare, KindReceipt,
}

// MaxAgentIDLength is the longest agent identifier that fits in one seed.
const MaxAgentIDLength = 32

// Derived is an address together with its bump seed.
type Derived struct {
	Address solana.PublicKey
	Bump    uint8
}

// Deriver derives addresses under one program ID.
type Deriver struct {
	programID solana.PublicKey
}

// NewDeriver returns a Deriver bound to programID.
func NewDeriver(programID solana.PublicKey) *Deriver {
	return &Deriver{programID: programID}
}

// ProgramID returns the namespace used for derivation.
func (d *Deriver) ProgramID() solana.PublicKey {
	return d.programID
}

// DefaultProgramID returns the program ID used when none is configured.
func DefaultProgramID() solana.PublicKey {
	sum := sha256.Sum256([]byte("x-growth:program"))
	return solana.PublicKeyFromBytes(sum[:])
}

func (d *Deriver) derive(kind Kind, seeds ...[]byte) (Derived, error) {
	all := make([][]byte, 0, len(seeds)+1)
	all = append(all, []byte(kind))
	all = append(all, seeds...)
	addr, bump, err := solana.FindProgramAddress(all, d.programID)
	if err != nil {
		return Derived{}, xerrors.Wrap(xerrors.CodeInvalidParameters, err, "derive "+string(kind)+" address",
			xerrors.WithMetadata(xerrors.MetaField, string(kind)))
	}
	return Derived{Address: addr, Bump: bump}, nil
}

// Platform derives the singleton platform account.
func (d *Deriver) Platform() (Derived, error) {
	return d.derive(KindPlatform)
}

// Agent derives the agent record for agentID.
func (d *Deriver) Agent(agentID string) (Derived, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return Derived{}, err
	}
	return d.derive(KindAgent, []byte(agentID))
}

// TokenMint derives the mint of the agent's token.
func (d *Deriver) TokenMint(agentID string) (Derived, error) {
	if err := ValidateAgentID(agentID); err != nil {
		return Derived{}, err
	}
	return d.derive(KindTokenMint, []byte(agentID))
}

// Reserve derives the payment-asset vault backing an agent's curve.
func (d *Deriver) Reserve(agent solana.PublicKey) (Derived, error) {
	return d.derive(KindReserve, agent.Bytes())
}

// UserRewards derives a holder's claim watermark for one agent.
func (d *Deriver) UserRewards(user, agent solana.PublicKey) (Derived, error) {
	return d.derive(KindUserRewards, user.Bytes(), agent.Bytes())
}

// RewardPool derives the payment-asset vault funding daily rewards.
func (d *Deriver) RewardPool() (Derived, error) {
	return d.derive(KindRewardPool)
}

// RewardPeriod derives the settlement record of a period.
func (d *Deriver) RewardPeriod(period int64) (Derived, error) {
	return d.derive(KindRewardPeriod, periodSeed(period))
}

// PeriodShare derives an agent's allotment record for a period.
func (d *Deriver) PeriodShare(agent solana.PublicKey, period int64) (Derived, error) {
	return d.derive(KindPeriodShare, agent.Bytes(), periodSeed(period))
}

// Receipt derives the idempotency record of (signer, ref). The reference is
// hashed so that arbitrary client strings fit in a seed.
func (d *Deriver) Receipt(signer solana.PublicKey, ref string) (Derived, error) {
	if ref == "" {
		return Derived{}, xerrors.New(xerrors.CodeInvalidParameters, "receipt reference is empty",
			xerrors.WithMetadata(xerrors.MetaField, "client_ref"))
	}
	sum := sha256.Sum256([]byte(ref))
	return d.derive(KindReceipt, signer.Bytes(), sum[:])
}

// TokenAccount returns the associated token account of owner for mint.
func TokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, xerrors.Wrap(xerrors.CodeInvalidParameters, err, "derive token account")
	}
	return addr, nil
}

// ValidateAgentID checks that id is usable as a seed.
func ValidateAgentID(id string) error {
	if id == "" {
		return xerrors.New(xerrors.CodeInvalidParameters, "agent id is empty",
			xerrors.WithMetadata(xerrors.MetaField, "agent_id"))
	}
	if len(id) > MaxAgentIDLength {
		return xerrors.New(xerrors.CodeInvalidParameters, "agent id exceeds seed length",
			xerrors.WithMetadata(xerrors.MetaField, "agent_id"),
			xerrors.WithInt(xerrors.MetaActual, int64(len(id))),
			xerrors.WithInt(xerrors.MetaRequired, MaxAgentIDLength))
	}
	return nil
}

func periodSeed(period int64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(period))
	return buf
}
