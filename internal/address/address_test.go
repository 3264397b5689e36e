package address

import (
	stdErrors "errors"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
)

func TestDeriveIsDeterministic(t *testing.T) {
	d := NewDeriver(DefaultProgramID())
	a1, err := d.Agent("agent-7")
	if err != nil {
		t.Fatalf("derive agent: %v", err)
	}
	a2, _ := d.Agent("agent-7")
	if !a1.Address.Equals(a2.Address) || a1.Bump != a2.Bump {
		t.Fatalf("derivation is not deterministic")
	}

	other := NewDeriver(solana.NewWallet().PublicKey())
	a3, _ := other.Agent("agent-7")
	if a1.Address.Equals(a3.Address) {
		t.Fatalf("different program IDs must yield different addresses")
	}

	want, _, err := solana.FindProgramAddress([][]byte{[]byte("agent"), []byte("agent-7")}, DefaultProgramID())
	if err != nil {
		t.Fatalf("reference derivation: %v", err)
	}
	if !want.Equals(a1.Address) {
		t.Fatalf("agent address %s does not match seeds [agent, id] (%s)", a1.Address, want)
	}
}

func TestDistinctAcrossKindsAndSeeds(t *testing.T) {
	d := NewDeriver(DefaultProgramID())
	user := solana.NewWallet().PublicKey()
	seen := map[solana.PublicKey]string{}
	record := func(label string, derived Derived, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("%s: %v", label, err)
		}
		if prev, dup := seen[derived.Address]; dup {
			t.Fatalf("%s collides with %s", label, prev)
		}
		seen[derived.Address] = label
	}

	platform, err := d.Platform()
	record("platform", platform, err)
	pool, err := d.RewardPool()
	record("reward_pool", pool, err)
	for _, id := range []string{"a", "b", "agent", "reserve", strings.Repeat("z", MaxAgentIDLength)} {
		agent, err := d.Agent(id)
		record("agent/"+id, agent, err)
		mint, err := d.TokenMint(id)
		record("mint/"+id, mint, err)
		reserve, err := d.Reserve(agent.Address)
		record("reserve/"+id, reserve, err)
		rewards, err := d.UserRewards(user, agent.Address)
		record("user_rewards/"+id, rewards, err)
		for _, period := range []int64{0, 1, 20_000} {
			share, err := d.PeriodShare(agent.Address, period)
			record("share/"+id, share, err)
		}
	}
	for _, period := range []int64{0, 1, 20_000} {
		rp, err := d.RewardPeriod(period)
		record("reward_period", rp, err)
	}
	r1, err := d.Receipt(user, "ref-1")
	record("receipt/1", r1, err)
	r2, err := d.Receipt(user, "ref-2")
	record("receipt/2", r2, err)
}

func TestKindTagsArePrefixFree(t *testing.T) {
	for i, a := range Kinds {
		for j, b := range Kinds {
			if i != j && strings.HasPrefix(string(b), string(a)) {
				t.Fatalf("kind %q is a prefix of %q", a, b)
			}
		}
	}
}

func TestAgentIDValidation(t *testing.T) {
	d := NewDeriver(DefaultProgramID())
	if _, err := d.Agent(""); !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("empty id: expected INVALID_PARAMETERS, got %v", err)
	}
	if _, err := d.Agent(strings.Repeat("x", MaxAgentIDLength+1)); !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("long id: expected INVALID_PARAMETERS, got %v", err)
	}
	if _, err := d.Receipt(solana.PublicKey{}, ""); !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("empty receipt ref: expected INVALID_PARAMETERS, got %v", err)
	}
}

func TestTokenAccountMatchesAssociatedAddress(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	got, err := TokenAccount(owner, mint)
	if err != nil {
		t.Fatalf("token account: %v", err)
	}
	again, _ := TokenAccount(owner, mint)
	if !got.Equals(again) {
		t.Fatalf("token account derivation must be stable")
	}
	other, _ := TokenAccount(solana.NewWallet().PublicKey(), mint)
	if got.Equals(other) {
		t.Fatalf("distinct owners share a token account")
	}
}
