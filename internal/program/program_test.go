package program_test

import (
	"bytes"
	"context"
	"crypto/sha256"
	stdErrors "errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/market"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/internal/platform/platformtest"
	"XGrowth-Chain/internal/program"
	"XGrowth-Chain/internal/rewards"
	"XGrowth-Chain/internal/state"
)

type env struct {
	*platformtest.Fixture
	rt      *program.Runtime
	builder *program.Builder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	f := platformtest.New(t)
	svc := program.Services{
		Platform: f.Platform,
		Market:   market.NewExecutor(f.Store, f.Deriver, market.WithClock(f.Clock.Now)),
		Oracle:   oracle.NewIngestor(f.Store, f.Deriver, oracle.WithClock(f.Clock.Now)),
		Rewards:  rewards.NewLedger(f.Store, f.Deriver, rewards.WithClock(f.Clock.Now)),
	}
	return &env{
		Fixture: f,
		rt:      program.NewRuntime(f.Deriver, svc, program.WithClock(f.Clock.Now)),
		builder: program.NewBuilder(f.Deriver, f.PaymentMint),
	}
}

func (e *env) tx(t *testing.T, ix solana.Instruction, signer solana.PrivateKey) *solana.Transaction {
	t.Helper()
	hash, err := e.rt.RecentBlockhash(context.Background())
	if err != nil {
		t.Fatalf("blockhash: %v", err)
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, hash, solana.TransactionPayer(signer.PublicKey()))
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tx
}

func (e *env) build(t *testing.T, name string, signer solana.PrivateKey, args any) *solana.GenericInstruction {
	t.Helper()
	ix, err := e.builder.Build(name, signer.PublicKey(), args)
	if err != nil {
		t.Fatalf("build %s: %v", name, err)
	}
	return ix
}

func TestDiscriminatorIsAnchorGlobalHash(t *testing.T) {
	sum := sha256.Sum256([]byte("global:buy_from_curve"))
	got := program.Discriminator(program.BuyFromCurve)
	if !bytes.Equal(got[:], sum[:8]) {
		t.Fatalf("discriminator = %x", got)
	}
	seen := map[[8]byte]string{}
	for _, n := range program.Names {
		d := program.Discriminator(n)
		if prev, ok := seen[d]; ok {
			t.Fatalf("%s collides with %s", n, prev)
		}
		seen[d] = n
	}
}

func TestArgsRoundTrip(t *testing.T) {
	fee := uint16(250)
	oracleKey := solana.NewWallet().PublicKey()
	data, err := program.EncodeData(program.ConfigurePlatform, program.ConfigurePlatformArgs{
		PaymentDecimals: 6,
		Oracle:          &oracleKey,
		SellFeeBps:      &fee,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	name, args, err := program.DecodeArgs(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := args.(*program.ConfigurePlatformArgs)
	if name != program.ConfigurePlatform || got.SellFeeBps == nil || *got.SellFeeBps != fee {
		t.Fatalf("unexpected args %+v", got)
	}
	if got.Oracle == nil || !got.Oracle.Equals(oracleKey) || got.Authority != nil || got.DailyRewardPool != nil {
		t.Fatalf("optional fields not preserved: %+v", got)
	}

	if _, _, err := program.DecodeArgs([]byte{1, 2, 3}); !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("expected INVALID_PARAMETERS for short data, got %v", err)
	}
	if _, err := program.NewBuilder(nil, solana.PublicKey{}).Build(program.BuyFromCurve, solana.NewWallet().PublicKey(), program.SellArgs{}); err == nil {
		t.Fatalf("mismatched args should be rejected")
	}
}

func TestBuyThroughRuntimeIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.CreateAgent(t, "alpha")
	user := e.NewUser(t, 5*platformtest.PaymentUnit)

	tx := e.tx(t, e.build(t, program.BuyFromCurve, user, program.BuyArgs{
		AgentID:         "alpha",
		PaymentAmount:   platformtest.PaymentUnit,
		PaymentDecimals: 6,
		TokenDecimals:   9,
	}), user)

	out, err := e.rt.Execute(ctx, tx)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	res := out.Result.(*market.TradeResult)
	if out.Instruction != program.BuyFromCurve || res.AmountOut != 100*platformtest.TokenUnit {
		t.Fatalf("unexpected outcome %+v / %+v", out, res)
	}

	again, err := e.rt.Execute(ctx, tx)
	if err != nil || !again.Replayed || again.Signature != out.Signature {
		t.Fatalf("rebroadcast: %+v %v", again, err)
	}
	bal, err := e.Platform.Balances(ctx, user.PublicKey())
	if err != nil {
		t.Fatalf("balances: %v", err)
	}
	if bal.Payment != 4*platformtest.PaymentUnit || bal.Tokens["alpha"] != 100*platformtest.TokenUnit {
		t.Fatalf("rebroadcast applied twice: %+v", bal)
	}
}

func TestRuntimeRejectsBadTransactions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.CreateAgent(t, "alpha")
	user := e.NewUser(t, 5*platformtest.PaymentUnit)
	args := program.BuyArgs{AgentID: "alpha", PaymentAmount: platformtest.PaymentUnit, PaymentDecimals: 6, TokenDecimals: 9}

	wrongDecimals := args
	wrongDecimals.PaymentDecimals = 9
	_, err := e.rt.Execute(ctx, e.tx(t, e.build(t, program.BuyFromCurve, user, wrongDecimals), user))
	if !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("expected INVALID_PARAMETERS for declared decimals, got %v", err)
	}

	ix := e.build(t, program.BuyFromCurve, user, args)
	ix.AccountValues[4] = solana.Meta(solana.NewWallet().PublicKey()).WRITE()
	_, err = e.rt.Execute(ctx, e.tx(t, ix, user))
	if !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("expected INVALID_PARAMETERS for a foreign reserve, got %v", err)
	}

	forged := e.tx(t, e.build(t, program.BuyFromCurve, user, args), user)
	forged.Signatures[0][0] ^= 0xff
	if _, err := e.rt.Execute(ctx, forged); !stdErrors.Is(err, xerrors.ErrUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED for a forged signature, got %v", err)
	}

	stale := e.tx(t, e.build(t, program.BuyFromCurve, user, args), user)
	e.Clock.Advance(program.DefaultBlockhashTTL + time.Second)
	if _, err := e.rt.Execute(ctx, stale); !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("expected INVALID_PARAMETERS for an expired blockhash, got %v", err)
	}

	bal, err := e.Platform.Balances(ctx, user.PublicKey())
	if err != nil || bal.Payment != 5*platformtest.PaymentUnit {
		t.Fatalf("rejected transactions moved funds: %+v %v", bal, err)
	}
}

func TestAdminAndOracleInstructions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	owner := solana.NewWallet().PublicKey()

	out, err := e.rt.Execute(ctx, e.tx(t, e.build(t, program.Deposit, e.Authority, program.DepositArgs{
		Owner:           owner,
		Amount:          3 * platformtest.PaymentUnit,
		PaymentDecimals: 6,
	}), e.Authority))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if res := out.Result.(*program.BalanceResult); res.Balance != 3*platformtest.PaymentUnit || !res.Owner.Equals(owner) {
		t.Fatalf("unexpected deposit result %+v", res)
	}

	_, err = e.rt.Execute(ctx, e.tx(t, e.build(t, program.CreateAgent, e.Authority, program.CreateAgentArgs{
		AgentID:         "beta",
		Name:            "Agent beta",
		Symbol:          "BETA",
		BasePrice:       platformtest.BasePrice,
		PaymentDecimals: 6,
		MaxSupply:       platformtest.MaxSupply,
		TokenDecimals:   9,
	}), e.Authority))
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	stranger := solana.NewWallet().PrivateKey
	update := program.UpdatePerformanceArgs{UpdateID: "u1", AgentID: "beta", Likes: 10, Timestamp: e.Clock.Now().Unix()}
	if _, err := e.rt.Execute(ctx, e.tx(t, e.build(t, program.UpdatePerformance, stranger, update), stranger)); !stdErrors.Is(err, xerrors.ErrUnauthorized) {
		t.Fatalf("expected UNAUTHORIZED for a non-oracle signer, got %v", err)
	}
	out, err = e.rt.Execute(ctx, e.tx(t, e.build(t, program.UpdatePerformance, e.Oracle, update), e.Oracle))
	if err != nil {
		t.Fatalf("update performance: %v", err)
	}
	if res := out.Result.(*oracle.UpdateResult); res.Period != state.PeriodAt(e.Clock.Now()) || res.DailyScore == 0 {
		t.Fatalf("unexpected update result %+v", res)
	}

	fee := uint16(50)
	out, err = e.rt.Execute(ctx, e.tx(t, e.build(t, program.ConfigurePlatform, e.Authority, program.ConfigurePlatformArgs{
		PaymentDecimals: 6,
		SellFeeBps:      &fee,
	}), e.Authority))
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if p := out.Result.(*state.Platform); p.SellFeeBps != fee || p.DailyRewardPool != platformtest.DailyPool {
		t.Fatalf("unexpected platform %+v", p)
	}
}
