package program

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"XGrowth-Chain/internal/address"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/market"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/internal/platform"
	"XGrowth-Chain/internal/rewards"
	"XGrowth-Chain/internal/state"
	"XGrowth-Chain/pkg/logger"
)

// DefaultBlockhashTTL bounds how long an issued blockhash stays usable.
const DefaultBlockhashTTL = 90 * time.Second

// Services are the handlers instructions dispatch to.
type Services struct {
	Platform *platform.Service
	Market   *market.Executor
	Oracle   *oracle.Ingestor
	Rewards  *rewards.Ledger
}

// Outcome is the result of an executed transaction.
type Outcome struct {
	Signature   solana.Signature `json:"signature"`
	Instruction string           `json:"instruction"`
	Signer      solana.PublicKey `json:"signer"`
	Result      any              `json:"result"`
	Replayed    bool             `json:"replayed"`
	ExecutedAt  int64            `json:"executed_at"`
}

// BalanceResult is returned by instructions that move payment into an account.
type BalanceResult struct {
	Owner   solana.PublicKey `json:"owner"`
	Balance uint64           `json:"balance"`
}

type processed struct {
	outcome *Outcome
	expires time.Time
}

// Runtime executes signed legacy transactions against the local services.
// It issues recent blockhashes and, like a validator's status cache,
// remembers executed signatures until their blockhash expires.
type Runtime struct {
	derive *address.Deriver
	svc    Services
	now    func() time.Time
	ttl    time.Duration
	logger *slog.Logger

	mu          sync.Mutex
	blockhashes map[solana.Hash]time.Time
	processed   map[solana.Signature]processed
	inflight    map[solana.Signature]struct{}
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithClock injects the time source.
func WithClock(now func() time.Time) RuntimeOption {
	return func(r *Runtime) {
		if now != nil {
			r.now = now
		}
	}
}

// WithBlockhashTTL overrides DefaultBlockhashTTL.
func WithBlockhashTTL(ttl time.Duration) RuntimeOption {
	return func(r *Runtime) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRuntime returns a Runtime for the program behind derive.
func NewRuntime(derive *address.Deriver, svc Services, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		derive:      derive,
		svc:         svc,
		now:         time.Now,
		ttl:         DefaultBlockhashTTL,
		logger:      logger.Named("program"),
		blockhashes: make(map[solana.Hash]time.Time),
		processed:   make(map[solana.Signature]processed),
		inflight:    make(map[solana.Signature]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// RecentBlockhash issues a fresh blockhash.
func (r *Runtime) RecentBlockhash(_ context.Context) (solana.Hash, error) {
	now := r.now()
	sum := sha256.Sum256([]byte(uuid.NewString() + now.String()))
	hash := solana.HashFromBytes(sum[:])

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)
	r.blockhashes[hash] = now
	return hash, nil
}

// Submit executes tx and returns its signature.
func (r *Runtime) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	out, err := r.Execute(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	return out.Signature, nil
}

// Execute verifies and runs tx. A transaction whose signature was already
// executed returns the stored outcome with Replayed set.
func (r *Runtime) Execute(ctx context.Context, tx *solana.Transaction) (*Outcome, error) {
	if err := r.verify(tx); err != nil {
		return nil, err
	}
	sig := tx.Signatures[0]

	expires, prior, err := r.admit(sig, tx.Message.RecentBlockhash)
	if err != nil || prior != nil {
		return prior, err
	}
	defer r.release(sig)

	name, signer, args, err := r.resolve(ctx, tx)
	if err != nil {
		return nil, err
	}
	result, err := r.dispatch(ctx, name, signer, args, sig.String())
	if err != nil {
		r.logger.Debug("transaction rejected",
			slog.String("instruction", name),
			slog.String("signer", signer.String()),
			slog.String("error_code", string(xerrors.CodeOf(err))),
		)
		return nil, err
	}
	out := &Outcome{
		Signature:   sig,
		Instruction: name,
		Signer:      signer,
		Result:      result,
		ExecutedAt:  r.now().Unix(),
	}
	r.mu.Lock()
	r.processed[sig] = processed{outcome: out, expires: expires}
	r.mu.Unlock()

	r.logger.Info("transaction executed",
		slog.String("instruction", name),
		slog.String("signer", signer.String()),
		slog.String("signature", sig.String()),
	)
	return out, nil
}

// verify checks every required signature over the serialized message.
func (r *Runtime) verify(tx *solana.Transaction) error {
	if tx == nil || len(tx.Signatures) == 0 {
		return xerrors.New(xerrors.CodeUnauthorized, "transaction is not signed")
	}
	if len(tx.Message.AddressTableLookups) > 0 {
		return xerrors.New(xerrors.CodeInvalidParameters, "address table lookups are not supported")
	}
	required := int(tx.Message.Header.NumRequiredSignatures)
	keys := tx.Message.AccountKeys
	if required == 0 || len(tx.Signatures) != required || required > len(keys) {
		return xerrors.New(xerrors.CodeUnauthorized, "signature count does not match message header",
			xerrors.WithInt(xerrors.MetaRequired, int64(required)),
			xerrors.WithInt(xerrors.MetaActual, int64(len(tx.Signatures))))
	}
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidParameters, err, "serialize message")
	}
	for i := 0; i < required; i++ {
		if !tx.Signatures[i].Verify(keys[i], msg) {
			return xerrors.New(xerrors.CodeUnauthorized, "invalid signature",
				xerrors.WithMetadata("signer", keys[i].String()))
		}
	}
	return nil
}

// admit reserves sig for execution. It returns the stored outcome when sig
// was already executed.
func (r *Runtime) admit(sig solana.Signature, blockhash solana.Hash) (time.Time, *Outcome, error) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(now)

	if p, ok := r.processed[sig]; ok {
		replay := *p.outcome
		replay.Replayed = true
		return p.expires, &replay, nil
	}
	if _, busy := r.inflight[sig]; busy {
		return time.Time{}, nil, xerrors.New(xerrors.CodeInvalidParameters, "transaction is already being processed",
			xerrors.WithMetadata("signature", sig.String()))
	}
	issued, ok := r.blockhashes[blockhash]
	if !ok {
		return time.Time{}, nil, xerrors.New(xerrors.CodeInvalidParameters, "blockhash not found or expired",
			xerrors.WithMetadata(xerrors.MetaField, "recent_blockhash"))
	}
	r.inflight[sig] = struct{}{}
	return issued.Add(r.ttl), nil, nil
}

func (r *Runtime) release(sig solana.Signature) {
	r.mu.Lock()
	delete(r.inflight, sig)
	r.mu.Unlock()
}

func (r *Runtime) pruneLocked(now time.Time) {
	for h, issued := range r.blockhashes {
		if now.Sub(issued) > r.ttl {
			delete(r.blockhashes, h)
		}
	}
	for s, p := range r.processed {
		if now.After(p.expires) {
			delete(r.processed, s)
		}
	}
}

// resolve decodes the single program instruction and checks its accounts
// against the ones the instruction requires.
func (r *Runtime) resolve(ctx context.Context, tx *solana.Transaction) (string, solana.PublicKey, any, error) {
	msg := tx.Message
	if len(msg.Instructions) != 1 {
		return "", solana.PublicKey{}, nil, xerrors.New(xerrors.CodeInvalidParameters, "exactly one instruction is required",
			xerrors.WithInt(xerrors.MetaActual, int64(len(msg.Instructions))))
	}
	inst := msg.Instructions[0]
	if idx := int(inst.ProgramIDIndex); idx >= len(msg.AccountKeys) || !msg.AccountKeys[idx].Equals(r.derive.ProgramID()) {
		return "", solana.PublicKey{}, nil, xerrors.New(xerrors.CodeInvalidParameters, "instruction targets another program")
	}

	metas := make(solana.AccountMetaSlice, 0, len(inst.Accounts))
	for _, idx := range inst.Accounts {
		meta, err := accountMeta(msg, int(idx))
		if err != nil {
			return "", solana.PublicKey{}, nil, err
		}
		metas = append(metas, meta)
	}
	if len(metas) == 0 || !metas[0].IsSigner {
		return "", solana.PublicKey{}, nil, xerrors.New(xerrors.CodeUnauthorized, "first account must sign")
	}
	signer := metas[0].PublicKey

	name, args, err := DecodeArgs(inst.Data)
	if err != nil {
		return "", solana.PublicKey{}, nil, err
	}
	var paymentMint solana.PublicKey
	if name != InitializePlatform {
		p, err := r.svc.Platform.Platform(ctx)
		if err != nil {
			return "", solana.PublicKey{}, nil, err
		}
		paymentMint = p.PaymentMint
	}
	want, err := NewBuilder(r.derive, paymentMint).Accounts(name, signer, args)
	if err != nil {
		return "", solana.PublicKey{}, nil, err
	}
	if err := matchAccounts(name, want, metas); err != nil {
		return "", solana.PublicKey{}, nil, err
	}
	return name, signer, args, nil
}

func accountMeta(msg solana.Message, idx int) (*solana.AccountMeta, error) {
	keys := msg.AccountKeys
	if idx < 0 || idx >= len(keys) {
		return nil, xerrors.New(xerrors.CodeInvalidParameters, "account index out of range",
			xerrors.WithInt(xerrors.MetaActual, int64(idx)))
	}
	h := msg.Header
	signers := int(h.NumRequiredSignatures)
	var writable bool
	if idx < signers {
		writable = idx < signers-int(h.NumReadonlySignedAccounts)
	} else {
		writable = idx < len(keys)-int(h.NumReadonlyUnsignedAccounts)
	}
	return solana.NewAccountMeta(keys[idx], writable, idx < signers), nil
}

func matchAccounts(name string, want, got solana.AccountMetaSlice) error {
	if len(want) != len(got) {
		return xerrors.New(xerrors.CodeInvalidParameters, "unexpected account count",
			xerrors.WithMetadata("instruction", name),
			xerrors.WithInt(xerrors.MetaRequired, int64(len(want))),
			xerrors.WithInt(xerrors.MetaActual, int64(len(got))))
	}
	for i, w := range want {
		g := got[i]
		if !g.PublicKey.Equals(w.PublicKey) {
			return xerrors.New(xerrors.CodeInvalidParameters, "account does not match derived address",
				xerrors.WithMetadata("instruction", name),
				xerrors.WithInt("index", int64(i)),
				xerrors.WithMetadata(xerrors.MetaAddress, g.PublicKey.String()),
				xerrors.WithMetadata(xerrors.MetaRequired, w.PublicKey.String()))
		}
		if w.IsSigner && !g.IsSigner {
			return xerrors.New(xerrors.CodeUnauthorized, "account must sign",
				xerrors.WithMetadata(xerrors.MetaAddress, g.PublicKey.String()))
		}
		if w.IsWritable && !g.IsWritable {
			return xerrors.New(xerrors.CodeInvalidParameters, "account must be writable",
				xerrors.WithMetadata("instruction", name),
				xerrors.WithMetadata(xerrors.MetaAddress, g.PublicKey.String()))
		}
	}
	return nil
}

func (r *Runtime) dispatch(ctx context.Context, name string, signer solana.PublicKey, args any, ref string) (any, error) {
	switch a := args.(type) {
	case *InitializePlatformArgs:
		return r.svc.Platform.InitializePlatform(ctx, signer, platform.InitParams{
			PaymentMint:         a.PaymentMint,
			PaymentDecimals:     a.PaymentDecimals,
			Oracle:              a.Oracle,
			DailyRewardPool:     a.DailyRewardPool,
			SellFeeBps:          a.SellFeeBps,
			ScoreHalfSaturation: a.ScoreHalfSaturation,
		})

	case *ConfigurePlatformArgs:
		if a.DailyRewardPool != nil {
			if err := r.checkPaymentDecimals(ctx, a.PaymentDecimals); err != nil {
				return nil, err
			}
		}
		return r.svc.Platform.Configure(ctx, signer, platform.ConfigUpdate{
			Authority:           a.Authority,
			Oracle:              a.Oracle,
			DailyRewardPool:     a.DailyRewardPool,
			SellFeeBps:          a.SellFeeBps,
			ScoreHalfSaturation: a.ScoreHalfSaturation,
		})

	case *CreateAgentArgs:
		if err := r.checkPaymentDecimals(ctx, a.PaymentDecimals); err != nil {
			return nil, err
		}
		return r.svc.Platform.CreateAgent(ctx, signer, platform.AgentParams{
			AgentID:       a.AgentID,
			Name:          a.Name,
			Symbol:        a.Symbol,
			URI:           a.URI,
			BasePrice:     a.BasePrice,
			CurveFactor:   a.CurveFactor,
			MaxSupply:     a.MaxSupply,
			TokenDecimals: a.TokenDecimals,
		})

	case *BuyArgs:
		if err := r.checkTradeDecimals(ctx, a.AgentID, a.PaymentDecimals, a.TokenDecimals); err != nil {
			return nil, err
		}
		return r.svc.Market.ExecuteBuy(ctx, market.BuyRequest{
			AgentID:       a.AgentID,
			Payer:         signer,
			PaymentAmount: a.PaymentAmount,
			MinTokensOut:  a.MinTokensOut,
			ClientRef:     ref,
		})

	case *SellArgs:
		if err := r.checkTradeDecimals(ctx, a.AgentID, a.PaymentDecimals, a.TokenDecimals); err != nil {
			return nil, err
		}
		return r.svc.Market.ExecuteSell(ctx, market.SellRequest{
			AgentID:       a.AgentID,
			Seller:        signer,
			TokenAmount:   a.TokenAmount,
			MinPaymentOut: a.MinPaymentOut,
			ClientRef:     ref,
		})

	case *UpdatePerformanceArgs:
		return r.svc.Oracle.SubmitUpdate(ctx, signer, oracle.Update{
			ID:           a.UpdateID,
			AgentID:      a.AgentID,
			Likes:        a.Likes,
			Views:        a.Views,
			Comments:     a.Comments,
			NewFollowers: a.NewFollowers,
			Timestamp:    a.Timestamp,
		})

	case *DistributeRewardsArgs:
		return r.svc.Rewards.Settle(ctx, a.Period)

	case *ClaimRewardsArgs:
		return r.svc.Rewards.Claim(ctx, rewards.ClaimRequest{User: signer, AgentID: a.AgentID, ClientRef: ref})

	case *FundRewardPoolArgs:
		if err := r.checkPaymentDecimals(ctx, a.PaymentDecimals); err != nil {
			return nil, err
		}
		bal, err := r.svc.Platform.FundRewardPool(ctx, signer, a.Amount)
		if err != nil {
			return nil, err
		}
		pool, err := r.derive.RewardPool()
		if err != nil {
			return nil, err
		}
		return &BalanceResult{Owner: pool.Address, Balance: bal}, nil

	case *DepositArgs:
		if err := r.checkPaymentDecimals(ctx, a.PaymentDecimals); err != nil {
			return nil, err
		}
		bal, err := r.svc.Platform.Deposit(ctx, signer, a.Owner, a.Amount)
		if err != nil {
			return nil, err
		}
		return &BalanceResult{Owner: a.Owner, Balance: bal}, nil
	}
	return nil, xerrors.New(xerrors.CodeInvalidParameters, "unsupported instruction",
		xerrors.WithMetadata("instruction", name))
}

func (r *Runtime) checkPaymentDecimals(ctx context.Context, declared uint8) error {
	p, err := r.svc.Platform.Platform(ctx)
	if err != nil {
		return err
	}
	return checkDecimals("payment_decimals", declared, p)
}

func (r *Runtime) checkTradeDecimals(ctx context.Context, agentID string, payment, tokens uint8) error {
	if err := r.checkPaymentDecimals(ctx, payment); err != nil {
		return err
	}
	view, err := r.svc.Platform.Agent(ctx, agentID)
	if err != nil {
		return err
	}
	if tokens != view.Agent.TokenDecimals {
		return decimalsMismatch("token_decimals", tokens, view.Agent.TokenDecimals)
	}
	return nil
}

func checkDecimals(field string, declared uint8, p *state.Platform) error {
	if declared != p.PaymentDecimals {
		return decimalsMismatch(field, declared, p.PaymentDecimals)
	}
	return nil
}

func decimalsMismatch(field string, declared, want uint8) error {
	return xerrors.New(xerrors.CodeInvalidParameters, "declared decimals do not match the mint",
		xerrors.WithMetadata(xerrors.MetaField, field),
		xerrors.WithUint(xerrors.MetaActual, uint64(declared)),
		xerrors.WithUint(xerrors.MetaRequired, uint64(want)))
}
