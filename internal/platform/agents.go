package platform

import (
	"context"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/address"
	"XGrowth-Chain/internal/curve"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/events"
	"XGrowth-Chain/internal/state"
	"XGrowth-Chain/internal/storage"
	"XGrowth-Chain/internal/token"
	"XGrowth-Chain/pkg/logger"
)

// AgentParams 描述新 Agent 的元数据与曲线参数。
type AgentParams struct {
	AgentID       string
	Name          string
	Symbol        string
	URI           string
	BasePrice     uint64
	CurveFactor   uint64
	MaxSupply     uint64
	TokenDecimals uint8
}

// AgentView 是 Agent 账户的只读视图。
type AgentView struct {
	Address solana.PublicKey
	Agent   *state.Agent
}

// CreateAgent 创建 Agent 记录、代币铸币账户与储备金库，仅平台管理员可调用。
func (s *Service) CreateAgent(ctx context.Context, signer solana.PublicKey, params AgentParams) (*AgentView, error) {
	if err := address.ValidateAgentID(params.AgentID); err != nil {
		return nil, err
	}
	switch {
	case params.Name == "" || len(params.Name) > maxNameLength:
		return nil, invalid("name", "名称长度不合法")
	case params.Symbol == "" || len(params.Symbol) > maxSymbolLength:
		return nil, invalid("symbol", "代号长度不合法")
	case len(params.URI) > maxURILength:
		return nil, invalid("uri", "URI 过长")
	}
	if params.CurveFactor == 0 {
		params.CurveFactor = curve.CurveFactorUnit
	}
	if params.TokenDecimals == 0 {
		params.TokenDecimals = DefaultTokenDecimals
	}
	curveParams := curve.Params{
		BasePrice:     params.BasePrice,
		CurveFactor:   params.CurveFactor,
		MaxSupply:     params.MaxSupply,
		TokenDecimals: params.TokenDecimals,
	}
	if err := curveParams.Validate(); err != nil {
		return nil, err
	}

	agentAddr, err := s.derive.Agent(params.AgentID)
	if err != nil {
		return nil, err
	}
	mintAddr, err := s.derive.TokenMint(params.AgentID)
	if err != nil {
		return nil, err
	}
	reserveAddr, err := s.derive.Reserve(agentAddr.Address)
	if err != nil {
		return nil, err
	}

	now := s.now()
	agent := &state.Agent{
		AgentID:       params.AgentID,
		Name:          params.Name,
		Symbol:        params.Symbol,
		URI:           params.URI,
		Authority:     signer,
		TokenMint:     mintAddr.Address,
		Reserve:       reserveAddr.Address,
		TokenDecimals: params.TokenDecimals,
		Curve: state.CurveParams{
			BasePrice:   params.BasePrice,
			CurveFactor: params.CurveFactor,
			MaxSupply:   params.MaxSupply,
		},
		SupplyCheckpoint: state.Checkpoint{Period: state.PeriodAt(now)},
		Performance: state.PerformanceMetrics{
			DailyPeriod:  state.PeriodAt(now),
			ClosedPeriod: state.PeriodAt(now) - 1,
		},
		CreatedAt: now.Unix(),
		Bump:      agentAddr.Bump,
	}

	err = s.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		platformAddr, p, err := Load(ctx, tx, s.derive)
		if err != nil {
			return err
		}
		if err := RequireAuthority(p, signer); err != nil {
			return err
		}
		if err := state.Create(ctx, tx, agentAddr.Address, agent); err != nil {
			return err
		}
		if err := token.InitMint(ctx, tx, mintAddr.Address, agentAddr.Address, params.TokenDecimals); err != nil {
			return err
		}
		if err := token.InitAccount(ctx, tx, reserveAddr.Address, p.PaymentMint, agentAddr.Address); err != nil {
			return err
		}
		p.TotalAgents++
		return state.Save(ctx, tx, platformAddr, p)
	})
	if err != nil {
		return nil, err
	}

	logger.Audit().Info("Agent 创建成功",
		slog.String("agent_id", params.AgentID),
		slog.String("agent", agentAddr.Address.String()),
		slog.String("mint", mintAddr.Address.String()),
		slog.Uint64("base_price", params.BasePrice),
		slog.Uint64("max_supply", params.MaxSupply),
	)
	s.bus.Publish(events.Event{Kind: events.KindAgentCreated, AgentID: params.AgentID, Actor: signer.String(), At: now})
	return &AgentView{Address: agentAddr.Address, Agent: agent}, nil
}

// Agent 返回指定 Agent。
func (s *Service) Agent(ctx context.Context, agentID string) (*AgentView, error) {
	var out *AgentView
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		addr, agent, err := LoadAgent(ctx, tx, s.derive, agentID)
		if err != nil {
			return err
		}
		out = &AgentView{Address: addr, Agent: agent}
		return nil
	})
	return out, err
}

// Agents 返回全部 Agent。
func (s *Service) Agents(ctx context.Context) ([]AgentView, error) {
	var out []AgentView
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		addrs, agents, err := state.Agents(ctx, tx)
		if err != nil {
			return err
		}
		out = make([]AgentView, len(agents))
		for i := range agents {
			out[i] = AgentView{Address: addrs[i], Agent: agents[i]}
		}
		return nil
	})
	return out, err
}

// LoadAgent 在事务中读取 Agent 账户。
func LoadAgent(ctx context.Context, tx storage.Tx, derive *address.Deriver, agentID string) (solana.PublicKey, *state.Agent, error) {
	addr, err := derive.Agent(agentID)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	agent := new(state.Agent)
	if err := state.Load(ctx, tx, addr.Address, agent); err != nil {
		if e, ok := xerrors.From(err); ok && e.Code() == xerrors.CodeAccountNotFound {
			return solana.PublicKey{}, nil, xerrors.New(xerrors.CodeAccountNotFound, "agent not found",
				xerrors.WithMetadata(xerrors.MetaAgentID, agentID),
				xerrors.WithMetadata(xerrors.MetaAddress, addr.Address.String()))
		}
		return solana.PublicKey{}, nil, err
	}
	return addr.Address, agent, nil
}

// FundRewardPool 将支付资产从出资人账户转入奖励池金库。
func (s *Service) FundRewardPool(ctx context.Context, funder solana.PublicKey, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, invalid("amount", "注资金额必须大于 0")
	}
	pool, err := s.derive.RewardPool()
	if err != nil {
		return 0, err
	}
	now := s.now()
	period := state.PeriodAt(now)
	var balance uint64
	err = s.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		platformAddr, p, err := Load(ctx, tx, s.derive)
		if err != nil {
			return err
		}
		src, err := address.TokenAccount(funder, p.PaymentMint)
		if err != nil {
			return err
		}
		if err := token.Transfer(ctx, tx, src, pool.Address, p.PaymentMint, platformAddr, amount, period); err != nil {
			return err
		}
		vault, err := token.Account(ctx, tx, pool.Address)
		if err != nil {
			return err
		}
		balance = vault.Amount
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Audit().Info("奖励池注资",
		slog.String("funder", funder.String()),
		slog.Uint64("amount", amount),
		slog.Uint64("pool_balance", balance),
	)
	s.bus.Publish(events.Event{Kind: events.KindRewardPoolFunded, Actor: funder.String(), AmountIn: amount, Period: period, At: now})
	return balance, nil
}

// Deposit 为 owner 记入支付资产，对应外部桥入账，仅平台管理员可调用。
func (s *Service) Deposit(ctx context.Context, signer, owner solana.PublicKey, amount uint64) (uint64, error) {
	if amount == 0 {
		return 0, invalid("amount", "入账金额必须大于 0")
	}
	if owner.IsZero() {
		return 0, invalid("owner", "入账账户不能为空")
	}
	now := s.now()
	var balance uint64
	err := s.store.Update(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, p, err := Load(ctx, tx, s.derive)
		if err != nil {
			return err
		}
		if err := RequireAuthority(p, signer); err != nil {
			return err
		}
		if _, err := token.MintTo(ctx, tx, p.PaymentMint, owner, amount, state.PeriodAt(now)); err != nil {
			return err
		}
		balance, err = token.Balance(ctx, tx, owner, p.PaymentMint)
		return err
	})
	if err != nil {
		return 0, err
	}
	logger.Audit().Info("支付资产入账",
		slog.String("owner", owner.String()),
		slog.Uint64("amount", amount),
	)
	return balance, nil
}

// Balances 描述某个账户持有的支付资产与 Agent 代币。
type Balances struct {
	Owner   solana.PublicKey
	Payment uint64
	Tokens  map[string]uint64
}

// Balances 返回 owner 的支付资产余额以及在各 Agent 代币上的余额。
func (s *Service) Balances(ctx context.Context, owner solana.PublicKey) (*Balances, error) {
	out := &Balances{Owner: owner, Tokens: map[string]uint64{}}
	err := s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, p, err := Load(ctx, tx, s.derive)
		if err != nil {
			return err
		}
		if out.Payment, err = token.Balance(ctx, tx, owner, p.PaymentMint); err != nil {
			return err
		}
		_, agents, err := state.Agents(ctx, tx)
		if err != nil {
			return err
		}
		for _, agent := range agents {
			amount, err := token.Balance(ctx, tx, owner, agent.TokenMint)
			if err != nil {
				return err
			}
			if amount > 0 {
				out.Tokens[agent.AgentID] = amount
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RewardPoolBalance 返回奖励池金库余额。
func (s *Service) RewardPoolBalance(ctx context.Context) (uint64, error) {
	pool, err := s.derive.RewardPool()
	if err != nil {
		return 0, err
	}
	var balance uint64
	err = s.store.View(ctx, func(ctx context.Context, tx storage.Tx) error {
		vault, err := token.Account(ctx, tx, pool.Address)
		if err != nil {
			return err
		}
		balance = vault.Amount
		return nil
	})
	return balance, err
}
