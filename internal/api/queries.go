package api

import (
	"net/http"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/curve"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/market"
	"XGrowth-Chain/internal/platform"
)

type PlatformInfo struct {
	Address             solana.PublicKey `json:"address"`
	Authority           solana.PublicKey `json:"authority"`
	PaymentMint         solana.PublicKey `json:"payment_mint"`
	PaymentDecimals     uint8            `json:"payment_decimals"`
	Oracle              solana.PublicKey `json:"oracle"`
	DailyRewardPool     uint64           `json:"daily_reward_pool"`
	SellFeeBps          uint16           `json:"sell_fee_bps"`
	ScoreHalfSaturation uint64           `json:"score_half_saturation"`
	TotalAgents         uint64           `json:"total_agents"`
	RewardPoolBalance   uint64           `json:"reward_pool_balance"`
	CreatedAt           int64            `json:"created_at"`
}

type AgentInfo struct {
	Address             solana.PublicKey `json:"address"`
	AgentID             string           `json:"agent_id"`
	Name                string           `json:"name"`
	Symbol              string           `json:"symbol"`
	URI                 string           `json:"uri"`
	Authority           solana.PublicKey `json:"authority"`
	TokenMint           solana.PublicKey `json:"token_mint"`
	Reserve             solana.PublicKey `json:"reserve"`
	TokenDecimals       uint8            `json:"token_decimals"`
	BasePrice           uint64           `json:"base_price"`
	CurveFactor         uint64           `json:"curve_factor"`
	MaxSupply           uint64           `json:"max_supply"`
	CirculatingSupply   uint64           `json:"circulating_supply"`
	ReserveBalance      uint64           `json:"reserve_balance"`
	SpotPrice           uint64           `json:"spot_price"`
	TotalVolume         uint64           `json:"total_volume"`
	TotalRewardsClaimed uint64           `json:"total_rewards_claimed"`
	CurveExhaustedAt    int64            `json:"curve_exhausted_at,omitempty"`
	CreatedAt           int64            `json:"created_at"`
}

type BalancesInfo struct {
	Owner   solana.PublicKey  `json:"owner"`
	Payment uint64            `json:"payment"`
	Tokens  map[string]uint64 `json:"tokens"`
}

func newAgentInfo(view platform.AgentView) (AgentInfo, error) {
	a := view.Agent
	spot, err := curve.SpotPrice(a.Params(), a.CirculatingSupply)
	if err != nil {
		return AgentInfo{}, err
	}
	return AgentInfo{
		Address:             view.Address,
		AgentID:             a.AgentID,
		Name:                a.Name,
		Symbol:              a.Symbol,
		URI:                 a.URI,
		Authority:           a.Authority,
		TokenMint:           a.TokenMint,
		Reserve:             a.Reserve,
		TokenDecimals:       a.TokenDecimals,
		BasePrice:           a.Curve.BasePrice,
		CurveFactor:         a.Curve.CurveFactor,
		MaxSupply:           a.Curve.MaxSupply,
		CirculatingSupply:   a.CirculatingSupply,
		ReserveBalance:      a.ReserveBalance,
		SpotPrice:           spot,
		TotalVolume:         a.TotalVolume,
		TotalRewardsClaimed: a.TotalRewardsClaimed,
		CurveExhaustedAt:    a.CurveExhaustedAt,
		CreatedAt:           a.CreatedAt,
	}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Platform.Platform(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	pool, err := s.svc.Platform.RewardPoolBalance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := s.svc.Deriver.Platform()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PlatformInfo{
		Address:             addr.Address,
		Authority:           p.Authority,
		PaymentMint:         p.PaymentMint,
		PaymentDecimals:     p.PaymentDecimals,
		Oracle:              p.Oracle,
		DailyRewardPool:     p.DailyRewardPool,
		SellFeeBps:          p.SellFeeBps,
		ScoreHalfSaturation: p.ScoreHalfSaturation,
		TotalAgents:         p.TotalAgents,
		RewardPoolBalance:   pool,
		CreatedAt:           p.CreatedAt,
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	views, err := s.svc.Platform.Agents(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]AgentInfo, 0, len(views))
	for _, v := range views {
		resp, err := newAgentInfo(v)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.Platform.Agent(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := newAgentInfo(*view)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQuote 处理 GET /api/v1/agents/{id}/quote?side=buy&amount=N。
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	side := market.Side(r.URL.Query().Get("side"))
	if side == "" {
		side = market.SideBuy
	}
	if side != market.SideBuy && side != market.SideSell {
		s.writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "side 只能为 buy 或 sell",
			xerrors.WithMetadata(xerrors.MetaField, "side")))
		return
	}
	amount, err := parseUint(r.URL.Query().Get("amount"), "amount")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q, err := s.svc.Market.Quote(r.Context(), r.PathValue("id"), side, amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handleMigration(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.Market.MigrationStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.svc.Oracle.PerformanceScore(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

func (s *Server) handleUserRewards(w http.ResponseWriter, r *http.Request) {
	user, err := parseKey(r.PathValue("user"), "user")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view, err := s.svc.Rewards.UserRewards(r.Context(), user, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	owner, err := parseKey(r.PathValue("owner"), "owner")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bal, err := s.svc.Platform.Balances(r.Context(), owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalancesInfo{Owner: bal.Owner, Payment: bal.Payment, Tokens: bal.Tokens})
}

func (s *Server) handleSettlement(w http.ResponseWriter, r *http.Request) {
	period, err := strconv.ParseInt(r.PathValue("period"), 10, 64)
	if err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "period 不合法",
			xerrors.WithMetadata(xerrors.MetaField, "period")))
		return
	}
	settlement, err := s.svc.Rewards.Settlement(r.Context(), period)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

func (s *Server) handleBlockhash(w http.ResponseWriter, r *http.Request) {
	hash, err := s.svc.Runtime.RecentBlockhash(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BlockhashResponse{Blockhash: hash})
}

func parseKey(raw, field string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "地址格式不合法",
			xerrors.WithMetadata(xerrors.MetaField, field))
	}
	return key, nil
}

func parseUint(raw, field string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, field+" 不合法",
			xerrors.WithMetadata(xerrors.MetaField, field))
	}
	return v, nil
}
