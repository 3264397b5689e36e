package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/market"
	"XGrowth-Chain/internal/observability/metrics"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/internal/oracle/feed"
	"XGrowth-Chain/internal/platform/platformtest"
	"XGrowth-Chain/internal/program"
	"XGrowth-Chain/internal/rewards"
)

type testServer struct {
	*platformtest.Fixture
	queue   *feed.MemoryQueue
	metrics *metrics.Collector
	http    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	f := platformtest.New(t)
	exec := market.NewExecutor(f.Store, f.Deriver, market.WithClock(f.Clock.Now))
	ingest := oracle.NewIngestor(f.Store, f.Deriver, oracle.WithClock(f.Clock.Now))
	ledger := rewards.NewLedger(f.Store, f.Deriver, rewards.WithClock(f.Clock.Now))
	rt := program.NewRuntime(f.Deriver, program.Services{
		Platform: f.Platform,
		Market:   exec,
		Oracle:   ingest,
		Rewards:  ledger,
	}, program.WithClock(f.Clock.Now))

	queue := feed.NewMemoryQueue(8)
	collector := metrics.NewCollector()
	srv := NewServer(":0", Services{
		Deriver:  f.Deriver,
		Platform: f.Platform,
		Market:   exec,
		Oracle:   ingest,
		Rewards:  ledger,
		Runtime:  rt,
		Feed:     queue,
	}, WithMetrics(collector, "/metrics"))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Fixture: f, queue: queue, metrics: collector, http: ts}
}

func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, s.http.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := s.http.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestReadEndpoints(t *testing.T) {
	s := newTestServer(t)
	s.CreateAgent(t, "alpha")

	var plat PlatformInfo
	if code := s.do(t, http.MethodGet, "/api/v1/platform", nil, &plat); code != http.StatusOK {
		t.Fatalf("platform status %d", code)
	}
	if !plat.PaymentMint.Equals(s.PaymentMint) || plat.TotalAgents != 1 {
		t.Fatalf("unexpected platform %+v", plat)
	}

	var agents []AgentInfo
	if code := s.do(t, http.MethodGet, "/api/v1/agents", nil, &agents); code != http.StatusOK || len(agents) != 1 {
		t.Fatalf("agents status %d: %+v", code, agents)
	}
	if agents[0].AgentID != "alpha" || agents[0].MaxSupply != platformtest.MaxSupply {
		t.Fatalf("unexpected agent %+v", agents[0])
	}

	var quote market.Quote
	path := "/api/v1/agents/alpha/quote?side=buy&amount=" + strconv.FormatUint(platformtest.PaymentUnit, 10)
	if code := s.do(t, http.MethodGet, path, nil, &quote); code != http.StatusOK {
		t.Fatalf("quote status %d", code)
	}
	if quote.AmountOut != 100*platformtest.TokenUnit {
		t.Fatalf("unexpected quote %+v", quote)
	}

	var status market.MigrationStatus
	if code := s.do(t, http.MethodGet, "/api/v1/agents/alpha/migration", nil, &status); code != http.StatusOK || status.Exhausted {
		t.Fatalf("migration status %d: %+v", code, status)
	}

	user := s.NewUser(t, 3*platformtest.PaymentUnit)
	var bal BalancesInfo
	if code := s.do(t, http.MethodGet, "/api/v1/accounts/"+user.PublicKey().String()+"/balances", nil, &bal); code != http.StatusOK {
		t.Fatalf("balances status %d", code)
	}
	if bal.Payment != 3*platformtest.PaymentUnit {
		t.Fatalf("unexpected balances %+v", bal)
	}
}

func TestErrorsAreStructured(t *testing.T) {
	s := newTestServer(t)

	var resp ErrorResponse
	if code := s.do(t, http.MethodGet, "/api/v1/agents/alpha/quote?amount=abc", nil, &resp); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if resp.Error.Code != xerrors.CodeInvalidArgument || resp.Error.Metadata[xerrors.MetaField] != "amount" {
		t.Fatalf("unexpected error body %+v", resp)
	}

	resp = ErrorResponse{}
	if code := s.do(t, http.MethodGet, "/api/v1/agents/missing", nil, &resp); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if resp.Error.Code != xerrors.CodeAccountNotFound {
		t.Fatalf("unexpected error body %+v", resp)
	}

	resp = ErrorResponse{}
	if code := s.do(t, http.MethodGet, "/api/v1/accounts/not-a-key/balances", nil, &resp); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a bad key, got %d", code)
	}
}

func TestBuildAndSubmitTransaction(t *testing.T) {
	s := newTestServer(t)
	s.CreateAgent(t, "alpha")
	user := s.NewUser(t, 5*platformtest.PaymentUnit)

	var ix InstructionResponse
	code := s.do(t, http.MethodPost, "/api/v1/instructions/"+program.BuyFromCurve, map[string]any{
		"signer": user.PublicKey().String(),
		"args": program.BuyArgs{
			AgentID:         "alpha",
			PaymentAmount:   platformtest.PaymentUnit,
			PaymentDecimals: 6,
			TokenDecimals:   9,
		},
	}, &ix)
	if code != http.StatusOK {
		t.Fatalf("build status %d", code)
	}
	if !ix.ProgramID.Equals(s.Deriver.ProgramID()) || len(ix.Accounts) == 0 || !ix.Accounts[0].IsSigner {
		t.Fatalf("unexpected instruction %+v", ix)
	}

	var bh BlockhashResponse
	if code := s.do(t, http.MethodGet, "/api/v1/blockhash", nil, &bh); code != http.StatusOK {
		t.Fatalf("blockhash status %d", code)
	}

	metas := make(solana.AccountMetaSlice, 0, len(ix.Accounts))
	for _, a := range ix.Accounts {
		metas = append(metas, &solana.AccountMeta{PublicKey: a.PublicKey, IsSigner: a.IsSigner, IsWritable: a.IsWritable})
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{solana.NewInstruction(ix.ProgramID, metas, ix.Data)},
		bh.Blockhash,
		solana.TransactionPayer(user.PublicKey()),
	)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(user.PublicKey()) {
			return &user
		}
		return nil
	}); err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var outcome struct {
		Instruction string             `json:"instruction"`
		Replayed    bool               `json:"replayed"`
		Result      market.TradeResult `json:"result"`
	}
	req := SubmitTransactionRequest{Transaction: base64.StdEncoding.EncodeToString(raw)}
	if code := s.do(t, http.MethodPost, "/api/v1/transactions", req, &outcome); code != http.StatusOK {
		t.Fatalf("submit status %d", code)
	}
	if outcome.Instruction != program.BuyFromCurve || outcome.Result.AmountOut != 100*platformtest.TokenUnit {
		t.Fatalf("unexpected outcome %+v", outcome)
	}

	outcome.Replayed = false
	if code := s.do(t, http.MethodPost, "/api/v1/transactions", req, &outcome); code != http.StatusOK || !outcome.Replayed {
		t.Fatalf("rebroadcast status %d replayed=%v", code, outcome.Replayed)
	}
}

func TestOracleUpdateIsQueued(t *testing.T) {
	s := newTestServer(t)
	s.CreateAgent(t, "alpha")
	upd := oracle.Update{ID: "u-1", AgentID: "alpha", Likes: 10, Timestamp: s.Clock.Now().Unix()}

	forged, err := feed.Sign(upd, solana.NewWallet().PrivateKey)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	forged.Reporter = s.Oracle.PublicKey()
	var errResp ErrorResponse
	if code := s.do(t, http.MethodPost, "/api/v1/oracle/updates", forged, &errResp); code != http.StatusForbidden {
		t.Fatalf("expected 403 for a forged update, got %d", code)
	}

	signed, err := feed.Sign(upd, s.Oracle)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	var accepted OracleUpdateResponse
	if code := s.do(t, http.MethodPost, "/api/v1/oracle/updates", signed, &accepted); code != http.StatusAccepted || !accepted.Queued {
		t.Fatalf("expected 202, got %d %+v", code, accepted)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var got *feed.SignedUpdate
	_ = s.queue.Consume(ctx, 1, func(_ context.Context, payload []byte) error {
		got, err = feed.DecodeSignedUpdate(payload)
		cancel()
		return err
	})
	if got == nil || got.Update.ID != "u-1" || got.Verify() != nil {
		t.Fatalf("unexpected queued update %+v", got)
	}
}

func TestMetricsMiddleware(t *testing.T) {
	s := newTestServer(t)
	if code := s.do(t, http.MethodGet, "/healthz", nil, nil); code != http.StatusOK {
		t.Fatalf("healthz status %d", code)
	}
	resp, err := s.http.Client().Get(s.http.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	want := `xgrowth_http_requests_total{code="200",handler="healthz",method="GET"} 1`
	if !strings.Contains(string(body), want) {
		t.Fatalf("metrics output missing %q", want)
	}
}
