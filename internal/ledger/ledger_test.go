package ledger_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/config"
	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/ledger"
	"XGrowth-Chain/internal/market"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/internal/platform/platformtest"
	"XGrowth-Chain/internal/program"
	"XGrowth-Chain/internal/rewards"
)

type fakeCluster struct {
	mu        sync.Mutex
	blockhash solana.Hash
	sent      []*solana.Transaction
	polls     int
	failTx    bool
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (c *fakeCluster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	var result any
	switch req.Method {
	case "getLatestBlockhash":
		result = map[string]any{
			"context": map[string]any{"slot": 10},
			"value":   map[string]any{"blockhash": c.blockhash.String(), "lastValidBlockHeight": 300},
		}
	case "sendTransaction":
		var encoded string
		_ = json.Unmarshal(req.Params[0], &encoded)
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.sent = append(c.sent, tx)
		result = tx.Signatures[0].String()
	case "getSignatureStatuses":
		c.polls++
		status := map[string]any{"slot": 11, "confirmations": 0, "err": nil, "confirmationStatus": "processed"}
		if c.polls > 1 {
			status["confirmationStatus"] = "confirmed"
		}
		if c.failTx {
			status["err"] = map[string]any{"InstructionError": []any{0, "Custom"}}
		}
		result = map[string]any{"context": map[string]any{"slot": 11}, "value": []any{status}}
	default:
		http.Error(w, "unknown method "+req.Method, http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func memo(payer solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(solana.MemoProgramID, solana.AccountMetaSlice{solana.Meta(payer).SIGNER()}, []byte("x-growth"))
}

func TestRPCSubmitterWaitsForCommitment(t *testing.T) {
	cluster := &fakeCluster{blockhash: solana.HashFromBytes(make([]byte, 32))}
	srv := httptest.NewServer(cluster)
	defer srv.Close()

	sub, err := ledger.NewRPCSubmitter(ledger.RPCConfig{Name: "test", URL: srv.URL, PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("submitter: %v", err)
	}
	defer sub.Close()

	payer := solana.NewWallet().PrivateKey
	sig, err := ledger.SignAndSubmit(context.Background(), sub, payer, []solana.Instruction{memo(payer.PublicKey())})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	cluster.mu.Lock()
	defer cluster.mu.Unlock()
	if len(cluster.sent) != 1 || cluster.sent[0].Signatures[0] != sig {
		t.Fatalf("unexpected submissions %d", len(cluster.sent))
	}
	if cluster.sent[0].Message.RecentBlockhash != cluster.blockhash {
		t.Fatalf("transaction did not use the cluster blockhash")
	}
	if cluster.polls != 2 {
		t.Fatalf("polls = %d, want 2", cluster.polls)
	}
}

func TestRPCSubmitterReportsTransactionError(t *testing.T) {
	cluster := &fakeCluster{failTx: true}
	srv := httptest.NewServer(cluster)
	defer srv.Close()

	sub, err := ledger.NewRPCSubmitter(ledger.RPCConfig{URL: srv.URL, Commitment: "finalized", PollInterval: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("submitter: %v", err)
	}
	payer := solana.NewWallet().PrivateKey
	_, err = ledger.SignAndSubmit(context.Background(), sub, payer, []solana.Instruction{memo(payer.PublicKey())})
	if xerrors.CodeOf(err) != xerrors.CodeLedgerFailure || xerrors.RetryableError(err) {
		t.Fatalf("expected terminal LEDGER_FAILURE, got %v", err)
	}

	if _, err := ledger.NewRPCSubmitter(ledger.RPCConfig{URL: srv.URL, Commitment: "eventually"}); !stdErrors.Is(err, xerrors.ErrInvalidParameters) {
		t.Fatalf("expected INVALID_PARAMETERS for unknown commitment, got %v", err)
	}
}

func TestSignAndSubmitToLocalRuntime(t *testing.T) {
	f := platformtest.New(t)
	f.CreateAgent(t, "alpha")
	user := f.NewUser(t, 2*platformtest.PaymentUnit)
	rt := program.NewRuntime(f.Deriver, program.Services{
		Platform: f.Platform,
		Market:   market.NewExecutor(f.Store, f.Deriver, market.WithClock(f.Clock.Now)),
		Oracle:   oracle.NewIngestor(f.Store, f.Deriver, oracle.WithClock(f.Clock.Now)),
		Rewards:  rewards.NewLedger(f.Store, f.Deriver, rewards.WithClock(f.Clock.Now)),
	}, program.WithClock(f.Clock.Now))

	ix, err := program.NewBuilder(f.Deriver, f.PaymentMint).Build(program.BuyFromCurve, user.PublicKey(), program.BuyArgs{
		AgentID:         "alpha",
		PaymentAmount:   platformtest.PaymentUnit,
		PaymentDecimals: 6,
		TokenDecimals:   9,
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := ledger.SignAndSubmit(context.Background(), rt, user, []solana.Instruction{ix}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	bal, err := f.Platform.Balances(context.Background(), user.PublicKey())
	if err != nil || bal.Payment != platformtest.PaymentUnit {
		t.Fatalf("balances after buy: %+v %v", bal, err)
	}
}

func TestRegistryFromClusterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clusters.yaml")
	content := `clusters:
  devnet:
    rpc_url: "https://api.devnet.solana.com"
    commitment: confirmed
    poll_interval: 250ms
  localnet:
    rpc_url: "http://127.0.0.1:8899"
    commitment: processed
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	reg, err := ledger.NewRegistry(config.LedgerConfig{ClusterConfig: path})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	defer reg.Close()
	def, err := reg.Default()
	if err != nil || def.Name() != "devnet" {
		t.Fatalf("default cluster: %v %v", def, err)
	}
	if _, ok := reg.Cluster("localnet"); !ok {
		t.Fatalf("localnet missing from %v", reg.Clusters())
	}

	if _, err := ledger.NewRegistry(config.LedgerConfig{ClusterConfig: path, DefaultCluster: "mainnet"}); err == nil {
		t.Fatalf("expected error for unknown default cluster")
	}
	empty, err := ledger.NewRegistry(config.LedgerConfig{})
	if err != nil {
		t.Fatalf("empty registry: %v", err)
	}
	if _, err := empty.Default(); err == nil {
		t.Fatalf("empty registry should have no default")
	}
}
