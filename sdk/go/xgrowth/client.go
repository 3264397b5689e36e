// Package xgrowth is a Go client for the X-Growth REST API. The client holds
// no keys: every write takes the signer it should be signed with.
package xgrowth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"

	"XGrowth-Chain/internal/api"
	"XGrowth-Chain/internal/market"
	"XGrowth-Chain/internal/oracle"
	"XGrowth-Chain/internal/oracle/feed"
	"XGrowth-Chain/internal/program"
	"XGrowth-Chain/internal/rewards"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Response and argument types shared with the server.
type (
	Platform         = api.PlatformInfo
	Agent            = api.AgentInfo
	Balances         = api.BalancesInfo
	Quote            = market.Quote
	MigrationStatus  = market.MigrationStatus
	TradeResult      = market.TradeResult
	Side             = market.Side
	Performance      = oracle.Performance
	UserRewards      = rewards.UserRewardsView
	Settlement       = rewards.Settlement
	ClaimResult      = rewards.ClaimResult
	OracleUpdate     = oracle.Update
	BuyArgs          = program.BuyArgs
	SellArgs         = program.SellArgs
	ClaimRewardsArgs = program.ClaimRewardsArgs
)

const (
	SideBuy  = market.SideBuy
	SideSell = market.SideSell
)

// Outcome is the result of a submitted transaction. Result holds the raw
// instruction result; use DecodeResult to read it.
type Outcome struct {
	Signature   solana.Signature `json:"signature"`
	Instruction string           `json:"instruction"`
	Signer      solana.PublicKey `json:"signer"`
	Result      json.RawMessage  `json:"result"`
	Replayed    bool             `json:"replayed"`
	ExecutedAt  int64            `json:"executed_at"`
}

// DecodeResult unmarshals the instruction result into out.
func (o *Outcome) DecodeResult(out any) error {
	if len(o.Result) == 0 {
		return fmt.Errorf("xgrowth: %s returned no result", o.Instruction)
	}
	return json.Unmarshal(o.Result, out)
}

// APIError is a structured server error.
type APIError struct {
	StatusCode int
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("xgrowth api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("xgrowth api error (%d): %s", e.StatusCode, e.Message)
}

// Client wraps the HTTP interactions with the X-Growth REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// NewClient instantiates a client. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Platform returns the platform configuration.
func (c *Client) Platform(ctx context.Context) (*Platform, error) {
	var out Platform
	if err := c.get(ctx, "/api/v1/platform", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Agents lists every agent.
func (c *Client) Agents(ctx context.Context) ([]Agent, error) {
	var out []Agent
	if err := c.get(ctx, "/api/v1/agents", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Agent returns one agent.
func (c *Client) Agent(ctx context.Context, agentID string) (*Agent, error) {
	var out Agent
	if err := c.get(ctx, "/api/v1/agents/"+url.PathEscape(agentID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Quote prices a trade without executing it. amount is payment for buys and
// tokens for sells, in base units.
func (c *Client) Quote(ctx context.Context, agentID string, side Side, amount uint64) (*Quote, error) {
	q := url.Values{}
	q.Set("side", string(side))
	q.Set("amount", strconv.FormatUint(amount, 10))
	var out Quote
	if err := c.get(ctx, "/api/v1/agents/"+url.PathEscape(agentID)+"/quote", q, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MigrationStatus reports how close the agent's curve is to exhaustion.
func (c *Client) MigrationStatus(ctx context.Context, agentID string) (*MigrationStatus, error) {
	var out MigrationStatus
	if err := c.get(ctx, "/api/v1/agents/"+url.PathEscape(agentID)+"/migration", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Performance returns the agent's metrics and current score.
func (c *Client) Performance(ctx context.Context, agentID string) (*Performance, error) {
	var out Performance
	if err := c.get(ctx, "/api/v1/agents/"+url.PathEscape(agentID)+"/performance", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UserRewards previews what user can claim from agentID.
func (c *Client) UserRewards(ctx context.Context, agentID string, user solana.PublicKey) (*UserRewards, error) {
	var out UserRewards
	endpoint := "/api/v1/agents/" + url.PathEscape(agentID) + "/rewards/" + user.String()
	if err := c.get(ctx, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Balances returns owner's payment and agent-token balances.
func (c *Client) Balances(ctx context.Context, owner solana.PublicKey) (*Balances, error) {
	var out Balances
	if err := c.get(ctx, "/api/v1/accounts/"+owner.String()+"/balances", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settlement returns a settled reward period.
func (c *Client) Settlement(ctx context.Context, period int64) (*Settlement, error) {
	var out Settlement
	if err := c.get(ctx, "/api/v1/settlements/"+strconv.FormatInt(period, 10), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecentBlockhash returns a blockhash transactions can reference.
func (c *Client) RecentBlockhash(ctx context.Context) (solana.Hash, error) {
	var out api.BlockhashResponse
	if err := c.get(ctx, "/api/v1/blockhash", nil, &out); err != nil {
		return solana.Hash{}, err
	}
	return out.Blockhash, nil
}

// BuildInstruction asks the server for the unsigned instruction name with the
// given args, one of the program argument structs.
func (c *Client) BuildInstruction(ctx context.Context, name string, signer solana.PublicKey, args any) (*solana.GenericInstruction, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	var resp api.InstructionResponse
	req := api.BuildInstructionRequest{Signer: signer, Args: raw}
	if err := c.post(ctx, "/api/v1/instructions/"+url.PathEscape(name), req, &resp); err != nil {
		return nil, err
	}
	metas := make(solana.AccountMetaSlice, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		metas = append(metas, &solana.AccountMeta{PublicKey: a.PublicKey, IsSigner: a.IsSigner, IsWritable: a.IsWritable})
	}
	return solana.NewInstruction(resp.ProgramID, metas, resp.Data), nil
}

// SubmitTransaction sends a signed transaction.
func (c *Client) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (*Outcome, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	var out Outcome
	req := api.SubmitTransactionRequest{Transaction: base64.StdEncoding.EncodeToString(raw)}
	if err := c.post(ctx, "/api/v1/transactions", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Execute builds the instruction, signs it with signer as fee payer and
// submits it.
func (c *Client) Execute(ctx context.Context, signer solana.PrivateKey, name string, args any) (*Outcome, error) {
	ix, err := c.BuildInstruction(ctx, name, signer.PublicKey(), args)
	if err != nil {
		return nil, err
	}
	hash, err := c.RecentBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, hash, solana.TransactionPayer(signer.PublicKey()))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(signer.PublicKey()) {
			return &signer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return c.SubmitTransaction(ctx, tx)
}

// Buy executes buy_from_curve.
func (c *Client) Buy(ctx context.Context, signer solana.PrivateKey, args BuyArgs) (*TradeResult, error) {
	return executeAs[TradeResult](ctx, c, signer, program.BuyFromCurve, args)
}

// Sell executes sell_to_curve.
func (c *Client) Sell(ctx context.Context, signer solana.PrivateKey, args SellArgs) (*TradeResult, error) {
	return executeAs[TradeResult](ctx, c, signer, program.SellToCurve, args)
}

// ClaimRewards executes claim_rewards for agentID.
func (c *Client) ClaimRewards(ctx context.Context, signer solana.PrivateKey, agentID string) (*ClaimResult, error) {
	return executeAs[ClaimResult](ctx, c, signer, program.ClaimRewards, ClaimRewardsArgs{AgentID: agentID})
}

// PublishOracleUpdate signs upd with reporter and queues it on the server.
func (c *Client) PublishOracleUpdate(ctx context.Context, reporter solana.PrivateKey, upd OracleUpdate) (*api.OracleUpdateResponse, error) {
	signed, err := feed.Sign(upd, reporter)
	if err != nil {
		return nil, err
	}
	var out api.OracleUpdateResponse
	if err := c.post(ctx, "/api/v1/oracle/updates", signed, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func executeAs[T any](ctx context.Context, c *Client, signer solana.PrivateKey, name string, args any) (*T, error) {
	outcome, err := c.Execute(ctx, signer, name, args)
	if err != nil {
		return nil, err
	}
	var out T
	if err := outcome.DecodeResult(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint), RawQuery: query.Encode()}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &struct {
				Error *APIError `json:"error"`
			}{Error: &apiErr})
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
