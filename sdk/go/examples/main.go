package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	flag "github.com/spf13/pflag"

	"XGrowth-Chain/sdk/go/xgrowth"
)

func main() {
	baseURL := flag.String("url", "http://127.0.0.1:8080", "xgrowthd 地址")
	agentID := flag.String("agent", "", "Agent ID")
	keypair := flag.String("keypair", "", "solana-keygen 密钥文件，提供时执行买入")
	amount := flag.Uint64("amount", 1_000_000, "买入支付的基础单位数量")
	slippageBps := flag.Uint64("slippage-bps", 100, "允许的滑点")
	flag.Parse()

	if *agentID == "" {
		fmt.Fprintln(os.Stderr, "--agent 不能为空")
		os.Exit(2)
	}
	if err := run(*baseURL, *agentID, *keypair, *amount, *slippageBps); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(baseURL, agentID, keypair string, amount, slippageBps uint64) error {
	client, err := xgrowth.NewClient(baseURL, &http.Client{Timeout: 10 * time.Second})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	plat, err := client.Platform(ctx)
	if err != nil {
		return err
	}
	agent, err := client.Agent(ctx, agentID)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s) spot=%d supply=%d/%d reserve=%d\n",
		agent.Name, agent.Symbol, agent.SpotPrice, agent.CirculatingSupply, agent.MaxSupply, agent.ReserveBalance)

	quote, err := client.Quote(ctx, agentID, xgrowth.SideBuy, amount)
	if err != nil {
		return err
	}
	fmt.Printf("quote: pay %d -> %d tokens, impact %.2f%%\n", quote.AmountIn, quote.AmountOut, quote.PriceImpactPct())

	if keypair == "" {
		return nil
	}
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(keypair)
	if err != nil {
		return err
	}
	res, err := client.Buy(ctx, signer, xgrowth.BuyArgs{
		AgentID:         agentID,
		PaymentAmount:   amount,
		PaymentDecimals: plat.PaymentDecimals,
		MinTokensOut:    quote.AmountOut * (10_000 - slippageBps) / 10_000,
		TokenDecimals:   agent.TokenDecimals,
	})
	if err != nil {
		var apiErr *xgrowth.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("买入被拒绝: %s (%s) %v", apiErr.Code, apiErr.Message, apiErr.Metadata)
		}
		return err
	}
	fmt.Printf("bought %d tokens for %d, tx %s\n", res.AmountOut, res.AmountIn, res.TxRef)
	return nil
}
