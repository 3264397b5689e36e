package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/pkg/logger"
)

// RPCConfig describes a cluster endpoint.
type RPCConfig struct {
	Name          string
	URL           string
	Commitment    string
	PollInterval  time.Duration
	Timeout       time.Duration
	SkipPreflight bool
}

// RPCSubmitter submits transactions to a Solana cluster and waits until they
// reach the configured commitment.
type RPCSubmitter struct {
	name          string
	client        *rpc.Client
	commitment    rpc.CommitmentType
	poll          time.Duration
	timeout       time.Duration
	skipPreflight bool
	logger        *slog.Logger
}

var _ Submitter = (*RPCSubmitter)(nil)

// NewRPCSubmitter returns a submitter for cfg.URL.
func NewRPCSubmitter(cfg RPCConfig) (*RPCSubmitter, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置集群 RPC 地址")
	}
	commitment, err := parseCommitment(cfg.Commitment)
	if err != nil {
		return nil, err
	}
	s := &RPCSubmitter{
		name:          cfg.Name,
		client:        rpc.New(url),
		commitment:    commitment,
		poll:          cfg.PollInterval,
		timeout:       cfg.Timeout,
		skipPreflight: cfg.SkipPreflight,
		logger:        logger.Named("ledger"),
	}
	if s.poll <= 0 {
		s.poll = 500 * time.Millisecond
	}
	if s.timeout <= 0 {
		s.timeout = 60 * time.Second
	}
	return s, nil
}

func parseCommitment(raw string) (rpc.CommitmentType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "processed":
		return rpc.CommitmentProcessed, nil
	case "", "confirmed":
		return rpc.CommitmentConfirmed, nil
	case "finalized":
		return rpc.CommitmentFinalized, nil
	}
	return "", xerrors.New(xerrors.CodeInvalidParameters, "未知的提交级别",
		xerrors.WithMetadata(xerrors.MetaField, "commitment"),
		xerrors.WithMetadata(xerrors.MetaActual, raw))
}

func commitmentRank(status rpc.ConfirmationStatusType) int {
	switch status {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	}
	return 0
}

func (s *RPCSubmitter) wantRank() int {
	switch s.commitment {
	case rpc.CommitmentProcessed:
		return 1
	case rpc.CommitmentFinalized:
		return 3
	}
	return 2
}

// Name returns the cluster name.
func (s *RPCSubmitter) Name() string { return s.name }

// RecentBlockhash fetches the latest blockhash at the configured commitment.
func (s *RPCSubmitter) RecentBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := s.client.GetLatestBlockhash(ctx, s.commitment)
	if err != nil {
		return solana.Hash{}, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "获取最新区块哈希失败",
			xerrors.WithMetadata("cluster", s.name))
	}
	if out == nil || out.Value == nil {
		return solana.Hash{}, xerrors.New(xerrors.CodeLedgerFailure, "区块哈希响应为空",
			xerrors.WithMetadata("cluster", s.name))
	}
	return out.Value.Blockhash, nil
}

// Submit sends tx and polls its status until the configured commitment, a
// transaction error, or the timeout.
func (s *RPCSubmitter) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       s.skipPreflight,
		PreflightCommitment: s.commitment,
	})
	if err != nil {
		return solana.Signature{}, xerrors.Wrap(xerrors.CodeLedgerFailure, err, "发送交易失败",
			xerrors.WithMetadata("cluster", s.name))
	}
	if err := s.await(ctx, sig); err != nil {
		return sig, err
	}
	s.logger.Info("交易已确认",
		slog.String("cluster", s.name),
		slog.String("signature", sig.String()),
		slog.String("commitment", string(s.commitment)),
	)
	return sig, nil
}

func (s *RPCSubmitter) await(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	want := s.wantRank()
	for {
		out, err := s.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			s.logger.Warn("查询交易状态失败", slog.String("signature", sig.String()), slog.Any("error", err))
		} else if out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return xerrors.New(xerrors.CodeLedgerFailure, fmt.Sprintf("交易执行失败: %v", status.Err),
					xerrors.WithMetadata("signature", sig.String()),
					xerrors.WithRetryable(false))
			}
			if commitmentRank(status.ConfirmationStatus) >= want {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待交易确认超时",
				xerrors.WithMetadata("signature", sig.String()),
				xerrors.WithMetadata("commitment", string(s.commitment)))
		case <-ticker.C:
		}
	}
}

// Close releases the RPC client.
func (s *RPCSubmitter) Close() {
	if s == nil || s.client == nil {
		return
	}
	_ = s.client.Close()
}
