package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/oracle/feed"
	"XGrowth-Chain/internal/program"
)

// BuildInstructionRequest 是 POST /api/v1/instructions/{name} 的请求体。
// Args 的字段与 program 包中对应的参数结构体一致。
type BuildInstructionRequest struct {
	Signer solana.PublicKey `json:"signer"`
	Args   json.RawMessage  `json:"args"`
}

// AccountMeta 是指令账户列表中的一项。
type AccountMeta struct {
	PublicKey  solana.PublicKey `json:"pubkey"`
	IsSigner   bool             `json:"is_signer"`
	IsWritable bool             `json:"is_writable"`
}

// InstructionResponse 是未签名的程序指令。Data 以 base64 编码。
type InstructionResponse struct {
	Name      string           `json:"name"`
	ProgramID solana.PublicKey `json:"program_id"`
	Accounts  []AccountMeta    `json:"accounts"`
	Data      []byte           `json:"data"`
}

// SubmitTransactionRequest 携带 base64 编码的已签名交易。
type SubmitTransactionRequest struct {
	Transaction string `json:"transaction"`
}

// OracleUpdateResponse 表示上报已进入队列。
type OracleUpdateResponse struct {
	UpdateID string `json:"update_id"`
	AgentID  string `json:"agent_id"`
	Queued   bool   `json:"queued"`
}

type BlockhashResponse struct {
	Blockhash solana.Hash `json:"blockhash"`
}

func (s *Server) handleBuildInstruction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req BuildInstructionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	args, err := program.NewArgs(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(req.Args) > 0 {
		if err := json.Unmarshal(req.Args, args); err != nil {
			s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "指令参数解析失败",
				xerrors.WithMetadata("instruction", name)))
			return
		}
	}
	builder, err := s.builder(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ix, err := builder.Build(name, req.Signer, args)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := ix.Data()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := InstructionResponse{Name: name, ProgramID: ix.ProgramID(), Data: data}
	for _, meta := range ix.Accounts() {
		resp.Accounts = append(resp.Accounts, AccountMeta{
			PublicKey:  meta.PublicKey,
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// builder 返回绑定当前支付资产的指令构建器。平台尚未初始化时只允许构建 initialize_platform。
func (s *Server) builder(ctx context.Context, name string) (*program.Builder, error) {
	var mint solana.PublicKey
	p, err := s.svc.Platform.Platform(ctx)
	switch {
	case err == nil:
		mint = p.PaymentMint
	case name == program.InitializePlatform && xerrors.HasCode(err, xerrors.CodeAccountNotFound):
	default:
		return nil, err
	}
	return program.NewBuilder(s.svc.Deriver, mint), nil
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req SubmitTransactionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	raw, err := base64.StdEncoding.DecodeString(req.Transaction)
	if err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "交易不是合法的 base64",
			xerrors.WithMetadata(xerrors.MetaField, "transaction")))
		return
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		s.writeError(w, r, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "交易解码失败",
			xerrors.WithMetadata(xerrors.MetaField, "transaction")))
		return
	}
	outcome, err := s.svc.Runtime.Execute(r.Context(), tx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleOracleUpdate 校验签名后将上报投递到队列，由后台处理器异步写入。
func (s *Server) handleOracleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.svc.Feed == nil {
		s.writeError(w, r, xerrors.New(xerrors.CodeQueueFailure, "未配置上报队列"))
		return
	}
	var update feed.SignedUpdate
	if err := decodeBody(w, r, &update); err != nil {
		s.writeError(w, r, err)
		return
	}
	update.Attempts = 0
	if err := update.Verify(); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := feed.Publish(r.Context(), s.svc.Feed, &update); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, OracleUpdateResponse{
		UpdateID: update.Update.ID,
		AgentID:  update.Update.AgentID,
		Queued:   true,
	})
}
