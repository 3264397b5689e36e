package feed

import (
	"bytes"
	"encoding/json"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/oracle"
)

// signingDomain prefixes every signed payload so an update signature can never
// be replayed as a transaction signature.
var signingDomain = []byte("x-growth:performance-update:v1")

// SignedUpdate 是带预言机签名的上报，Attempts 不参与签名。
type SignedUpdate struct {
	Update    oracle.Update    `json:"update"`
	Reporter  solana.PublicKey `json:"reporter"`
	Signature solana.Signature `json:"signature"`
	Attempts  int              `json:"attempts,omitempty"`
}

// SigningMessage 返回上报的待签名字节：域前缀加 Borsh 编码的上报。
func SigningMessage(u oracle.Update) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(signingDomain)
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.Encode(u); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidParameters, err, "编码上报失败")
	}
	return buf.Bytes(), nil
}

// Sign 使用预言机私钥签名上报。
func Sign(u oracle.Update, key solana.PrivateKey) (*SignedUpdate, error) {
	msg, err := SigningMessage(u)
	if err != nil {
		return nil, err
	}
	sig, err := key.Sign(msg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidParameters, err, "签名上报失败")
	}
	return &SignedUpdate{Update: u, Reporter: key.PublicKey(), Signature: sig}, nil
}

// Verify 校验签名是否由 Reporter 对该上报作出。
func (s *SignedUpdate) Verify() error {
	msg, err := SigningMessage(s.Update)
	if err != nil {
		return err
	}
	if !s.Signature.Verify(s.Reporter, msg) {
		return xerrors.New(xerrors.CodeUnauthorized, "上报签名无效",
			xerrors.WithMetadata("reporter", s.Reporter.String()),
			xerrors.WithMetadata("update_id", s.Update.ID))
	}
	return nil
}

// Encode 序列化为队列消息。
func (s *SignedUpdate) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidParameters, err, "序列化上报失败")
	}
	return data, nil
}

// DecodeSignedUpdate 解析队列消息。
func DecodeSignedUpdate(data []byte) (*SignedUpdate, error) {
	var s SignedUpdate
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidParameters, err, "解析上报失败")
	}
	return &s, nil
}
