// Package state 定义程序账户的数据布局与编解码。
//
// 账户数据为 8 字节判别符加 Borsh 编码的结构体，判别符取
// sha256("account:<Name>") 的前 8 字节。
package state

import (
	"bytes"
	"context"
	"crypto/sha256"
	stdErrors "errors"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/storage"
)

// Account 是可持久化的账户结构。
type Account interface {
	AccountName() string
}

// DiscriminatorLength 是判别符长度。
const DiscriminatorLength = 8

// Discriminator 计算账户类型的判别符。
func Discriminator(name string) [DiscriminatorLength]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var out [DiscriminatorLength]byte
	copy(out[:], sum[:DiscriminatorLength])
	return out
}

// Encode 序列化账户。
func Encode(acct Account) ([]byte, error) {
	var buf bytes.Buffer
	disc := Discriminator(acct.AccountName())
	buf.Write(disc[:])
	if err := bin.NewBorshEncoder(&buf).Encode(acct); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "编码账户失败",
			xerrors.WithMetadata("account", acct.AccountName()))
	}
	return buf.Bytes(), nil
}

// Decode 反序列化账户，并校验判别符。
func Decode(data []byte, acct Account) error {
	if len(data) < DiscriminatorLength {
		return xerrors.New(xerrors.CodeStorageFailure, "账户数据过短",
			xerrors.WithMetadata("account", acct.AccountName()))
	}
	want := Discriminator(acct.AccountName())
	if !bytes.Equal(data[:DiscriminatorLength], want[:]) {
		return xerrors.New(xerrors.CodeInvalidParameters, "账户类型不匹配",
			xerrors.WithMetadata("account", acct.AccountName()),
			xerrors.WithRetryable(false))
	}
	if err := bin.NewBorshDecoder(data[DiscriminatorLength:]).Decode(acct); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解码账户失败",
			xerrors.WithMetadata("account", acct.AccountName()))
	}
	return nil
}

// Load 读取并解码账户，不存在时返回 ACCOUNT_NOT_FOUND。
func Load(ctx context.Context, tx storage.Tx, addr solana.PublicKey, acct Account) error {
	data, err := tx.Get(ctx, addr)
	if err != nil {
		if stdErrors.Is(err, storage.ErrNotFound) {
			return xerrors.New(xerrors.CodeAccountNotFound, acct.AccountName()+" account not found",
				xerrors.WithMetadata(xerrors.MetaAddress, addr.String()),
				xerrors.WithMetadata("account", acct.AccountName()))
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账户失败",
			xerrors.WithMetadata(xerrors.MetaAddress, addr.String()))
	}
	return Decode(data, acct)
}

// LoadOptional 与 Load 相同，但账户不存在时返回 found=false。
func LoadOptional(ctx context.Context, tx storage.Tx, addr solana.PublicKey, acct Account) (found bool, err error) {
	err = Load(ctx, tx, addr, acct)
	if err == nil {
		return true, nil
	}
	if xerrors.HasCode(err, xerrors.CodeAccountNotFound) {
		return false, nil
	}
	return false, err
}

// Save 编码并写入账户。
func Save(ctx context.Context, tx storage.Tx, addr solana.PublicKey, acct Account) error {
	data, err := Encode(acct)
	if err != nil {
		return err
	}
	if err := tx.Put(ctx, addr, acct.AccountName(), data); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入账户失败",
			xerrors.WithMetadata(xerrors.MetaAddress, addr.String()))
	}
	return nil
}

// Create 写入一个新账户，地址已被占用时返回 ACCOUNT_EXISTS。
func Create(ctx context.Context, tx storage.Tx, addr solana.PublicKey, acct Account) error {
	if _, err := tx.Get(ctx, addr); err == nil {
		return xerrors.New(xerrors.CodeAccountExists, acct.AccountName()+" account already exists",
			xerrors.WithMetadata(xerrors.MetaAddress, addr.String()))
	} else if !stdErrors.Is(err, storage.ErrNotFound) {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账户失败")
	}
	return Save(ctx, tx, addr, acct)
}

// Agents 返回全部 Agent 账户及其地址。
func Agents(ctx context.Context, tx storage.Tx) ([]solana.PublicKey, []*Agent, error) {
	records, err := tx.Scan(ctx, (*Agent)(nil).AccountName())
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历 Agent 账户失败")
	}
	addrs := make([]solana.PublicKey, 0, len(records))
	agents := make([]*Agent, 0, len(records))
	for _, rec := range records {
		agent := new(Agent)
		if err := Decode(rec.Data, agent); err != nil {
			return nil, nil, err
		}
		addrs = append(addrs, rec.Address)
		agents = append(agents, agent)
	}
	return addrs, agents, nil
}
