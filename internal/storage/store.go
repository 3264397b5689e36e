// Package storage 定义账户状态的事务性存储接口。
//
// 所有账户以 (地址, 类型, 原始字节) 的形式保存。Update 中的闭包要么全部提交，
// 要么全部回滚，交易与领取的原子性由此保证。
package storage

import (
	"context"
	stdErrors "errors"

	"github.com/gagliardetto/solana-go"
)

// ErrNotFound 表示地址上没有账户。
var ErrNotFound = stdErrors.New("account not found")

// Record 是一条原始账户记录。
type Record struct {
	Address solana.PublicKey
	Kind    string
	Data    []byte
}

// Tx 是一次事务内可见的账户视图。写入在提交前对同一事务可见。
type Tx interface {
	Get(ctx context.Context, addr solana.PublicKey) ([]byte, error)
	Put(ctx context.Context, addr solana.PublicKey, kind string, data []byte) error
	Scan(ctx context.Context, kind string) ([]Record, error)
}

// TxFunc 在事务中执行业务逻辑。返回错误将回滚全部写入。
type TxFunc func(ctx context.Context, tx Tx) error

// Store 抽象了账户状态的持久化后端。
type Store interface {
	Update(ctx context.Context, fn TxFunc) error
	View(ctx context.Context, fn TxFunc) error
	Close() error
}

// ErrReadOnly 在只读事务中写入时返回。
var ErrReadOnly = stdErrors.New("write in read-only transaction")
