package storage

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MemoryStore 以内存方式保存账户，主要用于测试与单机部署。
// 写事务串行执行，读事务可并发。
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey]Record
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[solana.PublicKey]Record)}
}

// Update 实现 Store 接口。
func (m *MemoryStore) Update(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memoryTx{store: m, writes: make(map[solana.PublicKey]Record)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	for addr, rec := range tx.writes {
		m.accounts[addr] = rec
	}
	return nil
}

// View 实现 Store 接口。
func (m *MemoryStore) View(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(ctx, &memoryTx{store: m, readOnly: true})
}

// Close 实现 Store 接口。
func (m *MemoryStore) Close() error { return nil }

// Len 返回账户数量。
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

type memoryTx struct {
	store    *MemoryStore
	writes   map[solana.PublicKey]Record
	readOnly bool
}

func (t *memoryTx) Get(_ context.Context, addr solana.PublicKey) ([]byte, error) {
	if rec, ok := t.writes[addr]; ok {
		return bytes.Clone(rec.Data), nil
	}
	rec, ok := t.store.accounts[addr]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(rec.Data), nil
}

func (t *memoryTx) Put(_ context.Context, addr solana.PublicKey, kind string, data []byte) error {
	if t.readOnly {
		return ErrReadOnly
	}
	t.writes[addr] = Record{Address: addr, Kind: kind, Data: bytes.Clone(data)}
	return nil
}

func (t *memoryTx) Scan(_ context.Context, kind string) ([]Record, error) {
	merged := make(map[solana.PublicKey]Record)
	for addr, rec := range t.store.accounts {
		if rec.Kind == kind {
			merged[addr] = rec
		}
	}
	for addr, rec := range t.writes {
		if rec.Kind == kind {
			merged[addr] = rec
		}
	}
	out := make([]Record, 0, len(merged))
	for _, rec := range merged {
		out = append(out, Record{Address: rec.Address, Kind: rec.Kind, Data: bytes.Clone(rec.Data)})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
