package redis

import (
	"bytes"
	"context"
	stdErrors "errors"
	"log/slog"
	"sort"

	"github.com/gagliardetto/solana-go"
	goredis "github.com/redis/go-redis/v9"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/storage"
	"XGrowth-Chain/pkg/logger"
)

const (
	fieldKind = "kind"
	fieldData = "data"

	defaultKeyPrefix  = "xgrowth:account:"
	defaultMaxRetries = 8
)

// Config 描述 Redis 账户存储的连接参数。
type Config struct {
	Address    string
	Password   string
	DB         int
	KeyPrefix  string
	MaxRetries int
}

// AccountStore 以 hash 保存账户，并为每种账户类型维护一个地址集合。
type AccountStore struct {
	client     goredis.UniversalClient
	prefix     string
	maxRetries int
	logger     *slog.Logger
	owned      bool
}

// NewAccountStore 连接 Redis 并创建存储。
func NewAccountStore(ctx context.Context, cfg Config) (*AccountStore, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "Redis address 不能为空")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 Redis 失败")
	}
	s := NewAccountStoreFromClient(client, cfg.KeyPrefix, cfg.MaxRetries)
	s.owned = true
	return s, nil
}

// NewAccountStoreFromClient 基于已有客户端创建存储，Close 不会关闭该客户端。
func NewAccountStoreFromClient(client goredis.UniversalClient, prefix string, maxRetries int) *AccountStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &AccountStore{
		client:     client,
		prefix:     prefix,
		maxRetries: maxRetries,
		logger:     logger.Named("redis-store"),
	}
}

// Update 以乐观事务执行 fn。被 WATCH 的键在提交前被改动时整体重试。
func (s *AccountStore) Update(ctx context.Context, fn storage.TxFunc) error {
	for attempt := 1; ; attempt++ {
		err := s.client.Watch(ctx, func(rtx *goredis.Tx) error {
			tx := &redisTx{store: s, reader: rtx, watch: rtx, writes: make(map[solana.PublicKey]storage.Record)}
			if err := fn(ctx, tx); err != nil {
				return err
			}
			if len(tx.writes) == 0 {
				return nil
			}
			_, err := rtx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				for addr, rec := range tx.writes {
					pipe.HSet(ctx, s.accountKey(addr), fieldKind, rec.Kind, fieldData, rec.Data)
					pipe.SAdd(ctx, s.kindKey(rec.Kind), addr.String())
				}
				return nil
			})
			return err
		})
		if err == nil {
			return nil
		}
		if !stdErrors.Is(err, goredis.TxFailedErr) {
			return err
		}
		if attempt >= s.maxRetries {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis 事务冲突重试次数耗尽",
				xerrors.WithInt(xerrors.MetaActual, int64(attempt)))
		}
		s.logger.Debug("Redis 事务冲突，准备重试", slog.Int("attempt", attempt))
	}
}

// View 直接读取当前值，不提供跨键快照。
func (s *AccountStore) View(ctx context.Context, fn storage.TxFunc) error {
	return fn(ctx, &redisTx{store: s, reader: s.client, readOnly: true})
}

// Close 关闭自行创建的客户端。
func (s *AccountStore) Close() error {
	if s == nil || !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *AccountStore) accountKey(addr solana.PublicKey) string {
	return s.prefix + addr.String()
}

func (s *AccountStore) kindKey(kind string) string {
	return s.prefix + "kind:" + kind
}

type redisTx struct {
	store    *AccountStore
	reader   goredis.Cmdable
	watch    *goredis.Tx
	writes   map[solana.PublicKey]storage.Record
	readOnly bool
}

func (t *redisTx) watchKeys(ctx context.Context, keys ...string) error {
	if t.watch == nil {
		return nil
	}
	if err := t.watch.Watch(ctx, keys...).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "Redis WATCH 失败")
	}
	return nil
}

func (t *redisTx) Get(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	if rec, ok := t.writes[addr]; ok {
		return bytes.Clone(rec.Data), nil
	}
	key := t.store.accountKey(addr)
	if err := t.watchKeys(ctx, key); err != nil {
		return nil, err
	}
	data, err := t.reader.HGet(ctx, key, fieldData).Bytes()
	if stdErrors.Is(err, goredis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账户失败",
			xerrors.WithMetadata(xerrors.MetaAddress, addr.String()))
	}
	return data, nil
}

func (t *redisTx) Put(_ context.Context, addr solana.PublicKey, kind string, data []byte) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	t.writes[addr] = storage.Record{Address: addr, Kind: kind, Data: bytes.Clone(data)}
	return nil
}

func (t *redisTx) Scan(ctx context.Context, kind string) ([]storage.Record, error) {
	index := t.store.kindKey(kind)
	if err := t.watchKeys(ctx, index); err != nil {
		return nil, err
	}
	members, err := t.reader.SMembers(ctx, index).Result()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账户索引失败")
	}
	merged := make(map[solana.PublicKey]storage.Record, len(members))
	for _, member := range members {
		addr, err := solana.PublicKeyFromBase58(member)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "账户索引包含非法地址")
		}
		data, err := t.Get(ctx, addr)
		if stdErrors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		merged[addr] = storage.Record{Address: addr, Kind: kind, Data: data}
	}
	for addr, rec := range t.writes {
		if rec.Kind == kind {
			merged[addr] = storage.Record{Address: addr, Kind: kind, Data: bytes.Clone(rec.Data)}
		}
	}
	out := make([]storage.Record, 0, len(merged))
	for _, rec := range merged {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out, nil
}

var _ storage.Store = (*AccountStore)(nil)
