package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"log/slog"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/gagliardetto/solana-go"

	xerrors "XGrowth-Chain/internal/errors"
	"XGrowth-Chain/internal/storage"
	"XGrowth-Chain/pkg/logger"
)

const (
	selectAccountSQL       = `SELECT data FROM accounts WHERE address = ?`
	selectAccountLockedSQL = `SELECT data FROM accounts WHERE address = ? FOR UPDATE`
	upsertAccountSQL       = `INSERT INTO accounts (address, kind, data, updated_at) VALUES (?, ?, ?, ?)
    ON DUPLICATE KEY UPDATE kind = VALUES(kind), data = VALUES(data), updated_at = VALUES(updated_at)`
	scanAccountsSQL       = `SELECT address, kind, data FROM accounts WHERE kind = ? ORDER BY address`
	scanAccountsSharedSQL = `SELECT address, kind, data FROM accounts WHERE kind = ? ORDER BY address LOCK IN SHARE MODE`
)

const (
	errDeadlock        = 1213
	errLockWaitTimeout = 1205
	defaultMaxRetries  = 3
)

// AccountStore 将账户保存在 accounts 表中，实现 storage.Store。
type AccountStore struct {
	db         *sql.DB
	maxRetries int
	now        func() time.Time
	logger     *slog.Logger
}

// NewAccountStore 建立连接池，并在配置要求时执行迁移。
func NewAccountStore(ctx context.Context, cfg Config) (*AccountStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := newAccountStore(db, cfg.MaxRetries)
	if cfg.Migrate {
		if err := Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func newAccountStore(db *sql.DB, maxRetries int) *AccountStore {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &AccountStore{
		db:         db,
		maxRetries: maxRetries,
		now:        time.Now,
		logger:     logger.Named("mysql"),
	}
}

// Update 在 REPEATABLE READ 事务中执行 fn；死锁或锁等待超时时整体重试。
func (s *AccountStore) Update(ctx context.Context, fn storage.TxFunc) error {
	for attempt := 1; ; attempt++ {
		err := s.run(ctx, fn, false)
		if err == nil || !lockConflict(err) || attempt > s.maxRetries {
			return err
		}
		s.logger.Warn("事务锁冲突，准备重试", slog.Int("attempt", attempt), slog.Any("error", err))
	}
}

// View 在只读事务中执行 fn。
func (s *AccountStore) View(ctx context.Context, fn storage.TxFunc) error {
	return s.run(ctx, fn, true)
}

// Close 关闭连接池。
func (s *AccountStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *AccountStore) run(ctx context.Context, fn storage.TxFunc, readOnly bool) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: readOnly})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	if err := fn(ctx, &sqlTx{tx: tx, readOnly: readOnly, now: s.now}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("回滚事务失败", slog.Any("error", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

func lockConflict(err error) bool {
	var myErr *gomysql.MySQLError
	if !stdErrors.As(err, &myErr) {
		return false
	}
	return myErr.Number == errDeadlock || myErr.Number == errLockWaitTimeout
}

type sqlTx struct {
	tx       *sql.Tx
	readOnly bool
	now      func() time.Time
}

func (t *sqlTx) Get(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	query := selectAccountLockedSQL
	if t.readOnly {
		query = selectAccountSQL
	}
	var data []byte
	err := t.tx.QueryRowContext(ctx, query, addr[:]).Scan(&data)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取账户失败",
			xerrors.WithMetadata(xerrors.MetaAddress, addr.String()))
	}
	return data, nil
}

func (t *sqlTx) Put(ctx context.Context, addr solana.PublicKey, kind string, data []byte) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	if _, err := t.tx.ExecContext(ctx, upsertAccountSQL, addr[:], kind, data, t.now().Unix()); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入账户失败",
			xerrors.WithMetadata(xerrors.MetaAddress, addr.String()))
	}
	return nil
}

func (t *sqlTx) Scan(ctx context.Context, kind string) ([]storage.Record, error) {
	query := scanAccountsSharedSQL
	if t.readOnly {
		query = scanAccountsSQL
	}
	rows, err := t.tx.QueryContext(ctx, query, kind)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "扫描账户失败")
	}
	defer rows.Close()

	var out []storage.Record
	for rows.Next() {
		var (
			raw []byte
			rec storage.Record
		)
		if err := rows.Scan(&raw, &rec.Kind, &rec.Data); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析账户失败")
		}
		if len(raw) != solana.PublicKeyLength {
			return nil, xerrors.New(xerrors.CodeStorageFailure, "账户地址长度非法",
				xerrors.WithInt(xerrors.MetaActual, int64(len(raw))))
		}
		rec.Address = solana.PublicKeyFromBytes(raw)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历账户失败")
	}
	return out, nil
}

var _ storage.Store = (*AccountStore)(nil)
