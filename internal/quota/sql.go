package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"AgentFleet/deploy/migrations"
)

const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

const (
	insertEntrySQL = `INSERT INTO interaction_log (address, kind, recorded_at) VALUES (?, ?, ?)`
	countTodaySQL  = `SELECT COUNT(*) FROM interaction_log WHERE address = ? AND kind = ? AND recorded_at >= ? AND recorded_at < ?`
	updateEntrySQL = `UPDATE interaction_log SET address = ?, kind = ?, recorded_at = ? WHERE id = ?`
	deleteEntrySQL = `DELETE FROM interaction_log WHERE id = ?`
	selectAllSQL   = `SELECT id, address, kind, recorded_at FROM interaction_log ORDER BY id`
)

// gooseMu 保护 goose 的包级状态（BaseFS 与方言）。
var gooseMu sync.Mutex

type entryRow struct {
	ID         int64  `db:"id"`
	Address    string `db:"address"`
	Kind       string `db:"kind"`
	RecordedAt int64  `db:"recorded_at"`
}

func (r entryRow) entry() Entry {
	return Entry{ID: r.ID, Address: r.Address, Kind: Kind(r.Kind), RecordedAt: time.UnixMilli(r.RecordedAt).UTC()}
}

// SQLStore 使用 MySQL 或 PostgreSQL 保存交互日志，只持有一个连接并串行执行。
type SQLStore struct {
	mu   sync.Mutex
	db   *sqlx.DB
	opts options
}

// OpenSQL 连接数据库、执行内嵌迁移并返回存储。dialect 为 mysql 或 postgres。
func OpenSQL(ctx context.Context, dialect, dsn string, opts ...Option) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, storageError(errors.New("dsn is empty"), "数据库 DSN 不能为空")
	}
	driverName, err := driverFor(dialect)
	if err != nil {
		return nil, storageError(err, "不支持的数据库方言")
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, storageError(err, "无法连接到数据库")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := migrate(ctx, db.DB, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStore(db, opts...), nil
}

// NewSQLStore 包装已建立的连接，不执行迁移。
func NewSQLStore(db *sqlx.DB, opts ...Option) *SQLStore {
	return &SQLStore{db: db, opts: buildOptions(opts)}
}

func driverFor(dialect string) (string, error) {
	switch strings.ToLower(dialect) {
	case DialectMySQL:
		return "mysql", nil
	case DialectPostgres, "postgresql", "pgx":
		return "pgx", nil
	default:
		return "", fmt.Errorf("unknown dialect %q", dialect)
	}
}

func migrate(ctx context.Context, db *sql.DB, dialect string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	dialect = strings.ToLower(dialect)
	if dialect != DialectMySQL {
		dialect = DialectPostgres
	}
	goose.SetBaseFS(migrations.Files)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(dialect); err != nil {
		return storageError(err, "设置迁移方言失败")
	}
	if err := goose.UpContext(ctx, db, dialect); err != nil {
		return storageError(err, "执行数据库迁移失败")
	}
	return nil
}

func (s *SQLStore) dollar() bool {
	return sqlx.BindType(s.db.DriverName()) == sqlx.DOLLAR
}

// Record 插入一条记录。PostgreSQL 通过 RETURNING 取回 ID。
func (s *SQLStore) Record(ctx context.Context, address string, kind Kind) (Entry, error) {
	if err := validate(address, kind); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.utcNow()
	entry := Entry{Address: address, Kind: kind, RecordedAt: time.UnixMilli(now.UnixMilli()).UTC()}
	if s.dollar() {
		query := s.db.Rebind(insertEntrySQL + " RETURNING id")
		if err := s.db.QueryRowxContext(ctx, query, address, string(kind), now.UnixMilli()).Scan(&entry.ID); err != nil {
			return Entry{}, storageError(err, "写入交互记录失败")
		}
		return entry, nil
	}

	result, err := s.db.ExecContext(ctx, s.db.Rebind(insertEntrySQL), address, string(kind), now.UnixMilli())
	if err != nil {
		return Entry{}, storageError(err, "写入交互记录失败")
	}
	if entry.ID, err = result.LastInsertId(); err != nil {
		return Entry{}, storageError(err, "获取记录 ID 失败")
	}
	return entry, nil
}

// CountToday 统计当前 UTC 日内的记录数。
func (s *SQLStore) CountToday(ctx context.Context, address string, kind Kind) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, end := DayWindow(s.opts.utcNow())
	var count int
	if err := s.db.GetContext(ctx, &count, s.db.Rebind(countTodaySQL), address, string(kind), start.UnixMilli(), end.UnixMilli()); err != nil {
		return 0, storageError(err, "查询交互记录失败")
	}
	return count, nil
}

// Update 修改记录并刷新时间戳。
func (s *SQLStore) Update(ctx context.Context, id int64, address string, kind Kind) (Entry, error) {
	if err := validate(address, kind); err != nil {
		return Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.utcNow()
	result, err := s.db.ExecContext(ctx, s.db.Rebind(updateEntrySQL), address, string(kind), now.UnixMilli(), id)
	if err != nil {
		return Entry{}, storageError(err, "更新交互记录失败")
	}
	if err := expectAffected(result, id); err != nil {
		return Entry{}, err
	}
	return Entry{ID: id, Address: address, Kind: kind, RecordedAt: time.UnixMilli(now.UnixMilli()).UTC()}, nil
}

// Delete 删除记录。
func (s *SQLStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, s.db.Rebind(deleteEntrySQL), id)
	if err != nil {
		return storageError(err, "删除交互记录失败")
	}
	return expectAffected(result, id)
}

// All 按 ID 升序返回全部记录。
func (s *SQLStore) All(ctx context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []entryRow
	if err := s.db.SelectContext(ctx, &rows, selectAllSQL); err != nil {
		return nil, storageError(err, "查询交互记录失败")
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.entry())
	}
	return entries, nil
}

// Close 关闭数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func expectAffected(result sql.Result, id int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return storageError(err, "读取影响行数失败")
	}
	if affected == 0 {
		return entryNotFound(id)
	}
	return nil
}
