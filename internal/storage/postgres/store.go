// Package postgres хранит в PostgreSQL счета, склад,
// циклы, журнал саги, outbox и ключи идемпотентности.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
)

const (
	opTimeout          = 5 * time.Second
	defaultConnTimeout = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

type poolSettings struct {
	maxConns        int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
}

// Option настраивает пул соединений.
type Option func(*poolSettings)

// WithMaxConns ограничивает открытые соединения; простаивающие делят тот же лимит.
func WithMaxConns(n int) Option {
	return func(p *poolSettings) {
		if n > 0 {
			p.maxConns = n
		}
	}
}

// WithConnLifetime пересоздаёт соединения через maxLifetime или через
// maxIdle без использования.
func WithConnLifetime(maxLifetime, maxIdle time.Duration) Option {
	return func(p *poolSettings) {
		if maxLifetime > 0 {
			p.connMaxLifetime = maxLifetime
		}
		if maxIdle > 0 {
			p.connMaxIdleTime = maxIdle
		}
	}
}

// Store оборачивает пул SQL-соединений.
type Store struct {
	db *sql.DB
}

// Open подключается к PostgreSQL и пингует его. Каждое соединение пула получает
// decimal-кодек shopspring для колонок NUMERIC.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool := poolSettings{maxConns: 25, connMaxLifetime: 30 * time.Minute, connMaxIdleTime: 5 * time.Minute}
	for _, opt := range opts {
		opt(&pool)
	}

	db := stdlib.OpenDB(*cfg, stdlib.OptionAfterConnect(func(_ context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}))
	db.SetMaxOpenConns(pool.maxConns)
	db.SetMaxIdleConns(pool.maxConns)
	db.SetConnMaxLifetime(pool.connMaxLifetime)
	db.SetConnMaxIdleTime(pool.connMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

// DB возвращает сам пул.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет соединение; на нём держится readiness.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// withTx выполняет fn в транзакции и коммитит, если fn вернула nil.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Коды SQLSTATE, которые репозитории переводят в доменные ошибки.
const (
	sqlStateForeignKey = "23503"
	sqlStateUnique     = "23505"
	sqlStateCheck      = "23514"
)

func hasSQLState(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

func isUniqueViolation(err error) bool { return hasSQLState(err, sqlStateUnique) }

// isForeignKeyViolation ловит строки, ссылающиеся на несуществующего родителя.
func isForeignKeyViolation(err error) bool { return hasSQLState(err, sqlStateForeignKey) }

// isCheckViolation ловит нарушения CHECK, например stock >= 0.
func isCheckViolation(err error) bool { return hasSQLState(err, sqlStateCheck) }

func nullDate(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}
