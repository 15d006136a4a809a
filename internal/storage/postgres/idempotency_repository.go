package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

const idempotencyColumns = `key, request_hash, response_body, status_code, status, ttl_at, created_at, updated_at`

// reserveKeySQL вставляет запись processing или забирает строку, чей TTL
// прошёл до $7. RETURNING не даёт строки, пока ключ держит живая
// резервация.
const reserveKeySQL = `
	INSERT INTO idempotency_keys (key, request_hash, status, ttl_at, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (key) DO UPDATE
	SET request_hash  = EXCLUDED.request_hash,
	    response_body = NULL,
	    status_code   = NULL,
	    status        = EXCLUDED.status,
	    ttl_at        = EXCLUDED.ttl_at,
	    created_at    = EXCLUDED.created_at,
	    updated_at    = EXCLUDED.updated_at
	WHERE idempotency_keys.ttl_at <= $7
	RETURNING key`

type idempotencyRepository struct {
	db *sql.DB
}

// NewIdempotencyRepository создаёт хранилище ключей идемпотентности на PostgreSQL.
func NewIdempotencyRepository(store *Store) domain.IdempotencyRepository {
	return &idempotencyRepository{db: store.DB()}
}

func (r *idempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := time.Now().UTC()
	record, err := domain.NewProcessingRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var reserved string
	err = r.db.QueryRowContext(ctx, reserveKeySQL,
		record.Key, record.RequestHash, string(record.Status),
		record.TTLAt, record.CreatedAt, record.UpdatedAt, now,
	).Scan(&reserved)
	switch {
	case err == nil:
		return record, nil
	case !errors.Is(err, sql.ErrNoRows):
		return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key %s: %w", record.Key, err)
	}

	held, err := r.get(ctx, record.Key)
	if err != nil {
		// удалена между upsert и чтением; считаем, что ключ занят.
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
	}
	return held, held.ReservationConflict(record.RequestHash)
}

func (r *idempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	return r.get(ctx, key)
}

func (r *idempotencyRepository) MarkDone(key string, responseBody []byte, statusCode int) error {
	return r.finish(key, domain.IdempotencyStatusDone, responseBody, statusCode)
}

func (r *idempotencyRepository) MarkFailed(key string, responseBody []byte, statusCode int) error {
	return r.finish(key, domain.IdempotencyStatusFailed, responseBody, statusCode)
}

// DeleteExpired удаляет не больше limit строк (все при limit <= 0) с TTL
// не позже cutoff, ближайший TTL первым.
func (r *idempotencyRepository) DeleteExpired(cutoff time.Time, limit int) (int, error) {
	if cutoff.IsZero() {
		cutoff = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	stmt := `DELETE FROM idempotency_keys WHERE ttl_at <= $1`
	args := []any{cutoff}
	if limit > 0 {
		stmt = `
			DELETE FROM idempotency_keys
			WHERE key IN (
				SELECT key FROM idempotency_keys
				WHERE ttl_at <= $1
				ORDER BY ttl_at
				LIMIT $2
			)`
		args = append(args, limit)
	}

	res, err := r.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	return int(n), nil
}

func (r *idempotencyRepository) get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	var (
		record domain.IdempotencyRecord
		status string
		code   sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT `+idempotencyColumns+` FROM idempotency_keys WHERE key = $1`, key,
	).Scan(&record.Key, &record.RequestHash, &record.ResponseBody, &code, &status,
		&record.TTLAt, &record.CreatedAt, &record.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("load idempotency key %s: %w", key, err)
	}

	record.Status = domain.IdempotencyStatus(status)
	if !record.Status.Valid() {
		return domain.IdempotencyRecord{}, fmt.Errorf("idempotency key %s has unknown status %q", key, status)
	}
	record.StatusCode = int(code.Int64)
	return record, nil
}

func (r *idempotencyRepository) finish(key string, status domain.IdempotencyStatus, body []byte, code int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE idempotency_keys
		SET status = $2, response_body = $3, status_code = $4, updated_at = $5
		WHERE key = $1`,
		key, string(status), body, code, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish idempotency key %s: %w", key, err)
	}
	if n == 0 {
		return domain.ErrIdempotencyKeyNotFound
	}
	return nil
}

var _ domain.IdempotencyRepository = (*idempotencyRepository)(nil)
