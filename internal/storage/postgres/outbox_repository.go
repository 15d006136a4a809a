package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

const (
	enqueueOutboxSQL = `
		INSERT INTO outbox_messages (id, aggregate_type, aggregate_id, event_type, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`

	// seq разрешает совпадения created_at, чтобы события одного счёта сохраняли порядок
	pendingOutboxSQL = `
		SELECT id, aggregate_type, aggregate_id, event_type, payload
		FROM outbox_messages
		WHERE status = $1
		ORDER BY created_at, seq
		LIMIT $2`

	outboxStatsSQL = `
		SELECT
			COUNT(*) FILTER (WHERE status = $1),
			MIN(created_at) FILTER (WHERE status = $1),
			COUNT(*) FILTER (WHERE status = $2)
		FROM outbox_messages`

	settleOutboxSQL = `
		UPDATE outbox_messages
		SET status = $2, attempt_count = attempt_count + 1, updated_at = $3
		WHERE id = $1 AND status = $4`

	outboxStatusSQL = `SELECT status FROM outbox_messages WHERE id = $1`

	purgeDeliveredSQL = `
		DELETE FROM outbox_messages
		WHERE id IN (
			SELECT id FROM outbox_messages
			WHERE status = $1 AND updated_at < $2
			ORDER BY updated_at
			LIMIT $3
		)`
)

type outboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository создаёт transactional outbox на PostgreSQL.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB()}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, enqueueOutboxSQL,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, domain.OutboxPending, time.Now().UTC())
	switch {
	case isUniqueViolation(err):
		return domain.OutboxMessage{}, fmt.Errorf("%w: outbox message %s already enqueued", domain.ErrOutboxPublish, msg.ID)
	case err != nil:
		return domain.OutboxMessage{}, fmt.Errorf("enqueue %s for bill %s: %w", msg.EventType, msg.AggregateID, err)
	}
	return msg, nil
}

func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, pendingOutboxSQL, domain.OutboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("pull pending outbox messages: %w", err)
	}
	defer rows.Close()

	var pending []domain.OutboxMessage
	for rows.Next() {
		var msg domain.OutboxMessage
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &msg.Payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		pending = append(pending, msg)
	}
	return pending, rows.Err()
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, outboxStatsSQL, domain.OutboxPending, domain.OutboxFailed).
		Scan(&stats.PendingCount, &oldest, &stats.FailedCount)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats: %w", err)
	}
	stats.OldestPendingAt = fromNullTime(oldest)
	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.settle(id, domain.OutboxSent)
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.settle(id, domain.OutboxFailed)
}

// DeleteDelivered чистит отправленные строки по updated_at, чтобы один вызов оставался ограниченным.
func (r *outboxRepository) DeleteDelivered(before time.Time, limit int) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 500
	}
	res, err := r.db.ExecContext(ctx, purgeDeliveredSQL, domain.OutboxSent, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("purge delivered outbox messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge delivered outbox messages: %w", err)
	}
	return int(n), nil
}

// settle переводит pending-строку в status. Строка, которой нет или которая уже закрыта,
// сообщается с её текущим состоянием.
func (r *outboxRepository) settle(id string, status domain.OutboxStatus) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, settleOutboxSQL, id, status, time.Now().UTC(), domain.OutboxPending)
	if err != nil {
		return fmt.Errorf("mark outbox message %s %s: %w", id, status, err)
	}
	if n, err := res.RowsAffected(); err != nil || n > 0 {
		return err
	}

	var current domain.OutboxStatus
	switch err := r.db.QueryRowContext(ctx, outboxStatusSQL, id).Scan(&current); {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	case err != nil:
		return fmt.Errorf("read outbox message %s: %w", id, err)
	}
	return fmt.Errorf("%w: outbox message %s is already %s", domain.ErrOutboxPublish, id, current)
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
