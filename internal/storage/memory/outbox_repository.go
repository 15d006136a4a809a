package memory

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

type outboxRow struct {
	msg      domain.OutboxMessage
	status   domain.OutboxStatus
	attempts int
	seq      uint64
	created  time.Time
	updated  time.Time
}

// OutboxRepository реализует transactional outbox в памяти.
type OutboxRepository struct {
	mu   sync.RWMutex
	rows map[string]*outboxRow
	seq  uint64
}

func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{rows: make(map[string]*outboxRow)}
}

// Enqueue сохраняет событие как pending и заполняет его id.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = slices.Clone(msg.Payload)
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rows[msg.ID]; exists {
		return domain.OutboxMessage{}, fmt.Errorf("%w: outbox message %s already enqueued", domain.ErrOutboxPublish, msg.ID)
	}
	r.seq++
	r.rows[msg.ID] = &outboxRow{msg: msg, status: domain.OutboxPending, seq: r.seq, created: now, updated: now}
	return msg, nil
}

// PullPending возвращает до limit pending-событий в порядке постановки.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.inStatus(domain.OutboxPending)
	out := make([]domain.OutboxMessage, 0, min(limit, len(pending)))
	for _, row := range pending[:min(limit, len(pending))] {
		msg := row.msg
		msg.Payload = slices.Clone(msg.Payload)
		out = append(out, msg)
	}
	return out, nil
}

func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pending := r.inStatus(domain.OutboxPending)
	stats := domain.OutboxStats{
		PendingCount: len(pending),
		FailedCount:  len(r.inStatus(domain.OutboxFailed)),
	}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].created
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(id string) error {
	return r.settle(id, domain.OutboxSent)
}

func (r *OutboxRepository) MarkFailed(id string) error {
	return r.settle(id, domain.OutboxFailed)
}

// DeleteDelivered удаляет отправленные события, тронутые до cutoff, старые первыми.
func (r *OutboxRepository) DeleteDelivered(before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*outboxRow
	for _, row := range r.inStatus(domain.OutboxSent) {
		if row.updated.Before(before) {
			due = append(due, row)
		}
	}
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for _, row := range due {
		delete(r.rows, row.msg.ID)
	}
	return len(due), nil
}

// AllPending возвращает все pending-события; тесты проверяют через него выпущенные события.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	n := len(r.rows)
	r.mu.RUnlock()

	msgs, _ := r.PullPending(n + 1)
	return msgs
}

// settle переводит pending-строку в конечный статус.
func (r *OutboxRepository) settle(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[id]
	switch {
	case !ok:
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	case row.status != domain.OutboxPending:
		return fmt.Errorf("%w: outbox message %s is already %s", domain.ErrOutboxPublish, id, row.status)
	}
	row.status = status
	row.attempts++
	row.updated = time.Now().UTC()
	return nil
}

// inStatus перечисляет строки в статусе по времени создания, затем по порядку
// постановки. Вызывающий держит блокировку.
func (r *OutboxRepository) inStatus(status domain.OutboxStatus) []*outboxRow {
	var rows []*outboxRow
	for _, row := range r.rows {
		if row.status == status {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b *outboxRow) int {
		if c := a.created.Compare(b.created); c != 0 {
			return c
		}
		return int(a.seq) - int(b.seq)
	})
	return rows
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
