package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

const (
	appendTimelineSQL = `
INSERT INTO timeline_events (bill_id, type, reason, actor_id, occurred)
VALUES ($1, $2, $3, $4, $5)`

	// id разрешает совпадения occurred, чтобы равные метки воспроизводились в порядке вставки
	listTimelineSQL = `
SELECT type, reason, actor_id, occurred
FROM timeline_events
WHERE bill_id = $1
ORDER BY occurred, id`
)

type timelineRepository struct {
	db *sql.DB
}

// NewTimelineRepository создаёт историю счетов на PostgreSQL. Строки ссылаются
// на bills, поэтому события неизвестного счёта отклоняются с ErrBillNotFound.
func NewTimelineRepository(store *Store) domain.TimelineRepository {
	return &timelineRepository{db: store.DB()}
}

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	occurred := event.Occurred
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	_, err := r.db.ExecContext(ctx, appendTimelineSQL,
		event.BillID, event.Type, event.Reason, event.ActorID, occurred)
	if isForeignKeyViolation(err) {
		err = domain.ErrBillNotFound
	}
	if err != nil {
		return fmt.Errorf("append %s to timeline of %s: %w", event.Type, event.BillID, err)
	}
	return nil
}

func (r *timelineRepository) List(billID string) ([]domain.TimelineEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, listTimelineSQL, billID)
	if err != nil {
		return nil, fmt.Errorf("timeline of %s: %w", billID, err)
	}
	history, err := scanTimeline(rows, billID)
	if err != nil {
		return nil, fmt.Errorf("timeline of %s: %w", billID, err)
	}
	return history, nil
}

func scanTimeline(rows *sql.Rows, billID string) ([]domain.TimelineEvent, error) {
	defer rows.Close()

	history := []domain.TimelineEvent{}
	for rows.Next() {
		var e domain.TimelineEvent
		if err := rows.Scan(&e.Type, &e.Reason, &e.ActorID, &e.Occurred); err != nil {
			return nil, err
		}
		e.BillID, e.Occurred = billID, e.Occurred.UTC()
		history = append(history, e)
	}
	return history, rows.Err()
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
