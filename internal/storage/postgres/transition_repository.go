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

const transitionColumns = `id, bill_id, kind, from_status, to_status, actor_id, state, started_at, updated_at`

type transitionRepository struct {
	db *sql.DB
}

// NewTransitionRepository создаёт журнал саги на PostgreSQL.
func NewTransitionRepository(store *Store) domain.TransitionRepository {
	return &transitionRepository{db: store.DB()}
}

// Begin опирается на UNIQUE (bill_id, kind): параллельный или повторный begin получает
// сохранённую строку. Заброшенная строка открывается заново, её применённые позиции очищаются.
func (r *transitionRepository) Begin(t domain.BillTransition) (domain.BillTransition, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var reopened string
		err := tx.QueryRowContext(ctx, `
			UPDATE bill_transitions
			SET from_status = $3,
			    to_status = $4,
			    actor_id = $5,
			    state = $6,
			    started_at = $7,
			    updated_at = $7
			WHERE bill_id = $1 AND kind = $2 AND state = $8
			RETURNING id
		`,
			t.BillID, string(t.Kind), string(t.FromStatus), string(t.ToStatus), t.ActorID,
			string(domain.TransitionInProgress), now, string(domain.TransitionAbandoned),
		).Scan(&reopened)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, `DELETE FROM bill_transition_items WHERE transition_id = $1`, reopened); err != nil {
				return fmt.Errorf("clear reopened transition items: %w", err)
			}
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("reopen bill transition: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bill_transitions (`+transitionColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
			ON CONFLICT (bill_id, kind) DO NOTHING
		`,
			t.ID, t.BillID, string(t.Kind), string(t.FromStatus), string(t.ToStatus), t.ActorID,
			string(domain.TransitionInProgress), now,
		); err != nil {
			return fmt.Errorf("begin bill transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.BillTransition{}, err
	}

	return r.get(ctx, `WHERE bill_id = $1 AND kind = $2`, t.BillID, string(t.Kind))
}

func (r *transitionRepository) Get(billID string, kind domain.TransitionKind) (domain.BillTransition, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.get(ctx, `WHERE bill_id = $1 AND kind = $2`, billID, string(kind))
}

func (r *transitionRepository) MarkApplied(id, itemID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		if err := touchTransition(ctx, tx, id, now); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bill_transition_items (transition_id, item_id, applied_at)
			VALUES ($1,$2,$3)
			ON CONFLICT (transition_id, item_id) DO NOTHING
		`, id, itemID, now); err != nil {
			return fmt.Errorf("mark transition item applied: %w", err)
		}
		return nil
	})
}

func (r *transitionRepository) Finish(id string, state domain.TransitionState) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE bill_transitions
		SET state = $2,
		    updated_at = $3
		WHERE id = $1
	`, id, string(state), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("finish bill transition: %w", err)
	}
	return requireAffected(res, domain.ErrTransitionNotFound)
}

func (r *transitionRepository) ListInProgress(before time.Time, limit int) ([]domain.BillTransition, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+transitionColumns+`
		FROM bill_transitions
		WHERE state = $1 AND updated_at < $2
		ORDER BY started_at ASC
		LIMIT $3
	`, string(domain.TransitionInProgress), before, limit)
	if err != nil {
		return nil, fmt.Errorf("list in-progress transitions: %w", err)
	}

	result := make([]domain.BillTransition, 0)
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan bill transition: %w", err)
		}
		result = append(result, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("iterate bill transitions: %w", err)
	}

	for i := range result {
		if result[i].Applied, err = r.loadApplied(ctx, result[i].ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (r *transitionRepository) get(ctx context.Context, where string, args ...any) (domain.BillTransition, error) {
	t, err := scanTransition(r.db.QueryRowContext(ctx, `SELECT `+transitionColumns+` FROM bill_transitions `+where, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BillTransition{}, domain.ErrTransitionNotFound
		}
		return domain.BillTransition{}, fmt.Errorf("select bill transition: %w", err)
	}
	if t.Applied, err = r.loadApplied(ctx, t.ID); err != nil {
		return domain.BillTransition{}, err
	}
	return t, nil
}

func (r *transitionRepository) loadApplied(ctx context.Context, transitionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT item_id
		FROM bill_transition_items
		WHERE transition_id = $1
		ORDER BY applied_at ASC, item_id ASC
	`, transitionID)
	if err != nil {
		return nil, fmt.Errorf("load applied items: %w", err)
	}
	defer rows.Close()

	var applied []string
	for rows.Next() {
		var itemID string
		if err := rows.Scan(&itemID); err != nil {
			return nil, fmt.Errorf("scan applied item: %w", err)
		}
		applied = append(applied, itemID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied items: %w", err)
	}
	return applied, nil
}

func touchTransition(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `UPDATE bill_transitions SET updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("touch bill transition: %w", err)
	}
	return requireAffected(res, domain.ErrTransitionNotFound)
}

func scanTransition(row rowScanner) (domain.BillTransition, error) {
	var t domain.BillTransition
	var kind, from, to, state string
	if err := row.Scan(&t.ID, &t.BillID, &kind, &from, &to, &t.ActorID, &state, &t.StartedAt, &t.UpdatedAt); err != nil {
		return domain.BillTransition{}, err
	}
	t.Kind = domain.TransitionKind(kind)
	t.FromStatus = domain.BillStatus(from)
	t.ToStatus = domain.BillStatus(to)
	t.State = domain.TransitionState(state)
	t.StartedAt = t.StartedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

// requireAffected превращает "ноль обновлённых строк" в notFound.
func requireAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}

var _ domain.TransitionRepository = (*transitionRepository)(nil)
