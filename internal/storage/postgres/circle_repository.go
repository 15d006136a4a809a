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

const circleColumns = `id, barn_id, name, status, total_unit, good_unit, dead_unit, start_date, is_active, created_at, updated_at`

type circleRepository struct {
	db *sql.DB
}

// NewCircleRepository создаёт хранилище хлевов и циклов поголовья на PostgreSQL.
func NewCircleRepository(store *Store) domain.CircleRepository {
	return &circleRepository{db: store.DB()}
}

func (r *circleRepository) CreateBarn(barn domain.Barn) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO barns (id, name, address, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, barn.ID, barn.Name, barn.Address, barn.IsActive, barn.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert barn: %w", err)
	}
	return nil
}

func (r *circleRepository) GetBarn(id string) (domain.Barn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var barn domain.Barn
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, address, is_active, created_at
		FROM barns
		WHERE id = $1
	`, id).Scan(&barn.ID, &barn.Name, &barn.Address, &barn.IsActive, &barn.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Barn{}, domain.ErrBarnNotFound
		}
		return domain.Barn{}, fmt.Errorf("select barn: %w", err)
	}
	return barn, nil
}

func (r *circleRepository) Create(circle domain.LivestockCircle) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO livestock_circles (`+circleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		circle.ID, circle.BarnID, circle.Name, string(circle.Status), circle.TotalUnit, circle.GoodUnit,
		circle.DeadUnit, nullDate(circle.StartDate), circle.IsActive, circle.CreatedAt, circle.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert livestock circle: %w", err)
	}
	return nil
}

func (r *circleRepository) Get(id string) (domain.LivestockCircle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx, `SELECT `+circleColumns+` FROM livestock_circles WHERE id = $1`, id))
}

func (r *circleRepository) AddUnits(circleID string, qty int64) (domain.LivestockCircle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx, `
		UPDATE livestock_circles
		SET total_unit = total_unit + $2,
		    good_unit = good_unit + $2,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+circleColumns,
		circleID, qty, time.Now().UTC(),
	))
}

func (r *circleRepository) SetStatus(circleID string, status domain.CircleStatus) (domain.LivestockCircle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return r.scanOne(r.db.QueryRowContext(ctx, `
		UPDATE livestock_circles
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		RETURNING `+circleColumns,
		circleID, string(status), time.Now().UTC(),
	))
}

func (r *circleRepository) scanOne(row *sql.Row) (domain.LivestockCircle, error) {
	var (
		circle domain.LivestockCircle
		status string
		start  sql.NullTime
	)
	err := row.Scan(
		&circle.ID, &circle.BarnID, &circle.Name, &status, &circle.TotalUnit, &circle.GoodUnit,
		&circle.DeadUnit, &start, &circle.IsActive, &circle.CreatedAt, &circle.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LivestockCircle{}, domain.ErrCircleNotFound
		}
		return domain.LivestockCircle{}, fmt.Errorf("scan livestock circle: %w", err)
	}
	circle.Status = domain.CircleStatus(status)
	circle.StartDate = fromNullTime(start)
	return circle, nil
}

var _ domain.CircleRepository = (*circleRepository)(nil)

type circleStockRepository struct {
	db *sql.DB
}

// NewCircleStockRepository создаёт учёт цикла на PostgreSQL.
func NewCircleStockRepository(store *Store) domain.CircleStockRepository {
	return &circleStockRepository{db: store.DB()}
}

// AddRemaining делает upsert строки (circle, item) и добавляет qty одним запросом.
func (r *circleStockRepository) AddRemaining(circleID string, ref domain.ItemRef, qty int64) (domain.CircleStock, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO circle_stock (id, circle_id, kind, item_id, remaining, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6)
		ON CONFLICT (circle_id, kind, item_id) DO UPDATE
		SET remaining = circle_stock.remaining + EXCLUDED.remaining,
		    updated_at = EXCLUDED.updated_at
		RETURNING id, circle_id, kind, item_id, remaining, created_at, updated_at
	`, uuid.NewString(), circleID, string(ref.Kind()), ref.ID(), qty, now)

	stock, err := scanCircleStock(row)
	if err != nil {
		return domain.CircleStock{}, fmt.Errorf("add circle stock: %w", err)
	}
	return stock, nil
}

func (r *circleStockRepository) Get(circleID string, ref domain.ItemRef) (domain.CircleStock, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	stock, err := scanCircleStock(r.db.QueryRowContext(ctx, `
		SELECT id, circle_id, kind, item_id, remaining, created_at, updated_at
		FROM circle_stock
		WHERE circle_id = $1 AND kind = $2 AND item_id = $3
	`, circleID, string(ref.Kind()), ref.ID()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CircleStock{}, domain.ErrItemNotFound
		}
		return domain.CircleStock{}, fmt.Errorf("select circle stock: %w", err)
	}
	return stock, nil
}

func (r *circleStockRepository) ListByCircle(circleID string) ([]domain.CircleStock, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, circle_id, kind, item_id, remaining, created_at, updated_at
		FROM circle_stock
		WHERE circle_id = $1
		ORDER BY created_at ASC, id ASC
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("list circle stock: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CircleStock, 0)
	for rows.Next() {
		stock, err := scanCircleStock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan circle stock: %w", err)
		}
		result = append(result, stock)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate circle stock: %w", err)
	}
	return result, nil
}

func scanCircleStock(row rowScanner) (domain.CircleStock, error) {
	var (
		stock    domain.CircleStock
		kind, id string
	)
	if err := row.Scan(&stock.ID, &stock.CircleID, &kind, &id, &stock.Remaining, &stock.CreatedAt, &stock.UpdatedAt); err != nil {
		return domain.CircleStock{}, err
	}
	ref, err := domain.ParseItemRef(kind, id)
	if err != nil {
		return domain.CircleStock{}, err
	}
	stock.Ref = ref
	return stock, nil
}

var _ domain.CircleStockRepository = (*circleStockRepository)(nil)
