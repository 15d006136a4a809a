package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
)

const inventoryColumns = `kind, id, name, unit, stock, unit_price, unit_weight, is_active, created_at, updated_at`

type inventoryRepository struct {
	db *sql.DB
}

// NewInventoryRepository создаёт InventoryRepository на PostgreSQL.
func NewInventoryRepository(store *Store) domain.InventoryRepository {
	return &inventoryRepository{db: store.DB()}
}

func (r *inventoryRepository) Create(item domain.InventoryItem) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO inventory_items (`+inventoryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		string(item.Ref.Kind()), item.Ref.ID(), item.Name, item.Unit, item.Stock,
		item.UnitPrice, item.UnitWeight, item.IsActive, item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("insert inventory item: %w", err)
	}
	return nil
}

func (r *inventoryRepository) Get(ref domain.ItemRef) (domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	item, err := scanInventoryItem(r.db.QueryRowContext(ctx, `
		SELECT `+inventoryColumns+`
		FROM inventory_items
		WHERE kind = $1 AND id = $2
	`, string(ref.Kind()), ref.ID()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InventoryItem{}, domain.ErrItemNotFound
		}
		return domain.InventoryItem{}, fmt.Errorf("select inventory item: %w", err)
	}
	return item, nil
}

// AdjustStock выполняется одним условным UPDATE, поэтому параллельные счета не уйдут в минус.
func (r *inventoryRepository) AdjustStock(ref domain.ItemRef, delta int64) (domain.InventoryItem, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	item, err := scanInventoryItem(r.db.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET stock = stock + $3,
		    updated_at = $4
		WHERE kind = $1 AND id = $2
		  AND stock + $3 >= 0
		RETURNING `+inventoryColumns,
		string(ref.Kind()), ref.ID(), delta, time.Now().UTC(),
	))
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, sql.ErrNoRows) && !isCheckViolation(err) {
		return domain.InventoryItem{}, fmt.Errorf("adjust stock of %s: %w", ref, err)
	}

	// ничего не обновлено: либо строки нет, либо запаса не хватает
	current, getErr := r.Get(ref)
	if getErr != nil {
		return domain.InventoryItem{}, getErr
	}
	return current, domain.ErrInsufficientStock
}

func (r *inventoryRepository) List(kind domain.ItemKind, req query.Request) (query.Page[domain.InventoryItem], error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	clause, req, err := domain.InventorySchema.SQL(req, []string{"kind = $1"}, []any{string(kind)})
	if err != nil {
		return query.Page[domain.InventoryItem]{}, err
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inventory_items `+clause.Where, clause.Args...).Scan(&total); err != nil {
		return query.Page[domain.InventoryItem]{}, fmt.Errorf("count inventory items: %w", err)
	}

	args := append(clause.Args, clause.Limit, clause.Offset)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM inventory_items %s %s LIMIT $%d OFFSET $%d`,
		inventoryColumns, clause.Where, clause.OrderBy, len(args)-1, len(args)), args...)
	if err != nil {
		return query.Page[domain.InventoryItem]{}, fmt.Errorf("list inventory items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, clause.Limit)
	for rows.Next() {
		item, err := scanInventoryItem(rows)
		if err != nil {
			return query.Page[domain.InventoryItem]{}, fmt.Errorf("scan inventory row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return query.Page[domain.InventoryItem]{}, fmt.Errorf("iterate inventory rows: %w", err)
	}

	return query.NewPage(items, req.Pagination, total), nil
}

func scanInventoryItem(row rowScanner) (domain.InventoryItem, error) {
	var (
		item     domain.InventoryItem
		kind, id string
	)
	if err := row.Scan(
		&kind, &id, &item.Name, &item.Unit, &item.Stock,
		&item.UnitPrice, &item.UnitWeight, &item.IsActive, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return domain.InventoryItem{}, err
	}
	ref, err := domain.ParseItemRef(kind, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}
	item.Ref = ref
	return item, nil
}

var _ domain.InventoryRepository = (*inventoryRepository)(nil)
