package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
)

const billColumns = `id, type, status, livestock_circle_id, user_request_id, total, weight, note,
	delivery_date, is_active, version, created_at, updated_at`

type billRepository struct {
	db *sql.DB
}

// NewBillRepository создаёт BillRepository на PostgreSQL.
func NewBillRepository(store *Store) domain.BillRepository {
	return &billRepository{db: store.DB()}
}

func (r *billRepository) Create(bill domain.Bill) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO bills (`+billColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		`,
			bill.ID, string(bill.Type), string(bill.Status), bill.LivestockCircleID, bill.UserRequestID,
			bill.Total, bill.Weight, bill.Note, nullDate(bill.DeliveryDate), bill.IsActive,
			bill.Version, bill.CreatedAt, bill.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return domain.ErrAlreadyExists
			}
			return fmt.Errorf("insert bill: %w", err)
		}
		return insertItems(ctx, tx, bill.ID, bill.Items)
	})
}

func (r *billRepository) Get(id string) (domain.Bill, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	bill, err := scanBill(r.db.QueryRowContext(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Bill{}, domain.ErrBillNotFound
		}
		return domain.Bill{}, fmt.Errorf("select bill: %w", err)
	}

	items, err := r.loadItems(ctx, bill.ID)
	if err != nil {
		return domain.Bill{}, err
	}
	bill.Items = items
	return bill, nil
}

// Save обновляет заголовок, если сохранённая версия совпадает, и увеличивает её.
func (r *billRepository) Save(bill domain.Bill) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return saveHeader(ctx, r.db, bill)
}

// ReplaceItems коммитит заголовок с проверкой версии и новый набор строк вместе.
func (r *billRepository) ReplaceItems(bill domain.Bill, items []domain.BillItem) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := saveHeader(ctx, tx, bill); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE bill_items SET is_active = FALSE WHERE bill_id = $1`, bill.ID); err != nil {
			return fmt.Errorf("deactivate bill items: %w", err)
		}
		return insertItems(ctx, tx, bill.ID, items)
	})
}

// execQuerier реализуют *sql.DB и *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func saveHeader(ctx context.Context, db execQuerier, bill domain.Bill) error {
	res, err := db.ExecContext(ctx, `
		UPDATE bills
		SET status = $1,
		    livestock_circle_id = $2,
		    total = $3,
		    weight = $4,
		    note = $5,
		    delivery_date = $6,
		    is_active = $7,
		    version = version + 1,
		    updated_at = $8
		WHERE id = $9
		  AND version = $10
	`,
		string(bill.Status), bill.LivestockCircleID, bill.Total, bill.Weight, bill.Note,
		nullDate(bill.DeliveryDate), bill.IsActive, bill.UpdatedAt, bill.ID, bill.Version,
	)
	if err != nil {
		return fmt.Errorf("update bill: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bills WHERE id = $1)`, bill.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check bill exists: %w", err)
	}
	if !exists {
		return domain.ErrBillNotFound
	}
	return domain.ErrBillVersionConflict
}

func (r *billRepository) List(req query.Request) (query.Page[domain.Bill], error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	clause, req, err := domain.BillSchema.SQL(req, nil, nil)
	if err != nil {
		return query.Page[domain.Bill]{}, err
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bills `+clause.Where, clause.Args...).Scan(&total); err != nil {
		return query.Page[domain.Bill]{}, fmt.Errorf("count bills: %w", err)
	}

	args := append(clause.Args, clause.Limit, clause.Offset)
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM bills %s %s LIMIT $%d OFFSET $%d`,
		billColumns, clause.Where, clause.OrderBy, len(args)-1, len(args)), args...)
	if err != nil {
		return query.Page[domain.Bill]{}, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, clause.Limit)
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return query.Page[domain.Bill]{}, fmt.Errorf("scan bill row: %w", err)
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return query.Page[domain.Bill]{}, fmt.Errorf("iterate bill rows: %w", err)
	}

	return query.NewPage(bills, req.Pagination, total), nil
}

func (r *billRepository) loadItems(ctx context.Context, billID string) ([]domain.BillItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, item_id, stock, is_active, created_at
		FROM bill_items
		WHERE bill_id = $1
		ORDER BY created_at ASC, id ASC
	`, billID)
	if err != nil {
		return nil, fmt.Errorf("load bill items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.BillItem, 0)
	for rows.Next() {
		var (
			item     domain.BillItem
			kind, id string
		)
		if err := rows.Scan(&item.ID, &kind, &id, &item.Stock, &item.IsActive, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bill item: %w", err)
		}
		if item.Ref, err = domain.ParseItemRef(kind, id); err != nil {
			return nil, fmt.Errorf("bill item %s: %w", item.ID, err)
		}
		item.BillID = billID
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bill items: %w", err)
	}
	return items, nil
}

func insertItems(ctx context.Context, tx *sql.Tx, billID string, items []domain.BillItem) error {
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO bill_items (id, bill_id, kind, item_id, stock, is_active, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`,
			item.ID, billID, string(item.Ref.Kind()), item.Ref.ID(), item.Stock, item.IsActive, item.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert bill item: %w", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBill(row rowScanner) (domain.Bill, error) {
	var (
		bill         domain.Bill
		kind, status string
		delivery     sql.NullTime
	)
	if err := row.Scan(
		&bill.ID, &kind, &status, &bill.LivestockCircleID, &bill.UserRequestID,
		&bill.Total, &bill.Weight, &bill.Note, &delivery, &bill.IsActive,
		&bill.Version, &bill.CreatedAt, &bill.UpdatedAt,
	); err != nil {
		return domain.Bill{}, err
	}
	bill.Type = domain.ItemKind(kind)
	bill.Status = domain.BillStatus(status)
	bill.DeliveryDate = fromNullTime(delivery)
	bill.CreatedAt = bill.CreatedAt.UTC()
	bill.UpdatedAt = bill.UpdatedAt.UTC()
	return bill, nil
}

var _ domain.BillRepository = (*billRepository)(nil)
