package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryItem описывает запись центрального склада: корм, лекарство или порода.
type InventoryItem struct {
	Ref        ItemRef
	Name       string
	Unit       string
	Stock      int64
	UnitPrice  decimal.Decimal
	UnitWeight decimal.Decimal
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate проверяет поля, обязательные перед сохранением позиции.
func (i *InventoryItem) Validate() []error {
	var errs []error

	if i.Ref.IsZero() {
		errs = append(errs, ErrItemIDRequired)
	}
	if i.Name == "" {
		errs = append(errs, ErrItemNameRequired)
	}
	if i.Stock < 0 {
		errs = append(errs, ErrStockNegative)
	}
	if i.UnitPrice.IsNegative() || i.UnitWeight.IsNegative() {
		errs = append(errs, ErrUnitValueNegative)
	}

	return errs
}
