// Package validation содержит stateless-проверки, из которых каждая операция над счётом
// складывается до любых изменений.
package validation

import (
	"errors"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// Line хранит одну запрошенную пару (позиция, количество) вместе с загруженной записью склада.
// Found равен false, если поиск сообщил, что записи нет.
type Line struct {
	Ref      domain.ItemRef
	Quantity int64
	Item     domain.InventoryItem
	Found    bool
}

// NonEmpty возвращает ErrItemsRequired, если строк нет.
func NonEmpty(count int) error {
	if count == 0 {
		return domain.ErrItemsRequired
	}
	return nil
}

// PositiveQuantity падает, если не qty > 0.
func PositiveQuantity(ref domain.ItemRef, qty int64) error {
	if qty <= 0 {
		return &domain.LineError{Ref: ref, Err: domain.ErrQuantityInvalid}
	}
	return nil
}

// Exists падает, если запись не найдена.
func Exists(ref domain.ItemRef, found bool) error {
	if !found {
		return &domain.LineError{Ref: ref, Err: domain.ErrItemNotFound}
	}
	return nil
}

// Active падает для деактивированной записи склада.
func Active(item domain.InventoryItem) error {
	if !item.IsActive {
		return &domain.LineError{Ref: item.Ref, Err: domain.ErrItemInactive}
	}
	return nil
}

// SufficientStock падает, если не requested <= available.
func SufficientStock(item domain.InventoryItem, qty int64) error {
	if qty > item.Stock {
		return &domain.LineError{Ref: item.Ref, Err: domain.ErrInsufficientStock}
	}
	return nil
}

// SameKind падает, если какая-то ссылка другого вида.
func SameKind(kind domain.ItemKind, refs ...domain.ItemRef) error {
	for _, ref := range refs {
		if ref.Kind() != kind {
			return &domain.LineError{Ref: ref, Err: domain.ErrMixedItemKinds}
		}
	}
	return nil
}

// CheckLine по порядку выполняет проверки строки и возвращает первый сбой.
func CheckLine(kind domain.ItemKind, line Line) error {
	checks := []func() error{
		func() error { return SameKind(kind, line.Ref) },
		func() error { return PositiveQuantity(line.Ref, line.Quantity) },
		func() error { return Exists(line.Ref, line.Found) },
		func() error { return Active(line.Item) },
		func() error { return SufficientStock(line.Item, line.Quantity) },
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// CheckLines проверяет весь запрос и сообщает первую упавшую строку.
// Строки с повторяющейся позицией сверяются с запасом по накопленной сумме.
func CheckLines(kind domain.ItemKind, lines []Line) error {
	if err := NonEmpty(len(lines)); err != nil {
		return err
	}
	requested := make(map[domain.ItemRef]int64, len(lines))
	for _, line := range lines {
		if err := CheckLine(kind, line); err != nil {
			return err
		}
		requested[line.Ref] += line.Quantity
		if err := SufficientStock(line.Item, requested[line.Ref]); err != nil {
			return err
		}
	}
	return nil
}

// Message выбирает сообщение для пользователя при сбое валидации.
func Message(kind domain.ItemKind, err error) string {
	var lineErr *domain.LineError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, domain.ErrItemsRequired):
		return domain.EmptyItemsMessage(kind)
	case errors.As(err, &lineErr):
		return lineMessage(lineErr)
	case errors.Is(err, domain.ErrBillTypeMismatch):
		return domain.MsgBillTypeMismatch
	default:
		return domain.MsgOperationFailed
	}
}

func lineMessage(e *domain.LineError) string {
	var base string
	switch {
	case errors.Is(e.Err, domain.ErrQuantityInvalid):
		base = domain.MsgQuantityInvalid
	case errors.Is(e.Err, domain.ErrItemNotFound):
		base = domain.MsgItemNotFound
	case errors.Is(e.Err, domain.ErrItemInactive):
		base = domain.MsgItemInactive
	case errors.Is(e.Err, domain.ErrInsufficientStock):
		base = domain.MsgInsufficientStock
	case errors.Is(e.Err, domain.ErrMixedItemKinds):
		return domain.MsgMixedItemKinds
	default:
		base = domain.MsgOperationFailed
	}
	return base + ": " + domain.KindLabel(e.Ref.Kind()) + " " + e.Ref.ID()
}
