package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/validation"
)

// LineInput описывает одну строку запроса: id позиции склада того же вида, что и счёт, и количество.
type LineInput struct {
	ItemID   string
	Quantity int64
}

// RequestBill используется как payload для RequestFood, RequestMedicine и RequestBreed.
type RequestBill struct {
	CircleID     string
	DeliveryDate time.Time
	Note         string
	Items        []LineInput
}

// UpdateBill заменяет строки запрошенного счёта. Пустой CircleID, нулевая
// DeliveryDate и nil Note сохраняют текущие значения.
type UpdateBill struct {
	CircleID     string
	DeliveryDate time.Time
	Note         *string
	Items        []LineInput
}

func (s *service) RequestFood(ctx context.Context, actor domain.Actor, req RequestBill) domain.Result[domain.Bill] {
	return s.request(ctx, actor, domain.ItemKindFood, req)
}

func (s *service) RequestMedicine(ctx context.Context, actor domain.Actor, req RequestBill) domain.Result[domain.Bill] {
	return s.request(ctx, actor, domain.ItemKindMedicine, req)
}

func (s *service) RequestBreed(ctx context.Context, actor domain.Actor, req RequestBill) domain.Result[domain.Bill] {
	return s.request(ctx, actor, domain.ItemKindBreed, req)
}

func (s *service) request(ctx context.Context, actor domain.Actor, kind domain.ItemKind, req RequestBill) domain.Result[domain.Bill] {
	started := time.Now()
	fields := log.Fields{"actor_id": actor.ID, "circle_id": req.CircleID, "kind": kind}

	bill, err := s.createBill(ctx, actor, kind, req)
	if err == nil {
		fields["bill_id"] = bill.ID
		s.emitEvent(bill, domain.EventBillRequested, "", actor)
	}
	return finish(s, opRequest, kind, started, bill, err, fields)
}

func (s *service) createBill(ctx context.Context, actor domain.Actor, kind domain.ItemKind, req RequestBill) (domain.Bill, error) {
	if !actor.Authenticated() {
		return domain.Bill{}, domain.ErrNotAuthenticated
	}
	if err := ctx.Err(); err != nil {
		return domain.Bill{}, err
	}

	lines, err := s.loadLines(kind, req.Items)
	if err != nil {
		return domain.Bill{}, err
	}
	if err := validation.CheckLines(kind, lines); err != nil {
		return domain.Bill{}, err
	}
	if err := s.checkCircle(req.CircleID); err != nil {
		return domain.Bill{}, err
	}

	now := time.Now().UTC()
	billID := uuid.NewString()
	total, weight := totals(lines)

	bill := domain.Bill{
		ID:                billID,
		Type:              kind,
		Status:            domain.BillStatusRequested,
		LivestockCircleID: req.CircleID,
		UserRequestID:     actor.ID,
		Total:             total,
		Weight:            weight,
		Note:              req.Note,
		DeliveryDate:      req.DeliveryDate,
		IsActive:          true,
		Items:             newItems(billID, lines, now),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if errs := bill.ValidateInvariants(); len(errs) > 0 {
		return domain.Bill{}, errors.Join(errs...)
	}

	if err := s.bills.Create(bill); err != nil {
		return domain.Bill{}, fmt.Errorf("create bill: %w", err)
	}
	return bill, nil
}

func (s *service) AdminUpdateBill(ctx context.Context, actor domain.Actor, billID string, req UpdateBill) domain.Result[domain.Bill] {
	return s.update(ctx, actor, billID, "", req)
}

func (s *service) UpdateBillFood(ctx context.Context, actor domain.Actor, billID string, req UpdateBill) domain.Result[domain.Bill] {
	return s.update(ctx, actor, billID, domain.ItemKindFood, req)
}

func (s *service) UpdateBillMedicine(ctx context.Context, actor domain.Actor, billID string, req UpdateBill) domain.Result[domain.Bill] {
	return s.update(ctx, actor, billID, domain.ItemKindMedicine, req)
}

// update заменяет набор строк. Пустой want принимает счёт любого типа.
func (s *service) update(ctx context.Context, actor domain.Actor, billID string, want domain.ItemKind, req UpdateBill) domain.Result[domain.Bill] {
	res := s.withBill(ctx, actor, opUpdate, billID, func(bill *domain.Bill) error {
		if err := requireStatus(bill, domain.BillStatusRequested, domain.BillStatusRequested); err != nil {
			return err
		}
		if want != "" && bill.Type != want {
			return fmt.Errorf("%w: bill is %s", domain.ErrBillTypeMismatch, bill.Type)
		}

		current := bill.ActiveItems()
		refs := make([]domain.ItemRef, 0, len(current))
		for _, item := range current {
			refs = append(refs, item.Ref)
		}
		if err := validation.SameKind(bill.Type, refs...); err != nil {
			return err
		}
		if err := s.requireNoPendingApproval(bill.ID); err != nil {
			return err
		}

		lines, err := s.loadLines(bill.Type, req.Items)
		if err != nil {
			return err
		}
		if err := validation.CheckLines(bill.Type, lines); err != nil {
			return err
		}

		circleID := bill.LivestockCircleID
		if req.CircleID != "" && req.CircleID != circleID {
			if err := s.checkCircle(req.CircleID); err != nil {
				return err
			}
			circleID = req.CircleID
		}

		items := newItems(bill.ID, lines, time.Now().UTC())
		total, weight := totals(lines)
		replace := func(b domain.Bill) error {
			return s.bills.ReplaceItems(b, items)
		}
		err = s.persistBill(ctx, bill, func(b *domain.Bill) error {
			if b.Status != domain.BillStatusRequested {
				return statusConflict(b.Status, domain.BillStatusRequested)
			}
			b.LivestockCircleID = circleID
			b.Total = total
			b.Weight = weight
			if !req.DeliveryDate.IsZero() {
				b.DeliveryDate = req.DeliveryDate
			}
			if req.Note != nil {
				b.Note = *req.Note
			}
			return nil
		}, replace)
		if err != nil {
			return err
		}

		fresh, err := s.bills.Get(bill.ID)
		if err != nil {
			return fmt.Errorf("reload bill: %w", err)
		}
		*bill = fresh
		s.emitEvent(fresh, domain.EventBillUpdated, "", actor)
		return nil
	})
	return res
}

// requireNoPendingApproval запрещает менять строки, пока прерванное одобрение
// ещё держит под них резервы.
func (s *service) requireNoPendingApproval(billID string) error {
	t, err := s.transitions.Get(billID, domain.TransitionApprove)
	switch {
	case errors.Is(err, domain.ErrTransitionNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("load approve journal: %w", err)
	case t.State == domain.TransitionInProgress:
		return fmt.Errorf("%w: approval of bill %s is in progress", domain.ErrBillStatusConflict, billID)
	}
	return nil
}

// loadLines сопоставляет запрошенные строки с центральным складом. Отсутствующая запись
// даёт Found=false; любая другая ошибка репозитория прерывает операцию.
func (s *service) loadLines(kind domain.ItemKind, inputs []LineInput) ([]validation.Line, error) {
	lines := make([]validation.Line, 0, len(inputs))
	for _, in := range inputs {
		ref, err := domain.NewItemRef(kind, in.ItemID)
		if err != nil {
			return nil, err
		}
		item, found, err := s.lookupItem(ref)
		if err != nil {
			return nil, err
		}
		lines = append(lines, validation.Line{Ref: ref, Quantity: in.Quantity, Item: item, Found: found})
	}
	return lines, nil
}

// itemLines так же сопоставляет сохранённые строки счёта.
func (s *service) itemLines(items []domain.BillItem) ([]validation.Line, error) {
	lines := make([]validation.Line, 0, len(items))
	for _, it := range items {
		item, found, err := s.lookupItem(it.Ref)
		if err != nil {
			return nil, err
		}
		lines = append(lines, validation.Line{Ref: it.Ref, Quantity: it.Stock, Item: item, Found: found})
	}
	return lines, nil
}

func (s *service) lookupItem(ref domain.ItemRef) (domain.InventoryItem, bool, error) {
	item, err := s.inventory.Get(ref)
	switch {
	case err == nil:
		return item, true, nil
	case errors.Is(err, domain.ErrItemNotFound):
		return domain.InventoryItem{}, false, nil
	default:
		return domain.InventoryItem{}, false, fmt.Errorf("load inventory %s: %w", ref, err)
	}
}

// checkCircle требует существующий активный цикл, который ещё принимает запасы.
func (s *service) checkCircle(circleID string) error {
	if circleID == "" {
		return domain.ErrCircleIDRequired
	}
	circle, err := s.circles.Get(circleID)
	if err != nil {
		return err
	}
	if !circle.IsActive {
		return domain.ErrCircleNotFound
	}
	if !circle.Status.AcceptsStock() {
		return fmt.Errorf("%w: circle %s is %s", domain.ErrCircleNotGrowing, circle.ID, circle.Status)
	}
	return nil
}

// newItems строит строки счёта в порядке запроса. CreatedAt растёт на микросекунду
// на строку, чтобы сохранённый порядок пережил round trip через postgres.
func newItems(billID string, lines []validation.Line, now time.Time) []domain.BillItem {
	items := make([]domain.BillItem, 0, len(lines))
	for i, line := range lines {
		items = append(items, domain.BillItem{
			ID:        uuid.NewString(),
			BillID:    billID,
			Ref:       line.Ref,
			Stock:     line.Quantity,
			IsActive:  true,
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		})
	}
	return items
}

func totals(lines []validation.Line) (total, weight decimal.Decimal) {
	total, weight = decimal.Zero, decimal.Zero
	for _, line := range lines {
		qty := decimal.NewFromInt(line.Quantity)
		total = total.Add(line.Item.UnitPrice.Mul(qty))
		weight = weight.Add(line.Item.UnitWeight.Mul(qty))
	}
	return total, weight
}
