package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/metrics"
	"github.com/vladislavdragonenkov/farmops/internal/validation"
)

// ApproveBill резервирует центральный запас под каждую строку и переводит счёт в APPROVED.
func (s *service) ApproveBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill] {
	return s.withBill(ctx, actor, opApprove, billID, func(bill *domain.Bill) error {
		if err := requireStatus(bill, domain.BillStatusApproved, domain.BillStatusRequested); err != nil {
			return err
		}
		return s.runSaga(ctx, actor, bill, saga{
			kind:  domain.TransitionApprove,
			to:    domain.BillStatusApproved,
			items: bill.ActiveItems(),
			validate: func(pending []domain.BillItem) error {
				lines, err := s.itemLines(pending)
				if err != nil {
					return err
				}
				return validation.CheckLines(bill.Type, lines)
			},
			apply: s.reserve,
			undo:  s.release,
			event: domain.EventBillApproved,
		})
	})
}

// RejectBill переводит запрошенный или одобренный счёт в REJECTED и возвращает резервы.
func (s *service) RejectBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill] {
	return s.withBill(ctx, actor, opReject, billID, func(bill *domain.Bill) error {
		if err := requireStatus(bill, domain.BillStatusRejected, domain.BillStatusRequested, domain.BillStatusApproved); err != nil {
			return err
		}
		return s.releaseSaga(ctx, actor, bill, domain.TransitionReject, domain.EventBillRejected)
	})
}

// CancelBill отзывает запрошенный счёт.
func (s *service) CancelBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill] {
	return s.withBill(ctx, actor, opCancel, billID, func(bill *domain.Bill) error {
		if err := requireStatus(bill, domain.BillStatusCancelled, domain.BillStatusRequested); err != nil {
			return err
		}
		return s.releaseSaga(ctx, actor, bill, domain.TransitionCancel, domain.EventBillCancelled)
	})
}

// releaseSaga переводит счёт в терминальный статус. Одобренный счёт возвращает все
// строки; запрошенный возвращает то, что успело зарезервировать прерванное одобрение.
func (s *service) releaseSaga(ctx context.Context, actor domain.Actor, bill *domain.Bill, kind domain.TransitionKind, event string) error {
	var (
		items   []domain.BillItem
		approve domain.BillTransition
		stale   bool
	)

	switch bill.Status {
	case domain.BillStatusApproved:
		items = bill.ActiveItems()
	case domain.BillStatusRequested:
		t, err := s.transitions.Get(bill.ID, domain.TransitionApprove)
		switch {
		case errors.Is(err, domain.ErrTransitionNotFound):
		case err != nil:
			return fmt.Errorf("load approve journal: %w", err)
		case t.State == domain.TransitionInProgress:
			approve, stale = t, true
			for _, item := range bill.ActiveItems() {
				if t.IsApplied(item.ID) {
					items = append(items, item)
				}
			}
		}
	}

	err := s.runSaga(ctx, actor, bill, saga{
		kind:  kind,
		to:    domain.TransitionTarget(kind),
		items: items,
		validate: func(pending []domain.BillItem) error {
			for _, item := range pending {
				_, found, err := s.lookupItem(item.Ref)
				if err != nil {
					return err
				}
				if err := validation.Exists(item.Ref, found); err != nil {
					return err
				}
			}
			return nil
		},
		apply: s.release,
		event: event,
	})
	if err != nil {
		return err
	}

	if stale {
		if err := s.transitions.Finish(approve.ID, domain.TransitionAbandoned); err != nil {
			s.logger.WithError(err).WithField("bill_id", bill.ID).Warn("abandon approve journal failed")
		}
	}
	return nil
}

// ConfirmBill доставляет зарезервированный запас в цикл и переводит счёт в CONFIRMED.
func (s *service) ConfirmBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill] {
	return s.withBill(ctx, actor, opConfirm, billID, func(bill *domain.Bill) error {
		if err := requireStatus(bill, domain.BillStatusConfirmed, domain.BillStatusApproved); err != nil {
			return err
		}
		circleID := bill.LivestockCircleID
		return s.runSaga(ctx, actor, bill, saga{
			kind:  domain.TransitionConfirm,
			to:    domain.BillStatusConfirmed,
			items: bill.ActiveItems(),
			validate: func([]domain.BillItem) error {
				return s.checkCircle(circleID)
			},
			apply: func(item domain.BillItem) error {
				return s.deliver(circleID, item)
			},
			event: domain.EventBillConfirmed,
		})
	})
}

// DisableBill мягко удаляет счёт. Статус не меняется.
func (s *service) DisableBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill] {
	return s.withBill(ctx, actor, opDisable, billID, func(bill *domain.Bill) error {
		err := s.saveBill(ctx, bill, func(b *domain.Bill) error {
			b.IsActive = false
			return nil
		})
		if err != nil {
			return err
		}
		s.emitEvent(*bill, domain.EventBillDisabled, "", actor)
		return nil
	})
}

func (s *service) reserve(item domain.BillItem) error {
	if _, err := s.inventory.AdjustStock(item.Ref, -item.Stock); err != nil {
		if errors.Is(err, domain.ErrInsufficientStock) {
			return &domain.LineError{Ref: item.Ref, Err: err}
		}
		return fmt.Errorf("reserve %s: %w", item.Ref, err)
	}
	s.recordStock(item, metrics.DirectionReserve)
	return nil
}

func (s *service) release(item domain.BillItem) error {
	if _, err := s.inventory.AdjustStock(item.Ref, item.Stock); err != nil {
		return fmt.Errorf("release %s: %w", item.Ref, err)
	}
	s.recordStock(item, metrics.DirectionRelease)
	return nil
}

// deliver проводит подтверждённую строку в цикл: корм и лекарства идут в
// учёт цикла, порода увеличивает поголовье.
func (s *service) deliver(circleID string, item domain.BillItem) error {
	var err error
	switch item.Ref.Kind() {
	case domain.ItemKindFood, domain.ItemKindMedicine:
		_, err = s.circleStock.AddRemaining(circleID, item.Ref, item.Stock)
	case domain.ItemKindBreed:
		_, err = s.circles.AddUnits(circleID, item.Stock)
	default:
		err = domain.ErrUnknownItemKind
	}
	if err != nil {
		return fmt.Errorf("deliver %s into circle %s: %w", item.Ref, circleID, err)
	}
	s.recordStock(item, metrics.DirectionDeliver)
	return nil
}

func (s *service) recordStock(item domain.BillItem, direction string) {
	if s.metrics != nil {
		s.metrics.RecordStockMoved(string(item.Ref.Kind()), direction, item.Stock)
	}
}
