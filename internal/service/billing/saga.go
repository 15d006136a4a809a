package billing

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// saga описывает один переход счёта, двигающий запасы.
type saga struct {
	kind  domain.TransitionKind
	to    domain.BillStatus
	items []domain.BillItem
	// validate проверяет ещё не применённые позиции до первого складского эффекта.
	validate func(pending []domain.BillItem) error
	// apply выполняет складской эффект одной позиции.
	apply func(item domain.BillItem) error
	// undo откатывает apply. Без него упавший переход остаётся в процессе до recovery.
	undo  func(item domain.BillItem) error
	event string
}

// errItemsChanged сообщает, что набор строк заменили, пока двигались запасы.
var errItemsChanged = fmt.Errorf("%w: bill items changed", domain.ErrBillStatusConflict)

// runSaga применяет складские эффекты sg по одной позиции, журналируя каждую,
// затем коммитит статус счёта. Журнал, оставшийся в процессе, подхватывает
// следующая попытка и пропускает уже применённые позиции.
func (s *service) runSaga(ctx context.Context, actor domain.Actor, bill *domain.Bill, sg saga) error {
	from := bill.Status
	logger := s.logger.WithFields(log.Fields{"bill_id": bill.ID, "transition": sg.kind})

	journal, err := s.transitions.Get(bill.ID, sg.kind)
	if err != nil && !errors.Is(err, domain.ErrTransitionNotFound) {
		return fmt.Errorf("load %s journal: %w", sg.kind, err)
	}
	// Заброшенный журнал уже скомпенсирован, следующая попытка начинает заново.
	found := err == nil && journal.State != domain.TransitionAbandoned
	if found && journal.State != domain.TransitionInProgress {
		return statusConflict(from, sg.to)
	}

	pending := make([]domain.BillItem, 0, len(sg.items))
	for _, item := range sg.items {
		if !found || !journal.IsApplied(item.ID) {
			pending = append(pending, item)
		}
	}

	if len(pending) > 0 && sg.validate != nil {
		if err := sg.validate(pending); err != nil {
			return err
		}
	}

	switch {
	case found:
		logger.WithField("applied", len(journal.Applied)).Info("resuming interrupted transition")
		if s.metrics != nil {
			s.metrics.RecordSagaResumed()
		}
	case len(pending) > 0:
		now := time.Now().UTC()
		journal, err = s.transitions.Begin(domain.BillTransition{
			ID:         uuid.NewString(),
			BillID:     bill.ID,
			Kind:       sg.kind,
			FromStatus: from,
			ToStatus:   sg.to,
			ActorID:    actor.ID,
			State:      domain.TransitionInProgress,
			StartedAt:  now,
			UpdatedAt:  now,
		})
		if err != nil {
			return fmt.Errorf("begin %s journal: %w", sg.kind, err)
		}
		found = true
	}

	for _, item := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := sg.apply(item); err != nil {
			logger.WithError(err).WithField("item_ref", item.Ref.String()).Warn("stock effect failed")
			var lineErr *domain.LineError
			if errors.As(err, &lineErr) {
				s.compensate(*bill, sg, logger)
			}
			return err
		}
		if err := s.transitions.MarkApplied(journal.ID, item.ID); err != nil {
			return fmt.Errorf("journal item %s: %w", item.ID, err)
		}
	}

	lines := activeItemIDs(*bill)
	err = s.saveBill(ctx, bill, func(b *domain.Bill) error {
		if err := moveStatus(from, sg.to)(b); err != nil {
			return err
		}
		if !slices.Equal(activeItemIDs(*b), lines) {
			return errItemsChanged
		}
		return nil
	})
	if errors.Is(err, errItemsChanged) && found {
		logger.Warn("bill items replaced during transition")
		s.compensate(*bill, sg, logger)
	}
	if err != nil {
		return err
	}

	if found {
		if err := s.transitions.Finish(journal.ID, domain.TransitionCompleted); err != nil {
			logger.WithError(err).Warn("complete journal failed, left for recovery")
		}
	}

	s.emitEvent(*bill, sg.event, "", actor)
	return nil
}

// compensate откатывает каждый складской эффект, записанный в журнал sg для bill,
// по активным и заменённым строкам, затем бросает журнал. Если undo падает,
// журнал остаётся в процессе.
func (s *service) compensate(bill domain.Bill, sg saga, logger *log.Entry) {
	if sg.undo == nil {
		return
	}
	journal, err := s.transitions.Get(bill.ID, sg.kind)
	if err != nil {
		logger.WithError(err).Warn("load journal for compensation failed")
		return
	}
	if journal.State != domain.TransitionInProgress {
		return
	}

	reverted := 0
	for _, item := range bill.Items {
		if !journal.IsApplied(item.ID) {
			continue
		}
		if err := sg.undo(item); err != nil {
			logger.WithError(err).WithField("item_ref", item.Ref.String()).Error("compensation failed, journal left in progress")
			return
		}
		reverted++
	}
	if err := s.transitions.Finish(journal.ID, domain.TransitionAbandoned); err != nil {
		logger.WithError(err).Warn("abandon compensated journal failed")
		return
	}
	logger.WithField("reverted", reverted).Info("transition compensated")
}

func activeItemIDs(bill domain.Bill) []string {
	active := bill.ActiveItems()
	ids := make([]string, 0, len(active))
	for _, item := range active {
		ids = append(ids, item.ID)
	}
	return ids
}

// Resume доводит журнал в процессе до конца или закрывает его, если счёт
// уже ушёл дальше.
func (s *service) Resume(ctx context.Context, t domain.BillTransition) error {
	logger := s.logger.WithFields(log.Fields{
		"bill_id":    t.BillID,
		"transition": t.Kind,
		"journal_id": t.ID,
	})

	bill, err := s.bills.Get(t.BillID)
	if errors.Is(err, domain.ErrBillNotFound) {
		logger.Warn("bill of journal is gone, abandoning")
		return s.transitions.Finish(t.ID, domain.TransitionAbandoned)
	}
	if err != nil {
		return fmt.Errorf("load bill %s: %w", t.BillID, err)
	}

	switch {
	case bill.Status == t.ToStatus:
		return s.transitions.Finish(t.ID, domain.TransitionCompleted)
	case bill.Status != t.FromStatus || !bill.IsActive:
		logger.WithFields(log.Fields{
			"status":    bill.Status,
			"is_active": bill.IsActive,
		}).Warn("bill moved past journal, abandoning")
		return s.transitions.Finish(t.ID, domain.TransitionAbandoned)
	}

	var res domain.Result[domain.Bill]
	switch t.Kind {
	case domain.TransitionApprove:
		res = s.ApproveBill(ctx, domain.SystemActor, t.BillID)
	case domain.TransitionReject:
		res = s.RejectBill(ctx, domain.SystemActor, t.BillID)
	case domain.TransitionConfirm:
		res = s.ConfirmBill(ctx, domain.SystemActor, t.BillID)
	case domain.TransitionCancel:
		res = s.CancelBill(ctx, domain.SystemActor, t.BillID)
	default:
		return fmt.Errorf("%w: transition kind %q", domain.ErrInvalidArgument, t.Kind)
	}
	if !res.Succeeded {
		return res.Err
	}
	logger.Info("journal resumed")
	return nil
}
