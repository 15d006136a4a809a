package billing

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// withBill выполняет fn для существующего активного счёта под блокировкой счёта.
func (s *service) withBill(
	ctx context.Context,
	actor domain.Actor,
	op string,
	billID string,
	fn func(bill *domain.Bill) error,
) domain.Result[domain.Bill] {
	started := time.Now()
	fields := log.Fields{"bill_id": billID, "actor_id": actor.ID}

	if s.metrics != nil {
		s.metrics.TransitionStarted()
		defer s.metrics.TransitionFinished()
	}

	bill, err := s.lockedRun(ctx, actor, billID, fn)
	return finish(s, op, bill.Type, started, bill, err, fields)
}

func (s *service) lockedRun(ctx context.Context, actor domain.Actor, billID string, fn func(bill *domain.Bill) error) (domain.Bill, error) {
	if !actor.Authenticated() {
		return domain.Bill{}, domain.ErrNotAuthenticated
	}

	unlock, err := s.locks.Lock(ctx, billID)
	if err != nil {
		return domain.Bill{}, fmt.Errorf("lock bill %s: %w", billID, err)
	}
	defer unlock()

	bill, err := s.loadActiveBill(billID)
	if err != nil {
		return domain.Bill{}, err
	}
	if err := fn(&bill); err != nil {
		return bill, err
	}
	return bill, nil
}

// loadActiveBill считает мягко удалённые счета отсутствующими.
func (s *service) loadActiveBill(billID string) (domain.Bill, error) {
	if billID == "" {
		return domain.Bill{}, domain.ErrBillNotFound
	}
	bill, err := s.bills.Get(billID)
	if err != nil {
		return domain.Bill{}, err
	}
	if !bill.IsActive {
		return domain.Bill{}, domain.ErrBillNotFound
	}
	return bill, nil
}

// saveBill сохраняет изменения заголовка, сделанные mutate, с повтором при конфликте версий.
// После каждого конфликта mutate применяется к заново загруженному счёту, поэтому
// должен заново проверять свои предусловия.
func (s *service) saveBill(ctx context.Context, bill *domain.Bill, mutate func(b *domain.Bill) error) error {
	return s.persistBill(ctx, bill, mutate, s.bills.Save)
}

// persistBill работает как saveBill, но запись с проверкой версии передаёт вызывающий.
func (s *service) persistBill(
	ctx context.Context,
	bill *domain.Bill,
	mutate func(b *domain.Bill) error,
	write func(b domain.Bill) error,
) error {
	for attempt := 0; attempt < s.maxRetries; attempt++ {
		candidate := *bill
		if err := mutate(&candidate); err != nil {
			return err
		}
		candidate.UpdatedAt = time.Now().UTC()

		err := write(candidate)
		if err == nil {
			candidate.Version++
			*bill = candidate
			return nil
		}
		if !domain.IsVersionConflict(err) || attempt == s.maxRetries-1 {
			return err
		}

		s.logger.WithFields(log.Fields{
			"bill_id": bill.ID,
			"attempt": attempt + 1,
			"version": bill.Version,
		}).Warn("version conflict detected, retrying")

		fresh, loadErr := s.bills.Get(bill.ID)
		if loadErr != nil {
			return fmt.Errorf("reload bill after conflict: %w", loadErr)
		}
		if !fresh.IsActive {
			return domain.ErrBillNotFound
		}
		*bill = fresh

		delay := s.baseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return domain.ErrBillVersionConflict
}

// moveStatus служит mutate для простого перехода статуса.
func moveStatus(from, to domain.BillStatus) func(b *domain.Bill) error {
	return func(b *domain.Bill) error {
		if b.Status != from || !from.CanTransitionTo(to) {
			return statusConflict(b.Status, to)
		}
		b.Status = to
		return nil
	}
}

func statusConflict(current, target domain.BillStatus) error {
	return fmt.Errorf("%w: %s -> %s", domain.ErrBillStatusConflict, current, target)
}

// requireStatus возвращает конфликт состояния, если счёт не в одном из allowed.
func requireStatus(bill *domain.Bill, target domain.BillStatus, allowed ...domain.BillStatus) error {
	for _, status := range allowed {
		if bill.Status == status {
			return nil
		}
	}
	return statusConflict(bill.Status, target)
}
