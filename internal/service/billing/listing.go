package billing

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
)

func (s *service) GetBill(ctx context.Context, actor domain.Actor, billID string) domain.Result[domain.Bill] {
	started := time.Now()
	bill, err := s.readBill(ctx, actor, billID)
	return finish(s, opGet, bill.Type, started, bill, err, log.Fields{"bill_id": billID, "actor_id": actor.ID})
}

func (s *service) readBill(ctx context.Context, actor domain.Actor, billID string) (domain.Bill, error) {
	if !actor.Authenticated() {
		return domain.Bill{}, domain.ErrNotAuthenticated
	}
	if err := ctx.Err(); err != nil {
		return domain.Bill{}, err
	}
	return s.loadActiveBill(billID)
}

// BillTimeline возвращает записанную историю активного счёта, от старых к новым.
func (s *service) BillTimeline(ctx context.Context, actor domain.Actor, billID string) domain.Result[[]domain.TimelineEvent] {
	started := time.Now()
	fields := log.Fields{"bill_id": billID, "actor_id": actor.ID}

	bill, err := s.readBill(ctx, actor, billID)
	if err != nil {
		return finish[[]domain.TimelineEvent](s, opGet, bill.Type, started, nil, err, fields)
	}

	events := []domain.TimelineEvent{}
	if s.timeline != nil {
		events, err = s.timeline.List(billID)
		if err != nil {
			err = fmt.Errorf("list timeline: %w", err)
		}
	}
	return finish(s, opGet, bill.Type, started, events, err, fields)
}

func (s *service) ListBills(ctx context.Context, actor domain.Actor, req query.Request) domain.Result[query.Page[domain.Bill]] {
	return s.list(ctx, actor, "", req)
}

// ListRequesterBills перечисляет счета, запрошенные actor.
func (s *service) ListRequesterBills(ctx context.Context, actor domain.Actor, req query.Request) domain.Result[query.Page[domain.Bill]] {
	return s.list(ctx, actor, "", req.With(domain.BillFieldRequesterID, actor.ID))
}

// ListPendingBills перечисляет счета, ожидающие решения.
func (s *service) ListPendingBills(ctx context.Context, actor domain.Actor, req query.Request) domain.Result[query.Page[domain.Bill]] {
	return s.list(ctx, actor, "", req.With(domain.BillFieldStatus, string(domain.BillStatusRequested)))
}

func (s *service) ListBillsByType(ctx context.Context, actor domain.Actor, kind domain.ItemKind, req query.Request) domain.Result[query.Page[domain.Bill]] {
	if !kind.Valid() {
		return finish(s, opList, kind, time.Now(), query.Page[domain.Bill]{},
			fmt.Errorf("%w: %q", domain.ErrUnknownItemKind, kind), log.Fields{"actor_id": actor.ID})
	}
	return s.list(ctx, actor, kind, req.With(domain.BillFieldType, string(kind)))
}

// ListBillHistory перечисляет счета, дошедшие до терминального статуса.
func (s *service) ListBillHistory(ctx context.Context, actor domain.Actor, req query.Request) domain.Result[query.Page[domain.Bill]] {
	terminal := domain.TerminalBillStatuses()
	statuses := make([]string, 0, len(terminal))
	for _, status := range terminal {
		statuses = append(statuses, string(status))
	}
	return s.list(ctx, actor, "", req.With(domain.BillFieldStatus, statuses...))
}

// list скрывает мягко удалённые счета, если вызывающий явно не фильтрует по is_active.
func (s *service) list(ctx context.Context, actor domain.Actor, kind domain.ItemKind, req query.Request) domain.Result[query.Page[domain.Bill]] {
	started := time.Now()
	fields := log.Fields{"actor_id": actor.ID}

	page, err := func() (query.Page[domain.Bill], error) {
		if !actor.Authenticated() {
			return query.Page[domain.Bill]{}, domain.ErrNotAuthenticated
		}
		if err := ctx.Err(); err != nil {
			return query.Page[domain.Bill]{}, err
		}
		if !filtersOn(req, domain.BillFieldIsActive) {
			req = req.With(domain.BillFieldIsActive, "true")
		}
		return s.bills.List(req)
	}()
	return finish(s, opList, kind, started, page, err, fields)
}

func filtersOn(req query.Request, field string) bool {
	for _, f := range req.Filters {
		if f.Field == field {
			return true
		}
	}
	return false
}
