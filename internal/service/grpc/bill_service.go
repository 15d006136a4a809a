package grpcsvc

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
	"github.com/vladislavdragonenkov/farmops/internal/service/billing"
	"github.com/vladislavdragonenkov/farmops/internal/service/idempotency"
)

// BillService открывает движок workflow счетов через gRPC.
type BillService struct {
	bills  billing.Service
	guard  *idempotency.Guard
	logger *log.Entry
}

// NewBillService собирает транспорт. guard может быть nil, тогда ключи идемпотентности выключены.
func NewBillService(bills billing.Service, guard *idempotency.Guard, logger *log.Entry) *BillService {
	if logger == nil {
		logger = log.WithField("component", "bill-grpc")
	}
	return &BillService{bills: bills, guard: guard, logger: logger}
}

var _ BillServiceServer = (*BillService)(nil)

type pageOfBills = query.Page[domain.Bill]

type billCall func(ctx context.Context, actor domain.Actor, f fields) (*structpb.Struct, error)

// mutate выполняет изменяющий вызов под защитой идемпотентности.
func (s *BillService) mutate(ctx context.Context, method string, req *structpb.Struct, call billCall) (*structpb.Struct, error) {
	return withIdempotency(ctx, s.guard, s.logger, method, req, func(ctx context.Context) (*structpb.Struct, error) {
		return call(ctx, actorFromContext(ctx), fieldsOf(req))
	})
}

func (s *BillService) read(ctx context.Context, req *structpb.Struct, call billCall) (*structpb.Struct, error) {
	return call(ctx, actorFromContext(ctx), fieldsOf(req))
}

func billResponse(res domain.Result[domain.Bill]) (*structpb.Struct, error) {
	return respond(res, billToMap)
}

func pageResponse(res domain.Result[pageOfBills]) (*structpb.Struct, error) {
	return respond(res, func(p pageOfBills) map[string]any { return pageToMap(p, billToMap) })
}

func (s *BillService) request(kind domain.ItemKind) billCall {
	return func(ctx context.Context, actor domain.Actor, f fields) (*structpb.Struct, error) {
		in, err := decodeRequestBill(f)
		if err != nil {
			return nil, invalidRequest(err)
		}
		switch kind {
		case domain.ItemKindFood:
			return billResponse(s.bills.RequestFood(ctx, actor, in))
		case domain.ItemKindMedicine:
			return billResponse(s.bills.RequestMedicine(ctx, actor, in))
		default:
			return billResponse(s.bills.RequestBreed(ctx, actor, in))
		}
	}
}

func (s *BillService) update(run func(context.Context, domain.Actor, string, billing.UpdateBill) domain.Result[domain.Bill]) billCall {
	return func(ctx context.Context, actor domain.Actor, f fields) (*structpb.Struct, error) {
		billID, err := f.billID()
		if err != nil {
			return nil, invalidRequest(err)
		}
		in, err := decodeUpdateBill(f)
		if err != nil {
			return nil, invalidRequest(err)
		}
		return billResponse(run(ctx, actor, billID, in))
	}
}

func (s *BillService) byID(run func(context.Context, domain.Actor, string) domain.Result[domain.Bill]) billCall {
	return func(ctx context.Context, actor domain.Actor, f fields) (*structpb.Struct, error) {
		billID, err := f.billID()
		if err != nil {
			return nil, invalidRequest(err)
		}
		return billResponse(run(ctx, actor, billID))
	}
}

func (s *BillService) listing(run func(context.Context, domain.Actor, fields, query.Request) domain.Result[pageOfBills]) billCall {
	return func(ctx context.Context, actor domain.Actor, f fields) (*structpb.Struct, error) {
		q, err := decodeQuery(f)
		if err != nil {
			return nil, respondErr(domain.MsgInvalidQuery, err)
		}
		return pageResponse(run(ctx, actor, f, q))
	}
}

func plainListing(run func(context.Context, domain.Actor, query.Request) domain.Result[pageOfBills]) func(context.Context, domain.Actor, fields, query.Request) domain.Result[pageOfBills] {
	return func(ctx context.Context, actor domain.Actor, _ fields, q query.Request) domain.Result[pageOfBills] {
		return run(ctx, actor, q)
	}
}

func (s *BillService) RequestFood(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodRequestFood, req, s.request(domain.ItemKindFood))
}

func (s *BillService) RequestMedicine(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodRequestMedicine, req, s.request(domain.ItemKindMedicine))
}

func (s *BillService) RequestBreed(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodRequestBreed, req, s.request(domain.ItemKindBreed))
}

func (s *BillService) AdminUpdateBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodAdminUpdateBill, req, s.update(s.bills.AdminUpdateBill))
}

func (s *BillService) UpdateBillFood(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodUpdateBillFood, req, s.update(s.bills.UpdateBillFood))
}

func (s *BillService) UpdateBillMedicine(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodUpdateBillMedicine, req, s.update(s.bills.UpdateBillMedicine))
}

func (s *BillService) ApproveBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodApproveBill, req, s.byID(s.bills.ApproveBill))
}

func (s *BillService) RejectBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodRejectBill, req, s.byID(s.bills.RejectBill))
}

func (s *BillService) ConfirmBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodConfirmBill, req, s.byID(s.bills.ConfirmBill))
}

func (s *BillService) CancelBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodCancelBill, req, s.byID(s.bills.CancelBill))
}

func (s *BillService) DisableBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodDisableBill, req, s.byID(s.bills.DisableBill))
}

func (s *BillService) GetBill(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.read(ctx, req, s.byID(s.bills.GetBill))
}

func (s *BillService) GetBillTimeline(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.read(ctx, req, func(ctx context.Context, actor domain.Actor, f fields) (*structpb.Struct, error) {
		billID, err := f.billID()
		if err != nil {
			return nil, invalidRequest(err)
		}
		return respond(s.bills.BillTimeline(ctx, actor, billID), timelineToMap)
	})
}

func (s *BillService) ListBills(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.read(ctx, req, s.listing(plainListing(s.bills.ListBills)))
}

func (s *BillService) ListRequesterBills(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.read(ctx, req, s.listing(plainListing(s.bills.ListRequesterBills)))
}

func (s *BillService) ListPendingBills(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.read(ctx, req, s.listing(plainListing(s.bills.ListPendingBills)))
}

// ListBillsByType читает вид из поля "type".
func (s *BillService) ListBillsByType(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.read(ctx, req, s.listing(func(ctx context.Context, actor domain.Actor, f fields, q query.Request) domain.Result[pageOfBills] {
		kind, _ := f.str("type")
		return s.bills.ListBillsByType(ctx, actor, domain.ItemKind(strings.ToLower(kind)), q)
	}))
}

func (s *BillService) ListBillHistory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.read(ctx, req, s.listing(plainListing(s.bills.ListBillHistory)))
}
