package grpcsvc

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/service/idempotency"
	"github.com/vladislavdragonenkov/farmops/internal/service/stock"
)

// StockService открывает администрирование склада, хлевов и циклов.
// Каждый вызов требует аутентифицированного actor.
type StockService struct {
	stock  *stock.Service
	guard  *idempotency.Guard
	logger *log.Entry
}

func NewStockService(svc *stock.Service, guard *idempotency.Guard, logger *log.Entry) *StockService {
	if logger == nil {
		logger = log.WithField("component", "stock-grpc")
	}
	return &StockService{stock: svc, guard: guard, logger: logger}
}

var _ StockServiceServer = (*StockService)(nil)

// stockCall возвращает тело ответа или ошибку сервиса.
type stockCall func(f fields) (map[string]any, error)

func (s *StockService) run(ctx context.Context, req *structpb.Struct, call stockCall) (*structpb.Struct, error) {
	if !actorFromContext(ctx).Authenticated() {
		return nil, respondErr(domain.MsgNotAuthenticated, domain.ErrNotAuthenticated)
	}
	data, err := call(fieldsOf(req))
	if err != nil {
		return nil, respondErr(domain.MsgOperationFailed, err)
	}
	env, err := envelope(true, domain.MsgSucceeded, data, nil)
	if err != nil {
		s.logger.WithError(err).Warn("failed to encode stock response")
		return nil, respondErr(domain.MsgOperationFailed, err)
	}
	return env, nil
}

func (s *StockService) mutate(ctx context.Context, method string, req *structpb.Struct, call stockCall) (*structpb.Struct, error) {
	return withIdempotency(ctx, s.guard, s.logger, method, req, func(ctx context.Context) (*structpb.Struct, error) {
		return s.run(ctx, req, call)
	})
}

func (s *StockService) CreateInventoryItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodCreateInventoryItem, req, func(f fields) (map[string]any, error) {
		in, err := decodeNewItem(f)
		if err != nil {
			return nil, err
		}
		item, err := s.stock.CreateInventoryItem(in)
		if err != nil {
			return nil, err
		}
		return inventoryItemToMap(item), nil
	})
}

func (s *StockService) GetInventoryItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, req, func(f fields) (map[string]any, error) {
		ref, err := f.itemRef()
		if err != nil {
			return nil, err
		}
		item, err := s.stock.GetInventoryItem(ref)
		if err != nil {
			return nil, err
		}
		return inventoryItemToMap(item), nil
	})
}

func (s *StockService) ListInventory(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, req, func(f fields) (map[string]any, error) {
		q, err := decodeQuery(f)
		if err != nil {
			return nil, err
		}
		kind, err := f.str("type")
		if err != nil {
			return nil, err
		}
		page, err := s.stock.ListInventory(domain.ItemKind(strings.ToLower(kind)), q)
		if err != nil {
			return nil, err
		}
		return pageToMap(page, inventoryItemToMap), nil
	})
}

func (s *StockService) CreateBarn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodCreateBarn, req, func(f fields) (map[string]any, error) {
		name, err := f.str("name")
		if err != nil {
			return nil, err
		}
		address, err := f.str("address")
		if err != nil {
			return nil, err
		}
		barn, err := s.stock.CreateBarn(name, address)
		if err != nil {
			return nil, err
		}
		return barnToMap(barn), nil
	})
}

func (s *StockService) CreateCircle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodCreateCircle, req, func(f fields) (map[string]any, error) {
		in, err := decodeNewCircle(f)
		if err != nil {
			return nil, err
		}
		circle, err := s.stock.CreateCircle(in)
		if err != nil {
			return nil, err
		}
		return circleToMap(circle), nil
	})
}

func (s *StockService) GetCircle(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, req, func(f fields) (map[string]any, error) {
		id, err := f.str("circle_id")
		if err != nil {
			return nil, err
		}
		circle, err := s.stock.GetCircle(id)
		if err != nil {
			return nil, err
		}
		return circleToMap(circle), nil
	})
}

func (s *StockService) SetCircleStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.mutate(ctx, MethodSetCircleStatus, req, func(f fields) (map[string]any, error) {
		id, err := f.str("circle_id")
		if err != nil {
			return nil, err
		}
		status, err := f.str("status")
		if err != nil {
			return nil, err
		}
		circle, err := s.stock.SetCircleStatus(id, domain.CircleStatus(strings.ToLower(status)))
		if err != nil {
			return nil, err
		}
		return circleToMap(circle), nil
	})
}

func (s *StockService) ListCircleStock(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.run(ctx, req, func(f fields) (map[string]any, error) {
		id, err := f.str("circle_id")
		if err != nil {
			return nil, err
		}
		rows, err := s.stock.ListCircleStock(id)
		if err != nil {
			return nil, err
		}
		return circleStockToMap(rows), nil
	})
}
