package integration

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/service/billing"
	grpcsvc "github.com/vladislavdragonenkov/farmops/internal/service/grpc"
	"github.com/vladislavdragonenkov/farmops/internal/service/idempotency"
	"github.com/vladislavdragonenkov/farmops/internal/service/outbox"
	"github.com/vladislavdragonenkov/farmops/internal/service/stock"
	"github.com/vladislavdragonenkov/farmops/internal/storage/memory"
)

var (
	worker = domain.Actor{ID: "worker-7", Role: domain.ActorRoleWorker}
	tech   = domain.Actor{ID: "tech-3", Role: domain.ActorRoleTechnical}
)

// recordingPublisher stands in for the Kafka topic publisher.
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(event domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types(billID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if e.AggregateID == billID {
			out = append(out, e.EventType)
		}
	}
	return out
}

// BillLifecycleTestSuite runs bills through the gRPC surface against in-memory storage.
type BillLifecycleTestSuite struct {
	suite.Suite

	client    *grpcsvc.Client
	server    *grpc.Server
	conn      *grpc.ClientConn
	worker    *outbox.Worker
	published *recordingPublisher

	circleID string
	foodID   string
}

func (s *BillLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	inventory := memory.NewInventoryRepository()
	circles := memory.NewCircleRepository()
	circleStock := memory.NewCircleStockRepository()
	outboxRepo := memory.NewOutboxRepository()

	engine := billing.NewService(billing.Repositories{
		Bills:       memory.NewBillRepository(),
		Inventory:   inventory,
		Circles:     circles,
		CircleStock: circleStock,
		Transitions: memory.NewTransitionRepository(),
		Outbox:      outboxRepo,
		Timeline:    memory.NewTimelineRepository(),
	}, billing.WithLogger(logger))
	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), 0, logger)

	s.published = &recordingPublisher{}
	s.worker = outbox.NewWorker(outboxRepo, s.published, outbox.WithLogger(logger))

	listener := bufconn.Listen(1024 * 1024)
	s.server = grpc.NewServer()
	grpcsvc.RegisterBillServiceServer(s.server, grpcsvc.NewBillService(engine, guard, logger))
	grpcsvc.RegisterStockServiceServer(s.server,
		grpcsvc.NewStockService(stock.NewService(inventory, circles, circleStock, logger), guard, logger))
	go func() {
		_ = s.server.Serve(listener)
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}
	//nolint:staticcheck // grpc.Dial is required for bufconn testing
	conn, err := grpc.Dial("bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	s.Require().NoError(err)
	s.conn = conn
	s.client = grpcsvc.NewClient(conn)

	s.seedFarm()
}

func (s *BillLifecycleTestSuite) TearDownTest() {
	_ = s.conn.Close()
	s.server.Stop()
}

func (s *BillLifecycleTestSuite) TestApproveConfirmLifecycle() {
	billID := s.requestFood(30, "lt-1")
	s.Require().Equal("REQUESTED", s.billStatus(billID))
	s.Require().Equal(float64(100), s.foodStock())

	s.call(tech, grpcsvc.MethodApproveBill, map[string]any{"bill_id": billID})
	s.Require().Equal("APPROVED", s.billStatus(billID))
	s.Require().Equal(float64(70), s.foodStock())

	s.call(tech, grpcsvc.MethodConfirmBill, map[string]any{"bill_id": billID})
	s.Require().Equal("CONFIRMED", s.billStatus(billID))
	s.Require().Equal(float64(70), s.foodStock())
	s.Require().Equal(float64(30), s.circleRemaining())

	timeline := grpcsvc.Data(s.call(tech, grpcsvc.MethodGetBillTimeline, map[string]any{"bill_id": billID}))
	events, ok := timeline["events"].([]any)
	s.Require().True(ok)
	var types []string
	for _, e := range events {
		types = append(types, e.(map[string]any)["type"].(string))
	}
	s.Require().Equal([]string{domain.EventBillRequested, domain.EventBillApproved, domain.EventBillConfirmed}, types)

	s.Require().Equal(3, s.worker.ProcessOnce(context.Background()))
	s.Require().Equal(
		[]string{domain.EventBillRequested, domain.EventBillApproved, domain.EventBillConfirmed},
		s.published.types(billID))

	var payload struct {
		Status  string `json:"status"`
		ActorID string `json:"actor_id"`
	}
	s.published.mu.Lock()
	last := s.published.events[len(s.published.events)-1]
	s.published.mu.Unlock()
	s.Require().NoError(json.Unmarshal(last.Payload, &payload))
	s.Require().Equal("CONFIRMED", payload.Status)
	s.Require().Equal(tech.ID, payload.ActorID)
}

func (s *BillLifecycleTestSuite) TestRejectReturnsReservedStock() {
	billID := s.requestFood(40, "lt-2")
	s.call(tech, grpcsvc.MethodApproveBill, map[string]any{"bill_id": billID})
	s.Require().Equal(float64(60), s.foodStock())

	s.call(tech, grpcsvc.MethodRejectBill, map[string]any{"bill_id": billID})
	s.Require().Equal("REJECTED", s.billStatus(billID))
	s.Require().Equal(float64(100), s.foodStock())
	s.Require().Equal(float64(0), s.circleRemaining())
}

func (s *BillLifecycleTestSuite) TestWorkerCancelsRequestedBill() {
	billID := s.requestFood(10, "lt-3")

	s.call(worker, grpcsvc.MethodCancelBill, map[string]any{"bill_id": billID})
	s.Require().Equal("CANCELLED", s.billStatus(billID))
	s.Require().Equal(float64(100), s.foodStock())

	_, err := s.client.Call(grpcsvc.WithActor(context.Background(), tech), grpcsvc.MethodApproveBill,
		map[string]any{"bill_id": billID})
	s.Require().Equal(codes.FailedPrecondition, status.Code(err))
}

func (s *BillLifecycleTestSuite) TestApproveBeyondStockLeavesBillRequested() {
	first := s.requestFood(60, "lt-4a")
	second := s.requestFood(60, "lt-4b")

	s.call(tech, grpcsvc.MethodApproveBill, map[string]any{"bill_id": first})

	_, err := s.client.Call(grpcsvc.WithActor(context.Background(), tech), grpcsvc.MethodApproveBill,
		map[string]any{"bill_id": second})
	s.Require().Equal(codes.InvalidArgument, status.Code(err))
	s.Require().Equal("REQUESTED", s.billStatus(second))
	s.Require().Equal(float64(40), s.foodStock())
}

func (s *BillLifecycleTestSuite) TestIdempotentRequestReplays() {
	first := s.requestFood(5, "lt-5")
	again := s.requestFood(5, "lt-5")
	s.Require().Equal(first, again)

	page := grpcsvc.Data(s.call(worker, grpcsvc.MethodListRequesterBills, map[string]any{"page_index": 1, "page_size": 10}))
	s.Require().Equal(float64(1), page["total_count"])
}

func (s *BillLifecycleTestSuite) seedFarm() {
	barn := s.call(tech, grpcsvc.MethodCreateBarn, map[string]any{"name": "North barn"})
	circle := s.call(tech, grpcsvc.MethodCreateCircle, map[string]any{
		"barn_id":    grpcsvc.Data(barn)["id"],
		"name":       "Batch 12",
		"status":     "growing",
		"total_unit": 800,
		"start_date": "2026-09-01",
	})
	food := s.call(tech, grpcsvc.MethodCreateInventoryItem, map[string]any{
		"type":        "food",
		"item_id":     "starter-feed",
		"name":        "Starter feed",
		"unit":        "kg",
		"stock":       100,
		"unit_price":  "1.75",
		"unit_weight": "25",
	})

	s.circleID = grpcsvc.Data(circle)["id"].(string)
	s.foodID = grpcsvc.Data(food)["item_id"].(string)
}

func (s *BillLifecycleTestSuite) requestFood(qty int, key string) string {
	ctx := grpcsvc.WithIdempotencyKey(grpcsvc.WithActor(context.Background(), worker), key)
	resp, err := s.client.Call(ctx, grpcsvc.MethodRequestFood, map[string]any{
		"circle_id":     s.circleID,
		"delivery_date": "2026-10-20",
		"items":         []any{map[string]any{"item_id": s.foodID, "quantity": qty}},
	})
	s.Require().NoError(err)
	return grpcsvc.Data(resp)["id"].(string)
}

func (s *BillLifecycleTestSuite) billStatus(billID string) string {
	bill := grpcsvc.Data(s.call(tech, grpcsvc.MethodGetBill, map[string]any{"bill_id": billID}))
	return bill["status"].(string)
}

func (s *BillLifecycleTestSuite) foodStock() any {
	item := grpcsvc.Data(s.call(tech, grpcsvc.MethodGetInventoryItem, map[string]any{"type": "food", "item_id": s.foodID}))
	return item["stock"]
}

func (s *BillLifecycleTestSuite) circleRemaining() any {
	rows := grpcsvc.Data(s.call(tech, grpcsvc.MethodListCircleStock, map[string]any{"circle_id": s.circleID}))
	items, _ := rows["items"].([]any)
	for _, row := range items {
		entry := row.(map[string]any)
		if entry["item_id"] == s.foodID {
			return entry["remaining"]
		}
	}
	return float64(0)
}

func (s *BillLifecycleTestSuite) call(actor domain.Actor, method string, req map[string]any) *structpb.Struct {
	resp, err := s.client.Call(grpcsvc.WithActor(context.Background(), actor), method, req)
	require.NoError(s.T(), err, method)
	return resp
}

func TestBillLifecycle(t *testing.T) {
	suite.Run(t, new(BillLifecycleTestSuite))
}
