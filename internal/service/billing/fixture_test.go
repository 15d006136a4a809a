package billing

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/metrics"
	"github.com/vladislavdragonenkov/farmops/internal/storage/memory"
)

const testCircleID = "circle-1"

var (
	worker = domain.Actor{ID: "worker-1", Role: domain.ActorRoleWorker}
	tech   = domain.Actor{ID: "tech-1", Role: domain.ActorRoleTechnical}
	admin  = domain.Actor{ID: "admin-1", Role: domain.ActorRoleAdmin}
)

type fixture struct {
	svc         *service
	bills       domain.BillRepository
	inventory   domain.InventoryRepository
	circles     domain.CircleRepository
	circleStock domain.CircleStockRepository
	transitions domain.TransitionRepository
	outbox      *memory.OutboxRepository
	timeline    domain.TimelineRepository
	registry    *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		bills:       memory.NewBillRepository(),
		inventory:   memory.NewInventoryRepository(),
		circles:     memory.NewCircleRepository(),
		circleStock: memory.NewCircleStockRepository(),
		transitions: memory.NewTransitionRepository(),
		outbox:      memory.NewOutboxRepository(),
		timeline:    memory.NewTimelineRepository(),
		registry:    prometheus.NewRegistry(),
	}

	logger := log.New()
	logger.SetLevel(log.PanicLevel)

	f.svc = NewService(f.repositories(),
		WithLogger(logger.WithField("component", "billing-test")),
		WithMetrics(metrics.NewBillMetricsWithRegisterer(f.registry)),
		WithRetryPolicy(3, time.Millisecond),
	).(*service)

	require.NoError(t, f.circles.CreateBarn(domain.Barn{ID: "barn-1", Name: "Chuồng A", IsActive: true}))
	f.seedCircle(t, testCircleID, domain.CircleStatusGrowing)
	return f
}

func (f *fixture) repositories() Repositories {
	return Repositories{
		Bills:       f.bills,
		Inventory:   f.inventory,
		Circles:     f.circles,
		CircleStock: f.circleStock,
		Transitions: f.transitions,
		Outbox:      f.outbox,
		Timeline:    f.timeline,
	}
}

func (f *fixture) seedCircle(t *testing.T, id string, status domain.CircleStatus) {
	t.Helper()
	require.NoError(t, f.circles.Create(domain.LivestockCircle{
		ID:        id,
		BarnID:    "barn-1",
		Name:      "Lứa " + id,
		Status:    status,
		TotalUnit: 100,
		GoodUnit:  100,
		IsActive:  true,
	}))
}

func (f *fixture) seedItem(t *testing.T, ref domain.ItemRef, stock int64, price string) {
	t.Helper()
	require.NoError(t, f.inventory.Create(domain.InventoryItem{
		Ref:        ref,
		Name:       "Item " + ref.ID(),
		Unit:       "kg",
		Stock:      stock,
		UnitPrice:  decimal.RequireFromString(price),
		UnitWeight: decimal.NewFromInt(1),
		IsActive:   true,
	}))
}

func (f *fixture) stock(t *testing.T, ref domain.ItemRef) int64 {
	t.Helper()
	item, err := f.inventory.Get(ref)
	require.NoError(t, err)
	return item.Stock
}

// requestFood creates a requested food bill with one line per (id, qty) pair.
func (f *fixture) requestFood(t *testing.T, lines ...LineInput) domain.Bill {
	t.Helper()
	res := f.svc.RequestFood(t.Context(), worker, RequestBill{
		CircleID:     testCircleID,
		DeliveryDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Items:        lines,
	})
	require.True(t, res.Succeeded, "request failed: %s %v", res.Message, res.Err)
	return res.Data
}

// billInStatus drives a fresh one-line food bill to status through the public operations.
func (f *fixture) billInStatus(t *testing.T, status domain.BillStatus) domain.Bill {
	t.Helper()
	ref := domain.FoodRef("food-" + string(status))
	f.seedItem(t, ref, 10, "1")
	bill := f.requestFood(t, LineInput{ItemID: ref.ID(), Quantity: 2})

	var res domain.Result[domain.Bill]
	switch status {
	case domain.BillStatusRequested:
		return bill
	case domain.BillStatusApproved:
		res = f.svc.ApproveBill(t.Context(), tech, bill.ID)
	case domain.BillStatusConfirmed:
		require.True(t, f.svc.ApproveBill(t.Context(), tech, bill.ID).Succeeded)
		res = f.svc.ConfirmBill(t.Context(), worker, bill.ID)
	case domain.BillStatusRejected:
		res = f.svc.RejectBill(t.Context(), tech, bill.ID)
	case domain.BillStatusCancelled:
		res = f.svc.CancelBill(t.Context(), worker, bill.ID)
	}
	require.True(t, res.Succeeded, "drive to %s: %s %v", status, res.Message, res.Err)
	require.Equal(t, status, res.Data.Status)
	return res.Data
}

// metricValue sums every sample of the named family whose labels include want.
func (f *fixture) metricValue(t *testing.T, name string, want map[string]string) float64 {
	t.Helper()
	families, err := f.registry.Gather()
	require.NoError(t, err)

	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, m := range family.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue next
				}
			}
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
	}
	return total
}
