package postgres

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
)

const testCircleID = "circle-1"

func seedCircle(t *testing.T, store *Store) {
	t.Helper()

	now := time.Now().UTC()
	circles := NewCircleRepository(store)
	require.NoError(t, circles.CreateBarn(domain.Barn{ID: "barn-1", Name: "Barn 1", IsActive: true, CreatedAt: now}))
	require.NoError(t, circles.Create(domain.LivestockCircle{
		ID:        testCircleID,
		BarnID:    "barn-1",
		Name:      "Spring flock",
		Status:    domain.CircleStatusGrowing,
		StartDate: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func sampleBill(id string, createdAt time.Time) domain.Bill {
	createdAt = createdAt.Round(time.Microsecond)
	return domain.Bill{
		ID:                id,
		Type:              domain.ItemKindFood,
		Status:            domain.BillStatusRequested,
		LivestockCircleID: testCircleID,
		UserRequestID:     "farmer-1",
		Total:             decimal.RequireFromString("25.5"),
		Weight:            decimal.RequireFromString("10"),
		Note:              "Thức ăn tháng ba",
		DeliveryDate:      time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		IsActive:          true,
		Version:           1,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
		Items: []domain.BillItem{{
			ID:        id + "-item-1",
			BillID:    id,
			Ref:       domain.FoodRef("food-1"),
			Stock:     10,
			IsActive:  true,
			CreatedAt: createdAt,
		}},
	}
}

func TestBillRepository_PostgresCreateGetSave(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCircle(t, store)
	repo := NewBillRepository(store)

	bill := sampleBill("bill-1", time.Now().UTC())
	require.NoError(t, repo.Create(bill))
	require.ErrorIs(t, repo.Create(bill), domain.ErrAlreadyExists)

	got, err := repo.Get(bill.ID)
	require.NoError(t, err)
	require.Equal(t, domain.BillStatusRequested, got.Status)
	require.True(t, got.Total.Equal(bill.Total), "total %s", got.Total)
	require.Equal(t, bill.DeliveryDate, got.DeliveryDate)
	require.Len(t, got.Items, 1)
	require.Equal(t, domain.FoodRef("food-1"), got.Items[0].Ref)

	got.Status = domain.BillStatusApproved
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, repo.Save(got))

	// the stored version moved on, so the stale copy loses
	require.ErrorIs(t, repo.Save(got), domain.ErrBillVersionConflict)

	missing := got
	missing.ID = "missing"
	require.ErrorIs(t, repo.Save(missing), domain.ErrBillNotFound)

	_, err = repo.Get("missing")
	require.ErrorIs(t, err, domain.ErrBillNotFound)
}

func TestBillRepository_PostgresReplaceItemsAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCircle(t, store)
	repo := NewBillRepository(store)

	base := time.Now().UTC().Add(-time.Hour)
	for i, id := range []string{"bill-a", "bill-b", "bill-c"} {
		require.NoError(t, repo.Create(sampleBill(id, base.Add(time.Duration(i)*time.Minute))))
	}

	now := time.Now().UTC()
	header, err := repo.Get("bill-a")
	require.NoError(t, err)
	replacement := []domain.BillItem{{
		ID: "bill-a-item-2", BillID: "bill-a", Ref: domain.FoodRef("food-2"), Stock: 3, IsActive: true, CreatedAt: now,
	}}
	require.NoError(t, repo.ReplaceItems(header, replacement))

	// the stale header loses and the transaction leaves no second item set behind
	stale := []domain.BillItem{{
		ID: "bill-a-item-3", BillID: "bill-a", Ref: domain.FoodRef("food-3"), Stock: 1, IsActive: true, CreatedAt: now,
	}}
	require.ErrorIs(t, repo.ReplaceItems(header, stale), domain.ErrBillVersionConflict)
	missing := header
	missing.ID = "missing"
	require.ErrorIs(t, repo.ReplaceItems(missing, nil), domain.ErrBillNotFound)

	got, err := repo.Get("bill-a")
	require.NoError(t, err)
	require.Equal(t, header.Version+1, got.Version)
	require.Len(t, got.Items, 2)
	require.False(t, got.Items[0].IsActive)
	require.True(t, got.Items[1].IsActive)
	require.Equal(t, int64(3), got.Items[1].Stock)

	page, err := repo.List(query.Request{Pagination: query.Pagination{Index: 1, Size: 2}})
	require.NoError(t, err)
	require.Equal(t, 3, page.TotalCount)
	require.Equal(t, 2, page.TotalPages)
	require.Len(t, page.Items, 2)
	require.Equal(t, "bill-c", page.Items[0].ID, "default sort is newest first")

	filtered, err := repo.List(query.Request{}.With(domain.BillFieldStatus, string(domain.BillStatusApproved)))
	require.NoError(t, err)
	require.Zero(t, filtered.TotalCount)

	searched, err := repo.List(query.Request{Search: []query.Search{{Field: domain.BillFieldNote, Term: "thuc an"}}})
	require.NoError(t, err)
	require.Equal(t, 3, searched.TotalCount)
}

func TestInventoryRepository_PostgresAdjustStock(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewInventoryRepository(store)

	now := time.Now().UTC()
	item := domain.InventoryItem{
		Ref:        domain.FoodRef("food-1"),
		Name:       "Cám gà",
		Unit:       "kg",
		Stock:      10,
		UnitPrice:  decimal.RequireFromString("2.5"),
		UnitWeight: decimal.RequireFromString("1"),
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, repo.Create(item))
	require.ErrorIs(t, repo.Create(item), domain.ErrAlreadyExists)

	updated, err := repo.AdjustStock(item.Ref, -4)
	require.NoError(t, err)
	require.Equal(t, int64(6), updated.Stock)

	current, err := repo.AdjustStock(item.Ref, -7)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Equal(t, int64(6), current.Stock)

	_, err = repo.AdjustStock(domain.FoodRef("missing"), 1)
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	got, err := repo.Get(item.Ref)
	require.NoError(t, err)
	require.True(t, got.UnitPrice.Equal(item.UnitPrice))

	// same id under another kind is a different record
	_, err = repo.Get(domain.MedicineRef("food-1"))
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	page, err := repo.List(domain.ItemKindFood, query.Request{})
	require.NoError(t, err)
	require.Equal(t, 1, page.TotalCount)
	page, err = repo.List(domain.ItemKindMedicine, query.Request{})
	require.NoError(t, err)
	require.Zero(t, page.TotalCount)
}

func TestCircleRepositories_PostgresLedger(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCircle(t, store)
	circles := NewCircleRepository(store)
	ledger := NewCircleStockRepository(store)

	_, err := circles.GetBarn("missing")
	require.ErrorIs(t, err, domain.ErrBarnNotFound)
	_, err = circles.Get("missing")
	require.ErrorIs(t, err, domain.ErrCircleNotFound)

	circle, err := circles.AddUnits(testCircleID, 500)
	require.NoError(t, err)
	require.Equal(t, int64(500), circle.TotalUnit)
	require.Equal(t, int64(500), circle.GoodUnit)

	circle, err = circles.SetStatus(testCircleID, domain.CircleStatusFinished)
	require.NoError(t, err)
	require.Equal(t, domain.CircleStatusFinished, circle.Status)
	require.False(t, circle.Status.AcceptsStock())

	_, err = ledger.Get(testCircleID, domain.FoodRef("food-1"))
	require.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = ledger.AddRemaining(testCircleID, domain.FoodRef("food-1"), 10)
	require.NoError(t, err)
	row, err := ledger.AddRemaining(testCircleID, domain.FoodRef("food-1"), 5)
	require.NoError(t, err)
	require.Equal(t, int64(15), row.Remaining)
	_, err = ledger.AddRemaining(testCircleID, domain.MedicineRef("med-1"), 2)
	require.NoError(t, err)

	rows, err := ledger.ListByCircle(testCircleID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, domain.FoodRef("food-1"), rows[0].Ref)
}

func TestTransitionRepository_PostgresJournal(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCircle(t, store)
	require.NoError(t, NewBillRepository(store).Create(sampleBill("bill-j", time.Now().UTC())))
	repo := NewTransitionRepository(store)

	_, err := repo.Get("bill-j", domain.TransitionApprove)
	require.ErrorIs(t, err, domain.ErrTransitionNotFound)

	started, err := repo.Begin(domain.BillTransition{
		BillID:     "bill-j",
		Kind:       domain.TransitionApprove,
		FromStatus: domain.BillStatusRequested,
		ToStatus:   domain.BillStatusApproved,
		ActorID:    "manager-1",
	})
	require.NoError(t, err)
	require.Equal(t, domain.TransitionInProgress, started.State)
	require.Empty(t, started.Applied)

	require.NoError(t, repo.MarkApplied(started.ID, "bill-j-item-1"))
	require.NoError(t, repo.MarkApplied(started.ID, "bill-j-item-1"))
	require.ErrorIs(t, repo.MarkApplied("missing", "x"), domain.ErrTransitionNotFound)

	// a repeated begin resumes the same journal row
	again, err := repo.Begin(domain.BillTransition{BillID: "bill-j", Kind: domain.TransitionApprove})
	require.NoError(t, err)
	require.Equal(t, started.ID, again.ID)
	require.Equal(t, []string{"bill-j-item-1"}, again.Applied)

	stale, err := repo.ListInProgress(time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	require.True(t, stale[0].IsApplied("bill-j-item-1"))

	require.NoError(t, repo.Finish(started.ID, domain.TransitionCompleted))
	require.ErrorIs(t, repo.Finish("missing", domain.TransitionCompleted), domain.ErrTransitionNotFound)

	stale, err = repo.ListInProgress(time.Now().UTC().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Empty(t, stale)

	// an abandoned journal starts over on the next begin
	rejected, err := repo.Begin(domain.BillTransition{BillID: "bill-j", Kind: domain.TransitionReject, ActorID: "manager-1"})
	require.NoError(t, err)
	require.NoError(t, repo.MarkApplied(rejected.ID, "bill-j-item-1"))
	require.NoError(t, repo.Finish(rejected.ID, domain.TransitionAbandoned))

	reopened, err := repo.Begin(domain.BillTransition{BillID: "bill-j", Kind: domain.TransitionReject, ActorID: "manager-2"})
	require.NoError(t, err)
	require.Equal(t, rejected.ID, reopened.ID)
	require.Equal(t, domain.TransitionInProgress, reopened.State)
	require.Equal(t, "manager-2", reopened.ActorID)
	require.Empty(t, reopened.Applied)

		if _, err := repo.Begin(domain.BillTransition{BillID: "missing-bill", Kind: domain.TransitionApprove}); err == nil || errors.Is(err, domain.ErrTransitionNotFound) {
		t.Fatalf("expected foreign key failure for unknown bill, got %v", err)
	}
}
