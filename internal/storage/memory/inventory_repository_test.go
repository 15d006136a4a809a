package memory_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
	"github.com/vladislavdragonenkov/farmops/internal/storage/memory"
)

func TestInventoryRepository_AdjustStock(t *testing.T) {
	repo := memory.NewInventoryRepository()
	ref := domain.FoodRef("food-1")
	if err := repo.Create(domain.InventoryItem{Ref: ref, Name: "Cám", Stock: 10, IsActive: true}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	item, err := repo.AdjustStock(ref, -4)
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if item.Stock != 6 {
		t.Fatalf("expected stock 6, got %d", item.Stock)
	}

	if _, err := repo.AdjustStock(ref, -7); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	stored, _ := repo.Get(ref)
	if stored.Stock != 6 {
		t.Fatalf("failed adjustment must not change stock, got %d", stored.Stock)
	}

	if _, err := repo.AdjustStock(domain.FoodRef("missing"), 1); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
}

func TestInventoryRepository_ConcurrentReservationsNeverOverdraw(t *testing.T) {
	repo := memory.NewInventoryRepository()
	ref := domain.MedicineRef("med-1")
	if err := repo.Create(domain.InventoryItem{Ref: ref, Name: "Vaccine", Stock: 50, IsActive: true}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.AdjustStock(ref, -1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	stored, _ := repo.Get(ref)
	if ok != 50 || stored.Stock != 0 {
		t.Fatalf("expected 50 successful reservations and empty stock, got %d and %d", ok, stored.Stock)
	}
}

func TestInventoryRepository_ListByKind(t *testing.T) {
	repo := memory.NewInventoryRepository()
	_ = repo.Create(domain.InventoryItem{Ref: domain.FoodRef("f1"), Name: "Cám gà", IsActive: true})
	_ = repo.Create(domain.InventoryItem{Ref: domain.FoodRef("f2"), Name: "Bắp", IsActive: true})
	_ = repo.Create(domain.InventoryItem{Ref: domain.MedicineRef("m1"), Name: "Kháng sinh", IsActive: true})

	page, err := repo.List(domain.ItemKindFood, query.Request{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if page.TotalCount != 2 || page.Items[0].Name != "Bắp" {
		t.Fatalf("unexpected page %+v", page)
	}

	page, err = repo.List(domain.ItemKindFood, query.Request{Search: []query.Search{{Field: "name", Term: "cam"}}})
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if page.TotalCount != 1 || page.Items[0].Ref != domain.FoodRef("f1") {
		t.Fatalf("unexpected search page %+v", page)
	}
}
