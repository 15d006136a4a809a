package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
)

type inventoryRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[domain.ItemRef]domain.InventoryItem
}

// NewInventoryRepository возвращает in-memory InventoryRepository.
func NewInventoryRepository() domain.InventoryRepository {
	return &inventoryRepositoryInMemory{
		items: make(map[domain.ItemRef]domain.InventoryItem),
	}
}

func (r *inventoryRepositoryInMemory) Create(item domain.InventoryItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[item.Ref]; exists {
		return domain.ErrAlreadyExists
	}
	r.items[item.Ref] = item
	return nil
}

func (r *inventoryRepositoryInMemory) Get(ref domain.ItemRef) (domain.InventoryItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.items[ref]
	if !ok {
		return domain.InventoryItem{}, domain.ErrItemNotFound
	}
	return item, nil
}

// AdjustStock применяет delta под write lock, чтобы параллельные счета не ушли в минус.
func (r *inventoryRepositoryInMemory) AdjustStock(ref domain.ItemRef, delta int64) (domain.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.items[ref]
	if !ok {
		return domain.InventoryItem{}, domain.ErrItemNotFound
	}
	if item.Stock+delta < 0 {
		return item, domain.ErrInsufficientStock
	}
	item.Stock += delta
	item.UpdatedAt = time.Now().UTC()
	r.items[ref] = item
	return item, nil
}

func (r *inventoryRepositoryInMemory) List(kind domain.ItemKind, req query.Request) (query.Page[domain.InventoryItem], error) {
	r.mu.RLock()
	items := make([]domain.InventoryItem, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	r.mu.RUnlock()

	return query.Apply(domain.InventorySchema, items, func(i domain.InventoryItem) bool {
		return i.Ref.Kind() == kind
	}, req)
}

var _ domain.InventoryRepository = (*inventoryRepositoryInMemory)(nil)
