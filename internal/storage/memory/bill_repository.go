package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
)

// billRepositoryInMemory хранит счета в map для локальной разработки и тестов.
type billRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Bill
}

// NewBillRepository возвращает in-memory BillRepository.
func NewBillRepository() domain.BillRepository {
	return &billRepositoryInMemory{
		items: make(map[string]domain.Bill),
	}
}

func (r *billRepositoryInMemory) Create(bill domain.Bill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[bill.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.items[bill.ID] = cloneBill(bill)
	return nil
}

func (r *billRepositoryInMemory) Get(id string) (domain.Bill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bill, ok := r.items[id]
	if !ok {
		return domain.Bill{}, domain.ErrBillNotFound
	}
	return cloneBill(bill), nil
}

// Save перезаписывает заголовок после проверки версии; строками управляет ReplaceItems.
func (r *billRepositoryInMemory) Save(bill domain.Bill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.checkVersion(bill)
	if err != nil {
		return err
	}
	bill.Items = current.Items
	bill.Version++
	r.items[bill.ID] = bill
	return nil
}

func (r *billRepositoryInMemory) ReplaceItems(bill domain.Bill, items []domain.BillItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, err := r.checkVersion(bill)
	if err != nil {
		return err
	}

	next := make([]domain.BillItem, 0, len(current.Items)+len(items))
	for _, item := range current.Items {
		item.IsActive = false
		next = append(next, item)
	}
	for _, item := range items {
		item.BillID = bill.ID
		next = append(next, item)
	}
	bill.Items = next
	bill.Version++
	r.items[bill.ID] = bill
	return nil
}

func (r *billRepositoryInMemory) checkVersion(bill domain.Bill) (domain.Bill, error) {
	current, ok := r.items[bill.ID]
	if !ok {
		return domain.Bill{}, domain.ErrBillNotFound
	}
	if current.Version != bill.Version {
		return domain.Bill{}, domain.ErrBillVersionConflict
	}
	return current, nil
}

func (r *billRepositoryInMemory) List(req query.Request) (query.Page[domain.Bill], error) {
	r.mu.RLock()
	bills := make([]domain.Bill, 0, len(r.items))
	for _, bill := range r.items {
		bill.Items = nil
		bills = append(bills, bill)
	}
	r.mu.RUnlock()

	return query.Apply(domain.BillSchema, bills, nil, req)
}

func cloneBill(src domain.Bill) domain.Bill {
	dst := src
	dst.Items = append([]domain.BillItem(nil), src.Items...)
	return dst
}

var _ domain.BillRepository = (*billRepositoryInMemory)(nil)
