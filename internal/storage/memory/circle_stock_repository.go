package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

type circleStockKey struct {
	circleID string
	ref      domain.ItemRef
}

type circleStockRepositoryInMemory struct {
	mu   sync.RWMutex
	rows map[circleStockKey]domain.CircleStock
}

// NewCircleStockRepository возвращает in-memory учёт цикла.
func NewCircleStockRepository() domain.CircleStockRepository {
	return &circleStockRepositoryInMemory{rows: make(map[circleStockKey]domain.CircleStock)}
}

func (r *circleStockRepositoryInMemory) AddRemaining(circleID string, ref domain.ItemRef, qty int64) (domain.CircleStock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	key := circleStockKey{circleID: circleID, ref: ref}
	row, ok := r.rows[key]
	if !ok {
		row = domain.CircleStock{
			ID:        uuid.NewString(),
			CircleID:  circleID,
			Ref:       ref,
			CreatedAt: now,
		}
	}
	row.Remaining += qty
	row.UpdatedAt = now
	r.rows[key] = row
	return row, nil
}

func (r *circleStockRepositoryInMemory) Get(circleID string, ref domain.ItemRef) (domain.CircleStock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	row, ok := r.rows[circleStockKey{circleID: circleID, ref: ref}]
	if !ok {
		return domain.CircleStock{}, domain.ErrItemNotFound
	}
	return row, nil
}

// ListByCircle возвращает строки учёта цикла по времени создания.
func (r *circleStockRepositoryInMemory) ListByCircle(circleID string) ([]domain.CircleStock, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.CircleStock, 0)
	for key, row := range r.rows {
		if key.circleID == circleID {
			result = append(result, row)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ domain.CircleStockRepository = (*circleStockRepositoryInMemory)(nil)
