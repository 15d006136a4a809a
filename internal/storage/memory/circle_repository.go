package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

type circleRepositoryInMemory struct {
	mu      sync.RWMutex
	barns   map[string]domain.Barn
	circles map[string]domain.LivestockCircle
}

// NewCircleRepository возвращает in-memory CircleRepository.
func NewCircleRepository() domain.CircleRepository {
	return &circleRepositoryInMemory{
		barns:   make(map[string]domain.Barn),
		circles: make(map[string]domain.LivestockCircle),
	}
}

func (r *circleRepositoryInMemory) CreateBarn(barn domain.Barn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.barns[barn.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.barns[barn.ID] = barn
	return nil
}

func (r *circleRepositoryInMemory) GetBarn(id string) (domain.Barn, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	barn, ok := r.barns[id]
	if !ok {
		return domain.Barn{}, domain.ErrBarnNotFound
	}
	return barn, nil
}

func (r *circleRepositoryInMemory) Create(circle domain.LivestockCircle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.circles[circle.ID]; exists {
		return domain.ErrAlreadyExists
	}
	r.circles[circle.ID] = circle
	return nil
}

func (r *circleRepositoryInMemory) Get(id string) (domain.LivestockCircle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	circle, ok := r.circles[id]
	if !ok {
		return domain.LivestockCircle{}, domain.ErrCircleNotFound
	}
	return circle, nil
}

func (r *circleRepositoryInMemory) AddUnits(circleID string, qty int64) (domain.LivestockCircle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	circle, ok := r.circles[circleID]
	if !ok {
		return domain.LivestockCircle{}, domain.ErrCircleNotFound
	}
	circle.TotalUnit += qty
	circle.GoodUnit += qty
	circle.UpdatedAt = time.Now().UTC()
	r.circles[circleID] = circle
	return circle, nil
}

func (r *circleRepositoryInMemory) SetStatus(circleID string, status domain.CircleStatus) (domain.LivestockCircle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	circle, ok := r.circles[circleID]
	if !ok {
		return domain.LivestockCircle{}, domain.ErrCircleNotFound
	}
	circle.Status = status
	circle.UpdatedAt = time.Now().UTC()
	r.circles[circleID] = circle
	return circle, nil
}

var _ domain.CircleRepository = (*circleRepositoryInMemory)(nil)
