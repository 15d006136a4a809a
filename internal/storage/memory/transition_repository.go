package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

type transitionKey struct {
	billID string
	kind   domain.TransitionKind
}

// transitionRepositoryInMemory хранит журнал саги в памяти.
type transitionRepositoryInMemory struct {
	mu    sync.Mutex
	byID  map[string]*domain.BillTransition
	byKey map[transitionKey]string
}

// NewTransitionRepository возвращает in-memory TransitionRepository.
func NewTransitionRepository() domain.TransitionRepository {
	return &transitionRepositoryInMemory{
		byID:  make(map[string]*domain.BillTransition),
		byKey: make(map[transitionKey]string),
	}
}

func (r *transitionRepositoryInMemory) Begin(t domain.BillTransition) (domain.BillTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := transitionKey{billID: t.BillID, kind: t.Kind}
	if id, ok := r.byKey[key]; ok {
		existing := r.byID[id]
		if existing.State != domain.TransitionAbandoned {
			return cloneTransition(*existing), nil
		}
		t.ID = id
	}

	now := time.Now().UTC()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.State = domain.TransitionInProgress
	t.Applied = nil
	t.StartedAt = now
	t.UpdatedAt = now

	stored := cloneTransition(t)
	r.byID[t.ID] = &stored
	r.byKey[key] = t.ID
	return cloneTransition(t), nil
}

func (r *transitionRepositoryInMemory) Get(billID string, kind domain.TransitionKind) (domain.BillTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byKey[transitionKey{billID: billID, kind: kind}]
	if !ok {
		return domain.BillTransition{}, domain.ErrTransitionNotFound
	}
	return cloneTransition(*r.byID[id]), nil
}

func (r *transitionRepositoryInMemory) MarkApplied(id, itemID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return domain.ErrTransitionNotFound
	}
	if !t.IsApplied(itemID) {
		t.Applied = append(t.Applied, itemID)
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *transitionRepositoryInMemory) Finish(id string, state domain.TransitionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return domain.ErrTransitionNotFound
	}
	t.State = state
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *transitionRepositoryInMemory) ListInProgress(before time.Time, limit int) ([]domain.BillTransition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]domain.BillTransition, 0)
	for _, t := range r.byID {
		if t.State != domain.TransitionInProgress || !t.UpdatedAt.Before(before) {
			continue
		}
		result = append(result, cloneTransition(*t))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneTransition(src domain.BillTransition) domain.BillTransition {
	dst := src
	dst.Applied = append([]string(nil), src.Applied...)
	return dst
}

var _ domain.TransitionRepository = (*transitionRepositoryInMemory)(nil)
