package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// timelineRepository хранит историю каждого счёта отсортированной по Occurred. Событие
// с тем же временем встаёт после существующего, как и порядок вставки,
// к которому откатывается история в PostgreSQL.
type timelineRepository struct {
	mu     sync.RWMutex
	byBill map[string][]domain.TimelineEvent
}

// NewTimelineRepository возвращает in-memory TimelineRepository.
func NewTimelineRepository() domain.TimelineRepository {
	return &timelineRepository{byBill: make(map[string][]domain.TimelineEvent)}
}

func (r *timelineRepository) Append(event domain.TimelineEvent) error {
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.byBill[event.BillID]
	at := len(history)
	for at > 0 && history[at-1].Occurred.After(event.Occurred) {
		at--
	}
	r.byBill[event.BillID] = slices.Insert(history, at, event)
	return nil
}

func (r *timelineRepository) List(billID string) ([]domain.TimelineEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := slices.Clone(r.byBill[billID])
	if history == nil {
		history = []domain.TimelineEvent{}
	}
	return history, nil
}

var _ domain.TimelineRepository = (*timelineRepository)(nil)
