package memory

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// idempotencyKeys хранит резервации в map под одним mutex. Ключ
// с прошедшим TTL считается свободным ещё до того, как retention sweeper
// его удалит.
type idempotencyKeys struct {
	mu      sync.Mutex
	records map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository возвращает in-memory IdempotencyRepository.
func NewIdempotencyRepository() domain.IdempotencyRepository {
	return &idempotencyKeys{records: make(map[string]domain.IdempotencyRecord)}
}

func (s *idempotencyKeys) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	now := time.Now().UTC()
	record, err := domain.NewProcessingRecord(key, requestHash, ttlAt, now)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.records[record.Key]; ok && !held.Expired(now) {
		return cloneIdempotencyRecord(held), held.ReservationConflict(record.RequestHash)
	}
	s.records[record.Key] = record
	return cloneIdempotencyRecord(record), nil
}

func (s *idempotencyKeys) Get(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return cloneIdempotencyRecord(record), nil
}

func (s *idempotencyKeys) MarkDone(key string, responseBody []byte, statusCode int) error {
	return s.finish(key, domain.IdempotencyStatusDone, responseBody, statusCode)
}

func (s *idempotencyKeys) MarkFailed(key string, responseBody []byte, statusCode int) error {
	return s.finish(key, domain.IdempotencyStatusFailed, responseBody, statusCode)
}

// DeleteExpired удаляет записи с TTL не позже cutoff, ближайший TTL
// первым, чтобы ограниченный батч совпадал с тем, что удаляет postgres.
func (s *idempotencyKeys) DeleteExpired(cutoff time.Time, limit int) (int, error) {
	if cutoff.IsZero() {
		cutoff = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.IdempotencyRecord
	for _, record := range s.records {
		if !record.TTLAt.After(cutoff) {
			due = append(due, record)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].TTLAt.Before(due[j].TTLAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	for _, record := range due {
		delete(s.records, record.Key)
	}
	return len(due), nil
}

func (s *idempotencyKeys) finish(key string, status domain.IdempotencyStatus, body []byte, code int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return domain.ErrIdempotencyKeyNotFound
	}
	record.Status = status
	record.ResponseBody = append([]byte(nil), body...)
	record.StatusCode = code
	record.UpdatedAt = time.Now().UTC()
	s.records[key] = record
	return nil
}

func cloneIdempotencyRecord(src domain.IdempotencyRecord) domain.IdempotencyRecord {
	src.ResponseBody = append([]byte(nil), src.ResponseBody...)
	return src
}

var _ domain.IdempotencyRepository = (*idempotencyKeys)(nil)
