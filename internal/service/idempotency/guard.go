// Package idempotency воспроизводит сохранённый результат повторённого изменяющего RPC.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

// DefaultTTL задаёт, сколько завершённый запрос можно воспроизводить.
const DefaultTTL = 24 * time.Hour

// Replay хранит результат запроса, уже выполненного с тем же ключом.
type Replay struct {
	Body       []byte
	StatusCode int
	Failed     bool
}

// Guard выполняет запрос не больше одного раза на ключ идемпотентности.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	logger *log.Entry
}

// NewGuard создаёт guard. Неположительный ttl означает DefaultTTL.
func NewGuard(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency-guard")
	}
	return &Guard{repo: repo, ttl: ttl, logger: logger}
}

// RequestHash снимает отпечаток запроса как sha256(method ":" payload).
func RequestHash(method string, payload []byte) string {
	buf := make([]byte, 0, len(method)+1+len(payload))
	buf = append(buf, method...)
	buf = append(buf, ':')
	buf = append(buf, payload...)
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// Begin резервирует key для запроса с отпечатком hash.
// Возвращает (nil, nil), когда вызывающий должен выполнить запрос и затем вызвать
// Succeed или Fail, Replay, если ключ уже завершён, или ошибку:
// ErrIdempotencyHashMismatch для ключа, повторённого с другим payload, и
// ErrIdempotencyInProgress, пока первый запрос ещё выполняется.
func (g *Guard) Begin(key, hash string) (*Replay, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, domain.ErrIdempotencyKeyRequired
	}

	record, err := g.repo.CreateProcessing(key, hash, time.Now().UTC().Add(g.ttl))
	switch {
	case err == nil:
		return nil, nil
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, err
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
	default:
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}

	switch record.Status {
	case domain.IdempotencyStatusDone:
		return &Replay{Body: record.ResponseBody, StatusCode: record.StatusCode}, nil
	case domain.IdempotencyStatusFailed:
		return &Replay{Body: record.ResponseBody, StatusCode: record.StatusCode, Failed: true}, nil
	case domain.IdempotencyStatusProcessing:
		if record.Expired(time.Now().UTC()) {
			g.logger.WithField("idempotency_key", key).Warn("idempotency key expired while processing")
		}
		return nil, domain.ErrIdempotencyInProgress
	default:
		return nil, fmt.Errorf("idempotency key %s has unknown status %q", key, record.Status)
	}
}

// Succeed сохраняет ответ успешного запроса. Ошибки хранилища только
// логируются: сам запрос уже прошёл.
func (g *Guard) Succeed(key string, body []byte, statusCode int) {
	if err := g.repo.MarkDone(key, body, statusCode); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
}

// Fail сохраняет ответ упавшего запроса.
func (g *Guard) Fail(key string, body []byte, statusCode int) {
	if err := g.repo.MarkFailed(key, body, statusCode); err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
	}
}
