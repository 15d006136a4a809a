// Package health отдаёт HTTP-эндпоинты liveness, readiness и health
// farm-сервиса.
package health

import (
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// worse сообщает, что s хуже other: unhealthy > degraded > healthy.
func (s Status) worse(other Status) bool {
	rank := map[Status]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnhealthy: 2}
	return rank[s] > rank[other]
}

// Check хранит результат проверки одного компонента.
type Check struct {
	Name       string        `json:"name"`
	Status     Status        `json:"status"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs int64         `json:"duration_ms"`
}

// Response задаёт тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

type Checker interface {
	Check() Check
}

// timedCheck замеряет fn и превращает её вердикт в Check.
func timedCheck(name string, fn func() (Status, string)) Check {
	start := time.Now()
	status, message := fn()
	elapsed := time.Since(start)
	return Check{
		Name:       name,
		Status:     status,
		Message:    message,
		Duration:   elapsed,
		DurationMs: elapsed.Milliseconds(),
	}
}

// Handler агрегирует зарегистрированные проверки.
type Handler struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	version  string
	started  time.Time
}

func NewHandler(version string) *Handler {
	return &Handler{
		checkers: make(map[string]Checker),
		version:  version,
		started:  time.Now(),
	}
}

func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	h.checkers[name] = checker
	h.mu.Unlock()
}

// Evaluate запускает каждую проверку один раз; общим статусом становится худший.
func (h *Handler) Evaluate() Response {
	h.mu.RLock()
	checkers := maps.Clone(h.checkers)
	h.mu.RUnlock()

	resp := Response{
		Status:        StatusHealthy,
		Timestamp:     time.Now().UTC(),
		Checks:        make(map[string]Check, len(checkers)),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
	}
	for name, checker := range checkers {
		check := checker.Check()
		resp.Checks[name] = check
		if check.Status.worse(resp.Status) {
			resp.Status = check.Status
		}
	}
	return resp
}

// ServeHTTP пишет результат Evaluate: 200, пока healthy или degraded, 503
// когда какой-то компонент unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	resp := h.Evaluate()

	code := http.StatusOK
	if resp.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

// LivenessHandler всегда отвечает 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, пока хоть одна проверка unhealthy.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if h.Evaluate().Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// SimpleChecker unhealthy, когда его функция проверки падает.
type SimpleChecker struct {
	name    string
	checkFn func() error
}

func NewSimpleChecker(name string, checkFn func() error) *SimpleChecker {
	return &SimpleChecker{name: name, checkFn: checkFn}
}

func (c *SimpleChecker) Check() Check {
	return timedCheck(c.name, func() (Status, string) {
		if err := c.checkFn(); err != nil {
			return StatusUnhealthy, err.Error()
		}
		return StatusHealthy, ""
	})
}

// OutboxChecker отражает хвост событий счетов: degraded выше maxPending,
// unhealthy, если outbox не читается.
type OutboxChecker struct {
	repo       domain.OutboxRepository
	maxPending int
}

func NewOutboxChecker(repo domain.OutboxRepository, maxPending int) *OutboxChecker {
	return &OutboxChecker{repo: repo, maxPending: maxPending}
}

func (c *OutboxChecker) Check() Check {
	return timedCheck("outbox", func() (Status, string) {
		stats, err := c.repo.Stats()
		switch {
		case err != nil:
			return StatusUnhealthy, err.Error()
		case c.maxPending > 0 && stats.PendingCount > c.maxPending:
			msg := fmt.Sprintf("%d pending events, limit %d", stats.PendingCount, c.maxPending)
			if !stats.OldestPendingAt.IsZero() {
				msg += fmt.Sprintf(", oldest %s", time.Since(stats.OldestPendingAt).Truncate(time.Second))
			}
			return StatusDegraded, msg
		}
		return StatusHealthy, ""
	})
}

// JournalChecker degraded, пока строка журнала одобрения или возврата остаётся
// в процессе дольше stuckAfter, то есть recovery не успевает.
type JournalChecker struct {
	repo       domain.TransitionRepository
	stuckAfter time.Duration
}

func NewJournalChecker(repo domain.TransitionRepository, stuckAfter time.Duration) *JournalChecker {
	return &JournalChecker{repo: repo, stuckAfter: stuckAfter}
}

func (c *JournalChecker) Check() Check {
	return timedCheck("bill_journal", func() (Status, string) {
		stuck, err := c.repo.ListInProgress(time.Now().UTC().Add(-c.stuckAfter), 1)
		switch {
		case err != nil:
			return StatusUnhealthy, err.Error()
		case len(stuck) > 0:
			return StatusDegraded, fmt.Sprintf("bill %s has a %s transition in progress since %s",
				stuck[0].BillID, stuck[0].Kind, stuck[0].UpdatedAt.Format(time.RFC3339))
		}
		return StatusHealthy, ""
	})
}
