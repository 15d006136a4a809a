// Package stock администрирует справочники, между которыми двигаются счета: центральный
// склад, хлева, циклы поголовья и учёт по циклам.
package stock

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
)

// NewItem описывает создаваемую запись склада. Пустой ID получает сгенерированный.
type NewItem struct {
	Kind       domain.ItemKind
	ID         string
	Name       string
	Unit       string
	Stock      int64
	UnitPrice  decimal.Decimal
	UnitWeight decimal.Decimal
}

// NewCircle описывает цикл поголовья, открываемый в хлеве.
type NewCircle struct {
	BarnID    string
	Name      string
	Status    domain.CircleStatus
	TotalUnit int64
	StartDate time.Time
}

// Service задаёт API администрирования склада.
type Service struct {
	inventory   domain.InventoryRepository
	circles     domain.CircleRepository
	circleStock domain.CircleStockRepository
	logger      *log.Entry
}

// NewService собирает сервис администрирования. logger может быть nil.
func NewService(inventory domain.InventoryRepository, circles domain.CircleRepository, circleStock domain.CircleStockRepository, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "stock")
	}
	return &Service{
		inventory:   inventory,
		circles:     circles,
		circleStock: circleStock,
		logger:      logger,
	}
}

// CreateInventoryItem проверяет и сохраняет новую запись центрального склада.
func (s *Service) CreateInventoryItem(in NewItem) (domain.InventoryItem, error) {
	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}
	ref, err := domain.NewItemRef(in.Kind, id)
	if err != nil {
		return domain.InventoryItem{}, err
	}

	now := time.Now().UTC()
	item := domain.InventoryItem{
		Ref:        ref,
		Name:       strings.TrimSpace(in.Name),
		Unit:       strings.TrimSpace(in.Unit),
		Stock:      in.Stock,
		UnitPrice:  in.UnitPrice,
		UnitWeight: in.UnitWeight,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if errs := item.Validate(); len(errs) > 0 {
		return domain.InventoryItem{}, errors.Join(errs...)
	}
	if err := s.inventory.Create(item); err != nil {
		return domain.InventoryItem{}, fmt.Errorf("create inventory item %s: %w", ref, err)
	}

	s.logger.WithFields(log.Fields{"item_ref": ref.String(), "stock": item.Stock}).Info("inventory item created")
	return item, nil
}

func (s *Service) GetInventoryItem(ref domain.ItemRef) (domain.InventoryItem, error) {
	if ref.IsZero() {
		return domain.InventoryItem{}, domain.ErrItemIDRequired
	}
	return s.inventory.Get(ref)
}

// ListInventory перечисляет записи одного вида. Неактивные записи скрыты, если
// запрос не фильтрует по is_active.
func (s *Service) ListInventory(kind domain.ItemKind, req query.Request) (query.Page[domain.InventoryItem], error) {
	if !kind.Valid() {
		return query.Page[domain.InventoryItem]{}, fmt.Errorf("%w: %q", domain.ErrUnknownItemKind, kind)
	}
	for _, f := range req.Filters {
		if f.Field == "is_active" {
			return s.inventory.List(kind, req)
		}
	}
	return s.inventory.List(kind, req.With("is_active", "true"))
}

func (s *Service) CreateBarn(name, address string) (domain.Barn, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Barn{}, fmt.Errorf("%w: barn name is required", domain.ErrInvalidArgument)
	}
	barn := domain.Barn{
		ID:        uuid.NewString(),
		Name:      name,
		Address:   strings.TrimSpace(address),
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.circles.CreateBarn(barn); err != nil {
		return domain.Barn{}, fmt.Errorf("create barn: %w", err)
	}
	return barn, nil
}

// CreateCircle открывает цикл в существующем активном хлеве. Поголовье стартует здоровым.
func (s *Service) CreateCircle(in NewCircle) (domain.LivestockCircle, error) {
	barn, err := s.circles.GetBarn(in.BarnID)
	if err != nil {
		return domain.LivestockCircle{}, err
	}
	if !barn.IsActive {
		return domain.LivestockCircle{}, domain.ErrBarnNotFound
	}

	status := in.Status
	if status == "" {
		status = domain.CircleStatusPlanned
	}
	if !status.Valid() {
		return domain.LivestockCircle{}, fmt.Errorf("%w: circle status %q", domain.ErrInvalidArgument, status)
	}
	if in.TotalUnit < 0 {
		return domain.LivestockCircle{}, domain.ErrStockNegative
	}

	now := time.Now().UTC()
	circle := domain.LivestockCircle{
		ID:        uuid.NewString(),
		BarnID:    barn.ID,
		Name:      strings.TrimSpace(in.Name),
		Status:    status,
		TotalUnit: in.TotalUnit,
		GoodUnit:  in.TotalUnit,
		StartDate: in.StartDate,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.circles.Create(circle); err != nil {
		return domain.LivestockCircle{}, fmt.Errorf("create circle: %w", err)
	}

	s.logger.WithFields(log.Fields{"circle_id": circle.ID, "barn_id": barn.ID}).Info("livestock circle created")
	return circle, nil
}

func (s *Service) GetCircle(id string) (domain.LivestockCircle, error) {
	if id == "" {
		return domain.LivestockCircle{}, domain.ErrCircleIDRequired
	}
	return s.circles.Get(id)
}

// SetCircleStatus проводит цикл через стадии роста. Завершённые и
// отменённые циклы больше не принимают подтверждённые счета.
func (s *Service) SetCircleStatus(id string, status domain.CircleStatus) (domain.LivestockCircle, error) {
	if !status.Valid() {
		return domain.LivestockCircle{}, fmt.Errorf("%w: circle status %q", domain.ErrInvalidArgument, status)
	}
	circle, err := s.circles.SetStatus(id, status)
	if err != nil {
		return domain.LivestockCircle{}, err
	}
	s.logger.WithFields(log.Fields{"circle_id": id, "status": status}).Info("circle status changed")
	return circle, nil
}

// ListCircleStock возвращает строки учёта цикла.
func (s *Service) ListCircleStock(circleID string) ([]domain.CircleStock, error) {
	if _, err := s.GetCircle(circleID); err != nil {
		return nil, err
	}
	return s.circleStock.ListByCircle(circleID)
}
