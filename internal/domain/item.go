package domain

import (
	"fmt"
	"strings"
)

// ItemKind задаёт складское семейство записи или счёта. Счёт никогда не смешивает виды.
type ItemKind string

const (
	ItemKindFood     ItemKind = "food"
	ItemKindMedicine ItemKind = "medicine"
	ItemKindBreed    ItemKind = "breed"
)

// Valid сообщает, является ли вид одним из поддерживаемых.
func (k ItemKind) Valid() bool {
	switch k {
	case ItemKindFood, ItemKindMedicine, ItemKindBreed:
		return true
	default:
		return false
	}
}

// ParseItemKind принимает вид в нижнем регистре, как он передаётся по сети.
func ParseItemKind(raw string) (ItemKind, error) {
	kind := ItemKind(strings.ToLower(strings.TrimSpace(raw)))
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownItemKind, raw)
	}
	return kind, nil
}

// ItemRef ссылается ровно на одну складскую запись: Food(id), Medicine(id) или Breed(id).
// Поля не экспортируются, поэтому ref строится только конструкторами ниже.
type ItemRef struct {
	kind ItemKind
	id   string
}

// FoodRef ссылается на запись корма.
func FoodRef(id string) ItemRef { return ItemRef{kind: ItemKindFood, id: id} }

// MedicineRef ссылается на запись лекарства.
func MedicineRef(id string) ItemRef { return ItemRef{kind: ItemKindMedicine, id: id} }

// BreedRef ссылается на запись породы.
func BreedRef(id string) ItemRef { return ItemRef{kind: ItemKindBreed, id: id} }

// NewItemRef строит ref заданного вида.
func NewItemRef(kind ItemKind, id string) (ItemRef, error) {
	if !kind.Valid() {
		return ItemRef{}, fmt.Errorf("%w: %q", ErrUnknownItemKind, kind)
	}
	if strings.TrimSpace(id) == "" {
		return ItemRef{}, ErrItemIDRequired
	}
	return ItemRef{kind: kind, id: id}, nil
}

// ParseItemRef восстанавливает ref из сохранённых колонок.
func ParseItemRef(kind, id string) (ItemRef, error) {
	k, err := ParseItemKind(kind)
	if err != nil {
		return ItemRef{}, err
	}
	return NewItemRef(k, id)
}

func (r ItemRef) Kind() ItemKind { return r.kind }
func (r ItemRef) ID() string     { return r.id }

// IsZero сообщает, что ref не был задан.
func (r ItemRef) IsZero() bool { return r.kind == "" && r.id == "" }

// String выводит ref как "kind:id", так он пишется в логах и ошибках.
func (r ItemRef) String() string {
	if r.IsZero() {
		return "<none>"
	}
	return string(r.kind) + ":" + r.id
}
