// Package query реализует контракт списков, общий для всех вариантов "list bills":
// фильтры по белому списку полей, поиск без учёта диакритики, сортировка и пагинация.
package query

import (
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 200
)

var (
	// ErrUnknownField возвращается для поля вне белого списка схемы.
	ErrUnknownField = errors.New("unknown query field")
	// ErrInvalidPage возвращается для индекса или размера страницы меньше 1 или больше MaxPageSize.
	ErrInvalidPage = errors.New("invalid pagination")
	// ErrInvalidDirection возвращается для направления сортировки кроме asc/desc.
	ErrInvalidDirection = errors.New("invalid sort direction")
	// ErrNotSearchable возвращается, если поиск нацелен на поле без текстовой семантики.
	ErrNotSearchable = errors.New("field is not searchable")
)

// Direction задаёт порядок сортировки.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// ParseDirection принимает "asc"/"desc" в любом регистре; пустое значение означает Asc.
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "asc":
		return Asc, nil
	case "desc":
		return Desc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// Pagination выбирает страницу, начиная с 1. Нулевые значения заменяются умолчаниями.
type Pagination struct {
	Index int
	Size  int
}

// Offset возвращает число пропускаемых строк.
func (p Pagination) Offset() int {
	return (p.Index - 1) * p.Size
}

// Sort упорядочивает результаты по разрешённому полю.
type Sort struct {
	Field     string
	Direction Direction
}

// Filter оставляет строки, у которых поле равно одному из Values.
type Filter struct {
	Field  string
	Values []string
}

// Search оставляет строки, поле которых содержит Term без учёта регистра и диакритики.
type Search struct {
	Field string
	Term  string
}

// Request описывает один вызов списка.
type Request struct {
	Pagination Pagination
	Sort       Sort
	Filters    []Filter
	Search     []Search
}

// With возвращает копию запроса с добавленным фильтром.
func (r Request) With(field string, values ...string) Request {
	filters := make([]Filter, 0, len(r.Filters)+1)
	filters = append(filters, r.Filters...)
	filters = append(filters, Filter{Field: field, Values: values})
	r.Filters = filters
	return r
}

// Page хранит одну страницу результатов.
type Page[T any] struct {
	Items      []T
	PageIndex  int
	PageSize   int
	TotalCount int
	TotalPages int
}

// NewPage вычисляет счётчики страницы по общему числу подходящих строк.
func NewPage[T any](items []T, p Pagination, total int) Page[T] {
	pages := 0
	if p.Size > 0 {
		pages = (total + p.Size - 1) / p.Size
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		PageIndex:  p.Index,
		PageSize:   p.Size,
		TotalCount: total,
		TotalPages: pages,
	}
}
