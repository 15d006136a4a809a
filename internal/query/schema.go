package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// Field описывает одно разрешённое поле T.
type Field[T any] struct {
	// Name задаёт публичное имя поля для вызывающих.
	Name string
	// Column задаёт SQL-выражение для списков из базы данных.
	Column string
	// Value выводит поле для фильтрации и поиска.
	Value func(T) string
	// Compare упорядочивает две строки по полю; при nil сравниваются выведенные значения.
	Compare func(a, b T) int
	// Searchable разрешает полнотекстовый поиск по полю.
	Searchable bool
}

// Schema задаёт белый список полей, которые принимает список.
type Schema[T any] struct {
	fields      map[string]Field[T]
	defaultSort Sort
}

// NewSchema строит схему. Сортировка по умолчанию используется, если запрос не задаёт поле.
func NewSchema[T any](defaultSort Sort, fields ...Field[T]) Schema[T] {
	s := Schema[T]{fields: make(map[string]Field[T], len(fields)), defaultSort: defaultSort}
	for _, f := range fields {
		s.fields[f.Name] = f
	}
	return s
}

// Field ищет разрешённое поле.
func (s Schema[T]) Field(name string) (Field[T], bool) {
	f, ok := s.fields[name]
	return f, ok
}

// Fields возвращает разрешённые имена в отсортированном порядке.
func (s Schema[T]) Fields() []string {
	names := make([]string, 0, len(s.fields))
	for name := range s.fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Normalize проверяет запрос по белому списку и заполняет умолчания.
func (s Schema[T]) Normalize(req Request) (Request, error) {
	switch {
	case req.Pagination.Index == 0:
		req.Pagination.Index = 1
	case req.Pagination.Index < 0:
		return Request{}, fmt.Errorf("%w: page index %d", ErrInvalidPage, req.Pagination.Index)
	}
	switch {
	case req.Pagination.Size == 0:
		req.Pagination.Size = DefaultPageSize
	case req.Pagination.Size < 0, req.Pagination.Size > MaxPageSize:
		return Request{}, fmt.Errorf("%w: page size %d", ErrInvalidPage, req.Pagination.Size)
	}

	if req.Sort.Field == "" {
		req.Sort = s.defaultSort
	}
	if _, ok := s.fields[req.Sort.Field]; !ok {
		return Request{}, fmt.Errorf("%w: sort %q", ErrUnknownField, req.Sort.Field)
	}
	dir, err := ParseDirection(string(req.Sort.Direction))
	if err != nil {
		return Request{}, err
	}
	req.Sort.Direction = dir

	for _, f := range req.Filters {
		if _, ok := s.fields[f.Field]; !ok {
			return Request{}, fmt.Errorf("%w: filter %q", ErrUnknownField, f.Field)
		}
	}
	for _, term := range req.Search {
		field, ok := s.fields[term.Field]
		if !ok {
			return Request{}, fmt.Errorf("%w: search %q", ErrUnknownField, term.Field)
		}
		if !field.Searchable {
			return Request{}, fmt.Errorf("%w: %q", ErrNotSearchable, term.Field)
		}
	}

	return req, nil
}

// Apply вычисляет запрос над срезом в памяти. pred, если не nil, применяется первым.
func Apply[T any](s Schema[T], items []T, pred func(T) bool, req Request) (Page[T], error) {
	req, err := s.Normalize(req)
	if err != nil {
		return Page[T]{}, err
	}

	matched := make([]T, 0, len(items))
	for _, item := range items {
		if pred != nil && !pred(item) {
			continue
		}
		if !s.matches(item, req) {
			continue
		}
		matched = append(matched, item)
	}

	sortField := s.fields[req.Sort.Field]
	slices.SortStableFunc(matched, func(a, b T) int {
		c := sortField.compare(a, b)
		if req.Sort.Direction == Desc {
			return -c
		}
		return c
	})

	total := len(matched)
	start := min(req.Pagination.Offset(), total)
	end := min(start+req.Pagination.Size, total)

	return NewPage(matched[start:end], req.Pagination, total), nil
}

func (s Schema[T]) matches(item T, req Request) bool {
	for _, f := range req.Filters {
		if len(f.Values) == 0 {
			continue
		}
		value := s.fields[f.Field].Value(item)
		if !slices.Contains(f.Values, value) {
			return false
		}
	}
	for _, term := range req.Search {
		needle := Fold(term.Term)
		if needle == "" {
			continue
		}
		if !strings.Contains(Fold(s.fields[term.Field].Value(item)), needle) {
			return false
		}
	}
	return true
}

func (f Field[T]) compare(a, b T) int {
	if f.Compare != nil {
		return f.Compare(a, b)
	}
	return cmp.Compare(f.Value(a), f.Value(b))
}
