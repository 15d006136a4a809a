package query

import (
	"fmt"
	"strings"
)

// likeEscaper заставляет шаблонные символы LIKE в поисковом термине совпадать буквально, как в памяти.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Clause хранит SQL-представление нормализованного запроса.
type Clause struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
	Offset  int
}

// SQL выводит запрос как пару WHERE/ORDER BY для списков из базы данных.
// base-условия добавляются в начало как есть; плейсхолдеры продолжаются после len(args).
// Поисковые термины нормализуются здесь и сравниваются с unaccent(lower(column)).
func (s Schema[T]) SQL(req Request, base []string, args []any) (Clause, Request, error) {
	req, err := s.Normalize(req)
	if err != nil {
		return Clause{}, Request{}, err
	}

	conds := append([]string(nil), base...)
	out := append([]any(nil), args...)
	next := func(v any) string {
		out = append(out, v)
		return fmt.Sprintf("$%d", len(out))
	}

	for _, f := range req.Filters {
		if len(f.Values) == 0 {
			continue
		}
		column := s.fields[f.Field].Column
		if len(f.Values) == 1 {
			conds = append(conds, fmt.Sprintf("%s::text = %s", column, next(f.Values[0])))
			continue
		}
		placeholders := make([]string, 0, len(f.Values))
		for _, v := range f.Values {
			placeholders = append(placeholders, next(v))
		}
		conds = append(conds, fmt.Sprintf("%s::text IN (%s)", column, strings.Join(placeholders, ",")))
	}
	for _, term := range req.Search {
		needle := Fold(term.Term)
		if needle == "" {
			continue
		}
		column := s.fields[term.Field].Column
		conds = append(conds, fmt.Sprintf(`unaccent(lower(%s)) LIKE '%%' || %s || '%%' ESCAPE '\'`, column, next(likeEscaper.Replace(needle))))
	}

	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	dir := "ASC"
	if req.Sort.Direction == Desc {
		dir = "DESC"
	}

	return Clause{
		Where:   where,
		Args:    out,
		OrderBy: fmt.Sprintf("ORDER BY %s %s, id %s", s.fields[req.Sort.Field].Column, dir, dir),
		Limit:   req.Pagination.Size,
		Offset:  req.Pagination.Offset(),
	}, req, nil
}
