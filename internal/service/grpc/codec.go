package grpcsvc

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
	"github.com/vladislavdragonenkov/farmops/internal/service/billing"
	"github.com/vladislavdragonenkov/farmops/internal/service/stock"
)

// fields читает типизированные значения из Struct запроса. Отсутствующие ключи и null
// декодируются как нулевые значения.
type fields map[string]any

func fieldsOf(req *structpb.Struct) fields {
	if req == nil {
		return fields{}
	}
	return fields(req.AsMap())
}

func invalidField(key, want string) error {
	return fmt.Errorf("%w: %s must be %s", domain.ErrInvalidArgument, key, want)
}

func (f fields) has(key string) bool {
	v, ok := f[key]
	return ok && v != nil
}

func (f fields) str(key string) (string, error) {
	if !f.has(key) {
		return "", nil
	}
	s, ok := f[key].(string)
	if !ok {
		return "", invalidField(key, "a string")
	}
	return strings.TrimSpace(s), nil
}

func (f fields) integer(key string) (int64, error) {
	if !f.has(key) {
		return 0, nil
	}
	n, ok := f[key].(float64)
	// float64(math.MaxInt64) равно 2^63, а это в int64 не помещается.
	if !ok || n != math.Trunc(n) || n >= 1<<63 || n < -1<<63 {
		return 0, invalidField(key, "an integer")
	}
	return int64(n), nil
}

func (f fields) decimal(key string) (decimal.Decimal, error) {
	if !f.has(key) {
		return decimal.Zero, nil
	}
	switch v := f[key].(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, invalidField(key, "a decimal")
		}
		return d, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, invalidField(key, "a decimal")
	}
}

// date принимает YYYY-MM-DD или RFC3339.
func (f fields) date(key string) (time.Time, error) {
	raw, err := f.str(key)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, invalidField(key, "a date")
	}
	return t.UTC(), nil
}

func (f fields) list(key string) ([]any, error) {
	if !f.has(key) {
		return nil, nil
	}
	l, ok := f[key].([]any)
	if !ok {
		return nil, invalidField(key, "a list")
	}
	return l, nil
}

func (f fields) object(key string) (fields, error) {
	if !f.has(key) {
		return fields{}, nil
	}
	m, ok := f[key].(map[string]any)
	if !ok {
		return nil, invalidField(key, "an object")
	}
	return fields(m), nil
}

func (f fields) billID() (string, error) {
	return f.str("bill_id")
}

func (f fields) itemRef() (domain.ItemRef, error) {
	kind, err := f.str("type")
	if err != nil {
		return domain.ItemRef{}, err
	}
	id, err := f.str("item_id")
	if err != nil {
		return domain.ItemRef{}, err
	}
	return domain.ParseItemRef(kind, id)
}

func decodeLines(f fields) ([]billing.LineInput, error) {
	raw, err := f.list("items")
	if err != nil {
		return nil, err
	}
	lines := make([]billing.LineInput, 0, len(raw))
	for i, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			return nil, invalidField(fmt.Sprintf("items[%d]", i), "an object")
		}
		line := fields(m)
		itemID, err := line.str("item_id")
		if err != nil {
			return nil, err
		}
		qty, err := line.integer("quantity")
		if err != nil {
			return nil, err
		}
		lines = append(lines, billing.LineInput{ItemID: itemID, Quantity: qty})
	}
	return lines, nil
}

func decodeRequestBill(f fields) (billing.RequestBill, error) {
	var (
		req billing.RequestBill
		err error
	)
	if req.CircleID, err = f.str("circle_id"); err != nil {
		return req, err
	}
	if req.DeliveryDate, err = f.date("delivery_date"); err != nil {
		return req, err
	}
	if req.Note, err = f.str("note"); err != nil {
		return req, err
	}
	req.Items, err = decodeLines(f)
	return req, err
}

func decodeUpdateBill(f fields) (billing.UpdateBill, error) {
	var (
		req billing.UpdateBill
		err error
	)
	if req.CircleID, err = f.str("circle_id"); err != nil {
		return req, err
	}
	if req.DeliveryDate, err = f.date("delivery_date"); err != nil {
		return req, err
	}
	if f.has("note") {
		note, err := f.str("note")
		if err != nil {
			return req, err
		}
		req.Note = &note
	}
	req.Items, err = decodeLines(f)
	return req, err
}

// decodeQuery читает page_index, page_size, sort_by, sort_direction и объекты
// filters / search. Значение фильтра задаётся строкой или списком строк.
func decodeQuery(f fields) (query.Request, error) {
	var req query.Request

	index, err := f.integer("page_index")
	if err != nil {
		return req, err
	}
	size, err := f.integer("page_size")
	if err != nil {
		return req, err
	}
	req.Pagination = query.Pagination{Index: int(index), Size: int(size)}

	if req.Sort.Field, err = f.str("sort_by"); err != nil {
		return req, err
	}
	direction, err := f.str("sort_direction")
	if err != nil {
		return req, err
	}
	if req.Sort.Direction, err = query.ParseDirection(direction); err != nil {
		return req, err
	}

	filters, err := f.object("filters")
	if err != nil {
		return req, err
	}
	for _, field := range sortedKeys(filters) {
		values, err := stringValues(filters[field])
		if err != nil {
			return req, invalidField("filters."+field, "a string or a list of strings")
		}
		req.Filters = append(req.Filters, query.Filter{Field: field, Values: values})
	}

	search, err := f.object("search")
	if err != nil {
		return req, err
	}
	for _, field := range sortedKeys(search) {
		term, err := search.str(field)
		if err != nil {
			return req, err
		}
		req.Search = append(req.Search, query.Search{Field: field, Term: term})
	}

	return req, nil
}

func sortedKeys(f fields) []string {
	return slices.Sorted(maps.Keys(f))
}

func stringValues(v any) ([]string, error) {
	switch value := v.(type) {
	case string:
		return []string{value}, nil
	case bool:
		return []string{fmt.Sprint(value)}, nil
	case []any:
		out := make([]string, 0, len(value))
		for _, entry := range value {
			s, ok := entry.(string)
			if !ok {
				return nil, domain.ErrInvalidArgument
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, domain.ErrInvalidArgument
	}
}

func decodeNewItem(f fields) (stock.NewItem, error) {
	var (
		in  stock.NewItem
		err error
	)
	kind, err := f.str("type")
	if err != nil {
		return in, err
	}
	if in.Kind, err = domain.ParseItemKind(kind); err != nil {
		return in, err
	}
	if in.ID, err = f.str("item_id"); err != nil {
		return in, err
	}
	if in.Name, err = f.str("name"); err != nil {
		return in, err
	}
	if in.Unit, err = f.str("unit"); err != nil {
		return in, err
	}
	if in.Stock, err = f.integer("stock"); err != nil {
		return in, err
	}
	if in.UnitPrice, err = f.decimal("unit_price"); err != nil {
		return in, err
	}
	in.UnitWeight, err = f.decimal("unit_weight")
	return in, err
}

func decodeNewCircle(f fields) (stock.NewCircle, error) {
	var (
		in  stock.NewCircle
		err error
	)
	if in.BarnID, err = f.str("barn_id"); err != nil {
		return in, err
	}
	if in.Name, err = f.str("name"); err != nil {
		return in, err
	}
	status, err := f.str("status")
	if err != nil {
		return in, err
	}
	in.Status = domain.CircleStatus(strings.ToLower(status))
	if in.TotalUnit, err = f.integer("total_unit"); err != nil {
		return in, err
	}
	in.StartDate, err = f.date("start_date")
	return in, err
}

// Ответы собираются обычными map и конвертируются через structpb.NewStruct, поэтому
// списки должны быть []any, а время форматируется заранее.

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.DateOnly)
}

func billToMap(b domain.Bill) map[string]any {
	items := make([]any, 0, len(b.Items))
	for _, item := range b.Items {
		items = append(items, map[string]any{
			"id":         item.ID,
			"type":       string(item.Ref.Kind()),
			"item_id":    item.Ref.ID(),
			"quantity":   item.Stock,
			"is_active":  item.IsActive,
			"created_at": formatTime(item.CreatedAt),
		})
	}
	return map[string]any{
		"id":                  b.ID,
		"type":                string(b.Type),
		"status":              string(b.Status),
		"livestock_circle_id": b.LivestockCircleID,
		"user_request_id":     b.UserRequestID,
		"total":               b.Total.String(),
		"weight":              b.Weight.String(),
		"note":                b.Note,
		"delivery_date":       formatDate(b.DeliveryDate),
		"is_active":           b.IsActive,
		"version":             b.Version,
		"items":               items,
		"created_at":          formatTime(b.CreatedAt),
		"updated_at":          formatTime(b.UpdatedAt),
	}
}

func pageToMap[T any](page query.Page[T], encode func(T) map[string]any) map[string]any {
	items := make([]any, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, encode(item))
	}
	return map[string]any{
		"items":       items,
		"page_index":  page.PageIndex,
		"page_size":   page.PageSize,
		"total_count": page.TotalCount,
		"total_pages": page.TotalPages,
	}
}

func timelineToMap(events []domain.TimelineEvent) map[string]any {
	out := make([]any, 0, len(events))
	for _, e := range events {
		out = append(out, map[string]any{
			"bill_id":  e.BillID,
			"type":     e.Type,
			"reason":   e.Reason,
			"actor_id": e.ActorID,
			"occurred": formatTime(e.Occurred),
		})
	}
	return map[string]any{"events": out}
}

func inventoryItemToMap(item domain.InventoryItem) map[string]any {
	return map[string]any{
		"type":        string(item.Ref.Kind()),
		"item_id":     item.Ref.ID(),
		"name":        item.Name,
		"unit":        item.Unit,
		"stock":       item.Stock,
		"unit_price":  item.UnitPrice.String(),
		"unit_weight": item.UnitWeight.String(),
		"is_active":   item.IsActive,
		"created_at":  formatTime(item.CreatedAt),
		"updated_at":  formatTime(item.UpdatedAt),
	}
}

func barnToMap(barn domain.Barn) map[string]any {
	return map[string]any{
		"id":         barn.ID,
		"name":       barn.Name,
		"address":    barn.Address,
		"is_active":  barn.IsActive,
		"created_at": formatTime(barn.CreatedAt),
	}
}

func circleToMap(c domain.LivestockCircle) map[string]any {
	return map[string]any{
		"id":         c.ID,
		"barn_id":    c.BarnID,
		"name":       c.Name,
		"status":     string(c.Status),
		"total_unit": c.TotalUnit,
		"good_unit":  c.GoodUnit,
		"dead_unit":  c.DeadUnit,
		"start_date": formatDate(c.StartDate),
		"is_active":  c.IsActive,
		"created_at": formatTime(c.CreatedAt),
		"updated_at": formatTime(c.UpdatedAt),
	}
}

func circleStockToMap(rows []domain.CircleStock) map[string]any {
	out := make([]any, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]any{
			"id":         row.ID,
			"circle_id":  row.CircleID,
			"type":       string(row.Ref.Kind()),
			"item_id":    row.Ref.ID(),
			"remaining":  row.Remaining,
			"updated_at": formatTime(row.UpdatedAt),
		})
	}
	return map[string]any{"items": out}
}
