package domain

import (
	"cmp"
	"strconv"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/query"
)

// Разрешённые поля списка счетов.
const (
	BillFieldID           = "id"
	BillFieldType         = "type"
	BillFieldStatus       = "status"
	BillFieldCircleID     = "livestock_circle_id"
	BillFieldRequesterID  = "user_request_id"
	BillFieldNote         = "note"
	BillFieldTotal        = "total"
	BillFieldWeight       = "weight"
	BillFieldDeliveryDate = "delivery_date"
	BillFieldIsActive     = "is_active"
	BillFieldCreatedAt    = "created_at"
	BillFieldUpdatedAt    = "updated_at"
)

// BillSchema задаёт белый список полей для списков счетов.
var BillSchema = query.NewSchema(
	query.Sort{Field: BillFieldCreatedAt, Direction: query.Desc},
	query.Field[Bill]{Name: BillFieldID, Column: "id", Value: func(b Bill) string { return b.ID }},
	query.Field[Bill]{Name: BillFieldType, Column: "type", Value: func(b Bill) string { return string(b.Type) }},
	query.Field[Bill]{Name: BillFieldStatus, Column: "status", Value: func(b Bill) string { return string(b.Status) }},
	query.Field[Bill]{Name: BillFieldCircleID, Column: "livestock_circle_id", Value: func(b Bill) string { return b.LivestockCircleID }},
	query.Field[Bill]{Name: BillFieldRequesterID, Column: "user_request_id", Value: func(b Bill) string { return b.UserRequestID }},
	query.Field[Bill]{Name: BillFieldNote, Column: "note", Value: func(b Bill) string { return b.Note }, Searchable: true},
	query.Field[Bill]{
		Name:    BillFieldTotal,
		Column:  "total",
		Value:   func(b Bill) string { return b.Total.String() },
		Compare: func(a, b Bill) int { return a.Total.Cmp(b.Total) },
	},
	query.Field[Bill]{
		Name:    BillFieldWeight,
		Column:  "weight",
		Value:   func(b Bill) string { return b.Weight.String() },
		Compare: func(a, b Bill) int { return a.Weight.Cmp(b.Weight) },
	},
	query.Field[Bill]{
		Name:    BillFieldDeliveryDate,
		Column:  "delivery_date",
		Value:   func(b Bill) string { return b.DeliveryDate.UTC().Format(time.DateOnly) },
		Compare: func(a, b Bill) int { return a.DeliveryDate.Compare(b.DeliveryDate) },
	},
	query.Field[Bill]{Name: BillFieldIsActive, Column: "is_active", Value: func(b Bill) string { return strconv.FormatBool(b.IsActive) }},
	query.Field[Bill]{
		Name:    BillFieldCreatedAt,
		Column:  "created_at",
		Value:   func(b Bill) string { return b.CreatedAt.UTC().Format(time.RFC3339Nano) },
		Compare: func(a, b Bill) int { return a.CreatedAt.Compare(b.CreatedAt) },
	},
	query.Field[Bill]{
		Name:    BillFieldUpdatedAt,
		Column:  "updated_at",
		Value:   func(b Bill) string { return b.UpdatedAt.UTC().Format(time.RFC3339Nano) },
		Compare: func(a, b Bill) int { return a.UpdatedAt.Compare(b.UpdatedAt) },
	},
)

// InventorySchema задаёт белый список полей для списков склада.
var InventorySchema = query.NewSchema(
	query.Sort{Field: "name", Direction: query.Asc},
	query.Field[InventoryItem]{Name: "id", Column: "id", Value: func(i InventoryItem) string { return i.Ref.ID() }},
	query.Field[InventoryItem]{Name: "name", Column: "name", Value: func(i InventoryItem) string { return i.Name }, Searchable: true},
	query.Field[InventoryItem]{Name: "unit", Column: "unit", Value: func(i InventoryItem) string { return i.Unit }},
	query.Field[InventoryItem]{
		Name:    "stock",
		Column:  "stock",
		Value:   func(i InventoryItem) string { return strconv.FormatInt(i.Stock, 10) },
		Compare: func(a, b InventoryItem) int { return cmp.Compare(a.Stock, b.Stock) },
	},
	query.Field[InventoryItem]{Name: "is_active", Column: "is_active", Value: func(i InventoryItem) string { return strconv.FormatBool(i.IsActive) }},
)
