package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

func food(id string, stock int64, active bool) domain.InventoryItem {
	return domain.InventoryItem{Ref: domain.FoodRef(id), Name: id, Stock: stock, IsActive: active}
}

func TestCheckLine(t *testing.T) {
	cases := []struct {
		name string
		line Line
		want error
	}{
		{
			name: "ok",
			line: Line{Ref: domain.FoodRef("f1"), Quantity: 10, Item: food("f1", 10, true), Found: true},
		},
		{
			name: "zero quantity",
			line: Line{Ref: domain.FoodRef("f1"), Quantity: 0, Item: food("f1", 10, true), Found: true},
			want: domain.ErrQuantityInvalid,
		},
		{
			name: "missing item",
			line: Line{Ref: domain.FoodRef("f1"), Quantity: 1},
			want: domain.ErrItemNotFound,
		},
		{
			name: "inactive item",
			line: Line{Ref: domain.FoodRef("f1"), Quantity: 1, Item: food("f1", 10, false), Found: true},
			want: domain.ErrItemInactive,
		},
		{
			name: "insufficient stock",
			line: Line{Ref: domain.FoodRef("f1"), Quantity: 11, Item: food("f1", 10, true), Found: true},
			want: domain.ErrInsufficientStock,
		},
		{
			name: "wrong kind",
			line: Line{Ref: domain.MedicineRef("m1"), Quantity: 1, Found: true},
			want: domain.ErrMixedItemKinds,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckLine(domain.ItemKindFood, tc.line)
			if tc.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tc.want)

			var lineErr *domain.LineError
			require.True(t, errors.As(err, &lineErr))
			require.Equal(t, tc.line.Ref, lineErr.Ref)
		})
	}
}

func TestCheckLines_ReportsFirstFailingLine(t *testing.T) {
	lines := []Line{
		{Ref: domain.FoodRef("f1"), Quantity: 1, Item: food("f1", 5, true), Found: true},
		{Ref: domain.FoodRef("f2"), Quantity: 9, Item: food("f2", 5, true), Found: true},
		{Ref: domain.FoodRef("f3"), Quantity: 0, Item: food("f3", 5, true), Found: true},
	}

	err := CheckLines(domain.ItemKindFood, lines)
	var lineErr *domain.LineError
	require.True(t, errors.As(err, &lineErr))
	require.Equal(t, domain.FoodRef("f2"), lineErr.Ref)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
}

func TestCheckLines_RepeatedItemUsesRunningTotal(t *testing.T) {
	lines := []Line{
		{Ref: domain.FoodRef("f1"), Quantity: 6, Item: food("f1", 10, true), Found: true},
		{Ref: domain.FoodRef("f2"), Quantity: 6, Item: food("f2", 10, true), Found: true},
		{Ref: domain.FoodRef("f1"), Quantity: 4, Item: food("f1", 10, true), Found: true},
	}
	require.NoError(t, CheckLines(domain.ItemKindFood, lines))

	lines = append(lines, Line{Ref: domain.FoodRef("f1"), Quantity: 1, Item: food("f1", 10, true), Found: true})
	err := CheckLines(domain.ItemKindFood, lines)
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var lineErr *domain.LineError
	require.True(t, errors.As(err, &lineErr))
	require.Equal(t, domain.FoodRef("f1"), lineErr.Ref)
}

func TestCheckLines_Empty(t *testing.T) {
	err := CheckLines(domain.ItemKindFood, nil)
	require.ErrorIs(t, err, domain.ErrItemsRequired)
	require.Equal(t, "Phải cung cấp ít nhất một mặt hàng thức ăn", Message(domain.ItemKindFood, err))
}

func TestMessage(t *testing.T) {
	err := &domain.LineError{Ref: domain.FoodRef("f9"), Err: domain.ErrInsufficientStock}
	require.Equal(t, "Không đủ tồn kho: Thức ăn f9", Message(domain.ItemKindFood, err))

	require.Equal(t, domain.MsgMixedItemKinds,
		Message(domain.ItemKindFood, &domain.LineError{Ref: domain.BreedRef("b1"), Err: domain.ErrMixedItemKinds}))
	require.Equal(t, domain.MsgBillTypeMismatch, Message(domain.ItemKindFood, domain.ErrBillTypeMismatch))
	require.Empty(t, Message(domain.ItemKindFood, nil))
}

func TestSameKind(t *testing.T) {
	require.NoError(t, SameKind(domain.ItemKindBreed, domain.BreedRef("a"), domain.BreedRef("b")))
	require.ErrorIs(t, SameKind(domain.ItemKindBreed, domain.BreedRef("a"), domain.FoodRef("b")), domain.ErrMixedItemKinds)
}
