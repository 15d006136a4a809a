package grpcsvc

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/query"
	"github.com/vladislavdragonenkov/farmops/internal/service/idempotency"
)

func mustFields(t *testing.T, m map[string]any) fields {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return fieldsOf(s)
}

func TestDecodeQuery(t *testing.T) {
	f := mustFields(t, map[string]any{
		"page_index":     2,
		"page_size":      10,
		"sort_by":        "created_at",
		"sort_direction": "DESC",
		"filters": map[string]any{
			"status": []any{"REQUESTED", "APPROVED"},
			"type":   "food",
		},
		"search": map[string]any{"note": "sang"},
	})

	req, err := decodeQuery(f)
	require.NoError(t, err)
	require.Equal(t, query.Pagination{Index: 2, Size: 10}, req.Pagination)
	require.Equal(t, query.Sort{Field: "created_at", Direction: query.Desc}, req.Sort)
	require.Equal(t, []query.Filter{
		{Field: "status", Values: []string{"REQUESTED", "APPROVED"}},
		{Field: "type", Values: []string{"food"}},
	}, req.Filters)
	require.Equal(t, []query.Search{{Field: "note", Term: "sang"}}, req.Search)
}

func TestDecodeRejectsMalformedFields(t *testing.T) {
	cases := map[string]map[string]any{
		"fractional quantity": {"items": []any{map[string]any{"item_id": "f", "quantity": 1.5}}},
		"item not an object":  {"items": []any{"f"}},
		"bad date":            {"delivery_date": "20/10/2026"},
		"numeric circle":      {"circle_id": 7},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decodeRequestBill(mustFields(t, payload))
			require.ErrorIs(t, err, domain.ErrInvalidArgument)
		})
	}

	_, err := decodeQuery(mustFields(t, map[string]any{"filters": map[string]any{"status": []any{1.0}}}))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestIntegerStaysInsideInt64(t *testing.T) {
	f := fields{
		"max":      math.Exp2(63),
		"min":      -math.Exp2(63),
		"inf":      math.Inf(1),
		"nan":      math.NaN(),
		"largeInt": math.Exp2(62),
	}

	for _, key := range []string{"max", "inf", "nan"} {
		_, err := f.integer(key)
		require.ErrorIs(t, err, domain.ErrInvalidArgument, key)
	}

	n, err := f.integer("min")
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), n)

	n, err = f.integer("largeInt")
	require.NoError(t, err)
	require.Equal(t, int64(1)<<62, n)
}

func TestDecodeUpdateKeepsNoteUnlessSent(t *testing.T) {
	req, err := decodeUpdateBill(mustFields(t, map[string]any{"items": []any{}}))
	require.NoError(t, err)
	require.Nil(t, req.Note)

	req, err = decodeUpdateBill(mustFields(t, map[string]any{"note": "", "delivery_date": "2026-10-20T08:00:00+07:00"}))
	require.NoError(t, err)
	require.NotNil(t, req.Note)
	require.Empty(t, *req.Note)
	require.Equal(t, time.Date(2026, 10, 20, 1, 0, 0, 0, time.UTC), req.DeliveryDate)
}

func TestCodeForKind(t *testing.T) {
	require.Equal(t, codes.Unauthenticated, CodeForKind(domain.ErrorKindNotAuthenticated))
	require.Equal(t, codes.NotFound, CodeForKind(domain.ErrorKindNotFound))
	require.Equal(t, codes.FailedPrecondition, CodeForKind(domain.ErrorKindStateConflict))
	require.Equal(t, codes.InvalidArgument, CodeForKind(domain.ErrorKindValidation))
	require.Equal(t, codes.Internal, CodeForKind(domain.ErrorKindInfrastructure))
}

func TestFailureReplayKeepsEnvelope(t *testing.T) {
	err := respondErr(domain.MsgBillNotFound, domain.ErrBillNotFound)
	body, code := encodeFailure(err)
	require.Equal(t, codes.NotFound, code)

	_, replayed := decodeReplay(&idempotency.Replay{Body: body, StatusCode: int(code), Failed: true})
	require.Equal(t, codes.NotFound, status.Code(replayed))
	require.Equal(t, domain.MsgBillNotFound, status.Convert(replayed).Message())

	env, ok := Envelope(replayed)
	require.True(t, ok)
	require.Equal(t, domain.ErrBillNotFound.Error(), env.GetFields()["errors"].GetListValue().GetValues()[0].GetStringValue())

	_, broken := decodeReplay(&idempotency.Replay{Body: []byte("{"), Failed: true})
	require.Equal(t, codes.Internal, status.Code(broken))
}
