package idempotency

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/storage/memory"
)

func TestGuard_ReplaysFinishedRequests(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	hash := RequestHash("/farm.v1.BillService/ApproveBill", []byte("bill-1"))

	replay, err := guard.Begin("key-1", hash)
	require.NoError(t, err)
	require.Nil(t, replay, "first call must run")

	_, err = guard.Begin("key-1", hash)
	require.ErrorIs(t, err, domain.ErrIdempotencyInProgress)

	guard.Succeed("key-1", []byte(`{"ok":true}`), 0)
	replay, err = guard.Begin("key-1", hash)
	require.NoError(t, err)
	require.NotNil(t, replay)
	require.False(t, replay.Failed)
	require.JSONEq(t, `{"ok":true}`, string(replay.Body))

	_, err = guard.Begin("key-1", RequestHash("/farm.v1.BillService/ApproveBill", []byte("bill-2")))
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuard_ReplaysFailures(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository(), 0, nil)
	hash := RequestHash("m", nil)

	_, err := guard.Begin("key-2", hash)
	require.NoError(t, err)
	guard.Fail("key-2", []byte(`{"code":5}`), 5)

	replay, err := guard.Begin("key-2", hash)
	require.NoError(t, err)
	require.True(t, replay.Failed)
	require.Equal(t, 5, replay.StatusCode)

	_, err = guard.Begin("  ", hash)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestRequestHashSeparatesMethods(t *testing.T) {
	require.NotEqual(t, RequestHash("a", []byte("b")), RequestHash("b", []byte("b")))
	require.Equal(t, RequestHash("a", []byte("b")), RequestHash("a", []byte("b")))
	require.Len(t, RequestHash("a", nil), 64)
}
