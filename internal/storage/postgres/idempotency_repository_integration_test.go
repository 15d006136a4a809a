package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

func TestIdempotencyRepository_PostgresReserveAndFinish(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ttl := time.Now().UTC().Add(2 * time.Hour).Round(time.Second)

	reserved, err := repo.CreateProcessing("approve-bill-1", "sha-approve", ttl)
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusProcessing, reserved.Status)

	require.NoError(t, repo.MarkDone("approve-bill-1", []byte(`{"status":"APPROVED"}`), 0))

	got, err := repo.Get("approve-bill-1")
	require.NoError(t, err)
	require.Equal(t, "sha-approve", got.RequestHash)
	require.Equal(t, domain.IdempotencyStatusDone, got.Status)
	require.JSONEq(t, `{"status":"APPROVED"}`, string(got.ResponseBody))
	require.True(t, got.TTLAt.Equal(ttl), "ttl: want %s, got %s", ttl, got.TTLAt)

	require.NoError(t, repo.MarkFailed("approve-bill-1", []byte(`{"code":9}`), 9))
	got, err = repo.Get("approve-bill-1")
	require.NoError(t, err)
	require.Equal(t, domain.IdempotencyStatusFailed, got.Status)
	require.Equal(t, 9, got.StatusCode)

	require.ErrorIs(t, repo.MarkDone("never-reserved", nil, 0), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_PostgresLiveKeyConflicts(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	ttl := time.Now().UTC().Add(time.Hour)

	_, err := repo.CreateProcessing("request-food-1", "sha-a", ttl)
	require.NoError(t, err)

	held, err := repo.CreateProcessing("request-food-1", "sha-a", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	require.Equal(t, "sha-a", held.RequestHash)

	_, err = repo.CreateProcessing("request-food-1", "sha-b", ttl)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestIdempotencyRepository_PostgresReclaimsExpiredKey(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))

	_, err := repo.CreateProcessing("confirm-bill-2", "sha-old", time.Now().UTC().Add(-time.Second))
	require.NoError(t, err)
	require.NoError(t, repo.MarkDone("confirm-bill-2", []byte(`{}`), 0))

	_, err = repo.CreateProcessing("confirm-bill-2", "sha-new", time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)

	got, err := repo.Get("confirm-bill-2")
	require.NoError(t, err)
	require.Equal(t, "sha-new", got.RequestHash)
	require.Equal(t, domain.IdempotencyStatusProcessing, got.Status)
	require.Empty(t, got.ResponseBody)
}

func TestIdempotencyRepository_PostgresDeleteExpiredInBatches(t *testing.T) {
	repo := NewIdempotencyRepository(openPostgresStoreForIntegrationTest(t))
	now := time.Now().UTC()

	for i, age := range []time.Duration{5 * time.Minute, 4 * time.Minute, 3 * time.Minute, -time.Hour} {
		_, err := repo.CreateProcessing(
			"cancel-bill-"+string(rune('a'+i)), "sha", now.Add(-age))
		require.NoError(t, err)
	}

	removed, err := repo.DeleteExpired(now, 2)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	_, err = repo.Get("cancel-bill-a")
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)

	removed, err = repo.DeleteExpired(now, 0)
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, err = repo.Get("cancel-bill-d")
	require.NoError(t, err)
}
