package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

func billEvent(billID, eventType string) domain.OutboxMessage {
	return domain.OutboxMessage{
		AggregateType: domain.AggregateTypeBill,
		AggregateID:   billID,
		EventType:     eventType,
		Payload:       []byte(`{"bill_id":"` + billID + `"}`),
	}
}

func TestOutboxRepository_PostgresRelayCycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	generated, err := repo.Enqueue(billEvent("bill-1", domain.EventBillRequested))
	require.NoError(t, err)
	require.NotEmpty(t, generated.ID)

	fixed := billEvent("bill-2", domain.EventBillApproved)
	fixed.ID = "outbox-fixed-id"
	stored, err := repo.Enqueue(fixed)
	require.NoError(t, err)
	require.Equal(t, fixed.ID, stored.ID)

	pending, err := repo.PullPending(0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, []byte(`{"bill_id":"bill-1"}`), pending[0].Payload)

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(generated.ID))
	require.NoError(t, repo.MarkFailed(stored.ID))

	pending, err = repo.PullPending(10)
	require.NoError(t, err)
	require.Empty(t, pending)

	stats, err = repo.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())
	require.Equal(t, 1, stats.FailedCount)
}

func TestOutboxRepository_PostgresMarkMissing(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	require.ErrorIs(t, repo.MarkSent("missing-outbox"), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed("missing-outbox"), domain.ErrOutboxPublish)

	msg, err := repo.Enqueue(billEvent("bill-1", domain.EventBillRequested))
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(msg.ID))
	require.ErrorContains(t, repo.MarkSent(msg.ID), "already sent")

	_, err = repo.Enqueue(msg)
	require.ErrorIs(t, err, domain.ErrOutboxPublish)
}

func TestOutboxRepository_PostgresPullKeepsBillOrder(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	lifecycle := []string{domain.EventBillRequested, domain.EventBillApproved, domain.EventBillConfirmed}
	for _, eventType := range lifecycle {
		_, err := repo.Enqueue(billEvent("bill-seq", eventType))
		require.NoError(t, err)
	}

	pending, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, len(lifecycle))
	for i, msg := range pending {
		require.Equal(t, lifecycle[i], msg.EventType, "position %d", i)
	}

	limited, err := repo.PullPending(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, domain.EventBillApproved, limited[1].EventType)
}

func TestOutboxRepository_PostgresDeleteDelivered(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	var delivered []string
	for _, billID := range []string{"bill-a", "bill-b", "bill-c"} {
		msg, err := repo.Enqueue(billEvent(billID, domain.EventBillConfirmed))
		require.NoError(t, err)
		require.NoError(t, repo.MarkSent(msg.ID))
		delivered = append(delivered, msg.ID)
	}
	failed, err := repo.Enqueue(billEvent("bill-d", domain.EventBillConfirmed))
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed(failed.ID))
	_, err = repo.Enqueue(billEvent("bill-e", domain.EventBillRequested))
	require.NoError(t, err)

	n, err := repo.DeleteDelivered(time.Now().UTC().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Zero(t, n, "rows inside the window stay")

	cutoff := time.Now().UTC().Add(time.Minute)
	n, err = repo.DeleteDelivered(cutoff, 2)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = repo.DeleteDelivered(cutoff, 2)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.ErrorContains(t, repo.MarkSent(delivered[2]), "not found")
	require.ErrorContains(t, repo.MarkFailed(failed.ID), "already failed", "failed rows are kept for inspection")

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
	require.Equal(t, 1, stats.FailedCount)
}
