package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
)

func TestTimelineRepository_PostgresAppendAndList(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCircle(t, store)
	bill := sampleBill("timeline-bill", time.Now().UTC().Add(-time.Minute))
	require.NoError(t, NewBillRepository(store).Create(bill))

	timeline := NewTimelineRepository(store)

	// zero occurred is filled in by the repository
	require.NoError(t, timeline.Append(domain.TimelineEvent{
		BillID:  bill.ID,
		Type:    domain.EventBillRequested,
		ActorID: "farmer-1",
	}))
	require.NoError(t, timeline.Append(domain.TimelineEvent{
		BillID:   bill.ID,
		Type:     domain.EventBillApproved,
		Reason:   "ok",
		ActorID:  "manager-1",
		Occurred: time.Now().UTC().Add(time.Second),
	}))

	events, err := timeline.List(bill.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.EventBillRequested, events[0].Type)
	require.Equal(t, "farmer-1", events[0].ActorID)
	require.Equal(t, domain.EventBillApproved, events[1].Type)
	require.Equal(t, "manager-1", events[1].ActorID)
	require.False(t, events[0].Occurred.After(events[1].Occurred))
}

func TestTimelineRepository_PostgresMissingBill(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	timeline := NewTimelineRepository(store)

	err := timeline.Append(domain.TimelineEvent{BillID: "missing-bill", Type: domain.EventBillRequested})
	require.ErrorIs(t, err, domain.ErrBillNotFound)

	events, err := timeline.List("missing-bill")
	require.NoError(t, err)
	require.Empty(t, events)
}
