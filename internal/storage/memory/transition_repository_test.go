package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	"github.com/vladislavdragonenkov/farmops/internal/storage/memory"
)

func TestTransitionRepository_BeginIsIdempotent(t *testing.T) {
	repo := memory.NewTransitionRepository()

	first, err := repo.Begin(domain.BillTransition{BillID: "bill-1", Kind: domain.TransitionApprove, FromStatus: domain.BillStatusRequested, ToStatus: domain.BillStatusApproved})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if first.State != domain.TransitionInProgress || first.ID == "" {
		t.Fatalf("unexpected journal row %+v", first)
	}

	if err := repo.MarkApplied(first.ID, "item-1"); err != nil {
		t.Fatalf("mark applied failed: %v", err)
	}
	if err := repo.MarkApplied(first.ID, "item-1"); err != nil {
		t.Fatalf("mark applied twice failed: %v", err)
	}

	resumed, err := repo.Begin(domain.BillTransition{BillID: "bill-1", Kind: domain.TransitionApprove})
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.ID != first.ID || len(resumed.Applied) != 1 || !resumed.IsApplied("item-1") {
		t.Fatalf("expected resumed row with one applied item, got %+v", resumed)
	}

	got, err := repo.Get("bill-1", domain.TransitionApprove)
	if err != nil || got.ID != first.ID {
		t.Fatalf("get returned %+v, %v", got, err)
	}
	if _, err := repo.Get("bill-1", domain.TransitionReject); !errors.Is(err, domain.ErrTransitionNotFound) {
		t.Fatalf("expected ErrTransitionNotFound, got %v", err)
	}

	other, _ := repo.Begin(domain.BillTransition{BillID: "bill-1", Kind: domain.TransitionConfirm})
	if other.ID == first.ID {
		t.Fatalf("different kinds must have separate rows")
	}
}

func TestTransitionRepository_ListInProgress(t *testing.T) {
	repo := memory.NewTransitionRepository()

	done, _ := repo.Begin(domain.BillTransition{BillID: "bill-1", Kind: domain.TransitionApprove})
	stale, _ := repo.Begin(domain.BillTransition{BillID: "bill-2", Kind: domain.TransitionApprove})
	if err := repo.Finish(done.ID, domain.TransitionCompleted); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	rows, err := repo.ListInProgress(time.Now().UTC().Add(time.Second), 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != stale.ID {
		t.Fatalf("unexpected rows %+v", rows)
	}

	rows, _ = repo.ListInProgress(time.Now().UTC().Add(-time.Hour), 10)
	if len(rows) != 0 {
		t.Fatalf("fresh rows must not be listed, got %d", len(rows))
	}

	if err := repo.Finish("missing", domain.TransitionAbandoned); err == nil {
		t.Fatalf("expected error for missing journal row")
	}
}

func TestTransitionRepository_BeginReopensAbandoned(t *testing.T) {
	repo := memory.NewTransitionRepository()

	first, _ := repo.Begin(domain.BillTransition{BillID: "bill-1", Kind: domain.TransitionApprove, ActorID: "tech-1"})
	if err := repo.MarkApplied(first.ID, "item-1"); err != nil {
		t.Fatalf("mark applied failed: %v", err)
	}
	if err := repo.Finish(first.ID, domain.TransitionAbandoned); err != nil {
		t.Fatalf("abandon failed: %v", err)
	}

	again, err := repo.Begin(domain.BillTransition{BillID: "bill-1", Kind: domain.TransitionApprove, ActorID: "tech-2"})
	if err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	if again.ID != first.ID || again.State != domain.TransitionInProgress || len(again.Applied) != 0 || again.ActorID != "tech-2" {
		t.Fatalf("expected a fresh journal on the same row, got %+v", again)
	}

	if err := repo.Finish(again.ID, domain.TransitionCompleted); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	done, _ := repo.Begin(domain.BillTransition{BillID: "bill-1", Kind: domain.TransitionApprove})
	if done.State != domain.TransitionCompleted {
		t.Fatalf("a completed journal must not be reopened, got %s", done.State)
	}
}
