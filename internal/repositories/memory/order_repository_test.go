package memory

import (
	"context"
	"testing"
	"time"

	domain "github.com/hanko-field/orderledger/internal/domain"
	"github.com/hanko-field/orderledger/internal/repositories"
)

func testOrder(id, number string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:          id,
		OrderNumber: number,
		StoreID:     "store_1",
		Status:      domain.OrderStatusPending,
		Items:       []domain.LineItem{{ID: "li_1", ProductID: "p", Quantity: 1}},
		CreatedAt:   createdAt,
	}
}

func assertKind(t *testing.T, err error, want func(repositories.RepositoryError) bool) {
	t.Helper()
	repoErr, ok := err.(repositories.RepositoryError)
	if !ok {
		t.Fatalf("expected RepositoryError, got %T (%v)", err, err)
	}
	if !want(repoErr) {
		t.Fatalf("unexpected error category: %v", err)
	}
}

func TestOrderRepositoryInsertEnforcesUniqueOrderNumber(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	now := time.Now()

	if err := repo.Insert(ctx, testOrder("ord_1", "ORD-A", now)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := repo.Insert(ctx, testOrder("ord_2", "ORD-A", now))
	assertKind(t, err, repositories.RepositoryError.IsConflict)

	exists, err := repo.OrderNumberExists(ctx, "ORD-A")
	if err != nil || !exists {
		t.Fatalf("expected ORD-A to exist, got %v %v", exists, err)
	}
	found, err := repo.FindByOrderNumber(ctx, "ORD-A")
	if err != nil || found.ID != "ord_1" {
		t.Fatalf("FindByOrderNumber: %+v %v", found, err)
	}
}

func TestOrderRepositoryUpdateChecksVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	if err := repo.Insert(ctx, testOrder("ord_1", "ORD-A", time.Now())); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	loaded, err := repo.FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if loaded.Version != 1 {
		t.Fatalf("expected version 1, got %d", loaded.Version)
	}

	stale := loaded
	loaded.Note = "first"
	if err := repo.Update(ctx, loaded); err != nil {
		t.Fatalf("Update: %v", err)
	}
	stale.Note = "second"
	assertKind(t, repo.Update(ctx, stale), repositories.RepositoryError.IsConflict)

	current, _ := repo.FindByID(ctx, "ord_1")
	if current.Note != "first" || current.Version != 2 {
		t.Fatalf("unexpected stored order %+v", current)
	}
}

func TestOrderRepositoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	if err := repo.Insert(ctx, testOrder("ord_1", "ORD-A", time.Now())); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	loaded, _ := repo.FindByID(ctx, "ord_1")
	loaded.Items[0].Quantity = 99

	again, _ := repo.FindByID(ctx, "ord_1")
	if again.Items[0].Quantity != 1 {
		t.Fatalf("repository must not leak internal state")
	}
}

func TestOrderRepositoryFindMissing(t *testing.T) {
	_, err := NewOrderRepository().FindByID(context.Background(), "nope")
	assertKind(t, err, repositories.RepositoryError.IsNotFound)
}

func TestOrderRepositoryListPaginates(t *testing.T) {
	ctx := context.Background()
	repo := NewOrderRepository()
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"ord_a", "ord_b", "ord_c"} {
		order := testOrder(id, "ORD-"+id, base.Add(time.Duration(i)*time.Minute))
		if id == "ord_b" {
			order.Status = domain.OrderStatusCancelled
		}
		if err := repo.Insert(ctx, order); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	first, err := repo.List(ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(first.Items) != 2 || first.Items[0].ID != "ord_c" || first.Items[1].ID != "ord_b" {
		t.Fatalf("unexpected first page %+v", first.Items)
	}
	if first.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}

	second, err := repo.List(ctx, repositories.OrderListFilter{Pagination: domain.Pagination{PageSize: 2, PageToken: first.NextPageToken}})
	if err != nil {
		t.Fatalf("List second: %v", err)
	}
	if len(second.Items) != 1 || second.Items[0].ID != "ord_a" || second.NextPageToken != "" {
		t.Fatalf("unexpected second page %+v", second)
	}

	cancelled, err := repo.List(ctx, repositories.OrderListFilter{Status: []domain.OrderStatus{domain.OrderStatusCancelled}})
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if len(cancelled.Items) != 1 || cancelled.Items[0].ID != "ord_b" {
		t.Fatalf("unexpected filtered page %+v", cancelled.Items)
	}
}

func TestRegistryServesSharedRepository(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if reg.Orders() != reg.Orders() {
		t.Fatalf("expected a single order repository")
	}
	report, err := reg.Health().Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok with no checks, got %s", report.Status)
	}
	if err := reg.RunInTx(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
}
