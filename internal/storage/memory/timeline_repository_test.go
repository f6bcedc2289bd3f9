package memory

import (
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestTimelineRepository_AppendAndList(t *testing.T) {
	repo := NewTimelineRepository()
	base := time.Date(2024, 5, 12, 10, 0, 0, 0, time.UTC)

	// Добавляем в произвольном порядке, ждём хронологию на чтении.
	events := []domain.TimelineEvent{
		{OrderID: "order-1", Type: "order.paid", Occurred: base.Add(2 * time.Minute)},
		{OrderID: "order-1", Type: "order.created", Occurred: base},
		{OrderID: "order-1", Type: "order.status_changed", Occurred: base.Add(5 * time.Minute)},
	}
	for _, event := range events {
		if err := repo.Append(event); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	want := []string{"order.created", "order.paid", "order.status_changed"}
	for i, typ := range want {
		if got[i].Type != typ {
			t.Errorf("event %d: expected %s, got %s", i, typ, got[i].Type)
		}
	}
}

func TestTimelineRepository_ListUnknownOrder(t *testing.T) {
	repo := NewTimelineRepository()

	got, err := repo.List("missing")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty timeline, got %d events", len(got))
	}
}

func TestTimelineRepository_ListReturnsCopy(t *testing.T) {
	repo := NewTimelineRepository()
	if err := repo.Append(domain.TimelineEvent{OrderID: "order-1", Type: "order.created", Occurred: time.Now()}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	first, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	first[0].Type = "mutated"

	second, err := repo.List("order-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if second[0].Type != "order.created" {
		t.Error("List must return a copy, not the internal slice")
	}
}
