package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestStockLedger_PostgresDecrementAndRelease(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewStockLedger(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ledger.Upsert(ctx, domain.Product{ID: "p1", Name: "Кружка", PriceMinor: 45000, Stock: 10}); err != nil {
		t.Fatalf("upsert product: %v", err)
	}

	if err := ledger.TryDecrement(ctx, "p1", 4); err != nil {
		t.Fatalf("decrement: %v", err)
	}
	stock, err := ledger.Available(ctx, "p1")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if stock != 6 {
		t.Fatalf("expected stock 6, got %d", stock)
	}

	if err := ledger.TryDecrement(ctx, "p1", 7); !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if err := ledger.TryDecrement(ctx, "missing", 1); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	if err := ledger.Release(ctx, "p1", 4); err != nil {
		t.Fatalf("release: %v", err)
	}
	stock, err = ledger.Available(ctx, "p1")
	if err != nil {
		t.Fatalf("available after release: %v", err)
	}
	if stock != 10 {
		t.Fatalf("expected stock 10 after release, got %d", stock)
	}
}

func TestStockLedger_PostgresConcurrentDecrement(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewStockLedger(store)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := ledger.Upsert(ctx, domain.Product{ID: "race", Name: "Футболка", PriceMinor: 120000, Stock: 5}); err != nil {
		t.Fatalf("upsert product: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ledger.TryDecrement(ctx, "race", 1); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 5 {
		t.Fatalf("expected exactly 5 successful decrements, got %d", granted)
	}
	stock, err := ledger.Available(ctx, "race")
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if stock != 0 {
		t.Fatalf("expected stock 0, got %d", stock)
	}
}

func TestStockLedger_PostgresCatalog(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ledger := NewStockLedger(store)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, p := range []domain.Product{
		{ID: "c1", Name: "Кружка", PriceMinor: 45000, Stock: 10},
		{ID: "c2", Name: "Футболка", PriceMinor: 120000, Stock: 4},
	} {
		if err := ledger.Upsert(ctx, p); err != nil {
			t.Fatalf("upsert %s: %v", p.ID, err)
		}
	}

	card, err := ledger.Product(ctx, "c2")
	if err != nil {
		t.Fatalf("product: %v", err)
	}
	if card.Name != "Футболка" || card.PriceMinor != 120000 {
		t.Fatalf("unexpected product card %+v", card)
	}

	all, err := ledger.Products(ctx)
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 products, got %d", len(all))
	}

	if _, err := ledger.Product(ctx, "missing"); !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}
