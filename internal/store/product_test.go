package store

import (
	"testing"

	"github.com/mark8pips/licensing/internal/database"
	"github.com/mark8pips/licensing/internal/model"
)

func setupProductTestDB(t *testing.T) *ProductStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewProductStore(db)
}

func TestProductCreateDefaultsPrices(t *testing.T) {
	ps := setupProductTestDB(t)

	p, err := ps.Create("Professional EA", "ea", "Trend following EA", 99, 0, 0)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if p.PriceYearly != 990 {
		t.Errorf("price_yearly = %v, want 990 (monthly x10)", p.PriceYearly)
	}
	if p.PriceLifetime != 2970 {
		t.Errorf("price_lifetime = %v, want 2970 (monthly x30)", p.PriceLifetime)
	}
	if !p.IsActive {
		t.Error("new product should be active")
	}
}

func TestProductCreateExplicitPrices(t *testing.T) {
	ps := setupProductTestDB(t)

	p, err := ps.Create("Scalper EA", "ea", "", 49, 399, 999)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if p.PriceYearly != 399 || p.PriceLifetime != 999 {
		t.Errorf("prices = %v/%v, want 399/999 (explicit prices kept)", p.PriceYearly, p.PriceLifetime)
	}
}

func TestProductPrice(t *testing.T) {
	p := &model.Product{PriceMonthly: 99, PriceYearly: 990, PriceLifetime: 2970}

	for _, tc := range []struct {
		subType string
		want    float64
		ok      bool
	}{
		{model.SubMonthly, 99, true},
		{model.SubYearly, 990, true},
		{model.SubLifetime, 2970, true},
		{model.SubTrial30, 0, false},
		{"weekly", 0, false},
	} {
		got, ok := p.Price(tc.subType)
		if got != tc.want || ok != tc.ok {
			t.Errorf("Price(%q) = %v, %v, want %v, %v", tc.subType, got, ok, tc.want, tc.ok)
		}
	}
}

func TestProductListActive(t *testing.T) {
	ps := setupProductTestDB(t)

	active, err := ps.Create("Active EA", "ea", "", 99, 0, 0)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	hidden, err := ps.Create("Hidden EA", "ea", "", 49, 0, 0)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if err := ps.SetActive(hidden.ID, false); err != nil {
		t.Fatalf("set inactive: %v", err)
	}

	all, err := ps.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("List len = %d, want 2", len(all))
	}

	visible, err := ps.ListActive()
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(visible) != 1 || visible[0].ID != active.ID {
		t.Errorf("ListActive = %+v, want only the active product", visible)
	}
}

func TestProductDelete(t *testing.T) {
	ps := setupProductTestDB(t)

	p, err := ps.Create("Doomed EA", "ea", "", 99, 0, 0)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if err := ps.Delete(p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := ps.GetByID(p.ID)
	if err != nil {
		t.Fatalf("get deleted: %v", err)
	}
	if got != nil {
		t.Errorf("got = %+v, want nil", got)
	}
}
