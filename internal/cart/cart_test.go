package cart

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tably/api/internal/pricing"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func plainItem(price string) pricing.Item {
	return pricing.Item{BasePrice: dec(price)}
}

func latteItem() (pricing.Item, []pricing.Selection) {
	item := pricing.Item{
		BasePrice:   dec("4.00"),
		SizeEnabled: true,
		SizeOptions: []pricing.SizeOption{
			{Label: "Regular", Price: dec("4.00"), IsDefault: true},
			{Label: "Large", Price: dec("5.00")},
		},
	}
	sels := []pricing.Selection{
		{Kind: pricing.OptionKindSize, Group: "Size", Label: "Large", Price: dec("5.00")},
		{Kind: pricing.OptionKindAddon, Group: "Milk", Label: "Oat", Price: dec("0.50")},
	}
	return item, sels
}

func TestAddItem_MergesOnSameFingerprint(t *testing.T) {
	// Scenario: Latte with Size=Large and Milk=Oat added twice merges into
	// one line with quantity 2 at $5.50 per unit.
	c := &Cart{ShopID: uuid.New()}
	menuItemID := uuid.New()
	item, sels := latteItem()

	if _, err := c.AddItem(menuItemID, "Latte", item, 1, sels, ""); err != nil {
		t.Fatalf("first add: %v", err)
	}
	// Same selections in a different order must land on the same line.
	reversed := []pricing.Selection{sels[1], sels[0]}
	if _, err := c.AddItem(menuItemID, "Latte", item, 1, reversed, ""); err != nil {
		t.Fatalf("second add: %v", err)
	}

	if len(c.Lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(c.Lines))
	}
	l := c.Lines[0]
	if l.Quantity != 2 {
		t.Errorf("quantity = %d, want 2", l.Quantity)
	}
	if !l.FinalUnitPrice.Equal(dec("5.50")) {
		t.Errorf("final unit price = %s, want 5.50", l.FinalUnitPrice)
	}
	if !l.LineTotal().Equal(dec("11.00")) {
		t.Errorf("line total = %s, want 11.00", l.LineTotal())
	}
}

func TestAddItem_DifferentOptionsSeparateLines(t *testing.T) {
	c := &Cart{ShopID: uuid.New()}
	menuItemID := uuid.New()
	item, sels := latteItem()

	regular := []pricing.Selection{
		{Kind: pricing.OptionKindSize, Group: "Size", Label: "Regular", Price: dec("4.00")},
	}

	if _, err := c.AddItem(menuItemID, "Latte", item, 1, sels, ""); err != nil {
		t.Fatalf("add large: %v", err)
	}
	if _, err := c.AddItem(menuItemID, "Latte", item, 1, regular, ""); err != nil {
		t.Fatalf("add regular: %v", err)
	}

	if len(c.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(c.Lines))
	}
}

func TestUpdateQuantity_DecrementToZeroRemoves(t *testing.T) {
	// Scenario: Fries qty 3, then updateQuantity(id, 0) empties the cart.
	for _, q := range []int32{0, -1} {
		c := &Cart{ShopID: uuid.New()}
		line, err := c.AddItem(uuid.New(), "Fries", plainItem("3.00"), 3, nil, "")
		if err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := c.UpdateQuantity(line.CartItemID, q); err != nil {
			t.Fatalf("update to %d: %v", q, err)
		}
		if !c.IsEmpty() {
			t.Errorf("quantity %d: cart should be empty, has %d lines", q, len(c.Lines))
		}
	}
}

func TestUpdateQuantity_SetsQuantity(t *testing.T) {
	c := &Cart{ShopID: uuid.New()}
	line, _ := c.AddItem(uuid.New(), "Fries", plainItem("3.00"), 1, nil, "")

	if err := c.UpdateQuantity(line.CartItemID, 5); err != nil {
		t.Fatalf("update: %v", err)
	}
	if c.Lines[0].Quantity != 5 {
		t.Errorf("quantity = %d, want 5", c.Lines[0].Quantity)
	}

	if err := c.UpdateQuantity("nope", 2); !errors.Is(err, ErrLineNotFound) {
		t.Errorf("expected ErrLineNotFound, got %v", err)
	}
}

func TestRemoveOne(t *testing.T) {
	c := &Cart{ShopID: uuid.New()}
	line, _ := c.AddItem(uuid.New(), "Fries", plainItem("3.00"), 2, nil, "")

	if err := c.RemoveOne(line.CartItemID); err != nil {
		t.Fatalf("remove one: %v", err)
	}
	if c.Lines[0].Quantity != 1 {
		t.Fatalf("quantity = %d, want 1", c.Lines[0].Quantity)
	}
	if err := c.RemoveOne(line.CartItemID); err != nil {
		t.Fatalf("remove last: %v", err)
	}
	if !c.IsEmpty() {
		t.Error("cart should be empty after removing last unit")
	}
}

func TestTotal_UsesFrozenPrices(t *testing.T) {
	// Repricing the menu item after the line was added must not change the
	// line's unit price or the cart total.
	c := &Cart{ShopID: uuid.New()}
	menuItemID := uuid.New()
	item := plainItem("4.00")

	if _, err := c.AddItem(menuItemID, "Latte", item, 2, nil, ""); err != nil {
		t.Fatalf("add: %v", err)
	}

	item.BasePrice = dec("9.00")

	if !c.Lines[0].FinalUnitPrice.Equal(dec("4.00")) {
		t.Errorf("unit price changed to %s after menu edit", c.Lines[0].FinalUnitPrice)
	}
	if !c.Total().Equal(dec("8.00")) {
		t.Errorf("total = %s, want 8.00", c.Total())
	}
}

func TestMarkUnavailable_FlagsAllVariantsByMenuItem(t *testing.T) {
	c := &Cart{ShopID: uuid.New()}
	rejectedID := uuid.New()
	keptID := uuid.New()
	item, sels := latteItem()

	regular := []pricing.Selection{
		{Kind: pricing.OptionKindSize, Group: "Size", Label: "Regular", Price: dec("4.00")},
	}
	c.AddItem(rejectedID, "Latte", item, 1, sels, "")
	c.AddItem(rejectedID, "Latte", item, 1, regular, "")
	c.AddItem(keptID, "Fries", plainItem("3.00"), 1, nil, "")

	c.MarkUnavailable([]Rejection{{MenuItemID: rejectedID, Name: "Latte", Reason: "no longer available"}})

	flagged := 0
	for _, l := range c.Lines {
		if l.Unavailable {
			flagged++
			if l.UnavailableReason != "no longer available" {
				t.Errorf("reason = %q", l.UnavailableReason)
			}
		}
	}
	if flagged != 2 {
		t.Fatalf("expected both Latte variants flagged, got %d", flagged)
	}
	if !c.HasUnavailable() {
		t.Error("HasUnavailable should be true")
	}

	// Flagged lines stay until removed explicitly.
	if len(c.Lines) != 3 {
		t.Fatalf("marking must not remove lines, got %d", len(c.Lines))
	}

	c.RemoveUnavailableItems([]uuid.UUID{rejectedID})
	if len(c.Lines) != 1 || c.Lines[0].MenuItemID != keptID {
		t.Fatalf("expected only Fries to remain, got %d lines", len(c.Lines))
	}
}

func TestClearValidationErrors(t *testing.T) {
	c := &Cart{ShopID: uuid.New()}
	id := uuid.New()
	c.AddItem(id, "Fries", plainItem("3.00"), 1, nil, "")
	c.MarkUnavailable([]Rejection{{MenuItemID: id, Reason: "out of stock"}})

	c.ClearValidationErrors()
	if c.HasUnavailable() {
		t.Error("flags should be cleared")
	}
	if c.Lines[0].UnavailableReason != "" {
		t.Errorf("reason = %q, want empty", c.Lines[0].UnavailableReason)
	}
}

func TestSetNotes(t *testing.T) {
	c := &Cart{ShopID: uuid.New()}

	if err := c.SetNotes("<b>no onions</b> please"); err != nil {
		t.Fatalf("set notes: %v", err)
	}
	if c.Notes != "no onions please" {
		t.Errorf("notes = %q, want HTML stripped", c.Notes)
	}

	if err := c.SetNotes(strings.Repeat("a", 501)); !errors.Is(err, ErrNotesTooLong) {
		t.Errorf("expected ErrNotesTooLong, got %v", err)
	}

	// Stripping can bring an over-long raw string under the limit.
	long := "<div>" + strings.Repeat("b", 500) + "</div>"
	if err := c.SetNotes(long); err != nil {
		t.Errorf("stripped notes of 500 chars should be accepted: %v", err)
	}
}

func TestStore_UpdatePersistsAndIsolatesTenants(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	store := NewStore(repo)

	shopA := uuid.New()
	table := uuid.New()
	key := Key{ShopID: shopA, TableID: table, DeviceID: "dev-1"}
	menuItemID := uuid.New()

	_, err := store.Update(ctx, key, func(c *Cart) error {
		_, err := c.AddItem(menuItemID, "Fries", plainItem("3.00"), 2, nil, "")
		return err
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Lines) != 1 || got.Lines[0].Quantity != 2 {
		t.Fatalf("persisted cart wrong: %+v", got.Lines)
	}

	// A key for a different shop never sees shop A's cart, even if the
	// repository were to hand back a stale entry.
	otherKey := Key{ShopID: uuid.New(), TableID: table, DeviceID: "dev-1"}
	other, err := store.Get(ctx, otherKey)
	if err != nil {
		t.Fatalf("get other: %v", err)
	}
	if !other.IsEmpty() {
		t.Fatal("cart data leaked across shops")
	}

	// Failed mutations leave the stored cart untouched.
	_, err = store.Update(ctx, key, func(c *Cart) error {
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected error from fn")
	}
	got, _ = store.Get(ctx, key)
	if len(got.Lines) != 1 {
		t.Fatal("failed update must not change the stored cart")
	}

	if err := store.Clear(ctx, key); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, _ = store.Get(ctx, key)
	if !got.IsEmpty() {
		t.Fatal("cart should be empty after clear")
	}
}
