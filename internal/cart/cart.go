package cart

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tably/api/internal/pricing"
)

// Errors returned by cart operations.
var (
	ErrLineNotFound = errors.New("cart line not found")
	ErrNotesTooLong = errors.New("notes must be at most 500 characters")
	ErrEmptyCart    = errors.New("cart is empty")
)

const maxNotesLen = 500

// Line is one distinct (menu item + option selection) entry in a cart. Its
// price fields are computed once at add time and never re-derived from menu
// data, so a later menu edit cannot silently reprice a cart.
type Line struct {
	CartItemID        string              `json:"cart_item_id"`
	MenuItemID        uuid.UUID           `json:"menu_item_id"`
	Name              string              `json:"name"`
	Quantity          int32               `json:"quantity"`
	BasePrice         decimal.Decimal     `json:"base_price"`
	Selections        []pricing.Selection `json:"selections"`
	OptionsTotal      decimal.Decimal     `json:"options_total"`
	FinalUnitPrice    decimal.Decimal     `json:"final_unit_price"`
	SpecialRequest    string              `json:"special_request,omitempty"`
	Unavailable       bool                `json:"unavailable,omitempty"`
	UnavailableReason string              `json:"unavailable_reason,omitempty"`
}

// LineTotal is the frozen unit price times quantity.
func (l Line) LineTotal() decimal.Decimal {
	return l.FinalUnitPrice.Mul(decimal.NewFromInt32(l.Quantity))
}

// Cart is an ordered set of lines, unique by fingerprint, for one device at
// one table of one shop.
type Cart struct {
	ShopID uuid.UUID `json:"shop_id"`
	// TableID is uuid.Nil for takeaway carts.
	TableID uuid.UUID `json:"table_id"`
	Lines   []Line    `json:"lines"`
	Notes   string    `json:"notes,omitempty"`
}

// Rejection identifies a menu item the server refused at submission time.
type Rejection struct {
	MenuItemID uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	Reason     string    `json:"reason"`
}

// Fingerprint derives the deterministic line key from the menu item id and
// the selection set. Identical selections always collapse to the same key
// regardless of the order they were picked in.
func Fingerprint(menuItemID uuid.UUID, sels []pricing.Selection) string {
	return menuItemID.String() + "::" + pricing.Canonical(sels)
}

// AddItem prices the selection via the pricing engine and merges it into the
// cart: an existing line with the same fingerprint has its quantity
// incremented, otherwise a new line is appended with frozen price fields.
func (c *Cart) AddItem(menuItemID uuid.UUID, name string, item pricing.Item, quantity int32, sels []pricing.Selection, specialRequest string) (*Line, error) {
	if err := pricing.ValidateSelections(item, sels); err != nil {
		return nil, err
	}
	lp, err := pricing.ComputeLinePrice(item, quantity, sels)
	if err != nil {
		return nil, err
	}

	id := Fingerprint(menuItemID, sels)
	for i := range c.Lines {
		if c.Lines[i].CartItemID == id {
			c.Lines[i].Quantity += quantity
			return &c.Lines[i], nil
		}
	}

	c.Lines = append(c.Lines, Line{
		CartItemID:     id,
		MenuItemID:     menuItemID,
		Name:           name,
		Quantity:       quantity,
		BasePrice:      lp.BasePrice,
		Selections:     sels,
		OptionsTotal:   lp.OptionsTotal,
		FinalUnitPrice: lp.FinalUnitPrice,
		SpecialRequest: specialRequest,
	})
	return &c.Lines[len(c.Lines)-1], nil
}

// UpdateQuantity sets a line's quantity. A quantity below 1 removes the line
// entirely; that is the defined behavior for decrement-to-zero.
func (c *Cart) UpdateQuantity(cartItemID string, quantity int32) error {
	for i := range c.Lines {
		if c.Lines[i].CartItemID != cartItemID {
			continue
		}
		if quantity < 1 {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return nil
		}
		c.Lines[i].Quantity = quantity
		return nil
	}
	return ErrLineNotFound
}

// RemoveOne decrements a line by one, removing it when the quantity reaches
// zero. Used by quick-remove controls.
func (c *Cart) RemoveOne(cartItemID string) error {
	for i := range c.Lines {
		if c.Lines[i].CartItemID != cartItemID {
			continue
		}
		if c.Lines[i].Quantity > 1 {
			c.Lines[i].Quantity--
			return nil
		}
		c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
		return nil
	}
	return ErrLineNotFound
}

// RemoveItem removes a line unconditionally.
func (c *Cart) RemoveItem(cartItemID string) error {
	for i := range c.Lines {
		if c.Lines[i].CartItemID == cartItemID {
			c.Lines = append(c.Lines[:i], c.Lines[i+1:]...)
			return nil
		}
	}
	return ErrLineNotFound
}

// Clear empties the cart and its notes.
func (c *Cart) Clear() {
	c.Lines = nil
	c.Notes = ""
}

// Total sums the frozen per-line totals. It never consults menu data.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.LineTotal())
	}
	return total
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.Lines) == 0
}

// SetNotes strips HTML tags and stores the notes. Returns ErrNotesTooLong if
// the stripped text exceeds 500 characters.
func (c *Cart) SetNotes(notes string) error {
	stripped := stripHTML(notes)
	if len([]rune(stripped)) > maxNotesLen {
		return ErrNotesTooLong
	}
	c.Notes = stripped
	return nil
}

// MarkUnavailable flags every line whose underlying menu item appears in the
// rejection list. Matching is by menu item id, not fingerprint: a rejected
// item may sit in the cart under several option variants. Lines are flagged,
// not removed; the customer removes them explicitly.
func (c *Cart) MarkUnavailable(rejections []Rejection) {
	for i := range c.Lines {
		for _, rej := range rejections {
			if c.Lines[i].MenuItemID == rej.MenuItemID {
				c.Lines[i].Unavailable = true
				c.Lines[i].UnavailableReason = rej.Reason
				break
			}
		}
	}
}

// ClearValidationErrors removes all unavailability flags.
func (c *Cart) ClearValidationErrors() {
	for i := range c.Lines {
		c.Lines[i].Unavailable = false
		c.Lines[i].UnavailableReason = ""
	}
}

// RemoveUnavailableItems bulk-removes every line whose menu item id is in
// the given set, regardless of option variant.
func (c *Cart) RemoveUnavailableItems(menuItemIDs []uuid.UUID) {
	ids := make(map[uuid.UUID]bool, len(menuItemIDs))
	for _, id := range menuItemIDs {
		ids[id] = true
	}
	kept := c.Lines[:0]
	for _, l := range c.Lines {
		if !ids[l.MenuItemID] {
			kept = append(kept, l)
		}
	}
	c.Lines = kept
}

// HasUnavailable reports whether any line is flagged. Submission is blocked
// while this is true.
func (c *Cart) HasUnavailable() bool {
	for _, l := range c.Lines {
		if l.Unavailable {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the cart.
func (c *Cart) Clone() *Cart {
	cp := &Cart{ShopID: c.ShopID, TableID: c.TableID, Notes: c.Notes}
	cp.Lines = make([]Line, len(c.Lines))
	copy(cp.Lines, c.Lines)
	for i := range cp.Lines {
		sels := make([]pricing.Selection, len(c.Lines[i].Selections))
		copy(sels, c.Lines[i].Selections)
		cp.Lines[i].Selections = sels
	}
	return cp
}

// stripHTML drops everything between angle brackets. Notes are free text;
// markup is never preserved.
func stripHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
