package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Errors returned by the pricing engine.
var (
	ErrInvalidQuantity      = errors.New("quantity must be > 0")
	ErrMissingSize          = errors.New("size selection is required for size-enabled item")
	ErrMultipleSizes        = errors.New("more than one size selected")
	ErrUnknownSize          = errors.New("selected size does not exist on item")
	ErrMissingRequiredGroup = errors.New("required option group has no selection")
	ErrNoDefaultSize        = errors.New("size-enabled item must have exactly one default size")
)

// OptionKind distinguishes size selections (absolute price, replaces the base
// price) from addon selections (delta, added on top).
type OptionKind string

const (
	OptionKindSize  OptionKind = "size"
	OptionKindAddon OptionKind = "addon"
)

// Selection is one chosen option on a line item. For a size, Price is the
// absolute unit price of that size. For an addon, Price is the delta (may be
// negative).
type Selection struct {
	Kind  OptionKind      `json:"kind"`
	Group string          `json:"group"`
	Label string          `json:"label"`
	Price decimal.Decimal `json:"price"`
}

// SizeOption is one entry of a size-enabled item's size table.
type SizeOption struct {
	Label     string          `json:"label"`
	Price     decimal.Decimal `json:"price"`
	IsDefault bool            `json:"is_default"`
}

// OptionValue is one selectable value within an option group.
type OptionValue struct {
	Label      string          `json:"label"`
	PriceDelta decimal.Decimal `json:"price_delta"`
}

// OptionGroup is an independent group of addon options on a menu item.
type OptionGroup struct {
	Name     string        `json:"name"`
	Required bool          `json:"required"`
	Values   []OptionValue `json:"values"`
}

// Item is the pricing-relevant view of a menu item.
type Item struct {
	BasePrice    decimal.Decimal
	SizeEnabled  bool
	SizeOptions  []SizeOption
	OptionGroups []OptionGroup
}

// LinePrice is the frozen price breakdown of one cart line.
type LinePrice struct {
	BasePrice      decimal.Decimal
	OptionsTotal   decimal.Decimal
	FinalUnitPrice decimal.Decimal
}

// ComputeLinePrice derives a line's unit price from the item and the chosen
// selections.
//
// Size-enabled items take their base price from the single size selection
// (the size price replaces the item's nominal base price, it is not added);
// every other selection contributes its delta to the options total. Items
// without sizes use the item base price and sum all selection deltas. The
// final unit price is clamped at zero so heavily discounted combinations can
// never produce a negative charge.
func ComputeLinePrice(item Item, quantity int32, sels []Selection) (LinePrice, error) {
	if quantity <= 0 {
		return LinePrice{}, ErrInvalidQuantity
	}

	base := item.BasePrice
	optionsTotal := decimal.Zero

	if item.SizeEnabled {
		sizeCount := 0
		for _, sel := range sels {
			switch sel.Kind {
			case OptionKindSize:
				sizeCount++
				base = sel.Price
			case OptionKindAddon:
				optionsTotal = optionsTotal.Add(sel.Price)
			default:
				return LinePrice{}, fmt.Errorf("unknown option kind %q", sel.Kind)
			}
		}
		if sizeCount == 0 {
			return LinePrice{}, ErrMissingSize
		}
		if sizeCount > 1 {
			return LinePrice{}, ErrMultipleSizes
		}
	} else {
		// A size-kind selection on a non-size item should not occur; its
		// price still counts as a plain delta rather than being dropped.
		for _, sel := range sels {
			optionsTotal = optionsTotal.Add(sel.Price)
		}
	}

	final := base.Add(optionsTotal)
	if final.IsNegative() {
		final = decimal.Zero
	}

	return LinePrice{
		BasePrice:      base,
		OptionsTotal:   optionsTotal,
		FinalUnitPrice: final,
	}, nil
}

// ValidateSelections checks a selection set against the item's configuration:
// the size selection must name an existing size, and every required option
// group must have at least one selection. Missing selections are never
// defaulted silently.
func ValidateSelections(item Item, sels []Selection) error {
	if item.SizeEnabled {
		for _, sel := range sels {
			if sel.Kind != OptionKindSize {
				continue
			}
			found := false
			for _, so := range item.SizeOptions {
				if so.Label == sel.Label {
					found = true
					break
				}
			}
			if !found {
				return fmt.Errorf("%w: %q", ErrUnknownSize, sel.Label)
			}
		}
	}

	for _, g := range item.OptionGroups {
		if !g.Required {
			continue
		}
		selected := false
		for _, sel := range sels {
			if sel.Kind == OptionKindAddon && sel.Group == g.Name {
				selected = true
				break
			}
		}
		if !selected {
			return fmt.Errorf("%w: %q", ErrMissingRequiredGroup, g.Name)
		}
	}

	return nil
}

// ValidateSizeOptions checks a size-enabled item's size table: at least one
// entry, exactly one default, no negative prices.
func ValidateSizeOptions(opts []SizeOption) error {
	if len(opts) == 0 {
		return ErrNoDefaultSize
	}
	defaults := 0
	for _, o := range opts {
		if o.IsDefault {
			defaults++
		}
		if o.Price.IsNegative() {
			return fmt.Errorf("size %q has negative price", o.Label)
		}
	}
	if defaults != 1 {
		return ErrNoDefaultSize
	}
	return nil
}

// Canonical serializes a selection set into a deterministic key fragment:
// selections are sorted, so any permutation of the same set produces the same
// string. Used for cart fingerprints and round grouping.
func Canonical(sels []Selection) string {
	parts := make([]string, len(sels))
	for i, sel := range sels {
		parts[i] = string(sel.Kind) + ":" + sel.Group + ":" + sel.Label + ":" + sel.Price.String()
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
