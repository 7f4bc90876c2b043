// Package rounds derives the round/group view of an order's items. Customers
// can keep adding items to an open order; each submission stamps its items
// with a batch id, and one batch is one round. The functions here are pure:
// both the kitchen display and the customer view re-derive rounds from the
// flat item list after every change event.
package rounds

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tably/api/internal/enum"
)

// Item is the rounds-relevant view of one order item row. Order items are
// stored one row per physical unit, so status moves at single-dish
// granularity.
type Item struct {
	ID             uuid.UUID
	MenuItemID     uuid.UUID
	BatchID        uuid.UUID
	Name           string
	UnitPrice      decimal.Decimal
	SelectionsKey  string
	SpecialRequest string
	Status         enum.ItemStatus
	CreatedAt      time.Time
}

// Round is one submission batch, numbered ordinally from 1 in submission
// order.
type Round struct {
	Number      int
	BatchID     uuid.UUID
	SubmittedAt time.Time
	Items       []Item
}

// Group is a display row coalescing identical items within a round. Statuses
// are only collapsed when every member shares one; otherwise StatusUniform is
// false and callers fall back to the per-item statuses in Items.
type Group struct {
	MenuItemID     uuid.UUID
	Name           string
	SelectionsKey  string
	SpecialRequest string
	UnitPrice      decimal.Decimal
	Count          int
	Items          []Item
	StatusUniform  bool
	Status         enum.ItemStatus
}

// GroupIntoRounds partitions items into rounds by batch id. Rounds are
// ordered by each batch's earliest item timestamp, numbered from 1. The
// explicit batch id stamped at submission is the only boundary signal; no
// timestamp-gap heuristics. Every input item lands in exactly one round.
func GroupIntoRounds(items []Item) []Round {
	var rounds []Round
	index := make(map[uuid.UUID]int)

	for _, item := range items {
		i, ok := index[item.BatchID]
		if !ok {
			i = len(rounds)
			index[item.BatchID] = i
			rounds = append(rounds, Round{
				BatchID:     item.BatchID,
				SubmittedAt: item.CreatedAt,
			})
		}
		r := &rounds[i]
		r.Items = append(r.Items, item)
		if item.CreatedAt.Before(r.SubmittedAt) {
			r.SubmittedAt = item.CreatedAt
		}
	}

	// Stable by construction for items arriving in insertion order; sort by
	// submission time so a caller passing unordered rows still gets
	// chronological rounds.
	for i := 1; i < len(rounds); i++ {
		for j := i; j > 0 && rounds[j].SubmittedAt.Before(rounds[j-1].SubmittedAt); j-- {
			rounds[j], rounds[j-1] = rounds[j-1], rounds[j]
		}
	}
	for i := range rounds {
		rounds[i].Number = i + 1
	}
	return rounds
}

// GroupItems coalesces identical items (same menu item, same selections, same
// special request) into quantity-counted display groups, preserving first-seen
// order and per-item status fidelity.
func GroupItems(items []Item) []Group {
	type key struct {
		menuItemID     uuid.UUID
		selections     string
		specialRequest string
	}

	var groups []Group
	index := make(map[key]int)

	for _, item := range items {
		k := key{item.MenuItemID, item.SelectionsKey, item.SpecialRequest}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, Group{
				MenuItemID:     item.MenuItemID,
				Name:           item.Name,
				SelectionsKey:  item.SelectionsKey,
				SpecialRequest: item.SpecialRequest,
				UnitPrice:      item.UnitPrice,
				StatusUniform:  true,
				Status:         item.Status,
			})
		}
		g := &groups[i]
		g.Items = append(g.Items, item)
		g.Count++
		if g.Status != item.Status {
			g.StatusUniform = false
		}
	}
	return groups
}

// CalculateOrderTotal sums the unit prices of all non-rejected items.
// Rejected items stay visible in the views but are never payable.
func CalculateOrderTotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		if item.Status == enum.ItemStatusRejected {
			continue
		}
		total = total.Add(item.UnitPrice)
	}
	return total
}
