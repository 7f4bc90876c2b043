package enum

// ── Order item lifecycle (CHECK constrained in DB) ──

// ItemStatus is the per-item kitchen state.
type ItemStatus string

const (
	ItemStatusPending   ItemStatus = "PENDING"
	ItemStatusPreparing ItemStatus = "PREPARING"
	ItemStatusReady     ItemStatus = "READY"
	ItemStatusRejected  ItemStatus = "REJECTED"
)

// ItemTransitions is the explicit transition table for order item status.
// READY and REJECTED are terminal. Backward transitions are not allowed.
var ItemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusPending:   {ItemStatusPreparing, ItemStatusRejected},
	ItemStatusPreparing: {ItemStatusReady, ItemStatusRejected},
}

// ValidItemStatus reports whether s is a known item status.
func ValidItemStatus(s ItemStatus) bool {
	switch s {
	case ItemStatusPending, ItemStatusPreparing, ItemStatusReady, ItemStatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether an item may move from one status to another.
func CanTransition(from, to ItemStatus) bool {
	for _, s := range ItemTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ── Order lifecycle ──

type OrderStatus string

const (
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// ── Table session lifecycle ──

type SessionStatus string

const (
	SessionStatusOpen SessionStatus = "OPEN"
	SessionStatusPaid SessionStatus = "PAID"
)

// ── Staff roles ──

const (
	UserRoleOwner   = "OWNER"
	UserRoleManager = "MANAGER"
	UserRoleKitchen = "KITCHEN"
)
