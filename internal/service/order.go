package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/tably/api/internal/cart"
	"github.com/tably/api/internal/database"
	"github.com/tably/api/internal/enum"
	"github.com/tably/api/internal/pricing"
	"github.com/tably/api/internal/rounds"
)

// Errors returned by the order service.
var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrCartFlagged        = errors.New("cart has unresolved unavailable items")
	ErrTableNotFound      = errors.New("table not found in shop")
	ErrOrderNotFound      = errors.New("order not found")
	ErrInvalidOrderToken  = errors.New("invalid order token")
	ErrOrderClosed        = errors.New("order is no longer open")
	ErrInvalidStatus      = errors.New("invalid item status")
	ErrInvalidTransition  = errors.New("status transition not allowed")
	ErrUnknownItems       = errors.New("one or more item ids do not belong to the order")
	ErrNoItems            = errors.New("item ids are required")
	ErrInvalidLinePrice   = errors.New("cart line has invalid price")
	ErrInvalidLineQty     = errors.New("cart line quantity must be > 0")
)

// UnavailableError reports the items the server refused at submission time.
// The whole submission is refused with it: nothing is persisted.
type UnavailableError struct {
	Items []cart.Rejection
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%d item(s) unavailable", len(e.Items))
}

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// OrderStore defines the DB methods needed by the order service.
// Satisfied by *database.Queries (and its in-transaction variant).
type OrderStore interface {
	GetTable(ctx context.Context, arg database.GetTableParams) (database.Table, error)
	GetOpenSessionForTable(ctx context.Context, tableID uuid.UUID) (database.TableSession, error)
	CreateTableSession(ctx context.Context, arg database.CreateTableSessionParams) (database.TableSession, error)
	GetMenuItemForOrder(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error)
	CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error)
	GetOrderInShop(ctx context.Context, arg database.GetOrderInShopParams) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	GetOrderItemsForUpdate(ctx context.Context, arg database.GetOrderItemsForUpdateParams) ([]database.OrderItem, error)
	UpdateOrderItemsStatus(ctx context.Context, arg database.UpdateOrderItemsStatusParams) ([]database.OrderItem, error)
	UpdateOrderTotal(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error)
}

// NewOrderStore creates an OrderStore from a DBTX (pool or tx), letting the
// service run its store methods inside transactions.
type NewOrderStore func(db database.DBTX) OrderStore

// OrderService handles order submission, device reads, and item status.
type OrderService struct {
	pool     TxBeginner
	newStore NewOrderStore
}

// NewOrderService creates a new OrderService.
func NewOrderService(pool TxBeginner, newStore NewOrderStore) *OrderService {
	return &OrderService{pool: pool, newStore: newStore}
}

// SubmitRequest is the single commit point's input: the device's full cart
// plus table identity. TableID is uuid.Nil for takeaway.
type SubmitRequest struct {
	ShopID  uuid.UUID
	TableID uuid.UUID
	Cart    *cart.Cart
}

// SubmitResult is the created order with its items. OrderToken is issued once
// here; the device must store it and present it on every later read.
type SubmitResult struct {
	Order      database.Order
	Items      []database.OrderItem
	OrderToken string
}

// PriceSnapshot is stored immutably with each order item so later menu edits
// never retroactively alter a placed order's receipt.
type PriceSnapshot struct {
	BasePrice      decimal.Decimal     `json:"base_price"`
	Selections     []pricing.Selection `json:"selections"`
	OptionsTotal   decimal.Decimal     `json:"options_total"`
	FinalUnitPrice decimal.Decimal     `json:"final_unit_price"`
	Quantity       int32               `json:"quantity"`
	LineTotal      decimal.Decimal     `json:"line_total"`
}

// Submit converts a cart into a persisted order, atomically. Every line's
// menu item is re-checked for availability inside the transaction; if any
// check fails the full rejection list comes back in an *UnavailableError and
// nothing is created. On success the order, its items (one row per physical
// unit), and a fresh order token are returned; the caller clears the cart.
func (s *OrderService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.Cart == nil || req.Cart.IsEmpty() {
		return nil, ErrEmptyCart
	}
	if req.Cart.HasUnavailable() {
		return nil, ErrCartFlagged
	}
	if err := checkCartInvariants(req.Cart); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// --- Resolve table and session (dine-in only) ---
	sessionID := pgtype.UUID{}
	tableNumber := pgtype.Text{}
	if req.TableID != uuid.Nil {
		table, err := store.GetTable(ctx, database.GetTableParams{
			ID:     req.TableID,
			ShopID: req.ShopID,
		})
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrTableNotFound
			}
			return nil, fmt.Errorf("get table: %w", err)
		}
		tableNumber = pgtype.Text{String: table.Number, Valid: true}

		session, err := store.GetOpenSessionForTable(ctx, table.ID)
		if errors.Is(err, pgx.ErrNoRows) {
			session, err = store.CreateTableSession(ctx, database.CreateTableSessionParams{
				ShopID:  req.ShopID,
				TableID: table.ID,
			})
		}
		if err != nil {
			return nil, fmt.Errorf("resolve session: %w", err)
		}
		sessionID = pgtype.UUID{Bytes: session.ID, Valid: true}
	}

	// --- Re-validate availability for every line, collecting all failures ---
	if rejections, err := s.validateAvailability(ctx, store, req.ShopID, req.Cart); err != nil {
		return nil, err
	} else if len(rejections) > 0 {
		return nil, &UnavailableError{Items: rejections}
	}

	// --- Create order ---
	token, err := newOrderToken()
	if err != nil {
		return nil, fmt.Errorf("generate order token: %w", err)
	}

	notes := pgtype.Text{}
	if req.Cart.Notes != "" {
		notes = pgtype.Text{String: req.Cart.Notes, Valid: true}
	}

	order, err := store.CreateOrder(ctx, database.CreateOrderParams{
		ShopID:        req.ShopID,
		SessionID:     sessionID,
		TableNumber:   tableNumber,
		CustomerNotes: notes,
		Total:         decimalToNumeric(req.Cart.Total()),
		OrderToken:    token,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	items, err := s.insertBatch(ctx, store, order.ID, req.Cart)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &SubmitResult{Order: order, Items: items, OrderToken: token}, nil
}

// AppendItems adds a cart's lines to an existing open order as a new round.
// The device authenticates with the order token issued at creation. Same
// all-or-nothing availability semantics as Submit.
func (s *OrderService) AppendItems(ctx context.Context, orderID uuid.UUID, token string, c *cart.Cart) (*SubmitResult, error) {
	if c == nil || c.IsEmpty() {
		return nil, ErrEmptyCart
	}
	if c.HasUnavailable() {
		return nil, ErrCartFlagged
	}
	if err := checkCartInvariants(c); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	order, err := store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(order.OrderToken), []byte(token)) != 1 {
		return nil, ErrInvalidOrderToken
	}
	if order.Status != enum.OrderStatusOpen {
		return nil, ErrOrderClosed
	}

	if rejections, err := s.validateAvailability(ctx, store, order.ShopID, c); err != nil {
		return nil, err
	} else if len(rejections) > 0 {
		return nil, &UnavailableError{Items: rejections}
	}

	items, err := s.insertBatch(ctx, store, order.ID, c)
	if err != nil {
		return nil, err
	}

	newTotal := numericToDecimal(order.Total).Add(c.Total())
	order, err = store.UpdateOrderTotal(ctx, database.UpdateOrderTotalParams{
		ID:    order.ID,
		Total: decimalToNumeric(newTotal),
	})
	if err != nil {
		return nil, fmt.Errorf("update order total: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &SubmitResult{Order: order, Items: items, OrderToken: order.OrderToken}, nil
}

// GetOrderForDevice returns the order and its items to the device that placed
// it. The order token is required on every read.
func (s *OrderService) GetOrderForDevice(ctx context.Context, orderID uuid.UUID, token string) (database.Order, []database.OrderItem, error) {
	store := s.storeFromPool()

	order, err := store.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.Order{}, nil, ErrOrderNotFound
		}
		return database.Order{}, nil, fmt.Errorf("get order: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(order.OrderToken), []byte(token)) != 1 {
		return database.Order{}, nil, ErrInvalidOrderToken
	}

	items, err := store.ListOrderItemsByOrder(ctx, orderID)
	if err != nil {
		return database.Order{}, nil, fmt.Errorf("list order items: %w", err)
	}
	return order, items, nil
}

// CheckOrderToken verifies the device credential for an order. Used by the
// websocket subscribe path.
func (s *OrderService) CheckOrderToken(ctx context.Context, orderID uuid.UUID, token string) error {
	order, err := s.storeFromPool().GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("get order: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(order.OrderToken), []byte(token)) != 1 {
		return ErrInvalidOrderToken
	}
	return nil
}

// UpdateItemStatusRequest is the staff-side bulk status change for a set of
// items within one order.
type UpdateItemStatusRequest struct {
	ShopID  uuid.UUID
	OrderID uuid.UUID
	ItemIDs []uuid.UUID
	Status  enum.ItemStatus
}

// UpdateItemStatus applies one status to all given items, all-or-nothing: an
// unknown item id or a disallowed transition on any item fails the whole
// batch. A status change never alters an item's price, name, or snapshot.
// Rejecting items recomputes the order total so rejected units drop out of
// the payable amount.
func (s *OrderService) UpdateItemStatus(ctx context.Context, req UpdateItemStatusRequest) ([]database.OrderItem, error) {
	if len(req.ItemIDs) == 0 {
		return nil, ErrNoItems
	}
	if !enum.ValidItemStatus(req.Status) {
		return nil, ErrInvalidStatus
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	store := s.newStore(tx)

	// Shop scoping is the authorization boundary here: a staff token for
	// another shop never sees the order.
	order, err := store.GetOrderInShop(ctx, database.GetOrderInShopParams{
		ID:     req.OrderID,
		ShopID: req.ShopID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	ids := dedupe(req.ItemIDs)
	items, err := store.GetOrderItemsForUpdate(ctx, database.GetOrderItemsForUpdateParams{
		OrderID: order.ID,
		IDs:     ids,
	})
	if err != nil {
		return nil, fmt.Errorf("lock order items: %w", err)
	}
	if len(items) != len(ids) {
		return nil, ErrUnknownItems
	}

	for _, item := range items {
		if !enum.CanTransition(item.Status, req.Status) {
			return nil, fmt.Errorf("item %s: %s -> %s: %w",
				item.ID, item.Status, req.Status, ErrInvalidTransition)
		}
	}

	updated, err := store.UpdateOrderItemsStatus(ctx, database.UpdateOrderItemsStatusParams{
		OrderID: order.ID,
		IDs:     ids,
		Status:  req.Status,
	})
	if err != nil {
		return nil, fmt.Errorf("update item status: %w", err)
	}

	if req.Status == enum.ItemStatusRejected {
		all, err := store.ListOrderItemsByOrder(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("list order items: %w", err)
		}
		total := rounds.CalculateOrderTotal(ItemsToRounds(all))
		if _, err := store.UpdateOrderTotal(ctx, database.UpdateOrderTotalParams{
			ID:    order.ID,
			Total: decimalToNumeric(total),
		}); err != nil {
			return nil, fmt.Errorf("update order total: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return updated, nil
}

// --- Internals ---

// validateAvailability re-checks every cart line's menu item inside the
// submission transaction. All failures are collected so the customer sees the
// complete list at once, not one rejection per retry.
func (s *OrderService) validateAvailability(ctx context.Context, store OrderStore, shopID uuid.UUID, c *cart.Cart) ([]cart.Rejection, error) {
	var rejections []cart.Rejection
	seen := make(map[uuid.UUID]bool)

	for _, line := range c.Lines {
		if seen[line.MenuItemID] {
			continue
		}
		seen[line.MenuItemID] = true

		m, err := store.GetMenuItemForOrder(ctx, database.GetMenuItemParams{
			ID:     line.MenuItemID,
			ShopID: shopID,
		})
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			rejections = append(rejections, cart.Rejection{
				MenuItemID: line.MenuItemID,
				Name:       line.Name,
				Reason:     "no longer available",
			})
		case err != nil:
			return nil, fmt.Errorf("get menu item: %w", err)
		case !m.IsActive:
			rejections = append(rejections, cart.Rejection{
				MenuItemID: line.MenuItemID,
				Name:       line.Name,
				Reason:     "no longer available",
			})
		case !m.IsAvailable:
			rejections = append(rejections, cart.Rejection{
				MenuItemID: line.MenuItemID,
				Name:       line.Name,
				Reason:     "currently unavailable",
			})
		}
	}
	return rejections, nil
}

// insertBatch writes one batch of order items, one row per physical unit so
// the kitchen can move single dishes through the status machine. The whole
// batch shares one batch id: that id is the round boundary.
func (s *OrderService) insertBatch(ctx context.Context, store OrderStore, orderID uuid.UUID, c *cart.Cart) ([]database.OrderItem, error) {
	batchID := uuid.New()
	var items []database.OrderItem

	for _, line := range c.Lines {
		snapshot, err := json.Marshal(PriceSnapshot{
			BasePrice:      line.BasePrice,
			Selections:     line.Selections,
			OptionsTotal:   line.OptionsTotal,
			FinalUnitPrice: line.FinalUnitPrice,
			Quantity:       line.Quantity,
			LineTotal:      line.LineTotal(),
		})
		if err != nil {
			return nil, fmt.Errorf("marshal price snapshot: %w", err)
		}

		specialRequest := pgtype.Text{}
		if line.SpecialRequest != "" {
			specialRequest = pgtype.Text{String: line.SpecialRequest, Valid: true}
		}

		for u := int32(0); u < line.Quantity; u++ {
			item, err := store.CreateOrderItem(ctx, database.CreateOrderItemParams{
				OrderID:        orderID,
				MenuItemID:     line.MenuItemID,
				BatchID:        batchID,
				Name:           line.Name,
				UnitPrice:      decimalToNumeric(line.FinalUnitPrice),
				SelectionsKey:  pricing.Canonical(line.Selections),
				PriceSnapshot:  snapshot,
				SpecialRequest: specialRequest,
			})
			if err != nil {
				return nil, fmt.Errorf("create order item: %w", err)
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// checkCartInvariants is a defensive re-check of what the cart store already
// guarantees; a corrupted cart must not reach the database.
func checkCartInvariants(c *cart.Cart) error {
	for _, line := range c.Lines {
		if line.Quantity <= 0 {
			return ErrInvalidLineQty
		}
		if line.FinalUnitPrice.IsNegative() {
			return ErrInvalidLinePrice
		}
	}
	return nil
}

func (s *OrderService) storeFromPool() OrderStore {
	if db, ok := s.pool.(database.DBTX); ok {
		return s.newStore(db)
	}
	// TxBeginner that is not a DBTX only occurs in tests, where newStore
	// ignores its argument anyway.
	return s.newStore(nil)
}

// ItemsToRounds maps stored order items to the rounds package's view.
func ItemsToRounds(items []database.OrderItem) []rounds.Item {
	out := make([]rounds.Item, len(items))
	for i, it := range items {
		specialRequest := ""
		if it.SpecialRequest.Valid {
			specialRequest = it.SpecialRequest.String
		}
		out[i] = rounds.Item{
			ID:             it.ID,
			MenuItemID:     it.MenuItemID,
			BatchID:        it.BatchID,
			Name:           it.Name,
			UnitPrice:      numericToDecimal(it.UnitPrice),
			SelectionsKey:  it.SelectionsKey,
			SpecialRequest: specialRequest,
			Status:         it.Status,
			CreatedAt:      it.CreatedAt,
		}
	}
	return out
}

func newOrderToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// --- Numeric helpers ---

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	val, err := n.Value()
	if err != nil || val == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(val.(string))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.StringFixed(2))
	return n
}
