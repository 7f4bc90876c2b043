package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/tably/api/internal/cart"
	"github.com/tably/api/internal/database"
	"github.com/tably/api/internal/enum"
	"github.com/tably/api/internal/pricing"
)

// mockTx implements pgx.Tx with only the methods we need.
type mockTx struct {
	commitErr   error
	rollbackErr error
	committed   bool
	rolledBack  bool
}

func (m *mockTx) Begin(ctx context.Context) (pgx.Tx, error) { panic("not implemented") }
func (m *mockTx) Commit(ctx context.Context) error {
	m.committed = true
	return m.commitErr
}
func (m *mockTx) Rollback(ctx context.Context) error {
	m.rolledBack = true
	return m.rollbackErr
}
func (m *mockTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}
func (m *mockTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}
func (m *mockTx) LargeObjects() pgx.LargeObjects { panic("not implemented") }
func (m *mockTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}
func (m *mockTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}
func (m *mockTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	panic("not implemented")
}
func (m *mockTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	panic("not implemented")
}
func (m *mockTx) Conn() *pgx.Conn { panic("not implemented") }

// mockTxBeginner implements TxBeginner.
type mockTxBeginner struct {
	tx  pgx.Tx
	err error
}

func (m *mockTxBeginner) Begin(ctx context.Context) (pgx.Tx, error) {
	return m.tx, m.err
}

// mockOrderStore implements OrderStore with configurable behavior.
type mockOrderStore struct {
	getTableFn               func(ctx context.Context, arg database.GetTableParams) (database.Table, error)
	getOpenSessionFn         func(ctx context.Context, tableID uuid.UUID) (database.TableSession, error)
	createTableSessionFn     func(ctx context.Context, arg database.CreateTableSessionParams) (database.TableSession, error)
	getMenuItemForOrderFn    func(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error)
	createOrderFn            func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error)
	createOrderItemFn        func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error)
	getOrderFn               func(ctx context.Context, id uuid.UUID) (database.Order, error)
	getOrderInShopFn         func(ctx context.Context, arg database.GetOrderInShopParams) (database.Order, error)
	listOrderItemsFn         func(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
	getOrderItemsForUpdateFn func(ctx context.Context, arg database.GetOrderItemsForUpdateParams) ([]database.OrderItem, error)
	updateOrderItemsStatusFn func(ctx context.Context, arg database.UpdateOrderItemsStatusParams) ([]database.OrderItem, error)
	updateOrderTotalFn       func(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error)
}

func (m *mockOrderStore) GetTable(ctx context.Context, arg database.GetTableParams) (database.Table, error) {
	return m.getTableFn(ctx, arg)
}
func (m *mockOrderStore) GetOpenSessionForTable(ctx context.Context, tableID uuid.UUID) (database.TableSession, error) {
	return m.getOpenSessionFn(ctx, tableID)
}
func (m *mockOrderStore) CreateTableSession(ctx context.Context, arg database.CreateTableSessionParams) (database.TableSession, error) {
	return m.createTableSessionFn(ctx, arg)
}
func (m *mockOrderStore) GetMenuItemForOrder(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error) {
	return m.getMenuItemForOrderFn(ctx, arg)
}
func (m *mockOrderStore) CreateOrder(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
	return m.createOrderFn(ctx, arg)
}
func (m *mockOrderStore) CreateOrderItem(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
	return m.createOrderItemFn(ctx, arg)
}
func (m *mockOrderStore) GetOrder(ctx context.Context, id uuid.UUID) (database.Order, error) {
	return m.getOrderFn(ctx, id)
}
func (m *mockOrderStore) GetOrderInShop(ctx context.Context, arg database.GetOrderInShopParams) (database.Order, error) {
	return m.getOrderInShopFn(ctx, arg)
}
func (m *mockOrderStore) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error) {
	return m.listOrderItemsFn(ctx, orderID)
}
func (m *mockOrderStore) GetOrderItemsForUpdate(ctx context.Context, arg database.GetOrderItemsForUpdateParams) ([]database.OrderItem, error) {
	return m.getOrderItemsForUpdateFn(ctx, arg)
}
func (m *mockOrderStore) UpdateOrderItemsStatus(ctx context.Context, arg database.UpdateOrderItemsStatusParams) ([]database.OrderItem, error) {
	return m.updateOrderItemsStatusFn(ctx, arg)
}
func (m *mockOrderStore) UpdateOrderTotal(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error) {
	return m.updateOrderTotalFn(ctx, arg)
}

// --- Test helpers ---

func makeNumeric(val string) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(val)
	return n
}

func numericEquals(n pgtype.Numeric, expected string) bool {
	d := numericToDecimal(n)
	exp, _ := decimal.NewFromString(expected)
	return d.Equal(exp)
}

func money(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

// newTestService creates an OrderService with mocked dependencies.
// store is the mock OrderStore that will be returned by the NewOrderStore factory.
func newTestService(store *mockOrderStore) (*OrderService, *mockTx) {
	tx := &mockTx{}
	pool := &mockTxBeginner{tx: tx}
	newStore := func(db database.DBTX) OrderStore { return store }
	return NewOrderService(pool, newStore), tx
}

func testCart(shopID, tableID uuid.UUID, lines ...cart.Line) *cart.Cart {
	return &cart.Cart{ShopID: shopID, TableID: tableID, Lines: lines}
}

func testLine(menuItemID uuid.UUID, name string, qty int32, unitPrice string) cart.Line {
	p := money(unitPrice)
	return cart.Line{
		CartItemID:     uuid.NewString(),
		MenuItemID:     menuItemID,
		Name:           name,
		Quantity:       qty,
		BasePrice:      p,
		FinalUnitPrice: p,
	}
}

// defaultStore returns a mockOrderStore with sensible defaults for a basic
// dine-in submission. Individual tests override the functions they care about.
func defaultStore(shopID, tableID uuid.UUID, available map[uuid.UUID]bool) *mockOrderStore {
	var created []database.OrderItem
	store := &mockOrderStore{
		getTableFn: func(ctx context.Context, arg database.GetTableParams) (database.Table, error) {
			if arg.ID == tableID && arg.ShopID == shopID {
				return database.Table{ID: tableID, ShopID: shopID, Number: "7", IsActive: true}, nil
			}
			return database.Table{}, pgx.ErrNoRows
		},
		getOpenSessionFn: func(ctx context.Context, tid uuid.UUID) (database.TableSession, error) {
			return database.TableSession{}, pgx.ErrNoRows
		},
		createTableSessionFn: func(ctx context.Context, arg database.CreateTableSessionParams) (database.TableSession, error) {
			return database.TableSession{
				ID:      uuid.New(),
				ShopID:  arg.ShopID,
				TableID: arg.TableID,
				Status:  enum.SessionStatusOpen,
			}, nil
		},
		getMenuItemForOrderFn: func(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error) {
			avail, ok := available[arg.ID]
			if !ok {
				return database.MenuItem{}, pgx.ErrNoRows
			}
			return database.MenuItem{
				ID:          arg.ID,
				ShopID:      arg.ShopID,
				IsAvailable: avail,
				IsActive:    true,
			}, nil
		},
		createOrderFn: func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
			return database.Order{
				ID:            uuid.New(),
				ShopID:        arg.ShopID,
				SessionID:     arg.SessionID,
				TableNumber:   arg.TableNumber,
				Status:        enum.OrderStatusOpen,
				CustomerNotes: arg.CustomerNotes,
				Total:         arg.Total,
				OrderToken:    arg.OrderToken,
			}, nil
		},
		createOrderItemFn: func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
			item := database.OrderItem{
				ID:             uuid.New(),
				OrderID:        arg.OrderID,
				MenuItemID:     arg.MenuItemID,
				BatchID:        arg.BatchID,
				Name:           arg.Name,
				UnitPrice:      arg.UnitPrice,
				SelectionsKey:  arg.SelectionsKey,
				PriceSnapshot:  arg.PriceSnapshot,
				SpecialRequest: arg.SpecialRequest,
				Status:         enum.ItemStatusPending,
				CreatedAt:      time.Now(),
			}
			created = append(created, item)
			return item, nil
		},
	}
	return store
}

// --- Submit ---

func TestSubmit_CreatesOrderWithPerUnitItems(t *testing.T) {
	shopID := uuid.New()
	tableID := uuid.New()
	burgerID := uuid.New()
	friesID := uuid.New()

	store := defaultStore(shopID, tableID, map[uuid.UUID]bool{
		burgerID: true,
		friesID:  true,
	})
	svc, tx := newTestService(store)

	c := testCart(shopID, tableID,
		testLine(burgerID, "Burger", 2, "12.00"),
		testLine(friesID, "Fries", 1, "4.50"),
	)

	result, err := svc.Submit(context.Background(), SubmitRequest{
		ShopID:  shopID,
		TableID: tableID,
		Cart:    c,
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !tx.committed {
		t.Error("transaction was not committed")
	}

	// 2 burgers + 1 fries = 3 physical unit rows
	if len(result.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(result.Items))
	}
	if !numericEquals(result.Order.Total, "28.50") {
		t.Errorf("order total = %v, want 28.50", numericToDecimal(result.Order.Total))
	}
	if result.OrderToken == "" {
		t.Error("order token not issued")
	}
	if len(result.OrderToken) != 64 {
		t.Errorf("order token length = %d, want 64 hex chars", len(result.OrderToken))
	}

	// All items of one submission share one batch id
	batch := result.Items[0].BatchID
	for _, it := range result.Items {
		if it.BatchID != batch {
			t.Error("items of one submission have different batch ids")
		}
		if it.Status != enum.ItemStatusPending {
			t.Errorf("new item status = %s, want PENDING", it.Status)
		}
	}
	if !result.Order.SessionID.Valid {
		t.Error("dine-in order not attached to a table session")
	}
	if result.Order.TableNumber.String != "7" {
		t.Errorf("table number = %q, want 7", result.Order.TableNumber.String)
	}
}

func TestSubmit_AllOrNothingOnUnavailable(t *testing.T) {
	shopID := uuid.New()
	tableID := uuid.New()
	okID := uuid.New()
	soldOutID := uuid.New()
	removedID := uuid.New()

	store := defaultStore(shopID, tableID, map[uuid.UUID]bool{
		okID:      true,
		soldOutID: false,
		// removedID absent: deleted from the menu entirely
	})
	orderCreated := false
	store.createOrderFn = func(ctx context.Context, arg database.CreateOrderParams) (database.Order, error) {
		orderCreated = true
		return database.Order{}, nil
	}
	itemsCreated := 0
	baseCreateItem := store.createOrderItemFn
	store.createOrderItemFn = func(ctx context.Context, arg database.CreateOrderItemParams) (database.OrderItem, error) {
		itemsCreated++
		return baseCreateItem(ctx, arg)
	}
	svc, tx := newTestService(store)

	c := testCart(shopID, tableID,
		testLine(okID, "Burger", 1, "12.00"),
		testLine(soldOutID, "Soup", 1, "6.00"),
		testLine(removedID, "Special", 1, "9.00"),
	)

	_, err := svc.Submit(context.Background(), SubmitRequest{
		ShopID:  shopID,
		TableID: tableID,
		Cart:    c,
	})

	var unavailable *UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("expected *UnavailableError, got %v", err)
	}
	// Both failures reported at once, the valid line is not
	if len(unavailable.Items) != 2 {
		t.Fatalf("expected 2 rejections, got %d", len(unavailable.Items))
	}
	reasons := map[uuid.UUID]string{}
	for _, r := range unavailable.Items {
		reasons[r.MenuItemID] = r.Reason
	}
	if reasons[soldOutID] != "currently unavailable" {
		t.Errorf("sold-out reason = %q", reasons[soldOutID])
	}
	if reasons[removedID] != "no longer available" {
		t.Errorf("removed reason = %q", reasons[removedID])
	}

	// Nothing persisted
	if orderCreated {
		t.Error("order was created despite rejections")
	}
	if itemsCreated != 0 {
		t.Errorf("%d items created despite rejections", itemsCreated)
	}
	if tx.committed {
		t.Error("transaction was committed despite rejections")
	}
	if !tx.rolledBack {
		t.Error("transaction was not rolled back")
	}
}

func TestSubmit_EmptyCart(t *testing.T) {
	svc, _ := newTestService(&mockOrderStore{})

	_, err := svc.Submit(context.Background(), SubmitRequest{
		ShopID: uuid.New(),
		Cart:   testCart(uuid.New(), uuid.Nil),
	})
	if !errors.Is(err, ErrEmptyCart) {
		t.Errorf("expected ErrEmptyCart, got %v", err)
	}
}

func TestSubmit_CartWithUnresolvedFlags(t *testing.T) {
	shopID := uuid.New()
	itemID := uuid.New()
	svc, _ := newTestService(&mockOrderStore{})

	c := testCart(shopID, uuid.Nil, testLine(itemID, "Burger", 1, "12.00"))
	c.MarkUnavailable([]cart.Rejection{{MenuItemID: itemID, Name: "Burger", Reason: "currently unavailable"}})

	_, err := svc.Submit(context.Background(), SubmitRequest{ShopID: shopID, Cart: c})
	if !errors.Is(err, ErrCartFlagged) {
		t.Errorf("expected ErrCartFlagged, got %v", err)
	}
}

func TestSubmit_TakeawayHasNoSession(t *testing.T) {
	shopID := uuid.New()
	itemID := uuid.New()

	store := defaultStore(shopID, uuid.New(), map[uuid.UUID]bool{itemID: true})
	store.getTableFn = func(ctx context.Context, arg database.GetTableParams) (database.Table, error) {
		t.Error("GetTable should not be called for takeaway")
		return database.Table{}, pgx.ErrNoRows
	}
	svc, _ := newTestService(store)

	result, err := svc.Submit(context.Background(), SubmitRequest{
		ShopID:  shopID,
		TableID: uuid.Nil,
		Cart:    testCart(shopID, uuid.Nil, testLine(itemID, "Burger", 1, "12.00")),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.Order.SessionID.Valid {
		t.Error("takeaway order should not have a session")
	}
	if result.Order.TableNumber.Valid {
		t.Error("takeaway order should not have a table number")
	}
}

func TestSubmit_ReusesOpenSession(t *testing.T) {
	shopID := uuid.New()
	tableID := uuid.New()
	itemID := uuid.New()
	existingSession := uuid.New()

	store := defaultStore(shopID, tableID, map[uuid.UUID]bool{itemID: true})
	store.getOpenSessionFn = func(ctx context.Context, tid uuid.UUID) (database.TableSession, error) {
		return database.TableSession{ID: existingSession, ShopID: shopID, TableID: tid, Status: enum.SessionStatusOpen}, nil
	}
	store.createTableSessionFn = func(ctx context.Context, arg database.CreateTableSessionParams) (database.TableSession, error) {
		t.Error("a new session should not be opened while one is open")
		return database.TableSession{}, nil
	}
	svc, _ := newTestService(store)

	result, err := svc.Submit(context.Background(), SubmitRequest{
		ShopID:  shopID,
		TableID: tableID,
		Cart:    testCart(shopID, tableID, testLine(itemID, "Burger", 1, "12.00")),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if uuid.UUID(result.Order.SessionID.Bytes) != existingSession {
		t.Error("order not attached to the existing open session")
	}
}

// --- AppendItems ---

func TestAppendItems_NewRoundAndTotal(t *testing.T) {
	shopID := uuid.New()
	orderID := uuid.New()
	itemID := uuid.New()
	firstBatch := uuid.New()

	store := defaultStore(shopID, uuid.New(), map[uuid.UUID]bool{itemID: true})
	store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return database.Order{
			ID:         orderID,
			ShopID:     shopID,
			Status:     enum.OrderStatusOpen,
			Total:      makeNumeric("28.50"),
			OrderToken: "tok-abc",
		}, nil
	}
	var updatedTotal pgtype.Numeric
	store.updateOrderTotalFn = func(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error) {
		updatedTotal = arg.Total
		return database.Order{ID: arg.ID, ShopID: shopID, Status: enum.OrderStatusOpen, Total: arg.Total, OrderToken: "tok-abc"}, nil
	}
	svc, tx := newTestService(store)

	c := testCart(shopID, uuid.Nil, testLine(itemID, "Brownie", 2, "5.00"))

	result, err := svc.AppendItems(context.Background(), orderID, "tok-abc", c)
	if err != nil {
		t.Fatalf("AppendItems: %v", err)
	}
	if !tx.committed {
		t.Error("transaction was not committed")
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Items))
	}
	if result.Items[0].BatchID == firstBatch {
		t.Error("appended items must get a fresh batch id")
	}
	if !numericEquals(updatedTotal, "38.50") {
		t.Errorf("updated total = %v, want 38.50", numericToDecimal(updatedTotal))
	}
}

func TestAppendItems_WrongToken(t *testing.T) {
	shopID := uuid.New()
	itemID := uuid.New()

	store := defaultStore(shopID, uuid.New(), map[uuid.UUID]bool{itemID: true})
	store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return database.Order{ID: id, ShopID: shopID, Status: enum.OrderStatusOpen, OrderToken: "tok-real"}, nil
	}
	svc, tx := newTestService(store)

	_, err := svc.AppendItems(context.Background(), uuid.New(), "tok-forged",
		testCart(shopID, uuid.Nil, testLine(itemID, "Brownie", 1, "5.00")))
	if !errors.Is(err, ErrInvalidOrderToken) {
		t.Errorf("expected ErrInvalidOrderToken, got %v", err)
	}
	if tx.committed {
		t.Error("transaction committed on auth failure")
	}
}

func TestAppendItems_ClosedOrder(t *testing.T) {
	shopID := uuid.New()
	itemID := uuid.New()

	store := defaultStore(shopID, uuid.New(), map[uuid.UUID]bool{itemID: true})
	store.getOrderFn = func(ctx context.Context, id uuid.UUID) (database.Order, error) {
		return database.Order{ID: id, ShopID: shopID, Status: enum.OrderStatusCompleted, OrderToken: "tok-abc"}, nil
	}
	svc, _ := newTestService(store)

	_, err := svc.AppendItems(context.Background(), uuid.New(), "tok-abc",
		testCart(shopID, uuid.Nil, testLine(itemID, "Brownie", 1, "5.00")))
	if !errors.Is(err, ErrOrderClosed) {
		t.Errorf("expected ErrOrderClosed, got %v", err)
	}
}

// --- UpdateItemStatus ---

func statusStore(shopID, orderID uuid.UUID, items []database.OrderItem) *mockOrderStore {
	return &mockOrderStore{
		getOrderInShopFn: func(ctx context.Context, arg database.GetOrderInShopParams) (database.Order, error) {
			if arg.ID == orderID && arg.ShopID == shopID {
				return database.Order{ID: orderID, ShopID: shopID, Status: enum.OrderStatusOpen, Total: makeNumeric("20.00")}, nil
			}
			return database.Order{}, pgx.ErrNoRows
		},
		getOrderItemsForUpdateFn: func(ctx context.Context, arg database.GetOrderItemsForUpdateParams) ([]database.OrderItem, error) {
			want := make(map[uuid.UUID]bool, len(arg.IDs))
			for _, id := range arg.IDs {
				want[id] = true
			}
			var out []database.OrderItem
			for _, it := range items {
				if want[it.ID] {
					out = append(out, it)
				}
			}
			return out, nil
		},
		updateOrderItemsStatusFn: func(ctx context.Context, arg database.UpdateOrderItemsStatusParams) ([]database.OrderItem, error) {
			var out []database.OrderItem
			want := make(map[uuid.UUID]bool, len(arg.IDs))
			for _, id := range arg.IDs {
				want[id] = true
			}
			for _, it := range items {
				if want[it.ID] {
					it.Status = arg.Status
					out = append(out, it)
				}
			}
			return out, nil
		},
		listOrderItemsFn: func(ctx context.Context, oid uuid.UUID) ([]database.OrderItem, error) {
			return items, nil
		},
		updateOrderTotalFn: func(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error) {
			return database.Order{ID: arg.ID, Total: arg.Total}, nil
		},
	}
}

func pendingItem(orderID uuid.UUID, price string) database.OrderItem {
	return database.OrderItem{
		ID:        uuid.New(),
		OrderID:   orderID,
		BatchID:   uuid.New(),
		UnitPrice: makeNumeric(price),
		Status:    enum.ItemStatusPending,
		CreatedAt: time.Now(),
	}
}

func TestUpdateItemStatus_BulkTransition(t *testing.T) {
	shopID := uuid.New()
	orderID := uuid.New()
	a := pendingItem(orderID, "10.00")
	b := pendingItem(orderID, "10.00")

	svc, tx := newTestService(statusStore(shopID, orderID, []database.OrderItem{a, b}))

	updated, err := svc.UpdateItemStatus(context.Background(), UpdateItemStatusRequest{
		ShopID:  shopID,
		OrderID: orderID,
		ItemIDs: []uuid.UUID{a.ID, b.ID},
		Status:  enum.ItemStatusPreparing,
	})
	if err != nil {
		t.Fatalf("UpdateItemStatus: %v", err)
	}
	if !tx.committed {
		t.Error("transaction was not committed")
	}
	if len(updated) != 2 {
		t.Fatalf("expected 2 updated items, got %d", len(updated))
	}
	for _, it := range updated {
		if it.Status != enum.ItemStatusPreparing {
			t.Errorf("item status = %s, want PREPARING", it.Status)
		}
	}
}

func TestUpdateItemStatus_AllOrNothingOnBadTransition(t *testing.T) {
	shopID := uuid.New()
	orderID := uuid.New()
	a := pendingItem(orderID, "10.00")
	b := pendingItem(orderID, "10.00")
	b.Status = enum.ItemStatusReady // READY -> PREPARING is backward

	store := statusStore(shopID, orderID, []database.OrderItem{a, b})
	writeCalled := false
	baseUpdate := store.updateOrderItemsStatusFn
	store.updateOrderItemsStatusFn = func(ctx context.Context, arg database.UpdateOrderItemsStatusParams) ([]database.OrderItem, error) {
		writeCalled = true
		return baseUpdate(ctx, arg)
	}
	svc, tx := newTestService(store)

	_, err := svc.UpdateItemStatus(context.Background(), UpdateItemStatusRequest{
		ShopID:  shopID,
		OrderID: orderID,
		ItemIDs: []uuid.UUID{a.ID, b.ID},
		Status:  enum.ItemStatusPreparing,
	})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if writeCalled {
		t.Error("status write happened despite an invalid transition in the batch")
	}
	if tx.committed {
		t.Error("transaction committed despite an invalid transition")
	}
}

func TestUpdateItemStatus_UnknownItemFailsWholeBatch(t *testing.T) {
	shopID := uuid.New()
	orderID := uuid.New()
	a := pendingItem(orderID, "10.00")

	svc, _ := newTestService(statusStore(shopID, orderID, []database.OrderItem{a}))

	_, err := svc.UpdateItemStatus(context.Background(), UpdateItemStatusRequest{
		ShopID:  shopID,
		OrderID: orderID,
		ItemIDs: []uuid.UUID{a.ID, uuid.New()},
		Status:  enum.ItemStatusPreparing,
	})
	if !errors.Is(err, ErrUnknownItems) {
		t.Errorf("expected ErrUnknownItems, got %v", err)
	}
}

func TestUpdateItemStatus_RejectRecomputesTotal(t *testing.T) {
	shopID := uuid.New()
	orderID := uuid.New()
	keep := pendingItem(orderID, "12.00")
	reject := pendingItem(orderID, "8.00")

	items := []database.OrderItem{keep, reject}
	store := statusStore(shopID, orderID, items)
	var newTotal pgtype.Numeric
	store.updateOrderItemsStatusFn = func(ctx context.Context, arg database.UpdateOrderItemsStatusParams) ([]database.OrderItem, error) {
		reject.Status = arg.Status
		return []database.OrderItem{reject}, nil
	}
	store.listOrderItemsFn = func(ctx context.Context, oid uuid.UUID) ([]database.OrderItem, error) {
		return []database.OrderItem{keep, reject}, nil
	}
	store.updateOrderTotalFn = func(ctx context.Context, arg database.UpdateOrderTotalParams) (database.Order, error) {
		newTotal = arg.Total
		return database.Order{ID: arg.ID, Total: arg.Total}, nil
	}
	svc, _ := newTestService(store)

	_, err := svc.UpdateItemStatus(context.Background(), UpdateItemStatusRequest{
		ShopID:  shopID,
		OrderID: orderID,
		ItemIDs: []uuid.UUID{reject.ID},
		Status:  enum.ItemStatusRejected,
	})
	if err != nil {
		t.Fatalf("UpdateItemStatus: %v", err)
	}
	if !numericEquals(newTotal, "12.00") {
		t.Errorf("recomputed total = %v, want 12.00 (rejected unit excluded)", numericToDecimal(newTotal))
	}
}

func TestUpdateItemStatus_ShopScoping(t *testing.T) {
	shopID := uuid.New()
	orderID := uuid.New()
	a := pendingItem(orderID, "10.00")

	svc, _ := newTestService(statusStore(shopID, orderID, []database.OrderItem{a}))

	_, err := svc.UpdateItemStatus(context.Background(), UpdateItemStatusRequest{
		ShopID:  uuid.New(), // staff token from another shop
		OrderID: orderID,
		ItemIDs: []uuid.UUID{a.ID},
		Status:  enum.ItemStatusPreparing,
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestUpdateItemStatus_InvalidStatus(t *testing.T) {
	svc, _ := newTestService(&mockOrderStore{})

	_, err := svc.UpdateItemStatus(context.Background(), UpdateItemStatusRequest{
		ShopID:  uuid.New(),
		OrderID: uuid.New(),
		ItemIDs: []uuid.UUID{uuid.New()},
		Status:  enum.ItemStatus("BURNED"),
	})
	if !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

// --- Token checks ---

func TestCheckOrderToken(t *testing.T) {
	orderID := uuid.New()
	store := &mockOrderStore{
		getOrderFn: func(ctx context.Context, id uuid.UUID) (database.Order, error) {
			if id == orderID {
				return database.Order{ID: orderID, OrderToken: "tok-abc"}, nil
			}
			return database.Order{}, pgx.ErrNoRows
		},
	}
	svc, _ := newTestService(store)

	if err := svc.CheckOrderToken(context.Background(), orderID, "tok-abc"); err != nil {
		t.Errorf("valid token rejected: %v", err)
	}
	if err := svc.CheckOrderToken(context.Background(), orderID, "tok-bad"); !errors.Is(err, ErrInvalidOrderToken) {
		t.Errorf("expected ErrInvalidOrderToken, got %v", err)
	}
	if err := svc.CheckOrderToken(context.Background(), uuid.New(), "tok-abc"); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound, got %v", err)
	}
}

// Frozen price end to end: a selection-priced line keeps its cart price in the
// stored unit rows regardless of what the menu says at submission time.
func TestSubmit_FrozenPriceSurvivesMenuEdit(t *testing.T) {
	shopID := uuid.New()
	latteID := uuid.New()

	store := defaultStore(shopID, uuid.New(), map[uuid.UUID]bool{latteID: true})
	// Menu now says the base price doubled; the cart line was priced earlier.
	store.getMenuItemForOrderFn = func(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error) {
		return database.MenuItem{ID: latteID, ShopID: shopID, BasePrice: makeNumeric("9.00"), IsAvailable: true, IsActive: true}, nil
	}
	svc, _ := newTestService(store)

	line := testLine(latteID, "Latte", 1, "5.50")
	line.Selections = []pricing.Selection{
		{Kind: pricing.OptionKindSize, Group: "Size", Label: "Large", Price: money("5.00")},
		{Kind: pricing.OptionKindAddon, Group: "Milk", Label: "Oat", Price: money("0.50")},
	}

	result, err := svc.Submit(context.Background(), SubmitRequest{
		ShopID: shopID,
		Cart:   testCart(shopID, uuid.Nil, line),
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !numericEquals(result.Items[0].UnitPrice, "5.50") {
		t.Errorf("stored unit price = %v, want the frozen 5.50", numericToDecimal(result.Items[0].UnitPrice))
	}
	if !numericEquals(result.Order.Total, "5.50") {
		t.Errorf("order total = %v, want 5.50", numericToDecimal(result.Order.Total))
	}
}
