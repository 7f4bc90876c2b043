package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/tably/api/internal/enum"
)

const orderColumns = `id, shop_id, session_id, table_number, status,
	customer_notes, total, order_token, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.ShopID, &o.SessionID, &o.TableNumber, &o.Status,
		&o.CustomerNotes, &o.Total, &o.OrderToken, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

type CreateOrderParams struct {
	ShopID        uuid.UUID
	SessionID     pgtype.UUID
	TableNumber   pgtype.Text
	CustomerNotes pgtype.Text
	Total         pgtype.Numeric
	OrderToken    string
}

func (q *Queries) CreateOrder(ctx context.Context, arg CreateOrderParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO orders (shop_id, session_id, table_number, customer_notes, total, order_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+orderColumns,
		arg.ShopID, arg.SessionID, arg.TableNumber, arg.CustomerNotes,
		arg.Total, arg.OrderToken)
	return scanOrder(row)
}

// GetOrder fetches an order by id alone; the caller checks the order token.
// Used by the device-facing endpoints.
func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (Order, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	return scanOrder(row)
}

type GetOrderInShopParams struct {
	ID     uuid.UUID
	ShopID uuid.UUID
}

// GetOrderInShop is the staff-facing fetch, scoped to the caller's shop.
func (q *Queries) GetOrderInShop(ctx context.Context, arg GetOrderInShopParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = $1 AND shop_id = $2`,
		arg.ID, arg.ShopID)
	return scanOrder(row)
}

type ListOrdersParams struct {
	ShopID uuid.UUID
	Status enum.OrderStatus // empty = all
	Limit  int32
	Offset int32
}

func (q *Queries) ListOrders(ctx context.Context, arg ListOrdersParams) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE shop_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, arg.ShopID, string(arg.Status), arg.Limit, arg.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (q *Queries) ListOrdersBySession(ctx context.Context, sessionID uuid.UUID) ([]Order, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE session_id = $1
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

type UpdateOrderTotalParams struct {
	ID    uuid.UUID
	Total pgtype.Numeric
}

func (q *Queries) UpdateOrderTotal(ctx context.Context, arg UpdateOrderTotalParams) (Order, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE orders SET total = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, arg.ID, arg.Total)
	return scanOrder(row)
}

// --- Order items ---

const orderItemColumns = `id, order_id, menu_item_id, batch_id, name, unit_price,
	selections_key, price_snapshot, special_request, status, created_at`

func scanOrderItem(row interface{ Scan(...any) error }) (OrderItem, error) {
	var it OrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.BatchID, &it.Name,
		&it.UnitPrice, &it.SelectionsKey, &it.PriceSnapshot, &it.SpecialRequest,
		&it.Status, &it.CreatedAt)
	return it, err
}

type CreateOrderItemParams struct {
	OrderID        uuid.UUID
	MenuItemID     uuid.UUID
	BatchID        uuid.UUID
	Name           string
	UnitPrice      pgtype.Numeric
	SelectionsKey  string
	PriceSnapshot  []byte
	SpecialRequest pgtype.Text
}

func (q *Queries) CreateOrderItem(ctx context.Context, arg CreateOrderItemParams) (OrderItem, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO order_items (order_id, menu_item_id, batch_id, name, unit_price,
			selections_key, price_snapshot, special_request)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+orderItemColumns,
		arg.OrderID, arg.MenuItemID, arg.BatchID, arg.Name, arg.UnitPrice,
		arg.SelectionsKey, arg.PriceSnapshot, arg.SpecialRequest)
	return scanOrderItem(row)
}

func (q *Queries) ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderItemColumns+`
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type GetOrderItemsForUpdateParams struct {
	OrderID uuid.UUID
	IDs     []uuid.UUID
}

// GetOrderItemsForUpdate locks the given items of an order for the duration
// of the surrounding transaction. Items belonging to other orders are not
// returned; the caller detects the shortfall.
func (q *Queries) GetOrderItemsForUpdate(ctx context.Context, arg GetOrderItemsForUpdateParams) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+orderItemColumns+`
		FROM order_items
		WHERE order_id = $1 AND id = ANY($2)
		ORDER BY created_at, id
		FOR UPDATE`, arg.OrderID, arg.IDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

type UpdateOrderItemsStatusParams struct {
	OrderID uuid.UUID
	IDs     []uuid.UUID
	Status  enum.ItemStatus
}

// UpdateOrderItemsStatus sets the status of the given items. Price, name,
// selections, and snapshot columns are never touched here.
func (q *Queries) UpdateOrderItemsStatus(ctx context.Context, arg UpdateOrderItemsStatusParams) ([]OrderItem, error) {
	rows, err := q.db.Query(ctx, `
		UPDATE order_items
		SET status = $3
		WHERE order_id = $1 AND id = ANY($2)
		RETURNING `+orderItemColumns, arg.OrderID, arg.IDs, arg.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []OrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
