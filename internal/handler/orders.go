package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tably/api/internal/cart"
	"github.com/tably/api/internal/database"
	"github.com/tably/api/internal/enum"
	"github.com/tably/api/internal/rounds"
	"github.com/tably/api/internal/service"
	"github.com/tably/api/internal/ws"
)

// orderTokenHeader carries the per-order credential issued at submission.
const orderTokenHeader = "X-Order-Token"

// OrderService is the slice of the order service the handlers use.
type OrderService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*service.SubmitResult, error)
	AppendItems(ctx context.Context, orderID uuid.UUID, token string, c *cart.Cart) (*service.SubmitResult, error)
	GetOrderForDevice(ctx context.Context, orderID uuid.UUID, token string) (database.Order, []database.OrderItem, error)
	UpdateItemStatus(ctx context.Context, req service.UpdateItemStatusRequest) ([]database.OrderItem, error)
}

// OrderReadStore defines the database methods for staff-side order reads.
// Satisfied by *database.Queries.
type OrderReadStore interface {
	ListOrders(ctx context.Context, arg database.ListOrdersParams) ([]database.Order, error)
	GetOrderInShop(ctx context.Context, arg database.GetOrderInShopParams) (database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
}

// Broadcaster is the slice of the websocket hub the handlers use.
type Broadcaster interface {
	BroadcastOrderEvent(shopID, orderID uuid.UUID, event ws.Event)
}

// OrderHandler handles order submission and reads for both devices and staff.
type OrderHandler struct {
	orders OrderService
	store  OrderReadStore
	carts  *cart.Store
	hub    Broadcaster
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orders OrderService, store OrderReadStore, carts *cart.Store, hub Broadcaster) *OrderHandler {
	return &OrderHandler{orders: orders, store: store, carts: carts, hub: hub}
}

// RegisterDeviceRoutes registers the unauthenticated device endpoints.
// Expected to be mounted inside /shops/{sid}.
func (h *OrderHandler) RegisterDeviceRoutes(r chi.Router) {
	r.Post("/orders", h.Submit)
	r.Get("/orders/{id}", h.GetForDevice)
	r.Post("/orders/{id}/items", h.Append)
}

// RegisterStaffRoutes registers the authenticated staff endpoints.
// Expected to be mounted inside a shop-scoped subrouter.
func (h *OrderHandler) RegisterStaffRoutes(r chi.Router) {
	r.Get("/orders", h.List)
	r.Get("/orders/{id}", h.GetForStaff)
	r.Patch("/orders/{id}/items/status", h.UpdateItemStatus)
}

// --- Response types ---

type orderResponse struct {
	ID          uuid.UUID       `json:"id"`
	ShopID      uuid.UUID       `json:"shop_id"`
	SessionID   *uuid.UUID      `json:"session_id"`
	TableNumber *string         `json:"table_number"`
	Status      string          `json:"status"`
	Notes       *string         `json:"notes"`
	Total       string          `json:"total"`
	CreatedAt   time.Time       `json:"created_at"`
	Rounds      []roundResponse `json:"rounds"`
}

type roundResponse struct {
	Number      int                 `json:"number"`
	SubmittedAt time.Time           `json:"submitted_at"`
	Items       []itemGroupResponse `json:"items"`
}

type itemGroupResponse struct {
	MenuItemID     uuid.UUID        `json:"menu_item_id"`
	Name           string           `json:"name"`
	UnitPrice      string           `json:"unit_price"`
	Quantity       int              `json:"quantity"`
	SpecialRequest string           `json:"special_request,omitempty"`
	Status         *enum.ItemStatus `json:"status"`
	Units          []unitResponse   `json:"units"`
}

type unitResponse struct {
	ID     uuid.UUID       `json:"id"`
	Status enum.ItemStatus `json:"status"`
}

type submitResponse struct {
	Order      orderResponse `json:"order"`
	OrderToken string        `json:"order_token,omitempty"`
}

func toOrderResponse(o database.Order, items []database.OrderItem) orderResponse {
	resp := orderResponse{
		ID:        o.ID,
		ShopID:    o.ShopID,
		Status:    string(o.Status),
		Total:     moneyString(o.Total),
		CreatedAt: o.CreatedAt,
		Rounds:    []roundResponse{},
	}
	if o.SessionID.Valid {
		sid := uuid.UUID(o.SessionID.Bytes)
		resp.SessionID = &sid
	}
	if o.TableNumber.Valid {
		resp.TableNumber = &o.TableNumber.String
	}
	if o.CustomerNotes.Valid {
		resp.Notes = &o.CustomerNotes.String
	}

	for _, round := range rounds.GroupIntoRounds(service.ItemsToRounds(items)) {
		rr := roundResponse{
			Number:      round.Number,
			SubmittedAt: round.SubmittedAt,
		}
		for _, g := range rounds.GroupItems(round.Items) {
			gr := itemGroupResponse{
				MenuItemID:     g.MenuItemID,
				Name:           g.Name,
				UnitPrice:      g.UnitPrice.StringFixed(2),
				Quantity:       g.Count,
				SpecialRequest: g.SpecialRequest,
			}
			if g.StatusUniform {
				status := g.Status
				gr.Status = &status
			}
			for _, it := range g.Items {
				gr.Units = append(gr.Units, unitResponse{ID: it.ID, Status: it.Status})
			}
			rr.Items = append(rr.Items, gr)
		}
		resp.Rounds = append(resp.Rounds, rr)
	}
	return resp
}

type orderEventPayload struct {
	OrderID     uuid.UUID `json:"order_id"`
	TableNumber *string   `json:"table_number,omitempty"`
}

func (h *OrderHandler) broadcast(o database.Order, eventType string) {
	event := orderEventPayload{OrderID: o.ID}
	if o.TableNumber.Valid {
		event.TableNumber = &o.TableNumber.String
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.hub.BroadcastOrderEvent(o.ShopID, o.ID, ws.Event{Type: eventType, Payload: payload})
}

// --- Device handlers ---

// Submit turns the device's cart into an order. On success the cart is
// cleared and the order token returned exactly once. Rejected submissions
// come back as 409 with the full rejection list and leave the cart intact,
// flagged.
func (h *OrderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	key, errMsg := cartKey(r)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	c, err := h.carts.Get(r.Context(), key)
	if err != nil {
		log.Printf("ERROR: load cart: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	result, err := h.orders.Submit(r.Context(), service.SubmitRequest{
		ShopID:  key.ShopID,
		TableID: key.TableID,
		Cart:    c,
	})
	if err != nil {
		h.writeSubmitError(w, r, key, err)
		return
	}

	if err := h.carts.Clear(r.Context(), key); err != nil {
		log.Printf("ERROR: clear cart after submit: %v", err)
	}

	h.broadcast(result.Order, ws.EventOrderCreated)

	writeJSON(w, http.StatusCreated, submitResponse{
		Order:      toOrderResponse(result.Order, result.Items),
		OrderToken: result.OrderToken,
	})
}

// Append adds the device's current cart to an existing open order as a new
// round, then clears the cart.
func (h *OrderHandler) Append(w http.ResponseWriter, r *http.Request) {
	key, errMsg := cartKey(r)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}
	token := r.Header.Get(orderTokenHeader)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + orderTokenHeader + " header"})
		return
	}

	c, err := h.carts.Get(r.Context(), key)
	if err != nil {
		log.Printf("ERROR: load cart: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	result, err := h.orders.AppendItems(r.Context(), orderID, token, c)
	if err != nil {
		h.writeSubmitError(w, r, key, err)
		return
	}

	if err := h.carts.Clear(r.Context(), key); err != nil {
		log.Printf("ERROR: clear cart after append: %v", err)
	}

	h.broadcast(result.Order, ws.EventOrderItemsAdded)

	// Full order view, not just the new round
	items, err := h.store.ListOrderItemsByOrder(r.Context(), result.Order.ID)
	if err != nil {
		log.Printf("ERROR: list order items: %v", err)
		items = result.Items
	}
	writeJSON(w, http.StatusOK, submitResponse{Order: toOrderResponse(result.Order, items)})
}

// GetForDevice returns an order to the device that placed it.
func (h *OrderHandler) GetForDevice(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}
	token := r.Header.Get(orderTokenHeader)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing " + orderTokenHeader + " header"})
		return
	}

	order, items, err := h.orders.GetOrderForDevice(r.Context(), orderID, token)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, service.ErrInvalidOrderToken):
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid order token"})
		default:
			log.Printf("ERROR: get order: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, toOrderResponse(order, items))
}

// writeSubmitError maps submission/append failures. Unavailable rejections
// flag the stored cart so the next cart read shows them.
func (h *OrderHandler) writeSubmitError(w http.ResponseWriter, r *http.Request, key cart.Key, err error) {
	var unavailable *service.UnavailableError
	switch {
	case errors.As(err, &unavailable):
		if _, flagErr := h.carts.Update(r.Context(), key, func(c *cart.Cart) error {
			c.MarkUnavailable(unavailable.Items)
			return nil
		}); flagErr != nil {
			log.Printf("ERROR: flag unavailable cart items: %v", flagErr)
		}
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":             "some items are unavailable",
			"unavailable_items": unavailable.Items,
		})
	case errors.Is(err, service.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "cart is empty"})
	case errors.Is(err, service.ErrCartFlagged):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "resolve unavailable items before submitting"})
	case errors.Is(err, service.ErrTableNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "table not found"})
	case errors.Is(err, service.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
	case errors.Is(err, service.ErrInvalidOrderToken):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid order token"})
	case errors.Is(err, service.ErrOrderClosed):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "order is no longer open"})
	case errors.Is(err, service.ErrInvalidLinePrice), errors.Is(err, service.ErrInvalidLineQty):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		log.Printf("ERROR: submit order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// --- Staff handlers ---

// List returns the shop's orders, optionally filtered by status, newest
// first.
func (h *OrderHandler) List(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}

	status := enum.OrderStatus(r.URL.Query().Get("status"))
	switch status {
	case "", enum.OrderStatusOpen, enum.OrderStatusCompleted, enum.OrderStatusCancelled:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status filter"})
		return
	}

	orders, err := h.store.ListOrders(r.Context(), database.ListOrdersParams{
		ShopID: shopID,
		Status: status,
		Limit:  100,
	})
	if err != nil {
		log.Printf("ERROR: list orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]orderResponse, len(orders))
	for i, o := range orders {
		items, err := h.store.ListOrderItemsByOrder(r.Context(), o.ID)
		if err != nil {
			log.Printf("ERROR: list order items: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
		resp[i] = toOrderResponse(o, items)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetForStaff returns a single order with its round view.
func (h *OrderHandler) GetForStaff(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	order, err := h.store.GetOrderInShop(r.Context(), database.GetOrderInShopParams{
		ID:     orderID,
		ShopID: shopID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
			return
		}
		log.Printf("ERROR: get order: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	items, err := h.store.ListOrderItemsByOrder(r.Context(), orderID)
	if err != nil {
		log.Printf("ERROR: list order items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order, items))
}

type updateItemStatusRequest struct {
	ItemIDs []uuid.UUID `json:"item_ids"`
	Status  string      `json:"status"`
}

// UpdateItemStatus moves a set of items of one order to a new status,
// all-or-nothing.
func (h *OrderHandler) UpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}
	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order ID"})
		return
	}

	var req updateItemStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	updated, err := h.orders.UpdateItemStatus(r.Context(), service.UpdateItemStatusRequest{
		ShopID:  shopID,
		OrderID: orderID,
		ItemIDs: req.ItemIDs,
		Status:  enum.ItemStatus(req.Status),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoItems), errors.Is(err, service.ErrInvalidStatus):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, service.ErrOrderNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
		case errors.Is(err, service.ErrUnknownItems):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidTransition):
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: update item status: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	order, err := h.store.GetOrderInShop(r.Context(), database.GetOrderInShopParams{ID: orderID, ShopID: shopID})
	if err != nil {
		log.Printf("ERROR: get order after status update: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	h.broadcast(order, ws.EventItemsStatusUpdated)

	resp := make([]unitResponse, len(updated))
	for i, it := range updated {
		resp[i] = unitResponse{ID: it.ID, Status: it.Status}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": resp, "order_total": moneyString(order.Total)})
}
