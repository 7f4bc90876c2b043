package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tably/api/internal/cart"
	"github.com/tably/api/internal/database"
	"github.com/tably/api/internal/pricing"
)

// deviceIDHeader carries the anonymous device identity generated by the
// customer's browser on first visit. Carts are scoped to it.
const deviceIDHeader = "X-Device-ID"

// CartMenuStore defines the database methods the cart handlers need to price
// additions. Satisfied by *database.Queries.
type CartMenuStore interface {
	GetMenuItem(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error)
}

// CartHandler handles the device-side cart endpoints. All state lives in the
// cart store; the database is only consulted to price additions.
type CartHandler struct {
	carts *cart.Store
	menu  CartMenuStore
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(carts *cart.Store, menu CartMenuStore) *CartHandler {
	return &CartHandler{carts: carts, menu: menu}
}

// RegisterRoutes registers cart endpoints on the given Chi router.
// Expected to be mounted inside a shop-scoped subrouter: /shops/{sid}/cart
func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Get)
	r.Delete("/", h.Clear)
	r.Post("/items", h.AddItem)
	r.Patch("/items/{itemID}", h.UpdateQuantity)
	r.Post("/items/{itemID}/remove-one", h.RemoveOne)
	r.Delete("/items/{itemID}", h.RemoveItem)
	r.Put("/notes", h.SetNotes)
	r.Post("/remove-unavailable", h.RemoveUnavailable)
}

// --- Request / Response types ---

type selectionRequest struct {
	Kind  string `json:"kind"`
	Group string `json:"group"`
	Label string `json:"label"`
}

type addItemRequest struct {
	MenuItemID     string             `json:"menu_item_id"`
	Quantity       int32              `json:"quantity"`
	Selections     []selectionRequest `json:"selections"`
	SpecialRequest string             `json:"special_request"`
}

type updateQuantityRequest struct {
	Quantity *int32 `json:"quantity"`
}

type setNotesRequest struct {
	Notes string `json:"notes"`
}

type removeUnavailableRequest struct {
	MenuItemIDs []uuid.UUID `json:"menu_item_ids"`
}

type cartResponse struct {
	ShopID  uuid.UUID   `json:"shop_id"`
	TableID *uuid.UUID  `json:"table_id"`
	Lines   []cart.Line `json:"lines"`
	Notes   string      `json:"notes,omitempty"`
	Total   string      `json:"total"`
}

func toCartResponse(c *cart.Cart) cartResponse {
	resp := cartResponse{
		ShopID: c.ShopID,
		Lines:  c.Lines,
		Notes:  c.Notes,
		Total:  c.Total().StringFixed(2),
	}
	if resp.Lines == nil {
		resp.Lines = []cart.Line{}
	}
	if c.TableID != uuid.Nil {
		tid := c.TableID
		resp.TableID = &tid
	}
	return resp
}

// --- Helpers ---

// cartKey derives the storage key from the request. The table id is optional:
// takeaway carts have none.
func cartKey(r *http.Request) (cart.Key, string) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		return cart.Key{}, "invalid shop ID"
	}

	deviceID := r.Header.Get(deviceIDHeader)
	if deviceID == "" {
		return cart.Key{}, "missing " + deviceIDHeader + " header"
	}

	tableID := uuid.Nil
	if tid := r.URL.Query().Get("table_id"); tid != "" {
		tableID, err = uuid.Parse(tid)
		if err != nil {
			return cart.Key{}, "invalid table_id"
		}
	}

	return cart.Key{ShopID: shopID, TableID: tableID, DeviceID: deviceID}, ""
}

// menuItemPricing decodes a menu row's jsonb option blobs into the pricing
// engine's view.
func menuItemPricing(m database.MenuItem) (pricing.Item, error) {
	item := pricing.Item{
		BasePrice:   numericDecimal(m.BasePrice),
		SizeEnabled: m.SizeEnabled,
	}
	if len(m.SizeOptions) > 0 {
		if err := json.Unmarshal(m.SizeOptions, &item.SizeOptions); err != nil {
			return pricing.Item{}, fmt.Errorf("decode size options: %w", err)
		}
	}
	if len(m.OptionGroups) > 0 {
		if err := json.Unmarshal(m.OptionGroups, &item.OptionGroups); err != nil {
			return pricing.Item{}, fmt.Errorf("decode option groups: %w", err)
		}
	}
	return item, nil
}

// resolveSelections maps the client's kind/group/label choices onto the
// item's configured prices. Prices always come from the menu row, never from
// the request.
func resolveSelections(item pricing.Item, reqSels []selectionRequest) ([]pricing.Selection, error) {
	sels := make([]pricing.Selection, 0, len(reqSels))
	for _, rs := range reqSels {
		switch pricing.OptionKind(rs.Kind) {
		case pricing.OptionKindSize:
			found := false
			for _, so := range item.SizeOptions {
				if so.Label == rs.Label {
					sels = append(sels, pricing.Selection{
						Kind:  pricing.OptionKindSize,
						Group: "Size",
						Label: so.Label,
						Price: so.Price,
					})
					found = true
					break
				}
			}
			if !found {
				return nil, fmt.Errorf("unknown size %q", rs.Label)
			}
		case pricing.OptionKindAddon:
			found := false
			for _, g := range item.OptionGroups {
				if g.Name != rs.Group {
					continue
				}
				for _, v := range g.Values {
					if v.Label == rs.Label {
						sels = append(sels, pricing.Selection{
							Kind:  pricing.OptionKindAddon,
							Group: g.Name,
							Label: v.Label,
							Price: v.PriceDelta,
						})
						found = true
						break
					}
				}
			}
			if !found {
				return nil, fmt.Errorf("unknown option %q in group %q", rs.Label, rs.Group)
			}
		default:
			return nil, fmt.Errorf("unknown selection kind %q", rs.Kind)
		}
	}
	return sels, nil
}

// --- Handlers ---

// Get returns the device's current cart, creating an empty one on first use.
func (h *CartHandler) Get(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// AddItem prices a menu item with the chosen options and merges it into the
// cart. Re-adding the same item with the same options bumps the existing
// line's quantity instead of creating a duplicate.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	key, errMsg := cartKey(r)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	menuItemID, err := uuid.Parse(req.MenuItemID)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid menu_item_id"})
		return
	}
	if req.Quantity < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be >= 1"})
		return
	}

	m, err := h.menu.GetMenuItem(r.Context(), database.GetMenuItemParams{
		ID:     menuItemID,
		ShopID: key.ShopID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found"})
			return
		}
		log.Printf("ERROR: get menu item: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if !m.IsAvailable {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "menu item is currently unavailable"})
		return
	}

	item, err := menuItemPricing(m)
	if err != nil {
		log.Printf("ERROR: decode menu item options: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	sels, err := resolveSelections(item, req.Selections)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	c, err := h.carts.Update(r.Context(), key, func(c *cart.Cart) error {
		_, err := c.AddItem(menuItemID, m.Name, item, req.Quantity, sels, req.SpecialRequest)
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, pricing.ErrMissingSize),
			errors.Is(err, pricing.ErrMultipleSizes),
			errors.Is(err, pricing.ErrUnknownSize),
			errors.Is(err, pricing.ErrMissingRequiredGroup),
			errors.Is(err, pricing.ErrInvalidQuantity):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: add cart item: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}

	writeJSON(w, http.StatusOK, toCartResponse(c))
}

// UpdateQuantity sets a line's quantity. Zero or less removes the line.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	key, errMsg := cartKey(r)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Quantity == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity is required"})
		return
	}

	h.mutate(w, r, key, func(c *cart.Cart) error {
		return c.UpdateQuantity(chi.URLParam(r, "itemID"), *req.Quantity)
	})
}

// RemoveOne decrements a line by one.
func (h *CartHandler) RemoveOne(w http.ResponseWriter, r *http.Request) {
	key, errMsg := cartKey(r)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	h.mutate(w, r, key, func(c *cart.Cart) error {
		return c.RemoveOne(chi.URLParam(r, "itemID"))
	})
}

// RemoveItem removes a line entirely.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	key, errMsg := cartKey(r)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	h.mutate(w, r, key, func(c *cart.Cart) error {
		return c.RemoveItem(chi.URLParam(r, "itemID"))
	})
}

// SetNotes stores free-text notes for the whole order.
func (h *CartHandler) SetNotes(w http.ResponseWriter, r *http.Request) {
	key, errMsg := cartKey(r)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	var req setNotesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	h.mutate(w, r, key, func(c *cart.Cart) error {
		return c.SetNotes(req.Notes)
	})
}

// RemoveUnavailable bulk-removes every line of the given menu items. The
// customer uses this after a submission came back with rejections.
func (h *CartHandler) RemoveUnavailable(w http.ResponseWriter, r *http.Request) {
	key, errMsg := cartKey(r)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	var req removeUnavailableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	h.mutate(w, r, key, func(c *cart.Cart) error {
		c.RemoveUnavailableItems(req.MenuItemIDs)
		return nil
	})
}

// Clear empties the cart.
func (h *CartHandler) Clear(w http.ResponseWriter, r *http.Request) {
	key, errMsg := cartKey(r)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	if err := h.carts.Clear(r.Context(), key); err != nil {
		log.Printf("ERROR: clear cart: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// mutate applies a cart mutation and writes the updated cart or the mapped
// error.
func (h *CartHandler) mutate(w http.ResponseWriter, r *http.Request, key cart.Key, fn func(*cart.Cart) error) {
	c, err := h.carts.Update(r.Context(), key, fn)
	if err != nil {
		switch {
		case errors.Is(err, cart.ErrLineNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "cart item not found"})
		case errors.Is(err, cart.ErrNotesTooLong):
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			log.Printf("ERROR: update cart: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}
		return
	}
	writeJSON(w, http.StatusOK, toCartResponse(c))
}
