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
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/tably/api/internal/database"
	"github.com/tably/api/internal/pricing"
)

// MenuStore defines the database methods needed by menu handlers.
// Satisfied by *database.Queries; narrow interface for testability.
type MenuStore interface {
	ListMenuItems(ctx context.Context, arg database.ListMenuItemsParams) ([]database.MenuItem, error)
	GetMenuItem(ctx context.Context, arg database.GetMenuItemParams) (database.MenuItem, error)
	CreateMenuItem(ctx context.Context, arg database.CreateMenuItemParams) (database.MenuItem, error)
	UpdateMenuItem(ctx context.Context, arg database.UpdateMenuItemParams) (database.MenuItem, error)
	SetMenuItemAvailability(ctx context.Context, arg database.SetMenuItemAvailabilityParams) (database.MenuItem, error)
	SoftDeleteMenuItem(ctx context.Context, arg database.SoftDeleteMenuItemParams) (uuid.UUID, error)
}

// MenuHandler handles the staff-side menu CRUD endpoints.
type MenuHandler struct {
	store MenuStore
}

// NewMenuHandler creates a new MenuHandler.
func NewMenuHandler(store MenuStore) *MenuHandler {
	return &MenuHandler{store: store}
}

// RegisterRoutes registers menu CRUD endpoints on the given Chi router.
// Expected to be mounted inside a shop-scoped subrouter: /shops/{sid}/menu
func (h *MenuHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Get("/{id}", h.Get)
	r.Post("/", h.Create)
	r.Put("/{id}", h.Update)
	r.Patch("/{id}/availability", h.SetAvailability)
	r.Delete("/{id}", h.Delete)
}

// --- Request / Response types ---

type menuItemRequest struct {
	Name         string                `json:"name"`
	Description  string                `json:"description"`
	BasePrice    string                `json:"base_price"`
	IsAvailable  *bool                 `json:"is_available"`
	SizeEnabled  bool                  `json:"size_enabled"`
	SizeOptions  []pricing.SizeOption  `json:"size_options"`
	OptionGroups []pricing.OptionGroup `json:"option_groups"`
}

type menuItemResponse struct {
	ID           uuid.UUID             `json:"id"`
	ShopID       uuid.UUID             `json:"shop_id"`
	Name         string                `json:"name"`
	Description  *string               `json:"description"`
	BasePrice    string                `json:"base_price"`
	IsAvailable  bool                  `json:"is_available"`
	SizeEnabled  bool                  `json:"size_enabled"`
	SizeOptions  []pricing.SizeOption  `json:"size_options"`
	OptionGroups []pricing.OptionGroup `json:"option_groups"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

func toMenuItemResponse(m database.MenuItem) menuItemResponse {
	resp := menuItemResponse{
		ID:          m.ID,
		ShopID:      m.ShopID,
		Name:        m.Name,
		BasePrice:   moneyString(m.BasePrice),
		IsAvailable: m.IsAvailable,
		SizeEnabled: m.SizeEnabled,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.Description.Valid {
		resp.Description = &m.Description.String
	}
	if len(m.SizeOptions) > 0 {
		_ = json.Unmarshal(m.SizeOptions, &resp.SizeOptions)
	}
	if len(m.OptionGroups) > 0 {
		_ = json.Unmarshal(m.OptionGroups, &resp.OptionGroups)
	}
	return resp
}

// --- Helpers ---

var errNegativePrice = errors.New("negative price")

func parseBasePrice(s string) (pgtype.Numeric, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return pgtype.Numeric{}, err
	}
	if d.IsNegative() {
		return pgtype.Numeric{}, errNegativePrice
	}
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return pgtype.Numeric{}, err
	}
	return n, nil
}

// validateMenuItemRequest checks the shared create/update fields and returns
// the jsonb-ready option blobs.
func validateMenuItemRequest(req menuItemRequest) (price pgtype.Numeric, sizeOpts, optGroups []byte, errMsg string) {
	if req.Name == "" {
		return price, nil, nil, "name is required"
	}
	if req.BasePrice == "" {
		return price, nil, nil, "base_price is required"
	}

	price, err := parseBasePrice(req.BasePrice)
	if err != nil {
		if errors.Is(err, errNegativePrice) {
			return price, nil, nil, "base_price must be >= 0"
		}
		return price, nil, nil, "invalid base_price"
	}

	if req.SizeEnabled {
		if err := pricing.ValidateSizeOptions(req.SizeOptions); err != nil {
			return price, nil, nil, err.Error()
		}
	} else if len(req.SizeOptions) > 0 {
		return price, nil, nil, "size_options require size_enabled"
	}

	for _, g := range req.OptionGroups {
		if g.Name == "" {
			return price, nil, nil, "option group name is required"
		}
		if len(g.Values) == 0 {
			return price, nil, nil, "option group must have at least one value"
		}
	}

	if len(req.SizeOptions) > 0 {
		sizeOpts, err = json.Marshal(req.SizeOptions)
		if err != nil {
			return price, nil, nil, "invalid size_options"
		}
	}
	if len(req.OptionGroups) > 0 {
		optGroups, err = json.Marshal(req.OptionGroups)
		if err != nil {
			return price, nil, nil, "invalid option_groups"
		}
	}
	return price, sizeOpts, optGroups, ""
}

// --- Handlers ---

// List returns all active menu items of the shop, available or not.
func (h *MenuHandler) List(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}

	items, err := h.store.ListMenuItems(r.Context(), database.ListMenuItemsParams{ShopID: shopID})
	if err != nil {
		log.Printf("ERROR: list menu items: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := make([]menuItemResponse, len(items))
	for i, m := range items {
		resp[i] = toMenuItemResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get returns a single menu item by ID.
func (h *MenuHandler) Get(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid menu item ID"})
		return
	}

	item, err := h.store.GetMenuItem(r.Context(), database.GetMenuItemParams{ID: itemID, ShopID: shopID})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found"})
			return
		}
		log.Printf("ERROR: get menu item: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toMenuItemResponse(item))
}

// Create adds a new menu item to the shop.
func (h *MenuHandler) Create(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}

	var req menuItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	price, sizeOpts, optGroups, errMsg := validateMenuItemRequest(req)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	desc := pgtype.Text{}
	if req.Description != "" {
		desc = pgtype.Text{String: req.Description, Valid: true}
	}

	isAvailable := true
	if req.IsAvailable != nil {
		isAvailable = *req.IsAvailable
	}

	item, err := h.store.CreateMenuItem(r.Context(), database.CreateMenuItemParams{
		ShopID:       shopID,
		Name:         req.Name,
		Description:  desc,
		BasePrice:    price,
		IsAvailable:  isAvailable,
		SizeEnabled:  req.SizeEnabled,
		SizeOptions:  sizeOpts,
		OptionGroups: optGroups,
	})
	if err != nil {
		log.Printf("ERROR: create menu item: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusCreated, toMenuItemResponse(item))
}

// Update modifies an existing menu item. Placed orders are unaffected: their
// items carry frozen prices and snapshots.
func (h *MenuHandler) Update(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid menu item ID"})
		return
	}

	var req menuItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	price, sizeOpts, optGroups, errMsg := validateMenuItemRequest(req)
	if errMsg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errMsg})
		return
	}

	desc := pgtype.Text{}
	if req.Description != "" {
		desc = pgtype.Text{String: req.Description, Valid: true}
	}

	isAvailable := true
	if req.IsAvailable != nil {
		isAvailable = *req.IsAvailable
	}

	item, err := h.store.UpdateMenuItem(r.Context(), database.UpdateMenuItemParams{
		ID:           itemID,
		ShopID:       shopID,
		Name:         req.Name,
		Description:  desc,
		BasePrice:    price,
		IsAvailable:  isAvailable,
		SizeEnabled:  req.SizeEnabled,
		SizeOptions:  sizeOpts,
		OptionGroups: optGroups,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found"})
			return
		}
		log.Printf("ERROR: update menu item: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toMenuItemResponse(item))
}

type setAvailabilityRequest struct {
	IsAvailable *bool `json:"is_available"`
}

// SetAvailability toggles the sold-out flag without touching the rest of the
// item. The kitchen uses this during service.
func (h *MenuHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid menu item ID"})
		return
	}

	var req setAvailabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IsAvailable == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "is_available is required"})
		return
	}

	item, err := h.store.SetMenuItemAvailability(r.Context(), database.SetMenuItemAvailabilityParams{
		ID:          itemID,
		ShopID:      shopID,
		IsAvailable: *req.IsAvailable,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found"})
			return
		}
		log.Printf("ERROR: set menu item availability: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, toMenuItemResponse(item))
}

// Delete soft-deletes a menu item by setting is_active=false.
func (h *MenuHandler) Delete(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid menu item ID"})
		return
	}

	_, err = h.store.SoftDeleteMenuItem(r.Context(), database.SoftDeleteMenuItemParams{
		ID:     itemID,
		ShopID: shopID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "menu item not found"})
			return
		}
		log.Printf("ERROR: delete menu item: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
