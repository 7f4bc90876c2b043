package handler

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tably/api/internal/database"
)

// PublicStore defines the database methods needed by the unauthenticated
// customer-facing endpoints. Satisfied by *database.Queries.
type PublicStore interface {
	GetTableByQRSlug(ctx context.Context, qrSlug string) (database.Table, error)
	GetShop(ctx context.Context, id uuid.UUID) (database.Shop, error)
	ListMenuItems(ctx context.Context, arg database.ListMenuItemsParams) ([]database.MenuItem, error)
}

// PublicHandler serves the QR entry point and the public menu. No auth: the
// QR slug is the only thing a customer ever types (or scans).
type PublicHandler struct {
	store PublicStore
}

// NewPublicHandler creates a new PublicHandler.
func NewPublicHandler(store PublicStore) *PublicHandler {
	return &PublicHandler{store: store}
}

// RegisterRoutes registers the public endpoints on the given Chi router.
func (h *PublicHandler) RegisterRoutes(r chi.Router) {
	r.Get("/scan/{slug}", h.Scan)
	r.Get("/shops/{sid}/menu", h.Menu)
}

type scanResponse struct {
	Shop  scanShop  `json:"shop"`
	Table scanTable `json:"table"`
}

type scanShop struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

type scanTable struct {
	ID     uuid.UUID `json:"id"`
	Number string    `json:"number"`
}

// Scan resolves a scanned QR slug to its shop and table. This is the entry
// point of every dine-in visit.
func (h *PublicHandler) Scan(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	if slug == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing QR slug"})
		return
	}

	table, err := h.store.GetTableByQRSlug(r.Context(), slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown QR code"})
			return
		}
		log.Printf("ERROR: get table by qr slug: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	shop, err := h.store.GetShop(r.Context(), table.ShopID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown QR code"})
			return
		}
		log.Printf("ERROR: get shop: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{
		Shop:  scanShop{ID: shop.ID, Name: shop.Name, Slug: shop.Slug},
		Table: scanTable{ID: table.ID, Number: table.Number},
	})
}

// Menu returns the customer-facing menu: active and currently available items
// only.
func (h *PublicHandler) Menu(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}

	items, err := h.store.ListMenuItems(r.Context(), database.ListMenuItemsParams{
		ShopID:        shopID,
		AvailableOnly: true,
	})
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
