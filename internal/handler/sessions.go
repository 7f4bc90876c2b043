package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/tably/api/internal/database"
	"github.com/tably/api/internal/rounds"
	"github.com/tably/api/internal/service"
)

// SessionStore defines the database methods needed by session handlers.
// Satisfied by *database.Queries.
type SessionStore interface {
	GetTableSession(ctx context.Context, arg database.GetTableSessionParams) (database.TableSession, error)
	CloseTableSession(ctx context.Context, arg database.CloseTableSessionParams) (database.TableSession, error)
	ListOrdersBySession(ctx context.Context, sessionID uuid.UUID) ([]database.Order, error)
	ListOrderItemsByOrder(ctx context.Context, orderID uuid.UUID) ([]database.OrderItem, error)
}

// SessionHandler handles the staff-side table session endpoints: the running
// bill and checkout.
type SessionHandler struct {
	store SessionStore
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(store SessionStore) *SessionHandler {
	return &SessionHandler{store: store}
}

// RegisterRoutes registers session endpoints on the given Chi router.
// Expected to be mounted inside a shop-scoped subrouter: /shops/{sid}/sessions
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/{id}/bill", h.Bill)
	r.Post("/{id}/close", h.Close)
}

type billResponse struct {
	SessionID uuid.UUID       `json:"session_id"`
	TableID   uuid.UUID       `json:"table_id"`
	Status    string          `json:"status"`
	OpenedAt  time.Time       `json:"opened_at"`
	Orders    []orderResponse `json:"orders"`
	Total     string          `json:"total"`
}

// Bill aggregates all orders of a session into one payable view. Rejected
// items stay visible in the rounds but never count toward the total.
func (h *SessionHandler) Bill(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	session, err := h.store.GetTableSession(r.Context(), database.GetTableSessionParams{
		ID:     sessionID,
		ShopID: shopID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		log.Printf("ERROR: get session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	orders, err := h.store.ListOrdersBySession(r.Context(), sessionID)
	if err != nil {
		log.Printf("ERROR: list session orders: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	resp := billResponse{
		SessionID: session.ID,
		TableID:   session.TableID,
		Status:    string(session.Status),
		OpenedAt:  session.OpenedAt,
		Orders:    []orderResponse{},
	}

	total := decimal.Zero
	for _, o := range orders {
		items, err := h.store.ListOrderItemsByOrder(r.Context(), o.ID)
		if err != nil {
			log.Printf("ERROR: list order items: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			return
		}
		resp.Orders = append(resp.Orders, toOrderResponse(o, items))
		total = total.Add(rounds.CalculateOrderTotal(service.ItemsToRounds(items)))
	}
	resp.Total = total.StringFixed(2)

	writeJSON(w, http.StatusOK, resp)
}

// Close marks a session paid. Closing is idempotent-hostile on purpose: a
// second close attempt is a conflict, not a silent success.
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	shopID, err := uuid.Parse(chi.URLParam(r, "sid"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid shop ID"})
		return
	}
	sessionID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
		return
	}

	session, err := h.store.CloseTableSession(r.Context(), database.CloseTableSessionParams{
		ID:     sessionID,
		ShopID: shopID,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either unknown or already closed; disambiguate for the client
			existing, getErr := h.store.GetTableSession(r.Context(), database.GetTableSessionParams{
				ID:     sessionID,
				ShopID: shopID,
			})
			if getErr == nil {
				writeJSON(w, http.StatusConflict, map[string]string{
					"error": "session is already " + string(existing.Status),
				})
				return
			}
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		log.Printf("ERROR: close session: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": session.ID,
		"status":     string(session.Status),
		"closed_at":  session.ClosedAt.Time,
	})
}
