package router

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tably/api/internal/cart"
	"github.com/tably/api/internal/config"
	"github.com/tably/api/internal/database"
	"github.com/tably/api/internal/enum"
	"github.com/tably/api/internal/handler"
	mw "github.com/tably/api/internal/middleware"
	"github.com/tably/api/internal/service"
	"github.com/tably/api/internal/ws"
)

// New creates a Chi router with all application routes wired up. Customer
// device routes are public (device id + order token are the only
// credentials); staff routes sit behind JWT auth, shop scoping, and roles.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, carts *cart.Store, hub *ws.Hub) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "https://*.tably.app"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Device-ID", "X-Order-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Staff auth (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	newOrderStore := func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}
	orderService := service.NewOrderService(pool, newOrderStore)
	orderHandler := handler.NewOrderHandler(orderService, queries, carts, hub)

	// WebSocket routes (auth handled internally: JWT query param for staff,
	// order token for devices)
	r.Get("/ws/shops/{sid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeStaffWS(hub, cfg.JWTSecret, w, r)
	})
	r.Get("/ws/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeOrderWS(hub, orderService, w, r)
	})

	// Customer device routes (public)
	publicHandler := handler.NewPublicHandler(queries)
	publicHandler.RegisterRoutes(r)

	r.Route("/shops/{sid}", func(r chi.Router) {
		cartHandler := handler.NewCartHandler(carts, queries)
		r.Route("/cart", cartHandler.RegisterRoutes)

		orderHandler.RegisterDeviceRoutes(r)
	})

	// Staff routes (require authentication and shop scoping)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.Route("/staff/shops/{sid}", func(r chi.Router) {
			r.Use(mw.RequireShop)

			menuHandler := handler.NewMenuHandler(queries)
			r.Route("/menu", func(r chi.Router) {
				// Kitchen may only toggle availability; the rest is
				// owner/manager territory
				r.Group(func(r chi.Router) {
					r.Use(mw.RequireRole(enum.UserRoleOwner, enum.UserRoleManager))
					r.Get("/", menuHandler.List)
					r.Get("/{id}", menuHandler.Get)
					r.Post("/", menuHandler.Create)
					r.Put("/{id}", menuHandler.Update)
					r.Delete("/{id}", menuHandler.Delete)
				})
				r.With(mw.RequireRole(enum.UserRoleOwner, enum.UserRoleManager, enum.UserRoleKitchen)).
					Patch("/{id}/availability", menuHandler.SetAvailability)
			})

			orderHandler.RegisterStaffRoutes(r)

			sessionHandler := handler.NewSessionHandler(queries)
			r.With(mw.RequireRole(enum.UserRoleOwner, enum.UserRoleManager)).
				Route("/sessions", sessionHandler.RegisterRoutes)
		})
	})

	log.Println("Router initialized with all handlers")
	return r
}
