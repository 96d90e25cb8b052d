package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"github.com/tableside/api/internal/auth"
	"github.com/tableside/api/internal/blob"
	"github.com/tableside/api/internal/catalog"
	"github.com/tableside/api/internal/config"
	"github.com/tableside/api/internal/database"
	"github.com/tableside/api/internal/handler"
	"github.com/tableside/api/internal/lifecycle"
	"github.com/tableside/api/internal/logging"
	"github.com/tableside/api/internal/metrics"
	mw "github.com/tableside/api/internal/middleware"
	"github.com/tableside/api/internal/realtime"
	"github.com/tableside/api/internal/service"
	"github.com/tableside/api/internal/ws"
)

// Deps are the long-lived services the routes are built on. cmd/server
// constructs them once at startup.
type Deps struct {
	Config   *config.Config
	Queries  *database.Queries
	Orders   *service.OrderService
	Engine   *lifecycle.Engine
	Auth     *auth.Service
	Resolver *auth.Resolver
	Catalog  *catalog.Cache
	Feed     realtime.Feed
	Storage  *blob.Local
}

// New creates a Chi router with all application routes wired up.
// Applies authentication and owner checks as needed.
func New(d Deps) chi.Router {
	cfg := d.Config
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(logging.RequestLogger())
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/storage/*", d.Storage.Handler())

	// WebSocket change feed (handles auth internally via query param)
	r.Handle("/ws/changes", ws.NewServer(d.Feed, cfg.JWTSecret, d.Auth, d.Resolver))

	authHandler := handler.NewAuthHandler(d.Auth)
	authHandler.RegisterRoutes(r)

	handler.NewCatalogHandler(d.Catalog).RegisterRoutes(r)

	categoryHandler := handler.NewCategoryHandler(d.Queries)
	menuHandler := handler.NewMenuItemHandler(d.Queries)
	offerHandler := handler.NewOfferHandler(d.Queries)
	orderHandler := handler.NewOrderHandler(d.Engine, d.Orders)
	profileHandler := handler.NewProfileHandler(d.Queries, d.Orders, d.Storage, d.Auth)
	uploadHandler := handler.NewUploadHandler(d.Storage)
	dashboardHandler := handler.NewDashboardHandler(d.Orders)

	authenticate := mw.Authenticate(cfg.JWTSecret, d.Auth)
	requireOwner := mw.RequireOwner(d.Resolver)

	// ownerGroup registers routes that need an authenticated owner.
	ownerGroup := func(r chi.Router, register func(chi.Router)) {
		r.Group(func(r chi.Router) {
			r.Use(authenticate, requireOwner)
			register(r)
		})
	}

	// Catalog resources: public reads, owner writes on the same paths.
	r.Route("/categories", func(r chi.Router) {
		categoryHandler.RegisterRoutes(r)
		ownerGroup(r, categoryHandler.RegisterOwnerRoutes)
	})
	r.Route("/menu-items", func(r chi.Router) {
		menuHandler.RegisterRoutes(r)
		ownerGroup(r, menuHandler.RegisterOwnerRoutes)
	})
	r.Route("/offers", func(r chi.Router) {
		offerHandler.RegisterRoutes(r)
		ownerGroup(r, offerHandler.RegisterOwnerRoutes)
	})

	// Guests may order; a valid token links the order to the customer.
	r.Route("/orders", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mw.OptionalAuth(cfg.JWTSecret, d.Auth))
			orderHandler.RegisterRoutes(r)
		})
		ownerGroup(r, orderHandler.RegisterOwnerRoutes)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(authenticate)

		authHandler.RegisterSessionRoutes(r)
		profileHandler.RegisterRoutes(r)

		// Owner-only routes
		r.Group(func(r chi.Router) {
			r.Use(requireOwner)

			profileHandler.RegisterOwnerRoutes(r)
			uploadHandler.RegisterOwnerRoutes(r)
			dashboardHandler.RegisterOwnerRoutes(r)
		})
	})

	logrus.Info("router initialized with all handlers")
	return r
}
