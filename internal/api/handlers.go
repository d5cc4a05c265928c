package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/SigNoz/ecommerce-checkout/internal/db"
	"github.com/SigNoz/ecommerce-checkout/internal/metrics"
	"github.com/SigNoz/ecommerce-checkout/internal/middleware"
	"github.com/SigNoz/ecommerce-checkout/internal/models"
	"github.com/SigNoz/ecommerce-checkout/internal/services"
	"github.com/gorilla/mux"
)

// Services groups the domain services the handlers call
type Services struct {
	Users      *services.UserService
	Categories *services.CategoryService
	Products   *services.ProductService
	Carts      *services.CartService
	Orders     *services.OrderService
	Payments   *services.PaymentService
}

// App holds application dependencies
type App struct {
	db       *db.DB
	metrics  *metrics.AppMetrics
	services Services
}

// NewApp creates a new application instance
func NewApp(database *db.DB, m *metrics.AppMetrics, svc Services) *App {
	return &App{
		db:       database,
		metrics:  m,
		services: svc,
	}
}

// SetupRoutes configures the HTTP routes
func (a *App) SetupRoutes(r *mux.Router) {
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.CORSMiddleware)
	r.Use(middleware.ErrorHandlerMiddleware)
	r.Use(middleware.PrincipalMiddleware)
	r.Use(middleware.MetricsMiddleware(a.metrics))

	api := r.PathPrefix("/api/v1").Subrouter()

	// Cart
	api.HandleFunc("/cart", a.authenticated(a.GetCartHandler)).Methods("GET")
	api.HandleFunc("/cart/items", a.authenticated(a.AddCartItemHandler)).Methods("POST")
	api.HandleFunc("/cart/items/{productId:[0-9]+}", a.authenticated(a.SetCartItemQuantityHandler)).Methods("PUT")
	api.HandleFunc("/cart/items/{productId:[0-9]+}", a.authenticated(a.RemoveCartItemHandler)).Methods("DELETE")

	// Orders
	api.HandleFunc("/orders", a.authenticated(a.CreateOrderHandler)).Methods("POST")
	api.HandleFunc("/orders/my", a.authenticated(a.ListMyOrdersHandler)).Methods("GET")
	api.HandleFunc("/orders", a.admin(a.ListAllOrdersHandler)).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", a.authenticated(a.GetOrderHandler)).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}/status", a.admin(a.UpdateOrderStatusHandler)).Methods("PUT")

	// Payments
	api.HandleFunc("/payments", a.authenticated(a.ProcessPaymentHandler)).Methods("POST")

	// Catalog
	api.HandleFunc("/products", a.ListProductsHandler).Methods("GET")
	api.HandleFunc("/products/{id:[0-9]+}", a.GetProductHandler).Methods("GET")
	api.HandleFunc("/products", a.admin(a.CreateProductHandler)).Methods("POST")
	api.HandleFunc("/products/{id:[0-9]+}", a.admin(a.UpdateProductHandler)).Methods("PUT")
	api.HandleFunc("/products/{id:[0-9]+}", a.admin(a.DeleteProductHandler)).Methods("DELETE")
	api.HandleFunc("/categories", a.ListCategoriesHandler).Methods("GET")
	api.HandleFunc("/categories/{id:[0-9]+}", a.GetCategoryHandler).Methods("GET")
	api.HandleFunc("/categories", a.admin(a.CreateCategoryHandler)).Methods("POST")
	api.HandleFunc("/categories/{id:[0-9]+}", a.admin(a.UpdateCategoryHandler)).Methods("PUT")
	api.HandleFunc("/categories/{id:[0-9]+}", a.admin(a.DeleteCategoryHandler)).Methods("DELETE")

	// Users
	api.HandleFunc("/users", a.CreateUserHandler).Methods("POST")
	api.HandleFunc("/users/me", a.authenticated(a.GetMeHandler)).Methods("GET")

	// Health
	r.HandleFunc("/health", a.HealthHandler).Methods("GET")
}

// HealthHandler handles health check requests
func (a *App) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ListProductsHandler handles GET /api/v1/products
func (a *App) ListProductsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil {
			offset = parsed
		}
	}

	products, err := a.services.Products.ListProducts(r.Context(), limit, offset)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// GetProductHandler handles GET /api/v1/products/{id}
func (a *App) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	product, err := a.services.Products.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// CreateProductHandler handles POST /api/v1/products
func (a *App) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ProductRequest
	if !decodeBody(w, r, &req) {
		return
	}

	product, err := a.services.Products.CreateProduct(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, product)
}

// UpdateProductHandler handles PUT /api/v1/products/{id}
func (a *App) UpdateProductHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.ProductRequest
	if !decodeBody(w, r, &req) {
		return
	}

	product, err := a.services.Products.UpdateProduct(r.Context(), id, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

// DeleteProductHandler handles DELETE /api/v1/products/{id}
func (a *App) DeleteProductHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := a.services.Products.DeleteProduct(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCategoriesHandler handles GET /api/v1/categories
func (a *App) ListCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	categories, err := a.services.Categories.ListCategories(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// GetCategoryHandler handles GET /api/v1/categories/{id}
func (a *App) GetCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	category, err := a.services.Categories.GetCategory(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}

// CreateCategoryHandler handles POST /api/v1/categories
func (a *App) CreateCategoryHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	category, err := a.services.Categories.CreateCategory(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, category)
}

// UpdateCategoryHandler handles PUT /api/v1/categories/{id}
func (a *App) UpdateCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.CategoryRequest
	if !decodeBody(w, r, &req) {
		return
	}

	category, err := a.services.Categories.UpdateCategory(r.Context(), id, req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, category)
}

// DeleteCategoryHandler handles DELETE /api/v1/categories/{id}
func (a *App) DeleteCategoryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := a.services.Categories.DeleteCategory(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateUserHandler handles POST /api/v1/users
func (a *App) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := a.services.Users.CreateUser(r.Context(), req.Username, req.Email)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

// GetMeHandler handles GET /api/v1/users/me
func (a *App) GetMeHandler(w http.ResponseWriter, r *http.Request, p middleware.Principal) {
	user, err := a.services.Users.GetUserByUsername(r.Context(), p.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
