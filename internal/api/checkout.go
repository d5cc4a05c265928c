package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/SigNoz/ecommerce-checkout/internal/middleware"
	"github.com/SigNoz/ecommerce-checkout/internal/models"
)

const maxCardDetailsLength = 255

// GetCartHandler handles GET /api/v1/cart; the cart is created on first visit
func (a *App) GetCartHandler(w http.ResponseWriter, r *http.Request, p middleware.Principal) {
	cart, err := a.services.Carts.GetOrCreateCart(r.Context(), p.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cart)
}

// AddCartItemHandler handles POST /api/v1/cart/items
func (a *App) AddCartItemHandler(w http.ResponseWriter, r *http.Request, p middleware.Principal) {
	var req models.AddToCartRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity < 1 {
		writeStatus(w, r, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	item, err := a.services.Carts.AddItem(r.Context(), p.Username, req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// SetCartItemQuantityHandler handles PUT /api/v1/cart/items/{productId}?quantity=N.
// A quantity of zero or less removes the line and answers 204.
func (a *App) SetCartItemQuantityHandler(w http.ResponseWriter, r *http.Request, p middleware.Principal) {
	productID, ok := pathID(w, r, "productId")
	if !ok {
		return
	}
	quantity, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		writeStatus(w, r, http.StatusBadRequest, "quantity query parameter must be an integer")
		return
	}

	item, err := a.services.Carts.SetItemQuantity(r.Context(), p.Username, productID, quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if item == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// RemoveCartItemHandler handles DELETE /api/v1/cart/items/{productId}
func (a *App) RemoveCartItemHandler(w http.ResponseWriter, r *http.Request, p middleware.Principal) {
	productID, ok := pathID(w, r, "productId")
	if !ok {
		return
	}

	if err := a.services.Carts.RemoveItem(r.Context(), p.Username, productID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateOrderHandler handles POST /api/v1/orders
func (a *App) CreateOrderHandler(w http.ResponseWriter, r *http.Request, p middleware.Principal) {
	order, err := a.services.Orders.CreateOrderFromCart(r.Context(), p.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListMyOrdersHandler handles GET /api/v1/orders/my
func (a *App) ListMyOrdersHandler(w http.ResponseWriter, r *http.Request, p middleware.Principal) {
	orders, err := a.services.Orders.ListUserOrders(r.Context(), p.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// ListAllOrdersHandler handles GET /api/v1/orders
func (a *App) ListAllOrdersHandler(w http.ResponseWriter, r *http.Request) {
	orders, err := a.services.Orders.ListAllOrders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// GetOrderHandler handles GET /api/v1/orders/{id}; only the owner or an admin may read it
func (a *App) GetOrderHandler(w http.ResponseWriter, r *http.Request, p middleware.Principal) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	order, err := a.services.Orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if order.Username != p.Username && !p.IsAdmin() {
		writeStatus(w, r, http.StatusForbidden, "you can only view your own orders")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// UpdateOrderStatusHandler handles PUT /api/v1/orders/{id}/status
func (a *App) UpdateOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req models.UpdateOrderStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}

	order, err := a.services.Orders.UpdateOrderStatus(r.Context(), id, req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ProcessPaymentHandler handles POST /api/v1/payments. A FAILED outcome is still a 200.
func (a *App) ProcessPaymentHandler(w http.ResponseWriter, r *http.Request, p middleware.Principal) {
	var req models.PaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if msg := validatePayment(req); msg != "" {
		writeStatus(w, r, http.StatusBadRequest, msg)
		return
	}

	outcome, err := a.services.Payments.ProcessPayment(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func validatePayment(req models.PaymentRequest) string {
	switch {
	case req.OrderID <= 0:
		return "order_id is required"
	case !req.Amount.IsPositive():
		return "amount must be greater than zero"
	case strings.TrimSpace(req.PaymentMethod) == "":
		return "payment_method is required"
	case len(req.CardDetails) > maxCardDetailsLength:
		return "card_details cannot exceed 255 characters"
	}
	return ""
}
