package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/SigNoz/ecommerce-checkout/internal/db"
	"github.com/SigNoz/ecommerce-checkout/internal/metrics"
	"github.com/SigNoz/ecommerce-checkout/internal/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// OrderService converts carts into orders and serves order reads
type OrderService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	carts   *CartService
}

// NewOrderService creates a new order service. Checkout takes the same
// per-user lock as cart mutations, so carts must be the live cart service.
func NewOrderService(db *db.DB, metrics *metrics.AppMetrics, carts *CartService) *OrderService {
	return &OrderService{
		db:      db,
		metrics: metrics,
		carts:   carts,
	}
}

// CreateOrderFromCart snapshots the user's cart into a PENDING order and
// empties the cart. The order, its items and the cleared cart commit together.
func (s *OrderService) CreateOrderFromCart(ctx context.Context, username string) (*models.OrderView, error) {
	ctx, span := tracer.Start(ctx, "order.create_from_cart", trace.WithAttributes(
		attribute.String("user.name", username),
	))
	defer span.End()

	user, err := lookupUser(ctx, s.db, s.metrics, username)
	if err != nil {
		return nil, err
	}

	unlock := s.carts.lockUser(user.ID)
	defer unlock()

	var order *models.Order
	itemsByCategory := make(map[string]int)
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		cart, err := s.carts.loadCart(ctx, tx, user, true)
		if err != nil {
			return err
		}
		if cart.Items, err = s.carts.loadItems(ctx, tx, cart.ID); err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return domainf("cannot create an order from an empty cart")
		}

		order = &models.Order{
			UserID:      user.ID,
			Username:    user.Username,
			Status:      models.OrderStatusPending,
			TotalAmount: cart.Total(),
			OrderDate:   now(),
			Items:       make([]models.OrderItem, 0, len(cart.Items)),
		}
		if err := s.insertOrder(ctx, tx, order); err != nil {
			return err
		}

		for _, line := range cart.Items {
			product, err := lookupProduct(ctx, tx, s.metrics, line.ProductID)
			if err != nil {
				return err
			}

			item := models.OrderItem{
				OrderID:     order.ID,
				ProductID:   line.ProductID,
				ProductName: product.Name,
				ImageURL:    product.ImageURL,
				Quantity:    line.Quantity,
				Price:       line.Price,
			}
			if err := s.insertOrderItem(ctx, tx, &item); err != nil {
				return err
			}
			order.Items = append(order.Items, item)
			itemsByCategory[categoryLabel(product.CategoryName)] += line.Quantity
		}

		if err := s.clearCart(ctx, tx, cart.ID); err != nil {
			return err
		}
		return s.carts.touchCart(ctx, tx, cart)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID))
	log.Printf("[ORDER] Order created: order_id=%d, user=%s, total=%s, items=%d, status=%s",
		order.ID, username, order.TotalAmount, len(order.Items), order.Status)

	for category, quantity := range itemsByCategory {
		attrs := s.metrics.WithServiceName([]attribute.KeyValue{
			attribute.String("order_status", string(order.Status)),
			attribute.String("product_category", category),
		})
		s.metrics.OrdersCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
		log.Printf("[METRICS] Recording order: order_id=%d, category=%s, quantity=%d", order.ID, category, quantity)
	}
	s.carts.recordCartItems(ctx, username, 0)

	return order.View(), nil
}

// GetOrder returns an order with its items. Ownership checks belong to the caller.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.OrderView, error) {
	order, err := s.loadOrder(ctx, s.db, orderID, false)
	if err != nil {
		return nil, err
	}
	if order.Items, err = s.loadOrderItems(ctx, s.db, orderID); err != nil {
		return nil, err
	}
	return order.View(), nil
}

// ListUserOrders returns the user's orders, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, username string) ([]models.OrderView, error) {
	user, err := lookupUser(ctx, s.db, s.metrics, username)
	if err != nil {
		return nil, err
	}
	return s.listOrders(ctx, "WHERE o.user_id = ?", user.ID)
}

// ListAllOrders returns every order, newest first
func (s *OrderService) ListAllOrders(ctx context.Context) ([]models.OrderView, error) {
	return s.listOrders(ctx, "")
}

// UpdateOrderStatus overrides an order's status. Any transition is allowed;
// only payment reconciliation enforces PENDING -> PROCESSING.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int64, status string) (*models.OrderView, error) {
	newStatus, err := models.ParseOrderStatus(status)
	if err != nil {
		return nil, invalidf("%s", err.Error())
	}

	start := time.Now()
	query := "UPDATE orders SET status = ? WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, string(newStatus), orderID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// MySQL reports zero rows when the status is unchanged
		if _, err := s.loadOrder(ctx, s.db, orderID, false); err != nil {
			return nil, err
		}
	}

	log.Printf("[ORDER] Status override: order_id=%d, status=%s", orderID, newStatus)
	return s.GetOrder(ctx, orderID)
}

func (s *OrderService) listOrders(ctx context.Context, where string, args ...any) ([]models.OrderView, error) {
	start := time.Now()
	query := `
		SELECT o.id, o.user_id, u.username, o.status, o.total_amount, o.order_date
		FROM orders o
		JOIN users u ON u.id = o.user_id
		` + where + `
		ORDER BY o.order_date DESC, o.id DESC
	`
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	var orders []*models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}

	views := make([]models.OrderView, 0, len(orders))
	for _, order := range orders {
		if order.Items, err = s.loadOrderItems(ctx, s.db, order.ID); err != nil {
			return nil, err
		}
		views = append(views, *order.View())
	}
	return views, nil
}

// loadOrder reads an order header; forUpdate locks the row for the transaction
func (s *OrderService) loadOrder(ctx context.Context, q db.Queryer, orderID int64, forUpdate bool) (*models.Order, error) {
	return loadOrder(ctx, q, s.metrics, s.db.Dialect, orderID, forUpdate)
}

func loadOrder(ctx context.Context, q db.Queryer, m *metrics.AppMetrics, dialect db.Dialect, orderID int64, forUpdate bool) (*models.Order, error) {
	start := time.Now()
	query := `
		SELECT o.id, o.user_id, u.username, o.status, o.total_amount, o.order_date
		FROM orders o
		JOIN users u ON u.id = o.user_id
		WHERE o.id = ?`
	if forUpdate {
		query += dialect.ForUpdate()
	}

	order, err := scanOrder(q.QueryRowContext(ctx, query, orderID))
	m.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, notFoundf("order not found: %d", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func (s *OrderService) loadOrderItems(ctx context.Context, q db.Queryer, orderID int64) ([]models.OrderItem, error) {
	start := time.Now()
	query := `
		SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price,
		       COALESCE(p.name, ''), COALESCE(p.image_url, '')
		FROM order_items oi
		LEFT JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ?
		ORDER BY oi.id
	`
	rows, err := q.QueryContext(ctx, query, orderID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.Price,
			&item.ProductName, &item.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *OrderService) insertOrder(ctx context.Context, q db.Queryer, order *models.Order) error {
	start := time.Now()
	query := "INSERT INTO orders (user_id, status, total_amount, order_date) VALUES (?, ?, ?, ?)"
	result, err := q.ExecContext(ctx, query, order.UserID, string(order.Status), order.TotalAmount, order.OrderDate)
	s.metrics.RecordDBQuery(ctx, "INSERT", "orders", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to create order: %w", err)
	}

	if order.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get order ID: %w", err)
	}
	return nil
}

func (s *OrderService) insertOrderItem(ctx context.Context, q db.Queryer, item *models.OrderItem) error {
	start := time.Now()
	query := "INSERT INTO order_items (order_id, product_id, quantity, price) VALUES (?, ?, ?, ?)"
	result, err := q.ExecContext(ctx, query, item.OrderID, item.ProductID, item.Quantity, item.Price)
	s.metrics.RecordDBQuery(ctx, "INSERT", "order_items", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to create order item: %w", err)
	}

	if item.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get order item ID: %w", err)
	}
	return nil
}

func (s *OrderService) clearCart(ctx context.Context, q db.Queryer, cartID int64) error {
	start := time.Now()
	query := "DELETE FROM cart_items WHERE cart_id = ?"
	_, err := q.ExecContext(ctx, query, cartID)
	s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var order models.Order
	var status string
	var total decimal.Decimal
	if err := row.Scan(&order.ID, &order.UserID, &order.Username, &status, &total, &order.OrderDate); err != nil {
		return nil, err
	}
	order.Status = models.OrderStatus(status)
	order.TotalAmount = total
	return &order, nil
}

func categoryLabel(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}
