package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/SigNoz/ecommerce-checkout/internal/db"
	"github.com/SigNoz/ecommerce-checkout/internal/metrics"
	"github.com/SigNoz/ecommerce-checkout/internal/models"
	"github.com/SigNoz/ecommerce-checkout/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// maxCartCreateAttempts bounds the insert-if-absent retry when another
// process creates the same user's cart concurrently
const maxCartCreateAttempts = 3

// MaxLineQuantity is the largest quantity a single cart line may hold; it
// matches the INT quantity column
const MaxLineQuantity = math.MaxInt32

var tracer = telemetry.Tracer("github.com/SigNoz/ecommerce-checkout/internal/services")

// errCartRace marks a lost insert race; the caller re-reads the winner's cart
var errCartRace = errors.New("cart created concurrently")

// CartService owns cart mutation. All mutations for one user are serialised by
// a per-user lock and run inside a single transaction that bumps the cart version.
type CartService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	locks   *keyedMutex
}

// NewCartService creates a new cart service
func NewCartService(db *db.DB, metrics *metrics.AppMetrics) *CartService {
	return &CartService{
		db:      db,
		metrics: metrics,
		locks:   newKeyedMutex(),
	}
}

// lockUser serialises cart work for one user; checkout shares it
func (s *CartService) lockUser(userID int64) func() {
	return s.locks.Lock(userID)
}

// GetOrCreateCart returns the user's cart, creating an empty one on first use
func (s *CartService) GetOrCreateCart(ctx context.Context, username string) (*models.CartView, error) {
	user, err := lookupUser(ctx, s.db, s.metrics, username)
	if err != nil {
		return nil, err
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	for attempt := 1; attempt <= maxCartCreateAttempts; attempt++ {
		var cart *models.Cart
		err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
			var err error
			cart, err = s.getOrCreate(ctx, tx, user)
			return err
		})
		if err == nil {
			return cart.View(), nil
		}
		if !errors.Is(err, errCartRace) {
			return nil, err
		}
		log.Printf("[CART] cart creation race for user=%s, attempt=%d", username, attempt)
	}

	return nil, conflictf("cart for user %s is being created concurrently, retry", username)
}

func (s *CartService) getOrCreate(ctx context.Context, tx *sql.Tx, user *models.User) (*models.Cart, error) {
	cart, err := s.loadCart(ctx, tx, user, false)
	if err == nil {
		if cart.Items, err = s.loadItems(ctx, tx, cart.ID); err != nil {
			return nil, err
		}
		return cart, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	start := time.Now()
	createdAt := now()
	query := "INSERT INTO carts (user_id, version, created_at) VALUES (?, 0, ?)"
	result, err := tx.ExecContext(ctx, query, user.ID, createdAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "carts", query, start, err == nil)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, errCartRace
		}
		return nil, fmt.Errorf("failed to create cart: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get cart ID: %w", err)
	}

	log.Printf("[CART] Cart created: cart_id=%d, user=%s", id, user.Username)
	return &models.Cart{
		ID:        id,
		UserID:    user.ID,
		Username:  user.Username,
		CreatedAt: createdAt,
		Items:     []models.CartItem{},
	}, nil
}

// GetCart returns the user's cart without creating one
func (s *CartService) GetCart(ctx context.Context, username string) (*models.CartView, error) {
	user, err := lookupUser(ctx, s.db, s.metrics, username)
	if err != nil {
		return nil, err
	}

	var cart *models.Cart
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		if cart, err = s.loadCart(ctx, tx, user, false); err != nil {
			return err
		}
		cart.Items, err = s.loadItems(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart.View(), nil
}

// AddItem adds quantity of a product to the cart. An existing line has the
// quantity added and its price replaced by the product's current price.
func (s *CartService) AddItem(ctx context.Context, username string, productID int64, quantity int) (*models.LineItemView, error) {
	ctx, span := tracer.Start(ctx, "cart.add_item", trace.WithAttributes(
		attribute.String("user.name", username),
		attribute.Int64("product.id", productID),
		attribute.Int("quantity", quantity),
	))
	defer span.End()

	if quantity < 1 {
		return nil, domainf("quantity must be at least 1")
	}
	if quantity > MaxLineQuantity {
		return nil, domainf("quantity cannot exceed %d", MaxLineQuantity)
	}

	user, err := lookupUser(ctx, s.db, s.metrics, username)
	if err != nil {
		return nil, err
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	var item models.CartItem
	var count int
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		cart, err := s.loadCart(ctx, tx, user, true)
		if err != nil {
			return err
		}

		product, err := lookupProduct(ctx, tx, s.metrics, productID)
		if err != nil {
			return err
		}

		existing, found, err := s.loadItem(ctx, tx, cart.ID, productID)
		if err != nil {
			return err
		}

		if found {
			if existing.Quantity > MaxLineQuantity-quantity {
				return domainf("cart line for product %d cannot exceed %d items", productID, MaxLineQuantity)
			}
			item = *existing
			item.Quantity += quantity
			item.Price = product.Price
			if err := s.updateItem(ctx, tx, &item); err != nil {
				return err
			}
		} else {
			item = models.CartItem{
				CartID:    cart.ID,
				ProductID: productID,
				Quantity:  quantity,
				Price:     product.Price,
				AddedAt:   now(),
			}
			if err := s.insertItem(ctx, tx, &item); err != nil {
				return err
			}
		}
		item.ProductName = product.Name
		item.ImageURL = product.ImageURL

		if err := s.touchCart(ctx, tx, cart); err != nil {
			return err
		}
		count, err = s.countItems(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	log.Printf("[CART] Item added: user=%s, product_id=%d, quantity=%d, price=%s",
		username, productID, item.Quantity, item.Price)
	s.recordCartItems(ctx, username, count)

	view := item.View()
	return &view, nil
}

// RemoveItem deletes a product's line from the cart
func (s *CartService) RemoveItem(ctx context.Context, username string, productID int64) error {
	user, err := lookupUser(ctx, s.db, s.metrics, username)
	if err != nil {
		return err
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	var count int
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		cart, err := s.loadCart(ctx, tx, user, true)
		if err != nil {
			return err
		}

		start := time.Now()
		query := "DELETE FROM cart_items WHERE cart_id = ? AND product_id = ?"
		result, err := tx.ExecContext(ctx, query, cart.ID, productID)
		s.metrics.RecordDBQuery(ctx, "DELETE", "cart_items", query, start, err == nil)
		if err != nil {
			return fmt.Errorf("failed to remove item from cart: %w", err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return notFoundf("item not found in cart for product: %d", productID)
		}

		if err := s.touchCart(ctx, tx, cart); err != nil {
			return err
		}
		count, err = s.countItems(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		return err
	}

	log.Printf("[CART] Item removed: user=%s, product_id=%d", username, productID)
	s.recordCartItems(ctx, username, count)
	return nil
}

// SetItemQuantity sets a line's quantity and re-samples its price. A quantity
// of zero or less removes the line and returns a nil view.
func (s *CartService) SetItemQuantity(ctx context.Context, username string, productID int64, quantity int) (*models.LineItemView, error) {
	if quantity <= 0 {
		return nil, s.RemoveItem(ctx, username, productID)
	}
	if quantity > MaxLineQuantity {
		return nil, domainf("quantity cannot exceed %d", MaxLineQuantity)
	}

	user, err := lookupUser(ctx, s.db, s.metrics, username)
	if err != nil {
		return nil, err
	}

	unlock := s.lockUser(user.ID)
	defer unlock()

	var item models.CartItem
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		cart, err := s.loadCart(ctx, tx, user, true)
		if err != nil {
			return err
		}

		existing, found, err := s.loadItem(ctx, tx, cart.ID, productID)
		if err != nil {
			return err
		}
		if !found {
			return notFoundf("item not found in cart for product: %d", productID)
		}

		product, err := lookupProduct(ctx, tx, s.metrics, productID)
		if err != nil {
			return err
		}

		item = *existing
		item.Quantity = quantity
		item.Price = product.Price
		item.ProductName = product.Name
		item.ImageURL = product.ImageURL
		if err := s.updateItem(ctx, tx, &item); err != nil {
			return err
		}

		return s.touchCart(ctx, tx, cart)
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[CART] Quantity set: user=%s, product_id=%d, quantity=%d", username, productID, quantity)

	view := item.View()
	return &view, nil
}

// CountActiveCarts returns the number of carts holding at least one item
func (s *CartService) CountActiveCarts(ctx context.Context) (int, error) {
	start := time.Now()
	query := "SELECT COUNT(DISTINCT cart_id) FROM cart_items"
	var count int
	err := s.db.QueryRowContext(ctx, query).Scan(&count)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count active carts: %w", err)
	}
	return count, nil
}

// MonitorActiveCarts records the active carts gauge every interval until ctx ends
func (s *CartService) MonitorActiveCarts(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := s.CountActiveCarts(ctx)
			if err != nil {
				log.Printf("[METRICS] active carts: %v", err)
				continue
			}
			s.metrics.ActiveCartsCount.Record(ctx, int64(count), metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{})...))
		}
	}
}

// loadCart reads the user's cart row; forUpdate locks it for the transaction
func (s *CartService) loadCart(ctx context.Context, q db.Queryer, user *models.User, forUpdate bool) (*models.Cart, error) {
	start := time.Now()
	query := "SELECT id, user_id, version, created_at, updated_at FROM carts WHERE user_id = ?"
	if forUpdate {
		query += s.db.Dialect.ForUpdate()
	}

	var cart models.Cart
	var updatedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, user.ID).Scan(
		&cart.ID, &cart.UserID, &cart.Version, &cart.CreatedAt, &updatedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "carts", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, notFoundf("cart not found for user: %s", user.Username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	if updatedAt.Valid {
		t := updatedAt.Time
		cart.UpdatedAt = &t
	}
	cart.Username = user.Username
	return &cart, nil
}

// loadItems returns the cart's lines in the order they were added
func (s *CartService) loadItems(ctx context.Context, q db.Queryer, cartID int64) ([]models.CartItem, error) {
	start := time.Now()
	query := `
		SELECT ci.cart_id, ci.product_id, ci.quantity, ci.price, ci.added_at,
		       COALESCE(p.name, ''), COALESCE(p.image_url, '')
		FROM cart_items ci
		LEFT JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = ?
		ORDER BY ci.added_at, ci.product_id
	`
	rows, err := q.QueryContext(ctx, query, cartID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	defer rows.Close()

	items := []models.CartItem{}
	for rows.Next() {
		var item models.CartItem
		if err := rows.Scan(&item.CartID, &item.ProductID, &item.Quantity, &item.Price, &item.AddedAt,
			&item.ProductName, &item.ImageURL); err != nil {
			return nil, fmt.Errorf("failed to scan cart item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *CartService) loadItem(ctx context.Context, q db.Queryer, cartID, productID int64) (*models.CartItem, bool, error) {
	start := time.Now()
	query := "SELECT cart_id, product_id, quantity, price, added_at FROM cart_items WHERE cart_id = ? AND product_id = ?"

	var item models.CartItem
	err := q.QueryRowContext(ctx, query, cartID, productID).Scan(
		&item.CartID, &item.ProductID, &item.Quantity, &item.Price, &item.AddedAt,
	)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to check cart item: %w", err)
	}
	return &item, true, nil
}

func (s *CartService) insertItem(ctx context.Context, q db.Queryer, item *models.CartItem) error {
	start := time.Now()
	query := "INSERT INTO cart_items (cart_id, product_id, quantity, price, added_at) VALUES (?, ?, ?, ?, ?)"
	_, err := q.ExecContext(ctx, query, item.CartID, item.ProductID, item.Quantity, item.Price, item.AddedAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "cart_items", query, start, err == nil)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return conflictf("product %d was added to the cart concurrently, retry", item.ProductID)
		}
		return fmt.Errorf("failed to add item to cart: %w", err)
	}
	return nil
}

func (s *CartService) updateItem(ctx context.Context, q db.Queryer, item *models.CartItem) error {
	start := time.Now()
	query := "UPDATE cart_items SET quantity = ?, price = ? WHERE cart_id = ? AND product_id = ?"
	_, err := q.ExecContext(ctx, query, item.Quantity, item.Price, item.CartID, item.ProductID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "cart_items", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update cart item: %w", err)
	}
	return nil
}

// touchCart stamps updated_at and bumps the version read by loadCart. Zero rows
// affected means another writer changed the cart since it was read.
func (s *CartService) touchCart(ctx context.Context, q db.Queryer, cart *models.Cart) error {
	start := time.Now()
	updatedAt := now()
	query := "UPDATE carts SET updated_at = ?, version = version + 1 WHERE id = ? AND version = ?"
	result, err := q.ExecContext(ctx, query, updatedAt, cart.ID, cart.Version)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "carts", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update cart: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return conflictf("cart %d was modified concurrently, retry", cart.ID)
	}

	cart.Version++
	cart.UpdatedAt = &updatedAt
	return nil
}

func (s *CartService) countItems(ctx context.Context, q db.Queryer, cartID int64) (int, error) {
	start := time.Now()
	query := "SELECT COUNT(*) FROM cart_items WHERE cart_id = ?"
	var count int
	err := q.QueryRowContext(ctx, query, cartID).Scan(&count)
	s.metrics.RecordDBQuery(ctx, "SELECT", "cart_items", query, start, err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to count cart items: %w", err)
	}
	return count, nil
}

func (s *CartService) recordCartItems(ctx context.Context, username string, count int) {
	attrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("user.name", username),
	})
	s.metrics.CartItemsCount.Record(ctx, int64(count), metric.WithAttributes(attrs...))
}

// now is the store's clock: UTC, truncated to the microsecond precision of DATETIME(6)
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
