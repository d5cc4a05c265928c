package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/SigNoz/ecommerce-checkout/internal/cache"
	"github.com/SigNoz/ecommerce-checkout/internal/db"
	"github.com/SigNoz/ecommerce-checkout/internal/metrics"
	"github.com/SigNoz/ecommerce-checkout/internal/models"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const productColumns = `p.id, p.name, p.description, p.price, p.stock, p.image_url, p.category_id,
	COALESCE(c.name, ''), p.created_at, p.updated_at`

// ProductService is the catalog lookup the cart and checkout flows depend on,
// plus the minimal administration needed to keep the catalog populated
type ProductService struct {
	db       *db.DB
	metrics  *metrics.AppMetrics
	cache    cache.Cache
	cacheTTL time.Duration

	// generation is bumped by every invalidation so an in-flight cache fill
	// can tell it read the row before a write landed
	generation atomic.Uint64
}

// NewProductService creates a new product service
func NewProductService(db *db.DB, metrics *metrics.AppMetrics, c cache.Cache, ttl time.Duration) *ProductService {
	return &ProductService{
		db:       db,
		metrics:  metrics,
		cache:    c,
		cacheTTL: ttl,
	}
}

// ListProducts returns a paginated list of products
func (s *ProductService) ListProducts(ctx context.Context, limit, offset int) ([]models.Product, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	start := time.Now()
	query := `SELECT ` + productColumns + `
		FROM products p LEFT JOIN categories c ON c.id = p.category_id
		ORDER BY p.id LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, *p)
	}

	return products, rows.Err()
}

// GetProduct returns a product by ID, served from cache when fresh
func (s *ProductService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	key := s.cache.GenerateKey("product", strconv.FormatInt(id, 10))

	if cached, ok, err := s.cache.Get(ctx, key); err != nil {
		log.Printf("[CATALOG] cache read failed for %s: %v", key, err)
	} else if ok {
		var p models.Product
		if err := json.Unmarshal([]byte(cached), &p); err == nil {
			s.metrics.CacheHits.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{})...))
			s.recordView(ctx, &p)
			return &p, nil
		}
	}

	s.metrics.CacheMisses.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{})...))

	generation := s.generation.Load()
	p, err := lookupProduct(ctx, s.db, s.metrics, id)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(p); err == nil {
		if err := s.cache.Set(ctx, key, string(data), s.cacheTTL); err != nil {
			log.Printf("[CATALOG] cache write failed for %s: %v", key, err)
		}
		// an update or delete raced this fill; drop what may be a stale row
		if s.generation.Load() != generation {
			s.deleteKey(ctx, key)
		}
	}

	s.recordView(ctx, p)
	return p, nil
}

// CreateProduct adds a product to the catalog
func (s *ProductService) CreateProduct(ctx context.Context, req models.ProductRequest) (*models.Product, error) {
	price, err := s.validateProduct(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	createdAt := now()
	query := `INSERT INTO products (name, description, price, stock, image_url, category_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		strings.TrimSpace(req.Name), req.Description, price, req.Stock, req.ImageURL, req.CategoryID, createdAt, createdAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get product ID: %w", err)
	}

	return lookupProduct(ctx, s.db, s.metrics, id)
}

// UpdateProduct replaces a product's catalog fields. Carts pick up the new
// price on their next add or quantity update; orders never change.
func (s *ProductService) UpdateProduct(ctx context.Context, id int64, req models.ProductRequest) (*models.Product, error) {
	price, err := s.validateProduct(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	query := `UPDATE products SET name = ?, description = ?, price = ?, stock = ?, image_url = ?, category_id = ?, updated_at = ?
		WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query,
		strings.TrimSpace(req.Name), req.Description, price, req.Stock, req.ImageURL, req.CategoryID, now(), id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "products", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to update product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return nil, notFoundf("product not found: %d", id)
	}

	s.invalidate(ctx, id)
	return lookupProduct(ctx, s.db, s.metrics, id)
}

// DeleteProduct removes a product. Carts still holding it fail at checkout.
func (s *ProductService) DeleteProduct(ctx context.Context, id int64) error {
	start := time.Now()
	query := "DELETE FROM products WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "products", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFoundf("product not found: %d", id)
	}

	s.invalidate(ctx, id)
	return nil
}

func (s *ProductService) validateProduct(ctx context.Context, req models.ProductRequest) (decimal.Decimal, error) {
	name := strings.TrimSpace(req.Name)
	if len(name) < 3 || len(name) > 255 {
		return decimal.Zero, invalidf("product name must be between 3 and 255 characters")
	}
	if len(req.Description) > 1000 {
		return decimal.Zero, invalidf("description cannot exceed 1000 characters")
	}
	price := req.Price.Round(2)
	if !price.IsPositive() {
		return decimal.Zero, invalidf("price must be greater than zero")
	}
	if req.Stock < 0 {
		return decimal.Zero, invalidf("stock cannot be negative")
	}
	if req.CategoryID != nil {
		start := time.Now()
		query := "SELECT 1 FROM categories WHERE id = ?"
		var one int
		err := s.db.QueryRowContext(ctx, query, *req.CategoryID).Scan(&one)
		s.metrics.RecordDBQuery(ctx, "SELECT", "categories", query, start, err == nil || err == sql.ErrNoRows)
		if err == sql.ErrNoRows {
			return decimal.Zero, notFoundf("category not found: %d", *req.CategoryID)
		}
		if err != nil {
			return decimal.Zero, fmt.Errorf("failed to verify category: %w", err)
		}
	}
	return price, nil
}

func (s *ProductService) invalidate(ctx context.Context, id int64) {
	s.generation.Add(1)
	s.deleteKey(ctx, s.cache.GenerateKey("product", strconv.FormatInt(id, 10)))
}

func (s *ProductService) deleteKey(ctx context.Context, key string) {
	if err := s.cache.Delete(ctx, key); err != nil {
		log.Printf("[CATALOG] cache invalidation failed for %s: %v", key, err)
	}
}

func (s *ProductService) recordView(ctx context.Context, p *models.Product) {
	attrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.Int64("product_id", p.ID),
		attribute.String("product_category", categoryLabel(p.CategoryName)),
	})
	s.metrics.ProductsViewed.Add(ctx, 1, metric.WithAttributes(attrs...))
	s.metrics.InventoryLevel.Record(ctx, int64(p.Stock), metric.WithAttributes(attrs...))
}

// lookupProduct reads the current catalog row, bypassing the cache. Cart and
// checkout call it inside their transactions so prices are never stale.
func lookupProduct(ctx context.Context, q db.Queryer, m *metrics.AppMetrics, id int64) (*models.Product, error) {
	start := time.Now()
	query := `SELECT ` + productColumns + `
		FROM products p LEFT JOIN categories c ON c.id = p.category_id
		WHERE p.id = ?`
	p, err := scanProduct(q.QueryRowContext(ctx, query, id))
	m.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, notFoundf("product not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var p models.Product
	var categoryID sql.NullInt64
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.ImageURL,
		&categoryID, &p.CategoryName, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if categoryID.Valid {
		id := categoryID.Int64
		p.CategoryID = &id
	}
	return &p, nil
}
