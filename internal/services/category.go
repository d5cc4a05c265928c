package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/SigNoz/ecommerce-checkout/internal/db"
	"github.com/SigNoz/ecommerce-checkout/internal/metrics"
	"github.com/SigNoz/ecommerce-checkout/internal/models"
)

// CategoryService manages catalog categories; names are unique
type CategoryService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewCategoryService creates a new category service
func NewCategoryService(db *db.DB, metrics *metrics.AppMetrics) *CategoryService {
	return &CategoryService{
		db:      db,
		metrics: metrics,
	}
}

// CreateCategory adds a category; a duplicate name is a domain error
func (s *CategoryService) CreateCategory(ctx context.Context, name string) (*models.Category, error) {
	name, err := validCategoryName(name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	query := "INSERT INTO categories (name) VALUES (?)"
	result, err := s.db.ExecContext(ctx, query, name)
	s.metrics.RecordDBQuery(ctx, "INSERT", "categories", query, start, err == nil)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, domainf("a category with this name already exists: %s", name)
		}
		return nil, fmt.Errorf("failed to create category: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get category ID: %w", err)
	}

	return &models.Category{ID: id, Name: name}, nil
}

// GetCategory returns a category by ID
func (s *CategoryService) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	start := time.Now()

	query := "SELECT id, name FROM categories WHERE id = ?"
	var c models.Category
	err := s.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.Name)
	s.metrics.RecordDBQuery(ctx, "SELECT", "categories", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, notFoundf("category not found: %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// ListCategories returns all categories ordered by name
func (s *CategoryService) ListCategories(ctx context.Context) ([]models.Category, error) {
	start := time.Now()

	query := "SELECT id, name FROM categories ORDER BY name"
	rows, err := s.db.QueryContext(ctx, query)
	s.metrics.RecordDBQuery(ctx, "SELECT", "categories", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := []models.Category{}
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// UpdateCategory renames a category; renaming onto another category's name is rejected
func (s *CategoryService) UpdateCategory(ctx context.Context, id int64, name string) (*models.Category, error) {
	name, err := validCategoryName(name)
	if err != nil {
		return nil, err
	}

	if _, err := s.GetCategory(ctx, id); err != nil {
		return nil, err
	}

	start := time.Now()
	query := "UPDATE categories SET name = ? WHERE id = ?"
	_, err = s.db.ExecContext(ctx, query, name, id)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "categories", query, start, err == nil)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, domainf("another category with this name already exists: %s", name)
		}
		return nil, fmt.Errorf("failed to update category: %w", err)
	}

	return &models.Category{ID: id, Name: name}, nil
}

// DeleteCategory removes a category; its products become uncategorised
func (s *CategoryService) DeleteCategory(ctx context.Context, id int64) error {
	start := time.Now()

	query := "DELETE FROM categories WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "DELETE", "categories", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to delete category: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFoundf("category not found: %d", id)
	}
	return nil
}

func validCategoryName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return "", invalidf("category name must be between 1 and 100 characters")
	}
	return name, nil
}
