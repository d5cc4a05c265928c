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
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// UserService resolves usernames to user identities. Credentials live with the
// upstream identity provider; this registry only holds what the cart and order
// flows reference.
type UserService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewUserService creates a new user service
func NewUserService(db *db.DB, metrics *metrics.AppMetrics) *UserService {
	return &UserService{
		db:      db,
		metrics: metrics,
	}
}

// CreateUser registers a username. Duplicate usernames are a domain error.
func (s *UserService) CreateUser(ctx context.Context, username, email string) (*models.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || len(username) > 100 {
		return nil, invalidf("username must be between 1 and 100 characters")
	}

	start := time.Now()
	createdAt := now()

	query := "INSERT INTO users (username, email, created_at) VALUES (?, ?, ?)"
	result, err := s.db.ExecContext(ctx, query, username, email, createdAt)
	s.metrics.RecordDBQuery(ctx, "INSERT", "users", query, start, err == nil)
	if err != nil {
		if db.IsDuplicateKey(err) {
			return nil, domainf("username already exists: %s", username)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get user ID: %w", err)
	}

	s.metrics.ActiveUsersCount.Record(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("session_type", "registered"),
		attribute.Int64("user_id", id),
	})...))

	return &models.User{
		ID:        id,
		Username:  username,
		Email:     email,
		CreatedAt: createdAt,
	}, nil
}

// GetUserByUsername returns a user by username
func (s *UserService) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return lookupUser(ctx, s.db, s.metrics, username)
}

// lookupUser resolves username through q, which may be a transaction
func lookupUser(ctx context.Context, q db.Queryer, m *metrics.AppMetrics, username string) (*models.User, error) {
	start := time.Now()

	query := "SELECT id, username, email, created_at FROM users WHERE username = ?"
	var user models.User
	err := q.QueryRowContext(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.Email, &user.CreatedAt,
	)
	m.RecordDBQuery(ctx, "SELECT", "users", query, start, err == nil || err == sql.ErrNoRows)

	if err == sql.ErrNoRows {
		return nil, notFoundf("user not found: %s", username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &user, nil
}
