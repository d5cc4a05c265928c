package services

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/SigNoz/ecommerce-checkout/internal/cache"
	"github.com/SigNoz/ecommerce-checkout/internal/db"
	"github.com/SigNoz/ecommerce-checkout/internal/metrics"
	"github.com/SigNoz/ecommerce-checkout/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

type testEnv struct {
	db         *db.DB
	users      *UserService
	categories *CategoryService
	products   *ProductService
	carts      *CartService
	orders     *OrderService
	payments   *PaymentService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "checkout.sqlite") + "?_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)"
	database, err := db.NewDB(string(db.SQLite), dsn, noop.NewMeterProvider(), "services-test")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.InitSchema(context.Background()))

	m, err := metrics.NewAppMetrics(noop.NewMeterProvider().Meter("test"), "services-test", string(db.SQLite))
	require.NoError(t, err)

	carts := NewCartService(database, m)
	return &testEnv{
		db:         database,
		users:      NewUserService(database, m),
		categories: NewCategoryService(database, m),
		products:   NewProductService(database, m, cache.NewMemoryCache("services-test"), time.Minute),
		carts:      carts,
		orders:     NewOrderService(database, m, carts),
		payments:   NewPaymentService(database, m),
	}
}

func (e *testEnv) user(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := e.users.CreateUser(context.Background(), username, username+"@example.com")
	require.NoError(t, err)
	return u
}

func (e *testEnv) product(t *testing.T, name, price string) *models.Product {
	t.Helper()
	p, err := e.products.CreateProduct(context.Background(), models.ProductRequest{
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Stock:    100,
		ImageURL: "https://img.example.com/" + name + ".png",
	})
	require.NoError(t, err)
	return p
}

// shopper creates a user with an empty cart
func (e *testEnv) shopper(t *testing.T, username string) *models.User {
	t.Helper()
	u := e.user(t, username)
	_, err := e.carts.GetOrCreateCart(context.Background(), username)
	require.NoError(t, err)
	return u
}

func (e *testEnv) setPrice(t *testing.T, p *models.Product, price string) {
	t.Helper()
	_, err := e.products.UpdateProduct(context.Background(), p.ID, models.ProductRequest{
		Name:        p.Name,
		Description: p.Description,
		Price:       decimal.RequireFromString(price),
		Stock:       p.Stock,
		ImageURL:    p.ImageURL,
		CategoryID:  p.CategoryID,
	})
	require.NoError(t, err)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
