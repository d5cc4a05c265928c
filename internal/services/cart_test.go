package services

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/SigNoz/ecommerce-checkout/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateCart_ReturnsSameCart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.user(t, "ana")

	first, err := env.carts.GetOrCreateCart(ctx, "ana")
	require.NoError(t, err)
	second, err := env.carts.GetOrCreateCart(ctx, "ana")
	require.NoError(t, err)

	assert.Equal(t, first.CartID, second.CartID)
	assert.Equal(t, "ana", first.Username)
	assert.Empty(t, first.Items)
	assert.Nil(t, first.UpdatedAt)
	requireDecimal(t, "0", first.TotalAmount)
}

func TestGetOrCreateCart_Concurrent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.user(t, "ana")

	const workers = 8
	ids := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cart, err := env.carts.GetOrCreateCart(ctx, "ana")
			if assert.NoError(t, err) {
				ids[i] = cart.CartID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var n int
	require.NoError(t, env.db.QueryRow("SELECT COUNT(*) FROM carts").Scan(&n))
	assert.Equal(t, 1, n)
	assert.Zero(t, env.carts.locks.size())
}

func TestGetOrCreateCart_UnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.carts.GetOrCreateCart(context.Background(), "ghost")

	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "user not found: ghost", err.Error())
}

func TestGetCart_WithoutCartIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.user(t, "ana")

	_, err := env.carts.GetCart(context.Background(), "ana")

	require.ErrorIs(t, err, ErrNotFound)
}

func TestAddItem_NewLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shopper(t, "ana")
	p := env.product(t, "kettle", "19.99")

	line, err := env.carts.AddItem(ctx, "ana", p.ID, 2)
	require.NoError(t, err)

	assert.Equal(t, p.ID, line.ProductID)
	assert.Equal(t, "kettle", line.ProductName)
	assert.Equal(t, p.ImageURL, line.ImageURL)
	assert.Equal(t, 2, line.Quantity)
	requireDecimal(t, "19.99", line.Price)
	requireDecimal(t, "39.98", line.Subtotal)

	cart, err := env.carts.GetCart(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	require.NotNil(t, cart.UpdatedAt)
	requireDecimal(t, "39.98", cart.TotalAmount)
}

func TestAddItem_RepeatedAddRepricesWholeLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shopper(t, "ana")
	p := env.product(t, "kettle", "10.00")

	_, err := env.carts.AddItem(ctx, "ana", p.ID, 2)
	require.NoError(t, err)

	env.setPrice(t, p, "12.50")

	line, err := env.carts.AddItem(ctx, "ana", p.ID, 3)
	require.NoError(t, err)

	// The earlier two units are re-priced too; there is no per-addition price history.
	assert.Equal(t, 5, line.Quantity)
	requireDecimal(t, "12.50", line.Price)
	requireDecimal(t, "62.50", line.Subtotal)

	cart, err := env.carts.GetCart(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	requireDecimal(t, "62.50", cart.TotalAmount)
}

func TestAddItem_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.user(t, "nocart")
	env.shopper(t, "ana")
	p := env.product(t, "kettle", "10.00")

	tests := []struct {
		name      string
		username  string
		productID int64
		quantity  int
		want      error
	}{
		{"unknown user", "ghost", p.ID, 1, ErrNotFound},
		{"no cart yet", "nocart", p.ID, 1, ErrNotFound},
		{"unknown product", "ana", p.ID + 100, 1, ErrNotFound},
		{"zero quantity", "ana", p.ID, 0, ErrDomain},
		{"negative quantity", "ana", p.ID, -2, ErrDomain},
		{"quantity above line limit", "ana", p.ID, MaxLineQuantity + 1, ErrDomain},
		{"max int quantity", "ana", p.ID, math.MaxInt, ErrDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.carts.AddItem(ctx, tt.username, tt.productID, tt.quantity)
			require.ErrorIs(t, err, tt.want)
		})
	}

	cart, err := env.carts.GetCart(ctx, "ana")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestAddItem_ConcurrentAddsKeepOneLine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shopper(t, "ana")
	p := env.product(t, "kettle", "3.00")

	const workers = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.carts.AddItem(ctx, "ana", p.ID, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	cart, err := env.carts.GetCart(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, workers, cart.Items[0].Quantity)
	requireDecimal(t, "30.00", cart.TotalAmount)

	var version int64
	require.NoError(t, env.db.QueryRow("SELECT version FROM carts WHERE id = ?", cart.CartID).Scan(&version))
	assert.Equal(t, int64(workers), version)
}

func TestAddItem_LineQuantityIsCapped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shopper(t, "ana")
	p := env.product(t, "kettle", "10.00")

	line, err := env.carts.AddItem(ctx, "ana", p.ID, MaxLineQuantity)
	require.NoError(t, err)
	assert.Equal(t, MaxLineQuantity, line.Quantity)

	_, err = env.carts.AddItem(ctx, "ana", p.ID, 2)
	require.ErrorIs(t, err, ErrDomain)
	assert.Contains(t, err.Error(), "cannot exceed")

	cart, err := env.carts.GetCart(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, MaxLineQuantity, cart.Items[0].Quantity)
	assert.True(t, cart.TotalAmount.IsPositive())
	requireDecimal(t, "21474836470.00", cart.TotalAmount)
}

func TestSetItemQuantity_RejectsAboveLineLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shopper(t, "ana")
	p := env.product(t, "kettle", "10.00")

	_, err := env.carts.AddItem(ctx, "ana", p.ID, 2)
	require.NoError(t, err)

	for _, quantity := range []int{MaxLineQuantity + 1, math.MaxInt} {
		_, err = env.carts.SetItemQuantity(ctx, "ana", p.ID, quantity)
		require.ErrorIs(t, err, ErrDomain)
	}

	line, err := env.carts.SetItemQuantity(ctx, "ana", p.ID, MaxLineQuantity)
	require.NoError(t, err)
	assert.Equal(t, MaxLineQuantity, line.Quantity)
}

func TestTouchCart_StaleVersionConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.shopper(t, "ana")

	cart, err := env.carts.loadCart(ctx, env.db, u, false)
	require.NoError(t, err)
	stale := *cart

	require.NoError(t, env.carts.touchCart(ctx, env.db, cart))
	assert.Equal(t, stale.Version+1, cart.Version)

	err = env.carts.touchCart(ctx, env.db, &stale)
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, CodeConflict, CodeOf(err))

	current, err := env.carts.loadCart(ctx, env.db, u, false)
	require.NoError(t, err)
	assert.Equal(t, cart.Version, current.Version, "losing writer leaves the version alone")
}

func TestInsertItem_DuplicateLineConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	u := env.shopper(t, "ana")
	p := env.product(t, "kettle", "10.00")

	_, err := env.carts.AddItem(ctx, "ana", p.ID, 1)
	require.NoError(t, err)
	cart, err := env.carts.loadCart(ctx, env.db, u, false)
	require.NoError(t, err)

	err = env.carts.insertItem(ctx, env.db, &models.CartItem{
		CartID:    cart.ID,
		ProductID: p.ID,
		Quantity:  1,
		Price:     p.Price,
		AddedAt:   now(),
	})
	require.ErrorIs(t, err, ErrConflict)

	view, err := env.carts.GetCart(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 1, view.Items[0].Quantity)
}

func TestRemoveItem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shopper(t, "ana")
	kettle := env.product(t, "kettle", "10.00")
	toaster := env.product(t, "toaster", "25.00")

	_, err := env.carts.AddItem(ctx, "ana", kettle.ID, 1)
	require.NoError(t, err)
	_, err = env.carts.AddItem(ctx, "ana", toaster.ID, 1)
	require.NoError(t, err)

	require.NoError(t, env.carts.RemoveItem(ctx, "ana", kettle.ID))

	cart, err := env.carts.GetCart(ctx, "ana")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, toaster.ID, cart.Items[0].ProductID)
	requireDecimal(t, "25.00", cart.TotalAmount)

	err = env.carts.RemoveItem(ctx, "ana", kettle.ID)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "item not found in cart for product: "+itoa(kettle.ID), err.Error())
}

func TestSetItemQuantity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shopper(t, "ana")
	p := env.product(t, "kettle", "10.00")

	_, err := env.carts.SetItemQuantity(ctx, "ana", p.ID, 3)
	require.ErrorIs(t, err, ErrNotFound, "absent line")

	_, err = env.carts.AddItem(ctx, "ana", p.ID, 1)
	require.NoError(t, err)
	env.setPrice(t, p, "8.00")

	line, err := env.carts.SetItemQuantity(ctx, "ana", p.ID, 4)
	require.NoError(t, err)
	require.NotNil(t, line)
	assert.Equal(t, 4, line.Quantity)
	requireDecimal(t, "8.00", line.Price)
	requireDecimal(t, "32.00", line.Subtotal)
}

func TestSetItemQuantity_ZeroRemoves(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shopper(t, "ana")
	p := env.product(t, "kettle", "10.00")

	_, err := env.carts.AddItem(ctx, "ana", p.ID, 2)
	require.NoError(t, err)

	line, err := env.carts.SetItemQuantity(ctx, "ana", p.ID, 0)
	require.NoError(t, err)
	assert.Nil(t, line)

	cart, err := env.carts.GetCart(ctx, "ana")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	// same contract as RemoveItem once the line is gone
	_, err = env.carts.SetItemQuantity(ctx, "ana", p.ID, -1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCartTotal_TracksEveryMutation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shopper(t, "ana")
	a := env.product(t, "apples", "1.25")
	b := env.product(t, "bread", "3.10")
	c := env.product(t, "cheese", "7.99")

	steps := []func() error{
		func() error { _, err := env.carts.AddItem(ctx, "ana", a.ID, 4); return err },
		func() error { _, err := env.carts.AddItem(ctx, "ana", b.ID, 1); return err },
		func() error { _, err := env.carts.AddItem(ctx, "ana", c.ID, 2); return err },
		func() error { _, err := env.carts.SetItemQuantity(ctx, "ana", b.ID, 3); return err },
		func() error { return env.carts.RemoveItem(ctx, "ana", a.ID) },
		func() error { _, err := env.carts.AddItem(ctx, "ana", a.ID, 1); return err },
		func() error { _, err := env.carts.SetItemQuantity(ctx, "ana", c.ID, 0); return err },
	}

	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)

		cart, err := env.carts.GetCart(ctx, "ana")
		require.NoError(t, err)

		sum := dec("0")
		for _, item := range cart.Items {
			sum = sum.Add(item.Price.Mul(dec(itoa(int64(item.Quantity)))))
			requireDecimal(t, item.Price.Mul(dec(itoa(int64(item.Quantity)))).String(), item.Subtotal)
		}
		requireDecimal(t, sum.String(), cart.TotalAmount)
	}

	cart, err := env.carts.GetCart(ctx, "ana")
	require.NoError(t, err)
	requireDecimal(t, "10.55", cart.TotalAmount)
}

func TestCountActiveCarts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.shopper(t, "ana")
	env.shopper(t, "ben")
	env.shopper(t, "cy")
	p := env.product(t, "kettle", "10.00")

	_, err := env.carts.AddItem(ctx, "ana", p.ID, 1)
	require.NoError(t, err)
	_, err = env.carts.AddItem(ctx, "ben", p.ID, 2)
	require.NoError(t, err)

	n, err := env.carts.CountActiveCarts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMonitorActiveCarts_StopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		env.carts.MonitorActiveCarts(ctx, 5*time.Millisecond)
		close(done)
	}()
	cancel()
	<-done
}
