package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// OrderStatuses lists every known status in lifecycle order
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// ParseOrderStatus converts a case-insensitive name into an OrderStatus
func ParseOrderStatus(s string) (OrderStatus, error) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range OrderStatuses {
		if st == candidate {
			return st, nil
		}
	}
	return "", fmt.Errorf("invalid order status: %q", s)
}

// PaymentStatus is the outcome of a payment attempt
type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// User is the identity the core resolves from a username
type User struct {
	ID        int64     `json:"id" db:"id"`
	Username  string    `json:"username" db:"username"`
	Email     string    `json:"email" db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Category groups products in the catalog
type Category struct {
	ID   int64  `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Product represents a product in the catalog
type Product struct {
	ID           int64           `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	Description  string          `json:"description" db:"description"`
	Price        decimal.Decimal `json:"price" db:"price"`
	Stock        int             `json:"stock" db:"stock"`
	ImageURL     string          `json:"image_url" db:"image_url"`
	CategoryID   *int64          `json:"category_id,omitempty" db:"category_id"`
	CategoryName string          `json:"category_name,omitempty"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// Cart is a user's shopping cart. Items holds at most one entry per product.
type Cart struct {
	ID        int64      `db:"id"`
	UserID    int64      `db:"user_id"`
	Username  string     `db:"-"`
	Version   int64      `db:"version"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt *time.Time `db:"updated_at"`
	Items     []CartItem `db:"-"`
}

// Item returns the line item for productID, if present
func (c *Cart) Item(productID int64) (*CartItem, bool) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i], true
		}
	}
	return nil, false
}

// Total sums the subtotals of every line item
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// View projects the cart for callers
func (c *Cart) View() *CartView {
	items := make([]LineItemView, 0, len(c.Items))
	for _, item := range c.Items {
		items = append(items, item.View())
	}
	return &CartView{
		CartID:      c.ID,
		Username:    c.Username,
		Items:       items,
		TotalAmount: c.Total(),
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

// CartItem is a line item; identity is (CartID, ProductID)
type CartItem struct {
	CartID      int64           `db:"cart_id"`
	ProductID   int64           `db:"product_id"`
	ProductName string          `db:"-"`
	ImageURL    string          `db:"-"`
	Quantity    int             `db:"quantity"`
	Price       decimal.Decimal `db:"price"`
	AddedAt     time.Time       `db:"added_at"`
}

// Subtotal is price × quantity
func (i CartItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// View projects the line item for callers
func (i CartItem) View() LineItemView {
	return LineItemView{
		ProductID:   i.ProductID,
		ProductName: i.ProductName,
		ImageURL:    i.ImageURL,
		Quantity:    i.Quantity,
		Price:       i.Price,
		Subtotal:    i.Subtotal(),
	}
}

// Order is an immutable snapshot of a cart; only Status changes after creation
type Order struct {
	ID          int64           `db:"id"`
	UserID      int64           `db:"user_id"`
	Username    string          `db:"-"`
	Status      OrderStatus     `db:"status"`
	TotalAmount decimal.Decimal `db:"total_amount"`
	OrderDate   time.Time       `db:"order_date"`
	Items       []OrderItem     `db:"-"`
}

// View projects the order for callers
func (o *Order) View() *OrderView {
	items := make([]OrderItemView, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemView{
			OrderItemID: item.ID,
			LineItemView: LineItemView{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				ImageURL:    item.ImageURL,
				Quantity:    item.Quantity,
				Price:       item.Price,
				Subtotal:    item.Subtotal(),
			},
		})
	}
	return &OrderView{
		OrderID:     o.ID,
		Username:    o.Username,
		Items:       items,
		TotalAmount: o.TotalAmount,
		OrderDate:   o.OrderDate,
		Status:      o.Status,
	}
}

// OrderItem is a line item copied into an order at checkout
type OrderItem struct {
	ID          int64           `db:"id"`
	OrderID     int64           `db:"order_id"`
	ProductID   int64           `db:"product_id"`
	ProductName string          `db:"-"`
	ImageURL    string          `db:"-"`
	Quantity    int             `db:"quantity"`
	Price       decimal.Decimal `db:"price"`
}

// Subtotal is price × quantity
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// CartView represents a cart with its items
type CartView struct {
	CartID      int64           `json:"cart_id"`
	Username    string          `json:"username"`
	Items       []LineItemView  `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   *time.Time      `json:"updated_at"`
}

// LineItemView represents one cart line
type LineItemView struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	ImageURL    string          `json:"image_url"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// OrderView represents an order with its items
type OrderView struct {
	OrderID     int64           `json:"order_id"`
	Username    string          `json:"username"`
	Items       []OrderItemView `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	OrderDate   time.Time       `json:"order_date"`
	Status      OrderStatus     `json:"status"`
}

// OrderItemView is a LineItemView with the order item's own id
type OrderItemView struct {
	OrderItemID int64 `json:"order_item_id"`
	LineItemView
}

// PaymentRequest represents a request to pay for an order
type PaymentRequest struct {
	OrderID       int64           `json:"order_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	CardDetails   string          `json:"card_details,omitempty"`
}

// PaymentOutcome is the result of a payment attempt. FAILED outcomes are not errors.
type PaymentOutcome struct {
	OrderID        int64           `json:"order_id"`
	AmountPaid     decimal.Decimal `json:"amount_paid"`
	PaymentMethod  string          `json:"payment_method"`
	TransactionID  string          `json:"transaction_id,omitempty"`
	PaymentStatus  PaymentStatus   `json:"payment_status"`
	NewOrderStatus OrderStatus     `json:"new_order_status"`
	PaymentDate    time.Time       `json:"payment_date"`
	Message        string          `json:"message"`
}

// AddToCartRequest represents a request to add item to cart
type AddToCartRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// UpdateOrderStatusRequest represents an administrative status override
type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

// CreateUserRequest represents a request to create a user
type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// CategoryRequest represents a request to create or rename a category
type CategoryRequest struct {
	Name string `json:"name"`
}

// ProductRequest represents a request to create or update a product
type ProductRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"image_url"`
	CategoryID  *int64          `json:"category_id"`
}
