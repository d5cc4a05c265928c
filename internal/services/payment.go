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
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	msgAmountMismatch   = "amount mismatch"
	msgPaymentProcessed = "payment processed"
	msgNotAwaiting      = "order not awaiting payment, current status = %s"
)

// PaymentService reconciles simulated payments against order totals. It only
// ever moves an order from PENDING to PROCESSING.
type PaymentService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	locks   *keyedMutex
}

// NewPaymentService creates a new payment service
func NewPaymentService(db *db.DB, metrics *metrics.AppMetrics) *PaymentService {
	return &PaymentService{
		db:      db,
		metrics: metrics,
		locks:   newKeyedMutex(),
	}
}

// ProcessPayment compares the amount with the order's total and, when the
// order is still PENDING, marks it PROCESSING. Mismatches and non-pending
// orders produce a FAILED outcome, not an error. A retry after success sees
// PROCESSING and fails.
func (s *PaymentService) ProcessPayment(ctx context.Context, req models.PaymentRequest) (*models.PaymentOutcome, error) {
	ctx, span := tracer.Start(ctx, "payment.process", trace.WithAttributes(
		attribute.Int64("order.id", req.OrderID),
		attribute.String("payment.method", req.PaymentMethod),
	))
	defer span.End()

	unlock := s.locks.Lock(req.OrderID)
	defer unlock()

	outcome := &models.PaymentOutcome{
		OrderID:       req.OrderID,
		AmountPaid:    req.Amount,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: models.PaymentStatusFailed,
	}

	var order *models.Order
	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = loadOrder(ctx, tx, s.metrics, s.db.Dialect, req.OrderID, true)
		if err != nil {
			return err
		}
		outcome.NewOrderStatus = order.Status

		if !req.Amount.Equal(order.TotalAmount) {
			outcome.Message = msgAmountMismatch
			return nil
		}

		transactionID := uuid.New().String()
		if order.Status != models.OrderStatusPending {
			outcome.TransactionID = transactionID
			outcome.Message = fmt.Sprintf(msgNotAwaiting, order.Status)
			return nil
		}

		advanced, err := s.advance(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !advanced {
			current, err := loadOrder(ctx, tx, s.metrics, s.db.Dialect, order.ID, false)
			if err != nil {
				return err
			}
			outcome.TransactionID = transactionID
			outcome.NewOrderStatus = current.Status
			outcome.Message = fmt.Sprintf(msgNotAwaiting, current.Status)
			return nil
		}

		outcome.TransactionID = transactionID
		outcome.PaymentStatus = models.PaymentStatusSuccess
		outcome.NewOrderStatus = models.OrderStatusProcessing
		outcome.Message = msgPaymentProcessed
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	outcome.PaymentDate = now()

	span.SetAttributes(attribute.String("payment.status", string(outcome.PaymentStatus)))
	log.Printf("[PAYMENT] order_id=%d, method=%s, amount=%s, status=%s, order_status=%s, message=%q",
		req.OrderID, req.PaymentMethod, req.Amount, outcome.PaymentStatus, outcome.NewOrderStatus, outcome.Message)

	s.record(ctx, order, outcome)
	return outcome, nil
}

// advance moves the order to PROCESSING only if it is still PENDING
func (s *PaymentService) advance(ctx context.Context, q db.Queryer, orderID int64) (bool, error) {
	start := time.Now()
	query := "UPDATE orders SET status = ? WHERE id = ? AND status = ?"
	result, err := q.ExecContext(ctx, query,
		string(models.OrderStatusProcessing), orderID, string(models.OrderStatusPending))
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

func (s *PaymentService) record(ctx context.Context, order *models.Order, outcome *models.PaymentOutcome) {
	attrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("payment_method", outcome.PaymentMethod),
		attribute.String("payment_status", string(outcome.PaymentStatus)),
	})
	s.metrics.PaymentsProcessed.Add(ctx, 1, metric.WithAttributes(attrs...))

	if outcome.PaymentStatus != models.PaymentStatusSuccess {
		return
	}

	revenue, _ := order.TotalAmount.Float64()
	revenueAttrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("payment_method", outcome.PaymentMethod),
		attribute.String("order_status", string(outcome.NewOrderStatus)),
	})
	s.metrics.RevenueTotal.Add(ctx, revenue, metric.WithAttributes(revenueAttrs...))
	log.Printf("[METRICS] Recording revenue: order_id=%d, amount=%s", order.ID, order.TotalAmount)
}
