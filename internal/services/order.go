package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tallerverde/shop-go/internal/cart"
	"github.com/tallerverde/shop-go/internal/db"
	"github.com/tallerverde/shop-go/internal/metrics"
	"github.com/tallerverde/shop-go/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OrderService handles order-related operations
type OrderService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewOrderService creates a new order service
func NewOrderService(db *db.DB, metrics *metrics.AppMetrics) *OrderService {
	return &OrderService{
		db:      db,
		metrics: metrics,
	}
}

// CreateOrder snapshots the given cart lines into a new pending order. userID
// is nil for guest checkouts; the gateway token identifies the order to the
// payment gateway webhook.
func (s *OrderService) CreateOrder(ctx context.Context, buyerEmail string, userID *int64, lines []cart.Line) (*models.Order, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("cart is empty")
	}

	currency := lines[0].Currency
	var totalAmount float64
	for _, l := range lines {
		totalAmount += l.UnitPrice * float64(l.Quantity)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	gatewayToken := uuid.NewString()

	start := time.Now()
	orderQuery := "INSERT INTO orders (buyer_email, user_id, status, payment_status, gateway_token, total_amount, currency) VALUES (?, ?, 'pending', 'pending', ?, ?, ?)"
	result, err := tx.ExecContext(ctx, orderQuery, strings.ToLower(buyerEmail), userID, gatewayToken, totalAmount, currency)
	s.metrics.RecordDBQuery(ctx, "INSERT", "orders", orderQuery, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	orderID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get order ID: %w", err)
	}

	start = time.Now()
	itemQuery := "INSERT INTO order_items (order_id, product_id, kind, name, quantity, unit_price, currency, size, scheduled_date) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	for _, l := range lines {
		_, err = tx.ExecContext(ctx, itemQuery, orderID, l.ProductID, l.Kind, l.Name, l.Quantity, l.UnitPrice, l.Currency, l.Size, l.ScheduledDate)
		s.metrics.RecordDBQuery(ctx, "INSERT", "order_items", itemQuery, start, err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	attrs := s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("currency", string(currency)),
	})
	s.metrics.OrdersCreated.Add(ctx, 1, metric.WithAttributes(attrs...))
	s.metrics.RevenueTotal.Add(ctx, totalAmount, metric.WithAttributes(attrs...))

	now := time.Now()
	return &models.Order{
		ID:            orderID,
		BuyerEmail:    strings.ToLower(buyerEmail),
		UserID:        userID,
		Status:        "pending",
		PaymentStatus: "pending",
		GatewayToken:  gatewayToken,
		TotalAmount:   totalAmount,
		Currency:      currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// UpdatePaymentStatus applies a payment gateway notification to the order
// holding that gateway token. A paid order also moves to completed.
func (s *OrderService) UpdatePaymentStatus(ctx context.Context, gatewayToken, paymentStatus string) error {
	status := "pending"
	switch paymentStatus {
	case "paid":
		status = "completed"
	case "failed", "rejected":
		status = "cancelled"
	}

	start := time.Now()
	query := "UPDATE orders SET payment_status = ?, status = ?, updated_at = NOW() WHERE gateway_token = ?"
	result, err := s.db.ExecContext(ctx, query, paymentStatus, status, gatewayToken)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("order not found")
	}

	return nil
}

// GetOrder returns an order with its items
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*models.Order, []models.OrderItem, error) {
	start := time.Now()
	query := "SELECT id, buyer_email, user_id, status, payment_status, gateway_token, total_amount, currency, created_at, updated_at FROM orders WHERE id = ?"
	var order models.Order
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&order.ID, &order.BuyerEmail, &order.UserID, &order.Status, &order.PaymentStatus,
		&order.GatewayToken, &order.TotalAmount, &order.Currency, &order.CreatedAt, &order.UpdatedAt,
	)

	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)

	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("order not found")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get order: %w", err)
	}

	start = time.Now()
	itemQuery := "SELECT id, order_id, product_id, kind, name, quantity, unit_price, currency, size, scheduled_date, created_at FROM order_items WHERE order_id = ?"
	rows, err := s.db.QueryContext(ctx, itemQuery, id)
	s.metrics.RecordDBQuery(ctx, "SELECT", "order_items", itemQuery, start, err == nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Kind, &item.Name, &item.Quantity, &item.UnitPrice, &item.Currency, &item.Size, &item.ScheduledDate, &item.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, item)
	}

	return &order, items, rows.Err()
}

// ListUserOrders returns all orders owned by a user
func (s *OrderService) ListUserOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	start := time.Now()
	query := "SELECT id, buyer_email, user_id, status, payment_status, gateway_token, total_amount, currency, created_at, updated_at FROM orders WHERE user_id = ? ORDER BY created_at DESC"
	rows, err := s.db.QueryContext(ctx, query, userID)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.BuyerEmail, &order.UserID, &order.Status, &order.PaymentStatus, &order.GatewayToken, &order.TotalAmount, &order.Currency, &order.CreatedAt, &order.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}

	return orders, rows.Err()
}
