package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tallerverde/shop-go/internal/db"
	"github.com/tallerverde/shop-go/internal/metrics"
	"go.opentelemetry.io/otel/metric"
)

// GuestOrderStore exposes the order-store operations the linking flow needs
type GuestOrderStore interface {
	// UnlinkedOrderIDs returns ids of orders with the given buyer email and no
	// owning account
	UnlinkedOrderIDs(ctx context.Context, email string) ([]int64, error)
	// ClaimOrder sets the owning account if it is still unset. Reports whether
	// the order was claimed by this call.
	ClaimOrder(ctx context.Context, orderID, userID int64) (bool, error)
}

// OrderLinkService reconciles guest checkout orders with an authenticated
// account, idempotently: an already-linked order is excluded by the unset-owner
// filter, so re-running links zero additional orders.
type OrderLinkService struct {
	store   GuestOrderStore
	metrics *metrics.AppMetrics
	logger  zerolog.Logger
}

// NewOrderLinkService creates a new order link service
func NewOrderLinkService(store GuestOrderStore, m *metrics.AppMetrics, logger zerolog.Logger) *OrderLinkService {
	return &OrderLinkService{
		store:   store,
		metrics: m,
		logger:  logger,
	}
}

// LinkOrdersToUser attaches all unowned orders matching the email to the given
// account and returns the count newly linked. A failure on one order does not
// stop the others; the batch reports a partial count rather than failing.
func (s *OrderLinkService) LinkOrdersToUser(ctx context.Context, email string, userID int64) (int, error) {
	ids, err := s.store.UnlinkedOrderIDs(ctx, strings.ToLower(email))
	if err != nil {
		return 0, fmt.Errorf("failed to query unlinked orders: %w", err)
	}

	linked := 0
	for _, id := range ids {
		claimed, err := s.store.ClaimOrder(ctx, id, userID)
		if err != nil {
			s.logger.Warn().Err(err).Int64("order_id", id).Int64("user_id", userID).Msg("failed to link order, skipping")
			continue
		}
		if claimed {
			linked++
		}
	}

	if linked > 0 && s.metrics != nil {
		s.metrics.OrdersLinked.Add(ctx, int64(linked), metric.WithAttributes(s.metrics.WithServiceName(nil)...))
	}

	return linked, nil
}

// SQLGuestOrderStore implements GuestOrderStore against the orders table
type SQLGuestOrderStore struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewSQLGuestOrderStore creates an order store over the shared DB handle
func NewSQLGuestOrderStore(db *db.DB, m *metrics.AppMetrics) *SQLGuestOrderStore {
	return &SQLGuestOrderStore{
		db:      db,
		metrics: m,
	}
}

func (s *SQLGuestOrderStore) UnlinkedOrderIDs(ctx context.Context, email string) ([]int64, error) {
	start := time.Now()
	query := "SELECT id FROM orders WHERE LOWER(buyer_email) = ? AND user_id IS NULL"
	rows, err := s.db.QueryContext(ctx, query, email)
	s.metrics.RecordDBQuery(ctx, "SELECT", "orders", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLGuestOrderStore) ClaimOrder(ctx context.Context, orderID, userID int64) (bool, error) {
	start := time.Now()

	// The user_id IS NULL guard makes the claim a no-op when another call
	// already linked the order
	query := "UPDATE orders SET user_id = ?, updated_at = NOW() WHERE id = ? AND user_id IS NULL"
	result, err := s.db.ExecContext(ctx, query, userID, orderID)
	s.metrics.RecordDBQuery(ctx, "UPDATE", "orders", query, start, err == nil)
	if err != nil {
		return false, fmt.Errorf("failed to claim order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected > 0, nil
}
