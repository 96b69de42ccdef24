package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tallerverde/shop-go/internal/db"
	"github.com/tallerverde/shop-go/internal/metrics"
)

// NewsletterService handles newsletter signups
type NewsletterService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
}

// NewNewsletterService creates a new newsletter service
func NewNewsletterService(db *db.DB, metrics *metrics.AppMetrics) *NewsletterService {
	return &NewsletterService{
		db:      db,
		metrics: metrics,
	}
}

// Subscribe records a newsletter subscriber. Subscribing an already-subscribed
// email is treated as success.
func (s *NewsletterService) Subscribe(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return fmt.Errorf("invalid email")
	}

	start := time.Now()
	query := "INSERT INTO newsletter_subscribers (email) VALUES (?)"
	_, err := s.db.ExecContext(ctx, query, email)
	s.metrics.RecordDBQuery(ctx, "INSERT", "newsletter_subscribers", query, start, err == nil)
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return nil
		}
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	return nil
}
