package services

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/tallerverde/shop-go/internal/db"
	"github.com/tallerverde/shop-go/internal/metrics"
	"github.com/tallerverde/shop-go/internal/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ProductCache holds cached products
type ProductCache struct {
	mu    sync.RWMutex
	items map[string]cachedProduct
}

type cachedProduct struct {
	product models.Product
	expires time.Time
}

// ProductService serves the catalog read model synced from the CMS. The app
// never writes product rows.
type ProductService struct {
	db      *db.DB
	metrics *metrics.AppMetrics
	cache   ProductCache
}

// NewProductService creates a new product service
func NewProductService(db *db.DB, metrics *metrics.AppMetrics) *ProductService {
	return &ProductService{
		db:      db,
		metrics: metrics,
		cache: ProductCache{
			items: make(map[string]cachedProduct),
		},
	}
}

// ListProducts returns a paginated list of products, optionally filtered by kind
func (s *ProductService) ListProducts(ctx context.Context, kind models.Kind, limit, offset int) ([]models.Product, error) {
	start := time.Now()

	query := `SELECT id, name, description, kind, price_clp, price_usd, stock, stockable, created_at, updated_at FROM products LIMIT ? OFFSET ?`
	args := []interface{}{limit, offset}
	if kind != "" {
		query = `SELECT id, name, description, kind, price_clp, price_usd, stock, stockable, created_at, updated_at FROM products WHERE kind = ? LIMIT ? OFFSET ?`
		args = []interface{}{kind, limit, offset}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, false)
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, true)

	var products []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Kind, &p.PriceCLP, &p.PriceUSD, &p.Stock, &p.Stockable, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}

	return products, rows.Err()
}

// GetProduct returns a product by ID
func (s *ProductService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	// Check cache first
	s.cache.mu.RLock()
	if cached, exists := s.cache.items[id]; exists && time.Now().Before(cached.expires) {
		s.cache.mu.RUnlock()
		s.recordView(ctx, cached.product)
		return &cached.product, nil
	}
	s.cache.mu.RUnlock()

	start := time.Now()
	query := `SELECT id, name, description, kind, price_clp, price_usd, stock, stockable, created_at, updated_at FROM products WHERE id = ?`
	var p models.Product
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &p.Kind, &p.PriceCLP, &p.PriceUSD, &p.Stock, &p.Stockable, &p.CreatedAt, &p.UpdatedAt)

	s.metrics.RecordDBQuery(ctx, "SELECT", "products", query, start, err == nil)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	if p.Sizes, err = s.productSizes(ctx, id); err != nil {
		return nil, err
	}
	if p.Kind == models.KindWorkshop {
		if p.SessionDates, err = s.sessionDates(ctx, id); err != nil {
			return nil, err
		}
	}

	// Cache the product
	s.cache.mu.Lock()
	s.cache.items[id] = cachedProduct{
		product: p,
		expires: time.Now().Add(5 * time.Minute),
	}
	s.cache.mu.Unlock()

	s.recordView(ctx, p)

	return &p, nil
}

// MaxQuantityFor derives the stock ceiling for a cart candidate: remaining
// stock for stockables, a fixed cap otherwise, one for courses.
func MaxQuantityFor(p *models.Product) int {
	if p.Kind == models.KindCourse {
		return 1
	}
	if p.Stockable {
		return p.Stock
	}
	return 10
}

func (s *ProductService) productSizes(ctx context.Context, id string) ([]string, error) {
	start := time.Now()
	query := `SELECT size FROM product_sizes WHERE product_id = ? ORDER BY size`
	rows, err := s.db.QueryContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "SELECT", "product_sizes", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query product sizes: %w", err)
	}
	defer rows.Close()

	var sizes []string
	for rows.Next() {
		var size string
		if err := rows.Scan(&size); err != nil {
			return nil, fmt.Errorf("failed to scan product size: %w", err)
		}
		sizes = append(sizes, size)
	}
	return sizes, rows.Err()
}

func (s *ProductService) sessionDates(ctx context.Context, id string) ([]string, error) {
	start := time.Now()
	query := `SELECT session_date FROM product_sessions WHERE product_id = ? ORDER BY session_date`
	rows, err := s.db.QueryContext(ctx, query, id)
	s.metrics.RecordDBQuery(ctx, "SELECT", "product_sessions", query, start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query session dates: %w", err)
	}
	defer rows.Close()

	var dates []string
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, fmt.Errorf("failed to scan session date: %w", err)
		}
		dates = append(dates, date)
	}
	return dates, rows.Err()
}

func (s *ProductService) recordView(ctx context.Context, p models.Product) {
	s.metrics.ProductsViewed.Add(ctx, 1, metric.WithAttributes(s.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("product_id", p.ID),
		attribute.String("product_kind", string(p.Kind)),
	})...))
}
