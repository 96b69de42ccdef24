package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tallerverde/shop-go/pkg/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// AppMetrics holds all application metrics
type AppMetrics struct {
	// HTTP Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestsErrors  metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Database Metrics
	DBQueriesTotal  metric.Int64Counter
	DBQueryDuration metric.Float64Histogram

	// Business Metrics
	CartAddsTotal       metric.Int64Counter
	CartRejectionsTotal metric.Int64Counter
	CartItemsCount      metric.Int64Gauge
	OrdersCreated       metric.Int64Counter
	OrdersLinked        metric.Int64Counter
	RevenueTotal        metric.Float64Counter
	ProductsViewed      metric.Int64Counter

	// Exchange rate metrics
	RateFetchesTotal metric.Int64Counter
	RateCacheHits    metric.Int64Counter
	RateCacheMisses  metric.Int64Counter

	// Service name for adding to all metrics
	serviceName string
}

// InitMetrics initializes OpenTelemetry metrics
func InitMetrics(ctx context.Context, cfg *config.Config) (*AppMetrics, *sdkmetric.MeterProvider, error) {
	// Resource attributes from environment first, explicit service info on top
	envRes, err := resource.New(ctx, resource.WithFromEnv())
	if err != nil {
		envRes = resource.Empty()
	}

	explicitRes, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.OTELServiceName),
			semconv.ServiceVersion(cfg.OTELServiceVersion),
			attribute.String("deployment.environment", cfg.OTELDeploymentEnvironment),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create explicit resource: %w", err)
	}

	res, err := resource.Merge(envRes, explicitRes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to merge resources: %w", err)
	}

	exporterOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(cfg.OTELExporterOTLPEndpoint),
		otlpmetrichttp.WithURLPath("/v1/metrics"),
	}

	if cfg.OTELExporterOTLPHeaders != "" {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithHeaders(parseHeaders(cfg.OTELExporterOTLPHeaders)))
	}

	if cfg.OTELExporterOTLPInsecure {
		exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	// Export every 10 seconds
	reader := sdkmetric.NewPeriodicReader(exporter,
		sdkmetric.WithInterval(10*time.Second),
	)

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)

	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(cfg.OTELServiceName)

	// Histogram buckets in milliseconds, expanded to 60s
	buckets := []float64{2, 4, 6, 8, 10, 50, 100, 200, 400, 800, 1000, 1400, 2000, 5000, 10000, 15000, 20000, 30000, 45000, 60000}

	httpRequestsTotal, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create http requests counter: %w", err)
	}

	httpRequestsErrors, err := meter.Int64Counter(
		"http.server.request.error.count",
		metric.WithDescription("Total number of HTTP error requests"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create http errors counter: %w", err)
	}

	httpRequestDuration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create http duration histogram: %w", err)
	}

	dbQueriesTotal, err := meter.Int64Counter(
		"db.client.queries.count",
		metric.WithDescription("Total number of database queries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create db queries counter: %w", err)
	}

	dbQueryDuration, err := meter.Float64Histogram(
		"db.client.queries.duration",
		metric.WithDescription("Database query duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(buckets...),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create db duration histogram: %w", err)
	}

	cartAddsTotal, err := meter.Int64Counter(
		"cart_adds_total",
		metric.WithDescription("Total number of accepted cart additions"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cart adds counter: %w", err)
	}

	cartRejectionsTotal, err := meter.Int64Counter(
		"cart_rejections_total",
		metric.WithDescription("Total number of rejected cart mutations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cart rejections counter: %w", err)
	}

	cartItemsCount, err := meter.Int64Gauge(
		"cart_items_count",
		metric.WithDescription("Current number of items in session carts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create cart items gauge: %w", err)
	}

	ordersCreated, err := meter.Int64Counter(
		"orders_created_total",
		metric.WithDescription("Total number of orders created"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create orders counter: %w", err)
	}

	ordersLinked, err := meter.Int64Counter(
		"orders_linked_total",
		metric.WithDescription("Total number of guest orders linked to accounts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create orders linked counter: %w", err)
	}

	revenueTotal, err := meter.Float64Counter(
		"revenue_total",
		metric.WithDescription("Total revenue generated"),
		metric.WithUnit("CLP"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create revenue counter: %w", err)
	}

	productsViewed, err := meter.Int64Counter(
		"products_viewed_total",
		metric.WithDescription("Total number of product views"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create products viewed counter: %w", err)
	}

	rateFetchesTotal, err := meter.Int64Counter(
		"exchange_rate_fetches_total",
		metric.WithDescription("Total number of exchange rate fetch attempts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rate fetches counter: %w", err)
	}

	rateCacheHits, err := meter.Int64Counter(
		"exchange_rate_cache_hits_total",
		metric.WithDescription("Total number of exchange rate cache hits"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rate cache hits counter: %w", err)
	}

	rateCacheMisses, err := meter.Int64Counter(
		"exchange_rate_cache_misses_total",
		metric.WithDescription("Total number of exchange rate cache misses"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create rate cache misses counter: %w", err)
	}

	return &AppMetrics{
		HTTPRequestsTotal:   httpRequestsTotal,
		HTTPRequestsErrors:  httpRequestsErrors,
		HTTPRequestDuration: httpRequestDuration,
		DBQueriesTotal:      dbQueriesTotal,
		DBQueryDuration:     dbQueryDuration,
		CartAddsTotal:       cartAddsTotal,
		CartRejectionsTotal: cartRejectionsTotal,
		CartItemsCount:      cartItemsCount,
		OrdersCreated:       ordersCreated,
		OrdersLinked:        ordersLinked,
		RevenueTotal:        revenueTotal,
		ProductsViewed:      productsViewed,
		RateFetchesTotal:    rateFetchesTotal,
		RateCacheHits:       rateCacheHits,
		RateCacheMisses:     rateCacheMisses,
		serviceName:         cfg.OTELServiceName,
	}, meterProvider, nil
}

// WithServiceName adds service.name to attributes
func (m *AppMetrics) WithServiceName(attrs []attribute.KeyValue) []attribute.KeyValue {
	return append(attrs, attribute.String("service.name", m.serviceName))
}

// RecordDBQuery records database query metrics including the SQL statement
func (m *AppMetrics) RecordDBQuery(ctx context.Context, operation, table, statement string, start time.Time, success bool) {
	duration := time.Since(start).Milliseconds()

	status := "success"
	if !success {
		status = "error"
	}

	attrs := []attribute.KeyValue{
		attribute.String("db.operation", operation),
		attribute.String("db.sql.table", table),
		attribute.String("db.statement", statement),
		attribute.String("db.system", "mysql"),
		attribute.String("status", status),
	}

	m.DBQueriesTotal.Add(ctx, 1, metric.WithAttributes(m.WithServiceName(attrs)...))
	m.DBQueryDuration.Record(ctx, float64(duration), metric.WithAttributes(m.WithServiceName(attrs)...))
}

// parseHeaders parses header string in format "key1=value1,key2=value2"
// and returns a map of headers
func parseHeaders(headerStr string) map[string]string {
	headers := make(map[string]string)
	if headerStr == "" {
		return headers
	}

	pairs := strings.Split(headerStr, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) == 2 {
			headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return headers
}
