package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tallerverde/shop-go/internal/metrics"
	"github.com/tallerverde/shop-go/internal/models"
	"github.com/tallerverde/shop-go/pkg/config"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"
)

// Money is an amount in a specific currency
type Money struct {
	Amount   float64
	Currency models.Currency
}

// decimals is the natural minor-unit precision per currency. CLP is a
// zero-decimal currency.
var decimals = map[models.Currency]int{
	models.CLP: 0,
	models.USD: 2,
}

// Resolver selects or converts product prices for a viewer. It owns the
// process-wide CLP-per-USD rate cache; a cached rate is reused while younger
// than freshFor, after which one refetch is attempted, degrading to the
// static fallback on failure without writing the fallback into the cache.
type Resolver struct {
	mu        sync.Mutex
	rate      float64
	fetchedAt time.Time

	freshFor    time.Duration
	fallback    float64
	homeCountry string

	// injectable for tests
	fetch func(ctx context.Context) (float64, error)
	now   func() time.Time

	sfg     singleflight.Group
	metrics *metrics.AppMetrics
	logger  zerolog.Logger
}

// NewResolver creates a pricing resolver configured from cfg
func NewResolver(cfg *config.Config, m *metrics.AppMetrics, logger zerolog.Logger) *Resolver {
	return &Resolver{
		freshFor:    cfg.RateFreshFor,
		fallback:    cfg.RateFallback,
		homeCountry: cfg.HomeCountry,
		fetch:       rateFetcher(cfg.RateAPIURL, cfg.RateFetchTimeout),
		now:         time.Now,
		metrics:     m,
		logger:      logger,
	}
}

// ResolveViewerCurrency maps a coarse country signal to a supported currency.
// An absent signal defaults to the home country. Never fails.
func (r *Resolver) ResolveViewerCurrency(countryCode string) models.Currency {
	country := strings.ToUpper(strings.TrimSpace(countryCode))
	if country == "" {
		country = r.homeCountry
	}
	if country == r.homeCountry {
		return models.CLP
	}
	return models.USD
}

// ExchangeRate returns the current best-known CLP-per-USD rate. Concurrent
// refreshes are collapsed through singleflight; that is an efficiency measure
// only, redundant fetches would be harmless.
func (r *Resolver) ExchangeRate(ctx context.Context) float64 {
	r.mu.Lock()
	if r.rate > 0 && r.now().Sub(r.fetchedAt) < r.freshFor {
		rate := r.rate
		r.mu.Unlock()
		r.count(ctx, r.metricsCacheHit())
		return rate
	}
	r.mu.Unlock()

	r.count(ctx, r.metricsCacheMiss())

	v, err, _ := r.sfg.Do("clp-per-usd", func() (interface{}, error) {
		return r.fetch(ctx)
	})
	if err != nil {
		r.recordFetch(ctx, false)
		r.logger.Warn().Err(err).Float64("fallback", r.fallback).Msg("exchange rate fetch failed, using fallback")
		// The fallback is not cached: the next call retries the fetch
		return r.fallback
	}
	r.recordFetch(ctx, true)

	rate := v.(float64)
	r.mu.Lock()
	r.rate = rate
	r.fetchedAt = r.now()
	r.mu.Unlock()

	return rate
}

// Convert converts an amount between the two supported currencies, rounding to
// the target currency's natural precision
func (r *Resolver) Convert(ctx context.Context, amount float64, from, to models.Currency) float64 {
	if from == to {
		return amount
	}

	rate := r.ExchangeRate(ctx)
	var converted float64
	if from == models.USD && to == models.CLP {
		converted = amount * rate
	} else {
		converted = amount / rate
	}
	return roundTo(converted, decimals[to])
}

// ResolvePrice returns one display price for the viewer, preferring a price
// already listed in the viewer's currency and converting only otherwise.
// Pricing never fails: a rate outage degrades to the fallback rate.
func (r *Resolver) ResolvePrice(ctx context.Context, native Money, alt *Money, viewer models.Currency) models.PriceQuote {
	if native.Currency == viewer {
		return models.PriceQuote{Amount: native.Amount, Currency: viewer, OriginalCurrency: viewer}
	}
	if alt != nil && alt.Currency == viewer {
		return models.PriceQuote{Amount: alt.Amount, Currency: viewer, OriginalCurrency: viewer}
	}

	return models.PriceQuote{
		Amount:           r.Convert(ctx, native.Amount, native.Currency, viewer),
		Currency:         viewer,
		OriginalCurrency: native.Currency,
	}
}

func roundTo(amount float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(amount*p) / p
}

// rateFetcher builds the default fetch func against the external rate source,
// which returns a JSON mapping of currency codes to USD rates
func rateFetcher(url string, timeout time.Duration) func(ctx context.Context) (float64, error) {
	client := &http.Client{Timeout: timeout}

	return func(ctx context.Context) (float64, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return 0, fmt.Errorf("failed to build rate request: %w", err)
		}

		resp, err := client.Do(req)
		if err != nil {
			return 0, fmt.Errorf("rate fetch failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("rate source returned status %d", resp.StatusCode)
		}

		var body struct {
			Rates map[string]float64 `json:"rates"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return 0, fmt.Errorf("failed to decode rate response: %w", err)
		}

		rate, ok := body.Rates[string(models.CLP)]
		if !ok || rate <= 0 {
			return 0, fmt.Errorf("rate response missing %s rate", models.CLP)
		}
		return rate, nil
	}
}

func (r *Resolver) metricsCacheHit() metric.Int64Counter {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.RateCacheHits
}

func (r *Resolver) metricsCacheMiss() metric.Int64Counter {
	if r.metrics == nil {
		return nil
	}
	return r.metrics.RateCacheMisses
}

func (r *Resolver) count(ctx context.Context, counter metric.Int64Counter) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(r.metrics.WithServiceName(nil)...))
}

func (r *Resolver) recordFetch(ctx context.Context, success bool) {
	if r.metrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	r.metrics.RateFetchesTotal.Add(ctx, 1, metric.WithAttributes(r.metrics.WithServiceName([]attribute.KeyValue{
		attribute.String("status", status),
	})...))
}
