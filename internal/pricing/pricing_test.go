package pricing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tallerverde/shop-go/internal/models"
)

type fakeClock struct {
	current time.Time
}

func (c *fakeClock) now() time.Time {
	return c.current
}

func (c *fakeClock) advance(d time.Duration) {
	c.current = c.current.Add(d)
}

func newTestResolver(clock *fakeClock, fetch func(ctx context.Context) (float64, error)) *Resolver {
	return &Resolver{
		freshFor:    time.Hour,
		fallback:    950,
		homeCountry: "CL",
		fetch:       fetch,
		now:         clock.now,
		logger:      zerolog.Nop(),
	}
}

func TestResolveViewerCurrency(t *testing.T) {
	r := newTestResolver(&fakeClock{current: time.Now()}, nil)

	tests := []struct {
		name    string
		country string
		want    models.Currency
	}{
		{name: "home country", country: "CL", want: models.CLP},
		{name: "lowercase home country", country: "cl", want: models.CLP},
		{name: "foreign country", country: "US", want: models.USD},
		{name: "another foreign country", country: "DE", want: models.USD},
		{name: "missing signal defaults to home", country: "", want: models.CLP},
		{name: "whitespace signal defaults to home", country: "  ", want: models.CLP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.ResolveViewerCurrency(tt.country))
		})
	}
}

func TestExchangeRate_CachesWithinFreshnessWindow(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	fetches := 0
	r := newTestResolver(clock, func(ctx context.Context) (float64, error) {
		fetches++
		return 940, nil
	})
	ctx := context.Background()

	assert.Equal(t, float64(940), r.ExchangeRate(ctx))
	clock.advance(59 * time.Minute)
	assert.Equal(t, float64(940), r.ExchangeRate(ctx))
	assert.Equal(t, 1, fetches)

	// Past the freshness window the rate is refetched
	clock.advance(2 * time.Minute)
	assert.Equal(t, float64(940), r.ExchangeRate(ctx))
	assert.Equal(t, 2, fetches)
}

func TestExchangeRate_FallbackIsNotCached(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	fetches := 0
	fail := true
	r := newTestResolver(clock, func(ctx context.Context) (float64, error) {
		fetches++
		if fail {
			return 0, errors.New("rate source down")
		}
		return 930, nil
	})
	ctx := context.Background()

	// Fetch failure degrades to the fallback
	assert.Equal(t, float64(950), r.ExchangeRate(ctx))
	assert.Equal(t, float64(950), r.ExchangeRate(ctx))
	assert.Equal(t, 2, fetches, "fallback must not be written to the cache")

	// Once the source recovers, the real rate takes over and is cached
	fail = false
	assert.Equal(t, float64(930), r.ExchangeRate(ctx))
	assert.Equal(t, float64(930), r.ExchangeRate(ctx))
	assert.Equal(t, 3, fetches)
}

func TestExchangeRate_StaleRateIsReplacedNotKept(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	fail := false
	r := newTestResolver(clock, func(ctx context.Context) (float64, error) {
		if fail {
			return 0, errors.New("rate source down")
		}
		return 940, nil
	})
	ctx := context.Background()

	require.Equal(t, float64(940), r.ExchangeRate(ctx))

	// A stale cached rate does not shadow a failed refetch: the fallback wins
	clock.advance(2 * time.Hour)
	fail = true
	assert.Equal(t, float64(950), r.ExchangeRate(ctx))
}

func TestConvert(t *testing.T) {
	clock := &fakeClock{current: time.Now()}
	r := newTestResolver(clock, func(ctx context.Context) (float64, error) {
		return 950, nil
	})
	ctx := context.Background()

	// CLP is a zero-decimal currency, USD carries two
	assert.Equal(t, float64(19000), r.Convert(ctx, 20, models.USD, models.CLP))
	assert.Equal(t, 21.05, r.Convert(ctx, 20000, models.CLP, models.USD))
	assert.Equal(t, float64(20000), r.Convert(ctx, 20000, models.CLP, models.CLP))
}

func TestConvert_RoundTripStaysWithinOneMinorUnit(t *testing.T) {
	clock := &fakeClock{current: time.Now()}
	r := newTestResolver(clock, func(ctx context.Context) (float64, error) {
		return 937.42, nil
	})
	ctx := context.Background()

	usd := r.Convert(ctx, 20000, models.CLP, models.USD)
	back := r.Convert(ctx, usd, models.USD, models.CLP)
	assert.InDelta(t, 20000, back, 10)
}

func TestResolvePrice_PrefersListedPriceOverConversion(t *testing.T) {
	clock := &fakeClock{current: time.Now()}
	r := newTestResolver(clock, func(ctx context.Context) (float64, error) {
		return 950, nil
	})
	ctx := context.Background()

	native := Money{Amount: 20000, Currency: models.CLP}
	alt := &Money{Amount: 24.99, Currency: models.USD}

	// Viewer in the native currency: the listed price as-is
	quote := r.ResolvePrice(ctx, native, alt, models.CLP)
	assert.Equal(t, models.PriceQuote{Amount: 20000, Currency: models.CLP, OriginalCurrency: models.CLP}, quote)

	// Viewer matches the alternate listed price: no conversion
	quote = r.ResolvePrice(ctx, native, alt, models.USD)
	assert.Equal(t, models.PriceQuote{Amount: 24.99, Currency: models.USD, OriginalCurrency: models.USD}, quote)

	// No listed price in the viewer's currency: convert and flag the origin
	quote = r.ResolvePrice(ctx, native, nil, models.USD)
	assert.Equal(t, models.PriceQuote{Amount: 21.05, Currency: models.USD, OriginalCurrency: models.CLP}, quote)
}
