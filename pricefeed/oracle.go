/*
Package pricefeed supplies current exchange-rate quotes. Purely
informational: quotes never participate in the ledger's
consistency-critical path.
*/
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/token-ledger/cache"
)

// ErrUnknownSymbol reports a symbol the feed has no rate for. Callers
// use it to distinguish a bad symbol from a failing feed.
var ErrUnknownSymbol = errors.New("unknown symbol")

// Oracle yields the current USD rate for a crypto symbol.
type Oracle interface {
	Quote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// =============================================================================
// STATIC ORACLE - Fixed rates from configuration
// =============================================================================

// Static serves fixed rates. Used when no live feed is configured.
type Static struct {
	rates map[string]decimal.Decimal
}

func NewStatic(rates map[string]decimal.Decimal) *Static {
	normalized := make(map[string]decimal.Decimal, len(rates))
	for symbol, rate := range rates {
		normalized[strings.ToUpper(symbol)] = rate
	}
	return &Static{rates: normalized}
}

func (s *Static) Quote(_ context.Context, symbol string) (decimal.Decimal, error) {
	rate, ok := s.rates[strings.ToUpper(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
	}
	return rate, nil
}

// =============================================================================
// CACHED ORACLE - TTL wrapper over a slower source
// =============================================================================

// Cached wraps an Oracle with the read-through cache. TTL expiry is
// driven by the cache's injected clock, so staleness is testable with
// fixed ticks rather than wall-clock waits.
type Cached struct {
	next  Oracle
	cache cache.Cache
	ttl   time.Duration
	log   *zap.Logger
}

func NewCached(next Oracle, c cache.Cache, ttl time.Duration, log *zap.Logger) *Cached {
	return &Cached{next: next, cache: c, ttl: ttl, log: log}
}

func (c *Cached) Quote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := "price:" + strings.ToUpper(symbol)
	return cache.ReadThrough(ctx, c.cache, c.log, key, c.ttl,
		func(ctx context.Context) (decimal.Decimal, error) {
			return c.next.Quote(ctx, symbol)
		})
}
