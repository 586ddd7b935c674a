// Package oracle provides the two pluggable outbound price feeds the agent
// depends on: the stablecoin/reward-token USD Price Oracle (§4.2) and the
// protocol-specific Base-APY Oracle (§4.3).
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"treasuryagent/pkg/types"
)

// PriceOracle resolves a USD price for a token symbol.
type PriceOracle interface {
	GetPriceUsd(ctx context.Context, symbol string) (float64, error)
	GetStablePricesUsd(ctx context.Context) (map[string]float64, error)
	Counters() Counters
}

// Counters are the read-only telemetry snapshot §4.2 requires.
type Counters struct {
	CacheFreshHits         int64
	StaleFallbackHits      int64
	StableFallbackHits     int64
	NetworkFetchSuccesses  int64
	FetchFailures          int64
}

// StaticPriceOracle is a fixed-price source for tests and dry-run
// deployments.
type StaticPriceOracle struct {
	prices       map[string]float64
	stableSymbols []string
	counters     counterSet
}

// NewStaticPriceOracle constructs a StaticPriceOracle from a fixed price map
// and the set of symbols considered "stable" for GetStablePricesUsd.
func NewStaticPriceOracle(prices map[string]float64, stableSymbols []string) *StaticPriceOracle {
	return &StaticPriceOracle{prices: prices, stableSymbols: stableSymbols}
}

func (s *StaticPriceOracle) GetPriceUsd(ctx context.Context, symbol string) (float64, error) {
	price, ok := s.prices[symbol]
	if !ok {
		s.counters.fetchFailures.Add(1)
		return 0, types.NewError(types.CodePriceUnavailable, fmt.Sprintf("no static price for %s", symbol), nil)
	}
	s.counters.cacheFreshHits.Add(1)
	return price, nil
}

func (s *StaticPriceOracle) GetStablePricesUsd(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(s.stableSymbols))
	for _, sym := range s.stableSymbols {
		p, err := s.GetPriceUsd(ctx, sym)
		if err != nil {
			return nil, err
		}
		out[sym] = p
	}
	return out, nil
}

func (s *StaticPriceOracle) Counters() Counters { return s.counters.snapshot() }

// counterSet is the shared atomic-counter implementation both oracle
// variants use so Counters() is always a consistent snapshot-by-value.
type counterSet struct {
	cacheFreshHits        atomic.Int64
	staleFallbackHits     atomic.Int64
	stableFallbackHits    atomic.Int64
	networkFetchSuccesses atomic.Int64
	fetchFailures         atomic.Int64
}

func (c *counterSet) snapshot() Counters {
	return Counters{
		CacheFreshHits:        c.cacheFreshHits.Load(),
		StaleFallbackHits:     c.staleFallbackHits.Load(),
		StableFallbackHits:    c.stableFallbackHits.Load(),
		NetworkFetchSuccesses: c.networkFetchSuccesses.Load(),
		FetchFailures:         c.fetchFailures.Load(),
	}
}

type cacheEntry struct {
	value     float64
	expiresAt time.Time
}

// LivePriceOracle fetches prices over HTTP JSON, caching results in a
// bounded LRU with a per-entry TTL; on fetch failure it serves a stale
// cached value (if any) before failing outright.
type LivePriceOracle struct {
	httpClient    *http.Client
	baseURL       string
	ttl           time.Duration
	fetchTimeout  time.Duration
	stableSymbols []string

	mu    sync.Mutex
	cache *lru.Cache[string, cacheEntry]

	counters counterSet
}

// NewLivePriceOracle constructs a LivePriceOracle. baseURL is expected to
// accept GET {baseURL}?symbol=X and return {"priceUsd": float64}.
func NewLivePriceOracle(baseURL string, stableSymbols []string, ttl, fetchTimeout time.Duration, cacheSize int) (*LivePriceOracle, error) {
	cache, err := lru.New[string, cacheEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("build price cache: %w", err)
	}
	return &LivePriceOracle{
		httpClient:    &http.Client{},
		baseURL:       baseURL,
		ttl:           ttl,
		fetchTimeout:  fetchTimeout,
		stableSymbols: stableSymbols,
		cache:         cache,
	}, nil
}

type priceResponse struct {
	PriceUsd float64 `json:"priceUsd"`
}

func (o *LivePriceOracle) GetPriceUsd(ctx context.Context, symbol string) (float64, error) {
	o.mu.Lock()
	entry, ok := o.cache.Get(symbol)
	o.mu.Unlock()
	if ok && time.Now().Before(entry.expiresAt) {
		o.counters.cacheFreshHits.Add(1)
		return entry.value, nil
	}

	value, err := o.fetch(ctx, symbol)
	if err == nil {
		o.counters.networkFetchSuccesses.Add(1)
		o.mu.Lock()
		o.cache.Add(symbol, cacheEntry{value: value, expiresAt: time.Now().Add(o.ttl)})
		o.mu.Unlock()
		return value, nil
	}

	o.counters.fetchFailures.Add(1)
	if ok {
		o.counters.staleFallbackHits.Add(1)
		return entry.value, nil
	}
	return 0, types.NewError(types.CodePriceUnavailable, fmt.Sprintf("price unavailable for %s: %v", symbol, err), nil)
}

func (o *LivePriceOracle) fetch(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s?symbol=%s", o.baseURL, symbol), nil)
	if err != nil {
		return 0, err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	var parsed priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	return parsed.PriceUsd, nil
}

func (o *LivePriceOracle) GetStablePricesUsd(ctx context.Context) (map[string]float64, error) {
	out := make(map[string]float64, len(o.stableSymbols))
	for _, sym := range o.stableSymbols {
		p, err := o.GetPriceUsd(ctx, sym)
		if err != nil {
			o.counters.fetchFailures.Add(1)
			return nil, err
		}
		o.counters.stableFallbackHits.Add(1)
		out[sym] = p
	}
	return out, nil
}

func (o *LivePriceOracle) Counters() Counters { return o.counters.snapshot() }
