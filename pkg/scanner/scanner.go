// Package scanner implements the per-tick pool scan (§4.4): a bounded,
// concurrent fan-out over every enabled pool that produces one ranked
// PoolSnapshot per surviving pool.
package scanner

import (
	"context"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"treasuryagent/pkg/adapter"
	"treasuryagent/pkg/oracle"
	"treasuryagent/pkg/types"
)

const yearSeconds = 31_536_000

const defaultPerPoolTimeout = 12 * time.Second

// BaseApyResolver is the single batched call the scan issues once per tick,
// satisfied by *oracle.BaseApyOracle in production.
type BaseApyResolver interface {
	Resolve(ctx context.Context, pools []types.Pool) map[string]int
}

// Scanner fans out adapter + price reads over the enabled pool set.
type Scanner struct {
	pools           []types.Pool
	adapters        map[string]adapter.Adapter
	baseApyOracle   BaseApyResolver
	priceOracle     oracle.PriceOracle
	tradeAmountRaw  *big.Int
	perPoolTimeout  time.Duration
}

// New builds a Scanner. adapters is keyed by Pool.AdapterID.
func New(pools []types.Pool, adapters map[string]adapter.Adapter, baseApyOracle BaseApyResolver, priceOracle oracle.PriceOracle, tradeAmountRaw *big.Int, perPoolTimeout time.Duration) *Scanner {
	if perPoolTimeout <= 0 {
		perPoolTimeout = defaultPerPoolTimeout
	}
	return &Scanner{
		pools:          pools,
		adapters:       adapters,
		baseApyOracle:  baseApyOracle,
		priceOracle:    priceOracle,
		tradeAmountRaw: tradeAmountRaw,
		perPoolTimeout: perPoolTimeout,
	}
}

// Scan runs one full §4.4 scan: filter enabled, resolve base-APY overrides,
// fan out per-pool adapter/price work with an individual timeout, and
// return surviving snapshots sorted by netApyBps desc, poolId asc.
func (s *Scanner) Scan(ctx context.Context, nowTs int64) ([]types.PoolSnapshot, error) {
	enabled := make([]types.Pool, 0, len(s.pools))
	for _, p := range s.pools {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	if len(enabled) == 0 {
		return nil, types.NewError(types.CodeScanEmpty, "no enabled pools", nil)
	}

	overrides := s.baseApyOracle.Resolve(ctx, enabled)

	var mu sync.Mutex
	var wg sync.WaitGroup
	snapshots := make([]types.PoolSnapshot, 0, len(enabled))

	for _, pool := range enabled {
		pool := pool
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, ok := s.scanOne(ctx, pool, overrides, nowTs)
			if !ok {
				return
			}
			mu.Lock()
			snapshots = append(snapshots, snap)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(snapshots) == 0 {
		return nil, types.NewError(types.CodeScanEmpty, "all pools failed to scan", nil)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].NetApyBps != snapshots[j].NetApyBps {
			return snapshots[i].NetApyBps > snapshots[j].NetApyBps
		}
		return snapshots[i].PoolID < snapshots[j].PoolID
	})
	return snapshots, nil
}

func (s *Scanner) scanOne(ctx context.Context, pool types.Pool, overrides map[string]int, nowTs int64) (types.PoolSnapshot, bool) {
	ctx, cancel := context.WithTimeout(ctx, s.perPoolTimeout)
	defer cancel()

	ad, ok := s.adapters[pool.AdapterID]
	if !ok {
		return types.PoolSnapshot{}, false
	}
	state, err := ad.FetchPoolState(ctx, pool)
	if err != nil {
		return types.PoolSnapshot{}, false
	}

	rewardPriceUsd := 0.0
	if state.RewardTokenSymbol != "" {
		price, err := s.priceOracle.GetPriceUsd(ctx, state.RewardTokenSymbol)
		if err != nil {
			return types.PoolSnapshot{}, false
		}
		rewardPriceUsd = price
	}

	incentiveAprBps := 0
	if state.TvlUsd > 0 {
		raw := (state.RewardRatePerSecond * yearSeconds * rewardPriceUsd / state.TvlUsd) * 10000
		incentiveAprBps = int(math.Round(raw))
		if incentiveAprBps < 0 {
			incentiveAprBps = 0
		}
	}

	baseApy := pool.BaseApyBps
	if v, ok := overrides[pool.ID]; ok {
		baseApy = v
	}

	netApyBps := baseApy + incentiveAprBps - state.ProtocolFeeBps
	if netApyBps < 0 {
		netApyBps = 0
	}

	slippageBps, err := ad.EstimatePriceImpactBps(ctx, pool, s.tradeAmountRaw)
	if err != nil {
		return types.PoolSnapshot{}, false
	}

	return types.PoolSnapshot{
		PoolID:              pool.ID,
		Pair:                pool.Pair,
		Protocol:            pool.Protocol,
		Timestamp:           nowTs,
		TvlUsd:              state.TvlUsd,
		IncentiveAprBps:     incentiveAprBps,
		NetApyBps:           netApyBps,
		SlippageBps:         slippageBps,
		RewardRatePerSecond: state.RewardRatePerSecond,
		RewardTokenPriceUsd: rewardPriceUsd,
	}, true
}
