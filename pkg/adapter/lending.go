package adapter

import (
	"context"
	"math/big"

	"treasuryagent/pkg/types"
)

// LendingReader is the minimal on-chain read surface a money-market adapter
// needs: the reserve's supply APY inputs and deposit-token TVL.
type LendingReader interface {
	ReserveState(ctx context.Context, pool types.Pool) (tvlUsd float64, err error)
}

// LendingAdapter serves Aave-style money-market pools. It deliberately opts
// out of quote-based price-impact estimation: depositing into a lending
// reserve is a 1:1 mint against the underlying, not a priced swap, so there
// is no roundtrip quote to compare against.
type LendingAdapter struct {
	reader LendingReader
}

func NewLendingAdapter(reader LendingReader) *LendingAdapter {
	return &LendingAdapter{reader: reader}
}

func (a *LendingAdapter) FetchPoolState(ctx context.Context, pool types.Pool) (PoolState, error) {
	tvl, err := a.reader.ReserveState(ctx, pool)
	if err != nil {
		if pool.Mock.TvlUsd > 0 {
			return fallbackState(pool), nil
		}
		return PoolState{}, errAdapterUnavailable(pool.ID, err)
	}
	return PoolState{
		TvlUsd:              tvl,
		RewardRatePerSecond: pool.Mock.RewardRatePerSecond,
		RewardTokenSymbol:   pool.RewardTokenSymbol,
		BaseApyBps:          pool.BaseApyBps,
		ProtocolFeeBps:      pool.Mock.ProtocolFeeBps,
	}, nil
}

// EstimatePriceImpactBps always returns 0: lending deposits mint reserve
// tokens 1:1, there is no quote surface to roundtrip against.
func (a *LendingAdapter) EstimatePriceImpactBps(ctx context.Context, pool types.Pool, amountIn *big.Int) (int, error) {
	return 0, nil
}

func (a *LendingAdapter) EstimateRotationCostBps(ctx context.Context, from, to types.Pool, amountIn *big.Int) (int, error) {
	return rotationCostBps(from, to, 0, 0), nil
}

func (a *LendingAdapter) BuildEnterRequest(ctx context.Context, params EnterParams) (Request, error) {
	return Request{Data: nil}, nil
}

func (a *LendingAdapter) BuildExitRequest(ctx context.Context, params ExitParams) (Request, error) {
	return Request{Data: nil}, nil
}
